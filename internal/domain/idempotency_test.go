package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestIdempotencyStatus(t *testing.T) {
	require.True(t, IdempotencyStatusProcessing.Valid())
	require.False(t, IdempotencyStatusProcessing.Terminal())
	require.True(t, IdempotencyStatusDone.Terminal())
	require.True(t, IdempotencyStatusFailed.Terminal())
	require.False(t, IdempotencyStatus("broken").Valid())
}

func TestIdempotencyClaimNormalize(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	c, err := IdempotencyClaim{Key: " k ", Operation: " Checkout ", RequestHash: " h "}.Normalize(now)
	require.NoError(t, err)
	require.Equal(t, IdempotencyClaim{Key: "k", Operation: "Checkout", RequestHash: "h", TTLAt: now.Add(DefaultIdempotencyTTL)}, c)

	_, err = IdempotencyClaim{RequestHash: "h"}.Normalize(now)
	require.ErrorIs(t, err, ErrIdempotencyKeyRequired)
	_, err = IdempotencyClaim{Key: "k"}.Normalize(now)
	require.ErrorIs(t, err, ErrIdempotencyRequestHashRequired)
}

func TestIdempotencyRecordConflict(t *testing.T) {
	now := time.Now().UTC()
	record := NewIdempotencyRecord(IdempotencyClaim{Key: "k", Operation: "ApplyVoucher", RequestHash: "h", TTLAt: now.Add(time.Hour)}, now)
	require.Equal(t, IdempotencyStatusProcessing, record.Status)

	require.ErrorIs(t, record.Conflict(IdempotencyClaim{Key: "k", Operation: "ApplyVoucher", RequestHash: "h"}), ErrIdempotencyKeyAlreadyExists)
	require.ErrorIs(t, record.Conflict(IdempotencyClaim{Key: "k", Operation: "ApplyVoucher", RequestHash: "other"}), ErrIdempotencyHashMismatch)
	require.ErrorIs(t, record.Conflict(IdempotencyClaim{Key: "k", Operation: "CancelOrder", RequestHash: "h"}), ErrIdempotencyHashMismatch)

	legacy := record
	legacy.Operation = ""
	require.ErrorIs(t, legacy.Conflict(IdempotencyClaim{Key: "k", Operation: "CancelOrder", RequestHash: "h"}), ErrIdempotencyKeyAlreadyExists)

	require.False(t, record.Expired(now))
	require.True(t, record.Expired(now.Add(time.Hour)))
}
