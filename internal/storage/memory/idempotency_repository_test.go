package memory_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/hubcart/internal/domain"
	"github.com/vladislavdragonenkov/hubcart/internal/storage/memory"
)

func claim(key, op, hash string, ttl time.Time) domain.IdempotencyClaim {
	return domain.IdempotencyClaim{Key: key, Operation: op, RequestHash: hash, TTLAt: ttl}
}

func TestIdempotencyRepository_CreateAndGet(t *testing.T) {
	repo := memory.NewIdempotencyRepository()
	ttl := time.Now().UTC().Add(2 * time.Hour).Round(time.Second)

	created, err := repo.CreateProcessing(claim(" checkout-1 ", "Checkout", "hash-1", ttl))
	require.NoError(t, err)
	require.Equal(t, domain.IdempotencyStatusProcessing, created.Status)
	require.Equal(t, "checkout-1", created.Key)

	got, err := repo.Get("checkout-1")
	require.NoError(t, err)
	require.Equal(t, "Checkout", got.Operation)
	require.Equal(t, "hash-1", got.RequestHash)
	require.True(t, got.TTLAt.Equal(ttl))
}

func TestIdempotencyRepository_DefaultTTL(t *testing.T) {
	repo := memory.NewIdempotencyRepository()

	created, err := repo.CreateProcessing(claim("k", "CreateOrder", "h", time.Time{}))
	require.NoError(t, err)
	require.WithinDuration(t, time.Now().Add(domain.DefaultIdempotencyTTL), created.TTLAt, time.Minute)
}

func TestIdempotencyRepository_Validation(t *testing.T) {
	repo := memory.NewIdempotencyRepository()

	_, err := repo.CreateProcessing(claim(" ", "Checkout", "h", time.Time{}))
	require.ErrorIs(t, err, domain.ErrIdempotencyKeyRequired)
	_, err = repo.CreateProcessing(claim("k", "Checkout", " ", time.Time{}))
	require.ErrorIs(t, err, domain.ErrIdempotencyRequestHashRequired)
	_, err = repo.Get("")
	require.ErrorIs(t, err, domain.ErrIdempotencyKeyRequired)
	_, err = repo.Get("missing")
	require.ErrorIs(t, err, domain.ErrIdempotencyKeyNotFound)
	require.ErrorIs(t, repo.MarkDone("missing", nil, 200), domain.ErrIdempotencyKeyNotFound)
}

func TestIdempotencyRepository_Conflicts(t *testing.T) {
	repo := memory.NewIdempotencyRepository()
	ttl := time.Now().UTC().Add(time.Hour)

	_, err := repo.CreateProcessing(claim("idem-2", "ApplyVoucher", "hash-a", ttl))
	require.NoError(t, err)

	existing, err := repo.CreateProcessing(claim("idem-2", "ApplyVoucher", "hash-a", ttl))
	require.ErrorIs(t, err, domain.ErrIdempotencyKeyAlreadyExists)
	require.Equal(t, domain.IdempotencyStatusProcessing, existing.Status)

	_, err = repo.CreateProcessing(claim("idem-2", "ApplyVoucher", "hash-b", ttl))
	require.ErrorIs(t, err, domain.ErrIdempotencyHashMismatch)

	_, err = repo.CreateProcessing(claim("idem-2", "CancelOrder", "hash-a", ttl))
	require.ErrorIs(t, err, domain.ErrIdempotencyHashMismatch)
	require.Contains(t, err.Error(), "ApplyVoucher")
}

func TestIdempotencyRepository_MarkDoneStoresResponseCopy(t *testing.T) {
	repo := memory.NewIdempotencyRepository()
	_, err := repo.CreateProcessing(claim("idem-3", "Checkout", "h", time.Time{}))
	require.NoError(t, err)

	body := []byte(`{"state":"delivery"}`)
	require.NoError(t, repo.MarkDone("idem-3", body, 200))
	body[0] = 'X'

	got, err := repo.Get("idem-3")
	require.NoError(t, err)
	require.Equal(t, domain.IdempotencyStatusDone, got.Status)
	require.True(t, got.Status.Terminal())
	require.Equal(t, 200, got.HTTPStatus)
	require.JSONEq(t, `{"state":"delivery"}`, string(got.ResponseBody))

	require.NoError(t, repo.MarkFailed("idem-3", []byte(`{"status":409}`), 409))
	got, err = repo.Get("idem-3")
	require.NoError(t, err)
	require.Equal(t, domain.IdempotencyStatusFailed, got.Status)
}

func TestIdempotencyRepository_DeleteExpiredOldestFirst(t *testing.T) {
	repo := memory.NewIdempotencyRepository()
	now := time.Now().UTC()

	expired := map[string]time.Duration{"exp-3": time.Minute, "exp-1": 3 * time.Minute, "exp-2": 2 * time.Minute}
	for _, key := range []string{"exp-3", "exp-1", "exp-2"} {
		_, err := repo.CreateProcessing(claim(key, "Checkout", "h", now.Add(-expired[key])))
		require.NoError(t, err)
	}
	_, err := repo.CreateProcessing(claim("alive", "Checkout", "h", now.Add(time.Hour)))
	require.NoError(t, err)

	removed, err := repo.DeleteExpired(now, 2)
	require.NoError(t, err)
	require.Equal(t, 2, removed)

	_, err = repo.Get("exp-1")
	require.ErrorIs(t, err, domain.ErrIdempotencyKeyNotFound)
	_, err = repo.Get("exp-2")
	require.ErrorIs(t, err, domain.ErrIdempotencyKeyNotFound)
	_, err = repo.Get("exp-3")
	require.NoError(t, err, "youngest expired key survives the limited batch")

	removed, err = repo.DeleteExpired(now, 0)
	require.NoError(t, err)
	require.Equal(t, 1, removed)

	_, err = repo.Get("alive")
	require.NoError(t, err)
}

func TestIdempotencyRepository_ReleaseStale(t *testing.T) {
	repo := memory.NewIdempotencyRepository()
	for _, key := range []string{"stuck-1", "stuck-2", "finished"} {
		_, err := repo.CreateProcessing(claim(key, "Checkout", "h", time.Time{}))
		require.NoError(t, err)
	}
	require.NoError(t, repo.MarkDone("finished", []byte(`{}`), 200))

	released, err := repo.ReleaseStale(time.Now().UTC().Add(-time.Hour), 0)
	require.NoError(t, err)
	require.Zero(t, released, "fresh processing keys are kept")

	released, err = repo.ReleaseStale(time.Now().UTC().Add(time.Minute), 1)
	require.NoError(t, err)
	require.Equal(t, 1, released)

	released, err = repo.ReleaseStale(time.Now().UTC().Add(time.Minute), 0)
	require.NoError(t, err)
	require.Equal(t, 1, released)

	_, err = repo.Get("finished")
	require.NoError(t, err)

	// ключ можно занять заново, куча истечения осталась согласованной
	_, err = repo.CreateProcessing(claim("stuck-1", "Checkout", "h", time.Time{}))
	require.NoError(t, err)
	removed, err := repo.DeleteExpired(time.Now().UTC().Add(48*time.Hour), 0)
	require.NoError(t, err)
	require.Equal(t, 2, removed)
}
