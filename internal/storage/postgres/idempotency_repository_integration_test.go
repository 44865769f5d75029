package postgres

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/hubcart/internal/domain"
)

func TestIdempotencyRepository_PostgresLifecycle(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewIdempotencyRepository(store)

	ttl := time.Now().UTC().Add(2 * time.Hour).Round(time.Second)
	created, err := repo.CreateProcessing(domain.IdempotencyClaim{Key: " checkout-1 ", Operation: "Checkout", RequestHash: "hash-1", TTLAt: ttl})
	require.NoError(t, err)
	require.Equal(t, "checkout-1", created.Key)
	require.Equal(t, domain.IdempotencyStatusProcessing, created.Status)

	_, err = repo.CreateProcessing(domain.IdempotencyClaim{Key: "checkout-1", Operation: "Checkout", RequestHash: "hash-1", TTLAt: ttl})
	require.ErrorIs(t, err, domain.ErrIdempotencyKeyAlreadyExists)
	existing, err := repo.CreateProcessing(domain.IdempotencyClaim{Key: "checkout-1", Operation: "Checkout", RequestHash: "hash-2", TTLAt: ttl})
	require.ErrorIs(t, err, domain.ErrIdempotencyHashMismatch)
	require.Equal(t, "hash-1", existing.RequestHash)
	require.Equal(t, "Checkout", existing.Operation)
	_, err = repo.CreateProcessing(domain.IdempotencyClaim{Key: "checkout-1", Operation: "CancelOrder", RequestHash: "hash-1", TTLAt: ttl})
	require.ErrorIs(t, err, domain.ErrIdempotencyHashMismatch)

	require.NoError(t, repo.MarkDone("checkout-1", []byte(`{"state":"complete"}`), 200))
	got, err := repo.Get("checkout-1")
	require.NoError(t, err)
	require.Equal(t, domain.IdempotencyStatusDone, got.Status)
	require.Equal(t, 200, got.HTTPStatus)
	require.JSONEq(t, `{"state":"complete"}`, string(got.ResponseBody))
	require.Equal(t, ttl, got.TTLAt)

	_, err = repo.CreateProcessing(domain.IdempotencyClaim{Key: "cancel-1", Operation: "CancelOrder", RequestHash: "hash-3", TTLAt: ttl})
	require.NoError(t, err)
	require.NoError(t, repo.MarkFailed("cancel-1", []byte(`{"type":"guard"}`), 422))
	failed, err := repo.Get("cancel-1")
	require.NoError(t, err)
	require.Equal(t, domain.IdempotencyStatusFailed, failed.Status)
	require.Equal(t, 422, failed.HTTPStatus)
}

func TestIdempotencyRepository_PostgresValidationAndMissing(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewIdempotencyRepository(store)

	_, err := repo.CreateProcessing(domain.IdempotencyClaim{Key: " ", Operation: "Checkout", RequestHash: "hash"})
	require.ErrorIs(t, err, domain.ErrIdempotencyKeyRequired)
	_, err = repo.CreateProcessing(domain.IdempotencyClaim{Key: "key", Operation: "Checkout", RequestHash: " "})
	require.ErrorIs(t, err, domain.ErrIdempotencyRequestHashRequired)

	_, err = repo.Get("missing")
	require.ErrorIs(t, err, domain.ErrIdempotencyKeyNotFound)
	require.ErrorIs(t, repo.MarkDone("missing", nil, 200), domain.ErrIdempotencyKeyNotFound)

	created, err := repo.CreateProcessing(domain.IdempotencyClaim{Key: "default-ttl", Operation: "Checkout", RequestHash: "hash"})
	require.NoError(t, err)
	require.WithinDuration(t, time.Now().Add(domain.DefaultIdempotencyTTL), created.TTLAt, time.Minute)
}

func TestIdempotencyRepository_PostgresDeleteExpired(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewIdempotencyRepository(store)

	now := time.Now().UTC()
	for _, key := range []string{"expired-1", "expired-2", "expired-3"} {
		_, err := repo.CreateProcessing(domain.IdempotencyClaim{Key: key, Operation: "Checkout", RequestHash: "hash", TTLAt: now.Add(-time.Hour)})
		require.NoError(t, err)
	}
	_, err := repo.CreateProcessing(domain.IdempotencyClaim{Key: "alive", Operation: "Checkout", RequestHash: "hash", TTLAt: now.Add(time.Hour)})
	require.NoError(t, err)

	deleted, err := repo.DeleteExpired(now, 2)
	require.NoError(t, err)
	require.Equal(t, 2, deleted)

	deleted, err = repo.DeleteExpired(now, 0)
	require.NoError(t, err)
	require.Equal(t, 1, deleted)

	_, err = repo.Get("alive")
	require.NoError(t, err)
}

func TestIdempotencyRepository_PostgresReleaseStale(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewIdempotencyRepository(store)

	for _, key := range []string{"stuck", "finished"} {
		_, err := repo.CreateProcessing(domain.IdempotencyClaim{Key: key, Operation: "Checkout", RequestHash: "hash"})
		require.NoError(t, err)
	}
	require.NoError(t, repo.MarkDone("finished", []byte(`{}`), 200))

	released, err := repo.ReleaseStale(time.Now().UTC().Add(time.Minute), 0)
	require.NoError(t, err)
	require.Equal(t, 1, released)

	_, err = repo.Get("stuck")
	require.ErrorIs(t, err, domain.ErrIdempotencyKeyNotFound)
	_, err = repo.Get("finished")
	require.NoError(t, err)
}

func TestIdempotencyRepository_PostgresConcurrentCreate(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewIdempotencyRepository(store)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.CreateProcessing(domain.IdempotencyClaim{Key: "race", Operation: "CreateOrder", RequestHash: "hash"})
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, domain.ErrIdempotencyKeyAlreadyExists)
		}()
	}
	wg.Wait()
	require.Equal(t, 1, wins)
}
