package guard

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/hubcart/internal/domain"
	"github.com/vladislavdragonenkov/hubcart/internal/storage/memory"
)

// conflictingRepo возвращает конфликт версий на первых conflicts вызовах Save.
type conflictingRepo struct {
	domain.OrderRepository
	mu        sync.Mutex
	conflicts int
	saves     int
}

func (r *conflictingRepo) Save(order domain.Order) error {
	r.mu.Lock()
	r.saves++
	if r.conflicts > 0 {
		r.conflicts--
		r.mu.Unlock()
		return domain.ErrOrderVersionConflict
	}
	r.mu.Unlock()
	return r.OrderRepository.Save(order)
}

func seededRepo(t *testing.T) domain.OrderRepository {
	t.Helper()
	repo := memory.NewOrderRepository()
	require.NoError(t, repo.Create(domain.Order{
		ID:    "order-1",
		State: domain.StateCart,
		LineItems: []domain.LineItem{
			{ID: "li-1", VariantID: "v-1", Quantity: 1, PriceMinor: 500},
		},
	}))
	return repo
}

func newGuard(repo domain.OrderRepository, locker domain.OrderLocker, opts ...Option) *Guard {
	opts = append([]Option{WithBackoff(3, 0)}, opts...)
	return New(repo, locker, nil, opts...)
}

func TestMutate_SavesAndBumpsVersion(t *testing.T) {
	repo := seededRepo(t)
	g := newGuard(repo, memory.NewLocker())

	order, err := g.Mutate(context.Background(), "order-1", func(tx *Tx) error {
		tx.Order.Email = "buyer@example.com"
		return nil
	})
	require.NoError(t, err)
	require.EqualValues(t, 1, order.Version)

	stored, err := repo.Get("order-1")
	require.NoError(t, err)
	require.Equal(t, "buyer@example.com", stored.Email)
	require.Equal(t, order.Version, stored.Version)
}

func TestMutate_ErrorLeavesOrderUntouched(t *testing.T) {
	repo := seededRepo(t)
	g := newGuard(repo, nil)
	rejected := errors.New("rejected")
	rolledBack := false

	_, err := g.Mutate(context.Background(), "order-1", func(tx *Tx) error {
		tx.OnRollback(func() { rolledBack = true })
		tx.Order.State = domain.StateAddress
		return rejected
	})
	require.ErrorIs(t, err, rejected)
	require.True(t, rolledBack)

	stored, err := repo.Get("order-1")
	require.NoError(t, err)
	require.Equal(t, domain.StateCart, stored.State)
	require.Zero(t, stored.Version)
}

func TestMutate_PersistSavesThenFails(t *testing.T) {
	repo := seededRepo(t)
	g := newGuard(repo, nil)
	declined := errors.New("declined")

	order, err := g.Mutate(context.Background(), "order-1", func(tx *Tx) error {
		tx.OnRollback(func() { t.Fatal("persisted attempt must not roll back") })
		tx.Order.State = domain.StatePayment
		return Persist(declined)
	})
	require.ErrorIs(t, err, declined)
	require.Equal(t, domain.StatePayment, order.State)

	stored, err := repo.Get("order-1")
	require.NoError(t, err)
	require.Equal(t, domain.StatePayment, stored.State)
}

func TestMutate_RetriesOnVersionConflict(t *testing.T) {
	repo := &conflictingRepo{OrderRepository: seededRepo(t), conflicts: 2}
	g := newGuard(repo, nil)
	calls, rollbacks := 0, 0

	order, err := g.Mutate(context.Background(), "order-1", func(tx *Tx) error {
		calls++
		tx.OnRollback(func() { rollbacks++ })
		tx.Order.LineItems[0].Quantity++
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, calls)
	require.Equal(t, 2, rollbacks)
	require.Equal(t, 2, order.LineItems[0].Quantity, "each attempt starts from fresh data")
}

func TestMutate_ExhaustedRetries(t *testing.T) {
	repo := &conflictingRepo{OrderRepository: seededRepo(t), conflicts: 10}
	g := newGuard(repo, nil)

	_, err := g.Mutate(context.Background(), "order-1", func(tx *Tx) error { return nil })
	require.ErrorIs(t, err, domain.ErrConcurrentModification)
	require.True(t, domain.IsRetryable(err))
	require.Equal(t, 3, repo.saves)
}

func TestMutate_LockTimeout(t *testing.T) {
	repo := seededRepo(t)
	locker := memory.NewLocker()
	g := newGuard(repo, locker, WithLockTimeout(20*time.Millisecond))

	unlock, err := locker.Lock(context.Background(), "order-1")
	require.NoError(t, err)
	defer unlock()

	_, err = g.Mutate(context.Background(), "order-1", func(tx *Tx) error {
		t.Fatal("mutation must not run without the lock")
		return nil
	})
	require.ErrorIs(t, err, domain.ErrConcurrentModification)
}

func TestMutate_UnknownOrder(t *testing.T) {
	g := newGuard(memory.NewOrderRepository(), nil)

	_, err := g.Mutate(context.Background(), "missing", func(tx *Tx) error { return nil })
	require.ErrorIs(t, err, domain.ErrOrderNotFound)

	_, err = g.Mutate(context.Background(), "", func(tx *Tx) error { return nil })
	require.ErrorIs(t, err, domain.ErrOrderIDRequired)
}

func TestMutate_ConcurrentDeletionOfLastLineItem(t *testing.T) {
	repo := seededRepo(t)
	g := newGuard(repo, memory.NewLocker(), WithLockTimeout(time.Second))

	remove := func(tx *Tx) error {
		if !tx.Order.DropLineItem("li-1") {
			return domain.ErrLineItemNotFound
		}
		if tx.Order.IsEmpty() {
			tx.Order.State = domain.StateCart
		}
		return nil
	}

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = g.Mutate(context.Background(), "order-1", remove)
		}(i)
	}
	wg.Wait()

	succeeded, notFound := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, domain.ErrLineItemNotFound):
			notFound++
		}
	}
	require.Equal(t, 1, succeeded)
	require.Equal(t, 1, notFound)

	stored, err := repo.Get("order-1")
	require.NoError(t, err)
	require.True(t, stored.IsEmpty())
	require.EqualValues(t, 1, stored.Version)
}
