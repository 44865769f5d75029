package guard

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/hubcart/internal/domain"
	"github.com/vladislavdragonenkov/hubcart/internal/metrics"
)

const (
	defaultMaxAttempts = 3
	defaultBaseDelay   = 10 * time.Millisecond
	defaultLockTimeout = 2 * time.Second
)

// Tx — одна попытка мутации: свежая копия заказа и компенсации побочных эффектов.
type Tx struct {
	Order *domain.Order
	undo  []func()
}

// OnRollback регистрирует компенсацию, которая выполнится, если попытка
// не будет сохранена (ошибка мутации или конфликт версий).
func (tx *Tx) OnRollback(fn func()) {
	tx.undo = append(tx.undo, fn)
}

func (tx *Tx) rollback() {
	for i := len(tx.undo) - 1; i >= 0; i-- {
		tx.undo[i]()
	}
	tx.undo = nil
}

// MutateFunc применяет изменения к tx.Order. Вызывается заново на каждой попытке.
type MutateFunc func(tx *Tx) error

type persistError struct {
	err error
}

func (e *persistError) Error() string { return e.err.Error() }
func (e *persistError) Unwrap() error { return e.err }

// Persist помечает ошибку мутации, после которой изменения заказа всё равно
// нужно сохранить (например, неудачный платёж или возврат в корзину).
func Persist(err error) error {
	if err == nil {
		return nil
	}
	return &persistError{err: err}
}

// Option настраивает Guard.
type Option func(*Guard)

// WithMetrics включает метрики блокировок и повторов.
func WithMetrics(m *metrics.CheckoutMetrics) Option {
	return func(g *Guard) { g.metrics = m }
}

// WithLockTimeout задаёт максимальное ожидание блокировки заказа.
func WithLockTimeout(d time.Duration) Option {
	return func(g *Guard) {
		if d > 0 {
			g.lockTimeout = d
		}
	}
}

// WithBackoff задаёт число попыток и базовую задержку экспоненциального backoff.
func WithBackoff(maxAttempts int, baseDelay time.Duration) Option {
	return func(g *Guard) {
		if maxAttempts > 0 {
			g.maxAttempts = maxAttempts
		}
		if baseDelay >= 0 {
			g.baseDelay = baseDelay
		}
	}
}

// WithClock подменяет источник времени для UpdatedAt.
func WithClock(now func() time.Time) Option {
	return func(g *Guard) { g.now = now }
}

// Guard сериализует мутации одного заказа: эксклюзивная блокировка на всё время
// мутации плюс ограниченный optimistic retry на случай записи в обход блокировки.
type Guard struct {
	orders      domain.OrderRepository
	locker      domain.OrderLocker
	logger      *log.Entry
	metrics     *metrics.CheckoutMetrics
	lockTimeout time.Duration
	maxAttempts int
	baseDelay   time.Duration
	now         func() time.Time
}

// New создаёт guard. locker может быть nil, тогда остаётся только optimistic retry.
func New(orders domain.OrderRepository, locker domain.OrderLocker, logger *log.Entry, opts ...Option) *Guard {
	if logger == nil {
		logger = log.New().WithField("component", "guard")
	}
	g := &Guard{
		orders:      orders,
		locker:      locker,
		logger:      logger,
		lockTimeout: defaultLockTimeout,
		maxAttempts: defaultMaxAttempts,
		baseDelay:   defaultBaseDelay,
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g
}

// Mutate загружает заказ, применяет fn и сохраняет результат.
// Конфликт версий перезагружает заказ и повторяет fn с нуля, чтобы проверки
// выполнялись на свежих данных. Исчерпание попыток или таймаут блокировки
// возвращаются как domain.ErrConcurrentModification.
func (g *Guard) Mutate(ctx context.Context, orderID string, fn MutateFunc) (domain.Order, error) {
	if orderID == "" {
		return domain.Order{}, domain.ErrOrderIDRequired
	}

	unlock, err := g.lock(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	defer unlock()

	for attempt := 0; attempt < g.maxAttempts; attempt++ {
		order, err := g.orders.Get(orderID)
		if err != nil {
			return domain.Order{}, err
		}
		prevVersion := order.Version

		tx := &Tx{Order: &order}
		fnErr := fn(tx)
		var persist *persistError
		if fnErr != nil && !errors.As(fnErr, &persist) {
			tx.rollback()
			return domain.Order{}, fnErr
		}

		order.UpdatedAt = g.now()
		if err := g.orders.Save(order); err != nil {
			tx.rollback()
			if !domain.IsVersionConflict(err) {
				g.logger.WithError(err).WithField("order_id", orderID).Error("failed to persist order")
				return domain.Order{}, err
			}
			if g.metrics != nil {
				g.metrics.RecordMutationRetry()
			}
			g.logger.WithFields(log.Fields{
				"order_id": orderID,
				"attempt":  attempt + 1,
				"version":  prevVersion,
			}).Warn("version conflict detected, retrying")

			if attempt < g.maxAttempts-1 {
				if err := g.sleep(ctx, g.baseDelay*time.Duration(1<<uint(attempt))); err != nil {
					return domain.Order{}, err
				}
			}
			continue
		}

		order.Version = prevVersion + 1
		if persist != nil {
			return order, persist.err
		}
		return order, nil
	}

	g.logger.WithFields(log.Fields{
		"order_id":     orderID,
		"max_attempts": g.maxAttempts,
	}).Error("order mutation failed after all retry attempts")
	return domain.Order{}, fmt.Errorf("%w: %d attempts exhausted", domain.ErrConcurrentModification, g.maxAttempts)
}

func (g *Guard) lock(ctx context.Context, orderID string) (func(), error) {
	if g.locker == nil {
		return func() {}, nil
	}
	lockCtx, cancel := context.WithTimeout(ctx, g.lockTimeout)
	defer cancel()

	unlock, err := g.locker.Lock(lockCtx, orderID)
	if err != nil {
		if g.metrics != nil {
			g.metrics.RecordLockFailure()
		}
		g.logger.WithError(err).WithField("order_id", orderID).Warn("order lock not acquired")
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: lock order %s: %v", domain.ErrConcurrentModification, orderID, err)
	}
	return unlock, nil
}

func (g *Guard) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
