package idempotency

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
	defaultCleanupInterval  = 10 * time.Minute
	defaultCleanupBatchSize = 500
	defaultStaleAfter       = 5 * time.Minute
)

// CleanupOptions задаёт параметры обслуживания idempotency-ключей.
type CleanupOptions struct {
	Logger     *log.Entry
	Metrics    *metrics.IdempotencyMetrics
	Interval   time.Duration
	BatchSize  int
	StaleAfter time.Duration
	Now        func() time.Time
}

type CleanupOption func(*CleanupOptions)

func WithLogger(logger *log.Entry) CleanupOption {
	return func(opts *CleanupOptions) { opts.Logger = logger }
}

func WithCleanupMetrics(m *metrics.IdempotencyMetrics) CleanupOption {
	return func(opts *CleanupOptions) { opts.Metrics = m }
}

func WithInterval(interval time.Duration) CleanupOption {
	return func(opts *CleanupOptions) { opts.Interval = interval }
}

// WithBatchSize задаёт размер одной порции удаления.
func WithBatchSize(batchSize int) CleanupOption {
	return func(opts *CleanupOptions) { opts.BatchSize = batchSize }
}

// WithStaleAfter задаёт, сколько ключ может висеть в processing без обновления.
// Отрицательное значение отключает освобождение зависших ключей.
func WithStaleAfter(d time.Duration) CleanupOption {
	return func(opts *CleanupOptions) { opts.StaleAfter = d }
}

func WithCleanupClock(now func() time.Time) CleanupOption {
	return func(opts *CleanupOptions) { opts.Now = now }
}

// CleanupResult — итог одного цикла обслуживания.
type CleanupResult struct {
	Expired  int
	Released int
}

// CleanupWorker обслуживает ответы, сохранённые Executor для шагов оформления,
// операций с корзиной и ваучерами: удаляет истёкшие ключи и освобождает ключи,
// чей обработчик упал, не дописав ответ. Иначе повтор с тем же ключом получал бы
// "in progress" до конца TTL.
type CleanupWorker struct {
	repo       domain.IdempotencyRepository
	metrics    *metrics.IdempotencyMetrics
	logger     *log.Entry
	interval   time.Duration
	batchSize  int
	staleAfter time.Duration
	now        func() time.Time
}

func NewCleanupWorker(repo domain.IdempotencyRepository, options ...CleanupOption) *CleanupWorker {
	opts := CleanupOptions{
		Interval:   defaultCleanupInterval,
		BatchSize:  defaultCleanupBatchSize,
		StaleAfter: defaultStaleAfter,
	}
	for _, option := range options {
		option(&opts)
	}

	if opts.Logger == nil {
		opts.Logger = log.WithField("component", "idempotency-cleanup-worker")
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewIdempotencyMetrics()
	}
	if opts.Interval <= 0 {
		opts.Interval = defaultCleanupInterval
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultCleanupBatchSize
	}
	if opts.StaleAfter == 0 {
		opts.StaleAfter = defaultStaleAfter
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}

	return &CleanupWorker{
		repo:       repo,
		metrics:    opts.Metrics,
		logger:     opts.Logger,
		interval:   opts.Interval,
		batchSize:  opts.BatchSize,
		staleAfter: opts.StaleAfter,
		now:        opts.Now,
	}
}

// Run выполняет обслуживание сразу и затем каждые interval до отмены ctx.
func (w *CleanupWorker) Run(ctx context.Context) {
	if w.repo == nil {
		w.logger.Warn("idempotency cleanup worker is disabled: repo is nil")
		return
	}

	w.runOnce(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.runOnce(ctx)
		}
	}
}

func (w *CleanupWorker) runOnce(ctx context.Context) {
	result, err := w.Cleanup(ctx, w.now())
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		w.metrics.RecordRun("error", 0)
		w.logger.WithError(err).Warn("idempotency cleanup run failed")
		return
	}

	w.metrics.RecordRun("ok", result.Expired+result.Released)
	if result.Expired > 0 || result.Released > 0 {
		w.logger.WithFields(log.Fields{
			"expired":  result.Expired,
			"released": result.Released,
		}).Info("idempotency cleanup completed")
	}
}

// Cleanup удаляет истёкшие ключи и освобождает зависшие в processing.
// Ошибка первой фазы не мешает второй.
func (w *CleanupWorker) Cleanup(ctx context.Context, now time.Time) (CleanupResult, error) {
	if now.IsZero() {
		now = w.now()
	}

	var result CleanupResult
	expired, expiredErr := w.DeleteExpired(ctx, now)
	result.Expired = expired
	if errors.Is(expiredErr, context.Canceled) || errors.Is(expiredErr, context.DeadlineExceeded) {
		return result, expiredErr
	}

	var releaseErr error
	if w.staleAfter > 0 {
		result.Released, releaseErr = w.ReleaseStale(ctx, now.Add(-w.staleAfter))
	}
	return result, errors.Join(expiredErr, releaseErr)
}

// DeleteExpired удаляет все записи с ttl <= before порциями batchSize.
func (w *CleanupWorker) DeleteExpired(ctx context.Context, before time.Time) (int, error) {
	if before.IsZero() {
		before = w.now()
	}
	n, err := w.drain(ctx, func() (int, error) { return w.repo.DeleteExpired(before, w.batchSize) })
	w.metrics.RecordRemoved("expired", n)
	if err != nil {
		return n, fmt.Errorf("delete expired keys: %w", err)
	}
	return n, nil
}

// ReleaseStale удаляет ключи в processing, не обновлявшиеся с updatedBefore.
func (w *CleanupWorker) ReleaseStale(ctx context.Context, updatedBefore time.Time) (int, error) {
	n, err := w.drain(ctx, func() (int, error) { return w.repo.ReleaseStale(updatedBefore, w.batchSize) })
	w.metrics.RecordRemoved("stale", n)
	if err != nil {
		return n, fmt.Errorf("release stale keys: %w", err)
	}
	if n > 0 {
		w.logger.WithField("released", n).Warn("released idempotency keys stuck in processing")
	}
	return n, nil
}

func (w *CleanupWorker) drain(ctx context.Context, batch func() (int, error)) (int, error) {
	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		n, err := batch()
		if err != nil {
			return total, err
		}
		total += n
		if n < w.batchSize {
			return total, nil
		}
	}
}
