package app

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/hubcart/internal/domain"
	"github.com/vladislavdragonenkov/hubcart/internal/health"
	"github.com/vladislavdragonenkov/hubcart/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/hubcart/internal/metrics"
	"github.com/vladislavdragonenkov/hubcart/internal/service/idempotency"
	"github.com/vladislavdragonenkov/hubcart/internal/service/outbox"
	"github.com/vladislavdragonenkov/hubcart/internal/service/storefront"
)

const workerShutdownTimeout = 5 * time.Second

// initKafkaProducer возвращает nil, если брокеры не заданы или недоступны:
// сервис работает и без Kafka, сообщения копятся в outbox.
func initKafkaProducer(cfg Config, logger *log.Entry) *kafka.Producer {
	brokers := cfg.kafkaBrokers()
	if len(brokers) == 0 {
		return nil
	}
	producer, err := kafka.NewProducer(brokers)
	if err != nil {
		logger.WithError(err).Warn("failed to create kafka producer, continuing without kafka")
		return nil
	}
	logger.WithField("brokers", brokers).Info("kafka producer initialized")
	return producer
}

func closeKafkaProducer(producer *kafka.Producer, logger *log.Entry) {
	if producer == nil {
		return
	}
	if err := producer.Close(); err != nil {
		logger.WithError(err).Warn("failed to close kafka producer")
		return
	}
	logger.Info("kafka producer closed")
}

func startOutboxWorker(ctx context.Context, cfg Config, deps *runtimeDependencies, producer *kafka.Producer, logger *log.Entry) (context.CancelFunc, <-chan struct{}) {
	if producer == nil {
		logger.Info("kafka is not configured, outbox messages stay pending")
		return nil, nil
	}
	worker := outbox.NewWorker(deps.outboxRepo, kafka.NewOutboxPublisher(producer, cfg.OutboxTopic),
		outbox.WithLogger(logger.WithField("component", "outbox-worker")),
		outbox.WithDLQPublisher(kafka.NewOutboxPublisher(producer, kafka.TopicDeadLetterQueue)),
		outbox.WithPollInterval(cfg.OutboxPollInterval),
		outbox.WithBatchSize(cfg.OutboxBatchSize),
		outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
		outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
		outbox.WithMetrics(metrics.NewOutboxMetrics()),
	)
	return runWorker(ctx, worker.Run)
}

func startIdempotencyCleanup(ctx context.Context, cfg Config, deps *runtimeDependencies, logger *log.Entry) (context.CancelFunc, <-chan struct{}) {
	worker := idempotency.NewCleanupWorker(deps.idempotencyRepo,
		idempotency.WithLogger(logger.WithField("component", "idempotency-cleanup")),
		idempotency.WithInterval(cfg.IdempotencyCleanupInterval),
		idempotency.WithBatchSize(cfg.IdempotencyCleanupBatchSize),
		idempotency.WithStaleAfter(cfg.IdempotencyStaleAfter),
		idempotency.WithCleanupMetrics(metrics.NewIdempotencyMetrics()),
	)
	return runWorker(ctx, worker.Run)
}

func runWorker(ctx context.Context, run func(context.Context)) (context.CancelFunc, <-chan struct{}) {
	workerCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		run(workerCtx)
	}()
	return cancel, done
}

// shutdownWorker отменяет фоновый воркер и ждёт его завершения.
func shutdownWorker(cancel context.CancelFunc, done <-chan struct{}, logger *log.Entry) {
	if cancel != nil {
		cancel()
	}
	if done == nil {
		return
	}
	select {
	case <-done:
	case <-time.After(workerShutdownTimeout):
		logger.Warn("background worker did not stop in time")
	}
}

func startVoucherConsumer(ctx context.Context, cfg Config, front *storefront.Service, producer *kafka.Producer, logger *log.Entry) *kafka.Consumer {
	if producer == nil || cfg.VoucherTopic == "" {
		return nil
	}
	consumer, err := kafka.NewConsumerWithDLQ(cfg.kafkaBrokers(), cfg.KafkaGroupID, []string{cfg.VoucherTopic},
		kafka.VoucherMessageHandler(front.HandleVoucherEvent), producer, cfg.KafkaMaxRetry,
		kafka.WithNonRetryable(kafka.ErrInvalidVoucherEvent, kafka.ErrMalformedMessage))
	if err != nil {
		logger.WithError(err).Warn("failed to create voucher consumer")
		return nil
	}
	if err := consumer.Start(ctx); err != nil {
		logger.WithError(err).Warn("failed to start voucher consumer")
		_ = consumer.Stop()
		return nil
	}
	logger.WithField("topic", cfg.VoucherTopic).Info("voucher consumer started")
	return consumer
}

func stopVoucherConsumer(consumer *kafka.Consumer, logger *log.Entry) {
	if consumer == nil {
		return
	}
	if err := consumer.Stop(); err != nil {
		logger.WithError(err).Warn("failed to stop voucher consumer")
	}
}

// newOutboxBacklogChecker сообщает degraded, когда неотправленных сообщений больше maxPending.
func newOutboxBacklogChecker(repo domain.OutboxRepository, maxPending int) health.Checker {
	return health.NewChecker("outbox", func(context.Context) error {
		stats, err := repo.Stats()
		if err != nil {
			return err
		}
		if maxPending > 0 && stats.PendingCount > maxPending {
			return fmt.Errorf("%w: %d pending outbox messages (%d failed)", health.ErrDegraded, stats.PendingCount, stats.FailedCount)
		}
		return nil
	})
}
