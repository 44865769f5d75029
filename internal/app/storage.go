package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/hubcart/internal/domain"
	"github.com/vladislavdragonenkov/hubcart/internal/health"
	"github.com/vladislavdragonenkov/hubcart/internal/storage/memory"
	"github.com/vladislavdragonenkov/hubcart/internal/storage/postgres"
	"github.com/vladislavdragonenkov/hubcart/internal/storage/redislock"
)

// runtimeDependencies — хранилища, выбранные по StorageDriver.
// Каталог всегда в памяти: это справочник только для чтения, загружаемый из seed.
type runtimeDependencies struct {
	catalog         *memory.CatalogRepository
	repo            domain.OrderRepository
	stock           domain.StockRepository
	outboxRepo      domain.OutboxRepository
	timelineRepo    domain.TimelineRepository
	idempotencyRepo domain.IdempotencyRepository
	locker          domain.OrderLocker
	storageChecker  health.Checker
	closeFn         func() error

	pgStore *postgres.Store
}

func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	deps := &runtimeDependencies{catalog: memory.NewCatalogRepository()}

	switch cfg.StorageDriver {
	case StorageDriverMemory:
		deps.repo = memory.NewOrderRepository()
		deps.stock = memory.NewStockRepository()
		deps.outboxRepo = memory.NewOutboxRepository()
		deps.timelineRepo = memory.NewTimelineRepository()
		deps.idempotencyRepo = memory.NewIdempotencyRepository()
		deps.storageChecker = health.NewChecker("storage", func(context.Context) error { return nil })
		deps.closeFn = func() error { return nil }

	case StorageDriverPostgres:
		if cfg.PostgresDSN == "" {
			return nil, errors.New("postgres storage driver requires a DSN")
		}
		store, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("init postgres storage: %w", err)
		}
		if cfg.PostgresAutoMigrate {
			if err := store.MigrateUp(ctx, 0); err != nil {
				_ = store.Close()
				return nil, fmt.Errorf("apply postgres migrations: %w", err)
			}
			logger.Info("postgres migrations applied")
		}
		deps.pgStore = store
		deps.repo = postgres.NewOrderRepository(store)
		deps.stock = postgres.NewStockRepository(store)
		deps.outboxRepo = postgres.NewOutboxRepository(store)
		deps.timelineRepo = postgres.NewTimelineRepository(store)
		deps.idempotencyRepo = postgres.NewIdempotencyRepository(store)
		deps.storageChecker = health.NewChecker("storage", store.Check)
		deps.closeFn = store.Close

	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}

	if cfg.SeedFile != "" {
		if err := memory.LoadSeedFile(cfg.SeedFile, deps.catalog, seedStock(cfg, deps.stock)); err != nil {
			_ = deps.closeFn()
			return nil, fmt.Errorf("load catalog seed: %w", err)
		}
		logger.WithField("seed_file", cfg.SeedFile).Info("catalog seed loaded")
	}

	logger.WithField("driver", cfg.StorageDriver).Info("storage initialized")
	return deps, nil
}

// selectLocker выбирает блокировку заказа; rdb нужен только бэкенду redis.
func selectLocker(cfg Config, deps *runtimeDependencies, rdb redis.Cmdable, logger *log.Entry) (domain.OrderLocker, error) {
	switch cfg.LockBackend {
	case "", LockBackendLocal:
		return memory.NewLocker(), nil
	case LockBackendPostgres:
		if deps.pgStore == nil {
			return nil, fmt.Errorf("lock backend %q requires postgres storage", cfg.LockBackend)
		}
		return postgres.NewAdvisoryLocker(deps.pgStore, logger.WithField("component", "pg-locker")), nil
	case LockBackendRedis:
		if rdb == nil {
			return nil, fmt.Errorf("lock backend %q requires a redis client", cfg.LockBackend)
		}
		return redislock.New(rdb, redislock.WithLogger(logger.WithField("component", "redis-locker"))), nil
	default:
		return nil, fmt.Errorf("unsupported lock backend %q", cfg.LockBackend)
	}
}

// seedStock не даёт seed перезаписать остатки, уже сохранённые в postgres.
func seedStock(cfg Config, repo domain.StockRepository) domain.StockRepository {
	if cfg.StorageDriver == StorageDriverPostgres {
		return keepExistingStock{StockRepository: repo}
	}
	return repo
}

type keepExistingStock struct {
	domain.StockRepository
}

func (s keepExistingStock) Put(record domain.StockRecord) error {
	_, err := s.Get(record.VariantID, record.HubID)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrStockRecordNotFound):
		return s.StockRepository.Put(record)
	default:
		return err
	}
}
