package app

import (
	"fmt"
	"strings"
	"time"
)

// Драйверы хранилища заказов.
const (
	StorageDriverMemory   = "memory"
	StorageDriverPostgres = "postgres"
)

// Бэкенды блокировки заказа.
const (
	LockBackendLocal    = "local"
	LockBackendPostgres = "postgres"
	LockBackendRedis    = "redis"
)

// Config — настройки процесса. Строковые списки (брокеры) хранятся строкой
// через запятую, чтобы Config оставался сравнимым.
type Config struct {
	GRPCAddr    string
	HTTPAddr    string
	MetricsAddr string

	StorageDriver       string
	PostgresDSN         string
	PostgresAutoMigrate bool
	// SeedFile — YAML с каталогом; пустой путь запускает сервис с пустым каталогом.
	SeedFile string

	KafkaBrokers  string
	KafkaGroupID  string
	VoucherTopic  string
	OutboxTopic   string
	KafkaMaxRetry int

	RedisAddr      string
	LockBackend    string
	LockTimeout    time.Duration
	PaymentTimeout time.Duration

	BreakerMaxFailures  int
	BreakerResetTimeout time.Duration

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxMaxAttempts  int
	OutboxRetryDelay   time.Duration
	// OutboxMaxPending — backlog, после которого health помечает outbox как degraded.
	OutboxMaxPending int

	IdempotencyTTL              time.Duration
	IdempotencyCleanupInterval  time.Duration
	IdempotencyCleanupBatchSize int
	// IdempotencyStaleAfter — сколько ключ может оставаться в processing без ответа.
	IdempotencyStaleAfter time.Duration

	// RateLimit — запросов REST на IP за RateWindow; 0 отключает лимит.
	RateLimit  int
	RateWindow time.Duration

	TracingExporter string
	Environment     string
	LogLevel        string
}

// DefaultConfig возвращает настройки для локального запуска без внешних зависимостей.
func DefaultConfig() Config {
	return Config{
		GRPCAddr:    ":50051",
		HTTPAddr:    ":8080",
		MetricsAddr: ":9090",

		StorageDriver:       StorageDriverMemory,
		PostgresAutoMigrate: true,

		KafkaGroupID:  "hubcart-order-service",
		VoucherTopic:  "hubcart.voucher.events",
		OutboxTopic:   "hubcart.order.events",
		KafkaMaxRetry: 3,

		LockBackend:    LockBackendLocal,
		LockTimeout:    2 * time.Second,
		PaymentTimeout: 10 * time.Second,

		BreakerMaxFailures:  5,
		BreakerResetTimeout: 30 * time.Second,

		OutboxPollInterval: time.Second,
		OutboxBatchSize:    100,
		OutboxMaxAttempts:  3,
		OutboxRetryDelay:   200 * time.Millisecond,
		OutboxMaxPending:   1000,

		IdempotencyTTL:              24 * time.Hour,
		IdempotencyCleanupInterval:  time.Minute,
		IdempotencyCleanupBatchSize: 500,
		IdempotencyStaleAfter:       5 * time.Minute,

		RateLimit:  0,
		RateWindow: time.Minute,

		TracingExporter: "none",
		Environment:     "development",
		LogLevel:        "info",
	}
}

// Validate проверяет сочетания настроек, которые нельзя исправить умолчанием.
func (c Config) Validate() error {
	switch c.StorageDriver {
	case StorageDriverMemory:
	case StorageDriverPostgres:
		if c.PostgresDSN == "" {
			return fmt.Errorf("postgres storage driver requires HUBCART_POSTGRES_DSN")
		}
	default:
		return fmt.Errorf("unsupported storage driver %q", c.StorageDriver)
	}

	switch c.LockBackend {
	case "", LockBackendLocal:
	case LockBackendPostgres:
		if c.StorageDriver != StorageDriverPostgres {
			return fmt.Errorf("lock backend %q requires postgres storage", c.LockBackend)
		}
	case LockBackendRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("lock backend %q requires HUBCART_REDIS_ADDR", c.LockBackend)
		}
	default:
		return fmt.Errorf("unsupported lock backend %q", c.LockBackend)
	}

	if c.RateLimit > 0 && c.RedisAddr == "" {
		return fmt.Errorf("rate limit requires HUBCART_REDIS_ADDR")
	}
	return nil
}

// kafkaBrokers разбирает список брокеров через запятую.
func (c Config) kafkaBrokers() []string {
	var brokers []string
	for _, b := range strings.Split(c.KafkaBrokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}
