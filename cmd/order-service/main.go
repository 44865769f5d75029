package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/hubcart/internal/app"
	"github.com/vladislavdragonenkov/hubcart/internal/version"
)

const (
	envGRPCAddr                    = "HUBCART_GRPC_ADDR"
	envHTTPAddr                    = "HUBCART_HTTP_ADDR"
	envMetricsAddr                 = "HUBCART_METRICS_ADDR"
	envStorageDriver               = "HUBCART_STORAGE_DRIVER"
	envPostgresDSN                 = "HUBCART_POSTGRES_DSN"
	envPostgresAutoMigrate         = "HUBCART_POSTGRES_AUTO_MIGRATE"
	envSeedFile                    = "HUBCART_SEED_FILE"
	envKafkaBrokers                = "HUBCART_KAFKA_BROKERS"
	envKafkaGroupID                = "HUBCART_KAFKA_GROUP_ID"
	envVoucherTopic                = "HUBCART_KAFKA_VOUCHER_TOPIC"
	envOutboxTopic                 = "HUBCART_KAFKA_OUTBOX_TOPIC"
	envKafkaMaxRetry               = "HUBCART_KAFKA_MAX_RETRY"
	envRedisAddr                   = "HUBCART_REDIS_ADDR"
	envLockBackend                 = "HUBCART_LOCK_BACKEND"
	envLockTimeout                 = "HUBCART_LOCK_TIMEOUT"
	envPaymentTimeout              = "HUBCART_PAYMENT_TIMEOUT"
	envBreakerMaxFailures          = "HUBCART_PAYMENT_BREAKER_MAX_FAILURES"
	envBreakerResetTimeout         = "HUBCART_PAYMENT_BREAKER_RESET_TIMEOUT"
	envOutboxPollInterval          = "HUBCART_OUTBOX_POLL_INTERVAL"
	envOutboxBatchSize             = "HUBCART_OUTBOX_BATCH_SIZE"
	envOutboxMaxAttempts           = "HUBCART_OUTBOX_MAX_ATTEMPTS"
	envOutboxRetryDelay            = "HUBCART_OUTBOX_RETRY_DELAY"
	envOutboxMaxPending            = "HUBCART_OUTBOX_MAX_PENDING"
	envIdempotencyTTL              = "HUBCART_IDEMPOTENCY_TTL"
	envIdempotencyCleanupInterval  = "HUBCART_IDEMPOTENCY_CLEANUP_INTERVAL"
	envIdempotencyCleanupBatchSize = "HUBCART_IDEMPOTENCY_CLEANUP_BATCH_SIZE"
	envIdempotencyStaleAfter       = "HUBCART_IDEMPOTENCY_STALE_AFTER"
	envRateLimit                   = "HUBCART_RATE_LIMIT"
	envRateWindow                  = "HUBCART_RATE_WINDOW"
	envTracingExporter             = "HUBCART_TRACING_EXPORTER"
	envEnvironment                 = "HUBCART_ENV"
	envLogLevel                    = "HUBCART_LOG_LEVEL"
	envLogFormat                   = "HUBCART_LOG_FORMAT"
)

type envLookup func(key string) (string, bool)

func positive(v int) bool              { return v > 0 }
func nonNegative(v int) bool           { return v >= 0 }
func positiveDur(v time.Duration) bool { return v > 0 }
func nonNegDur(v time.Duration) bool   { return v >= 0 }

// readConfigFromEnv накладывает HUBCART_* поверх app.DefaultConfig.
// Некорректные значения не роняют сервис: остаётся значение по умолчанию,
// а причина попадает в warnings.
func readConfigFromEnv(lookup envLookup) (app.Config, []string) {
	cfg := app.DefaultConfig()
	var warnings []string

	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	lower := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.ToLower(strings.TrimSpace(v))
		}
	}
	boolean := func(key string, dst *bool) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		parsed, err := parseBool(v)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("%s: %v", key, err))
			return
		}
		*dst = parsed
	}
	integer := func(key string, dst *int, valid func(int) bool, rule string) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		parsed, err := parseInt(v, valid, rule)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("%s: %v", key, err))
			return
		}
		*dst = parsed
	}
	duration := func(key string, dst *time.Duration, valid func(time.Duration) bool, rule string) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		parsed, err := parseDuration(v, valid, rule)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("%s: %v", key, err))
			return
		}
		*dst = parsed
	}

	str(envGRPCAddr, &cfg.GRPCAddr)
	str(envHTTPAddr, &cfg.HTTPAddr)
	str(envMetricsAddr, &cfg.MetricsAddr)

	lower(envStorageDriver, &cfg.StorageDriver)
	str(envPostgresDSN, &cfg.PostgresDSN)
	boolean(envPostgresAutoMigrate, &cfg.PostgresAutoMigrate)
	str(envSeedFile, &cfg.SeedFile)

	str(envKafkaBrokers, &cfg.KafkaBrokers)
	str(envKafkaGroupID, &cfg.KafkaGroupID)
	str(envVoucherTopic, &cfg.VoucherTopic)
	str(envOutboxTopic, &cfg.OutboxTopic)
	integer(envKafkaMaxRetry, &cfg.KafkaMaxRetry, nonNegative, "must be >= 0")

	str(envRedisAddr, &cfg.RedisAddr)
	lower(envLockBackend, &cfg.LockBackend)
	duration(envLockTimeout, &cfg.LockTimeout, positiveDur, "must be > 0")
	duration(envPaymentTimeout, &cfg.PaymentTimeout, positiveDur, "must be > 0")
	integer(envBreakerMaxFailures, &cfg.BreakerMaxFailures, positive, "must be > 0")
	duration(envBreakerResetTimeout, &cfg.BreakerResetTimeout, positiveDur, "must be > 0")

	duration(envOutboxPollInterval, &cfg.OutboxPollInterval, positiveDur, "must be > 0")
	integer(envOutboxBatchSize, &cfg.OutboxBatchSize, positive, "must be > 0")
	integer(envOutboxMaxAttempts, &cfg.OutboxMaxAttempts, positive, "must be > 0")
	duration(envOutboxRetryDelay, &cfg.OutboxRetryDelay, nonNegDur, "must be >= 0")
	integer(envOutboxMaxPending, &cfg.OutboxMaxPending, nonNegative, "must be >= 0")

	duration(envIdempotencyTTL, &cfg.IdempotencyTTL, positiveDur, "must be > 0")
	duration(envIdempotencyCleanupInterval, &cfg.IdempotencyCleanupInterval, positiveDur, "must be > 0")
	integer(envIdempotencyCleanupBatchSize, &cfg.IdempotencyCleanupBatchSize, positive, "must be > 0")
	duration(envIdempotencyStaleAfter, &cfg.IdempotencyStaleAfter, positiveDur, "must be > 0")

	integer(envRateLimit, &cfg.RateLimit, nonNegative, "must be >= 0")
	duration(envRateWindow, &cfg.RateWindow, positiveDur, "must be > 0")

	lower(envTracingExporter, &cfg.TracingExporter)
	lower(envEnvironment, &cfg.Environment)
	lower(envLogLevel, &cfg.LogLevel)

	return cfg, warnings
}

func parseBool(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid boolean %q", raw)
	}
}

func parseInt(raw string, valid func(int) bool, rule string) (int, error) {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid integer %q", raw)
	}
	if valid != nil && !valid(value) {
		return 0, fmt.Errorf("value %d %s", value, rule)
	}
	return value, nil
}

func parseDuration(raw string, valid func(time.Duration) bool, rule string) (time.Duration, error) {
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", raw)
	}
	if valid != nil && !valid(value) {
		return 0, fmt.Errorf("value %s %s", value, rule)
	}
	return value, nil
}

// setupLogger настраивает формат и уровень логирования для сервиса.
func setupLogger(level string, format string) error {
	if strings.EqualFold(strings.TrimSpace(format), "json") {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	if level == "" {
		log.SetLevel(log.InfoLevel)
		return nil
	}
	parsed, err := log.ParseLevel(level)
	if err != nil {
		log.SetLevel(log.InfoLevel)
		return err
	}
	log.SetLevel(parsed)
	return nil
}

func main() {
	cfg, warnings := readConfigFromEnv(os.LookupEnv)
	format, _ := os.LookupEnv(envLogFormat)
	if err := setupLogger(cfg.LogLevel, format); err != nil {
		log.WithError(err).Warn("unknown log level, using info")
	}
	for _, w := range warnings {
		log.Warn("ignored config value: " + w)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithFields(log.Fields{
		"version":        version.String(),
		"go_version":     version.Current().GoVersion,
		"grpc_addr":      cfg.GRPCAddr,
		"http_addr":      cfg.HTTPAddr,
		"metrics_addr":   cfg.MetricsAddr,
		"storage_driver": cfg.StorageDriver,
		"lock_backend":   cfg.LockBackend,
	}).Info("запускаем hubcart")

	if err := app.Run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Fatal("приложение завершилось с ошибкой")
	}

	log.Info("hubcart остановлен")
}
