package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_Values(t *testing.T) {
	cfg := DefaultConfig()

	require.Equal(t, ":50051", cfg.GRPCAddr)
	require.Equal(t, ":8080", cfg.HTTPAddr)
	require.Equal(t, ":9090", cfg.MetricsAddr)
	require.Equal(t, StorageDriverMemory, cfg.StorageDriver)
	require.Equal(t, LockBackendLocal, cfg.LockBackend)
	require.True(t, cfg.PostgresAutoMigrate)
	require.Equal(t, "hubcart.voucher.events", cfg.VoucherTopic)
	require.Positive(t, cfg.OutboxPollInterval)
	require.Positive(t, cfg.OutboxBatchSize)
	require.Positive(t, cfg.OutboxMaxAttempts)
	require.Positive(t, cfg.OutboxMaxPending)
	require.GreaterOrEqual(t, cfg.OutboxRetryDelay, time.Duration(0))
	require.Positive(t, cfg.IdempotencyCleanupInterval)
	require.Positive(t, cfg.IdempotencyCleanupBatchSize)
	require.Zero(t, cfg.RateLimit)
	require.NoError(t, cfg.Validate())
}

func TestConfig_Comparison(t *testing.T) {
	cfg1 := DefaultConfig()
	cfg2 := DefaultConfig()
	require.True(t, cfg1 == cfg2)

	cfg2.KafkaBrokers = "kafka:9092"
	require.False(t, cfg1 == cfg2)
}

func TestConfig_Validate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "unsupported storage",
			mutate:  func(c *Config) { c.StorageDriver = "sqlite" },
			wantErr: "unsupported storage driver",
		},
		{
			name:    "postgres without dsn",
			mutate:  func(c *Config) { c.StorageDriver = StorageDriverPostgres },
			wantErr: "HUBCART_POSTGRES_DSN",
		},
		{
			name:    "postgres lock on memory storage",
			mutate:  func(c *Config) { c.LockBackend = LockBackendPostgres },
			wantErr: "requires postgres storage",
		},
		{
			name:    "redis lock without address",
			mutate:  func(c *Config) { c.LockBackend = LockBackendRedis },
			wantErr: "HUBCART_REDIS_ADDR",
		},
		{
			name:    "unknown lock backend",
			mutate:  func(c *Config) { c.LockBackend = "zookeeper" },
			wantErr: "unsupported lock backend",
		},
		{
			name:    "rate limit without redis",
			mutate:  func(c *Config) { c.RateLimit = 10 },
			wantErr: "rate limit requires",
		},
		{
			name: "postgres with advisory lock",
			mutate: func(c *Config) {
				c.StorageDriver = StorageDriverPostgres
				c.PostgresDSN = "postgres://hubcart@localhost/hubcart"
				c.LockBackend = LockBackendPostgres
			},
		},
		{
			name: "redis lock and limiter",
			mutate: func(c *Config) {
				c.RedisAddr = "localhost:6379"
				c.LockBackend = LockBackendRedis
				c.RateLimit = 100
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestConfig_KafkaBrokers(t *testing.T) {
	cfg := Config{KafkaBrokers: " kafka-1:9092, ,kafka-2:9092 "}
	require.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.kafkaBrokers())
	require.Empty(t, Config{}.kafkaBrokers())
}
