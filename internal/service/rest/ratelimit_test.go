package rest

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestRedisLimiter_FixedWindow(t *testing.T) {
	addr := os.Getenv("HUBCART_REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("HUBCART_REDIS_TEST_ADDR is not set")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = rdb.Close() })

	ctx := context.Background()
	require.NoError(t, rdb.Ping(ctx).Err())

	limiter := NewRedisLimiter(rdb, 2, time.Minute)
	limiter.prefix = "hubcart:test:" + uuid.NewString() + ":"
	key := "10.0.0.1"
	t.Cleanup(func() { rdb.Del(context.Background(), limiter.prefix+key) })

	d, err := limiter.Allow(ctx, key)
	require.NoError(t, err)
	require.True(t, d.Allowed)
	require.Equal(t, 1, d.Remaining)

	d, err = limiter.Allow(ctx, key)
	require.NoError(t, err)
	require.True(t, d.Allowed)
	require.Zero(t, d.Remaining)

	d, err = limiter.Allow(ctx, key)
	require.NoError(t, err)
	require.False(t, d.Allowed)
	require.Greater(t, d.RetryAfter, time.Duration(0))
	require.LessOrEqual(t, d.RetryAfter, time.Minute)

	ttl, err := rdb.PTTL(ctx, limiter.prefix+key).Result()
	require.NoError(t, err)
	require.Greater(t, ttl, time.Duration(0))
}

func TestRedisLimiter_ErrorWhenUnreachable(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond, MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })

	_, err := NewRedisLimiter(rdb, 1, time.Second).Allow(context.Background(), "k")
	require.Error(t, err)
}

func TestProblemFor_InternalIsMasked(t *testing.T) {
	p, ok := problemFor(context.DeadlineExceeded)
	require.True(t, ok)
	require.Equal(t, TypeTimeout, p.Type)

	p, ok = problemFor(os.ErrPermission)
	require.False(t, ok)
	require.Equal(t, "internal error", p.Detail)
	require.Equal(t, 500, p.Status)
}
