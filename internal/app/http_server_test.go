package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/hubcart/internal/health"
	"github.com/vladislavdragonenkov/hubcart/internal/version"
)

func testLogger() *log.Entry {
	logger := log.New()
	logger.SetOutput(io.Discard)
	return logger.WithField("test", "app")
}

func newUnreachableRedis(t *testing.T) redis.UniversalClient {
	t.Helper()
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond, MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func newHealthHandler() *health.Handler {
	return health.NewHandler(version.Current().Version)
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestStartMetricsServer_Endpoints(t *testing.T) {
	port := findFreePort(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv := startMetricsServer(ctx, fmt.Sprintf(":%d", port), testLogger(), newHealthHandler())
	require.NotNil(t, srv)
	waitForServer(t, port)

	base := fmt.Sprintf("http://localhost:%d", port)

	status, body := get(t, base+"/metrics")
	require.Equal(t, http.StatusOK, status)
	require.NotEmpty(t, body)

	status, body = get(t, base+"/healthz")
	require.Equal(t, http.StatusOK, status)
	require.Contains(t, body, `"status":"healthy"`)

	status, body = get(t, base+"/livez")
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "ok", body)

	status, body = get(t, base+"/readyz")
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "ready", body)
}

func TestStartMetricsServer_ReadinessReflectsCheckers(t *testing.T) {
	port := findFreePort(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := newHealthHandler()
	h.RegisterChecker("storage", health.NewChecker("storage", func(context.Context) error {
		return errors.New("connection refused")
	}))
	startMetricsServer(ctx, fmt.Sprintf(":%d", port), testLogger(), h)
	waitForServer(t, port)

	status, body := get(t, fmt.Sprintf("http://localhost:%d/readyz", port))
	require.Equal(t, http.StatusServiceUnavailable, status)
	require.Equal(t, "not ready storage", body)

	status, _ = get(t, fmt.Sprintf("http://localhost:%d/healthz", port))
	require.Equal(t, http.StatusServiceUnavailable, status)

	// liveness не зависит от проверок
	status, _ = get(t, fmt.Sprintf("http://localhost:%d/livez", port))
	require.Equal(t, http.StatusOK, status)
}

func TestStartMetricsServer_ShutdownOnCancel(t *testing.T) {
	port := findFreePort(t)
	ctx, cancel := context.WithCancel(context.Background())

	startMetricsServer(ctx, fmt.Sprintf(":%d", port), testLogger(), newHealthHandler())
	waitForServer(t, port)

	cancel()
	require.Eventually(t, func() bool {
		resp, err := http.Get(fmt.Sprintf("http://localhost:%d/livez", port))
		if err != nil {
			return true
		}
		resp.Body.Close()
		return false
	}, 2*time.Second, 20*time.Millisecond)
}

func TestShutdownHTTP(t *testing.T) {
	shutdownHTTP(nil, testLogger())

	port := findFreePort(t)
	srv := startAPIServer(fmt.Sprintf(":%d", port), http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}), testLogger())
	waitForServer(t, port)

	status, _ := get(t, fmt.Sprintf("http://localhost:%d/anything", port))
	require.Equal(t, http.StatusNoContent, status)

	shutdownHTTP(srv, testLogger())
	_, err := http.Get(fmt.Sprintf("http://localhost:%d/anything", port))
	require.Error(t, err)
}

// findFreePort находит свободный порт для тестов
func findFreePort(t *testing.T) int {
	t.Helper()

	listener, err := net.Listen("tcp", ":0")
	require.NoError(t, err)
	defer listener.Close()

	return listener.Addr().(*net.TCPAddr).Port
}

func waitForServer(t *testing.T, port int) {
	t.Helper()
	require.Eventually(t, func() bool {
		conn, err := net.DialTimeout("tcp", fmt.Sprintf("localhost:%d", port), 50*time.Millisecond)
		if err != nil {
			return false
		}
		conn.Close()
		return true
	}, 2*time.Second, 10*time.Millisecond)
}
