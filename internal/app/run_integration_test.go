package app

import (
	"context"
	"strconv"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/vladislavdragonenkov/hubcart/internal/domain"
	"github.com/vladislavdragonenkov/hubcart/internal/health"
	"github.com/vladislavdragonenkov/hubcart/internal/messaging/kafka"
	grpcsvc "github.com/vladislavdragonenkov/hubcart/internal/service/grpc"
	"github.com/vladislavdragonenkov/hubcart/internal/storage/memory"
)

func memoryRunConfig(t *testing.T) (Config, int) {
	t.Helper()
	grpcPort := findFreePort(t)
	cfg := DefaultConfig()
	cfg.GRPCAddr = "127.0.0.1:" + strconv.Itoa(grpcPort)
	cfg.HTTPAddr = "127.0.0.1:" + strconv.Itoa(findFreePort(t))
	cfg.MetricsAddr = "127.0.0.1:" + strconv.Itoa(findFreePort(t))
	cfg.SeedFile = testSeedFile
	cfg.KafkaBrokers = ""
	return cfg, grpcPort
}

func TestRun_MemoryGracefulShutdown(t *testing.T) {
	cfg, grpcPort := memoryRunConfig(t)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- Run(ctx, cfg) }()

	waitForServer(t, grpcPort)
	conn, err := grpc.NewClient(cfg.GRPCAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()

	resp, err := healthpb.NewHealthClient(conn).Check(context.Background(), &healthpb.HealthCheckRequest{Service: grpcsvc.ServiceName})
	require.NoError(t, err)
	require.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())

	cancel()
	select {
	case err := <-errCh:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRun_InvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StorageDriver = "invalid-driver"
	require.ErrorContains(t, Run(context.Background(), cfg), "unsupported storage driver")

	cfg = DefaultConfig()
	cfg.SeedFile = "does-not-exist.yaml"
	require.ErrorContains(t, Run(context.Background(), cfg), "load catalog seed")
}

func TestRun_TracingExporterRejected(t *testing.T) {
	cfg, _ := memoryRunConfig(t)
	cfg.TracingExporter = "jaeger"
	require.ErrorContains(t, Run(context.Background(), cfg), "unsupported tracing exporter")
}

func TestShutdownHelpers(t *testing.T) {
	logger := testLogger()

	cancelCalled := false
	done := make(chan struct{})
	close(done)
	shutdownWorker(func() { cancelCalled = true }, done, logger)
	require.True(t, cancelCalled)

	shutdownWorker(nil, nil, logger)
	closeKafkaProducer(nil, logger)
	stopVoucherConsumer(nil, logger)
	closeRuntimeDependencies(nil, logger)

	cancel, finished := runWorker(context.Background(), func(ctx context.Context) { <-ctx.Done() })
	shutdownWorker(cancel, finished, logger)
	select {
	case <-finished:
	default:
		t.Fatal("worker must be finished after shutdown")
	}
}

func TestStartOutboxWorker_WithoutKafka(t *testing.T) {
	deps := &runtimeDependencies{outboxRepo: memory.NewOutboxRepository()}
	cancel, done := startOutboxWorker(context.Background(), DefaultConfig(), deps, nil, testLogger())
	require.Nil(t, cancel)
	require.Nil(t, done)
	require.Nil(t, initKafkaProducer(DefaultConfig(), testLogger()))
}

func TestOutboxBacklogChecker(t *testing.T) {
	repo := memory.NewOutboxRepository()
	checker := newOutboxBacklogChecker(repo, 1)
	require.Equal(t, health.StatusHealthy, checker.Check(context.Background()).Status)

	for _, id := range []string{"a", "b"} {
		_, err := repo.Enqueue(domain.OutboxMessage{ID: id, AggregateType: "order", AggregateID: "o-1", EventType: "order.completed"})
		require.NoError(t, err)
	}
	check := checker.Check(context.Background())
	require.Equal(t, health.StatusDegraded, check.Status)
	require.Contains(t, check.Message, "2 pending")

	require.Equal(t, health.StatusHealthy, newOutboxBacklogChecker(repo, 0).Check(context.Background()).Status)
}

func TestCloseKafkaProducer_NonNil(t *testing.T) {
	producer, err := kafka.NewProducer([]string{"localhost:9092"})
	if err != nil {
		t.Skipf("kafka is not available for integration test: %v", err)
	}
	closeKafkaProducer(producer, log.WithField("test", "kafka-close"))
}
