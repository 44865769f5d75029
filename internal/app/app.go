package app

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/gin-gonic/gin"
	promgrpc "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/vladislavdragonenkov/hubcart/internal/health"
	"github.com/vladislavdragonenkov/hubcart/internal/metrics"
	"github.com/vladislavdragonenkov/hubcart/internal/service/adjustments"
	"github.com/vladislavdragonenkov/hubcart/internal/service/audit"
	"github.com/vladislavdragonenkov/hubcart/internal/service/binder"
	"github.com/vladislavdragonenkov/hubcart/internal/service/checkout"
	grpcsvc "github.com/vladislavdragonenkov/hubcart/internal/service/grpc"
	"github.com/vladislavdragonenkov/hubcart/internal/service/guard"
	"github.com/vladislavdragonenkov/hubcart/internal/service/idempotency"
	"github.com/vladislavdragonenkov/hubcart/internal/service/payment"
	"github.com/vladislavdragonenkov/hubcart/internal/service/rest"
	"github.com/vladislavdragonenkov/hubcart/internal/service/stock"
	"github.com/vladislavdragonenkov/hubcart/internal/service/storefront"
	"github.com/vladislavdragonenkov/hubcart/internal/service/voucher"
	"github.com/vladislavdragonenkov/hubcart/internal/tracing"
	"github.com/vladislavdragonenkov/hubcart/internal/version"
)

const (
	serviceName         = "hubcart"
	grpcShutdownTimeout = 5 * time.Second
)

// Run поднимает хранилища, витрину, gRPC и HTTP серверы и фоновые воркеры
// и блокируется до отмены ctx или падения gRPC сервера.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")
	if err := cfg.Validate(); err != nil {
		return err
	}

	deps, err := initRuntimeDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeRuntimeDependencies(deps, logger)

	var rdb redis.UniversalClient
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer func() {
			if err := rdb.Close(); err != nil {
				logger.WithError(err).Warn("failed to close redis client")
			}
		}()
	}
	deps.locker, err = selectLocker(cfg, deps, rdb, logger)
	if err != nil {
		return err
	}

	tracer, err := tracing.Setup(ctx, tracing.Config{
		ServiceName: serviceName,
		Environment: cfg.Environment,
		Exporter:    cfg.TracingExporter,
	}, logger.WithField("component", "tracing"))
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), grpcShutdownTimeout)
		defer cancel()
		if err := tracer.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("tracing shutdown with error")
		}
	}()

	checkoutMetrics := metrics.NewCheckoutMetrics()
	front := buildStorefront(cfg, deps, checkoutMetrics, tracer, logger)
	idem := idempotency.NewExecutor(deps.idempotencyRepo, cfg.IdempotencyTTL, logger.WithField("component", "idempotency"))

	kafkaProducer := initKafkaProducer(cfg, logger)
	defer closeKafkaProducer(kafkaProducer, logger)

	outboxCancel, outboxDone := startOutboxWorker(ctx, cfg, deps, kafkaProducer, logger)
	defer shutdownWorker(outboxCancel, outboxDone, logger)

	voucherConsumer := startVoucherConsumer(ctx, cfg, front, kafkaProducer, logger)
	defer stopVoucherConsumer(voucherConsumer, logger)

	cleanupCancel, cleanupDone := startIdempotencyCleanup(ctx, cfg, deps, logger)
	defer shutdownWorker(cleanupCancel, cleanupDone, logger)

	healthHandler := health.NewHandler(version.Current().Version)
	healthHandler.RegisterChecker("storage", deps.storageChecker)
	healthHandler.RegisterChecker("outbox", newOutboxBacklogChecker(deps.outboxRepo, cfg.OutboxMaxPending))
	if rdb != nil {
		healthHandler.RegisterChecker("redis", health.NewChecker("redis", func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}))
	}
	metricsSrv := startMetricsServer(ctx, cfg.MetricsAddr, logger, healthHandler)

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	var limiter rest.Limiter
	if cfg.RateLimit > 0 {
		limiter = rest.NewRedisLimiter(rdb, cfg.RateLimit, cfg.RateWindow)
	}
	router := rest.NewRouter(rest.NewHandler(front, idem, logger.WithField("layer", "http")), rest.RouterConfig{
		ServiceName:    serviceName,
		TracerProvider: tracer.TracerProvider(),
		Limiter:        limiter,
	})
	apiSrv := startAPIServer(cfg.HTTPAddr, router, logger)

	grpcServer, healthServer := newGRPCServer(front, idem, logger)

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		shutdownHTTP(apiSrv, logger)
		shutdownHTTP(metricsSrv, logger)
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("gRPC сервер слушает %s", lis.Addr())
		errCh <- grpcServer.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		logger.Info("получен сигнал остановки, останавливаем серверы")
		healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
		stopGRPC(grpcServer, logger)
		shutdownHTTP(apiSrv, logger)
		shutdownHTTP(metricsSrv, logger)
		return ctx.Err()
	case err := <-errCh:
		shutdownHTTP(apiSrv, logger)
		shutdownHTTP(metricsSrv, logger)
		if errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return err
	}
}

// buildStorefront связывает доменные сервисы с выбранными хранилищами.
func buildStorefront(cfg Config, deps *runtimeDependencies, m *metrics.CheckoutMetrics, tracer *tracing.Provider, logger *log.Entry) *storefront.Service {
	g := guard.New(deps.repo, deps.locker, logger.WithField("component", "guard"),
		guard.WithMetrics(m),
		guard.WithLockTimeout(cfg.LockTimeout),
	)
	b := binder.New(deps.catalog, logger.WithField("component", "binder"))
	ledger := stock.NewLedger(deps.stock, logger.WithField("component", "stock"))
	recorder := audit.NewRecorder(deps.outboxRepo, deps.timelineRepo, m, logger.WithField("component", "audit"))
	pipeline := adjustments.New(deps.catalog, logger.WithField("component", "adjustments"),
		adjustments.WithAnomalyReporter(recorder),
		adjustments.WithTracer(tracer.Tracer("hubcart/adjustments")),
		adjustments.WithMetrics(m),
	)

	breaker := payment.NewCircuitBreaker(cfg.BreakerMaxFailures, cfg.BreakerResetTimeout, logger.WithField("component", "payment"))
	gateway := payment.NewBreakerGateway(
		payment.NewTimeoutGateway(payment.NewMockGateway(), cfg.PaymentTimeout, m, logger.WithField("component", "payment")),
		breaker,
	)

	machine := checkout.New(checkout.Deps{
		Catalog:  deps.catalog,
		Orders:   deps.repo,
		Guard:    g,
		Binder:   b,
		Ledger:   ledger,
		Pipeline: pipeline,
		Gateway:  gateway,
		Recorder: recorder,
		Metrics:  m,
		Tracer:   tracer.Tracer("hubcart/checkout"),
		Logger:   logger.WithField("component", "checkout"),
	})
	return storefront.New(storefront.Deps{
		Catalog:  deps.catalog,
		Orders:   deps.repo,
		Guard:    g,
		Binder:   b,
		Ledger:   ledger,
		Pipeline: pipeline,
		Vouchers: voucher.New(deps.catalog, pipeline, logger.WithField("component", "voucher")),
		Machine:  machine,
		Recorder: recorder,
		Metrics:  m,
		Logger:   logger.WithField("component", "storefront"),
	})
}

func newGRPCServer(front *storefront.Service, idem *idempotency.Executor, logger *log.Entry) (*grpc.Server, *grpchealth.Server) {
	grpcMetrics := promgrpc.NewServerMetrics()
	if err := prometheus.Register(grpcMetrics); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok2 := are.ExistingCollector.(*promgrpc.ServerMetrics); ok2 {
				grpcMetrics = existing
			}
		} else {
			logger.WithError(err).Warn("failed to register grpc metrics")
		}
	}
	server := grpc.NewServer(grpc.ChainUnaryInterceptor(grpcMetrics.UnaryServerInterceptor()))

	grpcsvc.RegisterCheckoutServer(server, grpcsvc.NewCheckoutService(front, idem, logger.WithField("layer", "grpc")))
	grpcMetrics.InitializeMetrics(server)

	healthServer := grpchealth.NewServer()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(grpcsvc.ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(server, healthServer)

	// reflection нужен grpcurl
	reflection.Register(server)
	return server, healthServer
}

func stopGRPC(server *grpc.Server, logger *log.Entry) {
	stopped := make(chan struct{})
	go func() {
		server.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(grpcShutdownTimeout):
		logger.Warn("graceful stop превысил таймаут, принудительно останавливаем")
		server.Stop()
	}
}

func closeRuntimeDependencies(deps *runtimeDependencies, logger *log.Entry) {
	if deps == nil || deps.closeFn == nil {
		return
	}
	if err := deps.closeFn(); err != nil {
		logger.WithError(err).Warn("failed to close storage")
	}
}
