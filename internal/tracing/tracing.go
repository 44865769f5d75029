// Package tracing настраивает OpenTelemetry для процесса.
package tracing

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/vladislavdragonenkov/hubcart/internal/version"
)

// Экспортёры спанов.
const (
	ExporterNone   = "none"
	ExporterStdout = "stdout"
)

// Config описывает трассировку процесса.
type Config struct {
	ServiceName string
	Environment string
	// Exporter — none или stdout.
	Exporter string
	// Writer — куда stdout-экспортёр пишет спаны; по умолчанию os.Stdout.
	Writer io.Writer
	// SampleRatio — доля сэмплируемых корневых спанов, 0 — все.
	SampleRatio float64
}

// Provider — настроенный провайдер и функция его остановки.
type Provider struct {
	tp       trace.TracerProvider
	shutdown func(context.Context) error
}

// Setup создаёт провайдер и делает его глобальным вместе с пропагаторами
// W3C TraceContext и Baggage. Exporter=none даёт no-op провайдер.
func Setup(ctx context.Context, cfg Config, logger *log.Entry) (*Provider, error) {
	if logger == nil {
		logger = log.New().WithField("component", "tracing")
	}
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	exporter := strings.ToLower(strings.TrimSpace(cfg.Exporter))
	switch exporter {
	case "", ExporterNone:
		p := &Provider{tp: noop.NewTracerProvider(), shutdown: func(context.Context) error { return nil }}
		otel.SetTracerProvider(p.tp)
		return p, nil
	case ExporterStdout:
	default:
		return nil, fmt.Errorf("unsupported tracing exporter %q", cfg.Exporter)
	}

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "hubcart"
	}
	environment := cfg.Environment
	if environment == "" {
		environment = "local"
	}

	res, err := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithTelemetrySDK(),
		resource.WithAttributes(
			attribute.String("service.name", serviceName),
			attribute.String("service.version", version.Current().Version),
			attribute.String("deployment.environment", environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("tracing resource: %w", err)
	}

	w := cfg.Writer
	if w == nil {
		w = os.Stdout
	}
	spanExporter, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		return nil, fmt.Errorf("stdout span exporter: %w", err)
	}

	sampler := sdktrace.AlwaysSample()
	if cfg.SampleRatio > 0 && cfg.SampleRatio < 1 {
		sampler = sdktrace.TraceIDRatioBased(cfg.SampleRatio)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(spanExporter),
		sdktrace.WithSampler(sdktrace.ParentBased(sampler)),
	)
	otel.SetTracerProvider(tp)

	logger.WithFields(log.Fields{
		"exporter":     exporter,
		"service_name": serviceName,
	}).Info("tracing enabled")

	return &Provider{tp: tp, shutdown: tp.Shutdown}, nil
}

// Tracer возвращает именованный tracer провайдера.
func (p *Provider) Tracer(name string) trace.Tracer {
	if p == nil || p.tp == nil {
		return otel.Tracer(name)
	}
	return p.tp.Tracer(name)
}

// TracerProvider возвращает провайдер для middleware.
func (p *Provider) TracerProvider() trace.TracerProvider {
	if p == nil || p.tp == nil {
		return otel.GetTracerProvider()
	}
	return p.tp
}

// Shutdown сбрасывает накопленные спаны и останавливает экспортёр.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil || p.shutdown == nil {
		return nil
	}
	return p.shutdown(ctx)
}
