package observability

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sandeepkv93/license-activation-service/internal/config"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

const meterName = "license-activation-service"

type AppMetrics struct {
	repositoryOps     metric.Int64Counter
	activationEvents  metric.Int64Counter
	activationLatency metric.Float64Histogram
	rateLimitDecision metric.Int64Counter
	negativeCache     metric.Int64Counter
	tokenValidation   metric.Int64Counter
}

var (
	metricsOnce sync.Once
	appMetrics  *AppMetrics
)

// InitMetrics installs the global meter provider. Instruments are bound lazily
// through the global delegate, so recording before init is a no-op.
func InitMetrics(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*sdkmetric.MeterProvider, error) {
	if !cfg.OTELMetricsEnabled {
		mp := sdkmetric.NewMeterProvider()
		otel.SetMeterProvider(mp)
		logger.Info("otel metrics disabled")
		return mp, nil
	}

	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.OTELExporterOTLPEndpoint)}
	if cfg.OTELExporterOTLPInsecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create otlp metric exporter: %w", err)
	}

	res, err := newResource(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create metric resource: %w", err)
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(cfg.OTELMetricsExportInterval))
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
	)
	otel.SetMeterProvider(mp)

	logger.Info("otel metrics initialized", "endpoint", cfg.OTELExporterOTLPEndpoint)
	return mp, nil
}

func newResource(ctx context.Context, cfg *config.Config) (*resource.Resource, error) {
	return resource.New(ctx,
		resource.WithAttributes(
			attribute.String("service.name", cfg.OTELServiceName),
			attribute.String("deployment.environment", cfg.OTELEnvironment),
		),
	)
}

func metrics() *AppMetrics {
	metricsOnce.Do(func() {
		meter := otel.Meter(meterName)
		m := &AppMetrics{}
		m.repositoryOps, _ = meter.Int64Counter("repository.operations")
		m.activationEvents, _ = meter.Int64Counter("activation.events")
		m.activationLatency, _ = meter.Float64Histogram("activation.duration", metric.WithUnit("ms"))
		m.rateLimitDecision, _ = meter.Int64Counter("http.rate_limit.decisions")
		m.negativeCache, _ = meter.Int64Counter("activation.negative_cache.events")
		m.tokenValidation, _ = meter.Int64Counter("auth.access_token.validations")
		appMetrics = m
	})
	return appMetrics
}

func RecordRepositoryOperation(ctx context.Context, repo, op, outcome string) {
	m := metrics()
	if m.repositoryOps == nil {
		return
	}
	m.repositoryOps.Add(ctx, 1, metric.WithAttributes(
		attribute.String("repository", repo),
		attribute.String("operation", op),
		attribute.String("outcome", outcome),
	))
}

func RecordActivationEvent(ctx context.Context, operation, outcome string, elapsed time.Duration) {
	m := metrics()
	attrs := metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("outcome", outcome),
	)
	if m.activationEvents != nil {
		m.activationEvents.Add(ctx, 1, attrs)
	}
	if m.activationLatency != nil {
		m.activationLatency.Record(ctx, float64(elapsed.Microseconds())/1000, attrs)
	}
}

func RecordRateLimitDecision(ctx context.Context, scope, decision, mode string) {
	m := metrics()
	if m.rateLimitDecision == nil {
		return
	}
	m.rateLimitDecision.Add(ctx, 1, metric.WithAttributes(
		attribute.String("scope", scope),
		attribute.String("decision", decision),
		attribute.String("mode", mode),
	))
}

func RecordNegativeCacheEvent(ctx context.Context, event string) {
	m := metrics()
	if m.negativeCache == nil {
		return
	}
	m.negativeCache.Add(ctx, 1, metric.WithAttributes(attribute.String("event", event)))
}

func RecordAccessTokenValidation(ctx context.Context, outcome, source string) {
	m := metrics()
	if m.tokenValidation == nil {
		return
	}
	m.tokenValidation.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", outcome),
		attribute.String("source", source),
	))
}
