// Package observability provides OpenTelemetry metrics for the gateway:
// request rate, errors by code, and dispatch duration (RED pattern).
// Telemetry is disabled unless an OTLP endpoint is configured.
package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Config configures the metrics provider.
type Config struct {
	ServiceName    string
	ServiceVersion string
	// OTLPEndpoint is the gRPC collector address; empty disables export.
	OTLPEndpoint string
	// Insecure skips TLS on the exporter connection (dev only).
	Insecure bool
}

// Provider owns the meter provider and the gateway's instruments.
type Provider struct {
	meterProvider *sdkmetric.MeterProvider

	requestCounter  metric.Int64Counter
	errorCounter    metric.Int64Counter
	durationHist    metric.Float64Histogram
	retryCounter    metric.Int64Counter
	breakerOpenings metric.Int64Counter
}

// NewProvider builds the provider. With no endpoint configured the
// instruments are created against the global (noop) meter provider, so
// call sites never need nil checks.
func NewProvider(ctx context.Context, cfg Config) (*Provider, error) {
	p := &Provider{}

	meter := otel.Meter("brickfoundry/gateway")
	if cfg.OTLPEndpoint != "" {
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint)}
		if cfg.Insecure {
			opts = append(opts, otlpmetricgrpc.WithInsecure())
		}
		exporter, err := otlpmetricgrpc.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("observability: creating OTLP exporter: %w", err)
		}

		res := resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		)
		p.meterProvider = sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(res),
			sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)),
		)
		meter = p.meterProvider.Meter("brickfoundry/gateway")
	}

	var err error
	if p.requestCounter, err = meter.Int64Counter("gateway.requests",
		metric.WithDescription("Dispatched requests by brick and outcome")); err != nil {
		return nil, err
	}
	if p.errorCounter, err = meter.Int64Counter("gateway.errors",
		metric.WithDescription("Failed requests by error code")); err != nil {
		return nil, err
	}
	if p.durationHist, err = meter.Float64Histogram("gateway.request.duration",
		metric.WithDescription("Request duration in seconds"),
		metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if p.retryCounter, err = meter.Int64Counter("gateway.retries",
		metric.WithDescription("Dependency call retries")); err != nil {
		return nil, err
	}
	if p.breakerOpenings, err = meter.Int64Counter("gateway.breaker.openings",
		metric.WithDescription("Circuit breaker open transitions")); err != nil {
		return nil, err
	}
	return p, nil
}

// RecordRequest counts one completed request and its duration.
func (p *Provider) RecordRequest(ctx context.Context, brickName string, ok bool, d time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("brick", brickName),
		attribute.Bool("ok", ok),
	)
	p.requestCounter.Add(ctx, 1, attrs)
	p.durationHist.Record(ctx, d.Seconds(), attrs)
}

// RecordError counts one failure by code.
func (p *Provider) RecordError(ctx context.Context, code string) {
	p.errorCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("code", code)))
}

// RecordRetry counts one dependency retry.
func (p *Provider) RecordRetry(ctx context.Context, dep string) {
	p.retryCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("dependency", dep)))
}

// RecordBreakerOpen counts one circuit open transition.
func (p *Provider) RecordBreakerOpen(ctx context.Context, dep string) {
	p.breakerOpenings.Add(ctx, 1, metric.WithAttributes(attribute.String("dependency", dep)))
}

// Shutdown flushes pending metrics.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.meterProvider == nil {
		return nil
	}
	return p.meterProvider.Shutdown(ctx)
}
