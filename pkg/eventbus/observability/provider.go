package observability

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Setup installs SDK meter and tracer providers as the process globals
// and returns a shutdown func that flushes both. Exporters are attached
// by the embedding process through the usual OTel environment wiring;
// without any, instruments and spans stay functional but unexported.
func Setup(opts ...ProviderOption) func(context.Context) error {
	cfg := providerConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	tracerProvider := sdktrace.NewTracerProvider(cfg.traceOpts...)
	meterProvider := sdkmetric.NewMeterProvider(cfg.metricOpts...)
	otel.SetTracerProvider(tracerProvider)
	otel.SetMeterProvider(meterProvider)

	return func(ctx context.Context) error {
		return errors.Join(
			tracerProvider.Shutdown(ctx),
			meterProvider.Shutdown(ctx),
		)
	}
}

type providerConfig struct {
	traceOpts  []sdktrace.TracerProviderOption
	metricOpts []sdkmetric.Option
}

// ProviderOption customizes the SDK providers installed by Setup.
type ProviderOption func(*providerConfig)

// WithTraceOptions forwards options to the tracer provider, typically to
// attach a span exporter.
func WithTraceOptions(opts ...sdktrace.TracerProviderOption) ProviderOption {
	return func(cfg *providerConfig) {
		cfg.traceOpts = append(cfg.traceOpts, opts...)
	}
}

// WithMetricOptions forwards options to the meter provider, typically to
// attach a metric reader.
func WithMetricOptions(opts ...sdkmetric.Option) ProviderOption {
	return func(cfg *providerConfig) {
		cfg.metricOpts = append(cfg.metricOpts, opts...)
	}
}
