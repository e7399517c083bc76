package observability

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsRecorder receives pipeline counters and latencies. Implementations
// must be safe for concurrent use.
type MetricsRecorder interface {
	// RecordDispatch records one completed dispatch with its terminal status.
	RecordDispatch(ctx context.Context, eventType, status string, elapsed time.Duration)

	// RecordRetry records one retry attempt.
	RecordRetry(ctx context.Context, eventType, handler string)

	// RecordDLQ records one quarantine.
	RecordDLQ(ctx context.Context, eventType, reason string)

	// RecordReplay records one replay attempt.
	RecordReplay(ctx context.Context, eventType string, success bool)
}

// otelRecorder implements MetricsRecorder on the OpenTelemetry metric API.
type otelRecorder struct {
	dispatches metric.Int64Counter
	latency    metric.Float64Histogram
	retries    metric.Int64Counter
	dlq        metric.Int64Counter
	replays    metric.Int64Counter
}

var (
	defaultRecorderOnce sync.Once
	defaultRecorder     MetricsRecorder
)

// NewMetricsRecorder builds a recorder on the global meter provider.
// Instrument creation failures degrade to a no-op recorder.
func NewMetricsRecorder() MetricsRecorder {
	meter := otel.Meter("eventbus")

	dispatches, err1 := meter.Int64Counter("eventbus.dispatches",
		metric.WithDescription("Completed dispatches by event type and status"))
	latency, err2 := meter.Float64Histogram("eventbus.dispatch.duration",
		metric.WithDescription("Dispatch duration"),
		metric.WithUnit("ms"))
	retries, err3 := meter.Int64Counter("eventbus.retries",
		metric.WithDescription("Handler retry attempts"))
	dlq, err4 := meter.Int64Counter("eventbus.dlq.enqueued",
		metric.WithDescription("Events quarantined to the dead-letter queue"))
	replays, err5 := meter.Int64Counter("eventbus.replays",
		metric.WithDescription("Dead-letter replay attempts"))

	for _, err := range []error{err1, err2, err3, err4, err5} {
		if err != nil {
			return NoopMetrics{}
		}
	}
	return &otelRecorder{
		dispatches: dispatches,
		latency:    latency,
		retries:    retries,
		dlq:        dlq,
		replays:    replays,
	}
}

// DefaultMetrics returns the lazily constructed process-wide recorder.
func DefaultMetrics() MetricsRecorder {
	defaultRecorderOnce.Do(func() {
		defaultRecorder = NewMetricsRecorder()
	})
	return defaultRecorder
}

func (r *otelRecorder) RecordDispatch(ctx context.Context, eventType, status string, elapsed time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("event_type", eventType),
		attribute.String("status", status),
	)
	r.dispatches.Add(ctx, 1, attrs)
	r.latency.Record(ctx, float64(elapsed.Milliseconds()), attrs)
}

func (r *otelRecorder) RecordRetry(ctx context.Context, eventType, handler string) {
	r.retries.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event_type", eventType),
		attribute.String("handler", handler),
	))
}

func (r *otelRecorder) RecordDLQ(ctx context.Context, eventType, reason string) {
	r.dlq.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event_type", eventType),
		attribute.String("failure_reason", reason),
	))
}

func (r *otelRecorder) RecordReplay(ctx context.Context, eventType string, success bool) {
	r.replays.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event_type", eventType),
		attribute.Bool("success", success),
	))
}
