package observability

import (
	"context"
	"time"
)

// NoopMetrics discards all recordings. Used in tests and when instrument
// creation fails.
type NoopMetrics struct{}

var _ MetricsRecorder = NoopMetrics{}

func (NoopMetrics) RecordDispatch(context.Context, string, string, time.Duration) {}
func (NoopMetrics) RecordRetry(context.Context, string, string)                   {}
func (NoopMetrics) RecordDLQ(context.Context, string, string)                     {}
func (NoopMetrics) RecordReplay(context.Context, string, bool)                    {}
