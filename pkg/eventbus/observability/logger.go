// Package observability provides structured logging, metrics, and tracing
// helpers for the dispatch pipeline.
//
// All helpers are nil-safe: a nil logger or recorder degrades to the
// process default (or a no-op) so callers never guard their telemetry
// calls.
package observability

import (
	"log/slog"
	"time"
)

// orDefault returns the process default logger when l is nil.
func orDefault(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}

// LogDispatchStart records the start of one dispatch.
func LogDispatchStart(l *slog.Logger, eventID, eventType, mode string) {
	orDefault(l).Debug("dispatch start",
		slog.String("event_id", eventID),
		slog.String("event_type", eventType),
		slog.String("routing_mode", mode),
	)
}

// LogDispatchComplete records the terminal status of one dispatch.
func LogDispatchComplete(l *slog.Logger, eventID, eventType, status string, elapsed time.Duration) {
	orDefault(l).Info("dispatch complete",
		slog.String("event_id", eventID),
		slog.String("event_type", eventType),
		slog.String("status", status),
		slog.Duration("elapsed", elapsed),
	)
}

// LogRetry records one failed attempt and the delay before the next.
func LogRetry(l *slog.Logger, eventID, handler string, attempt int, delay time.Duration, err error) {
	orDefault(l).Warn("handler attempt failed, retrying",
		slog.String("event_id", eventID),
		slog.String("handler", handler),
		slog.Int("attempt", attempt),
		slog.Duration("retry_in", delay),
		slog.String("error", err.Error()),
	)
}

// LogDLQEnqueue records a quarantine.
func LogDLQEnqueue(l *slog.Logger, eventID, eventType, reason string, attempts int) {
	orDefault(l).Error("event quarantined to dead-letter queue",
		slog.String("event_id", eventID),
		slog.String("event_type", eventType),
		slog.String("failure_reason", reason),
		slog.Int("attempts", attempts),
	)
}

// LogReplay records a replay attempt outcome.
func LogReplay(l *slog.Logger, dlqID, eventID, operator string, success bool) {
	orDefault(l).Info("dead-letter replay",
		slog.String("dlq_id", dlqID),
		slog.String("event_id", eventID),
		slog.String("operator", operator),
		slog.Bool("success", success),
	)
}

// TimedOperation logs the duration of a named operation when the returned
// func runs. Usage: defer TimedOperation(logger, "replay_batch")()
func TimedOperation(l *slog.Logger, name string) func() {
	start := time.Now()
	return func() {
		orDefault(l).Debug("operation complete",
			slog.String("operation", name),
			slog.Duration("elapsed", time.Since(start)),
		)
	}
}
