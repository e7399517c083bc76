package router

import (
	"time"

	"github.com/rickfelix/EHG-Engineer-sub004/pkg/eventbus/routing"
)

// Status is the terminal outcome of one dispatch.
type Status string

// Dispatch statuses.
const (
	// StatusSuccess means every registered handler succeeded.
	StatusSuccess Status = "success"

	// StatusPartialFailure means at least one handler succeeded and at
	// least one exhausted its attempts.
	StatusPartialFailure Status = "partial_failure"

	// StatusFailed means every handler exhausted its attempts.
	StatusFailed Status = "failed"

	// StatusNoHandler means no handler is registered for the event type.
	StatusNoHandler Status = "no_handler"

	// StatusDuplicate means the delivery ledger already holds a success
	// entry for this event ID; handlers were not invoked.
	StatusDuplicate Status = "duplicate_event"

	// StatusValidationError means the payload failed schema validation;
	// handlers were not invoked and the event was quarantined.
	StatusValidationError Status = "validation_error"

	// StatusScheduled means the event was handed to the round scheduler.
	StatusScheduled Status = "scheduled"

	// StatusQueued means the event was handed to the urgent queue.
	StatusQueued Status = "queued"
)

// HandlerResult is the per-handler outcome within one dispatch.
type HandlerResult struct {
	Handler  string
	Success  bool
	Attempts int

	// Error is the last attempt's failure; FirstError is the first
	// attempt's, kept separately so the root cause survives retries.
	Error      error
	FirstError error
}

// Result is the outcome of one Dispatch call.
type Result struct {
	EventID   string
	EventType string
	Status    Status
	Mode      routing.Mode
	Modality  routing.Modality

	// Handlers holds per-handler outcomes for direct-pipeline dispatches.
	// Empty for scheduled/queued lanes and short-circuit statuses.
	Handlers []HandlerResult

	// ValidationErrors holds the schema failures for validation_error.
	ValidationErrors []string

	Elapsed time.Duration
}

// Succeeded reports whether the dispatch reached a non-failure terminal
// state (success, scheduled, queued, or duplicate).
func (r *Result) Succeeded() bool {
	switch r.Status {
	case StatusSuccess, StatusScheduled, StatusQueued, StatusDuplicate:
		return true
	}
	return false
}
