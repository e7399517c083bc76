package router

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	buserrors "github.com/rickfelix/EHG-Engineer-sub004/pkg/eventbus/errors"
	"github.com/rickfelix/EHG-Engineer-sub004/pkg/eventbus/event"
	"github.com/rickfelix/EHG-Engineer-sub004/pkg/eventbus/observability"
	"github.com/rickfelix/EHG-Engineer-sub004/pkg/eventbus/schema"
	"github.com/rickfelix/EHG-Engineer-sub004/pkg/eventbus/store"
)

// Failure reasons recorded on dead-letter entries.
const (
	ReasonValidationError     = "validation_error"
	ReasonMaxRetriesExhausted = "max_retries_exhausted"
	ReasonNonRetryableError   = "non_retryable_error"
)

// dlqEntryID keys a dead-letter entry by its (event, handler) pair.
func dlqEntryID(eventID, handlerName string) string {
	return eventID + ":" + handlerName
}

// deliver runs the direct delivery pipeline: persist, dedupe, validate,
// execute every handler with bounded retry, record delivery proof, and
// quarantine exhausted failures.
func (r *Router) deliver(ctx context.Context, evt event.Event, options DispatchOptions) *Result {
	result := &Result{EventID: evt.ID, EventType: evt.Type}

	if options.Persist {
		if err := r.putEvent(ctx, evt); err != nil {
			r.logger.Error("event persistence failed",
				slog.String("event_id", evt.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	entries := r.handlers.Handlers(evt.Type)
	if len(entries) == 0 {
		result.Status = StatusNoHandler
		r.logger.Warn("no handler registered",
			slog.String("event_id", evt.ID),
			slog.String("event_type", evt.Type),
		)
		return result
	}

	// Idempotency: a prior success entry means this event already ran to
	// completion. Handlers are not invoked again.
	if options.Persist {
		dup, err := r.store.HasSuccess(ctx, evt.ID)
		if err != nil {
			r.logger.Warn("duplicate check failed, proceeding",
				slog.String("event_id", evt.ID),
				slog.String("error", err.Error()),
			)
		} else if dup {
			result.Status = StatusDuplicate
			return result
		}
	}

	if errs := r.validate(evt); len(errs) > 0 {
		result.Status = StatusValidationError
		result.ValidationErrors = errs
		if options.Persist {
			r.quarantineValidation(ctx, evt, errs)
		}
		return result
	}

	hctx := r.handlerContext(evt)
	succeeded, failed := 0, 0
	var lastErr error
	for _, entry := range entries {
		hr := r.runHandler(ctx, evt, entry, hctx, options)
		result.Handlers = append(result.Handlers, hr)
		if hr.Success {
			succeeded++
		} else {
			failed++
			lastErr = hr.Error
		}
		if options.Persist {
			r.recordDelivery(ctx, evt, entry.Name, hr)
		}
	}

	switch {
	case failed == 0:
		result.Status = StatusSuccess
	case succeeded == 0:
		result.Status = StatusFailed
	default:
		result.Status = StatusPartialFailure
	}

	if options.Persist {
		lastErrMsg := ""
		if lastErr != nil {
			lastErrMsg = lastErr.Error()
		}
		retries := 0
		for _, hr := range result.Handlers {
			if hr.Attempts > retries {
				retries = hr.Attempts
			}
		}
		if err := r.store.MarkProcessed(ctx, evt.ID, failed == 0, retries, lastErrMsg); err != nil {
			r.logger.Warn("failed to update event processing state",
				slog.String("event_id", evt.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	return result
}

// handlerContext builds the per-event context handed to handlers. The
// venture identifier comes from the payload, falling back to the event's
// correlation ID.
func (r *Router) handlerContext(evt event.Event) *event.Context {
	ventureID, _ := evt.Payload["ventureId"].(string)
	if ventureID == "" {
		ventureID = evt.CorrelationID
	}
	return &event.Context{
		Store:         r.store,
		Breaker:       r.breaker,
		EventID:       evt.ID,
		VentureID:     ventureID,
		CorrelationID: evt.CorrelationID,
	}
}

// runHandler executes one handler with bounded retry and exponential
// backoff. Fire-and-forget dispatches and non-retryable handlers get a
// single attempt; otherwise attempts continue up to the effective ceiling
// unless the error is categorized permanent.
func (r *Router) runHandler(ctx context.Context, evt event.Event, entry event.HandlerEntry, hctx *event.Context, options DispatchOptions) HandlerResult {
	maxAttempts := options.MaxRetries
	if entry.MaxRetries < maxAttempts {
		maxAttempts = entry.MaxRetries
	}
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if !entry.Retryable || !options.Persist {
		maxAttempts = 1
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = options.BaseDelay
	bo.Multiplier = options.Multiplier
	bo.RandomizationFactor = 0
	bo.Reset()

	var firstErr, lastErr error
	fail := func(attempt int, err error) HandlerResult {
		return HandlerResult{Handler: entry.Name, Success: false, Attempts: attempt, Error: err, FirstError: firstErr}
	}
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := entry.Fn(ctx, evt.Payload, hctx)
		if err == nil {
			return HandlerResult{Handler: entry.Name, Success: true, Attempts: attempt}
		}
		if firstErr == nil {
			firstErr = err
		}
		lastErr = err

		if !buserrors.IsRetryable(err) || attempt == maxAttempts {
			return fail(attempt, lastErr)
		}

		delay := bo.NextBackOff()
		if delay == backoff.Stop {
			return fail(attempt, lastErr)
		}
		observability.LogRetry(r.logger, evt.ID, entry.Name, attempt, delay, err)
		r.metrics.RecordRetry(ctx, evt.Type, entry.Name)

		select {
		case <-ctx.Done():
			return fail(attempt, ctx.Err())
		case <-time.After(delay):
		}
	}
	return fail(maxAttempts, lastErr)
}

// recordDelivery appends the ledger proof for one handler outcome and
// quarantines exhausted failures.
func (r *Router) recordDelivery(ctx context.Context, evt event.Event, handlerName string, hr HandlerResult) {
	now := time.Now()
	entry := store.LedgerEntry{
		EventID:       evt.ID,
		EventType:     evt.Type,
		HandlerName:   handlerName,
		Attempts:      hr.Attempts,
		LastAttemptAt: now,
	}
	if hr.Success {
		entry.Status = store.LedgerSuccess
		entry.CompletedAt = now
		entry.DeliveryConfirmedAt = now
		entry.HandlerAck = true
	} else {
		entry.Status = store.LedgerDead
		if hr.Error != nil {
			entry.ErrorMessage = hr.Error.Error()
		}
	}
	if err := r.store.AppendLedger(ctx, entry); err != nil {
		r.logger.Error("ledger append failed",
			slog.String("event_id", evt.ID),
			slog.String("handler", handlerName),
			slog.String("error", err.Error()),
		)
	}

	if !hr.Success {
		reason := ReasonMaxRetriesExhausted
		if hr.Error != nil && !buserrors.IsRetryable(hr.Error) {
			reason = ReasonNonRetryableError
		}
		r.quarantine(ctx, evt, hr, reason)
	}
}

// quarantine upserts the dead-letter entry for an exhausted handler
// failure. The entry is keyed by the (event, handler) pair so repeated
// failure cycles update one row instead of accumulating duplicates.
func (r *Router) quarantine(ctx context.Context, evt event.Event, hr HandlerResult, reason string) {
	now := time.Now()
	errMsg := ""
	if hr.Error != nil {
		errMsg = hr.Error.Error()
	}
	firstMsg := errMsg
	if hr.FirstError != nil {
		firstMsg = hr.FirstError.Error()
	}
	entry := store.DLQEntry{
		ID:            dlqEntryID(evt.ID, hr.Handler),
		EventID:       evt.ID,
		EventType:     evt.Type,
		HandlerName:   hr.Handler,
		Payload:       evt.Payload,
		ErrorMessage:  errMsg,
		FirstError:    firstMsg,
		AttemptCount:  hr.Attempts,
		FailureReason: reason,
		Status:        store.DLQDead,
		FirstSeenAt:   now,
		LastAttemptAt: now,
	}
	if err := r.store.InsertDLQ(ctx, entry); err != nil {
		r.logger.Error("dead-letter insert failed",
			slog.String("event_id", evt.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	observability.LogDLQEnqueue(r.logger, evt.ID, evt.Type, reason, hr.Attempts)
	r.metrics.RecordDLQ(ctx, evt.Type, reason)
}

// quarantineValidation records a validation failure as one dead ledger row
// plus one dead-letter entry.
func (r *Router) quarantineValidation(ctx context.Context, evt event.Event, errs []string) {
	now := time.Now()
	msg := strings.Join(errs, "; ")

	ledger := store.LedgerEntry{
		EventID:       evt.ID,
		EventType:     evt.Type,
		HandlerName:   "validation",
		Status:        store.LedgerDead,
		Attempts:      1,
		ErrorMessage:  msg,
		LastAttemptAt: now,
	}
	if err := r.store.AppendLedger(ctx, ledger); err != nil {
		r.logger.Error("ledger append failed",
			slog.String("event_id", evt.ID),
			slog.String("error", err.Error()),
		)
	}

	entry := store.DLQEntry{
		ID:            dlqEntryID(evt.ID, "validation"),
		EventID:       evt.ID,
		EventType:     evt.Type,
		HandlerName:   "validation",
		Payload:       evt.Payload,
		ErrorMessage:  msg,
		FirstError:    msg,
		AttemptCount:  1,
		FailureReason: ReasonValidationError,
		Status:        store.DLQDead,
		FirstSeenAt:   now,
		LastAttemptAt: now,
	}
	if err := r.store.InsertDLQ(ctx, entry); err != nil {
		r.logger.Error("dead-letter insert failed",
			slog.String("event_id", evt.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	observability.LogDLQEnqueue(r.logger, evt.ID, evt.Type, ReasonValidationError, 1)
	r.metrics.RecordDLQ(ctx, evt.Type, ReasonValidationError)
}

// validate checks the payload: the schema registry is authoritative for
// event types with a registered schema; everything else runs through the
// hardcoded per-type rules. Unknown types validate open.
func (r *Router) validate(evt event.Event) []string {
	if r.schemas.Has(evt.Type) {
		res := r.schemas.Validate(evt.Type, evt.Payload, schema.ValidateOptions{})
		if !res.Valid {
			return res.Errors
		}
		return nil
	}
	return validateBuiltin(evt.Type, evt.Payload)
}

// gateOutcomes is the closed set of gate evaluation results.
var gateOutcomes = map[string]bool{
	"proceed": true,
	"block":   true,
	"kill":    true,
}

// validateBuiltin enforces the venture lifecycle payload contracts for
// event types without a registered schema.
func validateBuiltin(eventType string, payload map[string]any) []string {
	var errs []string
	requireString := func(field string) string {
		value, ok := payload[field].(string)
		if !ok || value == "" {
			errs = append(errs, fmt.Sprintf("missing required field %q", field))
			return ""
		}
		return value
	}

	switch eventType {
	case "stage.completed":
		requireString("ventureId")
		requireString("stageId")
	case "decision.submitted":
		requireString("ventureId")
		requireString("decisionId")
	case "gate.evaluated":
		requireString("ventureId")
		requireString("gateId")
		if outcome := requireString("outcome"); outcome != "" && !gateOutcomes[outcome] {
			errs = append(errs, fmt.Sprintf("field %q must be one of proceed|block|kill, got %q", "outcome", outcome))
		}
	case "sd.completed":
		requireString("sdKey")
		requireString("ventureId")
	}
	return errs
}
