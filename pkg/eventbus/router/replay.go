package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/rickfelix/EHG-Engineer-sub004/pkg/eventbus/event"
	"github.com/rickfelix/EHG-Engineer-sub004/pkg/eventbus/observability"
	"github.com/rickfelix/EHG-Engineer-sub004/pkg/eventbus/store"
)

// ReplayDLQ re-runs a quarantined event through the direct pipeline.
//
// The entry's prior success ledger rows (from other handlers of the same
// event) are downgraded to replayed first so the idempotency check does
// not short-circuit the re-run. The dead-letter entry transitions to
// replayed only when the re-run fully succeeds; the transition is
// monotonic and a second replay of the same entry is rejected.
func (r *Router) ReplayDLQ(ctx context.Context, dlqID, operator string) (*Result, error) {
	entry, err := r.store.GetDLQ(ctx, dlqID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrDLQEntryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load dlq entry: %w", err)
	}
	if entry.Status == store.DLQReplayed {
		return nil, ErrAlreadyReplayed
	}

	evt := r.rebuildEvent(ctx, entry)

	if err := r.store.MarkLedgerReplayed(ctx, evt.ID); err != nil {
		return nil, fmt.Errorf("reset delivery ledger: %w", err)
	}
	if err := r.store.MarkProcessed(ctx, evt.ID, false, 0, ""); err != nil && !errors.Is(err, store.ErrNotFound) {
		r.logger.Warn("failed to reset event processing state",
			slog.String("event_id", evt.ID),
			slog.String("error", err.Error()),
		)
	}

	result := r.deliver(ctx, evt, newDispatchOptions(nil))
	success := result.Status == StatusSuccess
	if success {
		if err := r.store.MarkDLQReplayed(ctx, dlqID, operator); err != nil {
			return result, fmt.Errorf("mark dlq entry replayed: %w", err)
		}
	}

	observability.LogReplay(r.logger, dlqID, evt.ID, operator, success)
	r.metrics.RecordReplay(ctx, evt.Type, success)
	return result, nil
}

// rebuildEvent reconstructs the original event from its durable record,
// falling back to the payload snapshot carried by the dead-letter entry.
func (r *Router) rebuildEvent(ctx context.Context, entry store.DLQEntry) event.Event {
	rec, err := r.store.GetEvent(ctx, entry.EventID)
	if err != nil {
		return event.Event{
			ID:      entry.EventID,
			Type:    entry.EventType,
			Payload: entry.Payload,
		}
	}
	return event.Event{
		ID:            rec.ID,
		Type:          rec.Type,
		Payload:       rec.Payload,
		CorrelationID: rec.CorrelationID,
		Source:        rec.Source,
		CreatedAt:     rec.CreatedAt,
	}
}

// ReplayReport summarizes one batch replay.
type ReplayReport struct {
	Total     int
	Processed int
	Skipped   int
	Failed    int
	Errors    []string
}

// ReplayFromLedger re-dispatches unprocessed event records matching the
// filter. Records already marked processed are skipped; per-record
// failures are collected and never abort the batch.
func (r *Router) ReplayFromLedger(ctx context.Context, filter store.EventFilter) (*ReplayReport, error) {
	defer observability.TimedOperation(r.logger, "replay_from_ledger")()

	records, err := r.store.ListEvents(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list event records: %w", err)
	}

	report := &ReplayReport{Total: len(records)}
	for _, rec := range records {
		if rec.Processed {
			report.Skipped++
			continue
		}

		if err := r.store.MarkLedgerReplayed(ctx, rec.ID); err != nil {
			report.Failed++
			report.Errors = append(report.Errors, fmt.Sprintf("%s: reset ledger: %v", rec.ID, err))
			continue
		}

		evt := event.Event{
			ID:            rec.ID,
			Type:          rec.Type,
			Payload:       rec.Payload,
			CorrelationID: rec.CorrelationID,
			Source:        rec.Source,
			CreatedAt:     rec.CreatedAt,
		}
		result := r.deliver(ctx, evt, newDispatchOptions(nil))
		switch result.Status {
		case StatusSuccess, StatusDuplicate:
			report.Processed++
		case StatusNoHandler:
			report.Skipped++
		default:
			report.Failed++
			report.Errors = append(report.Errors, fmt.Sprintf("%s: %s", rec.ID, result.Status))
		}
	}
	return report, nil
}
