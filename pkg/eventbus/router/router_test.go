package router_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickfelix/EHG-Engineer-sub004/pkg/eventbus/event"
	"github.com/rickfelix/EHG-Engineer-sub004/pkg/eventbus/router"
	"github.com/rickfelix/EHG-Engineer-sub004/pkg/eventbus/routing"
	"github.com/rickfelix/EHG-Engineer-sub004/pkg/eventbus/schema"
	"github.com/rickfelix/EHG-Engineer-sub004/pkg/eventbus/store"
)

func newRouter(t *testing.T, cfg router.Config) (*router.Router, store.Store) {
	t.Helper()
	if cfg.Store == nil {
		cfg.Store = store.NewMemoryStore()
	}
	r, err := router.New(cfg)
	require.NoError(t, err)
	return r, cfg.Store
}

func stagePayload() map[string]any {
	return map[string]any{"ventureId": "v-1", "stageId": "s-4"}
}

// fastRetry keeps retry tests quick.
var fastRetry = router.WithBaseDelay(time.Millisecond)

// TestDispatchEmptyType verifies the only hard input error.
func TestDispatchEmptyType(t *testing.T) {
	r, _ := newRouter(t, router.Config{})
	_, err := r.Dispatch(context.Background(), event.Event{})
	assert.ErrorIs(t, err, router.ErrEmptyEventType)
}

// TestDispatchNoHandler verifies unrouted events report no_handler.
func TestDispatchNoHandler(t *testing.T) {
	r, _ := newRouter(t, router.Config{})
	result, err := r.Dispatch(context.Background(), event.New("stage.completed", stagePayload()))
	require.NoError(t, err)
	assert.Equal(t, router.StatusNoHandler, result.Status)
}

// TestDispatchSuccess verifies the happy path writes the event record and
// delivery proof.
func TestDispatchSuccess(t *testing.T) {
	handlers := event.NewRegistry()
	var seen atomic.Int32
	handlers.Register("stage.completed", func(_ context.Context, payload map[string]any, hctx *event.Context) error {
		seen.Add(1)
		assert.Equal(t, "v-1", hctx.VentureID)
		assert.Equal(t, "v-1", payload["ventureId"])
		assert.NotNil(t, hctx.Store)
		return nil
	}, event.WithName("recorder"))

	r, st := newRouter(t, router.Config{Handlers: handlers})
	ctx := context.Background()

	evt := event.New("stage.completed", stagePayload())
	result, err := r.Dispatch(ctx, evt)
	require.NoError(t, err)
	assert.Equal(t, router.StatusSuccess, result.Status)
	assert.Equal(t, routing.ModeEvent, result.Mode)
	assert.Equal(t, routing.ModalityKnowledge, result.Modality)
	require.Len(t, result.Handlers, 1)
	assert.True(t, result.Handlers[0].Success)
	assert.Equal(t, 1, result.Handlers[0].Attempts)
	assert.Equal(t, int32(1), seen.Load())

	rec, err := st.GetEvent(ctx, evt.ID)
	require.NoError(t, err)
	assert.True(t, rec.Processed)

	entries, err := st.ListLedger(ctx, store.LedgerFilter{EventID: evt.ID})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, store.LedgerSuccess, entries[0].Status)
	assert.Equal(t, "recorder", entries[0].HandlerName)
	assert.True(t, entries[0].HandlerAck)
	assert.False(t, entries[0].DeliveryConfirmedAt.IsZero())
}

// TestDuplicateEvent verifies the ledger idempotency check short-circuits
// a second dispatch of the same event ID without invoking handlers.
func TestDuplicateEvent(t *testing.T) {
	handlers := event.NewRegistry()
	var calls atomic.Int32
	handlers.Register("stage.completed", func(context.Context, map[string]any, *event.Context) error {
		calls.Add(1)
		return nil
	})

	r, _ := newRouter(t, router.Config{Handlers: handlers})
	ctx := context.Background()
	evt := event.New("stage.completed", stagePayload())

	first, err := r.Dispatch(ctx, evt)
	require.NoError(t, err)
	require.Equal(t, router.StatusSuccess, first.Status)

	second, err := r.Dispatch(ctx, evt)
	require.NoError(t, err)
	assert.Equal(t, router.StatusDuplicate, second.Status)
	assert.Equal(t, int32(1), calls.Load())
}

// TestRetryCeiling verifies the effective attempt cap is the minimum of
// the dispatch option and the handler registration, and exhaustion writes
// exactly one dead-letter row.
func TestRetryCeiling(t *testing.T) {
	handlers := event.NewRegistry()
	var calls atomic.Int32
	handlers.Register("stage.completed", func(context.Context, map[string]any, *event.Context) error {
		calls.Add(1)
		return errors.New("timeout talking to scoring")
	}, event.WithName("flaky"), event.WithMaxRetries(2))

	r, st := newRouter(t, router.Config{Handlers: handlers})
	ctx := context.Background()

	result, err := r.Dispatch(ctx, event.New("stage.completed", stagePayload()),
		router.WithMaxRetries(5), fastRetry)
	require.NoError(t, err)
	assert.Equal(t, router.StatusFailed, result.Status)
	assert.Equal(t, int32(2), calls.Load())
	require.Len(t, result.Handlers, 1)
	assert.Equal(t, 2, result.Handlers[0].Attempts)

	dead, err := st.ListDLQ(ctx, store.DLQFilter{})
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, "max_retries_exhausted", dead[0].FailureReason)
	assert.Equal(t, 2, dead[0].AttemptCount)
	assert.Contains(t, dead[0].ErrorMessage, "timeout")
}

// TestDLQFirstErrorPreserved verifies the dead-letter row keeps the first
// attempt's error as the root cause when later attempts fail differently.
func TestDLQFirstErrorPreserved(t *testing.T) {
	handlers := event.NewRegistry()
	var calls atomic.Int32
	handlers.Register("stage.completed", func(context.Context, map[string]any, *event.Context) error {
		if calls.Add(1) == 1 {
			return errors.New("timeout writing scorecard")
		}
		return errors.New("timeout publishing result")
	}, event.WithName("scorer"), event.WithMaxRetries(2))

	r, st := newRouter(t, router.Config{Handlers: handlers})
	ctx := context.Background()

	result, err := r.Dispatch(ctx, event.New("stage.completed", stagePayload()), fastRetry)
	require.NoError(t, err)
	require.Equal(t, router.StatusFailed, result.Status)
	require.Len(t, result.Handlers, 1)
	require.Error(t, result.Handlers[0].FirstError)
	assert.Contains(t, result.Handlers[0].FirstError.Error(), "scorecard")
	assert.Contains(t, result.Handlers[0].Error.Error(), "publishing")

	dead, err := st.ListDLQ(ctx, store.DLQFilter{})
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Contains(t, dead[0].FirstError, "scorecard")
	assert.Contains(t, dead[0].ErrorMessage, "publishing")
}

// TestDLQKeyedByHandler verifies each failing handler of one event gets
// its own dead-letter row, keyed by the (event, handler) pair.
func TestDLQKeyedByHandler(t *testing.T) {
	handlers := event.NewRegistry()
	handlers.Register("stage.completed", func(context.Context, map[string]any, *event.Context) error {
		return errors.New("venture not found")
	}, event.WithName("scorer"))
	handlers.Register("stage.completed", func(context.Context, map[string]any, *event.Context) error {
		return errors.New("venture not found")
	}, event.WithName("notifier"))

	r, st := newRouter(t, router.Config{Handlers: handlers})
	ctx := context.Background()
	evt := event.New("stage.completed", stagePayload())

	result, err := r.Dispatch(ctx, evt, fastRetry)
	require.NoError(t, err)
	require.Equal(t, router.StatusFailed, result.Status)

	dead, err := st.ListDLQ(ctx, store.DLQFilter{})
	require.NoError(t, err)
	require.Len(t, dead, 2)
	byHandler := make(map[string]store.DLQEntry, len(dead))
	for _, entry := range dead {
		byHandler[entry.HandlerName] = entry
	}
	require.Contains(t, byHandler, "scorer")
	require.Contains(t, byHandler, "notifier")
	assert.Equal(t, evt.ID+":scorer", byHandler["scorer"].ID)
	assert.Equal(t, evt.ID+":notifier", byHandler["notifier"].ID)
}

// TestNonRetryableError verifies a permanent failure gets exactly one
// attempt and the non_retryable_error reason.
func TestNonRetryableError(t *testing.T) {
	handlers := event.NewRegistry()
	var calls atomic.Int32
	handlers.Register("stage.completed", func(context.Context, map[string]any, *event.Context) error {
		calls.Add(1)
		return errors.New("venture not found")
	})

	r, st := newRouter(t, router.Config{Handlers: handlers})
	ctx := context.Background()

	result, err := r.Dispatch(ctx, event.New("stage.completed", stagePayload()), fastRetry)
	require.NoError(t, err)
	assert.Equal(t, router.StatusFailed, result.Status)
	assert.Equal(t, int32(1), calls.Load())

	dead, err := st.ListDLQ(ctx, store.DLQFilter{})
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, "non_retryable_error", dead[0].FailureReason)
	assert.Equal(t, 1, dead[0].AttemptCount)
}

// TestNonRetryableRegistration verifies WithRetryable(false) caps attempts
// at one even for transient errors.
func TestNonRetryableRegistration(t *testing.T) {
	handlers := event.NewRegistry()
	var calls atomic.Int32
	handlers.Register("stage.completed", func(context.Context, map[string]any, *event.Context) error {
		calls.Add(1)
		return errors.New("timeout")
	}, event.WithRetryable(false))

	r, _ := newRouter(t, router.Config{Handlers: handlers})
	result, err := r.Dispatch(context.Background(), event.New("stage.completed", stagePayload()), fastRetry)
	require.NoError(t, err)
	assert.Equal(t, router.StatusFailed, result.Status)
	assert.Equal(t, int32(1), calls.Load())
}

// TestPartialFailure verifies mixed handler outcomes.
func TestPartialFailure(t *testing.T) {
	handlers := event.NewRegistry()
	handlers.Register("stage.completed", func(context.Context, map[string]any, *event.Context) error {
		return nil
	}, event.WithName("ok"))
	handlers.Register("stage.completed", func(context.Context, map[string]any, *event.Context) error {
		return errors.New("invalid stage reference")
	}, event.WithName("broken"))

	r, st := newRouter(t, router.Config{Handlers: handlers})
	ctx := context.Background()
	evt := event.New("stage.completed", stagePayload())

	result, err := r.Dispatch(ctx, evt, fastRetry)
	require.NoError(t, err)
	assert.Equal(t, router.StatusPartialFailure, result.Status)

	// One success and one dead row in the ledger.
	success, err := st.ListLedger(ctx, store.LedgerFilter{EventID: evt.ID, Status: store.LedgerSuccess})
	require.NoError(t, err)
	assert.Len(t, success, 1)
	dead, err := st.ListLedger(ctx, store.LedgerFilter{EventID: evt.ID, Status: store.LedgerDead})
	require.NoError(t, err)
	assert.Len(t, dead, 1)

	rec, err := st.GetEvent(ctx, evt.ID)
	require.NoError(t, err)
	assert.False(t, rec.Processed)
	assert.Contains(t, rec.LastError, "invalid stage")
}

// TestBuiltinValidation verifies the hardcoded payload contracts: the
// event is quarantined with one DLQ row, one dead ledger row, and zero
// handler invocations.
func TestBuiltinValidation(t *testing.T) {
	handlers := event.NewRegistry()
	var calls atomic.Int32
	handlers.Register("stage.completed", func(context.Context, map[string]any, *event.Context) error {
		calls.Add(1)
		return nil
	})

	r, st := newRouter(t, router.Config{Handlers: handlers})
	ctx := context.Background()

	evt := event.New("stage.completed", map[string]any{"ventureId": "v-1"}) // stageId missing
	result, err := r.Dispatch(ctx, evt)
	require.NoError(t, err)
	assert.Equal(t, router.StatusValidationError, result.Status)
	require.NotEmpty(t, result.ValidationErrors)
	assert.Contains(t, result.ValidationErrors[0], "stageId")
	assert.Equal(t, int32(0), calls.Load())

	dead, err := st.ListDLQ(ctx, store.DLQFilter{})
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, "validation_error", dead[0].FailureReason)

	ledger, err := st.ListLedger(ctx, store.LedgerFilter{EventID: evt.ID})
	require.NoError(t, err)
	require.Len(t, ledger, 1)
	assert.Equal(t, store.LedgerDead, ledger[0].Status)
}

// TestGateOutcomeValidation verifies the closed outcome set is enforced
// and named in the error.
func TestGateOutcomeValidation(t *testing.T) {
	handlers := event.NewRegistry()
	handlers.Register("gate.evaluated", func(context.Context, map[string]any, *event.Context) error {
		return nil
	})
	r, _ := newRouter(t, router.Config{Handlers: handlers})

	result, err := r.Dispatch(context.Background(), event.New("gate.evaluated", map[string]any{
		"ventureId": "v-1",
		"gateId":    "g-2",
		"outcome":   "maybe",
	}))
	require.NoError(t, err)
	assert.Equal(t, router.StatusValidationError, result.Status)
	require.NotEmpty(t, result.ValidationErrors)
	assert.Contains(t, result.ValidationErrors[0], "proceed|block|kill")

	ok, err := r.Dispatch(context.Background(), event.New("gate.evaluated", map[string]any{
		"ventureId": "v-1",
		"gateId":    "g-2",
		"outcome":   "proceed",
	}))
	require.NoError(t, err)
	assert.Equal(t, router.StatusSuccess, ok.Status)
}

// TestRegisteredSchemaWins verifies a registered schema replaces the
// builtin rules for its event type.
func TestRegisteredSchemaWins(t *testing.T) {
	schemas := schema.NewRegistry()
	require.NoError(t, schemas.Register(schema.Schema{
		EventType: "stage.completed",
		Version:   "1.0.0",
		Required:  map[string]schema.FieldType{"ventureId": schema.TypeString},
	}))

	handlers := event.NewRegistry()
	handlers.Register("stage.completed", func(context.Context, map[string]any, *event.Context) error {
		return nil
	})

	r, _ := newRouter(t, router.Config{Handlers: handlers, Schemas: schemas})

	// The builtin rule would demand stageId; the registered schema does not.
	result, err := r.Dispatch(context.Background(), event.New("stage.completed", map[string]any{"ventureId": "v-1"}))
	require.NoError(t, err)
	assert.Equal(t, router.StatusSuccess, result.Status)
}

// TestFireAndForget verifies no durable writes and a single attempt per
// handler.
func TestFireAndForget(t *testing.T) {
	handlers := event.NewRegistry()
	var calls atomic.Int32
	handlers.Register("venture.created", func(context.Context, map[string]any, *event.Context) error {
		calls.Add(1)
		return nil
	}, event.WithName("ok"))
	handlers.Register("venture.created", func(context.Context, map[string]any, *event.Context) error {
		calls.Add(1)
		return errors.New("timeout")
	}, event.WithName("flaky"))

	r, st := newRouter(t, router.Config{Handlers: handlers})
	ctx := context.Background()
	evt := event.New("venture.created", map[string]any{"ventureId": "v-1"})

	result, err := r.Dispatch(ctx, evt, router.FireAndForget(), fastRetry)
	require.NoError(t, err)
	assert.Equal(t, router.StatusPartialFailure, result.Status)
	assert.Equal(t, int32(2), calls.Load()) // one attempt each, no retries

	_, err = st.GetEvent(ctx, evt.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	ledger, err := st.ListLedger(ctx, store.LedgerFilter{EventID: evt.ID})
	require.NoError(t, err)
	assert.Empty(t, ledger)
	dead, err := st.ListDLQ(ctx, store.DLQFilter{})
	require.NoError(t, err)
	assert.Empty(t, dead)
}

// TestGovernanceForcesPersist verifies governance traffic ignores
// fire-and-forget.
func TestGovernanceForcesPersist(t *testing.T) {
	handlers := event.NewRegistry()
	handlers.Register("guardrail.violated", func(context.Context, map[string]any, *event.Context) error {
		return nil
	})

	r, st := newRouter(t, router.Config{Handlers: handlers})
	ctx := context.Background()
	evt := event.New("guardrail.violated", map[string]any{"rule": "burn-rate"})

	result, err := r.Dispatch(ctx, evt, router.FireAndForget())
	require.NoError(t, err)
	assert.Equal(t, router.StatusSuccess, result.Status)

	rec, err := st.GetEvent(ctx, evt.ID)
	require.NoError(t, err)
	assert.True(t, rec.Processed)
}

// TestRoundLane verifies ROUND classification hands off to the scheduler.
func TestRoundLane(t *testing.T) {
	var scheduled []event.Event
	r, _ := newRouter(t, router.Config{
		Scheduler: router.SchedulerFunc(func(_ context.Context, evt event.Event) error {
			scheduled = append(scheduled, evt)
			return nil
		}),
	})

	result, err := r.Dispatch(context.Background(), event.New("round.scoring.due", nil))
	require.NoError(t, err)
	assert.Equal(t, router.StatusScheduled, result.Status)
	assert.Equal(t, routing.ModeRound, result.Mode)
	assert.Len(t, scheduled, 1)
}

// TestUrgentLane verifies PRIORITY_QUEUE handoff with preemption and the
// up-front event record.
func TestUrgentLane(t *testing.T) {
	var gotPreempt bool
	var queued []event.Event
	r, st := newRouter(t, router.Config{
		Urgent: router.UrgentFunc(func(_ context.Context, evt event.Event, preempt bool) error {
			gotPreempt = preempt
			queued = append(queued, evt)
			return nil
		}),
	})
	ctx := context.Background()

	evt := event.New("guardrail.violated", map[string]any{"rule": "burn-rate"})
	result, err := r.Dispatch(ctx, evt)
	require.NoError(t, err)
	assert.Equal(t, router.StatusQueued, result.Status)
	assert.True(t, gotPreempt)
	require.Len(t, queued, 1)

	// The record is persisted before handoff so a crashed consumer can
	// recover it.
	_, err = st.GetEvent(ctx, evt.ID)
	assert.NoError(t, err)
}

// TestLaneFallback verifies a failing lane degrades to the direct
// pipeline instead of dropping the event.
func TestLaneFallback(t *testing.T) {
	handlers := event.NewRegistry()
	var calls atomic.Int32
	handlers.Register("round.scoring.due", func(context.Context, map[string]any, *event.Context) error {
		calls.Add(1)
		return nil
	})

	r, _ := newRouter(t, router.Config{
		Handlers: handlers,
		Scheduler: router.SchedulerFunc(func(context.Context, event.Event) error {
			return errors.New("scheduler down")
		}),
	})

	result, err := r.Dispatch(context.Background(), event.New("round.scoring.due", nil))
	require.NoError(t, err)
	assert.Equal(t, router.StatusSuccess, result.Status)
	assert.Equal(t, int32(1), calls.Load())
}

// TestStrategyOverridesLane verifies the loader-driven override table
// redirects classification.
func TestStrategyOverridesLane(t *testing.T) {
	st := store.NewMemoryStore()
	require.NoError(t, st.PutConfig(context.Background(), routing.ConfigKey, map[string]any{
		"overrides": map[string]any{"stage.completed": "ROUND"},
	}))

	var scheduled int
	r, _ := newRouter(t, router.Config{
		Store:      st,
		Strategies: routing.NewLoader(routing.LoaderConfig{Store: st}),
		Scheduler: router.SchedulerFunc(func(context.Context, event.Event) error {
			scheduled++
			return nil
		}),
	})

	result, err := r.Dispatch(context.Background(), event.New("stage.completed", stagePayload()))
	require.NoError(t, err)
	assert.Equal(t, router.StatusScheduled, result.Status)
	assert.Equal(t, 1, scheduled)
}
