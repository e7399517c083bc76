package router_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickfelix/EHG-Engineer-sub004/pkg/eventbus/event"
	"github.com/rickfelix/EHG-Engineer-sub004/pkg/eventbus/router"
	"github.com/rickfelix/EHG-Engineer-sub004/pkg/eventbus/store"
)

// flakyHandler fails until the failure budget is spent, then succeeds.
type flakyHandler struct {
	failures atomic.Int32
	calls    atomic.Int32
}

func (f *flakyHandler) handle(context.Context, map[string]any, *event.Context) error {
	f.calls.Add(1)
	if f.failures.Load() > 0 {
		f.failures.Add(-1)
		return errors.New("venture not found")
	}
	return nil
}

// quarantineOne dispatches an event that dead-letters, returning the DLQ
// entry ID.
func quarantineOne(t *testing.T, r *router.Router, st store.Store, evt event.Event) string {
	t.Helper()
	result, err := r.Dispatch(context.Background(), evt, fastRetry)
	require.NoError(t, err)
	require.Equal(t, router.StatusFailed, result.Status)

	dead, err := st.ListDLQ(context.Background(), store.DLQFilter{Status: store.DLQDead})
	require.NoError(t, err)
	require.Len(t, dead, 1)
	return dead[0].ID
}

// TestReplayDLQSuccess verifies the full recovery cycle: replay re-runs
// the pipeline and transitions the entry to replayed.
func TestReplayDLQSuccess(t *testing.T) {
	handler := &flakyHandler{}
	handler.failures.Store(1) // first dispatch fails, replay succeeds

	handlers := event.NewRegistry()
	handlers.Register("stage.completed", handler.handle, event.WithName("recorder"))

	r, st := newRouter(t, router.Config{Handlers: handlers})
	ctx := context.Background()

	evt := event.New("stage.completed", stagePayload())
	dlqID := quarantineOne(t, r, st, evt)

	result, err := r.ReplayDLQ(ctx, dlqID, "oncall")
	require.NoError(t, err)
	assert.Equal(t, router.StatusSuccess, result.Status)

	entry, err := st.GetDLQ(ctx, dlqID)
	require.NoError(t, err)
	assert.Equal(t, store.DLQReplayed, entry.Status)
	assert.Equal(t, "oncall", entry.ReplayedBy)
	require.NotNil(t, entry.ReplayedAt)

	rec, err := st.GetEvent(ctx, evt.ID)
	require.NoError(t, err)
	assert.True(t, rec.Processed)
}

// TestReplayDLQStillFailing verifies a failed replay leaves the entry dead
// so it can be retried later.
func TestReplayDLQStillFailing(t *testing.T) {
	handler := &flakyHandler{}
	handler.failures.Store(10)

	handlers := event.NewRegistry()
	handlers.Register("stage.completed", handler.handle)

	r, st := newRouter(t, router.Config{Handlers: handlers})
	ctx := context.Background()

	dlqID := quarantineOne(t, r, st, event.New("stage.completed", stagePayload()))
	before, err := st.GetDLQ(ctx, dlqID)
	require.NoError(t, err)

	result, err := r.ReplayDLQ(ctx, dlqID, "oncall")
	require.NoError(t, err)
	assert.Equal(t, router.StatusFailed, result.Status)

	entry, err := st.GetDLQ(ctx, dlqID)
	require.NoError(t, err)
	assert.Equal(t, store.DLQDead, entry.Status)

	// The re-quarantine updated the existing row rather than adding one,
	// keeping the original first-seen timestamp.
	all, err := st.ListDLQ(ctx, store.DLQFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 1)
	assert.True(t, entry.FirstSeenAt.Equal(before.FirstSeenAt))
}

// TestReplayDLQIdempotencyReset verifies replay of an event with a prior
// success ledger row does not short-circuit as duplicate_event.
func TestReplayDLQIdempotencyReset(t *testing.T) {
	okCalls := atomic.Int32{}
	handler := &flakyHandler{}
	handler.failures.Store(1) // the first dispatch fails, the replay succeeds

	handlers := event.NewRegistry()
	handlers.Register("stage.completed", func(ctx context.Context, p map[string]any, h *event.Context) error {
		okCalls.Add(1)
		return nil
	}, event.WithName("ok"))
	handlers.Register("stage.completed", handler.handle, event.WithName("flaky"))

	r, st := newRouter(t, router.Config{Handlers: handlers})
	ctx := context.Background()

	evt := event.New("stage.completed", stagePayload())
	result, err := r.Dispatch(ctx, evt, fastRetry)
	require.NoError(t, err)
	require.Equal(t, router.StatusPartialFailure, result.Status)

	dead, err := st.ListDLQ(ctx, store.DLQFilter{Status: store.DLQDead})
	require.NoError(t, err)
	require.Len(t, dead, 1)

	// The "ok" handler succeeded, so without the ledger reset this replay
	// would report duplicate_event and never reach the flaky handler.
	replay, err := r.ReplayDLQ(ctx, dead[0].ID, "oncall")
	require.NoError(t, err)
	assert.Equal(t, router.StatusSuccess, replay.Status)
	assert.Equal(t, int32(2), okCalls.Load())
}

// TestReplayDLQUnknownEntry verifies the not-found sentinel.
func TestReplayDLQUnknownEntry(t *testing.T) {
	r, _ := newRouter(t, router.Config{})
	_, err := r.ReplayDLQ(context.Background(), "no-such-entry", "oncall")
	assert.ErrorIs(t, err, router.ErrDLQEntryNotFound)
}

// TestReplayDLQMonotonic verifies a replayed entry cannot be replayed
// again.
func TestReplayDLQMonotonic(t *testing.T) {
	handler := &flakyHandler{}
	handler.failures.Store(1)

	handlers := event.NewRegistry()
	handlers.Register("stage.completed", handler.handle)

	r, st := newRouter(t, router.Config{Handlers: handlers})
	ctx := context.Background()

	dlqID := quarantineOne(t, r, st, event.New("stage.completed", stagePayload()))

	_, err := r.ReplayDLQ(ctx, dlqID, "oncall")
	require.NoError(t, err)

	_, err = r.ReplayDLQ(ctx, dlqID, "oncall")
	assert.ErrorIs(t, err, router.ErrAlreadyReplayed)
}

// TestReplayFromLedger verifies batch replay skips processed records and
// re-runs the rest.
func TestReplayFromLedger(t *testing.T) {
	handler := &flakyHandler{}
	handler.failures.Store(1) // the first-dispatched event fails once

	handlers := event.NewRegistry()
	handlers.Register("stage.completed", handler.handle, event.WithRetryable(false))

	r, st := newRouter(t, router.Config{Handlers: handlers})
	ctx := context.Background()

	failing := event.New("stage.completed", stagePayload())
	result, err := r.Dispatch(ctx, failing, fastRetry)
	require.NoError(t, err)
	require.Equal(t, router.StatusFailed, result.Status)

	succeeding := event.New("stage.completed", stagePayload())
	result, err = r.Dispatch(ctx, succeeding, fastRetry)
	require.NoError(t, err)
	require.Equal(t, router.StatusSuccess, result.Status)

	report, err := r.ReplayFromLedger(ctx, store.EventFilter{Type: "stage.completed"})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Total)
	assert.Equal(t, 1, report.Skipped)   // the already-processed event
	assert.Equal(t, 1, report.Processed) // the failed one now succeeds
	assert.Equal(t, 0, report.Failed)

	rec, err := st.GetEvent(ctx, failing.ID)
	require.NoError(t, err)
	assert.True(t, rec.Processed)
}
