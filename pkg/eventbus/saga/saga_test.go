package saga_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickfelix/EHG-Engineer-sub004/pkg/eventbus/saga"
	"github.com/rickfelix/EHG-Engineer-sub004/pkg/eventbus/store"
)

func noop(context.Context) error { return nil }

// TestExecuteSuccess verifies a clean run completes every step in order.
func TestExecuteSuccess(t *testing.T) {
	var order []string
	step := func(name string) saga.Action {
		return func(context.Context) error {
			order = append(order, name)
			return nil
		}
	}

	result := saga.New("venture-promotion").
		AddStep("reserve", step("reserve"), nil).
		AddStep("promote", step("promote"), nil).
		AddStep("notify", step("notify"), nil).
		Execute(context.Background())

	assert.True(t, result.Success)
	assert.Equal(t, saga.StatusCompleted, result.Status)
	assert.Equal(t, []string{"reserve", "promote", "notify"}, order)
	assert.Equal(t, []string{"reserve", "promote", "notify"}, result.CompletedSteps)
	assert.Empty(t, result.FailedStep)
	assert.Contains(t, result.SagaID, "saga-")
	assert.False(t, result.FinishedAt.Before(result.StartedAt))
}

// TestReverseCompensation verifies completed steps compensate in strict
// reverse order and the failed step itself is not compensated.
func TestReverseCompensation(t *testing.T) {
	var compensated []string
	compensate := func(name string) saga.Action {
		return func(context.Context) error {
			compensated = append(compensated, name)
			return nil
		}
	}

	result := saga.New("venture-promotion").
		AddStep("reserve", noop, compensate("reserve")).
		AddStep("promote", noop, compensate("promote")).
		AddStep("notify", func(context.Context) error { return errors.New("notify: timeout") }, compensate("notify")).
		Execute(context.Background())

	assert.False(t, result.Success)
	assert.Equal(t, saga.StatusCompensated, result.Status)
	assert.Equal(t, "notify", result.FailedStep)
	assert.EqualError(t, result.Err, "notify: timeout")
	assert.Equal(t, []string{"promote", "reserve"}, compensated)
	assert.Empty(t, result.CompensationErrors)
}

// TestNilCompensationSkipped verifies steps without compensation are
// skipped during rollback.
func TestNilCompensationSkipped(t *testing.T) {
	var compensated []string

	result := saga.New("mixed").
		AddStep("a", noop, func(context.Context) error {
			compensated = append(compensated, "a")
			return nil
		}).
		AddStep("b", noop, nil).
		AddStep("c", func(context.Context) error { return errors.New("c failed") }, nil).
		Execute(context.Background())

	assert.Equal(t, saga.StatusCompensated, result.Status)
	assert.Equal(t, []string{"a"}, compensated)
}

// TestCompensationFailure verifies a failing compensation marks the run
// failed while the remaining compensations still execute.
func TestCompensationFailure(t *testing.T) {
	var compensated []string

	result := saga.New("venture-promotion").
		AddStep("reserve", noop, func(context.Context) error {
			compensated = append(compensated, "reserve")
			return nil
		}).
		AddStep("promote", noop, func(context.Context) error {
			return errors.New("promote rollback failed")
		}).
		AddStep("notify", func(context.Context) error { return errors.New("boom") }, nil).
		Execute(context.Background())

	assert.Equal(t, saga.StatusFailed, result.Status)
	require.Len(t, result.CompensationErrors, 1)
	assert.Equal(t, "promote", result.CompensationErrors[0].Step)
	// Compensation continues past the failure.
	assert.Equal(t, []string{"reserve"}, compensated)
}

// TestFirstStepFailure verifies no compensation runs when nothing completed.
func TestFirstStepFailure(t *testing.T) {
	compensated := false

	result := saga.New("short").
		AddStep("only", func(context.Context) error { return errors.New("boom") }, func(context.Context) error {
			compensated = true
			return nil
		}).
		Execute(context.Background())

	assert.Equal(t, saga.StatusCompensated, result.Status)
	assert.False(t, compensated)
	assert.Empty(t, result.CompletedSteps)
}

// TestPersistLog verifies run records land in the store and persistence
// failures are swallowed.
func TestPersistLog(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()

	coordinator := saga.New("venture-promotion").
		AddStep("reserve", noop, nil).
		AddStep("promote", func(context.Context) error { return errors.New("boom") }, nil)

	result := coordinator.Execute(ctx)
	persist := coordinator.PersistLog(ctx, st, result)
	assert.True(t, persist.Persisted)
	assert.NoError(t, persist.Err)

	logs, err := st.ListSagaLogs(ctx)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, result.SagaID, logs[0].SagaID)
	assert.Equal(t, string(saga.StatusCompensated), logs[0].Status)
	assert.Equal(t, "promote", logs[0].FailedStep)
	assert.Equal(t, []string{"reserve"}, logs[0].CompletedSteps)
	assert.Equal(t, "boom", logs[0].Error)

	// A closed store fails persistence but never the caller.
	require.NoError(t, st.Close())
	persist = coordinator.PersistLog(ctx, st, result)
	assert.False(t, persist.Persisted)
	assert.Error(t, persist.Err)
}

// TestSteps verifies step name enumeration.
func TestSteps(t *testing.T) {
	coordinator := saga.New("x").
		AddStep("a", noop, nil).
		AddStep("b", noop, nil)
	assert.Equal(t, []string{"a", "b"}, coordinator.Steps())
}
