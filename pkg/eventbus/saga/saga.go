// Package saga provides a compensating multi-step transaction coordinator.
//
// A saga is an ordered list of steps, each with a forward action and an
// optional compensation. Execute runs the actions in order; on the first
// failure, compensations for all already-completed steps run in strict
// reverse order. Compensation errors are collected separately from the
// triggering error: a run whose compensations all succeed ends
// "compensated", one whose compensation itself errored ends "failed".
package saga

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/rickfelix/EHG-Engineer-sub004/pkg/eventbus/store"
)

// Status represents the state of a saga run.
type Status string

// Saga statuses.
const (
	StatusPending      Status = "pending"
	StatusCompleted    Status = "completed"
	StatusCompensating Status = "compensating"
	StatusCompensated  Status = "compensated"
	StatusFailed       Status = "failed"
)

// Action is one forward or compensating operation.
type Action func(ctx context.Context) error

// Step is a single saga step.
type Step struct {
	// Name identifies the step in results and logs.
	Name string

	// Do executes the forward action.
	Do Action

	// Compensate undoes a completed step. Nil means nothing to undo.
	Compensate Action
}

// CompensationError records a failed compensation.
type CompensationError struct {
	Step string
	Err  error
}

// Error implements the error interface.
func (e CompensationError) Error() string {
	return fmt.Sprintf("compensate %s: %v", e.Step, e.Err)
}

// Result is the outcome of one saga run.
type Result struct {
	SagaID             string
	Name               string
	Success            bool
	Status             Status
	FailedStep         string
	CompletedSteps     []string
	Err                error
	CompensationErrors []CompensationError
	StartedAt          time.Time
	FinishedAt         time.Time
}

// Coordinator executes an ordered list of compensable steps.
type Coordinator struct {
	name   string
	steps  []Step
	logger *slog.Logger
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the coordinator's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

// New creates a saga coordinator.
func New(name string, opts ...Option) *Coordinator {
	c := &Coordinator{
		name:   name,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// AddStep registers an ordered step. Returns the coordinator for chaining.
func (c *Coordinator) AddStep(name string, do, compensate Action) *Coordinator {
	c.steps = append(c.steps, Step{Name: name, Do: do, Compensate: compensate})
	return c
}

// Steps returns the registered step names in order.
func (c *Coordinator) Steps() []string {
	names := make([]string, len(c.steps))
	for i, step := range c.steps {
		names[i] = step.Name
	}
	return names
}

// Execute runs the saga. Actions run in registration order; the first
// failure triggers reverse-order compensation of every completed step.
func (c *Coordinator) Execute(ctx context.Context) Result {
	result := Result{
		SagaID:    fmt.Sprintf("saga-%s", uuid.New().String()[:8]),
		Name:      c.name,
		Status:    StatusPending,
		StartedAt: time.Now(),
	}

	for i, step := range c.steps {
		if err := step.Do(ctx); err != nil {
			result.FailedStep = step.Name
			result.Err = err
			c.logger.Error("saga step failed",
				slog.String("saga_id", result.SagaID),
				slog.String("saga", c.name),
				slog.String("step", step.Name),
				slog.String("error", err.Error()),
			)
			c.compensate(ctx, &result, i-1)
			result.FinishedAt = time.Now()
			return result
		}
		result.CompletedSteps = append(result.CompletedSteps, step.Name)
	}

	result.Success = true
	result.Status = StatusCompleted
	result.FinishedAt = time.Now()
	c.logger.Info("saga completed",
		slog.String("saga_id", result.SagaID),
		slog.String("saga", c.name),
		slog.Int("steps", len(c.steps)),
	)
	return result
}

// compensate runs compensations in strict reverse order of completion.
func (c *Coordinator) compensate(ctx context.Context, result *Result, fromStep int) {
	result.Status = StatusCompensating

	for i := fromStep; i >= 0; i-- {
		step := c.steps[i]
		if step.Compensate == nil {
			continue
		}
		if err := step.Compensate(ctx); err != nil {
			result.CompensationErrors = append(result.CompensationErrors, CompensationError{
				Step: step.Name,
				Err:  err,
			})
			c.logger.Error("saga compensation failed",
				slog.String("saga_id", result.SagaID),
				slog.String("step", step.Name),
				slog.String("error", err.Error()),
			)
		}
	}

	if len(result.CompensationErrors) > 0 {
		result.Status = StatusFailed
	} else {
		result.Status = StatusCompensated
	}
}

// PersistResult reports whether a run log was written.
type PersistResult struct {
	Persisted bool
	Err       error
}

// PersistLog writes the run record through the ledger store. It never
// fails the caller: store errors are swallowed and reported in the
// PersistResult.
func (c *Coordinator) PersistLog(ctx context.Context, st store.Store, result Result) PersistResult {
	log := store.SagaLog{
		SagaID:         result.SagaID,
		Name:           result.Name,
		Status:         string(result.Status),
		FailedStep:     result.FailedStep,
		CompletedSteps: result.CompletedSteps,
		StartedAt:      result.StartedAt,
		FinishedAt:     result.FinishedAt,
	}
	if result.Err != nil {
		log.Error = result.Err.Error()
	}
	for _, compErr := range result.CompensationErrors {
		log.CompensationErrors = append(log.CompensationErrors, compErr.Error())
	}

	if err := st.AppendSagaLog(ctx, log); err != nil {
		c.logger.Warn("saga log persistence failed",
			slog.String("saga_id", result.SagaID),
			slog.String("error", err.Error()),
		)
		return PersistResult{Persisted: false, Err: err}
	}
	return PersistResult{Persisted: true}
}
