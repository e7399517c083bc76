// Package breaker provides a per-service circuit breaker with persisted
// state.
//
// The breaker wraps an external call: after FailureThreshold consecutive
// failures the circuit opens and calls fail fast until RecoveryWindow has
// elapsed since the last failure. Once the window elapses the circuit is
// treated as half-open and a single trial call is allowed through; any
// success closes the circuit and resets the failure count.
//
// State is kept in the ledger store so that circuit health survives
// restarts and is visible to the recovery dashboard.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rickfelix/EHG-Engineer-sub004/pkg/eventbus/store"
)

// Defaults.
const (
	DefaultFailureThreshold = 3
	DefaultRecoveryWindow   = 60 * time.Minute
)

// OpenError is returned when a call is rejected because the circuit is
// open. The wrapped function is never invoked.
type OpenError struct {
	Service string
	Since   time.Time
	RetryAt time.Time
}

// Error implements the error interface.
func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit open for service %q until %s", e.Service, e.RetryAt.Format(time.RFC3339))
}

// IsOpen reports whether err is a circuit-open rejection.
func IsOpen(err error) bool {
	var openErr *OpenError
	return errors.As(err, &openErr)
}

// Config configures a Breaker.
type Config struct {
	// Store persists circuit states. Required.
	Store store.Store

	// FailureThreshold is the consecutive failure count that opens the
	// circuit. Default: 3
	FailureThreshold int

	// RecoveryWindow is how long an open circuit rejects calls after the
	// last failure. Default: 60 minutes
	RecoveryWindow time.Duration

	// Logger for state transitions. Default: slog.Default()
	Logger *slog.Logger
}

// Breaker gates calls to external dependencies.
type Breaker struct {
	store     store.Store
	threshold int
	window    time.Duration
	logger    *slog.Logger
}

// New creates a circuit breaker backed by the given store.
func New(cfg Config) (*Breaker, error) {
	if cfg.Store == nil {
		return nil, errors.New("breaker: store is required")
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultFailureThreshold
	}
	if cfg.RecoveryWindow <= 0 {
		cfg.RecoveryWindow = DefaultRecoveryWindow
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Breaker{
		store:     cfg.Store,
		threshold: cfg.FailureThreshold,
		window:    cfg.RecoveryWindow,
		logger:    cfg.Logger,
	}, nil
}

// Do invokes fn under circuit-breaker protection for the named service.
//
// If the circuit is open and the recovery window has not elapsed, Do fails
// fast with an *OpenError without invoking fn. Otherwise fn runs: success
// closes the circuit and resets the failure count, failure increments it
// (opening the circuit at the threshold) and returns the original error.
func (b *Breaker) Do(ctx context.Context, serviceName string, fn func(context.Context) error) error {
	state, err := b.store.GetCircuit(ctx, serviceName)
	if errors.Is(err, store.ErrNotFound) {
		state = store.CircuitState{ServiceName: serviceName, State: store.CircuitClosed}
	} else if err != nil {
		return fmt.Errorf("breaker: load circuit state: %w", err)
	}

	now := time.Now()
	if state.State == store.CircuitOpen {
		retryAt := state.LastFailureAt.Add(b.window)
		if now.Before(retryAt) {
			return &OpenError{
				Service: serviceName,
				Since:   state.LastFailureAt,
				RetryAt: retryAt,
			}
		}
		// Recovery window elapsed: half-open, allow one trial call.
		b.logger.Info("circuit half-open, allowing trial call",
			slog.String("service", serviceName),
		)
	}

	callErr := fn(ctx)
	if callErr == nil {
		state.State = store.CircuitClosed
		state.FailureCount = 0
		state.LastSuccessAt = now
		if err := b.store.PutCircuit(ctx, state); err != nil {
			b.logger.Warn("failed to persist circuit state",
				slog.String("service", serviceName),
				slog.String("error", err.Error()),
			)
		}
		return nil
	}

	state.FailureCount++
	state.LastFailureAt = now
	if state.FailureCount >= b.threshold {
		if state.State != store.CircuitOpen {
			b.logger.Warn("circuit opened",
				slog.String("service", serviceName),
				slog.Int("failure_count", state.FailureCount),
			)
		}
		state.State = store.CircuitOpen
	}
	if err := b.store.PutCircuit(ctx, state); err != nil {
		b.logger.Warn("failed to persist circuit state",
			slog.String("service", serviceName),
			slog.String("error", err.Error()),
		)
	}
	return callErr
}

// State returns the persisted circuit state for a service.
// An untracked service is reported as CLOSED with zero failures.
func (b *Breaker) State(ctx context.Context, serviceName string) (store.CircuitState, error) {
	state, err := b.store.GetCircuit(ctx, serviceName)
	if errors.Is(err, store.ErrNotFound) {
		return store.CircuitState{ServiceName: serviceName, State: store.CircuitClosed}, nil
	}
	return state, err
}
