// Package router implements the tri-modal dispatch pipeline.
//
// Dispatch classifies each event into one of three lanes: ROUND events go
// to the round scheduler, PRIORITY_QUEUE events go to the urgent queue,
// and plain EVENT traffic runs through the direct delivery pipeline
// (persist, dedupe, validate, execute with bounded retry, record delivery
// proof, quarantine failures). Lane handoff failures degrade to the direct
// pipeline so no event is silently dropped.
package router

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/rickfelix/EHG-Engineer-sub004/pkg/eventbus/breaker"
	"github.com/rickfelix/EHG-Engineer-sub004/pkg/eventbus/event"
	"github.com/rickfelix/EHG-Engineer-sub004/pkg/eventbus/observability"
	"github.com/rickfelix/EHG-Engineer-sub004/pkg/eventbus/routing"
	"github.com/rickfelix/EHG-Engineer-sub004/pkg/eventbus/schema"
	"github.com/rickfelix/EHG-Engineer-sub004/pkg/eventbus/store"
)

// Default dispatch settings.
const (
	DefaultMaxRetries = 3
	DefaultBaseDelay  = 250 * time.Millisecond
	DefaultMultiplier = 2.0
)

// Router errors.
var (
	// ErrEmptyEventType is returned by Dispatch for an event with no type.
	ErrEmptyEventType = errors.New("event type is required")

	// ErrDLQEntryNotFound is returned by ReplayDLQ for an unknown entry.
	ErrDLQEntryNotFound = errors.New("dlq_entry_not_found")

	// ErrAlreadyReplayed is returned by ReplayDLQ for an entry that has
	// already been replayed.
	ErrAlreadyReplayed = errors.New("already_replayed")
)

// RoundScheduler receives events classified into the ROUND lane.
type RoundScheduler interface {
	Schedule(ctx context.Context, evt event.Event) error
}

// SchedulerFunc adapts a function to the RoundScheduler interface.
type SchedulerFunc func(ctx context.Context, evt event.Event) error

// Schedule implements RoundScheduler.
func (f SchedulerFunc) Schedule(ctx context.Context, evt event.Event) error {
	return f(ctx, evt)
}

// UrgentQueue receives events classified into the PRIORITY_QUEUE lane.
// Preempt signals that the event should jump ahead of non-urgent work.
type UrgentQueue interface {
	Enqueue(ctx context.Context, evt event.Event, preempt bool) error
}

// UrgentFunc adapts a function to the UrgentQueue interface.
type UrgentFunc func(ctx context.Context, evt event.Event, preempt bool) error

// Enqueue implements UrgentQueue.
func (f UrgentFunc) Enqueue(ctx context.Context, evt event.Event, preempt bool) error {
	return f(ctx, evt, preempt)
}

// Config configures a Router.
type Config struct {
	// Store is the durable ledger store. Required.
	Store store.Store

	// Handlers is the handler registry. Default: an empty isolated registry.
	Handlers *event.Registry

	// Schemas validates payloads for event types with a registered schema.
	// Types without one fall back to the hardcoded per-type rules.
	Schemas *schema.Registry

	// Strategies serves the hot-reloadable routing override table.
	// Nil means the hardcoded classifier alone.
	Strategies *routing.Loader

	// Scheduler receives ROUND-lane events. Nil degrades that lane to the
	// direct pipeline.
	Scheduler RoundScheduler

	// Urgent receives PRIORITY_QUEUE-lane events. Nil degrades that lane
	// to the direct pipeline.
	Urgent UrgentQueue

	// Breaker is exposed to handlers through their Context. Optional.
	Breaker *breaker.Breaker

	// Logger for pipeline events. Default: slog.Default()
	Logger *slog.Logger

	// Metrics receives pipeline counters. Default: no-op.
	Metrics observability.MetricsRecorder
}

// Router dispatches events through the tri-modal pipeline.
type Router struct {
	store      store.Store
	handlers   *event.Registry
	schemas    *schema.Registry
	strategies *routing.Loader
	scheduler  RoundScheduler
	urgent     UrgentQueue
	breaker    *breaker.Breaker
	logger     *slog.Logger
	metrics    observability.MetricsRecorder
}

// New creates a router.
func New(cfg Config) (*Router, error) {
	if cfg.Store == nil {
		return nil, errors.New("router: store is required")
	}
	if cfg.Handlers == nil {
		cfg.Handlers = event.NewRegistry()
	}
	if cfg.Schemas == nil {
		cfg.Schemas = schema.NewRegistry()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observability.NoopMetrics{}
	}
	return &Router{
		store:      cfg.Store,
		handlers:   cfg.Handlers,
		schemas:    cfg.Schemas,
		strategies: cfg.Strategies,
		scheduler:  cfg.Scheduler,
		urgent:     cfg.Urgent,
		breaker:    cfg.Breaker,
		logger:     cfg.Logger,
		metrics:    cfg.Metrics,
	}, nil
}

// Handlers returns the router's handler registry.
func (r *Router) Handlers() *event.Registry {
	return r.handlers
}

// Store returns the router's ledger store.
func (r *Router) Store() store.Store {
	return r.store
}

// DispatchOptions control one dispatch.
type DispatchOptions struct {
	// MaxRetries caps the total delivery attempts per handler. The
	// effective ceiling is the minimum of this value and the handler's own
	// registration cap. Default: 3
	MaxRetries int

	// BaseDelay is the first retry backoff interval. Default: 250ms
	BaseDelay time.Duration

	// Multiplier grows the backoff interval per attempt. Default: 2.0
	Multiplier float64

	// Persist controls durable writes. When false (fire-and-forget) each
	// handler runs exactly once with no event record, ledger proof, or
	// dead-letter quarantine. Governance events are always persisted.
	Persist bool
}

// DispatchOption mutates the dispatch options.
type DispatchOption func(*DispatchOptions)

// WithMaxRetries caps total delivery attempts per handler.
func WithMaxRetries(n int) DispatchOption {
	return func(o *DispatchOptions) {
		o.MaxRetries = n
	}
}

// WithBaseDelay sets the first retry backoff interval.
func WithBaseDelay(d time.Duration) DispatchOption {
	return func(o *DispatchOptions) {
		o.BaseDelay = d
	}
}

// WithMultiplier sets the backoff growth factor.
func WithMultiplier(m float64) DispatchOption {
	return func(o *DispatchOptions) {
		o.Multiplier = m
	}
}

// FireAndForget disables durable writes and retries for this dispatch.
func FireAndForget() DispatchOption {
	return func(o *DispatchOptions) {
		o.Persist = false
	}
}

// newDispatchOptions applies defaults then the caller's options.
func newDispatchOptions(opts []DispatchOption) DispatchOptions {
	o := DispatchOptions{
		MaxRetries: DefaultMaxRetries,
		BaseDelay:  DefaultBaseDelay,
		Multiplier: DefaultMultiplier,
		Persist:    true,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = 1
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = DefaultBaseDelay
	}
	if o.Multiplier < 1 {
		o.Multiplier = DefaultMultiplier
	}
	return o
}

// Dispatch routes one event. The returned error is reserved for malformed
// input (an empty event type); every processing outcome, including total
// handler failure, is reported through the Result status.
func (r *Router) Dispatch(ctx context.Context, evt event.Event, opts ...DispatchOption) (*Result, error) {
	if evt.Type == "" {
		return nil, ErrEmptyEventType
	}
	if evt.ID == "" {
		evt = event.New(evt.Type, evt.Payload,
			event.WithCorrelationID(evt.CorrelationID),
			event.WithSource(evt.Source),
		)
	}
	if evt.CreatedAt.IsZero() {
		evt.CreatedAt = time.Now()
	}

	options := newDispatchOptions(opts)

	mode := r.classify(ctx, evt)
	modality := routing.ClassifyModality(evt.Type, evt.Payload)

	// Governance traffic is never fire-and-forget.
	if routing.IsGovernance(evt.Type) {
		options.Persist = true
	}

	start := time.Now()
	observability.LogDispatchStart(r.logger, evt.ID, evt.Type, string(mode))
	ctx, span := observability.StartDispatchSpan(ctx, evt.ID, evt.Type, string(mode))

	result := r.route(ctx, evt, mode, options)
	result.Mode = mode
	result.Modality = modality
	result.Elapsed = time.Since(start)

	observability.LogDispatchComplete(r.logger, evt.ID, evt.Type, string(result.Status), result.Elapsed)
	observability.EndDispatchSpan(span, string(result.Status), nil)
	r.metrics.RecordDispatch(ctx, evt.Type, string(result.Status), result.Elapsed)
	return result, nil
}

// classify resolves the routing mode through the strategy loader when one
// is configured, else the hardcoded classifier.
func (r *Router) classify(ctx context.Context, evt event.Event) routing.Mode {
	if r.strategies != nil {
		return r.strategies.Classify(ctx, evt.Type, evt.Payload)
	}
	return routing.ClassifyMode(evt.Type, evt.Payload)
}

// route hands the event to its lane, degrading to the direct pipeline when
// a lane is unconfigured or its handoff fails.
func (r *Router) route(ctx context.Context, evt event.Event, mode routing.Mode, options DispatchOptions) *Result {
	switch mode {
	case routing.ModeRound:
		if r.scheduler != nil {
			err := r.scheduler.Schedule(ctx, evt)
			if err == nil {
				return &Result{EventID: evt.ID, EventType: evt.Type, Status: StatusScheduled}
			}
			r.logger.Warn("round scheduling failed, falling back to direct pipeline",
				slog.String("event_id", evt.ID),
				slog.String("error", err.Error()),
			)
		}
	case routing.ModePriorityQueue:
		if r.urgent != nil {
			// The urgent lane persists the event record up front so the
			// queue consumer can recover it after a crash.
			if options.Persist {
				if err := r.putEvent(ctx, evt); err != nil {
					r.logger.Warn("urgent-lane event persistence failed",
						slog.String("event_id", evt.ID),
						slog.String("error", err.Error()),
					)
				}
			}
			err := r.urgent.Enqueue(ctx, evt, true)
			if err == nil {
				return &Result{EventID: evt.ID, EventType: evt.Type, Status: StatusQueued}
			}
			r.logger.Warn("urgent enqueue failed, falling back to direct pipeline",
				slog.String("event_id", evt.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	return r.deliver(ctx, evt, options)
}

// putEvent writes the durable event record.
func (r *Router) putEvent(ctx context.Context, evt event.Event) error {
	return r.store.PutEvent(ctx, store.EventRecord{
		ID:            evt.ID,
		Type:          evt.Type,
		Payload:       evt.Payload,
		CorrelationID: evt.CorrelationID,
		Source:        evt.Source,
		CreatedAt:     evt.CreatedAt,
	})
}
