// Package store provides the durable ledger substrate for the event bus.
//
// A Store holds the four logical record sets the delivery pipeline relies
// on (events, delivery ledger, dead-letter queue, schema catalog) plus the
// auxiliary sets used by the resilience primitives (circuit states, saga
// logs, config records). All durability is delegated here; the pipeline
// relies on the store's single-row atomicity for its idempotency check and
// adds no distributed locking of its own.
//
// Two implementations are provided:
//   - MemoryStore: mutex-guarded maps, for tests and single-instance use
//   - SQLiteStore: a durable single-file store backed by modernc.org/sqlite
package store

import (
	"context"
	"errors"
)

// Store errors.
var (
	// ErrStoreClosed is returned when operating on a closed store.
	ErrStoreClosed = errors.New("store is closed")

	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")
)

// Store is the abstract ledger store contract.
// Implementations must be safe for concurrent use.
type Store interface {
	// Events.

	// PutEvent inserts or replaces an event record.
	PutEvent(ctx context.Context, rec EventRecord) error

	// GetEvent retrieves an event record by ID.
	GetEvent(ctx context.Context, id string) (EventRecord, error)

	// MarkProcessed updates an event's processing outcome.
	MarkProcessed(ctx context.Context, id string, processed bool, retryCount int, lastError string) error

	// ListEvents returns event records matching the filter, newest last.
	ListEvents(ctx context.Context, filter EventFilter) ([]EventRecord, error)

	// Delivery ledger.

	// AppendLedger appends one delivery proof entry.
	AppendLedger(ctx context.Context, entry LedgerEntry) error

	// HasSuccess reports whether any success entry exists for the event.
	HasSuccess(ctx context.Context, eventID string) (bool, error)

	// HasHandlerSuccess reports whether a success entry exists for the
	// (event, handler) pair.
	HasHandlerSuccess(ctx context.Context, eventID, handlerName string) (bool, error)

	// ListLedger returns ledger entries matching the filter.
	ListLedger(ctx context.Context, filter LedgerFilter) ([]LedgerEntry, error)

	// MarkLedgerReplayed downgrades existing success entries for the event
	// to replayed so a replay cycle can record fresh delivery proof.
	MarkLedgerReplayed(ctx context.Context, eventID string) error

	// Dead-letter queue.

	// InsertDLQ quarantines an unrecoverable event.
	InsertDLQ(ctx context.Context, entry DLQEntry) error

	// GetDLQ retrieves a dead-letter entry by ID.
	GetDLQ(ctx context.Context, id string) (DLQEntry, error)

	// MarkDLQReplayed transitions a dead entry to replayed.
	MarkDLQReplayed(ctx context.Context, id, operator string) error

	// ListDLQ returns dead-letter entries matching the filter.
	ListDLQ(ctx context.Context, filter DLQFilter) ([]DLQEntry, error)

	// CountDLQ summarizes the dead-letter queue.
	CountDLQ(ctx context.Context) (DLQCounts, error)

	// Schema catalog.

	// PutSchema inserts or replaces a schema version.
	PutSchema(ctx context.Context, rec SchemaRecord) error

	// ListSchemas returns every persisted schema version.
	ListSchemas(ctx context.Context) ([]SchemaRecord, error)

	// Circuit states.

	// GetCircuit retrieves the persisted state for a service.
	GetCircuit(ctx context.Context, serviceName string) (CircuitState, error)

	// PutCircuit upserts the state for a service.
	PutCircuit(ctx context.Context, state CircuitState) error

	// ListCircuits returns all persisted circuit states.
	ListCircuits(ctx context.Context) ([]CircuitState, error)

	// Saga logs.

	// AppendSagaLog appends one saga run record.
	AppendSagaLog(ctx context.Context, log SagaLog) error

	// ListSagaLogs returns all saga run records.
	ListSagaLogs(ctx context.Context) ([]SagaLog, error)

	// Config records.

	// GetConfig retrieves a config record by key.
	GetConfig(ctx context.Context, key string) (map[string]any, error)

	// PutConfig inserts or replaces a config record.
	PutConfig(ctx context.Context, key string, value map[string]any) error

	// Close releases store resources.
	Close() error
}
