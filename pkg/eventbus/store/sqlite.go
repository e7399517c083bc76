package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// SQLiteStore persists the record sets to SQLite.
// It is suitable for single-process production use.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// ddl creates the record sets. The partial unique index on the ledger
// enforces the at-most-one-success invariant per (event, handler) pair.
var ddl = []string{
	`CREATE TABLE IF NOT EXISTS events (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		payload BLOB,
		correlation_id TEXT NOT NULL DEFAULT '',
		source TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		processed INTEGER NOT NULL DEFAULT 0,
		retry_count INTEGER NOT NULL DEFAULT 0,
		last_error TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_events_type_created ON events(type, created_at)`,
	`CREATE TABLE IF NOT EXISTS ledger (
		event_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		handler_name TEXT NOT NULL,
		status TEXT NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		error_message TEXT NOT NULL DEFAULT '',
		last_attempt_at TEXT NOT NULL DEFAULT '',
		completed_at TEXT NOT NULL DEFAULT '',
		delivery_confirmed_at TEXT NOT NULL DEFAULT '',
		handler_ack INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_ledger_event ON ledger(event_id)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_ledger_success
		ON ledger(event_id, handler_name) WHERE status = 'success'`,
	`CREATE TABLE IF NOT EXISTS dlq (
		id TEXT PRIMARY KEY,
		event_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		handler_name TEXT NOT NULL DEFAULT '',
		payload BLOB,
		error_message TEXT NOT NULL DEFAULT '',
		first_error TEXT NOT NULL DEFAULT '',
		attempt_count INTEGER NOT NULL DEFAULT 0,
		failure_reason TEXT NOT NULL,
		status TEXT NOT NULL,
		first_seen_at TEXT NOT NULL,
		last_attempt_at TEXT NOT NULL DEFAULT '',
		replayed_at TEXT NOT NULL DEFAULT '',
		replayed_by TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_dlq_status ON dlq(status, event_type)`,
	`CREATE TABLE IF NOT EXISTS schemas (
		event_type TEXT NOT NULL,
		version TEXT NOT NULL,
		required BLOB,
		optional BLOB,
		registered_at TEXT NOT NULL,
		PRIMARY KEY (event_type, version)
	)`,
	`CREATE TABLE IF NOT EXISTS circuits (
		service_name TEXT PRIMARY KEY,
		state TEXT NOT NULL,
		failure_count INTEGER NOT NULL DEFAULT 0,
		last_failure_at TEXT NOT NULL DEFAULT '',
		last_success_at TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS saga_logs (
		saga_id TEXT NOT NULL,
		name TEXT NOT NULL,
		status TEXT NOT NULL,
		failed_step TEXT NOT NULL DEFAULT '',
		completed_steps BLOB,
		compensation_errors BLOB,
		error TEXT NOT NULL DEFAULT '',
		started_at TEXT NOT NULL,
		finished_at TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS configs (
		key TEXT PRIMARY KEY,
		value BLOB NOT NULL
	)`,
}

// NewSQLiteStore creates a new SQLite-backed store.
// The path should be a file path (e.g., "./eventbus.db") or ":memory:" for testing.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Enable WAL mode for better concurrent read performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	for _, stmt := range ddl {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("create schema: %w", err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func marshalJSON(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

func unmarshalPayload(data []byte) map[string]any {
	if len(data) == 0 {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return out
}

// PutEvent inserts or replaces an event record.
func (s *SQLiteStore) PutEvent(ctx context.Context, rec EventRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	payload, err := marshalJSON(rec.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO events (id, type, payload, correlation_id, source, created_at, processed, retry_count, last_error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			type = excluded.type,
			payload = excluded.payload,
			correlation_id = excluded.correlation_id,
			source = excluded.source,
			processed = excluded.processed,
			retry_count = excluded.retry_count,
			last_error = excluded.last_error
	`, rec.ID, rec.Type, payload, rec.CorrelationID, rec.Source,
		formatTime(rec.CreatedAt), rec.Processed, rec.RetryCount, rec.LastError)
	if err != nil {
		return fmt.Errorf("put event: %w", err)
	}
	return nil
}

func scanEvent(scan func(...any) error) (EventRecord, error) {
	var rec EventRecord
	var payload []byte
	var createdAt string
	if err := scan(&rec.ID, &rec.Type, &payload, &rec.CorrelationID, &rec.Source,
		&createdAt, &rec.Processed, &rec.RetryCount, &rec.LastError); err != nil {
		return EventRecord{}, err
	}
	rec.Payload = unmarshalPayload(payload)
	rec.CreatedAt = parseTime(createdAt)
	return rec, nil
}

// GetEvent retrieves an event record by ID.
func (s *SQLiteStore) GetEvent(ctx context.Context, id string) (EventRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return EventRecord{}, ErrStoreClosed
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, type, payload, correlation_id, source, created_at, processed, retry_count, last_error
		FROM events WHERE id = ?
	`, id)
	rec, err := scanEvent(row.Scan)
	if err == sql.ErrNoRows {
		return EventRecord{}, ErrNotFound
	}
	if err != nil {
		return EventRecord{}, fmt.Errorf("get event: %w", err)
	}
	return rec, nil
}

// MarkProcessed updates an event's processing outcome.
func (s *SQLiteStore) MarkProcessed(ctx context.Context, id string, processed bool, retryCount int, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE events SET processed = ?, retry_count = ?, last_error = ?
		WHERE id = ?
	`, processed, retryCount, lastError, id)
	if err != nil {
		return fmt.Errorf("mark processed: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListEvents returns event records matching the filter, oldest first.
func (s *SQLiteStore) ListEvents(ctx context.Context, filter EventFilter) ([]EventRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	query := `
		SELECT id, type, payload, correlation_id, source, created_at, processed, retry_count, last_error
		FROM events WHERE 1=1`
	var args []any
	if filter.Type != "" {
		query += " AND type = ?"
		args = append(args, filter.Type)
	}
	if filter.CorrelationID != "" {
		query += " AND correlation_id = ?"
		args = append(args, filter.CorrelationID)
	}
	if !filter.Since.IsZero() {
		query += " AND created_at >= ?"
		args = append(args, formatTime(filter.Since))
	}
	if !filter.Until.IsZero() {
		query += " AND created_at <= ?"
		args = append(args, formatTime(filter.Until))
	}
	if filter.Processed != nil {
		query += " AND processed = ?"
		args = append(args, *filter.Processed)
	}
	query += " ORDER BY created_at"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var result []EventRecord
	for rows.Next() {
		rec, err := scanEvent(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return result, nil
}

// AppendLedger appends one delivery proof entry.
func (s *SQLiteStore) AppendLedger(ctx context.Context, entry LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ledger (event_id, event_type, handler_name, status, attempts,
			error_message, last_attempt_at, completed_at, delivery_confirmed_at, handler_ack)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, entry.EventID, entry.EventType, entry.HandlerName, string(entry.Status), entry.Attempts,
		entry.ErrorMessage, formatTime(entry.LastAttemptAt), formatTime(entry.CompletedAt),
		formatTime(entry.DeliveryConfirmedAt), entry.HandlerAck)
	if err != nil {
		return fmt.Errorf("append ledger: %w", err)
	}
	return nil
}

// HasSuccess reports whether any success entry exists for the event.
func (s *SQLiteStore) HasSuccess(ctx context.Context, eventID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return false, ErrStoreClosed
	}

	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(1) FROM ledger WHERE event_id = ? AND status = 'success'
	`, eventID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("query ledger: %w", err)
	}
	return n > 0, nil
}

// HasHandlerSuccess reports whether a success entry exists for the pair.
func (s *SQLiteStore) HasHandlerSuccess(ctx context.Context, eventID, handlerName string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return false, ErrStoreClosed
	}

	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(1) FROM ledger WHERE event_id = ? AND handler_name = ? AND status = 'success'
	`, eventID, handlerName).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("query ledger: %w", err)
	}
	return n > 0, nil
}

// ListLedger returns ledger entries matching the filter.
func (s *SQLiteStore) ListLedger(ctx context.Context, filter LedgerFilter) ([]LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	query := `
		SELECT event_id, event_type, handler_name, status, attempts,
			error_message, last_attempt_at, completed_at, delivery_confirmed_at, handler_ack
		FROM ledger WHERE 1=1`
	var args []any
	if filter.EventID != "" {
		query += " AND event_id = ?"
		args = append(args, filter.EventID)
	}
	if filter.EventType != "" {
		query += " AND event_type = ?"
		args = append(args, filter.EventType)
	}
	if filter.HandlerName != "" {
		query += " AND handler_name = ?"
		args = append(args, filter.HandlerName)
	}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, string(filter.Status))
	}
	query += " ORDER BY last_attempt_at"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list ledger: %w", err)
	}
	defer rows.Close()

	var result []LedgerEntry
	for rows.Next() {
		var entry LedgerEntry
		var status, lastAttempt, completed, confirmed string
		if err := rows.Scan(&entry.EventID, &entry.EventType, &entry.HandlerName, &status,
			&entry.Attempts, &entry.ErrorMessage, &lastAttempt, &completed, &confirmed,
			&entry.HandlerAck); err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		entry.Status = LedgerStatus(status)
		entry.LastAttemptAt = parseTime(lastAttempt)
		entry.CompletedAt = parseTime(completed)
		entry.DeliveryConfirmedAt = parseTime(confirmed)
		result = append(result, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ledger: %w", err)
	}
	return result, nil
}

// MarkLedgerReplayed downgrades success entries for the event to replayed.
func (s *SQLiteStore) MarkLedgerReplayed(ctx context.Context, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	_, err := s.db.ExecContext(ctx, `
		UPDATE ledger SET status = 'replayed' WHERE event_id = ? AND status = 'success'
	`, eventID)
	if err != nil {
		return fmt.Errorf("mark ledger replayed: %w", err)
	}
	return nil
}

// InsertDLQ quarantines an unrecoverable event. Re-inserting an existing
// ID updates the latest failure while preserving the original first_error
// and first_seen_at, so repeated failure cycles of one (event, handler)
// pair share a single row.
func (s *SQLiteStore) InsertDLQ(ctx context.Context, entry DLQEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	payload, err := marshalJSON(entry.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	var replayedAt string
	if entry.ReplayedAt != nil {
		replayedAt = formatTime(*entry.ReplayedAt)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO dlq (id, event_id, event_type, handler_name, payload, error_message, first_error,
			attempt_count, failure_reason, status, first_seen_at, last_attempt_at, replayed_at, replayed_by)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			payload = excluded.payload,
			error_message = excluded.error_message,
			attempt_count = excluded.attempt_count,
			failure_reason = excluded.failure_reason,
			status = excluded.status,
			last_attempt_at = excluded.last_attempt_at
	`, entry.ID, entry.EventID, entry.EventType, entry.HandlerName, payload, entry.ErrorMessage, entry.FirstError,
		entry.AttemptCount, entry.FailureReason, string(entry.Status),
		formatTime(entry.FirstSeenAt), formatTime(entry.LastAttemptAt), replayedAt, entry.ReplayedBy)
	if err != nil {
		return fmt.Errorf("insert dlq entry: %w", err)
	}
	return nil
}

func scanDLQ(scan func(...any) error) (DLQEntry, error) {
	var entry DLQEntry
	var payload []byte
	var status, firstSeen, lastAttempt, replayedAt string
	if err := scan(&entry.ID, &entry.EventID, &entry.EventType, &entry.HandlerName, &payload,
		&entry.ErrorMessage, &entry.FirstError, &entry.AttemptCount, &entry.FailureReason,
		&status, &firstSeen, &lastAttempt, &replayedAt, &entry.ReplayedBy); err != nil {
		return DLQEntry{}, err
	}
	entry.Payload = unmarshalPayload(payload)
	entry.Status = DLQStatus(status)
	entry.FirstSeenAt = parseTime(firstSeen)
	entry.LastAttemptAt = parseTime(lastAttempt)
	if replayedAt != "" {
		t := parseTime(replayedAt)
		entry.ReplayedAt = &t
	}
	return entry, nil
}

// GetDLQ retrieves a dead-letter entry by ID.
func (s *SQLiteStore) GetDLQ(ctx context.Context, id string) (DLQEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return DLQEntry{}, ErrStoreClosed
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, event_id, event_type, handler_name, payload, error_message, first_error,
			attempt_count, failure_reason, status, first_seen_at, last_attempt_at, replayed_at, replayed_by
		FROM dlq WHERE id = ?
	`, id)
	entry, err := scanDLQ(row.Scan)
	if err == sql.ErrNoRows {
		return DLQEntry{}, ErrNotFound
	}
	if err != nil {
		return DLQEntry{}, fmt.Errorf("get dlq entry: %w", err)
	}
	return entry, nil
}

// MarkDLQReplayed transitions a dead entry to replayed.
func (s *SQLiteStore) MarkDLQReplayed(ctx context.Context, id, operator string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE dlq SET status = 'replayed', replayed_at = ?, replayed_by = ?
		WHERE id = ?
	`, formatTime(time.Now()), operator, id)
	if err != nil {
		return fmt.Errorf("mark dlq replayed: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListDLQ returns dead-letter entries matching the filter, oldest first.
func (s *SQLiteStore) ListDLQ(ctx context.Context, filter DLQFilter) ([]DLQEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	query := `
		SELECT id, event_id, event_type, handler_name, payload, error_message, first_error,
			attempt_count, failure_reason, status, first_seen_at, last_attempt_at, replayed_at, replayed_by
		FROM dlq WHERE 1=1`
	var args []any
	if filter.EventType != "" {
		query += " AND event_type = ?"
		args = append(args, filter.EventType)
	}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, string(filter.Status))
	}
	query += " ORDER BY first_seen_at"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list dlq: %w", err)
	}
	defer rows.Close()

	var result []DLQEntry
	for rows.Next() {
		entry, err := scanDLQ(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan dlq entry: %w", err)
		}
		result = append(result, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dlq: %w", err)
	}
	return result, nil
}

// CountDLQ summarizes the dead-letter queue.
func (s *SQLiteStore) CountDLQ(ctx context.Context) (DLQCounts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return DLQCounts{}, ErrStoreClosed
	}

	counts := DLQCounts{ByType: make(map[string]int)}
	rows, err := s.db.QueryContext(ctx, `SELECT event_type, status, COUNT(1) FROM dlq GROUP BY event_type, status`)
	if err != nil {
		return DLQCounts{}, fmt.Errorf("count dlq: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var eventType, status string
		var n int
		if err := rows.Scan(&eventType, &status, &n); err != nil {
			return DLQCounts{}, fmt.Errorf("scan dlq count: %w", err)
		}
		switch DLQStatus(status) {
		case DLQDead:
			counts.Dead += n
		case DLQReplayed:
			counts.Replayed += n
		}
		counts.ByType[eventType] += n
	}
	if err := rows.Err(); err != nil {
		return DLQCounts{}, fmt.Errorf("iterate dlq counts: %w", err)
	}
	return counts, nil
}

// PutSchema inserts or replaces a schema version.
func (s *SQLiteStore) PutSchema(ctx context.Context, rec SchemaRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	required, err := marshalJSON(rec.Required)
	if err != nil {
		return fmt.Errorf("marshal required fields: %w", err)
	}
	optional, err := marshalJSON(rec.Optional)
	if err != nil {
		return fmt.Errorf("marshal optional fields: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO schemas (event_type, version, required, optional, registered_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(event_type, version) DO UPDATE SET
			required = excluded.required,
			optional = excluded.optional
	`, rec.EventType, rec.Version, required, optional, formatTime(rec.RegisteredAt))
	if err != nil {
		return fmt.Errorf("put schema: %w", err)
	}
	return nil
}

// ListSchemas returns every persisted schema version.
func (s *SQLiteStore) ListSchemas(ctx context.Context) ([]SchemaRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT event_type, version, required, optional, registered_at FROM schemas
	`)
	if err != nil {
		return nil, fmt.Errorf("list schemas: %w", err)
	}
	defer rows.Close()

	var result []SchemaRecord
	for rows.Next() {
		var rec SchemaRecord
		var required, optional []byte
		var registeredAt string
		if err := rows.Scan(&rec.EventType, &rec.Version, &required, &optional, &registeredAt); err != nil {
			return nil, fmt.Errorf("scan schema: %w", err)
		}
		if len(required) > 0 {
			if err := json.Unmarshal(required, &rec.Required); err != nil {
				return nil, fmt.Errorf("unmarshal required fields: %w", err)
			}
		}
		if len(optional) > 0 {
			if err := json.Unmarshal(optional, &rec.Optional); err != nil {
				return nil, fmt.Errorf("unmarshal optional fields: %w", err)
			}
		}
		rec.RegisteredAt = parseTime(registeredAt)
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate schemas: %w", err)
	}
	return result, nil
}

// GetCircuit retrieves the persisted state for a service.
func (s *SQLiteStore) GetCircuit(ctx context.Context, serviceName string) (CircuitState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return CircuitState{}, ErrStoreClosed
	}

	var state CircuitState
	var stateValue, lastFailure, lastSuccess string
	err := s.db.QueryRowContext(ctx, `
		SELECT service_name, state, failure_count, last_failure_at, last_success_at
		FROM circuits WHERE service_name = ?
	`, serviceName).Scan(&state.ServiceName, &stateValue, &state.FailureCount, &lastFailure, &lastSuccess)
	if err == sql.ErrNoRows {
		return CircuitState{}, ErrNotFound
	}
	if err != nil {
		return CircuitState{}, fmt.Errorf("get circuit: %w", err)
	}
	state.State = CircuitStateValue(stateValue)
	state.LastFailureAt = parseTime(lastFailure)
	state.LastSuccessAt = parseTime(lastSuccess)
	return state, nil
}

// PutCircuit upserts the state for a service.
func (s *SQLiteStore) PutCircuit(ctx context.Context, state CircuitState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO circuits (service_name, state, failure_count, last_failure_at, last_success_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(service_name) DO UPDATE SET
			state = excluded.state,
			failure_count = excluded.failure_count,
			last_failure_at = excluded.last_failure_at,
			last_success_at = excluded.last_success_at
	`, state.ServiceName, string(state.State), state.FailureCount,
		formatTime(state.LastFailureAt), formatTime(state.LastSuccessAt))
	if err != nil {
		return fmt.Errorf("put circuit: %w", err)
	}
	return nil
}

// ListCircuits returns all persisted circuit states.
func (s *SQLiteStore) ListCircuits(ctx context.Context) ([]CircuitState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT service_name, state, failure_count, last_failure_at, last_success_at
		FROM circuits ORDER BY service_name
	`)
	if err != nil {
		return nil, fmt.Errorf("list circuits: %w", err)
	}
	defer rows.Close()

	var result []CircuitState
	for rows.Next() {
		var state CircuitState
		var stateValue, lastFailure, lastSuccess string
		if err := rows.Scan(&state.ServiceName, &stateValue, &state.FailureCount, &lastFailure, &lastSuccess); err != nil {
			return nil, fmt.Errorf("scan circuit: %w", err)
		}
		state.State = CircuitStateValue(stateValue)
		state.LastFailureAt = parseTime(lastFailure)
		state.LastSuccessAt = parseTime(lastSuccess)
		result = append(result, state)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate circuits: %w", err)
	}
	return result, nil
}

// AppendSagaLog appends one saga run record.
func (s *SQLiteStore) AppendSagaLog(ctx context.Context, log SagaLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	completed, err := marshalJSON(log.CompletedSteps)
	if err != nil {
		return fmt.Errorf("marshal completed steps: %w", err)
	}
	compErrors, err := marshalJSON(log.CompensationErrors)
	if err != nil {
		return fmt.Errorf("marshal compensation errors: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO saga_logs (saga_id, name, status, failed_step, completed_steps,
			compensation_errors, error, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, log.SagaID, log.Name, log.Status, log.FailedStep, completed, compErrors,
		log.Error, formatTime(log.StartedAt), formatTime(log.FinishedAt))
	if err != nil {
		return fmt.Errorf("append saga log: %w", err)
	}
	return nil
}

// ListSagaLogs returns all saga run records.
func (s *SQLiteStore) ListSagaLogs(ctx context.Context) ([]SagaLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT saga_id, name, status, failed_step, completed_steps, compensation_errors, error, started_at, finished_at
		FROM saga_logs ORDER BY started_at
	`)
	if err != nil {
		return nil, fmt.Errorf("list saga logs: %w", err)
	}
	defer rows.Close()

	var result []SagaLog
	for rows.Next() {
		var log SagaLog
		var completed, compErrors []byte
		var startedAt, finishedAt string
		if err := rows.Scan(&log.SagaID, &log.Name, &log.Status, &log.FailedStep,
			&completed, &compErrors, &log.Error, &startedAt, &finishedAt); err != nil {
			return nil, fmt.Errorf("scan saga log: %w", err)
		}
		if len(completed) > 0 {
			if err := json.Unmarshal(completed, &log.CompletedSteps); err != nil {
				return nil, fmt.Errorf("unmarshal completed steps: %w", err)
			}
		}
		if len(compErrors) > 0 {
			if err := json.Unmarshal(compErrors, &log.CompensationErrors); err != nil {
				return nil, fmt.Errorf("unmarshal compensation errors: %w", err)
			}
		}
		log.StartedAt = parseTime(startedAt)
		log.FinishedAt = parseTime(finishedAt)
		result = append(result, log)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate saga logs: %w", err)
	}
	return result, nil
}

// GetConfig retrieves a config record by key.
func (s *SQLiteStore) GetConfig(ctx context.Context, key string) (map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM configs WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get config: %w", err)
	}

	var out map[string]any
	if err := json.Unmarshal(value, &out); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return out, nil
}

// PutConfig inserts or replaces a config record.
func (s *SQLiteStore) PutConfig(ctx context.Context, key string, value map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO configs (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, data)
	if err != nil {
		return fmt.Errorf("put config: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// Compile-time check that SQLiteStore implements Store.
var _ Store = (*SQLiteStore)(nil)
