package store

import (
	"context"
	"sort"
	"sync"
	"time"

	json "github.com/goccy/go-json"
)

// MemoryStore is an in-memory Store implementation.
// Suitable for testing and single-instance deployments.
type MemoryStore struct {
	mu sync.RWMutex

	events   map[string]EventRecord
	ledger   []LedgerEntry
	dlq      map[string]DLQEntry
	dlqOrder []string
	schemas  []SchemaRecord
	circuits map[string]CircuitState
	sagaLogs []SagaLog
	configs  map[string]map[string]any

	closed bool
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		events:   make(map[string]EventRecord),
		dlq:      make(map[string]DLQEntry),
		circuits: make(map[string]CircuitState),
		configs:  make(map[string]map[string]any),
	}
}

// clonePayload deep-copies a payload map through a JSON round-trip so
// callers cannot mutate stored state.
func clonePayload(payload map[string]any) map[string]any {
	if payload == nil {
		return nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return out
}

func cloneEventRecord(rec EventRecord) EventRecord {
	rec.Payload = clonePayload(rec.Payload)
	return rec
}

func cloneDLQEntry(entry DLQEntry) DLQEntry {
	entry.Payload = clonePayload(entry.Payload)
	if entry.ReplayedAt != nil {
		t := *entry.ReplayedAt
		entry.ReplayedAt = &t
	}
	return entry
}

// PutEvent inserts or replaces an event record.
func (s *MemoryStore) PutEvent(_ context.Context, rec EventRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	s.events[rec.ID] = cloneEventRecord(rec)
	return nil
}

// GetEvent retrieves an event record by ID.
func (s *MemoryStore) GetEvent(_ context.Context, id string) (EventRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return EventRecord{}, ErrStoreClosed
	}
	rec, ok := s.events[id]
	if !ok {
		return EventRecord{}, ErrNotFound
	}
	return cloneEventRecord(rec), nil
}

// MarkProcessed updates an event's processing outcome.
func (s *MemoryStore) MarkProcessed(_ context.Context, id string, processed bool, retryCount int, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	rec, ok := s.events[id]
	if !ok {
		return ErrNotFound
	}
	rec.Processed = processed
	rec.RetryCount = retryCount
	rec.LastError = lastError
	s.events[id] = rec
	return nil
}

// ListEvents returns event records matching the filter.
func (s *MemoryStore) ListEvents(_ context.Context, filter EventFilter) ([]EventRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	var result []EventRecord
	for _, rec := range s.events {
		if filter.Type != "" && rec.Type != filter.Type {
			continue
		}
		if filter.CorrelationID != "" && rec.CorrelationID != filter.CorrelationID {
			continue
		}
		if !filter.Since.IsZero() && rec.CreatedAt.Before(filter.Since) {
			continue
		}
		if !filter.Until.IsZero() && rec.CreatedAt.After(filter.Until) {
			continue
		}
		if filter.Processed != nil && rec.Processed != *filter.Processed {
			continue
		}
		result = append(result, cloneEventRecord(rec))
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

// AppendLedger appends one delivery proof entry.
func (s *MemoryStore) AppendLedger(_ context.Context, entry LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	s.ledger = append(s.ledger, entry)
	return nil
}

// HasSuccess reports whether any success entry exists for the event.
func (s *MemoryStore) HasSuccess(_ context.Context, eventID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return false, ErrStoreClosed
	}
	for _, entry := range s.ledger {
		if entry.EventID == eventID && entry.Status == LedgerSuccess {
			return true, nil
		}
	}
	return false, nil
}

// HasHandlerSuccess reports whether a success entry exists for the pair.
func (s *MemoryStore) HasHandlerSuccess(_ context.Context, eventID, handlerName string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return false, ErrStoreClosed
	}
	for _, entry := range s.ledger {
		if entry.EventID == eventID && entry.HandlerName == handlerName && entry.Status == LedgerSuccess {
			return true, nil
		}
	}
	return false, nil
}

// ListLedger returns ledger entries matching the filter.
func (s *MemoryStore) ListLedger(_ context.Context, filter LedgerFilter) ([]LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	var result []LedgerEntry
	for _, entry := range s.ledger {
		if filter.EventID != "" && entry.EventID != filter.EventID {
			continue
		}
		if filter.EventType != "" && entry.EventType != filter.EventType {
			continue
		}
		if filter.HandlerName != "" && entry.HandlerName != filter.HandlerName {
			continue
		}
		if filter.Status != "" && entry.Status != filter.Status {
			continue
		}
		result = append(result, entry)
		if filter.Limit > 0 && len(result) >= filter.Limit {
			break
		}
	}
	return result, nil
}

// MarkLedgerReplayed downgrades success entries for the event to replayed.
func (s *MemoryStore) MarkLedgerReplayed(_ context.Context, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	for i := range s.ledger {
		if s.ledger[i].EventID == eventID && s.ledger[i].Status == LedgerSuccess {
			s.ledger[i].Status = LedgerReplayed
		}
	}
	return nil
}

// InsertDLQ quarantines an unrecoverable event. Re-inserting an existing
// ID updates the latest failure while preserving the original FirstError
// and FirstSeenAt, so repeated failure cycles of one (event, handler)
// pair share a single row.
func (s *MemoryStore) InsertDLQ(_ context.Context, entry DLQEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	if existing, ok := s.dlq[entry.ID]; ok {
		entry.FirstError = existing.FirstError
		entry.FirstSeenAt = existing.FirstSeenAt
		entry.ReplayedAt = existing.ReplayedAt
		entry.ReplayedBy = existing.ReplayedBy
	} else {
		s.dlqOrder = append(s.dlqOrder, entry.ID)
	}
	s.dlq[entry.ID] = cloneDLQEntry(entry)
	return nil
}

// GetDLQ retrieves a dead-letter entry by ID.
func (s *MemoryStore) GetDLQ(_ context.Context, id string) (DLQEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return DLQEntry{}, ErrStoreClosed
	}
	entry, ok := s.dlq[id]
	if !ok {
		return DLQEntry{}, ErrNotFound
	}
	return cloneDLQEntry(entry), nil
}

// MarkDLQReplayed transitions a dead entry to replayed.
func (s *MemoryStore) MarkDLQReplayed(_ context.Context, id, operator string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	entry, ok := s.dlq[id]
	if !ok {
		return ErrNotFound
	}
	now := time.Now()
	entry.Status = DLQReplayed
	entry.ReplayedAt = &now
	entry.ReplayedBy = operator
	s.dlq[id] = entry
	return nil
}

// ListDLQ returns dead-letter entries matching the filter, oldest first.
func (s *MemoryStore) ListDLQ(_ context.Context, filter DLQFilter) ([]DLQEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	var result []DLQEntry
	for _, id := range s.dlqOrder {
		entry := s.dlq[id]
		if filter.EventType != "" && entry.EventType != filter.EventType {
			continue
		}
		if filter.Status != "" && entry.Status != filter.Status {
			continue
		}
		result = append(result, cloneDLQEntry(entry))
		if filter.Limit > 0 && len(result) >= filter.Limit {
			break
		}
	}
	return result, nil
}

// CountDLQ summarizes the dead-letter queue.
func (s *MemoryStore) CountDLQ(_ context.Context) (DLQCounts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return DLQCounts{}, ErrStoreClosed
	}

	counts := DLQCounts{ByType: make(map[string]int)}
	for _, entry := range s.dlq {
		switch entry.Status {
		case DLQDead:
			counts.Dead++
		case DLQReplayed:
			counts.Replayed++
		}
		counts.ByType[entry.EventType]++
	}
	return counts, nil
}

// PutSchema inserts or replaces a schema version.
func (s *MemoryStore) PutSchema(_ context.Context, rec SchemaRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	for i := range s.schemas {
		if s.schemas[i].EventType == rec.EventType && s.schemas[i].Version == rec.Version {
			s.schemas[i] = rec
			return nil
		}
	}
	s.schemas = append(s.schemas, rec)
	return nil
}

// ListSchemas returns every persisted schema version.
func (s *MemoryStore) ListSchemas(_ context.Context) ([]SchemaRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}
	result := make([]SchemaRecord, len(s.schemas))
	copy(result, s.schemas)
	return result, nil
}

// GetCircuit retrieves the persisted state for a service.
func (s *MemoryStore) GetCircuit(_ context.Context, serviceName string) (CircuitState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return CircuitState{}, ErrStoreClosed
	}
	state, ok := s.circuits[serviceName]
	if !ok {
		return CircuitState{}, ErrNotFound
	}
	return state, nil
}

// PutCircuit upserts the state for a service.
func (s *MemoryStore) PutCircuit(_ context.Context, state CircuitState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	s.circuits[state.ServiceName] = state
	return nil
}

// ListCircuits returns all persisted circuit states.
func (s *MemoryStore) ListCircuits(_ context.Context) ([]CircuitState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}
	result := make([]CircuitState, 0, len(s.circuits))
	for _, state := range s.circuits {
		result = append(result, state)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].ServiceName < result[j].ServiceName
	})
	return result, nil
}

// AppendSagaLog appends one saga run record.
func (s *MemoryStore) AppendSagaLog(_ context.Context, log SagaLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	s.sagaLogs = append(s.sagaLogs, log)
	return nil
}

// ListSagaLogs returns all saga run records.
func (s *MemoryStore) ListSagaLogs(_ context.Context) ([]SagaLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}
	result := make([]SagaLog, len(s.sagaLogs))
	copy(result, s.sagaLogs)
	return result, nil
}

// GetConfig retrieves a config record by key.
func (s *MemoryStore) GetConfig(_ context.Context, key string) (map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}
	value, ok := s.configs[key]
	if !ok {
		return nil, ErrNotFound
	}
	return clonePayload(value), nil
}

// PutConfig inserts or replaces a config record.
func (s *MemoryStore) PutConfig(_ context.Context, key string, value map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	s.configs[key] = clonePayload(value)
	return nil
}

// Close marks the store closed.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	return nil
}

// Compile-time check that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)
