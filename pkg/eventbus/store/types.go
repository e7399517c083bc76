package store

import "time"

// LedgerStatus is the delivery state recorded in a ledger entry.
type LedgerStatus string

// Ledger entry statuses.
const (
	LedgerSuccess  LedgerStatus = "success"
	LedgerDead     LedgerStatus = "dead"
	LedgerReplayed LedgerStatus = "replayed"
)

// DLQStatus is the lifecycle state of a dead-letter entry.
// The transition is monotonic: dead -> replayed, never back.
type DLQStatus string

// Dead-letter entry statuses.
const (
	DLQDead     DLQStatus = "dead"
	DLQReplayed DLQStatus = "replayed"
)

// CircuitStateValue is the gate position of a circuit breaker.
type CircuitStateValue string

// Circuit breaker states.
const (
	CircuitClosed CircuitStateValue = "CLOSED"
	CircuitOpen   CircuitStateValue = "OPEN"
)

// EventRecord is the durable form of an event plus its processing state.
// The Processed flag is flipped to true only when every registered handler
// has succeeded.
type EventRecord struct {
	ID            string         `json:"id"`
	Type          string         `json:"type"`
	Payload       map[string]any `json:"payload"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	Source        string         `json:"source,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`

	Processed  bool   `json:"processed"`
	RetryCount int    `json:"retry_count"`
	LastError  string `json:"last_error,omitempty"`
}

// LedgerEntry is durable proof of one delivery attempt cycle for a single
// (event, handler) pair. Entries are append-only; at most one success entry
// exists per pair.
type LedgerEntry struct {
	EventID             string       `json:"event_id"`
	EventType           string       `json:"event_type"`
	HandlerName         string       `json:"handler_name"`
	Status              LedgerStatus `json:"status"`
	Attempts            int          `json:"attempts"`
	ErrorMessage        string       `json:"error_message,omitempty"`
	LastAttemptAt       time.Time    `json:"last_attempt_at"`
	CompletedAt         time.Time    `json:"completed_at,omitempty"`
	DeliveryConfirmedAt time.Time    `json:"delivery_confirmed_at,omitempty"`
	HandlerAck          bool         `json:"handler_ack"`
}

// DLQEntry is a quarantined event that failed validation or exhausted its
// retries. The ID is "eventID:handlerName", so one row exists per failing
// (event, handler) pair; re-quarantining the pair upserts that row.
// FirstError preserves the root cause when the final error differs from
// the one that started the failure cycle.
type DLQEntry struct {
	ID            string         `json:"id"`
	EventID       string         `json:"event_id"`
	EventType     string         `json:"event_type"`
	HandlerName   string         `json:"handler_name"`
	Payload       map[string]any `json:"payload"`
	ErrorMessage  string         `json:"error_message"`
	FirstError    string         `json:"first_error,omitempty"`
	AttemptCount  int            `json:"attempt_count"`
	FailureReason string         `json:"failure_reason"`
	Status        DLQStatus      `json:"status"`
	FirstSeenAt   time.Time      `json:"first_seen_at"`
	LastAttemptAt time.Time      `json:"last_attempt_at"`
	ReplayedAt    *time.Time     `json:"replayed_at,omitempty"`
	ReplayedBy    string         `json:"replayed_by,omitempty"`
}

// CircuitState is the persisted health of one external dependency.
type CircuitState struct {
	ServiceName   string            `json:"service_name"`
	State         CircuitStateValue `json:"state"`
	FailureCount  int               `json:"failure_count"`
	LastFailureAt time.Time         `json:"last_failure_at,omitempty"`
	LastSuccessAt time.Time         `json:"last_success_at,omitempty"`
}

// SagaLog is the persisted record of one saga run.
type SagaLog struct {
	SagaID             string    `json:"saga_id"`
	Name               string    `json:"name"`
	Status             string    `json:"status"`
	FailedStep         string    `json:"failed_step,omitempty"`
	CompletedSteps     []string  `json:"completed_steps"`
	CompensationErrors []string  `json:"compensation_errors,omitempty"`
	Error              string    `json:"error,omitempty"`
	StartedAt          time.Time `json:"started_at"`
	FinishedAt         time.Time `json:"finished_at"`
}

// SchemaRecord is the persisted form of a payload schema version.
type SchemaRecord struct {
	EventType    string            `json:"event_type"`
	Version      string            `json:"version"`
	Required     map[string]string `json:"required"`
	Optional     map[string]string `json:"optional,omitempty"`
	RegisteredAt time.Time         `json:"registered_at"`
}

// EventFilter selects event records.
type EventFilter struct {
	Type          string
	CorrelationID string
	Since         time.Time
	Until         time.Time
	Processed     *bool
	Limit         int
}

// LedgerFilter selects ledger entries.
type LedgerFilter struct {
	EventID     string
	EventType   string
	HandlerName string
	Status      LedgerStatus
	Limit       int
}

// DLQFilter selects dead-letter entries.
type DLQFilter struct {
	EventType string
	Status    DLQStatus
	Limit     int
}

// DLQCounts summarizes the dead-letter queue for operators.
type DLQCounts struct {
	Dead     int            `json:"dead"`
	Replayed int            `json:"replayed"`
	ByType   map[string]int `json:"by_type"`
}
