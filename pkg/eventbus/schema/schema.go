// Package schema provides the versioned payload-validation catalog.
//
// Each event type may register any number of schema versions. Validation
// resolves a target version (explicit, or latest by numeric semver
// compare), checks required and optional fields against their declared
// types, and optionally rejects unknown fields in strict mode. Event types
// without a registered schema validate open (always valid); the dispatch
// pipeline falls back to its hardcoded per-type rules for those.
package schema

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"
)

// FieldType is the declared type of a payload field.
type FieldType string

// Supported field types.
const (
	TypeString  FieldType = "string"
	TypeNumber  FieldType = "number"
	TypeBoolean FieldType = "boolean"
	TypeObject  FieldType = "object"
	TypeArray   FieldType = "array"
)

// validFieldTypes is the closed set of declarable types.
var validFieldTypes = map[FieldType]bool{
	TypeString:  true,
	TypeNumber:  true,
	TypeBoolean: true,
	TypeObject:  true,
	TypeArray:   true,
}

// Schema is one versioned payload contract. Immutable once in use.
type Schema struct {
	EventType    string
	Version      string // semver string, e.g. "1.2.0"
	Required     map[string]FieldType
	Optional     map[string]FieldType
	RegisteredAt time.Time
}

// Result is the outcome of one validation.
type Result struct {
	Valid         bool
	Errors        []string
	SchemaVersion string
}

// ValidateOptions select the target version and strictness.
type ValidateOptions struct {
	// Version pins validation to a specific schema version.
	// Empty means latest by semver.
	Version string

	// Strict rejects payload fields not declared in the schema.
	Strict bool
}

// Registry stores schemas per event type and version.
type Registry struct {
	mu      sync.RWMutex
	schemas map[string]map[string]Schema
	latest  map[string]string // event type -> latest version cache
}

// NewRegistry creates an isolated schema registry.
func NewRegistry() *Registry {
	return &Registry{
		schemas: make(map[string]map[string]Schema),
		latest:  make(map[string]string),
	}
}

// Register adds a schema version to the catalog.
func (r *Registry) Register(s Schema) error {
	if s.EventType == "" {
		return fmt.Errorf("schema: event type is required")
	}
	if s.Version == "" {
		return fmt.Errorf("schema: version is required")
	}
	if len(s.Required) == 0 {
		return fmt.Errorf("schema %s@%s: required field map is required", s.EventType, s.Version)
	}
	for field, ft := range s.Required {
		if !validFieldTypes[ft] {
			return fmt.Errorf("schema %s@%s: invalid type %q for required field %q", s.EventType, s.Version, ft, field)
		}
	}
	for field, ft := range s.Optional {
		if !validFieldTypes[ft] {
			return fmt.Errorf("schema %s@%s: invalid type %q for optional field %q", s.EventType, s.Version, ft, field)
		}
	}
	if s.RegisteredAt.IsZero() {
		s.RegisteredAt = time.Now()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.schemas[s.EventType] == nil {
		r.schemas[s.EventType] = make(map[string]Schema)
	}
	r.schemas[s.EventType][s.Version] = s

	if current, ok := r.latest[s.EventType]; !ok || CompareVersions(s.Version, current) > 0 {
		r.latest[s.EventType] = s.Version
	}
	return nil
}

// Has reports whether any schema version exists for the event type.
func (r *Registry) Has(eventType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.schemas[eventType]) > 0
}

// Latest returns the highest registered version for an event type.
func (r *Registry) Latest(eventType string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.latest[eventType]
	return v, ok
}

// Get returns a specific schema version.
func (r *Registry) Get(eventType, version string) (Schema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.schemas[eventType][version]
	return s, ok
}

// Types returns all event types with a registered schema.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.schemas))
	for t := range r.schemas {
		types = append(types, t)
	}
	return types
}

// Validate checks a payload against the schema for its event type.
//
// With no schema registered for the type, validation is open (always
// valid). Missing required fields and type mismatches produce errors;
// optional fields are type-checked only when present; unknown fields are
// allowed unless opts.Strict is set.
func (r *Registry) Validate(eventType string, payload map[string]any, opts ValidateOptions) Result {
	r.mu.RLock()
	versions := r.schemas[eventType]
	latest := r.latest[eventType]
	r.mu.RUnlock()

	if len(versions) == 0 {
		return Result{Valid: true}
	}

	version := opts.Version
	if version == "" {
		version = latest
	}
	s, ok := versions[version]
	if !ok {
		return Result{
			Valid:         false,
			Errors:        []string{fmt.Sprintf("schema version %q not registered for %s", version, eventType)},
			SchemaVersion: version,
		}
	}

	var errs []string
	for field, ft := range s.Required {
		value, present := payload[field]
		if !present {
			errs = append(errs, fmt.Sprintf("missing required field %q", field))
			continue
		}
		if !matchesType(value, ft) {
			errs = append(errs, fmt.Sprintf("field %q: expected %s, got %T", field, ft, value))
		}
	}
	for field, ft := range s.Optional {
		value, present := payload[field]
		if present && !matchesType(value, ft) {
			errs = append(errs, fmt.Sprintf("field %q: expected %s, got %T", field, ft, value))
		}
	}
	if opts.Strict {
		for field := range payload {
			_, req := s.Required[field]
			_, opt := s.Optional[field]
			if !req && !opt {
				errs = append(errs, fmt.Sprintf("unknown field %q not allowed in strict mode", field))
			}
		}
	}

	return Result{
		Valid:         len(errs) == 0,
		Errors:        errs,
		SchemaVersion: version,
	}
}

// matchesType checks a payload value against a declared field type.
// Arrays are excluded from the plain-object check.
func matchesType(value any, ft FieldType) bool {
	switch ft {
	case TypeString:
		_, ok := value.(string)
		return ok
	case TypeNumber:
		switch value.(type) {
		case float64, float32, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, json.Number:
			return true
		}
		return false
	case TypeBoolean:
		_, ok := value.(bool)
		return ok
	case TypeObject:
		if _, isArray := value.([]any); isArray {
			return false
		}
		_, ok := value.(map[string]any)
		return ok
	case TypeArray:
		_, ok := value.([]any)
		return ok
	}
	return false
}

// CompareVersions compares dot-separated numeric version strings, left to
// right, with missing segments treated as 0. Returns -1, 0, or 1.
func CompareVersions(a, b string) int {
	as := strings.Split(a, ".")
	bs := strings.Split(b, ".")
	n := len(as)
	if len(bs) > n {
		n = len(bs)
	}
	for i := 0; i < n; i++ {
		av, bv := 0, 0
		if i < len(as) {
			av, _ = strconv.Atoi(as[i])
		}
		if i < len(bs) {
			bv, _ = strconv.Atoi(bs[i])
		}
		if av != bv {
			if av < bv {
				return -1
			}
			return 1
		}
	}
	return 0
}
