package schema

import (
	"context"
	"fmt"

	"github.com/rickfelix/EHG-Engineer-sub004/pkg/eventbus/store"
)

// Persist writes every registered schema version to the store's schema
// catalog so a restarted process can warm-start the registry.
func (r *Registry) Persist(ctx context.Context, st store.Store) error {
	r.mu.RLock()
	var records []store.SchemaRecord
	for _, versions := range r.schemas {
		for _, s := range versions {
			records = append(records, toRecord(s))
		}
	}
	r.mu.RUnlock()

	for _, rec := range records {
		if err := st.PutSchema(ctx, rec); err != nil {
			return fmt.Errorf("persist schema %s@%s: %w", rec.EventType, rec.Version, err)
		}
	}
	return nil
}

// Load registers every schema version found in the store's catalog.
func (r *Registry) Load(ctx context.Context, st store.Store) error {
	records, err := st.ListSchemas(ctx)
	if err != nil {
		return fmt.Errorf("load schema catalog: %w", err)
	}
	for _, rec := range records {
		if err := r.Register(fromRecord(rec)); err != nil {
			return err
		}
	}
	return nil
}

func toRecord(s Schema) store.SchemaRecord {
	rec := store.SchemaRecord{
		EventType:    s.EventType,
		Version:      s.Version,
		Required:     make(map[string]string, len(s.Required)),
		RegisteredAt: s.RegisteredAt,
	}
	for field, ft := range s.Required {
		rec.Required[field] = string(ft)
	}
	if len(s.Optional) > 0 {
		rec.Optional = make(map[string]string, len(s.Optional))
		for field, ft := range s.Optional {
			rec.Optional[field] = string(ft)
		}
	}
	return rec
}

func fromRecord(rec store.SchemaRecord) Schema {
	s := Schema{
		EventType:    rec.EventType,
		Version:      rec.Version,
		Required:     make(map[string]FieldType, len(rec.Required)),
		RegisteredAt: rec.RegisteredAt,
	}
	for field, ft := range rec.Required {
		s.Required[field] = FieldType(ft)
	}
	if len(rec.Optional) > 0 {
		s.Optional = make(map[string]FieldType, len(rec.Optional))
		for field, ft := range rec.Optional {
			s.Optional[field] = FieldType(ft)
		}
	}
	return s
}
