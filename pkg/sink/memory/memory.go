// Package memory provides an in-memory sink used by tests and dry runs.
package memory

import (
	"context"
	"sync"

	"github.com/ideagen/harvester/pkg/models"
)

// Sink stores upserted rows keyed by entity type and row ID.
type Sink struct {
	mu      sync.Mutex
	schemas map[models.EntityType]models.Schema
	rows    map[models.EntityType]map[string]map[string]interface{}
	order   map[models.EntityType][]string
	upserts int
}

// New creates an empty in-memory sink.
func New() *Sink {
	return &Sink{
		schemas: make(map[models.EntityType]models.Schema),
		rows:    make(map[models.EntityType]map[string]map[string]interface{}),
		order:   make(map[models.EntityType][]string),
	}
}

// DeclareSchema implements core.Sink.
func (s *Sink) DeclareSchema(_ context.Context, schema models.Schema) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schemas[schema.Entity] = schema
	return nil
}

// Upsert implements core.Sink. Rows replace prior rows with the same ID.
func (s *Sink) Upsert(_ context.Context, entity models.EntityType, rows []map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byID, ok := s.rows[entity]
	if !ok {
		byID = make(map[string]map[string]interface{})
		s.rows[entity] = byID
	}
	for _, row := range rows {
		id, _ := row["id"].(string)
		if _, exists := byID[id]; !exists {
			s.order[entity] = append(s.order[entity], id)
		}
		byID[id] = row
	}
	s.upserts++
	return nil
}

// Close implements core.Sink.
func (s *Sink) Close(context.Context) error { return nil }

// Rows returns the stored rows for an entity in first-insert order.
func (s *Sink) Rows(entity models.EntityType) []map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]map[string]interface{}, 0, len(s.order[entity]))
	for _, id := range s.order[entity] {
		out = append(out, s.rows[entity][id])
	}
	return out
}

// Count returns the number of stored rows for an entity.
func (s *Sink) Count(entity models.EntityType) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows[entity])
}

// Upserts returns how many Upsert calls the sink received.
func (s *Sink) Upserts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upserts
}

// Schemas returns the declared schemas.
func (s *Sink) Schemas() []models.Schema {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.Schema, 0, len(s.schemas))
	for _, schema := range s.schemas {
		out = append(out, schema)
	}
	return out
}
