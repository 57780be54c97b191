// Package models defines the data model shared by connectors, the sync
// engine, and sinks.
package models

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// EntityType identifies a logical table an extracted record belongs to,
// e.g. "reddit_posts" or "github_trending_repos".
type EntityType string

// Record is a single extracted entity. Payload holds the platform fields,
// possibly nested; nested values are flattened to JSON strings immediately
// before delivery to a sink.
type Record struct {
	ID         string                 `json:"id"`
	EntityType EntityType             `json:"entity_type"`
	Source     string                 `json:"source"`
	ObservedAt time.Time              `json:"observed_at"`
	Payload    map[string]interface{} `json:"payload"`
	Metadata   map[string]string      `json:"metadata,omitempty"`
}

// NewRecord creates a record for the given entity with an empty payload.
func NewRecord(id string, entity EntityType, source string) *Record {
	return &Record{
		ID:         id,
		EntityType: entity,
		Source:     source,
		ObservedAt: time.Now().UTC(),
		Payload:    make(map[string]interface{}),
	}
}

// Set stores a payload field and returns the record for chaining.
func (r *Record) Set(key string, value interface{}) *Record {
	if r.Payload == nil {
		r.Payload = make(map[string]interface{})
	}
	r.Payload[key] = value
	return r
}

// GetString returns a payload field as a string when present.
func (r *Record) GetString(key string) (string, bool) {
	v, ok := r.Payload[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// GetFloat returns a payload field as a float64, converting the numeric
// types JSON decoding may produce.
func (r *Record) GetFloat(key string) (float64, bool) {
	switch v := r.Payload[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// Flatten converts the record into a single-level row suitable for a sink.
// Top-level scalars pass through; lists and nested maps are serialized to
// JSON strings so every column holds a scalar value.
func (r *Record) Flatten() (map[string]interface{}, error) {
	row := make(map[string]interface{}, len(r.Payload)+4)
	row["id"] = r.ID
	row["source"] = r.Source
	row["observed_at"] = r.ObservedAt.UTC().Format(time.RFC3339)

	for key, value := range r.Payload {
		flat, err := flattenValue(value)
		if err != nil {
			return nil, fmt.Errorf("flatten field %q: %w", key, err)
		}
		row[key] = flat
	}

	for key, value := range r.Metadata {
		if _, exists := row[key]; !exists {
			row[key] = value
		}
	}

	return row, nil
}

func flattenValue(value interface{}) (interface{}, error) {
	switch v := value.(type) {
	case nil, string, bool,
		int, int32, int64, float32, float64:
		return v, nil
	case time.Time:
		return v.UTC().Format(time.RFC3339), nil
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		return string(encoded), nil
	}
}

// NormalizeTimestamp converts the timestamp shapes platform APIs return
// into a UTC time. Unknown shapes fall back to the current time so a
// malformed upstream value never aborts a sync.
func NormalizeTimestamp(value interface{}) time.Time {
	switch v := value.(type) {
	case time.Time:
		return v.UTC()
	case float64:
		return time.Unix(int64(v), 0).UTC()
	case int64:
		return time.Unix(v, 0).UTC()
	case int:
		return time.Unix(int64(v), 0).UTC()
	case string:
		if t, err := ParseTimestamp(v); err == nil {
			return t
		}
	}
	return time.Now().UTC()
}

// ParseTimestamp parses the ISO-8601 variants seen in platform responses.
func ParseTimestamp(s string) (time.Time, error) {
	for _, layout := range []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
		"2006-01-02",
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}
