// Package core defines the contracts between platform adapters, the
// sync engine, and sinks.
package core

import (
	"context"

	"github.com/ideagen/harvester/pkg/models"
)

// SecondaryKind names a class of follow-up records fetched per candidate,
// e.g. "comments" for reddit posts or "issues" for github repos.
type SecondaryKind string

// Page is one page of primary records. NextToken continues pagination;
// an empty token ends it.
type Page struct {
	Records   []*models.Record
	NextToken string
}

// Gate decides whether a primary record earns follow-up extraction.
// Candidates accumulate in arrival order up to Cap per sync session.
type Gate struct {
	Kind SecondaryKind
	Cap  int
	// Pass inspects a scored primary record.
	Pass func(*models.Record) bool
	// Filter optionally drops low-signal secondary records. Nil keeps all.
	Filter func(*models.Record) bool
}

// Scorer computes signal fields for a primary record. The returned
// fields are merged into the record payload before gating, so gates
// and sinks both see them.
type Scorer interface {
	Score(rec *models.Record) map[string]interface{}
}

// SourceAdapter is the platform-specific surface the sync engine drives.
// Implementations perform raw API access and shaping only; rate limiting,
// retries, deduplication, cursors, and candidate bookkeeping belong to
// the engine.
type SourceAdapter interface {
	// Name returns the platform name, e.g. "reddit".
	Name() string

	// Dimensions returns the configured primary query dimensions:
	// subreddits, search queries, topics, or regions.
	Dimensions() []string

	// Schemas declares every entity table this adapter emits.
	Schemas() []models.Schema

	// Scorer returns the signal scorer applied to primary records.
	Scorer() Scorer

	// Gates returns the candidate gates, in extraction order.
	Gates() []Gate

	// FetchPrimary returns one page of primary records for a dimension.
	// An empty pageToken requests the first page.
	FetchPrimary(ctx context.Context, dimension, pageToken string) (*Page, error)

	// FetchSecondary returns follow-up records for one candidate.
	FetchSecondary(ctx context.Context, kind SecondaryKind, candidate *models.Record) ([]*models.Record, error)

	// DeriveTertiary produces records computed from everything gathered
	// this session, such as organizations rolled up from repo owners.
	// It performs no API calls.
	DeriveTertiary(session map[models.EntityType][]*models.Record) []*models.Record

	// HealthCheck verifies the platform API is reachable with the
	// configured credentials.
	HealthCheck(ctx context.Context) error

	// Close releases adapter resources.
	Close(ctx context.Context) error
}

// Sink receives flattened rows. Implementations must upsert by primary
// key so replayed records do not duplicate.
type Sink interface {
	// DeclareSchema announces an entity table before rows arrive for it.
	DeclareSchema(ctx context.Context, schema models.Schema) error

	// Upsert delivers a batch of flattened rows for one entity table.
	Upsert(ctx context.Context, entity models.EntityType, rows []map[string]interface{}) error

	// Close flushes and releases the sink.
	Close(ctx context.Context) error
}
