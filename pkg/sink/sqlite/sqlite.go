// Package sqlite provides a sink that upserts flattened rows into a
// SQLite database, one table per entity type.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/ideagen/harvester/pkg/errors"
	"github.com/ideagen/harvester/pkg/models"
)

// Sink writes each entity type to its own table, adding columns as new
// payload fields appear. Rows are upserted on the primary key so
// replays overwrite rather than duplicate.
type Sink struct {
	db     *sql.DB
	logger *zap.Logger

	mu     sync.Mutex
	tables map[models.EntityType]*tableState
}

type tableState struct {
	columns map[string]bool
	pk      []string
}

// New opens (or creates) the database at path.
func New(path string, logger *zap.Logger) (*Sink, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "open sqlite database").
			WithDetail("path", path)
	}
	// SQLite permits a single writer; serialize access through one conn.
	db.SetMaxOpenConns(1)

	return &Sink{
		db:     db,
		logger: logger.With(zap.String("sink", "sqlite")),
		tables: make(map[models.EntityType]*tableState),
	}, nil
}

// DeclareSchema implements core.Sink, creating the entity table.
func (s *Sink) DeclareSchema(ctx context.Context, schema models.Schema) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := &tableState{
		columns: map[string]bool{"id": true, "source": true, "observed_at": true},
		pk:      schema.PrimaryKey(),
	}

	cols := []string{
		`"id" TEXT`,
		`"source" TEXT`,
		`"observed_at" TEXT`,
	}
	for _, field := range schema.Fields {
		if state.columns[field.Name] {
			continue
		}
		state.columns[field.Name] = true
		cols = append(cols, fmt.Sprintf("%s %s", quoteIdent(field.Name), sqlType(field.Type)))
	}
	cols = append(cols, fmt.Sprintf("PRIMARY KEY (%s)", quoteIdents(state.pk)))

	stmt := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)",
		quoteIdent(string(schema.Entity)), strings.Join(cols, ", "))
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return errors.Wrap(err, errors.ErrorTypeExtraction, "create table").
			WithDetail("entity", string(schema.Entity))
	}

	s.tables[schema.Entity] = state
	s.logger.Debug("table ready", zap.String("entity", string(schema.Entity)))
	return nil
}

// Upsert implements core.Sink. All rows of one call commit atomically.
func (s *Sink) Upsert(ctx context.Context, entity models.EntityType, rows []map[string]interface{}) error {
	if len(rows) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.tables[entity]
	if !ok {
		return errors.New(errors.ErrorTypeExtraction, "upsert before schema declaration").
			WithDetail("entity", string(entity))
	}

	if err := s.ensureColumns(ctx, entity, state, rows); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeExtraction, "begin transaction")
	}
	defer tx.Rollback()

	for _, row := range rows {
		if err := upsertRow(ctx, tx, entity, state, row); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeExtraction, "commit upsert").
			WithDetail("entity", string(entity))
	}
	return nil
}

// Close implements core.Sink.
func (s *Sink) Close(context.Context) error {
	return s.db.Close()
}

// ensureColumns adds table columns for payload fields not yet seen.
func (s *Sink) ensureColumns(ctx context.Context, entity models.EntityType, state *tableState, rows []map[string]interface{}) error {
	var added []string
	for _, row := range rows {
		for key := range row {
			if state.columns[key] {
				continue
			}
			state.columns[key] = true
			added = append(added, key)
		}
	}
	sort.Strings(added)

	for _, key := range added {
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s",
			quoteIdent(string(entity)), quoteIdent(key))
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrap(err, errors.ErrorTypeExtraction, "add column").
				WithDetail("entity", string(entity)).
				WithDetail("column", key)
		}
	}
	return nil
}

func upsertRow(ctx context.Context, tx *sql.Tx, entity models.EntityType, state *tableState, row map[string]interface{}) error {
	cols := make([]string, 0, len(row))
	for key := range row {
		cols = append(cols, key)
	}
	sort.Strings(cols)

	placeholders := make([]string, len(cols))
	args := make([]interface{}, len(cols))
	updates := make([]string, 0, len(cols))
	pk := make(map[string]bool, len(state.pk))
	for _, k := range state.pk {
		pk[k] = true
	}

	for i, col := range cols {
		placeholders[i] = "?"
		args[i] = normalizeArg(row[col])
		if !pk[col] {
			updates = append(updates, fmt.Sprintf("%s=excluded.%s", quoteIdent(col), quoteIdent(col)))
		}
	}

	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO UPDATE SET %s",
		quoteIdent(string(entity)),
		quoteIdents(cols),
		strings.Join(placeholders, ", "),
		quoteIdents(state.pk),
		strings.Join(updates, ", "))

	if _, err := tx.ExecContext(ctx, stmt, args...); err != nil {
		return errors.Wrap(err, errors.ErrorTypeExtraction, "upsert row").
			WithDetail("entity", string(entity))
	}
	return nil
}

func normalizeArg(v interface{}) interface{} {
	switch t := v.(type) {
	case time.Time:
		return t.UTC().Format(time.RFC3339)
	default:
		return v
	}
}

func sqlType(t models.FieldType) string {
	switch t {
	case models.FieldTypeInt:
		return "INTEGER"
	case models.FieldTypeFloat:
		return "REAL"
	case models.FieldTypeBool:
		return "INTEGER"
	default:
		return "TEXT"
	}
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func quoteIdents(names []string) string {
	quoted := make([]string, len(names))
	for i, name := range names {
		quoted[i] = quoteIdent(name)
	}
	return strings.Join(quoted, ", ")
}
