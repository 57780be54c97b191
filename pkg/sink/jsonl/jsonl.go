// Package jsonl provides a sink that appends flattened rows to
// newline-delimited JSON files, one file per entity type, optionally
// gzip-compressed.
package jsonl

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"

	"github.com/ideagen/harvester/pkg/errors"
	"github.com/ideagen/harvester/pkg/models"
)

// Sink writes one .jsonl (or .jsonl.gz) file per entity under Dir.
// Files are opened lazily on first upsert and appended across sessions.
type Sink struct {
	dir      string
	compress bool
	logger   *zap.Logger

	mu      sync.Mutex
	writers map[models.EntityType]*entityWriter
}

type entityWriter struct {
	file *os.File
	gz   *gzip.Writer
	out  io.Writer
}

// New creates a jsonl sink rooted at dir.
func New(dir string, compress bool, logger *zap.Logger) (*Sink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "create output dir").
			WithDetail("dir", dir)
	}
	return &Sink{
		dir:      dir,
		compress: compress,
		logger:   logger.With(zap.String("sink", "jsonl")),
		writers:  make(map[models.EntityType]*entityWriter),
	}, nil
}

// DeclareSchema implements core.Sink. JSONL output is schemaless, so
// declarations are only logged.
func (s *Sink) DeclareSchema(_ context.Context, schema models.Schema) error {
	s.logger.Debug("schema declared",
		zap.String("entity", string(schema.Entity)),
		zap.Int("fields", len(schema.Fields)))
	return nil
}

// Upsert implements core.Sink by appending rows. Replayed rows append
// again; downstream consumers deduplicate on the id column, and the
// engine's dedup state keeps replays rare.
func (s *Sink) Upsert(_ context.Context, entity models.EntityType, rows []map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, err := s.writer(entity)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(w.out)
	for _, row := range rows {
		if err := enc.Encode(row); err != nil {
			return errors.Wrap(err, errors.ErrorTypeExtraction, "encode row").
				WithDetail("entity", string(entity))
		}
	}
	return nil
}

// Close flushes and closes every open file.
func (s *Sink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	for entity, w := range s.writers {
		if w.gz != nil {
			if err := w.gz.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		if err := w.file.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(s.writers, entity)
	}
	if firstErr != nil {
		return errors.Wrap(firstErr, errors.ErrorTypeExtraction, "close jsonl sink")
	}
	return nil
}

// writer returns the lazily opened writer for an entity. Caller holds s.mu.
func (s *Sink) writer(entity models.EntityType) (*entityWriter, error) {
	if w, ok := s.writers[entity]; ok {
		return w, nil
	}

	name := string(entity) + ".jsonl"
	if s.compress {
		name += ".gz"
	}
	path := filepath.Join(s.dir, name)

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeExtraction, "open output file").
			WithDetail("path", path)
	}

	w := &entityWriter{file: file, out: file}
	if s.compress {
		w.gz = gzip.NewWriter(file)
		w.out = w.gz
	}
	s.writers[entity] = w
	return w, nil
}
