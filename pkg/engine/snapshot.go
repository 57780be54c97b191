package engine

import (
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"

	"github.com/ideagen/harvester/pkg/errors"
	"github.com/ideagen/harvester/pkg/models"
)

// Snapshot is the serializable portion of sync state: cursors, seen
// IDs, and the last successful sync time. Candidate lists are
// per-session and are not persisted.
type Snapshot struct {
	Cursors  map[string]string   `json:"cursors"`
	Seen     map[string][]string `json:"seen"`
	LastSync time.Time           `json:"last_sync,omitempty"`
}

// Snapshot captures the persistent state.
func (s *SyncState) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		Cursors:  make(map[string]string, len(s.cursors)),
		Seen:     make(map[string][]string, len(s.seen)),
		LastSync: s.lastSync,
	}
	for entity, cursor := range s.cursors {
		snap.Cursors[string(entity)] = string(cursor)
	}
	for entity, set := range s.seen {
		ids := make([]string, len(set.order))
		copy(ids, set.order)
		snap.Seen[string(entity)] = ids
	}
	return snap
}

// Restore replaces the persistent state from a snapshot, preserving
// insertion order so retention eviction stays oldest-first.
func (s *SyncState) Restore(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cursors = make(map[models.EntityType]Cursor, len(snap.Cursors))
	for entity, cursor := range snap.Cursors {
		s.cursors[models.EntityType(entity)] = Cursor(cursor)
	}
	s.seen = make(map[models.EntityType]*dedupSet, len(snap.Seen))
	for entity, ids := range snap.Seen {
		set := newDedupSet(s.retention)
		for _, id := range ids {
			set.add(id)
		}
		s.seen[models.EntityType(entity)] = set
	}
	s.lastSync = snap.LastSync
}

// StateFile persists snapshots for every connector in one JSON file.
type StateFile struct {
	Path string
}

// Load reads all connector snapshots. A missing file yields an empty map.
func (f *StateFile) Load() (map[string]Snapshot, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]Snapshot{}, nil
		}
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "read state file").
			WithDetail("path", f.Path)
	}

	var snapshots map[string]Snapshot
	if err := json.Unmarshal(data, &snapshots); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "parse state file").
			WithDetail("path", f.Path)
	}
	return snapshots, nil
}

// Save writes all connector snapshots atomically.
func (f *StateFile) Save(snapshots map[string]Snapshot) error {
	data, err := json.MarshalIndent(snapshots, "", "  ")
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "encode state file")
	}

	if dir := filepath.Dir(f.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrap(err, errors.ErrorTypeInternal, "create state dir")
		}
	}

	tmp := f.Path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "write state file")
	}
	if err := os.Rename(tmp, f.Path); err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "replace state file")
	}
	return nil
}
