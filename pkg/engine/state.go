// Package engine implements the multi-stage incremental sync engine and
// the per-connector state it maintains across sessions.
package engine

import (
	"sync"
	"time"

	"github.com/ideagen/harvester/pkg/connector/core"
	"github.com/ideagen/harvester/pkg/models"
)

// Cursor is a high-water mark for incremental extraction, usually an
// RFC3339 timestamp. Comparison is timestamp-aware, falling back to
// lexicographic order for opaque cursors.
type Cursor string

// IsZero reports whether the cursor is unset.
func (c Cursor) IsZero() bool { return c == "" }

// Compare returns -1, 0, or 1 as c orders before, equal to, or after
// other. An unset cursor orders before everything.
func (c Cursor) Compare(other Cursor) int {
	if c == other {
		return 0
	}
	if c.IsZero() {
		return -1
	}
	if other.IsZero() {
		return 1
	}

	ct, cerr := models.ParseTimestamp(string(c))
	ot, oerr := models.ParseTimestamp(string(other))
	if cerr == nil && oerr == nil {
		switch {
		case ct.Before(ot):
			return -1
		case ct.After(ot):
			return 1
		default:
			return 0
		}
	}

	if c < other {
		return -1
	}
	return 1
}

// Time returns the cursor as a time when it parses as one.
func (c Cursor) Time() (time.Time, bool) {
	if c.IsZero() {
		return time.Time{}, false
	}
	t, err := models.ParseTimestamp(string(c))
	return t, err == nil
}

// CursorFromTime builds a timestamp cursor.
func CursorFromTime(t time.Time) Cursor {
	return Cursor(t.UTC().Format(time.RFC3339))
}

// dedupSet remembers processed record IDs in insertion order, evicting
// the oldest entries beyond the retention cap.
type dedupSet struct {
	cap    int
	order  []string
	member map[string]struct{}
}

func newDedupSet(cap int) *dedupSet {
	return &dedupSet{
		cap:    cap,
		member: make(map[string]struct{}),
	}
}

// add inserts id, returning false when it was already present.
func (d *dedupSet) add(id string) bool {
	if _, seen := d.member[id]; seen {
		return false
	}
	d.member[id] = struct{}{}
	d.order = append(d.order, id)
	for d.cap > 0 && len(d.order) > d.cap {
		evicted := d.order[0]
		d.order = d.order[1:]
		delete(d.member, evicted)
	}
	return true
}

// SyncState is the per-connector state carried across sync sessions:
// dedup sets and cursors persist; candidate lists and staged IDs reset
// each session.
type SyncState struct {
	mu         sync.Mutex
	retention  int
	seen       map[models.EntityType]*dedupSet
	cursors    map[models.EntityType]Cursor
	candidates map[core.SecondaryKind]*candidateList
	lastSync   time.Time

	// Staged IDs for the in-flight session. They join the persistent
	// sets only once the session's batch reaches the sink, so a failed
	// delivery leaves the records eligible for replay.
	pendingOrder  []pendingID
	pendingMember map[models.EntityType]map[string]struct{}
}

// pendingID is one staged record ID awaiting commit.
type pendingID struct {
	entity models.EntityType
	id     string
}

// candidateList accumulates gated records in arrival order up to a
// fixed capacity. Once full, later qualifying records are ignored.
type candidateList struct {
	cap     int
	seen    map[string]struct{}
	records []*models.Record
}

// NewSyncState creates empty state with the given dedup retention cap
// per entity type.
func NewSyncState(retention int) *SyncState {
	return &SyncState{
		retention:  retention,
		seen:       make(map[models.EntityType]*dedupSet),
		cursors:    make(map[models.EntityType]Cursor),
		candidates: make(map[core.SecondaryKind]*candidateList),
	}
}

// MarkSeen records the ID immediately, returning true when it is new.
func (s *SyncState) MarkSeen(entity models.EntityType, id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seenSet(entity).add(id)
}

// seenSet returns the dedup set for an entity, creating it on demand.
// Callers must hold mu.
func (s *SyncState) seenSet(entity models.EntityType) *dedupSet {
	set, ok := s.seen[entity]
	if !ok {
		set = newDedupSet(s.retention)
		s.seen[entity] = set
	}
	return set
}

// StageSeen stages the ID for the current session, returning true when
// it is new to both the persistent sets and the stage. Staged IDs
// become persistent on CommitSeen and vanish on DiscardSeen.
func (s *SyncState) StageSeen(entity models.EntityType, id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if set, ok := s.seen[entity]; ok {
		if _, dup := set.member[id]; dup {
			return false
		}
	}
	staged, ok := s.pendingMember[entity]
	if !ok {
		if s.pendingMember == nil {
			s.pendingMember = make(map[models.EntityType]map[string]struct{})
		}
		staged = make(map[string]struct{})
		s.pendingMember[entity] = staged
	}
	if _, dup := staged[id]; dup {
		return false
	}
	staged[id] = struct{}{}
	s.pendingOrder = append(s.pendingOrder, pendingID{entity: entity, id: id})
	return true
}

// CommitSeen merges staged IDs into the persistent dedup sets in
// arrival order.
func (s *SyncState) CommitSeen() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range s.pendingOrder {
		s.seenSet(p.entity).add(p.id)
	}
	s.pendingOrder = nil
	s.pendingMember = nil
}

// DiscardSeen drops staged IDs so an aborted session replays them.
func (s *SyncState) DiscardSeen() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingOrder = nil
	s.pendingMember = nil
}

// SeenCount returns how many IDs are remembered for an entity type.
func (s *SyncState) SeenCount(entity models.EntityType) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if set, ok := s.seen[entity]; ok {
		return len(set.member)
	}
	return 0
}

// Cursor returns the stored cursor for an entity type.
func (s *SyncState) Cursor(entity models.EntityType) Cursor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursors[entity]
}

// AdvanceCursor moves the cursor forward, ignoring regressions.
func (s *SyncState) AdvanceCursor(entity models.EntityType, cursor Cursor) {
	if cursor.IsZero() {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if cursor.Compare(s.cursors[entity]) > 0 {
		s.cursors[entity] = cursor
	}
}

// ResetCandidates clears candidate lists and sizes one per gate.
func (s *SyncState) ResetCandidates(gates []core.Gate) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.candidates = make(map[core.SecondaryKind]*candidateList, len(gates))
	for _, gate := range gates {
		s.candidates[gate.Kind] = &candidateList{
			cap:  gate.Cap,
			seen: make(map[string]struct{}),
		}
	}
}

// Offer appends the record to the gate's candidate list when it passes
// and the list has room. Returns true when the record was queued.
func (s *SyncState) Offer(gate core.Gate, rec *models.Record) bool {
	if gate.Pass != nil && !gate.Pass(rec) {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	list, ok := s.candidates[gate.Kind]
	if !ok {
		return false
	}
	if gate.Cap > 0 && len(list.records) >= gate.Cap {
		return false
	}
	if _, dup := list.seen[rec.ID]; dup {
		return false
	}
	list.seen[rec.ID] = struct{}{}
	list.records = append(list.records, rec)
	return true
}

// Candidates returns the queued records for a gate, in arrival order.
func (s *SyncState) Candidates(kind core.SecondaryKind) []*models.Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	list, ok := s.candidates[kind]
	if !ok {
		return nil
	}
	out := make([]*models.Record, len(list.records))
	copy(out, list.records)
	return out
}

// LastSync returns when the last successful session finished.
func (s *SyncState) LastSync() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSync
}

// MarkSynced records a successful session completion time.
func (s *SyncState) MarkSynced(t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSync = t
}
