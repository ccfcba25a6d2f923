package store

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aristath/agentplane/internal/task"
)

// ErrNotFound is returned for operations on ids that are absent or tombstoned.
var ErrNotFound = errors.New("task not found")

// Store is a conflict-free replicated task store: Last-Writer-Wins on
// updated_at, a store-wide vector clock snapshotted onto every written
// record, and tombstones that permanently win over any remote payload.
//
// All public operations run to completion under the store's own lock.
// Reads return independent copies; callers must route every mutation
// through Add/Update/Remove. Lock order across components is AgentPool
// before Store (the scheduler consumes pool capacity first, then writes
// the task record).
type Store struct {
	mu         sync.Mutex
	replicaID  string
	tasks      map[string]task.Task // live records only
	tombstones map[string]struct{}  // deleted ids, never forgotten
	clock      task.VectorClock     // store-wide clock, ticked on every local write
	nowMillis  func() int64         // injectable for deterministic tests
}

// New creates an empty store for the given replica. An empty replica id is
// replaced with a generated one.
func New(replicaID string) *Store {
	if replicaID == "" {
		replicaID = uuid.NewString()
	}
	return &Store{
		replicaID:  replicaID,
		tasks:      make(map[string]task.Task),
		tombstones: make(map[string]struct{}),
		clock:      make(task.VectorClock),
		nowMillis:  func() int64 { return time.Now().UnixMilli() },
	}
}

// ReplicaID returns the identity used for clock entries and record origins.
func (s *Store) ReplicaID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.replicaID
}

// Add inserts or overwrites a record. It always succeeds for a
// structurally valid record: the id's tombstone (if any) is cleared, the
// record is stamped with a fresh updated_at, this replica's origin, and a
// snapshot of the ticked store clock. The stored copy is returned.
func (s *Store) Add(t task.Task) (task.Task, error) {
	if err := t.Validate(); err != nil {
		return task.Task{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.nowMillis()
	stamped := t.Clone()
	stamped.UpdatedAt = now
	if stamped.CreatedAt == 0 {
		stamped.CreatedAt = now
	}
	stamped.ReplicaOrigin = s.replicaID
	s.clock = s.clock.Tick(s.replicaID)
	stamped.Clock = s.clock.Clone()

	s.tasks[stamped.ID] = stamped
	delete(s.tombstones, stamped.ID)

	return stamped.Clone(), nil
}

// Patch describes a partial update. Nil fields are left untouched.
type Patch struct {
	Title     *string
	Status    *task.Status
	Tier      *task.Tier
	Priority  *task.Priority
	BlockedBy *[]string
	ClaimedBy *string
	Deadline  *int64
}

// Update applies a patch to an existing record, bumps updated_at and the
// local clock entry, and returns the updated copy. It fails with
// ErrNotFound if the id is absent or tombstoned, and with ErrInvalidRecord
// if the patched record would be malformed; failed updates never mutate.
func (s *Store) Update(id string, p Patch) (task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dead := s.tombstones[id]; dead {
		return task.Task{}, fmt.Errorf("task %q is deleted: %w", id, ErrNotFound)
	}
	existing, ok := s.tasks[id]
	if !ok {
		return task.Task{}, fmt.Errorf("task %q: %w", id, ErrNotFound)
	}

	updated := existing.Clone()
	if p.Title != nil {
		updated.Title = *p.Title
	}
	if p.Status != nil {
		updated.Status = *p.Status
	}
	if p.Tier != nil {
		updated.Tier = *p.Tier
	}
	if p.Priority != nil {
		updated.Priority = *p.Priority
	}
	if p.BlockedBy != nil {
		updated.BlockedBy = append([]string(nil), (*p.BlockedBy)...)
	}
	if p.ClaimedBy != nil {
		updated.ClaimedBy = *p.ClaimedBy
	}
	if p.Deadline != nil {
		updated.Deadline = *p.Deadline
	}

	updated.UpdatedAt = s.nowMillis()
	updated.ReplicaOrigin = s.replicaID
	if err := updated.Validate(); err != nil {
		return task.Task{}, err
	}
	s.clock = s.clock.Tick(s.replicaID)
	updated.Clock = s.clock.Clone()

	s.tasks[id] = updated
	return updated.Clone(), nil
}

// Remove tombstones a record so merges can never resurrect it. Removing an
// already-tombstoned id is a no-op; removing an id the store has never
// seen is ErrNotFound.
func (s *Store) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dead := s.tombstones[id]; dead {
		return nil
	}
	if _, ok := s.tasks[id]; !ok {
		return fmt.Errorf("task %q: %w", id, ErrNotFound)
	}

	delete(s.tasks, id)
	s.tombstones[id] = struct{}{}
	return nil
}

// Get returns an independent copy of a live record.
func (s *Store) Get(id string) (task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return task.Task{}, fmt.Errorf("task %q: %w", id, ErrNotFound)
	}
	return t.Clone(), nil
}

// Filter narrows List results. Zero value matches everything.
type Filter struct {
	Status      *task.Status // exact status match
	Tier        *task.Tier   // exact tier match
	Schedulable bool         // only PENDING/READY/BLOCKED records
}

// List returns an atomic snapshot of matching live records, sorted by
// updated_at descending (id ascending on ties). Every element is an
// independent copy.
func (s *Store) List(f Filter) []task.Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]task.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		if f.Status != nil && t.Status != *f.Status {
			continue
		}
		if f.Tier != nil && t.Tier != *f.Tier {
			continue
		}
		if f.Schedulable && !t.Status.Schedulable() {
			continue
		}
		out = append(out, t.Clone())
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt != out[j].UpdatedAt {
			return out[i].UpdatedAt > out[j].UpdatedAt
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Stats is a read-only monitoring snapshot of the store.
type Stats struct {
	ReplicaID  string           `json:"replica_id"`
	TotalTasks int              `json:"total_tasks"`
	Tombstones int              `json:"tombstones"`
	ByStatus   map[string]int   `json:"by_status"`
	Clock      task.VectorClock `json:"vector_clock"`
}

// Stats returns current counts and a copy of the store-wide clock.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	byStatus := make(map[string]int)
	for _, t := range s.tasks {
		byStatus[t.Status.String()]++
	}
	return Stats{
		ReplicaID:  s.replicaID,
		TotalTasks: len(s.tasks),
		Tombstones: len(s.tombstones),
		ByStatus:   byStatus,
		Clock:      s.clock.Clone(),
	}
}
