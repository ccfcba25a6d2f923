package store

import (
	"fmt"
	"sort"

	"github.com/aristath/agentplane/internal/task"
)

// Snapshot is the flat full-state export of a store: every live record,
// every tombstone, and the store-wide vector clock. It is both the
// persistence format (the archive stores its JSON encoding) and the merge
// exchange format between replicas.
type Snapshot struct {
	ReplicaID  string           `json:"replica_id"`
	Tasks      []task.Task      `json:"tasks"`
	Tombstones []string         `json:"tombstones,omitempty"`
	Clocks     task.VectorClock `json:"vector_clocks,omitempty"`
}

// Snapshot exports the full store state. Records and clocks are
// independent copies; the result is deterministic (tasks and tombstones
// sorted by id) so identical states encode identically.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	tasks := make([]task.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		tasks = append(tasks, t.Clone())
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].ID < tasks[j].ID })

	tombstones := make([]string, 0, len(s.tombstones))
	for id := range s.tombstones {
		tombstones = append(tombstones, id)
	}
	sort.Strings(tombstones)

	return Snapshot{
		ReplicaID:  s.replicaID,
		Tasks:      tasks,
		Tombstones: tombstones,
		Clocks:     s.clock.Clone(),
	}
}

// validate rejects snapshots that could leave the store inconsistent:
// malformed records, duplicate ids, or a record shadowed by a tombstone in
// the same snapshot.
func (snap Snapshot) validate() error {
	seen := make(map[string]struct{}, len(snap.Tasks))
	for _, t := range snap.Tasks {
		if err := t.Validate(); err != nil {
			return err
		}
		if _, dup := seen[t.ID]; dup {
			return fmt.Errorf("snapshot contains task %q twice", t.ID)
		}
		seen[t.ID] = struct{}{}
	}
	for _, id := range snap.Tombstones {
		if id == "" {
			return fmt.Errorf("snapshot contains an empty tombstone id")
		}
		if _, live := seen[id]; live {
			return fmt.Errorf("snapshot lists task %q as both live and tombstoned", id)
		}
	}
	return nil
}

// Restore overwrites the store's in-memory state with the snapshot. It is
// meant for recovery after a restart, never for live merging. Invalid
// snapshots are rejected wholesale before any state is replaced.
func (s *Store) Restore(snap Snapshot) error {
	if err := snap.validate(); err != nil {
		return fmt.Errorf("restore rejected: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tasks := make(map[string]task.Task, len(snap.Tasks))
	for _, t := range snap.Tasks {
		tasks[t.ID] = t.Clone()
	}
	tombstones := make(map[string]struct{}, len(snap.Tombstones))
	for _, id := range snap.Tombstones {
		tombstones[id] = struct{}{}
	}

	if snap.ReplicaID != "" {
		s.replicaID = snap.ReplicaID
	}
	s.tasks = tasks
	s.tombstones = tombstones
	s.clock = snap.Clocks.Clone()
	if s.clock == nil {
		s.clock = make(task.VectorClock)
	}
	return nil
}
