package task

import (
	"errors"
	"fmt"
)

// Task is a replicated unit of work tracked by the control plane.
type Task struct {
	ID            string      `json:"id"`                       // Globally unique, immutable after creation
	Title         string      `json:"title"`                    // Human-readable description
	Status        Status      `json:"status"`                   // Scheduling state
	Tier          Tier        `json:"tier"`                     // Capability class required to run it
	Priority      Priority    `json:"priority"`                 // Lower = more urgent
	BlockedBy     []string    `json:"blocked_by,omitempty"`     // Task IDs that must finish first
	ClaimedBy     string      `json:"claimed_by,omitempty"`     // Agent ID, empty when unclaimed
	Deadline      int64       `json:"deadline,omitempty"`       // Epoch ms, 0 = none
	CreatedAt     int64       `json:"created_at"`               // Epoch ms
	UpdatedAt     int64       `json:"updated_at"`               // Epoch ms, stamped by the store on every local write
	ReplicaOrigin string      `json:"replica_origin,omitempty"` // Replica that last wrote the record
	Clock         VectorClock `json:"vector_clock,omitempty"`   // Causal history
}

// ErrInvalidRecord is wrapped by Validate failures so callers can
// distinguish malformed records from other errors.
var ErrInvalidRecord = errors.New("invalid task record")

// Clone returns an independent copy, including the blocker slice and the
// vector clock. Callers may mutate the copy freely.
func (t Task) Clone() Task {
	out := t
	if t.BlockedBy != nil {
		out.BlockedBy = make([]string, len(t.BlockedBy))
		copy(out.BlockedBy, t.BlockedBy)
	}
	out.Clock = t.Clock.Clone()
	return out
}

// Validate checks structural integrity: non-empty id, known enum values,
// and claim/status coherence. Merge and snapshot import use it to reject
// malformed records at the boundary.
func (t Task) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidRecord)
	}
	if !t.Status.Valid() {
		return fmt.Errorf("%w %q: bad status %d", ErrInvalidRecord, t.ID, int(t.Status))
	}
	if !t.Tier.Valid() {
		return fmt.Errorf("%w %q: bad tier %d", ErrInvalidRecord, t.ID, int(t.Tier))
	}
	if !t.Priority.Valid() {
		return fmt.Errorf("%w %q: bad priority %d", ErrInvalidRecord, t.ID, int(t.Priority))
	}
	if t.ClaimedBy != "" && t.Status != StatusAssigned && t.Status != StatusInProgress {
		return fmt.Errorf("%w %q: claimed by %q but status %s", ErrInvalidRecord, t.ID, t.ClaimedBy, t.Status)
	}
	return nil
}

// BlockedBySet returns the blocker ids as a set for membership checks.
func (t Task) BlockedBySet() map[string]struct{} {
	if len(t.BlockedBy) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(t.BlockedBy))
	for _, id := range t.BlockedBy {
		set[id] = struct{}{}
	}
	return set
}
