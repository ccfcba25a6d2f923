package store

import (
	"log"
)

// MergeStats reports what a merge did, so callers can surface it without
// the store logging anything beyond per-record warnings.
type MergeStats struct {
	Adopted    int // remote records absent locally
	Replaced   int // remote payload won LWW
	KeptLocal  int // local payload won LWW or remote id was tombstoned here
	Rejected   int // malformed remote records, skipped
	Tombstoned int // tombstones newly learned from the remote
}

// Merge folds a remote replica's exported state into this store.
//
// Per non-tombstoned remote record: a local tombstone wins outright; an
// absent record is adopted; otherwise a strictly greater remote updated_at
// replaces the local payload and anything else keeps it. Whichever payload
// survives, its vector clock becomes the element-wise maximum of both
// sides, so causal history is never lost. Remote tombstones are unioned
// in and shadowed local copies dropped. Malformed remote records are
// rejected one by one without poisoning the rest.
//
// Merge is commutative and idempotent across replicas. It is serialized
// against local writes by the store's own lock, never by the caller.
func (s *Store) Merge(remote Snapshot) MergeStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stats MergeStats

	for _, remoteTask := range remote.Tasks {
		if err := remoteTask.Validate(); err != nil {
			log.Printf("WARNING: merge rejected record from replica %q: %v", remote.ReplicaID, err)
			stats.Rejected++
			continue
		}

		id := remoteTask.ID
		if _, dead := s.tombstones[id]; dead {
			// Local delete wins over any remote payload.
			stats.KeptLocal++
			continue
		}

		local, exists := s.tasks[id]
		switch {
		case !exists:
			s.tasks[id] = remoteTask.Clone()
			stats.Adopted++
		case remoteTask.UpdatedAt > local.UpdatedAt:
			s.tasks[id] = remoteTask.Clone()
			stats.Replaced++
		default:
			stats.KeptLocal++
		}

		// Combine clocks element-wise regardless of which payload survived.
		survivor := s.tasks[id]
		merged := survivor.Clock.Clone()
		merged = merged.Merge(local.Clock)
		merged = merged.Merge(remoteTask.Clock)
		survivor.Clock = merged
		s.tasks[id] = survivor
	}

	for _, id := range remote.Tombstones {
		if id == "" {
			log.Printf("WARNING: merge rejected empty tombstone id from replica %q", remote.ReplicaID)
			stats.Rejected++
			continue
		}
		if _, known := s.tombstones[id]; !known {
			stats.Tombstoned++
		}
		delete(s.tasks, id)
		s.tombstones[id] = struct{}{}
	}

	s.clock = s.clock.Merge(remote.Clocks)

	return stats
}
