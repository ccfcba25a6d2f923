package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/aristath/agentplane/internal/store"
)

// ErrNoSnapshot is returned when recovery finds nothing to restore.
var ErrNoSnapshot = errors.New("no archived snapshot")

// SnapshotRecord describes one archived store snapshot.
type SnapshotRecord struct {
	ID        string
	ReplicaID string
	CreatedAt time.Time
	Tasks     int // Live records in the payload, for listings
}

// CheckpointRecord is one persisted checkpoint row.
type CheckpointRecord struct {
	ID        int64
	TaskID    string
	AgentID   string
	Reason    string
	CreatedAt time.Time
}

// HandoffRecord is one persisted handoff summary row.
type HandoffRecord struct {
	ID        int64
	TaskID    string
	AgentID   string
	Summary   string
	CreatedAt time.Time
}

// Archive is the durable storage collaborator: the control plane hands it
// store snapshots and exhaustion bookkeeping, and asks for the latest
// snapshot back during recovery. The core never touches files itself.
type Archive interface {
	// SaveSnapshot persists a full store export and returns its id.
	SaveSnapshot(ctx context.Context, snap store.Snapshot) (string, error)
	// LatestSnapshot returns the most recent snapshot for a replica, or
	// ErrNoSnapshot when none exists. An empty replica id matches any.
	LatestSnapshot(ctx context.Context, replicaID string) (store.Snapshot, error)
	// ListSnapshots returns snapshot metadata, newest first.
	ListSnapshots(ctx context.Context) ([]SnapshotRecord, error)
	// GetSnapshot returns one archived snapshot by id.
	GetSnapshot(ctx context.Context, id string) (store.Snapshot, error)
	// PruneSnapshots deletes all but the newest keep snapshots.
	PruneSnapshots(ctx context.Context, keep int) (int, error)

	// AppendCheckpoint records a checkpoint taken during exhaustion.
	AppendCheckpoint(ctx context.Context, taskID, agentID, reason string) (int64, error)
	// AppendHandoff records a handoff summary for the task's next owner.
	AppendHandoff(ctx context.Context, taskID, agentID, summary string) (int64, error)
	// Checkpoints returns a task's checkpoint rows, oldest first.
	Checkpoints(ctx context.Context, taskID string) ([]CheckpointRecord, error)
	// Handoffs returns a task's handoff rows, oldest first.
	Handoffs(ctx context.Context, taskID string) ([]HandoffRecord, error)

	Close() error
}
