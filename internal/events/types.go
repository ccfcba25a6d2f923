package events

import (
	"time"

	"github.com/aristath/agentplane/internal/task"
)

// Event is the base interface for all events.
type Event interface {
	EventType() string
	EntityID() string // Task or agent id the event is about
}

// Topic constants
const (
	TopicTasks     = "tasks"
	TopicAgents    = "agents"
	TopicScheduler = "scheduler"
	TopicStore     = "store"
)

// Event type constants
const (
	EventTypeTaskAssigned   = "task.assigned"
	EventTypeTaskQueued     = "task.queued"
	EventTypeTaskBlocked    = "task.blocked"
	EventTypeTaskCompleted  = "task.completed"
	EventTypeTaskReleased   = "task.released"
	EventTypeAgentSpawned   = "agent.spawned"
	EventTypeAgentExhausted = "agent.exhausted"
	EventTypeAgentRespawned = "agent.respawned"
	EventTypeAgentOffline   = "agent.offline"
	EventTypeSnapshotSaved  = "store.snapshot_saved"
	EventTypeMergeApplied   = "store.merge_applied"
	EventTypePoolStatus     = "agents.pool_status"
)

// TaskAssignedEvent is published when the scheduler places a task on an agent.
type TaskAssignedEvent struct {
	ID        string
	AgentID   string
	Tier      task.Tier
	Forced    bool // Set when a tier mismatch was overridden
	Timestamp time.Time
}

func (e TaskAssignedEvent) EventType() string { return EventTypeTaskAssigned }
func (e TaskAssignedEvent) EntityID() string  { return e.ID }

// TaskQueuedEvent is published when no agent of the task's tier has capacity.
type TaskQueuedEvent struct {
	ID        string
	Tier      task.Tier
	Timestamp time.Time
}

func (e TaskQueuedEvent) EventType() string { return EventTypeTaskQueued }
func (e TaskQueuedEvent) EntityID() string  { return e.ID }

// TaskBlockedEvent is published when an open dependency keeps a task off the pool.
type TaskBlockedEvent struct {
	ID        string
	BlockerID string // First open blocker found
	Timestamp time.Time
}

func (e TaskBlockedEvent) EventType() string { return EventTypeTaskBlocked }
func (e TaskBlockedEvent) EntityID() string  { return e.ID }

// TaskCompletedEvent is published when an agent finishes a task.
type TaskCompletedEvent struct {
	ID        string
	AgentID   string
	Timestamp time.Time
}

func (e TaskCompletedEvent) EventType() string { return EventTypeTaskCompleted }
func (e TaskCompletedEvent) EntityID() string  { return e.ID }

// TaskReleasedEvent is published when a claimed task returns to the backlog
// without completing, usually because its agent exhausted with no successor.
type TaskReleasedEvent struct {
	ID        string
	AgentID   string // Agent that held the task
	Timestamp time.Time
}

func (e TaskReleasedEvent) EventType() string { return EventTypeTaskReleased }
func (e TaskReleasedEvent) EntityID() string  { return e.ID }

// AgentSpawnedEvent is published when a new agent joins the pool.
type AgentSpawnedEvent struct {
	ID        string
	Tier      task.Tier
	Capacity  int
	Timestamp time.Time
}

func (e AgentSpawnedEvent) EventType() string { return EventTypeAgentSpawned }
func (e AgentSpawnedEvent) EntityID() string  { return e.ID }

// AgentExhaustedEvent is published after an agent's exhaustion completes.
type AgentExhaustedEvent struct {
	ID         string
	Reason     string
	Graceful   bool
	Reassigned int // Tasks moved to same-tier agents
	Released   int // Tasks returned to the backlog
	Timestamp  time.Time
}

func (e AgentExhaustedEvent) EventType() string { return EventTypeAgentExhausted }
func (e AgentExhaustedEvent) EntityID() string  { return e.ID }

// AgentRespawnedEvent is published when an exhausted agent returns to service.
type AgentRespawnedEvent struct {
	ID        string
	Capacity  int
	Timestamp time.Time
}

func (e AgentRespawnedEvent) EventType() string { return EventTypeAgentRespawned }
func (e AgentRespawnedEvent) EntityID() string  { return e.ID }

// AgentOfflineEvent is published when an agent leaves the pool for good.
type AgentOfflineEvent struct {
	ID        string
	Timestamp time.Time
}

func (e AgentOfflineEvent) EventType() string { return EventTypeAgentOffline }
func (e AgentOfflineEvent) EntityID() string  { return e.ID }

// SnapshotSavedEvent is published after the store state is archived.
type SnapshotSavedEvent struct {
	SnapshotID string
	ReplicaID  string
	Tasks      int
	Timestamp  time.Time
}

func (e SnapshotSavedEvent) EventType() string { return EventTypeSnapshotSaved }
func (e SnapshotSavedEvent) EntityID() string  { return e.SnapshotID }

// MergeAppliedEvent is published after a remote snapshot is merged into
// the local store.
type MergeAppliedEvent struct {
	SourceReplica string
	Adopted       int // Remote records absent locally
	Replaced      int // Remote payloads that won last-writer-wins
	KeptLocal     int // Remote records the local state already covered
	Tombstoned    int
	Timestamp     time.Time
}

func (e MergeAppliedEvent) EventType() string { return EventTypeMergeApplied }
func (e MergeAppliedEvent) EntityID() string  { return e.SourceReplica }

// PoolStatusEvent carries a periodic pool utilization sample.
type PoolStatusEvent struct {
	TotalAgents int
	ActiveTasks int
	Utilization float64
	Timestamp   time.Time
}

func (e PoolStatusEvent) EventType() string { return EventTypePoolStatus }
func (e PoolStatusEvent) EntityID() string  { return "" }
