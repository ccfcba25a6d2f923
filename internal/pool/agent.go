package pool

import (
	"fmt"
	"sort"
	"time"

	"github.com/aristath/agentplane/internal/task"
)

// AgentStatus represents the lifecycle state of a pooled agent.
type AgentStatus int

const (
	AgentSpawning   AgentStatus = iota // Being registered, not yet serving
	AgentAvailable                     // Below capacity, accepting work
	AgentBusy                          // At capacity
	AgentExhausted                     // Out of service, work handed off
	AgentRespawning                    // Returning from exhaustion
	AgentOffline                       // Permanently out, heartbeat lost or removed
)

// String returns the wire name of the status.
func (s AgentStatus) String() string {
	switch s {
	case AgentSpawning:
		return "spawning"
	case AgentAvailable:
		return "available"
	case AgentBusy:
		return "busy"
	case AgentExhausted:
		return "exhausted"
	case AgentRespawning:
		return "respawning"
	case AgentOffline:
		return "offline"
	default:
		return fmt.Sprintf("agent_status(%d)", int(s))
	}
}

// Valid reports whether the status is one of the defined values.
func (s AgentStatus) Valid() bool {
	return s >= AgentSpawning && s <= AgentOffline
}

// ExhaustReason classifies why an agent left service.
type ExhaustReason int

const (
	ReasonResetCycle ExhaustReason = iota // Finite lifetime window elapsed
	ReasonRateLimit                       // Upstream throttling
	ReasonError                           // Repeated failures or lost heartbeat
	ReasonManual                          // Operator request
)

// String returns the wire name of the reason.
func (r ExhaustReason) String() string {
	switch r {
	case ReasonResetCycle:
		return "reset_cycle"
	case ReasonRateLimit:
		return "rate_limit"
	case ReasonError:
		return "error"
	case ReasonManual:
		return "manual"
	default:
		return fmt.Sprintf("exhaust_reason(%d)", int(r))
	}
}

// ParseExhaustReason maps a wire name to an ExhaustReason. Unknown names
// are rejected.
func ParseExhaustReason(name string) (ExhaustReason, error) {
	switch name {
	case "reset_cycle":
		return ReasonResetCycle, nil
	case "rate_limit":
		return ReasonRateLimit, nil
	case "error":
		return ReasonError, nil
	case "manual":
		return ReasonManual, nil
	default:
		return 0, fmt.Errorf("unknown exhaust reason %q", name)
	}
}

// Valid reports whether the reason is one of the defined values.
func (r ExhaustReason) Valid() bool {
	return r >= ReasonResetCycle && r <= ReasonManual
}

// ExhaustionRecord is one entry in an agent's exhaustion history.
type ExhaustionRecord struct {
	At            time.Time     // When the agent was exhausted
	Reason        ExhaustReason // Why
	TasksAffected []string      // Tasks held at the moment of exhaustion
	Graceful      bool          // Whether checkpoint/handoff/reassignment ran
	Recovery      time.Duration // Time until respawn, zero until it happens
}

// Agent is a pooled worker with bounded capacity and an optional finite
// lifetime (reset cycle). All mutation goes through the Pool; read paths
// return independent copies.
type Agent struct {
	ID             string
	Tier           task.Tier
	Capacity       int                 // Max concurrent tasks
	Status         AgentStatus
	CurrentTasks   map[string]struct{} // Held task ids, len ≤ Capacity
	ResetWindow    time.Duration       // 0 = unlimited lifetime
	LastResetAt    time.Time
	NextResetAt    time.Time // Zero when unlimited
	LastHeartbeat  time.Time
	TasksCompleted int // Fairness counter
	History        []ExhaustionRecord
}

// Clone returns an independent copy of the agent, including the task set
// and the exhaustion history.
func (a Agent) Clone() Agent {
	out := a
	out.CurrentTasks = make(map[string]struct{}, len(a.CurrentTasks))
	for id := range a.CurrentTasks {
		out.CurrentTasks[id] = struct{}{}
	}
	out.History = make([]ExhaustionRecord, len(a.History))
	for i, rec := range a.History {
		cp := rec
		cp.TasksAffected = append([]string(nil), rec.TasksAffected...)
		out.History[i] = cp
	}
	return out
}

// TaskIDs returns the held task ids in sorted order.
func (a Agent) TaskIDs() []string {
	ids := make([]string, 0, len(a.CurrentTasks))
	for id := range a.CurrentTasks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// SpareCapacity returns how many more tasks the agent can hold.
func (a Agent) SpareCapacity() int {
	return a.Capacity - len(a.CurrentTasks)
}

// acceptsWork reports whether the agent can take one more task.
func (a *Agent) acceptsWork() bool {
	if a.Status != AgentAvailable && a.Status != AgentBusy {
		return false
	}
	return len(a.CurrentTasks) < a.Capacity
}
