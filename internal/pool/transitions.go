package pool

import (
	"fmt"
)

// allowedTransitions is the closed agent lifecycle table. Anything not
// listed is an invalid transition and a caller error.
var allowedTransitions = map[AgentStatus][]AgentStatus{
	AgentSpawning:   {AgentAvailable, AgentOffline},
	AgentAvailable:  {AgentBusy, AgentExhausted, AgentOffline},
	AgentBusy:       {AgentAvailable, AgentExhausted, AgentOffline},
	AgentExhausted:  {AgentRespawning, AgentOffline},
	AgentRespawning: {AgentAvailable, AgentOffline},
	AgentOffline:    {},
}

// canTransition reports whether the lifecycle table permits from → to.
func canTransition(from, to AgentStatus) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// transition moves the agent to a new status, enforcing the lifecycle
// table. Caller must hold the pool lock.
func transition(a *Agent, to AgentStatus) error {
	if !canTransition(a.Status, to) {
		return fmt.Errorf("agent %q: %s -> %s: %w", a.ID, a.Status, to, ErrInvalidTransition)
	}
	a.Status = to
	return nil
}
