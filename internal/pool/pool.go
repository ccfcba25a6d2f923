package pool

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/aristath/agentplane/internal/task"
)

// Checkpointer preserves a task's in-flight progress during graceful
// exhaustion. Implementations are best-effort collaborators: errors are
// recorded on the outcome and never block the exhaustion.
type Checkpointer interface {
	Checkpoint(ctx context.Context, taskID, agentID string) (string, error)
}

// HandoffWriter captures a handoff summary for the task's next owner,
// invoked immediately after the checkpoint. Same best-effort contract.
type HandoffWriter interface {
	Handoff(ctx context.Context, taskID, agentID string) (string, error)
}

// Caller errors. All are wrapped with %w so errors.Is works at call sites.
var (
	ErrAgentNotFound       = errors.New("agent not found")
	ErrDuplicateID         = errors.New("agent id already registered")
	ErrPoolFull            = errors.New("pool at maximum size")
	ErrCapacityExceeded    = errors.New("agent has no spare capacity")
	ErrInvalidTransition   = errors.New("invalid agent state transition")
	ErrTaskNotHeld         = errors.New("task not held by agent")
	ErrTaskAlreadyAssigned = errors.New("task already assigned")
)

// resetWarningWindow is how close to next_reset_at an agent must be to
// count as "near reset" in the pool status.
const resetWarningWindow = 30 * time.Minute

// DefaultMaxAgents bounds the pool when the config does not.
const DefaultMaxAgents = 1000

// Config configures a Pool.
type Config struct {
	MaxAgents    int            // Maximum registered agents (default DefaultMaxAgents)
	Checkpointer Checkpointer   // Optional, consulted during graceful exhaustion
	Handoff      HandoffWriter  // Optional, consulted after each checkpoint
	Now          func() time.Time // Injectable clock for tests (default time.Now)
}

// Counters tracks lifetime pool activity for the metrics surface.
type Counters struct {
	Spawned         int `json:"spawned"`
	Exhausted       int `json:"exhausted"`
	Respawned       int `json:"respawned"`
	TasksAssigned   int `json:"tasks_assigned"`
	TasksCompleted  int `json:"tasks_completed"`
	TasksReassigned int `json:"tasks_reassigned"`
}

// Pool owns the agent registry and lifecycle state machine.
//
// One mutex guards all pool state; every public operation runs to
// completion under it, including collaborator calls and reassignment
// during exhaustion. Reads return independent copies. Lock order across
// components is Pool before Store: callers holding the store lock must
// never call into the pool.
type Pool struct {
	mu           sync.Mutex
	maxAgents    int
	checkpointer Checkpointer
	handoff      HandoffWriter
	now          func() time.Time
	agents       map[string]*Agent
	tierIndex    map[task.Tier]map[string]struct{}
	assignments  map[string]string // task id -> agent id
	counters     Counters
}

// New creates an empty pool.
func New(cfg Config) *Pool {
	if cfg.MaxAgents <= 0 {
		cfg.MaxAgents = DefaultMaxAgents
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Pool{
		maxAgents:    cfg.MaxAgents,
		checkpointer: cfg.Checkpointer,
		handoff:      cfg.Handoff,
		now:          cfg.Now,
		agents:       make(map[string]*Agent),
		tierIndex:    make(map[task.Tier]map[string]struct{}),
		assignments:  make(map[string]string),
	}
}

// Spawn registers a new agent. The agent passes transient SPAWNING and
// lands AVAILABLE with a fresh heartbeat. A non-zero resetCycle gives the
// agent a finite lifetime window; zero means unlimited.
func (p *Pool) Spawn(id string, tier task.Tier, capacity int, resetCycle time.Duration) (Agent, error) {
	if id == "" {
		return Agent{}, fmt.Errorf("empty agent id")
	}
	if !tier.Valid() {
		return Agent{}, fmt.Errorf("agent %q: unknown tier %d", id, int(tier))
	}
	if capacity <= 0 {
		return Agent{}, fmt.Errorf("agent %q: capacity must be positive, got %d", id, capacity)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.agents[id]; exists {
		return Agent{}, fmt.Errorf("agent %q: %w", id, ErrDuplicateID)
	}
	if len(p.agents) >= p.maxAgents {
		return Agent{}, fmt.Errorf("%w (%d agents)", ErrPoolFull, p.maxAgents)
	}

	now := p.now()
	a := &Agent{
		ID:            id,
		Tier:          tier,
		Capacity:      capacity,
		Status:        AgentSpawning,
		CurrentTasks:  make(map[string]struct{}),
		ResetWindow:   resetCycle,
		LastResetAt:   now,
		LastHeartbeat: now,
	}
	if resetCycle > 0 {
		a.NextResetAt = now.Add(resetCycle)
	}
	if err := transition(a, AgentAvailable); err != nil {
		return Agent{}, err
	}

	p.agents[id] = a
	if p.tierIndex[tier] == nil {
		p.tierIndex[tier] = make(map[string]struct{})
	}
	p.tierIndex[tier][id] = struct{}{}
	p.counters.Spawned++

	return a.Clone(), nil
}

// AssignTask adds a task to an agent's set, flipping the agent to BUSY
// when it reaches capacity. It fails without mutating on unknown agent,
// already-assigned task, or missing capacity.
func (p *Pool) AssignTask(agentID, taskID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.assignLocked(agentID, taskID)
}

// assignLocked is AssignTask with the lock already held.
func (p *Pool) assignLocked(agentID, taskID string) error {
	a, ok := p.agents[agentID]
	if !ok {
		return fmt.Errorf("agent %q: %w", agentID, ErrAgentNotFound)
	}
	if holder, taken := p.assignments[taskID]; taken {
		return fmt.Errorf("task %q held by agent %q: %w", taskID, holder, ErrTaskAlreadyAssigned)
	}
	if !a.acceptsWork() {
		return fmt.Errorf("agent %q (%s, %d/%d): %w", agentID, a.Status, len(a.CurrentTasks), a.Capacity, ErrCapacityExceeded)
	}

	a.CurrentTasks[taskID] = struct{}{}
	p.assignments[taskID] = agentID
	p.counters.TasksAssigned++
	if len(a.CurrentTasks) >= a.Capacity {
		if err := transition(a, AgentBusy); err != nil {
			// Roll back so a failed assign never mutates.
			delete(a.CurrentTasks, taskID)
			delete(p.assignments, taskID)
			p.counters.TasksAssigned--
			return err
		}
	}
	return nil
}

// CompleteTask removes a finished task from its agent, credits the
// fairness counter, and flips the agent back to AVAILABLE when it drops
// below capacity.
func (p *Pool) CompleteTask(agentID, taskID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	a, err := p.holderLocked(agentID, taskID)
	if err != nil {
		return err
	}

	delete(a.CurrentTasks, taskID)
	delete(p.assignments, taskID)
	a.TasksCompleted++
	p.counters.TasksCompleted++
	if a.Status == AgentBusy && len(a.CurrentTasks) < a.Capacity {
		return transition(a, AgentAvailable)
	}
	return nil
}

// ReleaseTask removes a task from its agent without crediting completion.
// It is the compensation path used by the scheduler when the store-side
// half of an assignment fails.
func (p *Pool) ReleaseTask(agentID, taskID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	a, err := p.holderLocked(agentID, taskID)
	if err != nil {
		return err
	}

	delete(a.CurrentTasks, taskID)
	delete(p.assignments, taskID)
	if a.Status == AgentBusy && len(a.CurrentTasks) < a.Capacity {
		return transition(a, AgentAvailable)
	}
	return nil
}

// holderLocked resolves the agent and verifies it actually holds the task.
func (p *Pool) holderLocked(agentID, taskID string) (*Agent, error) {
	a, ok := p.agents[agentID]
	if !ok {
		return nil, fmt.Errorf("agent %q: %w", agentID, ErrAgentNotFound)
	}
	if _, held := a.CurrentTasks[taskID]; !held {
		return nil, fmt.Errorf("task %q on agent %q: %w", taskID, agentID, ErrTaskNotHeld)
	}
	return a, nil
}

// Heartbeat refreshes an agent's liveness timestamp.
func (p *Pool) Heartbeat(agentID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	a, ok := p.agents[agentID]
	if !ok {
		return fmt.Errorf("agent %q: %w", agentID, ErrAgentNotFound)
	}
	a.LastHeartbeat = p.now()
	return nil
}

// TaskHandoff reports what happened to one task during an exhaustion.
type TaskHandoff struct {
	TaskID        string
	CheckpointRef string // Opaque reference from the checkpoint collaborator
	CheckpointErr error  // Recorded, never propagated
	HandoffRef    string
	HandoffErr    error
	ReassignedTo  string // Empty when the task was released instead
}

// ExhaustOutcome is the full record of one exhaustion: per-task
// collaborator results and reassignment targets, plus the released tasks
// the caller must return to PENDING.
type ExhaustOutcome struct {
	AgentID  string
	Reason   ExhaustReason
	Graceful bool
	Tasks    []TaskHandoff
	Released []string // Tasks no same-tier agent could absorb
}

// Exhaust takes an agent out of service. When graceful, every held task
// is checkpointed and handed off best-effort, then reassigned to the
// same-tier agent with the most spare capacity (fewest completed tasks on
// ties); tasks nobody can absorb are released. The agent's task set is
// cleared, its status set to EXHAUSTED, and an exhaustion record appended
// to its history. Non-graceful skips collaborators and reassignment.
func (p *Pool) Exhaust(ctx context.Context, agentID string, reason ExhaustReason, graceful bool) (ExhaustOutcome, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	a, ok := p.agents[agentID]
	if !ok {
		return ExhaustOutcome{}, fmt.Errorf("agent %q: %w", agentID, ErrAgentNotFound)
	}
	return p.exhaustLocked(ctx, a, reason, graceful)
}

// exhaustLocked performs an exhaustion with the lock already held. The
// whole operation, collaborator calls included, runs under the pool lock
// so reassignment is atomic with the state change.
func (p *Pool) exhaustLocked(ctx context.Context, a *Agent, reason ExhaustReason, graceful bool) (ExhaustOutcome, error) {
	if !canTransition(a.Status, AgentExhausted) {
		return ExhaustOutcome{}, fmt.Errorf("agent %q: %s -> %s: %w", a.ID, a.Status, AgentExhausted, ErrInvalidTransition)
	}

	affected := a.TaskIDs()
	outcome := ExhaustOutcome{
		AgentID:  a.ID,
		Reason:   reason,
		Graceful: graceful,
		Tasks:    make([]TaskHandoff, 0, len(affected)),
	}

	for _, taskID := range affected {
		rec := TaskHandoff{TaskID: taskID}
		if graceful {
			if p.checkpointer != nil {
				ref, err := p.checkpointer.Checkpoint(ctx, taskID, a.ID)
				if err != nil {
					log.Printf("WARNING: checkpoint for task %q failed: %v", taskID, err)
					rec.CheckpointErr = err
				} else {
					rec.CheckpointRef = ref
				}
			}
			if p.handoff != nil {
				ref, err := p.handoff.Handoff(ctx, taskID, a.ID)
				if err != nil {
					log.Printf("WARNING: handoff summary for task %q failed: %v", taskID, err)
					rec.HandoffErr = err
				} else {
					rec.HandoffRef = ref
				}
			}
		}

		delete(a.CurrentTasks, taskID)
		delete(p.assignments, taskID)

		if graceful {
			if target := p.findCandidateLocked(a.Tier, a.ID); target != nil {
				target.CurrentTasks[taskID] = struct{}{}
				p.assignments[taskID] = target.ID
				p.counters.TasksReassigned++
				rec.ReassignedTo = target.ID
				if len(target.CurrentTasks) >= target.Capacity {
					target.Status = AgentBusy
				}
			} else {
				outcome.Released = append(outcome.Released, taskID)
			}
		} else {
			outcome.Released = append(outcome.Released, taskID)
		}
		outcome.Tasks = append(outcome.Tasks, rec)
	}

	a.Status = AgentExhausted
	a.History = append(a.History, ExhaustionRecord{
		At:            p.now(),
		Reason:        reason,
		TasksAffected: affected,
		Graceful:      graceful,
	})
	p.counters.Exhausted++

	return outcome, nil
}

// findCandidateLocked picks the same-tier agent best placed to absorb one
// more task: maximum spare capacity, then fewest completed tasks, then
// lowest id for determinism. Returns nil when nobody has room.
func (p *Pool) findCandidateLocked(tier task.Tier, exclude string) *Agent {
	var best *Agent
	for id := range p.tierIndex[tier] {
		if id == exclude {
			continue
		}
		a := p.agents[id]
		if a == nil || !a.acceptsWork() {
			continue
		}
		switch {
		case best == nil,
			a.SpareCapacity() > best.SpareCapacity(),
			a.SpareCapacity() == best.SpareCapacity() && a.TasksCompleted < best.TasksCompleted,
			a.SpareCapacity() == best.SpareCapacity() && a.TasksCompleted == best.TasksCompleted && a.ID < best.ID:
			best = a
		}
	}
	return best
}

// AvailableAgent returns the id of the agent best placed to take one more
// task of the given tier, or false when no same-tier agent has room.
func (p *Pool) AvailableAgent(tier task.Tier) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if a := p.findCandidateLocked(tier, ""); a != nil {
		return a.ID, true
	}
	return "", false
}

// Respawn returns an exhausted agent to service. Only valid from
// EXHAUSTED. A positive newCapacity overrides the old one. The reset
// window restarts, the heartbeat refreshes, and the recovery duration is
// recorded on the latest exhaustion history entry.
func (p *Pool) Respawn(agentID string, newCapacity int) (Agent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	a, ok := p.agents[agentID]
	if !ok {
		return Agent{}, fmt.Errorf("agent %q: %w", agentID, ErrAgentNotFound)
	}
	if err := transition(a, AgentRespawning); err != nil {
		return Agent{}, err
	}

	if newCapacity > 0 {
		a.Capacity = newCapacity
	}
	now := p.now()
	a.LastResetAt = now
	if a.ResetWindow > 0 {
		a.NextResetAt = now.Add(a.ResetWindow)
	}
	a.LastHeartbeat = now
	if n := len(a.History); n > 0 && a.History[n-1].Recovery == 0 {
		a.History[n-1].Recovery = now.Sub(a.History[n-1].At)
	}
	if err := transition(a, AgentAvailable); err != nil {
		return Agent{}, err
	}
	p.counters.Respawned++

	return a.Clone(), nil
}

// AutoExhaustOnReset gracefully exhausts every agent with a finite reset
// cycle whose next_reset_at has passed. This is how rate-limited agent
// classes are forced to rotate.
func (p *Pool) AutoExhaustOnReset(ctx context.Context) []ExhaustOutcome {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	var outcomes []ExhaustOutcome
	for _, id := range p.agentIDsLocked() {
		a := p.agents[id]
		if a.ResetWindow <= 0 || a.NextResetAt.After(now) {
			continue
		}
		if !canTransition(a.Status, AgentExhausted) {
			continue
		}
		outcome, err := p.exhaustLocked(ctx, a, ReasonResetCycle, true)
		if err != nil {
			log.Printf("ERROR: reset-cycle exhaust of agent %q failed: %v", id, err)
			continue
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes
}

// CleanupStale gracefully exhausts, then marks OFFLINE, every agent whose
// heartbeat is older than the threshold. Already exhausted or offline
// agents are left alone.
func (p *Pool) CleanupStale(ctx context.Context, threshold time.Duration) []ExhaustOutcome {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	var outcomes []ExhaustOutcome
	for _, id := range p.agentIDsLocked() {
		a := p.agents[id]
		if a.Status == AgentExhausted || a.Status == AgentOffline {
			continue
		}
		if now.Sub(a.LastHeartbeat) <= threshold {
			continue
		}
		outcome, err := p.exhaustLocked(ctx, a, ReasonError, true)
		if err != nil {
			log.Printf("ERROR: stale-heartbeat exhaust of agent %q failed: %v", id, err)
			continue
		}
		a.Status = AgentOffline
		outcomes = append(outcomes, outcome)
	}
	return outcomes
}

// Remove deletes an agent from the pool entirely, draining it with a
// graceful exhaust first when it is still in service. The outcome lists
// any tasks released by the drain.
func (p *Pool) Remove(ctx context.Context, agentID string) (ExhaustOutcome, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	a, ok := p.agents[agentID]
	if !ok {
		return ExhaustOutcome{}, fmt.Errorf("agent %q: %w", agentID, ErrAgentNotFound)
	}

	var outcome ExhaustOutcome
	if canTransition(a.Status, AgentExhausted) {
		var err error
		outcome, err = p.exhaustLocked(ctx, a, ReasonManual, true)
		if err != nil {
			return ExhaustOutcome{}, err
		}
	}

	delete(p.agents, agentID)
	delete(p.tierIndex[a.Tier], agentID)
	return outcome, nil
}

// Get returns an independent copy of one agent.
func (p *Pool) Get(agentID string) (Agent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	a, ok := p.agents[agentID]
	if !ok {
		return Agent{}, fmt.Errorf("agent %q: %w", agentID, ErrAgentNotFound)
	}
	return a.Clone(), nil
}

// List returns independent copies of all agents, sorted by id.
func (p *Pool) List() []Agent {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]Agent, 0, len(p.agents))
	for _, id := range p.agentIDsLocked() {
		out = append(out, p.agents[id].Clone())
	}
	return out
}

// AssignedAgent returns which agent currently holds a task, if any.
func (p *Pool) AssignedAgent(taskID string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	id, ok := p.assignments[taskID]
	return id, ok
}

// agentIDsLocked returns all agent ids sorted, for deterministic scans.
func (p *Pool) agentIDsLocked() []string {
	ids := make([]string, 0, len(p.agents))
	for id := range p.agents {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
