package scheduler

import (
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/aristath/agentplane/internal/pool"
	"github.com/aristath/agentplane/internal/store"
	"github.com/aristath/agentplane/internal/task"
)

// ErrTierMismatch is returned by Assign when the task and agent tiers
// differ; ForceAssign downgrades it to a recorded warning.
var ErrTierMismatch = errors.New("task and agent tiers differ")

// DecisionKind tags what the scheduler decided for one task.
type DecisionKind int

const (
	DecisionAssigned DecisionKind = iota // Task matched to an agent
	DecisionBlocked                      // A blocker is not yet done
	DecisionQueued                       // No tier-matching agent had room
)

// String returns the wire name of the decision kind.
func (k DecisionKind) String() string {
	switch k {
	case DecisionAssigned:
		return "assigned"
	case DecisionBlocked:
		return "blocked"
	case DecisionQueued:
		return "queued"
	default:
		return fmt.Sprintf("decision(%d)", int(k))
	}
}

// Decision is one scheduling outcome for one task.
type Decision struct {
	TaskID  string       `json:"task_id"`
	AgentID string       `json:"agent_id,omitempty"` // Set only when assigned
	Kind    DecisionKind `json:"-"`
	Reason  string       `json:"reason"` // Wire name plus detail (e.g. blocker id)
	At      int64        `json:"scheduled_at"` // Epoch ms
	Forced  bool         `json:"forced,omitempty"` // True for tier-mismatched force assignments
}

// trackedTask is the scheduler's internal view of a registered task.
type trackedTask struct {
	status    task.Status
	blockedBy []string
	seq       uint64 // Registration order, the FIFO component of the sort key
}

// Scheduler matches unblocked tasks against pool capacity under a hard
// tier constraint.
//
// Its own mutex guards the tracking state only. A scheduling pass calls
// into the pool first and the store second; that lock order (Pool before
// Store) is fixed everywhere in this module to keep cross-component
// operations deadlock-free.
type Scheduler struct {
	mu        sync.Mutex
	pool      *pool.Pool
	store     *store.Store
	tracked   map[string]*trackedTask
	nextSeq   uint64
	counters  Counters
	nowMillis func() int64
}

// Counters tracks lifetime scheduling activity.
type Counters struct {
	Scheduled int `json:"scheduled"`
	Blocked   int `json:"blocked"`
	Queued    int `json:"queued"`
	Completed int `json:"completed"`
	Forced    int `json:"forced"`
}

// New creates a scheduler over the given pool and store.
func New(p *pool.Pool, s *store.Store) *Scheduler {
	return &Scheduler{
		pool:      p,
		store:     s,
		tracked:   make(map[string]*trackedTask),
		nowMillis: func() int64 { return time.Now().UnixMilli() },
	}
}

// ScheduleBatch runs one scheduling pass over a batch of task records.
//
// New tasks are registered as PENDING in FIFO order. A task with any
// not-yet-done blocker is marked BLOCKED (done-ness is checked against
// the tracker and the store; a blocker unknown to both counts as
// satisfied). The remaining tasks are sorted by priority, then deadline,
// then registration order, and matched against same-tier agents with
// spare capacity. The pool accepts each assignment before the store
// record is touched; if the store-side write then fails the assignment is
// compensated and the task queued, so a task gets exactly one winning
// agent or none.
func (s *Scheduler) ScheduleBatch(batch []task.Task) []Decision {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Phase 1: register unseen tasks in arrival order.
	for _, t := range batch {
		if t.ID == "" {
			continue
		}
		if _, seen := s.tracked[t.ID]; seen {
			continue
		}
		s.tracked[t.ID] = &trackedTask{
			status:    task.StatusPending,
			blockedBy: append([]string(nil), t.BlockedBy...),
			seq:       s.nextSeq,
		}
		s.nextSeq++
	}

	// Phase 2: split the batch into blocked and runnable.
	decisions := make([]Decision, 0, len(batch))
	var runnable []task.Task
	for _, t := range batch {
		tracked, ok := s.tracked[t.ID]
		if !ok {
			continue
		}
		if tracked.status == task.StatusDone {
			continue // Completed earlier; nothing to decide.
		}
		if blocker, blocked := s.firstOpenBlockerLocked(tracked); blocked {
			tracked.status = task.StatusBlocked
			s.counters.Blocked++
			decisions = append(decisions, Decision{
				TaskID: t.ID,
				Kind:   DecisionBlocked,
				Reason: fmt.Sprintf("blocked: waiting on %q", blocker),
				At:     s.nowMillis(),
			})
			continue
		}
		runnable = append(runnable, t)
	}

	// Phase 3: strict total order — priority, deadline, registration.
	sort.SliceStable(runnable, func(i, j int) bool {
		a, b := runnable[i], runnable[j]
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		if da, db := deadlineKey(a), deadlineKey(b); da != db {
			return da < db
		}
		return s.tracked[a.ID].seq < s.tracked[b.ID].seq
	})

	// Phase 4: match against same-tier capacity.
	for _, t := range runnable {
		decisions = append(decisions, s.placeLocked(t))
	}
	return decisions
}

// placeLocked tries to place one runnable task. Caller holds s.mu.
func (s *Scheduler) placeLocked(t task.Task) Decision {
	tracked := s.tracked[t.ID]

	agentID, ok := s.pool.AvailableAgent(t.Tier)
	if !ok {
		tracked.status = task.StatusPending
		s.counters.Queued++
		return Decision{
			TaskID: t.ID,
			Kind:   DecisionQueued,
			Reason: fmt.Sprintf("queued: no %s agent with spare capacity", t.Tier),
			At:     s.nowMillis(),
		}
	}

	if err := s.pool.AssignTask(agentID, t.ID); err != nil {
		// Raced with another claim on the same task; keep it pending.
		tracked.status = task.StatusPending
		s.counters.Queued++
		return Decision{
			TaskID: t.ID,
			Kind:   DecisionQueued,
			Reason: fmt.Sprintf("queued: %v", err),
			At:     s.nowMillis(),
		}
	}

	if err := s.claimInStore(t.ID, agentID); err != nil {
		// Compensate the pool half so no partial assignment survives.
		if relErr := s.pool.ReleaseTask(agentID, t.ID); relErr != nil {
			log.Printf("ERROR: releasing task %q from agent %q after store failure: %v", t.ID, agentID, relErr)
		}
		tracked.status = task.StatusPending
		s.counters.Queued++
		return Decision{
			TaskID: t.ID,
			Kind:   DecisionQueued,
			Reason: fmt.Sprintf("queued: store rejected claim: %v", err),
			At:     s.nowMillis(),
		}
	}

	tracked.status = task.StatusAssigned
	s.counters.Scheduled++
	return Decision{
		TaskID:  t.ID,
		AgentID: agentID,
		Kind:    DecisionAssigned,
		Reason:  "assigned",
		At:      s.nowMillis(),
	}
}

// claimInStore records the winning agent on the canonical task record.
func (s *Scheduler) claimInStore(taskID, agentID string) error {
	status := task.StatusAssigned
	_, err := s.store.Update(taskID, store.Patch{Status: &status, ClaimedBy: &agentID})
	return err
}

// firstOpenBlockerLocked returns the first blocker that is not yet done.
// A blocker counts as done when the tracker or the store says DONE; one
// unknown to both is treated as satisfied.
func (s *Scheduler) firstOpenBlockerLocked(t *trackedTask) (string, bool) {
	for _, blocker := range t.blockedBy {
		if tracked, ok := s.tracked[blocker]; ok {
			if tracked.status != task.StatusDone {
				return blocker, true
			}
			continue
		}
		if rec, err := s.store.Get(blocker); err == nil {
			if rec.Status != task.StatusDone {
				return blocker, true
			}
		}
	}
	return "", false
}

// deadlineKey maps an absent deadline to +infinity for sorting.
func deadlineKey(t task.Task) int64 {
	if t.Deadline == 0 {
		return int64(1)<<62 - 1
	}
	return t.Deadline
}

// Assign pairs a task with a named agent on the default path. A tier
// mismatch is refused with ErrTierMismatch; use ForceAssign to override.
func (s *Scheduler) Assign(taskID, agentID string) (Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.assignLocked(taskID, agentID, false)
}

// ForceAssign pairs a task with a named agent even across tiers. The
// mismatch is logged and recorded on the decision instead of refused;
// capacity violations and unknown ids still fail.
func (s *Scheduler) ForceAssign(taskID, agentID string) (Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.assignLocked(taskID, agentID, true)
}

// assignLocked is the shared direct-assignment path. Caller holds s.mu.
func (s *Scheduler) assignLocked(taskID, agentID string, force bool) (Decision, error) {
	rec, err := s.store.Get(taskID)
	if err != nil {
		return Decision{}, err
	}
	agent, err := s.pool.Get(agentID)
	if err != nil {
		return Decision{}, err
	}

	forced := agent.Tier != rec.Tier
	if forced {
		if !force {
			return Decision{}, fmt.Errorf("%s task %q on %s agent %q: %w", rec.Tier, taskID, agent.Tier, agentID, ErrTierMismatch)
		}
		log.Printf("WARNING: force-assigning %s task %q to %s agent %q", rec.Tier, taskID, agent.Tier, agentID)
	}

	if err := s.pool.AssignTask(agentID, taskID); err != nil {
		return Decision{}, err
	}
	if err := s.claimInStore(taskID, agentID); err != nil {
		if relErr := s.pool.ReleaseTask(agentID, taskID); relErr != nil {
			log.Printf("ERROR: releasing task %q from agent %q after store failure: %v", taskID, agentID, relErr)
		}
		return Decision{}, err
	}

	tracked, ok := s.tracked[taskID]
	if !ok {
		tracked = &trackedTask{blockedBy: rec.BlockedBy, seq: s.nextSeq}
		s.nextSeq++
		s.tracked[taskID] = tracked
	}
	tracked.status = task.StatusAssigned
	s.counters.Scheduled++
	if forced {
		s.counters.Forced++
	}

	reason := "assigned"
	if forced {
		reason = fmt.Sprintf("assigned: forced across tiers (%s task on %s agent)", rec.Tier, agent.Tier)
	}
	return Decision{
		TaskID:  taskID,
		AgentID: agentID,
		Kind:    DecisionAssigned,
		Reason:  reason,
		At:      s.nowMillis(),
		Forced:  forced,
	}, nil
}

// OnTaskCompleted records a task finishing on an agent: pool capacity is
// freed, the store record becomes DONE with the claim cleared, and later
// batches treat the task as a satisfied dependency.
func (s *Scheduler) OnTaskCompleted(agentID, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.pool.CompleteTask(agentID, taskID); err != nil {
		return err
	}

	done := task.StatusDone
	unclaimed := ""
	if _, err := s.store.Update(taskID, store.Patch{Status: &done, ClaimedBy: &unclaimed}); err != nil {
		return fmt.Errorf("pool freed but store update failed for task %q: %w", taskID, err)
	}

	tracked, ok := s.tracked[taskID]
	if !ok {
		tracked = &trackedTask{seq: s.nextSeq}
		s.nextSeq++
		s.tracked[taskID] = tracked
	}
	tracked.status = task.StatusDone
	s.counters.Completed++
	return nil
}

// ReleaseTask returns a task to PENDING in both the tracker and the
// store, used after an exhaustion leaves it unassigned.
func (s *Scheduler) ReleaseTask(taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pending := task.StatusPending
	unclaimed := ""
	if _, err := s.store.Update(taskID, store.Patch{Status: &pending, ClaimedBy: &unclaimed}); err != nil {
		return err
	}
	if tracked, ok := s.tracked[taskID]; ok {
		tracked.status = task.StatusPending
	}
	return nil
}

// RecordReassignment updates the canonical record after the pool moved a
// task between agents during an exhaustion.
func (s *Scheduler) RecordReassignment(taskID, agentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.claimInStore(taskID, agentID); err != nil {
		return err
	}
	if tracked, ok := s.tracked[taskID]; ok {
		tracked.status = task.StatusAssigned
	}
	return nil
}
