// Package daemon wires the task store, agent pool, scheduler, archive,
// and event bus into one long-running control plane.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/aristath/agentplane/internal/collab"
	"github.com/aristath/agentplane/internal/config"
	"github.com/aristath/agentplane/internal/events"
	"github.com/aristath/agentplane/internal/persistence"
	"github.com/aristath/agentplane/internal/pool"
	"github.com/aristath/agentplane/internal/scheduler"
	"github.com/aristath/agentplane/internal/store"
	"github.com/aristath/agentplane/internal/task"
	"github.com/aristath/agentplane/internal/telemetry"
	"github.com/aristath/agentplane/internal/waves"
)

// Plane owns every control-plane component. All cross-component writes go
// through its methods so the pool-before-store lock order holds.
type Plane struct {
	cfg       *config.PlaneConfig
	store     *store.Store
	pool      *pool.Pool
	scheduler *scheduler.Scheduler
	archive   persistence.Archive
	bus       *events.Bus
	commands  *CommandChannel
}

// New assembles a control plane from the config: the store is restored
// from the latest archived snapshot (a missing snapshot is a cold start,
// not an error), the fleet is spawned, and exhaustion collaborators are
// wired to the archive behind circuit breakers.
func New(ctx context.Context, cfg *config.PlaneConfig, archive persistence.Archive, bus *events.Bus) (*Plane, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if fp, err := config.Fingerprint(cfg); err == nil {
		log.Printf("starting control plane %s with config fingerprint %016x", cfg.ReplicaID, fp)
	}

	st := store.New(cfg.ReplicaID)
	snap, err := archive.LatestSnapshot(ctx, cfg.ReplicaID)
	switch {
	case err == nil:
		if err := st.Restore(snap); err != nil {
			return nil, fmt.Errorf("restoring archived snapshot: %w", err)
		}
		log.Printf("restored %d tasks from the archive", len(snap.Tasks))
	case errors.Is(err, persistence.ErrNoSnapshot):
		// Cold start.
	default:
		return nil, fmt.Errorf("loading latest snapshot: %w", err)
	}

	retryCfg := collab.DefaultRetryConfig()
	p := pool.New(pool.Config{
		MaxAgents:    cfg.Pool.MaxAgents,
		Checkpointer: collab.NewResilientCheckpointer(collab.NewArchiveCheckpointer(archive, ""), retryCfg),
		Handoff:      collab.NewResilientHandoff(collab.NewArchiveHandoff(archive), retryCfg),
	})

	plane := &Plane{
		cfg:       cfg,
		store:     st,
		pool:      p,
		scheduler: scheduler.New(p, st),
		archive:   archive,
		bus:       bus,
		commands:  NewCommandChannel(2 * len(cfg.Fleet)),
	}

	for _, spec := range cfg.Fleet {
		tier, err := task.ParseTier(spec.Tier)
		if err != nil {
			return nil, fmt.Errorf("fleet agent %q: %w", spec.ID, err)
		}
		agent, err := p.Spawn(spec.ID, tier, spec.Capacity, time.Duration(spec.ResetCycleHours)*time.Hour)
		if err != nil {
			return nil, fmt.Errorf("spawning fleet agent %q: %w", spec.ID, err)
		}
		bus.Publish(events.TopicAgents, events.AgentSpawnedEvent{
			ID:        agent.ID,
			Tier:      agent.Tier,
			Capacity:  agent.Capacity,
			Timestamp: time.Now(),
		})
	}

	return plane, nil
}

// Store exposes the task record store.
func (pl *Plane) Store() *store.Store { return pl.store }

// Pool exposes the agent pool.
func (pl *Plane) Pool() *pool.Pool { return pl.pool }

// Scheduler exposes the scheduler.
func (pl *Plane) Scheduler() *scheduler.Scheduler { return pl.scheduler }

// Bus exposes the event bus.
func (pl *Plane) Bus() *events.Bus { return pl.bus }

// SubmitTask registers a new task record and triggers no scheduling by
// itself; the next pass picks it up. A dependency cycle does not reject
// the record (the blocked wave surfaces it to the operator) but is
// logged at submission so the author hears about it immediately.
func (pl *Plane) SubmitTask(t task.Task) (task.Task, error) {
	added, err := pl.store.Add(t)
	if err != nil {
		return task.Task{}, err
	}
	if err := waves.Acyclic(pl.openTasks()); err != nil {
		log.Printf("WARNING: task graph after adding %s: %v", added.ID, err)
	}
	return added, nil
}

// openTasks returns every live record that is not DONE.
func (pl *Plane) openTasks() []task.Task {
	all := pl.store.List(store.Filter{})
	open := all[:0]
	for _, t := range all {
		if t.Status != task.StatusDone {
			open = append(open, t)
		}
	}
	return open
}

// SchedulePass runs one scheduling pass over every schedulable record and
// publishes a decision event per task.
func (pl *Plane) SchedulePass(ctx context.Context) []scheduler.Decision {
	started := time.Now()
	batch := pl.store.List(store.Filter{Schedulable: true})
	decisions := pl.scheduler.ScheduleBatch(batch)

	tiers := make(map[string]task.Tier, len(batch))
	for _, t := range batch {
		tiers[t.ID] = t.Tier
	}

	for _, d := range decisions {
		switch d.Kind {
		case scheduler.DecisionAssigned:
			pl.bus.Publish(events.TopicTasks, events.TaskAssignedEvent{
				ID:        d.TaskID,
				AgentID:   d.AgentID,
				Tier:      tiers[d.TaskID],
				Forced:    d.Forced,
				Timestamp: time.Now(),
			})
		case scheduler.DecisionBlocked:
			pl.bus.Publish(events.TopicTasks, events.TaskBlockedEvent{
				ID:        d.TaskID,
				Timestamp: time.Now(),
			})
		case scheduler.DecisionQueued:
			pl.bus.Publish(events.TopicTasks, events.TaskQueuedEvent{
				ID:        d.TaskID,
				Tier:      tiers[d.TaskID],
				Timestamp: time.Now(),
			})
		}
		telemetry.RecordDecision(ctx, d.Kind.String(), tiers[d.TaskID].String())
	}
	telemetry.RecordSchedulePass(ctx, time.Since(started))
	return decisions
}

// CompleteTask marks a task done on its agent and publishes the event.
// An empty agentID is resolved through the pool's assignment index, so
// callers that only know the task id can complete it.
func (pl *Plane) CompleteTask(agentID, taskID string) error {
	if agentID == "" {
		holder, ok := pl.pool.AssignedAgent(taskID)
		if !ok {
			return fmt.Errorf("no agent holds task %s", taskID)
		}
		agentID = holder
	}
	if err := pl.scheduler.OnTaskCompleted(agentID, taskID); err != nil {
		return err
	}
	pl.bus.Publish(events.TopicTasks, events.TaskCompletedEvent{
		ID:        taskID,
		AgentID:   agentID,
		Timestamp: time.Now(),
	})
	return nil
}

// ExhaustAgent drains an agent and applies the outcome to the canonical
// records: reassigned tasks keep ASSIGNED with the new claim, released
// tasks return to PENDING.
func (pl *Plane) ExhaustAgent(ctx context.Context, agentID string, reason pool.ExhaustReason, graceful bool) (pool.ExhaustOutcome, error) {
	outcome, err := pl.pool.Exhaust(ctx, agentID, reason, graceful)
	if err != nil {
		return outcome, err
	}
	pl.applyExhaustOutcome(ctx, outcome)
	return outcome, nil
}

// RespawnAgent returns an exhausted agent to service.
func (pl *Plane) RespawnAgent(agentID string, newCapacity int) (pool.Agent, error) {
	agent, err := pl.pool.Respawn(agentID, newCapacity)
	if err != nil {
		return agent, err
	}
	pl.bus.Publish(events.TopicAgents, events.AgentRespawnedEvent{
		ID:        agent.ID,
		Capacity:  agent.Capacity,
		Timestamp: time.Now(),
	})
	return agent, nil
}

// applyExhaustOutcome mirrors a pool exhaustion onto the store and
// publishes the per-agent event. Store failures here are logged, not
// propagated: the pool state already changed and the next pass converges.
func (pl *Plane) applyExhaustOutcome(ctx context.Context, outcome pool.ExhaustOutcome) {
	for _, h := range outcome.Tasks {
		if h.ReassignedTo == "" {
			continue
		}
		if err := pl.scheduler.RecordReassignment(h.TaskID, h.ReassignedTo); err != nil {
			log.Printf("WARNING: recording reassignment of task %q to %q: %v", h.TaskID, h.ReassignedTo, err)
		}
	}
	for _, taskID := range outcome.Released {
		if err := pl.scheduler.ReleaseTask(taskID); err != nil {
			log.Printf("WARNING: releasing task %q after exhaustion: %v", taskID, err)
		}
		pl.bus.Publish(events.TopicTasks, events.TaskReleasedEvent{
			ID:        taskID,
			AgentID:   outcome.AgentID,
			Timestamp: time.Now(),
		})
	}

	reassigned := 0
	for _, h := range outcome.Tasks {
		if h.ReassignedTo != "" {
			reassigned++
		}
	}
	pl.bus.Publish(events.TopicAgents, events.AgentExhaustedEvent{
		ID:         outcome.AgentID,
		Reason:     outcome.Reason.String(),
		Graceful:   outcome.Graceful,
		Reassigned: reassigned,
		Released:   len(outcome.Released),
		Timestamp:  time.Now(),
	})
	telemetry.RecordExhaustion(ctx, outcome.Reason.String())
}

// Waves computes the dependency waves over every live record. Completed
// tasks count as satisfied dependencies.
func (pl *Plane) Waves() []waves.Wave {
	all := pl.store.List(store.Filter{})
	done := make(map[string]struct{})
	var open []task.Task
	for _, t := range all {
		if t.Status == task.StatusDone {
			done[t.ID] = struct{}{}
			continue
		}
		open = append(open, t)
	}
	return waves.Analyze(open, done)
}

// SaveSnapshot archives the full store state, prunes old snapshots per
// the config, and publishes the event.
func (pl *Plane) SaveSnapshot(ctx context.Context) (string, error) {
	snap := pl.store.Snapshot()
	id, err := pl.archive.SaveSnapshot(ctx, snap)
	if err != nil {
		return "", err
	}
	if keep := pl.cfg.Daemon.SnapshotKeep; keep > 0 {
		if _, err := pl.archive.PruneSnapshots(ctx, keep); err != nil {
			log.Printf("WARNING: pruning snapshots: %v", err)
		}
	}
	pl.bus.Publish(events.TopicStore, events.SnapshotSavedEvent{
		SnapshotID: id,
		ReplicaID:  snap.ReplicaID,
		Tasks:      len(snap.Tasks),
		Timestamp:  time.Now(),
	})
	telemetry.RecordSnapshot(ctx, snap.ReplicaID)
	return id, nil
}

// MergeSnapshot folds a remote replica's state into the local store and
// publishes the merge statistics.
func (pl *Plane) MergeSnapshot(ctx context.Context, snap store.Snapshot) store.MergeStats {
	stats := pl.store.Merge(snap)
	pl.bus.Publish(events.TopicStore, events.MergeAppliedEvent{
		SourceReplica: snap.ReplicaID,
		Adopted:       stats.Adopted,
		Replaced:      stats.Replaced,
		KeptLocal:     stats.KeptLocal,
		Tombstoned:    stats.Tombstoned,
		Timestamp:     time.Now(),
	})
	telemetry.RecordMerge(ctx, snap.ReplicaID)
	return stats
}

// Ask runs fn on the daemon's command goroutine. Commands are serialized
// with each other, not with the background loops; the loops and fn both go
// through Plane methods, whose components lock themselves. Use it for
// operator commands issued while Run is live.
func (pl *Plane) Ask(ctx context.Context, fn ApplyFunc) (any, error) {
	return pl.commands.Ask(ctx, fn)
}
