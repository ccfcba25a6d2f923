package config

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/aristath/agentplane/internal/task"
)

// DefaultConfig returns the default configuration with a small built-in
// fleet covering every tier. The replica id is freshly generated; persist
// the config to keep it stable across restarts.
func DefaultConfig() *PlaneConfig {
	return &PlaneConfig{
		ReplicaID: "replica-" + uuid.NewString()[:8],
		Fleet: []AgentSpec{
			{ID: "planner-1", Tier: "planning", Capacity: 2},
			{ID: "coder-1", Tier: "code", Capacity: 3, ResetCycleHours: 8},
			{ID: "coder-2", Tier: "code", Capacity: 3, ResetCycleHours: 8},
			{ID: "reviewer-1", Tier: "review", Capacity: 2},
			{ID: "deployer-1", Tier: "deploy", Capacity: 1},
		},
		Pool: PoolConfig{
			MaxAgents:           100,
			StaleThresholdHours: 24,
		},
		Daemon: DaemonConfig{
			ScheduleIntervalSec: 5,
			ResetPollSec:        60,
			SnapshotIntervalSec: 300,
			SnapshotKeep:        20,
		},
		Archive: ArchiveConfig{
			Path: "", // Resolved against the XDG state dir at startup
		},
		Telemetry: TelemetryConfig{
			Enabled: true,
			Addr:    ":9464",
		},
	}
}

// Validate rejects configurations the daemon cannot start with.
func (c *PlaneConfig) Validate() error {
	if c.ReplicaID == "" {
		return fmt.Errorf("replica_id must not be empty")
	}
	if c.Pool.MaxAgents <= 0 {
		return fmt.Errorf("pool.max_agents must be positive, got %d", c.Pool.MaxAgents)
	}
	if len(c.Fleet) > c.Pool.MaxAgents {
		return fmt.Errorf("fleet size %d exceeds pool.max_agents %d", len(c.Fleet), c.Pool.MaxAgents)
	}

	seen := make(map[string]struct{}, len(c.Fleet))
	for _, spec := range c.Fleet {
		if spec.ID == "" {
			return fmt.Errorf("fleet entries must have an id")
		}
		if _, dup := seen[spec.ID]; dup {
			return fmt.Errorf("duplicate fleet agent id %q", spec.ID)
		}
		seen[spec.ID] = struct{}{}

		if _, err := task.ParseTier(spec.Tier); err != nil {
			return fmt.Errorf("fleet agent %q: %w", spec.ID, err)
		}
		if spec.Capacity <= 0 {
			return fmt.Errorf("fleet agent %q: capacity must be positive, got %d", spec.ID, spec.Capacity)
		}
		if spec.ResetCycleHours < 0 {
			return fmt.Errorf("fleet agent %q: reset_cycle_hours must not be negative", spec.ID)
		}
	}

	if c.Daemon.ScheduleIntervalSec <= 0 {
		return fmt.Errorf("daemon.schedule_interval_sec must be positive, got %d", c.Daemon.ScheduleIntervalSec)
	}
	if c.Daemon.ResetPollSec <= 0 {
		return fmt.Errorf("daemon.reset_poll_sec must be positive, got %d", c.Daemon.ResetPollSec)
	}
	if c.Daemon.SnapshotIntervalSec < 0 {
		return fmt.Errorf("daemon.snapshot_interval_sec must not be negative")
	}
	return nil
}
