package config

// AgentSpec declares one agent the daemon spawns at startup.
type AgentSpec struct {
	ID              string `json:"id"`                          // Unique within the fleet
	Tier            string `json:"tier"`                        // "planning", "code", "review", "deploy"
	Capacity        int    `json:"capacity"`                    // Concurrent task slots
	ResetCycleHours int    `json:"reset_cycle_hours,omitempty"` // 0 = no scheduled reset
}

// PoolConfig bounds the agent pool.
type PoolConfig struct {
	MaxAgents           int `json:"max_agents"`            // Hard cap on registered agents
	StaleThresholdHours int `json:"stale_threshold_hours"` // Heartbeat age that marks an agent offline
}

// DaemonConfig sets the background loop cadence, in seconds.
type DaemonConfig struct {
	ScheduleIntervalSec int `json:"schedule_interval_sec"` // Scheduling pass cadence
	ResetPollSec        int `json:"reset_poll_sec"`        // Reset-cycle and stale-agent poll cadence
	SnapshotIntervalSec int `json:"snapshot_interval_sec"` // Archive autosave cadence, 0 disables
	SnapshotKeep        int `json:"snapshot_keep"`         // Snapshots retained after autosave pruning
}

// ArchiveConfig locates the durable snapshot archive.
type ArchiveConfig struct {
	Path string `json:"path"` // SQLite file path; empty selects the default under the state dir
}

// TelemetryConfig controls the metrics endpoint.
type TelemetryConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr"` // Listen address for /metrics
}

// PlaneConfig is the top-level configuration.
type PlaneConfig struct {
	ReplicaID string          `json:"replica_id"` // Stable identity of this control plane replica
	Fleet     []AgentSpec     `json:"fleet"`
	Pool      PoolConfig      `json:"pool"`
	Daemon    DaemonConfig    `json:"daemon"`
	Archive   ArchiveConfig   `json:"archive"`
	Telemetry TelemetryConfig `json:"telemetry"`
}
