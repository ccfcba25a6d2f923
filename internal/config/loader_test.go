package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfigFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing config %s: %v", name, err)
	}
	return path
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name            string
		globalConfig    string
		projectConfig   string
		expectFleet     int
		expectReplica   string // empty = don't check
		expectMaxAgents int
		expectSchedule  int
		expectError     bool
	}{
		{
			name:            "No config files - returns defaults",
			expectFleet:     5,
			expectMaxAgents: 100,
			expectSchedule:  5,
		},
		{
			name:            "Global only - overrides replica id",
			globalConfig:    `{"replica_id": "replica-global"}`,
			expectFleet:     5, // Fleet untouched, defaults survive
			expectReplica:   "replica-global",
			expectMaxAgents: 100,
			expectSchedule:  5,
		},
		{
			name:            "Project only - replaces fleet wholesale",
			projectConfig:   `{"replica_id": "replica-p", "fleet": [{"id": "solo", "tier": "code", "capacity": 1}]}`,
			expectFleet:     1,
			expectReplica:   "replica-p",
			expectMaxAgents: 100,
			expectSchedule:  5,
		},
		{
			name:            "Both - project wins over global",
			globalConfig:    `{"replica_id": "replica-global", "pool": {"max_agents": 50, "stale_threshold_hours": 24}}`,
			projectConfig:   `{"replica_id": "replica-project", "daemon": {"schedule_interval_sec": 2, "reset_poll_sec": 30}}`,
			expectFleet:     5,
			expectReplica:   "replica-project",
			expectMaxAgents: 50, // Global survives where project is silent
			expectSchedule:  2,
		},
		{
			name:          "Invalid tier rejected",
			projectConfig: `{"fleet": [{"id": "bad", "tier": "quantum", "capacity": 1}]}`,
			expectError:   true,
		},
		{
			name:          "Zero capacity rejected",
			projectConfig: `{"fleet": [{"id": "bad", "tier": "code", "capacity": 0}]}`,
			expectError:   true,
		},
		{
			name:          "Duplicate fleet ids rejected",
			projectConfig: `{"fleet": [{"id": "a", "tier": "code", "capacity": 1}, {"id": "a", "tier": "review", "capacity": 1}]}`,
			expectError:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpDir := t.TempDir()

			globalPath := ""
			if tt.globalConfig != "" {
				globalPath = writeConfigFile(t, tmpDir, "global.json", tt.globalConfig)
			}
			projectPath := ""
			if tt.projectConfig != "" {
				projectPath = writeConfigFile(t, tmpDir, "project.json", tt.projectConfig)
			}

			cfg, err := Load(globalPath, projectPath)
			if tt.expectError {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if got := len(cfg.Fleet); got != tt.expectFleet {
				t.Errorf("fleet size = %d, want %d", got, tt.expectFleet)
			}
			if tt.expectReplica != "" && cfg.ReplicaID != tt.expectReplica {
				t.Errorf("replica id = %q, want %q", cfg.ReplicaID, tt.expectReplica)
			}
			if cfg.Pool.MaxAgents != tt.expectMaxAgents {
				t.Errorf("pool.max_agents = %d, want %d", cfg.Pool.MaxAgents, tt.expectMaxAgents)
			}
			if cfg.Daemon.ScheduleIntervalSec != tt.expectSchedule {
				t.Errorf("daemon.schedule_interval_sec = %d, want %d", cfg.Daemon.ScheduleIntervalSec, tt.expectSchedule)
			}
		})
	}
}

func TestLoad_MalformedJSON(t *testing.T) {
	tmpDir := t.TempDir()

	// Create malformed JSON file
	globalPath := filepath.Join(tmpDir, "global.json")
	if err := os.WriteFile(globalPath, []byte("{invalid json"), 0644); err != nil {
		t.Fatalf("writing malformed config: %v", err)
	}

	// Load should return error
	_, err := Load(globalPath, "")
	if err == nil {
		t.Fatal("expected error for malformed JSON, got nil")
	}

	// Error should mention the file
	if err.Error() == "" {
		t.Error("expected descriptive error message")
	}
}

func TestLoad_MissingFilesNotError(t *testing.T) {
	// Load with non-existent paths should not error
	cfg, err := Load("/nonexistent/global.json", "/nonexistent/project.json")
	if err != nil {
		t.Fatalf("expected no error for missing files, got: %v", err)
	}

	// Should return defaults
	if len(cfg.Fleet) != 5 {
		t.Errorf("fleet size = %d, want 5", len(cfg.Fleet))
	}
	if cfg.ReplicaID == "" {
		t.Error("expected a generated replica id")
	}
	if !cfg.Telemetry.Enabled {
		t.Error("expected telemetry enabled by default")
	}
}

func TestValidateDefaults(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Errorf("default config should validate, got: %v", err)
	}
}
