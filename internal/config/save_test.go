package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestSaveCreatesFile(t *testing.T) {
	// Create temp directory
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.json")

	cfg := DefaultConfig()
	cfg.ReplicaID = "replica-save-test"

	// Save config
	if err := Save(cfg, path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	// Verify file exists
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Fatalf("Config file was not created: %s", path)
	}

	// Verify file contains valid JSON
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read config file: %v", err)
	}

	var loaded PlaneConfig
	if err := json.Unmarshal(data, &loaded); err != nil {
		t.Fatalf("Config file contains invalid JSON: %v", err)
	}

	if loaded.ReplicaID != "replica-save-test" {
		t.Errorf("Expected replica id 'replica-save-test', got '%s'", loaded.ReplicaID)
	}
}

func TestSaveCreatesParentDir(t *testing.T) {
	// Create temp directory
	tmpDir := t.TempDir()
	// Nested path that doesn't exist yet
	path := filepath.Join(tmpDir, "nested", "deep", "config.json")

	// Save should create all parent directories
	if err := Save(DefaultConfig(), path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	// Verify file was created
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Fatalf("Config file was not created: %s", path)
	}

	// Verify parent directories exist
	parentDir := filepath.Dir(path)
	if _, err := os.Stat(parentDir); os.IsNotExist(err) {
		t.Fatalf("Parent directory was not created: %s", parentDir)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	// Create temp directory
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.json")

	cfg := &PlaneConfig{
		ReplicaID: "replica-rt",
		Fleet: []AgentSpec{
			{ID: "coder-1", Tier: "code", Capacity: 4, ResetCycleHours: 6},
			{ID: "reviewer-1", Tier: "review", Capacity: 2},
		},
		Pool:      PoolConfig{MaxAgents: 10, StaleThresholdHours: 12},
		Daemon:    DaemonConfig{ScheduleIntervalSec: 3, ResetPollSec: 30, SnapshotIntervalSec: 60, SnapshotKeep: 5},
		Archive:   ArchiveConfig{Path: "/tmp/archive.db"},
		Telemetry: TelemetryConfig{Enabled: true, Addr: ":9999"},
	}

	// Save config
	if err := Save(cfg, path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	// Load it back
	loaded, err := Load(path, "")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if loaded.ReplicaID != "replica-rt" {
		t.Errorf("Replica id mismatch: got '%s'", loaded.ReplicaID)
	}
	if len(loaded.Fleet) != 2 {
		t.Fatalf("Fleet size mismatch: got %d", len(loaded.Fleet))
	}
	if loaded.Fleet[0].ResetCycleHours != 6 {
		t.Errorf("Reset cycle mismatch: got %d", loaded.Fleet[0].ResetCycleHours)
	}
	if loaded.Pool.MaxAgents != 10 {
		t.Errorf("Pool max agents mismatch: got %d", loaded.Pool.MaxAgents)
	}
	if loaded.Archive.Path != "/tmp/archive.db" {
		t.Errorf("Archive path mismatch: got '%s'", loaded.Archive.Path)
	}
	if loaded.Telemetry.Addr != ":9999" {
		t.Errorf("Telemetry addr mismatch: got '%s'", loaded.Telemetry.Addr)
	}
}

func TestSaveOverwritesExisting(t *testing.T) {
	// Create temp directory
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.json")

	cfg1 := DefaultConfig()
	cfg1.ReplicaID = "replica-first"
	if err := Save(cfg1, path); err != nil {
		t.Fatalf("First save failed: %v", err)
	}

	cfg2 := DefaultConfig()
	cfg2.ReplicaID = "replica-second"
	if err := Save(cfg2, path); err != nil {
		t.Fatalf("Second save failed: %v", err)
	}

	// Load and verify second value wins
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read config file: %v", err)
	}

	var loaded PlaneConfig
	if err := json.Unmarshal(data, &loaded); err != nil {
		t.Fatalf("Failed to parse config: %v", err)
	}

	if loaded.ReplicaID != "replica-second" {
		t.Errorf("Expected 'replica-second', got '%s'", loaded.ReplicaID)
	}
}

func TestFingerprint(t *testing.T) {
	a := DefaultConfig()
	a.ReplicaID = "replica-a"
	b := DefaultConfig()
	b.ReplicaID = "replica-a"

	ha, err := Fingerprint(a)
	if err != nil {
		t.Fatalf("Fingerprint failed: %v", err)
	}
	hb, err := Fingerprint(b)
	if err != nil {
		t.Fatalf("Fingerprint failed: %v", err)
	}
	if ha != hb {
		t.Errorf("identical configs should hash equal: %d != %d", ha, hb)
	}

	b.Pool.MaxAgents++
	hc, err := Fingerprint(b)
	if err != nil {
		t.Fatalf("Fingerprint failed: %v", err)
	}
	if ha == hc {
		t.Error("changed config should hash differently")
	}
}
