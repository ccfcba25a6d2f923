package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"testing"
	"time"
)

// TestConfigPathsFlagOverride verifies that --config replaces the default
// project config path but leaves the global path alone.
func TestConfigPathsFlagOverride(t *testing.T) {
	defer func() { flagConfigPath = "" }()

	_, projectPath := configPaths()
	if projectPath != filepath.Join(".agentplane", "config.json") {
		t.Errorf("expected default project path, got %s", projectPath)
	}

	flagConfigPath = "/tmp/custom.json"
	globalPath, projectPath := configPaths()
	if projectPath != "/tmp/custom.json" {
		t.Errorf("expected overridden project path, got %s", projectPath)
	}
	if globalPath == "/tmp/custom.json" {
		t.Error("global path must not be affected by --config")
	}
}

// TestLoadConfigFlagOverrides verifies that --replica and --archive win over
// values loaded from config files.
func TestLoadConfigFlagOverrides(t *testing.T) {
	dir := t.TempDir()
	projectCfg := filepath.Join(dir, "config.json")
	if err := os.WriteFile(projectCfg, []byte(`{"replica_id":"from-file"}`), 0644); err != nil {
		t.Fatalf("writing project config: %v", err)
	}

	flagConfigPath = projectCfg
	flagReplicaID = "from-flag"
	flagArchivePath = filepath.Join(dir, "archive.db")
	defer func() {
		flagConfigPath = ""
		flagReplicaID = ""
		flagArchivePath = ""
	}()

	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("loadConfig() failed: %v", err)
	}
	if cfg.ReplicaID != "from-flag" {
		t.Errorf("expected replica id from-flag, got %s", cfg.ReplicaID)
	}
	if cfg.Archive.Path != filepath.Join(dir, "archive.db") {
		t.Errorf("expected archive path override, got %s", cfg.Archive.Path)
	}
}

// TestSignalContextCancellation verifies that signal.NotifyContext produces
// a context that cancels correctly when a signal is received.
func TestSignalContextCancellation(t *testing.T) {
	// Use SIGUSR1 as a safe test signal
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGUSR1)
	defer stop()

	// Send SIGUSR1 to self
	if err := syscall.Kill(os.Getpid(), syscall.SIGUSR1); err != nil {
		t.Fatalf("Failed to send SIGUSR1: %v", err)
	}

	// Verify context cancels within 1 second
	select {
	case <-ctx.Done():
		// Success - context cancelled
	case <-time.After(1 * time.Second):
		t.Fatal("Context did not cancel after SIGUSR1")
	}

	if err := ctx.Err(); err != context.Canceled {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}
