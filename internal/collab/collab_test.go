package collab

import (
	"context"
	"strings"
	"testing"

	"github.com/aristath/agentplane/internal/persistence"
)

func testArchive(t *testing.T) *persistence.SQLiteArchive {
	t.Helper()
	archive, err := persistence.NewMemoryArchive(context.Background())
	if err != nil {
		t.Fatalf("failed to create test archive: %v", err)
	}
	t.Cleanup(func() {
		archive.Close()
	})
	return archive
}

func TestArchiveCheckpointer(t *testing.T) {
	archive := testArchive(t)
	ctx := context.Background()

	cp := NewArchiveCheckpointer(archive, "context window depleted")
	ref, err := cp.Checkpoint(ctx, "task-1", "agent-1")
	if err != nil {
		t.Fatalf("failed to checkpoint: %v", err)
	}
	if !strings.HasPrefix(ref, "checkpoint/") {
		t.Errorf("expected ref with checkpoint/ prefix, got %q", ref)
	}

	records, err := archive.Checkpoints(ctx, "task-1")
	if err != nil {
		t.Fatalf("failed to query checkpoints: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 checkpoint row, got %d", len(records))
	}
	if records[0].AgentID != "agent-1" {
		t.Errorf("expected agent-1, got %q", records[0].AgentID)
	}
	if records[0].Reason != "context window depleted" {
		t.Errorf("expected configured reason, got %q", records[0].Reason)
	}
}

func TestArchiveCheckpointerDefaultReason(t *testing.T) {
	archive := testArchive(t)
	ctx := context.Background()

	cp := NewArchiveCheckpointer(archive, "")
	if _, err := cp.Checkpoint(ctx, "task-1", "agent-1"); err != nil {
		t.Fatalf("failed to checkpoint: %v", err)
	}

	records, err := archive.Checkpoints(ctx, "task-1")
	if err != nil {
		t.Fatalf("failed to query checkpoints: %v", err)
	}
	if records[0].Reason != "agent exhaustion" {
		t.Errorf("expected default reason 'agent exhaustion', got %q", records[0].Reason)
	}
}

func TestArchiveHandoff(t *testing.T) {
	archive := testArchive(t)
	ctx := context.Background()

	h := NewArchiveHandoff(archive)
	ref, err := h.Handoff(ctx, "task-1", "agent-1")
	if err != nil {
		t.Fatalf("failed to write handoff: %v", err)
	}
	if !strings.HasPrefix(ref, "handoff/") {
		t.Errorf("expected ref with handoff/ prefix, got %q", ref)
	}

	records, err := archive.Handoffs(ctx, "task-1")
	if err != nil {
		t.Fatalf("failed to query handoffs: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 handoff row, got %d", len(records))
	}
	if !strings.Contains(records[0].Summary, "agent-1") || !strings.Contains(records[0].Summary, "task-1") {
		t.Errorf("expected summary naming agent and task, got %q", records[0].Summary)
	}
}
