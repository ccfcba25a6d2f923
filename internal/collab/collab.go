// Package collab implements the exhaustion collaborators: checkpoint and
// handoff writers backed by the persistence archive, plus resilience
// wrappers that add circuit breaking and retry around them.
package collab

import (
	"context"
	"fmt"

	"github.com/aristath/agentplane/internal/persistence"
)

// ArchiveCheckpointer writes checkpoint rows to the archive. The returned
// reference has the form "checkpoint/<row id>".
type ArchiveCheckpointer struct {
	archive persistence.Archive
	reason  string
}

// NewArchiveCheckpointer creates a checkpointer recording rows with the
// given reason. An empty reason defaults to "agent exhaustion".
func NewArchiveCheckpointer(archive persistence.Archive, reason string) *ArchiveCheckpointer {
	if reason == "" {
		reason = "agent exhaustion"
	}
	return &ArchiveCheckpointer{archive: archive, reason: reason}
}

// Checkpoint persists one checkpoint row for the task.
func (c *ArchiveCheckpointer) Checkpoint(ctx context.Context, taskID, agentID string) (string, error) {
	id, err := c.archive.AppendCheckpoint(ctx, taskID, agentID, c.reason)
	if err != nil {
		return "", fmt.Errorf("failed to archive checkpoint for task %s: %w", taskID, err)
	}
	return fmt.Sprintf("checkpoint/%d", id), nil
}

// ArchiveHandoff writes handoff summary rows to the archive. The returned
// reference has the form "handoff/<row id>".
type ArchiveHandoff struct {
	archive persistence.Archive
}

// NewArchiveHandoff creates a handoff writer backed by the archive.
func NewArchiveHandoff(archive persistence.Archive) *ArchiveHandoff {
	return &ArchiveHandoff{archive: archive}
}

// Handoff persists one handoff summary row for the task.
func (h *ArchiveHandoff) Handoff(ctx context.Context, taskID, agentID string) (string, error) {
	summary := fmt.Sprintf("agent %s released task %s at exhaustion", agentID, taskID)
	id, err := h.archive.AppendHandoff(ctx, taskID, agentID, summary)
	if err != nil {
		return "", fmt.Errorf("failed to archive handoff for task %s: %w", taskID, err)
	}
	return fmt.Sprintf("handoff/%d", id), nil
}
