package main

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/aristath/agentplane/internal/persistence"
	"github.com/aristath/agentplane/internal/store"
	"github.com/aristath/agentplane/internal/task"
	"github.com/aristath/agentplane/internal/waves"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the archived task state",
	Long: `Display the task state from the latest archived snapshot.

Shows task counts by status and tier, the execution waves for the open
tasks, and recent snapshot history. This reads the archive directly and
does not require a running daemon.`,
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	archive, err := openArchive(ctx, cfg)
	if err != nil {
		return err
	}
	defer archive.Close()

	snap, err := archive.LatestSnapshot(ctx, "")
	if errors.Is(err, persistence.ErrNoSnapshot) {
		fmt.Println("No snapshots in the archive. Run 'agentplane run' to start.")
		return nil
	}
	if err != nil {
		return fmt.Errorf("loading latest snapshot: %w", err)
	}

	st := store.New(cfg.ReplicaID)
	if err := st.Restore(snap); err != nil {
		return fmt.Errorf("restoring snapshot: %w", err)
	}

	displayStats(st.Stats(), snap.ReplicaID)
	displayWaves(st)
	fmt.Println()
	return displayRecentSnapshots(ctx, archive)
}

func displayStats(stats store.Stats, sourceReplica string) {
	fmt.Printf("Latest snapshot from replica %s\n", sourceReplica)
	fmt.Printf("  Tasks: %d (%d tombstones)\n", stats.TotalTasks, stats.Tombstones)

	names := make([]string, 0, len(stats.ByStatus))
	for name := range stats.ByStatus {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s: %d", name, stats.ByStatus[name]))
	}
	if len(parts) > 0 {
		fmt.Printf("  By status: %s\n", strings.Join(parts, ", "))
	}
}

func displayWaves(st *store.Store) {
	all := st.List(store.Filter{})

	done := make(map[string]struct{})
	var open []task.Task
	for _, t := range all {
		if t.Status == task.StatusDone {
			done[t.ID] = struct{}{}
			continue
		}
		open = append(open, t)
	}
	if len(open) == 0 {
		fmt.Println("  No open tasks")
		return
	}

	fmt.Println("Waves:")
	for i, w := range waves.Analyze(open, done) {
		if w.Blocked {
			fmt.Printf("  blocked: %s\n", strings.Join(w.TaskIDs, ", "))
			continue
		}
		fmt.Printf("  %d: %s\n", i+1, strings.Join(w.TaskIDs, ", "))
	}
}

func displayRecentSnapshots(ctx context.Context, archive *persistence.SQLiteArchive) error {
	records, err := archive.ListSnapshots(ctx)
	if err != nil {
		return fmt.Errorf("listing snapshots: %w", err)
	}
	if len(records) == 0 {
		return nil
	}
	if len(records) > 5 {
		records = records[:5]
	}

	fmt.Println("Recent snapshots:")
	for _, r := range records {
		age := formatDuration(time.Since(r.CreatedAt))
		fmt.Printf("  %s: %d tasks, replica %s (%s ago)\n", r.ID, r.Tasks, r.ReplicaID, age)
	}
	return nil
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	if d < 24*time.Hour {
		h := int(d.Hours())
		m := int(d.Minutes()) % 60
		if m > 0 {
			return fmt.Sprintf("%dh%dm", h, m)
		}
		return fmt.Sprintf("%dh", h)
	}
	return fmt.Sprintf("%dd", int(d.Hours())/24)
}
