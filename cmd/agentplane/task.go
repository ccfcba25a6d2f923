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

var (
	flagTaskTier      string
	flagTaskPriority  string
	flagTaskBlockedBy []string
	flagTaskDeadline  string
	flagTaskStatus    string
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Manage tasks in the archive",
	Long: `Add, list, and remove tasks through the archive.

These commands load the latest snapshot, apply the change, and save a
new snapshot. A running daemon picks the change up on its next restore
or merge; for live submission use the TUI.`,
}

var taskAddCmd = &cobra.Command{
	Use:   "add <id> <title>",
	Short: "Add a task",
	Args:  cobra.ExactArgs(2),
	RunE:  runTaskAdd,
}

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks",
	Args:  cobra.NoArgs,
	RunE:  runTaskList,
}

var taskRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Remove a task (writes a tombstone)",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskRemove,
}

func init() {
	taskAddCmd.Flags().StringVar(&flagTaskTier, "tier", "code", "Tier required to run the task (planning, code, review, deploy)")
	taskAddCmd.Flags().StringVar(&flagTaskPriority, "priority", "medium", "Priority (high, medium, low)")
	taskAddCmd.Flags().StringSliceVar(&flagTaskBlockedBy, "blocked-by", nil, "Task ids that must finish first")
	taskAddCmd.Flags().StringVar(&flagTaskDeadline, "deadline", "", "Deadline (RFC 3339, e.g. 2026-09-01T12:00:00Z)")

	taskListCmd.Flags().StringVar(&flagTaskStatus, "status", "", "Filter by status")

	taskCmd.AddCommand(taskAddCmd)
	taskCmd.AddCommand(taskListCmd)
	taskCmd.AddCommand(taskRemoveCmd)
}

// loadArchivedStore opens the archive and restores the latest snapshot
// into a fresh store. A missing snapshot yields an empty store.
func loadArchivedStore(ctx context.Context) (*store.Store, *persistence.SQLiteArchive, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}

	archive, err := openArchive(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	st := store.New(cfg.ReplicaID)
	snap, err := archive.LatestSnapshot(ctx, "")
	if err != nil && !errors.Is(err, persistence.ErrNoSnapshot) {
		archive.Close()
		return nil, nil, fmt.Errorf("loading latest snapshot: %w", err)
	}
	if err == nil {
		if err := st.Restore(snap); err != nil {
			archive.Close()
			return nil, nil, fmt.Errorf("restoring snapshot: %w", err)
		}
	}
	return st, archive, nil
}

// saveArchivedStore writes the store back to the archive as a new snapshot.
func saveArchivedStore(ctx context.Context, st *store.Store, archive *persistence.SQLiteArchive) error {
	if _, err := archive.SaveSnapshot(ctx, st.Snapshot()); err != nil {
		return fmt.Errorf("saving snapshot: %w", err)
	}
	return nil
}

func runTaskAdd(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	tier, err := task.ParseTier(flagTaskTier)
	if err != nil {
		return err
	}
	priority, err := task.ParsePriority(flagTaskPriority)
	if err != nil {
		return err
	}

	var deadline int64
	if flagTaskDeadline != "" {
		ts, err := time.Parse(time.RFC3339, flagTaskDeadline)
		if err != nil {
			return fmt.Errorf("parsing deadline: %w", err)
		}
		deadline = ts.UnixMilli()
	}

	st, archive, err := loadArchivedStore(ctx)
	if err != nil {
		return err
	}
	defer archive.Close()

	t := task.Task{
		ID:        args[0],
		Title:     args[1],
		Status:    task.StatusPending,
		Tier:      tier,
		Priority:  priority,
		BlockedBy: flagTaskBlockedBy,
		Deadline:  deadline,
	}
	added, err := st.Add(t)
	if err != nil {
		return fmt.Errorf("adding task: %w", err)
	}

	if err := saveArchivedStore(ctx, st, archive); err != nil {
		return err
	}
	fmt.Printf("Added %s (%s, %s)\n", added.ID, added.Tier, added.Priority)

	// A cycle is not fatal (the record is already saved, and the blocked
	// wave will surface it) but the author should hear about it now.
	var open []task.Task
	for _, rec := range st.List(store.Filter{}) {
		if rec.Status != task.StatusDone {
			open = append(open, rec)
		}
	}
	if err := waves.Acyclic(open); err != nil {
		fmt.Printf("warning: %v\n", err)
	}
	return nil
}

func runTaskList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	filter := store.Filter{}
	if flagTaskStatus != "" {
		status, err := task.ParseStatus(flagTaskStatus)
		if err != nil {
			return err
		}
		filter.Status = &status
	}

	st, archive, err := loadArchivedStore(ctx)
	if err != nil {
		return err
	}
	defer archive.Close()

	tasks := st.List(filter)
	if len(tasks) == 0 {
		fmt.Println("No tasks.")
		return nil
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].ID < tasks[j].ID })

	for _, t := range tasks {
		line := fmt.Sprintf("%-12s %-11s %-9s %-7s %s", t.ID, t.Status, t.Tier, t.Priority, t.Title)
		if len(t.BlockedBy) > 0 {
			line += "  [blocked by " + strings.Join(t.BlockedBy, ", ") + "]"
		}
		if t.ClaimedBy != "" {
			line += "  [claimed by " + t.ClaimedBy + "]"
		}
		fmt.Println(line)
	}
	return nil
}

func runTaskRemove(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	st, archive, err := loadArchivedStore(ctx)
	if err != nil {
		return err
	}
	defer archive.Close()

	if err := st.Remove(args[0]); err != nil {
		return fmt.Errorf("removing task: %w", err)
	}
	if err := saveArchivedStore(ctx, st, archive); err != nil {
		return err
	}
	fmt.Printf("Removed %s\n", args[0])
	return nil
}
