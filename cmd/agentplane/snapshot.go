package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/aristath/agentplane/internal/store"
)

var flagSnapshotKeep int

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Manage archived snapshots",
	Long: `List, export, import, and prune snapshots in the archive.

Export and import move task state between replicas: export writes a
snapshot as JSON, import merges a JSON snapshot into the local state
using the store's conflict resolution and saves the result.`,
}

var snapshotListCmd = &cobra.Command{
	Use:   "list",
	Short: "List archived snapshots",
	Args:  cobra.NoArgs,
	RunE:  runSnapshotList,
}

var snapshotExportCmd = &cobra.Command{
	Use:   "export <id|latest> [file]",
	Short: "Export a snapshot as JSON",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runSnapshotExport,
}

var snapshotImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Merge a JSON snapshot into the local state",
	Args:  cobra.ExactArgs(1),
	RunE:  runSnapshotImport,
}

var snapshotPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete old snapshots",
	Args:  cobra.NoArgs,
	RunE:  runSnapshotPrune,
}

func init() {
	snapshotPruneCmd.Flags().IntVar(&flagSnapshotKeep, "keep", 20, "Number of newest snapshots to keep")

	snapshotCmd.AddCommand(snapshotListCmd)
	snapshotCmd.AddCommand(snapshotExportCmd)
	snapshotCmd.AddCommand(snapshotImportCmd)
	snapshotCmd.AddCommand(snapshotPruneCmd)
}

func runSnapshotList(cmd *cobra.Command, args []string) error {
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

	records, err := archive.ListSnapshots(ctx)
	if err != nil {
		return fmt.Errorf("listing snapshots: %w", err)
	}
	if len(records) == 0 {
		fmt.Println("No snapshots.")
		return nil
	}

	for _, r := range records {
		fmt.Printf("%s  %s  replica %s  %d tasks\n",
			r.ID, r.CreatedAt.Format(time.RFC3339), r.ReplicaID, r.Tasks)
	}
	return nil
}

func runSnapshotExport(cmd *cobra.Command, args []string) error {
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

	var snap store.Snapshot
	if args[0] == "latest" {
		snap, err = archive.LatestSnapshot(ctx, "")
	} else {
		snap, err = archive.GetSnapshot(ctx, args[0])
	}
	if err != nil {
		return fmt.Errorf("loading snapshot: %w", err)
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}
	data = append(data, '\n')

	if len(args) == 2 {
		if err := os.WriteFile(args[1], data, 0644); err != nil {
			return fmt.Errorf("writing %s: %w", args[1], err)
		}
		fmt.Printf("Exported %d tasks to %s\n", len(snap.Tasks), args[1])
		return nil
	}
	_, err = os.Stdout.Write(data)
	return err
}

func runSnapshotImport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading %s: %w", args[0], err)
	}
	var remote store.Snapshot
	if err := json.Unmarshal(data, &remote); err != nil {
		return fmt.Errorf("decoding snapshot: %w", err)
	}

	st, archive, err := loadArchivedStore(ctx)
	if err != nil {
		return err
	}
	defer archive.Close()

	stats := st.Merge(remote)
	if err := saveArchivedStore(ctx, st, archive); err != nil {
		return err
	}

	fmt.Printf("Merged snapshot from replica %s: %d adopted, %d replaced, %d kept local, %d tombstoned\n",
		remote.ReplicaID, stats.Adopted, stats.Replaced, stats.KeptLocal, stats.Tombstoned)
	return nil
}

func runSnapshotPrune(cmd *cobra.Command, args []string) error {
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

	pruned, err := archive.PruneSnapshots(ctx, flagSnapshotKeep)
	if err != nil {
		return fmt.Errorf("pruning snapshots: %w", err)
	}
	fmt.Printf("Pruned %d snapshots, kept %d newest\n", pruned, flagSnapshotKeep)
	return nil
}
