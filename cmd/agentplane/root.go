package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
	"github.com/spf13/cobra"

	"github.com/aristath/agentplane/internal/config"
	"github.com/aristath/agentplane/internal/persistence"
)

var (
	flagConfigPath  string
	flagArchivePath string
	flagReplicaID   string
)

var rootCmd = &cobra.Command{
	Use:   "agentplane",
	Short: "Control plane for a fleet of task-executing agents",
	Long: `Agentplane runs a local control plane: a replicated task store,
a capacity-aware scheduler, and an agent pool with lifecycle management.

With no arguments it starts the daemon together with an interactive TUI
showing the fleet and the task waves. Use 'agentplane run --headless'
for a daemon without the TUI.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPlane(cmd.Context(), false)
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "Path to a project config file (overrides .agentplane/config.json)")
	rootCmd.PersistentFlags().StringVar(&flagArchivePath, "archive", "", "Path to the archive database (overrides config)")
	rootCmd.PersistentFlags().StringVar(&flagReplicaID, "replica", "", "Replica id for this process (overrides config)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(taskCmd)
	rootCmd.AddCommand(snapshotCmd)
	rootCmd.AddCommand(versionCmd)
}

// configPaths returns the global and project config file paths, honoring
// the --config flag for the project path.
func configPaths() (globalPath, projectPath string) {
	globalPath = filepath.Join(xdg.ConfigHome, "agentplane", "config.json")
	projectPath = filepath.Join(".agentplane", "config.json")
	if flagConfigPath != "" {
		projectPath = flagConfigPath
	}
	return globalPath, projectPath
}

// loadConfig loads the merged configuration and applies flag overrides.
func loadConfig() (*config.PlaneConfig, error) {
	globalPath, projectPath := configPaths()
	cfg, err := config.Load(globalPath, projectPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if flagReplicaID != "" {
		cfg.ReplicaID = flagReplicaID
	}
	if flagArchivePath != "" {
		cfg.Archive.Path = flagArchivePath
	}
	return cfg, nil
}

// openArchive opens the archive database at the configured path,
// creating the parent directory when needed.
func openArchive(ctx context.Context, cfg *config.PlaneConfig) (*persistence.SQLiteArchive, error) {
	path := cfg.Archive.Path
	if path == "" {
		path = config.DefaultArchivePath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating archive directory: %w", err)
	}
	archive, err := persistence.NewSQLiteArchive(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("opening archive %s: %w", path, err)
	}
	return archive, nil
}
