package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/aristath/agentplane/internal/daemon"
	"github.com/aristath/agentplane/internal/events"
	"github.com/aristath/agentplane/internal/tui"
)

var flagHeadless bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the control plane daemon",
	Long: `Start the scheduling daemon: spawns the configured fleet, restores
the latest snapshot from the archive, and runs the schedule, maintenance
and snapshot loops until interrupted.

By default the interactive TUI is attached; use --headless to run the
daemon alone (for servers or development against the metrics endpoint).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPlane(cmd.Context(), flagHeadless)
	},
}

func init() {
	runCmd.Flags().BoolVar(&flagHeadless, "headless", false, "Run without the TUI")
}

func runPlane(parent context.Context, headless bool) error {
	// Signal-aware context for graceful shutdown
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	archive, err := openArchive(ctx, cfg)
	if err != nil {
		return err
	}
	defer archive.Close()

	bus := events.NewBus()
	defer bus.Close()

	plane, err := daemon.New(ctx, cfg, archive, bus)
	if err != nil {
		return fmt.Errorf("starting plane: %w", err)
	}

	if headless {
		log.Printf("daemon started (replica %s, %d agents)", cfg.ReplicaID, len(cfg.Fleet))
		return plane.Run(ctx)
	}

	// Run the daemon in the background and the TUI in the foreground.
	daemonErr := make(chan error, 1)
	go func() {
		daemonErr <- plane.Run(ctx)
	}()

	globalPath, projectPath := configPaths()
	model := tui.New(plane, cfg, globalPath, projectPath)
	p := tea.NewProgram(model, tea.WithAltScreen())

	tuiErr := make(chan error, 1)
	go func() {
		_, err := p.Run()
		tuiErr <- err
	}()

	select {
	case err := <-tuiErr:
		// Normal TUI exit (user pressed 'q'); stop the daemon too
		stop()
		if derr := waitForDaemon(daemonErr); derr != nil {
			log.Printf("WARNING: daemon exit: %v", derr)
		}
		return err

	case err := <-daemonErr:
		// Daemon died underneath the TUI
		p.Quit()
		<-tuiErr
		return err

	case <-ctx.Done():
		// Signal received; restore default handling so a second Ctrl+C
		// force-exits
		stop()
		p.Quit()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		select {
		case err := <-tuiErr:
			if err != nil {
				log.Printf("WARNING: TUI exit: %v", err)
			}
		case <-shutdownCtx.Done():
			log.Printf("WARNING: shutdown timeout exceeded, forcing exit")
		}
		return waitForDaemon(daemonErr)
	}
}

// waitForDaemon waits briefly for the daemon goroutine to finish its
// shutdown snapshot.
func waitForDaemon(daemonErr <-chan error) error {
	select {
	case err := <-daemonErr:
		return err
	case <-time.After(15 * time.Second):
		return fmt.Errorf("daemon did not stop in time")
	}
}
