package daemon

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aristath/agentplane/internal/events"
	"github.com/aristath/agentplane/internal/telemetry"
)

// Run drives the background loops until the context is cancelled: the
// scheduling pass, the reset-cycle and stale-agent maintenance poll, the
// snapshot autosave, the operator command handler, and the metrics
// endpoint. On shutdown a final snapshot is archived.
func (pl *Plane) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	pl.commands.Start(gctx)
	defer pl.commands.Stop()

	g.Go(func() error { return pl.scheduleLoop(gctx) })
	g.Go(func() error { return pl.maintenanceLoop(gctx) })
	if pl.cfg.Daemon.SnapshotIntervalSec > 0 {
		g.Go(func() error { return pl.snapshotLoop(gctx) })
	}
	if pl.cfg.Telemetry.Enabled {
		g.Go(func() error { return pl.serveMetrics(gctx) })
	}

	err := g.Wait()

	// Final snapshot with its own deadline; the loop contexts are dead.
	saveCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, saveErr := pl.SaveSnapshot(saveCtx); saveErr != nil {
		log.Printf("ERROR: saving shutdown snapshot: %v", saveErr)
	}

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// scheduleLoop runs a scheduling pass on every tick.
func (pl *Plane) scheduleLoop(ctx context.Context) error {
	ticker := time.NewTicker(time.Duration(pl.cfg.Daemon.ScheduleIntervalSec) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			pl.SchedulePass(ctx)
		}
	}
}

// maintenanceLoop polls for elapsed reset cycles and stale heartbeats,
// applies the resulting exhaustions, and publishes a pool status sample.
func (pl *Plane) maintenanceLoop(ctx context.Context) error {
	ticker := time.NewTicker(time.Duration(pl.cfg.Daemon.ResetPollSec) * time.Second)
	defer ticker.Stop()

	staleThreshold := time.Duration(pl.cfg.Pool.StaleThresholdHours) * time.Hour

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			for _, outcome := range pl.pool.AutoExhaustOnReset(ctx) {
				pl.applyExhaustOutcome(ctx, outcome)
			}
			if staleThreshold > 0 {
				for _, outcome := range pl.pool.CleanupStale(ctx, staleThreshold) {
					pl.applyExhaustOutcome(ctx, outcome)
					pl.bus.Publish(events.TopicAgents, events.AgentOfflineEvent{
						ID:        outcome.AgentID,
						Timestamp: time.Now(),
					})
				}
			}

			status := pl.pool.Status()
			pl.bus.Publish(events.TopicAgents, events.PoolStatusEvent{
				TotalAgents: status.TotalAgents,
				ActiveTasks: status.ActiveTasks,
				Utilization: status.Utilization,
				Timestamp:   time.Now(),
			})
		}
	}
}

// snapshotLoop archives the store state on every tick.
func (pl *Plane) snapshotLoop(ctx context.Context) error {
	ticker := time.NewTicker(time.Duration(pl.cfg.Daemon.SnapshotIntervalSec) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := pl.SaveSnapshot(ctx); err != nil {
				log.Printf("WARNING: autosave snapshot failed: %v", err)
			}
		}
	}
}

// serveMetrics initializes the meter provider and serves /metrics until
// the context is cancelled. Telemetry failures never stop the plane.
func (pl *Plane) serveMetrics(ctx context.Context) error {
	handler, err := telemetry.InitMeterProvider(ctx, "agentplane")
	if err != nil {
		log.Printf("WARNING: telemetry init failed, metrics disabled: %v", err)
		<-ctx.Done()
		return ctx.Err()
	}
	if err := telemetry.InitMetrics(ctx, pl.pool, pl.store); err != nil {
		log.Printf("WARNING: metric instruments failed, metrics disabled: %v", err)
		<-ctx.Done()
		return ctx.Err()
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	srv := &http.Server{Addr: pl.cfg.Telemetry.Addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("WARNING: metrics server shutdown: %v", err)
		}
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		log.Printf("ERROR: metrics server: %v", err)
		return err
	}
}
