package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/aristath/agentplane/internal/pool"
	"github.com/aristath/agentplane/internal/store"
)

var (
	initMetricsOnce   sync.Once
	decisionsCounter  metric.Int64Counter
	exhaustionCounter metric.Int64Counter
	mergesCounter     metric.Int64Counter
	snapshotsCounter  metric.Int64Counter
	scheduleDuration  metric.Float64Histogram

	poolAgentsGauge      metric.Int64ObservableGauge
	poolActiveTasksGauge metric.Int64ObservableGauge
	poolUtilizationGauge metric.Float64ObservableGauge
	storeTasksGauge      metric.Int64ObservableGauge
	storeTombstonesGauge metric.Int64ObservableGauge
)

// InitMetrics creates the meter instruments and registers observable
// gauges sampling the pool and the store. Safe to call multiple times;
// only runs once. Call after InitMeterProvider.
func InitMetrics(ctx context.Context, p *pool.Pool, s *store.Store) error {
	var err error
	initMetricsOnce.Do(func() {
		m := Meter()
		decisionsCounter, err = m.Int64Counter("agentplane_schedule_decisions_total", metric.WithDescription("Total scheduling decisions by kind"))
		if err != nil {
			return
		}
		exhaustionCounter, err = m.Int64Counter("agentplane_agent_exhaustions_total", metric.WithDescription("Total agent exhaustions by reason"))
		if err != nil {
			return
		}
		mergesCounter, err = m.Int64Counter("agentplane_store_merges_total", metric.WithDescription("Total remote snapshot merges applied"))
		if err != nil {
			return
		}
		snapshotsCounter, err = m.Int64Counter("agentplane_snapshots_saved_total", metric.WithDescription("Total store snapshots archived"))
		if err != nil {
			return
		}
		scheduleDuration, err = m.Float64Histogram("agentplane_schedule_batch_duration_seconds", metric.WithDescription("Scheduling pass duration in seconds"))
		if err != nil {
			return
		}

		poolAgentsGauge, err = m.Int64ObservableGauge("agentplane_pool_agents", metric.WithDescription("Registered agents"))
		if err != nil {
			return
		}
		poolActiveTasksGauge, err = m.Int64ObservableGauge("agentplane_pool_active_tasks", metric.WithDescription("Tasks currently assigned"))
		if err != nil {
			return
		}
		poolUtilizationGauge, err = m.Float64ObservableGauge("agentplane_pool_utilization", metric.WithDescription("Used capacity over total capacity"))
		if err != nil {
			return
		}
		storeTasksGauge, err = m.Int64ObservableGauge("agentplane_store_tasks", metric.WithDescription("Live task records"))
		if err != nil {
			return
		}
		storeTombstonesGauge, err = m.Int64ObservableGauge("agentplane_store_tombstones", metric.WithDescription("Tombstoned task ids"))
		if err != nil {
			return
		}

		_, err = m.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
			ps := p.Status()
			o.ObserveInt64(poolAgentsGauge, int64(ps.TotalAgents))
			o.ObserveInt64(poolActiveTasksGauge, int64(ps.ActiveTasks))
			o.ObserveFloat64(poolUtilizationGauge, ps.Utilization)

			ss := s.Stats()
			o.ObserveInt64(storeTasksGauge, int64(ss.TotalTasks))
			o.ObserveInt64(storeTombstonesGauge, int64(ss.Tombstones))
			return nil
		}, poolAgentsGauge, poolActiveTasksGauge, poolUtilizationGauge, storeTasksGauge, storeTombstonesGauge)
		if err != nil {
			return
		}
	})
	return err
}

// RecordDecision records one scheduling decision.
func RecordDecision(ctx context.Context, kind string, tier string) {
	if decisionsCounter == nil {
		return
	}
	decisionsCounter.Add(ctx, 1, metric.WithAttributes(
		AttrDecision.String(kind),
		AttrTier.String(tier),
	))
}

// RecordExhaustion records one agent exhaustion.
func RecordExhaustion(ctx context.Context, reason string) {
	if exhaustionCounter == nil {
		return
	}
	exhaustionCounter.Add(ctx, 1, metric.WithAttributes(AttrReason.String(reason)))
}

// RecordMerge records one remote snapshot merge.
func RecordMerge(ctx context.Context, sourceReplica string) {
	if mergesCounter == nil {
		return
	}
	mergesCounter.Add(ctx, 1, metric.WithAttributes(AttrReplica.String(sourceReplica)))
}

// RecordSnapshot records one archived snapshot.
func RecordSnapshot(ctx context.Context, replicaID string) {
	if snapshotsCounter == nil {
		return
	}
	snapshotsCounter.Add(ctx, 1, metric.WithAttributes(AttrReplica.String(replicaID)))
}

// RecordSchedulePass records the duration of one scheduling pass.
func RecordSchedulePass(ctx context.Context, duration time.Duration) {
	if scheduleDuration == nil {
		return
	}
	scheduleDuration.Record(ctx, duration.Seconds())
}
