package daemon

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/aristath/agentplane/internal/config"
	"github.com/aristath/agentplane/internal/events"
	"github.com/aristath/agentplane/internal/persistence"
	"github.com/aristath/agentplane/internal/pool"
	"github.com/aristath/agentplane/internal/scheduler"
	"github.com/aristath/agentplane/internal/task"
)

func testConfig() *config.PlaneConfig {
	cfg := config.DefaultConfig()
	cfg.ReplicaID = "replica-test"
	cfg.Fleet = []config.AgentSpec{
		{ID: "coder-1", Tier: "code", Capacity: 2},
		{ID: "coder-2", Tier: "code", Capacity: 2},
		{ID: "reviewer-1", Tier: "review", Capacity: 1},
	}
	cfg.Telemetry.Enabled = false
	return cfg
}

func testPlane(t *testing.T) (*Plane, *persistence.SQLiteArchive, *events.Bus) {
	t.Helper()
	ctx := context.Background()

	archive, err := persistence.NewMemoryArchive(ctx)
	if err != nil {
		t.Fatalf("failed to create archive: %v", err)
	}
	bus := events.NewBus()
	t.Cleanup(func() {
		bus.Close()
		archive.Close()
	})

	plane, err := New(ctx, testConfig(), archive, bus)
	if err != nil {
		t.Fatalf("failed to create plane: %v", err)
	}
	return plane, archive, bus
}

func TestNewSpawnsFleet(t *testing.T) {
	plane, _, _ := testPlane(t)

	agents := plane.Pool().List()
	if len(agents) != 3 {
		t.Fatalf("expected 3 fleet agents, got %d", len(agents))
	}
	for _, a := range agents {
		if a.Status != pool.AgentAvailable {
			t.Errorf("agent %s: expected AVAILABLE, got %v", a.ID, a.Status)
		}
	}
}

func TestSchedulePassAssigns(t *testing.T) {
	plane, _, bus := testPlane(t)
	ctx := context.Background()

	taskCh := bus.Subscribe(events.TopicTasks, 10)

	if _, err := plane.SubmitTask(task.Task{ID: "t-1", Title: "Implement", Tier: task.TierCode}); err != nil {
		t.Fatalf("failed to submit task: %v", err)
	}

	decisions := plane.SchedulePass(ctx)
	if len(decisions) != 1 {
		t.Fatalf("expected 1 decision, got %d", len(decisions))
	}
	if decisions[0].Kind != scheduler.DecisionAssigned {
		t.Fatalf("expected assignment, got %v: %s", decisions[0].Kind, decisions[0].Reason)
	}

	rec, err := plane.Store().Get("t-1")
	if err != nil {
		t.Fatalf("failed to get task: %v", err)
	}
	if rec.Status != task.StatusAssigned {
		t.Errorf("expected ASSIGNED in store, got %v", rec.Status)
	}
	if rec.ClaimedBy == "" {
		t.Error("expected a claim on the store record")
	}

	select {
	case ev := <-taskCh:
		if ev.EventType() != events.EventTypeTaskAssigned {
			t.Errorf("expected task.assigned event, got %s", ev.EventType())
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for assignment event")
	}
}

func TestCompleteUnblocksDependent(t *testing.T) {
	plane, _, _ := testPlane(t)
	ctx := context.Background()

	if _, err := plane.SubmitTask(task.Task{ID: "t-1", Title: "First", Tier: task.TierCode}); err != nil {
		t.Fatalf("failed to submit t-1: %v", err)
	}
	if _, err := plane.SubmitTask(task.Task{ID: "t-2", Title: "Second", Tier: task.TierCode, BlockedBy: []string{"t-1"}}); err != nil {
		t.Fatalf("failed to submit t-2: %v", err)
	}

	decisions := plane.SchedulePass(ctx)
	var t1Agent string
	for _, d := range decisions {
		switch d.TaskID {
		case "t-1":
			if d.Kind != scheduler.DecisionAssigned {
				t.Fatalf("t-1: expected assignment, got %s", d.Reason)
			}
			t1Agent = d.AgentID
		case "t-2":
			if d.Kind != scheduler.DecisionBlocked {
				t.Errorf("t-2: expected blocked, got %s", d.Reason)
			}
		}
	}

	if err := plane.CompleteTask(t1Agent, "t-1"); err != nil {
		t.Fatalf("failed to complete t-1: %v", err)
	}

	decisions = plane.SchedulePass(ctx)
	found := false
	for _, d := range decisions {
		if d.TaskID == "t-2" && d.Kind == scheduler.DecisionAssigned {
			found = true
		}
	}
	if !found {
		t.Error("expected t-2 assigned after its blocker completed")
	}
}

func TestExhaustAgentReassignsInStore(t *testing.T) {
	plane, _, _ := testPlane(t)
	ctx := context.Background()

	if _, err := plane.SubmitTask(task.Task{ID: "t-1", Title: "Work", Tier: task.TierCode}); err != nil {
		t.Fatalf("failed to submit task: %v", err)
	}
	decisions := plane.SchedulePass(ctx)
	if decisions[0].Kind != scheduler.DecisionAssigned {
		t.Fatalf("expected assignment, got %s", decisions[0].Reason)
	}
	firstAgent := decisions[0].AgentID

	outcome, err := plane.ExhaustAgent(ctx, firstAgent, pool.ReasonRateLimit, true)
	if err != nil {
		t.Fatalf("failed to exhaust agent: %v", err)
	}
	if len(outcome.Tasks) != 1 {
		t.Fatalf("expected 1 handoff record, got %d", len(outcome.Tasks))
	}
	if outcome.Tasks[0].ReassignedTo == "" {
		t.Fatal("expected reassignment to the other code agent")
	}

	rec, err := plane.Store().Get("t-1")
	if err != nil {
		t.Fatalf("failed to get task: %v", err)
	}
	if rec.ClaimedBy != outcome.Tasks[0].ReassignedTo {
		t.Errorf("store claim = %q, want %q", rec.ClaimedBy, outcome.Tasks[0].ReassignedTo)
	}
	if rec.Status != task.StatusAssigned {
		t.Errorf("expected ASSIGNED after reassignment, got %v", rec.Status)
	}

	// The graceful exhaustion wrote checkpoint and handoff rows.
	checkpoints, err := plane.archive.Checkpoints(ctx, "t-1")
	if err != nil {
		t.Fatalf("failed to query checkpoints: %v", err)
	}
	if len(checkpoints) != 1 {
		t.Errorf("expected 1 checkpoint row, got %d", len(checkpoints))
	}
}

func TestExhaustReleasesWithoutCandidate(t *testing.T) {
	plane, _, _ := testPlane(t)
	ctx := context.Background()

	if _, err := plane.SubmitTask(task.Task{ID: "t-r", Title: "Review", Tier: task.TierReview}); err != nil {
		t.Fatalf("failed to submit task: %v", err)
	}
	decisions := plane.SchedulePass(ctx)
	if decisions[0].Kind != scheduler.DecisionAssigned {
		t.Fatalf("expected assignment, got %s", decisions[0].Reason)
	}

	// reviewer-1 is the only review agent; its tasks must be released.
	outcome, err := plane.ExhaustAgent(ctx, "reviewer-1", pool.ReasonError, true)
	if err != nil {
		t.Fatalf("failed to exhaust agent: %v", err)
	}
	if len(outcome.Released) != 1 || outcome.Released[0] != "t-r" {
		t.Fatalf("expected t-r released, got %v", outcome.Released)
	}

	rec, err := plane.Store().Get("t-r")
	if err != nil {
		t.Fatalf("failed to get task: %v", err)
	}
	if rec.Status != task.StatusPending {
		t.Errorf("expected PENDING after release, got %v", rec.Status)
	}
	if rec.ClaimedBy != "" {
		t.Errorf("expected cleared claim, got %q", rec.ClaimedBy)
	}
}

func TestSnapshotRestoreOnStartup(t *testing.T) {
	ctx := context.Background()

	archive, err := persistence.NewMemoryArchive(ctx)
	if err != nil {
		t.Fatalf("failed to create archive: %v", err)
	}
	defer archive.Close()

	bus := events.NewBus()
	defer bus.Close()

	plane, err := New(ctx, testConfig(), archive, bus)
	if err != nil {
		t.Fatalf("failed to create plane: %v", err)
	}
	if _, err := plane.SubmitTask(task.Task{ID: "t-1", Title: "Persist me", Tier: task.TierCode}); err != nil {
		t.Fatalf("failed to submit task: %v", err)
	}
	if _, err := plane.SaveSnapshot(ctx); err != nil {
		t.Fatalf("failed to save snapshot: %v", err)
	}

	// A second plane over the same archive starts from the snapshot.
	restored, err := New(ctx, testConfig(), archive, bus)
	if err != nil {
		t.Fatalf("failed to create restored plane: %v", err)
	}
	rec, err := restored.Store().Get("t-1")
	if err != nil {
		t.Fatalf("expected restored task, got: %v", err)
	}
	if rec.Title != "Persist me" {
		t.Errorf("expected restored title, got %q", rec.Title)
	}
}

func TestWaves(t *testing.T) {
	plane, _, _ := testPlane(t)

	if _, err := plane.SubmitTask(task.Task{ID: "a", Title: "A", Tier: task.TierCode}); err != nil {
		t.Fatalf("failed to submit a: %v", err)
	}
	if _, err := plane.SubmitTask(task.Task{ID: "b", Title: "B", Tier: task.TierCode, BlockedBy: []string{"a"}}); err != nil {
		t.Fatalf("failed to submit b: %v", err)
	}

	ws := plane.Waves()
	if len(ws) < 2 {
		t.Fatalf("expected at least 2 waves, got %d", len(ws))
	}
	if len(ws[0].TaskIDs) != 1 || ws[0].TaskIDs[0] != "a" {
		t.Errorf("expected first wave [a], got %v", ws[0].TaskIDs)
	}
	if len(ws[1].TaskIDs) != 1 || ws[1].TaskIDs[0] != "b" {
		t.Errorf("expected second wave [b], got %v", ws[1].TaskIDs)
	}
}

func TestMergeSnapshotPublishesStats(t *testing.T) {
	plane, _, bus := testPlane(t)
	ctx := context.Background()

	storeCh := bus.Subscribe(events.TopicStore, 10)

	remote := plane.Store().Snapshot()
	remote.ReplicaID = "replica-remote"
	remote.Tasks = []task.Task{{
		ID:        "t-remote",
		Title:     "From elsewhere",
		Status:    task.StatusPending,
		Tier:      task.TierCode,
		CreatedAt: 1000,
		UpdatedAt: 2000,
	}}

	stats := plane.MergeSnapshot(ctx, remote)
	if stats.Adopted != 1 {
		t.Errorf("expected 1 adopted record, got %d", stats.Adopted)
	}

	select {
	case ev := <-storeCh:
		if ev.EventType() != events.EventTypeMergeApplied {
			t.Errorf("expected merge event, got %s", ev.EventType())
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for merge event")
	}
}

// TestSubmitTaskWarnsOnCycle verifies a dependency cycle is accepted (the
// blocked wave surfaces it) but logged at submission time.
func TestSubmitTaskWarnsOnCycle(t *testing.T) {
	plane, _, _ := testPlane(t)

	var buf bytes.Buffer
	log.SetOutput(&buf)
	defer log.SetOutput(os.Stderr)

	// Forward reference first: no warning, t-2 does not exist yet.
	if _, err := plane.SubmitTask(task.Task{ID: "t-1", Title: "first", Tier: task.TierCode, BlockedBy: []string{"t-2"}}); err != nil {
		t.Fatalf("failed to submit t-1: %v", err)
	}
	if strings.Contains(buf.String(), "WARNING") {
		t.Errorf("forward reference logged a warning: %q", buf.String())
	}

	// Closing the loop forms a cycle: still accepted, but logged.
	if _, err := plane.SubmitTask(task.Task{ID: "t-2", Title: "second", Tier: task.TierCode, BlockedBy: []string{"t-1"}}); err != nil {
		t.Fatalf("failed to submit t-2: %v", err)
	}
	if !strings.Contains(buf.String(), "cycle") {
		t.Errorf("expected cycle warning in log, got %q", buf.String())
	}

	out := plane.Waves()
	if len(out) != 1 || !out[0].Blocked {
		t.Fatalf("expected a single blocked wave, got %+v", out)
	}
}

// TestCompleteTaskResolvesHolder verifies an empty agent id is resolved
// through the pool's assignment index.
func TestCompleteTaskResolvesHolder(t *testing.T) {
	plane, _, _ := testPlane(t)
	ctx := context.Background()

	if _, err := plane.SubmitTask(task.Task{ID: "t-1", Title: "Implement", Tier: task.TierCode}); err != nil {
		t.Fatalf("failed to submit task: %v", err)
	}
	plane.SchedulePass(ctx)

	if err := plane.CompleteTask("", "t-1"); err != nil {
		t.Fatalf("CompleteTask with empty agent id failed: %v", err)
	}
	rec, err := plane.Store().Get("t-1")
	if err != nil {
		t.Fatalf("failed to get task: %v", err)
	}
	if rec.Status != task.StatusDone {
		t.Errorf("expected DONE, got %v", rec.Status)
	}

	// Unheld tasks cannot be resolved.
	if err := plane.CompleteTask("", "t-1"); err == nil {
		t.Error("expected error completing a task no agent holds")
	}
}

// TestNewLogsFingerprint verifies the config fingerprint appears in the
// startup log so operators can compare replicas.
func TestNewLogsFingerprint(t *testing.T) {
	var buf bytes.Buffer
	log.SetOutput(&buf)
	defer log.SetOutput(os.Stderr)

	testPlane(t)

	want, err := config.Fingerprint(testConfig())
	if err != nil {
		t.Fatalf("failed to fingerprint config: %v", err)
	}
	if !strings.Contains(buf.String(), fmt.Sprintf("%016x", want)) {
		t.Errorf("expected fingerprint %016x in startup log, got %q", want, buf.String())
	}
}
