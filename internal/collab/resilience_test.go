package collab

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/sony/gobreaker"
)

// flakyCollaborator is a scripted collaborator for testing retry behavior.
// Each entry in responses is either a string ref or an error.
type flakyCollaborator struct {
	mu        sync.Mutex
	responses []any
	callCount int
}

func (c *flakyCollaborator) next() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.callCount >= len(c.responses) {
		return "", fmt.Errorf("unexpected call %d (only %d responses configured)", c.callCount+1, len(c.responses))
	}
	resp := c.responses[c.callCount]
	c.callCount++

	switch v := resp.(type) {
	case string:
		return v, nil
	case error:
		return "", v
	default:
		return "", fmt.Errorf("invalid response type: %T", v)
	}
}

func (c *flakyCollaborator) Checkpoint(ctx context.Context, taskID, agentID string) (string, error) {
	return c.next()
}

func (c *flakyCollaborator) Handoff(ctx context.Context, taskID, agentID string) (string, error) {
	return c.next()
}

func (c *flakyCollaborator) CallCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.callCount
}

func fastRetryConfig() RetryConfig {
	return RetryConfig{
		InitialInterval:     10 * time.Millisecond,
		MaxInterval:         50 * time.Millisecond,
		MaxElapsedTime:      1 * time.Second,
		Multiplier:          2.0,
		RandomizationFactor: 0.5,
	}
}

// TestCheckpointTransientThenSuccess verifies transient failures are retried.
func TestCheckpointTransientThenSuccess(t *testing.T) {
	flaky := &flakyCollaborator{
		responses: []any{
			fmt.Errorf("transient error 1"),
			fmt.Errorf("transient error 2"),
			"checkpoint/42",
		},
	}

	rc := NewResilientCheckpointer(flaky, fastRetryConfig())

	ref, err := rc.Checkpoint(context.Background(), "task-1", "agent-1")
	if err != nil {
		t.Fatalf("expected success after retries, got error: %v", err)
	}
	if ref != "checkpoint/42" {
		t.Errorf("expected ref 'checkpoint/42', got %q", ref)
	}
	if flaky.CallCount() != 3 {
		t.Errorf("expected 3 calls (2 failures + 1 success), got %d", flaky.CallCount())
	}
}

// TestCheckpointCircuitOpens verifies the breaker opens after consecutive failures.
func TestCheckpointCircuitOpens(t *testing.T) {
	flaky := &flakyCollaborator{responses: make([]any, 40)}
	for i := range flaky.responses {
		flaky.responses[i] = fmt.Errorf("persistent error %d", i+1)
	}

	cfg := fastRetryConfig()
	cfg.MaxElapsedTime = 200 * time.Millisecond
	rc := NewResilientCheckpointer(flaky, cfg)

	ctx := context.Background()
	for i := 0; i < 7; i++ {
		_, err := rc.Checkpoint(ctx, "task-1", "agent-1")
		if err == nil {
			t.Fatalf("call %d: expected error, got success", i+1)
		}
		if errors.Is(err, gobreaker.ErrOpenState) {
			return // Circuit opened, test passed
		}
	}

	if rc.cb.State() != gobreaker.StateOpen {
		t.Errorf("expected open circuit after repeated failures, got state %v", rc.cb.State())
	}
}

// TestCheckpointContextCancelledStopsRetry verifies cancellation stops retries immediately.
func TestCheckpointContextCancelledStopsRetry(t *testing.T) {
	flaky := &flakyCollaborator{responses: make([]any, 40)}
	for i := range flaky.responses {
		flaky.responses[i] = fmt.Errorf("persistent error %d", i+1)
	}

	rc := NewResilientCheckpointer(flaky, fastRetryConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	_, err := rc.Checkpoint(ctx, "task-1", "agent-1")
	elapsed := time.Since(start)

	if err == nil {
		t.Fatal("expected error with cancelled context, got success")
	}
	if elapsed > 100*time.Millisecond {
		t.Errorf("expected immediate failure on cancelled context, took %v", elapsed)
	}
	if flaky.CallCount() != 0 {
		t.Errorf("expected no collaborator calls with pre-cancelled context, got %d", flaky.CallCount())
	}
}

// TestCancellationNotCountedAsFailure verifies context errors don't trip the breaker.
func TestCancellationNotCountedAsFailure(t *testing.T) {
	flaky := &flakyCollaborator{responses: make([]any, 200)}
	for i := range flaky.responses {
		flaky.responses[i] = context.Canceled
	}

	cfg := fastRetryConfig()
	cfg.MaxElapsedTime = 100 * time.Millisecond
	rh := NewResilientHandoff(flaky, cfg)

	for i := 0; i < 3; i++ {
		_, err := rh.Handoff(context.Background(), "task-1", "agent-1")
		if err == nil {
			t.Fatalf("call %d: expected error, got success", i+1)
		}
	}

	if rh.cb.State() != gobreaker.StateClosed {
		t.Errorf("expected closed circuit (cancellations not counted), got state %v", rh.cb.State())
	}
}

// TestHandoffSuccess verifies the happy path passes the ref through.
func TestHandoffSuccess(t *testing.T) {
	flaky := &flakyCollaborator{responses: []any{"handoff/7"}}
	rh := NewResilientHandoff(flaky, DefaultRetryConfig())

	ref, err := rh.Handoff(context.Background(), "task-1", "agent-1")
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if ref != "handoff/7" {
		t.Errorf("expected ref 'handoff/7', got %q", ref)
	}
	if flaky.CallCount() != 1 {
		t.Errorf("expected 1 call, got %d", flaky.CallCount())
	}
}
