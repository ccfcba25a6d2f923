package events

import (
	"fmt"
	"testing"
	"time"

	"github.com/aristath/agentplane/internal/task"
)

// TestPublishSubscribe verifies basic publish/subscribe functionality.
func TestPublishSubscribe(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ch := bus.Subscribe(TopicTasks, 10)

	event := TaskAssignedEvent{
		ID:        "task-1",
		AgentID:   "agent-1",
		Tier:      task.TierCode,
		Timestamp: time.Now(),
	}

	bus.Publish(TopicTasks, event)

	select {
	case received := <-ch:
		if received.EntityID() != "task-1" {
			t.Errorf("expected entity ID 'task-1', got '%s'", received.EntityID())
		}
		if received.EventType() != EventTypeTaskAssigned {
			t.Errorf("expected event type '%s', got '%s'", EventTypeTaskAssigned, received.EventType())
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for event")
	}
}

// TestMultipleSubscribers verifies multiple subscribers receive the same event.
func TestMultipleSubscribers(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ch1 := bus.Subscribe(TopicTasks, 10)
	ch2 := bus.Subscribe(TopicTasks, 10)

	event := TaskCompletedEvent{
		ID:        "task-2",
		AgentID:   "agent-1",
		Timestamp: time.Now(),
	}

	bus.Publish(TopicTasks, event)

	// Both channels should receive the event
	for i, ch := range []<-chan Event{ch1, ch2} {
		select {
		case received := <-ch:
			if received.EntityID() != "task-2" {
				t.Errorf("subscriber %d: expected entity ID 'task-2', got '%s'", i+1, received.EntityID())
			}
		case <-time.After(100 * time.Millisecond):
			t.Fatalf("subscriber %d: timeout waiting for event", i+1)
		}
	}
}

// TestNonBlockingSend verifies that publishing doesn't block when channels are full.
func TestNonBlockingSend(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	// Subscribe with buffer size 1
	ch := bus.Subscribe(TopicTasks, 1)

	// Publish 10 events - should not deadlock
	done := make(chan bool)
	go func() {
		for i := 0; i < 10; i++ {
			event := TaskQueuedEvent{
				ID:        fmt.Sprintf("task-%d", i),
				Tier:      task.TierCode,
				Timestamp: time.Now(),
			}
			bus.Publish(TopicTasks, event)
		}
		done <- true
	}()

	// Publisher should complete immediately (non-blocking)
	select {
	case <-done:
		// Success - publisher didn't block
	case <-time.After(100 * time.Millisecond):
		t.Fatal("publisher blocked (expected non-blocking behavior)")
	}

	// Verify we received at least one event (buffer size 1)
	select {
	case received := <-ch:
		if received == nil {
			t.Error("received nil event")
		}
	default:
		t.Error("expected at least one event in buffer")
	}
}

// TestCloseSignalsSubscribers verifies that closing the bus closes subscriber channels.
func TestCloseSignalsSubscribers(t *testing.T) {
	bus := NewBus()

	ch := bus.Subscribe(TopicTasks, 10)

	// Close the bus
	bus.Close()

	// Channel should be closed (range loop should exit immediately)
	received := 0
	for range ch {
		received++
	}

	if received != 0 {
		t.Errorf("expected 0 events after close, got %d", received)
	}
}

// TestPublishAfterClose verifies publishing after close doesn't panic.
func TestPublishAfterClose(t *testing.T) {
	bus := NewBus()
	ch := bus.Subscribe(TopicTasks, 10)

	bus.Close()

	// This should not panic
	defer func() {
		if r := recover(); r != nil {
			t.Errorf("publishing after close caused panic: %v", r)
		}
	}()

	event := TaskAssignedEvent{
		ID:        "task-1",
		AgentID:   "agent-1",
		Timestamp: time.Now(),
	}
	bus.Publish(TopicTasks, event)

	// Channel is closed, so we shouldn't receive anything
	select {
	case _, ok := <-ch:
		if ok {
			t.Error("received event after bus was closed")
		}
	default:
		// Expected - channel closed, no data
	}
}

// TestMultipleTopics verifies topic isolation.
func TestMultipleTopics(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	taskCh := bus.Subscribe(TopicTasks, 10)
	agentCh := bus.Subscribe(TopicAgents, 10)

	taskEvent := TaskAssignedEvent{
		ID:        "task-1",
		AgentID:   "agent-1",
		Timestamp: time.Now(),
	}

	agentEvent := AgentExhaustedEvent{
		ID:         "agent-1",
		Reason:     "context_depletion",
		Graceful:   true,
		Reassigned: 2,
		Released:   1,
		Timestamp:  time.Now(),
	}

	bus.Publish(TopicTasks, taskEvent)
	bus.Publish(TopicAgents, agentEvent)

	// Task channel should receive the task event
	select {
	case received := <-taskCh:
		if received.EventType() != EventTypeTaskAssigned {
			t.Errorf("task channel: expected task event, got %s", received.EventType())
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("task channel: timeout waiting for event")
	}

	// Agent channel should receive the agent event
	select {
	case received := <-agentCh:
		if received.EventType() != EventTypeAgentExhausted {
			t.Errorf("agent channel: expected agent event, got %s", received.EventType())
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("agent channel: timeout waiting for event")
	}

	// Task channel should NOT have the agent event
	select {
	case <-taskCh:
		t.Error("task channel received unexpected event")
	case <-time.After(10 * time.Millisecond):
		// Expected - no event
	}

	// Agent channel should NOT have the task event
	select {
	case <-agentCh:
		t.Error("agent channel received unexpected event")
	case <-time.After(10 * time.Millisecond):
		// Expected - no event
	}
}

// TestSubscribeAll verifies that SubscribeAll receives events from all topics.
func TestSubscribeAll(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	allCh := bus.SubscribeAll(20)

	taskEvent := TaskBlockedEvent{
		ID:        "task-1",
		BlockerID: "task-0",
		Timestamp: time.Now(),
	}
	bus.Publish(TopicTasks, taskEvent)

	storeEvent := SnapshotSavedEvent{
		SnapshotID: "snap-1",
		ReplicaID:  "replica-a",
		Tasks:      4,
		Timestamp:  time.Now(),
	}
	bus.Publish(TopicStore, storeEvent)

	// SubscribeAll channel should receive both events
	receivedTypes := make(map[string]bool)

	for i := 0; i < 2; i++ {
		select {
		case received := <-allCh:
			receivedTypes[received.EventType()] = true
		case <-time.After(100 * time.Millisecond):
			t.Fatal("timeout waiting for event")
		}
	}

	// Verify we received both types
	if !receivedTypes[EventTypeTaskBlocked] {
		t.Error("SubscribeAll did not receive the task event")
	}
	if !receivedTypes[EventTypeSnapshotSaved] {
		t.Error("SubscribeAll did not receive the store event")
	}

	// Should not have any more events
	select {
	case <-allCh:
		t.Error("received unexpected third event")
	case <-time.After(10 * time.Millisecond):
		// Expected - no more events
	}
}
