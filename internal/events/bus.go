package events

import (
	"sync"
)

// defaultBufSize is used when a subscriber asks for a non-positive buffer.
const defaultBufSize = 256

// Bus is a channel-based pub-sub bus. Subscribers attach per topic or to
// every topic at once; publishing never blocks the publisher.
type Bus struct {
	mu       sync.RWMutex
	byTopic  map[string][]chan Event
	firehose []chan Event // SubscribeAll channels, receive every topic
	closed   bool
}

// NewBus creates a new event bus.
func NewBus() *Bus {
	return &Bus{
		byTopic: make(map[string][]chan Event),
	}
}

// Subscribe returns a channel receiving events published to topic.
// A closed bus yields an already-closed channel.
func (b *Bus) Subscribe(topic string, bufSize int) <-chan Event {
	if bufSize <= 0 {
		bufSize = defaultBufSize
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return closedChannel()
	}

	ch := make(chan Event, bufSize)
	b.byTopic[topic] = append(b.byTopic[topic], ch)
	return ch
}

// SubscribeAll returns a channel receiving events from every topic.
func (b *Bus) SubscribeAll(bufSize int) <-chan Event {
	if bufSize <= 0 {
		bufSize = defaultBufSize
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return closedChannel()
	}

	ch := make(chan Event, bufSize)
	b.firehose = append(b.firehose, ch)
	return ch
}

func closedChannel() <-chan Event {
	ch := make(chan Event)
	close(ch)
	return ch
}

// Publish delivers event to every subscriber of topic and to every
// SubscribeAll channel. A subscriber with a full buffer loses the event
// rather than stalling the publisher.
func (b *Bus) Publish(topic string, event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	for _, ch := range b.byTopic[topic] {
		offer(ch, event)
	}
	for _, ch := range b.firehose {
		offer(ch, event)
	}
}

// offer performs the non-blocking send.
func offer(ch chan Event, event Event) {
	select {
	case ch <- event:
	default:
		// Subscriber buffer full, drop
	}
}

// Close closes every subscriber channel. Idempotent.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	for _, channels := range b.byTopic {
		for _, ch := range channels {
			close(ch)
		}
	}
	for _, ch := range b.firehose {
		close(ch)
	}
}
