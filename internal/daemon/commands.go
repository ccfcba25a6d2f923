package daemon

import (
	"context"
)

// ApplyFunc is an operator command executed on the daemon's command
// goroutine with the plane's full context.
type ApplyFunc func(ctx context.Context) (any, error)

// command pairs one ApplyFunc with its response channel.
type command struct {
	apply      ApplyFunc
	responseCh chan reply
}

// reply carries a command's result back to the caller.
type reply struct {
	value any
	err   error
}

// CommandChannel serializes operator commands with the daemon loops.
// Commands are processed one at a time by a single handler goroutine.
type CommandChannel struct {
	commandCh chan command
	done      chan struct{}
}

// NewCommandChannel creates a command channel with the specified buffer
// size. bufferSize should exceed the expected number of concurrent
// callers to prevent blocking.
func NewCommandChannel(bufferSize int) *CommandChannel {
	if bufferSize <= 0 {
		bufferSize = 8
	}
	return &CommandChannel{
		commandCh: make(chan command, bufferSize),
		done:      make(chan struct{}),
	}
}

// Start launches the command handler goroutine.
// It processes commands until the context is cancelled.
func (cc *CommandChannel) Start(ctx context.Context) {
	go cc.handleCommands(ctx)
}

// handleCommands processes incoming commands until context is cancelled.
func (cc *CommandChannel) handleCommands(ctx context.Context) {
	defer close(cc.done)

	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-cc.commandCh:
			value, err := cmd.apply(ctx)

			// Check if context was cancelled during execution
			select {
			case <-ctx.Done():
				cmd.responseCh <- reply{err: ctx.Err()}
				return
			default:
				cmd.responseCh <- reply{value: value, err: err}
			}
		}
	}
}

// Ask submits a command and waits for its result.
// It respects context cancellation at both the send and receive stages.
func (cc *CommandChannel) Ask(ctx context.Context, apply ApplyFunc) (any, error) {
	// Buffered response channel so the handler never blocks on delivery
	responseCh := make(chan reply, 1)

	cmd := command{
		apply:      apply,
		responseCh: responseCh,
	}

	// Send command (or cancel)
	select {
	case cc.commandCh <- cmd:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	// Wait for result (or cancel)
	select {
	case r := <-responseCh:
		if r.err != nil {
			return nil, r.err
		}
		return r.value, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Stop blocks until the handler goroutine has exited.
func (cc *CommandChannel) Stop() {
	<-cc.done
}
