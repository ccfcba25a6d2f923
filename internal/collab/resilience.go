package collab

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	"github.com/aristath/agentplane/internal/pool"
)

// RetryConfig configures exponential backoff retry behavior.
type RetryConfig struct {
	InitialInterval     time.Duration // Initial retry interval (default 500ms)
	MaxInterval         time.Duration // Maximum retry interval (default 5s)
	MaxElapsedTime      time.Duration // Maximum total retry time (default 10s)
	Multiplier          float64       // Backoff multiplier (default 2.0)
	RandomizationFactor float64       // Jitter factor (default 0.5)
}

// DefaultRetryConfig returns the default retry configuration. The elapsed
// budget is short because exhaustion handling runs under the pool lock.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		InitialInterval:     500 * time.Millisecond,
		MaxInterval:         5 * time.Second,
		MaxElapsedTime:      10 * time.Second,
		Multiplier:          2.0,
		RandomizationFactor: 0.5,
	}
}

// newBreaker creates a circuit breaker for one collaborator. The circuit
// trips after 5 consecutive failures, stays open for 30s, and allows 3
// probe requests in half-open state. Context cancellation is not counted
// as a collaborator failure.
func newBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    0,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Printf("Circuit breaker %q: %s -> %s", name, from, to)
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return true
			}
			return false
		},
	})
}

// executeWithRetry runs op through the circuit breaker with exponential
// backoff. An open circuit or a cancelled context stops retrying.
func executeWithRetry(ctx context.Context, cb *gobreaker.CircuitBreaker, retryCfg RetryConfig, op func() (string, error)) (string, error) {
	var ref string

	operation := func() error {
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}

		result, err := cb.Execute(func() (interface{}, error) {
			return op()
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return backoff.Permanent(err)
			}
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}

		ref = result.(string)
		return nil
	}

	backoffPolicy := backoff.NewExponentialBackOff()
	backoffPolicy.InitialInterval = retryCfg.InitialInterval
	backoffPolicy.MaxInterval = retryCfg.MaxInterval
	backoffPolicy.MaxElapsedTime = retryCfg.MaxElapsedTime
	backoffPolicy.Multiplier = retryCfg.Multiplier
	backoffPolicy.RandomizationFactor = retryCfg.RandomizationFactor

	err := backoff.Retry(operation, backoff.WithContext(backoffPolicy, ctx))
	return ref, err
}

// ResilientCheckpointer wraps a Checkpointer with circuit breaking and
// retry. Failures degrade to errors the pool records per task; they never
// block exhaustion itself.
type ResilientCheckpointer struct {
	next  pool.Checkpointer
	cb    *gobreaker.CircuitBreaker
	retry RetryConfig
}

// NewResilientCheckpointer wraps next with a dedicated circuit breaker.
func NewResilientCheckpointer(next pool.Checkpointer, retryCfg RetryConfig) *ResilientCheckpointer {
	return &ResilientCheckpointer{
		next:  next,
		cb:    newBreaker("checkpointer"),
		retry: retryCfg,
	}
}

// Checkpoint delegates through the breaker and retry policy.
func (r *ResilientCheckpointer) Checkpoint(ctx context.Context, taskID, agentID string) (string, error) {
	return executeWithRetry(ctx, r.cb, r.retry, func() (string, error) {
		return r.next.Checkpoint(ctx, taskID, agentID)
	})
}

// ResilientHandoff wraps a HandoffWriter with circuit breaking and retry.
type ResilientHandoff struct {
	next  pool.HandoffWriter
	cb    *gobreaker.CircuitBreaker
	retry RetryConfig
}

// NewResilientHandoff wraps next with a dedicated circuit breaker.
func NewResilientHandoff(next pool.HandoffWriter, retryCfg RetryConfig) *ResilientHandoff {
	return &ResilientHandoff{
		next:  next,
		cb:    newBreaker("handoff"),
		retry: retryCfg,
	}
}

// Handoff delegates through the breaker and retry policy.
func (r *ResilientHandoff) Handoff(ctx context.Context, taskID, agentID string) (string, error) {
	return executeWithRetry(ctx, r.cb, r.retry, func() (string, error) {
		return r.next.Handoff(ctx, taskID, agentID)
	})
}
