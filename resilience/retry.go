// Package resilience provides retry, circuit-breaking, hedging, and
// per-backend rate-limiting primitives used to harden calls into inference
// backends against transient failure.
package resilience

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/kestrelvox/kestrel/core"
)

// RetryPolicy configures Retry's attempt count and backoff schedule.
type RetryPolicy struct {
	// MaxAttempts is the maximum number of calls to fn, including the first.
	MaxAttempts int

	// InitialBackoff is the delay before the second attempt.
	InitialBackoff time.Duration

	// MaxBackoff caps the delay between attempts.
	MaxBackoff time.Duration

	// BackoffFactor multiplies the delay after each failed attempt.
	BackoffFactor float64

	// Jitter randomizes each delay between 50% and 100% of its computed value.
	Jitter bool

	// RetryableErrors overrides core.IsRetryable's default code set. When set,
	// only errors carrying one of these codes are retried.
	RetryableErrors []core.ErrorCode
}

// DefaultRetryPolicy returns the policy used when a caller has no specific
// requirements: 3 attempts, 500ms initial backoff doubling up to 30s, with
// jitter.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     30 * time.Second,
		BackoffFactor:  2.0,
		Jitter:         true,
	}
}

func normalizePolicy(p RetryPolicy) RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = 500 * time.Millisecond
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = 30 * time.Second
	}
	if p.BackoffFactor <= 0 {
		p.BackoffFactor = 2.0
	}
	return p
}

// Retry calls fn until it succeeds, a non-retryable error is returned, the
// policy's attempt budget is exhausted, or ctx is done. Between attempts it
// waits the current backoff duration, then grows the backoff by
// BackoffFactor, capped at MaxBackoff.
func Retry[T any](ctx context.Context, policy RetryPolicy, fn func(context.Context) (T, error)) (T, error) {
	policy = normalizePolicy(policy)
	var zero T
	var lastErr error
	backoff := policy.InitialBackoff

	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		default:
		}

		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !isRetryable(err, policy) {
			return zero, err
		}
		if attempt == policy.MaxAttempts {
			break
		}

		wait := backoff
		if policy.Jitter {
			wait = applyJitter(wait)
		}
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return zero, ctx.Err()
		}

		backoff = time.Duration(float64(backoff) * policy.BackoffFactor)
		if backoff > policy.MaxBackoff {
			backoff = policy.MaxBackoff
		}
	}

	return zero, lastErr
}

func isRetryable(err error, policy RetryPolicy) bool {
	if len(policy.RetryableErrors) == 0 {
		return core.IsRetryable(err)
	}
	var e *core.Error
	if !errors.As(err, &e) {
		return false
	}
	for _, code := range policy.RetryableErrors {
		if e.Code == code {
			return true
		}
	}
	return false
}

// applyJitter scales d by a random factor in [0.5, 1.0].
func applyJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return d
	}
	factor := 0.5 + rand.Float64()*0.5
	return time.Duration(float64(d) * factor)
}
