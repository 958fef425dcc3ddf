package resilience

import (
	"context"
	"sync"
	"time"
)

// pollInterval is how often a blocked Allow/ConsumeTokens call rechecks its
// token bucket or concurrency slot.
const pollInterval = 2 * time.Millisecond

// ProviderLimits describes the rate limits for a backend. Zero values mean
// no limit for that dimension.
type ProviderLimits struct {
	// RPM is the maximum requests per minute.
	RPM int
	// TPM is the maximum phoneme-tokens per minute consumed via ConsumeTokens.
	TPM int
	// MaxConcurrent is the maximum number of concurrent in-flight requests.
	MaxConcurrent int
	// CooldownOnRetry is the duration Wait sleeps before a caller retries
	// after hitting a limit.
	CooldownOnRetry time.Duration
}

// RateLimiter enforces per-backend RPM, TPM, and concurrency limits using
// token buckets that refill continuously rather than in fixed windows.
type RateLimiter struct {
	limits ProviderLimits

	mu            sync.Mutex
	rpmTokens     float64
	rpmLastRefill time.Time
	tpmTokens     float64
	tpmLastRefill time.Time
	concurrent    int
}

// NewRateLimiter creates a limiter starting with full token buckets.
func NewRateLimiter(limits ProviderLimits) *RateLimiter {
	now := time.Now()
	return &RateLimiter{
		limits:        limits,
		rpmTokens:     float64(limits.RPM),
		rpmLastRefill: now,
		tpmTokens:     float64(limits.TPM),
		tpmLastRefill: now,
	}
}

// Allow blocks until an RPM token and a concurrency slot are both available,
// or ctx is done. Callers that successfully Allow must call Release when
// the request completes.
func (rl *RateLimiter) Allow(ctx context.Context) error {
	if err := rl.acquireRPM(ctx); err != nil {
		return err
	}
	return rl.acquireConcurrency(ctx)
}

// Release frees the concurrency slot acquired by Allow. Safe to call more
// times than Allow succeeded; the counter never goes negative.
func (rl *RateLimiter) Release() {
	rl.mu.Lock()
	if rl.concurrent > 0 {
		rl.concurrent--
	}
	rl.mu.Unlock()
}

// Wait sleeps for the configured cooldown, or returns immediately if none is
// configured. Used between a rejected attempt and the next retry.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	if rl.limits.CooldownOnRetry <= 0 {
		return nil
	}
	select {
	case <-time.After(rl.limits.CooldownOnRetry):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ConsumeTokens blocks until n TPM tokens are available, or ctx is done. A
// zero TPM limit or a non-positive n is a no-op.
func (rl *RateLimiter) ConsumeTokens(ctx context.Context, n int) error {
	if rl.limits.TPM <= 0 || n <= 0 {
		return nil
	}
	return rl.acquireBucket(ctx, &rl.tpmTokens, &rl.tpmLastRefill, float64(rl.limits.TPM), float64(rl.limits.TPM)/60.0, float64(n))
}

func (rl *RateLimiter) acquireRPM(ctx context.Context) error {
	if rl.limits.RPM <= 0 {
		return nil
	}
	return rl.acquireBucket(ctx, &rl.rpmTokens, &rl.rpmLastRefill, float64(rl.limits.RPM), float64(rl.limits.RPM)/60.0, 1.0)
}

// acquireBucket waits for a token bucket keyed by tokens/lastRefill to hold
// at least cost, refilling it at ratePerSec up to capacity as time passes.
func (rl *RateLimiter) acquireBucket(ctx context.Context, tokens *float64, lastRefill *time.Time, capacity, ratePerSec, cost float64) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		rl.mu.Lock()
		now := time.Now()
		*tokens += now.Sub(*lastRefill).Seconds() * ratePerSec
		if *tokens > capacity {
			*tokens = capacity
		}
		*lastRefill = now

		if *tokens >= cost {
			*tokens -= cost
			rl.mu.Unlock()
			return nil
		}
		rl.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (rl *RateLimiter) acquireConcurrency(ctx context.Context) error {
	if rl.limits.MaxConcurrent <= 0 {
		return nil
	}
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		rl.mu.Lock()
		if rl.concurrent < rl.limits.MaxConcurrent {
			rl.concurrent++
			rl.mu.Unlock()
			return nil
		}
		rl.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
