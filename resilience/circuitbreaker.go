package resilience

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State is a circuit breaker's lifecycle state.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// ErrCircuitOpen is returned by Execute when the breaker is open and the
// reset timeout hasn't elapsed.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreaker trips to open after a run of consecutive failures and
// stays there until resetTimeout elapses, at which point the next call is
// let through as a probe: success closes it, failure reopens it.
type CircuitBreaker struct {
	mu               sync.Mutex
	failureThreshold int
	resetTimeout     time.Duration
	state            State
	failureCount     int
	lastFailureTime  time.Time
}

// NewCircuitBreaker creates a breaker with the given failure threshold and
// reset timeout. threshold <= 0 defaults to 5; timeout <= 0 defaults to 30s.
func NewCircuitBreaker(threshold int, timeout time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 5
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &CircuitBreaker{
		failureThreshold: threshold,
		resetTimeout:     timeout,
		state:            StateClosed,
	}
}

// State returns the breaker's current state, lazily transitioning Open to
// HalfOpen once resetTimeout has elapsed since the last failure.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.effectiveStateLocked()
}

func (cb *CircuitBreaker) effectiveStateLocked() State {
	if cb.state == StateOpen && time.Since(cb.lastFailureTime) >= cb.resetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Execute runs fn if the breaker isn't open, tracking the result against the
// failure threshold. In the half-open state, fn acts as a probe: success
// closes the breaker, failure reopens it immediately.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) (any, error)) (any, error) {
	cb.mu.Lock()
	state := cb.effectiveStateLocked()
	if state == StateOpen {
		cb.mu.Unlock()
		return nil, ErrCircuitOpen
	}
	cb.mu.Unlock()

	result, err := fn(ctx)

	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err != nil {
		if state == StateHalfOpen {
			cb.state = StateOpen
			cb.lastFailureTime = time.Now()
		} else {
			cb.failureCount++
			if cb.failureCount >= cb.failureThreshold {
				cb.state = StateOpen
				cb.lastFailureTime = time.Now()
			}
		}
		return result, err
	}

	cb.state = StateClosed
	cb.failureCount = 0
	return result, nil
}

// Reset forces the breaker back to closed, clearing the failure count.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = StateClosed
	cb.failureCount = 0
}
