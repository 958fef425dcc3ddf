// Package keepalive implements the Keep-Alive Service (§4.12): a
// single-threaded periodic task that re-runs canonical warm-up inference
// on backends idle for longer than idle_threshold, so the next real
// request never lands on a cold graph. All actual re-warming is serialized
// through the Multi-Session Manager, which guarantees it never overlaps a
// real request on the same backend.
package keepalive

import (
	"context"
	"sync"
	"time"

	"github.com/kestrelvox/kestrel/backend"
	"github.com/kestrelvox/kestrel/core"
	"github.com/kestrelvox/kestrel/o11y"
)

// DefaultInterval is the §4.14 keep_alive_interval default.
const DefaultInterval = 300 * time.Second

// DefaultIdleThreshold is the §4.14 idle_threshold default.
const DefaultIdleThreshold = 120 * time.Second

// Config tunes the Keep-Alive Service.
type Config struct {
	Enabled       bool
	Interval      time.Duration
	IdleThreshold time.Duration
}

// DefaultConfig returns the §4.14 defaults with the service enabled.
func DefaultConfig() Config {
	return Config{
		Enabled:       true,
		Interval:      DefaultInterval,
		IdleThreshold: DefaultIdleThreshold,
	}
}

// Service is the Keep-Alive Service. It satisfies core.Lifecycle so it can
// be registered alongside the Model Cache and HTTP listener in the
// process's App.
type Service struct {
	cfg     Config
	manager *backend.Manager

	mu      sync.Mutex
	stopCh  chan struct{}
	doneCh  chan struct{}
	running bool

	lastTick time.Time
	lastWarm []backend.ID
}

// New creates a Keep-Alive Service bound to manager. A disabled config
// still satisfies core.Lifecycle but Start is a no-op.
func New(cfg Config, manager *backend.Manager) *Service {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.IdleThreshold <= 0 {
		cfg.IdleThreshold = DefaultIdleThreshold
	}
	return &Service{cfg: cfg, manager: manager}
}

// Start launches the periodic task. It returns immediately; the task runs
// on its own goroutine until Stop is called.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running || !s.cfg.Enabled {
		return nil
	}
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.running = true

	go s.run(ctx)
	return nil
}

// Stop signals the periodic task to exit and waits for it to finish. It
// does not cancel an in-progress warm-up; that inference runs to
// completion and releases its route normally.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	close(s.stopCh)
	done := s.doneCh
	s.mu.Unlock()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// Health reports healthy whenever the service is disabled, or has been
// started and not stopped. It does not check whether a tick has completed
// or whether the task goroutine has exited on context cancellation.
func (s *Service) Health() core.HealthStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.cfg.Enabled {
		return core.HealthStatus{Status: core.HealthHealthy, Message: "keep-alive disabled", Timestamp: time.Now()}
	}
	if !s.running {
		return core.HealthStatus{Status: core.HealthUnhealthy, Message: "keep-alive task not running", Timestamp: time.Now()}
	}
	return core.HealthStatus{
		Status:    core.HealthHealthy,
		Message:   "keep-alive task running",
		Timestamp: time.Now(),
	}
}

// run is the single-threaded periodic task body. One tick's warm-up work
// always completes before the next tick's fires because the ticker is
// driven from this one goroutine; there is never a second concurrent
// invocation to race against it.
func (s *Service) run(ctx context.Context) {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	log := o11y.FromContext(ctx).With("component", "keepalive")

	for {
		select {
		case <-ticker.C:
			warmed := s.manager.WarmIdle(ctx, s.cfg.IdleThreshold)

			s.mu.Lock()
			s.lastTick = time.Now()
			s.lastWarm = warmed
			s.mu.Unlock()

			if len(warmed) > 0 {
				log.Info(ctx, "re-warmed idle backends", "backends", warmed)
			}
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}
