package backend

import (
	"context"
	"sync"
	"time"

	"github.com/kestrelvox/kestrel/capability"
	"github.com/kestrelvox/kestrel/core"
	"github.com/kestrelvox/kestrel/internal/syncutil"
)

// State is a backend's position in the §4.5 state machine.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateInitializing  State = "initializing"
	StateReady         State = "ready"
	StateInUse         State = "in_use"
	StateDegraded      State = "degraded"
	StateUnavailable   State = "unavailable"
)

// backendEntry holds one backend's state, model path, and concurrency gate.
type backendEntry struct {
	state           State
	modelPath       string
	transientCount  int
	sem             syncutil.Semaphore
	maxConcurrent   int
	lastUsed        time.Time
}

// ManagerConfig configures routing thresholds and per-backend limits.
type ManagerConfig struct {
	ShortThreshold           int // input_len at or below which ANE is preferred
	MaxConcurrentANE         int
	MaxConcurrentGPU         int
	MaxConcurrentCPU         int
	TransientRetriesBeforeDegraded int // consecutive transient failures before Degraded
}

// DefaultManagerConfig returns §4.14-flavored defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		ShortThreshold:                 150,
		MaxConcurrentANE:               1,
		MaxConcurrentGPU:               1,
		MaxConcurrentCPU:               4,
		TransientRetriesBeforeDegraded: 1,
	}
}

// Manager is the Multi-Session Manager (§4.5): the sole mutator of
// per-backend state, responsible for routing a segment to the best
// available backend and enforcing per-backend concurrency limits.
type Manager struct {
	cfg    ManagerConfig
	cache  *ModelCache
	warmup *Coordinator
	caps   capability.Capabilities

	mu       sync.Mutex
	backends map[ID]*backendEntry
}

// NewManager creates a Manager. caps determines which non-CPU backends
// are ever considered for routing.
func NewManager(cfg ManagerConfig, cache *ModelCache, warmup *Coordinator, caps capability.Capabilities) *Manager {
	m := &Manager{
		cfg:      cfg,
		cache:    cache,
		warmup:   warmup,
		caps:     caps,
		backends: make(map[ID]*backendEntry),
	}
	m.backends[CPU] = &backendEntry{state: StateUninitialized, sem: syncutil.NewSemaphore(cfg.MaxConcurrentCPU), maxConcurrent: cfg.MaxConcurrentCPU}
	if caps.HasGPU {
		m.backends[GPU] = &backendEntry{state: StateUninitialized, sem: syncutil.NewSemaphore(cfg.MaxConcurrentGPU), maxConcurrent: cfg.MaxConcurrentGPU}
	}
	if caps.HasANE {
		m.backends[ANE] = &backendEntry{state: StateUninitialized, sem: syncutil.NewSemaphore(cfg.MaxConcurrentANE), maxConcurrent: cfg.MaxConcurrentANE}
	}
	return m
}

// RegisterModelPath associates a model artifact path with a backend id,
// required before that backend can be initialized via get_or_init.
func (m *Manager) RegisterModelPath(id ID, modelPath string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.backends[id]; ok {
		e.modelPath = modelPath
	}
}

// State returns a backend's current state.
func (m *Manager) State(id ID) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.backends[id]
	if !ok {
		return StateUnavailable
	}
	return e.state
}

// RouteGuard pins one segment's inference to one backend and releases its
// concurrency slot when Release is called. Callers must always call
// Release exactly once, typically via defer.
type RouteGuard struct {
	manager *Manager
	id      ID
	released bool
	mu      sync.Mutex
}

// Backend returns the id this guard was issued for.
func (g *RouteGuard) Backend() ID { return g.id }

// Release frees the backend's concurrency slot and returns it to Ready if
// it was InUse and no other guard still holds a slot on it. Safe to call
// more than once; only the first call has an effect.
func (g *RouteGuard) Release() {
	g.mu.Lock()
	if g.released {
		g.mu.Unlock()
		return
	}
	g.released = true
	g.mu.Unlock()

	g.manager.releaseRoute(g.id)
}

// AcquireRoute chooses a backend for a segment of inputLen phonemes per
// the §4.5 tie-break order, lazily running get_or_init on the highest
// priority Uninitialized candidate in that order before falling back to
// the next tier, then acquires its concurrency slot (blocking until one
// is free or ctx is done) and returns a RouteGuard. The chosen backend's
// state moves to InUse for the duration of the guard.
//
// This is the only path that ever brings ANE/GPU out of Uninitialized in
// production: an eager startup init would block server boot on an
// optional accelerator's cold-start cost, so ANE/GPU pay it here instead,
// on the first segment that actually prefers them.
func (m *Manager) AcquireRoute(ctx context.Context, inputLen int) (*RouteGuard, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	for _, id := range m.routeOrder(inputLen) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if m.State(id) == StateUninitialized {
			if _, err := m.Initialize(id); err != nil {
				continue
			}
		}
		if s := m.State(id); s != StateReady && s != StateInUse {
			continue
		}
		return m.acquireFor(ctx, id)
	}

	return nil, errf("backend.AcquireRoute", core.ErrProviderDown, "no backend available to route segment", nil)
}

// routeOrder returns the backend ids eligible to carry a segment of
// inputLen phonemes, in §4.5 tie-break order: ANE (if input_len is at or
// below short_threshold) -> GPU -> CPU. An id only appears if it was
// registered at construction time, i.e. the capability probe reported it
// present (CPU is always registered).
func (m *Manager) routeOrder(inputLen int) []ID {
	m.mu.Lock()
	defer m.mu.Unlock()

	var ids []ID
	if inputLen <= m.cfg.ShortThreshold {
		if _, ok := m.backends[ANE]; ok {
			ids = append(ids, ANE)
		}
	}
	if _, ok := m.backends[GPU]; ok {
		ids = append(ids, GPU)
	}
	if _, ok := m.backends[CPU]; ok {
		ids = append(ids, CPU)
	}
	return ids
}

// acquireFor acquires id's concurrency slot directly, bypassing the
// routing policy. Used by AcquireRoute once it has chosen a backend, and
// by the Keep-Alive Service to target a specific idle backend.
func (m *Manager) acquireFor(ctx context.Context, id ID) (*RouteGuard, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	e, ok := m.backends[id]
	m.mu.Unlock()
	if !ok {
		return nil, errf("backend.acquireFor", core.ErrProviderDown, "unknown backend id", nil)
	}

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	m.mu.Lock()
	if e.state == StateReady {
		e.state = StateInUse
	}
	e.lastUsed = time.Now()
	m.mu.Unlock()

	return &RouteGuard{manager: m, id: id}, nil
}

// releaseRoute frees a backend's concurrency slot and returns it from
// InUse to Ready once no other route holds a slot on it.
func (m *Manager) releaseRoute(id ID) {
	m.mu.Lock()
	e, ok := m.backends[id]
	m.mu.Unlock()
	if !ok {
		return
	}

	<-e.sem

	m.mu.Lock()
	if e.state == StateInUse && len(e.sem) == 0 {
		e.state = StateReady
	}
	m.mu.Unlock()
}

// choose applies the §4.5 routing policy to the backends' current state,
// tie-broken in order: ANE (if short input and Ready) -> GPU (if Ready) ->
// CPU (Ready, or Uninitialized since CPU is always eagerly initialized at
// startup). Unlike AcquireRoute, choose never initializes anything itself;
// it is a pure read of whatever state the backends are already in.
func (m *Manager) choose(inputLen int) (ID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if inputLen <= m.cfg.ShortThreshold {
		if e, ok := m.backends[ANE]; ok && e.state == StateReady {
			return ANE, nil
		}
	}
	if e, ok := m.backends[GPU]; ok && e.state == StateReady {
		return GPU, nil
	}
	if e, ok := m.backends[CPU]; ok && (e.state == StateReady || e.state == StateUninitialized) {
		return CPU, nil
	}
	return "", errf("backend.choose", core.ErrProviderDown, "no backend available to route segment", nil)
}

// Initialize performs get_or_init for id: loads the model instance
// through the ModelCache (coalesced per key), transitions
// Uninitialized -> Initializing -> Ready, and runs the canonical warm-up
// patterns before marking the backend Ready.
//
// Initialize is also called as a cheap no-op on every segment routed to an
// already-Ready backend (produce needs the ModelInstance, not just the
// state transition), and by AcquireRoute's lazy-init loop, which may call
// it against a backend another goroutine is concurrently using or has
// already failed. Only the call that actually observes Uninitialized and
// performs the Uninitialized -> Initializing transition is allowed to
// move the state further (to Ready, Degraded, or Unavailable); a
// redundant call leaves whatever state the backend is already in (InUse,
// Degraded, Unavailable, or a concurrent Initializing) untouched, so it
// never resurrects a failed backend or clobbers GET /status's view of an
// in-flight InUse backend.
func (m *Manager) Initialize(id ID) (ModelInstance, error) {
	m.mu.Lock()
	e, ok := m.backends[id]
	if !ok {
		m.mu.Unlock()
		return nil, errf("backend.Initialize", core.ErrProviderDown, "unknown backend id", nil)
	}
	initiating := e.state == StateUninitialized
	if initiating {
		e.state = StateInitializing
	}
	modelPath := e.modelPath
	m.mu.Unlock()

	inst, err := m.cache.GetOrInit(id, modelPath)
	if err != nil {
		if initiating {
			m.mu.Lock()
			e.state = StateUnavailable
			m.mu.Unlock()
		}
		return nil, err
	}

	if err := m.warmup.WarmAll(id, inst); err != nil {
		if initiating {
			m.mu.Lock()
			e.state = StateDegraded
			m.mu.Unlock()
		}
		return nil, err
	}

	if initiating {
		m.mu.Lock()
		e.state = StateReady
		m.mu.Unlock()
	}

	return inst, nil
}

// ReportTransientFailure records a TransientBackendError for id. After
// TransientRetriesBeforeDegraded consecutive transient failures the
// backend moves to Degraded; the caller is responsible for retrying once
// on the same backend before calling this (§4.5 step 4) and for
// re-routing per the same policy afterward.
func (m *Manager) ReportTransientFailure(id ID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.backends[id]
	if !ok {
		return
	}
	e.transientCount++
	threshold := m.cfg.TransientRetriesBeforeDegraded
	if threshold <= 0 {
		threshold = 1
	}
	if e.transientCount >= threshold {
		e.state = StateDegraded
	}
}

// ReportPermanentFailure marks id Unavailable immediately, blacklisting it
// for the remainder of the process until an operator recovers it.
func (m *Manager) ReportPermanentFailure(id ID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.backends[id]; ok {
		e.state = StateUnavailable
	}
}

// ReportSuccess resets a backend's transient failure count and restores it
// to Ready if it was Degraded (the probe recovered; §4.5 only escalates
// Degraded->Unavailable on further failure, so a clean call is allowed to
// step back down).
func (m *Manager) ReportSuccess(id ID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.backends[id]
	if !ok {
		return
	}
	e.transientCount = 0
	if e.state == StateDegraded {
		e.state = StateReady
	}
}

// idleBackends returns the Ready backends that have not had a route
// acquired against them in at least threshold. A backend that has never
// served a route (zero lastUsed) counts as idle.
func (m *Manager) idleBackends(threshold time.Duration) []ID {
	m.mu.Lock()
	defer m.mu.Unlock()

	var idle []ID
	for id, e := range m.backends {
		if e.state != StateReady {
			continue
		}
		if time.Since(e.lastUsed) >= threshold {
			idle = append(idle, id)
		}
	}
	return idle
}

// WarmIdle is the Keep-Alive Service's hook into the Multi-Session
// Manager (§4.12): it re-runs the canonical warm-up inference on every
// Ready backend idle for at least threshold, acquiring all of the
// backend's concurrency slots through the same semaphore a real segment
// uses so keep-alive inference never overlaps a real request on the same
// backend; a backend on which another route already holds a slot is
// skipped. It returns the ids it successfully warmed.
//
// This bypasses the Warm-up Coordinator's EnsureWarm bookkeeping: that
// map marks a (backend, pattern) pair done forever after its first run,
// which is right for paying cold-start cost once at startup but wrong
// for a periodic keep-alive that must actually re-run inference every
// cycle. WarmIdle calls the already-loaded instance's WarmUp directly.
func (m *Manager) WarmIdle(ctx context.Context, threshold time.Duration) []ID {
	var warmed []ID
	for _, id := range m.idleBackends(threshold) {
		guard, err := m.acquireFor(ctx, id)
		if err != nil {
			continue
		}
		// Also take every remaining slot, so no real route can start on
		// this backend while the keep-alive inference runs.
		m.mu.Lock()
		sem := m.backends[id].sem
		m.mu.Unlock()
		extra := 0
		for sem.TryAcquire() {
			extra++
		}
		if inst, ok := m.cache.Get(id); ok && extra == cap(sem)-1 {
			if err := inst.WarmUp(); err == nil {
				warmed = append(warmed, id)
			}
		}
		for ; extra > 0; extra-- {
			sem.Release()
		}
		guard.Release()
	}
	return warmed
}

// States returns every registered backend's current state, for GET
// /status (§6.1). Iteration order is not guaranteed; callers that need a
// stable order should sort by ID.
func (m *Manager) States() map[ID]State {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[ID]State, len(m.backends))
	for id, e := range m.backends {
		out[id] = e.state
	}
	return out
}

// Recover moves id from Unavailable back to Uninitialized so the next
// AcquireRoute/Initialize cycle can bring it back to Ready. This is the
// only path out of Unavailable (§4.5; Open Question decision 1): it is
// operator-triggered only, never automatic.
func (m *Manager) Recover(id ID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.backends[id]; ok && e.state == StateUnavailable {
		e.state = StateUninitialized
		e.transientCount = 0
	}
}
