package keepalive

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kestrelvox/kestrel/audio"
	"github.com/kestrelvox/kestrel/backend"
	"github.com/kestrelvox/kestrel/capability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeInstance struct{ warmCalls atomic.Int64 }

func (f *fakeInstance) Run(phonemes []string, voiceID string, speed float64) (*audio.Buffer, error) {
	return &audio.Buffer{Samples: make([]float32, 200)}, nil
}
func (f *fakeInstance) WarmUp() error {
	f.warmCalls.Add(1)
	return nil
}
func (f *fakeInstance) MaxInputLen() int { return 512 }
func (f *fakeInstance) Close() error     { return nil }

type fakeRuntime struct {
	mu   sync.Mutex
	inst map[backend.ID]*fakeInstance
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{inst: make(map[backend.ID]*fakeInstance)}
}

func (r *fakeRuntime) Load(id backend.ID, modelPath string) (backend.ModelInstance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inst := &fakeInstance{}
	r.inst[id] = inst
	return inst, nil
}

func newTestManager(t *testing.T) (*backend.Manager, *fakeRuntime) {
	t.Helper()
	rt := newFakeRuntime()
	cache := backend.NewModelCache(rt)
	coord := backend.NewCoordinator()
	m := backend.NewManager(backend.DefaultManagerConfig(), cache, coord, capability.Capabilities{CPUCores: 4})
	m.RegisterModelPath(backend.CPU, "/models/cpu.onnx")
	return m, rt
}

func TestService_DisabledNeverTicks(t *testing.T) {
	m, _ := newTestManager(t)
	svc := New(Config{Enabled: false}, m)

	require.NoError(t, svc.Start(context.Background()))
	health := svc.Health()
	assert.Equal(t, "healthy", string(health.Status))
	require.NoError(t, svc.Stop(context.Background()))
}

func TestService_WarmsIdleBackendOnTick(t *testing.T) {
	m, rt := newTestManager(t)
	_, err := m.Initialize(backend.CPU)
	require.NoError(t, err)

	// Initialize already ran the canonical warm-ups; only a tick adds more.
	rt.mu.Lock()
	initWarmCalls := rt.inst[backend.CPU].warmCalls.Load()
	rt.mu.Unlock()

	svc := New(Config{Enabled: true, Interval: 10 * time.Millisecond, IdleThreshold: 0}, m)
	require.NoError(t, svc.Start(context.Background()))

	require.Eventually(t, func() bool {
		rt.mu.Lock()
		defer rt.mu.Unlock()
		return rt.inst[backend.CPU].warmCalls.Load() > initWarmCalls
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, svc.Stop(context.Background()))
}

func TestService_StopIsIdempotentWhenNeverStarted(t *testing.T) {
	m, _ := newTestManager(t)
	svc := New(DefaultConfig(), m)
	require.NoError(t, svc.Stop(context.Background()))
}

func TestService_HealthReportsUnhealthyBeforeStart(t *testing.T) {
	m, _ := newTestManager(t)
	svc := New(DefaultConfig(), m)
	health := svc.Health()
	assert.Equal(t, "unhealthy", string(health.Status))
}

func TestService_StopWaitsForRunningTaskGoroutine(t *testing.T) {
	m, _ := newTestManager(t)
	_, err := m.Initialize(backend.CPU)
	require.NoError(t, err)

	svc := New(Config{Enabled: true, Interval: time.Hour, IdleThreshold: 0}, m)
	require.NoError(t, svc.Start(context.Background()))
	require.NoError(t, svc.Stop(context.Background()))

	health := svc.Health()
	assert.Equal(t, "unhealthy", string(health.Status))
}

func TestDefaultConfig_FillsIntervalAndThreshold(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, DefaultInterval, cfg.Interval)
	assert.Equal(t, DefaultIdleThreshold, cfg.IdleThreshold)
	assert.True(t, cfg.Enabled)
}

func TestNew_ZeroValueConfigFallsBackToDefaults(t *testing.T) {
	m, _ := newTestManager(t)
	svc := New(Config{Enabled: true}, m)
	assert.Equal(t, DefaultInterval, svc.cfg.Interval)
	assert.Equal(t, DefaultIdleThreshold, svc.cfg.IdleThreshold)
}
