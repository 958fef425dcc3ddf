package streaming

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/kestrelvox/kestrel/apitypes"
	"github.com/kestrelvox/kestrel/audio"
	"github.com/kestrelvox/kestrel/backend"
	"github.com/kestrelvox/kestrel/capability"
	"github.com/kestrelvox/kestrel/g2p"
	"github.com/kestrelvox/kestrel/segment"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeInstance returns a fixed-length silent-but-valid buffer regardless of
// input, sized so audio.Validate never rejects it.
type fakeInstance struct{ runs int }

func (f *fakeInstance) Run(phonemes []string, voiceID string, speed float64) (*audio.Buffer, error) {
	f.runs++
	samples := make([]float32, 2400) // 100ms at 24kHz
	for i := range samples {
		samples[i] = 0.2
	}
	return &audio.Buffer{Samples: samples}, nil
}
func (f *fakeInstance) WarmUp() error    { return nil }
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

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	cache := backend.NewModelCache(newFakeRuntime())
	coord := backend.NewCoordinator()
	manager := backend.NewManager(backend.DefaultManagerConfig(), cache, coord, capability.Capabilities{CPUCores: 4})
	manager.RegisterModelPath(backend.CPU, "/models/cpu.onnx")

	wordsBackend := g2p.BackendFunc(func(ctx context.Context, text, lang string) ([][]string, error) {
		words := strings.Fields(text)
		out := make([][]string, len(words))
		for i, w := range words {
			out[i] = []string{w}
		}
		return out, nil
	})
	stage := g2p.NewStage(wordsBackend, wordsBackend)

	primerCache, err := NewPrimerCache(8)
	require.NoError(t, err)
	inferenceCache, err := NewInferenceCache(16, 0)
	require.NoError(t, err)

	return NewEngine(DefaultConfig(), segment.NewSegmenter(), stage, manager, primerCache, inferenceCache)
}

func collectChunks(t *testing.T, engine *Engine, req *Request) [][]byte {
	t.Helper()
	var chunks [][]byte
	var mu sync.Mutex
	emit := func(ctx context.Context, data []byte) error {
		mu.Lock()
		defer mu.Unlock()
		cp := append([]byte(nil), data...)
		chunks = append(chunks, cp)
		return nil
	}
	err := engine.Synthesize(context.Background(), req, emit)
	require.NoError(t, err)
	return chunks
}

func TestSynthesize_ShortTextEmitsWAVHeaderThenAudio(t *testing.T) {
	engine := newTestEngine(t)
	req := &Request{Text: "Hello there.", Voice: "af_heart", Speed: 1.0, Language: "en-us", Format: apitypes.FormatWAV}

	chunks := collectChunks(t, engine, req)
	require.NotEmpty(t, chunks)
	assert.Equal(t, "RIFF", string(chunks[0][0:4]))
	assert.True(t, len(chunks) >= 2)
}

func TestSynthesize_PCMFormatSkipsHeader(t *testing.T) {
	engine := newTestEngine(t)
	req := &Request{Text: "Hello there.", Voice: "af_heart", Speed: 1.0, Language: "en-us", Format: apitypes.FormatPCM}

	chunks := collectChunks(t, engine, req)
	require.NotEmpty(t, chunks)
	assert.NotEqual(t, "RIFF", string(chunks[0][0:min(4, len(chunks[0]))]))
}

func TestSynthesize_PrimerCacheHitSkipsG2PAndInference(t *testing.T) {
	engine := newTestEngine(t)
	req := &Request{Text: "Hello there.", Voice: "af_heart", Speed: 1.0, Language: "en-us", Format: apitypes.FormatPCM}

	normalized := segment.Normalize(req.Text)
	segs := engine.segmenter.Split(normalized)
	require.True(t, segs[0].IsPrimer)

	pcm := audio.ToPCM16(&audio.Buffer{Samples: make([]float32, 2400)})
	engine.primerCache.Put(context.Background(), segs[0].SourceText, req.Voice, req.Speed, req.Language, pcm)

	chunks := collectChunks(t, engine, req)
	require.NotEmpty(t, chunks)
	// The primer hit means no route was ever acquired, so CPU was never
	// initialized and no inference ran.
	assert.Equal(t, backend.StateUninitialized, engine.manager.State(backend.CPU))
}

func TestSynthesize_LongTextProducesMultipleSegments(t *testing.T) {
	engine := newTestEngine(t)
	longText := strings.Repeat("This is a reasonably long sentence for testing segmentation behavior. ", 20)
	req := &Request{Text: longText, Voice: "af_heart", Speed: 1.0, Language: "en-us", Format: apitypes.FormatPCM}
	require.Greater(t, len(engine.segmenter.Split(segment.Normalize(longText))), 1)

	chunks := collectChunks(t, engine, req)
	assert.NotEmpty(t, chunks)
}

func TestSynthesize_ClientDisconnectStopsEmission(t *testing.T) {
	engine := newTestEngine(t)
	req := &Request{Text: "Hello there, this has multiple sentences. Second one here. Third one too.", Voice: "af_heart", Speed: 1.0, Language: "en-us", Format: apitypes.FormatPCM}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var emitted int
	emit := func(ctx context.Context, data []byte) error {
		emitted++
		return nil
	}
	err := engine.Synthesize(ctx, req, emit)
	assert.NoError(t, err)
	assert.Equal(t, 0, emitted)
}
