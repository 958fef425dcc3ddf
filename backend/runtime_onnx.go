//go:build onnx

package backend

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/kestrelvox/kestrel/audio"
	"github.com/kestrelvox/kestrel/core"
)

var (
	ortInitOnce sync.Once
	ortInitErr  error
)

// NativeAvailable reports that the ONNX Runtime binding is compiled in.
func NativeAvailable() bool { return true }

// nativeRuntime loads compiled TTS graphs via ONNX Runtime. The model
// artifact and its conversion tooling are out of scope (§1): this adapter
// only knows how to run a forward pass given a path to a compiled .onnx
// graph and a sibling vocab.json mapping phoneme tokens to integer ids.
type nativeRuntime struct{}

// NewNativeRuntime initializes the ONNX Runtime environment once per
// process and returns a Runtime backed by it.
func NewNativeRuntime() (Runtime, error) {
	ortInitOnce.Do(func() {
		if path := os.Getenv("ONNXRUNTIME_SHARED_LIBRARY_PATH"); path != "" {
			ort.SetSharedLibraryPath(path)
		}
		ortInitErr = ort.InitializeEnvironment()
	})
	if ortInitErr != nil {
		return nil, fmt.Errorf("backend: initialize onnxruntime: %w", ortInitErr)
	}
	return nativeRuntime{}, nil
}

func (nativeRuntime) Load(id ID, modelPath string) (ModelInstance, error) {
	vocab, err := loadVocab(modelPath)
	if err != nil {
		return nil, errf("backend.Load", core.ErrProviderDown, "loading vocab", err)
	}

	session, err := ort.NewDynamicAdvancedSessionWithONNXDataPath(
		modelPath,
		[]string{"phoneme_ids", "speed"},
		[]string{"audio"},
		nil,
	)
	if err != nil {
		return nil, errf("backend.Load", core.ErrProviderDown, "creating onnx session", err)
	}

	return &nativeModel{
		id:          id,
		session:     session,
		vocab:       vocab,
		maxInputLen: 512,
	}, nil
}

// nativeModel wraps one ONNX Runtime session for one backend. Not
// thread-safe, matching §4.2's per-session serialization contract.
type nativeModel struct {
	id          ID
	session     *ort.DynamicAdvancedSession
	vocab       map[string]int64
	maxInputLen int
}

func (m *nativeModel) MaxInputLen() int { return m.maxInputLen }

func (m *nativeModel) Run(phonemes []string, voiceID string, speed float64) (*audio.Buffer, error) {
	if len(phonemes) > m.maxInputLen {
		return nil, InputTooLong("backend.Run", len(phonemes), m.maxInputLen)
	}

	ids := make([]int64, len(phonemes))
	for i, p := range phonemes {
		ids[i] = m.vocab[p] // unknown tokens map to the zero id (pad/unk)
	}

	inputTensor, err := ort.NewTensor(ort.NewShape(1, int64(len(ids))), ids)
	if err != nil {
		return nil, errf("backend.Run", core.ErrShapeMismatch, "building phoneme tensor", err)
	}
	defer inputTensor.Destroy()

	speedTensor, err := ort.NewTensor(ort.NewShape(1), []float32{float32(speed)})
	if err != nil {
		return nil, errf("backend.Run", core.ErrShapeMismatch, "building speed tensor", err)
	}
	defer speedTensor.Destroy()

	outputs := []ort.Value{nil}
	if err := m.session.Run([]ort.Value{inputTensor, speedTensor}, outputs); err != nil {
		return nil, errf("backend.Run", core.ErrTransientBackend, "onnx inference", err)
	}
	defer outputs[0].Destroy()

	outTensor, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, errf("backend.Run", core.ErrShapeMismatch, "unexpected output tensor type", nil)
	}

	samples := append([]float32(nil), outTensor.GetData()...)
	return &audio.Buffer{Samples: samples}, nil
}

func (m *nativeModel) WarmUp() error {
	_, err := m.Run([]string{"w", "ɜː", "m"}, "", 1.0)
	return err
}

func (m *nativeModel) Close() error {
	if m.session != nil {
		m.session.Destroy()
		m.session = nil
	}
	return nil
}

// loadVocab reads <dir of modelPath>/vocab.json, a flat map of phoneme
// token to integer id.
func loadVocab(modelPath string) (map[string]int64, error) {
	vocabPath := filepath.Join(filepath.Dir(modelPath), "vocab.json")
	data, err := os.ReadFile(vocabPath)
	if err != nil {
		return nil, err
	}
	var vocab map[string]int64
	if err := json.Unmarshal(data, &vocab); err != nil {
		return nil, err
	}
	return vocab, nil
}
