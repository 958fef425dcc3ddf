// Package backend implements the Inference Backend Adapter (§4.2), Model
// Cache (§4.3), Warm-up Coordinator (§4.4), and Multi-Session Manager
// (§4.5): the uniform interface over one neural-runtime backend, the
// keyed store of loaded model instances, startup/keep-alive warm-up
// deduplication, and the routing/fallback policy across ANE/GPU/CPU.
package backend

import (
	"fmt"

	"github.com/kestrelvox/kestrel/audio"
	"github.com/kestrelvox/kestrel/core"
)

// ID identifies one of the three backend kinds §4.5 routes across.
type ID string

const (
	ANE ID = "ane"
	GPU ID = "gpu"
	CPU ID = "cpu"
)

// Runtime is the seam between this package and the underlying neural
// runtime: a black box capable of loading a compiled graph and executing
// a forward pass on a selected backend (§1 scopes the runtime itself out
// as an external collaborator). NativeRuntime (build tag "onnx") binds
// github.com/yalue/onnxruntime_go; the default build uses a stub that
// reports itself unavailable so the process still runs CPU/GPU/ANE
// routing logic without a compiled ONNX Runtime shared library present.
type Runtime interface {
	// Load initializes a model instance for the given backend from the
	// model path, returning a handle usable by Run/WarmUp/Close.
	Load(id ID, modelPath string) (ModelInstance, error)
}

// ModelInstance is a loaded model bound to one backend. It is NOT
// thread-safe: callers serialize calls per instance (§4.2).
type ModelInstance interface {
	// Run executes a forward pass. phonemes must not exceed MaxInputLen.
	Run(phonemes []string, voiceID string, speed float64) (*audio.Buffer, error)

	// WarmUp runs a minimal forward pass (1-2 phonemes) to pay cold-start
	// cost ahead of a real request.
	WarmUp() error

	// MaxInputLen is the largest phoneme-token count this instance accepts.
	MaxInputLen() int

	// Close releases runtime resources. Safe to call multiple times.
	Close() error
}

// errf builds a *core.Error for this package's operations.
func errf(op string, code core.ErrorCode, msg string, cause error) *core.Error {
	return core.NewError(op, code, msg, cause)
}

// InputTooLong builds the §4.2 input-length-exceeded error.
func InputTooLong(op string, inputLen, maxLen int) error {
	return errf(op, core.ErrInputTooLong, fmt.Sprintf("input length %d exceeds max_input_len %d", inputLen, maxLen), nil)
}
