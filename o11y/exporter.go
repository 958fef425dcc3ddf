package o11y

import (
	"context"
	"time"
)

// TraceExporter is implemented by backends that capture detailed synthesis
// call data for analysis, debugging, or latency auditing.
type TraceExporter interface {
	// ExportSynthesisCall sends a completed segment synthesis record to the
	// backend.
	ExportSynthesisCall(ctx context.Context, data SynthesisCallData) error
}

// SynthesisCallData captures the full details of a single segment's
// synthesis call for export to observability backends.
type SynthesisCallData struct {
	// BackendID identifies the inference session (ANE/GPU/CPU) that served
	// the segment.
	BackendID string

	// Voice is the requested voice identifier.
	Voice string

	// PhonemeLength is the phoneme-sequence length fed to the backend.
	PhonemeLength int

	// SegmentIndex is the segment's position within its request.
	SegmentIndex int

	// Duration is the wall-clock time of the backend call.
	Duration time.Duration

	// AudioDuration is the duration of the synthesized audio.
	AudioDuration time.Duration

	// CacheHit reports whether the segment was served from the inference
	// cache rather than run through a backend.
	CacheHit bool

	// Error is non-empty when the synthesis call failed.
	Error string

	// Metadata carries additional key-value data such as request IDs or
	// G2P origin counts.
	Metadata map[string]any
}

// MultiExporter fans out synthesis call data to multiple TraceExporters. If
// any exporter returns an error, the first error encountered is returned but
// all exporters are still called.
type MultiExporter struct {
	exporters []TraceExporter
}

// NewMultiExporter creates a MultiExporter that writes to all given exporters.
func NewMultiExporter(exporters ...TraceExporter) *MultiExporter {
	return &MultiExporter{exporters: exporters}
}

// ExportSynthesisCall sends data to every registered exporter. All exporters
// are called even if one returns an error; the first error is returned.
func (m *MultiExporter) ExportSynthesisCall(ctx context.Context, data SynthesisCallData) error {
	var firstErr error
	for _, exp := range m.exporters {
		if err := exp.ExportSynthesisCall(ctx, data); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
