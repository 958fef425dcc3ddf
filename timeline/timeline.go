// Package timeline implements the RequestTimeline (§3): an append-only
// sequence of stage events recorded per request, used to compute TTFA, RTF,
// and underrun metrics once a request completes.
package timeline

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Stage is one point in a request's lifecycle.
type Stage string

const (
	StageRequestReceived Stage = "REQUEST_RECEIVED"
	StageProcessingStart Stage = "PROCESSING_START"
	StageG2PComplete     Stage = "G2P_COMPLETE"
	StageInferenceStart  Stage = "INFERENCE_START"
	StageInferenceDone   Stage = "INFERENCE_COMPLETE"
	StageChunkEmitted    Stage = "CHUNK_EMITTED"
	StageRequestComplete Stage = "REQUEST_COMPLETE"
)

// Event is a single recorded stage transition. SegmentIndex is -1 for
// request-level stages (REQUEST_RECEIVED, PROCESSING_START,
// REQUEST_COMPLETE) and the segment's index for per-segment stages.
type Event struct {
	Stage        Stage
	At           time.Time
	SegmentIndex int
}

// NoSegment marks an Event that isn't scoped to a particular segment.
const NoSegment = -1

// Timeline records the ordered stage events for one request. It is
// append-only: events are never removed except by Clear, which is called
// once metrics have been aggregated from it.
type Timeline struct {
	mu        sync.Mutex
	requestID string
	events    []Event
	now       func() time.Time // injectable for testing
}

// New creates a Timeline with a freshly generated request_id and opens it
// with a REQUEST_RECEIVED event.
func New() *Timeline {
	t := &Timeline{
		requestID: uuid.NewString(),
		now:       time.Now,
	}
	t.Record(StageRequestReceived, NoSegment)
	return t
}

// newWithClock is used by tests to control timestamps deterministically.
func newWithClock(now func() time.Time) *Timeline {
	t := &Timeline{
		requestID: uuid.NewString(),
		now:       now,
	}
	t.Record(StageRequestReceived, NoSegment)
	return t
}

// RequestID returns the request_id this timeline was opened under.
func (t *Timeline) RequestID() string {
	return t.requestID
}

// Record appends a stage event with the current timestamp.
func (t *Timeline) Record(stage Stage, segmentIndex int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = append(t.events, Event{
		Stage:        stage,
		At:           t.now(),
		SegmentIndex: segmentIndex,
	})
}

// Events returns a copy of the recorded events in insertion order.
func (t *Timeline) Events() []Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Event, len(t.events))
	copy(out, t.events)
	return out
}

// Clear discards all recorded events. Called after metrics aggregation so
// the timeline's memory doesn't accumulate across a long-lived process.
func (t *Timeline) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = nil
}

// firstAt returns the timestamp of the first event matching stage, and
// whether one was found.
func (t *Timeline) firstAt(stage Stage) (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, e := range t.events {
		if e.Stage == stage {
			return e.At, true
		}
	}
	return time.Time{}, false
}

// TTFA returns time-to-first-audio: the duration between REQUEST_RECEIVED
// and the first CHUNK_EMITTED event. Returns 0 if either is missing.
func (t *Timeline) TTFA() time.Duration {
	received, ok := t.firstAt(StageRequestReceived)
	if !ok {
		return 0
	}
	firstChunk, ok := t.firstAt(StageChunkEmitted)
	if !ok {
		return 0
	}
	return firstChunk.Sub(received)
}

// Underruns counts inter-chunk gaps strictly greater than
// 1.5*chunkDuration, considering only gaps between consecutive
// CHUNK_EMITTED events (a pending-chunk count of zero at the final chunk
// does not count as an underrun).
func (t *Timeline) Underruns(chunkDuration time.Duration) int {
	t.mu.Lock()
	var chunkTimes []time.Time
	for _, e := range t.events {
		if e.Stage == StageChunkEmitted {
			chunkTimes = append(chunkTimes, e.At)
		}
	}
	t.mu.Unlock()

	threshold := time.Duration(float64(chunkDuration) * 1.5)
	underruns := 0
	for i := 1; i < len(chunkTimes); i++ {
		if chunkTimes[i].Sub(chunkTimes[i-1]) > threshold {
			underruns++
		}
	}
	return underruns
}
