// Package streaming implements the Streaming Engine (§4.10): the
// request-lifecycle orchestrator that turns a validated TTSRequest into an
// ordered sequence of audio chunks, wiring together the Text Segmenter, G2P
// Stage, Multi-Session Manager, Primer Micro-Cache, Inference Cache, Audio
// Corruption Detection, and RequestTimeline.
package streaming

import (
	"context"
	"errors"
	"time"

	"github.com/kestrelvox/kestrel/apitypes"
	"github.com/kestrelvox/kestrel/audio"
	"github.com/kestrelvox/kestrel/backend"
	"github.com/kestrelvox/kestrel/core"
	"github.com/kestrelvox/kestrel/g2p"
	"github.com/kestrelvox/kestrel/o11y"
	"github.com/kestrelvox/kestrel/segment"
	"github.com/kestrelvox/kestrel/timeline"
)

// EmitFunc writes one chunk of framed audio bytes to the HTTP response
// sink. A non-nil error is always treated as a client disconnect (§4.10
// backpressure): the Streaming Engine stops producing further chunks and
// returns without logging it as a synthesis failure.
type EmitFunc func(ctx context.Context, data []byte) error

// Config tunes the Streaming Engine's chunk cadence and primer behavior.
type Config struct {
	ChunkTargetMs int // §4.14 streaming.chunk_target_ms
	PrimerPadMs   int // silence pad emitted after a primer cache hit's header
}

// DefaultConfig returns the §4.14 defaults.
func DefaultConfig() Config {
	return Config{ChunkTargetMs: DefaultChunkTargetMs, PrimerPadMs: 50}
}

// Engine is the Streaming Engine.
type Engine struct {
	cfg            Config
	segmenter      *segment.Segmenter
	g2p            *g2p.Stage
	manager        *backend.Manager
	primerCache    *PrimerCache
	inferenceCache *InferenceCache
}

// NewEngine builds a Streaming Engine. primerCache and inferenceCache may be
// nil to disable their respective tiers (every lookup is then a miss).
func NewEngine(cfg Config, segmenter *segment.Segmenter, g2pStage *g2p.Stage, manager *backend.Manager, primerCache *PrimerCache, inferenceCache *InferenceCache) *Engine {
	if cfg.ChunkTargetMs <= 0 {
		cfg.ChunkTargetMs = DefaultChunkTargetMs
	}
	if cfg.PrimerPadMs <= 0 {
		cfg.PrimerPadMs = 50
	}
	return &Engine{
		cfg:            cfg,
		segmenter:      segmenter,
		g2p:            g2pStage,
		manager:        manager,
		primerCache:    primerCache,
		inferenceCache: inferenceCache,
	}
}

// segmentOutcome is what one segment's worker produces: either primer bytes
// served straight from the Primer Micro-Cache, or a freshly synthesized
// (and already-validated) AudioBuffer.
type segmentOutcome struct {
	seg             segment.Segment
	primerPCM       []byte // set on a primer-cache hit; pcm is already s16le
	buf             *audio.Buffer
	origin          g2p.Origin
	inferenceWallMs time.Duration // wall-clock spent in inst.Run; zero for cache hits
	err             error
}

// Synthesize runs one request's full lifecycle: segmenting the text,
// producing audio per segment (pipelined across segments, ordered on
// emission), and calling emit for each chunk. It returns nil on a clean
// completion OR a cooperative client-initiated cancellation; it returns an
// error only for a terminal, unrecovered segment failure.
func (e *Engine) Synthesize(ctx context.Context, req *Request, emit EmitFunc) error {
	tl := timeline.New()
	requestID := tl.RequestID()
	ctx = core.WithRequestID(ctx, requestID)
	log := o11y.FromContext(ctx).With("request_id", requestID)

	ctx, span := o11y.StartSpan(ctx, "streaming.synthesize", o11y.Attrs{
		o11y.AttrRequestID: requestID,
		o11y.AttrVoice:     req.Voice,
	})
	defer span.End()

	start := time.Now()
	tl.Record(timeline.StageProcessingStart, timeline.NoSegment)

	normalized := segment.Normalize(req.Text)
	segments := e.segmenter.Split(normalized)

	results := make([]chan segmentOutcome, len(segments))
	for i, seg := range segments {
		ch := make(chan segmentOutcome, 1)
		results[i] = ch
		go e.produce(ctx, req, seg, tl, ch)
	}

	headerSent := false
	var totalAudioSamples int

	for i, ch := range results {
		select {
		case <-ctx.Done():
			log.Warn(ctx, "client disconnected before segment delivered", "segment_index", i)
			return nil
		case outcome := <-ch:
			if outcome.err != nil {
				if errors.Is(outcome.err, context.Canceled) || errors.Is(outcome.err, context.DeadlineExceeded) {
					log.Warn(ctx, "client disconnected mid-segment", "segment_index", i)
					return nil
				}
				log.Error(ctx, "segment failed", "segment_index", i, "error", outcome.err)
				return outcome.err
			}

			var pcm []byte
			if outcome.primerPCM != nil {
				pcm = outcome.primerPCM
			} else {
				pcm = audio.ToPCM16(outcome.buf)
				totalAudioSamples += len(outcome.buf.Samples)
			}

			if !headerSent {
				if req.Format == apitypes.FormatWAV {
					// Total length is unknown at stream start; 0 is a
					// well-understood "unknown length" placeholder most
					// streaming WAV consumers tolerate.
					if err := e.emitOrDisconnect(ctx, emit, audio.WAVHeader(0)); err != nil {
						return nil
					}
				}
				if outcome.primerPCM != nil {
					if err := e.emitOrDisconnect(ctx, emit, audio.SilencePad(e.cfg.PrimerPadMs)); err != nil {
						return nil
					}
				}
				headerSent = true
			}

			chunkSize := bytesPerChunk(e.cfg.ChunkTargetMs)
			for _, chunk := range splitIntoChunks(pcm, chunkSize) {
				if err := e.emitOrDisconnect(ctx, emit, chunk); err != nil {
					return nil
				}
				tl.Record(timeline.StageChunkEmitted, outcome.seg.Index)
			}
		}
	}

	tl.Record(timeline.StageRequestComplete, timeline.NoSegment)

	ttfa := tl.TTFA()
	o11y.StageDuration(ctx, float64(ttfa.Milliseconds()))

	chunkDuration := time.Duration(e.cfg.ChunkTargetMs) * time.Millisecond
	underruns := tl.Underruns(chunkDuration)
	if underruns > 0 {
		o11y.Underrun(ctx, float64(underruns))
	}

	if totalAudioSamples > 0 {
		audioDuration := time.Duration(totalAudioSamples) * time.Second / audio.SampleRate
		// Wall-clock span REQUEST_RECEIVED..REQUEST_COMPLETE, so segments
		// whose inference overlapped in time are not counted twice.
		events := tl.Events()
		wallSpan := events[len(events)-1].At.Sub(events[0].At)
		rtf := wallSpan.Seconds() / audioDuration.Seconds()
		o11y.Histogram(ctx, "kestrel.request.rtf", rtf)
	}

	log.Info(ctx, "request complete", "ttfa_ms", ttfa.Milliseconds(), "underruns", underruns, "wall_ms", time.Since(start).Milliseconds())
	tl.Clear()
	return nil
}

// Stream adapts Synthesize's push-based EmitFunc into a pull-based
// core.Stream, for callers that want range-based consumption (e.g.
// core.CollectStream) instead of supplying a callback. Synthesize runs in a
// background goroutine that stops as soon as the consumer stops ranging or
// ctx is done.
func (e *Engine) Stream(ctx context.Context, req *Request) core.Stream[[]byte] {
	return func(yield func(core.Event[[]byte], error) bool) {
		ch := make(chan core.Event[[]byte])
		errCh := make(chan error, 1)

		runCtx, cancel := context.WithCancel(ctx)
		defer cancel()

		go func() {
			defer close(ch)
			emit := func(_ context.Context, data []byte) error {
				select {
				case ch <- core.Event[[]byte]{Type: core.EventData, Payload: data}:
					return nil
				case <-runCtx.Done():
					return core.NewError("streaming.Stream", core.ErrClientDisconnected, "consumer stopped", runCtx.Err())
				}
			}
			errCh <- e.Synthesize(runCtx, req, emit)
		}()

		for ev := range ch {
			if !yield(ev, nil) {
				return
			}
		}
		if err := <-errCh; err != nil {
			yield(core.Event[[]byte]{}, err)
			return
		}
		yield(core.Event[[]byte]{Type: core.EventDone}, nil)
	}
}

// emitOrDisconnect calls emit and normalizes any error to a disconnect
// signal: the caller should stop producing further chunks without treating
// it as a synthesis failure.
func (e *Engine) emitOrDisconnect(ctx context.Context, emit EmitFunc, data []byte) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err := emit(ctx, data); err != nil {
		return err
	}
	return nil
}

// produce runs one segment's pipeline stage (primer-cache check, G2P,
// route acquisition, inference, validation, caching) and sends its outcome
// on ch. It is safe to run concurrently across segments: the Multi-Session
// Manager's semaphores and the caches' own locking provide the only
// required synchronization, so segment N+1's G2P/inference can overlap
// segment N's (§4.10 step 4) while this function's caller still emits in
// strict index order by reading the channels in order.
func (e *Engine) produce(ctx context.Context, req *Request, seg segment.Segment, tl *timeline.Timeline, ch chan<- segmentOutcome) {
	if seg.IsPrimer && e.primerCache != nil {
		if pcm, ok := e.primerCache.Get(ctx, seg.SourceText, req.Voice, req.Speed, req.Language); ok {
			ch <- segmentOutcome{seg: seg, primerPCM: pcm}
			return
		}
	}

	phonemes := e.g2p.Phonemize(ctx, seg.SourceText, req.Language)
	tl.Record(timeline.StageG2PComplete, seg.Index)

	if e.inferenceCache != nil {
		if buf, ok := e.inferenceCache.Get(ctx, seg.SourceText, req.Voice, req.Speed, req.Language, phonemes.Origin, req.Format); ok {
			ch <- segmentOutcome{seg: seg, buf: buf, origin: phonemes.Origin}
			return
		}
	}

	guard, err := e.manager.AcquireRoute(ctx, len(phonemes.Tokens))
	if err != nil {
		ch <- segmentOutcome{seg: seg, err: err}
		return
	}
	defer guard.Release()

	inst, err := e.manager.Initialize(guard.Backend())
	if err != nil {
		ch <- segmentOutcome{seg: seg, err: err}
		return
	}

	tl.Record(timeline.StageInferenceStart, seg.Index)
	inferStart := time.Now()
	buf, err := e.runWithOneRetry(inst, guard.Backend(), phonemes.Tokens, req.Voice, req.Speed)
	inferenceWall := time.Since(inferStart)
	tl.Record(timeline.StageInferenceDone, seg.Index)
	if err != nil {
		ch <- segmentOutcome{seg: seg, err: err}
		return
	}

	validation := audio.Validate(buf)
	if validation.Rejected {
		ch <- segmentOutcome{seg: seg, err: core.NewError("streaming.produce", core.ErrAudioCorruption, validation.RejectReason, nil)}
		return
	}

	if e.inferenceCache != nil {
		e.inferenceCache.Put(ctx, seg.SourceText, req.Voice, req.Speed, req.Language, phonemes.Origin, req.Format, buf)
	}
	if seg.IsPrimer && e.primerCache != nil {
		e.primerCache.Put(ctx, seg.SourceText, req.Voice, req.Speed, req.Language, audio.ToPCM16(buf))
	}

	ch <- segmentOutcome{seg: seg, buf: buf, origin: phonemes.Origin, inferenceWallMs: inferenceWall}
}

// runWithOneRetry runs inst.Run once, and on a transient failure retries
// exactly once on the same backend before reporting it to the Multi-Session
// Manager (§4.5 step 4). A permanent failure is reported immediately with
// no retry.
func (e *Engine) runWithOneRetry(inst backend.ModelInstance, id backend.ID, phonemes []string, voice string, speed float64) (*audio.Buffer, error) {
	buf, err := inst.Run(phonemes, voice, speed)
	if err == nil {
		e.manager.ReportSuccess(id)
		return buf, nil
	}

	var coreErr *core.Error
	if errors.As(err, &coreErr) && coreErr.Code == core.ErrPermanentBackend {
		e.manager.ReportPermanentFailure(id)
		return nil, err
	}

	buf, retryErr := inst.Run(phonemes, voice, speed)
	if retryErr == nil {
		e.manager.ReportSuccess(id)
		return buf, nil
	}
	e.manager.ReportTransientFailure(id)
	return nil, retryErr
}
