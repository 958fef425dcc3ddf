// Package httpapi implements the HTTP boundary (§6.1): POST /v1/audio/speech,
// GET /health, GET /status, GET /voices, and GET /metrics. It decodes and
// validates requests via apitypes/streaming, drives the Streaming Engine,
// and maps the core error taxonomy onto HTTP status codes per §7.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/kestrelvox/kestrel/apitypes"
	"github.com/kestrelvox/kestrel/backend"
	"github.com/kestrelvox/kestrel/capability"
	"github.com/kestrelvox/kestrel/core"
	"github.com/kestrelvox/kestrel/o11y"
	"github.com/kestrelvox/kestrel/resilience"
	"github.com/kestrelvox/kestrel/streaming"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Options tunes the handler's behavior beyond what it derives from its
// collaborators.
type Options struct {
	MaxTextLen     int
	RequestTimeout time.Duration
	Voices         []string // empty disables voice-set validation (§3)

	// MaxConcurrentRequests caps in-flight /v1/audio/speech requests; 0
	// disables the admission gate. Requests over the cap are rejected
	// immediately with 503 rather than queued, since queuing a synthesis
	// request behind another would blow its own RequestTimeout anyway.
	MaxConcurrentRequests int
}

// DefaultOptions returns the §4.14/§6.1 defaults.
func DefaultOptions() Options {
	return Options{
		MaxTextLen:     streaming.DefaultMaxTextLen,
		RequestTimeout: 60 * time.Second,
	}
}

// Handler wires the Streaming Engine and its collaborators into
// net/http. It is stateless beyond its collaborators' own state, so a
// single Handler may be shared by any number of concurrent requests.
type Handler struct {
	engine   *streaming.Engine
	manager  *backend.Manager
	primer   *streaming.PrimerCache
	infer    *streaming.InferenceCache
	caps     capability.Capabilities
	health   *o11y.HealthRegistry
	opts     Options
	voiceSet map[string]bool
	log      *o11y.Logger
	limiter  *resilience.RateLimiter
}

// New builds a Handler. primer and infer may be nil if those cache tiers
// are disabled; health may be nil to skip the aggregated component checks
// on GET /health, which then always reports ready.
func New(engine *streaming.Engine, manager *backend.Manager, primer *streaming.PrimerCache, infer *streaming.InferenceCache, caps capability.Capabilities, health *o11y.HealthRegistry, opts Options) *Handler {
	if opts.MaxTextLen <= 0 {
		opts.MaxTextLen = streaming.DefaultMaxTextLen
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 60 * time.Second
	}

	var voiceSet map[string]bool
	if len(opts.Voices) > 0 {
		voiceSet = make(map[string]bool, len(opts.Voices))
		for _, v := range opts.Voices {
			voiceSet[v] = true
		}
	}

	var limiter *resilience.RateLimiter
	if opts.MaxConcurrentRequests > 0 {
		limiter = resilience.NewRateLimiter(resilience.ProviderLimits{MaxConcurrent: opts.MaxConcurrentRequests})
	}

	return &Handler{
		engine:   engine,
		manager:  manager,
		primer:   primer,
		infer:    infer,
		caps:     caps,
		health:   health,
		opts:     opts,
		voiceSet: voiceSet,
		log:      o11y.NewLogger(),
		limiter:  limiter,
	}
}

// Mux builds the routed http.Handler serving every endpoint in §6.1.
func (h *Handler) Mux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/audio/speech", h.handleSpeech)
	mux.HandleFunc("/health", h.handleHealth)
	mux.HandleFunc("/status", h.handleStatus)
	mux.HandleFunc("/voices", h.handleVoices)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

func (h *Handler) handleSpeech(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, core.ErrInvalidInput, "method not allowed", 0)
		return
	}
	if r.Body == nil {
		writeError(w, http.StatusBadRequest, core.ErrInvalidInput, "request body is required", 0)
		return
	}

	var body apitypes.SpeechRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, core.ErrInvalidInput, "invalid JSON: "+err.Error(), 0)
		return
	}

	req, err := streaming.NewRequest(body, h.voiceSet, h.opts.MaxTextLen)
	if err != nil {
		var verr *streaming.ValidationError
		if errors.As(err, &verr) && verr.TooLong {
			writeError(w, http.StatusRequestEntityTooLarge, core.ErrInvalidInput, verr.Message, 0)
			return
		}
		writeError(w, http.StatusBadRequest, core.ErrInvalidInput, err.Error(), 0)
		return
	}

	if h.limiter != nil {
		admitCtx, admitCancel := context.WithTimeout(r.Context(), 0)
		admitErr := h.limiter.Allow(admitCtx)
		admitCancel()
		if admitErr != nil {
			writeError(w, http.StatusServiceUnavailable, core.ErrCapacityExceeded, "server at capacity", 1)
			return
		}
		defer h.limiter.Release()
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.opts.RequestTimeout)
	defer cancel()

	if req.Streaming {
		h.streamSpeech(ctx, w, req)
		return
	}
	h.bufferSpeech(ctx, w, req)
}

// streamSpeech serves a chunked response, flushing each chunk as the
// Streaming Engine produces it.
func (h *Handler) streamSpeech(ctx context.Context, w http.ResponseWriter, req *streaming.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, core.ErrSynthesisFailed, "streaming not supported by this transport", 0)
		return
	}

	headerWritten := false
	emit := func(_ context.Context, data []byte) error {
		if !headerWritten {
			w.Header().Set("Content-Type", req.Format.ContentType())
			w.Header().Set("Transfer-Encoding", "chunked")
			w.WriteHeader(http.StatusOK)
			headerWritten = true
		}
		if _, err := w.Write(data); err != nil {
			return core.NewError("httpapi.emit", core.ErrClientDisconnected, "write failed", err)
		}
		flusher.Flush()
		return nil
	}

	if err := h.engine.Synthesize(ctx, req, emit); err != nil {
		if !headerWritten {
			writeSynthesisError(w, err)
			return
		}
		// A trailing error mid-stream: the header and some chunks are
		// already on the wire, so the only honest signal left is closing
		// the connection without a further body write (§7 SynthesisFailed,
		// not-first-segment case).
		h.log.Error(ctx, "synthesis failed mid-stream", "error", err)
	}
}

// bufferSpeech accumulates the full synthesized body before writing a
// single response, for stream=false requests. It pulls from the Streaming
// Engine via core.Stream/core.CollectStream rather than supplying an
// EmitFunc directly, since there's nothing to flush incrementally here.
func (h *Handler) bufferSpeech(ctx context.Context, w http.ResponseWriter, req *streaming.Request) {
	events, err := core.CollectStream(h.engine.Stream(ctx, req))
	if err != nil {
		writeSynthesisError(w, err)
		return
	}

	var buf []byte
	for _, ev := range events {
		buf = append(buf, ev.Payload...)
	}

	w.Header().Set("Content-Type", req.Format.ContentType())
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf)
}

// writeSynthesisError maps a Streaming Engine error to the §7 taxonomy's
// HTTP status codes.
func writeSynthesisError(w http.ResponseWriter, err error) {
	var coreErr *core.Error
	if errors.As(err, &coreErr) {
		switch coreErr.Code {
		case core.ErrProviderDown, core.ErrCapacityExceeded:
			writeError(w, http.StatusServiceUnavailable, coreErr.Code, coreErr.Message, 5)
			return
		case core.ErrInvalidInput, core.ErrInputTooLong:
			writeError(w, http.StatusBadRequest, coreErr.Code, coreErr.Message, 0)
			return
		}
	}
	writeError(w, http.StatusInternalServerError, core.ErrSynthesisFailed, "synthesis failed", 0)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	ready := true
	if h.health != nil {
		for _, res := range h.health.CheckAll(r.Context()) {
			if res.Status == o11y.Unhealthy {
				ready = false
				break
			}
		}
	}
	status := "ok"
	if !ready {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, apitypes.HealthStatus{Status: status, Ready: ready})
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := apitypes.StatusResponse{
		Capability: apitypes.CapabilitySnapshot{
			HasANE:        h.caps.HasANE,
			HasGPU:        h.caps.HasGPU,
			CPUCores:      h.caps.CPUCores,
			TotalRAMBytes: h.caps.TotalRAMBytes,
		},
		Counters: map[string]int64{},
	}

	if h.manager != nil {
		for id, state := range h.manager.States() {
			resp.Backends = append(resp.Backends, apitypes.BackendStateSnapshot{
				BackendID: string(id),
				State:     string(state),
			})
		}
	}

	if h.primer != nil {
		entries, capacity := h.primer.Stats()
		resp.Caches = append(resp.Caches, apitypes.CacheSnapshot{Name: "primer", Entries: entries, Capacity: capacity})
	}
	if h.infer != nil {
		entries, capacity := h.infer.Stats()
		resp.Caches = append(resp.Caches, apitypes.CacheSnapshot{Name: "inference", Entries: entries, Capacity: capacity})
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleVoices(w http.ResponseWriter, _ *http.Request) {
	voices := h.opts.Voices
	if voices == nil {
		voices = []string{}
	}
	writeJSON(w, http.StatusOK, apitypes.VoicesResponse{Voices: voices})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("httpapi: encode JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, code core.ErrorCode, msg string, retryAfter int) {
	writeJSON(w, status, apitypes.ErrorResponse{Error: msg, Code: string(code), RetryAfter: retryAfter})
}
