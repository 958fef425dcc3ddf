// Package o11y provides observability primitives for the synthesis serving
// runtime: OpenTelemetry-based tracing and metrics for pipeline stages,
// structured logging via slog, health checks, and synthesis-call trace
// exporting.
//
// # Tracing
//
// [StartSpan] creates spans with typed attributes, and [InitTracer]
// configures the global OTel tracer provider:
//
//	shutdown, err := o11y.InitTracer("kestrel-server",
//	    o11y.WithSpanExporter(exporter),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer shutdown()
//
//	ctx, span := o11y.StartSpan(ctx, "backend.run", o11y.Attrs{
//	    o11y.AttrBackendID: "gpu-0",
//	    o11y.AttrVoice:     "af_heart",
//	})
//	defer span.End()
//
// The [Span] interface wraps OTel spans with a simplified API for setting
// attributes, recording errors, and setting status codes.
//
// # Metrics
//
// Pre-registered instruments track the pipeline's headline metrics (§7 of
// the design spec): G2P fallback rate, backend transient failures, stage
// duration (used for both TTFA and per-segment latency), and stream
// underruns:
//
//	o11y.FallbackCounts(ctx, g2pFallbacks, backendTransientFailures)
//	o11y.StageDuration(ctx, durationMs)
//	o11y.Underrun(ctx, 1)
//
// [InitMeter] configures the package-level meter with a service name.
// Generic [Counter] and [Histogram] functions allow recording custom metrics.
//
// # Logging
//
// [Logger] wraps slog.Logger with context-aware convenience methods and
// functional options for configuration:
//
//	logger := o11y.NewLogger(
//	    o11y.WithLogLevel("debug"),
//	    o11y.WithJSON(),
//	)
//	logger.Info(ctx, "segment synthesized",
//	    "backend", "gpu-0",
//	    "phonemes", 48,
//	)
//
// Loggers propagate through context via [WithLogger] and [FromContext].
//
// # Trace Exporting
//
// The [TraceExporter] interface captures detailed synthesis call data for
// analysis backends. [SynthesisCallData] holds the full details of a single
// segment's backend call including backend ID, voice, phoneme length, and
// timing. [MultiExporter] fans out to multiple backends simultaneously:
//
//	multi := o11y.NewMultiExporter(fileExp, otlpExp)
//	err := multi.ExportSynthesisCall(ctx, data)
//
// # Health Checks
//
// The [HealthChecker] interface provides health probes for components.
// [HealthRegistry] aggregates named checkers and runs them concurrently
// via [HealthRegistry.CheckAll]:
//
//	registry := o11y.NewHealthRegistry()
//	registry.Register("model_cache", cacheChecker)
//	registry.Register("backend_gpu-0", backendChecker)
//	results := registry.CheckAll(ctx)
//
// [HealthCheckerFunc] adapts plain functions to the HealthChecker interface.
//
// # Span Attribute Constants
//
// The package exports span attribute keys used across the synthesis
// pipeline's traced stages: [AttrBackendID], [AttrOperationName],
// [AttrVoice], [AttrSegmentIndex], [AttrPhonemeLength], [AttrCacheHit], and
// [AttrRequestID].
package o11y
