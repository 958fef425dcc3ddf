package o11y

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meter holds the package-level OTel meter used by metric recording functions.
var meter metric.Meter

// Pre-registered instruments for the synthesis pipeline's headline metrics
// (§7): G2P fallback rate, backend transient failures, stage
// duration (used for both TTFA and per-stage latency), and underrun count.
var (
	g2pFallbackCounter      metric.Int64Counter
	backendTransientCounter metric.Int64Counter
	stageDuration           metric.Float64Histogram
	underrunCounter         metric.Float64Counter

	meterOnce sync.Once
	meterErr  error
)

func init() {
	meter = otel.Meter("github.com/kestrelvox/kestrel/o11y")
}

// initInstruments lazily creates the pre-defined metric instruments. This is
// deferred so callers can configure the meter provider before first use.
func initInstruments() error {
	meterOnce.Do(func() {
		var err error

		g2pFallbackCounter, err = meter.Int64Counter(
			"kestrel.g2p.fallback_total",
			metric.WithDescription("Number of G2P calls resolved via fallback tiers"),
			metric.WithUnit("{call}"),
		)
		if err != nil {
			meterErr = err
			return
		}

		backendTransientCounter, err = meter.Int64Counter(
			"kestrel.backend.transient_total",
			metric.WithDescription("Number of transient backend failures"),
			metric.WithUnit("{failure}"),
		)
		if err != nil {
			meterErr = err
			return
		}

		stageDuration, err = meter.Float64Histogram(
			"kestrel.stage.duration",
			metric.WithDescription("Duration of a pipeline stage"),
			metric.WithUnit("ms"),
		)
		if err != nil {
			meterErr = err
			return
		}

		underrunCounter, err = meter.Float64Counter(
			"kestrel.stream.underrun_total",
			metric.WithDescription("Number of streaming underrun events"),
			metric.WithUnit("{event}"),
		)
		if err != nil {
			meterErr = err
			return
		}
	})
	return meterErr
}

// InitMeter configures the package-level meter with the given service name.
// This should be called after setting up the OTel meter provider. If not called,
// the default global meter provider is used.
func InitMeter(serviceName string) error {
	meter = otel.Meter(
		"github.com/kestrelvox/kestrel/o11y",
		metric.WithInstrumentationAttributes(
			attribute.String("service.name", serviceName),
		),
	)
	// Reset so instruments are re-created with the new meter.
	meterOnce = sync.Once{}
	meterErr = nil
	return initInstruments()
}

// FallbackCounts records a G2P fallback (primary miss, fallback miss) and a
// backend transient-failure count observed in the same window.
func FallbackCounts(ctx context.Context, g2pFallback, backendTransient int) {
	if err := initInstruments(); err != nil {
		return
	}
	g2pFallbackCounter.Add(ctx, int64(g2pFallback),
		metric.WithAttributes(attribute.String("kestrel.origin", "fallback")),
	)
	backendTransientCounter.Add(ctx, int64(backendTransient),
		metric.WithAttributes(attribute.String("kestrel.failure.kind", "transient")),
	)
}

// StageDuration records the duration of a pipeline stage in milliseconds.
// Used for both time-to-first-audio and steady-state segment latency.
func StageDuration(ctx context.Context, durationMs float64) {
	if err := initInstruments(); err != nil {
		return
	}
	stageDuration.Record(ctx, durationMs)
}

// Underrun records a streaming underrun event (playback buffer starved).
func Underrun(ctx context.Context, count float64) {
	if err := initInstruments(); err != nil {
		return
	}
	underrunCounter.Add(ctx, count)
}

// Counter records an increment to a named counter metric.
func Counter(ctx context.Context, name string, value int64) {
	c, err := meter.Int64Counter(name)
	if err != nil {
		return
	}
	c.Add(ctx, value)
}

// Histogram records a value to a named histogram metric.
func Histogram(ctx context.Context, name string, value float64) {
	h, err := meter.Float64Histogram(name)
	if err != nil {
		return
	}
	h.Record(ctx, value)
}
