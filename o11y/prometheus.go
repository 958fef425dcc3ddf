package o11y

import (
	"go.opentelemetry.io/otel"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// InitPrometheusExporter wires a Prometheus-backed metric reader into the
// global OTel meter provider and re-creates this package's meter against
// it, so every counter/histogram recorded through FallbackCounts,
// StageDuration, Underrun, Counter, and Histogram becomes scrapeable
// without a collector sidecar (§4.13, §10). The returned MeterProvider
// must be shut down on process exit to flush any buffered state.
//
// The Prometheus exporter registers its collector with the default
// Prometheus registry, so the HTTP layer serves it with a plain
// promhttp.Handler() at /metrics.
func InitPrometheusExporter(serviceName string) (*sdkmetric.MeterProvider, error) {
	exporter, err := otelprom.New()
	if err != nil {
		return nil, err
	}

	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(mp)

	if err := InitMeter(serviceName); err != nil {
		return nil, err
	}
	return mp, nil
}
