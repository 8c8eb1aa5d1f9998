// Package observe provides observability primitives for socobo:
// OpenTelemetry metrics with a Prometheus exporter bridge.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. Tests should use [NewMetrics]
// with a custom [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all socobo metrics.
const meterName = "github.com/vibb/socobo"

// Metrics holds all OpenTelemetry metric instruments for the bot.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// Commands counts handled chat commands. Use with attributes:
	//   attribute.String("command", ...), attribute.String("status", ...)
	Commands metric.Int64Counter

	// Unauthorized counts commands rejected by the allowlist.
	Unauthorized metric.Int64Counter

	// BackendDuration tracks Sonos backend call latency. Use with attributes:
	//   attribute.String("path", ...), attribute.String("status", ...)
	BackendDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// LAN-adjacent HTTP control calls.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	met := &Metrics{}
	var err error

	if met.Commands, err = m.Int64Counter("socobo.commands",
		metric.WithDescription("Chat commands handled, by command and status."),
	); err != nil {
		return nil, err
	}
	if met.Unauthorized, err = m.Int64Counter("socobo.unauthorized",
		metric.WithDescription("Commands rejected by the allowlist."),
	); err != nil {
		return nil, err
	}
	if met.BackendDuration, err = m.Float64Histogram("socobo.backend.duration",
		metric.WithDescription("Latency of Sonos backend HTTP calls."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	return met, nil
}

// RecordCommand counts one handled command with its outcome status.
func (m *Metrics) RecordCommand(ctx context.Context, command, status string) {
	if m == nil {
		return
	}
	m.Commands.Add(ctx, 1, metric.WithAttributes(
		attribute.String("command", command),
		attribute.String("status", status),
	))
}

// RecordUnauthorized counts one allowlist rejection.
func (m *Metrics) RecordUnauthorized(ctx context.Context) {
	if m == nil {
		return
	}
	m.Unauthorized.Add(ctx, 1)
}

// RecordBackendCall records the latency of one backend call.
func (m *Metrics) RecordBackendCall(ctx context.Context, path, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.BackendDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(
		attribute.String("path", path),
		attribute.String("status", status),
	))
}
