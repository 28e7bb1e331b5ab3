// Package observe provides application-wide observability primitives for
// dictate: OpenTelemetry metrics and the Prometheus exporter bridge.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all dictate metrics.
const meterName = "github.com/rmtew/dictate"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// PassDuration tracks the client-side latency of one transcription round
	// trip. Use with attributes:
	//   attribute.String("status", "ok"|"error"), attribute.Bool("final", ...)
	PassDuration metric.Float64Histogram

	// ServerStageDuration tracks server-reported processing time per stage.
	// Use with attribute: attribute.String("stage", "total"|"encode"|"decode")
	ServerStageDuration metric.Float64Histogram

	// PassRequests counts transcription round trips. Use with attributes:
	//   attribute.String("status", "ok"|"error"), attribute.Bool("final", ...)
	PassRequests metric.Int64Counter

	// CommittedLines counts finalized transcript lines.
	CommittedLines metric.Int64Counter

	// CommittedChars counts finalized transcript characters.
	CommittedChars metric.Int64Counter

	// ActiveSessions tracks the number of live recording sessions.
	ActiveSessions metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for batch re-transcription latencies, which range from tens of milliseconds
// on a warm server to tens of seconds for long windows on CPU inference.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.PassDuration, err = m.Float64Histogram("dictate.pass.duration",
		metric.WithDescription("Client-side latency of one transcription round trip."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ServerStageDuration, err = m.Float64Histogram("dictate.pass.server.duration",
		metric.WithDescription("Server-reported transcription time by stage."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.PassRequests, err = m.Int64Counter("dictate.pass.requests",
		metric.WithDescription("Total transcription round trips by status and finality."),
	); err != nil {
		return nil, err
	}
	if met.CommittedLines, err = m.Int64Counter("dictate.transcript.committed_lines",
		metric.WithDescription("Total finalized transcript lines."),
	); err != nil {
		return nil, err
	}
	if met.CommittedChars, err = m.Int64Counter("dictate.transcript.committed_chars",
		metric.WithDescription("Total finalized transcript characters."),
	); err != nil {
		return nil, err
	}

	if met.ActiveSessions, err = m.Int64UpDownCounter("dictate.active_sessions",
		metric.WithDescription("Number of live recording sessions."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// RecordPass records one transcription round trip: its client-side duration
// and a request counter increment with the standard attribute set.
func (m *Metrics) RecordPass(ctx context.Context, d time.Duration, final bool, failed bool) {
	status := "ok"
	if failed {
		status = "error"
	}
	attrs := metric.WithAttributes(
		attribute.String("status", status),
		attribute.Bool("final", final),
	)
	m.PassDuration.Record(ctx, d.Seconds(), attrs)
	m.PassRequests.Add(ctx, 1, attrs)
}

// RecordServerStage records a server-reported stage timing in milliseconds.
// Zero and negative values are skipped so absent fields do not pollute the
// histogram.
func (m *Metrics) RecordServerStage(ctx context.Context, stage string, ms float64) {
	if ms <= 0 {
		return
	}
	m.ServerStageDuration.Record(ctx, ms/1000,
		metric.WithAttributes(attribute.String("stage", stage)),
	)
}

// RecordCommit records one finalized line of the given character length.
func (m *Metrics) RecordCommit(ctx context.Context, chars int) {
	m.CommittedLines.Add(ctx, 1)
	m.CommittedChars.Add(ctx, int64(chars))
}
