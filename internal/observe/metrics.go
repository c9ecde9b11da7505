// Package observe provides application-wide observability primitives for
// Vocalink: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Vocalink metrics.
const meterName = "github.com/MrWong99/vocalink"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// SendDuration tracks how long one audio frame takes to hand off to the
	// transport.
	SendDuration metric.Float64Histogram

	// HandshakeDuration tracks the hello/hello_ack exchange latency.
	HandshakeDuration metric.Float64Histogram

	// --- Counters ---

	// FramesSent counts audio frames accepted by the transport.
	FramesSent metric.Int64Counter

	// FramesDropped counts frames dropped instead of sent. Use with
	// attribute: attribute.String("reason", ...) ("not_ready", "busy").
	FramesDropped metric.Int64Counter

	// Reconnects counts reconnect attempts. Use with attribute:
	//   attribute.String("outcome", ...) ("success", "failure").
	Reconnects metric.Int64Counter

	// Transcripts counts delivered transcripts. Use with attribute:
	//   attribute.String("finality", ...) ("interim", "final").
	Transcripts metric.Int64Counter

	// RemoteErrors counts error messages received from the backend. Use with
	// attribute: attribute.String("severity", ...) ("recoverable", "fatal").
	RemoteErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live recognition sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for real-time streaming latencies.
var latencyBuckets = []float64{
	0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.SendDuration, err = m.Float64Histogram("vocalink.frame.send.duration",
		metric.WithDescription("Latency of handing one audio frame to the transport."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.HandshakeDuration, err = m.Float64Histogram("vocalink.handshake.duration",
		metric.WithDescription("Latency of the session handshake."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.FramesSent, err = m.Int64Counter("vocalink.frames.sent",
		metric.WithDescription("Total audio frames accepted by the transport."),
	); err != nil {
		return nil, err
	}
	if met.FramesDropped, err = m.Int64Counter("vocalink.frames.dropped",
		metric.WithDescription("Total audio frames dropped instead of sent, by reason."),
	); err != nil {
		return nil, err
	}
	if met.Reconnects, err = m.Int64Counter("vocalink.reconnects",
		metric.WithDescription("Total reconnect attempts by outcome."),
	); err != nil {
		return nil, err
	}
	if met.Transcripts, err = m.Int64Counter("vocalink.transcripts",
		metric.WithDescription("Total transcripts delivered by finality."),
	); err != nil {
		return nil, err
	}
	if met.RemoteErrors, err = m.Int64Counter("vocalink.remote.errors",
		metric.WithDescription("Total backend error messages by severity."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("vocalink.active_sessions",
		metric.WithDescription("Number of live recognition sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("vocalink.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
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

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordFrameSent records one accepted frame and its hand-off latency in
// seconds.
func (m *Metrics) RecordFrameSent(ctx context.Context, seconds float64) {
	m.FramesSent.Add(ctx, 1)
	m.SendDuration.Record(ctx, seconds)
}

// RecordFrameDropped records one dropped frame with the standard reason
// attribute.
func (m *Metrics) RecordFrameDropped(ctx context.Context, reason string) {
	m.FramesDropped.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
}

// RecordReconnect records one reconnect attempt by outcome.
func (m *Metrics) RecordReconnect(ctx context.Context, outcome string) {
	m.Reconnects.Add(ctx, 1,
		metric.WithAttributes(attribute.String("outcome", outcome)),
	)
}

// RecordTranscript records one delivered transcript by finality.
func (m *Metrics) RecordTranscript(ctx context.Context, isFinal bool) {
	finality := "interim"
	if isFinal {
		finality = "final"
	}
	m.Transcripts.Add(ctx, 1,
		metric.WithAttributes(attribute.String("finality", finality)),
	)
}

// RecordRemoteError records one backend error message by severity.
func (m *Metrics) RecordRemoteError(ctx context.Context, fatal bool) {
	severity := "recoverable"
	if fatal {
		severity = "fatal"
	}
	m.RemoteErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("severity", severity)),
	)
}
