// Package observe provides application-wide observability primitives for
// vocello: OpenTelemetry metrics, tracing, structured logging, and HTTP
// middleware that ties them together.
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

// meterName is the instrumentation scope name used for all vocello metrics.
const meterName = "github.com/vocello/vocello"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// ConnectDuration tracks speech session handshake latency (dial to
	// remote ready).
	ConnectDuration metric.Float64Histogram

	// UtteranceDuration tracks utterance wall time from first text delta to
	// audio end.
	UtteranceDuration metric.Float64Histogram

	// --- Counters ---

	// ChannelReconnects counts reconnect attempts of the host channel.
	// Use with attribute.String("outcome", "ok"|"failed").
	ChannelReconnects metric.Int64Counter

	// QueueRejects counts outbound messages rejected because the offline
	// queue was full.
	QueueRejects metric.Int64Counter

	// FramesScheduled counts audio frames handed to the sink.
	FramesScheduled metric.Int64Counter

	// FramesDropped counts audio frames lost before playback. Use with
	// attribute.String("reason", "overflow"|"decode").
	FramesDropped metric.Int64Counter

	// FallbackSyntheses counts one-shot synthesis attempts after a dead
	// streaming session. Use with attribute.String("status", "ok"|"error").
	FallbackSyntheses metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live streaming speech sessions
	// (0 or 1 under the exclusivity policy; more only during preemption
	// handover).
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with
	// attribute.String("method", ...), attribute.String("path", ...).
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// interactive speech latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.ConnectDuration, err = m.Float64Histogram("vocello.speech.connect.duration",
		metric.WithDescription("Latency of the streaming session handshake."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.UtteranceDuration, err = m.Float64Histogram("vocello.utterance.duration",
		metric.WithDescription("Wall time of an utterance from first delta to audio end."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.ChannelReconnects, err = m.Int64Counter("vocello.channel.reconnects",
		metric.WithDescription("Host channel reconnect attempts by outcome."),
	); err != nil {
		return nil, err
	}
	if met.QueueRejects, err = m.Int64Counter("vocello.channel.queue.rejects",
		metric.WithDescription("Outbound messages rejected by the full offline queue."),
	); err != nil {
		return nil, err
	}
	if met.FramesScheduled, err = m.Int64Counter("vocello.playback.frames.scheduled",
		metric.WithDescription("Audio frames handed to the sink."),
	); err != nil {
		return nil, err
	}
	if met.FramesDropped, err = m.Int64Counter("vocello.playback.frames.dropped",
		metric.WithDescription("Audio frames lost before playback by reason."),
	); err != nil {
		return nil, err
	}
	if met.FallbackSyntheses, err = m.Int64Counter("vocello.speech.fallback.syntheses",
		metric.WithDescription("One-shot synthesis attempts by status."),
	); err != nil {
		return nil, err
	}

	if met.ActiveSessions, err = m.Int64UpDownCounter("vocello.active_sessions",
		metric.WithDescription("Number of live streaming speech sessions."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("vocello.http.request.duration",
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

// RecordReconnect records one host channel reconnect attempt.
func (m *Metrics) RecordReconnect(ctx context.Context, outcome string) {
	m.ChannelReconnects.Add(ctx, 1,
		metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordFrameDropped records one lost audio frame.
func (m *Metrics) RecordFrameDropped(ctx context.Context, reason string) {
	m.FramesDropped.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordFallback records one one-shot synthesis attempt.
func (m *Metrics) RecordFallback(ctx context.Context, status string) {
	m.FallbackSyntheses.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)))
}
