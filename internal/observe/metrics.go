// Package observe carries parley's telemetry. [Metrics] holds the OTel
// instruments recorded by the conversation loop, the playback engine, the
// transcript recorder and the status server. [Setup] installs the SDK
// providers and bridges metrics into a Prometheus registry for /metrics.
// Each conversation turn gets one [SpanTurn] span, and [Logger] tags log
// lines with its trace ids.
//
// Components fall back to [DefaultMetrics] when no instance is injected.
// Tests build their own with [NewMetrics] and a manual reader.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Latency histograms ---

	// TurnDuration tracks the time from turn start until the session returns
	// to Idle.
	TurnDuration metric.Float64Histogram

	// ResponseLatency tracks the time between sending the end-of-stream
	// sentinel and the first inbound response.
	ResponseLatency metric.Float64Histogram

	// RenderDuration tracks how long a single playback render took.
	RenderDuration metric.Float64Histogram

	// --- Counters ---

	// FramesSent counts audio frames accepted by the transport.
	FramesSent metric.Int64Counter

	// FramesDropped counts frames that never reached the wire. Use with
	// attribute:
	//   attribute.String("reason", ...)
	FramesDropped metric.Int64Counter

	// FramesInbound counts inbound messages. Use with attribute:
	//   attribute.String("kind", ...)
	FramesInbound metric.Int64Counter

	// PlaybackRenders counts finished renders. Use with attribute:
	//   attribute.String("status", ...)
	PlaybackRenders metric.Int64Counter

	// SessionTransitions counts session state changes. Use with attributes:
	//   attribute.String("from", ...), attribute.String("to", ...)
	SessionTransitions metric.Int64Counter

	// --- Error counters ---

	// Errors counts surfaced errors. Use with attribute:
	//   attribute.String("kind", ...)
	Errors metric.Int64Counter

	// --- Gauges ---

	// ActiveConnections tracks the number of open endpoint connections.
	ActiveConnections metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks status server request time. Use with
	// attributes:
	//   attribute.String("method", ...), attribute.String("route", ...),
	//   attribute.Int("status", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) tuned for
// conversational round trips.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(instrumentationName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.TurnDuration, err = m.Float64Histogram("parley.turn.duration",
		metric.WithDescription("Duration of a conversation turn from start until idle."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ResponseLatency, err = m.Float64Histogram("parley.response.latency",
		metric.WithDescription("Time from end-of-stream to the first response message."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.RenderDuration, err = m.Float64Histogram("parley.playback.render.duration",
		metric.WithDescription("Wall time spent rendering one batch of response audio."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.FramesSent, err = m.Int64Counter("parley.frames.sent",
		metric.WithDescription("Total audio frames handed to the transport."),
	); err != nil {
		return nil, err
	}
	if met.FramesDropped, err = m.Int64Counter("parley.frames.dropped",
		metric.WithDescription("Total audio frames dropped by reason."),
	); err != nil {
		return nil, err
	}
	if met.FramesInbound, err = m.Int64Counter("parley.frames.inbound",
		metric.WithDescription("Total inbound messages by kind."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackRenders, err = m.Int64Counter("parley.playback.renders",
		metric.WithDescription("Total playback renders by status."),
	); err != nil {
		return nil, err
	}
	if met.SessionTransitions, err = m.Int64Counter("parley.session.transitions",
		metric.WithDescription("Total session state transitions."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.Errors, err = m.Int64Counter("parley.errors",
		metric.WithDescription("Total errors surfaced to the user by kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveConnections, err = m.Int64UpDownCounter("parley.connections.active",
		metric.WithDescription("Number of open endpoint connections."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("parley.http.request.duration",
		metric.WithDescription("Status server request latency by method, route and status."),
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

// RecordTransition records a session state change.
func (m *Metrics) RecordTransition(ctx context.Context, from, to string) {
	m.SessionTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("from", from),
			attribute.String("to", to),
		),
	)
}

// RecordDrop records a dropped outbound frame.
func (m *Metrics) RecordDrop(ctx context.Context, reason string) {
	m.FramesDropped.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
}

// RecordInbound records one inbound message of the given kind.
func (m *Metrics) RecordInbound(ctx context.Context, kind string) {
	m.FramesInbound.Add(ctx, 1,
		metric.WithAttributes(attribute.String("kind", kind)),
	)
}

// RecordRender records the outcome and wall time of a playback render.
func (m *Metrics) RecordRender(ctx context.Context, status string, elapsed time.Duration) {
	m.PlaybackRenders.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
	m.RenderDuration.Record(ctx, elapsed.Seconds())
}

// RecordError records an error surfaced to the user.
func (m *Metrics) RecordError(ctx context.Context, kind string) {
	m.Errors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("kind", kind)),
	)
}

// RecordHTTP records one status server request. route is the matched mux
// pattern, never the raw path, so scanners cannot grow the label set.
func (m *Metrics) RecordHTTP(ctx context.Context, method, route string, status int, elapsed time.Duration) {
	m.HTTPRequestDuration.Record(ctx, elapsed.Seconds(),
		metric.WithAttributes(
			attribute.String("method", method),
			attribute.String("route", route),
			attribute.Int("status", status),
		),
	)
}
