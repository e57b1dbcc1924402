// Package observe provides application-wide observability primitives for
// livevoice: OpenTelemetry metrics, distributed tracing, structured logging,
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

// meterName is the instrumentation scope name used for all livevoice metrics.
const meterName = "github.com/knearme/livevoice"

// Outcomes recorded on [Metrics.UplinkChunks].
const (
	OutcomeSent  = "sent"
	OutcomeGated = "gated"
	OutcomeError = "error"
)

// Transcode directions recorded on [Metrics.TranscodeDuration].
const (
	DirectionUplink   = "uplink"
	DirectionDownlink = "downlink"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Pipeline ---

	// UplinkChunks counts outbound 100 ms chunks. Use with attribute:
	//   attribute.String("outcome", "sent"|"gated"|"error")
	UplinkChunks metric.Int64Counter

	// DownlinkFrames counts inbound model frames. Use with attribute:
	//   attribute.String("status", "ok"|"error")
	DownlinkFrames metric.Int64Counter

	// CodecDecodeErrors counts transport frames rejected by the codec.
	CodecDecodeErrors metric.Int64Counter

	// TranscodeDuration tracks time spent converting one chunk or frame. Use
	// with attribute:
	//   attribute.String("direction", "uplink"|"downlink")
	TranscodeDuration metric.Float64Histogram

	// --- Provider ---

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Sessions ---

	// ActiveSessions tracks the number of live model sessions.
	ActiveSessions metric.Int64UpDownCounter

	// Reconnects counts reconnection attempts. Use with attribute:
	//   attribute.String("status", "ok"|"error")
	Reconnects metric.Int64Counter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// transcodeBuckets defines histogram bucket boundaries (in seconds) for
// per-chunk conversion work, which is far below a chunk's 100 ms duration.
var transcodeBuckets = []float64{
	0.00001, 0.000025, 0.00005, 0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Pipeline.
	if met.UplinkChunks, err = m.Int64Counter("livevoice.uplink.chunks",
		metric.WithDescription("Outbound audio chunks by outcome."),
	); err != nil {
		return nil, err
	}
	if met.DownlinkFrames, err = m.Int64Counter("livevoice.downlink.frames",
		metric.WithDescription("Inbound model audio frames by status."),
	); err != nil {
		return nil, err
	}
	if met.CodecDecodeErrors, err = m.Int64Counter("livevoice.codec.decode_errors",
		metric.WithDescription("Transport frames that failed to decode."),
	); err != nil {
		return nil, err
	}
	if met.TranscodeDuration, err = m.Float64Histogram("livevoice.transcode.duration",
		metric.WithDescription("Time spent converting one chunk or frame."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(transcodeBuckets...),
	); err != nil {
		return nil, err
	}

	// Provider.
	if met.ProviderRequests, err = m.Int64Counter("livevoice.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("livevoice.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Sessions.
	if met.ActiveSessions, err = m.Int64UpDownCounter("livevoice.active_sessions",
		metric.WithDescription("Number of live model sessions."),
	); err != nil {
		return nil, err
	}
	if met.Reconnects, err = m.Int64Counter("livevoice.reconnects",
		metric.WithDescription("Session reconnection attempts by status."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("livevoice.http.request.duration",
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

// RecordUplinkChunk records one outbound chunk with its outcome.
func (m *Metrics) RecordUplinkChunk(ctx context.Context, outcome string) {
	m.UplinkChunks.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordDownlinkFrame records one inbound frame with its status.
func (m *Metrics) RecordDownlinkFrame(ctx context.Context, status string) {
	m.DownlinkFrames.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordDecodeError records one rejected transport frame.
func (m *Metrics) RecordDecodeError(ctx context.Context) {
	m.CodecDecodeErrors.Add(ctx, 1)
}

// RecordTranscode records the conversion time of one chunk or frame.
func (m *Metrics) RecordTranscode(ctx context.Context, direction string, seconds float64) {
	m.TranscodeDuration.Record(ctx, seconds, metric.WithAttributes(attribute.String("direction", direction)))
}

// RecordProviderRequest is a convenience method that records a provider
// request counter increment with the standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError is a convenience method that records a provider error
// counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordReconnect records one reconnection attempt.
func (m *Metrics) RecordReconnect(ctx context.Context, status string) {
	m.Reconnects.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}
