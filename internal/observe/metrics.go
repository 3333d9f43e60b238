// Package observe provides application-wide observability primitives for
// parley: OpenTelemetry metrics, distributed tracing, structured logging,
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

// meterName is the instrumentation scope name used for all parley metrics.
const meterName = "github.com/MrWong99/parley"

// Outcome and status attribute values shared by the recording helpers.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// CompletionDuration tracks summary completion latency.
	CompletionDuration metric.Float64Histogram

	// RPCDuration tracks inbound RPC handling time. Use with attribute:
	//   attribute.String("method", ...)
	RPCDuration metric.Float64Histogram

	// --- Counters ---

	// RPCCalls counts inbound RPC calls. Use with attributes:
	//   attribute.String("method", ...), attribute.String("outcome", ...)
	RPCCalls metric.Int64Counter

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// BusPublishes counts bus deliveries. Use with attribute:
	//   attribute.String("status", ...)
	BusPublishes metric.Int64Counter

	// Notifications counts toasts sent to the participant. Use with attribute:
	//   attribute.String("variant", ...)
	Notifications metric.Int64Counter

	// Recordings counts recording operations. Use with attributes:
	//   attribute.String("op", ...), attribute.String("status", ...)
	Recordings metric.Int64Counter

	// TranscriptPublishes counts transcription segments sent to the room.
	// Use with attributes:
	//   attribute.String("kind", ...), attribute.String("status", ...)
	TranscriptPublishes metric.Int64Counter

	// ModelEvents counts realtime model events. Use with attribute:
	//   attribute.String("type", ...)
	ModelEvents metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live agent sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds). Summary
// completions routinely take several seconds, hence the long tail.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.CompletionDuration, err = m.Float64Histogram("parley.completion.duration",
		metric.WithDescription("Latency of summary completion requests."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.RPCDuration, err = m.Float64Histogram("parley.rpc.duration",
		metric.WithDescription("Inbound RPC handling time by method."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.RPCCalls, err = m.Int64Counter("parley.rpc.calls",
		metric.WithDescription("Total inbound RPC calls by method and outcome."),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("parley.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.BusPublishes, err = m.Int64Counter("parley.bus.publishes",
		metric.WithDescription("Total bus deliveries by status."),
	); err != nil {
		return nil, err
	}
	if met.Notifications, err = m.Int64Counter("parley.notifications",
		metric.WithDescription("Total toasts sent by variant."),
	); err != nil {
		return nil, err
	}
	if met.Recordings, err = m.Int64Counter("parley.recordings",
		metric.WithDescription("Total recording operations by op and status."),
	); err != nil {
		return nil, err
	}
	if met.TranscriptPublishes, err = m.Int64Counter("parley.transcript.publishes",
		metric.WithDescription("Total transcription segments published by kind and status."),
	); err != nil {
		return nil, err
	}
	if met.ModelEvents, err = m.Int64Counter("parley.model.events",
		metric.WithDescription("Total realtime model events by type."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ProviderErrors, err = m.Int64Counter("parley.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("parley.active_sessions",
		metric.WithDescription("Number of live agent sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("parley.http.request.duration",
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

// Status maps an error to [StatusOK] or [StatusError].
func Status(err error) string {
	if err != nil {
		return StatusError
	}
	return StatusOK
}

// RecordRPC records an inbound RPC call and its handling time.
func (m *Metrics) RecordRPC(ctx context.Context, method, outcome string, seconds float64) {
	m.RPCCalls.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("method", method),
			attribute.String("outcome", outcome),
		),
	)
	m.RPCDuration.Record(ctx, seconds, metric.WithAttributes(attribute.String("method", method)))
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

// RecordCompletion records one summary completion and its latency.
func (m *Metrics) RecordCompletion(ctx context.Context, status string, seconds float64) {
	m.CompletionDuration.Record(ctx, seconds, metric.WithAttributes(attribute.String("status", status)))
}

// RecordBusPublish records the outcome of one bus delivery.
func (m *Metrics) RecordBusPublish(ctx context.Context, status string) {
	m.BusPublishes.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordNotification records a toast sent with the given variant.
func (m *Metrics) RecordNotification(ctx context.Context, variant string) {
	m.Notifications.Add(ctx, 1, metric.WithAttributes(attribute.String("variant", variant)))
}

// RecordRecording records a recording start or stop.
func (m *Metrics) RecordRecording(ctx context.Context, op, status string) {
	m.Recordings.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("op", op),
			attribute.String("status", status),
		),
	)
}

// RecordTranscriptPublish records one transcription segment publish.
func (m *Metrics) RecordTranscriptPublish(ctx context.Context, kind, status string) {
	m.TranscriptPublishes.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordModelEvent records a realtime model event.
func (m *Metrics) RecordModelEvent(ctx context.Context, eventType string) {
	m.ModelEvents.Add(ctx, 1, metric.WithAttributes(attribute.String("type", eventType)))
}
