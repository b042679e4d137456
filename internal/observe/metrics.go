// Package observe provides application-wide observability primitives for
// Aura: OpenTelemetry metrics, distributed tracing, structured logging, and
// HTTP middleware that ties them together.
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

// meterName is the instrumentation scope name used for all Aura metrics.
const meterName = "github.com/auradesk/aura"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// SessionConnectDuration tracks the time from Connect to CONNECTED (or
	// failure). Use with attribute.String("outcome", ...).
	SessionConnectDuration metric.Float64Histogram

	// ChatDuration tracks text-chat completion latency.
	ChatDuration metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// FramesSent counts microphone frames delivered to the remote model.
	FramesSent metric.Int64Counter

	// ChunksScheduled counts inbound audio chunks placed on the playback
	// timeline.
	ChunksScheduled metric.Int64Counter

	// Interruptions counts server interruption signals.
	Interruptions metric.Int64Counter

	// TranscriptItems counts appended transcript items. Use with attribute:
	//   attribute.String("role", ...)
	TranscriptItems metric.Int64Counter

	// GatewayCalls counts browser voice calls by how they ended. Use with
	// attribute:
	//   attribute.String("outcome", ...)
	GatewayCalls metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// DecodeErrors counts inbound audio chunks that could not be decoded.
	DecodeErrors metric.Int64Counter

	// CircuitTransitions counts provider circuit breaker state changes.
	CircuitTransitions metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of connected voice sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("route", ...), attribute.Int("status", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for voice-session latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.SessionConnectDuration, err = m.Float64Histogram("aura.session.connect.duration",
		metric.WithDescription("Latency of establishing a voice session."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ChatDuration, err = m.Float64Histogram("aura.chat.duration",
		metric.WithDescription("Latency of text-chat completions."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.ProviderRequests, err = m.Int64Counter("aura.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.FramesSent, err = m.Int64Counter("aura.voice.frames_sent",
		metric.WithDescription("Total microphone frames sent to the remote model."),
	); err != nil {
		return nil, err
	}
	if met.ChunksScheduled, err = m.Int64Counter("aura.voice.chunks_scheduled",
		metric.WithDescription("Total inbound audio chunks scheduled for playback."),
	); err != nil {
		return nil, err
	}
	if met.Interruptions, err = m.Int64Counter("aura.voice.interruptions",
		metric.WithDescription("Total server interruption signals."),
	); err != nil {
		return nil, err
	}
	if met.TranscriptItems, err = m.Int64Counter("aura.voice.transcript_items",
		metric.WithDescription("Total transcript items by role."),
	); err != nil {
		return nil, err
	}

	if met.GatewayCalls, err = m.Int64Counter("aura.gateway.calls",
		metric.WithDescription("Total browser voice calls by outcome."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ProviderErrors, err = m.Int64Counter("aura.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.CircuitTransitions, err = m.Int64Counter("aura.provider.circuit_transitions",
		metric.WithDescription("Provider circuit breaker transitions by kind, provider and target state."),
	); err != nil {
		return nil, err
	}
	if met.DecodeErrors, err = m.Int64Counter("aura.voice.decode_errors",
		metric.WithDescription("Total inbound audio chunks that failed to decode."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("aura.active_sessions",
		metric.WithDescription("Number of connected voice sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("aura.http.request.duration",
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

// RecordCircuitTransition records a breaker of a provider of the given kind
// ("s2s", "llm") moving to state to.
func (m *Metrics) RecordCircuitTransition(ctx context.Context, kind, provider, to string) {
	m.CircuitTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("kind", kind),
			attribute.String("provider", provider),
			attribute.String("to", to),
		),
	)
}

// RecordSessionConnect records one connect attempt with its outcome
// ("connected", "error", "cancelled").
func (m *Metrics) RecordSessionConnect(ctx context.Context, seconds float64, outcome string) {
	m.SessionConnectDuration.Record(ctx, seconds,
		metric.WithAttributes(attribute.String("outcome", outcome)),
	)
}

// RecordGatewayCall records one finished browser call ("rejected",
// "completed", "failed", "shutdown").
func (m *Metrics) RecordGatewayCall(ctx context.Context, outcome string) {
	m.GatewayCalls.Add(ctx, 1,
		metric.WithAttributes(attribute.String("outcome", outcome)),
	)
}

// RecordTranscriptItem is a convenience method that records a transcript
// item counter increment.
func (m *Metrics) RecordTranscriptItem(ctx context.Context, role string) {
	m.TranscriptItems.Add(ctx, 1,
		metric.WithAttributes(attribute.String("role", role)),
	)
}
