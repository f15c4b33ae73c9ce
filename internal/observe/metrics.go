// Package observe provides application-wide observability primitives for
// Lectura: OpenTelemetry metrics, distributed tracing, structured logging,
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

// meterName is the instrumentation scope name used for all Lectura metrics.
const meterName = "github.com/remedialab/lectura"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// AttemptDuration tracks the wall-clock length of one recording attempt,
	// from microphone acquisition to provider finalization.
	AttemptDuration metric.Float64Histogram

	// FinalizeDuration tracks how long provider finalization takes once the
	// student stops speaking.
	FinalizeDuration metric.Float64Histogram

	// SynthesisDuration tracks text-to-speech playback synthesis latency.
	SynthesisDuration metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// NoSpeechRetries counts attempts finalized with zero recognized words,
	// each of which prompts the student to retry.
	NoSpeechRetries metric.Int64Counter

	// CardsScored counts completed scoring passes. Use with attribute:
	//   attribute.String("band", ...) — the grade band label.
	CardsScored metric.Int64Counter

	// SessionsCompleted counts saved sessions. Use with attributes:
	//   attribute.String("subject", ...), attribute.String("activity", ...)
	SessionsCompleted metric.Int64Counter

	// --- Gauges ---

	// ActiveAttempts tracks recording attempts currently holding the
	// microphone. Never legitimately above 1 per engine instance.
	ActiveAttempts metric.Int64UpDownCounter

	// ActiveSessions tracks assessment sessions currently in progress.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// recording attempts, which run from sub-second playback calls up to the
// 120 s streaming ceiling.
var latencyBuckets = []float64{
	0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.AttemptDuration, err = m.Float64Histogram("lectura.attempt.duration",
		metric.WithDescription("Wall-clock length of one recording attempt."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.FinalizeDuration, err = m.Float64Histogram("lectura.finalize.duration",
		metric.WithDescription("Latency of provider finalization after capture ends."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SynthesisDuration, err = m.Float64Histogram("lectura.synthesis.duration",
		metric.WithDescription("Latency of text-to-speech synthesis."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.ProviderRequests, err = m.Int64Counter("lectura.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("lectura.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.NoSpeechRetries, err = m.Int64Counter("lectura.attempt.no_speech_retries",
		metric.WithDescription("Attempts finalized with zero recognized words."),
	); err != nil {
		return nil, err
	}
	if met.CardsScored, err = m.Int64Counter("lectura.cards.scored",
		metric.WithDescription("Completed scoring passes by grade band."),
	); err != nil {
		return nil, err
	}
	if met.SessionsCompleted, err = m.Int64Counter("lectura.sessions.completed",
		metric.WithDescription("Saved sessions by subject and activity."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveAttempts, err = m.Int64UpDownCounter("lectura.active_attempts",
		metric.WithDescription("Recording attempts currently holding the microphone."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("lectura.active_sessions",
		metric.WithDescription("Assessment sessions currently in progress."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("lectura.http.request.duration",
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

// RecordProviderRequest is a convenience method that records a provider
// request counter increment with the standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			Attr("provider", provider),
			Attr("kind", kind),
			Attr("status", status),
		),
	)
}

// RecordProviderError is a convenience method that records a provider error
// counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			Attr("provider", provider),
			Attr("kind", kind),
		),
	)
}

// RecordNoSpeechRetry records an attempt that ended with no recognized
// speech.
func (m *Metrics) RecordNoSpeechRetry(ctx context.Context) {
	m.NoSpeechRetries.Add(ctx, 1)
}

// RecordCardScored records a completed scoring pass in the given grade band.
func (m *Metrics) RecordCardScored(ctx context.Context, band string) {
	m.CardsScored.Add(ctx, 1,
		metric.WithAttributes(attribute.String("band", band)),
	)
}

// RecordSessionCompleted records a saved session.
func (m *Metrics) RecordSessionCompleted(ctx context.Context, subject, activity string) {
	m.SessionsCompleted.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("subject", subject),
			attribute.String("activity", activity),
		),
	)
}
