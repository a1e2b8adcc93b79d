// Package observe provides application-wide observability primitives:
// OpenTelemetry metrics and the Prometheus exporter bridge that exposes them
// on /metrics.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A package-level
// default [Metrics] instance ([DefaultMetrics]) is provided for convenience;
// tests should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all metrics.
const meterName = "github.com/crosstalkhq/crosstalk"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// STTSendDuration tracks latency of audio chunk delivery to the
	// transcription service.
	STTSendDuration metric.Float64Histogram

	// EvaluationDuration tracks LLM evaluation latency per window.
	EvaluationDuration metric.Float64Histogram

	// --- Counters ---

	// Transcripts counts transcripts received from the transcription
	// service. Use with attributes:
	//   attribute.String("speaker", ...), attribute.Bool("final", ...)
	Transcripts metric.Int64Counter

	// Windows counts emitted evaluation windows. Use with attribute:
	//   attribute.String("trigger", ...)
	Windows metric.Int64Counter

	// AudioBytes counts PCM bytes sent to the transcription service. Use
	// with attribute: attribute.String("speaker", ...)
	AudioBytes metric.Int64Counter

	// BreakerOpens counts circuit breaker open transitions. Use with
	// attribute: attribute.String("name", ...)
	BreakerOpens metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSpeakers tracks the number of speaker streams currently running.
	ActiveSpeakers metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for streaming-pipeline latencies.
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
	if met.STTSendDuration, err = m.Float64Histogram("crosstalk.stt.send.duration",
		metric.WithDescription("Latency of audio chunk delivery to the transcription service."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.EvaluationDuration, err = m.Float64Histogram("crosstalk.evaluation.duration",
		metric.WithDescription("Latency of LLM window evaluation."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Transcripts, err = m.Int64Counter("crosstalk.transcripts",
		metric.WithDescription("Total transcripts received by speaker and finality."),
	); err != nil {
		return nil, err
	}
	if met.Windows, err = m.Int64Counter("crosstalk.windows",
		metric.WithDescription("Total evaluation windows emitted by trigger."),
	); err != nil {
		return nil, err
	}
	if met.AudioBytes, err = m.Int64Counter("crosstalk.audio.bytes",
		metric.WithDescription("Total PCM bytes sent to the transcription service by speaker."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if met.BreakerOpens, err = m.Int64Counter("crosstalk.breaker.opens",
		metric.WithDescription("Total circuit breaker open transitions by breaker name."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ProviderErrors, err = m.Int64Counter("crosstalk.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSpeakers, err = m.Int64UpDownCounter("crosstalk.active_speakers",
		metric.WithDescription("Number of speaker streams currently running."),
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

// RecordTranscript records a transcript counter increment with the standard
// attribute set.
func (m *Metrics) RecordTranscript(ctx context.Context, speaker string, final bool) {
	m.Transcripts.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("speaker", speaker),
			attribute.Bool("final", final),
		),
	)
}

// RecordWindow records an emitted-window counter increment.
func (m *Metrics) RecordWindow(ctx context.Context, trigger string) {
	m.Windows.Add(ctx, 1,
		metric.WithAttributes(attribute.String("trigger", trigger)),
	)
}

// RecordAudioBytes records PCM bytes delivered to the transcription service.
func (m *Metrics) RecordAudioBytes(ctx context.Context, speaker string, n int) {
	m.AudioBytes.Add(ctx, int64(n),
		metric.WithAttributes(attribute.String("speaker", speaker)),
	)
}

// RecordBreakerOpen records a circuit breaker open transition.
func (m *Metrics) RecordBreakerOpen(ctx context.Context, name string) {
	m.BreakerOpens.Add(ctx, 1,
		metric.WithAttributes(attribute.String("name", name)),
	)
}

// RecordProviderError records a provider error counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}
