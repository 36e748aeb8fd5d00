// Package observe provides application-wide observability primitives for
// voxloop: OpenTelemetry metrics and the Prometheus exporter bridge.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter is wired via [InitProvider] so that metrics can be scraped from
// the standard /metrics endpoint. A package-level default [Metrics] instance
// ([DefaultMetrics]) is provided for convenience; tests should use
// [NewMetrics] with a custom [metric.MeterProvider] to avoid cross-test
// pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all voxloop metrics.
const meterName = "github.com/voxloop/voxloop"

// Utterance outcome attribute values.
const (
	OutcomeSubmitted = "submitted"
	OutcomeNoSpeech  = "no_speech"
	OutcomeTooShort  = "too_short"
)

// Reply kind attribute values.
const (
	ReplyContent = "content"
	ReplySkip    = "skip"
	ReplyPause   = "pause"
	ReplyUnpause = "unpause"
	ReplyPaused  = "paused"
)

// Pause source attribute values.
const (
	PauseSourceUser   = "user"
	PauseSourceServer = "server"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per turn stage ---

	// UtteranceDuration tracks how long each recording stayed open, from
	// open to end-of-utterance.
	UtteranceDuration metric.Float64Histogram

	// InferenceDuration tracks remote inference round-trip latency.
	InferenceDuration metric.Float64Histogram

	// PlaybackDuration tracks reply audio playback time.
	PlaybackDuration metric.Float64Histogram

	// --- Counters ---

	// Utterances counts closed recordings. Use with attribute:
	//   attribute.String("outcome", ...) — submitted, no_speech, too_short
	Utterances metric.Int64Counter

	// Replies counts inference results by how they were applied. Use with:
	//   attribute.String("kind", ...) — content, skip, pause, unpause, paused
	Replies metric.Int64Counter

	// InferenceErrors counts failed inference calls.
	InferenceErrors metric.Int64Counter

	// PauseEvents counts pause-mode entries. Use with attribute:
	//   attribute.String("source", ...) — user, server
	PauseEvents metric.Int64Counter

	// --- Gauges ---

	// Listening tracks whether the microphone session is active (0 or 1).
	Listening metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for voice-turn latencies.
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
	if met.UtteranceDuration, err = m.Float64Histogram("voxloop.utterance.duration",
		metric.WithDescription("Time each recording stayed open before closing."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.InferenceDuration, err = m.Float64Histogram("voxloop.inference.duration",
		metric.WithDescription("Remote inference round-trip latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.PlaybackDuration, err = m.Float64Histogram("voxloop.playback.duration",
		metric.WithDescription("Reply audio playback time."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Utterances, err = m.Int64Counter("voxloop.utterances",
		metric.WithDescription("Closed recordings by outcome."),
	); err != nil {
		return nil, err
	}
	if met.Replies, err = m.Int64Counter("voxloop.replies",
		metric.WithDescription("Inference results by applied kind."),
	); err != nil {
		return nil, err
	}
	if met.InferenceErrors, err = m.Int64Counter("voxloop.inference.errors",
		metric.WithDescription("Failed inference calls."),
	); err != nil {
		return nil, err
	}
	if met.PauseEvents, err = m.Int64Counter("voxloop.pause.events",
		metric.WithDescription("Pause-mode entries by source."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.Listening, err = m.Int64UpDownCounter("voxloop.listening",
		metric.WithDescription("Whether the microphone session is active."),
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

// RecordUtterance records a closed recording with its outcome.
func (m *Metrics) RecordUtterance(ctx context.Context, outcome string) {
	m.Utterances.Add(ctx, 1,
		metric.WithAttributes(attribute.String("outcome", outcome)),
	)
}

// RecordReply records an applied inference result by kind.
func (m *Metrics) RecordReply(ctx context.Context, kind string) {
	m.Replies.Add(ctx, 1,
		metric.WithAttributes(attribute.String("kind", kind)),
	)
}

// RecordPause records a pause-mode entry by source.
func (m *Metrics) RecordPause(ctx context.Context, source string) {
	m.PauseEvents.Add(ctx, 1,
		metric.WithAttributes(attribute.String("source", source)),
	)
}
