// Package observe provides application-wide observability primitives for
// Wavelength: OpenTelemetry metrics and the provider setup that bridges them
// to a Prometheus /metrics endpoint.
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

// meterName is the instrumentation scope name used for all Wavelength metrics.
const meterName = "github.com/gauravmad/wave-length-backend"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// TurnDuration tracks end-to-end conversational turn latency.
	TurnDuration metric.Float64Histogram

	// AssemblyDuration tracks context assembly latency.
	AssemblyDuration metric.Float64Histogram

	// LLMDuration tracks completion call latency.
	LLMDuration metric.Float64Histogram

	// TruncationEvents counts assemblies that had to cut context to fit the
	// window. Use with attribute.String("character_id", ...).
	TruncationEvents metric.Int64Counter

	// CompletionFailures counts turns that ended in the fallback reply.
	CompletionFailures metric.Int64Counter

	// MemoryDegraded counts memory operations served by the fallback backend
	// or dropped entirely. Use with attribute.String("op", ...).
	MemoryDegraded metric.Int64Counter

	// ActiveTurns tracks the number of turns currently in flight.
	ActiveTurns metric.Int64UpDownCounter

	// HTTPRequestDuration tracks HTTP request processing time. Use with
	// attributes: attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds). Turns are
// dominated by the LLM call, so buckets stretch well past typical HTTP
// latencies.
var latencyBuckets = []float64{
	0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.TurnDuration, err = m.Float64Histogram("wavelength.turn.duration",
		metric.WithDescription("End-to-end conversational turn latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.AssemblyDuration, err = m.Float64Histogram("wavelength.assembly.duration",
		metric.WithDescription("Context assembly latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LLMDuration, err = m.Float64Histogram("wavelength.llm.duration",
		metric.WithDescription("Completion call latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.TruncationEvents, err = m.Int64Counter("wavelength.assembly.truncations",
		metric.WithDescription("Assemblies that cut context to fit the window."),
	); err != nil {
		return nil, err
	}
	if met.CompletionFailures, err = m.Int64Counter("wavelength.turn.completion_failures",
		metric.WithDescription("Turns that ended in the fallback reply."),
	); err != nil {
		return nil, err
	}
	if met.MemoryDegraded, err = m.Int64Counter("wavelength.memory.degraded",
		metric.WithDescription("Memory operations that fell back or were dropped."),
	); err != nil {
		return nil, err
	}

	if met.ActiveTurns, err = m.Int64UpDownCounter("wavelength.turns.active",
		metric.WithDescription("Turns currently in flight."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("wavelength.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it
// on first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails (should not happen with the global provider).
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

// RecordTruncation records one truncated assembly for a character.
func (m *Metrics) RecordTruncation(ctx context.Context, characterID string) {
	m.TruncationEvents.Add(ctx, 1,
		metric.WithAttributes(attribute.String("character_id", characterID)))
}

// RecordHTTPRequest records one HTTP request's latency in seconds.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, path string, seconds float64) {
	m.HTTPRequestDuration.Record(ctx, seconds, metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("path", path),
	))
}

// RecordMemoryDegraded records one degraded memory operation.
func (m *Metrics) RecordMemoryDegraded(ctx context.Context, op string) {
	m.MemoryDegraded.Add(ctx, 1,
		metric.WithAttributes(attribute.String("op", op)))
}
