package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	// GenerationMetricsMeterName is the name used for the generation metrics meter
	GenerationMetricsMeterName = "github.com/pivot-analyzer/pivot-dashboard/scheduler"

	// OutcomeSuccess and OutcomeFailure label generation results
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// GenerationMetrics holds the OpenTelemetry instruments for dashboard generations
type GenerationMetrics struct {
	duration            metric.Float64Histogram
	generationsTotal    metric.Int64Counter
	consecutiveFailures metric.Int64Gauge
	lastSuccess         metric.Float64Gauge
}

// NewGenerationMetrics creates a new GenerationMetrics instance with the given meter provider.
// If provider is nil, it returns nil (no-op metrics).
func NewGenerationMetrics(provider metric.MeterProvider) (*GenerationMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(GenerationMetricsMeterName)

	duration, err := meter.Float64Histogram(
		"pivot_dashboard_generation_duration_seconds",
		metric.WithDescription("Duration of dashboard generations in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600),
	)
	if err != nil {
		return nil, err
	}

	generationsTotal, err := meter.Int64Counter(
		"pivot_dashboard_generations_total",
		metric.WithDescription("Total number of dashboard generations by outcome"),
		metric.WithUnit("{generation}"),
	)
	if err != nil {
		return nil, err
	}

	consecutiveFailures, err := meter.Int64Gauge(
		"pivot_dashboard_generation_consecutive_failures",
		metric.WithDescription("Number of failed generations since the last success"),
		metric.WithUnit("{generation}"),
	)
	if err != nil {
		return nil, err
	}

	lastSuccess, err := meter.Float64Gauge(
		"pivot_dashboard_generation_last_success_timestamp_seconds",
		metric.WithDescription("Unix time of the last successful generation"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &GenerationMetrics{
		duration:            duration,
		generationsTotal:    generationsTotal,
		consecutiveFailures: consecutiveFailures,
		lastSuccess:         lastSuccess,
	}, nil
}

// RecordGeneration records the duration and outcome of one generation
func (m *GenerationMetrics) RecordGeneration(ctx context.Context, trigger string, duration time.Duration, success bool) {
	if m == nil {
		return
	}

	outcome := OutcomeFailure
	if success {
		outcome = OutcomeSuccess
	}
	attrs := metric.WithAttributes(
		attribute.String("trigger", trigger),
		attribute.String("outcome", outcome),
	)

	m.duration.Record(ctx, duration.Seconds(), attrs)
	m.generationsTotal.Add(ctx, 1, attrs)
}

// RecordConsecutiveFailures records the current failure streak
func (m *GenerationMetrics) RecordConsecutiveFailures(ctx context.Context, count int) {
	if m == nil {
		return
	}
	m.consecutiveFailures.Record(ctx, int64(count))
}

// RecordLastSuccess records the completion time of a successful generation
func (m *GenerationMetrics) RecordLastSuccess(ctx context.Context, at time.Time) {
	if m == nil {
		return
	}
	m.lastSuccess.Record(ctx, float64(at.UnixNano())/float64(time.Second))
}
