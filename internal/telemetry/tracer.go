package telemetry

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// SchedulerTracerName is the tracer used for generation spans
const SchedulerTracerName = "github.com/pivot-analyzer/pivot-dashboard/scheduler"

// newTracerProvider exports spans to the collector in batches. Generation
// spans are roots and follow the sampling ratio; request spans inherit the
// decision of an incoming traceparent.
func newTracerProvider(ctx context.Context, cfg *Config, res *resource.Resource) (trace.TracerProvider, error) {
	if !cfg.tracingEnabled() {
		slog.Debug("Tracing disabled")
		return noop.NewTracerProvider(), nil
	}

	exporter, err := otlptracehttp.New(ctx, cfg.traceExporterOptions()...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP trace exporter: %w", err)
	}

	ratio := cfg.Tracing.SamplingRatio()
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	logger := slog.With("endpoint", cfg.endpoint(), "sampling_ratio", ratio)
	if cfg.Insecure {
		logger.Warn("Tracing over plain HTTP")
	}
	logger.Info("Tracing initialized")
	return tp, nil
}
