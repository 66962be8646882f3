// Package otel provides OpenTelemetry span helpers shared by the scheduler
// and the generation pipeline.
package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys used on generation spans
const (
	AttrRunID         = attribute.Key("generation.run_id")
	AttrTrigger       = attribute.Key("generation.trigger")
	AttrAssetID       = attribute.Key("asset.id")
	AttrAssetCount    = attribute.Key("asset.count")
	AttrArtifactName  = attribute.Key("artifact.name")
	AttrArtifactBytes = attribute.Key("artifact.bytes")
)

// GeneratorTracerName names spans created below a generation span
const GeneratorTracerName = "github.com/pivot-analyzer/pivot-dashboard/generator"

// StartSpan starts a new span if the tracer is non-nil, otherwise returns the span already in ctx.
func StartSpan(
	ctx context.Context,
	tracer trace.Tracer,
	name string,
	opts ...trace.SpanStartOption,
) (context.Context, trace.Span) {
	if tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return tracer.Start(ctx, name, opts...)
}

// StartChildSpan starts a span from the tracer provider of the span in ctx.
// Without a recording parent span the returned span is a no-op.
func StartChildSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	tracer := trace.SpanFromContext(ctx).TracerProvider().Tracer(GeneratorTracerName)
	return tracer.Start(ctx, name, opts...)
}

// RecordError records err on span and marks the span failed.
// The status description stays generic; analyzer stderr can end up in the
// error text and is only kept on the exception event.
func RecordError(span trace.Span, err error) {
	if err != nil && span != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "generation failed")
	}
}
