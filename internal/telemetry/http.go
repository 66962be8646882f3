package telemetry

import (
	"net/http"
	"strconv"

	"github.com/felixge/httpsnoop"
	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const (
	// HTTPInstrumentationName names the content server meter and tracer
	HTTPInstrumentationName = "github.com/pivot-analyzer/pivot-dashboard/http"

	// unknownRoute keeps unmatched paths from becoming distinct label values
	unknownRoute = "unknown_route"
)

// HTTPInstrumentation records a server span and request metrics for every
// request to the content server
type HTTPInstrumentation struct {
	tracer     trace.Tracer
	propagator propagation.TextMapPropagator

	duration     metric.Float64Histogram
	requests     metric.Int64Counter
	responseSize metric.Int64Histogram
	inFlight     metric.Int64UpDownCounter
}

// NewHTTPInstrumentation creates the instruments. Nil providers are replaced
// with no-op ones.
func NewHTTPInstrumentation(mp metric.MeterProvider, tp trace.TracerProvider) (*HTTPInstrumentation, error) {
	if mp == nil {
		mp = metricnoop.NewMeterProvider()
	}
	if tp == nil {
		tp = tracenoop.NewTracerProvider()
	}
	meter := mp.Meter(HTTPInstrumentationName)

	h := &HTTPInstrumentation{
		tracer:     tp.Tracer(HTTPInstrumentationName),
		propagator: otel.GetTextMapPropagator(),
	}

	var err error
	if h.duration, err = meter.Float64Histogram(
		"pivot_dashboard_http_request_duration_seconds",
		metric.WithDescription("Duration of content requests in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5),
	); err != nil {
		return nil, err
	}
	if h.requests, err = meter.Int64Counter(
		"pivot_dashboard_http_requests_total",
		metric.WithDescription("Content requests by route and status"),
		metric.WithUnit("{request}"),
	); err != nil {
		return nil, err
	}
	// The dashboard is a single page of a few hundred kilobytes at most
	if h.responseSize, err = meter.Int64Histogram(
		"pivot_dashboard_http_response_size_bytes",
		metric.WithDescription("Size of content response bodies in bytes"),
		metric.WithUnit("By"),
		metric.WithExplicitBucketBoundaries(1<<10, 8<<10, 32<<10, 128<<10, 512<<10, 2<<20),
	); err != nil {
		return nil, err
	}
	if h.inFlight, err = meter.Int64UpDownCounter(
		"pivot_dashboard_http_active_requests",
		metric.WithDescription("Content requests currently being served"),
		metric.WithUnit("{request}"),
	); err != nil {
		return nil, err
	}
	return h, nil
}

// Middleware wraps next with a server span and request metrics. The span is
// renamed to the chi route pattern once routing is done; 5xx responses mark
// it as failed, 4xx ones are left to the client.
func (h *HTTPInstrumentation) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := h.propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		ctx, span := h.tracer.Start(ctx, r.Method,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				semconv.HTTPRequestMethodKey.String(r.Method),
				semconv.URLPath(r.URL.Path),
				semconv.UserAgentOriginal(r.UserAgent()),
			),
		)
		defer span.End()

		h.inFlight.Add(ctx, 1)
		m := httpsnoop.CaptureMetricsFn(w, func(ww http.ResponseWriter) {
			next.ServeHTTP(ww, r.WithContext(ctx))
		})
		h.inFlight.Add(ctx, -1)

		route := routePattern(r)
		span.SetName(r.Method + " " + route)
		span.SetAttributes(
			semconv.HTTPRouteKey.String(route),
			semconv.HTTPResponseStatusCode(m.Code),
			semconv.HTTPResponseBodySize(int(m.Written)),
		)
		if m.Code >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(m.Code))
		}

		attrs := metric.WithAttributes(
			attribute.String("method", r.Method),
			attribute.String("route", route),
			attribute.String("status_code", strconv.Itoa(m.Code)),
		)
		h.duration.Record(ctx, m.Duration.Seconds(), attrs)
		h.requests.Add(ctx, 1, attrs)
		h.responseSize.Record(ctx, m.Written, attrs)
	})
}

// routePattern returns the chi route pattern ("/*" for served files) rather
// than the raw path
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx != nil && rctx.RoutePattern() != "" {
		return rctx.RoutePattern()
	}
	return unknownRoute
}
