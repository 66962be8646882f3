// Package logging configures the process-wide slog handler.
//
// The dashboard reports through four severities: info, success, warning and
// error. Success is a custom slog level placed between info and warn so that
// level filtering keeps working with the standard levels.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"go.opentelemetry.io/otel/trace"
)

// LevelSuccess marks the completion of a noteworthy operation.
const LevelSuccess = slog.Level(2)

const (
	// FormatJSON emits one JSON object per record
	FormatJSON = "json"
	// FormatText emits logfmt-style records
	FormatText = "text"
)

// Option configures the handler built by NewHandler
type Option func(*handlerConfig)

type handlerConfig struct {
	level  slog.Leveler
	format string
	out    io.Writer
}

// WithLevel sets the minimum level that is emitted
func WithLevel(level slog.Leveler) Option {
	return func(c *handlerConfig) {
		c.level = level
	}
}

// WithFormat selects the output encoding (json or text)
func WithFormat(format string) Option {
	return func(c *handlerConfig) {
		c.format = format
	}
}

// WithWriter sets the destination of log records
func WithWriter(w io.Writer) Option {
	return func(c *handlerConfig) {
		c.out = w
	}
}

// NewHandler creates a structured handler that names the success level and
// injects OpenTelemetry trace identifiers into every record.
// Records go to stderr unless WithWriter is given.
func NewHandler(opts ...Option) slog.Handler {
	cfg := &handlerConfig{
		level:  slog.LevelInfo,
		format: FormatJSON,
		out:    os.Stderr,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	handlerOpts := &slog.HandlerOptions{
		Level:       cfg.level,
		ReplaceAttr: replaceLevelName,
	}

	var base slog.Handler
	if cfg.format == FormatText {
		base = slog.NewTextHandler(cfg.out, handlerOpts)
	} else {
		base = slog.NewJSONHandler(cfg.out, handlerOpts)
	}
	return &traceHandler{Handler: base}
}

func replaceLevelName(_ []string, a slog.Attr) slog.Attr {
	if a.Key != slog.LevelKey {
		return a
	}
	if level, ok := a.Value.Any().(slog.Level); ok && level == LevelSuccess {
		a.Value = slog.StringValue("SUCCESS")
	}
	return a
}

// ParseLevel maps a level name to a slog.Level. Unknown names report false.
func ParseLevel(name string) (slog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug, true
	case "info", "":
		return slog.LevelInfo, true
	case "success":
		return LevelSuccess, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	default:
		return slog.LevelInfo, false
	}
}

// Success logs msg at LevelSuccess
func Success(ctx context.Context, logger *slog.Logger, msg string, args ...any) {
	if logger == nil {
		logger = slog.Default()
	}
	logger.Log(ctx, LevelSuccess, msg, args...)
}

// traceHandler wraps an slog.Handler to add trace_id and span_id of the
// active span, enabling log-trace correlation.
type traceHandler struct {
	slog.Handler
}

func (h *traceHandler) Handle(ctx context.Context, r slog.Record) error {
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		r.AddAttrs(
			slog.String("trace_id", span.SpanContext().TraceID().String()),
			slog.String("span_id", span.SpanContext().SpanID().String()),
		)
	}
	return h.Handler.Handle(ctx, r)
}

func (h *traceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &traceHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h *traceHandler) WithGroup(name string) slog.Handler {
	return &traceHandler{Handler: h.Handler.WithGroup(name)}
}
