// Package telemetry provides OpenTelemetry instrumentation for the dashboard.
// Traces are exported over OTLP; metrics go to OTLP and, optionally, to a
// Prometheus registry served by the admin listener.
package telemetry

import (
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
)

const (
	// DefaultServiceName identifies the dashboard in the collector
	DefaultServiceName = "pivot-dashboard"

	// DefaultEndpoint is the OTLP/HTTP collector address
	DefaultEndpoint = "localhost:4318"

	// DefaultSampling samples every root span. Generations run a few times
	// per hour at most, so there is nothing to gain from dropping them.
	DefaultSampling = 1.0
)

// Config is the telemetry section of the dashboard configuration
type Config struct {
	// Enabled is the master switch; nothing is exported when it is false
	Enabled bool `yaml:"enabled"`

	// ServiceName defaults to "pivot-dashboard". The service version is
	// always the build version.
	ServiceName string `yaml:"serviceName,omitempty"`

	// Endpoint is the collector "host:port"; /v1/traces and /v1/metrics are
	// appended by the exporters
	Endpoint string `yaml:"endpoint,omitempty"`

	// Insecure sends OTLP over plain HTTP
	Insecure bool `yaml:"insecure,omitempty"`

	Tracing *TracingConfig `yaml:"tracing,omitempty"`
	Metrics *MetricsConfig `yaml:"metrics,omitempty"`
}

// TracingConfig controls generation and request spans
type TracingConfig struct {
	Enabled bool `yaml:"enabled"`

	// Sampling is the ratio of root spans kept, between 0 and 1. Unset means
	// DefaultSampling; an explicit 0 keeps only spans whose remote parent
	// was sampled.
	Sampling *float64 `yaml:"sampling,omitempty"`
}

// MetricsConfig controls generation and request metrics
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`

	// OTLP pushes metrics to the collector. Defaults to true when unset.
	OTLP *bool `yaml:"otlp,omitempty"`

	// Prometheus exposes metrics on the admin listener's /metrics route
	Prometheus bool `yaml:"prometheus,omitempty"`
}

// PushOTLP reports whether the OTLP metrics exporter should be created
func (c *MetricsConfig) PushOTLP() bool {
	return c.OTLP == nil || *c.OTLP
}

// SamplingRatio returns the configured ratio or DefaultSampling
func (c *TracingConfig) SamplingRatio() float64 {
	if c.Sampling == nil {
		return DefaultSampling
	}
	return *c.Sampling
}

func (c *Config) serviceName() string {
	if c.ServiceName == "" {
		return DefaultServiceName
	}
	return c.ServiceName
}

func (c *Config) endpoint() string {
	if c.Endpoint == "" {
		return DefaultEndpoint
	}
	return c.Endpoint
}

func (c *Config) tracingEnabled() bool {
	return c.Tracing != nil && c.Tracing.Enabled
}

func (c *Config) metricsEnabled() bool {
	return c.Metrics != nil && c.Metrics.Enabled
}

// traceExporterOptions and metricExporterOptions share the collector
// address and transport security
func (c *Config) traceExporterOptions() []otlptracehttp.Option {
	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(c.endpoint())}
	if c.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	return opts
}

func (c *Config) metricExporterOptions() []otlpmetrichttp.Option {
	opts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(c.endpoint())}
	if c.Insecure {
		opts = append(opts, otlpmetrichttp.WithInsecure())
	}
	return opts
}

// Validate checks the enabled signals. A nil or disabled config is valid.
func (c *Config) Validate() error {
	if c == nil || !c.Enabled {
		return nil
	}

	var errs []error
	if c.tracingEnabled() && c.Tracing.Sampling != nil {
		if s := *c.Tracing.Sampling; s < 0 || s > 1 {
			errs = append(errs, fmt.Errorf("tracing: sampling must be between 0.0 and 1.0, got %g", s))
		}
	}
	if c.metricsEnabled() && !c.Metrics.PushOTLP() && !c.Metrics.Prometheus {
		errs = append(errs, errors.New("metrics: at least one of otlp or prometheus must be enabled"))
	}
	return errors.Join(errs...)
}
