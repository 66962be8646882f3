package telemetry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func boolPtr(b bool) *bool {
	return &b
}

func floatPtr(f float64) *float64 {
	return &f
}

func TestConfig_Defaults(t *testing.T) {
	t.Parallel()

	cfg := &Config{}
	assert.Equal(t, DefaultServiceName, cfg.serviceName())
	assert.Equal(t, DefaultEndpoint, cfg.endpoint())
	assert.False(t, cfg.tracingEnabled())
	assert.False(t, cfg.metricsEnabled())
	assert.Equal(t, DefaultSampling, (&TracingConfig{}).SamplingRatio())
	assert.True(t, (&MetricsConfig{}).PushOTLP())
	assert.Len(t, cfg.traceExporterOptions(), 1)

	cfg = &Config{ServiceName: "dash", Endpoint: "otel:4318", Insecure: true}
	assert.Equal(t, "dash", cfg.serviceName())
	assert.Equal(t, "otel:4318", cfg.endpoint())
	assert.Len(t, cfg.traceExporterOptions(), 2)
	assert.Len(t, cfg.metricExporterOptions(), 2)
	assert.Equal(t, 0.25, (&TracingConfig{Sampling: floatPtr(0.25)}).SamplingRatio())
	assert.Zero(t, (&TracingConfig{Sampling: floatPtr(0)}).SamplingRatio(), "an explicit zero is kept")
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		config  *Config
		wantErr string
	}{
		{name: "nil config", config: nil},
		{
			name: "disabled config skips validation",
			config: &Config{
				Tracing: &TracingConfig{Enabled: true, Sampling: floatPtr(7)},
			},
		},
		{
			name: "valid tracing and metrics",
			config: &Config{
				Enabled: true,
				Tracing: &TracingConfig{Enabled: true, Sampling: floatPtr(0.5)},
				Metrics: &MetricsConfig{Enabled: true, Prometheus: true},
			},
		},
		{
			name: "sampling above one",
			config: &Config{
				Enabled: true,
				Tracing: &TracingConfig{Enabled: true, Sampling: floatPtr(1.5)},
			},
			wantErr: "tracing: sampling must be between 0.0 and 1.0",
		},
		{
			name: "negative sampling",
			config: &Config{
				Enabled: true,
				Tracing: &TracingConfig{Enabled: true, Sampling: floatPtr(-0.1)},
			},
			wantErr: "sampling must be between 0.0 and 1.0",
		},
		{
			name: "zero sampling",
			config: &Config{
				Enabled: true,
				Tracing: &TracingConfig{Enabled: true, Sampling: floatPtr(0)},
			},
		},
		{
			name: "metrics with no exporter",
			config: &Config{
				Enabled: true,
				Metrics: &MetricsConfig{Enabled: true, OTLP: boolPtr(false)},
			},
			wantErr: "metrics: at least one of otlp or prometheus must be enabled",
		},
		{
			name: "disabled metrics with no exporter",
			config: &Config{
				Enabled: true,
				Metrics: &MetricsConfig{OTLP: boolPtr(false)},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := tt.config.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
