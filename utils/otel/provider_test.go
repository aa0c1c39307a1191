package otel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigFromEnv(t *testing.T) {
	t.Run("default values", func(t *testing.T) {
		t.Setenv("OTEL_SERVICE_NAME", "")
		t.Setenv("OTEL_ENABLED", "")
		t.Setenv("OTEL_TRACE_SAMPLE_RATIO", "")
		t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")

		cfg := ConfigFromEnv()

		assert.Equal(t, "iam-gateway", cfg.ServiceName)
		assert.True(t, cfg.Enabled)
		assert.True(t, cfg.Insecure)
		assert.InDelta(t, 0.1, cfg.SampleRatio, 1e-9)
		assert.Equal(t, "http://localhost:4318", cfg.OTLPEndpoint)
	})

	t.Run("overrides", func(t *testing.T) {
		t.Setenv("OTEL_ENABLED", "false")
		t.Setenv("OTEL_TRACE_SAMPLE_RATIO", "0.5")
		t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "https://collector:4318/")
		t.Setenv("OTEL_EXPORTER_OTLP_INSECURE", "0")

		cfg := ConfigFromEnv()

		assert.False(t, cfg.Enabled)
		assert.False(t, cfg.Insecure)
		assert.InDelta(t, 0.5, cfg.SampleRatio, 1e-9)
		assert.Equal(t, "https://collector:4318", cfg.OTLPEndpoint)
	})

	t.Run("malformed values fall back", func(t *testing.T) {
		t.Setenv("OTEL_TRACE_SAMPLE_RATIO", "2")
		t.Setenv("OTEL_ENABLED", "maybe")

		cfg := ConfigFromEnv()

		assert.InDelta(t, 0.1, cfg.SampleRatio, 1e-9)
		assert.True(t, cfg.Enabled)
	})
}

func TestInitProvider_Disabled(t *testing.T) {
	shutdown, err := InitProvider(context.Background(), Config{
		ServiceName:  "test",
		Enabled:      false,
		OTLPEndpoint: "http://localhost:4318",
	})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestInitProvider_InvalidEndpoint(t *testing.T) {
	shutdown, err := InitProvider(context.Background(), Config{
		ServiceName:  "test",
		Enabled:      true,
		OTLPEndpoint: "not a url",
	})
	require.Error(t, err)
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(context.Background()))
}

func TestSamplerFor(t *testing.T) {
	tests := []struct {
		ratio float64
		want  string
	}{
		{ratio: 1, want: "AlwaysOnSampler"},
		{ratio: 0, want: "AlwaysOffSampler"},
		{ratio: 0.25, want: "TraceIDRatioBased{0.25}"},
	}

	for _, tt := range tests {
		assert.Contains(t, samplerFor(tt.ratio).Description(), tt.want)
	}
}
