// Package otel installs the tracer and logger providers that export the
// gateway's spans and log records over OTLP/HTTP.
package otel

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/propagation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const (
	defaultSampleRatio = 0.1
	exportInterval     = 5 * time.Second
	exportBatchSize    = 512
)

// Config holds OpenTelemetry configuration
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLPEndpoint   string
	// Insecure sends OTLP over plain HTTP; set it for in-cluster collectors.
	Insecure    bool
	Enabled     bool
	SampleRatio float64
}

// ConfigFromEnv creates Config from environment variables. Malformed values
// fall back to their defaults.
func ConfigFromEnv() Config {
	return Config{
		ServiceName:    getEnv("OTEL_SERVICE_NAME", "iam-gateway"),
		ServiceVersion: getEnv("SERVICE_VERSION", ""),
		Environment:    getEnv("DEPLOYMENT_ENV", "development"),
		OTLPEndpoint:   strings.TrimRight(getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "http://localhost:4318"), "/"),
		Insecure:       getBool("OTEL_EXPORTER_OTLP_INSECURE", true),
		Enabled:        getBool("OTEL_ENABLED", true),
		SampleRatio:    getRatio("OTEL_TRACE_SAMPLE_RATIO", defaultSampleRatio),
	}
}

// ShutdownFunc flushes and stops the installed providers.
type ShutdownFunc func(context.Context) error

func noopShutdown(context.Context) error { return nil }

// InitProvider installs the global tracer and logger providers. On error
// nothing is installed and the returned ShutdownFunc is a no-op.
func InitProvider(ctx context.Context, cfg Config) (ShutdownFunc, error) {
	if !cfg.Enabled {
		return noopShutdown, nil
	}
	if _, err := url.ParseRequestURI(cfg.OTLPEndpoint); err != nil {
		return noopShutdown, fmt.Errorf("invalid OTLP endpoint %q: %w", cfg.OTLPEndpoint, err)
	}

	res, err := newResource(ctx, cfg)
	if err != nil {
		return noopShutdown, fmt.Errorf("failed to create resource: %w", err)
	}

	tracerProvider, err := newTracerProvider(ctx, cfg, res)
	if err != nil {
		return noopShutdown, fmt.Errorf("failed to init tracer provider: %w", err)
	}
	loggerProvider, err := newLoggerProvider(ctx, cfg, res)
	if err != nil {
		_ = tracerProvider.Shutdown(ctx)
		return noopShutdown, fmt.Errorf("failed to init logger provider: %w", err)
	}

	otel.SetTracerProvider(tracerProvider)
	global.SetLoggerProvider(loggerProvider)
	// W3C Trace Context, forwarded to the IAM authority on every call
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	// The logger provider stops last so tracer shutdown errors are still exported.
	return func(ctx context.Context) error {
		return errors.Join(
			tracerProvider.Shutdown(ctx),
			loggerProvider.Shutdown(ctx),
		)
	}, nil
}

func newResource(ctx context.Context, cfg Config) (*resource.Resource, error) {
	attrs := []resource.Option{
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.DeploymentEnvironment(cfg.Environment),
		),
		resource.WithHost(),
		resource.WithProcess(),
	}
	if cfg.ServiceVersion != "" {
		attrs = append(attrs, resource.WithAttributes(semconv.ServiceVersion(cfg.ServiceVersion)))
	}
	return resource.New(ctx, attrs...)
}

func newTracerProvider(ctx context.Context, cfg Config, res *resource.Resource) (*sdktrace.TracerProvider, error) {
	opts := []otlptracehttp.Option{otlptracehttp.WithEndpointURL(cfg.OTLPEndpoint + "/v1/traces")}
	if cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, err
	}

	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter,
			sdktrace.WithBatchTimeout(exportInterval),
			sdktrace.WithMaxExportBatchSize(exportBatchSize),
		),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(samplerFor(cfg.SampleRatio)),
	), nil
}

func newLoggerProvider(ctx context.Context, cfg Config, res *resource.Resource) (*sdklog.LoggerProvider, error) {
	opts := []otlploghttp.Option{otlploghttp.WithEndpointURL(cfg.OTLPEndpoint + "/v1/logs")}
	if cfg.Insecure {
		opts = append(opts, otlploghttp.WithInsecure())
	}
	exporter, err := otlploghttp.New(ctx, opts...)
	if err != nil {
		return nil, err
	}

	return sdklog.NewLoggerProvider(
		sdklog.WithProcessor(sdklog.NewBatchProcessor(exporter,
			sdklog.WithExportInterval(exportInterval),
			sdklog.WithExportMaxBatchSize(exportBatchSize),
		)),
		sdklog.WithResource(res),
	), nil
}

// samplerFor follows the parent's decision and samples root spans by ratio.
func samplerFor(ratio float64) sdktrace.Sampler {
	switch {
	case ratio >= 1:
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	case ratio <= 0:
		return sdktrace.ParentBased(sdktrace.NeverSample())
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBool(key string, defaultValue bool) bool {
	b, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return b
}

func getRatio(key string, defaultValue float64) float64 {
	f, err := strconv.ParseFloat(os.Getenv(key), 64)
	if err != nil || f < 0 || f > 1 {
		return defaultValue
	}
	return f
}
