package otelx

import (
	"context"
	"time"

	"github.com/caarlos0/env/v11"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

// Namespace groups every schoolsync service under one resource namespace.
const Namespace = "schoolsync"

type Config struct {
	Enabled      bool    `env:"OTEL_ENABLED" envDefault:"true"`
	ServiceName  string  `env:"-"`
	OTLPEndpoint string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"otel-collector:4317"`
	SampleRatio  float64 `env:"OTEL_SAMPLING_RATIO" envDefault:"1"`
	Environment  string  `env:"DEPLOYMENT_ENV" envDefault:"dev"`
}

// ConfigFromEnv reads the tracing knobs. A malformed variable falls back to
// its default rather than keeping a service from starting.
func ConfigFromEnv(serviceName string) Config {
	cfg := Config{}
	if err := env.Parse(&cfg); err != nil {
		cfg = Config{}
		_ = env.ParseWithOptions(&cfg, env.Options{Environment: map[string]string{}})
	}
	if cfg.SampleRatio < 0 || cfg.SampleRatio > 1 {
		cfg.SampleRatio = 1
	}
	cfg.ServiceName = serviceName
	return cfg
}

// Setup installs the W3C propagators and, when enabled, an OTLP tracer
// provider. Propagators are installed even when export is disabled so trace
// context still flows through outbox rows and broker headers.
func Setup(ctx context.Context, cfg Config) (func(context.Context) error, error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	if !cfg.Enabled {
		return func(context.Context) error { return nil }, nil
	}

	exp, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
		otlptracegrpc.WithInsecure(),
		otlptracegrpc.WithTimeout(3*time.Second),
	)
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceNamespace(Namespace),
		semconv.DeploymentEnvironment(cfg.Environment),
	))
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}
