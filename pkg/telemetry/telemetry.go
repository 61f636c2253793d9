// Package telemetry provides OpenTelemetry tracing for the index
// builder. Each build phase gets its own span; exports go to OTLP or
// stdout.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const tracerName = "github.com/therealutkarshpriyadarshi/blockann"

// Config holds tracing configuration.
type Config struct {
	// Enabled turns tracing on/off.
	Enabled bool

	// Exporter selects the trace exporter: "otlp", "stdout", or "none".
	Exporter string

	// Endpoint is the OTLP collector address (e.g., "localhost:4317").
	Endpoint string

	// SampleRate controls the sampling ratio (0.0 to 1.0).
	SampleRate float64

	// ServiceName overrides the default service name.
	ServiceName string

	// Insecure disables TLS for the OTLP exporter.
	Insecure bool
}

// DefaultConfig returns tracing defaults (disabled).
func DefaultConfig() Config {
	return Config{
		Enabled:     false,
		Exporter:    "otlp",
		Endpoint:    "localhost:4317",
		SampleRate:  1.0,
		ServiceName: "blockann",
		Insecure:    true,
	}
}

// Provider wraps the OTEL TracerProvider and exposes builder-specific
// span helpers.
type Provider struct {
	tp     *sdktrace.TracerProvider
	tracer trace.Tracer
}

// Init sets up the global TracerProvider based on the config.
// Returns a Provider that must be shut down with Shutdown().
func Init(ctx context.Context, cfg Config) (*Provider, error) {
	if !cfg.Enabled {
		return &Provider{
			tracer: noop.NewTracerProvider().Tracer(tracerName),
		}, nil
	}

	var exporter sdktrace.SpanExporter
	var err error

	switch cfg.Exporter {
	case "otlp":
		opts := []otlptracegrpc.Option{
			otlptracegrpc.WithEndpoint(cfg.Endpoint),
		}
		if cfg.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		exporter, err = otlptracegrpc.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
		}
	case "stdout":
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("failed to create stdout exporter: %w", err)
		}
	case "none", "":
		return &Provider{
			tracer: noop.NewTracerProvider().Tracer(tracerName),
		}, nil
	default:
		return nil, fmt.Errorf("unsupported exporter: %q (supported: otlp, stdout, none)", cfg.Exporter)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion("0.1.0"),
		),
		resource.WithProcessRuntimeDescription(),
		resource.WithHost(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	sampler := sdktrace.AlwaysSample()
	if cfg.SampleRate < 1.0 {
		sampler = sdktrace.TraceIDRatioBased(cfg.SampleRate)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &Provider{
		tp:     tp,
		tracer: tp.Tracer(tracerName),
	}, nil
}

// Shutdown flushes pending spans and shuts down the provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tp == nil {
		return nil
	}
	return p.tp.Shutdown(ctx)
}

// Tracer returns the builder tracer for creating spans.
func (p *Provider) Tracer() trace.Tracer {
	return p.tracer
}

// --- Span helpers for build phases ---

// StartBuild creates the root span for one index build.
func (p *Provider) StartBuild(ctx context.Context, n, dim int) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, "blockann.build",
		trace.WithAttributes(
			attribute.Int("blockann.build.vectors", n),
			attribute.Int("blockann.build.dim", dim),
		),
	)
}

// StartTopLevel creates a span for the top-level k-means phase.
func (p *Provider) StartTopLevel(ctx context.Context, k1 int) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, "blockann.top_level",
		trace.WithAttributes(attribute.Int("blockann.top_level.k1", k1)),
	)
}

// StartHierarchy creates a span for one top-level cluster's recursion.
func (p *Provider) StartHierarchy(ctx context.Context, k1ID uint32, size int) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, "blockann.hierarchy",
		trace.WithAttributes(
			attribute.Int("blockann.hierarchy.k1_id", int(k1ID)),
			attribute.Int("blockann.hierarchy.rows", size),
		),
	)
}

// StartPQTrain creates a span for residual quantizer training.
func (p *Provider) StartPQTrain(ctx context.Context, samples int) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, "blockann.pq_train",
		trace.WithAttributes(attribute.Int("blockann.pq_train.samples", samples)),
	)
}

// StartEncode creates a span for the encode pass.
func (p *Provider) StartEncode(ctx context.Context, vectors int) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, "blockann.encode",
		trace.WithAttributes(attribute.Int("blockann.encode.vectors", vectors)),
	)
}
