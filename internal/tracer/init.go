package tracer

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
)

// Provider is the part of the tracer provider the entrypoint drives. A frozen
// Lambda sandbox cannot export in the background, so spans are flushed after
// each invocation.
type Provider interface {
	ForceFlush(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

type noopProvider struct{}

func (noopProvider) ForceFlush(context.Context) error { return nil }
func (noopProvider) Shutdown(context.Context) error   { return nil }

type Options struct {
	Enabled     bool
	Endpoint    string
	ServiceName string
}

// Init installs a global OTLP/HTTP tracer provider. With opts.Enabled unset
// the global no-op provider is left in place.
func Init(ctx context.Context, opts Options) (Provider, error) {
	if !opts.Enabled {
		return noopProvider{}, nil
	}
	endpoint := opts.Endpoint
	if endpoint == "" {
		endpoint = "localhost:4318"
	}

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(endpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("tracer: create otlp exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String(opts.ServiceName),
		)),
	)
	otel.SetTracerProvider(tp)
	return tp, nil
}
