package observability

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Trace exporters.
const (
	ExporterNone   = "none"
	ExporterStdout = "stdout"
)

// ErrUnknownExporter is returned for an unsupported trace exporter name.
var ErrUnknownExporter = errors.New("unknown trace exporter")

// ShutdownFunc flushes and stops the tracer provider.
type ShutdownFunc func(context.Context) error

// Tracing holds the tracer used by the narration pipeline.
type Tracing struct {
	tracer   trace.Tracer
	shutdown ShutdownFunc
}

// NewTracing builds a tracer for exporter. "none" yields a no-op tracer and
// "stdout" writes pretty-printed spans to out.
func NewTracing(exporter, service string, out io.Writer) (*Tracing, error) {
	switch strings.ToLower(strings.TrimSpace(exporter)) {
	case "", ExporterNone:
		return &Tracing{
			tracer:   noop.NewTracerProvider().Tracer(service),
			shutdown: func(context.Context) error { return nil },
		}, nil
	case ExporterStdout:
		spanExporter, err := stdouttrace.New(stdouttrace.WithWriter(out), stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("failed to create stdout trace exporter: %w", err)
		}

		provider := sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(spanExporter),
			sdktrace.WithResource(resource.NewWithAttributes(semconv.SchemaURL, semconv.ServiceName(service))),
		)

		return &Tracing{tracer: provider.Tracer(service), shutdown: provider.Shutdown}, nil
	default:
		return nil, fmt.Errorf("%w: '%s'", ErrUnknownExporter, exporter)
	}
}

// NewTracingWithProvider wraps an existing provider.
func NewTracingWithProvider(provider trace.TracerProvider, service string) *Tracing {
	return &Tracing{
		tracer:   provider.Tracer(service),
		shutdown: func(context.Context) error { return nil },
	}
}

// StartSpan starts a span named name. A nil *Tracing returns a non-recording span.
func (t *Tracing) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if t == nil {
		return ctx, trace.SpanFromContext(ctx)
	}

	return t.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// Shutdown flushes pending spans.
func (t *Tracing) Shutdown(ctx context.Context) error {
	if t == nil || t.shutdown == nil {
		return nil
	}

	return t.shutdown(ctx)
}
