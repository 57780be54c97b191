// Package observability wires OpenTelemetry tracing for sync sessions.
package observability

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/ideagen/harvester"

var initOnce sync.Once

// TracingConfig controls trace export and sampling.
type TracingConfig struct {
	ServiceName    string
	ServiceVersion string
	SamplingRate   float64
	Enabled        bool
}

// InitTracing installs the global tracer provider and returns a
// shutdown function that flushes pending spans.
func InitTracing(ctx context.Context, cfg TracingConfig) (func(context.Context) error, error) {
	if !cfg.Enabled {
		return func(context.Context) error { return nil }, nil
	}

	var shutdown func(context.Context) error
	var initErr error

	initOnce.Do(func() {
		res, err := resource.New(ctx,
			resource.WithAttributes(
				semconv.ServiceNameKey.String(cfg.ServiceName),
				semconv.ServiceVersionKey.String(cfg.ServiceVersion),
			),
		)
		if err != nil {
			initErr = fmt.Errorf("create resource: %w", err)
			return
		}

		exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			initErr = fmt.Errorf("create stdout exporter: %w", err)
			return
		}

		sampler := sdktrace.AlwaysSample()
		if cfg.SamplingRate > 0 && cfg.SamplingRate < 1.0 {
			sampler = sdktrace.TraceIDRatioBased(cfg.SamplingRate)
		}

		tp := sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exporter),
			sdktrace.WithResource(res),
			sdktrace.WithSampler(sampler),
		)
		otel.SetTracerProvider(tp)
		shutdown = tp.Shutdown
	})

	if initErr != nil {
		return nil, initErr
	}
	if shutdown == nil {
		shutdown = func(context.Context) error { return nil }
	}
	return shutdown, nil
}

// StartSpan begins a span under the harvester tracer.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, name)
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	return ctx, span
}

// EndSpan finishes a span, recording err when non-nil.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
