// Package tracing wires an OpenTelemetry TracerProvider for corewriter's
// send path. Grounded on marmos91-dittofs's internal/telemetry.Init: a
// sample-rate-driven sdktrace.Sampler, a resource describing the service,
// and a shutdown func returned to the caller for a clean flush on exit.
// Unlike that package this one takes its exporter as a parameter rather
// than hard-wiring OTLP/gRPC, since corewriter's dependency surface does
// not carry an OTLP exporter; callers supply any sdktrace.SpanExporter
// (or none, for an exporter-less provider useful in tests).
package tracing

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Config configures the tracer provider.
type Config struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string
	SampleRatio    float64
}

func samplerFor(ratio float64) sdktrace.Sampler {
	switch {
	case ratio >= 1.0:
		return sdktrace.AlwaysSample()
	case ratio <= 0.0:
		return sdktrace.NeverSample()
	default:
		return sdktrace.TraceIDRatioBased(ratio)
	}
}

// Init builds and installs a global TracerProvider, returning a shutdown
// func the caller should run on exit. When cfg.Enabled is false, the
// global tracer is left untouched (otel defaults to a no-op tracer) and
// shutdown is a no-op.
func Init(ctx context.Context, cfg Config, exporter sdktrace.SpanExporter) (shutdown func(context.Context) error, err error) {
	if !cfg.Enabled {
		return func(context.Context) error { return nil }, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			attribute.String("service.name", cfg.ServiceName),
			attribute.String("service.version", cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("tracing: build resource: %w", err)
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(samplerFor(cfg.SampleRatio)),
	}
	if exporter != nil {
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}

	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)

	return func(ctx context.Context) error {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return tp.Shutdown(shutdownCtx)
	}, nil
}

// Tracer returns the named tracer from the current global TracerProvider.
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}

// RecordError marks span as errored, mirroring the convenience helper the
// pack's telemetry package provides around the raw otel API.
func RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
