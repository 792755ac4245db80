// Package tracing sets up the OpenTelemetry tracer provider.
package tracing

import (
	"context"
	"io"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// ShutdownFunc flushes and stops the provider.
type ShutdownFunc func(context.Context) error

// Init installs a global tracer provider exporting to stdout.
// It returns a function that should be called on shutdown.
func Init(serviceName string) (ShutdownFunc, error) {
	return InitWithWriter(serviceName, os.Stdout)
}

// InitWithWriter is Init with an explicit destination for exported spans.
func InitWithWriter(serviceName string, w io.Writer) (ShutdownFunc, error) {
	exporter, err := stdouttrace.New(
		stdouttrace.WithWriter(w),
		stdouttrace.WithoutTimestamps(),
	)
	if err != nil {
		return nil, err
	}

	res, err := resource.Merge(
		resource.Default(),
		// schemaless，避免與 SDK 內建 schema 版本衝突
		resource.NewSchemaless(semconv.ServiceName(serviceName)),
	)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	return tp.Shutdown, nil
}

// Noop returns a shutdown func for when tracing is disabled; the global
// provider stays the otel no-op default.
func Noop() ShutdownFunc {
	return func(context.Context) error { return nil }
}

// Tracer returns a named tracer from the global provider.
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}
