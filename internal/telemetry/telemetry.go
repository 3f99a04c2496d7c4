// Package telemetry installs the OpenTelemetry tracer provider used by the HTTP layer.
package telemetry

import (
	"context"
	"errors"
	"io"
	"os"

	"github.com/Aidin1998/perpstats/internal/config"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// ShutdownFunc flushes and stops the installed providers.
type ShutdownFunc func(context.Context) error

// Setup installs the propagator and, when tracing is enabled, a tracer provider that
// exports spans to stdout.
func Setup(ctx context.Context, cfg config.TelemetryConfig) (ShutdownFunc, error) {
	return setup(ctx, cfg, os.Stdout)
}

func setup(_ context.Context, cfg config.TelemetryConfig, out io.Writer) (ShutdownFunc, error) {
	var shutdownFuncs []func(context.Context) error
	shutdown := func(ctx context.Context) error {
		var err error
		for _, fn := range shutdownFuncs {
			err = errors.Join(err, fn(ctx))
		}
		shutdownFuncs = nil
		return err
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	if !cfg.TracingEnabled {
		return shutdown, nil
	}

	exporter, err := stdouttrace.New(stdouttrace.WithWriter(out))
	if err != nil {
		return shutdown, err
	}
	name := cfg.ServiceName
	if name == "" {
		name = "perpstats"
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewSchemaless(attribute.String("service.name", name))),
	)
	shutdownFuncs = append(shutdownFuncs, tp.Shutdown)
	otel.SetTracerProvider(tp)
	return shutdown, nil
}
