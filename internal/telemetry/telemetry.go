// Package telemetry bootstraps the process-wide OpenTelemetry providers
// that repo.Repository's tracer/meter (spec §9) write into. The engine
// package itself only calls otel.Tracer/otel.Meter against whatever
// global provider is installed; wiring an actual provider is a concern
// of the embedding program, so it lives here rather than in repo.
package telemetry

import (
	"context"
	"fmt"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Shutdown flushes and stops the installed providers.
type Shutdown func(context.Context) error

// Setup installs a TracerProvider and MeterProvider that write spans and
// metrics as JSON to w. Passing io.Discard keeps the engine's tracing and
// metric calls recording, with their output dropped, without reverting to
// the global no-op providers, which is useful for commands that don't want
// --json output polluted with telemetry.
func Setup(w io.Writer) (Shutdown, error) {
	traceExp, err := stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithoutTimestamps())
	if err != nil {
		return nil, fmt.Errorf("telemetry.Setup: creating trace exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(traceExp))
	otel.SetTracerProvider(tp)

	metricExp, err := stdoutmetric.New(stdoutmetric.WithWriter(w))
	if err != nil {
		return nil, fmt.Errorf("telemetry.Setup: creating metric exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp)))
	otel.SetMeterProvider(mp)

	return func(ctx context.Context) error {
		if err := tp.Shutdown(ctx); err != nil {
			return err
		}
		return mp.Shutdown(ctx)
	}, nil
}

// Discard installs providers that record spans and metrics (so
// instrumentation code paths still run) but drop their output, the
// default for interactive CLI invocations.
func Discard() (Shutdown, error) {
	return Setup(io.Discard)
}

// NoopShutdown satisfies Shutdown for callers that skipped Setup, e.g.
// because telemetry failed to initialize and the command chose to
// continue without it.
func NoopShutdown(context.Context) error { return nil }
