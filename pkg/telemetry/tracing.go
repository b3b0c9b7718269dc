package telemetry

import (
	"context"
	"log/slog"
	"time"

	otelapi "go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// InitTracing initializes OTLP trace export and installs the global
// tracer provider. Returns a shutdown function to call on exit.
// Without export enabled, spans stay noop and cost nothing.
func InitTracing() (func(), error) {
	if !TracingEnabled() {
		slog.Debug("OpenTelemetry tracing disabled")
		return func() {}, nil
	}

	ctx := context.Background()
	cfg := ExporterConfigFor(SignalTraces)

	exporter, err := NewTraceExporter(ctx, cfg)
	if err != nil {
		slog.Warn("failed to create OTLP trace exporter, using noop", "error", err)
		return func() {}, nil
	}

	res, err := NewResource()
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otelapi.SetTracerProvider(tp)
	otelapi.SetTextMapPropagator(propagation.TraceContext{})

	slog.Debug("OpenTelemetry tracing initialized",
		"endpoint", cfg.Endpoint,
		"protocol", cfg.Protocol,
	)

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			slog.Error("error shutting down tracer provider", "error", err)
		}
	}, nil
}
