package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Error type values for the error.type span attribute.
const (
	ErrorTypeTransport = "transport"
	ErrorTypeDecode    = "decode"
	ErrorTypeConfig    = "config"
)

// RecordSpanError records err on the span with a typed attribute and
// marks the span as failed.
func RecordSpanError(span trace.Span, err error, errorType string) {
	span.RecordError(err, trace.WithAttributes(
		attribute.String("error.type", errorType),
	))
	span.SetStatus(codes.Error, err.Error())
}
