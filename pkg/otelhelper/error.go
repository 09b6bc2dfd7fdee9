package otelhelper

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const OutcomeKey = "autoflow.action.outcome"

// SetError marks the span failed and records err with attrs.
func SetError(span trace.Span, err error, attrs ...attribute.KeyValue) {
	span.RecordError(err, trace.WithAttributes(attrs...))
	span.SetStatus(codes.Error, err.Error())
	span.SetAttributes(attribute.String(OutcomeKey, "failed"))
}

// SetOutcome records how a dispatched action ended.
func SetOutcome(span trace.Span, outcome string) {
	span.SetAttributes(attribute.String(OutcomeKey, outcome))

	if outcome != "failed" {
		span.SetStatus(codes.Ok, "")
	}
}
