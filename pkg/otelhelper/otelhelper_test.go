package otelhelper

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestStartSpanAndSetError(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	tracer := provider.Tracer("test")

	_, span := StartSpan(t.Context(), tracer, "engine.dispatch",
		attribute.String(ExecutionIDKey, "exec-1"),
		attribute.Int(ActionOrderKey, 2),
	)
	SetError(span, errors.New("collaborator down"), attribute.String(ActionTypeKey, "email"))
	span.End()

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "engine.dispatch", spans[0].Name())
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Equal(t, "collaborator down", spans[0].Status().Description)
	assert.Contains(t, spans[0].Attributes(), attribute.String(ExecutionIDKey, "exec-1"))
	assert.Contains(t, spans[0].Attributes(), attribute.String(OutcomeKey, "failed"))
	require.Len(t, spans[0].Events(), 1)
	assert.Contains(t, spans[0].Events()[0].Attributes, attribute.String(ActionTypeKey, "email"))
}

func TestSetOutcome(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	_, span := StartSpan(t.Context(), provider.Tracer("test"), "engine.dispatch")
	SetOutcome(span, "success")
	span.End()

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Ok, spans[0].Status().Code)
	assert.Contains(t, spans[0].Attributes(), attribute.String(OutcomeKey, "success"))
}

func TestNoopTracer(t *testing.T) {
	_, span := StartSpan(t.Context(), NoopTracer(), "noop")
	defer span.End()

	assert.False(t, span.IsRecording())
}
