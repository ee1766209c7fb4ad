package natsutil

import (
	"context"
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

func TestReadyWithoutConnection(t *testing.T) {
	var c *Client
	assert.Error(t, c.Ready())
	assert.Error(t, (&Client{}).Ready())
	c.Close()
}

func TestExtractTraceWithoutHeaders(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, ctx, ExtractTrace(ctx, nil))
	assert.Equal(t, ctx, ExtractTrace(ctx, &nats.Msg{Subject: "app.event.1.todo.x"}))
}

func TestTraceContextSurvivesMessageHeaders(t *testing.T) {
	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() { otel.SetTextMapPropagator(prev) })

	tp := sdktrace.NewTracerProvider()
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	ctx, span := tp.Tracer("test").Start(context.Background(), "publish")
	defer span.End()

	msg := nats.NewMsg("app.event.3.todo.abc")
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(msg.Header))
	require.NotEmpty(t, propagation.HeaderCarrier(msg.Header).Get("traceparent"))

	got := trace.SpanContextFromContext(ExtractTrace(context.Background(), msg))
	assert.True(t, got.IsRemote())
	assert.Equal(t, span.SpanContext().TraceID(), got.TraceID())
	assert.Equal(t, span.SpanContext().SpanID(), got.SpanID())
}
