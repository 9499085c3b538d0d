package tracing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const transportTracerName = "goose-transport"

func transportTracer() trace.Tracer {
	return Tracer(transportTracerName)
}

// TraceHTTPRequest starts a span for an HTTP call to the agent server.
// Caller must call span.End() when the response is received.
func TraceHTTPRequest(ctx context.Context, method, path string) (context.Context, trace.Span) {
	ctx, span := transportTracer().Start(ctx, "http."+method+" "+path,
		trace.WithSpanKind(trace.SpanKindClient),
	)
	span.SetAttributes(
		attribute.String("http.method", method),
		attribute.String("http.path", path),
	)
	return ctx, span
}

// TraceHTTPResponse records response attributes on the span.
func TraceHTTPResponse(span trace.Span, statusCode int, err error) {
	span.SetAttributes(attribute.Int("http.status_code", statusCode))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// TraceTurn starts a span covering one streamed chat turn.
// Caller must call span.End() once the turn reaches a terminal state.
func TraceTurn(ctx context.Context, turnID, sessionID string, messageCount int) (context.Context, trace.Span) {
	ctx, span := transportTracer().Start(ctx, "chat.turn",
		trace.WithSpanKind(trace.SpanKindClient),
	)
	span.SetAttributes(
		attribute.String("turn_id", turnID),
		attribute.String("session_id", sessionID),
		attribute.Int("message_count", messageCount),
	)
	return ctx, span
}

// TraceTurnEnd records the outcome of a chat turn on the span.
func TraceTurnEnd(span trace.Span, outcome string, frames int, err error) {
	span.SetAttributes(
		attribute.String("turn.outcome", outcome),
		attribute.Int("turn.frames", frames),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// TraceFrame records a decoded stream frame as an event on the turn span.
func TraceFrame(span trace.Span, frameType, messageID string) {
	span.AddEvent("frame", trace.WithAttributes(
		attribute.String("frame.type", frameType),
		attribute.String("frame.message_id", messageID),
	))
}
