package logger

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "actioncore"

// SpanContext owns one span; callers must End it.
type SpanContext struct {
	ctx  context.Context
	span trace.Span
}

// StartSpan opens a child span of whatever span ctx carries and tags it with
// the LogFields already on ctx.
//
//	sc := logger.StartSpan(ctx, "executor.advance")
//	defer sc.End()
//	ctx = sc.Context()
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) *SpanContext {
	opts = append(opts, trace.WithAttributes(GetLogFields(ctx).spanAttrs()...))
	ctx, span := otel.Tracer(tracerName).Start(ctx, name, opts...)
	return &SpanContext{ctx: ctx, span: span}
}

// StartConsumerSpan continues a trace whose id travelled inside a stream
// message. The producer's span is attached as a link rather than a parent so
// a message redelivered hours later does not stretch the original trace.
// An empty or malformed id starts a fresh root span.
func StartConsumerSpan(ctx context.Context, traceIDHex, name string, opts ...trace.SpanStartOption) *SpanContext {
	opts = append(opts, trace.WithSpanKind(trace.SpanKindConsumer))

	traceID, err := trace.TraceIDFromHex(traceIDHex)
	if err != nil {
		return StartSpan(ctx, name, opts...)
	}

	remote := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		TraceFlags: trace.FlagsSampled,
		Remote:     true,
	})
	opts = append(opts, trace.WithLinks(trace.Link{
		SpanContext: remote,
		Attributes:  []attribute.KeyValue{attribute.String("messaging.link", "producer")},
	}))
	return StartSpan(ctx, name, opts...)
}

// CurrentTraceID returns the hex trace id of the span on ctx, or "" when ctx
// carries no valid span.
func CurrentTraceID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}

func (sc *SpanContext) Context() context.Context {
	return sc.ctx
}

// End is safe to call more than once.
func (sc *SpanContext) End() {
	if sc.span != nil {
		sc.span.End()
	}
}

// RecordError marks the span failed. A nil err is ignored.
func (sc *SpanContext) RecordError(err error) {
	if sc.span == nil || err == nil {
		return
	}
	sc.span.RecordError(err)
	sc.span.SetStatus(codes.Error, err.Error())
}

// Annotate sets attributes discovered after the span started, such as the
// plan id a resolution produced.
func (sc *SpanContext) Annotate(attrs ...attribute.KeyValue) {
	if sc.span != nil && len(attrs) > 0 {
		sc.span.SetAttributes(attrs...)
	}
}
