package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope of every Aura span.
const tracerName = "github.com/auradesk/aura"

// CallIDKey is the span attribute carrying the gateway call ID.
const CallIDKey = attribute.Key("aura.call.id")

type callKey struct{}

// Tracer returns the Aura tracer from the global [trace.TracerProvider].
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a span on the Aura tracer. Spans started inside a call
// (see [WithCall]) are tagged with [CallIDKey]. The caller must end the span.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	if id := CallID(ctx); id != "" {
		opts = append(opts, trace.WithAttributes(CallIDKey.String(id)))
	}
	return Tracer().Start(ctx, name, opts...)
}

// WithCall returns a copy of ctx bound to the gateway call id.
func WithCall(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, callKey{}, id)
}

// CallID returns the call ID bound by [WithCall], or "".
func CallID(ctx context.Context) string {
	id, _ := ctx.Value(callKey{}).(string)
	return id
}

// CorrelationID returns the trace ID of the active span in ctx, or "" when
// there is none. It is echoed to clients as X-Correlation-ID.
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns the default logger annotated with whatever identifiers ctx
// carries: trace_id and span_id of the active span, and the call ID.
func Logger(ctx context.Context) *slog.Logger {
	var attrs []any
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		attrs = append(attrs,
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	if id := CallID(ctx); id != "" {
		attrs = append(attrs, slog.String("call", id))
	}
	l := slog.Default()
	if len(attrs) > 0 {
		l = l.With(attrs...)
	}
	return l
}
