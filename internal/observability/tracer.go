package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// StartSpan creates a new internal span with the given name and attributes.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartClientSpan creates a new client span (for outgoing requests).
func StartClientSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}

// SpanFromContext returns the current span from context.
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}

// SetSpanError marks the span as errored.
func SetSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// SetSpanOK marks the span as successful.
func SetSpanOK(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}

// Common attribute keys for dirclient spans.
var (
	AttrEndpoint  = attribute.Key("dirclient.endpoint")
	AttrMethod    = attribute.Key("dirclient.method")
	AttrResource  = attribute.Key("dirclient.resource")
	AttrStatus    = attribute.Key("dirclient.status")
	AttrAttempts  = attribute.Key("dirclient.attempts")
	AttrFromCache = attribute.Key("dirclient.from_cache")
	AttrDedupJoin = attribute.Key("dirclient.dedup_joined")
	AttrRequestID = attribute.Key("dirclient.request_id")
)
