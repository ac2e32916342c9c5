package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerScope = "browseserver"

// Span names for the two places spec §5 names as suspension points worth
// tracing: step execution and description cache lookups.
const (
	SpanStepExecute = "browseserver.step.execute"
	SpanCacheLookup = "browseserver.cache.lookup"
)

const (
	AttrTaskID   = "browseserver.task_id"
	AttrToolName = "browseserver.tool_name"
	AttrStep     = "browseserver.step_number"
)

// StartSpan opens a span under this package's tracer scope, the same shape
// cklxx-elephant.ai's internal/domain/agent/react/tracing.go uses for its
// own ReAct-loop and tool-execution spans.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(tracerScope).Start(ctx, name, trace.WithAttributes(attrs...))
}

// MarkSpanResult records err (if any) on span and sets its final status.
func MarkSpanResult(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetStatus(codes.Ok, "")
}
