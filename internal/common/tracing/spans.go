package tracing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const engineTracerName = "agentgate-engine"

func engineTracer() trace.Tracer {
	return Tracer(engineTracerName)
}

func start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx, span := engineTracer().Start(ctx, name, trace.WithSpanKind(trace.SpanKindInternal))
	span.SetAttributes(attrs...)
	return ctx, span
}

// TraceSpawn creates a span for an agent process spawn.
func TraceSpawn(ctx context.Context, provider, workingDir string) (context.Context, trace.Span) {
	return start(ctx, "agentproc.spawn",
		attribute.String("provider", provider),
		attribute.String("working_dir", workingDir),
	)
}

// TraceSessionStart creates a span for a session start request.
func TraceSessionStart(ctx context.Context, taskID string, fork bool) (context.Context, trace.Span) {
	return start(ctx, "session.start",
		attribute.String("task_id", taskID),
		attribute.Bool("fork", fork),
	)
}

// TraceApprovalCheck creates a span for an interactive approval check.
func TraceApprovalCheck(ctx context.Context, sessionID, toolName, callID string) (context.Context, trace.Span) {
	return start(ctx, "approval.check",
		attribute.String("session_id", sessionID),
		attribute.String("tool_name", toolName),
		attribute.String("call_id", callID),
	)
}

// TraceApprovalRequest creates a span for a polling-protocol approval request.
func TraceApprovalRequest(ctx context.Context, sessionID, toolName, callID string) (context.Context, trace.Span) {
	return start(ctx, "approval.request",
		attribute.String("session_id", sessionID),
		attribute.String("tool_name", toolName),
		attribute.String("call_id", callID),
	)
}

// TraceHooksExecute creates a span for one hook executor pass.
func TraceHooksExecute(ctx context.Context, eventType, toolName string) (context.Context, trace.Span) {
	return start(ctx, "hooks.execute",
		attribute.String("event_type", eventType),
		attribute.String("tool_name", toolName),
	)
}

// TraceReconcilerRun creates a span for a reconciler sweep.
func TraceReconcilerRun(ctx context.Context) (context.Context, trace.Span) {
	return start(ctx, "reconciler.run")
}

// TraceResult records the outcome on a span.
func TraceResult(span trace.Span, status string, err error) {
	span.SetAttributes(attribute.String("status", status))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}
