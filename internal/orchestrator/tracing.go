package orchestrator

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"agentrouter/internal/domain"
)

const tracerName = "agentrouter/orchestrator"

func tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

func startRunSpan(ctx context.Context, taskID string) (context.Context, trace.Span) {
	ctx, span := tracer().Start(ctx, "graph.run")
	span.SetAttributes(attribute.String("task.id", taskID))
	return ctx, span
}

func endRunSpan(span trace.Span, state domain.GraphState, err error) {
	span.SetAttributes(
		attribute.String("run.status", string(state.Status)),
		attribute.Int("run.executions", len(state.Executions)),
		attribute.Bool("run.synthesized", state.Synthesis != nil),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func startNodeSpan(ctx context.Context, node domain.Node) (context.Context, trace.Span) {
	ctx, span := tracer().Start(ctx, "node."+string(node))
	span.SetAttributes(attribute.String("node.name", string(node)))
	return ctx, span
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
