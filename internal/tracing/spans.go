package tracing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Span names and attribute keys.
const (
	SpanTask = "pool.task"

	AttrWorkerID  = "worker.id"
	AttrTaskID    = "task.id"
	AttrRunID     = "run.id"
	AttrAlgorithm = "algorithm"
	AttrElements  = "elements"

	EventTerminated = "task.terminated"
)

// StartTask opens the span covering one dispatched task.
func StartTask(ctx context.Context, tracer trace.Tracer, runID string, workerID int, taskID, algorithm string, elements int) (context.Context, trace.Span) {
	return tracer.Start(ctx, SpanTask,
		trace.WithAttributes(
			attribute.Int(AttrWorkerID, workerID),
			attribute.String(AttrTaskID, taskID),
			attribute.String(AttrRunID, runID),
			attribute.String(AttrAlgorithm, algorithm),
			attribute.Int(AttrElements, elements),
		),
	)
}

// EndTask closes a task span with OK, or with an error status when err is set.
func EndTask(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
