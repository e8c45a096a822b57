package worker

import (
	"context"
	"errors"

	"github.com/cuongbtq/jobworker/internal/worker/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

func newTracer(tracer trace.Tracer) trace.Tracer {
	if tracer == nil {
		return otel.Tracer(InstrumentationScope)
	}
	return tracer
}

// startJobSpan opens the span wrapping one handler execution
func (w *Worker) startJobSpan(ctx context.Context, job *domain.Job) (context.Context, trace.Span) {
	return w.tracer.Start(ctx, "jobworker.job.execute",
		trace.WithAttributes(
			attribute.Int64("jobworker.job.key", job.Key),
			attribute.String("jobworker.job.type", job.Type),
			attribute.String("jobworker.worker", w.workerName),
			attribute.Int("jobworker.job.retries", int(job.Retries)),
		),
		trace.WithSpanKind(trace.SpanKindConsumer),
	)
}

// endJobSpan records the outcome on the span and ends it
func endJobSpan(span trace.Span, outcome domain.Outcome, fault *domain.HandlerFault) {
	defer span.End()

	span.SetAttributes(attribute.String("jobworker.job.outcome", outcome.Kind.String()))

	switch {
	case fault != nil:
		span.RecordError(errors.New(fault.Reason))
		span.SetStatus(codes.Error, fault.Reason)
	case outcome.Kind == domain.OutcomeComplete:
		span.SetStatus(codes.Ok, "")
	default:
		span.SetStatus(codes.Error, outcome.ErrorMessage)
	}
}
