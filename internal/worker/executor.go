package worker

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/cuongbtq/jobworker/internal/worker/domain"
)

// Simple adapts a function returning (variables, error) into a Handler.
// A nil error completes the job with the returned variables; a non-nil
// error fails it with the error text.
func Simple(fn func(ctx context.Context, job *domain.Job) (map[string]any, error)) Handler {
	return func(ctx context.Context, job *domain.Job) domain.Outcome {
		variables, err := fn(ctx, job)
		if err != nil {
			return domain.Fail(err.Error())
		}
		return domain.Complete(variables)
	}
}

// execute runs the handler for one job behind the isolation boundary
func (w *Worker) execute(ctx context.Context, job *domain.Job) domain.Outcome {
	w.logger.Info("Processing job",
		slog.Int64("job_key", job.Key),
	)

	ctx, span := w.startJobSpan(ctx, job)

	start := time.Now()
	outcome, fault := invoke(ctx, w.handler, job)
	elapsed := time.Since(start)

	endJobSpan(span, outcome, fault)
	w.metrics.handlerFinished(ctx, elapsed, outcome.Kind)

	if fault != nil {
		attrs := []any{
			slog.Int64("job_key", job.Key),
			slog.String("reason", fault.Reason),
			slog.Duration("elapsed", elapsed),
		}
		if fault.Panic != nil {
			attrs = append(attrs,
				slog.Any("panic", fault.Panic),
				slog.String("stack", string(fault.Stack)),
			)
		}
		w.logger.Error("Job handler fault", attrs...)
	}

	return outcome
}

type invokeResult struct {
	outcome domain.Outcome
	fault   *domain.HandlerFault
}

// invoke calls the handler on a supervised goroutine. Whatever way the
// handler terminates, exactly one outcome comes back: a panic, a
// runtime.Goexit or an invalid outcome is converted into Unhandled.
func invoke(ctx context.Context, handler Handler, job *domain.Job) (domain.Outcome, *domain.HandlerFault) {
	result := make(chan invokeResult, 1)

	go func() {
		returned := false
		defer func() {
			if returned {
				return
			}
			fault := &domain.HandlerFault{Key: job.Key}
			if r := recover(); r != nil {
				fault.Reason = fmt.Sprintf("handler panicked: %v", r)
				fault.Panic = r
				fault.Stack = debug.Stack()
			} else {
				fault.Reason = "handler exited without returning an outcome"
			}
			result <- invokeResult{outcome: domain.Unhandled(fault.Reason), fault: fault}
		}()

		outcome := handler(ctx, job)
		returned = true

		if !outcome.Valid() {
			fault := &domain.HandlerFault{
				Key:    job.Key,
				Reason: fmt.Sprintf("handler returned an invalid outcome (%s)", outcome.Kind),
			}
			result <- invokeResult{outcome: domain.Unhandled(fault.Reason), fault: fault}
			return
		}
		result <- invokeResult{outcome: outcome}
	}()

	r := <-result
	return r.outcome, r.fault
}
