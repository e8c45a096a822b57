package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/jobworker/internal/worker/domain"
)

// Report describes what happened to one job after its handler returned
type Report struct {
	Job     *domain.Job
	Outcome domain.Outcome

	// Op is the remote call issued, empty when the job was dropped
	Op domain.ReportOp
	// Err is the *domain.ReportingError when the remote call failed
	Err error

	ReportedAt time.Time
}

// Dropped reports whether no remote call was issued for the job
func (r Report) Dropped() bool {
	return r.Op == ""
}

// Observer is notified after every report attempt. Implementations must
// not block; they run on the job goroutine.
type Observer interface {
	JobReported(ctx context.Context, report Report)
}

// ObserverFunc adapts a function to the Observer interface
type ObserverFunc func(ctx context.Context, report Report)

// JobReported calls f
func (f ObserverFunc) JobReported(ctx context.Context, report Report) {
	f(ctx, report)
}

// report translates an outcome into exactly one CompleteJob or FailJob
// call, or none for a dropped fault. A failed call is surfaced once and
// never retried: the broker gives no idempotency guarantee, so the job is
// left to its lease expiry instead.
func (w *Worker) report(job *domain.Job, outcome domain.Outcome) {
	ctx, cancel := context.WithTimeout(w.baseCtx, w.reportTimeout)
	defer cancel()

	if !outcome.Valid() {
		outcome = domain.Unhandled(fmt.Sprintf("invalid outcome (%s)", outcome.Kind))
	}
	rep := Report{Job: job, Outcome: outcome}

	var err error
	switch outcome.Kind {
	case domain.OutcomeComplete:
		rep.Op = domain.ReportOpComplete
		err = w.gateway.CompleteJob(ctx, job.Key, outcome.Variables)
	case domain.OutcomeFail:
		rep.Op = domain.ReportOpFail
		err = w.gateway.FailJob(ctx, job.Key, outcome.ErrorMessage)
	case domain.OutcomeUnhandled:
		w.counters.unhandled.Add(1)
		if w.faultPolicy == domain.FaultPolicyDropAndLetLeaseExpire {
			w.counters.dropped.Add(1)
			w.logger.Warn("Dropping faulted job, lease left to expire",
				slog.Int64("job_key", job.Key),
				slog.String("reason", outcome.ErrorMessage),
			)
			break
		}
		rep.Op = domain.ReportOpFail
		err = w.gateway.FailJob(ctx, job.Key, outcome.ErrorMessage)
	}

	rep.ReportedAt = time.Now()

	if err != nil {
		repErr := &domain.ReportingError{Key: job.Key, Op: rep.Op, Err: err}
		rep.Err = repErr
		w.counters.reportingErrors.Add(1)

		w.logger.Error("Failed to report job outcome",
			slog.Int64("job_key", job.Key),
			slog.String("op", string(rep.Op)),
			slog.String("outcome", outcome.Kind.String()),
			slog.Bool("lease_expired", errors.Is(err, domain.ErrJobNotActivated)),
			slog.String("error", err.Error()),
		)
		w.emitError(repErr)
	} else if rep.Op != "" {
		if rep.Op == domain.ReportOpComplete {
			w.counters.completed.Add(1)
			w.logger.Info("Job completed successfully",
				slog.Int64("job_key", job.Key),
			)
		} else {
			w.counters.failed.Add(1)
			w.logger.Info("Job failed",
				slog.Int64("job_key", job.Key),
				slog.String("outcome", outcome.Kind.String()),
				slog.String("error_message", outcome.ErrorMessage),
			)
		}
	}

	w.metrics.jobReported(ctx, rep)
	w.notify(ctx, rep)
}

// notify fans a report out to the observers; a panicking observer is
// logged and does not affect the job or its siblings
func (w *Worker) notify(ctx context.Context, rep Report) {
	for _, obs := range w.observers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					w.logger.Error("Observer panicked",
						slog.Int64("job_key", rep.Job.Key),
						slog.Any("panic", r),
					)
				}
			}()
			obs.JobReported(ctx, rep)
		}()
	}
}
