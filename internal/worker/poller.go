package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/cuongbtq/jobworker/internal/worker/domain"
)

// activate issues one ActivateJobs call for at most n jobs. Jobs returned
// alongside an error are kept: the broker has already leased them.
func (w *Worker) activate(ctx context.Context, n int) ([]*domain.Job, error) {
	req := domain.ActivationRequest{
		JobType:           w.jobType,
		Worker:            w.workerName,
		MaxJobsToActivate: n,
		Timeout:           w.jobTimeout,
	}

	w.counters.activationCalls.Add(1)
	w.logger.Debug("Activating jobs",
		slog.Int("max_jobs_to_activate", n),
		slog.Duration("timeout", w.jobTimeout),
	)

	start := time.Now()
	received, err := w.gateway.ActivateJobs(ctx, req)
	elapsed := time.Since(start)

	jobs := received[:0:0]
	for _, job := range received {
		if job != nil {
			jobs = append(jobs, job)
		}
	}

	w.metrics.activationFinished(ctx, len(jobs), err)

	if len(jobs) > n {
		w.logger.Warn("Broker returned more jobs than requested",
			slog.Int("requested", n),
			slog.Int("received", len(jobs)),
		)
	}

	if err != nil {
		return jobs, &domain.ActivationError{JobType: w.jobType, Err: err}
	}

	w.logger.Debug("Jobs activated",
		slog.Int("requested", n),
		slog.Int("received", len(jobs)),
		slog.Duration("elapsed", elapsed),
	)

	return jobs, nil
}
