package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/jobworker/internal/worker/domain"
)

// run drives the worker from start to the stopped state
func (w *Worker) run(ctx context.Context) {
	defer close(w.done)

	w.loop(ctx)

	w.setState(domain.StateStopping)
	w.drainErr = w.drain()
	w.setState(domain.StateStopped)

	w.logger.Info("Worker stopped",
		slog.Int64("activated", w.counters.activated.Load()),
		slog.Int64("completed", w.counters.completed.Load()),
		slog.Int64("failed", w.counters.failed.Load()),
	)
}

// loop polls until ctx is cancelled. At most one activation call is
// outstanding at any time.
func (w *Worker) loop(ctx context.Context) {
	var ticks <-chan time.Time
	if w.pollMode == domain.PollModeInterval {
		ticker := time.NewTicker(w.pollInterval)
		defer ticker.Stop()
		ticks = ticker.C
	}

	for {
		activated, err := w.poll(ctx)
		if ctx.Err() != nil {
			return
		}
		w.setState(domain.StateIdle)

		if !w.waitNext(ctx, ticks, activated, err) {
			return
		}
	}
}

// poll runs one Polling/Dispatching cycle and returns the number of jobs
// dispatched
func (w *Worker) poll(ctx context.Context) (int, error) {
	w.setState(domain.StatePolling)

	w.pool.clearFreed()
	n := w.pool.reserve(w.maxJobs)
	if n == 0 {
		w.logger.Debug("Worker pool at capacity, skipping activation",
			slog.Int("in_flight", w.pool.inFlight()),
		)
		return 0, nil
	}

	jobs, err := w.activate(ctx, n)
	w.pool.settle(n, len(jobs))

	if len(jobs) > 0 {
		w.setState(domain.StateDispatching)
		for _, job := range jobs {
			w.dispatch(job)
		}
	}

	if err != nil {
		if ctx.Err() != nil {
			// activation interrupted by shutdown
			return len(jobs), nil
		}
		w.counters.activationErrors.Add(1)
		w.logger.Error("Failed to activate jobs",
			slog.String("error", err.Error()),
		)
		w.emitError(err)
		return len(jobs), err
	}

	return len(jobs), nil
}

// waitNext blocks in Idle until the next poll is due. It returns false
// when the worker is stopping.
func (w *Worker) waitNext(ctx context.Context, ticks <-chan time.Time, activated int, pollErr error) bool {
	if w.pollMode == domain.PollModeInterval {
		select {
		case <-ctx.Done():
			return false
		case <-ticks:
			return true
		}
	}

	// continuous mode
	if pollErr == nil && activated > 0 && w.pool.spare() > 0 {
		return true
	}

	if w.pool.spare() == 0 {
		select {
		case <-ctx.Done():
			return false
		case <-w.pool.freed:
			return true
		}
	}

	// Empty batch or activation error: back off one interval unless
	// capacity frees earlier.
	timer := time.NewTimer(w.pollInterval)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	case <-w.pool.freed:
		return true
	}
}

// drain waits for dispatched jobs to finish and be reported, bounded by
// the drain timeout. On timeout handler contexts are cancelled.
func (w *Worker) drain() error {
	inFlight := w.pool.inFlight()
	if inFlight > 0 {
		w.logger.Info("Draining in-flight jobs",
			slog.Int("in_flight", inFlight),
			slog.Duration("drain_timeout", w.drainTimeout),
		)
	}

	ctx, cancel := context.WithTimeout(context.Background(), w.drainTimeout)
	defer cancel()

	err := w.pool.wait(ctx)
	w.cancelJobs()

	if err != nil {
		remaining := w.pool.inFlight()
		w.logger.Warn("Worker drain timeout exceeded, cancelling in-flight jobs",
			slog.Int("in_flight", remaining),
		)
		return fmt.Errorf("%w: %d jobs still in flight", domain.ErrDrainTimeout, remaining)
	}

	return nil
}
