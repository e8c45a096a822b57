package worker

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/cuongbtq/jobworker/internal/worker/domain"
	"golang.org/x/sync/semaphore"
)

// pool tracks leased work and bounds how many handlers run at once.
//
// outstanding counts slots booked for jobs that were requested, dispatched
// or are being reported. It is the only state shared between the control
// loop and job goroutines and is guarded by mu. The semaphore bounds the
// number of goroutines actually executing a handler.
type pool struct {
	capacity int
	sem      *semaphore.Weighted

	mu          sync.Mutex
	outstanding int

	running atomic.Int64
	wg      sync.WaitGroup

	// freed receives a signal whenever capacity is released
	freed chan struct{}
}

func newPool(capacity int) *pool {
	return &pool{
		capacity: capacity,
		sem:      semaphore.NewWeighted(int64(capacity)),
		freed:    make(chan struct{}, 1),
	}
}

// reserve books up to n slots and returns how many were granted
func (p *pool) reserve(n int) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	spare := p.capacity - p.outstanding
	if spare <= 0 || n <= 0 {
		return 0
	}
	if n > spare {
		n = spare
	}
	p.outstanding += n
	return n
}

// settle reconciles a reservation with the number of jobs actually
// received. Unused slots are returned; surplus jobs are booked so they
// still count against capacity. The control loop is the only caller, so
// no freed signal is raised.
func (p *pool) settle(reserved, received int) {
	diff := reserved - received
	if diff == 0 {
		return
	}

	p.mu.Lock()
	p.outstanding -= diff
	p.mu.Unlock()
}

// spare returns the number of slots available for the next activation
func (p *pool) spare() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	if s := p.capacity - p.outstanding; s > 0 {
		return s
	}
	return 0
}

func (p *pool) inFlight() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.outstanding
}

func (p *pool) runningCount() int {
	return int(p.running.Load())
}

// submit runs fn for one booked job on its own goroutine once a handler
// slot is free. If ctx is cancelled before a slot frees up, abandon is
// called instead and fn never runs. The booked slot is released after
// fn or abandon returns.
func (p *pool) submit(ctx context.Context, fn func(ctx context.Context), abandon func()) {
	p.wg.Add(1)

	go func() {
		defer p.release()

		if err := p.sem.Acquire(ctx, 1); err != nil {
			abandon()
			return
		}
		defer p.sem.Release(1)

		p.running.Add(1)
		defer p.running.Add(-1)

		fn(ctx)
	}()
}

func (p *pool) release() {
	p.mu.Lock()
	p.outstanding--
	p.mu.Unlock()

	p.wg.Done()
	p.signal()
}

// clearFreed discards a pending freed signal. Releases before this point
// are already visible to reserve.
func (p *pool) clearFreed() {
	select {
	case <-p.freed:
	default:
	}
}

func (p *pool) signal() {
	select {
	case p.freed <- struct{}{}:
	default:
	}
}

// wait blocks until every submitted job finished or ctx is done
func (p *pool) wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// dispatch hands one activated job to the pool without blocking the caller
func (w *Worker) dispatch(job *domain.Job) {
	w.counters.activated.Add(1)
	w.metrics.jobDispatched(job)

	w.logger.Debug("Job dispatched to worker pool",
		slog.Int64("job_key", job.Key),
		slog.Int("retries", int(job.Retries)),
		slog.Time("deadline", job.Deadline),
	)

	w.pool.submit(w.jobsCtx,
		func(ctx context.Context) {
			outcome := w.execute(ctx, job)
			w.report(job, outcome)
			w.metrics.jobFinished(job)
		},
		func() {
			w.counters.abandoned.Add(1)
			w.metrics.jobFinished(job)
			w.logger.Warn("Job abandoned before start, lease left to expire",
				slog.Int64("job_key", job.Key),
			)
		},
	)
}
