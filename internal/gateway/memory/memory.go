// Package memory is an in-process job broker implementing the worker
// gateway. It follows the same lease protocol as the PostgreSQL gateway
// and backs the demo mode and engine tests.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/cuongbtq/jobworker/internal/worker/domain"
)

// Status is the broker-side state of a job
type Status string

const (
	StatusActivatable Status = "ACTIVATABLE"
	StatusActivated   Status = "ACTIVATED"
	StatusCompleted   Status = "COMPLETED"
	StatusFailed      Status = "FAILED"
)

// Record is a snapshot of a stored job
type Record struct {
	Key           int64
	Type          string
	Status        Status
	Worker        string
	Retries       int32
	Deadline      time.Time
	Variables     map[string]any
	CustomHeaders map[string]string
	ErrorMessage  string
}

// Gateway is a thread-safe in-memory broker
type Gateway struct {
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	nextKey int64
	jobs    map[int64]*Record
	calls   Calls
}

// Calls counts the remote operations served
type Calls struct {
	Activate int
	Complete int
	Fail     int
}

// Option configures a Gateway
type Option func(*Gateway)

// WithClock overrides the time source used for leases
func WithClock(now func() time.Time) Option {
	return func(g *Gateway) {
		g.now = now
	}
}

// New creates an empty broker
func New(logger *slog.Logger, opts ...Option) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	g := &Gateway{
		logger:  logger.With(slog.String("component", "memory-gateway")),
		now:     time.Now,
		nextKey: 1,
		jobs:    make(map[int64]*Record),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Enqueue stores a new activatable job and returns its key
func (g *Gateway) Enqueue(ctx context.Context, job domain.NewJob) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if job.Type == "" {
		return 0, fmt.Errorf("job type is required")
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	key := g.nextKey
	g.nextKey++

	g.jobs[key] = &Record{
		Key:           key,
		Type:          job.Type,
		Status:        StatusActivatable,
		Retries:       job.Retries,
		Variables:     maps.Clone(job.Variables),
		CustomHeaders: maps.Clone(job.CustomHeaders),
	}
	return key, nil
}

// ActivateJobs leases activatable jobs of the requested type, including
// jobs whose previous lease has expired, in key order
func (g *Gateway) ActivateJobs(ctx context.Context, req domain.ActivationRequest) ([]*domain.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls.Activate++

	if req.MaxJobsToActivate <= 0 {
		return nil, nil
	}

	now := g.now()
	keys := make([]int64, 0, len(g.jobs))
	for key, rec := range g.jobs {
		if rec.Type == req.JobType && g.activatable(rec, now) {
			keys = append(keys, key)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	if len(keys) > req.MaxJobsToActivate {
		keys = keys[:req.MaxJobsToActivate]
	}

	jobs := make([]*domain.Job, 0, len(keys))
	for _, key := range keys {
		rec := g.jobs[key]
		rec.Status = StatusActivated
		rec.Worker = req.Worker
		rec.Deadline = now.Add(req.Timeout)

		jobs = append(jobs, &domain.Job{
			Key:           rec.Key,
			Type:          rec.Type,
			Worker:        rec.Worker,
			Retries:       rec.Retries,
			Deadline:      rec.Deadline,
			Variables:     maps.Clone(rec.Variables),
			CustomHeaders: maps.Clone(rec.CustomHeaders),
		})
	}

	if len(jobs) > 0 {
		g.logger.Debug("Jobs leased",
			slog.String("job_type", req.JobType),
			slog.String("worker", req.Worker),
			slog.Int("count", len(jobs)),
		)
	}

	return jobs, nil
}

func (g *Gateway) activatable(rec *Record, now time.Time) bool {
	switch rec.Status {
	case StatusActivatable:
		return true
	case StatusActivated:
		return !now.Before(rec.Deadline)
	default:
		return false
	}
}

// CompleteJob closes a live lease and merges the variables into the job
func (g *Gateway) CompleteJob(ctx context.Context, key int64, variables map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls.Complete++

	rec, err := g.leased(key)
	if err != nil {
		return err
	}

	if rec.Variables == nil {
		rec.Variables = make(map[string]any, len(variables))
	}
	maps.Copy(rec.Variables, variables)
	rec.Status = StatusCompleted
	return nil
}

// FailJob closes a live lease and consumes one retry. The job becomes
// activatable again while retries remain.
func (g *Gateway) FailJob(ctx context.Context, key int64, errorMessage string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls.Fail++

	rec, err := g.leased(key)
	if err != nil {
		return err
	}

	rec.ErrorMessage = errorMessage
	if rec.Retries > 0 {
		rec.Retries--
	}
	if rec.Retries > 0 {
		rec.Status = StatusActivatable
	} else {
		rec.Status = StatusFailed
	}
	rec.Worker = ""
	rec.Deadline = time.Time{}
	return nil
}

// leased returns the record if it holds a lease that has not expired
func (g *Gateway) leased(key int64) (*Record, error) {
	rec, ok := g.jobs[key]
	if !ok {
		return nil, fmt.Errorf("job %d: %w", key, domain.ErrJobNotActivated)
	}
	if rec.Status != StatusActivated || !g.now().Before(rec.Deadline) {
		return nil, fmt.Errorf("job %d in status %s: %w", key, rec.Status, domain.ErrJobNotActivated)
	}
	return rec, nil
}

// Get returns a snapshot of a stored job
func (g *Gateway) Get(key int64) (Record, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	rec, ok := g.jobs[key]
	if !ok {
		return Record{}, false
	}
	snapshot := *rec
	snapshot.Variables = maps.Clone(rec.Variables)
	snapshot.CustomHeaders = maps.Clone(rec.CustomHeaders)
	return snapshot, true
}

// Calls returns how many remote operations were served
func (g *Gateway) Calls() Calls {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

// Count returns how many jobs are in the given status
func (g *Gateway) Count(status Status) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	n := 0
	for _, rec := range g.jobs {
		if rec.Status == status {
			n++
		}
	}
	return n
}
