package handler

import (
	"context"
	"log/slog"

	"github.com/cuongbtq/jobworker/internal/telemetry"
	"github.com/cuongbtq/jobworker/internal/worker"
	"github.com/cuongbtq/jobworker/internal/worker/domain"
)

// StatsProvider exposes the running worker's counters
type StatsProvider interface {
	Stats() worker.Stats
}

// JobSubmitter creates jobs on the broker the worker polls
type JobSubmitter interface {
	Enqueue(ctx context.Context, job domain.NewJob) (int64, error)
}

// MetricsSource collects the current worker metrics
type MetricsSource interface {
	Snapshot(ctx context.Context) ([]telemetry.Point, error)
}

// HealthCheck is one named dependency probe
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger  *slog.Logger
	Service string
	Worker  StatsProvider
	// Jobs is optional; the submission route is not registered without it
	Jobs           JobSubmitter
	DefaultRetries int32
	HealthChecks   []HealthCheck
	// Metrics is optional; the metrics route is not registered without it
	Metrics MetricsSource
}

// WorkerHandler serves health and worker status
type WorkerHandler struct {
	logger  *slog.Logger
	service string
	worker  StatsProvider
	checks  []HealthCheck
	metrics MetricsSource
}

// NewWorkerHandler creates a new WorkerHandler instance
func NewWorkerHandler(deps *Dependencies) *WorkerHandler {
	return &WorkerHandler{
		logger:  deps.Logger,
		service: deps.Service,
		worker:  deps.Worker,
		checks:  deps.HealthChecks,
		metrics: deps.Metrics,
	}
}

// JobHandler handles job submission requests
type JobHandler struct {
	logger         *slog.Logger
	jobs           JobSubmitter
	defaultRetries int32
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		logger:         deps.Logger,
		jobs:           deps.Jobs,
		defaultRetries: deps.DefaultRetries,
	}
}
