package worker

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuongbtq/jobworker/internal/worker/domain"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultDrainTimeout  = 30 * time.Second
	defaultReportTimeout = 10 * time.Second
	defaultErrorBuffer   = 64
)

// Gateway is the remote broker surface the worker depends on.
// Transport and encoding belong to the implementation.
type Gateway interface {
	// ActivateJobs leases up to req.MaxJobsToActivate jobs. An empty result is valid.
	// Jobs returned together with an error are still considered leased.
	ActivateJobs(ctx context.Context, req domain.ActivationRequest) ([]*domain.Job, error)
	// CompleteJob closes the lease successfully. It must be called at most once per lease.
	CompleteJob(ctx context.Context, key int64, variables map[string]any) error
	// FailJob closes the lease with an error, consuming one retry on the broker.
	FailJob(ctx context.Context, key int64, errorMessage string) error
}

// Handler processes one job and returns its outcome
type Handler func(ctx context.Context, job *domain.Job) domain.Outcome

// Config holds worker configuration
type Config struct {
	Logger  *slog.Logger
	Gateway Gateway

	JobType    string
	WorkerName string

	// MaxConcurrentJobs bounds parallel handler execution and leased work
	MaxConcurrentJobs int
	// MaxJobsToActivate caps a single activation request; zero means MaxConcurrentJobs
	MaxJobsToActivate int

	PollInterval time.Duration
	PollMode     domain.PollMode
	// JobTimeout is the lease duration requested for each activated job
	JobTimeout  time.Duration
	FaultPolicy domain.FaultPolicy

	// DrainTimeout bounds how long Stop waits for in-flight jobs
	DrainTimeout time.Duration
	// ReportTimeout bounds each CompleteJob/FailJob call
	ReportTimeout time.Duration

	// ErrorBuffer is the capacity of the Errors channel
	ErrorBuffer int
	// OnError is called synchronously for every surfaced error
	OnError func(error)

	Observers []Observer
	// Meter and Tracer default to the global providers, which are noop
	// until the application installs SDK providers
	Meter  metric.Meter
	Tracer trace.Tracer
}

// Worker leases jobs of one type, runs the handler for each of them under
// a concurrency cap and reports every outcome back to the broker
type Worker struct {
	logger  *slog.Logger
	gateway Gateway
	handler Handler

	jobType       string
	workerName    string
	maxJobs       int
	pollInterval  time.Duration
	pollMode      domain.PollMode
	jobTimeout    time.Duration
	faultPolicy   domain.FaultPolicy
	drainTimeout  time.Duration
	reportTimeout time.Duration

	observers []Observer
	onError   func(error)
	errChan   chan error
	metrics   *metrics
	tracer    trace.Tracer
	pool      *pool

	mu         sync.Mutex
	started    bool
	state      domain.State
	cancelLoop context.CancelFunc
	baseCtx    context.Context
	jobsCtx    context.Context
	cancelJobs context.CancelFunc
	done       chan struct{}
	drainErr   error

	counters counters
}

type counters struct {
	activationCalls  atomic.Int64
	activationErrors atomic.Int64
	activated        atomic.Int64
	completed        atomic.Int64
	failed           atomic.Int64
	unhandled        atomic.Int64
	dropped          atomic.Int64
	abandoned        atomic.Int64
	reportingErrors  atomic.Int64
}

// Stats is a point-in-time snapshot of a worker
type Stats struct {
	JobType          string       `json:"job_type"`
	Worker           string       `json:"worker"`
	State            domain.State `json:"state"`
	Capacity         int          `json:"capacity"`
	InFlight         int          `json:"in_flight"`
	Running          int          `json:"running"`
	ActivationCalls  int64        `json:"activation_calls"`
	ActivationErrors int64        `json:"activation_errors"`
	Activated        int64        `json:"activated"`
	Completed        int64        `json:"completed"`
	Failed           int64        `json:"failed"`
	Unhandled        int64        `json:"unhandled"`
	Dropped          int64        `json:"dropped"`
	Abandoned        int64        `json:"abandoned"`
	ReportingErrors  int64        `json:"reporting_errors"`
}

// New validates the configuration and creates a worker.
// It returns a *domain.ConfigurationError when the configuration is invalid.
func New(cfg *Config, handler Handler) (*Worker, error) {
	if cfg == nil {
		return nil, &domain.ConfigurationError{Field: "config", Reason: "is required"}
	}
	if handler == nil {
		return nil, &domain.ConfigurationError{Field: "handler", Reason: "is required"}
	}
	if cfg.Gateway == nil {
		return nil, &domain.ConfigurationError{Field: "gateway", Reason: "is required"}
	}
	if cfg.JobType == "" {
		return nil, &domain.ConfigurationError{Field: "job_type", Reason: "is required"}
	}
	if cfg.MaxConcurrentJobs <= 0 {
		return nil, &domain.ConfigurationError{Field: "max_concurrent_jobs", Reason: "must be greater than 0"}
	}
	if cfg.MaxJobsToActivate < 0 {
		return nil, &domain.ConfigurationError{Field: "max_jobs_to_activate", Reason: "must not be negative"}
	}
	if cfg.PollInterval <= 0 {
		return nil, &domain.ConfigurationError{Field: "poll_interval", Reason: "must be greater than 0"}
	}
	if cfg.JobTimeout <= 0 {
		return nil, &domain.ConfigurationError{Field: "job_timeout", Reason: "must be greater than 0"}
	}
	if cfg.DrainTimeout < 0 {
		return nil, &domain.ConfigurationError{Field: "drain_timeout", Reason: "must not be negative"}
	}

	pollMode, err := domain.ParsePollMode(string(cfg.PollMode))
	if err != nil {
		return nil, &domain.ConfigurationError{Field: "poll_mode", Reason: err.Error()}
	}
	faultPolicy, err := domain.ParseFaultPolicy(string(cfg.FaultPolicy))
	if err != nil {
		return nil, &domain.ConfigurationError{Field: "on_handler_fault", Reason: err.Error()}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	workerName := cfg.WorkerName
	if workerName == "" {
		workerName = DefaultWorkerName()
	}

	maxJobs := cfg.MaxJobsToActivate
	if maxJobs == 0 {
		maxJobs = cfg.MaxConcurrentJobs
	}

	drainTimeout := cfg.DrainTimeout
	if drainTimeout == 0 {
		drainTimeout = defaultDrainTimeout
	}

	reportTimeout := cfg.ReportTimeout
	if reportTimeout <= 0 {
		reportTimeout = defaultReportTimeout
	}

	errorBuffer := cfg.ErrorBuffer
	if errorBuffer <= 0 {
		errorBuffer = defaultErrorBuffer
	}

	w := &Worker{
		logger: logger.With(
			slog.String("job_type", cfg.JobType),
			slog.String("worker", workerName),
		),
		gateway:       cfg.Gateway,
		handler:       handler,
		jobType:       cfg.JobType,
		workerName:    workerName,
		maxJobs:       maxJobs,
		pollInterval:  cfg.PollInterval,
		pollMode:      pollMode,
		jobTimeout:    cfg.JobTimeout,
		faultPolicy:   faultPolicy,
		drainTimeout:  drainTimeout,
		reportTimeout: reportTimeout,
		observers:     cfg.Observers,
		onError:       cfg.OnError,
		errChan:       make(chan error, errorBuffer),
		metrics:       newMetrics(cfg.Meter, cfg.JobType, workerName),
		tracer:        newTracer(cfg.Tracer),
		pool:          newPool(cfg.MaxConcurrentJobs),
		state:         domain.StateIdle,
		done:          make(chan struct{}),
	}

	return w, nil
}

// DefaultWorkerName builds a worker identity from the host name and a random suffix
func DefaultWorkerName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
}

// Start launches the poll loop and returns immediately. Cancelling ctx
// has the same effect as calling Stop without waiting for the drain.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.started {
		return domain.ErrAlreadyStarted
	}
	w.started = true

	loopCtx, cancel := context.WithCancel(ctx)
	w.cancelLoop = cancel

	// Handlers and reports outlive the cancellation signal so leased work
	// is finished and reported during the drain.
	w.baseCtx = context.WithoutCancel(ctx)
	w.jobsCtx, w.cancelJobs = context.WithCancel(w.baseCtx)

	w.logger.Info("Starting worker",
		slog.Int("max_concurrent_jobs", w.pool.capacity),
		slog.Int("max_jobs_to_activate", w.maxJobs),
		slog.Duration("poll_interval", w.pollInterval),
		slog.String("poll_mode", string(w.pollMode)),
		slog.Duration("job_timeout", w.jobTimeout),
		slog.String("on_handler_fault", string(w.faultPolicy)),
	)

	go w.run(loopCtx)

	return nil
}

// Stop stops issuing activation requests and waits for in-flight jobs to
// finish and be reported. The wait is bounded by the drain timeout and by
// ctx; when either elapses, handler contexts are cancelled and an error
// wrapping domain.ErrDrainTimeout is returned.
func (w *Worker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return domain.ErrNotStarted
	}
	cancel := w.cancelLoop
	w.mu.Unlock()

	w.logger.Info("Stopping worker...")
	cancel()

	select {
	case <-w.done:
		return w.drainErr
	case <-ctx.Done():
		w.cancelJobs()
		w.logger.Warn("Worker stop deadline exceeded, cancelling in-flight jobs",
			slog.Int("in_flight", w.pool.inFlight()),
		)
		return fmt.Errorf("%w: %w", domain.ErrDrainTimeout, ctx.Err())
	}
}

// Done is closed once the worker reached the stopped state
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

// Errors delivers activation and reporting errors. The channel is never
// closed; select on Done to stop reading. Errors are dropped when the
// buffer is full.
func (w *Worker) Errors() <-chan error {
	return w.errChan
}

// Name returns the worker identity sent with activation requests
func (w *Worker) Name() string {
	return w.workerName
}

// State returns the current scheduler state
func (w *Worker) State() domain.State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Stats returns a snapshot of the worker counters
func (w *Worker) Stats() Stats {
	return Stats{
		JobType:          w.jobType,
		Worker:           w.workerName,
		State:            w.State(),
		Capacity:         w.pool.capacity,
		InFlight:         w.pool.inFlight(),
		Running:          w.pool.runningCount(),
		ActivationCalls:  w.counters.activationCalls.Load(),
		ActivationErrors: w.counters.activationErrors.Load(),
		Activated:        w.counters.activated.Load(),
		Completed:        w.counters.completed.Load(),
		Failed:           w.counters.failed.Load(),
		Unhandled:        w.counters.unhandled.Load(),
		Dropped:          w.counters.dropped.Load(),
		Abandoned:        w.counters.abandoned.Load(),
		ReportingErrors:  w.counters.reportingErrors.Load(),
	}
}

func (w *Worker) setState(s domain.State) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state == domain.StateStopped {
		return
	}
	w.state = s
}

// emitError surfaces an error without ever blocking the engine
func (w *Worker) emitError(err error) {
	if w.onError != nil {
		w.onError(err)
	}

	select {
	case w.errChan <- err:
	default:
		w.logger.Warn("Error channel full, dropping error",
			slog.String("error", err.Error()),
		)
	}
}
