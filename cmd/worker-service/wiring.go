package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/cuongbtq/jobworker/internal/api/handler"
	"github.com/cuongbtq/jobworker/internal/codec"
	"github.com/cuongbtq/jobworker/internal/config"
	"github.com/cuongbtq/jobworker/internal/events"
	"github.com/cuongbtq/jobworker/internal/gateway/memory"
	"github.com/cuongbtq/jobworker/internal/gateway/postgres"
	"github.com/cuongbtq/jobworker/internal/telemetry"
	"github.com/cuongbtq/jobworker/internal/worker"
	"github.com/cuongbtq/jobworker/internal/worker/domain"
	"github.com/cuongbtq/jobworker/shared/logger"
	"github.com/cuongbtq/jobworker/shared/postgresql"
	"github.com/cuongbtq/jobworker/shared/rabbitmq"
)

// jobStore is a gateway that also accepts new jobs
type jobStore interface {
	worker.Gateway
	handler.JobSubmitter
}

// backend is the selected gateway with its optional resources
type backend struct {
	store    jobStore
	checks   []handler.HealthCheck
	shutdown func() error
}

// initLogger initializes the logger from configuration
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	return logger.New(&logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
	})
}

// initPostgreSQL initializes the PostgreSQL client
func initPostgreSQL(ctx context.Context, cfg *config.DatabaseConfig, log *slog.Logger) (*postgresql.Client, error) {
	return postgresql.NewClient(ctx, &postgresql.Config{
		URL:             cfg.URL,
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	}, log)
}

// initRabbitMQ initializes the RabbitMQ client
func initRabbitMQ(ctx context.Context, cfg *config.RabbitMQConfig, log *slog.Logger) (*rabbitmq.Client, error) {
	return rabbitmq.NewClient(ctx, &rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		ExchangeDurable:    cfg.Exchange.Durable,
		ExchangeAutoDelete: cfg.Exchange.AutoDelete,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
	}, log)
}

// initTelemetry installs the SDK providers enabled in the telemetry section
func initTelemetry(cfg *config.Config) (*telemetry.Provider, error) {
	traceWriter := os.Stderr
	if cfg.Telemetry.TraceOutput == "stdout" {
		traceWriter = os.Stdout
	}

	return telemetry.New(telemetry.Config{
		ServiceName: cfg.App.Name,
		Metrics:     cfg.Telemetry.Metrics,
		Tracing:     cfg.Telemetry.Tracing,
		TraceWriter: traceWriter,
	})
}

// initBackend builds the gateway selected by gateway.driver
func initBackend(ctx context.Context, cfg *config.Config, log *slog.Logger) (*backend, error) {
	switch cfg.Gateway.Driver {
	case config.DriverMemory:
		log.Warn("Using in-memory job gateway, jobs are lost on exit")
		return &backend{
			store:    memory.New(log),
			shutdown: func() error { return nil },
		}, nil

	case config.DriverPostgres:
		c, err := codec.Get(cfg.Gateway.Codec)
		if err != nil {
			return nil, err
		}

		db, err := initPostgreSQL(ctx, &cfg.Database, log)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize database: %w", err)
		}

		gw := postgres.New(db, c, log)
		if cfg.Gateway.Migrate {
			if err := gw.Migrate(ctx); err != nil {
				db.Close()
				return nil, err
			}
		}

		return &backend{
			store:    gw,
			checks:   []handler.HealthCheck{{Name: "database", Check: gw.HealthCheck}},
			shutdown: db.Close,
		}, nil

	default:
		return nil, fmt.Errorf("unknown gateway driver %q", cfg.Gateway.Driver)
	}
}

// initEvents connects to RabbitMQ and builds the outcome event observer
func initEvents(ctx context.Context, cfg *config.Config, log *slog.Logger) (*events.Observer, *rabbitmq.Client, error) {
	c, err := codec.Get(cfg.Events.Codec)
	if err != nil {
		return nil, nil, err
	}

	rabbitClient, err := initRabbitMQ(ctx, &cfg.RabbitMQ, log)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}

	observer, err := events.NewObserver(events.Config{
		Logger:         log,
		Publisher:      rabbitClient,
		Codec:          c,
		Buffer:         cfg.Events.Buffer,
		PublishTimeout: cfg.Events.PublishTimeout,
	})
	if err != nil {
		rabbitClient.Close()
		return nil, nil, err
	}

	return observer, rabbitClient, nil
}

// workerConfig maps the worker section onto worker.Config
func workerConfig(cfg *config.WorkerConfig, log *slog.Logger, gw worker.Gateway, observers []worker.Observer, tel *telemetry.Provider) (*worker.Config, error) {
	mode, err := domain.ParsePollMode(cfg.PollMode)
	if err != nil {
		return nil, err
	}
	policy, err := domain.ParseFaultPolicy(cfg.OnHandlerFault)
	if err != nil {
		return nil, err
	}

	return &worker.Config{
		Logger:            log,
		Gateway:           gw,
		JobType:           cfg.JobType,
		WorkerName:        cfg.WorkerName,
		MaxConcurrentJobs: cfg.MaxConcurrentJobs,
		MaxJobsToActivate: cfg.MaxJobsToActivate,
		PollInterval:      cfg.PollInterval,
		PollMode:          mode,
		JobTimeout:        cfg.JobTimeout,
		FaultPolicy:       policy,
		DrainTimeout:      cfg.DrainTimeout,
		ReportTimeout:     cfg.ReportTimeout,
		ErrorBuffer:       cfg.ErrorBuffer,
		Observers:         observers,
		Meter:             tel.Meter(worker.InstrumentationScope),
		Tracer:            tel.Tracer(worker.InstrumentationScope),
	}, nil
}

// seedJobs enqueues demo jobs for the configured job type
func seedJobs(ctx context.Context, store handler.JobSubmitter, jobType string, retries int32, n int) error {
	for i := 0; i < n; i++ {
		_, err := store.Enqueue(ctx, domain.NewJob{
			Type:    jobType,
			Retries: retries,
			Variables: map[string]any{
				"seq":   i + 1,
				"sleep": "200ms",
			},
		})
		if err != nil {
			return fmt.Errorf("failed to seed job %d: %w", i+1, err)
		}
	}
	return nil
}
