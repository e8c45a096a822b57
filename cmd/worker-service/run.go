package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuongbtq/jobworker/internal/api/handler"
	"github.com/cuongbtq/jobworker/internal/api/router"
	"github.com/cuongbtq/jobworker/internal/config"
	"github.com/cuongbtq/jobworker/internal/demo"
	"github.com/cuongbtq/jobworker/internal/events"
	"github.com/cuongbtq/jobworker/internal/telemetry"
	"github.com/cuongbtq/jobworker/internal/worker"
	"github.com/cuongbtq/jobworker/shared/rabbitmq"
	"github.com/gin-gonic/gin"
)

// stopMargin is added to the drain timeout when stopping the worker
const stopMargin = 5 * time.Second

type runOptions struct {
	seedJobs int
}

func runWorker(ctx context.Context, configPath string, opts runOptions) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()
	log := appLogger.Logger

	log.Info("Starting worker service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
		slog.String("gateway", cfg.Gateway.Driver),
	)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tel, err := initTelemetry(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), stopMargin)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			log.Error("Failed to shut down telemetry", slog.Any("error", err))
		}
	}()

	be, err := initBackend(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := be.shutdown(); err != nil {
			log.Error("Failed to close gateway", slog.Any("error", err))
		}
	}()

	var (
		observers    []worker.Observer
		observer     *events.Observer
		rabbitClient *rabbitmq.Client
	)
	if cfg.Events.Enabled {
		observer, rabbitClient, err = initEvents(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer rabbitClient.Close()
		observers = append(observers, observer)
	}

	wcfg, err := workerConfig(&cfg.Worker, log, be.store, observers, tel)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	w, err := worker.New(wcfg, demo.NewHandler(log))
	if err != nil {
		return fmt.Errorf("failed to create worker: %w", err)
	}

	if opts.seedJobs > 0 {
		if err := seedJobs(ctx, be.store, cfg.Worker.JobType, cfg.Gateway.DefaultRetries, opts.seedJobs); err != nil {
			return err
		}
		log.Info("Seeded demo jobs", slog.Int("count", opts.seedJobs))
	}

	if err := w.Start(context.Background()); err != nil {
		return fmt.Errorf("failed to start worker: %w", err)
	}
	go logWorkerErrors(log, w)

	var srv *http.Server
	serverErr := make(chan error, 1)
	if cfg.Server.Enabled {
		srv = newStatusServer(cfg, log, w, be, tel)
		go func() {
			log.Info("Status server listening", slog.Int("port", cfg.Server.Port))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serverErr <- err
			}
		}()
	}

	log.Info("Worker service started successfully",
		slog.String("job_type", cfg.Worker.JobType),
		slog.String("worker", w.Name()),
	)

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("Received signal, shutting down gracefully")
	case err := <-serverErr:
		log.Error("Status server failed", slog.Any("error", err))
		runErr = fmt.Errorf("status server: %w", err)
	}

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("Status server forced to shutdown", slog.Any("error", err))
		}
		cancel()
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), cfg.Worker.DrainTimeout+stopMargin)
	defer cancel()
	if err := w.Stop(stopCtx); err != nil {
		log.Warn("Worker did not drain cleanly", slog.Any("error", err))
	} else {
		log.Info("Worker stopped gracefully")
	}

	if observer != nil {
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.Events.PublishTimeout+stopMargin)
		if err := observer.Close(closeCtx); err != nil {
			log.Error("Failed to flush outcome events", slog.Any("error", err))
		}
		cancel()
	}

	stats := w.Stats()
	log.Info("Worker service stopped",
		slog.Int64("activated", stats.Activated),
		slog.Int64("completed", stats.Completed),
		slog.Int64("failed", stats.Failed),
		slog.Int64("unhandled", stats.Unhandled),
		slog.Int64("reporting_errors", stats.ReportingErrors),
	)

	return runErr
}

// logWorkerErrors drains the worker's error stream until it stops
func logWorkerErrors(log *slog.Logger, w *worker.Worker) {
	for {
		select {
		case err := <-w.Errors():
			log.Debug("Worker error surfaced", slog.Any("error", err))
		case <-w.Done():
			return
		}
	}
}

// newStatusServer builds the HTTP server for health, stats and job submission
func newStatusServer(cfg *config.Config, log *slog.Logger, w *worker.Worker, be *backend, tel *telemetry.Provider) *http.Server {
	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	deps := &handler.Dependencies{
		Logger:         log,
		Service:        cfg.App.Name,
		Worker:         w,
		DefaultRetries: cfg.Gateway.DefaultRetries,
		HealthChecks:   be.checks,
	}
	if cfg.Server.EnableSubmit {
		deps.Jobs = be.store
	}
	if cfg.Telemetry.Metrics {
		deps.Metrics = tel
	}

	return &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router.SetupRouter(deps),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
}
