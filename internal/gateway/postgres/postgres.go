// Package postgres implements the worker gateway on top of a PostgreSQL
// jobs table. Leases are taken with FOR UPDATE SKIP LOCKED so several
// workers can poll the same table.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sort"

	"github.com/cuongbtq/jobworker/internal/codec"
	"github.com/cuongbtq/jobworker/internal/worker/domain"
	"github.com/cuongbtq/jobworker/shared/postgresql"
	"github.com/jmoiron/sqlx"
)

// Job status values stored in jobs.status
const (
	StatusActivatable = "ACTIVATABLE"
	StatusActivated   = "ACTIVATED"
	StatusCompleted   = "COMPLETED"
	StatusFailed      = "FAILED"
)

// Gateway leases and settles jobs stored in PostgreSQL
type Gateway struct {
	client *postgresql.Client
	codec  codec.Codec
	logger *slog.Logger
}

// New creates a gateway. Variables are encoded with c.
func New(client *postgresql.Client, c codec.Codec, logger *slog.Logger) *Gateway {
	return &Gateway{
		client: client,
		codec:  c,
		logger: logger.With(slog.String("component", "postgres-gateway")),
	}
}

type jobRow struct {
	Key           int64          `db:"job_key"`
	Type          string         `db:"job_type"`
	Status        string         `db:"status"`
	Worker        sql.NullString `db:"worker"`
	Retries       int32          `db:"retries"`
	Deadline      sql.NullTime   `db:"deadline"`
	Variables     []byte         `db:"variables"`
	CustomHeaders []byte         `db:"custom_headers"`
	ErrorMessage  sql.NullString `db:"error_message"`
}

func (g *Gateway) toJob(row jobRow) (*domain.Job, error) {
	variables, err := codec.DecodeVariables(g.codec, row.Variables)
	if err != nil {
		return nil, fmt.Errorf("job %d: %w", row.Key, err)
	}

	headers := map[string]string{}
	if len(row.CustomHeaders) > 0 {
		if err := json.Unmarshal(row.CustomHeaders, &headers); err != nil {
			return nil, fmt.Errorf("job %d: failed to decode custom headers: %w", row.Key, err)
		}
	}

	return &domain.Job{
		Key:           row.Key,
		Type:          row.Type,
		Worker:        row.Worker.String,
		Retries:       row.Retries,
		Deadline:      row.Deadline.Time,
		Variables:     variables,
		CustomHeaders: headers,
	}, nil
}

// Enqueue inserts a new activatable job and returns its key
func (g *Gateway) Enqueue(ctx context.Context, job domain.NewJob) (int64, error) {
	variables, err := codec.EncodeVariables(g.codec, job.Variables)
	if err != nil {
		return 0, err
	}

	headers := job.CustomHeaders
	if headers == nil {
		headers = map[string]string{}
	}
	headersJSON, err := json.Marshal(headers)
	if err != nil {
		return 0, fmt.Errorf("failed to encode custom headers: %w", err)
	}

	query := `
		INSERT INTO jobs (job_type, status, retries, variables, custom_headers)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING job_key
	`

	var key int64
	if err := g.client.DB().GetContext(ctx, &key, query,
		job.Type, StatusActivatable, job.Retries, variables, headersJSON,
	); err != nil {
		return 0, fmt.Errorf("failed to enqueue job: %w", err)
	}

	g.logger.Debug("Job enqueued",
		slog.Int64("job_key", key),
		slog.String("job_type", job.Type),
	)

	return key, nil
}

// ActivateJobs leases up to req.MaxJobsToActivate jobs of req.JobType.
// Activatable jobs and jobs with an expired lease are eligible; rows locked
// by a concurrent activation are skipped.
func (g *Gateway) ActivateJobs(ctx context.Context, req domain.ActivationRequest) ([]*domain.Job, error) {
	if req.MaxJobsToActivate <= 0 {
		return nil, nil
	}

	query := `
		UPDATE jobs
		SET status = $1,
		    worker = $2,
		    deadline = NOW() + ($3::double precision * INTERVAL '1 second'),
		    updated_at = NOW()
		WHERE job_key IN (
			SELECT job_key
			FROM jobs
			WHERE job_type = $4
			  AND (status = $5 OR (status = $1 AND deadline <= NOW()))
			ORDER BY job_key
			LIMIT $6
			FOR UPDATE SKIP LOCKED
		)
		RETURNING job_key, job_type, status, worker, retries, deadline, variables, custom_headers, error_message
	`

	var rows []jobRow
	err := g.client.DB().SelectContext(ctx, &rows, query,
		StatusActivated,
		req.Worker,
		req.Timeout.Seconds(),
		req.JobType,
		StatusActivatable,
		req.MaxJobsToActivate,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to activate jobs: %w", err)
	}

	sort.Slice(rows, func(i, j int) bool { return rows[i].Key < rows[j].Key })

	jobs := make([]*domain.Job, 0, len(rows))
	var decodeErrs []error
	for _, row := range rows {
		job, err := g.toJob(row)
		if err != nil {
			// The lease is taken; the job goes back to the pool on expiry.
			g.logger.Error("Failed to decode leased job",
				slog.Int64("job_key", row.Key),
				slog.Any("error", err),
			)
			decodeErrs = append(decodeErrs, err)
			continue
		}
		jobs = append(jobs, job)
	}

	return jobs, errors.Join(decodeErrs...)
}

// CompleteJob closes a live lease and merges variables into the stored
// document. It returns domain.ErrJobNotActivated when the lease is gone.
func (g *Gateway) CompleteJob(ctx context.Context, key int64, variables map[string]any) error {
	return g.client.InTx(ctx, func(tx *sqlx.Tx) error {
		var stored []byte
		err := tx.GetContext(ctx, &stored, `
			SELECT variables
			FROM jobs
			WHERE job_key = $1 AND status = $2 AND deadline > NOW()
			FOR UPDATE
		`, key, StatusActivated)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("job %d: %w", key, domain.ErrJobNotActivated)
		}
		if err != nil {
			return fmt.Errorf("failed to lock job %d: %w", key, err)
		}

		merged, err := codec.DecodeVariables(g.codec, stored)
		if err != nil {
			return err
		}
		maps.Copy(merged, variables)

		encoded, err := codec.EncodeVariables(g.codec, merged)
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE jobs
			SET status = $1,
			    variables = $2,
			    completed_at = NOW(),
			    updated_at = NOW()
			WHERE job_key = $3
		`, StatusCompleted, encoded, key); err != nil {
			return fmt.Errorf("failed to complete job %d: %w", key, err)
		}

		return nil
	})
}

// FailJob closes a live lease and consumes one retry. The job becomes
// activatable again while retries remain and FAILED otherwise.
func (g *Gateway) FailJob(ctx context.Context, key int64, errorMessage string) error {
	query := `
		UPDATE jobs
		SET retries = GREATEST(retries - 1, 0),
		    status = CASE WHEN retries - 1 > 0 THEN $1 ELSE $2 END,
		    error_message = $3,
		    worker = NULL,
		    deadline = NULL,
		    completed_at = CASE WHEN retries - 1 > 0 THEN NULL ELSE NOW() END,
		    updated_at = NOW()
		WHERE job_key = $4 AND status = $5 AND deadline > NOW()
	`

	result, err := g.client.DB().ExecContext(ctx, query,
		StatusActivatable, StatusFailed, errorMessage, key, StatusActivated,
	)
	if err != nil {
		return fmt.Errorf("failed to fail job %d: %w", key, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("job %d: %w", key, domain.ErrJobNotActivated)
	}

	return nil
}

// Record is a stored job with its broker-side status
type Record struct {
	Job          *domain.Job
	Status       string
	ErrorMessage string
}

// Get loads a job by key
func (g *Gateway) Get(ctx context.Context, key int64) (*Record, error) {
	var row jobRow
	err := g.client.DB().GetContext(ctx, &row, `
		SELECT job_key, job_type, status, worker, retries, deadline, variables, custom_headers, error_message
		FROM jobs
		WHERE job_key = $1
	`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job %d not found", key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job %d: %w", key, err)
	}

	job, err := g.toJob(row)
	if err != nil {
		return nil, err
	}
	return &Record{Job: job, Status: row.Status, ErrorMessage: row.ErrorMessage.String}, nil
}

// HealthCheck reports whether the database is reachable
func (g *Gateway) HealthCheck(ctx context.Context) error {
	return g.client.HealthCheck(ctx)
}
