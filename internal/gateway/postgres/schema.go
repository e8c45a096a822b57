package postgres

import (
	"context"
	"fmt"
)

// Schema creates the jobs table used by the gateway. Variables are stored
// as an opaque document in the configured codec.
const Schema = `
CREATE TABLE IF NOT EXISTS jobs (
	job_key        BIGSERIAL PRIMARY KEY,
	job_type       TEXT        NOT NULL,
	status         TEXT        NOT NULL DEFAULT 'ACTIVATABLE',
	worker         TEXT,
	retries        INTEGER     NOT NULL DEFAULT 3,
	deadline       TIMESTAMPTZ,
	variables      BYTEA,
	custom_headers JSONB       NOT NULL DEFAULT '{}'::jsonb,
	error_message  TEXT,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	completed_at   TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_jobs_activation ON jobs (job_type, status, job_key);
`

// Migrate applies Schema. It is idempotent.
func (g *Gateway) Migrate(ctx context.Context) error {
	if _, err := g.client.DB().ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to apply jobs schema: %w", err)
	}
	g.logger.Info("Jobs schema applied")
	return nil
}
