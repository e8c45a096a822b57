package postgres

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/cuongbtq/jobworker/internal/codec"
	"github.com/cuongbtq/jobworker/internal/worker/domain"
	"github.com/cuongbtq/jobworker/shared/postgresql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestToJob(t *testing.T) {
	for _, c := range []codec.Codec{codec.JSON{}, codec.Msgpack{}} {
		t.Run(c.Name(), func(t *testing.T) {
			g := &Gateway{codec: c, logger: discardLogger()}

			vars, err := codec.EncodeVariables(c, map[string]any{"orderId": "A-1"})
			require.NoError(t, err)
			deadline := time.Now().Add(time.Minute)

			job, err := g.toJob(jobRow{
				Key:           7,
				Type:          "payment",
				Worker:        sql.NullString{String: "w1", Valid: true},
				Retries:       2,
				Deadline:      sql.NullTime{Time: deadline, Valid: true},
				Variables:     vars,
				CustomHeaders: []byte(`{"region":"eu"}`),
			})
			require.NoError(t, err)

			assert.Equal(t, int64(7), job.Key)
			assert.Equal(t, "w1", job.Worker)
			assert.Equal(t, int32(2), job.Retries)
			assert.Equal(t, deadline, job.Deadline)
			assert.Equal(t, "A-1", job.Variables["orderId"])
			assert.Equal(t, "eu", job.CustomHeaders["region"])
		})
	}
}

func TestToJob_NullColumns(t *testing.T) {
	g := &Gateway{codec: codec.JSON{}, logger: discardLogger()}

	job, err := g.toJob(jobRow{Key: 1, Type: "payment"})
	require.NoError(t, err)
	assert.NotNil(t, job.Variables)
	assert.NotNil(t, job.CustomHeaders)
	assert.Empty(t, job.Worker)
}

func TestToJob_Malformed(t *testing.T) {
	g := &Gateway{codec: codec.JSON{}, logger: discardLogger()}

	_, err := g.toJob(jobRow{Key: 3, Variables: []byte("{broken")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "job 3")

	_, err = g.toJob(jobRow{Key: 4, CustomHeaders: []byte("[1]")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "custom headers")
}

// newIntegrationGateway connects to WORKER_TEST_DATABASE_URL and resets
// the jobs table. The test is skipped when the variable is unset.
func newIntegrationGateway(t *testing.T) *Gateway {
	t.Helper()

	url := os.Getenv("WORKER_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("WORKER_TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	client, err := postgresql.NewClient(ctx, &postgresql.Config{URL: url}, discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	g := New(client, codec.JSON{}, discardLogger())
	require.NoError(t, g.Migrate(ctx))
	_, err = client.DB().ExecContext(ctx, "TRUNCATE jobs RESTART IDENTITY")
	require.NoError(t, err)

	return g
}

func TestIntegration_LeaseProtocol(t *testing.T) {
	g := newIntegrationGateway(t)
	ctx := context.Background()

	var keys []int64
	for i := 0; i < 3; i++ {
		key, err := g.Enqueue(ctx, domain.NewJob{
			Type:          "payment",
			Retries:       2,
			Variables:     map[string]any{"i": i},
			CustomHeaders: map[string]string{"region": "eu"},
		})
		require.NoError(t, err)
		keys = append(keys, key)
	}

	req := domain.ActivationRequest{JobType: "payment", Worker: "w1", MaxJobsToActivate: 2, Timeout: time.Minute}
	jobs, err := g.ActivateJobs(ctx, req)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, keys[0], jobs[0].Key)
	assert.Equal(t, "w1", jobs[0].Worker)
	assert.Equal(t, "eu", jobs[0].CustomHeaders["region"])
	assert.WithinDuration(t, time.Now().Add(time.Minute), jobs[0].Deadline, 10*time.Second)

	require.NoError(t, g.CompleteJob(ctx, jobs[0].Key, map[string]any{"paid": true}))
	rec, err := g.Get(ctx, jobs[0].Key)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, rec.Status)
	assert.Equal(t, true, rec.Job.Variables["paid"])
	assert.Equal(t, float64(0), rec.Job.Variables["i"])

	// a settled lease cannot be reported again
	assert.ErrorIs(t, g.CompleteJob(ctx, jobs[0].Key, nil), domain.ErrJobNotActivated)
	assert.ErrorIs(t, g.FailJob(ctx, jobs[0].Key, "late"), domain.ErrJobNotActivated)

	require.NoError(t, g.FailJob(ctx, jobs[1].Key, "declined"))
	rec, err = g.Get(ctx, jobs[1].Key)
	require.NoError(t, err)
	assert.Equal(t, StatusActivatable, rec.Status)
	assert.Equal(t, int32(1), rec.Job.Retries)
	assert.Equal(t, "declined", rec.ErrorMessage)

	// the failed job and the untouched one are both activatable
	jobs, err = g.ActivateJobs(ctx, domain.ActivationRequest{JobType: "payment", Worker: "w2", MaxJobsToActivate: 5, Timeout: time.Minute})
	require.NoError(t, err)
	assert.Len(t, jobs, 2)
}

func TestIntegration_ExpiredLease(t *testing.T) {
	g := newIntegrationGateway(t)
	ctx := context.Background()

	key, err := g.Enqueue(ctx, domain.NewJob{Type: "payment", Retries: 1})
	require.NoError(t, err)

	jobs, err := g.ActivateJobs(ctx, domain.ActivationRequest{JobType: "payment", Worker: "w1", MaxJobsToActivate: 1, Timeout: 10 * time.Millisecond})
	require.NoError(t, err)
	require.Len(t, jobs, 1)

	time.Sleep(50 * time.Millisecond)

	assert.ErrorIs(t, g.CompleteJob(ctx, key, nil), domain.ErrJobNotActivated)

	jobs, err = g.ActivateJobs(ctx, domain.ActivationRequest{JobType: "payment", Worker: "w2", MaxJobsToActivate: 1, Timeout: time.Minute})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "w2", jobs[0].Worker)
}
