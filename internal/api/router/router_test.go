package router

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cuongbtq/jobworker/internal/api/dto"
	"github.com/cuongbtq/jobworker/internal/api/handler"
	"github.com/cuongbtq/jobworker/internal/gateway/memory"
	"github.com/cuongbtq/jobworker/internal/telemetry"
	"github.com/cuongbtq/jobworker/internal/worker"
	"github.com/cuongbtq/jobworker/internal/worker/domain"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubStats struct {
	stats worker.Stats
}

func (s stubStats) Stats() worker.Stats { return s.stats }

func newDeps(state domain.State) (*handler.Dependencies, *memory.Gateway) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	gw := memory.New(logger)
	return &handler.Dependencies{
		Logger:         logger,
		Service:        "worker-service",
		Worker:         stubStats{stats: worker.Stats{JobType: "payment", Worker: "w1", State: state, Capacity: 4, Completed: 7}},
		Jobs:           gw,
		DefaultRetries: 3,
	}, gw
}

func do(r http.Handler, method, path string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		state      domain.State
		checkErr   error
		wantCode   int
		wantStatus string
	}{
		{name: "idle worker", state: domain.StateIdle, wantCode: http.StatusOK, wantStatus: "healthy"},
		{name: "stopping worker", state: domain.StateStopping, wantCode: http.StatusServiceUnavailable, wantStatus: "unhealthy"},
		{name: "database down", state: domain.StatePolling, checkErr: errors.New("connection refused"), wantCode: http.StatusServiceUnavailable, wantStatus: "unhealthy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps, _ := newDeps(tt.state)
			deps.HealthChecks = []handler.HealthCheck{{
				Name:  "postgres",
				Check: func(context.Context) error { return tt.checkErr },
			}}

			rec := do(SetupRouter(deps), http.MethodGet, "/health", nil)
			assert.Equal(t, tt.wantCode, rec.Code)

			var resp dto.HealthResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantStatus, resp.Status)
			assert.Equal(t, "worker-service", resp.Service)
			require.Len(t, resp.Checks, 2)
			assert.Equal(t, string(tt.state), resp.Checks[1].Status)
		})
	}
}

func TestWorkerStats(t *testing.T) {
	deps, _ := newDeps(domain.StateIdle)

	rec := do(SetupRouter(deps), http.MethodGet, "/api/v1/worker/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var stats worker.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, "payment", stats.JobType)
	assert.Equal(t, 4, stats.Capacity)
	assert.Equal(t, int64(7), stats.Completed)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestWorkerStats_NoWorker(t *testing.T) {
	deps, _ := newDeps(domain.StateIdle)
	deps.Worker = nil

	rec := do(SetupRouter(deps), http.MethodGet, "/api/v1/worker/stats", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

type stubMetrics struct {
	points []telemetry.Point
	err    error
}

func (s stubMetrics) Snapshot(context.Context) ([]telemetry.Point, error) {
	return s.points, s.err
}

func TestWorkerMetrics(t *testing.T) {
	deps, _ := newDeps(domain.StateIdle)
	value := 3.0
	deps.Metrics = stubMetrics{points: []telemetry.Point{{
		Name:       "jobworker.jobs.activated",
		Attributes: map[string]string{"job_type": "payment"},
		Value:      &value,
	}}}

	rec := do(SetupRouter(deps), http.MethodGet, "/api/v1/worker/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp dto.MetricsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Metrics, 1)
	assert.Equal(t, "jobworker.jobs.activated", resp.Metrics[0].Name)
	require.NotNil(t, resp.Metrics[0].Value)
	assert.Equal(t, 3.0, *resp.Metrics[0].Value)
}

func TestWorkerMetrics_CollectError(t *testing.T) {
	deps, _ := newDeps(domain.StateIdle)
	deps.Metrics = stubMetrics{err: errors.New("reader shut down")}

	rec := do(SetupRouter(deps), http.MethodGet, "/api/v1/worker/metrics", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestWorkerMetrics_NotRegisteredWithoutSource(t *testing.T) {
	deps, _ := newDeps(domain.StateIdle)

	rec := do(SetupRouter(deps), http.MethodGet, "/api/v1/worker/metrics", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSubmitJob(t *testing.T) {
	deps, gw := newDeps(domain.StateIdle)
	r := SetupRouter(deps)

	body := []byte(`{"job_type":"payment","variables":{"orderId":"A-1"},"custom_headers":{"region":"eu"}}`)
	rec := do(r, http.MethodPost, "/api/v1/jobs", body)
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp dto.SubmitJobResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "payment", resp.JobType)
	assert.Equal(t, int32(3), resp.Retries)

	stored, ok := gw.Get(resp.JobKey)
	require.True(t, ok)
	assert.Equal(t, memory.StatusActivatable, stored.Status)
	assert.Equal(t, "A-1", stored.Variables["orderId"])
	assert.Equal(t, "eu", stored.CustomHeaders["region"])
}

func TestSubmitJob_ExplicitRetries(t *testing.T) {
	deps, gw := newDeps(domain.StateIdle)

	rec := do(SetupRouter(deps), http.MethodPost, "/api/v1/jobs", []byte(`{"job_type":"payment","retries":0}`))
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp dto.SubmitJobResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	stored, ok := gw.Get(resp.JobKey)
	require.True(t, ok)
	assert.Equal(t, int32(0), stored.Retries)
}

func TestSubmitJob_InvalidBody(t *testing.T) {
	deps, _ := newDeps(domain.StateIdle)
	r := SetupRouter(deps)

	for _, body := range []string{`{}`, `{"job_type":"payment","retries":-1}`, `not json`} {
		rec := do(r, http.MethodPost, "/api/v1/jobs", []byte(body))
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
}

type failingSubmitter struct{}

func (failingSubmitter) Enqueue(context.Context, domain.NewJob) (int64, error) {
	return 0, errors.New("database unavailable")
}

func TestSubmitJob_StoreError(t *testing.T) {
	deps, _ := newDeps(domain.StateIdle)
	deps.Jobs = failingSubmitter{}

	rec := do(SetupRouter(deps), http.MethodPost, "/api/v1/jobs", []byte(`{"job_type":"payment"}`))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestSubmitJob_NotRegisteredWithoutSubmitter(t *testing.T) {
	deps, _ := newDeps(domain.StateIdle)
	deps.Jobs = nil

	rec := do(SetupRouter(deps), http.MethodPost, "/api/v1/jobs", []byte(`{"job_type":"payment"}`))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRequestIDPropagated(t *testing.T) {
	deps, _ := newDeps(domain.StateIdle)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec := httptest.NewRecorder()
	SetupRouter(deps).ServeHTTP(rec, req)

	assert.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))
}
