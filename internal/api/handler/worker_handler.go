package handler

import (
	"log/slog"
	"net/http"

	"github.com/cuongbtq/jobworker/internal/api/dto"
	"github.com/cuongbtq/jobworker/internal/worker/domain"
	"github.com/gin-gonic/gin"
)

// Health handles GET /health
// Reports unhealthy once the worker stopped or a dependency probe fails
func (h *WorkerHandler) Health(c *gin.Context) {
	resp := dto.HealthResponse{
		Status:  "healthy",
		Service: h.service,
	}
	status := http.StatusOK

	for _, check := range h.checks {
		result := dto.HealthCheckDTO{Name: check.Name, Status: "up"}
		if err := check.Check(c.Request.Context()); err != nil {
			result.Status = "down"
			result.Error = err.Error()
			resp.Status = "unhealthy"
			status = http.StatusServiceUnavailable
		}
		resp.Checks = append(resp.Checks, result)
	}

	if h.worker != nil {
		state := h.worker.Stats().State
		result := dto.HealthCheckDTO{Name: "worker", Status: string(state)}
		if state == domain.StateStopping || state == domain.StateStopped {
			resp.Status = "unhealthy"
			status = http.StatusServiceUnavailable
		}
		resp.Checks = append(resp.Checks, result)
	}

	c.JSON(status, resp)
}

// Stats handles GET /api/v1/worker/stats
func (h *WorkerHandler) Stats(c *gin.Context) {
	if h.worker == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "worker not running",
		})
		return
	}
	c.JSON(http.StatusOK, h.worker.Stats())
}

// Metrics handles GET /api/v1/worker/metrics
func (h *WorkerHandler) Metrics(c *gin.Context) {
	points, err := h.metrics.Snapshot(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to collect metrics",
			slog.Any("error", err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "failed to collect metrics",
		})
		return
	}

	c.JSON(http.StatusOK, dto.MetricsResponse{Metrics: points})
}
