package handler

import (
	"log/slog"
	"net/http"

	"github.com/cuongbtq/jobworker/internal/api/dto"
	"github.com/cuongbtq/jobworker/internal/worker/domain"
	"github.com/gin-gonic/gin"
)

// SubmitJob handles POST /api/v1/jobs
// Creates an activatable job on the broker
func (h *JobHandler) SubmitJob(c *gin.Context) {
	var req dto.SubmitJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	retries := h.defaultRetries
	if req.Retries != nil {
		retries = *req.Retries
	}

	key, err := h.jobs.Enqueue(c.Request.Context(), domain.NewJob{
		Type:          req.JobType,
		Retries:       retries,
		Variables:     req.Variables,
		CustomHeaders: req.CustomHeaders,
	})
	if err != nil {
		h.logger.Error("Failed to submit job",
			slog.String("job_type", req.JobType),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to submit job",
		})
		return
	}

	h.logger.Info("Job submitted",
		slog.Int64("job_key", key),
		slog.String("job_type", req.JobType),
	)

	c.JSON(http.StatusCreated, dto.SubmitJobResponse{
		JobKey:  key,
		JobType: req.JobType,
		Retries: retries,
	})
}
