package router

import (
	"github.com/cuongbtq/jobworker/internal/api/handler"
	"github.com/gin-gonic/gin"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(LoggerMiddleware(deps.Logger))

	workerHandler := handler.NewWorkerHandler(deps)

	// GET /health - liveness of the worker and its dependencies
	r.GET("/health", workerHandler.Health)

	v1 := r.Group("/api/v1")
	{
		// GET /api/v1/worker/stats - worker counters snapshot
		v1.GET("/worker/stats", workerHandler.Stats)

		if deps.Metrics != nil {
			// GET /api/v1/worker/metrics - collected OpenTelemetry metrics
			v1.GET("/worker/metrics", workerHandler.Metrics)
		}

		if deps.Jobs != nil {
			jobHandler := handler.NewJobHandler(deps)

			// POST /api/v1/jobs - submit a job to the broker
			v1.POST("/jobs", jobHandler.SubmitJob)
		}
	}

	return r
}
