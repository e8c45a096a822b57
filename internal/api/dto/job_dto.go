package dto

import "github.com/cuongbtq/jobworker/internal/telemetry"

type SubmitJobRequest struct {
	JobType       string            `json:"job_type" binding:"required,max=255"`
	Retries       *int32            `json:"retries" binding:"omitempty,min=0,max=100"`
	Variables     map[string]any    `json:"variables"`
	CustomHeaders map[string]string `json:"custom_headers"`
}

type SubmitJobResponse struct {
	JobKey  int64  `json:"job_key"`
	JobType string `json:"job_type"`
	Retries int32  `json:"retries"`
}

type HealthCheckDTO struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type HealthResponse struct {
	Status  string           `json:"status"`
	Service string           `json:"service"`
	Checks  []HealthCheckDTO `json:"checks,omitempty"`
}

type MetricsResponse struct {
	Metrics []telemetry.Point `json:"metrics"`
}
