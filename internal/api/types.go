package api

import (
	"time"

	"github.com/deixis/clibridge/internal/model"
)

// TransformRequest is the JSON body for POST /v1/transform.
type TransformRequest struct {
	Text        string `json:"text"`
	Instruction string `json:"instruction"`
	Model       string `json:"model,omitempty"`
}

// ModelsResponse is returned by GET /v1/models.
type ModelsResponse struct {
	Default string          `json:"default"`
	Models  []model.Variant `json:"models"`
}

// RunResponse is returned by GET /v1/runs/{id}.
type RunResponse struct {
	RunID       string    `json:"run_id"`
	Model       string    `json:"model"`
	Status      string    `json:"status"`
	Kind        string    `json:"kind,omitempty"`
	Detail      string    `json:"detail,omitempty"`
	InputDigest string    `json:"input_digest"`
	InputBytes  int       `json:"input_bytes"`
	Output      string    `json:"output,omitempty"`
	DurationMS  int64     `json:"duration_ms"`
	CreatedAt   time.Time `json:"created_at"`
}

// RunsResponse is returned by GET /v1/runs.
type RunsResponse struct {
	Runs []RunResponse `json:"runs"`
}

// ErrorResponse is returned on errors.
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status           string `json:"status"`
	UptimeSeconds    int64  `json:"uptime_seconds"`
	BackendAvailable bool   `json:"backend_available"`
	BackendVersion   string `json:"backend_version,omitempty"`
	BackendError     string `json:"backend_error,omitempty"`
}
