package rest

import (
	"yqhp/load-probe/internal/threshold"
)

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// HealthResponse represents a health check response.
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// StatusResponse is the live view of a run.
type StatusResponse struct {
	RunID      string                    `json:"run_id"`
	Plan       string                    `json:"plan"`
	ElapsedMs  int64                     `json:"elapsed_ms"`
	Timestamp  string                    `json:"timestamp"`
	Scenarios  map[string]ScenarioStatus `json:"scenarios"`
	Metrics    map[string]MetricStatus   `json:"metrics"`
	Thresholds *threshold.Report         `json:"thresholds,omitempty"`
}

// ScenarioStatus represents the state of one scenario.
type ScenarioStatus struct {
	Running             bool    `json:"running"`
	ActiveVUs           int     `json:"active_vus"`
	AllocatedVUs        int     `json:"allocated_vus"`
	TargetVUs           int     `json:"target_vus"`
	CompletedIterations int64   `json:"completed_iterations"`
	CurrentRate         float64 `json:"current_rate,omitempty"`
	ElapsedMs           int64   `json:"elapsed_ms"`
}

// MetricStatus represents one aggregated series.
type MetricStatus struct {
	Type     string             `json:"type"`
	Contains string             `json:"contains,omitempty"`
	Values   map[string]float64 `json:"values"`
}
