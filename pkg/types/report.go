package types

import "time"

// LoadReportKind identifies the load report document format.
const (
	LoadReportKind          = "load_report_v1"
	LoadReportSchemaVersion = 1
)

// LoadReport is the machine-readable verdict written at the end of a run.
type LoadReport struct {
	SchemaVersion int               `json:"schema_version"`
	Kind          string            `json:"kind"`
	RunID         string            `json:"run_id"`
	Plan          string            `json:"plan"`
	StartTime     time.Time         `json:"start_time"`
	EndTime       time.Time         `json:"end_time"`
	Metrics       LoadReportMetrics `json:"metrics"`
	Limits        LoadReportLimits  `json:"limits"`
	Violations    []string          `json:"violations"`
	Passed        bool              `json:"passed"`
}

// LoadReportMetrics holds the headline latency and error figures of a run.
type LoadReportMetrics struct {
	P50Ms     float64 `json:"p50_ms"`
	P95Ms     float64 `json:"p95_ms"`
	P99Ms     float64 `json:"p99_ms"`
	ErrorRate float64 `json:"error_rate"`
	Requests  int64   `json:"requests"`
	Dropped   int64   `json:"dropped_iterations"`
}

// LoadReportLimits are the budgets the headline figures are checked against.
// A zero limit is not enforced.
type LoadReportLimits struct {
	P95Ms     float64 `json:"p95_ms,omitempty" yaml:"p95_ms"`
	P99Ms     float64 `json:"p99_ms,omitempty" yaml:"p99_ms"`
	ErrorRate float64 `json:"error_rate,omitempty" yaml:"error_rate"`
}

// RunStatus is the final state of a run.
type RunStatus string

const (
	RunPassed   RunStatus = "passed"
	RunBreached RunStatus = "thresholds_breached"
	RunAborted  RunStatus = "aborted"
	RunFailed   RunStatus = "failed"
)

// Exit codes of the load-probe binary.
const (
	ExitOK                 = 0
	ExitThresholdsBreached = 99
	ExitConfigError        = 104
	ExitScenarioFatal      = 107
)

// ExitCode maps a run status to its process exit code.
func (s RunStatus) ExitCode() int {
	switch s {
	case RunPassed:
		return ExitOK
	case RunBreached, RunAborted:
		return ExitThresholdsBreached
	default:
		return ExitScenarioFatal
	}
}
