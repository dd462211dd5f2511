// Package summary renders the end-of-run results: the console summary, the
// k6-compatible JSON summary export and the load report.
package summary

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	"yqhp/load-probe/internal/metrics/engine"
	"yqhp/load-probe/internal/threshold"
	"yqhp/load-probe/pkg/metrics"
	"yqhp/load-probe/pkg/types"
)

// Run describes the run a summary is produced for.
type Run struct {
	ID        string
	Plan      string
	StartTime time.Time
	EndTime   time.Time
	Status    types.RunStatus
	Error     error
	Scenarios []types.Scenario
}

// Duration returns the wall time of the run.
func (r Run) Duration() time.Duration {
	if r.EndTime.IsZero() || r.EndTime.Before(r.StartTime) {
		return 0
	}
	return r.EndTime.Sub(r.StartTime)
}

// Export is the JSON summary export document.
type Export struct {
	Metrics    map[string]*ExportMetric               `json:"metrics"`
	Thresholds map[string]map[string]ThresholdOutcome `json:"thresholds"`
	State      ExportState                            `json:"state"`
}

// ExportMetric is one series in the export.
type ExportMetric struct {
	Type       string                      `json:"type"`
	Contains   string                      `json:"contains"`
	Values     map[string]float64          `json:"values"`
	Thresholds map[string]ThresholdOutcome `json:"thresholds,omitempty"`
}

// ThresholdOutcome is the verdict of one expression.
type ThresholdOutcome struct {
	OK       bool    `json:"ok"`
	Observed float64 `json:"observed"`
}

// ExportState carries run level information.
type ExportState struct {
	RunID             string  `json:"runId,omitempty"`
	Plan              string  `json:"plan,omitempty"`
	Status            string  `json:"status,omitempty"`
	TestRunDurationMs float64 `json:"testRunDurationMs"`
}

// NewExport builds the export from a final snapshot and threshold report.
func NewExport(snap *metrics.Snapshot, report *threshold.Report, run Run) *Export {
	exp := &Export{
		Metrics:    make(map[string]*ExportMetric),
		Thresholds: make(map[string]map[string]ThresholdOutcome),
		State: ExportState{
			RunID:             run.ID,
			Plan:              run.Plan,
			Status:            string(run.Status),
			TestRunDurationMs: float64(snap.Elapsed) / float64(time.Millisecond),
		},
	}

	for _, name := range snap.Names() {
		series := snap.Series[name]
		if series.Sink.IsEmpty() {
			continue
		}
		exp.Metrics[name] = &ExportMetric{
			Type:     string(series.Type),
			Contains: string(series.Contains),
			Values:   finite(series.Values(snap.Elapsed)),
		}
	}

	if report != nil {
		for _, r := range report.Results {
			outcome := ThresholdOutcome{OK: r.Passed, Observed: r.Observed}
			if math.IsNaN(outcome.Observed) || math.IsInf(outcome.Observed, 0) {
				outcome.Observed = 0
			}
			if exp.Thresholds[r.Metric] == nil {
				exp.Thresholds[r.Metric] = make(map[string]ThresholdOutcome)
			}
			exp.Thresholds[r.Metric][r.Expression] = outcome

			m, ok := exp.Metrics[r.Metric]
			if !ok {
				// 阈值引用的序列没有数据时也要出现在导出中
				m = &ExportMetric{Values: map[string]float64{}}
				if s, found := snap.Get(r.Metric); found {
					m.Type, m.Contains = string(s.Type), string(s.Contains)
				}
				exp.Metrics[r.Metric] = m
			}
			if m.Thresholds == nil {
				m.Thresholds = make(map[string]ThresholdOutcome)
			}
			m.Thresholds[r.Expression] = outcome
		}
	}
	return exp
}

// NewLoadReport checks the headline figures against limits. Crossed thresholds
// are violations too.
func NewLoadReport(snap *metrics.Snapshot, report *threshold.Report, run Run, limits types.LoadReportLimits) *types.LoadReport {
	lr := &types.LoadReport{
		SchemaVersion: types.LoadReportSchemaVersion,
		Kind:          types.LoadReportKind,
		RunID:         run.ID,
		Plan:          run.Plan,
		StartTime:     run.StartTime,
		EndTime:       run.EndTime,
		Limits:        limits,
		Metrics: types.LoadReportMetrics{
			P50Ms:     snap.Percentile(engine.HTTPReqDuration, 50),
			P95Ms:     snap.Percentile(engine.HTTPReqDuration, 95),
			P99Ms:     snap.Percentile(engine.HTTPReqDuration, 99),
			ErrorRate: snap.RateOf(engine.HTTPReqFailed),
			Requests:  int64(snap.Count(engine.HTTPReqs)),
			Dropped:   int64(snap.Count(engine.DroppedIterations)),
		},
		Violations: []string{},
	}

	check := func(name string, observed, limit float64) {
		if limit > 0 && observed > limit {
			lr.Violations = append(lr.Violations, fmt.Sprintf("%s %.4g exceeds limit %.4g", name, observed, limit))
		}
	}
	check("p95_ms", lr.Metrics.P95Ms, limits.P95Ms)
	check("p99_ms", lr.Metrics.P99Ms, limits.P99Ms)
	check("error_rate", lr.Metrics.ErrorRate, limits.ErrorRate)

	if report != nil {
		for _, r := range report.Results {
			if !r.Passed {
				lr.Violations = append(lr.Violations,
					fmt.Sprintf("threshold %s %s crossed (observed %.4g)", r.Metric, r.Expression, r.Observed))
			}
		}
	}
	if run.Error != nil && run.Status == types.RunFailed {
		lr.Violations = append(lr.Violations, "run failed: "+run.Error.Error())
	}
	lr.Passed = len(lr.Violations) == 0
	return lr
}

// finite drops NaN and infinities, which JSON cannot carry. A scraped gauge
// may hold them.
func finite(values map[string]float64) map[string]float64 {
	for k, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			delete(values, k)
		}
	}
	return values
}

// WriteJSON writes v as indented JSON to path, creating parent directories.
func WriteJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

// groupedNames orders series so each parent is followed by its submetrics.
func groupedNames(snap *metrics.Snapshot) []string {
	children := make(map[string][]string)
	var parents []string
	for _, name := range snap.Names() {
		s := snap.Series[name]
		if s.Parent != "" {
			children[s.Parent] = append(children[s.Parent], name)
			continue
		}
		parents = append(parents, name)
	}
	sort.Strings(parents)

	out := make([]string, 0, len(snap.Series))
	for _, p := range parents {
		out = append(out, p)
		out = append(out, children[p]...)
	}
	return out
}
