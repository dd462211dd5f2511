package threshold

import (
	"sort"

	"yqhp/load-probe/pkg/metrics"
)

// Result is the outcome of one threshold against one snapshot.
type Result struct {
	Metric      string  `json:"metric"`
	Expression  string  `json:"expression"`
	Observed    float64 `json:"observed"`
	Bound       float64 `json:"bound"`
	Passed      bool    `json:"passed"`
	AbortOnFail bool    `json:"abort_on_fail"`
}

// Report is the outcome of a whole set against one snapshot.
type Report struct {
	Passed      bool     `json:"passed"`
	Results     []Result `json:"results"`
	Breached    []string `json:"breached,omitempty"`
	ShouldAbort bool     `json:"should_abort"`
}

// Evaluate checks every threshold. Missing or empty series are observed as 0.
func (s *Set) Evaluate(snap *metrics.Snapshot) *Report {
	report := &Report{Passed: true}
	breached := make(map[string]struct{})

	for _, th := range s.Thresholds() {
		observed := Observe(snap, th.Metric, th.Comparison)
		ok := th.Comparison.Op.Compare(observed, th.Comparison.Literal)
		report.Results = append(report.Results, Result{
			Metric:      th.Metric,
			Expression:  th.Source,
			Observed:    observed,
			Bound:       th.Comparison.Literal,
			Passed:      ok,
			AbortOnFail: th.AbortOnFail,
		})
		if ok {
			continue
		}
		report.Passed = false
		breached[th.Metric] = struct{}{}
		if th.AbortOnFail {
			report.ShouldAbort = true
		}
	}

	for name := range breached {
		report.Breached = append(report.Breached, name)
	}
	sort.Strings(report.Breached)
	return report
}

// Observe reads the value a comparison is checked against.
func Observe(snap *metrics.Snapshot, key string, c *Comparison) float64 {
	series, ok := snap.Get(key)
	if !ok || series.Sink.IsEmpty() {
		return 0
	}

	switch sink := series.Sink.(type) {
	case *metrics.CounterSink:
		if c.Aggregation == AggRate {
			secs := snap.Elapsed.Seconds()
			if secs <= 0 {
				return 0
			}
			return sink.Count() / secs
		}
		return sink.Count()
	case *metrics.RateSink:
		return sink.Rate()
	case *metrics.TrendSink:
		switch c.Aggregation {
		case AggPercentile:
			return sink.Percentile(c.Percentile)
		case AggMed:
			return sink.Percentile(50)
		case AggAvg:
			return sink.Avg()
		case AggMin:
			return sink.Min()
		case AggMax:
			return sink.Max()
		case AggCount:
			return float64(sink.Count())
		}
	case *metrics.GaugeSink:
		return sink.Format(0)[c.Aggregation.String()]
	}
	return 0
}
