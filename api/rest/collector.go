package rest

import (
	"regexp"
	"sort"

	"github.com/prometheus/client_golang/prometheus"

	"yqhp/load-probe/pkg/metrics"
)

const namespace = "load_probe"

// summaryQuantiles are exported for every trend.
var summaryQuantiles = []float64{0.5, 0.9, 0.95, 0.99}

var invalidName = regexp.MustCompile(`[^a-zA-Z0-9_]`)

// SnapshotCollector exposes every aggregated series of a run. The series set
// grows during a run, so it is an unchecked collector.
type SnapshotCollector struct {
	source Source
}

// NewSnapshotCollector creates a collector reading from source.
func NewSnapshotCollector(source Source) *SnapshotCollector {
	return &SnapshotCollector{source: source}
}

// Describe implements prometheus.Collector. It sends nothing.
func (c *SnapshotCollector) Describe(chan<- *prometheus.Desc) {}

// Collect implements prometheus.Collector. Submetrics become label sets of
// their parent; tag keys missing on a series are exported as empty labels so
// every family keeps one label dimension.
func (c *SnapshotCollector) Collect(ch chan<- prometheus.Metric) {
	snap := c.source.Snapshot()
	if snap == nil {
		return
	}
	constLabels := prometheus.Labels{"run_id": c.source.ID()}

	families := make(map[string][]*metrics.Series)
	for _, name := range snap.Names() {
		s := snap.Series[name]
		parent := s.Parent
		if parent == "" {
			parent = name
		}
		families[parent] = append(families[parent], s)
	}

	for parent, members := range families {
		head := members[0]
		for _, m := range members {
			if m.Parent == "" {
				head = m
			}
		}
		labels := labelNames(members)
		desc := prometheus.NewDesc(familyName(parent, head), "load-probe series "+parent, labels, constLabels)

		for _, s := range members {
			tags := make(map[string]string, len(s.Tags))
			for k, v := range s.Tags {
				tags[invalidName.ReplaceAllString(k, "_")] = v
			}
			values := make([]string, len(labels))
			for i, l := range labels {
				values[i] = tags[l]
			}
			if m := seriesMetric(desc, s, values); m != nil {
				ch <- m
			}
		}
	}
}

func seriesMetric(desc *prometheus.Desc, s *metrics.Series, labelValues []string) prometheus.Metric {
	switch sink := s.Sink.(type) {
	case *metrics.CounterSink:
		return prometheus.MustNewConstMetric(desc, prometheus.CounterValue, sink.Count(), labelValues...)
	case *metrics.GaugeSink:
		if sink.IsEmpty() {
			return nil
		}
		return prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, sink.Value(), labelValues...)
	case *metrics.RateSink:
		return prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, sink.Rate(), labelValues...)
	case *metrics.TrendSink:
		count := sink.Count()
		quantiles := make(map[float64]float64, len(summaryQuantiles))
		if count > 0 {
			for _, q := range summaryQuantiles {
				quantiles[q] = sink.Percentile(q * 100)
			}
		}
		return prometheus.MustNewConstSummary(desc, uint64(count), sink.Avg()*float64(count), quantiles, labelValues...)
	default:
		return nil
	}
}

// familyName maps a series to its exposition name, e.g. http_reqs becomes
// load_probe_http_reqs_total and http_req_duration becomes
// load_probe_http_req_duration_ms.
func familyName(name string, s *metrics.Series) string {
	base := namespace + "_" + invalidName.ReplaceAllString(name, "_")
	switch {
	case s.Type == metrics.Counter:
		return base + "_total"
	case s.Type == metrics.Trend && s.Contains == metrics.Time:
		return base + "_ms"
	}
	return base
}

func labelNames(members []*metrics.Series) []string {
	seen := make(map[string]bool)
	for _, s := range members {
		for k := range s.Tags {
			seen[invalidName.ReplaceAllString(k, "_")] = true
		}
	}
	names := make([]string, 0, len(seen))
	for k := range seen {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
