package summary

import (
	"sort"
	"strconv"
	"sync"
	"time"

	"yqhp/load-probe/internal/metrics/engine"
	"yqhp/load-probe/pkg/metrics"
)

// maxFailureGroups bounds the breakdown printed in the summary.
const maxFailureGroups = 20

// FailureGroup counts failed calls sharing a class, kind and status.
// Status 0 means the call never got a response.
type FailureGroup struct {
	Class     string    `json:"class"`
	Kind      string    `json:"kind"`
	Status    int       `json:"status"`
	Count     int64     `json:"count"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
}

func (g FailureGroup) statusLabel() string {
	if g.Status == 0 {
		return "no-response"
	}
	return strconv.Itoa(g.Status)
}

// FailureCollector listens to the aggregator and groups failed calls.
type FailureCollector struct {
	mu     sync.Mutex
	groups map[string]*FailureGroup
}

// NewFailureCollector creates an empty collector.
func NewFailureCollector() *FailureCollector {
	return &FailureCollector{groups: make(map[string]*FailureGroup)}
}

// AddMetricSamples implements engine.SampleListener.
func (fc *FailureCollector) AddMetricSamples(containers []metrics.SampleContainer) {
	for _, c := range containers {
		for _, s := range c.GetSamples() {
			if s.Metric == nil || s.Metric.Name != engine.HTTPReqFailed || s.Value == 0 {
				continue
			}
			fc.record(s)
		}
	}
}

func (fc *FailureCollector) record(s metrics.Sample) {
	class, kind, status := s.Tags[engine.TagClass], s.Tags[engine.TagKind], s.Tags[engine.TagStatus]
	key := kind + "|" + class + "|" + status

	fc.mu.Lock()
	defer fc.mu.Unlock()
	if g, ok := fc.groups[key]; ok {
		g.Count++
		if s.Time.After(g.LastSeen) {
			g.LastSeen = s.Time
		}
		return
	}
	code, _ := strconv.Atoi(status)
	fc.groups[key] = &FailureGroup{
		Class:     class,
		Kind:      kind,
		Status:    code,
		Count:     1,
		FirstSeen: s.Time,
		LastSeen:  s.Time,
	}
}

// Groups returns the largest groups first, at most maxFailureGroups of them.
func (fc *FailureCollector) Groups() []FailureGroup {
	fc.mu.Lock()
	defer fc.mu.Unlock()

	out := make([]FailureGroup, 0, len(fc.groups))
	for _, g := range fc.groups {
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		if out[i].Class != out[j].Class {
			return out[i].Class < out[j].Class
		}
		return out[i].Status < out[j].Status
	})
	if len(out) > maxFailureGroups {
		out = out[:maxFailureGroups]
	}
	return out
}
