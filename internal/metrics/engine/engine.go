// Package engine contains the run-scoped aggregator that turns request outcomes
// and scheduler events into metric series, and hands consistent snapshots to the
// threshold evaluator and the report writers.
package engine

import (
	"strconv"
	"sync"
	"time"

	"yqhp/load-probe/pkg/metrics"
	"yqhp/load-probe/pkg/types"
)

// Built-in metric names.
const (
	HTTPReqs           = "http_reqs"
	HTTPReqFailed      = "http_req_failed"
	HTTPReqDuration    = "http_req_duration"
	Iterations         = "iterations"
	IterationDuration  = "iteration_duration"
	VUs                = "vus"
	VUsMax             = "vus_max"
	DroppedIterations  = "dropped_iterations"
	IterationsDeferred = "iterations_deferred"
	SchedulerOverruns  = "scheduler_overruns"
	ProbeOutcomes      = "probe_outcomes"
	CacheHitRatio      = "cache_hit_ratio"

	OutputSamplesDropped = "output_samples_dropped"
)

// Tag keys used for request submetrics.
const (
	TagClass   = "class"
	TagKind    = "kind"
	TagStatus  = "status"
	TagOutcome = "outcome"
)

// StatusPredicate decides whether a status code counts as a success.
type StatusPredicate func(status int) bool

// DefaultAccept treats 200-399 as success.
func DefaultAccept(status int) bool {
	return status >= 200 && status < 400
}

// SampleListener receives every sample after it has been aggregated.
type SampleListener interface {
	AddMetricSamples(samples []metrics.SampleContainer)
}

// Aggregator is the single shared mutable structure of a run. Writers hold the
// read side of mu so they proceed in parallel (each sink has its own lock);
// Snapshot holds the write side so no multi-series update is seen half applied.
type Aggregator struct {
	registry *metrics.Registry

	mu        sync.RWMutex
	startTime time.Time
	now       func() time.Time

	listenersMu sync.RWMutex
	listeners   []SampleListener

	reqs     *metrics.Metric
	failed   *metrics.Metric
	duration *metrics.Metric
}

// New creates an Aggregator and registers the built-in series on registry.
func New(registry *metrics.Registry) *Aggregator {
	if registry == nil {
		registry = metrics.NewRegistry()
	}
	a := &Aggregator{
		registry:  registry,
		now:       time.Now,
		startTime: time.Now(),
	}

	a.reqs = registry.NewMetric(HTTPReqs, metrics.Counter, metrics.Default)
	a.failed = registry.NewMetric(HTTPReqFailed, metrics.Rate, metrics.Default)
	a.duration = registry.NewMetric(HTTPReqDuration, metrics.Trend, metrics.Time)

	registry.NewMetric(Iterations, metrics.Counter, metrics.Default)
	registry.NewMetric(IterationDuration, metrics.Trend, metrics.Time)
	registry.NewMetric(VUs, metrics.Gauge, metrics.Default)
	registry.NewMetric(VUsMax, metrics.Gauge, metrics.Default)
	registry.NewMetric(DroppedIterations, metrics.Counter, metrics.Default)
	registry.NewMetric(IterationsDeferred, metrics.Counter, metrics.Default)
	registry.NewMetric(SchedulerOverruns, metrics.Counter, metrics.Default)
	registry.NewMetric(ProbeOutcomes, metrics.Counter, metrics.Default)
	registry.NewMetric(OutputSamplesDropped, metrics.Counter, metrics.Default)
	for _, ev := range types.ProbeEvents {
		registry.NewMetric(string(ev), metrics.Counter, metrics.Default)
	}
	return a
}

// Registry returns the underlying metric registry.
func (a *Aggregator) Registry() *metrics.Registry {
	return a.registry
}

// MarkStart resets the run clock used for per-second rates.
func (a *Aggregator) MarkStart(t time.Time) {
	a.mu.Lock()
	a.startTime = t
	a.mu.Unlock()
}

// Elapsed returns the time since the run clock started.
func (a *Aggregator) Elapsed() time.Duration {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.now().Sub(a.startTime)
}

// AddListener attaches a listener that receives every recorded sample.
func (a *Aggregator) AddListener(l SampleListener) {
	a.listenersMu.Lock()
	a.listeners = append(a.listeners, l)
	a.listenersMu.Unlock()
}

// Record aggregates one HTTP call. A nil predicate means DefaultAccept.
// Transport errors always count as failures.
func (a *Aggregator) Record(o types.RequestOutcome, accept StatusPredicate) {
	if accept == nil {
		accept = DefaultAccept
	}
	ts := o.Timestamp
	if ts.IsZero() {
		ts = a.now()
	}

	failed := 0.0
	if o.Err != nil || !accept(o.Status) {
		failed = 1
	}
	latency := o.LatencyMillis()

	tags := map[string]string{TagStatus: strconv.Itoa(o.Status)}
	targets := []*metrics.Metric{a.reqs, a.failed, a.duration}
	values := []float64{1, failed, latency}

	var subs []map[string]string
	if o.Class != "" {
		tags[TagClass] = o.Class
		subs = append(subs, map[string]string{TagClass: o.Class})
	}
	if o.Kind != "" {
		tags[TagKind] = string(o.Kind)
		subs = append(subs, map[string]string{TagKind: string(o.Kind)})
	}
	for _, sub := range subs {
		targets = append(targets,
			a.registry.Submetric(a.reqs, sub),
			a.registry.Submetric(a.failed, sub),
			a.registry.Submetric(a.duration, sub),
		)
		values = append(values, 1, failed, latency)
	}

	samples := make(metrics.Samples, len(targets))
	a.mu.RLock()
	for i, m := range targets {
		samples[i] = metrics.Sample{Metric: m, Time: ts, Value: values[i], Tags: tags}
		m.Sink.Add(samples[i])
	}
	a.mu.RUnlock()

	a.publish(metrics.ConnectedSamples{Samples: samples[:3], Tags: tags, Time: ts})
}

// Add increments a counter, registering it on first use.
func (a *Aggregator) Add(name string, v float64) {
	a.write(name, metrics.Counter, metrics.Default, v)
}

// AddTagged increments a counter and its submetric for tags in one update.
func (a *Aggregator) AddTagged(name string, tags map[string]string, v float64) {
	m := a.registry.Get(name)
	if m == nil {
		m = a.registry.NewMetric(name, metrics.Counter, metrics.Default)
	}
	sub := a.registry.Submetric(m, tags)
	ts := a.now()
	samples := metrics.Samples{
		{Metric: m, Time: ts, Value: v, Tags: tags},
		{Metric: sub, Time: ts, Value: v, Tags: tags},
	}

	a.mu.RLock()
	for _, s := range samples {
		s.Metric.Sink.Add(s)
	}
	a.mu.RUnlock()

	a.publish(samples[:1])
}

// Set records the current value of a gauge, registering it on first use.
func (a *Aggregator) Set(name string, v float64) {
	a.write(name, metrics.Gauge, metrics.Default, v)
}

// Observe adds a millisecond value to a trend, registering it on first use.
func (a *Aggregator) Observe(name string, ms float64) {
	a.write(name, metrics.Trend, metrics.Time, ms)
}

// AddRate records a boolean into a rate series, registering it on first use.
func (a *Aggregator) AddRate(name string, ok bool) {
	v := 0.0
	if ok {
		v = 1
	}
	a.write(name, metrics.Rate, metrics.Default, v)
}

func (a *Aggregator) write(name string, t metrics.MetricType, c metrics.ValueType, v float64) {
	m := a.registry.Get(name)
	if m == nil {
		m = a.registry.NewMetric(name, t, c)
	}
	s := metrics.Sample{Metric: m, Time: a.now(), Value: v}

	a.mu.RLock()
	m.Sink.Add(s)
	a.mu.RUnlock()

	a.publish(metrics.Samples{s})
}

func (a *Aggregator) publish(c metrics.SampleContainer) {
	a.listenersMu.RLock()
	defer a.listenersMu.RUnlock()
	for _, l := range a.listeners {
		l.AddMetricSamples([]metrics.SampleContainer{c})
	}
}

// Snapshot returns a point-in-time copy of every series.
func (a *Aggregator) Snapshot() *metrics.Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	now := a.now()
	return a.registry.Freeze(now, now.Sub(a.startTime))
}
