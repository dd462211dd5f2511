package engine

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"yqhp/load-probe/pkg/metrics"
	"yqhp/load-probe/pkg/types"
)

func outcome(status int, ms int, class string) types.RequestOutcome {
	return types.RequestOutcome{
		Status:    status,
		Latency:   time.Duration(ms) * time.Millisecond,
		Class:     class,
		Kind:      types.RequestCheap,
		Timestamp: time.Now(),
	}
}

func TestNew_RegistersBuiltins(t *testing.T) {
	agg := New(nil)
	reg := agg.Registry()

	for _, name := range []string{HTTPReqs, HTTPReqFailed, HTTPReqDuration, Iterations, DroppedIterations,
		IterationsDeferred, SchedulerOverruns, VUs, VUsMax, "heavy_shed", "overload_active",
		"queue_depth_positive", "rss_cap_exceeded"} {
		assert.NotNil(t, reg.Get(name), name)
	}
	assert.Equal(t, metrics.Rate, reg.Get(HTTPReqFailed).Type)
	assert.Equal(t, metrics.Trend, reg.Get(HTTPReqDuration).Type)
}

func TestAggregator_Record_DefaultPredicate(t *testing.T) {
	agg := New(nil)

	agg.Record(outcome(200, 10, "genes"), nil)
	agg.Record(outcome(304, 20, "genes"), nil)
	agg.Record(outcome(503, 30, "datasets"), nil)

	snap := agg.Snapshot()
	assert.Equal(t, 3.0, snap.Count(HTTPReqs))
	assert.InDelta(t, 1.0/3.0, snap.RateOf(HTTPReqFailed), 1e-9)
	assert.Equal(t, 2.0, snap.Count("http_reqs{class:genes}"))
	assert.Equal(t, 0.0, snap.RateOf("http_req_failed{class:genes}"))
	assert.Equal(t, 1.0, snap.RateOf("http_req_failed{class:datasets}"))
	assert.Equal(t, 3.0, snap.Count("http_reqs{kind:cheap}"))
	assert.InDelta(t, 15.0, snap.Percentile("http_req_duration{class:genes}", 50), 1e-9)
}

func TestAggregator_Record_CustomPredicate(t *testing.T) {
	agg := New(nil)
	acceptShed := func(status int) bool {
		return DefaultAccept(status) || status == 429 || status == 503
	}

	agg.Record(outcome(503, 5, "sequence"), acceptShed)
	agg.Record(outcome(429, 5, "sequence"), acceptShed)
	agg.Record(outcome(500, 5, "sequence"), acceptShed)

	snap := agg.Snapshot()
	assert.InDelta(t, 1.0/3.0, snap.RateOf(HTTPReqFailed), 1e-9)
}

func TestAggregator_Record_TransportErrorIsFailure(t *testing.T) {
	agg := New(nil)
	o := outcome(0, 100, "genes")
	o.Err = errors.New("connection refused")

	agg.Record(o, func(int) bool { return true })

	snap := agg.Snapshot()
	assert.Equal(t, 1.0, snap.Count(HTTPReqs))
	assert.Equal(t, 1.0, snap.RateOf(HTTPReqFailed))
}

func TestAggregator_CountersGaugesTrends(t *testing.T) {
	agg := New(nil)

	agg.Add(DroppedIterations, 2)
	agg.Add(DroppedIterations, 1)
	agg.Set(VUs, 4)
	agg.Set(VUs, 7)
	agg.Observe(IterationDuration, 12)
	agg.AddRate("checks", true)
	agg.AddRate("checks", false)
	agg.Add("custom_total", 5)

	snap := agg.Snapshot()
	assert.Equal(t, 3.0, snap.Count(DroppedIterations))
	vus, ok := snap.Get(VUs)
	require.True(t, ok)
	assert.Equal(t, 7.0, vus.Sink.Format(0)["value"])
	assert.Equal(t, 4.0, vus.Sink.Format(0)["min"])
	assert.Equal(t, 1.0, snap.Count(IterationDuration))
	assert.Equal(t, 0.5, snap.RateOf("checks"))
	assert.Equal(t, 5.0, snap.Count("custom_total"))
}

func TestAggregator_ConcurrentSnapshotsAreConsistent(t *testing.T) {
	agg := New(nil)

	const workers, perWorker = 16, 500
	var wg sync.WaitGroup
	var inconsistent atomic.Int32
	stop := make(chan struct{})

	go func() {
		for {
			select {
			case <-stop:
				return
			default:
			}
			snap := agg.Snapshot()
			reqs := snap.Count(HTTPReqs)
			trend := snap.Count(HTTPReqDuration)
			rate := snap.Count(HTTPReqFailed)
			sub := snap.Count("http_reqs{class:genes}")
			if reqs != trend || reqs != rate || (sub != 0 && sub != reqs) {
				inconsistent.Add(1)
			}
		}
	}()

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				agg.Record(outcome(200+i%2*300, i%50, "genes"), nil)
			}
		}()
	}
	wg.Wait()
	close(stop)

	snap := agg.Snapshot()
	assert.Equal(t, float64(workers*perWorker), snap.Count(HTTPReqs))
	assert.Equal(t, float64(workers*perWorker), snap.Count(HTTPReqDuration))
	assert.InDelta(t, 0.5, snap.RateOf(HTTPReqFailed), 1e-9)
	assert.Zero(t, inconsistent.Load())
}

type captureListener struct {
	mu      sync.Mutex
	samples []metrics.Sample
}

func (c *captureListener) AddMetricSamples(containers []metrics.SampleContainer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, sc := range containers {
		c.samples = append(c.samples, sc.GetSamples()...)
	}
}

func TestAggregator_Listener(t *testing.T) {
	agg := New(nil)
	l := &captureListener{}
	agg.AddListener(l)

	agg.Record(outcome(200, 10, "genes"), nil)
	agg.Add(Iterations, 1)

	require.Len(t, l.samples, 4)
	assert.Equal(t, HTTPReqs, l.samples[0].Metric.Name)
	assert.Equal(t, "genes", l.samples[0].Tags[TagClass])
	assert.Equal(t, "200", l.samples[0].Tags[TagStatus])
	assert.Equal(t, Iterations, l.samples[3].Metric.Name)
}

func TestAggregator_ElapsedRate(t *testing.T) {
	agg := New(nil)
	base := time.Now()
	agg.now = func() time.Time { return base.Add(4 * time.Second) }
	agg.MarkStart(base)

	agg.Add(Iterations, 8)

	snap := agg.Snapshot()
	assert.Equal(t, 4*time.Second, snap.Elapsed)
	series, _ := snap.Get(Iterations)
	assert.Equal(t, 2.0, series.Values(snap.Elapsed)["rate"])
}

func TestTimeline_CollectsPoints(t *testing.T) {
	agg := New(nil)
	tl := NewTimeline(agg, 20*time.Millisecond, 2)
	tl.Start()

	agg.Record(outcome(200, 10, "genes"), nil)
	agg.Set(VUs, 3)
	time.Sleep(100 * time.Millisecond)
	tl.Stop()
	tl.Stop()

	points := tl.Points()
	require.NotEmpty(t, points)
	assert.LessOrEqual(t, len(points), 2)
	latest := tl.Latest()
	assert.Equal(t, int64(1), latest.Requests)
	assert.Equal(t, 3.0, latest.VUs)
}
