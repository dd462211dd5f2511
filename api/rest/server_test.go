package rest

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"yqhp/load-probe/internal/execution"
	"yqhp/load-probe/internal/metrics/engine"
	"yqhp/load-probe/internal/threshold"
	"yqhp/load-probe/pkg/metrics"
	"yqhp/load-probe/pkg/types"
)

type fakeSource struct {
	agg    *engine.Aggregator
	report *threshold.Report
}

func newFakeSource(t *testing.T) *fakeSource {
	t.Helper()
	agg := engine.New(metrics.NewRegistry())
	for i := 0; i < 10; i++ {
		agg.Record(types.RequestOutcome{Status: 200, Latency: time.Duration(i+1) * time.Millisecond, Class: "genes", Kind: types.RequestCheap}, nil)
	}
	agg.Record(types.RequestOutcome{Status: 500, Latency: time.Millisecond, Class: "sequence", Kind: types.RequestHeavy}, nil)
	agg.AddTagged(engine.Iterations, map[string]string{"scenario": "steady"}, 3)
	agg.Set(engine.VUs, 2)

	set, err := threshold.NewSet(map[string][]threshold.Config{
		"http_req_failed": {{Expression: "rate<0.5"}},
	}, agg.Registry())
	require.NoError(t, err)
	return &fakeSource{agg: agg, report: set.Evaluate(agg.Snapshot())}
}

func (f *fakeSource) ID() string                          { return "run-1" }
func (f *fakeSource) PlanName() string                    { return "smoke" }
func (f *fakeSource) Elapsed() time.Duration              { return 1500 * time.Millisecond }
func (f *fakeSource) Snapshot() *metrics.Snapshot         { return f.agg.Snapshot() }
func (f *fakeSource) LatestThresholds() *threshold.Report { return f.report }
func (f *fakeSource) Timeline() []*engine.Point {
	return []*engine.Point{{ElapsedMs: 1000, Requests: 11}}
}

func (f *fakeSource) ScenarioStates() map[string]*execution.ModeState {
	return map[string]*execution.ModeState{
		"steady": {Running: true, ActiveVUs: 2, AllocatedVUs: 4, CompletedIterations: 3},
	}
}

func TestServer_Health(t *testing.T) {
	srv := NewServer(newFakeSource(t), nil, nil)

	resp, err := srv.App().Test(httptest.NewRequest("GET", "/health", nil))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
}

func TestServer_Status(t *testing.T) {
	srv := NewServer(newFakeSource(t), nil, nil)

	resp, err := srv.App().Test(httptest.NewRequest("GET", "/status", nil))
	require.NoError(t, err)
	require.Equal(t, 200, resp.StatusCode)

	var status StatusResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	assert.Equal(t, "run-1", status.RunID)
	assert.Equal(t, "smoke", status.Plan)
	assert.Equal(t, int64(1500), status.ElapsedMs)
	assert.Equal(t, 4, status.Scenarios["steady"].AllocatedVUs)

	reqs := status.Metrics[engine.HTTPReqs]
	assert.Equal(t, "counter", reqs.Type)
	assert.Equal(t, 11.0, reqs.Values["count"])
	assert.Contains(t, status.Metrics, "http_req_duration{class:genes}")
	assert.NotContains(t, status.Metrics, engine.DroppedIterations, "empty series are omitted")

	require.NotNil(t, status.Thresholds)
	assert.True(t, status.Thresholds.Passed)
}

func TestServer_Timeline(t *testing.T) {
	srv := NewServer(newFakeSource(t), nil, nil)

	resp, err := srv.App().Test(httptest.NewRequest("GET", "/timeline", nil))
	require.NoError(t, err)
	var points []engine.Point
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&points))
	require.Len(t, points, 1)
	assert.Equal(t, int64(11), points[0].Requests)
}

func TestServer_Metrics(t *testing.T) {
	srv := NewServer(newFakeSource(t), nil, nil)

	resp, err := srv.App().Test(httptest.NewRequest("GET", "/metrics", nil))
	require.NoError(t, err)
	require.Equal(t, 200, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	text := string(body)

	assert.Contains(t, text, `load_probe_http_reqs_total{class="",kind="",run_id="run-1"} 11`)
	assert.Contains(t, text, `load_probe_http_reqs_total{class="genes",kind="",run_id="run-1"} 10`)
	assert.Contains(t, text, `load_probe_http_reqs_total{class="",kind="heavy",run_id="run-1"} 1`)
	assert.Contains(t, text, `load_probe_iterations_total{run_id="run-1",scenario="steady"} 3`)
	assert.Contains(t, text, `load_probe_http_req_duration_ms_count{class="genes",kind="",run_id="run-1"} 10`)
	assert.Contains(t, text, `load_probe_http_req_duration_ms{class="genes",kind="",run_id="run-1",quantile="0.95"}`)
	assert.Contains(t, text, `load_probe_vus{run_id="run-1"} 2`)
	assert.Contains(t, text, "go_goroutines")
	assert.True(t, strings.Contains(text, `load_probe_dropped_iterations_total{run_id="run-1"} 0`))
}

func TestFamilyName(t *testing.T) {
	assert.Equal(t, "load_probe_heavy_shed_total", familyName("heavy_shed", &metrics.Series{Type: metrics.Counter}))
	assert.Equal(t, "load_probe_iteration_duration_ms",
		familyName("iteration_duration", &metrics.Series{Type: metrics.Trend, Contains: metrics.Time}))
	assert.Equal(t, "load_probe_generator_rss_bytes",
		familyName("generator_rss_bytes", &metrics.Series{Type: metrics.Gauge, Contains: metrics.Data}))
	assert.Equal(t, "load_probe_cache_hit_ratio", familyName("cache-hit.ratio", &metrics.Series{Type: metrics.Gauge}))
}
