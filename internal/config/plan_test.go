package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"yqhp/load-probe/pkg/types"
)

const samplePlan = `
name: atlas-overload
target:
  base_url: http://localhost:8080
  api_key: ${ATLAS_API_KEY}
  api_key_header: X-API-Key
dataset: {release: "110", species: homo_sapiens, assembly: GRCh38}
scenarios:
  spike:
    executor: ramping-arrival-rate
    start_rate: 5
    time_unit: 1s
    pre_allocated_vus: 20
    max_vus: 100
    stages:
      - {duration: 20s, target: 50}
      - {duration: 10s, target: 200}
      - {duration: 20s, target: 50}
  warmup:
    executor: constant-vus
    vus: 2
    duration: 10s
probe:
  cheap:
    - {name: genes, path: /v1/genes, weight: 8}
    - {name: datasets, path: /v1/datasets, weight: 2}
  heavy:
    - {name: sequence, path: /v1/sequence/region, weight: 1, query: {region: "1:1-500000"}}
  health: {path: /healthz/overload, every: 5}
  metrics:
    path: /metrics
    every: 10
    queue_depth_metric: bijux_request_queue_depth
    rss_metric: process_resident_memory_bytes
    rss_cap_bytes: 1073741824
  seed: 42
thresholds:
  http_req_failed: ["rate<0.01"]
  "http_req_duration{class:genes}": ["p(95)<800"]
  heavy_shed: [{threshold: "count>0", abort_on_fail: false}]
  bijux_request_queue_depth: ["max<100"]
`

func TestParsePlan(t *testing.T) {
	t.Setenv("ATLAS_API_KEY", "k-123")

	p, err := ParsePlan([]byte(samplePlan))
	require.NoError(t, err)

	assert.Equal(t, "atlas-overload", p.Name)
	assert.Equal(t, "k-123", p.Target.APIKey)
	assert.Equal(t, "110", p.Dataset.Release)

	require.Len(t, p.Scenarios, 2)
	spike := p.Scenarios["spike"]
	assert.Equal(t, "spike", spike.Name)
	assert.Equal(t, types.ExecutorRampingArrivalRate, spike.Executor)
	assert.Equal(t, 100, spike.MaxVUs)
	assert.Equal(t, 100, spike.MaxDeferred)
	assert.Equal(t, types.DefaultGracefulStop, spike.GracefulStop)
	require.Len(t, spike.Stages, 3)
	assert.Equal(t, 10*time.Second, spike.Stages[1].Duration)
	assert.Equal(t, 200, spike.Stages[1].Target)

	assert.Len(t, p.Probe.Cheap, 2)
	assert.Equal(t, int64(5), p.Probe.Health.Every)
	assert.Equal(t, int64(10), p.Probe.Metrics.Every)
	require.NotNil(t, p.Probe.Seed)
	assert.Equal(t, int64(42), *p.Probe.Seed)
	assert.Equal(t, []int{429, 503}, p.Probe.ShedStatuses)

	require.Len(t, p.Thresholds["heavy_shed"], 1)
	assert.Equal(t, "count>0", p.Thresholds["heavy_shed"][0].Expression)
	assert.Equal(t, "rate<0.01", p.Thresholds["http_req_failed"][0].Expression)

	assert.NoError(t, p.Validate())
}

func TestPlan_ScenarioList(t *testing.T) {
	p, err := ParsePlan([]byte(`
target: {base_url: http://x}
scenarios:
  b: {executor: constant-vus, vus: 1, duration: 1s}
  a: {executor: constant-vus, vus: 1, duration: 1s, start_time: 5s}
  c: {executor: constant-vus, vus: 1, duration: 1s}
`))
	require.NoError(t, err)

	var names []string
	for _, s := range p.ScenarioList() {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{"b", "c", "a"}, names)
}

func TestExpandEnv(t *testing.T) {
	lookup := func(name string) (string, bool) {
		if name == "SET" {
			return "value", true
		}
		return "", false
	}

	tests := []struct {
		in, want string
	}{
		{"key: ${SET}", "key: value"},
		{"key: ${UNSET}", "key: "},
		{"key: ${UNSET:-fallback}", "key: fallback"},
		{"key: ${SET:-fallback}", "key: value"},
		{"key: $SET", "key: $SET"},
		{"a: ${SET}-${SET}", "a: value-value"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, string(ExpandEnv([]byte(tt.in), lookup)), tt.in)
	}
}

func TestLoadPlan(t *testing.T) {
	t.Setenv("ATLAS_API_KEY", "x")
	path := filepath.Join(t.TempDir(), "plan.yaml")
	require.NoError(t, os.WriteFile(path, []byte(samplePlan), 0o644))

	p, err := LoadPlan(path)
	require.NoError(t, err)
	assert.Len(t, p.ScenarioList(), 2)

	_, err = LoadPlan(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestParsePlan_Malformed(t *testing.T) {
	_, err := ParsePlan([]byte("scenarios: [\n"))
	assert.Error(t, err)
}
