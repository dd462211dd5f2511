package kafka

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"yqhp/load-probe/pkg/metrics"
	"yqhp/load-probe/pkg/output"
)

type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafkago.Message
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafkago.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig("b1:9092, b2:9092?topic=lp&format=influxdb&push_interval=250ms")
	require.NoError(t, err)
	assert.Equal(t, []string{"b1:9092", "b2:9092"}, cfg.Brokers)
	assert.Equal(t, "lp", cfg.Topic)
	assert.Equal(t, FormatInflux, cfg.Format)
	assert.Equal(t, 250*time.Millisecond, cfg.PushInterval)

	cfg, err = ParseConfig("broker:9092")
	require.NoError(t, err)
	assert.Equal(t, "load-probe-metrics", cfg.Topic)
	assert.Equal(t, FormatJSON, cfg.Format)

	for _, bad := range []string{"", "?topic=x", "b:9092?format=avro"} {
		_, err := ParseConfig(bad)
		assert.Error(t, err, bad)
	}
}

func flushOne(t *testing.T, cfg Config) *fakeWriter {
	t.Helper()
	w := &fakeWriter{}
	out := NewWithWriter(output.Params{RunID: "run-1", PlanName: "smoke"}, cfg, w)
	require.NoError(t, out.Start())

	m := metrics.NewRegistry().NewMetric("heavy_shed", metrics.Counter, metrics.Default)
	out.AddMetricSamples([]metrics.SampleContainer{
		metrics.Samples{{Metric: m, Time: time.UnixMilli(1000), Value: 1, Tags: map[string]string{"class": "sequence"}}},
	})
	require.NoError(t, out.Stop())
	return w
}

func TestOutput_JSONMessages(t *testing.T) {
	cfg, err := ParseConfig("broker:9092?push_interval=1h")
	require.NoError(t, err)
	w := flushOne(t, cfg)

	require.True(t, w.closed)
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "heavy_shed", string(w.msgs[0].Key))

	var msg message
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &msg))
	assert.Equal(t, "heavy_shed", msg.Metric)
	assert.Equal(t, "counter", msg.Type)
	assert.Equal(t, int64(1000), msg.Timestamp)
	assert.Equal(t, "run-1", msg.RunID)
	assert.Equal(t, "sequence", msg.Tags["class"])
}

func TestOutput_InfluxMessages(t *testing.T) {
	cfg, err := ParseConfig("broker:9092?format=influxdb&push_interval=1h")
	require.NoError(t, err)
	w := flushOne(t, cfg)

	require.Len(t, w.msgs, 1)
	assert.True(t, strings.HasPrefix(string(w.msgs[0].Value), "heavy_shed,class=sequence value=1 1000"))
}
