package exposition

import (
	"context"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"yqhp/load-probe/internal/httpclient"
	"yqhp/load-probe/pkg/types"
)

const body = "bijux_request_queue_depth{pod=\"a\"} 7\nprocess_resident_memory_bytes 1048576\n"

func TestLookup_Basic(t *testing.T) {
	v, ok := Lookup(body, "bijux_request_queue_depth")
	require.True(t, ok)
	assert.Equal(t, 7.0, v)

	v, ok = Lookup(body, "process_resident_memory_bytes")
	require.True(t, ok)
	assert.Equal(t, 1048576.0, v)

	_, ok = Lookup(body, "absent_metric")
	assert.False(t, ok)
}

func TestLookup_ExactNameOnly(t *testing.T) {
	b := "queue_depth_total 3\nqueue_depth 5\n"

	v, ok := Lookup(b, "queue_depth")
	require.True(t, ok)
	assert.Equal(t, 5.0, v)

	_, ok = Lookup(b, "queue")
	assert.False(t, ok)
}

func TestLookup_SkipsCommentsAndMalformed(t *testing.T) {
	b := `# HELP queue_depth Current depth.
# TYPE queue_depth gauge

queue_depth not-a-number
queue_depth{pod="a" 4
queue_depth{pod="b"}9
   queue_depth{pod="c",path="{x y}"} 11 1700000000000
queue_depth 12
`
	v, ok := Lookup(b, "queue_depth")
	require.True(t, ok)
	assert.Equal(t, 11.0, v)
}

func TestLookup_SpecialValues(t *testing.T) {
	b := "a NaN\nb +Inf\nc -Inf\nd 1.5e3\n"

	v, ok := Lookup(b, "a")
	require.True(t, ok)
	assert.True(t, math.IsNaN(v))

	v, _ = Lookup(b, "b")
	assert.True(t, math.IsInf(v, 1))
	v, _ = Lookup(b, "c")
	assert.True(t, math.IsInf(v, -1))
	v, _ = Lookup(b, "d")
	assert.Equal(t, 1500.0, v)
}

func TestLookup_EscapedQuotesInLabels(t *testing.T) {
	b := `m{msg="say \"}\" now"} 2` + "\n"
	v, ok := Lookup(b, "m")
	require.True(t, ok)
	assert.Equal(t, 2.0, v)
}

func TestLookup_TrailingGarbageIsMalformed(t *testing.T) {
	_, ok := Lookup("m 1 2 3\n", "m")
	assert.False(t, ok)
	_, ok = Lookup("m 1 notatimestamp\n", "m")
	assert.False(t, ok)
	_, ok = Lookup("", "m")
	assert.False(t, ok)
	_, ok = Lookup("m 1\n", "")
	assert.False(t, ok)
}

func TestParse(t *testing.T) {
	samples := Parse("# c\n" + body + "broken{\nx_total 2 123\n")
	require.Len(t, samples, 3)
	assert.Equal(t, Sample{Name: "bijux_request_queue_depth", Labels: `pod="a"`, Value: 7}, samples[0])
	assert.Equal(t, "process_resident_memory_bytes", samples[1].Name)
	assert.Equal(t, Sample{Name: "x_total", Value: 2}, samples[2])
}

func TestRatio(t *testing.T) {
	b := "cache_hits_total 30\ncache_misses_total 10\nempty_hits 0\nempty_misses 0\n"

	r, ok := Ratio(b, "cache_hits_total", "cache_misses_total")
	require.True(t, ok)
	assert.Equal(t, 0.75, r)

	_, ok = Ratio(b, "empty_hits", "empty_misses")
	assert.False(t, ok)
	_, ok = Ratio(b, "cache_hits_total", "absent")
	assert.False(t, ok)
}

func TestGauges(t *testing.T) {
	g := Gauges(body, "bijux_request_queue_depth", "absent")
	assert.Equal(t, map[string]float64{"bijux_request_queue_depth": 7}, g)
}

func TestScraper_Scrape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "k", r.Header.Get("X-API-Key"))
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()

	s := NewScraper(httpclient.New(httpclient.Config{Timeout: time.Second}), map[string]string{"X-API-Key": "k"})
	got, outcome, err := s.Scrape(context.Background(), srv.URL+"/metrics")
	require.NoError(t, err)
	assert.Equal(t, body, got)
	assert.Equal(t, 200, outcome.Status)
	assert.Equal(t, types.RequestMetrics, outcome.Kind)
	assert.NoError(t, outcome.Err)
}

func TestScraper_ErrorStatusYieldsEmptyBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()

	s := NewScraper(httpclient.New(httpclient.Config{Timeout: time.Second}), nil)
	got, outcome, err := s.Scrape(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Equal(t, 503, outcome.Status)
}
