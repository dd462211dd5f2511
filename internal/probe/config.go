package probe

import (
	"fmt"
	"strings"

	"yqhp/load-probe/internal/metrics/engine"
	"yqhp/load-probe/pkg/metrics"
)

// Target is the system under test.
type Target struct {
	BaseURL      string `yaml:"base_url"`
	APIKey       string `yaml:"api_key"`
	APIKeyHeader string `yaml:"api_key_header"`
}

// Dataset selects the dataset coordinates sent as query parameters.
type Dataset struct {
	Release  string `yaml:"release"`
	Species  string `yaml:"species"`
	Assembly string `yaml:"assembly"`
}

// Query returns the non-empty coordinates as query parameters.
func (d Dataset) Query() map[string]string {
	q := make(map[string]string, 3)
	if d.Release != "" {
		q["release"] = d.Release
	}
	if d.Species != "" {
		q["species"] = d.Species
	}
	if d.Assembly != "" {
		q["assembly"] = d.Assembly
	}
	return q
}

// Endpoint is one weighted request class.
type Endpoint struct {
	Name   string            `yaml:"name"`
	Path   string            `yaml:"path"`
	Weight float64           `yaml:"weight"`
	Query  map[string]string `yaml:"query"`
}

// Cadence selects the iterations, by run-global index, on which a periodic
// call is made: index >= Offset and (index-Offset) % Every == 0. Every <= 0
// disables the call.
type Cadence struct {
	Every  int64 `yaml:"every"`
	Offset int64 `yaml:"offset"`
}

// Due reports whether iteration index i is on the cadence.
func (c Cadence) Due(i int64) bool {
	if c.Every <= 0 || i < c.Offset {
		return false
	}
	return (i-c.Offset)%c.Every == 0
}

// HealthConfig configures the overload health check.
type HealthConfig struct {
	Path string `yaml:"path"`
	// OverloadField is a JSONPath into the health body; a true value there
	// means the server reports overload.
	OverloadField string `yaml:"overload_field"`
	Cadence       `yaml:",inline"`
}

// MetricsConfig configures the exposition scrape.
type MetricsConfig struct {
	Path             string  `yaml:"path"`
	QueueDepthMetric string  `yaml:"queue_depth_metric"`
	QueueDepthCap    float64 `yaml:"queue_depth_cap"`
	RSSMetric        string  `yaml:"rss_metric"`
	RSSCapBytes      float64 `yaml:"rss_cap_bytes"`
	// CacheHitMetric and CacheMissMetric, when both set, publish their ratio
	// as the cache_hit_ratio gauge.
	CacheHitMetric  string `yaml:"cache_hit_metric"`
	CacheMissMetric string `yaml:"cache_miss_metric"`
	Cadence         `yaml:",inline"`
}

// Config is the probe section of a test plan.
type Config struct {
	Cheap   []Endpoint    `yaml:"cheap"`
	Heavy   []Endpoint    `yaml:"heavy"`
	Health  HealthConfig  `yaml:"health"`
	Metrics MetricsConfig `yaml:"metrics"`
	// ShedStatuses are heavy-path statuses treated as shedding. Defaults to 429 and 503.
	ShedStatuses []int  `yaml:"shed_statuses"`
	Seed         *int64 `yaml:"seed"`
}

// Defaults.
const (
	DefaultOverloadField = "$.overloaded"
	DefaultAPIKeyHeader  = "X-API-Key"
)

// DefaultShedStatuses are the heavy-path statuses accepted as shedding.
var DefaultShedStatuses = []int{429, 503}

// ApplyDefaults fills optional fields.
func (c *Config) ApplyDefaults() {
	if c.Health.OverloadField == "" {
		c.Health.OverloadField = DefaultOverloadField
	}
	if len(c.ShedStatuses) == 0 {
		c.ShedStatuses = append([]int(nil), DefaultShedStatuses...)
	}
}

// Validate checks the probe section. It does not validate weights; those are
// checked when the samplers are built.
func (c *Config) Validate() error {
	if len(c.Cheap) == 0 && len(c.Heavy) == 0 {
		return fmt.Errorf("probe: at least one cheap or heavy endpoint is required")
	}
	for _, eps := range [][]Endpoint{c.Cheap, c.Heavy} {
		for i, ep := range eps {
			if ep.Name == "" {
				return fmt.Errorf("probe: endpoint %d has no name", i)
			}
			if !strings.HasPrefix(ep.Path, "/") {
				return fmt.Errorf("probe: endpoint %q path must start with /", ep.Name)
			}
		}
	}
	if c.Health.Every > 0 && c.Health.Path == "" {
		return fmt.Errorf("probe: health cadence set without a path")
	}
	if c.Metrics.Every > 0 && c.Metrics.Path == "" {
		return fmt.Errorf("probe: metrics cadence set without a path")
	}
	return nil
}

// DeclareMetrics registers the gauges the probe may publish so thresholds can
// reference them before the first scrape.
func (c Config) DeclareMetrics(registry *metrics.Registry) {
	if name := c.Metrics.QueueDepthMetric; name != "" && registry.Get(name) == nil {
		registry.NewMetric(name, metrics.Gauge, metrics.Default)
	}
	if name := c.Metrics.RSSMetric; name != "" && registry.Get(name) == nil {
		registry.NewMetric(name, metrics.Gauge, metrics.Data)
	}
	if c.Metrics.CacheHitMetric != "" && c.Metrics.CacheMissMetric != "" && registry.Get(engine.CacheHitRatio) == nil {
		registry.NewMetric(engine.CacheHitRatio, metrics.Gauge, metrics.Default)
	}
}
