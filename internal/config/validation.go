package config

import (
	"fmt"
	"net"
	"net/url"
	"sort"
	"strings"

	"yqhp/load-probe/internal/metrics/engine"
	"yqhp/load-probe/internal/mix"
	"yqhp/load-probe/internal/probe"
	"yqhp/load-probe/internal/selfmon"
	"yqhp/load-probe/internal/threshold"
	"yqhp/load-probe/pkg/metrics"
	"yqhp/load-probe/pkg/types"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return fmt.Sprintf("configuration validation failed:\n  - %s", strings.Join(msgs, "\n  - "))
}

// HasErrors returns true if there are any validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Fields returns the failing field paths.
func (e ValidationErrors) Fields() []string {
	out := make([]string, len(e))
	for i, err := range e {
		out[i] = err.Field
	}
	return out
}

// Validator validates configuration values.
type Validator struct {
	errors ValidationErrors
}

// NewValidator creates a new configuration validator.
func NewValidator() *Validator {
	return &Validator{
		errors: make(ValidationErrors, 0),
	}
}

func (v *Validator) addError(field, message string) {
	v.errors = append(v.errors, ValidationError{Field: field, Message: message})
}

func (v *Validator) result() error {
	if v.errors.HasErrors() {
		return v.errors
	}
	return nil
}

// Validate validates the engine configuration and returns any errors.
func (v *Validator) Validate(cfg *Config) error {
	v.errors = make(ValidationErrors, 0)

	v.validateLoggingConfig(cfg)
	v.validateHTTPConfig(cfg)
	v.validateMetricsConfig(&cfg.Metrics)
	v.validateStatusConfig(&cfg.Status)
	v.validateOutputConfig(&cfg.Output)

	if cfg.SelfMonitor.Enabled && cfg.SelfMonitor.Interval <= 0 {
		v.addError("self_monitor.interval", "interval must be positive when self monitoring is enabled")
	}

	return v.result()
}

func (v *Validator) validateLoggingConfig(cfg *Config) {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		v.addError("logging.level", fmt.Sprintf("invalid log level '%s', must be one of: debug, info, warn, error", cfg.Logging.Level))
	}

	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		v.addError("logging.format", fmt.Sprintf("invalid log format '%s', must be one of: json, console", cfg.Logging.Format))
	}

	switch strings.ToLower(cfg.Logging.Output) {
	case "stdout", "stderr":
	case "file", "both":
		if cfg.Logging.FilePath == "" {
			v.addError("logging.file_path", "file path is required when logging to a file")
		}
	default:
		v.addError("logging.output", fmt.Sprintf("invalid log output '%s', must be one of: stdout, stderr, file, both", cfg.Logging.Output))
	}
}

func (v *Validator) validateHTTPConfig(cfg *Config) {
	if cfg.HTTP.Timeout < 0 {
		v.addError("http.timeout", "timeout must be non-negative")
	}
	if cfg.HTTP.MaxConnsPerHost < 0 {
		v.addError("http.max_conns_per_host", "max connections per host must be non-negative")
	}
	if cfg.HTTP.MaxBodyBytes < 0 {
		v.addError("http.max_body_bytes", "max body bytes must be non-negative")
	}
}

func (v *Validator) validateMetricsConfig(cfg *MetricsConfig) {
	if cfg.TrendSampleCap <= 0 {
		v.addError("metrics.trend_sample_cap", "trend sample cap must be positive")
	}
	if cfg.ThresholdInterval <= 0 {
		v.addError("metrics.threshold_interval", "threshold interval must be positive")
	}
	if cfg.TimelineInterval < 0 {
		v.addError("metrics.timeline_interval", "timeline interval must be non-negative")
	}
	if cfg.TimelineLimit < 0 {
		v.addError("metrics.timeline_limit", "timeline limit must be non-negative")
	}
}

func (v *Validator) validateStatusConfig(cfg *StatusConfig) {
	if !cfg.Enabled {
		return
	}
	if !isValidAddress(cfg.Address) {
		v.addError("status.address", "invalid address format, expected host:port or :port")
	}
	if cfg.ReadTimeout < 0 {
		v.addError("status.read_timeout", "read timeout must be non-negative")
	}
	if cfg.WriteTimeout < 0 {
		v.addError("status.write_timeout", "write timeout must be non-negative")
	}
}

func (v *Validator) validateOutputConfig(cfg *OutputConfig) {
	for i, spec := range cfg.Samples {
		kind, target, ok := strings.Cut(spec, "=")
		if !ok || target == "" {
			v.addError(fmt.Sprintf("output.samples[%d]", i), fmt.Sprintf("invalid sample output %q, expected type=target", spec))
			continue
		}
		switch kind {
		case "json", "influxdb", "kafka":
		default:
			v.addError(fmt.Sprintf("output.samples[%d]", i), fmt.Sprintf("unknown sample output type %q, must be one of: json, influxdb, kafka", kind))
		}
	}
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	return NewValidator().Validate(c)
}

// LoadAndValidate loads configuration from a file and validates it.
func LoadAndValidate(path string) (*Config, error) {
	cfg, err := LoadFromFile(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the whole plan before any traffic is issued: the target,
// every scenario, the probe mixes and every threshold expression.
func (p *Plan) Validate() error {
	return NewValidator().ValidatePlan(p)
}

// ValidatePlan validates a parsed plan.
func (v *Validator) ValidatePlan(p *Plan) error {
	v.errors = make(ValidationErrors, 0)

	v.validateTarget(&p.Target)

	if len(p.Scenarios) == 0 {
		v.addError("scenarios", "at least one scenario is required")
	}
	names := make([]string, 0, len(p.Scenarios))
	for name := range p.Scenarios {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		v.validateScenario("scenarios."+name, p.Scenarios[name])
	}

	v.validateProbe(&p.Probe)
	v.validateThresholds(p)
	v.validateLimits(&p.Limits)

	return v.result()
}

func (v *Validator) validateLimits(l *types.LoadReportLimits) {
	if l.P95Ms < 0 {
		v.addError("limits.p95_ms", "limit must be non-negative")
	}
	if l.P99Ms < 0 {
		v.addError("limits.p99_ms", "limit must be non-negative")
	}
	if l.ErrorRate < 0 || l.ErrorRate > 1 {
		v.addError("limits.error_rate", "error rate limit must be within [0, 1]")
	}
}

func (v *Validator) validateTarget(t *probe.Target) {
	if t.BaseURL == "" {
		v.addError("target.base_url", "base url is required")
		return
	}
	u, err := url.Parse(t.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		v.addError("target.base_url", fmt.Sprintf("invalid base url %q, expected http(s)://host[:port]", t.BaseURL))
	}
}

func (v *Validator) validateScenario(field string, s *types.Scenario) {
	if !s.Executor.Valid() {
		v.addError(field+".executor", fmt.Sprintf("unknown executor %q", s.Executor))
		return
	}
	if s.StartTime < 0 {
		v.addError(field+".start_time", "start time must be non-negative")
	}
	if s.GracefulStop < 0 {
		v.addError(field+".graceful_stop", "graceful stop must be non-negative")
	}

	switch s.Executor {
	case types.ExecutorConstantVUs:
		if s.VUs <= 0 {
			v.addError(field+".vus", "vus must be positive")
		}
		if s.Duration <= 0 {
			v.addError(field+".duration", "duration must be positive")
		}
	case types.ExecutorRampingVUs:
		if s.StartVUs < 0 {
			v.addError(field+".start_vus", "start vus must be non-negative")
		}
		v.validateStages(field, s.Stages)
	case types.ExecutorConstantArrivalRate:
		if s.Rate <= 0 {
			v.addError(field+".rate", "rate must be positive")
		}
		if s.Duration <= 0 {
			v.addError(field+".duration", "duration must be positive")
		}
		v.validatePool(field, s)
	case types.ExecutorRampingArrivalRate:
		if s.StartRate < 0 {
			v.addError(field+".start_rate", "start rate must be non-negative")
		}
		v.validateStages(field, s.Stages)
		v.validatePool(field, s)
	case types.ExecutorPerVUIterations, types.ExecutorSharedIterations:
		if s.VUs <= 0 {
			v.addError(field+".vus", "vus must be positive")
		}
		if s.Iterations <= 0 {
			v.addError(field+".iterations", "iterations must be positive")
		}
		if s.MaxDuration <= 0 {
			v.addError(field+".max_duration", "max duration must be positive")
		}
	}
}

func (v *Validator) validateStages(field string, stages []types.Stage) {
	if len(stages) == 0 {
		v.addError(field+".stages", "at least one stage is required")
		return
	}
	for i, st := range stages {
		if st.Duration <= 0 {
			v.addError(fmt.Sprintf("%s.stages[%d].duration", field, i), "stage duration must be positive")
		}
		if st.Target < 0 {
			v.addError(fmt.Sprintf("%s.stages[%d].target", field, i), "stage target must be non-negative")
		}
	}
}

func (v *Validator) validatePool(field string, s *types.Scenario) {
	if s.TimeUnit <= 0 {
		v.addError(field+".time_unit", "time unit must be positive")
	}
	if s.PreAllocatedVUs <= 0 {
		v.addError(field+".pre_allocated_vus", "pre-allocated vus must be positive")
	}
	if s.MaxVUs < s.PreAllocatedVUs {
		v.addError(field+".max_vus", "max vus must not be below pre-allocated vus")
	}
}

func (v *Validator) validateProbe(c *probe.Config) {
	if err := c.Validate(); err != nil {
		v.addError("probe", err.Error())
		return
	}
	for name, eps := range map[string][]probe.Endpoint{"probe.cheap": c.Cheap, "probe.heavy": c.Heavy} {
		if len(eps) == 0 {
			continue
		}
		entries := make([]mix.Weighted[probe.Endpoint], len(eps))
		for i, ep := range eps {
			entries[i] = mix.Weighted[probe.Endpoint]{Item: ep, Weight: ep.Weight}
		}
		if _, err := mix.New(entries); err != nil {
			v.addError(name, err.Error())
		}
	}
	if c.Metrics.RSSCapBytes < 0 {
		v.addError("probe.metrics.rss_cap_bytes", "rss cap must be non-negative")
	}

	// scraped gauges get their own series; reusing a built-in name would feed
	// gauge readings into a series of another type
	builtin := builtinRegistry()
	scraped := map[string]string{
		"probe.metrics.queue_depth_metric": c.Metrics.QueueDepthMetric,
		"probe.metrics.rss_metric":         c.Metrics.RSSMetric,
	}
	for field, name := range scraped {
		switch {
		case name == "":
		case name == engine.CacheHitRatio || builtin.Get(name) != nil:
			v.addError(field, fmt.Sprintf("metric name %q collides with a built-in series", name))
		}
	}
	if q := c.Metrics.QueueDepthMetric; q != "" && q == c.Metrics.RSSMetric {
		v.addError("probe.metrics.rss_metric", fmt.Sprintf("metric name %q is also the queue depth metric", q))
	}
}

// builtinRegistry holds every series a run declares before any plan specific one.
func builtinRegistry() *metrics.Registry {
	registry := metrics.NewRegistry()
	engine.New(registry)
	selfmon.DeclareMetrics(registry)
	return registry
}

func (v *Validator) validateThresholds(p *Plan) {
	if len(p.Thresholds) == 0 {
		return
	}
	registry := builtinRegistry()
	p.Probe.DeclareMetrics(registry)

	if _, err := threshold.NewSet(p.Thresholds, registry); err != nil {
		for _, e := range unjoin(err) {
			v.addError("thresholds", e.Error())
		}
	}
}

func unjoin(err error) []error {
	if j, ok := err.(interface{ Unwrap() []error }); ok {
		return j.Unwrap()
	}
	return []error{err}
}

// isValidAddress checks if the address is a valid host:port format.
func isValidAddress(addr string) bool {
	if addr == "" {
		return false
	}

	host, port, err := net.SplitHostPort(addr)
	if err != nil || port == "" {
		return false
	}
	if _, err := net.LookupPort("tcp", port); err != nil {
		return false
	}

	if host != "" {
		if ip := net.ParseIP(host); ip == nil && !isValidHostname(host) {
			return false
		}
	}
	return true
}

// isValidHostname performs basic hostname validation.
func isValidHostname(hostname string) bool {
	if len(hostname) == 0 || len(hostname) > 253 {
		return false
	}

	for _, label := range strings.Split(hostname, ".") {
		if len(label) == 0 || len(label) > 63 {
			return false
		}
		if !isAlphanumeric(label[0]) || !isAlphanumeric(label[len(label)-1]) {
			return false
		}
		for _, c := range label {
			if !isAlphanumeric(byte(c)) && c != '-' {
				return false
			}
		}
	}
	return true
}

func isAlphanumeric(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}
