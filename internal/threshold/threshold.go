package threshold

import (
	"errors"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"

	"yqhp/load-probe/pkg/metrics"
)

// Config defines a single threshold as written in a test plan. In YAML it is
// either a bare expression string or a mapping with threshold/abort_on_fail.
type Config struct {
	Expression  string `yaml:"threshold" json:"threshold"`
	AbortOnFail bool   `yaml:"abort_on_fail" json:"abort_on_fail"`
}

// UnmarshalYAML accepts both the short and the long form.
func (c *Config) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		c.Expression = node.Value
		c.AbortOnFail = false
		return nil
	}
	type plain Config
	var p plain
	if err := node.Decode(&p); err != nil {
		return err
	}
	*c = Config(p)
	return nil
}

// Threshold is a validated expression bound to a metric key.
type Threshold struct {
	Metric      string             // normalized key, e.g. http_req_duration{class:genes}
	Parent      string             // registered parent metric
	Type        metrics.MetricType // type of the parent metric
	Source      string             // expression as written
	Comparison  *Comparison
	AbortOnFail bool
}

// Set holds every threshold of a run in a stable order.
type Set struct {
	thresholds []*Threshold
}

// NewSet parses and validates all definitions against the registry. All problems
// are reported together.
func NewSet(defs map[string][]Config, registry *metrics.Registry) (*Set, error) {
	keys := make([]string, 0, len(defs))
	for k := range defs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	s := &Set{}
	var errs []error
	for _, key := range keys {
		parent, tags, err := metrics.ParseKey(key)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		m := registry.Get(parent)
		if m == nil {
			errs = append(errs, fmt.Errorf("%w: %q", ErrUnknownMetric, key))
			continue
		}

		for _, cfg := range defs[key] {
			cmp, err := ParseExpression(cfg.Expression)
			if err != nil {
				errs = append(errs, fmt.Errorf("metric %q: %w", key, err))
				continue
			}
			if !cmp.Aggregation.SupportedBy(m.Type) {
				errs = append(errs, fmt.Errorf("metric %q (%s): %w: %s",
					key, m.Type, ErrUnsupportedAggregation, cmp.AggregationString()))
				continue
			}
			s.thresholds = append(s.thresholds, &Threshold{
				Metric:      metrics.FormatKey(parent, tags),
				Parent:      parent,
				Type:        m.Type,
				Source:      cfg.Expression,
				Comparison:  cmp,
				AbortOnFail: cfg.AbortOnFail,
			})
		}
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return s, nil
}

// Len returns the number of thresholds.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.thresholds)
}

// Thresholds returns the thresholds in evaluation order.
func (s *Set) Thresholds() []*Threshold {
	if s == nil {
		return nil
	}
	return s.thresholds
}
