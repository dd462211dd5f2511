package config

import (
	"fmt"
	"os"
	"regexp"
	"sort"

	"gopkg.in/yaml.v3"

	"yqhp/load-probe/internal/probe"
	"yqhp/load-probe/internal/threshold"
	"yqhp/load-probe/pkg/types"
)

// Plan is a test plan: the target, its scenarios, the probe and the thresholds.
type Plan struct {
	Name       string                        `yaml:"name"`
	Target     probe.Target                  `yaml:"target"`
	Dataset    probe.Dataset                 `yaml:"dataset"`
	Scenarios  map[string]*types.Scenario    `yaml:"scenarios"`
	Probe      probe.Config                  `yaml:"probe"`
	Thresholds map[string][]threshold.Config `yaml:"thresholds"`
	// Limits are the load report budgets; zero values are not enforced.
	Limits types.LoadReportLimits `yaml:"limits"`
}

// envRef matches ${NAME} and ${NAME:-default}.
var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-([^}]*))?\}`)

// ExpandEnv replaces ${NAME} references with environment values. Unset names
// without a default expand to the empty string. A bare $NAME is left alone.
func ExpandEnv(data []byte, lookup func(string) (string, bool)) []byte {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	return envRef.ReplaceAllFunc(data, func(ref []byte) []byte {
		m := envRef.FindSubmatch(ref)
		if v, ok := lookup(string(m[1])); ok {
			return []byte(v)
		}
		return m[2]
	})
}

// ParsePlan decodes a plan, expanding environment references first, and
// applies scenario and probe defaults. It does not validate.
func ParsePlan(data []byte) (*Plan, error) {
	var p Plan
	if err := yaml.Unmarshal(ExpandEnv(data, nil), &p); err != nil {
		return nil, fmt.Errorf("解析测试计划失败: %w", err)
	}
	for name, s := range p.Scenarios {
		if s == nil {
			s = &types.Scenario{}
			p.Scenarios[name] = s
		}
		s.Name = name
		s.ApplyDefaults()
	}
	p.Probe.ApplyDefaults()
	return &p, nil
}

// LoadPlan reads, parses and validates the plan at path.
func LoadPlan(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取测试计划失败: %w", err)
	}
	p, err := ParsePlan(data)
	if err != nil {
		return nil, err
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// ScenarioList returns the scenarios ordered by start time, then name.
func (p *Plan) ScenarioList() []types.Scenario {
	out := make([]types.Scenario, 0, len(p.Scenarios))
	for _, s := range p.Scenarios {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartTime != out[j].StartTime {
			return out[i].StartTime < out[j].StartTime
		}
		return out[i].Name < out[j].Name
	})
	return out
}
