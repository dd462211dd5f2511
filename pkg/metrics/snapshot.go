package metrics

import (
	"sort"
	"time"
)

// Series 是快照中的单个指标，Sink 为冻结副本
type Series struct {
	Name     string            `json:"name"`
	Type     MetricType        `json:"type"`
	Contains ValueType         `json:"contains,omitempty"`
	Tags     map[string]string `json:"tags,omitempty"`
	Parent   string            `json:"parent,omitempty"`
	Sink     Sink              `json:"-"`
}

// Values 返回该指标的统计结果
func (s *Series) Values(elapsed time.Duration) map[string]float64 {
	return s.Sink.Format(elapsed.Seconds())
}

// Snapshot 某一时刻所有指标的一致视图
type Snapshot struct {
	Time    time.Time          `json:"time"`
	Elapsed time.Duration      `json:"elapsed"`
	Series  map[string]*Series `json:"series"`
}

// Get 按名称获取指标
func (s *Snapshot) Get(name string) (*Series, bool) {
	if s == nil {
		return nil, false
	}
	series, ok := s.Series[name]
	return series, ok
}

// Names 返回排序后的指标名
func (s *Snapshot) Names() []string {
	names := make([]string, 0, len(s.Series))
	for name := range s.Series {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Count 计数器累计值，指标不存在时为 0
func (s *Snapshot) Count(name string) float64 {
	series, ok := s.Get(name)
	if !ok {
		return 0
	}
	switch sink := series.Sink.(type) {
	case *CounterSink:
		return sink.Count()
	case *TrendSink:
		return float64(sink.Count())
	case *RateSink:
		_, total := sink.Counts()
		return float64(total)
	default:
		return 0
	}
}

// RateOf 比率指标的值，指标不存在时为 0
func (s *Snapshot) RateOf(name string) float64 {
	series, ok := s.Get(name)
	if !ok {
		return 0
	}
	if sink, ok := series.Sink.(*RateSink); ok {
		return sink.Rate()
	}
	return 0
}

// GaugeValue 仪表指标的当前值，指标不存在时为 0
func (s *Snapshot) GaugeValue(name string) float64 {
	series, ok := s.Get(name)
	if !ok {
		return 0
	}
	if sink, ok := series.Sink.(*GaugeSink); ok {
		return sink.Value()
	}
	return 0
}

// Percentile 趋势指标的百分位数，指标不存在时为 0
func (s *Snapshot) Percentile(name string, p float64) float64 {
	series, ok := s.Get(name)
	if !ok {
		return 0
	}
	if sink, ok := series.Sink.(*TrendSink); ok {
		return sink.Percentile(p)
	}
	return 0
}

// Freeze 复制注册表中全部指标的当前状态。调用方需保证期间没有写入，
// 否则不同指标之间可能不一致。
func (r *Registry) Freeze(now time.Time, elapsed time.Duration) *Snapshot {
	all := r.All()
	snap := &Snapshot{
		Time:    now,
		Elapsed: elapsed,
		Series:  make(map[string]*Series, len(all)),
	}
	for name, m := range all {
		series := &Series{
			Name:     name,
			Type:     m.Type,
			Contains: m.Contains,
			Tags:     m.Tags,
			Sink:     m.Sink.Clone(),
		}
		if m.Parent != nil {
			series.Parent = m.Parent.Name
		}
		snap.Series[name] = series
	}
	return snap
}
