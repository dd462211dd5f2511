package metrics

import (
	"sort"
	"sync"
	"time"
)

// MetricType 定义指标类型
type MetricType string

const (
	// Counter 计数器类型，只增不减
	Counter MetricType = "counter"
	// Gauge 仪表盘类型，可增可减
	Gauge MetricType = "gauge"
	// Rate 比率类型，计算非零样本占比
	Rate MetricType = "rate"
	// Trend 趋势类型，计算百分位数等统计值
	Trend MetricType = "trend"
)

// ValueType 定义值的类型
type ValueType string

const (
	// Default 默认值类型
	Default ValueType = "default"
	// Time 时间类型（毫秒）
	Time ValueType = "time"
	// Data 数据量类型（字节）
	Data ValueType = "data"
)

// Metric 定义一个指标。子指标通过 Parent 指向父指标，Tags 为其过滤条件。
type Metric struct {
	Name        string            `json:"name"`
	Type        MetricType        `json:"type"`
	Contains    ValueType         `json:"contains,omitempty"`
	Description string            `json:"description,omitempty"`
	Tags        map[string]string `json:"tags,omitempty"`
	Parent      *Metric           `json:"-"`
	Sink        Sink              `json:"-"`
}

// IsSubmetric 是否为子指标
func (m *Metric) IsSubmetric() bool {
	return m.Parent != nil
}

// Sample 表示单个指标样本
type Sample struct {
	Metric *Metric           `json:"-"`
	Time   time.Time         `json:"time"`
	Value  float64           `json:"value"`
	Tags   map[string]string `json:"tags,omitempty"`
}

// SampleContainer 是可以返回多个样本的接口
type SampleContainer interface {
	GetSamples() []Sample
}

// Samples 是 Sample 切片，实现 SampleContainer 接口
type Samples []Sample

// GetSamples 返回样本切片
func (s Samples) GetSamples() []Sample {
	return s
}

// ConnectedSamples 表示同一次请求产生的一组样本
type ConnectedSamples struct {
	Samples []Sample
	Tags    map[string]string
	Time    time.Time
}

// GetSamples 返回样本切片
func (cs ConnectedSamples) GetSamples() []Sample {
	return cs.Samples
}

// Options 注册表选项
type Options struct {
	// TrendSampleCap 趋势指标保留精确样本的上限，超过后改用直方图估算
	TrendSampleCap int
}

// Registry 管理所有已注册的指标
type Registry struct {
	metrics map[string]*Metric
	opts    Options
	mu      sync.RWMutex
}

// NewRegistry 创建新的指标注册表
func NewRegistry() *Registry {
	return NewRegistryWithOptions(Options{})
}

// NewRegistryWithOptions 按选项创建指标注册表
func NewRegistryWithOptions(opts Options) *Registry {
	if opts.TrendSampleCap <= 0 {
		opts.TrendSampleCap = DefaultTrendSampleCap
	}
	return &Registry{
		metrics: make(map[string]*Metric),
		opts:    opts,
	}
}

// NewMetric 创建并注册新指标，同名指标已存在时直接返回
func (r *Registry) NewMetric(name string, metricType MetricType, contains ValueType) *Metric {
	r.mu.Lock()
	defer r.mu.Unlock()

	if m, ok := r.metrics[name]; ok {
		return m
	}

	m := &Metric{
		Name:     name,
		Type:     metricType,
		Contains: contains,
		Sink:     r.newSink(metricType),
	}
	r.metrics[name] = m
	return m
}

// Submetric 获取或创建父指标下按标签过滤的子指标
func (r *Registry) Submetric(parent *Metric, tags map[string]string) *Metric {
	key := FormatKey(parent.Name, tags)

	r.mu.RLock()
	m, ok := r.metrics[key]
	r.mu.RUnlock()
	if ok {
		return m
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.metrics[key]; ok {
		return m
	}

	copied := make(map[string]string, len(tags))
	for k, v := range tags {
		copied[k] = v
	}
	m = &Metric{
		Name:     key,
		Type:     parent.Type,
		Contains: parent.Contains,
		Tags:     copied,
		Parent:   parent,
		Sink:     r.newSink(parent.Type),
	}
	r.metrics[key] = m
	return m
}

func (r *Registry) newSink(metricType MetricType) Sink {
	if metricType == Trend {
		return NewTrendSink(r.opts.TrendSampleCap)
	}
	return NewSink(metricType)
}

// Get 获取已注册的指标
func (r *Registry) Get(name string) *Metric {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.metrics[name]
}

// All 返回所有已注册的指标
func (r *Registry) All() map[string]*Metric {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string]*Metric, len(r.metrics))
	for k, v := range r.metrics {
		result[k] = v
	}
	return result
}

// Names 返回排序后的指标名
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.metrics))
	for k := range r.metrics {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
