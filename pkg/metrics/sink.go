package metrics

import (
	"math"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// DefaultTrendSampleCap 趋势指标默认保留的精确样本数
const DefaultTrendSampleCap = 10000

// 直方图以千分之一单位记录，毫秒值即微秒精度，上限约一小时
const (
	histScale     = 1000
	histLowest    = 1
	histHighest   = int64(time.Hour / time.Microsecond)
	histSigFigits = 3
)

// Sink 定义指标聚合器接口
type Sink interface {
	// Add 添加一个样本值
	Add(sample Sample)
	// Format 返回格式化的统计结果，duration 为秒
	Format(duration float64) map[string]float64
	// IsEmpty 检查是否为空
	IsEmpty() bool
	// Clone 返回当前状态的独立副本
	Clone() Sink
}

// NewSink 根据指标类型创建对应的 Sink
func NewSink(metricType MetricType) Sink {
	switch metricType {
	case Counter:
		return &CounterSink{}
	case Gauge:
		return &GaugeSink{}
	case Rate:
		return &RateSink{}
	case Trend:
		return NewTrendSink(DefaultTrendSampleCap)
	default:
		return &CounterSink{}
	}
}

// CounterSink 计数器聚合器
type CounterSink struct {
	value float64
	first time.Time
	mu    sync.Mutex
}

// Add 添加样本
func (c *CounterSink) Add(sample Sample) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value += sample.Value
	if c.first.IsZero() {
		c.first = sample.Time
	}
}

// Count 返回累计值
func (c *CounterSink) Count() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}

// Format 返回统计结果
func (c *CounterSink) Format(duration float64) map[string]float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	result := map[string]float64{
		"count": c.value,
		"rate":  0,
	}
	if duration > 0 {
		result["rate"] = c.value / duration
	}
	return result
}

// IsEmpty 检查是否为空
func (c *CounterSink) IsEmpty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.first.IsZero() && c.value == 0
}

// Clone 复制
func (c *CounterSink) Clone() Sink {
	c.mu.Lock()
	defer c.mu.Unlock()
	return &CounterSink{value: c.value, first: c.first}
}

// GaugeSink 仪表盘聚合器
type GaugeSink struct {
	value float64
	min   float64
	max   float64
	sum   float64
	count int64
	mu    sync.Mutex
}

// Add 添加样本
func (g *GaugeSink) Add(sample Sample) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.value = sample.Value
	g.sum += sample.Value
	if g.count == 0 || sample.Value < g.min {
		g.min = sample.Value
	}
	if g.count == 0 || sample.Value > g.max {
		g.max = sample.Value
	}
	g.count++
}

// Value 返回最新值
func (g *GaugeSink) Value() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.value
}

// Format 返回统计结果
func (g *GaugeSink) Format(_ float64) map[string]float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	result := map[string]float64{
		"value": g.value,
		"min":   g.min,
		"max":   g.max,
		"avg":   0,
	}
	if g.count > 0 {
		result["avg"] = g.sum / float64(g.count)
	}
	return result
}

// IsEmpty 检查是否为空
func (g *GaugeSink) IsEmpty() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.count == 0
}

// Clone 复制
func (g *GaugeSink) Clone() Sink {
	g.mu.Lock()
	defer g.mu.Unlock()
	return &GaugeSink{value: g.value, min: g.min, max: g.max, sum: g.sum, count: g.count}
}

// RateSink 比率聚合器
type RateSink struct {
	trues int64
	total int64
	mu    sync.Mutex
}

// Add 添加样本（value != 0 表示 true）
func (r *RateSink) Add(sample Sample) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.total++
	if sample.Value != 0 {
		r.trues++
	}
}

// Rate 返回 true 样本占比，无样本时为 0
func (r *RateSink) Rate() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.total == 0 {
		return 0
	}
	return float64(r.trues) / float64(r.total)
}

// Counts 返回 true 数与总数
func (r *RateSink) Counts() (trues, total int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.trues, r.total
}

// Format 返回统计结果
func (r *RateSink) Format(_ float64) map[string]float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	result := map[string]float64{
		"passes": float64(r.trues),
		"fails":  float64(r.total - r.trues),
		"rate":   0,
	}
	if r.total > 0 {
		result["rate"] = float64(r.trues) / float64(r.total)
	}
	return result
}

// IsEmpty 检查是否为空
func (r *RateSink) IsEmpty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.total == 0
}

// Clone 复制
func (r *RateSink) Clone() Sink {
	r.mu.Lock()
	defer r.mu.Unlock()
	return &RateSink{trues: r.trues, total: r.total}
}

// TrendSink 趋势聚合器。样本数不超过 cap 时保留全部精确值，
// 超过后丢弃精确值，百分位数改由 HDR 直方图给出。
type TrendSink struct {
	values   []float64
	hist     *hdrhistogram.Histogram
	cap      int
	count    int64
	sum      float64
	min      float64
	max      float64
	overflow bool
	mu       sync.Mutex
}

// NewTrendSink 创建趋势聚合器
func NewTrendSink(sampleCap int) *TrendSink {
	if sampleCap <= 0 {
		sampleCap = DefaultTrendSampleCap
	}
	return &TrendSink{
		cap:  sampleCap,
		hist: hdrhistogram.New(histLowest, histHighest, histSigFigits),
	}
}

// Add 添加样本
func (t *TrendSink) Add(sample Sample) {
	t.mu.Lock()
	defer t.mu.Unlock()

	v := sample.Value
	if t.count == 0 || v < t.min {
		t.min = v
	}
	if t.count == 0 || v > t.max {
		t.max = v
	}
	t.count++
	t.sum += v

	_ = t.hist.RecordValue(toHist(v))

	if t.overflow {
		return
	}
	if len(t.values) >= t.cap {
		t.overflow = true
		t.values = nil
		return
	}
	t.values = append(t.values, v)
}

func toHist(v float64) int64 {
	scaled := int64(math.Round(v * histScale))
	if scaled < histLowest {
		return histLowest
	}
	if scaled > histHighest {
		return histHighest
	}
	return scaled
}

// Count 返回样本数
func (t *TrendSink) Count() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.count
}

// Estimated 是否已超过精确样本上限
func (t *TrendSink) Estimated() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.overflow
}

// Min 最小值
func (t *TrendSink) Min() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.min
}

// Max 最大值
func (t *TrendSink) Max() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.max
}

// Avg 平均值，无样本时为 0
func (t *TrendSink) Avg() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.count == 0 {
		return 0
	}
	return t.sum / float64(t.count)
}

// Format 返回统计结果
func (t *TrendSink) Format(_ float64) map[string]float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	result := map[string]float64{
		"count": float64(t.count),
		"min":   t.min,
		"max":   t.max,
		"avg":   0,
		"med":   0,
		"p(90)": 0,
		"p(95)": 0,
		"p(99)": 0,
	}

	if t.count > 0 {
		result["avg"] = t.sum / float64(t.count)
		sorted := t.sorted()
		result["med"] = t.percentile(sorted, 50)
		result["p(90)"] = t.percentile(sorted, 90)
		result["p(95)"] = t.percentile(sorted, 95)
		result["p(99)"] = t.percentile(sorted, 99)
	}

	return result
}

func (t *TrendSink) sorted() []float64 {
	if t.overflow {
		return nil
	}
	sorted := make([]float64, len(t.values))
	copy(sorted, t.values)
	sort.Float64s(sorted)
	return sorted
}

// percentile 计算百分位数（需要在持有锁的情况下调用）
func (t *TrendSink) percentile(sorted []float64, p float64) float64 {
	if t.count == 0 {
		return 0
	}
	if t.overflow {
		v := float64(t.hist.ValueAtQuantile(p)) / histScale
		return math.Min(math.Max(v, t.min), t.max)
	}

	rank := (p / 100) * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper {
		return sorted[lower]
	}

	// 线性插值
	weight := rank - float64(lower)
	return sorted[lower]*(1-weight) + sorted[upper]*weight
}

// Percentile 计算指定百分位数（公开方法，会加锁）
func (t *TrendSink) Percentile(p float64) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.percentile(t.sorted(), p)
}

// IsEmpty 检查是否为空
func (t *TrendSink) IsEmpty() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.count == 0
}

// Clone 复制
func (t *TrendSink) Clone() Sink {
	t.mu.Lock()
	defer t.mu.Unlock()

	c := &TrendSink{
		hist:     hdrhistogram.Import(t.hist.Export()),
		cap:      t.cap,
		count:    t.count,
		sum:      t.sum,
		min:      t.min,
		max:      t.max,
		overflow: t.overflow,
	}
	if !t.overflow {
		c.values = make([]float64, len(t.values))
		copy(c.values, t.values)
	}
	return c
}

// PercentileKey 返回百分位数在 Format 结果中的键，如 p(95)、p(99.9)
func PercentileKey(p float64) string {
	if p == 50 {
		return "med"
	}
	return "p(" + strconv.FormatFloat(p, 'f', -1, 64) + ")"
}
