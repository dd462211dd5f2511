// Package influxdb pushes samples to InfluxDB using the line protocol.
package influxdb

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"yqhp/load-probe/pkg/metrics"
	"yqhp/load-probe/pkg/output"
)

func init() {
	output.Register("influxdb", New)
}

// Config InfluxDB 配置
type Config struct {
	// URL 服务地址，不含路径
	URL string
	// Token 认证令牌（InfluxDB 2.x）
	Token string
	// Organization 组织（InfluxDB 2.x）
	Organization string
	// Bucket 存储桶（InfluxDB 2.x）
	Bucket string
	// Database 数据库名（InfluxDB 1.x）
	Database string
	// Precision 时间精度
	Precision string
	// PushInterval 推送间隔
	PushInterval time.Duration
	// BatchSize 单次推送的最大行数
	BatchSize int
	// Timeout 单次推送超时
	Timeout time.Duration
}

// ParseConfig 解析配置字符串
// 格式: http://host:port/dbname、http://host:port?db=dbname 或
//
//	http://host:port?token=xxx&org=xxx&bucket=xxx
func ParseConfig(arg string) (Config, error) {
	config := Config{
		Precision:    "ms",
		PushInterval: time.Second,
		BatchSize:    5000,
		Timeout:      10 * time.Second,
	}

	if arg == "" {
		return config, errors.New("InfluxDB URL 不能为空")
	}

	u, err := url.Parse(arg)
	if err != nil {
		return config, fmt.Errorf("解析 InfluxDB URL 失败: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" || u.Host == "" {
		return config, fmt.Errorf("InfluxDB URL 必须是 http(s)://host:port 形式: %q", arg)
	}
	config.URL = fmt.Sprintf("%s://%s", u.Scheme, u.Host)
	config.Database = strings.Trim(u.Path, "/")

	q := u.Query()
	if db := q.Get("db"); db != "" {
		config.Database = db
	}
	config.Token = q.Get("token")
	config.Organization = q.Get("org")
	config.Bucket = q.Get("bucket")
	if p := q.Get("precision"); p != "" {
		config.Precision = p
	}
	if s := q.Get("push_interval"); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil {
			return config, fmt.Errorf("无效的 push_interval: %w", err)
		}
		config.PushInterval = d
	}

	if config.Token == "" && config.Database == "" {
		return config, errors.New("InfluxDB 需要数据库名（1.x）或 token/org/bucket（2.x）")
	}
	return config, nil
}

// WriteURL 返回写入端点
func (c Config) WriteURL() string {
	if c.Token != "" {
		return fmt.Sprintf("%s/api/v2/write?org=%s&bucket=%s&precision=%s",
			c.URL, url.QueryEscape(c.Organization), url.QueryEscape(c.Bucket), c.Precision)
	}
	return fmt.Sprintf("%s/write?db=%s&precision=%s", c.URL, url.QueryEscape(c.Database), c.Precision)
}

// Output InfluxDB 输出
type Output struct {
	output.SampleBuffer

	params  output.Params
	config  Config
	log     *zap.Logger
	client  *fasthttp.Client
	breaker *gobreaker.CircuitBreaker
	flusher *output.PeriodicFlusher

	mu     sync.Mutex
	status output.RunStatus
}

// New 创建 InfluxDB 输出
func New(params output.Params) (output.Output, error) {
	config, err := ParseConfig(params.ConfigArgument)
	if err != nil {
		return nil, err
	}

	log := params.Logger
	if log == nil {
		log = zap.NewNop()
	}

	o := &Output{
		params: params,
		config: config,
		log:    log,
		client: &fasthttp.Client{
			Name:         "load-probe",
			ReadTimeout:  config.Timeout,
			WriteTimeout: config.Timeout,
		},
	}
	// 连续失败后暂停推送，避免压测期间反复等待不可用的 InfluxDB
	o.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "influxdb-output",
		MaxRequests: 1,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	return o, nil
}

// Description 返回描述
func (o *Output) Description() string {
	return fmt.Sprintf("influxdb (%s)", o.config.URL)
}

// Start 启动定期推送
func (o *Output) Start() error {
	o.flusher = output.NewPeriodicFlusher(o.config.PushInterval, o.flush)
	return nil
}

// Stop 停止并推送剩余数据
func (o *Output) Stop() error {
	if o.flusher != nil {
		o.flusher.Stop()
	}
	o.client.CloseIdleConnections()
	return nil
}

// SetRunStatus 设置运行状态
func (o *Output) SetRunStatus(status output.RunStatus) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.status = status
}

func (o *Output) flush() {
	samples := o.GetBufferedSamples()
	for start := 0; start < len(samples); start += o.config.BatchSize {
		end := start + o.config.BatchSize
		if end > len(samples) {
			end = len(samples)
		}
		var buf bytes.Buffer
		for _, s := range samples[start:end] {
			if s.Metric == nil {
				continue
			}
			buf.WriteString(FormatLine(s, o.params.Tags, o.config.Precision))
		}
		if _, err := o.breaker.Execute(func() (interface{}, error) {
			return nil, o.push(buf.Bytes())
		}); err != nil {
			o.log.Error("推送到 InfluxDB 失败", zap.Int("lines", end-start), zap.Error(err))
		}
	}
}

func (o *Output) push(body []byte) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(o.config.WriteURL())
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("text/plain; charset=utf-8")
	if o.config.Token != "" {
		req.Header.Set("Authorization", "Token "+o.config.Token)
	}
	req.SetBody(body)

	if err := o.client.DoTimeout(req, resp, o.config.Timeout); err != nil {
		return err
	}
	if resp.StatusCode() >= 300 {
		return fmt.Errorf("InfluxDB 返回错误 %d: %s", resp.StatusCode(), resp.Body())
	}
	return nil
}

// FormatLine 将样本格式化为一行 Line Protocol，标签按键排序
func FormatLine(sample metrics.Sample, global map[string]string, precision string) string {
	tags := output.MergeTags(global, sample.Tags)
	keys := make([]string, 0, len(tags))
	for k := range tags {
		if tags[k] != "" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(escape(sample.Metric.Name, ", "))
	for _, k := range keys {
		b.WriteByte(',')
		b.WriteString(escape(k, ",= "))
		b.WriteByte('=')
		b.WriteString(escape(tags[k], ",= "))
	}
	b.WriteString(" value=")
	b.WriteString(strconv.FormatFloat(sample.Value, 'f', -1, 64))
	b.WriteByte(' ')
	b.WriteString(strconv.FormatInt(timestamp(sample.Time, precision), 10))
	b.WriteByte('\n')
	return b.String()
}

func timestamp(t time.Time, precision string) int64 {
	switch precision {
	case "ns":
		return t.UnixNano()
	case "us":
		return t.UnixMicro()
	case "s":
		return t.Unix()
	default:
		return t.UnixMilli()
	}
}

// escape 转义 Line Protocol 中的特殊字符
func escape(s, special string) string {
	if !strings.ContainsAny(s, special) {
		return s
	}
	var b strings.Builder
	for _, r := range s {
		if strings.ContainsRune(special, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
