// Package kafka publishes samples to a Kafka topic, as JSON messages or as
// InfluxDB line protocol.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"yqhp/load-probe/pkg/metrics"
	"yqhp/load-probe/pkg/output"
	"yqhp/load-probe/pkg/output/influxdb"
)

func init() {
	output.Register("kafka", New)
}

// Message formats.
const (
	FormatJSON   = "json"
	FormatInflux = "influxdb"
)

// Config Kafka 配置
type Config struct {
	// Brokers Kafka broker 地址列表
	Brokers []string
	// Topic 主题名
	Topic string
	// Format 消息格式: json, influxdb
	Format string
	// PushInterval 推送间隔
	PushInterval time.Duration
	// BatchSize 单次写入的最大消息数
	BatchSize int
	// WriteTimeout 单次写入超时
	WriteTimeout time.Duration
}

// ParseConfig 解析配置字符串
// 格式: broker1:9092,broker2:9092?topic=metrics&format=json
func ParseConfig(arg string) (Config, error) {
	config := Config{
		Format:       FormatJSON,
		PushInterval: time.Second,
		BatchSize:    1000,
		WriteTimeout: 10 * time.Second,
		Topic:        "load-probe-metrics",
	}

	brokers, query, _ := strings.Cut(arg, "?")
	for _, b := range strings.Split(brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			config.Brokers = append(config.Brokers, b)
		}
	}
	if len(config.Brokers) == 0 {
		return config, errors.New("至少需要一个 Kafka broker")
	}

	if query != "" {
		q, err := url.ParseQuery(query)
		if err != nil {
			return config, fmt.Errorf("解析 Kafka 参数失败: %w", err)
		}
		if topic := q.Get("topic"); topic != "" {
			config.Topic = topic
		}
		if format := q.Get("format"); format != "" {
			config.Format = format
		}
		if s := q.Get("push_interval"); s != "" {
			d, err := time.ParseDuration(s)
			if err != nil {
				return config, fmt.Errorf("无效的 push_interval: %w", err)
			}
			config.PushInterval = d
		}
	}

	if config.Format != FormatJSON && config.Format != FormatInflux {
		return config, fmt.Errorf("不支持的消息格式 %q，应为 json 或 influxdb", config.Format)
	}
	return config, nil
}

// Writer is the part of kafka.Writer the output uses.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Output Kafka 输出
type Output struct {
	output.SampleBuffer

	params  output.Params
	config  Config
	log     *zap.Logger
	writer  Writer
	flusher *output.PeriodicFlusher

	mu     sync.Mutex
	status output.RunStatus
}

// New 创建 Kafka 输出
func New(params output.Params) (output.Output, error) {
	config, err := ParseConfig(params.ConfigArgument)
	if err != nil {
		return nil, err
	}
	writer := &kafkago.Writer{
		Addr:         kafkago.TCP(config.Brokers...),
		Topic:        config.Topic,
		Balancer:     &kafkago.LeastBytes{},
		BatchSize:    config.BatchSize,
		BatchTimeout: 50 * time.Millisecond,
		WriteTimeout: config.WriteTimeout,
		RequiredAcks: kafkago.RequireOne,
	}
	return NewWithWriter(params, config, writer), nil
}

// NewWithWriter 使用给定的 Writer 创建输出
func NewWithWriter(params output.Params, config Config, writer Writer) *Output {
	log := params.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Output{
		params: params,
		config: config,
		log:    log,
		writer: writer,
	}
}

// Description 返回描述
func (o *Output) Description() string {
	return fmt.Sprintf("kafka (%s -> %s)", strings.Join(o.config.Brokers, ","), o.config.Topic)
}

// Start 启动定期推送
func (o *Output) Start() error {
	o.flusher = output.NewPeriodicFlusher(o.config.PushInterval, o.flush)
	return nil
}

// Stop 推送剩余数据并关闭 writer
func (o *Output) Stop() error {
	if o.flusher != nil {
		o.flusher.Stop()
	}
	return o.writer.Close()
}

// SetRunStatus 设置运行状态
func (o *Output) SetRunStatus(status output.RunStatus) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.status = status
}

func (o *Output) flush() {
	samples := o.GetBufferedSamples()
	if len(samples) == 0 {
		return
	}

	msgs := make([]kafkago.Message, 0, len(samples))
	for _, s := range samples {
		if s.Metric == nil {
			continue
		}
		value, err := o.format(s)
		if err != nil {
			o.log.Error("格式化消息失败", zap.String("metric", s.Metric.Name), zap.Error(err))
			continue
		}
		msgs = append(msgs, kafkago.Message{Key: []byte(s.Metric.Name), Value: value, Time: s.Time})
	}

	ctx, cancel := context.WithTimeout(context.Background(), o.config.WriteTimeout)
	defer cancel()
	if err := o.writer.WriteMessages(ctx, msgs...); err != nil {
		o.log.Error("发送到 Kafka 失败", zap.Int("messages", len(msgs)), zap.Error(err))
	}
}

// message 是 JSON 格式的消息体
type message struct {
	Metric    string            `json:"metric"`
	Type      string            `json:"type"`
	Value     float64           `json:"value"`
	Timestamp int64             `json:"timestamp"`
	Tags      map[string]string `json:"tags,omitempty"`
	RunID     string            `json:"run_id,omitempty"`
	Plan      string            `json:"plan,omitempty"`
}

func (o *Output) format(s metrics.Sample) ([]byte, error) {
	if o.config.Format == FormatInflux {
		return []byte(influxdb.FormatLine(s, o.params.Tags, "ms")), nil
	}
	return json.Marshal(message{
		Metric:    s.Metric.Name,
		Type:      string(s.Metric.Type),
		Value:     s.Value,
		Timestamp: s.Time.UnixMilli(),
		Tags:      output.MergeTags(o.params.Tags, s.Tags),
		RunID:     o.params.RunID,
		Plan:      o.params.PlanName,
	})
}
