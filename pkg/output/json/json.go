// Package json writes every sample as one JSON object per line. Paths ending in
// .gz are gzip compressed.
package json

import (
	"bufio"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"

	"yqhp/load-probe/pkg/metrics"
	"yqhp/load-probe/pkg/output"
)

func init() {
	output.Register("json", New)
}

// Envelope is one line of the output: either a Metric declaration, written the
// first time a metric is seen, or a Point.
type Envelope struct {
	Type   string      `json:"type"`
	Metric string      `json:"metric"`
	Data   interface{} `json:"data"`
}

// MetricData describes a metric.
type MetricData struct {
	Name     string            `json:"name"`
	Type     string            `json:"type"`
	Contains string            `json:"contains"`
	Tags     map[string]string `json:"tags,omitempty"`
}

// PointData is a single sample.
type PointData struct {
	Time  string            `json:"time"`
	Value float64           `json:"value"`
	Tags  map[string]string `json:"tags,omitempty"`
}

// Output JSON 行文件输出
type Output struct {
	params output.Params
	log    *zap.Logger

	mu      sync.Mutex
	closer  []io.Closer
	writer  *bufio.Writer
	encoder *json.Encoder
	seen    map[string]bool
	status  output.RunStatus
}

// New 创建 JSON 输出
func New(params output.Params) (output.Output, error) {
	if params.ConfigArgument == "" {
		return nil, fmt.Errorf("JSON 输出需要文件路径")
	}
	return &Output{
		params: params,
		log:    params.Logger,
		seen:   make(map[string]bool),
	}, nil
}

// Description 返回描述
func (o *Output) Description() string {
	return fmt.Sprintf("json (%s)", o.params.ConfigArgument)
}

// Start 打开输出文件
func (o *Output) Start() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	var w io.Writer
	if o.params.ConfigArgument == "-" {
		w = os.Stdout
	} else {
		file, err := os.Create(o.params.ConfigArgument)
		if err != nil {
			return fmt.Errorf("创建 JSON 文件失败: %w", err)
		}
		o.closer = append(o.closer, file)
		w = file
		if strings.HasSuffix(o.params.ConfigArgument, ".gz") {
			gz := gzip.NewWriter(file)
			// gzip 必须先于文件关闭
			o.closer = append([]io.Closer{gz}, o.closer...)
			w = gz
		}
	}

	o.writer = bufio.NewWriter(w)
	o.encoder = json.NewEncoder(o.writer)
	return nil
}

// Stop 刷出并关闭文件
func (o *Output) Stop() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.writer == nil {
		return nil
	}
	err := o.writer.Flush()
	for _, c := range o.closer {
		if cerr := c.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	o.writer = nil
	o.encoder = nil
	return err
}

// AddMetricSamples 写入样本
func (o *Output) AddMetricSamples(containers []metrics.SampleContainer) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.encoder == nil {
		return
	}

	for _, container := range containers {
		for _, sample := range container.GetSamples() {
			if sample.Metric == nil {
				continue
			}
			if err := o.write(sample); err != nil && o.log != nil {
				o.log.Error("写入 JSON 失败", zap.Error(err))
				return
			}
		}
	}
}

func (o *Output) write(sample metrics.Sample) error {
	m := sample.Metric
	if !o.seen[m.Name] {
		o.seen[m.Name] = true
		err := o.encoder.Encode(Envelope{
			Type:   "Metric",
			Metric: m.Name,
			Data: MetricData{
				Name:     m.Name,
				Type:     string(m.Type),
				Contains: string(m.Contains),
				Tags:     m.Tags,
			},
		})
		if err != nil {
			return err
		}
	}
	return o.encoder.Encode(Envelope{
		Type:   "Point",
		Metric: m.Name,
		Data: PointData{
			Time:  sample.Time.Format("2006-01-02T15:04:05.000000Z07:00"),
			Value: sample.Value,
			Tags:  output.MergeTags(o.params.Tags, sample.Tags),
		},
	})
}

// SetRunStatus 设置运行状态
func (o *Output) SetRunStatus(status output.RunStatus) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.status = status
}
