package output

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"yqhp/load-probe/pkg/metrics"
	"yqhp/load-probe/pkg/types"
)

// Output 定义样本输出插件接口
type Output interface {
	// Description 返回输出插件的描述
	Description() string

	// Start 启动输出插件
	Start() error

	// Stop 停止输出插件，刷出剩余样本
	Stop() error

	// AddMetricSamples 添加指标样本
	AddMetricSamples(samples []metrics.SampleContainer)

	// SetRunStatus 设置运行状态（在 Stop 之前调用）
	SetRunStatus(status RunStatus)
}

// RunStatus 表示测试运行的最终状态
type RunStatus struct {
	Duration   time.Duration
	Iterations int64
	Status     types.RunStatus
	Error      error
}

// Params 是创建 Output 时的参数
type Params struct {
	// OutputType 输出类型
	OutputType string

	// ConfigArgument 配置参数（文件路径、URL、broker 列表等）
	ConfigArgument string

	// Logger 为空时不输出日志
	Logger *zap.Logger

	// RunID 运行 ID
	RunID string

	// PlanName 测试计划名称
	PlanName string

	// Tags 全局标签，附加到每个样本
	Tags map[string]string
}

func (p Params) logger() *zap.Logger {
	if p.Logger == nil {
		return zap.NewNop()
	}
	return p.Logger.With(zap.String("output", p.OutputType))
}

// Factory 是创建 Output 的工厂函数类型
type Factory func(params Params) (Output, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register 注册输出工厂
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = factory
}

// Get 获取输出工厂
func Get(name string) (Factory, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	f, ok := registry[name]
	return f, ok
}

// List 列出所有已注册的输出类型（已排序）
func List() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Create 创建输出实例
func Create(outputType string, params Params) (Output, error) {
	factory, ok := Get(outputType)
	if !ok {
		return nil, &UnknownOutputError{Type: outputType}
	}
	params.OutputType = outputType
	return factory(params)
}

// ParseSpec 拆分 "type=argument" 形式的输出描述
func ParseSpec(spec string) (outputType, arg string, err error) {
	outputType, arg, ok := strings.Cut(strings.TrimSpace(spec), "=")
	if !ok || outputType == "" || arg == "" {
		return "", "", fmt.Errorf("无效的输出描述 %q，应为 type=target", spec)
	}
	return outputType, arg, nil
}

// CreateFromSpecs 根据输出描述列表创建输出实例，任一失败时返回错误
func CreateFromSpecs(specs []string, params Params) ([]Output, error) {
	outputs := make([]Output, 0, len(specs))
	for _, spec := range specs {
		outputType, arg, err := ParseSpec(spec)
		if err != nil {
			return nil, err
		}
		p := params
		p.ConfigArgument = arg
		out, err := Create(outputType, p)
		if err != nil {
			return nil, fmt.Errorf("创建输出 %s 失败: %w", outputType, err)
		}
		outputs = append(outputs, out)
	}
	return outputs, nil
}

// UnknownOutputError 未知输出类型错误
type UnknownOutputError struct {
	Type string
}

func (e *UnknownOutputError) Error() string {
	return "未知的输出类型: " + e.Type
}

// MergeTags 合并全局标签与样本标签，样本标签优先
func MergeTags(global, sample map[string]string) map[string]string {
	merged := make(map[string]string, len(global)+len(sample))
	for k, v := range global {
		merged[k] = v
	}
	for k, v := range sample {
		merged[k] = v
	}
	return merged
}
