package output

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"yqhp/load-probe/pkg/metrics"
)

const (
	// sendBatchToOutputsRate 批量发送到输出的间隔
	sendBatchToOutputsRate = 50 * time.Millisecond
	// defaultSamplesChannelSize 默认样本通道大小
	defaultSamplesChannelSize = 4096
)

// Manager 管理多个输出插件。它作为聚合器的样本监听器，把样本批量分发给各输出。
type Manager struct {
	outputs []Output
	log     *zap.Logger

	mu      sync.RWMutex
	samples chan metrics.SampleContainer
	closed  bool
	started bool
	wg      sync.WaitGroup

	dropped  atomic.Int64
	dropWarn rate.Sometimes
}

// NewManager 创建新的输出管理器
func NewManager(outputs []Output, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		outputs:  outputs,
		log:      log,
		samples:  make(chan metrics.SampleContainer, defaultSamplesChannelSize),
		dropWarn: rate.Sometimes{First: 1, Interval: 10 * time.Second},
	}
}

// Len 返回输出数量
func (m *Manager) Len() int {
	return len(m.outputs)
}

// Start 启动所有输出并开始分发样本
func (m *Manager) Start() error {
	for i, out := range m.outputs {
		if err := out.Start(); err != nil {
			// 停止已启动的输出
			for j := 0; j < i; j++ {
				_ = m.outputs[j].Stop()
			}
			return err
		}
		m.log.Debug("输出已启动", zap.String("output", out.Description()))
	}

	m.mu.Lock()
	m.started = true
	m.mu.Unlock()

	m.wg.Add(1)
	go m.dispatch()
	return nil
}

func (m *Manager) dispatch() {
	defer m.wg.Done()
	ticker := time.NewTicker(sendBatchToOutputsRate)
	defer ticker.Stop()

	buffer := make([]metrics.SampleContainer, 0, 256)
	send := func() {
		if len(buffer) == 0 {
			return
		}
		for _, out := range m.outputs {
			out.AddMetricSamples(buffer)
		}
		buffer = make([]metrics.SampleContainer, 0, cap(buffer))
	}

	for {
		select {
		case c, ok := <-m.samples:
			if !ok {
				send()
				return
			}
			buffer = append(buffer, c)
		case <-ticker.C:
			send()
		}
	}
}

// AddMetricSamples 接收聚合器发布的样本。停止后收到的样本被忽略。
// 调用方是 VU 的热路径，通道满时样本被丢弃并计数，不阻塞。
func (m *Manager) AddMetricSamples(containers []metrics.SampleContainer) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed || !m.started {
		return
	}
	for _, c := range containers {
		select {
		case m.samples <- c:
		default:
			n := m.dropped.Add(1)
			m.dropWarn.Do(func() {
				m.log.Warn("输出处理过慢，样本被丢弃", zap.Int64("dropped", n))
			})
		}
	}
}

// Dropped 返回因通道已满而丢弃的样本数
func (m *Manager) Dropped() int64 {
	return m.dropped.Load()
}

// Stop 等待剩余样本分发完成，设置运行状态并停止所有输出
func (m *Manager) Stop(status RunStatus) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	started := m.started
	close(m.samples)
	m.mu.Unlock()

	if !started {
		return nil
	}
	m.wg.Wait()

	var errs []error
	for _, out := range m.outputs {
		out.SetRunStatus(status)
		if err := out.Stop(); err != nil {
			m.log.Error("停止输出失败", zap.String("output", out.Description()), zap.Error(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
