package output

import (
	"sync"
	"time"

	"yqhp/load-probe/pkg/metrics"
)

// SampleBuffer 是线程安全的样本缓冲区，输出插件可嵌入它来实现批量刷出。
type SampleBuffer struct {
	mu      sync.Mutex
	samples []metrics.Sample
}

// AddMetricSamples 展开并缓存样本
func (sb *SampleBuffer) AddMetricSamples(containers []metrics.SampleContainer) {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	for _, c := range containers {
		sb.samples = append(sb.samples, c.GetSamples()...)
	}
}

// GetBufferedSamples 取出全部缓存样本并清空缓冲区
func (sb *SampleBuffer) GetBufferedSamples() []metrics.Sample {
	sb.mu.Lock()
	samples := sb.samples
	sb.samples = nil
	sb.mu.Unlock()
	return samples
}

// Len 返回当前缓存的样本数
func (sb *SampleBuffer) Len() int {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	return len(sb.samples)
}

// PeriodicFlusher 按固定间隔调用刷出函数，Stop 时再执行一次。
type PeriodicFlusher struct {
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewPeriodicFlusher 创建并启动 PeriodicFlusher
func NewPeriodicFlusher(interval time.Duration, flushFunc func()) *PeriodicFlusher {
	if interval <= 0 {
		interval = time.Second
	}
	pf := &PeriodicFlusher{
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}

	go func() {
		defer close(pf.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				flushFunc()
			case <-pf.stop:
				flushFunc()
				return
			}
		}
	}()

	return pf
}

// Stop 停止并等待最后一次刷出完成，可重复调用
func (pf *PeriodicFlusher) Stop() {
	pf.stopOnce.Do(func() { close(pf.stop) })
	<-pf.done
}
