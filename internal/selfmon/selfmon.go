// Package selfmon samples the load generator's own CPU and memory into gauges,
// so a saturated generator is visible next to the latencies it measured.
package selfmon

import (
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"yqhp/load-probe/pkg/metrics"
)

// Gauge names published by the monitor.
const (
	ProcessCPUPercent = "generator_cpu_percent"
	ProcessRSSBytes   = "generator_rss_bytes"
	ProcessFDs        = "generator_open_fds"
	Goroutines        = "generator_goroutines"
	HostCPUPercent    = "generator_host_cpu_percent"
	HostMemPercent    = "generator_host_mem_percent"
)

// DefaultInterval is the sampling period.
const DefaultInterval = 5 * time.Second

// saturatedCPU is the host CPU percentage above which measured latencies may
// include client side queueing.
const saturatedCPU = 90.0

// Sink receives gauge values.
type Sink interface {
	Set(name string, v float64)
}

// DeclareMetrics registers every gauge so thresholds can reference them.
func DeclareMetrics(registry *metrics.Registry) {
	for _, name := range []string{ProcessCPUPercent, ProcessFDs, Goroutines, HostCPUPercent, HostMemPercent} {
		registry.NewMetric(name, metrics.Gauge, metrics.Default)
	}
	registry.NewMetric(ProcessRSSBytes, metrics.Gauge, metrics.Data)
}

// Sample is one reading. Fields that could not be read are left zero.
type Sample struct {
	ProcessCPU float64
	RSS        uint64
	FDs        int32
	Goroutines int
	HostCPU    float64
	HostMem    float64
}

// Monitor periodically samples the current process and host.
type Monitor struct {
	sink     Sink
	interval time.Duration
	log      *zap.Logger
	proc     *process.Process
	warn     rate.Sometimes

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// New creates a Monitor for the current process.
func New(sink Sink, interval time.Duration, log *zap.Logger) (*Monitor, error) {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if log == nil {
		log = zap.NewNop()
	}
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, err
	}
	return &Monitor{
		sink:     sink,
		interval: interval,
		log:      log,
		proc:     proc,
		warn:     rate.Sometimes{First: 1, Interval: time.Minute},
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}, nil
}

// Start begins sampling. It must be paired with Stop.
func (m *Monitor) Start() {
	// prime the CPU counters so the first tick reports a real percentage
	_, _ = m.proc.Percent(0)
	_, _ = cpu.Percent(0, false)

	go func() {
		defer close(m.done)
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.publish(m.Collect())
			case <-m.stop:
				m.publish(m.Collect())
				return
			}
		}
	}()
}

// Stop takes a last sample and stops the monitor.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
	<-m.done
}

// Collect reads one sample.
func (m *Monitor) Collect() Sample {
	s := Sample{Goroutines: runtime.NumGoroutine()}
	if pct, err := m.proc.Percent(0); err == nil {
		s.ProcessCPU = pct
	}
	if info, err := m.proc.MemoryInfo(); err == nil && info != nil {
		s.RSS = info.RSS
	}
	if fds, err := m.proc.NumFDs(); err == nil {
		s.FDs = fds
	}
	if pcts, err := cpu.Percent(0, false); err == nil && len(pcts) > 0 {
		s.HostCPU = pcts[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil && vm != nil {
		s.HostMem = vm.UsedPercent
	}
	return s
}

func (m *Monitor) publish(s Sample) {
	m.sink.Set(ProcessCPUPercent, s.ProcessCPU)
	m.sink.Set(ProcessRSSBytes, float64(s.RSS))
	m.sink.Set(ProcessFDs, float64(s.FDs))
	m.sink.Set(Goroutines, float64(s.Goroutines))
	m.sink.Set(HostCPUPercent, s.HostCPU)
	m.sink.Set(HostMemPercent, s.HostMem)

	if s.HostCPU > saturatedCPU {
		m.warn.Do(func() {
			m.log.Warn("load generator host CPU is saturated, latencies may include client side queueing",
				zap.Float64("host_cpu_percent", s.HostCPU),
				zap.Float64("process_cpu_percent", s.ProcessCPU))
		})
	}
}
