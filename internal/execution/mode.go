package execution

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"yqhp/load-probe/pkg/types"
)

// Mode 定义执行模式的接口。
// 每种模式控制 VU 的管理方式和迭代的执行方式。
type Mode interface {
	// Name 返回执行模式的名称。
	Name() types.ExecutorKind

	// Run 使用给定配置启动执行模式。
	// 阻塞直到执行完成或上下文被取消。
	Run(ctx context.Context, config *ModeConfig) error

	// Stop 停止启动新迭代，并等待正在执行的迭代结束。
	Stop(ctx context.Context) error

	// GetState 返回当前执行状态。
	GetState() *ModeState
}

// ModeConfig 包含执行模式的配置。
type ModeConfig struct {
	// VUs 是虚拟用户数量（用于基于 VU 的模式）。
	VUs int

	// StartVUs 是 ramping-vus 的起始 VU 数。
	StartVUs int

	// Duration 是总执行时长。
	Duration time.Duration

	// Iterations 是迭代次数（per-vu 为每个 VU，shared 为总数）。
	Iterations int

	// MaxDuration 是迭代类模式的最长执行时间，超过即失败。
	MaxDuration time.Duration

	// Stages 定义执行阶段（用于递增模式）。
	Stages []types.Stage

	// Rate 是到达率，单位为每 TimeUnit 的迭代数。
	Rate int

	// StartRate 是 ramping-arrival-rate 的起始到达率。
	StartRate int

	// TimeUnit 是速率计算的时间单位。
	TimeUnit time.Duration

	// PreAllocatedVUs 是预分配的 VU 数量（用于到达率模式）。
	PreAllocatedVUs int

	// MaxVUs 是最大 VU 数量（用于到达率模式）。
	MaxVUs int

	// MaxDeferred 是等待空闲 VU 的延迟队列容量（用于到达率模式）。
	MaxDeferred int

	// GracefulStop 是停止启动新迭代后，等待进行中迭代的时长。
	GracefulStop time.Duration

	// IterationFunc 是每次迭代执行的函数。
	IterationFunc IterationFunc

	// OnVUStart 在 VU 启动时调用。
	OnVUStart func(vuID int)

	// OnVUStop 在 VU 停止时调用。
	OnVUStop func(vuID int)

	// OnIterationComplete 在迭代完成时调用。
	OnIterationComplete func(vuID int, iteration int64, duration time.Duration, err error)

	// OnOverrun 在到期的迭代找不到空闲 VU 且 VU 数已达上限时调用。
	OnOverrun func()

	// OnDeferred 在迭代进入延迟队列时调用。
	OnDeferred func()

	// OnDropped 在迭代被丢弃时调用（延迟队列已满或截止时仍在队列中）。
	OnDropped func()

	// Logger 为空时不输出日志。
	Logger *zap.Logger
}

// ConfigFromScenario builds a ModeConfig from a scenario with defaults applied.
func ConfigFromScenario(s types.Scenario, fn IterationFunc) *ModeConfig {
	s.ApplyDefaults()
	return &ModeConfig{
		VUs:             s.VUs,
		StartVUs:        s.StartVUs,
		Duration:        s.Duration,
		Iterations:      s.Iterations,
		MaxDuration:     s.MaxDuration,
		Stages:          s.Stages,
		Rate:            s.Rate,
		StartRate:       s.StartRate,
		TimeUnit:        s.TimeUnit,
		PreAllocatedVUs: s.PreAllocatedVUs,
		MaxVUs:          s.MaxVUs,
		MaxDeferred:     s.MaxDeferred,
		GracefulStop:    s.GracefulStop,
		IterationFunc:   fn,
	}
}

func (c *ModeConfig) logger() *zap.Logger {
	if c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}

// IterationFunc 是执行单次迭代的函数签名。iteration 为该 VU 内的迭代序号。
type IterationFunc func(ctx context.Context, vuID int, iteration int64) error

// ModeState 表示执行模式的当前状态。
type ModeState struct {
	// ActiveVUs 是正在执行迭代的 VU 数量。
	ActiveVUs int

	// AllocatedVUs 是已创建的 VU 数量。
	AllocatedVUs int

	// TargetVUs 是目标 VU 数量。
	TargetVUs int

	// CompletedIterations 是已完成的迭代次数。
	CompletedIterations int64

	// CurrentRate 是当前到达率（每秒）。
	CurrentRate float64

	// Running 表示模式是否正在运行。
	Running bool

	// StartTime 是执行开始时间。
	StartTime time.Time

	// ElapsedTime 是已执行时长。
	ElapsedTime time.Duration
}

// BaseMode 为执行模式提供通用功能。
type BaseMode struct {
	name    types.ExecutorKind
	state   ModeState
	stateMu sync.RWMutex
	stopCh  chan struct{}
	doneCh  chan struct{}

	iterations atomic.Int64
	active     atomic.Int32
}

// NewBaseMode 创建一个新的基础模式。
func NewBaseMode(name types.ExecutorKind) *BaseMode {
	return &BaseMode{
		name:   name,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Name 返回模式名称。
func (b *BaseMode) Name() types.ExecutorKind {
	return b.name
}

// GetState 返回当前状态。
func (b *BaseMode) GetState() *ModeState {
	b.stateMu.RLock()
	defer b.stateMu.RUnlock()
	state := b.state
	state.ActiveVUs = int(b.active.Load())
	state.CompletedIterations = b.iterations.Load()
	if state.Running {
		state.ElapsedTime = time.Since(state.StartTime)
	}
	return &state
}

// SetState 更新状态。
func (b *BaseMode) SetState(fn func(*ModeState)) {
	b.stateMu.Lock()
	defer b.stateMu.Unlock()
	fn(&b.state)
}

// IsStopped 如果已请求停止则返回 true。
func (b *BaseMode) IsStopped() bool {
	select {
	case <-b.stopCh:
		return true
	default:
		return false
	}
}

// RequestStop 发送停止信号。
func (b *BaseMode) RequestStop() {
	select {
	case <-b.stopCh:
	default:
		close(b.stopCh)
	}
}

// SignalDone 发送完成信号。
func (b *BaseMode) SignalDone() {
	select {
	case <-b.doneCh:
	default:
		close(b.doneCh)
	}
}

// WaitDone 等待模式完成。
func (b *BaseMode) WaitDone(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-b.doneCh:
		return nil
	}
}

// Stop 请求停止并等待完成。
func (b *BaseMode) Stop(ctx context.Context) error {
	b.RequestStop()
	return b.WaitDone(ctx)
}

// begin marks the mode running. The returned func must be deferred.
func (b *BaseMode) begin() func() {
	b.SetState(func(s *ModeState) {
		s.Running = true
		s.StartTime = time.Now()
	})
	return func() {
		b.SetState(func(s *ModeState) {
			s.Running = false
			s.ElapsedTime = time.Since(s.StartTime)
		})
		b.SignalDone()
	}
}

// runIteration executes one iteration and reports it.
func (b *BaseMode) runIteration(ctx context.Context, config *ModeConfig, vuID int, iteration int64) {
	b.active.Add(1)
	start := time.Now()
	err := config.IterationFunc(ctx, vuID, iteration)
	duration := time.Since(start)
	b.active.Add(-1)

	b.iterations.Add(1)
	if config.OnIterationComplete != nil {
		config.OnIterationComplete(vuID, iteration, duration, err)
	}
}

// window holds the two deadlines of a run: startCtx ends when no new iteration
// may start, iterCtx ends when in-flight iterations are cancelled.
type window struct {
	startCtx context.Context
	iterCtx  context.Context
	cancel   func()
}

// openWindow derives the run contexts. A zero length means the start window is
// bounded only by Stop and the parent context.
func (b *BaseMode) openWindow(parent context.Context, length, grace time.Duration) *window {
	now := time.Now()

	var iterCtx, startCtx context.Context
	var cancelIter, cancelStart context.CancelFunc
	if length > 0 {
		iterCtx, cancelIter = context.WithDeadline(parent, now.Add(length+grace))
		startCtx, cancelStart = context.WithDeadline(iterCtx, now.Add(length))
	} else {
		iterCtx, cancelIter = context.WithCancel(parent)
		startCtx, cancelStart = context.WithCancel(iterCtx)
	}

	go func() {
		select {
		case <-b.stopCh:
			cancelStart()
		case <-startCtx.Done():
		}
	}()

	return &window{
		startCtx: startCtx,
		iterCtx:  iterCtx,
		cancel: func() {
			cancelStart()
			cancelIter()
		},
	}
}

// drain waits for wg after the start window closed. In-flight iterations get
// grace to finish; after that iterCtx is cancelled and the wait continues until
// every worker has returned.
func (w *window) drain(wg *sync.WaitGroup, grace time.Duration) {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
	case <-w.iterCtx.Done():
	}
	w.cancel()
	<-done
}

// awaitIterations waits for an iteration based mode. complete reports whether
// every planned iteration ran. If MaxDuration passes first the run is fatal,
// even when stragglers finish while being cancelled. Stop and cancellation of
// the parent context are not fatal.
func (b *BaseMode) awaitIterations(parent context.Context, w *window, wg *sync.WaitGroup, config *ModeConfig, complete func() bool) error {
	finished := make(chan struct{})
	go func() {
		wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-w.startCtx.Done():
	}

	// judged at the moment the window closed, before draining
	timedOut := !complete() && parent.Err() == nil && !b.IsStopped()
	w.drain(wg, config.GracefulStop)
	if timedOut {
		return ErrMaxDurationExceeded
	}
	return nil
}
