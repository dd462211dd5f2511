package execution

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// arrivalRateRunner drives a RateSchedule over a pool of at most MaxVUs workers.
//
// Due starts are handed to an idle worker over an unbuffered channel. With no idle
// worker a new one is created while the pool is below MaxVUs. Otherwise the start
// is an overrun and goes to the bounded deferred queue, or is dropped when that
// queue is full. The dispatcher never blocks on workers.
type arrivalRateRunner struct {
	base     *BaseMode
	config   *ModeConfig
	schedule *RateSchedule
	log      *zap.Logger

	work     chan struct{}
	deferred chan struct{}
	stop     chan struct{}

	wg        sync.WaitGroup
	allocated atomic.Int32
	nextID    atomic.Int32

	dropWarn rate.Sometimes
	dropped  atomic.Int64
}

func newArrivalRateRunner(base *BaseMode, config *ModeConfig, schedule *RateSchedule) *arrivalRateRunner {
	maxDeferred := config.MaxDeferred
	if maxDeferred <= 0 {
		maxDeferred = config.MaxVUs
	}
	return &arrivalRateRunner{
		base:     base,
		config:   config,
		schedule: schedule,
		log:      config.logger(),
		work:     make(chan struct{}),
		deferred: make(chan struct{}, maxDeferred),
		stop:     make(chan struct{}),
		dropWarn: rate.Sometimes{First: 1, Interval: 5 * time.Second},
	}
}

func normalizePool(config *ModeConfig) {
	if config.PreAllocatedVUs <= 0 {
		config.PreAllocatedVUs = 1
	}
	if config.MaxVUs <= 0 {
		config.MaxVUs = config.PreAllocatedVUs * 2
	}
	if config.MaxVUs < config.PreAllocatedVUs {
		config.MaxVUs = config.PreAllocatedVUs
	}
}

func (r *arrivalRateRunner) run(ctx context.Context) {
	w := r.base.openWindow(ctx, r.schedule.End(), r.config.GracefulStop)
	defer w.cancel()

	for i := 0; i < r.config.PreAllocatedVUs; i++ {
		r.spawn(w, false)
	}

	start := time.Now()
	timer := time.NewTimer(0)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

dispatch:
	for k := int64(0); ; k++ {
		offset, ok := r.schedule.StartOffset(k)
		if !ok {
			break
		}

		if wait := time.Until(start.Add(offset)); wait > 0 {
			timer.Reset(wait)
			select {
			case <-timer.C:
			case <-w.startCtx.Done():
				if !timer.Stop() {
					<-timer.C
				}
				break dispatch
			}
		} else if w.startCtx.Err() != nil {
			break
		}

		r.base.SetState(func(s *ModeState) {
			s.CurrentRate = r.schedule.RateAt(offset)
		})
		r.dispatch(w)
	}

	// wait for the schedule end so duration semantics hold when the last start
	// comes early, then stop accepting work
	<-w.startCtx.Done()
	close(r.stop)
	r.dropQueued()

	w.drain(&r.wg, r.config.GracefulStop)
	r.dropQueued()
}

func (r *arrivalRateRunner) dispatch(w *window) {
	select {
	case r.work <- struct{}{}:
		return
	default:
	}

	if r.spawn(w, true) {
		return
	}

	if r.config.OnOverrun != nil {
		r.config.OnOverrun()
	}
	select {
	case r.deferred <- struct{}{}:
		if r.config.OnDeferred != nil {
			r.config.OnDeferred()
		}
	default:
		r.drop("deferred queue full")
	}
}

// spawn starts a worker if the pool has room. With assigned set the new worker
// runs one iteration straight away.
func (r *arrivalRateRunner) spawn(w *window, assigned bool) bool {
	for {
		n := r.allocated.Load()
		if int(n) >= r.config.MaxVUs {
			return false
		}
		if r.allocated.CompareAndSwap(n, n+1) {
			break
		}
	}
	r.base.SetState(func(s *ModeState) {
		s.AllocatedVUs = int(r.allocated.Load())
	})

	vuID := int(r.nextID.Add(1)) - 1
	r.wg.Add(1)
	if r.config.OnVUStart != nil {
		r.config.OnVUStart(vuID)
	}
	go r.worker(w, vuID, assigned)
	return true
}

func (r *arrivalRateRunner) worker(w *window, vuID int, assigned bool) {
	defer func() {
		if r.config.OnVUStop != nil {
			r.config.OnVUStop(vuID)
		}
		r.wg.Done()
	}()

	var iteration int64
	run := func() {
		r.base.runIteration(w.iterCtx, r.config, vuID, iteration)
		iteration++
	}

	if assigned {
		run()
	}

	for {
		// deferred starts are older than anything on work
		select {
		case <-r.deferred:
			if !r.startDeferred(w) {
				return
			}
			run()
			continue
		default:
		}

		select {
		case <-r.work:
			run()
		case <-r.deferred:
			if !r.startDeferred(w) {
				return
			}
			run()
		case <-r.stop:
			return
		case <-w.iterCtx.Done():
			return
		}
	}
}

// startDeferred reports whether a dequeued deferred start may still run. Past the
// start deadline it is counted as dropped instead.
func (r *arrivalRateRunner) startDeferred(w *window) bool {
	if w.startCtx.Err() == nil {
		return true
	}
	r.drop("run deadline passed")
	return false
}

func (r *arrivalRateRunner) dropQueued() {
	for {
		select {
		case <-r.deferred:
			r.drop("run deadline passed")
		default:
			return
		}
	}
}

func (r *arrivalRateRunner) drop(reason string) {
	total := r.dropped.Add(1)
	if r.config.OnDropped != nil {
		r.config.OnDropped()
	}
	r.dropWarn.Do(func() {
		r.log.Warn("dropping iteration start",
			zap.String("executor", string(r.base.Name())),
			zap.String("reason", reason),
			zap.Int32("vus", r.allocated.Load()),
			zap.Int("max_vus", r.config.MaxVUs),
			zap.Int64("dropped_total", total))
	})
}
