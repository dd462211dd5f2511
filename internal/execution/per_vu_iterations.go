package execution

import (
	"context"
	"sync"
	"sync/atomic"

	"yqhp/load-probe/pkg/types"
)

// PerVUIterationsMode implements the per-vu-iterations execution mode.
// Each VU executes a fixed number of iterations.
type PerVUIterationsMode struct {
	*BaseMode
	wg sync.WaitGroup
}

// NewPerVUIterationsMode creates a new per-VU iterations mode.
func NewPerVUIterationsMode() *PerVUIterationsMode {
	return &PerVUIterationsMode{
		BaseMode: NewBaseMode(types.ExecutorPerVUIterations),
	}
}

// Run starts the per-VU iterations execution. It returns ErrMaxDurationExceeded
// when MaxDuration elapses before every VU finished.
func (m *PerVUIterationsMode) Run(ctx context.Context, config *ModeConfig) error {
	if config == nil {
		return ErrNilConfig
	}
	if config.IterationFunc == nil {
		return ErrNilIterationFunc
	}

	vus := config.VUs
	if vus <= 0 {
		vus = 1
	}
	perVU := int64(config.Iterations)
	if perVU <= 0 {
		perVU = 1
	}

	defer m.begin()()
	m.SetState(func(s *ModeState) {
		s.TargetVUs = vus
		s.AllocatedVUs = vus
	})

	// MaxDuration is a hard deadline: in-flight iterations are cancelled with it.
	w := m.openWindow(ctx, config.MaxDuration, 0)
	defer w.cancel()

	var finished atomic.Int32
	for i := 0; i < vus; i++ {
		m.wg.Add(1)
		go func(vuID int) {
			defer m.wg.Done()
			if config.OnVUStart != nil {
				config.OnVUStart(vuID)
			}
			if config.OnVUStop != nil {
				defer config.OnVUStop(vuID)
			}
			for iteration := int64(0); iteration < perVU; iteration++ {
				if w.startCtx.Err() != nil {
					return
				}
				m.runIteration(w.iterCtx, config, vuID, iteration)
			}
			finished.Add(1)
		}(i)
	}

	return m.awaitIterations(ctx, w, &m.wg, config, func() bool {
		return int(finished.Load()) == vus
	})
}
