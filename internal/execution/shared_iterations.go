package execution

import (
	"context"
	"sync"
	"sync/atomic"

	"yqhp/load-probe/pkg/types"
)

// SharedIterationsMode implements the shared-iterations execution mode.
// Total iterations are distributed across all VUs.
type SharedIterationsMode struct {
	*BaseMode
	wg sync.WaitGroup
}

// NewSharedIterationsMode creates a new shared iterations mode.
func NewSharedIterationsMode() *SharedIterationsMode {
	return &SharedIterationsMode{
		BaseMode: NewBaseMode(types.ExecutorSharedIterations),
	}
}

// Run starts the shared iterations execution.
func (m *SharedIterationsMode) Run(ctx context.Context, config *ModeConfig) error {
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
	total := int64(config.Iterations)
	if total <= 0 {
		total = 1
	}
	if int64(vus) > total {
		vus = int(total)
	}

	defer m.begin()()
	m.SetState(func(s *ModeState) {
		s.TargetVUs = vus
		s.AllocatedVUs = vus
	})

	// MaxDuration is a hard deadline: in-flight iterations are cancelled with it.
	w := m.openWindow(ctx, config.MaxDuration, 0)
	defer w.cancel()

	var claimed, done atomic.Int64
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
			for iteration := int64(0); w.startCtx.Err() == nil; iteration++ {
				if claimed.Add(1) > total {
					return
				}
				m.runIteration(w.iterCtx, config, vuID, iteration)
				done.Add(1)
			}
		}(i)
	}

	return m.awaitIterations(ctx, w, &m.wg, config, func() bool {
		return done.Load() >= total
	})
}
