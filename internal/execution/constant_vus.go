package execution

import (
	"context"
	"sync"

	"yqhp/load-probe/pkg/types"
)

// ConstantVUsMode implements the constant-vus execution mode.
// It keeps a fixed number of VUs looping for the test duration.
type ConstantVUsMode struct {
	*BaseMode
	wg sync.WaitGroup
}

// NewConstantVUsMode creates a new constant VUs mode.
func NewConstantVUsMode() *ConstantVUsMode {
	return &ConstantVUsMode{
		BaseMode: NewBaseMode(types.ExecutorConstantVUs),
	}
}

// Run starts the constant VUs execution.
func (m *ConstantVUsMode) Run(ctx context.Context, config *ModeConfig) error {
	if config == nil {
		return ErrNilConfig
	}
	if config.IterationFunc == nil {
		return ErrNilIterationFunc
	}
	if config.Duration <= 0 {
		return ErrInvalidDuration
	}

	vus := config.VUs
	if vus <= 0 {
		vus = 1
	}

	defer m.begin()()
	m.SetState(func(s *ModeState) {
		s.TargetVUs = vus
		s.AllocatedVUs = vus
	})

	w := m.openWindow(ctx, config.Duration, config.GracefulStop)
	defer w.cancel()

	for i := 0; i < vus; i++ {
		m.wg.Add(1)
		go m.runVU(w, i, config)
	}

	<-w.startCtx.Done()
	w.drain(&m.wg, config.GracefulStop)
	return nil
}

func (m *ConstantVUsMode) runVU(w *window, vuID int, config *ModeConfig) {
	defer m.wg.Done()
	if config.OnVUStart != nil {
		config.OnVUStart(vuID)
	}
	if config.OnVUStop != nil {
		defer config.OnVUStop(vuID)
	}

	for iteration := int64(0); w.startCtx.Err() == nil; iteration++ {
		m.runIteration(w.iterCtx, config, vuID, iteration)
	}
}
