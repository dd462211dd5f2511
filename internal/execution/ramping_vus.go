package execution

import (
	"context"
	"sort"
	"sync"
	"time"

	"yqhp/load-probe/pkg/types"
)

// rampInterval is how often the VU target is re-evaluated.
const rampInterval = 50 * time.Millisecond

// RampingVUsMode implements the ramping-vus execution mode. The active VU count
// follows a linear interpolation from StartVUs through each stage's target.
// Retired VUs finish their in-flight iteration before exiting.
type RampingVUsMode struct {
	*BaseMode

	wg   sync.WaitGroup
	vuMu sync.Mutex
	vus  map[int]chan struct{} // per-VU retire signal
	free []int                 // retired IDs available for reuse
	next int
}

// NewRampingVUsMode creates a new ramping VUs mode.
func NewRampingVUsMode() *RampingVUsMode {
	return &RampingVUsMode{
		BaseMode: NewBaseMode(types.ExecutorRampingVUs),
		vus:      make(map[int]chan struct{}),
	}
}

// Run starts the ramping VUs execution.
func (m *RampingVUsMode) Run(ctx context.Context, config *ModeConfig) error {
	if config == nil {
		return ErrNilConfig
	}
	if config.IterationFunc == nil {
		return ErrNilIterationFunc
	}
	if len(config.Stages) == 0 {
		return ErrNoStages
	}

	var total time.Duration
	for _, st := range config.Stages {
		if st.Duration <= 0 || st.Target < 0 {
			return ErrInvalidStage
		}
		total += st.Duration
	}

	defer m.begin()()

	w := m.openWindow(ctx, total, config.GracefulStop)
	defer w.cancel()

	start := time.Now()
	m.adjustVUs(w, config, VUsAt(config.StartVUs, config.Stages, 0))

	ticker := time.NewTicker(rampInterval)
	defer ticker.Stop()

ramp:
	for {
		select {
		case <-w.startCtx.Done():
			break ramp
		case <-ticker.C:
			m.adjustVUs(w, config, VUsAt(config.StartVUs, config.Stages, time.Since(start)))
		}
	}

	m.adjustVUs(w, config, 0)
	w.drain(&m.wg, config.GracefulStop)
	return nil
}

// adjustVUs starts or retires VUs until target are running.
func (m *RampingVUsMode) adjustVUs(w *window, config *ModeConfig, target int) {
	m.vuMu.Lock()
	defer m.vuMu.Unlock()

	current := len(m.vus)
	for i := current; i < target; i++ {
		m.startVULocked(w, config)
	}

	if current > target {
		ids := make([]int, 0, current)
		for id := range m.vus {
			ids = append(ids, id)
		}
		sort.Sort(sort.Reverse(sort.IntSlice(ids)))
		for _, id := range ids[:current-target] {
			close(m.vus[id])
			delete(m.vus, id)
		}
	}

	allocated := len(m.vus)
	m.SetState(func(s *ModeState) {
		s.TargetVUs = target
		if allocated > s.AllocatedVUs {
			s.AllocatedVUs = allocated
		}
	})
}

// startVULocked starts a VU (must be called with vuMu held).
func (m *RampingVUsMode) startVULocked(w *window, config *ModeConfig) {
	var id int
	if n := len(m.free); n > 0 {
		sort.Ints(m.free)
		id, m.free = m.free[0], m.free[1:]
	} else {
		id = m.next
		m.next++
	}

	retire := make(chan struct{})
	m.vus[id] = retire
	m.wg.Add(1)
	go m.runVU(w, id, retire, config)
}

func (m *RampingVUsMode) runVU(w *window, vuID int, retire chan struct{}, config *ModeConfig) {
	defer func() {
		if config.OnVUStop != nil {
			config.OnVUStop(vuID)
		}
		m.vuMu.Lock()
		m.free = append(m.free, vuID)
		m.vuMu.Unlock()
		m.wg.Done()
	}()
	if config.OnVUStart != nil {
		config.OnVUStart(vuID)
	}

	for iteration := int64(0); ; iteration++ {
		select {
		case <-retire:
			return
		case <-w.startCtx.Done():
			return
		default:
		}
		m.runIteration(w.iterCtx, config, vuID, iteration)
	}
}
