package execution

import (
	"context"

	"yqhp/load-probe/pkg/types"
)

// RampingArrivalRateMode implements the ramping-arrival-rate execution mode.
// The start rate moves linearly from StartRate through each stage's target.
type RampingArrivalRateMode struct {
	*BaseMode
}

// NewRampingArrivalRateMode creates a new ramping arrival rate mode.
func NewRampingArrivalRateMode() *RampingArrivalRateMode {
	return &RampingArrivalRateMode{
		BaseMode: NewBaseMode(types.ExecutorRampingArrivalRate),
	}
}

// Run starts the ramping arrival rate execution.
func (m *RampingArrivalRateMode) Run(ctx context.Context, config *ModeConfig) error {
	if config == nil {
		return ErrNilConfig
	}
	if config.IterationFunc == nil {
		return ErrNilIterationFunc
	}
	if config.TimeUnit <= 0 {
		config.TimeUnit = types.DefaultTimeUnit
	}

	schedule, err := NewRateSchedule(config.StartRate, config.Stages, config.TimeUnit)
	if err != nil {
		return err
	}
	normalizePool(config)

	defer m.begin()()
	newArrivalRateRunner(m.BaseMode, config, schedule).run(ctx)
	return nil
}
