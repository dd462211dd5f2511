package execution

import (
	"context"

	"yqhp/load-probe/pkg/types"
)

// ConstantArrivalRateMode implements the constant-arrival-rate execution mode.
// It starts Rate iterations per TimeUnit regardless of response time.
type ConstantArrivalRateMode struct {
	*BaseMode
}

// NewConstantArrivalRateMode creates a new constant arrival rate mode.
func NewConstantArrivalRateMode() *ConstantArrivalRateMode {
	return &ConstantArrivalRateMode{
		BaseMode: NewBaseMode(types.ExecutorConstantArrivalRate),
	}
}

// Run starts the constant arrival rate execution.
func (m *ConstantArrivalRateMode) Run(ctx context.Context, config *ModeConfig) error {
	if config == nil {
		return ErrNilConfig
	}
	if config.IterationFunc == nil {
		return ErrNilIterationFunc
	}
	if config.TimeUnit <= 0 {
		config.TimeUnit = types.DefaultTimeUnit
	}

	schedule, err := NewConstantRateSchedule(config.Rate, config.TimeUnit, config.Duration)
	if err != nil {
		return err
	}
	normalizePool(config)

	defer m.begin()()
	newArrivalRateRunner(m.BaseMode, config, schedule).run(ctx)
	return nil
}
