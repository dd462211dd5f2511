package types

import "time"

// ExecutorKind selects how a scenario's load shape is turned into iteration starts.
type ExecutorKind string

const (
	// ExecutorConstantVUs keeps a fixed number of VUs looping for the duration.
	ExecutorConstantVUs ExecutorKind = "constant-vus"
	// ExecutorRampingVUs follows a piecewise-linear VU target across stages.
	ExecutorRampingVUs ExecutorKind = "ramping-vus"
	// ExecutorConstantArrivalRate starts iterations at a fixed rate.
	ExecutorConstantArrivalRate ExecutorKind = "constant-arrival-rate"
	// ExecutorRampingArrivalRate starts iterations at a piecewise-linear rate.
	ExecutorRampingArrivalRate ExecutorKind = "ramping-arrival-rate"
	// ExecutorPerVUIterations has each VU execute a fixed number of iterations.
	ExecutorPerVUIterations ExecutorKind = "per-vu-iterations"
	// ExecutorSharedIterations distributes a total iteration count across all VUs.
	ExecutorSharedIterations ExecutorKind = "shared-iterations"
)

// ExecutorKinds lists every supported executor kind.
var ExecutorKinds = []ExecutorKind{
	ExecutorConstantVUs,
	ExecutorRampingVUs,
	ExecutorConstantArrivalRate,
	ExecutorRampingArrivalRate,
	ExecutorPerVUIterations,
	ExecutorSharedIterations,
}

// Valid reports whether k is a known executor kind.
func (k ExecutorKind) Valid() bool {
	for _, known := range ExecutorKinds {
		if k == known {
			return true
		}
	}
	return false
}

// IsArrivalRate reports whether the executor is driven by an arrival rate.
func (k ExecutorKind) IsArrivalRate() bool {
	return k == ExecutorConstantArrivalRate || k == ExecutorRampingArrivalRate
}

// Stage defines one segment of a ramping schedule.
type Stage struct {
	Duration time.Duration `yaml:"duration" json:"duration"`
	Target   int           `yaml:"target" json:"target"` // Target VU count or arrival rate
	Name     string        `yaml:"name,omitempty" json:"name,omitempty"`
}

// Scenario is the declarative load shape of one scenario. It is immutable once a run starts.
type Scenario struct {
	Name     string       `yaml:"-" json:"name"`
	Executor ExecutorKind `yaml:"executor" json:"executor"`

	// VU based executors.
	VUs      int `yaml:"vus,omitempty" json:"vus,omitempty"`
	StartVUs int `yaml:"start_vus,omitempty" json:"start_vus,omitempty"`

	// Arrival rate executors. Rate is iterations per TimeUnit.
	Rate            int           `yaml:"rate,omitempty" json:"rate,omitempty"`
	StartRate       int           `yaml:"start_rate,omitempty" json:"start_rate,omitempty"`
	TimeUnit        time.Duration `yaml:"time_unit,omitempty" json:"time_unit,omitempty"`
	PreAllocatedVUs int           `yaml:"pre_allocated_vus,omitempty" json:"pre_allocated_vus,omitempty"`
	MaxVUs          int           `yaml:"max_vus,omitempty" json:"max_vus,omitempty"`

	Duration    time.Duration `yaml:"duration,omitempty" json:"duration,omitempty"`
	Stages      []Stage       `yaml:"stages,omitempty" json:"stages,omitempty"`
	Iterations  int           `yaml:"iterations,omitempty" json:"iterations,omitempty"`
	MaxDuration time.Duration `yaml:"max_duration,omitempty" json:"max_duration,omitempty"`

	GracefulStop time.Duration `yaml:"graceful_stop,omitempty" json:"graceful_stop,omitempty"`
	StartTime    time.Duration `yaml:"start_time,omitempty" json:"start_time,omitempty"`

	// MaxDeferred bounds the queue of starts waiting for a free VU (arrival rate only).
	MaxDeferred int `yaml:"max_deferred,omitempty" json:"max_deferred,omitempty"`
}

// Scenario defaults.
const (
	DefaultTimeUnit        = time.Second
	DefaultGracefulStop    = 30 * time.Second
	DefaultMaxDuration     = 10 * time.Minute
	DefaultPreAllocatedVUs = 1
	DefaultMaxVUsFactor    = 2
)

// ApplyDefaults fills optional fields with their documented defaults.
func (s *Scenario) ApplyDefaults() {
	if s.TimeUnit <= 0 {
		s.TimeUnit = DefaultTimeUnit
	}
	if s.GracefulStop <= 0 {
		s.GracefulStop = DefaultGracefulStop
	}

	switch s.Executor {
	case ExecutorConstantArrivalRate, ExecutorRampingArrivalRate:
		if s.PreAllocatedVUs <= 0 {
			s.PreAllocatedVUs = DefaultPreAllocatedVUs
		}
		if s.MaxVUs <= 0 {
			s.MaxVUs = s.PreAllocatedVUs * DefaultMaxVUsFactor
		}
		if s.MaxDeferred <= 0 {
			s.MaxDeferred = s.MaxVUs
		}
	case ExecutorPerVUIterations, ExecutorSharedIterations:
		if s.VUs <= 0 {
			s.VUs = 1
		}
		if s.Iterations <= 0 {
			s.Iterations = 1
		}
		if s.MaxDuration <= 0 {
			s.MaxDuration = DefaultMaxDuration
		}
	case ExecutorConstantVUs:
		if s.VUs <= 0 {
			s.VUs = 1
		}
	}
}

// TotalDuration returns the nominal scheduling window of the scenario, excluding
// graceful stop. Iteration based executors report MaxDuration.
func (s *Scenario) TotalDuration() time.Duration {
	switch s.Executor {
	case ExecutorRampingVUs, ExecutorRampingArrivalRate:
		var total time.Duration
		for _, st := range s.Stages {
			total += st.Duration
		}
		return total
	case ExecutorPerVUIterations, ExecutorSharedIterations:
		return s.MaxDuration
	default:
		return s.Duration
	}
}
