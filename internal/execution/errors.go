package execution

import "errors"

var (
	// ErrNilConfig is returned when the configuration is nil.
	ErrNilConfig = errors.New("execution mode config is nil")

	// ErrNilIterationFunc is returned when the iteration function is nil.
	ErrNilIterationFunc = errors.New("iteration function is nil")

	// ErrNoStages is returned when no stages are defined for ramping modes.
	ErrNoStages = errors.New("no stages defined for ramping mode")

	// ErrInvalidStage is returned for a stage with a non-positive duration or a negative target.
	ErrInvalidStage = errors.New("invalid stage: duration must be positive and target non-negative")

	// ErrInvalidRate is returned when the rate is invalid.
	ErrInvalidRate = errors.New("invalid rate: must be positive")

	// ErrInvalidTimeUnit is returned when the time unit is invalid.
	ErrInvalidTimeUnit = errors.New("invalid time unit: must be positive")

	// ErrInvalidVUs is returned when a VU count is out of range.
	ErrInvalidVUs = errors.New("invalid VU count")

	// ErrInvalidDuration is returned when a duration based executor has no duration.
	ErrInvalidDuration = errors.New("invalid duration: must be positive")

	// ErrMaxDurationExceeded is returned when an iteration based executor does not
	// finish its iterations within MaxDuration. It is fatal for the run.
	ErrMaxDurationExceeded = errors.New("scenario exceeded max duration before completing its iterations")

	// ErrUnknownExecutor is returned by the registry for an unregistered kind.
	ErrUnknownExecutor = errors.New("unknown executor")
)
