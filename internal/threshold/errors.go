package threshold

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnknownMetric is returned when a threshold names a metric that is not registered.
	ErrUnknownMetric = errors.New("unknown metric")
	// ErrUnsupportedAggregation is returned when the metric type cannot answer the aggregation.
	ErrUnsupportedAggregation = errors.New("aggregation not supported by metric type")
	// ErrAborted is wrapped by the error passed to the abort callback.
	ErrAborted = errors.New("thresholds crossed with abort_on_fail")
)

// ParseError represents a malformed threshold expression.
type ParseError struct {
	Input    string
	Position int
	Expected string
	Got      string
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	return fmt.Sprintf("threshold %q: parse error at position %d: expected %s, got %q",
		e.Input, e.Position, e.Expected, e.Got)
}

// NewParseError creates a new ParseError.
func NewParseError(input string, pos int, expected, got string) *ParseError {
	return &ParseError{Input: input, Position: pos, Expected: expected, Got: got}
}

// AbortError lists the metrics whose abort_on_fail thresholds were crossed.
type AbortError struct {
	Metrics []string
}

// Error implements the error interface.
func (e *AbortError) Error() string {
	return fmt.Sprintf("thresholds on metrics '%s' were crossed; abortOnFail enabled",
		strings.Join(e.Metrics, ", "))
}

// Unwrap returns ErrAborted.
func (e *AbortError) Unwrap() error {
	return ErrAborted
}
