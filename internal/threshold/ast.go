package threshold

import (
	"strconv"

	"yqhp/load-probe/pkg/metrics"
)

// Aggregation selects which statistic of a series a comparison reads.
type Aggregation int

const (
	AggRate Aggregation = iota
	AggPercentile
	AggCount
	AggAvg
	AggMin
	AggMax
	AggMed
	AggValue
)

var aggregationNames = map[string]Aggregation{
	"rate":  AggRate,
	"p":     AggPercentile,
	"count": AggCount,
	"avg":   AggAvg,
	"min":   AggMin,
	"max":   AggMax,
	"med":   AggMed,
	"value": AggValue,
}

// String returns the string representation of the aggregation.
func (a Aggregation) String() string {
	switch a {
	case AggRate:
		return "rate"
	case AggPercentile:
		return "p"
	case AggCount:
		return "count"
	case AggAvg:
		return "avg"
	case AggMin:
		return "min"
	case AggMax:
		return "max"
	case AggMed:
		return "med"
	case AggValue:
		return "value"
	default:
		return "unknown"
	}
}

// supported lists the aggregations each metric type can answer.
var supported = map[metrics.MetricType][]Aggregation{
	metrics.Counter: {AggCount, AggRate},
	metrics.Gauge:   {AggValue, AggMin, AggMax, AggAvg},
	metrics.Rate:    {AggRate},
	metrics.Trend:   {AggPercentile, AggAvg, AggMin, AggMax, AggMed, AggCount},
}

// SupportedBy reports whether a metric of type t can be aggregated with a.
func (a Aggregation) SupportedBy(t metrics.MetricType) bool {
	for _, s := range supported[t] {
		if s == a {
			return true
		}
	}
	return false
}

// Operator is a comparison operator.
type Operator int

const (
	OpLT Operator = iota
	OpGT
	OpEQ
	OpLE
	OpGE
	OpNE
)

// String returns the operator symbol.
func (o Operator) String() string {
	switch o {
	case OpLT:
		return "<"
	case OpGT:
		return ">"
	case OpEQ:
		return "=="
	case OpLE:
		return "<="
	case OpGE:
		return ">="
	case OpNE:
		return "!="
	default:
		return "?"
	}
}

// Compare applies the operator to observed and bound.
func (o Operator) Compare(observed, bound float64) bool {
	switch o {
	case OpLT:
		return observed < bound
	case OpGT:
		return observed > bound
	case OpEQ:
		return observed == bound
	case OpLE:
		return observed <= bound
	case OpGE:
		return observed >= bound
	case OpNE:
		return observed != bound
	default:
		return false
	}
}

func operatorFor(t TokenType) Operator {
	switch t {
	case TokenGT:
		return OpGT
	case TokenEQ:
		return OpEQ
	case TokenLE:
		return OpLE
	case TokenGE:
		return OpGE
	case TokenNE:
		return OpNE
	default:
		return OpLT
	}
}

// Comparison is the parsed form of one expression: <aggregation> <op> <literal>.
type Comparison struct {
	Aggregation Aggregation
	Percentile  float64 // only for AggPercentile, in (0,100]
	Op          Operator
	Literal     float64
}

// AggregationString renders the aggregation the way it is written in expressions.
func (c Comparison) AggregationString() string {
	if c.Aggregation == AggPercentile {
		return "p(" + strconv.FormatFloat(c.Percentile, 'f', -1, 64) + ")"
	}
	return c.Aggregation.String()
}

// String returns the canonical expression text.
func (c Comparison) String() string {
	return c.AggregationString() + c.Op.String() + strconv.FormatFloat(c.Literal, 'f', -1, 64)
}
