package types

import (
	"fmt"
	"time"
)

// VirtualUser is one concurrent execution slot. It owns nothing across
// iterations except its completed-iteration counter.
type VirtualUser struct {
	ID         int
	Iterations int64
}

// RequestKind is the role a request plays inside a probe iteration.
type RequestKind string

const (
	RequestCheap   RequestKind = "cheap"
	RequestHeavy   RequestKind = "heavy"
	RequestHealth  RequestKind = "health"
	RequestMetrics RequestKind = "metrics"
)

// OutcomeClass is how an outcome was classified by the probe.
type OutcomeClass string

const (
	// OutcomePass is a 2xx pass-through.
	OutcomePass OutcomeClass = "pass"
	// OutcomeShed is an accepted shedding response (429/503 on the heavy path).
	OutcomeShed OutcomeClass = "shed"
	// OutcomeFail is any other status, including transport errors.
	OutcomeFail OutcomeClass = "fail"
)

// RequestOutcome is produced once per HTTP call and never mutated afterwards.
type RequestOutcome struct {
	Status    int
	Latency   time.Duration
	Class     string // request class tag, e.g. "genes"
	Kind      RequestKind
	Timestamp time.Time
	Err       error
}

// LatencyMillis returns the latency in fractional milliseconds.
func (o RequestOutcome) LatencyMillis() float64 {
	return float64(o.Latency) / float64(time.Millisecond)
}

// String implements fmt.Stringer.
func (o RequestOutcome) String() string {
	if o.Err != nil {
		return fmt.Sprintf("%s/%s error=%v latency=%s", o.Kind, o.Class, o.Err, o.Latency)
	}
	return fmt.Sprintf("%s/%s status=%d latency=%s", o.Kind, o.Class, o.Status, o.Latency)
}

// ProbeEvent is a derived boolean occurrence recorded into its own counter.
type ProbeEvent string

const (
	EventHeavyShed          ProbeEvent = "heavy_shed"
	EventOverloadActive     ProbeEvent = "overload_active"
	EventQueueDepthPositive ProbeEvent = "queue_depth_positive"
	EventRSSCapExceeded     ProbeEvent = "rss_cap_exceeded"
)

// ProbeEvents lists every probe event.
var ProbeEvents = []ProbeEvent{
	EventHeavyShed,
	EventOverloadActive,
	EventQueueDepthPositive,
	EventRSSCapExceeded,
}
