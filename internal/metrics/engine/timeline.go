package engine

import (
	"sync"
	"time"
)

// Point is one periodic sample of the headline series.
type Point struct {
	Timestamp  string  `json:"timestamp"`
	ElapsedMs  int64   `json:"elapsed_ms"`
	Requests   int64   `json:"requests"`
	RPS        float64 `json:"rps"`
	ErrorRate  float64 `json:"error_rate"`
	P95Ms      float64 `json:"p95_ms"`
	VUs        float64 `json:"vus"`
	Iterations int64   `json:"iterations"`
	Dropped    int64   `json:"dropped_iterations"`
}

// Timeline keeps a bounded history of periodic Points taken from an Aggregator.
type Timeline struct {
	agg      *Aggregator
	interval time.Duration
	limit    int

	mu     sync.Mutex
	points []*Point

	stop chan struct{}
	done chan struct{}
}

// NewTimeline creates a timeline sampling every interval and keeping at most limit points.
func NewTimeline(agg *Aggregator, interval time.Duration, limit int) *Timeline {
	if interval <= 0 {
		interval = time.Second
	}
	if limit <= 0 {
		limit = 3600
	}
	return &Timeline{agg: agg, interval: interval, limit: limit}
}

// Start begins periodic collection. It must be paired with Stop.
func (tl *Timeline) Start() {
	tl.stop = make(chan struct{})
	tl.done = make(chan struct{})

	go func() {
		defer close(tl.done)
		ticker := time.NewTicker(tl.interval)
		defer ticker.Stop()

		var lastRequests int64
		for {
			select {
			case <-ticker.C:
				lastRequests = tl.collect(lastRequests)
			case <-tl.stop:
				tl.collect(lastRequests)
				return
			}
		}
	}()
}

// Stop ends collection after a final sample.
func (tl *Timeline) Stop() {
	if tl.stop == nil {
		return
	}
	select {
	case <-tl.stop:
	default:
		close(tl.stop)
	}
	<-tl.done
}

func (tl *Timeline) collect(lastRequests int64) int64 {
	snap := tl.agg.Snapshot()
	requests := int64(snap.Count(HTTPReqs))

	point := &Point{
		Timestamp:  snap.Time.Format(time.RFC3339),
		ElapsedMs:  snap.Elapsed.Milliseconds(),
		Requests:   requests,
		RPS:        float64(requests-lastRequests) / tl.interval.Seconds(),
		ErrorRate:  snap.RateOf(HTTPReqFailed),
		P95Ms:      snap.Percentile(HTTPReqDuration, 95),
		Iterations: int64(snap.Count(Iterations)),
		Dropped:    int64(snap.Count(DroppedIterations)),
	}
	if s, ok := snap.Get(VUs); ok {
		point.VUs = s.Sink.Format(0)["value"]
	}

	tl.mu.Lock()
	tl.points = append(tl.points, point)
	if len(tl.points) > tl.limit {
		tl.points = tl.points[len(tl.points)-tl.limit:]
	}
	tl.mu.Unlock()
	return requests
}

// Points returns a copy of the collected points.
func (tl *Timeline) Points() []*Point {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	result := make([]*Point, len(tl.points))
	copy(result, tl.points)
	return result
}

// Latest returns the most recent point, or nil.
func (tl *Timeline) Latest() *Point {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	if len(tl.points) == 0 {
		return nil
	}
	return tl.points[len(tl.points)-1]
}
