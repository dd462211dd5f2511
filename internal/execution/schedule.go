package execution

import (
	"fmt"
	"math"
	"sort"
	"time"

	"yqhp/load-probe/pkg/types"
)

// rateSegment is one linear piece of a rate schedule. Rates are per second.
type rateSegment struct {
	start time.Duration
	dur   time.Duration
	from  float64
	to    float64
	cum   float64 // iterations scheduled before this segment
	area  float64 // iterations scheduled within this segment
}

// RateSchedule is a piecewise-linear arrival rate. Iteration k (0-based) is
// due at the instant the integral of the rate from 0 reaches k.
type RateSchedule struct {
	segments []rateSegment
	total    float64
	end      time.Duration
}

// NewRateSchedule builds a schedule ramping from startRate through stages. Rates
// are expressed per timeUnit.
func NewRateSchedule(startRate int, stages []types.Stage, timeUnit time.Duration) (*RateSchedule, error) {
	if timeUnit <= 0 {
		return nil, ErrInvalidTimeUnit
	}
	if len(stages) == 0 {
		return nil, ErrNoStages
	}
	if startRate < 0 {
		return nil, ErrInvalidRate
	}

	perSecond := func(r int) float64 {
		return float64(r) / timeUnit.Seconds()
	}

	s := &RateSchedule{}
	from := perSecond(startRate)
	for i, st := range stages {
		if st.Duration <= 0 || st.Target < 0 {
			return nil, fmt.Errorf("stage %d: %w", i, ErrInvalidStage)
		}
		to := perSecond(st.Target)
		seg := rateSegment{
			start: s.end,
			dur:   st.Duration,
			from:  from,
			to:    to,
			cum:   s.total,
			area:  (from + to) / 2 * st.Duration.Seconds(),
		}
		s.segments = append(s.segments, seg)
		s.total += seg.area
		s.end += st.Duration
		from = to
	}
	return s, nil
}

// NewConstantRateSchedule builds a flat schedule of rate per timeUnit for duration.
func NewConstantRateSchedule(rate int, timeUnit, duration time.Duration) (*RateSchedule, error) {
	if rate <= 0 {
		return nil, ErrInvalidRate
	}
	if duration <= 0 {
		return nil, ErrInvalidDuration
	}
	return NewRateSchedule(rate, []types.Stage{{Duration: duration, Target: rate}}, timeUnit)
}

// End returns the length of the schedule.
func (s *RateSchedule) End() time.Duration {
	return s.end
}

// Total returns the integral of the rate over the whole schedule.
func (s *RateSchedule) Total() float64 {
	return s.total
}

// RateAt returns the instantaneous rate per second at offset t.
func (s *RateSchedule) RateAt(t time.Duration) float64 {
	if t < 0 || t >= s.end {
		return 0
	}
	seg := s.segmentAt(t)
	frac := float64(t-seg.start) / float64(seg.dur)
	return seg.from + (seg.to-seg.from)*frac
}

// Cumulative returns the integral of the rate from 0 to t.
func (s *RateSchedule) Cumulative(t time.Duration) float64 {
	if t <= 0 {
		return 0
	}
	if t >= s.end {
		return s.total
	}
	seg := s.segmentAt(t)
	x := (t - seg.start).Seconds()
	d := seg.dur.Seconds()
	return seg.cum + seg.from*x + (seg.to-seg.from)*x*x/(2*d)
}

func (s *RateSchedule) segmentAt(t time.Duration) *rateSegment {
	i := sort.Search(len(s.segments), func(i int) bool {
		return s.segments[i].start+s.segments[i].dur > t
	})
	if i == len(s.segments) {
		i--
	}
	return &s.segments[i]
}

// StartOffset returns when iteration k is due. ok is false when the schedule ends
// before k iterations have accumulated.
func (s *RateSchedule) StartOffset(k int64) (time.Duration, bool) {
	c := float64(k)
	if k < 0 || c >= s.total {
		return 0, false
	}

	// first segment whose accumulated end exceeds c; zero-area segments never match
	i := sort.Search(len(s.segments), func(i int) bool {
		seg := s.segments[i]
		return seg.cum+seg.area > c
	})
	if i == len(s.segments) {
		return 0, false
	}
	seg := s.segments[i]

	x := segmentInverse(seg.from, seg.to, seg.dur.Seconds(), c-seg.cum)
	off := seg.start + time.Duration(x*float64(time.Second))
	if off >= s.end {
		return 0, false
	}
	return off, true
}

// segmentInverse solves a*x + (b-a)*x^2/(2d) = c for x in [0,d]. The rationalized
// form stays stable when b == a and when a is zero.
func segmentInverse(a, b, d, c float64) float64 {
	if c <= 0 {
		return 0
	}
	if b == a {
		return c / a
	}
	disc := a*a + 2*(b-a)*c/d
	if disc < 0 {
		disc = 0
	}
	den := a + math.Sqrt(disc)
	if den <= 0 {
		return d
	}
	x := 2 * c / den
	if x > d {
		x = d
	}
	return x
}

// VUsAt returns the interpolated VU target at elapsed for a ramping-vus
// scenario, rounding to the nearest whole VU. After the last stage it returns the
// last target.
func VUsAt(startVUs int, stages []types.Stage, elapsed time.Duration) int {
	from := float64(startVUs)
	var offset time.Duration
	for _, st := range stages {
		if elapsed < offset+st.Duration {
			frac := float64(elapsed-offset) / float64(st.Duration)
			return int(math.Round(from + (float64(st.Target)-from)*frac))
		}
		offset += st.Duration
		from = float64(st.Target)
	}
	return int(from)
}

// MaxVUsOf returns the highest VU count a ramping-vus scenario reaches.
func MaxVUsOf(startVUs int, stages []types.Stage) int {
	m := startVUs
	for _, st := range stages {
		if st.Target > m {
			m = st.Target
		}
	}
	return m
}
