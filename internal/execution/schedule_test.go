package execution

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"yqhp/load-probe/pkg/types"
)

func TestRateSchedule_ConstantOffsets(t *testing.T) {
	s, err := NewConstantRateSchedule(10, time.Second, 2*time.Second)
	require.NoError(t, err)

	assert.Equal(t, 2*time.Second, s.End())
	assert.InDelta(t, 20, s.Total(), 1e-9)

	for k := int64(0); k < 20; k++ {
		off, ok := s.StartOffset(k)
		require.True(t, ok, "iteration %d", k)
		assert.InDelta(t, float64(k)*100, float64(off)/float64(time.Millisecond), 1e-3)
	}
	_, ok := s.StartOffset(20)
	assert.False(t, ok)
}

func TestRateSchedule_TimeUnit(t *testing.T) {
	s, err := NewConstantRateSchedule(60, time.Minute, 10*time.Second)
	require.NoError(t, err)

	assert.InDelta(t, 1.0, s.RateAt(time.Second), 1e-9)
	off, ok := s.StartOffset(3)
	require.True(t, ok)
	assert.Equal(t, 3*time.Second, off)
}

func TestRateSchedule_Trapezoid(t *testing.T) {
	// 0 -> 10/s over 10s, hold 10/s for 10s, 10 -> 0 over 10s
	s, err := NewRateSchedule(0, []types.Stage{
		{Duration: 10 * time.Second, Target: 10},
		{Duration: 10 * time.Second, Target: 10},
		{Duration: 10 * time.Second, Target: 0},
	}, time.Second)
	require.NoError(t, err)

	assert.InDelta(t, 200, s.Total(), 1e-9)
	assert.InDelta(t, 50, s.Cumulative(10*time.Second), 1e-9)
	assert.InDelta(t, 150, s.Cumulative(20*time.Second), 1e-9)
	assert.InDelta(t, 5, s.RateAt(5*time.Second), 1e-9)
	assert.InDelta(t, 0, s.RateAt(30*time.Second), 1e-9)

	// the ramp-up area is x^2/2, so iteration 50 is due at exactly 10s
	off, ok := s.StartOffset(50)
	require.True(t, ok)
	assert.InDelta(t, 10, off.Seconds(), 1e-6)

	// 0 at the very start is allowed
	off, ok = s.StartOffset(0)
	require.True(t, ok)
	assert.Equal(t, time.Duration(0), off)
}

func TestRateSchedule_ZeroRateSegmentSkipped(t *testing.T) {
	s, err := NewRateSchedule(0, []types.Stage{
		{Duration: time.Second, Target: 0},
		{Duration: time.Second, Target: 4},
	}, time.Second)
	require.NoError(t, err)

	off, ok := s.StartOffset(0)
	require.True(t, ok)
	assert.GreaterOrEqual(t, off, time.Second)
}

func TestRateSchedule_Invalid(t *testing.T) {
	_, err := NewRateSchedule(1, nil, time.Second)
	assert.ErrorIs(t, err, ErrNoStages)

	_, err = NewRateSchedule(1, []types.Stage{{Duration: time.Second, Target: 1}}, 0)
	assert.ErrorIs(t, err, ErrInvalidTimeUnit)

	_, err = NewRateSchedule(1, []types.Stage{{Duration: 0, Target: 1}}, time.Second)
	assert.ErrorIs(t, err, ErrInvalidStage)

	_, err = NewRateSchedule(-1, []types.Stage{{Duration: time.Second, Target: 1}}, time.Second)
	assert.ErrorIs(t, err, ErrInvalidRate)

	_, err = NewConstantRateSchedule(0, time.Second, time.Second)
	assert.ErrorIs(t, err, ErrInvalidRate)

	_, err = NewConstantRateSchedule(1, time.Second, 0)
	assert.ErrorIs(t, err, ErrInvalidDuration)
}

func TestRateSchedule_StartOffsetInvertsCumulative(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 4).Draw(t, "stages")
		stages := make([]types.Stage, n)
		for i := range stages {
			stages[i] = types.Stage{
				Duration: time.Duration(rapid.IntRange(100, 5000).Draw(t, "ms")) * time.Millisecond,
				Target:   rapid.IntRange(0, 200).Draw(t, "target"),
			}
		}
		start := rapid.IntRange(0, 200).Draw(t, "start")

		s, err := NewRateSchedule(start, stages, time.Second)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		prev := time.Duration(-1)
		for k := int64(0); ; k++ {
			off, ok := s.StartOffset(k)
			if !ok {
				// the schedule ends with fewer than k+1 accumulated starts
				if float64(k) < math.Floor(s.Total())-1 {
					t.Fatalf("schedule ended early at %d of %.2f", k, s.Total())
				}
				break
			}
			if off < prev {
				t.Fatalf("offsets not monotonic: %v after %v", off, prev)
			}
			prev = off
			if got := s.Cumulative(off); math.Abs(got-float64(k)) > 1e-3 {
				t.Fatalf("Cumulative(StartOffset(%d)) = %f", k, got)
			}
		}
	})
}

func TestVUsAt(t *testing.T) {
	stages := []types.Stage{
		{Duration: 10 * time.Second, Target: 10},
		{Duration: 10 * time.Second, Target: 10},
		{Duration: 10 * time.Second, Target: 0},
	}

	assert.Equal(t, 0, VUsAt(0, stages, 0))
	assert.Equal(t, 5, VUsAt(0, stages, 5*time.Second))
	assert.Equal(t, 10, VUsAt(0, stages, 15*time.Second))
	assert.Equal(t, 5, VUsAt(0, stages, 25*time.Second))
	assert.Equal(t, 0, VUsAt(0, stages, time.Minute))
	assert.Equal(t, 10, MaxVUsOf(0, stages))
	assert.Equal(t, 12, MaxVUsOf(12, stages))
}
