package execution

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"yqhp/load-probe/pkg/types"
)

func noopIteration(ctx context.Context, vuID int, iteration int64) error {
	return nil
}

func TestNewConstantArrivalRateMode(t *testing.T) {
	mode := NewConstantArrivalRateMode()
	assert.NotNil(t, mode)
	assert.Equal(t, types.ExecutorConstantArrivalRate, mode.Name())
}

func TestConstantArrivalRateMode_Run_NilConfig(t *testing.T) {
	mode := NewConstantArrivalRateMode()
	err := mode.Run(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNilConfig)
}

func TestConstantArrivalRateMode_Run_NilIterationFunc(t *testing.T) {
	mode := NewConstantArrivalRateMode()
	err := mode.Run(context.Background(), &ModeConfig{Rate: 10, Duration: time.Second})
	assert.ErrorIs(t, err, ErrNilIterationFunc)
}

func TestConstantArrivalRateMode_Run_InvalidRate(t *testing.T) {
	mode := NewConstantArrivalRateMode()
	err := mode.Run(context.Background(), &ModeConfig{
		Rate:          0,
		Duration:      time.Second,
		IterationFunc: noopIteration,
	})
	assert.ErrorIs(t, err, ErrInvalidRate)
}

func TestConstantArrivalRateMode_Run_StartsExpectedCount(t *testing.T) {
	mode := NewConstantArrivalRateMode()

	var iterations atomic.Int32
	var dropped atomic.Int32
	config := &ModeConfig{
		Rate:            50,
		TimeUnit:        time.Second,
		Duration:        400 * time.Millisecond,
		PreAllocatedVUs: 5,
		MaxVUs:          10,
		GracefulStop:    time.Second,
		IterationFunc: func(ctx context.Context, vuID int, iteration int64) error {
			iterations.Add(1)
			time.Sleep(2 * time.Millisecond)
			return nil
		},
		OnDropped: func() { dropped.Add(1) },
		Logger:    zaptest.NewLogger(t),
	}

	start := time.Now()
	err := mode.Run(context.Background(), config)
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.GreaterOrEqual(t, elapsed, 400*time.Millisecond)
	assert.Less(t, elapsed, 2*time.Second)
	// 50/s for 0.4s is exactly 20 starts
	assert.InDelta(t, 20, int(iterations.Load()+dropped.Load()), 1)
	assert.Zero(t, dropped.Load())
	assert.Equal(t, int64(iterations.Load()), mode.GetState().CompletedIterations)
	assert.False(t, mode.GetState().Running)
}

func TestConstantArrivalRateMode_Run_IndependentOfLatency(t *testing.T) {
	mode := NewConstantArrivalRateMode()

	var iterations atomic.Int32
	config := &ModeConfig{
		Rate:            20,
		TimeUnit:        time.Second,
		Duration:        500 * time.Millisecond,
		PreAllocatedVUs: 2,
		MaxVUs:          20,
		GracefulStop:    time.Second,
		IterationFunc: func(ctx context.Context, vuID int, iteration int64) error {
			iterations.Add(1)
			time.Sleep(200 * time.Millisecond)
			return nil
		},
	}

	require.NoError(t, mode.Run(context.Background(), config))
	assert.InDelta(t, 10, int(iterations.Load()), 1)
	// slow iterations force the pool to grow past the preallocated VUs
	assert.Greater(t, mode.GetState().AllocatedVUs, 2)
	assert.LessOrEqual(t, mode.GetState().AllocatedVUs, 20)
}

func TestConstantArrivalRateMode_PoolExhaustion(t *testing.T) {
	mode := NewConstantArrivalRateMode()

	var started, overruns, deferred, dropped atomic.Int32
	config := &ModeConfig{
		Rate:            100,
		TimeUnit:        time.Second,
		Duration:        300 * time.Millisecond,
		PreAllocatedVUs: 1,
		MaxVUs:          2,
		MaxDeferred:     2,
		GracefulStop:    50 * time.Millisecond,
		IterationFunc: func(ctx context.Context, vuID int, iteration int64) error {
			started.Add(1)
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
			}
			return ctx.Err()
		},
		OnOverrun:  func() { overruns.Add(1) },
		OnDeferred: func() { deferred.Add(1) },
		OnDropped:  func() { dropped.Add(1) },
		Logger:     zaptest.NewLogger(t),
	}

	done := make(chan error, 1)
	go func() { done <- mode.Run(context.Background(), config) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("arrival rate mode did not finish")
	}

	assert.Positive(t, overruns.Load())
	assert.Positive(t, deferred.Load())
	assert.Positive(t, dropped.Load())
	assert.LessOrEqual(t, deferred.Load(), overruns.Load())
	assert.LessOrEqual(t, started.Load(), int32(2))
	assert.Equal(t, 2, mode.GetState().AllocatedVUs)
	// every due start is either run, or dropped (deferred ones are dropped at the deadline)
	assert.InDelta(t, 30, int(started.Load()+dropped.Load()), 1)
}

func TestConstantArrivalRateMode_GracefulStopCancelsStragglers(t *testing.T) {
	mode := NewConstantArrivalRateMode()

	var cancelled atomic.Int32
	config := &ModeConfig{
		Rate:            10,
		TimeUnit:        time.Second,
		Duration:        100 * time.Millisecond,
		PreAllocatedVUs: 1,
		MaxVUs:          1,
		GracefulStop:    100 * time.Millisecond,
		IterationFunc: func(ctx context.Context, vuID int, iteration int64) error {
			select {
			case <-time.After(10 * time.Second):
				return nil
			case <-ctx.Done():
				cancelled.Add(1)
				return ctx.Err()
			}
		},
	}

	start := time.Now()
	require.NoError(t, mode.Run(context.Background(), config))
	elapsed := time.Since(start)

	assert.Equal(t, int32(1), cancelled.Load())
	assert.GreaterOrEqual(t, elapsed, 200*time.Millisecond)
	assert.Less(t, elapsed, 2*time.Second)
}

func TestConstantArrivalRateMode_Stop(t *testing.T) {
	mode := NewConstantArrivalRateMode()

	config := &ModeConfig{
		Rate:            10,
		TimeUnit:        time.Second,
		Duration:        time.Minute,
		PreAllocatedVUs: 1,
		GracefulStop:    time.Second,
		IterationFunc:   noopIteration,
	}

	done := make(chan error, 1)
	go func() { done <- mode.Run(context.Background(), config) }()

	time.Sleep(100 * time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, mode.Stop(ctx))
	require.NoError(t, <-done)
}

func TestNewRampingArrivalRateMode(t *testing.T) {
	mode := NewRampingArrivalRateMode()
	assert.Equal(t, types.ExecutorRampingArrivalRate, mode.Name())
}

func TestRampingArrivalRateMode_Run_NoStages(t *testing.T) {
	mode := NewRampingArrivalRateMode()
	err := mode.Run(context.Background(), &ModeConfig{IterationFunc: noopIteration})
	assert.ErrorIs(t, err, ErrNoStages)
}

func TestRampingArrivalRateMode_Run_FollowsStages(t *testing.T) {
	mode := NewRampingArrivalRateMode()

	var iterations atomic.Int32
	config := &ModeConfig{
		StartRate: 0,
		TimeUnit:  time.Second,
		Stages: []types.Stage{
			{Duration: 200 * time.Millisecond, Target: 100},
			{Duration: 200 * time.Millisecond, Target: 100},
		},
		PreAllocatedVUs: 5,
		MaxVUs:          10,
		GracefulStop:    time.Second,
		IterationFunc: func(ctx context.Context, vuID int, iteration int64) error {
			iterations.Add(1)
			return nil
		},
	}

	require.NoError(t, mode.Run(context.Background(), config))
	// ramp area 10 plus plateau area 20
	assert.InDelta(t, 30, int(iterations.Load()), 1)
}

func TestRampingArrivalRateMode_ContextCancel(t *testing.T) {
	mode := NewRampingArrivalRateMode()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	config := &ModeConfig{
		StartRate:     10,
		TimeUnit:      time.Second,
		Stages:        []types.Stage{{Duration: time.Minute, Target: 10}},
		GracefulStop:  time.Second,
		IterationFunc: noopIteration,
	}

	start := time.Now()
	require.NoError(t, mode.Run(ctx, config))
	assert.Less(t, time.Since(start), 2*time.Second)
}
