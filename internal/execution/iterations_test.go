package execution

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"yqhp/load-probe/pkg/types"
)

// Tests for PerVUIterationsMode

func TestNewPerVUIterationsMode(t *testing.T) {
	mode := NewPerVUIterationsMode()
	assert.NotNil(t, mode)
	assert.Equal(t, types.ExecutorPerVUIterations, mode.Name())
}

func TestPerVUIterationsMode_Run_NilConfig(t *testing.T) {
	mode := NewPerVUIterationsMode()
	assert.ErrorIs(t, mode.Run(context.Background(), nil), ErrNilConfig)
}

func TestPerVUIterationsMode_Run_NilIterationFunc(t *testing.T) {
	mode := NewPerVUIterationsMode()
	err := mode.Run(context.Background(), &ModeConfig{VUs: 1, Iterations: 1})
	assert.ErrorIs(t, err, ErrNilIterationFunc)
}

func TestPerVUIterationsMode_Run_FixedIterationsPerVU(t *testing.T) {
	mode := NewPerVUIterationsMode()

	var mu sync.Mutex
	perVU := make(map[int]int)
	config := &ModeConfig{
		VUs:         3,
		Iterations:  5,
		MaxDuration: 10 * time.Second,
		IterationFunc: func(ctx context.Context, vuID int, iteration int64) error {
			mu.Lock()
			perVU[vuID]++
			mu.Unlock()
			return nil
		},
	}

	require.NoError(t, mode.Run(context.Background(), config))

	assert.Len(t, perVU, 3)
	for vuID, n := range perVU {
		assert.Equal(t, 5, n, "vu %d", vuID)
	}
	assert.Equal(t, int64(15), mode.GetState().CompletedIterations)
}

func TestPerVUIterationsMode_Run_DefaultValues(t *testing.T) {
	mode := NewPerVUIterationsMode()

	var count atomic.Int32
	config := &ModeConfig{
		IterationFunc: func(ctx context.Context, vuID int, iteration int64) error {
			count.Add(1)
			return nil
		},
	}

	require.NoError(t, mode.Run(context.Background(), config))
	assert.Equal(t, int32(1), count.Load())
}

func TestPerVUIterationsMode_MaxDurationExceeded(t *testing.T) {
	mode := NewPerVUIterationsMode()

	var cancelled atomic.Int32
	config := &ModeConfig{
		VUs:          2,
		Iterations:   100,
		MaxDuration:  100 * time.Millisecond,
		GracefulStop: 50 * time.Millisecond,
		IterationFunc: func(ctx context.Context, vuID int, iteration int64) error {
			select {
			case <-time.After(40 * time.Millisecond):
				return nil
			case <-ctx.Done():
				cancelled.Add(1)
				return ctx.Err()
			}
		},
	}

	start := time.Now()
	err := mode.Run(context.Background(), config)
	require.ErrorIs(t, err, ErrMaxDurationExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Less(t, mode.GetState().CompletedIterations, int64(200))
}

func TestPerVUIterationsMode_MaxDurationCancelsStragglers(t *testing.T) {
	mode := NewPerVUIterationsMode()

	var cancelled atomic.Int32
	config := &ModeConfig{
		VUs:          2,
		Iterations:   1,
		MaxDuration:  50 * time.Millisecond,
		GracefulStop: 50 * time.Millisecond,
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

	err := mode.Run(context.Background(), config)
	require.ErrorIs(t, err, ErrMaxDurationExceeded)
	assert.Equal(t, int32(2), cancelled.Load())
}

func TestPerVUIterationsMode_MaxDurationIgnoresGracefulStop(t *testing.T) {
	mode := NewPerVUIterationsMode()

	var cancelled atomic.Bool
	config := &ModeConfig{
		VUs:          1,
		Iterations:   1,
		MaxDuration:  100 * time.Millisecond,
		GracefulStop: 2 * time.Second,
		IterationFunc: func(ctx context.Context, vuID int, iteration int64) error {
			select {
			case <-time.After(400 * time.Millisecond):
				return nil
			case <-ctx.Done():
				cancelled.Store(true)
				return ctx.Err()
			}
		},
	}

	start := time.Now()
	err := mode.Run(context.Background(), config)
	require.ErrorIs(t, err, ErrMaxDurationExceeded)
	assert.True(t, cancelled.Load(), "in-flight iteration is cancelled at MaxDuration")
	assert.Less(t, time.Since(start), 350*time.Millisecond)
}

func TestPerVUIterationsMode_Run_ContextCancellationIsNotFatal(t *testing.T) {
	mode := NewPerVUIterationsMode()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	config := &ModeConfig{
		VUs:          2,
		Iterations:   1000,
		MaxDuration:  time.Minute,
		GracefulStop: time.Second,
		IterationFunc: func(ctx context.Context, vuID int, iteration int64) error {
			time.Sleep(5 * time.Millisecond)
			return nil
		},
	}

	require.NoError(t, mode.Run(ctx, config))
}

func TestPerVUIterationsMode_Stop(t *testing.T) {
	mode := NewPerVUIterationsMode()

	config := &ModeConfig{
		VUs:          2,
		Iterations:   1000,
		MaxDuration:  time.Minute,
		GracefulStop: time.Second,
		IterationFunc: func(ctx context.Context, vuID int, iteration int64) error {
			time.Sleep(5 * time.Millisecond)
			return nil
		},
	}

	done := make(chan error, 1)
	go func() { done <- mode.Run(context.Background(), config) }()

	time.Sleep(30 * time.Millisecond)
	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, mode.Stop(stopCtx))
	require.NoError(t, <-done)
}

// Tests for SharedIterationsMode

func TestNewSharedIterationsMode(t *testing.T) {
	mode := NewSharedIterationsMode()
	assert.Equal(t, types.ExecutorSharedIterations, mode.Name())
}

func TestSharedIterationsMode_Run_NilConfig(t *testing.T) {
	mode := NewSharedIterationsMode()
	assert.ErrorIs(t, mode.Run(context.Background(), nil), ErrNilConfig)
}

func TestSharedIterationsMode_Run_SharedIterations(t *testing.T) {
	mode := NewSharedIterationsMode()

	var count atomic.Int32
	config := &ModeConfig{
		VUs:         4,
		Iterations:  50,
		MaxDuration: 10 * time.Second,
		IterationFunc: func(ctx context.Context, vuID int, iteration int64) error {
			count.Add(1)
			time.Sleep(time.Millisecond)
			return nil
		},
	}

	require.NoError(t, mode.Run(context.Background(), config))
	assert.Equal(t, int32(50), count.Load())
	assert.Equal(t, int64(50), mode.GetState().CompletedIterations)
}

func TestSharedIterationsMode_Run_CapsVUsAtIterations(t *testing.T) {
	mode := NewSharedIterationsMode()

	var started atomic.Int32
	config := &ModeConfig{
		VUs:           10,
		Iterations:    3,
		MaxDuration:   time.Second,
		IterationFunc: noopIteration,
		OnVUStart:     func(int) { started.Add(1) },
	}

	require.NoError(t, mode.Run(context.Background(), config))
	assert.Equal(t, int32(3), started.Load())
}

func TestSharedIterationsMode_Run_DistributesWork(t *testing.T) {
	mode := NewSharedIterationsMode()

	var mu sync.Mutex
	perVU := make(map[int]int)
	config := &ModeConfig{
		VUs:         3,
		Iterations:  30,
		MaxDuration: 10 * time.Second,
		IterationFunc: func(ctx context.Context, vuID int, iteration int64) error {
			mu.Lock()
			perVU[vuID]++
			mu.Unlock()
			time.Sleep(5 * time.Millisecond)
			return nil
		},
	}

	require.NoError(t, mode.Run(context.Background(), config))

	total := 0
	for _, n := range perVU {
		total += n
	}
	assert.Equal(t, 30, total)
	assert.Greater(t, len(perVU), 1)
}

func TestSharedIterationsMode_MaxDurationExceeded(t *testing.T) {
	mode := NewSharedIterationsMode()

	config := &ModeConfig{
		VUs:          2,
		Iterations:   1000,
		MaxDuration:  50 * time.Millisecond,
		GracefulStop: 20 * time.Millisecond,
		IterationFunc: func(ctx context.Context, vuID int, iteration int64) error {
			time.Sleep(10 * time.Millisecond)
			return nil
		},
	}

	err := mode.Run(context.Background(), config)
	assert.ErrorIs(t, err, ErrMaxDurationExceeded)
}

func TestSharedIterationsMode_InFlightAtMaxDurationIsFatal(t *testing.T) {
	mode := NewSharedIterationsMode()

	config := &ModeConfig{
		VUs:          2,
		Iterations:   2,
		MaxDuration:  80 * time.Millisecond,
		GracefulStop: 2 * time.Second,
		IterationFunc: func(ctx context.Context, vuID int, iteration int64) error {
			select {
			case <-time.After(300 * time.Millisecond):
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	}

	start := time.Now()
	err := mode.Run(context.Background(), config)
	assert.ErrorIs(t, err, ErrMaxDurationExceeded)
	assert.Less(t, time.Since(start), 280*time.Millisecond)
}
