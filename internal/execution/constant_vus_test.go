package execution

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"yqhp/load-probe/pkg/types"
)

func TestNewConstantVUsMode(t *testing.T) {
	mode := NewConstantVUsMode()
	assert.NotNil(t, mode)
	assert.Equal(t, types.ExecutorConstantVUs, mode.Name())
}

func TestConstantVUsMode_Run_NilConfig(t *testing.T) {
	mode := NewConstantVUsMode()
	err := mode.Run(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNilConfig)
}

func TestConstantVUsMode_Run_NilIterationFunc(t *testing.T) {
	mode := NewConstantVUsMode()
	err := mode.Run(context.Background(), &ModeConfig{VUs: 1, Duration: time.Second})
	assert.ErrorIs(t, err, ErrNilIterationFunc)
}

func TestConstantVUsMode_Run_RequiresDuration(t *testing.T) {
	mode := NewConstantVUsMode()
	err := mode.Run(context.Background(), &ModeConfig{VUs: 1, IterationFunc: noopIteration})
	assert.ErrorIs(t, err, ErrInvalidDuration)
}

func TestConstantVUsMode_Run_WithDuration(t *testing.T) {
	mode := NewConstantVUsMode()

	var iterationCount atomic.Int32
	config := &ModeConfig{
		VUs:          2,
		Duration:     100 * time.Millisecond,
		GracefulStop: time.Second,
		IterationFunc: func(ctx context.Context, vuID int, iteration int64) error {
			iterationCount.Add(1)
			time.Sleep(10 * time.Millisecond)
			return nil
		},
	}

	start := time.Now()
	err := mode.Run(context.Background(), config)
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.GreaterOrEqual(t, elapsed, 100*time.Millisecond)
	assert.Less(t, elapsed, time.Second)
	assert.Positive(t, iterationCount.Load())
}

func TestConstantVUsMode_Run_MaintainsConstantVUs(t *testing.T) {
	mode := NewConstantVUsMode()

	var mu sync.Mutex
	seen := make(map[int]int64)
	config := &ModeConfig{
		VUs:          5,
		Duration:     150 * time.Millisecond,
		GracefulStop: time.Second,
		IterationFunc: func(ctx context.Context, vuID int, iteration int64) error {
			mu.Lock()
			if iteration+1 > seen[vuID] {
				seen[vuID] = iteration + 1
			}
			mu.Unlock()
			time.Sleep(5 * time.Millisecond)
			return nil
		},
	}

	require.NoError(t, mode.Run(context.Background(), config))

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, seen, 5)
	for vuID := range seen {
		assert.GreaterOrEqual(t, vuID, 0)
		assert.Less(t, vuID, 5)
	}
	assert.Equal(t, 5, mode.GetState().AllocatedVUs)
}

func TestConstantVUsMode_GracefulStopCancelsInFlight(t *testing.T) {
	mode := NewConstantVUsMode()

	var cancelled atomic.Int32
	config := &ModeConfig{
		VUs:          3,
		Duration:     50 * time.Millisecond,
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

	start := time.Now()
	require.NoError(t, mode.Run(context.Background(), config))
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, int32(3), cancelled.Load())
}

func TestConstantVUsMode_GracefulStopLetsShortIterationsFinish(t *testing.T) {
	mode := NewConstantVUsMode()

	var interrupted atomic.Int32
	config := &ModeConfig{
		VUs:          2,
		Duration:     50 * time.Millisecond,
		GracefulStop: time.Second,
		IterationFunc: func(ctx context.Context, vuID int, iteration int64) error {
			select {
			case <-time.After(80 * time.Millisecond):
				return nil
			case <-ctx.Done():
				interrupted.Add(1)
				return ctx.Err()
			}
		},
	}

	require.NoError(t, mode.Run(context.Background(), config))
	assert.Zero(t, interrupted.Load())
}

func TestConstantVUsMode_Run_ContextCancellation(t *testing.T) {
	mode := NewConstantVUsMode()

	ctx, cancel := context.WithCancel(context.Background())
	config := &ModeConfig{
		VUs:          2,
		Duration:     10 * time.Second,
		GracefulStop: time.Second,
		IterationFunc: func(ctx context.Context, vuID int, iteration int64) error {
			time.Sleep(10 * time.Millisecond)
			return nil
		},
	}

	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	require.NoError(t, mode.Run(ctx, config))
	assert.Less(t, time.Since(start), time.Second)
}

func TestConstantVUsMode_Stop(t *testing.T) {
	mode := NewConstantVUsMode()

	config := &ModeConfig{
		VUs:          2,
		Duration:     10 * time.Second,
		GracefulStop: time.Second,
		IterationFunc: func(ctx context.Context, vuID int, iteration int64) error {
			time.Sleep(10 * time.Millisecond)
			return nil
		},
	}

	done := make(chan error, 1)
	go func() { done <- mode.Run(context.Background(), config) }()

	time.Sleep(50 * time.Millisecond)
	assert.True(t, mode.GetState().Running)

	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, mode.Stop(stopCtx))
	require.NoError(t, <-done)
	assert.False(t, mode.GetState().Running)
}

func TestConstantVUsMode_DefaultVUs(t *testing.T) {
	mode := NewConstantVUsMode()

	var vus sync.Map
	config := &ModeConfig{
		Duration:     30 * time.Millisecond,
		GracefulStop: time.Second,
		IterationFunc: func(ctx context.Context, vuID int, iteration int64) error {
			vus.Store(vuID, true)
			time.Sleep(5 * time.Millisecond)
			return nil
		},
	}

	require.NoError(t, mode.Run(context.Background(), config))

	count := 0
	vus.Range(func(_, _ any) bool {
		count++
		return true
	})
	assert.Equal(t, 1, count)
}

func TestConstantVUsMode_Callbacks(t *testing.T) {
	mode := NewConstantVUsMode()

	errBoom := errors.New("boom")
	var started, stopped, completed, failed atomic.Int32
	config := &ModeConfig{
		VUs:          2,
		Duration:     30 * time.Millisecond,
		GracefulStop: time.Second,
		IterationFunc: func(ctx context.Context, vuID int, iteration int64) error {
			time.Sleep(5 * time.Millisecond)
			if iteration == 0 {
				return errBoom
			}
			return nil
		},
		OnVUStart: func(int) { started.Add(1) },
		OnVUStop:  func(int) { stopped.Add(1) },
		OnIterationComplete: func(vuID int, iteration int64, d time.Duration, err error) {
			completed.Add(1)
			if errors.Is(err, errBoom) {
				failed.Add(1)
			}
			assert.Positive(t, d)
		},
	}

	require.NoError(t, mode.Run(context.Background(), config))
	assert.Equal(t, int32(2), started.Load())
	assert.Equal(t, int32(2), stopped.Load())
	assert.Equal(t, int32(2), failed.Load())
	assert.Equal(t, int64(completed.Load()), mode.GetState().CompletedIterations)
}
