package pipeline

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/raildelta/raildelta/pkg/config"
	"github.com/raildelta/raildelta/pkg/errors"
)

func newTestPool(t *testing.T) *WorkerPool {
	t.Helper()
	pool, err := AcquirePool(config.RuntimeConfig{Workers: 4, MemoryPerWorkerMB: 16}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(pool.Release)
	return pool
}

func TestAcquirePoolRejectsNonPositiveWorkers(t *testing.T) {
	_, err := AcquirePool(config.RuntimeConfig{Workers: 0}, zap.NewNop())
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestPoolMapRunsAllTasks(t *testing.T) {
	pool := newTestPool(t)

	var mu sync.Mutex
	seen := make(map[int]bool)
	err := pool.Map(context.Background(), 100, func(i int) error {
		mu.Lock()
		seen[i] = true
		mu.Unlock()
		return nil
	})
	require.NoError(t, err)
	assert.Len(t, seen, 100)
}

func TestPoolMapReturnsFirstError(t *testing.T) {
	pool := newTestPool(t)

	var failures int32
	err := pool.Map(context.Background(), 50, func(i int) error {
		if i%10 == 3 {
			atomic.AddInt32(&failures, 1)
			return fmt.Errorf("task %d failed", i)
		}
		return nil
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed")
	assert.GreaterOrEqual(t, atomic.LoadInt32(&failures), int32(1))
}

func TestPoolMapHonorsContextCancellation(t *testing.T) {
	pool := newTestPool(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := pool.Map(ctx, 10, func(i int) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPoolReleaseIsIdempotent(t *testing.T) {
	pool, err := AcquirePool(config.RuntimeConfig{Workers: 2, MemoryPerWorkerMB: 16}, zap.NewNop())
	require.NoError(t, err)

	pool.Release()
	pool.Release()

	err = pool.Map(context.Background(), 1, func(i int) error { return nil })
	require.Error(t, err)
}
