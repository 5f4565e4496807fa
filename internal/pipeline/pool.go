package pipeline

import (
	"context"
	"sync"

	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"

	"github.com/raildelta/raildelta/pkg/config"
	"github.com/raildelta/raildelta/pkg/errors"
)

// WorkerPool executes per-partition tasks over a fixed number of workers.
// It is acquired once at run start and must be released on every exit
// path; stages share it sequentially, so no partition is ever assigned to
// more than one worker at a time.
type WorkerPool struct {
	workers int
	logger  *zap.Logger

	mu       sync.Mutex
	released bool
}

// AcquirePool acquires the pool for a run. The configured per-worker
// memory budget is checked against available system memory; a shortfall
// is logged, not fatal, since block sizing still bounds peak usage.
func AcquirePool(cfg config.RuntimeConfig, logger *zap.Logger) (*WorkerPool, error) {
	if cfg.Workers <= 0 {
		return nil, errors.Newf(errors.ErrorTypeConfig, "worker count must be positive, got %d", cfg.Workers)
	}

	required := uint64(cfg.Workers) * uint64(cfg.MemoryPerWorkerMB) << 20
	if vm, err := mem.VirtualMemory(); err != nil {
		logger.Warn("could not determine available memory", zap.Error(err))
	} else if vm.Available < required {
		logger.Warn("available memory below configured worker budget",
			zap.Uint64("available_bytes", vm.Available),
			zap.Uint64("requested_bytes", required),
			zap.Int("workers", cfg.Workers),
			zap.Int("memory_per_worker_mb", cfg.MemoryPerWorkerMB))
	}

	logger.Info("worker pool acquired",
		zap.Int("workers", cfg.Workers),
		zap.Int("memory_per_worker_mb", cfg.MemoryPerWorkerMB))

	return &WorkerPool{workers: cfg.Workers, logger: logger}, nil
}

// Release releases the pool. Safe to call more than once.
func (p *WorkerPool) Release() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.released {
		return
	}
	p.released = true
	p.logger.Info("worker pool released")
}

// Map runs fn for every index in [0, n) across the pool's workers and
// blocks until all tasks finish. The first task error cancels the
// remaining tasks and is returned; this forms the materialization barrier
// between stages.
func (p *WorkerPool) Map(ctx context.Context, n int, fn func(i int) error) error {
	p.mu.Lock()
	if p.released {
		p.mu.Unlock()
		return errors.New(errors.ErrorTypeInternal, "worker pool already released")
	}
	p.mu.Unlock()

	if n == 0 {
		return ctx.Err()
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	workers := p.workers
	if workers > n {
		workers = n
	}

	tasks := make(chan int)
	var wg sync.WaitGroup
	var once sync.Once
	var firstErr error

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range tasks {
				if ctx.Err() != nil {
					return
				}
				if err := fn(idx); err != nil {
					once.Do(func() {
						firstErr = err
						cancel()
					})
					return
				}
			}
		}()
	}

dispatch:
	for i := 0; i < n; i++ {
		select {
		case tasks <- i:
		case <-ctx.Done():
			break dispatch
		}
	}
	close(tasks)
	wg.Wait()

	if firstErr != nil {
		return firstErr
	}
	return ctx.Err()
}
