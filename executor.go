package cloudaws

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// TaskExecutor runs submitted tasks asynchronously.
// Submit must not block on task execution.
type TaskExecutor interface {
	Submit(task func()) error
}

// WorkerPool is a bounded TaskExecutor.
// At most Size tasks run at the same time; further tasks wait for a free slot
// and start in no particular order.
type WorkerPool struct {
	size   int64
	sem    *semaphore.Weighted
	active atomic.Int64

	mu       sync.Mutex
	shutdown bool
	wg       sync.WaitGroup
}

var _ TaskExecutor = (*WorkerPool)(nil)

// NewWorkerPool creates a worker pool running at most size tasks concurrently
func NewWorkerPool(size int) *WorkerPool {
	if size < 1 {
		size = 1
	}
	return &WorkerPool{
		size: int64(size),
		sem:  semaphore.NewWeighted(int64(size)),
	}
}

// Submit schedules task and returns immediately
func (p *WorkerPool) Submit(task func()) error {
	p.mu.Lock()
	if p.shutdown {
		p.mu.Unlock()
		return ErrExecutorShutdown
	}
	p.wg.Add(1)
	p.mu.Unlock()

	go func() {
		defer p.wg.Done()
		// background context: a queued task always runs, even after Shutdown
		if err := p.sem.Acquire(context.Background(), 1); err != nil {
			return
		}
		defer p.sem.Release(1)
		p.active.Add(1)
		defer p.active.Add(-1)
		task()
	}()
	return nil
}

// Size returns the maximum number of concurrently running tasks
func (p *WorkerPool) Size() int {
	return int(p.size)
}

// Active returns the number of running tasks
func (p *WorkerPool) Active() int {
	return int(p.active.Load())
}

// Shutdown rejects new tasks and waits until every submitted task has finished
// or ctx is done.
func (p *WorkerPool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	p.shutdown = true
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsShutdown reports whether Shutdown was called
func (p *WorkerPool) IsShutdown() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.shutdown
}
