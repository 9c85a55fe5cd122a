package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// ErrPoolShutdown is returned when work is submitted to a shut-down pool.
var ErrPoolShutdown = errors.New("worker pool is shut down")

// PoolMetrics is a snapshot of the pool counters.
type PoolMetrics struct {
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Panics    int64 `json:"panics"`
}

// WorkerPool bounds concurrency with a fixed set of worker goroutines
// pulling from an unbuffered job channel, so Submit exerts backpressure
// once every worker is busy. Parallel steps and fan-out agent patterns
// run their branches through one.
type WorkerPool struct {
	jobs chan poolJob
	quit chan struct{}

	mu      sync.RWMutex
	closed  bool
	pending sync.WaitGroup // accepted, not yet finished jobs
	workers sync.WaitGroup

	active    atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	panics    atomic.Int64
}

type poolJob struct {
	ctx context.Context
	fn  func(ctx context.Context) error
}

// NewWorkerPool starts a pool with the given max concurrency.
func NewWorkerPool(size int) *WorkerPool {
	if size <= 0 {
		size = 1
	}
	p := &WorkerPool{
		jobs: make(chan poolJob),
		quit: make(chan struct{}),
	}
	p.workers.Add(size)
	for i := 0; i < size; i++ {
		go p.work()
	}
	return p
}

func (p *WorkerPool) work() {
	defer p.workers.Done()
	for job := range p.jobs {
		p.run(job)
	}
}

func (p *WorkerPool) run(job poolJob) {
	p.active.Add(1)
	defer func() {
		if r := recover(); r != nil {
			p.panics.Add(1)
			p.failed.Add(1)
		}
		p.active.Add(-1)
		p.pending.Done()
	}()

	if err := job.fn(job.ctx); err != nil {
		p.failed.Add(1)
	} else {
		p.completed.Add(1)
	}
}

// Submit hands work to a free worker. It blocks while every worker is busy
// and respects context cancellation while waiting. Returns ErrPoolShutdown
// after Shutdown.
func (p *WorkerPool) Submit(ctx context.Context, fn func(ctx context.Context) error) error {
	// pending.Add must happen under the lock: Shutdown flips closed before
	// it waits on pending, so every accepted job is accounted for.
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return ErrPoolShutdown
	}
	p.pending.Add(1)
	p.mu.RUnlock()

	select {
	case p.jobs <- poolJob{ctx: ctx, fn: fn}:
		return nil
	case <-ctx.Done():
		p.pending.Done()
		return ctx.Err()
	case <-p.quit:
		p.pending.Done()
		return ErrPoolShutdown
	}
}

// Wait blocks until all accepted work completes.
func (p *WorkerPool) Wait() {
	p.pending.Wait()
}

// Shutdown prevents new submissions, waits for accepted work to finish, and
// stops the workers. Idempotent.
func (p *WorkerPool) Shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.quit)
	p.mu.Unlock()

	// Every counted job has either been handed to a worker or bailed via
	// quit, so after this no sender can touch the jobs channel.
	p.pending.Wait()
	close(p.jobs)
	p.workers.Wait()
}

// Metrics returns a snapshot of the pool counters.
func (p *WorkerPool) Metrics() PoolMetrics {
	return PoolMetrics{
		Active:    p.active.Load(),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
		Panics:    p.panics.Load(),
	}
}
