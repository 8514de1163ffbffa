package gateway

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"
)

// dispatchPool runs inbound-message jobs on a fixed set of workers behind a
// bounded queue. Panics in a job are logged, never allowed to take down the
// service, and a full queue sheds load instead of blocking the socket
// receive loop.
type dispatchPool struct {
	log     *slog.Logger
	workers int
	queue   chan func()
	wg      sync.WaitGroup
}

func newDispatchPool(workers, queueSize int, log *slog.Logger) *dispatchPool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = workers
	}
	if log == nil {
		log = slog.Default()
	}

	return &dispatchPool{
		log:     log.With("component", "gateway.dispatch"),
		workers: workers,
		queue:   make(chan func(), queueSize),
	}
}

// Start launches the workers; they drain until ctx is cancelled.
func (p *dispatchPool) Start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case job := <-p.queue:
					p.run(job)
				}
			}
		}()
	}
}

// Submit enqueues one job. It never blocks; false means the queue was full
// and the job was dropped.
func (p *dispatchPool) Submit(job func()) bool {
	select {
	case p.queue <- job:
		return true
	default:
		p.log.Warn("Dispatch queue full, dropping job")
		return false
	}
}

// Wait blocks until all workers have exited after cancellation.
func (p *dispatchPool) Wait() {
	p.wg.Wait()
}

func (p *dispatchPool) run(job func()) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("Dispatch job panicked", "panic", r, "stack", string(debug.Stack()))
		}
	}()

	job()
}
