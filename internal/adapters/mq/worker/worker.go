// Package worker runs queued jobs on a fixed pool of goroutines.
package worker

import (
	"context"
	"fmt"
	"runtime"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/okian/revroute/pkg/logger"
	"github.com/okian/revroute/pkg/metrics"
)

// Default worker configuration constants.
const poolShutdownTimeout = 30 * time.Second

// Handler processes one job. Errors are logged and counted; they never
// stop the worker.
type Handler[T any] interface {
	Handle(ctx context.Context, job T) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc[T any] func(ctx context.Context, job T) error

// Handle implements Handler.
func (f HandlerFunc[T]) Handle(ctx context.Context, job T) error { return f(ctx, job) }

// Queue defines how workers receive jobs.
type Queue[T any] interface {
	Dequeue(ctx context.Context) <-chan T
}

// Worker consumes jobs until its queue drains, its context ends or it is
// shut down.
type Worker[T any] struct {
	queue   Queue[T]
	handler Handler[T]
	name    string
	active  *atomic.Int64

	shutdown chan struct{}
	done     chan struct{}

	logger logger.Logger
}

// NewWorker creates a new worker with configuration options.
func NewWorker[T any](queue Queue[T], handler Handler[T], opts ...Option) *Worker[T] {
	cfg := config{name: "worker", logger: logger.For("worker")}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Worker[T]{
		queue:    queue,
		handler:  handler,
		name:     cfg.name,
		active:   &atomic.Int64{},
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
		logger:   cfg.logger.Named(cfg.name),
	}
}

// Run starts the worker loop. It returns when the queue is closed and
// drained, ctx ends, or Shutdown is called.
func (w *Worker[T]) Run(ctx context.Context) {
	defer close(w.done)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobs := w.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.shutdown:
			return
		case job, ok := <-jobs:
			if !ok {
				return
			}
			w.process(ctx, job)
		}
	}
}

// Shutdown stops the worker after its current job.
func (w *Worker[T]) Shutdown(ctx context.Context) error {
	select {
	case <-w.shutdown:
	default:
		close(w.shutdown)
	}
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

// Done is closed once Run has returned.
func (w *Worker[T]) Done() <-chan struct{} { return w.done }

func (w *Worker[T]) process(ctx context.Context, job T) {
	metrics.UpdateWorkerActiveCount(int(w.active.Add(1)))
	start := time.Now()
	defer func() {
		metrics.RecordWorkerProcessingLatency(time.Since(start))
		metrics.UpdateWorkerActiveCount(int(w.active.Add(-1)))
	}()

	if err := w.handler.Handle(ctx, job); err != nil {
		metrics.RecordWorkerError()
		w.logger.Error(ctx, "job failed", logger.Error(err))
	}
}

// Pool manages multiple workers sharing one queue.
type Pool[T any] struct {
	workers []*Worker[T]
	queue   Queue[T]
	logger  logger.Logger
}

// NewPool creates a pool of workerCount workers. A count below one uses
// the number of CPUs.
func NewPool[T any](workerCount int, queue Queue[T], handler Handler[T], opts ...Option) *Pool[T] {
	if workerCount < 1 {
		workerCount = runtime.NumCPU()
	}
	cfg := config{logger: logger.For("worker-pool")}
	for _, opt := range opts {
		opt(&cfg)
	}

	active := &atomic.Int64{}
	p := &Pool[T]{
		workers: make([]*Worker[T], workerCount),
		queue:   queue,
		logger:  cfg.logger,
	}
	for i := 0; i < workerCount; i++ {
		w := NewWorker(queue, handler, WithName("worker-"+strconv.Itoa(i)), WithLogger(cfg.logger))
		w.active = active
		p.workers[i] = w
	}
	metrics.UpdateWorkerCount(workerCount)
	return p
}

// Size returns the number of workers.
func (p *Pool[T]) Size() int { return len(p.workers) }

// Start starts all workers in the pool.
func (p *Pool[T]) Start(ctx context.Context) {
	for _, w := range p.workers {
		go w.Run(ctx)
	}
}

// Wait blocks until every worker has returned.
func (p *Pool[T]) Wait() {
	for _, w := range p.workers {
		<-w.done
	}
}

// Shutdown closes the queue, if it can be closed, and waits for the
// workers to drain it.
func (p *Pool[T]) Shutdown(ctx context.Context) error {
	if closer, ok := p.queue.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			p.logger.Error(ctx, "error closing queue", logger.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, poolShutdownTimeout)
	defer cancel()

	for i, w := range p.workers {
		select {
		case <-w.done:
		case <-shutdownCtx.Done():
			p.logger.Warn(ctx, "worker shutdown timed out", logger.Int("worker_id", i))
			return fmt.Errorf("worker pool shutdown: %w", shutdownCtx.Err())
		}
	}
	return nil
}

// Stop aborts every worker after its current job.
func (p *Pool[T]) Stop(ctx context.Context) error {
	for _, w := range p.workers {
		if err := w.Shutdown(ctx); err != nil {
			return err
		}
	}
	return nil
}
