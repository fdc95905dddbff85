// Package queue provides the bounded in-memory job queue feeding the
// evaluation worker pool.
package queue

import (
	"context"
	"sync"

	"github.com/okian/revroute/pkg/metrics"
)

// Default queue configuration constants.
const (
	defaultQueueCapacity = 10000
	defaultBufferSize    = 10000
)

// Queue provides non-blocking enqueue and channel-based dequeue semantics.
type Queue[T any] interface {
	// Enqueue adds a job to the queue.
	// Returns false if the queue is full or closed and the job was not enqueued.
	Enqueue(ctx context.Context, job T) bool

	// Dequeue returns a channel that will receive jobs as they become available.
	// The channel is closed once the queue is closed and drained, or ctx ends.
	Dequeue(ctx context.Context) <-chan T

	// Len returns the current number of queued jobs.
	Len(ctx context.Context) int

	// Close stops accepting jobs. Queued jobs are still delivered.
	Close() error

	// IsClosed returns true if the queue has been closed.
	IsClosed() bool
}

// InMemoryQueue implements Queue using a buffered channel.
type InMemoryQueue[T any] struct {
	jobs   chan T
	cfg    config
	mu     sync.RWMutex
	closed bool
}

var _ Queue[int] = (*InMemoryQueue[int])(nil)

// NewInMemoryQueue creates a new in-memory queue with configuration options.
func NewInMemoryQueue[T any](opts ...Option) *InMemoryQueue[T] {
	cfg := config{capacity: defaultQueueCapacity, bufferSize: defaultBufferSize}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.bufferSize < cfg.capacity {
		cfg.bufferSize = cfg.capacity
	}

	q := &InMemoryQueue[T]{jobs: make(chan T, cfg.bufferSize), cfg: cfg}
	metrics.UpdateQueueCapacity(cfg.capacity)
	metrics.UpdateQueueSize(0)
	return q
}

// Enqueue adds a job to the queue.
func (q *InMemoryQueue[T]) Enqueue(ctx context.Context, job T) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed || len(q.jobs) >= q.cfg.capacity {
		metrics.RecordQueueEnqueueError()
		return false
	}

	select {
	case q.jobs <- job:
		metrics.RecordQueueEnqueue()
		metrics.UpdateQueueSize(len(q.jobs))
		return true
	case <-ctx.Done():
		metrics.RecordQueueEnqueueError()
		return false
	default:
		metrics.RecordQueueEnqueueError()
		return false
	}
}

// Dequeue returns a channel that will receive jobs as they become available.
func (q *InMemoryQueue[T]) Dequeue(ctx context.Context) <-chan T {
	out := make(chan T)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case job, ok := <-q.jobs:
				if !ok {
					return
				}
				select {
				case out <- job:
					metrics.RecordQueueDequeue()
					metrics.UpdateQueueSize(len(q.jobs))
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

// Len returns the current number of queued jobs.
func (q *InMemoryQueue[T]) Len(_ context.Context) int {
	size := len(q.jobs)
	metrics.UpdateQueueSize(size)
	return size
}

// Close stops accepting jobs and lets consumers drain the rest.
func (q *InMemoryQueue[T]) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	close(q.jobs)
	q.closed = true
	return nil
}

// IsClosed returns true if the queue has been closed.
func (q *InMemoryQueue[T]) IsClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}
