package worker

import (
	"context"
	"fmt"

	"github.com/okian/revroute/internal/adapters/mq/queue"
	"github.com/okian/revroute/pkg/logger"
)

// Batch runs a fixed number of indexed jobs on a fresh pool and waits for
// all of them. Job errors are logged by the workers and do not stop the
// batch.
type Batch struct {
	Workers int
	Logger  logger.Logger
}

// Execute runs job(ctx, i) for every i in [0, n).
func (b Batch) Execute(ctx context.Context, n int, job func(ctx context.Context, i int) error) error {
	if n <= 0 {
		return nil
	}
	q := queue.NewInMemoryQueue[int](queue.WithCapacity(n))
	for i := 0; i < n; i++ {
		if !q.Enqueue(ctx, i) {
			_ = q.Close()
			if err := ctx.Err(); err != nil {
				return err
			}
			return fmt.Errorf("enqueue job %d of %d", i, n)
		}
	}
	if err := q.Close(); err != nil {
		return err
	}

	workers := b.Workers
	if workers > n {
		workers = n
	}
	var opts []Option
	if b.Logger != nil {
		opts = append(opts, WithLogger(b.Logger))
	}
	p := NewPool[int](workers, q, HandlerFunc[int](job), opts...)
	p.Start(ctx)
	p.Wait()
	return ctx.Err()
}
