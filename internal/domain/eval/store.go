package eval

import "context"

// RunStore persists runs by id. Put overwrites.
type RunStore interface {
	Put(ctx context.Context, run Run) error
	// Get returns ErrRunNotFound for unknown ids.
	Get(ctx context.Context, id string) (Run, error)
	// List returns every stored run in no particular order.
	List(ctx context.Context) ([]Run, error)
	Close() error
}
