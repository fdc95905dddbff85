package features

import (
	"context"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/okian/revroute/internal/domain/history"
	"github.com/okian/revroute/internal/domain/model"
	"github.com/okian/revroute/pkg/metrics"
)

// Resolver computes feature values for a single scoring context. Results
// are memoized, and concurrent lookups of the same key share one
// computation.
type Resolver struct {
	reg   *Registry
	input Input

	group singleflight.Group
	mu    sync.RWMutex
	memo  map[Key]Value
}

var _ Lookup = (*Resolver)(nil)

// NewResolver binds reg to one context and its window.
func NewResolver(reg *Registry, sc model.ScoringContext, w *history.Window, params Params) *Resolver {
	return &Resolver{
		reg:   reg,
		input: Input{Context: sc, Window: w, Params: params, idx: &index{}},
		memo:  make(map[Key]Value),
	}
}

// Context returns the scoring context the resolver is bound to.
func (r *Resolver) Context() model.ScoringContext { return r.input.Context }

// Window returns the history window the resolver reads.
func (r *Resolver) Window() *history.Window { return r.input.Window }

// Lookup implements Lookup. Failures are returned as *Error.
func (r *Resolver) Lookup(ctx context.Context, key Key) (Value, error) {
	r.mu.RLock()
	v, ok := r.memo[key]
	r.mu.RUnlock()
	if ok {
		metrics.RecordFeatureDeduplicated()
		return v, nil
	}

	res, err, shared := r.group.Do(string(key), func() (any, error) {
		def, err := r.reg.Resolve(key)
		if err != nil {
			return Value{}, err
		}
		v, err := def.Compute(ctx, r.input)
		if err == nil {
			err = v.Check(def.Kind)
		}
		metrics.RecordFeatureResolution(string(key), err == nil)
		if err != nil {
			return Value{}, err
		}
		r.mu.Lock()
		r.memo[key] = v
		r.mu.Unlock()
		return v, nil
	})
	if shared {
		metrics.RecordFeatureDeduplicated()
	}
	if err != nil {
		return Value{}, &Error{Key: key, Err: err}
	}
	return res.(Value), nil
}

// Prefetch resolves keys concurrently and returns the first failure.
func (r *Resolver) Prefetch(ctx context.Context, keys []Key) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, k := range keys {
		g.Go(func() error {
			_, err := r.Lookup(gctx, k)
			return err
		})
	}
	return g.Wait()
}

// Trail returns a copy of every value resolved so far, keyed by feature.
func (r *Resolver) Trail() map[Key]Value {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[Key]Value, len(r.memo))
	for k, v := range r.memo {
		out[k] = v
	}
	return out
}

// ResolvedKeys lists the resolved keys in sorted order.
func (r *Resolver) ResolvedKeys() []Key {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]Key, 0, len(r.memo))
	for k := range r.memo {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
