package features

import (
	"fmt"
	"sort"
	"sync"
)

// Registry maps feature keys to their definitions. It is safe for
// concurrent use; registration normally happens once at startup.
type Registry struct {
	mu   sync.RWMutex
	defs map[Key]Definition
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{defs: make(map[Key]Definition)}
}

// Register adds def. Keys must be namespaced and unique.
func (r *Registry) Register(def Definition) error {
	if err := def.Key.validate(); err != nil {
		return err
	}
	switch def.Kind {
	case KindScalar, KindSet, KindVector:
	default:
		return fmt.Errorf("%w: %s has unknown kind %q", ErrInvalidFeature, def.Key, def.Kind)
	}
	if def.Compute == nil {
		return fmt.Errorf("%w: %s has no computation", ErrInvalidFeature, def.Key)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.defs[def.Key]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateFeature, def.Key)
	}
	r.defs[def.Key] = def
	return nil
}

// Resolve returns the definition registered under key.
func (r *Registry) Resolve(key Key) (Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[key]
	if !ok {
		return Definition{}, fmt.Errorf("%w: %s", ErrUnknownFeature, key)
	}
	return def, nil
}

// Keys lists registered keys in sorted order.
func (r *Registry) Keys() []Key {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]Key, 0, len(r.defs))
	for k := range r.defs {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
