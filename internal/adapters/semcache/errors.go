package semcache

import "errors"

// Sentinel kinds for cache errors.
var (
	ErrBackend      = errors.New("cache backend failure")
	ErrCorruptEntry = errors.New("corrupt cache entry")
	ErrKeyCollision = errors.New("cache key collision")
)
