package semcache

import (
	"time"

	"github.com/okian/revroute/pkg/logger"
)

// Option configures a Cache.
type Option func(*Cache)

// WithName sets the cache label used in metrics.
func WithName(name string) Option {
	return func(c *Cache) {
		if name != "" {
			c.name = name
		}
	}
}

// WithClock overrides the clock used for stored_at stamps.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

// WithLogger sets the cache logger.
func WithLogger(l logger.Logger) Option {
	return func(c *Cache) {
		if l != nil {
			c.log = l
		}
	}
}
