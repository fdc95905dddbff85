package repository

import "github.com/okian/revroute/pkg/logger"

type config struct {
	prefix string
	owned  bool
	log    logger.Logger
}

// Option applies a configuration option to a run store.
type Option func(*config)

// WithPrefix sets the key prefix badger stores use. Defaults to "run/".
func WithPrefix(p string) Option {
	return func(c *config) {
		if p != "" {
			c.prefix = p
		}
	}
}

// WithOwnedDB makes Close close the badger handle as well.
func WithOwnedDB() Option {
	return func(c *config) {
		c.owned = true
	}
}

// WithLogger sets the store logger.
func WithLogger(l logger.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.log = l
		}
	}
}

func apply(opts []Option) config {
	c := config{prefix: "run/", log: logger.For("repository")}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}
