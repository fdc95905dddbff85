package worker

import (
	"github.com/okian/revroute/pkg/logger"
)

type config struct {
	name   string
	logger logger.Logger
}

// Option applies a configuration option to a Worker or Pool.
type Option func(*config)

// WithName sets the worker name for identification and logging.
func WithName(name string) Option {
	return func(c *config) {
		if name != "" {
			c.name = name
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}
