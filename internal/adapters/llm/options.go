package llm

import (
	"time"

	"github.com/okian/revroute/pkg/logger"
)

// Option applies a configuration option to the Client.
type Option func(*Client)

// WithBaseURL points the client at an OpenAI-compatible endpoint.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		c.baseURL = u
	}
}

// WithMaxRetries sets how many times a failed call is retried.
func WithMaxRetries(n int) Option {
	return func(c *Client) {
		if n >= 0 {
			c.retries = uint(n)
		}
	}
}

// WithRetryDelay sets the initial and maximum backoff.
func WithRetryDelay(initial, maxDelay time.Duration) Option {
	return func(c *Client) {
		if initial > 0 {
			c.delay = initial
		}
		if maxDelay >= initial {
			c.maxDelay = maxDelay
		}
	}
}

// WithSystemPrompt sets the system message sent ahead of every prompt.
func WithSystemPrompt(s string) Option {
	return func(c *Client) {
		c.system = s
	}
}

// WithLogger sets the client logger.
func WithLogger(l logger.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}
