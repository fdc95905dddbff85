package eval

import (
	"time"

	"github.com/okian/revroute/internal/domain/champion"
	"github.com/okian/revroute/internal/domain/operators"
	"github.com/okian/revroute/pkg/logger"
)

// Option applies a configuration option to the Harness.
type Option func(*Harness)

// WithChampions lets runs name registered candidates and default to the
// live champion.
func WithChampions(s champion.Store) Option {
	return func(h *Harness) {
		h.champions = s
	}
}

// WithClock overrides the harness's notion of now.
func WithClock(now func() time.Time) Option {
	return func(h *Harness) {
		if now != nil {
			h.now = now
		}
	}
}

// WithHorizonMargin sets the default safety margin for CheckHorizon.
func WithHorizonMargin(d time.Duration) Option {
	return func(h *Harness) {
		if d > 0 {
			h.margin = d
		}
	}
}

// WithReranker enables Backfill.
func WithReranker(r *operators.LLMRerank) Option {
	return func(h *Harness) {
		h.rerank = r
	}
}

// WithLogger sets the harness logger.
func WithLogger(l logger.Logger) Option {
	return func(h *Harness) {
		if l != nil {
			h.log = l
		}
	}
}
