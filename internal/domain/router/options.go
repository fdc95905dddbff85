package router

import (
	"time"

	"github.com/okian/revroute/internal/domain/champion"
	"github.com/okian/revroute/internal/domain/features"
	"github.com/okian/revroute/internal/domain/operators"
	"github.com/okian/revroute/pkg/logger"
)

// Option applies a configuration option to the Router.
type Option func(*Router)

// WithChampions makes the router read the live profile from s.
func WithChampions(s champion.Store) Option {
	return func(r *Router) {
		r.champions = s
	}
}

// WithFeatureParams sets the tuning knobs passed to feature computations.
func WithFeatureParams(p features.Params) Option {
	return func(r *Router) {
		r.params = p
	}
}

// WithConcurrency bounds how many operators run at once.
func WithConcurrency(n int) Option {
	return func(r *Router) {
		if n > 0 {
			r.limit = n
		}
	}
}

// WithOperatorTimeout bounds each operator call. Zero disables the bound.
func WithOperatorTimeout(d time.Duration) Option {
	return func(r *Router) {
		if d >= 0 {
			r.timeout = d
		}
	}
}

// WithNormalization sets the policy used when no champion overrides it.
func WithNormalization(n Normalization) Option {
	return func(r *Router) {
		if n != "" {
			r.norm = n
		}
	}
}

// WithWeights sets fallback weights for the default profile.
func WithWeights(w map[operators.ID]float64) Option {
	return func(r *Router) {
		r.weights = w
	}
}

// WithLogger sets the router logger.
func WithLogger(l logger.Logger) Option {
	return func(r *Router) {
		if l != nil {
			r.log = l
		}
	}
}
