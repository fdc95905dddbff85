package eval

import "errors"

// Sentinel kinds for evaluation errors.
var (
	ErrInvalidConfig    = errors.New("invalid run config")
	ErrRunNotFound      = errors.New("run not found")
	ErrContextNotFound  = errors.New("context not found in run")
	ErrLeakageRisk      = errors.New("leakage risk")
	ErrNoReranker       = errors.New("backfill needs an llm reranker")
	ErrUnknownCandidate = errors.New("candidate not registered")
)
