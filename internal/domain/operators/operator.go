// Package operators defines the scoring operator contract, the per-task
// operator registry and the built-in operators.
package operators

import (
	"context"
	"fmt"
	"math"

	"github.com/okian/revroute/internal/domain/features"
	"github.com/okian/revroute/internal/domain/model"
)

// ID names an operator within a task.
type ID string

// TaskID names a routing task, e.g. "reviewer_routing".
type TaskID string

// TaskReviewerRouting is the default task.
const TaskReviewerRouting TaskID = "reviewer_routing"

// Built-in operator ids.
const (
	MentionHeuristicID ID = "mention_heuristic"
	AffinityModelID    ID = "affinity_model"
	LLMRerankID        ID = "llm_rerank"
)

// Result scores one candidate.
type Result struct {
	Candidate model.Target `json:"candidate"`
	Score     float64      `json:"score"`
	Evidence  []string     `json:"evidence,omitempty"`
}

// Operator scores candidates for one scoring context. Operators read
// features only through lookup and must not keep state between calls.
type Operator interface {
	// Requires lists the features the operator reads. The router resolves
	// them before Score is invoked.
	Requires() []features.Key
	Score(ctx context.Context, sc model.ScoringContext, candidates []model.Target, lookup features.Lookup) ([]Result, error)
}

// BestEffort is implemented by operators whose failures may be skipped
// instead of aborting the decision.
type BestEffort interface {
	BestEffort() bool
}

// IsBestEffort reports whether op opted into best-effort execution.
func IsBestEffort(op Operator) bool {
	be, ok := op.(BestEffort)
	return ok && be.BestEffort()
}

// Variant is implemented by operators that can be rebound to another model
// or prompt version. Empty arguments keep the current value.
type Variant interface {
	Variant(model, promptVersion string) Operator
}

// EvidenceRequired is implemented by operators whose results must cite
// provenance.
type EvidenceRequired interface {
	RequiresEvidence() bool
}

// CheckResults enforces the output contract: finite scores, one result per
// candidate at most, only known candidates, and evidence where op requires
// it.
func CheckResults(op Operator, candidates []model.Target, results []Result) error {
	known := make(map[model.Target]struct{}, len(candidates))
	for _, c := range candidates {
		known[c] = struct{}{}
	}
	needEvidence := false
	if er, ok := op.(EvidenceRequired); ok {
		needEvidence = er.RequiresEvidence()
	}
	seen := make(map[model.Target]struct{}, len(results))
	for _, r := range results {
		if _, ok := known[r.Candidate]; !ok {
			return fmt.Errorf("%w: %s is not a candidate", ErrInvalidOutput, r.Candidate)
		}
		if _, dup := seen[r.Candidate]; dup {
			return fmt.Errorf("%w: %s scored twice", ErrInvalidOutput, r.Candidate)
		}
		seen[r.Candidate] = struct{}{}
		if math.IsNaN(r.Score) || math.IsInf(r.Score, 0) {
			return fmt.Errorf("%w: non-finite score for %s", ErrInvalidOutput, r.Candidate)
		}
		if needEvidence && len(r.Evidence) == 0 {
			return fmt.Errorf("%w: %s has no evidence", ErrInvalidOutput, r.Candidate)
		}
	}
	return nil
}
