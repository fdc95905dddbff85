package operators

import (
	"context"

	"github.com/okian/revroute/internal/domain/features"
	"github.com/okian/revroute/internal/domain/model"
)

// MentionHeuristic scores candidates that were @-mentioned on the entity.
// Earlier mentions score higher: the n-th distinct mention (from zero)
// scores 1/(n+1). Unmentioned candidates are left out.
type MentionHeuristic struct{}

// NewMentionHeuristic returns the operator.
func NewMentionHeuristic() *MentionHeuristic { return &MentionHeuristic{} }

// Requires implements Operator.
func (*MentionHeuristic) Requires() []features.Key {
	return []features.Key{features.PRMentions}
}

// Score implements Operator.
func (*MentionHeuristic) Score(ctx context.Context, _ model.ScoringContext, candidates []model.Target, lookup features.Lookup) ([]Result, error) {
	v, err := lookup.Lookup(ctx, features.PRMentions)
	if err != nil {
		return nil, err
	}
	mentioned, err := v.Targets()
	if err != nil {
		return nil, err
	}
	rank := make(map[model.Target]int, len(mentioned))
	for i, t := range mentioned {
		rank[t] = i
	}

	var out []Result
	for _, c := range candidates {
		pos, ok := rank[c]
		if !ok {
			continue
		}
		out = append(out, Result{
			Candidate: c,
			Score:     1 / float64(pos+1),
			Evidence:  []string{"mention:@" + c.Name},
		})
	}
	return out, nil
}
