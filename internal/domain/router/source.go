package router

import (
	"context"
	"fmt"
	"strings"

	"github.com/okian/revroute/internal/domain/features"
	"github.com/okian/revroute/internal/domain/model"
)

// CandidateSource produces the candidate set for a context. Sources read
// only through lookup, so they see nothing past the cutoff.
type CandidateSource interface {
	Name() string
	Candidates(ctx context.Context, lookup features.Lookup) ([]model.Target, error)
}

// Source names accepted by ParseSource.
const (
	SourceMentions = "mentions"
	SourceHistory  = "history"
	SourceUnion    = "union"
)

// ParseSource resolves a named source. The empty name selects union.
func ParseSource(name string) (CandidateSource, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case SourceMentions:
		return Mentions(), nil
	case SourceHistory:
		return History(), nil
	case SourceUnion, "":
		return Union(Mentions(), History()), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownSource, name)
	}
}

type featureSource struct {
	name string
	keys []features.Key
}

// Mentions yields the users and teams mentioned on the subject.
func Mentions() CandidateSource {
	return featureSource{name: SourceMentions, keys: []features.Key{features.PRMentions}}
}

// History yields past reviewers of the touched boundaries and of similar
// pull requests.
func History() CandidateSource {
	return featureSource{name: SourceHistory, keys: []features.Key{features.PairBoundaryAffinity, features.SimNeighborReviewers}}
}

func (s featureSource) Name() string { return s.name }

func (s featureSource) Candidates(ctx context.Context, lookup features.Lookup) ([]model.Target, error) {
	var out []model.Target
	for _, k := range s.keys {
		v, err := lookup.Lookup(ctx, k)
		if err != nil {
			return nil, err
		}
		ts, err := v.Targets()
		if err != nil {
			return nil, &features.Error{Key: k, Err: err}
		}
		out = append(out, ts...)
	}
	return model.UniqueTargets(out), nil
}

type unionSource []CandidateSource

// Union merges sources, keeping first-seen order.
func Union(sources ...CandidateSource) CandidateSource { return unionSource(sources) }

func (u unionSource) Name() string {
	names := make([]string, len(u))
	for i, s := range u {
		names[i] = s.Name()
	}
	return SourceUnion + "(" + strings.Join(names, ",") + ")"
}

func (u unionSource) Candidates(ctx context.Context, lookup features.Lookup) ([]model.Target, error) {
	var out []model.Target
	for _, s := range u {
		ts, err := s.Candidates(ctx, lookup)
		if err != nil {
			return nil, err
		}
		out = append(out, ts...)
	}
	return model.UniqueTargets(out), nil
}

type staticSource []model.Target

// Static is a fixed candidate list supplied by the caller.
func Static(targets ...model.Target) CandidateSource { return staticSource(targets) }

func (staticSource) Name() string { return "static" }

func (s staticSource) Candidates(context.Context, features.Lookup) ([]model.Target, error) {
	return model.UniqueTargets(s), nil
}
