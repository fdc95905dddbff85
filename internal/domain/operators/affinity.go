package operators

import (
	"context"
	"fmt"
	"strconv"

	"github.com/okian/revroute/internal/domain/features"
	"github.com/okian/revroute/internal/domain/model"
)

// Row is the per-candidate input of an affinity model.
type Row struct {
	Candidate  model.Target
	Affinity   float64
	Recency    float64
	Neighbors  float64
	Boundaries float64
}

// Model is a fitted affinity model. How it was fitted is not our concern;
// it only has to turn a row into a non-negative score.
type Model interface {
	Name() string
	Predict(row Row) float64
}

// LinearModel is the default model: a fixed linear blend of the pairwise
// features.
type LinearModel struct {
	AffinityWeight float64
	RecencyWeight  float64
	NeighborWeight float64
}

// DefaultModel returns the shipped linear blend.
func DefaultModel() LinearModel {
	return LinearModel{AffinityWeight: 0.6, RecencyWeight: 0.15, NeighborWeight: 0.25}
}

// Name implements Model.
func (m LinearModel) Name() string {
	return fmt.Sprintf("linear(a=%g,r=%g,n=%g)", m.AffinityWeight, m.RecencyWeight, m.NeighborWeight)
}

// Predict implements Model.
func (m LinearModel) Predict(row Row) float64 {
	return m.AffinityWeight*row.Affinity + m.RecencyWeight*row.Recency + m.NeighborWeight*row.Neighbors
}

// AffinityModel scores candidates from historical boundary ownership
// through a Model.
type AffinityModel struct {
	model Model
}

// NewAffinityModel wraps m; a nil m selects DefaultModel.
func NewAffinityModel(m Model) *AffinityModel {
	if m == nil {
		m = DefaultModel()
	}
	return &AffinityModel{model: m}
}

// Requires implements Operator.
func (*AffinityModel) Requires() []features.Key {
	return []features.Key{
		features.PRBoundaryCount,
		features.PairBoundaryAffinity,
		features.PairRecency,
		features.SimNeighborReviewers,
	}
}

// Score implements Operator. Candidates the model scores at zero are left
// out.
func (a *AffinityModel) Score(ctx context.Context, _ model.ScoringContext, candidates []model.Target, lookup features.Lookup) ([]Result, error) {
	vals := make(map[features.Key]features.Value, 4)
	for _, k := range a.Requires() {
		v, err := lookup.Lookup(ctx, k)
		if err != nil {
			return nil, err
		}
		vals[k] = v
	}
	boundaries := vals[features.PRBoundaryCount].Scalar

	var out []Result
	for _, c := range candidates {
		key := c.Key()
		row := Row{
			Candidate:  c,
			Affinity:   vals[features.PairBoundaryAffinity].Vector[key],
			Recency:    vals[features.PairRecency].Vector[key],
			Neighbors:  vals[features.SimNeighborReviewers].Vector[key],
			Boundaries: boundaries,
		}
		score := a.model.Predict(row)
		if score <= 0 {
			continue
		}
		out = append(out, Result{
			Candidate: c,
			Score:     score,
			Evidence:  evidence(row),
		})
	}
	return out, nil
}

func evidence(row Row) []string {
	var ev []string
	add := func(k features.Key, v float64) {
		if v != 0 {
			ev = append(ev, "feature:"+string(k)+"="+strconv.FormatFloat(v, 'f', 4, 64))
		}
	}
	add(features.PairBoundaryAffinity, row.Affinity)
	add(features.PairRecency, row.Recency)
	add(features.SimNeighborReviewers, row.Neighbors)
	return ev
}
