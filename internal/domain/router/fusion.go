package router

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/okian/revroute/internal/domain/model"
	"github.com/okian/revroute/internal/domain/operators"
)

// Normalization rescales one operator's scores before they are weighted.
type Normalization string

// Normalization policies. MinMax is the default.
const (
	NormMinMax Normalization = "minmax"
	NormMax    Normalization = "max"
	NormZScore Normalization = "zscore"
	NormRank   Normalization = "rank"
)

// ParseNormalization validates s. The empty string selects NormMinMax.
func ParseNormalization(s string) (Normalization, error) {
	switch n := Normalization(strings.ToLower(strings.TrimSpace(s))); n {
	case "":
		return NormMinMax, nil
	case NormMinMax, NormMax, NormZScore, NormRank:
		return n, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownNormalization, s)
	}
}

// Normalize maps each scored candidate of one operator onto a common
// scale. Candidates the operator did not score are absent from the result
// and contribute zero.
func (n Normalization) Normalize(results []operators.Result) map[model.Target]float64 {
	out := make(map[model.Target]float64, len(results))
	if len(results) == 0 {
		return out
	}
	lo, hi, sum := math.Inf(1), math.Inf(-1), 0.0
	for _, r := range results {
		lo = math.Min(lo, r.Score)
		hi = math.Max(hi, r.Score)
		sum += r.Score
	}

	switch n {
	case NormMax:
		for _, r := range results {
			if hi > 0 {
				out[r.Candidate] = r.Score / hi
			} else {
				out[r.Candidate] = 0
			}
		}
	case NormZScore:
		mean := sum / float64(len(results))
		variance := 0.0
		for _, r := range results {
			variance += (r.Score - mean) * (r.Score - mean)
		}
		sd := math.Sqrt(variance / float64(len(results)))
		for _, r := range results {
			if sd == 0 {
				out[r.Candidate] = 0
			} else {
				out[r.Candidate] = (r.Score - mean) / sd
			}
		}
	case NormRank:
		ranked := append([]operators.Result(nil), results...)
		sort.SliceStable(ranked, func(i, j int) bool {
			if ranked[i].Score != ranked[j].Score {
				return ranked[i].Score > ranked[j].Score
			}
			return model.Less(ranked[i].Candidate, ranked[j].Candidate)
		})
		total := float64(len(ranked))
		for i, r := range ranked {
			out[r.Candidate] = (total - float64(i)) / total
		}
	default:
		span := hi - lo
		for _, r := range results {
			switch {
			case span > 0:
				out[r.Candidate] = (r.Score - lo) / span
			case r.Score > 0:
				out[r.Candidate] = 1
			default:
				out[r.Candidate] = 0
			}
		}
	}
	return out
}
