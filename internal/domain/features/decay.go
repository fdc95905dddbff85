package features

import (
	"math"
	"path"
	"strings"
	"time"
)

// BoundaryDepth is how many leading directories of a path form its
// ownership boundary.
const BoundaryDepth = 2

// DecayWeight is the exponential half-life weight of something ageDays
// old. Negative ages (the future) and non-positive half-lives weigh 0.
func DecayWeight(ageDays, halfLifeDays float64) float64 {
	if ageDays < 0 || halfLifeDays <= 0 {
		return 0
	}
	return math.Pow(0.5, ageDays/halfLifeDays)
}

// AgeDays returns how many days before cutoff at happened.
func AgeDays(cutoff, at time.Time) float64 {
	return cutoff.Sub(at).Hours() / 24
}

// Boundary maps a file path to its ownership boundary: the leading
// directories up to BoundaryDepth. Files at the root map to ".".
func Boundary(p string) string {
	p = strings.TrimPrefix(path.Clean("/"+p), "/")
	dir := path.Dir(p)
	if dir == "." || dir == "/" || dir == "" {
		return "."
	}
	parts := strings.Split(dir, "/")
	if len(parts) > BoundaryDepth {
		parts = parts[:BoundaryDepth]
	}
	return strings.Join(parts, "/")
}

// Jaccard returns |a∩b| / |a∪b|, or 0 when both are empty.
func Jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	inter := 0
	for k := range a {
		if _, ok := b[k]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}
