// Package features holds the feature registry and the per-context resolver
// through which operators read cutoff-bounded signals.
package features

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/okian/revroute/internal/domain/history"
	"github.com/okian/revroute/internal/domain/model"
)

// Key is a namespaced feature name such as "pr.boundary.count".
type Key string

// Built-in feature keys.
const (
	PRMentions           Key = "pr.mentions"
	PRAuthor             Key = "pr.author"
	PRBoundarySet        Key = "pr.boundary.set"
	PRBoundaryCount      Key = "pr.boundary.count"
	PairBoundaryAffinity Key = "pair.boundary_affinity"
	PairRecency          Key = "pair.recency"
	SimNeighborReviewers Key = "sim.neighbor_reviewers"
)

// Namespaces accepted by the registry.
const (
	NamespacePR   = "pr"
	NamespacePair = "pair"
	NamespaceSim  = "sim"
)

// Namespace returns the part of k before the first dot.
func (k Key) Namespace() string {
	ns, _, _ := strings.Cut(string(k), ".")
	return ns
}

func (k Key) validate() error {
	ns, rest, ok := strings.Cut(string(k), ".")
	if !ok || rest == "" {
		return fmt.Errorf("%w: key %q is not namespaced", ErrInvalidFeature, k)
	}
	switch ns {
	case NamespacePR, NamespacePair, NamespaceSim:
		return nil
	default:
		return fmt.Errorf("%w: key %q has unknown namespace %q", ErrInvalidFeature, k, ns)
	}
}

// Kind is the value shape a feature produces.
type Kind string

// Value kinds.
const (
	KindScalar Kind = "scalar"
	KindSet    Kind = "set"
	KindVector Kind = "vector"
)

// Value is a resolved feature. Exactly one of the payload fields is
// meaningful, as selected by Kind. Vectors are keyed by model.Target.Key.
type Value struct {
	Kind   Kind               `json:"kind"`
	Scalar float64            `json:"scalar,omitempty"`
	Set    []string           `json:"set,omitempty"`
	Vector map[string]float64 `json:"vector,omitempty"`
}

// Scalar builds a scalar value.
func Scalar(v float64) Value { return Value{Kind: KindScalar, Scalar: v} }

// Set builds a set value. Items keep their order with repeats removed.
func Set(items ...string) Value {
	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, len(items))
	for _, it := range items {
		if _, ok := seen[it]; ok {
			continue
		}
		seen[it] = struct{}{}
		out = append(out, it)
	}
	return Value{Kind: KindSet, Set: out}
}

// Vector builds a vector value, dropping zero entries.
func Vector(m map[string]float64) Value {
	out := make(map[string]float64, len(m))
	for k, v := range m {
		if v != 0 {
			out[k] = v
		}
	}
	return Value{Kind: KindVector, Vector: out}
}

// Check validates v against the declared kind.
func (v Value) Check(kind Kind) error {
	if v.Kind != kind {
		return fmt.Errorf("%w: got %s value, want %s", ErrInvalidFeature, v.Kind, kind)
	}
	switch kind {
	case KindScalar:
		if math.IsNaN(v.Scalar) || math.IsInf(v.Scalar, 0) {
			return fmt.Errorf("%w: non-finite scalar", ErrInvalidFeature)
		}
	case KindVector:
		for k, x := range v.Vector {
			if math.IsNaN(x) || math.IsInf(x, 0) {
				return fmt.Errorf("%w: non-finite entry %q", ErrInvalidFeature, k)
			}
		}
	}
	return nil
}

// Targets parses a set or the keys of a vector as candidate targets, in a
// stable order (set order, or sorted keys for vectors).
func (v Value) Targets() ([]model.Target, error) {
	var raw []string
	switch v.Kind {
	case KindSet:
		raw = v.Set
	case KindVector:
		raw = make([]string, 0, len(v.Vector))
		for k := range v.Vector {
			raw = append(raw, k)
		}
		sort.Strings(raw)
	default:
		return nil, fmt.Errorf("%w: %s value holds no targets", ErrInvalidFeature, v.Kind)
	}
	out := make([]model.Target, 0, len(raw))
	for _, s := range raw {
		t, err := model.ParseTarget(s)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// Input is what a feature computation may read: the scoring context and
// the history window bounded by its cutoff.
type Input struct {
	Context model.ScoringContext
	Window  *history.Window
	Params  Params

	idx *index
}

// Params tunes the built-in features.
type Params struct {
	// HalfLifeDays is the decay half-life applied to historical activity.
	HalfLifeDays float64 `json:"half_life_days" yaml:"half_life_days"`
	// NeighborCount bounds the similar entities considered by sim.* features.
	NeighborCount int `json:"neighbor_count" yaml:"neighbor_count"`
}

// DefaultParams returns the parameters used when none are configured.
func DefaultParams() Params {
	return Params{HalfLifeDays: 30, NeighborCount: 10}
}

// Definition binds a key to its computation. Compute must read only from
// Input, which never exposes data past the cutoff.
type Definition struct {
	Key         Key
	Kind        Kind
	Description string
	Compute     func(ctx context.Context, in Input) (Value, error)
}

// Lookup resolves feature values for one scoring context.
type Lookup interface {
	Lookup(ctx context.Context, key Key) (Value, error)
}
