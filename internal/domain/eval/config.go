// Package eval replays the router over historical cutoffs, stores the
// results by a content hash of the run config and checks cutoffs for
// leakage risk.
package eval

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"

	"github.com/okian/revroute/internal/domain/features"
	"github.com/okian/revroute/internal/domain/model"
	"github.com/okian/revroute/internal/domain/operators"
	"github.com/okian/revroute/internal/domain/router"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// ContextSpec is one historical context to replay.
type ContextSpec struct {
	Repo       string    `json:"repo" yaml:"repo" validate:"required"`
	EntityType string    `json:"entity_type" yaml:"entity_type"`
	EntityID   string    `json:"entity_id" yaml:"entity_id" validate:"required"`
	Cutoff     time.Time `json:"cutoff" yaml:"cutoff" validate:"required"`
}

// ScoringContext validates the spec and converts it.
func (c ContextSpec) ScoringContext() (model.ScoringContext, error) {
	typ := c.EntityType
	if typ == "" {
		typ = string(model.EntityPullRequest)
	}
	et, err := model.ParseEntityType(typ)
	if err != nil {
		return model.ScoringContext{}, err
	}
	return model.NewScoringContext(c.Repo, et, c.EntityID, c.Cutoff)
}

// RunConfig describes a backtest. Candidate selects a registered ref by
// name; empty means the live champion, or every operator when the task has
// none. Force re-executes a run that is already stored.
type RunConfig struct {
	Task      operators.TaskID `json:"task" yaml:"task"`
	Candidate string           `json:"candidate,omitempty" yaml:"candidate,omitempty"`
	Source    string           `json:"source" yaml:"source"`
	Contexts  []ContextSpec    `json:"contexts" yaml:"contexts" validate:"required,min=1,dive"`
	Params    features.Params  `json:"params" yaml:"params"`
	Profile   *router.Profile  `json:"profile,omitempty" yaml:"-"`
	Force     bool             `json:"-" yaml:"force,omitempty"`
}

// Normalize returns the canonical form of c: defaults applied, contexts
// converted to UTC, sorted and deduplicated. Equal configs normalize to
// equal values regardless of context order.
func (c RunConfig) Normalize() (RunConfig, error) {
	if err := validate.Struct(c); err != nil {
		return RunConfig{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if c.Task == "" {
		c.Task = operators.TaskReviewerRouting
	}
	c.Candidate = strings.TrimSpace(c.Candidate)
	src := strings.ToLower(strings.TrimSpace(c.Source))
	if src == "" {
		src = router.SourceUnion
	}
	if _, err := router.ParseSource(src); err != nil {
		return RunConfig{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	c.Source = src

	def := features.DefaultParams()
	if c.Params.HalfLifeDays <= 0 {
		c.Params.HalfLifeDays = def.HalfLifeDays
	}
	if c.Params.NeighborCount <= 0 {
		c.Params.NeighborCount = def.NeighborCount
	}

	seen := make(map[model.ScoringContext]struct{}, len(c.Contexts))
	out := make([]ContextSpec, 0, len(c.Contexts))
	for _, spec := range c.Contexts {
		sc, err := spec.ScoringContext()
		if err != nil {
			return RunConfig{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		if _, dup := seen[sc]; dup {
			continue
		}
		seen[sc] = struct{}{}
		out = append(out, ContextSpec{Repo: sc.Repo, EntityType: string(sc.EntityType), EntityID: sc.EntityID, Cutoff: sc.Cutoff})
	}
	sort.Slice(out, func(i, j int) bool { return lessSpec(out[i], out[j]) })
	c.Contexts = out

	if c.Profile != nil {
		p := *c.Profile
		p.Operators = append([]operators.ID(nil), p.Operators...)
		sort.Slice(p.Operators, func(i, j int) bool { return p.Operators[i] < p.Operators[j] })
		if len(p.Weights) == 0 {
			p.Weights = nil
		}
		c.Profile = &p
	}
	return c, nil
}

func lessSpec(a, b ContextSpec) bool {
	switch {
	case a.Repo != b.Repo:
		return a.Repo < b.Repo
	case a.EntityType != b.EntityType:
		return a.EntityType < b.EntityType
	case a.EntityID != b.EntityID:
		return a.EntityID < b.EntityID
	default:
		return a.Cutoff.Before(b.Cutoff)
	}
}

// RunID hashes a normalized config. Struct fields encode in declaration
// order and map keys sorted, so the encoding is canonical.
func RunID(normalized RunConfig) (string, error) {
	raw, err := json.Marshal(normalized)
	if err != nil {
		return "", fmt.Errorf("encode run config: %w", err)
	}
	sum := sha256.Sum256(raw)
	return "run_" + hex.EncodeToString(sum[:]), nil
}
