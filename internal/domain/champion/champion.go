// Package champion tracks, per task, which operator configuration is live.
package champion

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/okian/revroute/internal/domain/operators"
)

// Status of a registered candidate.
type Status string

// Candidate statuses.
const (
	StatusRegistered Status = "registered"
	StatusChampion   Status = "champion"
)

// Ref is a named operator configuration eligible for promotion. Model and
// PromptVersion pin the LLM operator; empty keeps the process defaults.
type Ref struct {
	Name          string                   `json:"name" yaml:"name"`
	Operators     []operators.ID           `json:"operators" yaml:"operators"`
	Weights       map[operators.ID]float64 `json:"weights,omitempty" yaml:"weights,omitempty"`
	Normalization string                   `json:"normalization,omitempty" yaml:"normalization,omitempty"`
	Model         string                   `json:"model,omitempty" yaml:"model,omitempty"`
	PromptVersion string                   `json:"prompt_version,omitempty" yaml:"prompt_version,omitempty"`
}

// Normalize sorts and deduplicates the operator list and drops weights for
// operators that are not enabled. Two refs describing the same
// configuration normalize to equal values.
func (r Ref) Normalize() (Ref, error) {
	r.Name = strings.TrimSpace(r.Name)
	if r.Name == "" {
		return Ref{}, fmt.Errorf("%w: missing name", ErrInvalidRef)
	}
	seen := make(map[operators.ID]struct{}, len(r.Operators))
	ops := make([]operators.ID, 0, len(r.Operators))
	for _, id := range r.Operators {
		if id == "" {
			return Ref{}, fmt.Errorf("%w: empty operator id", ErrInvalidRef)
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ops = append(ops, id)
	}
	sort.Slice(ops, func(i, j int) bool { return ops[i] < ops[j] })
	r.Operators = ops

	if len(r.Weights) > 0 {
		w := make(map[operators.ID]float64, len(r.Weights))
		for id, v := range r.Weights {
			if _, ok := seen[id]; !ok {
				continue
			}
			if v < 0 {
				return Ref{}, fmt.Errorf("%w: negative weight for %s", ErrInvalidRef, id)
			}
			w[id] = v
		}
		r.Weights = w
	}
	if len(r.Weights) == 0 {
		r.Weights = nil
	}
	r.Model = strings.TrimSpace(r.Model)
	r.PromptVersion = strings.TrimSpace(r.PromptVersion)
	return r, nil
}

// Clone returns a copy of r that shares no slices or maps with it.
func (r Ref) Clone() Ref {
	r.Operators = append([]operators.ID(nil), r.Operators...)
	if r.Weights != nil {
		w := make(map[operators.ID]float64, len(r.Weights))
		for id, v := range r.Weights {
			w[id] = v
		}
		r.Weights = w
	}
	return r
}

// Weight returns the fusion weight of id, 1.0 unless configured.
func (r Ref) Weight(id operators.ID) float64 {
	if w, ok := r.Weights[id]; ok {
		return w
	}
	return 1.0
}

// Transition is one registry mutation.
type Transition struct {
	Name   string    `json:"name"`
	Action string    `json:"action"`
	At     time.Time `json:"at"`
}

// Entry is the registry record of one candidate.
type Entry struct {
	Task    operators.TaskID `json:"task"`
	Ref     Ref              `json:"ref"`
	Status  Status           `json:"status"`
	History []Transition     `json:"history"`
}

// State is the full registry state of a task.
type State struct {
	Task     operators.TaskID `json:"task"`
	Champion string           `json:"champion,omitempty"`
	Entries  []Entry          `json:"entries"`
}

// ChampionRef returns the ref of the current champion.
func (s State) ChampionRef() (Ref, bool) {
	for _, e := range s.Entries {
		if e.Status == StatusChampion {
			return e.Ref, true
		}
	}
	return Ref{}, false
}

// Store persists candidate registries. Implementations make Promote atomic
// per task: it either leaves exactly one champion or changes nothing.
type Store interface {
	// Register adds ref in registered status. Registering an identical ref
	// again is a no-op.
	Register(ctx context.Context, task operators.TaskID, ref Ref) error
	// Promote makes name the champion and demotes the previous one.
	Promote(ctx context.Context, task operators.TaskID, name string) error
	// Get returns the task's state. Unknown tasks yield an empty state.
	Get(ctx context.Context, task operators.TaskID) (State, error)
	Close() error
}

// Champion returns the live ref of task from s.
func Champion(ctx context.Context, s Store, task operators.TaskID) (Ref, error) {
	st, err := s.Get(ctx, task)
	if err != nil {
		return Ref{}, err
	}
	ref, ok := st.ChampionRef()
	if !ok {
		return Ref{}, fmt.Errorf("%w: %s", ErrNoChampion, task)
	}
	return ref, nil
}
