package model

import (
	"fmt"
	"sort"
	"strings"
)

// TargetType distinguishes individual reviewers from teams.
type TargetType string

// Known target types.
const (
	TargetUser TargetType = "user"
	TargetTeam TargetType = "team"
)

// Target is a reviewer candidate. Identity is the (Type, Name) pair, so the
// struct is comparable and usable as a map key.
type Target struct {
	Type TargetType `json:"type"`
	Name string     `json:"name"`
}

// User builds a user target.
func User(name string) Target { return Target{Type: TargetUser, Name: name} }

// Team builds a team target; name has the org/team shape.
func Team(name string) Target { return Target{Type: TargetTeam, Name: name} }

// Key renders the target as "type:name", the form used in feature vectors
// and evidence references.
func (t Target) Key() string { return string(t.Type) + ":" + t.Name }

// String implements fmt.Stringer.
func (t Target) String() string { return t.Key() }

// ParseTarget is the inverse of Key. A bare name is treated by shape:
// names containing "/" are teams, everything else is a user.
func ParseTarget(s string) (Target, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "@")
	if s == "" {
		return Target{}, fmt.Errorf("%w: empty target", ErrInvalidTarget)
	}
	if typ, name, ok := strings.Cut(s, ":"); ok {
		switch TargetType(typ) {
		case TargetUser, TargetTeam:
			if name == "" {
				return Target{}, fmt.Errorf("%w: empty name in %q", ErrInvalidTarget, s)
			}
			return Target{Type: TargetType(typ), Name: name}, nil
		default:
			return Target{}, fmt.Errorf("%w: unknown target type %q", ErrInvalidTarget, typ)
		}
	}
	if strings.Contains(s, "/") {
		return Team(s), nil
	}
	return User(s), nil
}

// Less orders targets by name, then type. This is the router's tie-break.
func Less(a, b Target) bool {
	if a.Name != b.Name {
		return a.Name < b.Name
	}
	return a.Type < b.Type
}

// SortTargets sorts ts in place by Less.
func SortTargets(ts []Target) {
	sort.Slice(ts, func(i, j int) bool { return Less(ts[i], ts[j]) })
}

// UniqueTargets returns ts without duplicates, keeping first-seen order.
func UniqueTargets(ts []Target) []Target {
	seen := make(map[Target]struct{}, len(ts))
	out := make([]Target, 0, len(ts))
	for _, t := range ts {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
