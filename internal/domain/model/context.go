package model

import (
	"fmt"
	"strings"
	"time"
)

// EntityType names the kind of subject being routed.
type EntityType string

// Known entity types.
const (
	EntityPullRequest EntityType = "pull_request"
	EntityIssue       EntityType = "issue"
)

// ParseEntityType validates s as an entity type.
func ParseEntityType(s string) (EntityType, error) {
	switch t := EntityType(strings.ToLower(strings.TrimSpace(s))); t {
	case EntityPullRequest, EntityIssue:
		return t, nil
	case "":
		return "", fmt.Errorf("%w: empty entity type", ErrInvalidContext)
	default:
		return "", fmt.Errorf("%w: unknown entity type %q", ErrInvalidContext, s)
	}
}

// ScoringContext identifies one ranking request. It is immutable once built
// and every downstream read must stay at or before Cutoff.
type ScoringContext struct {
	Repo       string     `json:"repo"`
	EntityType EntityType `json:"entity_type"`
	EntityID   string     `json:"entity_id"`
	Cutoff     time.Time  `json:"cutoff"`
}

// NewScoringContext validates its inputs and normalizes the cutoff to UTC.
func NewScoringContext(repo string, entityType EntityType, entityID string, cutoff time.Time) (ScoringContext, error) {
	repo = strings.TrimSpace(repo)
	entityID = strings.TrimSpace(entityID)
	switch {
	case repo == "":
		return ScoringContext{}, fmt.Errorf("%w: missing repo", ErrInvalidContext)
	case entityID == "":
		return ScoringContext{}, fmt.Errorf("%w: missing entity id", ErrInvalidContext)
	case cutoff.IsZero():
		return ScoringContext{}, fmt.Errorf("%w: missing cutoff", ErrInvalidContext)
	}
	if _, err := ParseEntityType(string(entityType)); err != nil {
		return ScoringContext{}, err
	}
	return ScoringContext{
		Repo:       repo,
		EntityType: entityType,
		EntityID:   entityID,
		Cutoff:     cutoff.UTC(),
	}, nil
}

// String renders the context as repo/type/id@cutoff.
func (sc ScoringContext) String() string {
	return fmt.Sprintf("%s/%s/%s@%s", sc.Repo, sc.EntityType, sc.EntityID, sc.Cutoff.Format(time.RFC3339))
}
