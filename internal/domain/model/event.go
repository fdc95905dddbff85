// Package model contains domain models passed between layers.
package model

import "time"

// Event types understood by the built-in features and candidate sources.
const (
	EventOpened          = "pull_request.opened"
	EventEdited          = "pull_request.edited"
	EventCommented       = "comment.created"
	EventReviewSubmitted = "review.submitted"
	EventCommitPushed    = "commit.pushed"
	EventMerged          = "pull_request.merged"
)

// Event is one entry of the historical event stream produced by ingestion.
// Fields mirror the normalized JSONL records.
type Event struct {
	ID          string     `json:"id"`
	Repo        string     `json:"repo"`
	Type        string     `json:"type"`
	Actor       string     `json:"actor"`
	SubjectType EntityType `json:"subject_type"`
	SubjectID   string     `json:"subject_id"`
	OccurredAt  time.Time  `json:"occurred_at"`
	Title       string     `json:"title,omitempty"`
	Body        string     `json:"body,omitempty"`
	Paths       []string   `json:"paths,omitempty"`
}

// Subject reports whether e is about the given entity.
func (e *Event) Subject(entityType EntityType, entityID string) bool {
	return e.SubjectType == entityType && e.SubjectID == entityID
}

// VisibleAt reports whether e may be observed by a reader bounded at cutoff.
func (e *Event) VisibleAt(cutoff time.Time) bool {
	return !e.OccurredAt.After(cutoff)
}
