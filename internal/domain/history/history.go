// Package history exposes the read-only historical event stream and the
// cutoff-bounded windows through which every feature and candidate source
// reads it.
package history

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/okian/revroute/internal/domain/model"
)

// Source is the event stream consumed from ingestion.
type Source interface {
	// Events returns events for repo with from <= occurred_at <= until,
	// ordered by occurrence. A zero from means "since the beginning".
	Events(ctx context.Context, repo string, from, until time.Time) ([]model.Event, error)

	// Latest returns the occurrence time of the newest ingested event for repo.
	Latest(ctx context.Context, repo string) (time.Time, bool, error)
}

// MemorySource is an in-memory Source. It is safe for concurrent use.
type MemorySource struct {
	mu     sync.RWMutex
	byRepo map[string][]model.Event
}

// NewMemorySource builds a source holding events.
func NewMemorySource(events ...model.Event) *MemorySource {
	s := &MemorySource{byRepo: make(map[string][]model.Event)}
	s.Append(events...)
	return s
}

// Append adds events and keeps each repo's stream ordered.
func (s *MemorySource) Append(events ...model.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	touched := make(map[string]struct{})
	for _, e := range events {
		e.OccurredAt = e.OccurredAt.UTC()
		s.byRepo[e.Repo] = append(s.byRepo[e.Repo], e)
		touched[e.Repo] = struct{}{}
	}
	for repo := range touched {
		sortEvents(s.byRepo[repo])
	}
}

// Events implements Source.
func (s *MemorySource) Events(ctx context.Context, repo string, from, until time.Time) ([]model.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.byRepo[repo]
	out := make([]model.Event, 0, len(all))
	for i := range all {
		e := &all[i]
		if !from.IsZero() && e.OccurredAt.Before(from) {
			continue
		}
		if e.OccurredAt.After(until) {
			break
		}
		out = append(out, *e)
	}
	return out, nil
}

// Latest implements Source.
func (s *MemorySource) Latest(ctx context.Context, repo string) (time.Time, bool, error) {
	if err := ctx.Err(); err != nil {
		return time.Time{}, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.byRepo[repo]
	if len(all) == 0 {
		return time.Time{}, false, nil
	}
	return all[len(all)-1].OccurredAt, true, nil
}

// Repos lists the repositories with at least one event, sorted.
func (s *MemorySource) Repos() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	repos := make([]string, 0, len(s.byRepo))
	for r := range s.byRepo {
		repos = append(repos, r)
	}
	sort.Strings(repos)
	return repos
}

// Len returns the number of stored events.
func (s *MemorySource) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, evs := range s.byRepo {
		n += len(evs)
	}
	return n
}

func sortEvents(evs []model.Event) {
	sort.SliceStable(evs, func(i, j int) bool {
		if !evs[i].OccurredAt.Equal(evs[j].OccurredAt) {
			return evs[i].OccurredAt.Before(evs[j].OccurredAt)
		}
		return evs[i].ID < evs[j].ID
	})
}
