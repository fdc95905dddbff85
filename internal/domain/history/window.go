package history

import (
	"context"
	"fmt"
	"time"

	"github.com/okian/revroute/internal/domain/model"
)

// Window is the point-in-time view of one repository for one scoring
// context. It never exposes an event with occurred_at after the cutoff,
// even if the underlying Source misbehaves; such events are dropped and
// counted so callers can audit the source.
type Window struct {
	repo    string
	cutoff  time.Time
	events  []model.Event
	latest  time.Time
	dropped int
	late    int
	offered time.Time
}

// Audit summarizes what a window served. LatestObserved is the newest
// served event; LatestOffered the newest event the source returned for
// the repo, served or not. Late counts events offered past the cutoff.
type Audit struct {
	Cutoff         time.Time `json:"cutoff"`
	LatestObserved time.Time `json:"latest_observed"`
	LatestOffered  time.Time `json:"latest_offered"`
	Served         int       `json:"served"`
	Dropped        int       `json:"dropped"`
	Late           int       `json:"late"`
}

// Leaked reports whether the source offered anything past the cutoff.
// Those events never reach features, but a source that ignores the
// cutoff cannot be trusted for this context.
func (a Audit) Leaked() bool {
	return a.Late > 0 || a.LatestObserved.After(a.Cutoff)
}

// NewWindow reads the stream for sc.Repo up to sc.Cutoff.
func NewWindow(ctx context.Context, src Source, sc model.ScoringContext) (*Window, error) {
	raw, err := src.Events(ctx, sc.Repo, time.Time{}, sc.Cutoff)
	if err != nil {
		return nil, fmt.Errorf("read history for %s: %w", sc.Repo, err)
	}
	return newWindow(sc.Repo, sc.Cutoff, raw), nil
}

// WindowOf builds a window directly from events, applying the same filter.
func WindowOf(repo string, cutoff time.Time, events []model.Event) *Window {
	return newWindow(repo, cutoff.UTC(), events)
}

func newWindow(repo string, cutoff time.Time, raw []model.Event) *Window {
	w := &Window{repo: repo, cutoff: cutoff, events: make([]model.Event, 0, len(raw))}
	for _, e := range raw {
		if e.Repo != repo {
			w.dropped++
			continue
		}
		if e.OccurredAt.After(w.offered) {
			w.offered = e.OccurredAt
		}
		if !e.VisibleAt(cutoff) {
			w.dropped++
			w.late++
			continue
		}
		if e.OccurredAt.After(w.latest) {
			w.latest = e.OccurredAt
		}
		w.events = append(w.events, e)
	}
	sortEvents(w.events)
	return w
}

// Cutoff returns the window's upper bound.
func (w *Window) Cutoff() time.Time { return w.cutoff }

// Repo returns the window's repository.
func (w *Window) Repo() string { return w.repo }

// Events returns every visible event in occurrence order. The slice is
// shared; callers must not modify it.
func (w *Window) Events() []model.Event { return w.events }

// Subject returns the visible events about one entity.
func (w *Window) Subject(entityType model.EntityType, entityID string) []model.Event {
	var out []model.Event
	for i := range w.events {
		if w.events[i].Subject(entityType, entityID) {
			out = append(out, w.events[i])
		}
	}
	return out
}

// Audit reports what the window served.
func (w *Window) Audit() Audit {
	return Audit{
		Cutoff:         w.cutoff,
		LatestObserved: w.latest,
		LatestOffered:  w.offered,
		Served:         len(w.events),
		Dropped:        w.dropped,
		Late:           w.late,
	}
}
