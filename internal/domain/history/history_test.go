package history_test

import (
	"context"
	"testing"
	"time"

	"github.com/okian/revroute/internal/domain/history"
	"github.com/okian/revroute/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

var base = time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

func ev(id string, at time.Duration, subject string) model.Event {
	return model.Event{
		ID: id, Repo: "acme/api", Type: model.EventCommented, Actor: "alice",
		SubjectType: model.EntityPullRequest, SubjectID: subject, OccurredAt: base.Add(at),
	}
}

// leakySource ignores the until bound, as a broken ingestion reader might.
type leakySource struct{ events []model.Event }

func (l leakySource) Events(context.Context, string, time.Time, time.Time) ([]model.Event, error) {
	return l.events, nil
}

func (l leakySource) Latest(context.Context, string) (time.Time, bool, error) {
	return time.Time{}, false, nil
}

func TestMemorySource(t *testing.T) {
	Convey("Given an in-memory source with unordered events", t, func() {
		src := history.NewMemorySource(ev("c", 3*time.Hour, "1"), ev("a", time.Hour, "1"), ev("b", 2*time.Hour, "2"))
		ctx := context.Background()

		Convey("When reading a bounded range", func() {
			got, err := src.Events(ctx, "acme/api", base.Add(90*time.Minute), base.Add(3*time.Hour))

			Convey("Then only events inside the range are returned in order", func() {
				So(err, ShouldBeNil)
				So(len(got), ShouldEqual, 2)
				So(got[0].ID, ShouldEqual, "b")
				So(got[1].ID, ShouldEqual, "c")
			})
		})

		Convey("When asking for the latest event", func() {
			latest, ok, err := src.Latest(ctx, "acme/api")
			_, okOther, _ := src.Latest(ctx, "acme/other")

			Convey("Then the newest occurrence is reported", func() {
				So(err, ShouldBeNil)
				So(ok, ShouldBeTrue)
				So(latest, ShouldEqual, base.Add(3*time.Hour))
				So(okOther, ShouldBeFalse)
			})
		})

		Convey("When the context is cancelled", func() {
			cctx, cancel := context.WithCancel(ctx)
			cancel()
			_, err := src.Events(cctx, "acme/api", time.Time{}, base.Add(time.Hour))

			Convey("Then the read fails", func() {
				So(err, ShouldNotBeNil)
			})
		})
	})
}

func TestWindow(t *testing.T) {
	Convey("Given a scoring context with a cutoff", t, func() {
		sc, err := model.NewScoringContext("acme/api", model.EntityPullRequest, "1", base.Add(2*time.Hour))
		So(err, ShouldBeNil)

		Convey("When the source honours the bound", func() {
			src := history.NewMemorySource(ev("a", time.Hour, "1"), ev("b", 2*time.Hour, "2"), ev("c", 3*time.Hour, "1"))
			w, err := history.NewWindow(context.Background(), src, sc)

			Convey("Then events at the cutoff are visible and later ones are not", func() {
				So(err, ShouldBeNil)
				So(len(w.Events()), ShouldEqual, 2)
				So(len(w.Subject(model.EntityPullRequest, "1")), ShouldEqual, 1)
				So(w.Audit().Leaked(), ShouldBeFalse)
				So(w.Audit().Dropped, ShouldEqual, 0)
			})
		})

		Convey("When the source returns events past the cutoff", func() {
			src := leakySource{events: []model.Event{ev("a", time.Hour, "1"), ev("late", 5*time.Hour, "1")}}
			w, err := history.NewWindow(context.Background(), src, sc)

			Convey("Then the window drops them and flags the leak", func() {
				So(err, ShouldBeNil)
				So(len(w.Events()), ShouldEqual, 1)
				audit := w.Audit()
				So(audit.Dropped, ShouldEqual, 1)
				So(audit.Late, ShouldEqual, 1)
				So(audit.Leaked(), ShouldBeTrue)
				So(audit.LatestObserved, ShouldEqual, base.Add(time.Hour))
				So(audit.LatestOffered, ShouldEqual, base.Add(5*time.Hour))
			})
		})
	})
}
