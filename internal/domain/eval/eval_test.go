package eval_test

import (
	"context"
	"crypto/sha256"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
	"go.uber.org/goleak"

	"github.com/okian/revroute/internal/adapters/mq/worker"
	"github.com/okian/revroute/internal/adapters/repository"
	"github.com/okian/revroute/internal/adapters/semcache"
	"github.com/okian/revroute/internal/domain/champion"
	"github.com/okian/revroute/internal/domain/eval"
	"github.com/okian/revroute/internal/domain/features"
	"github.com/okian/revroute/internal/domain/history"
	"github.com/okian/revroute/internal/domain/model"
	"github.com/okian/revroute/internal/domain/operators"
	"github.com/okian/revroute/internal/domain/router"
)

const task = operators.TaskReviewerRouting

var cutoff = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

func daysAgo(d int) time.Time { return cutoff.AddDate(0, 0, -d) }

func event(id, typ, actor, subject string, at time.Time, body string, paths ...string) model.Event {
	return model.Event{
		ID: id, Repo: "acme/api", Type: typ, Actor: actor,
		SubjectType: model.EntityPullRequest, SubjectID: subject,
		OccurredAt: at, Body: body, Paths: paths,
	}
}

// events: PR 2 is reviewed by bob and PR 3 by alice, both after the
// cutoffs the tests replay.
func events() *history.MemorySource {
	return history.NewMemorySource(
		event("1", model.EventOpened, "dave", "1", daysAgo(30), "", "api/handler.go"),
		event("2", model.EventReviewSubmitted, "alice", "1", daysAgo(29), ""),
		event("3", model.EventOpened, "erin", "2", daysAgo(10), "ping @bob", "web/app.tsx"),
		event("4", model.EventReviewSubmitted, "bob", "2", daysAgo(9), ""),
		event("5", model.EventOpened, "carol", "3", daysAgo(1), "cc @alice @org/core", "api/handler.go"),
		event("6", model.EventReviewSubmitted, "alice", "3", cutoff.Add(2*time.Hour), ""),
	)
}

// flaky fails for PR 2 and scores nothing otherwise.
type flaky struct{}

func (flaky) Requires() []features.Key { return nil }

func (flaky) Score(_ context.Context, sc model.ScoringContext, _ []model.Target, _ features.Lookup) ([]operators.Result, error) {
	if sc.EntityID == "2" {
		return nil, errors.New("upstream unavailable")
	}
	return nil, nil
}

type prompts struct{}

func (prompts) Get(_ context.Context, id, version string) (operators.Prompt, error) {
	return operators.Prompt{ID: id, Version: version, Template: "rank {{.candidates}} for {{.repo}}#{{.entity_id}}"}, nil
}

type generator struct{ calls atomic.Int32 }

func (g *generator) Generate(context.Context, operators.GenerateRequest) (string, error) {
	g.calls.Add(1)
	return `{"items":[{"candidate":"user:alice","score":0.9,"evidence":["owns api/handler.go"]}]}`, nil
}

type fixture struct {
	harness   *eval.Harness
	store     *repository.MemoryStore
	champions *champion.MemoryStore
	gen       *generator
}

func newFixture() fixture {
	feats := features.NewRegistry()
	So(features.RegisterBuiltins(feats), ShouldBeNil)
	ops := operators.NewRegistry()
	So(operators.RegisterBuiltins(ops, task, nil), ShouldBeNil)
	So(ops.Register(task, "flaky", flaky{}), ShouldBeNil)

	src := events()
	r := router.New(ops, feats, src)
	gen := &generator{}
	rerank := operators.NewLLMRerank(gen, prompts{}, semcache.New(semcache.NewMemoryBackend()), operators.LLMConfig{
		Model: "gpt-4o-mini", PromptID: "rerank", PromptVersion: "1",
	})
	store := repository.NewMemoryStore()
	champions := champion.NewMemoryStore()
	h := eval.NewHarness(r, src, store, worker.Batch{Workers: 4},
		eval.WithChampions(champions),
		eval.WithReranker(rerank),
		eval.WithClock(func() time.Time { return cutoff.Add(48 * time.Hour) }),
	)
	return fixture{harness: h, store: store, champions: champions, gen: gen}
}

func contexts() []eval.ContextSpec {
	return []eval.ContextSpec{
		{Repo: "acme/api", EntityID: "3", Cutoff: cutoff},
		{Repo: "acme/api", EntityID: "2", Cutoff: daysAgo(9).Add(-time.Hour)},
	}
}

func TestHarnessRun(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	Convey("Given a harness over two historical contexts", t, func() {
		f := newFixture()
		ctx := context.Background()

		Convey("When a run executes", func() {
			run, err := f.harness.Run(ctx, eval.RunConfig{Task: task, Contexts: contexts()})

			Convey("Then the failing context is recorded and the run completes", func() {
				So(err, ShouldBeNil)
				So(run.ID, ShouldStartWith, "run_")
				So(run.ID, ShouldHaveLength, len("run_")+2*sha256.Size)
				So(run.Summary.Contexts, ShouldEqual, 2)
				So(run.Summary.Failed, ShouldEqual, 1)
				So(run.Summary.Succeeded, ShouldEqual, 1)
				So(run.Results[0].Context.EntityID, ShouldEqual, "2")
				So(run.Results[0].Failed(), ShouldBeTrue)
				So(run.Results[0].Error, ShouldContainSubstring, "flaky")
				So(run.Results[0].Decision, ShouldBeNil)
			})

			Convey("Then the succeeded context is scored against later reviewers", func() {
				res := run.Results[1]
				So(res.Decision, ShouldNotBeNil)
				So(res.Labels, ShouldResemble, []model.Target{model.User("alice")})
				So(res.Decision.Top(1), ShouldResemble, []model.Target{model.User("alice")})
				So(res.HitAt1, ShouldBeTrue)
				So(res.ReciprocalRank, ShouldEqual, 1.0)
				So(run.Summary.Labeled, ShouldEqual, 1)
				So(run.Summary.MRR, ShouldEqual, 1.0)
			})

			Convey("Then the labels never reach the decision", func() {
				So(run.Results[1].Decision.Audit.Leaked(), ShouldBeFalse)
			})

			Convey("Then the run is persisted under its id", func() {
				stored, err := f.harness.Show(ctx, run.ID)
				So(err, ShouldBeNil)
				So(stored.ID, ShouldEqual, run.ID)
				So(stored.Summary, ShouldResemble, run.Summary)
			})
		})

		Convey("When the same config is run again in another order", func() {
			first, err := f.harness.Run(ctx, eval.RunConfig{Task: task, Contexts: contexts()})
			So(err, ShouldBeNil)
			reversed := contexts()
			reversed[0], reversed[1] = reversed[1], reversed[0]
			second, err := f.harness.Run(ctx, eval.RunConfig{Contexts: append(reversed, reversed[0])})

			Convey("Then the run id is the same and nothing new is stored", func() {
				So(err, ShouldBeNil)
				So(second.ID, ShouldEqual, first.ID)
				So(f.store.Len(), ShouldEqual, 1)
			})
		})

		Convey("When the config is forced", func() {
			first, err := f.harness.Run(ctx, eval.RunConfig{Task: task, Contexts: contexts()})
			So(err, ShouldBeNil)
			again, err := f.harness.Run(ctx, eval.RunConfig{Task: task, Contexts: contexts(), Force: true})

			Convey("Then it is re-executed under the same id", func() {
				So(err, ShouldBeNil)
				So(again.ID, ShouldEqual, first.ID)
				So(f.store.Len(), ShouldEqual, 1)
			})
		})

		Convey("When feature params change", func() {
			a, errA := f.harness.Run(ctx, eval.RunConfig{Task: task, Contexts: contexts()})
			b, errB := f.harness.Run(ctx, eval.RunConfig{Task: task, Contexts: contexts(), Params: features.Params{HalfLifeDays: 7}})

			Convey("Then the run ids differ", func() {
				So(errA, ShouldBeNil)
				So(errB, ShouldBeNil)
				So(a.ID, ShouldNotEqual, b.ID)
				So(f.store.Len(), ShouldEqual, 2)
			})
		})

		Convey("When the config has no contexts", func() {
			_, err := f.harness.Run(ctx, eval.RunConfig{Task: task})

			Convey("Then it is rejected", func() {
				So(errors.Is(err, eval.ErrInvalidConfig), ShouldBeTrue)
			})
		})
	})
}

func TestHarnessCandidates(t *testing.T) {
	Convey("Given a registered challenger that skips the flaky operator", t, func() {
		f := newFixture()
		ctx := context.Background()
		So(f.champions.Register(ctx, task, champion.Ref{
			Name:      "mentions-only",
			Operators: []operators.ID{operators.MentionHeuristicID},
		}), ShouldBeNil)

		Convey("When the challenger is replayed", func() {
			run, err := f.harness.Run(ctx, eval.RunConfig{Candidate: "mentions-only", Contexts: contexts()})

			Convey("Then every context succeeds under its profile", func() {
				So(err, ShouldBeNil)
				So(run.Config.Profile.Name, ShouldEqual, "mentions-only")
				So(run.Summary.Failed, ShouldEqual, 0)
				for _, res := range run.Results {
					So(res.Decision.Operators, ShouldResemble, []operators.ID{operators.MentionHeuristicID})
				}
			})
		})

		Convey("When an unknown candidate is named", func() {
			_, err := f.harness.Run(ctx, eval.RunConfig{Candidate: "ghost", Contexts: contexts()})

			Convey("Then ErrUnknownCandidate is returned", func() {
				So(errors.Is(err, eval.ErrUnknownCandidate), ShouldBeTrue)
			})
		})
	})
}

// versionedPrompts embeds the version in the rendered prompt.
type versionedPrompts struct{}

func (versionedPrompts) Get(_ context.Context, id, version string) (operators.Prompt, error) {
	return operators.Prompt{ID: id, Version: version, Template: "v" + version + " rank {{.candidates}} for {{.repo}}#{{.entity_id}}"}, nil
}

// recordingGenerator remembers the model and prompt of every call.
type recordingGenerator struct {
	mu   sync.Mutex
	reqs []operators.GenerateRequest
}

func (g *recordingGenerator) Generate(_ context.Context, req operators.GenerateRequest) (string, error) {
	g.mu.Lock()
	g.reqs = append(g.reqs, req)
	g.mu.Unlock()
	return `{"items":[{"candidate":"user:alice","score":0.9,"evidence":["owns api/handler.go"]}]}`, nil
}

func TestHarnessPinnedPrompt(t *testing.T) {
	Convey("Given two challengers that differ only in prompt version", t, func() {
		ctx := context.Background()
		feats := features.NewRegistry()
		So(features.RegisterBuiltins(feats), ShouldBeNil)
		gen := &recordingGenerator{}
		rerank := operators.NewLLMRerank(gen, versionedPrompts{}, semcache.New(semcache.NewMemoryBackend()), operators.LLMConfig{
			Model: "gpt-4o-mini", PromptID: "rerank", PromptVersion: "1",
		})
		ops := operators.NewRegistry()
		So(operators.RegisterBuiltins(ops, task, rerank), ShouldBeNil)
		src := events()
		champions := champion.NewMemoryStore()
		h := eval.NewHarness(router.New(ops, feats, src), src, repository.NewMemoryStore(), worker.Batch{Workers: 2},
			eval.WithChampions(champions))

		pinned := []operators.ID{operators.LLMRerankID, operators.MentionHeuristicID}
		So(champions.Register(ctx, task, champion.Ref{Name: "prompt-v1", Operators: pinned, PromptVersion: "1"}), ShouldBeNil)
		So(champions.Register(ctx, task, champion.Ref{Name: "prompt-v2", Operators: pinned, PromptVersion: "2", Model: "gpt-4o"}), ShouldBeNil)
		rc := []eval.ContextSpec{{Repo: "acme/api", EntityID: "3", Cutoff: cutoff}}

		Convey("When both are replayed over the same context", func() {
			v1, err1 := h.Run(ctx, eval.RunConfig{Candidate: "prompt-v1", Contexts: rc})
			v2, err2 := h.Run(ctx, eval.RunConfig{Candidate: "prompt-v2", Contexts: rc})

			Convey("Then each runs its own prompt and model under its own run id", func() {
				So(err1, ShouldBeNil)
				So(err2, ShouldBeNil)
				So(v1.Summary.Failed, ShouldEqual, 0)
				So(v2.Summary.Failed, ShouldEqual, 0)
				So(v1.ID, ShouldNotEqual, v2.ID)
				So(v2.Config.Profile.PromptVersion, ShouldEqual, "2")
				So(gen.reqs, ShouldHaveLength, 2)
				So(strings.HasPrefix(gen.reqs[0].Prompt, "v1 "), ShouldBeTrue)
				So(gen.reqs[0].Model, ShouldEqual, "gpt-4o-mini")
				So(strings.HasPrefix(gen.reqs[1].Prompt, "v2 "), ShouldBeTrue)
				So(gen.reqs[1].Model, ShouldEqual, "gpt-4o")
			})
		})

		Convey("When the bound rerankers key the same context", func() {
			sc, err := model.NewScoringContext("acme/api", model.EntityPullRequest, "3", cutoff)
			So(err, ShouldBeNil)
			cands := []model.Target{model.User("alice")}
			p1 := router.Profile{PromptVersion: "1"}.Bind(rerank).(*operators.LLMRerank)
			p2 := router.Profile{PromptVersion: "2"}.Bind(rerank).(*operators.LLMRerank)

			Convey("Then the cache keys differ", func() {
				So(p1.Key(sc, cands).Digest(), ShouldNotEqual, p2.Key(sc, cands).Digest())
				So(p1.Key(sc, cands).Digest(), ShouldEqual, rerank.Key(sc, cands).Digest())
				So(p2.Config().PromptVersion, ShouldEqual, "2")
				So(rerank.Config().PromptVersion, ShouldEqual, "1")
			})
		})
	})
}

// unboundedSource ignores the upper bound it is asked for.
type unboundedSource struct{ *history.MemorySource }

func (s unboundedSource) Events(ctx context.Context, repo string, from, _ time.Time) ([]model.Event, error) {
	return s.MemorySource.Events(ctx, repo, from, time.Date(9999, 1, 1, 0, 0, 0, 0, time.UTC))
}

func TestHarnessLeakage(t *testing.T) {
	Convey("Given a harness over a source that ignores the cutoff", t, func() {
		ctx := context.Background()
		feats := features.NewRegistry()
		So(features.RegisterBuiltins(feats), ShouldBeNil)
		ops := operators.NewRegistry()
		So(operators.RegisterBuiltins(ops, task, nil), ShouldBeNil)
		src := unboundedSource{events()}
		h := eval.NewHarness(router.New(ops, feats, src), src, repository.NewMemoryStore(), worker.Batch{Workers: 2})

		Convey("When a context is replayed before the review it would leak", func() {
			run, err := h.Run(ctx, eval.RunConfig{Contexts: []eval.ContextSpec{{Repo: "acme/api", EntityID: "3", Cutoff: cutoff}}})

			Convey("Then the context is marked leaked and fails", func() {
				So(err, ShouldBeNil)
				So(run.Summary.Failed, ShouldEqual, 1)
				res := run.Results[0]
				So(res.Leaked, ShouldBeTrue)
				So(res.Decision, ShouldBeNil)
				So(res.Error, ShouldContainSubstring, eval.ErrLeakageRisk.Error())
			})
		})
	})
}

func TestHarnessInspect(t *testing.T) {
	Convey("Given two stored runs", t, func() {
		f := newFixture()
		ctx := context.Background()
		a, err := f.harness.Run(ctx, eval.RunConfig{Contexts: contexts()[:1]})
		So(err, ShouldBeNil)
		b, err := f.harness.Run(ctx, eval.RunConfig{Contexts: contexts()})
		So(err, ShouldBeNil)

		Convey("When listing", func() {
			all, errAll := f.harness.List(ctx, eval.ListFilter{})
			one, errOne := f.harness.List(ctx, eval.ListFilter{Limit: 1})
			none, errNone := f.harness.List(ctx, eval.ListFilter{Repo: "acme/web"})

			Convey("Then filters and limits apply", func() {
				So(errAll, ShouldBeNil)
				So(errOne, ShouldBeNil)
				So(errNone, ShouldBeNil)
				So(len(all), ShouldEqual, 2)
				So(len(one), ShouldEqual, 1)
				So(none, ShouldBeEmpty)
			})
		})

		Convey("When explaining a stored decision", func() {
			ex, err := f.harness.Explain(ctx, b.ID, eval.ContextRef{Repo: "acme/api", EntityID: "3"})

			Convey("Then the stored contribution trail is returned", func() {
				So(err, ShouldBeNil)
				So(ex.RunID, ShouldEqual, b.ID)
				So(ex.Decision, ShouldNotBeNil)
				So(ex.Decision.Candidates[0].Contributions, ShouldNotBeEmpty)
				So(ex.Decision.Features, ShouldContainKey, features.PRMentions)
			})
		})

		Convey("When explaining a failed context", func() {
			ex, err := f.harness.Explain(ctx, b.ID, eval.ContextRef{Repo: "acme/api", EntityID: "2"})

			Convey("Then the failure reason is returned", func() {
				So(err, ShouldBeNil)
				So(ex.Decision, ShouldBeNil)
				So(strings.Contains(ex.Error, "upstream unavailable"), ShouldBeTrue)
			})
		})

		Convey("When the context is not part of the run", func() {
			_, err := f.harness.Explain(ctx, a.ID, eval.ContextRef{Repo: "acme/api", EntityID: "2"})

			Convey("Then ErrContextNotFound is returned", func() {
				So(errors.Is(err, eval.ErrContextNotFound), ShouldBeTrue)
			})
		})

		Convey("When the run is unknown", func() {
			_, err := f.harness.Show(ctx, "run_missing")

			Convey("Then ErrRunNotFound is returned", func() {
				So(errors.Is(err, eval.ErrRunNotFound), ShouldBeTrue)
			})
		})
	})
}

func TestCheckHorizon(t *testing.T) {
	Convey("Given a harness whose clock is two days past the cutoff", t, func() {
		f := newFixture()
		ctx := context.Background()

		Convey("When the cutoff is far in the past", func() {
			res := f.harness.CheckHorizon(ctx, eval.HorizonRequest{Repo: "acme/api", Cutoff: daysAgo(20)})

			Convey("Then it passes", func() {
				So(res.Status, ShouldEqual, eval.HorizonPass)
				So(res.Err, ShouldBeNil)
			})
		})

		Convey("When the cutoff equals now", func() {
			res := f.harness.CheckHorizon(ctx, eval.HorizonRequest{Cutoff: cutoff.Add(48 * time.Hour)})

			Convey("Then it fails with a leakage risk", func() {
				So(res.Status, ShouldEqual, eval.HorizonFail)
				So(errors.Is(res.Err, eval.ErrLeakageRisk), ShouldBeTrue)
				So(res.Reason, ShouldNotBeEmpty)
			})
		})

		Convey("When the cutoff is safe against now but not the latest event", func() {
			req := eval.HorizonRequest{Repo: "acme/api", Cutoff: cutoff.Add(-time.Hour)}
			withRepo := f.harness.CheckHorizon(ctx, req)
			req.Repo = ""
			withoutRepo := f.harness.CheckHorizon(ctx, req)

			Convey("Then the latest ingested event bounds the reference", func() {
				So(withRepo.Passed(), ShouldBeFalse)
				So(withRepo.Reference.Equal(cutoff.Add(2*time.Hour)), ShouldBeTrue)
				So(withoutRepo.Passed(), ShouldBeTrue)
			})
		})

		Convey("When a wider margin is requested", func() {
			res := f.harness.CheckHorizon(ctx, eval.HorizonRequest{Cutoff: daysAgo(2), Margin: 7 * 24 * time.Hour})

			Convey("Then the margin applies", func() {
				So(res.Passed(), ShouldBeFalse)
				So(res.Margin, ShouldEqual, 7*24*time.Hour)
			})
		})
	})
}

func TestBackfill(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	Convey("Given three opened pull requests of which one mentions reviewers", t, func() {
		f := newFixture()
		ctx := context.Background()
		req := eval.BackfillRequest{Repo: "acme/api", Since: daysAgo(5), Source: router.SourceMentions}

		Convey("When a dry run walks entities since five days ago", func() {
			req.DryRun = true
			rep, err := f.harness.Backfill(ctx, req)

			Convey("Then misses are counted without generating", func() {
				So(err, ShouldBeNil)
				So(rep.JobID, ShouldNotBeEmpty)
				So(rep.Entities, ShouldEqual, 1)
				So(rep.WouldCompute, ShouldEqual, 1)
				So(rep.Computed, ShouldEqual, 0)
				So(f.gen.calls.Load(), ShouldEqual, 0)
			})
		})

		Convey("When every entity is walked twice", func() {
			req.Since = time.Time{}
			first, errFirst := f.harness.Backfill(ctx, req)
			second, errSecond := f.harness.Backfill(ctx, req)

			Convey("Then the second pass only hits the cache", func() {
				So(errFirst, ShouldBeNil)
				So(errSecond, ShouldBeNil)
				So(first.Entities, ShouldEqual, 3)
				So(first.Computed, ShouldEqual, 2)
				So(second.Computed, ShouldEqual, 0)
				So(second.CacheHits, ShouldEqual, 2)
				So(first.Empty, ShouldEqual, 1)
				So(f.gen.calls.Load(), ShouldEqual, 2)
			})
		})

		Convey("When the harness has no reranker", func() {
			h := eval.NewHarness(nil, events(), repository.NewMemoryStore(), nil)
			_, err := h.Backfill(ctx, req)

			Convey("Then ErrNoReranker is returned", func() {
				So(errors.Is(err, eval.ErrNoReranker), ShouldBeTrue)
			})
		})
	})
}
