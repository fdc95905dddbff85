package service_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	service "github.com/okian/revroute/internal/app"
	"github.com/okian/revroute/internal/adapters/eventlog"
	"github.com/okian/revroute/internal/config"
	"github.com/okian/revroute/internal/domain/champion"
	"github.com/okian/revroute/internal/domain/eval"
	"github.com/okian/revroute/internal/domain/model"
	"github.com/okian/revroute/internal/domain/operators"
)

var opened = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

type countingGenerator struct{ calls atomic.Int32 }

func (g *countingGenerator) Generate(context.Context, operators.GenerateRequest) (string, error) {
	g.calls.Add(1)
	return `{"items":[{"candidate":"user:alice","score":0.8,"evidence":["reviewed api/handler.go"]}]}`, nil
}

func writeHistory(dir string) string {
	ev := func(id, typ, actor, subject string, at time.Time, body string, paths ...string) model.Event {
		return model.Event{
			ID: id, Repo: "acme/api", Type: typ, Actor: actor,
			SubjectType: model.EntityPullRequest, SubjectID: subject,
			OccurredAt: at, Body: body, Paths: paths,
		}
	}
	events := []model.Event{
		ev("1", model.EventOpened, "dave", "1", opened.AddDate(0, 0, -30), "", "api/handler.go"),
		ev("2", model.EventReviewSubmitted, "alice", "1", opened.AddDate(0, 0, -29), ""),
		ev("3", model.EventOpened, "carol", "3", opened, "cc @alice @bob", "api/handler.go"),
		ev("4", model.EventReviewSubmitted, "alice", "3", opened.Add(6*time.Hour), ""),
	}
	path := filepath.Join(dir, "history.jsonl")
	f, err := os.Create(path)
	So(err, ShouldBeNil)
	So(eventlog.Write(f, events), ShouldBeNil)
	So(f.Close(), ShouldBeNil)
	return path
}

func writePrompt(dir string) string {
	root := filepath.Join(dir, "prompts")
	So(os.MkdirAll(filepath.Join(root, "reviewer_rerank"), 0o755), ShouldBeNil)
	body := "template: |\n  Rank {{.candidates}} for {{.repo}}#{{.entity_id}} touching {{.boundaries}}.\n"
	So(os.WriteFile(filepath.Join(root, "reviewer_rerank", "v1.yaml"), []byte(body), 0o600), ShouldBeNil)
	return root
}

func durableConfig(dir string) *config.Config {
	cfg := config.New()
	cfg.HistoryPath = writeHistory(dir)
	cfg.PromptsDir = writePrompt(dir)
	cfg.CacheBackend = "badger"
	cfg.CacheDir = filepath.Join(dir, "cache")
	cfg.RunStore = "badger"
	cfg.RunStorePath = filepath.Join(dir, "runs")
	cfg.RegistryPath = filepath.Join(dir, "registry.db")
	cfg.LLMEnabled = true
	cfg.EvalWorkers = 2
	return cfg
}

func TestServiceIntegration(t *testing.T) {
	Convey("Given a service with durable stores and the LLM reranker", t, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		cfg := durableConfig(t.TempDir())
		gen := &countingGenerator{}
		svc := service.New(cfg, service.WithGenerator(gen))
		So(svc.Start(ctx), ShouldBeNil)
		defer svc.Stop()

		sc, err := model.NewScoringContext("acme/api", model.EntityPullRequest, "3", opened.Add(time.Hour))
		So(err, ShouldBeNil)

		Convey("When routing a pull request", func() {
			d, err := svc.Route(ctx, "", sc, "")

			Convey("Then every operator contributes and alice ranks first", func() {
				So(err, ShouldBeNil)
				So(d.Operators, ShouldResemble, []operators.ID{
					operators.AffinityModelID, operators.LLMRerankID, operators.MentionHeuristicID,
				})
				So(d.Candidates, ShouldNotBeEmpty)
				So(d.Candidates[0].Target, ShouldEqual, model.User("alice"))
				So(d.Audit.Leaked(), ShouldBeFalse)
				So(gen.calls.Load(), ShouldEqual, 1)
			})

			Convey("And routing again is served from the artifact cache", func() {
				_, err := svc.Route(ctx, "", sc, "")
				So(err, ShouldBeNil)
				So(gen.calls.Load(), ShouldEqual, 1)
			})
		})

		Convey("When a backtest runs", func() {
			rc := eval.RunConfig{Contexts: []eval.ContextSpec{{Repo: "acme/api", EntityID: "3", Cutoff: opened.Add(time.Hour)}}}
			run, err := svc.RunEval(ctx, rc)

			Convey("Then it is labeled with the real reviewer and scored", func() {
				So(err, ShouldBeNil)
				So(run.Summary.Contexts, ShouldEqual, 1)
				So(run.Summary.Failed, ShouldEqual, 0)
				So(run.Results[0].Labels, ShouldResemble, []model.Target{model.User("alice")})
				So(run.Summary.HitAt1, ShouldEqual, 1.0)
			})

			Convey("And it survives a restart", func() {
				svc.Stop()
				again := service.New(cfg, service.WithGenerator(gen))
				So(again.Start(ctx), ShouldBeNil)
				defer again.Stop()

				stored, err := again.ShowRun(ctx, run.ID)
				So(err, ShouldBeNil)
				So(stored.Summary, ShouldResemble, run.Summary)

				reused, err := again.RunEval(ctx, rc)
				So(err, ShouldBeNil)
				So(reused.ID, ShouldEqual, run.ID)

				runs, err := again.ListRuns(ctx, eval.ListFilter{Repo: "acme/api"})
				So(err, ShouldBeNil)
				So(runs, ShouldHaveLength, 1)
			})
		})

		Convey("When a challenger is registered and promoted", func() {
			ref := champion.Ref{Name: "mentions-only", Operators: []operators.ID{operators.MentionHeuristicID}}
			So(svc.Register(ctx, "", ref), ShouldBeNil)
			So(svc.Promote(ctx, "", "mentions-only"), ShouldBeNil)

			Convey("Then live routing uses the champion", func() {
				d, err := svc.Route(ctx, "", sc, "")
				So(err, ShouldBeNil)
				So(d.Profile, ShouldEqual, "mentions-only")
				So(d.Operators, ShouldResemble, []operators.ID{operators.MentionHeuristicID})
			})

			Convey("And the champion survives a restart", func() {
				svc.Stop()
				again := service.New(cfg, service.WithGenerator(gen))
				So(again.Start(ctx), ShouldBeNil)
				defer again.Stop()

				st, err := again.Registry(ctx, "")
				So(err, ShouldBeNil)
				So(st.Champion, ShouldEqual, "mentions-only")
			})

			Convey("And a ref pinning an unpublished prompt version is refused", func() {
				err := svc.Register(ctx, "", champion.Ref{
					Name: "llm-v9", Operators: []operators.ID{operators.LLMRerankID}, PromptVersion: "v9",
				})
				So(err, ShouldWrap, champion.ErrInvalidRef)
				So(svc.Register(ctx, "", champion.Ref{
					Name: "llm-v1", Operators: []operators.ID{operators.LLMRerankID}, PromptVersion: "v1",
				}), ShouldBeNil)
			})

			Convey("And a conflicting ref under the same name is refused", func() {
				err := svc.Register(ctx, "", champion.Ref{Name: "mentions-only", Operators: []operators.ID{operators.AffinityModelID}})
				So(err, ShouldWrap, champion.ErrConflictingRef)
			})
		})

		Convey("When backfilling the repo", func() {
			dry, err := svc.Backfill(ctx, eval.BackfillRequest{Repo: "acme/api", DryRun: true, Source: "mentions"})

			Convey("Then the dry run counts without generating", func() {
				So(err, ShouldBeNil)
				So(dry.Entities, ShouldEqual, 2)
				So(dry.Empty, ShouldEqual, 1)
				So(dry.WouldCompute, ShouldEqual, 1)
				So(gen.calls.Load(), ShouldEqual, 0)
			})

			Convey("And the real run fills the cache once", func() {
				rep, err := svc.Backfill(ctx, eval.BackfillRequest{Repo: "acme/api", Source: "mentions"})
				So(err, ShouldBeNil)
				So(rep.Computed, ShouldEqual, 1)
				So(rep.JobID, ShouldNotBeEmpty)

				rep, err = svc.Backfill(ctx, eval.BackfillRequest{Repo: "acme/api", Source: "mentions"})
				So(err, ShouldBeNil)
				So(rep.CacheHits, ShouldEqual, 1)
				So(gen.calls.Load(), ShouldEqual, 1)
			})
		})

		Convey("When checking cutoffs against the ingested history", func() {
			late := svc.CheckHorizon(ctx, eval.HorizonRequest{Repo: "acme/api", Cutoff: opened})
			early := svc.CheckHorizon(ctx, eval.HorizonRequest{Repo: "acme/api", Cutoff: opened.AddDate(0, 0, -20)})

			Convey("Then only the cutoff well before the last event passes", func() {
				So(late.Passed(), ShouldBeFalse)
				So(late.Err, ShouldWrap, eval.ErrLeakageRisk)
				So(early.Passed(), ShouldBeTrue)
				So(early.Reference.Equal(opened.Add(6*time.Hour)), ShouldBeTrue)
			})
		})
	})
}

type failingGenerator struct{}

func (failingGenerator) Generate(context.Context, operators.GenerateRequest) (string, error) {
	return "", errors.New("upstream unavailable")
}

func TestServiceBestEffortRerank(t *testing.T) {
	Convey("Given a service whose LLM fails", t, func() {
		ctx := context.Background()
		cfg := durableConfig(t.TempDir())
		sc, err := model.NewScoringContext("acme/api", model.EntityPullRequest, "3", opened.Add(time.Hour))
		So(err, ShouldBeNil)

		Convey("When the rerank is fail-hard", func() {
			svc := service.New(cfg, service.WithGenerator(failingGenerator{}))
			So(svc.Start(ctx), ShouldBeNil)
			defer svc.Stop()

			_, err := svc.Route(ctx, "", sc, "")
			So(err, ShouldNotBeNil)
		})

		Convey("When the rerank is best-effort", func() {
			cfg.LLMBestEffort = true
			svc := service.New(cfg, service.WithGenerator(failingGenerator{}))
			So(svc.Start(ctx), ShouldBeNil)
			defer svc.Stop()

			d, err := svc.Route(ctx, "", sc, "")
			So(err, ShouldBeNil)
			So(d.Skipped, ShouldHaveLength, 1)
			So(d.Skipped[0].Operator, ShouldEqual, operators.LLMRerankID)
			So(d.Candidates[0].Target, ShouldEqual, model.User("alice"))
		})
	})
}
