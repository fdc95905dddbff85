package api_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/revroute/internal/adapters/http/api"
	"github.com/okian/revroute/internal/domain/champion"
	"github.com/okian/revroute/internal/domain/eval"
	"github.com/okian/revroute/internal/domain/model"
	"github.com/okian/revroute/internal/domain/operators"
	"github.com/okian/revroute/internal/domain/router"
)

var cutoff = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type mockDeps struct {
	routeErr error
	lastTask operators.TaskID
	lastSC   model.ScoringContext
	lastSrc  string

	runs    map[string]eval.Run
	lastRun eval.RunConfig
	runErr  error

	lastRef     eval.ContextRef
	lastHorizon eval.HorizonRequest

	registered []champion.Ref
	promoted   string
	regErr     error
}

func (m *mockDeps) Route(_ context.Context, task operators.TaskID, sc model.ScoringContext, source string) (router.Decision, error) {
	m.lastTask, m.lastSC, m.lastSrc = task, sc, source
	if m.routeErr != nil {
		return router.Decision{}, m.routeErr
	}
	return router.Decision{
		Task:    task,
		Context: sc,
		Candidates: []router.Ranked{
			{Target: model.User("alice"), Score: 0.9},
			{Target: model.User("bob"), Score: 0.5},
			{Target: model.User("carol"), Score: 0.1},
		},
	}, nil
}

func (m *mockDeps) RunEval(_ context.Context, cfg eval.RunConfig) (eval.Run, error) {
	m.lastRun = cfg
	if m.runErr != nil {
		return eval.Run{}, m.runErr
	}
	return eval.Run{ID: "run-1", Config: cfg, Summary: eval.Summary{Contexts: len(cfg.Contexts)}}, nil
}

func (m *mockDeps) ShowRun(_ context.Context, id string) (eval.Run, error) {
	run, ok := m.runs[id]
	if !ok {
		return eval.Run{}, fmt.Errorf("%w: %s", eval.ErrRunNotFound, id)
	}
	return run, nil
}

func (m *mockDeps) ListRuns(_ context.Context, f eval.ListFilter) ([]eval.Run, error) {
	var out []eval.Run
	for _, r := range m.runs {
		out = append(out, r)
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *mockDeps) ExplainRun(_ context.Context, id string, ref eval.ContextRef) (eval.Explanation, error) {
	m.lastRef = ref
	if _, ok := m.runs[id]; !ok {
		return eval.Explanation{}, eval.ErrRunNotFound
	}
	if ref.EntityID != "7" {
		return eval.Explanation{}, eval.ErrContextNotFound
	}
	return eval.Explanation{RunID: id, Error: "boom"}, nil
}

func (m *mockDeps) CheckHorizon(_ context.Context, req eval.HorizonRequest) eval.HorizonResult {
	m.lastHorizon = req
	return eval.HorizonResult{Status: eval.HorizonFail, Reason: "too close", Cutoff: req.Cutoff, Margin: req.Margin}
}

func (m *mockDeps) Register(_ context.Context, _ operators.TaskID, ref champion.Ref) error {
	if m.regErr != nil {
		return m.regErr
	}
	m.registered = append(m.registered, ref)
	return nil
}

func (m *mockDeps) Promote(_ context.Context, _ operators.TaskID, name string) error {
	if name == "ghost" {
		return fmt.Errorf("%w: %s", champion.ErrUnregisteredCandidate, name)
	}
	m.promoted = name
	return nil
}

func (m *mockDeps) Registry(_ context.Context, task operators.TaskID) (champion.State, error) {
	st := champion.State{Task: task, Champion: m.promoted}
	for _, r := range m.registered {
		st.Entries = append(st.Entries, champion.Entry{Task: task, Ref: r, Status: champion.StatusRegistered})
	}
	return st, nil
}

type mockStatsProvider struct {
	stats map[string]any
}

func (m *mockStatsProvider) GetStats() map[string]any { return m.stats }

func newMux(deps *mockDeps) *http.ServeMux {
	mux := http.NewServeMux()
	api.NewServer(deps, &mockStatsProvider{stats: map[string]any{"started": true}}).Register(context.Background(), mux)
	return mux
}

func do(mux *http.ServeMux, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, http.NoBody)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}

func errorCode(w *httptest.ResponseRecorder) string {
	var body struct {
		Code string `json:"code"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	return body.Code
}

func TestServer_Register(t *testing.T) {
	Convey("Given a registered API server", t, func() {
		mux := newMux(&mockDeps{})

		Convey("Then health answers with ok", func() {
			w := do(mux, http.MethodGet, "/healthz", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Body.String(), ShouldContainSubstring, `"ok"`)
		})

		Convey("And metrics are served in the prometheus text format", func() {
			do(mux, http.MethodGet, "/healthz", "")
			w := do(mux, http.MethodGet, "/metrics", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Body.String(), ShouldContainSubstring, "http_requests_total")
		})

		Convey("And stats are served", func() {
			w := do(mux, http.MethodGet, "/stats", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Body.String(), ShouldContainSubstring, `"started":true`)
		})

		Convey("And unknown paths are 404", func() {
			w := do(mux, http.MethodGet, "/v1/unknown", "")
			So(w.Code, ShouldEqual, http.StatusNotFound)
		})

		Convey("And wrong methods are rejected", func() {
			w := do(mux, http.MethodGet, "/v1/route", "")
			So(w.Code, ShouldEqual, http.StatusMethodNotAllowed)
		})

		Convey("And a nil mux panics", func() {
			So(func() { api.NewServer(&mockDeps{}, nil).Register(context.Background(), nil) }, ShouldPanic)
		})
	})
}

func TestRouteHandler(t *testing.T) {
	Convey("Given the route endpoint", t, func() {
		deps := &mockDeps{}
		mux := newMux(deps)

		Convey("When the context is valid", func() {
			w := do(mux, http.MethodPost, "/v1/route",
				`{"repo":"acme/api","entity_id":"42","cutoff":"2024-05-01T12:00:00Z","source":"mentions","top":2}`)

			Convey("Then the decision is returned truncated to top", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				var d router.Decision
				So(json.Unmarshal(w.Body.Bytes(), &d), ShouldBeNil)
				So(d.Candidates, ShouldHaveLength, 2)
				So(d.Candidates[0].Target, ShouldEqual, model.User("alice"))
				So(deps.lastSC.EntityType, ShouldEqual, model.EntityPullRequest)
				So(deps.lastSC.Cutoff.Equal(cutoff), ShouldBeTrue)
				So(deps.lastSrc, ShouldEqual, "mentions")
			})
		})

		Convey("When the cutoff is missing", func() {
			w := do(mux, http.MethodPost, "/v1/route", `{"repo":"acme/api","entity_id":"42"}`)
			So(w.Code, ShouldEqual, http.StatusBadRequest)
			So(errorCode(w), ShouldEqual, "bad_request")
		})

		Convey("When the body has unknown fields", func() {
			w := do(mux, http.MethodPost, "/v1/route", `{"repo":"acme/api","reviewer":"x"}`)
			So(w.Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("When the body is empty", func() {
			w := do(mux, http.MethodPost, "/v1/route", "")
			So(w.Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("When routing errors", func() {
			body := `{"repo":"acme/api","entity_id":"42","cutoff":"2024-05-01T12:00:00Z"}`
			cases := []struct {
				err    error
				status int
				code   string
			}{
				{fmt.Errorf("%w: review_summary", router.ErrUnknownTask), http.StatusBadRequest, "bad_request"},
				{fmt.Errorf("%w: %w", router.ErrRoutingFailure, operators.ErrOperatorTimeout), http.StatusGatewayTimeout, "operator_timeout"},
				{fmt.Errorf("%w: affinity_model", router.ErrRoutingFailure), http.StatusBadGateway, "routing_failure"},
				{fmt.Errorf("disk on fire"), http.StatusInternalServerError, "internal"},
			}
			for _, c := range cases {
				deps.routeErr = c.err
				w := do(mux, http.MethodPost, "/v1/route", body)
				So(w.Code, ShouldEqual, c.status)
				So(errorCode(w), ShouldEqual, c.code)
			}
		})
	})
}

func TestRunsHandler(t *testing.T) {
	Convey("Given the runs endpoints", t, func() {
		deps := &mockDeps{runs: map[string]eval.Run{
			"run-1": {ID: "run-1", Config: eval.RunConfig{Task: operators.TaskReviewerRouting}},
		}}
		mux := newMux(deps)

		Convey("When a run is created with force", func() {
			w := do(mux, http.MethodPost, "/v1/runs",
				`{"task":"reviewer_routing","contexts":[{"repo":"acme/api","entity_id":"7","cutoff":"2024-05-01T12:00:00Z"}],"force":true}`)

			Convey("Then the config reaches the harness with force set", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(deps.lastRun.Force, ShouldBeTrue)
				So(deps.lastRun.Contexts, ShouldHaveLength, 1)
				So(w.Body.String(), ShouldContainSubstring, `"id":"run-1"`)
			})
		})

		Convey("When the harness rejects the config", func() {
			deps.runErr = fmt.Errorf("%w: no contexts", eval.ErrInvalidConfig)
			w := do(mux, http.MethodPost, "/v1/runs", `{"task":"reviewer_routing"}`)
			So(w.Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("When the candidate is unknown", func() {
			deps.runErr = fmt.Errorf("%w: ghost", eval.ErrUnknownCandidate)
			w := do(mux, http.MethodPost, "/v1/runs", `{"candidate":"ghost","contexts":[]}`)
			So(w.Code, ShouldEqual, http.StatusNotFound)
		})

		Convey("When listing runs", func() {
			w := do(mux, http.MethodGet, "/v1/runs?limit=5", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Body.String(), ShouldContainSubstring, `"id":"run-1"`)

			bad := do(mux, http.MethodGet, "/v1/runs?limit=x", "")
			So(bad.Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("When showing runs", func() {
			So(do(mux, http.MethodGet, "/v1/runs/run-1", "").Code, ShouldEqual, http.StatusOK)

			w := do(mux, http.MethodGet, "/v1/runs/nope", "")
			So(w.Code, ShouldEqual, http.StatusNotFound)
			So(errorCode(w), ShouldEqual, "not_found")
		})

		Convey("When explaining a context", func() {
			w := do(mux, http.MethodGet, "/v1/runs/run-1/explain?repo=acme/api&entity_id=7&entity_type=issue&cutoff=2024-05-01T12:00:00Z", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(deps.lastRef.EntityType, ShouldEqual, model.EntityIssue)
			So(deps.lastRef.Cutoff.Equal(cutoff), ShouldBeTrue)
			So(w.Body.String(), ShouldContainSubstring, `"error":"boom"`)

			So(do(mux, http.MethodGet, "/v1/runs/run-1/explain?repo=acme/api&entity_id=8", "").Code, ShouldEqual, http.StatusNotFound)
			So(do(mux, http.MethodGet, "/v1/runs/run-1/explain?repo=acme/api", "").Code, ShouldEqual, http.StatusBadRequest)
			So(do(mux, http.MethodGet, "/v1/runs/run-1/explain?repo=acme/api&entity_id=7&cutoff=yesterday", "").Code, ShouldEqual, http.StatusBadRequest)
		})
	})
}

func TestCutoffHandler(t *testing.T) {
	Convey("Given the cutoff check endpoint", t, func() {
		deps := &mockDeps{}
		mux := newMux(deps)

		Convey("When the check fails", func() {
			w := do(mux, http.MethodPost, "/v1/cutoff/check",
				`{"repo":"acme/api","cutoff":"2024-05-01T12:00:00Z","margin":"36h"}`)

			Convey("Then the failure is reported with 200", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(w.Body.String(), ShouldContainSubstring, `"status":"fail"`)
				So(w.Body.String(), ShouldContainSubstring, `"margin":"36h0m0s"`)
				So(deps.lastHorizon.Margin, ShouldEqual, 36*time.Hour)
			})
		})

		Convey("When the margin is not a duration", func() {
			w := do(mux, http.MethodPost, "/v1/cutoff/check", `{"cutoff":"2024-05-01T12:00:00Z","margin":"a day"}`)
			So(w.Code, ShouldEqual, http.StatusBadRequest)
		})
	})
}

func TestRegistryHandler(t *testing.T) {
	Convey("Given the registry endpoints", t, func() {
		deps := &mockDeps{}
		mux := newMux(deps)

		Convey("When a candidate is registered", func() {
			w := do(mux, http.MethodPost, "/v1/registry/reviewer_routing",
				`{"name":"mentions-only","operators":["mention_heuristic"]}`)

			Convey("Then the new state is returned", func() {
				So(w.Code, ShouldEqual, http.StatusCreated)
				So(deps.registered, ShouldHaveLength, 1)
				So(deps.registered[0].Operators, ShouldResemble, []operators.ID{operators.MentionHeuristicID})

				get := do(mux, http.MethodGet, "/v1/registry/reviewer_routing", "")
				So(get.Code, ShouldEqual, http.StatusOK)
				So(get.Body.String(), ShouldContainSubstring, "mentions-only")
			})
		})

		Convey("When the ref conflicts", func() {
			deps.regErr = champion.ErrConflictingRef
			w := do(mux, http.MethodPost, "/v1/registry/reviewer_routing", `{"name":"x","operators":["llm_rerank"]}`)
			So(w.Code, ShouldEqual, http.StatusConflict)
		})

		Convey("When the ref is invalid", func() {
			deps.regErr = fmt.Errorf("%w: missing name", champion.ErrInvalidRef)
			w := do(mux, http.MethodPost, "/v1/registry/reviewer_routing", `{"operators":["llm_rerank"]}`)
			So(w.Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("When promoting", func() {
			w := do(mux, http.MethodPost, "/v1/registry/reviewer_routing/promote", `{"name":"mentions-only"}`)
			So(w.Code, ShouldEqual, http.StatusOK)
			So(deps.promoted, ShouldEqual, "mentions-only")

			So(do(mux, http.MethodPost, "/v1/registry/reviewer_routing/promote", `{"name":"ghost"}`).Code, ShouldEqual, http.StatusNotFound)
			So(do(mux, http.MethodPost, "/v1/registry/reviewer_routing/promote", `{"name":" "}`).Code, ShouldEqual, http.StatusBadRequest)
		})
	})
}
