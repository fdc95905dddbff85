package eval

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/okian/revroute/internal/domain/champion"
	"github.com/okian/revroute/internal/domain/history"
	"github.com/okian/revroute/internal/domain/model"
	"github.com/okian/revroute/internal/domain/operators"
	"github.com/okian/revroute/internal/domain/router"
	"github.com/okian/revroute/pkg/logger"
	"github.com/okian/revroute/pkg/metrics"
)

// Executor runs n independent jobs and returns once all have finished.
type Executor interface {
	Execute(ctx context.Context, n int, job func(ctx context.Context, i int) error) error
}

type serial struct{}

func (serial) Execute(ctx context.Context, n int, job func(ctx context.Context, i int) error) error {
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		_ = job(ctx, i)
	}
	return nil
}

// ContextResult is the outcome of one replayed context. A failed context
// carries Error and no decision.
type ContextResult struct {
	Context        model.ScoringContext `json:"context"`
	Decision       *router.Decision     `json:"decision,omitempty"`
	Error          string               `json:"error,omitempty"`
	Labels         []model.Target       `json:"labels,omitempty"`
	HitAt1         bool                 `json:"hit_at_1"`
	HitAt3         bool                 `json:"hit_at_3"`
	ReciprocalRank float64              `json:"reciprocal_rank"`
	Leaked         bool                 `json:"leaked,omitempty"`
}

// Failed reports whether routing the context failed.
func (r ContextResult) Failed() bool { return r.Error != "" }

// Summary aggregates a run. Quality metrics average over the succeeded
// contexts that have labels.
type Summary struct {
	Contexts  int     `json:"contexts"`
	Succeeded int     `json:"succeeded"`
	Failed    int     `json:"failed"`
	Labeled   int     `json:"labeled"`
	HitAt1    float64 `json:"hit_at_1"`
	HitAt3    float64 `json:"hit_at_3"`
	MRR       float64 `json:"mrr"`
}

// Run is a stored backtest.
type Run struct {
	ID        string          `json:"id"`
	Config    RunConfig       `json:"config"`
	CreatedAt time.Time       `json:"created_at"`
	Took      time.Duration   `json:"took"`
	Results   []ContextResult `json:"results"`
	Summary   Summary         `json:"summary"`
}

// Harness runs and inspects backtests.
type Harness struct {
	router    *router.Router
	events    history.Source
	store     RunStore
	exec      Executor
	champions champion.Store
	rerank    *operators.LLMRerank
	margin    time.Duration
	now       func() time.Time
	log       logger.Logger
}

// NewHarness builds a harness. A nil executor routes contexts one by one.
func NewHarness(r *router.Router, events history.Source, store RunStore, exec Executor, opts ...Option) *Harness {
	if exec == nil {
		exec = serial{}
	}
	h := &Harness{
		router: r,
		events: events,
		store:  store,
		exec:   exec,
		margin: DefaultHorizonMargin,
		now:    time.Now,
		log:    logger.For("eval"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Run executes cfg, or returns the stored run with the same id unless
// cfg.Force is set. Context failures are recorded in the run; only config,
// profile and storage problems fail the call.
func (h *Harness) Run(ctx context.Context, cfg RunConfig) (Run, error) {
	n, err := cfg.Normalize()
	if err != nil {
		return Run{}, err
	}
	p, err := h.profile(ctx, n)
	if err != nil {
		return Run{}, err
	}
	n.Profile = &p
	id, err := RunID(n)
	if err != nil {
		return Run{}, err
	}

	if !cfg.Force {
		prev, err := h.store.Get(ctx, id)
		switch {
		case err == nil:
			metrics.RecordRunReused()
			h.log.Info(ctx, "run reused", logger.String("run_id", id))
			return prev, nil
		case !errors.Is(err, ErrRunNotFound):
			return Run{}, err
		}
	}

	start := h.now()
	source, _ := router.ParseSource(n.Source)
	rt := h.router.WithParams(n.Params)
	results := make([]ContextResult, len(n.Contexts))
	err = h.exec.Execute(ctx, len(n.Contexts), func(ctx context.Context, i int) error {
		results[i] = h.replay(ctx, rt, n.Task, n.Contexts[i], source, p)
		if results[i].Failed() {
			metrics.RecordContextFailure(string(n.Task))
			return errors.New(results[i].Error)
		}
		return nil
	})
	if err != nil {
		return Run{}, fmt.Errorf("execute run %s: %w", id, err)
	}

	run := Run{
		ID:        id,
		Config:    n,
		CreatedAt: start.UTC(),
		Took:      h.now().Sub(start),
		Results:   results,
		Summary:   summarize(results),
	}
	if err := h.store.Put(ctx, run); err != nil {
		return Run{}, fmt.Errorf("store run %s: %w", id, err)
	}
	metrics.RecordRun(string(n.Task))
	h.log.Info(ctx, "run completed",
		logger.String("run_id", id),
		logger.String("profile", p.Name),
		logger.Int("contexts", run.Summary.Contexts),
		logger.Int("failed", run.Summary.Failed),
		logger.Float64("mrr", run.Summary.MRR))
	return run, nil
}

// profile resolves the configuration a run replays.
func (h *Harness) profile(ctx context.Context, cfg RunConfig) (router.Profile, error) {
	if cfg.Candidate == "" {
		return h.router.Profile(ctx, cfg.Task)
	}
	if h.champions == nil {
		return router.Profile{}, fmt.Errorf("%w: %s (no registry)", ErrUnknownCandidate, cfg.Candidate)
	}
	st, err := h.champions.Get(ctx, cfg.Task)
	if err != nil {
		return router.Profile{}, err
	}
	for _, e := range st.Entries {
		if e.Ref.Name == cfg.Candidate {
			return router.ProfileFrom(e.Ref)
		}
	}
	return router.Profile{}, fmt.Errorf("%w: %s/%s", ErrUnknownCandidate, cfg.Task, cfg.Candidate)
}

func (h *Harness) replay(ctx context.Context, rt *router.Router, task operators.TaskID, spec ContextSpec, source router.CandidateSource, p router.Profile) ContextResult {
	sc, err := spec.ScoringContext()
	if err != nil {
		return ContextResult{Error: err.Error()}
	}
	res := ContextResult{Context: sc}
	d, err := rt.RouteWithProfile(ctx, task, sc, source, p)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	if d.Audit.Leaked() {
		res.Leaked = true
		res.Error = fmt.Sprintf("%v: source offered %d events past cutoff %s, latest %s",
			ErrLeakageRisk, d.Audit.Late, d.Audit.Cutoff.Format(time.RFC3339), d.Audit.LatestOffered.Format(time.RFC3339))
		return res
	}
	res.Decision = &d
	labels, err := h.labels(ctx, sc)
	if err != nil {
		res.Error = err.Error()
		res.Decision = nil
		return res
	}
	res.Labels = labels
	score(&res)
	return res
}

// labels returns who actually reviewed the subject after the cutoff. They
// are read outside the window and never reach features.
func (h *Harness) labels(ctx context.Context, sc model.ScoringContext) ([]model.Target, error) {
	latest, ok, err := h.events.Latest(ctx, sc.Repo)
	if err != nil {
		return nil, fmt.Errorf("read labels: %w", err)
	}
	if !ok || !latest.After(sc.Cutoff) {
		return nil, nil
	}
	evs, err := h.events.Events(ctx, sc.Repo, sc.Cutoff.Add(time.Nanosecond), latest)
	if err != nil {
		return nil, fmt.Errorf("read labels: %w", err)
	}
	var author string
	var out []model.Target
	for i := range evs {
		e := &evs[i]
		if !e.Subject(sc.EntityType, sc.EntityID) {
			continue
		}
		if e.Type == model.EventOpened && author == "" {
			author = e.Actor
		}
		if e.Type == model.EventReviewSubmitted && e.Actor != "" && e.Actor != author {
			out = append(out, model.User(e.Actor))
		}
	}
	return model.UniqueTargets(out), nil
}

func score(res *ContextResult) {
	if len(res.Labels) == 0 || res.Decision == nil {
		return
	}
	want := make(map[model.Target]struct{}, len(res.Labels))
	for _, l := range res.Labels {
		want[l] = struct{}{}
	}
	for i, c := range res.Decision.Candidates {
		if _, ok := want[c.Target]; !ok {
			continue
		}
		res.HitAt1 = i < 1
		res.HitAt3 = i < 3
		res.ReciprocalRank = 1 / float64(i+1)
		return
	}
}

func summarize(results []ContextResult) Summary {
	s := Summary{Contexts: len(results)}
	var hit1, hit3, rr float64
	for _, r := range results {
		if r.Failed() {
			s.Failed++
			continue
		}
		s.Succeeded++
		if len(r.Labels) == 0 {
			continue
		}
		s.Labeled++
		if r.HitAt1 {
			hit1++
		}
		if r.HitAt3 {
			hit3++
		}
		rr += r.ReciprocalRank
	}
	if s.Labeled > 0 {
		s.HitAt1 = hit1 / float64(s.Labeled)
		s.HitAt3 = hit3 / float64(s.Labeled)
		s.MRR = rr / float64(s.Labeled)
	}
	return s
}

// Show returns a stored run.
func (h *Harness) Show(ctx context.Context, id string) (Run, error) {
	return h.store.Get(ctx, id)
}

// ListFilter narrows List. Zero fields match everything.
type ListFilter struct {
	Task  operators.TaskID
	Repo  string
	Limit int
}

// List returns stored runs matching f, newest first.
func (h *Harness) List(ctx context.Context, f ListFilter) ([]Run, error) {
	runs, err := h.store.List(ctx)
	if err != nil {
		return nil, err
	}
	out := runs[:0]
	for _, r := range runs {
		if f.Task != "" && r.Config.Task != f.Task {
			continue
		}
		if f.Repo != "" && !touchesRepo(r.Config, f.Repo) {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func touchesRepo(cfg RunConfig, repo string) bool {
	for _, c := range cfg.Contexts {
		if c.Repo == repo {
			return true
		}
	}
	return false
}

// ContextRef picks one context of a run. A zero Cutoff matches the first
// context of the entity.
type ContextRef struct {
	Repo       string
	EntityType model.EntityType
	EntityID   string
	Cutoff     time.Time
}

// Explanation is the stored contribution trail of one decision.
type Explanation struct {
	RunID    string               `json:"run_id"`
	Context  model.ScoringContext `json:"context"`
	Decision *router.Decision     `json:"decision,omitempty"`
	Error    string               `json:"error,omitempty"`
	Labels   []model.Target       `json:"labels,omitempty"`
}

// Explain returns the stored trail for one context of a run. Nothing is
// recomputed.
func (h *Harness) Explain(ctx context.Context, id string, ref ContextRef) (Explanation, error) {
	run, err := h.store.Get(ctx, id)
	if err != nil {
		return Explanation{}, err
	}
	if ref.EntityType == "" {
		ref.EntityType = model.EntityPullRequest
	}
	for _, r := range run.Results {
		c := r.Context
		if c.Repo != ref.Repo || c.EntityType != ref.EntityType || c.EntityID != ref.EntityID {
			continue
		}
		if !ref.Cutoff.IsZero() && !c.Cutoff.Equal(ref.Cutoff) {
			continue
		}
		return Explanation{RunID: run.ID, Context: c, Decision: r.Decision, Error: r.Error, Labels: r.Labels}, nil
	}
	return Explanation{}, fmt.Errorf("%w: %s/%s in %s", ErrContextNotFound, ref.Repo, ref.EntityID, id)
}
