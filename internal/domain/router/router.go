// Package router turns a scoring context into a ranked decision by running
// the task's operators and fusing their scores.
package router

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/okian/revroute/internal/domain/champion"
	"github.com/okian/revroute/internal/domain/features"
	"github.com/okian/revroute/internal/domain/history"
	"github.com/okian/revroute/internal/domain/model"
	"github.com/okian/revroute/internal/domain/operators"
	"github.com/okian/revroute/pkg/logger"
	"github.com/okian/revroute/pkg/metrics"
)

// DefaultProfile names the profile used when a task has no champion.
const DefaultProfile = "default"

// Profile is the operator configuration applied to one decision. Model
// and PromptVersion, when set, rebind operators that implement
// operators.Variant.
type Profile struct {
	Name          string                   `json:"name"`
	Operators     []operators.ID           `json:"operators"`
	Weights       map[operators.ID]float64 `json:"weights,omitempty"`
	Normalization Normalization            `json:"normalization"`
	Model         string                   `json:"model,omitempty"`
	PromptVersion string                   `json:"prompt_version,omitempty"`
}

// Weight returns the fusion weight of id, 1.0 unless configured.
func (p Profile) Weight(id operators.ID) float64 {
	if w, ok := p.Weights[id]; ok {
		return w
	}
	return 1.0
}

// ProfileFrom converts a registry ref into a profile.
func ProfileFrom(ref champion.Ref) (Profile, error) {
	ref, err := ref.Normalize()
	if err != nil {
		return Profile{}, err
	}
	n, err := ParseNormalization(ref.Normalization)
	if err != nil {
		return Profile{}, err
	}
	return Profile{
		Name:          ref.Name,
		Operators:     ref.Operators,
		Weights:       ref.Weights,
		Normalization: n,
		Model:         ref.Model,
		PromptVersion: ref.PromptVersion,
	}, nil
}

// Bind returns op as configured by p.
func (p Profile) Bind(op operators.Operator) operators.Operator {
	if p.Model == "" && p.PromptVersion == "" {
		return op
	}
	if v, ok := op.(operators.Variant); ok {
		return v.Variant(p.Model, p.PromptVersion)
	}
	return op
}

// Contribution is one operator's share of a candidate's fused score.
type Contribution struct {
	Operator   operators.ID `json:"operator"`
	Raw        float64      `json:"raw"`
	Normalized float64      `json:"normalized"`
	Weight     float64      `json:"weight"`
	Value      float64      `json:"value"`
}

// Ranked is one row of a decision.
type Ranked struct {
	Target        model.Target   `json:"target"`
	Score         float64        `json:"score"`
	Contributions []Contribution `json:"contributions,omitempty"`
	Evidence      []string       `json:"evidence,omitempty"`
}

// Skipped records a best-effort operator that failed.
type Skipped struct {
	Operator operators.ID `json:"operator"`
	Reason   string       `json:"reason"`
}

// Decision is the ranked output for one context. For fixed inputs it is
// identical across calls.
type Decision struct {
	Task          operators.TaskID                `json:"task"`
	Context       model.ScoringContext            `json:"context"`
	Profile       string                          `json:"profile"`
	Source        string                          `json:"source"`
	Normalization Normalization                   `json:"normalization"`
	Operators     []operators.ID                  `json:"operators"`
	Candidates    []Ranked                        `json:"candidates"`
	Features      map[features.Key]features.Value `json:"features,omitempty"`
	Audit         history.Audit                   `json:"audit"`
	Skipped       []Skipped                       `json:"skipped,omitempty"`
}

// Top returns the first n targets of the ranking.
func (d Decision) Top(n int) []model.Target {
	if n > len(d.Candidates) {
		n = len(d.Candidates)
	}
	out := make([]model.Target, 0, n)
	for _, c := range d.Candidates[:n] {
		out = append(out, c.Target)
	}
	return out
}

// Router runs operators for scoring contexts.
type Router struct {
	ops       *operators.Registry
	feats     *features.Registry
	events    history.Source
	champions champion.Store
	params    features.Params
	limit     int
	timeout   time.Duration
	norm      Normalization
	weights   map[operators.ID]float64
	log       logger.Logger
}

// New builds a router over the given registries and event source.
func New(ops *operators.Registry, feats *features.Registry, events history.Source, opts ...Option) *Router {
	r := &Router{
		ops:     ops,
		feats:   feats,
		events:  events,
		params:  features.DefaultParams(),
		limit:   4,
		timeout: 30 * time.Second,
		norm:    NormMinMax,
		log:     logger.For("router"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Profile returns the live profile of task: the champion's ref when one
// is promoted, otherwise every registered operator at the default weights.
func (r *Router) Profile(ctx context.Context, task operators.TaskID) (Profile, error) {
	if !r.ops.HasTask(task) {
		return Profile{}, failure(task, "", fmt.Errorf("%w: %s", ErrUnknownTask, task))
	}
	if r.champions != nil {
		ref, err := champion.Champion(ctx, r.champions, task)
		switch {
		case err == nil:
			p, err := ProfileFrom(ref)
			if err != nil {
				return Profile{}, failure(task, "", err)
			}
			return p, nil
		case !errors.Is(err, champion.ErrNoChampion):
			return Profile{}, failure(task, "", err)
		}
	}
	return Profile{Name: DefaultProfile, Operators: r.ops.IDs(task), Weights: r.weights, Normalization: r.norm}, nil
}

// Route ranks candidates for sc using the task's live profile.
func (r *Router) Route(ctx context.Context, task operators.TaskID, sc model.ScoringContext, source CandidateSource) (Decision, error) {
	p, err := r.Profile(ctx, task)
	if err != nil {
		metrics.RecordRoutingFailure(string(task), reason(err))
		return Decision{}, err
	}
	return r.RouteWithProfile(ctx, task, sc, source, p)
}

// RouteWithProfile ranks candidates for sc under an explicit profile. The
// evaluation harness uses it to replay challengers.
func (r *Router) RouteWithProfile(ctx context.Context, task operators.TaskID, sc model.ScoringContext, source CandidateSource, p Profile) (Decision, error) {
	start := time.Now()
	d, err := r.route(ctx, task, sc, source, p)
	if err != nil {
		metrics.RecordRoutingFailure(string(task), reason(err))
		r.log.Warn(ctx, "routing failed",
			logger.String("task", string(task)),
			logger.String("context", sc.String()),
			logger.Error(err))
		return Decision{}, err
	}
	took := time.Since(start)
	metrics.RecordRoutingDecision(string(task), len(d.Candidates), took)
	r.log.Debug(ctx, "routed",
		logger.String("task", string(task)),
		logger.String("context", sc.String()),
		logger.String("profile", d.Profile),
		logger.Int("candidates", len(d.Candidates)),
		logger.Duration("took", took))
	return d, nil
}

func (r *Router) route(ctx context.Context, task operators.TaskID, sc model.ScoringContext, source CandidateSource, p Profile) (Decision, error) {
	if !r.ops.HasTask(task) {
		return Decision{}, failure(task, "", fmt.Errorf("%w: %s", ErrUnknownTask, task))
	}
	if source == nil {
		source = Union(Mentions(), History())
	}
	if p.Normalization == "" {
		p.Normalization = r.norm
	}
	ids := append([]operators.ID(nil), p.Operators...)
	if len(ids) == 0 {
		ids = r.ops.IDs(task)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	ops := make([]operators.Operator, len(ids))
	for i, id := range ids {
		op, err := r.ops.Get(task, id)
		if err != nil {
			return Decision{}, failure(task, id, err)
		}
		ops[i] = p.Bind(op)
	}

	w, err := history.NewWindow(ctx, r.events, sc)
	if err != nil {
		return Decision{}, failure(task, "", err)
	}
	res := features.NewResolver(r.feats, sc, w, r.params)
	cands, err := r.candidates(ctx, source, res)
	if err != nil {
		return Decision{}, failure(task, "", err)
	}

	results := make([][]operators.Result, len(ops))
	var (
		mu      sync.Mutex
		skipped []Skipped
	)
	if len(cands) > 0 {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(r.limit)
		for i := range ops {
			g.Go(func() error {
				out, err := r.run(gctx, ids[i], ops[i], sc, cands, res)
				if err == nil {
					results[i] = out
					return nil
				}
				if operators.IsBestEffort(ops[i]) {
					metrics.RecordOperatorFailure(string(ids[i]), "skipped")
					r.log.Warn(gctx, "best-effort operator skipped",
						logger.String("operator", string(ids[i])),
						logger.Error(err))
					mu.Lock()
					skipped = append(skipped, Skipped{Operator: ids[i], Reason: err.Error()})
					mu.Unlock()
					return nil
				}
				metrics.RecordOperatorFailure(string(ids[i]), reason(err))
				return failure(task, ids[i], err)
			})
		}
		if err := g.Wait(); err != nil {
			return Decision{}, err
		}
	}
	sort.Slice(skipped, func(i, j int) bool { return skipped[i].Operator < skipped[j].Operator })

	d := Decision{
		Task:          task,
		Context:       sc,
		Profile:       p.Name,
		Source:        source.Name(),
		Normalization: p.Normalization,
		Features:      res.Trail(),
		Audit:         w.Audit(),
		Skipped:       skipped,
	}
	ran := make([]operators.ID, 0, len(ids))
	for _, id := range ids {
		if !isSkipped(skipped, id) {
			ran = append(ran, id)
		}
	}
	d.Operators = ran
	d.Candidates = fuse(cands, ids, results, skipped, p)
	return d, nil
}

// Candidates builds the cutoff-bounded resolver for sc and returns the
// candidate set source yields for it, author removed and sorted.
func (r *Router) Candidates(ctx context.Context, sc model.ScoringContext, source CandidateSource) ([]model.Target, *features.Resolver, error) {
	w, err := history.NewWindow(ctx, r.events, sc)
	if err != nil {
		return nil, nil, err
	}
	res := features.NewResolver(r.feats, sc, w, r.params)
	if source == nil {
		source = Union(Mentions(), History())
	}
	cands, err := r.candidates(ctx, source, res)
	if err != nil {
		return nil, nil, err
	}
	return cands, res, nil
}

// candidates runs source and removes the subject's author.
func (r *Router) candidates(ctx context.Context, source CandidateSource, lookup features.Lookup) ([]model.Target, error) {
	cands, err := source.Candidates(ctx, lookup)
	if err != nil {
		return nil, err
	}
	author, err := lookup.Lookup(ctx, features.PRAuthor)
	if err != nil {
		return nil, err
	}
	excluded := make(map[string]struct{}, len(author.Set))
	for _, k := range author.Set {
		excluded[k] = struct{}{}
	}
	out := make([]model.Target, 0, len(cands))
	for _, c := range cands {
		if _, ok := excluded[c.Key()]; ok {
			continue
		}
		out = append(out, c)
	}
	model.SortTargets(out)
	return out, nil
}

// run resolves op's features and scores under the per-operator timeout.
func (r *Router) run(ctx context.Context, id operators.ID, op operators.Operator, sc model.ScoringContext, cands []model.Target, res *features.Resolver) ([]operators.Result, error) {
	if err := res.Prefetch(ctx, op.Requires()); err != nil {
		return nil, err
	}
	opCtx, cancel := ctx, context.CancelFunc(func() {})
	if r.timeout > 0 {
		opCtx, cancel = context.WithTimeout(ctx, r.timeout)
	}
	defer cancel()

	start := time.Now()
	out, err := op.Score(opCtx, sc, cands, res)
	metrics.RecordOperatorLatency(string(id), time.Since(start))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil && !errors.Is(err, operators.ErrOperatorTimeout) {
			return nil, fmt.Errorf("%w: %s after %s", operators.ErrOperatorTimeout, id, r.timeout)
		}
		return nil, err
	}
	if err := operators.CheckResults(op, cands, out); err != nil {
		return nil, err
	}
	return out, nil
}

func isSkipped(skipped []Skipped, id operators.ID) bool {
	for _, s := range skipped {
		if s.Operator == id {
			return true
		}
	}
	return false
}

// fuse combines per-operator results into the final ranking. Operators
// are visited in id order so evidence and contributions are stable.
func fuse(cands []model.Target, ids []operators.ID, results [][]operators.Result, skipped []Skipped, p Profile) []Ranked {
	rows := make(map[model.Target]*Ranked, len(cands))
	out := make([]Ranked, len(cands))
	for i, c := range cands {
		out[i] = Ranked{Target: c}
		rows[c] = &out[i]
	}
	for i, id := range ids {
		if isSkipped(skipped, id) {
			continue
		}
		weight := p.Weight(id)
		norm := p.Normalization.Normalize(results[i])
		for _, res := range results[i] {
			row := rows[res.Candidate]
			v := weight * norm[res.Candidate]
			row.Score += v
			row.Contributions = append(row.Contributions, Contribution{
				Operator:   id,
				Raw:        res.Score,
				Normalized: norm[res.Candidate],
				Weight:     weight,
				Value:      v,
			})
			for _, e := range res.Evidence {
				row.Evidence = append(row.Evidence, string(id)+": "+e)
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return model.Less(out[i].Target, out[j].Target)
	})
	return out
}

// WithParams returns a router sharing r's registries and source but
// computing features with p.
func (r *Router) WithParams(p features.Params) *Router {
	cp := *r
	cp.params = p
	return &cp
}
