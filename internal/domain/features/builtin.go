package features

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/okian/revroute/internal/domain/history"
	"github.com/okian/revroute/internal/domain/model"
)

// Builtins returns the definitions shipped with the engine.
func Builtins() []Definition {
	return []Definition{
		{Key: PRMentions, Kind: KindSet, Description: "targets @-mentioned on the entity", Compute: computeMentions},
		{Key: PRAuthor, Kind: KindSet, Description: "author of the entity", Compute: computeAuthor},
		{Key: PRBoundarySet, Kind: KindSet, Description: "ownership boundaries touched by the entity", Compute: computeBoundarySet},
		{Key: PRBoundaryCount, Kind: KindScalar, Description: "number of boundaries touched", Compute: computeBoundaryCount},
		{Key: PairBoundaryAffinity, Kind: KindVector, Description: "decayed review activity on overlapping boundaries", Compute: computeBoundaryAffinity},
		{Key: PairRecency, Kind: KindVector, Description: "decayed recency of each reviewer's last review", Compute: computeRecency},
		{Key: SimNeighborReviewers, Kind: KindVector, Description: "reviewers of path-similar entities", Compute: computeNeighborReviewers},
	}
}

// RegisterBuiltins registers every built-in feature on reg.
func RegisterBuiltins(reg *Registry) error {
	for _, def := range Builtins() {
		if err := reg.Register(def); err != nil {
			return err
		}
	}
	return nil
}

type entityRef struct {
	Type model.EntityType
	ID   string
}

func (r entityRef) less(o entityRef) bool {
	if r.Type != o.Type {
		return r.Type < o.Type
	}
	return r.ID < o.ID
}

type review struct {
	actor string
	at    time.Time
}

type entity struct {
	ref        entityRef
	author     string
	openedAt   time.Time
	paths      map[string]struct{}
	boundaries map[string]struct{}
	reviews    []review
}

// reviewers lists distinct non-author reviewers in first-seen order.
func (e *entity) reviewers() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, r := range e.reviews {
		if _, ok := seen[r.actor]; ok {
			continue
		}
		seen[r.actor] = struct{}{}
		out = append(out, r.actor)
	}
	return out
}

// index is the per-window digest shared by the built-in features.
type index struct {
	once     sync.Once
	entities map[entityRef]*entity
	refs     []entityRef
	lastSeen map[string]time.Time
}

func (in Input) index() *index {
	idx := in.idx
	if idx == nil {
		idx = &index{}
	}
	idx.once.Do(func() { idx.build(in.Window) })
	return idx
}

func (x *index) build(w *history.Window) {
	x.entities = make(map[entityRef]*entity)
	x.lastSeen = make(map[string]time.Time)
	if w == nil {
		return
	}
	evs := w.Events()
	get := func(e *model.Event) *entity {
		ref := entityRef{Type: e.SubjectType, ID: e.SubjectID}
		ent, ok := x.entities[ref]
		if !ok {
			ent = &entity{ref: ref, paths: map[string]struct{}{}, boundaries: map[string]struct{}{}}
			x.entities[ref] = ent
			x.refs = append(x.refs, ref)
		}
		return ent
	}
	for i := range evs {
		e := &evs[i]
		ent := get(e)
		if e.Type == model.EventOpened && ent.author == "" {
			ent.author = e.Actor
			ent.openedAt = e.OccurredAt
		}
		for _, p := range e.Paths {
			ent.paths[p] = struct{}{}
			ent.boundaries[Boundary(p)] = struct{}{}
		}
	}
	// reviews are attributed once every author is known
	for i := range evs {
		e := &evs[i]
		if e.Type != model.EventReviewSubmitted && e.Type != model.EventCommented {
			continue
		}
		ent := x.entities[entityRef{Type: e.SubjectType, ID: e.SubjectID}]
		if e.Actor == "" || e.Actor == ent.author {
			continue
		}
		ent.reviews = append(ent.reviews, review{actor: e.Actor, at: e.OccurredAt})
		if e.OccurredAt.After(x.lastSeen[e.Actor]) {
			x.lastSeen[e.Actor] = e.OccurredAt
		}
	}
	sort.Slice(x.refs, func(i, j int) bool { return x.refs[i].less(x.refs[j]) })
}

func (x *index) subject(sc model.ScoringContext) *entity {
	return x.entities[entityRef{Type: sc.EntityType, ID: sc.EntityID}]
}

func userKey(login string) string { return model.User(login).Key() }

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func computeMentions(_ context.Context, in Input) (Value, error) {
	var keys []string
	for _, e := range in.Window.Subject(in.Context.EntityType, in.Context.EntityID) {
		switch e.Type {
		case model.EventOpened, model.EventEdited, model.EventCommented, model.EventReviewSubmitted:
		default:
			continue
		}
		for _, t := range model.ExtractMentions(e.Title + "\n" + e.Body) {
			keys = append(keys, t.Key())
		}
	}
	return Set(keys...), nil
}

func computeAuthor(_ context.Context, in Input) (Value, error) {
	ent := in.index().subject(in.Context)
	if ent == nil || ent.author == "" {
		return Set(), nil
	}
	return Set(userKey(ent.author)), nil
}

func computeBoundarySet(_ context.Context, in Input) (Value, error) {
	ent := in.index().subject(in.Context)
	if ent == nil {
		return Set(), nil
	}
	return Set(sortedKeys(ent.boundaries)...), nil
}

func computeBoundaryCount(_ context.Context, in Input) (Value, error) {
	ent := in.index().subject(in.Context)
	if ent == nil {
		return Scalar(0), nil
	}
	return Scalar(float64(len(ent.boundaries))), nil
}

func computeBoundaryAffinity(ctx context.Context, in Input) (Value, error) {
	idx := in.index()
	subj := idx.subject(in.Context)
	if subj == nil || len(subj.boundaries) == 0 {
		return Vector(nil), nil
	}
	cutoff := in.Window.Cutoff()
	out := make(map[string]float64)
	for _, ref := range idx.refs {
		if err := ctx.Err(); err != nil {
			return Value{}, err
		}
		ent := idx.entities[ref]
		if ent == subj || len(ent.reviews) == 0 {
			continue
		}
		shared := 0
		for b := range ent.boundaries {
			if _, ok := subj.boundaries[b]; ok {
				shared++
			}
		}
		if shared == 0 {
			continue
		}
		overlap := float64(shared) / float64(len(subj.boundaries))
		for _, r := range ent.reviews {
			out[userKey(r.actor)] += overlap * DecayWeight(AgeDays(cutoff, r.at), in.Params.HalfLifeDays)
		}
	}
	return Vector(out), nil
}

func computeRecency(_ context.Context, in Input) (Value, error) {
	idx := in.index()
	cutoff := in.Window.Cutoff()
	out := make(map[string]float64, len(idx.lastSeen))
	for login, at := range idx.lastSeen {
		out[userKey(login)] = DecayWeight(AgeDays(cutoff, at), in.Params.HalfLifeDays)
	}
	return Vector(out), nil
}

func computeNeighborReviewers(ctx context.Context, in Input) (Value, error) {
	idx := in.index()
	subj := idx.subject(in.Context)
	if subj == nil || len(subj.paths) == 0 {
		return Vector(nil), nil
	}
	type neighbor struct {
		ent *entity
		sim float64
	}
	var ns []neighbor
	for _, ref := range idx.refs {
		if err := ctx.Err(); err != nil {
			return Value{}, err
		}
		ent := idx.entities[ref]
		if ent == subj || len(ent.reviews) == 0 {
			continue
		}
		if sim := Jaccard(subj.paths, ent.paths); sim > 0 {
			ns = append(ns, neighbor{ent: ent, sim: sim})
		}
	}
	// idx.refs is already ordered, so a stable sort keeps ties deterministic
	sort.SliceStable(ns, func(i, j int) bool { return ns[i].sim > ns[j].sim })
	if n := in.Params.NeighborCount; n > 0 && len(ns) > n {
		ns = ns[:n]
	}
	out := make(map[string]float64)
	for _, n := range ns {
		for _, login := range n.ent.reviewers() {
			out[userKey(login)] += n.sim
		}
	}
	return Vector(out), nil
}
