package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/okian/revroute/internal/domain/eval"
	"github.com/okian/revroute/internal/domain/model"
	"github.com/okian/revroute/internal/domain/operators"
	"github.com/okian/revroute/pkg/logger"
)

// runRequest is the body of POST /v1/runs.
type runRequest struct {
	eval.RunConfig
	Force bool `json:"force"`
}

// runListItem is the summary row returned by GET /v1/runs.
type runListItem struct {
	ID        string           `json:"id"`
	Task      operators.TaskID `json:"task"`
	Candidate string           `json:"candidate,omitempty"`
	Profile   string           `json:"profile,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
	Summary   eval.Summary     `json:"summary"`
}

// RunsHandler serves the evaluation harness.
type RunsHandler struct {
	deps Dependencies
}

// NewRunsHandler creates a new runs handler.
func NewRunsHandler(deps Dependencies) *RunsHandler {
	return &RunsHandler{deps: deps}
}

// HandleCreate handles POST /v1/runs. A run with the same config is
// returned as stored unless force is set.
func (h *RunsHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := logger.WithRequestID(r.Context())
	var req runRequest
	if err := decode(r, &req); err != nil {
		writeError(ctx, w, err)
		return
	}
	cfg := req.RunConfig
	cfg.Force = req.Force
	run, err := h.deps.RunEval(ctx, cfg)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// HandleList handles GET /v1/runs?task=&repo=&limit=.
func (h *RunsHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	ctx := logger.WithRequestID(r.Context())
	q := r.URL.Query()
	f := eval.ListFilter{
		Task: operators.TaskID(q.Get("task")),
		Repo: q.Get("repo"),
	}
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			writeError(ctx, w, fmt.Errorf("%w: invalid limit %q", ErrBadRequest, s))
			return
		}
		f.Limit = n
	}
	runs, err := h.deps.ListRuns(ctx, f)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	out := make([]runListItem, 0, len(runs))
	for _, run := range runs {
		item := runListItem{
			ID:        run.ID,
			Task:      run.Config.Task,
			Candidate: run.Config.Candidate,
			CreatedAt: run.CreatedAt,
			Summary:   run.Summary,
		}
		if run.Config.Profile != nil {
			item.Profile = run.Config.Profile.Name
		}
		out = append(out, item)
	}
	writeJSON(w, http.StatusOK, out)
}

// HandleShow handles GET /v1/runs/{id}.
func (h *RunsHandler) HandleShow(w http.ResponseWriter, r *http.Request) {
	ctx := logger.WithRequestID(r.Context())
	run, err := h.deps.ShowRun(ctx, r.PathValue("id"))
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// HandleExplain handles
// GET /v1/runs/{id}/explain?repo=&entity_type=&entity_id=&cutoff=.
func (h *RunsHandler) HandleExplain(w http.ResponseWriter, r *http.Request) {
	ctx := logger.WithRequestID(r.Context())
	q := r.URL.Query()
	ref := eval.ContextRef{
		Repo:     q.Get("repo"),
		EntityID: q.Get("entity_id"),
	}
	if ref.Repo == "" || ref.EntityID == "" {
		writeError(ctx, w, fmt.Errorf("%w: repo and entity_id are required", ErrBadRequest))
		return
	}
	if s := q.Get("entity_type"); s != "" {
		et, err := model.ParseEntityType(s)
		if err != nil {
			writeError(ctx, w, err)
			return
		}
		ref.EntityType = et
	}
	if s := q.Get("cutoff"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			writeError(ctx, w, fmt.Errorf("%w: invalid cutoff; must be RFC3339", ErrBadRequest))
			return
		}
		ref.Cutoff = t
	}
	exp, err := h.deps.ExplainRun(ctx, r.PathValue("id"), ref)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, exp)
}
