package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/okian/revroute/internal/domain/eval"
	"github.com/okian/revroute/internal/domain/operators"
	"github.com/okian/revroute/pkg/logger"
)

// routeRequest is the body of POST /v1/route.
type routeRequest struct {
	Task       string    `json:"task"`
	Repo       string    `json:"repo"`
	EntityType string    `json:"entity_type"`
	EntityID   string    `json:"entity_id"`
	Cutoff     time.Time `json:"cutoff"`
	Source     string    `json:"source"`
	// Top truncates the ranking. Zero returns every candidate.
	Top int `json:"top"`
}

// RouteHandler serves live routing decisions.
type RouteHandler struct {
	deps Dependencies
}

// NewRouteHandler creates a new route handler.
func NewRouteHandler(deps Dependencies) *RouteHandler {
	return &RouteHandler{deps: deps}
}

// HandleRoute handles POST /v1/route.
func (h *RouteHandler) HandleRoute(w http.ResponseWriter, r *http.Request) {
	ctx := logger.WithRequestID(r.Context())
	var req routeRequest
	if err := decode(r, &req); err != nil {
		writeError(ctx, w, err)
		return
	}
	if req.Top < 0 {
		writeError(ctx, w, fmt.Errorf("%w: top must not be negative", ErrBadRequest))
		return
	}
	sc, err := eval.ContextSpec{
		Repo:       req.Repo,
		EntityType: req.EntityType,
		EntityID:   req.EntityID,
		Cutoff:     req.Cutoff,
	}.ScoringContext()
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	d, err := h.deps.Route(ctx, operators.TaskID(req.Task), sc, req.Source)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	if req.Top > 0 && len(d.Candidates) > req.Top {
		d.Candidates = d.Candidates[:req.Top]
	}
	writeJSON(w, http.StatusOK, d)
}
