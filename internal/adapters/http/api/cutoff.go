package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/okian/revroute/internal/domain/eval"
	"github.com/okian/revroute/pkg/logger"
)

// cutoffRequest is the body of POST /v1/cutoff/check. Margin is a Go
// duration string such as "36h"; empty keeps the configured margin.
type cutoffRequest struct {
	Repo   string    `json:"repo"`
	Cutoff time.Time `json:"cutoff"`
	Margin string    `json:"margin"`
}

type cutoffResponse struct {
	Status    string    `json:"status"`
	Reason    string    `json:"reason"`
	Cutoff    time.Time `json:"cutoff"`
	Reference time.Time `json:"reference"`
	Margin    string    `json:"margin"`
}

// CutoffHandler serves the advisory horizon check.
type CutoffHandler struct {
	deps Dependencies
}

// NewCutoffHandler creates a new cutoff handler.
func NewCutoffHandler(deps Dependencies) *CutoffHandler {
	return &CutoffHandler{deps: deps}
}

// HandleCheck handles POST /v1/cutoff/check. A failed check is a normal
// 200 response with status "fail".
func (h *CutoffHandler) HandleCheck(w http.ResponseWriter, r *http.Request) {
	ctx := logger.WithRequestID(r.Context())
	var req cutoffRequest
	if err := decode(r, &req); err != nil {
		writeError(ctx, w, err)
		return
	}
	hr := eval.HorizonRequest{Repo: req.Repo, Cutoff: req.Cutoff}
	if req.Margin != "" {
		d, err := time.ParseDuration(req.Margin)
		if err != nil || d < 0 {
			writeError(ctx, w, fmt.Errorf("%w: invalid margin %q", ErrBadRequest, req.Margin))
			return
		}
		hr.Margin = d
	}
	res := h.deps.CheckHorizon(ctx, hr)
	writeJSON(w, http.StatusOK, cutoffResponse{
		Status:    res.Status,
		Reason:    res.Reason,
		Cutoff:    res.Cutoff,
		Reference: res.Reference,
		Margin:    res.Margin.String(),
	})
}
