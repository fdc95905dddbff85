package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/okian/revroute/internal/domain/champion"
	"github.com/okian/revroute/internal/domain/operators"
	"github.com/okian/revroute/pkg/logger"
)

type promoteRequest struct {
	Name string `json:"name"`
}

// RegistryHandler serves the champion/challenger registry.
type RegistryHandler struct {
	deps Dependencies
}

// NewRegistryHandler creates a new registry handler.
func NewRegistryHandler(deps Dependencies) *RegistryHandler {
	return &RegistryHandler{deps: deps}
}

// HandleGet handles GET /v1/registry/{task}.
func (h *RegistryHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	ctx := logger.WithRequestID(r.Context())
	st, err := h.deps.Registry(ctx, operators.TaskID(r.PathValue("task")))
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// HandleRegister handles POST /v1/registry/{task} with a candidate ref
// body. Re-registering an identical ref succeeds.
func (h *RegistryHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	ctx := logger.WithRequestID(r.Context())
	task := operators.TaskID(r.PathValue("task"))
	var ref champion.Ref
	if err := decode(r, &ref); err != nil {
		writeError(ctx, w, err)
		return
	}
	if err := h.deps.Register(ctx, task, ref); err != nil {
		writeError(ctx, w, err)
		return
	}
	st, err := h.deps.Registry(ctx, task)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusCreated, st)
}

// HandlePromote handles POST /v1/registry/{task}/promote.
func (h *RegistryHandler) HandlePromote(w http.ResponseWriter, r *http.Request) {
	ctx := logger.WithRequestID(r.Context())
	task := operators.TaskID(r.PathValue("task"))
	var req promoteRequest
	if err := decode(r, &req); err != nil {
		writeError(ctx, w, err)
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(ctx, w, fmt.Errorf("%w: missing name", ErrBadRequest))
		return
	}
	if err := h.deps.Promote(ctx, task, req.Name); err != nil {
		writeError(ctx, w, err)
		return
	}
	st, err := h.deps.Registry(ctx, task)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}
