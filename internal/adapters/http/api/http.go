// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/okian/revroute/internal/domain/champion"
	"github.com/okian/revroute/internal/domain/eval"
	"github.com/okian/revroute/internal/domain/model"
	"github.com/okian/revroute/internal/domain/operators"
	"github.com/okian/revroute/internal/domain/router"
	"github.com/okian/revroute/pkg/logger"
)

// maxBodyBytes caps request bodies. Run configs with many contexts are the
// largest payloads.
const maxBodyBytes = 4 << 20

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	Route(ctx context.Context, task operators.TaskID, sc model.ScoringContext, source string) (router.Decision, error)

	RunEval(ctx context.Context, cfg eval.RunConfig) (eval.Run, error)
	ShowRun(ctx context.Context, id string) (eval.Run, error)
	ListRuns(ctx context.Context, f eval.ListFilter) ([]eval.Run, error)
	ExplainRun(ctx context.Context, id string, ref eval.ContextRef) (eval.Explanation, error)

	CheckHorizon(ctx context.Context, req eval.HorizonRequest) eval.HorizonResult

	Register(ctx context.Context, task operators.TaskID, ref champion.Ref) error
	Promote(ctx context.Context, task operators.TaskID, name string) error
	Registry(ctx context.Context, task operators.TaskID) (champion.State, error)
}

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler   *HealthHandler
	statsHandler    *StatsHandler
	routeHandler    *RouteHandler
	runsHandler     *RunsHandler
	cutoffHandler   *CutoffHandler
	registryHandler *RegistryHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, statsProvider StatsProvider) *Server {
	return &Server{
		healthHandler:   NewHealthHandler(),
		statsHandler:    NewStatsHandler(statsProvider),
		routeHandler:    NewRouteHandler(deps),
		runsHandler:     NewRunsHandler(deps),
		cutoffHandler:   NewCutoffHandler(deps),
		registryHandler: NewRegistryHandler(deps),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	if mux == nil {
		panic("mux is nil")
	}
	mux.HandleFunc("GET /healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("GET /metrics", s.healthHandler.HandleMetrics)
	mux.HandleFunc("GET /stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))

	mux.HandleFunc("POST /v1/route", MetricsMiddleware(s.routeHandler.HandleRoute, "route"))

	mux.HandleFunc("POST /v1/runs", MetricsMiddleware(s.runsHandler.HandleCreate, "runs_create"))
	mux.HandleFunc("GET /v1/runs", MetricsMiddleware(s.runsHandler.HandleList, "runs_list"))
	mux.HandleFunc("GET /v1/runs/{id}", MetricsMiddleware(s.runsHandler.HandleShow, "runs_show"))
	mux.HandleFunc("GET /v1/runs/{id}/explain", MetricsMiddleware(s.runsHandler.HandleExplain, "runs_explain"))

	mux.HandleFunc("POST /v1/cutoff/check", MetricsMiddleware(s.cutoffHandler.HandleCheck, "cutoff_check"))

	mux.HandleFunc("GET /v1/registry/{task}", MetricsMiddleware(s.registryHandler.HandleGet, "registry_get"))
	mux.HandleFunc("POST /v1/registry/{task}", MetricsMiddleware(s.registryHandler.HandleRegister, "registry_register"))
	mux.HandleFunc("POST /v1/registry/{task}/promote", MetricsMiddleware(s.registryHandler.HandlePromote, "registry_promote"))
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps err onto a status and logs server-side failures.
func writeError(ctx context.Context, w http.ResponseWriter, err error) {
	status, code := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.For("api").Error(ctx, "request failed", logger.Int("status", status), logger.Error(err))
	}
	writeJSON(w, status, errorResponse{Code: code, Message: err.Error()})
}

// decode reads a JSON body into v. Unknown fields are rejected.
func decode(r *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("%w: read body: %v", ErrBadRequest, err)
	}
	if len(body) == 0 {
		return fmt.Errorf("%w: empty body", ErrBadRequest)
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	return nil
}
