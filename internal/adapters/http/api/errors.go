package api

import (
	"errors"
	"net/http"

	"github.com/okian/revroute/internal/domain/champion"
	"github.com/okian/revroute/internal/domain/eval"
	"github.com/okian/revroute/internal/domain/model"
	"github.com/okian/revroute/internal/domain/operators"
	"github.com/okian/revroute/internal/domain/router"
)

// Sentinel kinds for API errors.
var (
	ErrBadRequest = errors.New("bad request")
)

// Error codes returned in errorResponse.Code.
const (
	codeBadRequest = "bad_request"
	codeNotFound   = "not_found"
	codeConflict   = "conflict"
	codeTimeout    = "operator_timeout"
	codeRouting    = "routing_failure"
	codeLeakage    = "leakage_risk"
	codeInternal   = "internal"
)

// statusFor maps domain errors onto HTTP statuses.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, eval.ErrRunNotFound),
		errors.Is(err, eval.ErrContextNotFound),
		errors.Is(err, eval.ErrUnknownCandidate),
		errors.Is(err, champion.ErrUnregisteredCandidate):
		return http.StatusNotFound, codeNotFound
	case errors.Is(err, champion.ErrConflictingRef):
		return http.StatusConflict, codeConflict
	case errors.Is(err, eval.ErrLeakageRisk):
		return http.StatusUnprocessableEntity, codeLeakage
	case errors.Is(err, ErrBadRequest),
		errors.Is(err, eval.ErrInvalidConfig),
		errors.Is(err, eval.ErrNoReranker),
		errors.Is(err, model.ErrInvalidContext),
		errors.Is(err, model.ErrInvalidTarget),
		errors.Is(err, champion.ErrInvalidRef),
		errors.Is(err, router.ErrUnknownTask),
		errors.Is(err, router.ErrUnknownSource),
		errors.Is(err, router.ErrUnknownNormalization):
		return http.StatusBadRequest, codeBadRequest
	case errors.Is(err, operators.ErrOperatorTimeout):
		return http.StatusGatewayTimeout, codeTimeout
	case errors.Is(err, router.ErrRoutingFailure):
		return http.StatusBadGateway, codeRouting
	default:
		return http.StatusInternalServerError, codeInternal
	}
}
