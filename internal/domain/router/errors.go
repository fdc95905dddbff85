package router

import (
	"errors"
	"strings"

	"github.com/okian/revroute/internal/domain/features"
	"github.com/okian/revroute/internal/domain/operators"
)

// Sentinel kinds for routing errors.
var (
	ErrRoutingFailure       = errors.New("routing failure")
	ErrUnknownTask          = errors.New("unknown task")
	ErrUnknownNormalization = errors.New("unknown normalization policy")
	ErrUnknownSource        = errors.New("unknown candidate source")
)

// RoutingError names the operator or feature that aborted a decision.
// It matches ErrRoutingFailure and unwraps to the cause.
type RoutingError struct {
	Task     operators.TaskID
	Operator operators.ID
	Feature  features.Key
	Err      error
}

func (e *RoutingError) Error() string {
	var b strings.Builder
	b.WriteString("route ")
	b.WriteString(string(e.Task))
	if e.Operator != "" {
		b.WriteString(": operator ")
		b.WriteString(string(e.Operator))
	}
	if e.Feature != "" {
		b.WriteString(": feature ")
		b.WriteString(string(e.Feature))
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *RoutingError) Unwrap() error { return e.Err }

// Is makes every RoutingError match ErrRoutingFailure.
func (e *RoutingError) Is(target error) bool { return target == ErrRoutingFailure }

// failure builds a RoutingError, lifting the feature key out of err when
// one is present.
func failure(task operators.TaskID, op operators.ID, err error) *RoutingError {
	re := &RoutingError{Task: task, Operator: op, Err: err}
	var fe *features.Error
	if errors.As(err, &fe) {
		re.Feature = fe.Key
	}
	return re
}

// reason is the metrics label for a failure.
func reason(err error) string {
	switch {
	case errors.Is(err, ErrUnknownTask):
		return "unknown_task"
	case errors.Is(err, operators.ErrOperatorTimeout):
		return "timeout"
	case errors.Is(err, operators.ErrInvalidOutput):
		return "invalid_output"
	case errors.Is(err, operators.ErrUnknownOperator):
		return "unknown_operator"
	case errors.Is(err, features.ErrUnknownFeature):
		return "unknown_feature"
	}
	var fe *features.Error
	if errors.As(err, &fe) {
		return "feature"
	}
	return "operator"
}
