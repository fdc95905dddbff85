package operators

import "errors"

// Sentinel kinds for operator errors.
var (
	ErrUnknownOperator   = errors.New("unknown operator")
	ErrDuplicateOperator = errors.New("duplicate operator")
	ErrInvalidOutput     = errors.New("invalid operator output")
	ErrOperatorTimeout   = errors.New("operator timeout")
	ErrPromptNotFound    = errors.New("prompt not found")
)
