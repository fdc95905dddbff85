package features

import (
	"errors"
	"fmt"
)

// Sentinel kinds for feature errors.
var (
	ErrUnknownFeature   = errors.New("unknown feature")
	ErrDuplicateFeature = errors.New("duplicate feature")
	ErrInvalidFeature   = errors.New("invalid feature")
)

// Error ties a resolution failure to the feature that caused it.
type Error struct {
	Key Key
	Err error
}

func (e *Error) Error() string { return fmt.Sprintf("feature %s: %v", e.Key, e.Err) }

func (e *Error) Unwrap() error { return e.Err }
