package model

import "errors"

// Sentinel kinds for model validation errors.
var (
	ErrInvalidContext = errors.New("invalid scoring context")
	ErrInvalidTarget  = errors.New("invalid candidate target")
)
