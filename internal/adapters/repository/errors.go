package repository

import "errors"

// Sentinel kinds for run storage errors.
var (
	ErrClosed     = errors.New("run store closed")
	ErrInvalidRun = errors.New("invalid run")
)
