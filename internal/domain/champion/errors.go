package champion

import "errors"

// Sentinel kinds for registry errors.
var (
	ErrUnregisteredCandidate = errors.New("unregistered candidate")
	ErrNoChampion            = errors.New("no champion")
	ErrInvalidRef            = errors.New("invalid candidate ref")
	ErrConflictingRef        = errors.New("candidate ref already registered with a different configuration")
)
