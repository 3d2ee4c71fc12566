package state

import "errors"

// Domain errors for the state package.
var (
	// ErrStateUnavailable is returned when an operation requires a state
	// that is not present in the store.
	ErrStateUnavailable = errors.New("state: not present")
)
