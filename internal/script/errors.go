package script

import "errors"

var (
	// ErrConditionFailed halts a sequence when a condition action
	// evaluates false. The run itself finishes without error.
	ErrConditionFailed = errors.New("script: condition failed")

	// ErrTimeout fails a sequence when a wait action times out and
	// continue_on_timeout is disabled.
	ErrTimeout = errors.New("script: wait timed out")

	// ErrStopped reports a stop action with error set.
	ErrStopped = errors.New("script: stopped with error")

	// ErrUnknownAction indicates an action whose shape matches no
	// known variant.
	ErrUnknownAction = errors.New("script: unknown action")
)

// errStop is flow control for the plain stop action. Run swallows it.
var errStop = errors.New("script: stop")
