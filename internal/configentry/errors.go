package configentry

import "errors"

var (
	// ErrNotFound indicates no entry exists for the given id.
	ErrNotFound = errors.New("configentry: entry not found")

	// ErrInvalidStateTransition indicates the requested lifecycle move is
	// not permitted from the entry's current state.
	ErrInvalidStateTransition = errors.New("configentry: invalid state transition")

	// ErrAlreadyConfigured indicates another entry in the domain already
	// claims the unique id.
	ErrAlreadyConfigured = errors.New("configentry: unique id already configured")

	// ErrDisabled indicates the entry is disabled and cannot be set up.
	ErrDisabled = errors.New("configentry: entry is disabled")

	// ErrNotReady is returned by integration setup to request a delayed
	// retry instead of a hard failure.
	ErrNotReady = errors.New("configentry: integration not ready")

	// ErrNoHandler indicates no integration is registered for the
	// entry's domain.
	ErrNoHandler = errors.New("configentry: no handler for domain")
)
