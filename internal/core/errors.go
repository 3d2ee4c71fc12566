package core

import "errors"

// Domain errors for the core package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, core.ErrInvalidEntityID) {
//	    // handle malformed id
//	}
var (
	// ErrInvalidEntityID is returned when an entity id string fails validation.
	ErrInvalidEntityID = errors.New("core: invalid entity id")

	// ErrInvalidEventType is returned when an event type string is empty.
	ErrInvalidEventType = errors.New("core: invalid event type")
)
