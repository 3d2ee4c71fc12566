package registry

import "errors"

var (
	// ErrNotFound indicates no entry exists for the given id.
	ErrNotFound = errors.New("registry: entry not found")

	// ErrNameTaken indicates another entry already uses the normalised name.
	ErrNameTaken = errors.New("registry: name already in use")

	// ErrEntityIDTaken indicates the requested entity id is already
	// registered to a different unique id.
	ErrEntityIDTaken = errors.New("registry: entity id already registered")
)
