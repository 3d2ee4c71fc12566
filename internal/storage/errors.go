package storage

import "errors"

var (
	// ErrCorrupt indicates the file exists but is not a valid document.
	ErrCorrupt = errors.New("storage: corrupt document")

	// ErrUnsupportedVersion indicates the document was written by a newer
	// code version than this one.
	ErrUnsupportedVersion = errors.New("storage: unsupported document version")

	// ErrMigrationFailed indicates an old document could not be migrated
	// to the current version.
	ErrMigrationFailed = errors.New("storage: migration failed")
)
