package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	// DefaultDelay is the quiet period for DelayedSave.
	DefaultDelay = 500 * time.Millisecond

	flushRetries      = 5
	flushRetryBase    = 250 * time.Millisecond
	flushRetryCeiling = 10 * time.Second
)

// Logger defines the logging interface used by the Store.
type Logger interface {
	Debug(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Error(string, ...any) {}

// MigrateFunc transforms a document payload written by an older code
// version into the current shape.
type MigrateFunc func(version, minorVersion int, data json.RawMessage) (json.RawMessage, error)

// document is the on-disk envelope.
type document struct {
	Version      int             `json:"version"`
	MinorVersion int             `json:"minor_version"`
	Key          string          `json:"key"`
	Data         json.RawMessage `json:"data"`
}

// Store reads and writes one versioned document under the storage
// directory. The filename equals the key.
type Store struct {
	dir          string
	key          string
	version      int
	minorVersion int
	migrate      MigrateFunc
	logger       Logger

	mu       sync.Mutex
	timer    *time.Timer
	provider func() any
}

// NewStore creates a store for the given key at the current document
// version. migrate may be nil when no prior versions exist.
func NewStore(dir, key string, version, minorVersion int, migrate MigrateFunc) *Store {
	return &Store{
		dir:          dir,
		key:          key,
		version:      version,
		minorVersion: minorVersion,
		migrate:      migrate,
		logger:       noopLogger{},
	}
}

// SetLogger sets the logger for the store.
func (s *Store) SetLogger(logger Logger) {
	s.logger = logger
}

// Key returns the storage key.
func (s *Store) Key() string {
	return s.key
}

// Path returns the document's path on disk.
func (s *Store) Path() string {
	return filepath.Join(s.dir, s.key)
}

// Load reads the document into v. Returns false with a nil error when no
// file exists yet. Invalid JSON or an envelope for a different key surfaces
// ErrCorrupt; a version above the current one ErrUnsupportedVersion; a
// version below it runs the migration function.
func (s *Store) Load(v any) (bool, error) {
	raw, err := os.ReadFile(s.Path())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("storage: read %s: %w", s.key, err)
	}

	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return false, fmt.Errorf("%w: %s: %v", ErrCorrupt, s.key, err)
	}
	if doc.Key != "" && doc.Key != s.key {
		return false, fmt.Errorf("%w: %s holds key %q", ErrCorrupt, s.key, doc.Key)
	}
	if doc.Version > s.version {
		return false, fmt.Errorf("%w: %s is version %d, current is %d",
			ErrUnsupportedVersion, s.key, doc.Version, s.version)
	}

	data := doc.Data
	if doc.Version < s.version || doc.MinorVersion < s.minorVersion {
		if doc.Version < s.version && s.migrate == nil {
			return false, fmt.Errorf("%w: %s has no migration from version %d",
				ErrMigrationFailed, s.key, doc.Version)
		}
		if s.migrate != nil {
			migrated, err := s.migrate(doc.Version, doc.MinorVersion, data)
			if err != nil {
				return false, fmt.Errorf("%w: %s from version %d.%d: %v",
					ErrMigrationFailed, s.key, doc.Version, doc.MinorVersion, err)
			}
			data = migrated
		}
		// A minor-version gap without a migration func is additive; new
		// fields take their zero values on decode.
	}

	if len(data) > 0 {
		if err := json.Unmarshal(data, v); err != nil {
			return false, fmt.Errorf("%w: %s payload: %v", ErrCorrupt, s.key, err)
		}
	}
	return true, nil
}

// Save writes the document immediately using the atomic write protocol.
// Any pending delayed save is superseded.
func (s *Store) Save(data any) error {
	s.mu.Lock()
	s.cancelPendingLocked()
	s.mu.Unlock()
	return s.write(data)
}

// DelayedSave schedules a save after a quiet period. Repeated calls within
// the period replace the provider and push the deadline out. The provider
// runs when the timer fires, so it must serialise a consistent snapshot.
func (s *Store) DelayedSave(provider func() any, delay time.Duration) {
	if delay <= 0 {
		delay = DefaultDelay
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.provider = provider
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(delay, s.flushDelayed)
}

// Flush runs any pending delayed save now and returns its result.
func (s *Store) Flush() error {
	s.mu.Lock()
	provider := s.provider
	s.cancelPendingLocked()
	s.mu.Unlock()

	if provider == nil {
		return nil
	}
	return s.write(provider())
}

// Remove deletes the document from disk and cancels any pending save.
func (s *Store) Remove() error {
	s.mu.Lock()
	s.cancelPendingLocked()
	s.mu.Unlock()

	if err := os.Remove(s.Path()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("storage: remove %s: %w", s.key, err)
	}
	return nil
}

// cancelPendingLocked drops the pending delayed save. Callers hold s.mu.
func (s *Store) cancelPendingLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.provider = nil
}

// flushDelayed runs on the debounce timer. IO failures are retried with
// exponential backoff up to a cap; the data is re-serialised per attempt.
func (s *Store) flushDelayed() {
	s.mu.Lock()
	provider := s.provider
	s.provider = nil
	s.timer = nil
	s.mu.Unlock()

	if provider == nil {
		return
	}

	delay := flushRetryBase
	for attempt := 1; ; attempt++ {
		err := s.write(provider())
		if err == nil {
			return
		}
		s.logger.Error("delayed save failed",
			"key", s.key,
			"attempt", attempt,
			"error", err,
		)
		if attempt >= flushRetries {
			return
		}
		time.Sleep(delay)
		delay *= 2
		if delay > flushRetryCeiling {
			delay = flushRetryCeiling
		}
	}
}

// write serialises the envelope and performs the temp-fsync-rename dance.
func (s *Store) write(data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("storage: encode %s: %w", s.key, err)
	}

	doc := document{
		Version:      s.version,
		MinorVersion: s.minorVersion,
		Key:          s.key,
		Data:         payload,
	}
	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("storage: encode %s: %w", s.key, err)
	}

	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("storage: create %s: %w", s.dir, err)
	}

	tmp, err := os.CreateTemp(s.dir, s.key+".*.tmp")
	if err != nil {
		return fmt.Errorf("storage: temp file for %s: %w", s.key, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("storage: write %s: %w", s.key, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("storage: sync %s: %w", s.key, err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("storage: chmod %s: %w", s.key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("storage: close %s: %w", s.key, err)
	}
	if err := os.Rename(tmpName, s.Path()); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("storage: rename %s: %w", s.key, err)
	}

	s.logger.Debug("document saved", "key", s.key, "bytes", len(raw))
	return nil
}
