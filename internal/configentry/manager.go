package configentry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hearthhub/hearth-core/internal/core"
	"github.com/hearthhub/hearth-core/internal/storage"
)

const (
	storageKey          = "core.config_entries"
	storageVersion      = 1
	storageMinorVersion = 1

	retryBase = 5 * time.Second
)

// Logger defines the logging interface used by the Manager.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Handlers is the integration-side contract for one domain. Setup may
// return ErrNotReady (wrapped or bare) to request a delayed retry.
// Migrate must bring an entry with an older Version up to Version,
// mutating its Data in place.
type Handlers struct {
	Version      int
	MinorVersion int
	Setup        func(ctx context.Context, entry *Entry) error
	Unload       func(ctx context.Context, entry *Entry) error
	Migrate      func(ctx context.Context, entry *Entry) error
}

// Manager owns all config entries and drives their lifecycle.
type Manager struct {
	mu          sync.Mutex
	entries     map[string]*Entry
	byUnique    map[string]string
	handlers    map[string]Handlers
	retryTimers map[string]*time.Timer

	store   *storage.Store
	logger  Logger
	backoff func(tries int) time.Duration
}

// NewManager creates a config entry manager persisted under dir.
func NewManager(dir string) *Manager {
	return &Manager{
		entries:     make(map[string]*Entry),
		byUnique:    make(map[string]string),
		handlers:    make(map[string]Handlers),
		retryTimers: make(map[string]*time.Timer),
		store:       storage.NewStore(dir, storageKey, storageVersion, storageMinorVersion, nil),
		logger:      noopLogger{},
		backoff:     retryDelay,
	}
}

// retryDelay doubles per attempt, capped at 2^4 * 5s = 80s.
func retryDelay(tries int) time.Duration {
	if tries > 4 {
		tries = 4
	}
	return retryBase << tries
}

// SetLogger sets the logger for the manager and its storage document.
func (m *Manager) SetLogger(logger Logger) {
	m.logger = logger
	m.store.SetLogger(logger)
}

// RegisterDomain installs the lifecycle handlers for a domain.
func (m *Manager) RegisterDomain(domain string, h Handlers) {
	m.mu.Lock()
	m.handlers[domain] = h
	m.mu.Unlock()
}

func uniqueKey(domain, uniqueID string) string {
	return domain + "\x00" + uniqueID
}

type managerDocument struct {
	Entries []*Entry `json:"entries"`
}

// Load reads the persisted entries. Lifecycle state always starts over at
// not_loaded.
func (m *Manager) Load() error {
	var doc managerDocument
	if _, err := m.store.Load(&doc); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries = make(map[string]*Entry, len(doc.Entries))
	m.byUnique = make(map[string]string)
	for _, entry := range doc.Entries {
		entry.State = StateNotLoaded
		m.entries[entry.ID] = entry
		if entry.UniqueID != "" {
			m.byUnique[uniqueKey(entry.Domain, entry.UniqueID)] = entry.ID
		}
	}
	m.logger.Debug("config entries loaded", "entries", len(m.entries))
	return nil
}

// Add creates a new entry in not_loaded. A non-empty unique id must be
// unique within the domain.
func (m *Manager) Add(domain, title string, data, options map[string]any, uniqueID, source string) (*Entry, error) {
	m.mu.Lock()

	if uniqueID != "" {
		if existing, ok := m.byUnique[uniqueKey(domain, uniqueID)]; ok {
			m.mu.Unlock()
			return nil, fmt.Errorf("%w: %s/%s is entry %s", ErrAlreadyConfigured, domain, uniqueID, existing)
		}
	}

	version, minorVersion := 1, 1
	if h, ok := m.handlers[domain]; ok && h.Version > 0 {
		version, minorVersion = h.Version, h.MinorVersion
	}

	entry := &Entry{
		ID:           core.NewID(),
		Domain:       domain,
		Title:        title,
		Data:         copyMap(data),
		Options:      copyMap(options),
		UniqueID:     uniqueID,
		Version:      version,
		MinorVersion: minorVersion,
		Source:       source,
		State:        StateNotLoaded,
		CreatedAt:    time.Now().UTC(),
		ModifiedAt:   time.Now().UTC(),
	}
	m.entries[entry.ID] = entry
	if uniqueID != "" {
		m.byUnique[uniqueKey(domain, uniqueID)] = entry.ID
	}
	m.scheduleSaveLocked()
	m.mu.Unlock()

	m.logger.Debug("config entry added", "entry_id", entry.ID, "domain", domain, "title", title)
	return entry.Copy(), nil
}

// Get returns a copy of the entry, or nil.
func (m *Manager) Get(id string) *Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entries[id].Copy()
}

// GetByUniqueID looks an entry up by domain and unique id.
func (m *Manager) GetByUniqueID(domain, uniqueID string) *Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entries[m.byUnique[uniqueKey(domain, uniqueID)]].Copy()
}

// List returns all entries sorted by domain, then title.
func (m *Manager) List() []*Entry {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*Entry, 0, len(m.entries))
	for _, entry := range m.entries {
		out = append(out, entry.Copy())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Domain != out[j].Domain {
			return out[i].Domain < out[j].Domain
		}
		return out[i].Title < out[j].Title
	})
	return out
}

// ForDomain returns the entries of one domain sorted by title.
func (m *Manager) ForDomain(domain string) []*Entry {
	var out []*Entry
	for _, entry := range m.List() {
		if entry.Domain == domain {
			out = append(out, entry)
		}
	}
	return out
}

// Len returns the number of entries.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Setup moves an entry through setup_in_progress into loaded, or into
// setup_error / setup_retry / migration_error on failure. A setup_retry
// outcome schedules an automatic retry with exponential backoff.
func (m *Manager) Setup(ctx context.Context, id string) error {
	m.mu.Lock()
	entry, ok := m.entries[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if entry.DisabledBy != "" {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDisabled, id)
	}
	if err := entry.transition(StateSetupInProgress); err != nil {
		m.mu.Unlock()
		return err
	}
	m.cancelRetryLocked(id)
	h, hasHandler := m.handlers[entry.Domain]
	work := entry.Copy()
	m.mu.Unlock()

	if !hasHandler {
		m.finalize(id, StateSetupError, "no handler for domain "+work.Domain)
		return fmt.Errorf("%w: %s", ErrNoHandler, work.Domain)
	}

	if h.Version > 0 && work.Version != h.Version {
		if err := m.migrate(ctx, id, work, h); err != nil {
			return err
		}
	}

	err := h.Setup(ctx, work)
	switch {
	case err == nil:
		m.finalize(id, StateLoaded, "")
		m.mu.Lock()
		if entry, ok := m.entries[id]; ok {
			entry.setupTries = 0
		}
		m.mu.Unlock()
		m.logger.Debug("config entry loaded", "entry_id", id, "domain", work.Domain)
		return nil

	case errors.Is(err, ErrNotReady):
		m.scheduleRetry(id, err)
		return nil

	default:
		m.finalize(id, StateSetupError, err.Error())
		m.logger.Error("config entry setup failed", "entry_id", id, "domain", work.Domain, "error", err)
		return fmt.Errorf("configentry: setup %s: %w", id, err)
	}
}

// migrate brings the entry's data to the handler's schema version. The
// entry lands in migration_error when no path exists or the handler fails.
func (m *Manager) migrate(ctx context.Context, id string, work *Entry, h Handlers) error {
	if work.Version > h.Version || h.Migrate == nil {
		m.finalize(id, StateMigrationError,
			fmt.Sprintf("no migration from version %d.%d to %d.%d",
				work.Version, work.MinorVersion, h.Version, h.MinorVersion))
		return fmt.Errorf("configentry: migrate %s: no path from version %d to %d", id, work.Version, h.Version)
	}

	if err := h.Migrate(ctx, work); err != nil {
		m.finalize(id, StateMigrationError, err.Error())
		m.logger.Error("config entry migration failed", "entry_id", id, "error", err)
		return fmt.Errorf("configentry: migrate %s: %w", id, err)
	}

	m.mu.Lock()
	if entry, ok := m.entries[id]; ok {
		entry.Data = copyMap(work.Data)
		entry.Version = h.Version
		entry.MinorVersion = h.MinorVersion
		entry.ModifiedAt = time.Now().UTC()
		m.scheduleSaveLocked()
	}
	m.mu.Unlock()
	m.logger.Debug("config entry migrated", "entry_id", id, "version", h.Version)
	return nil
}

// scheduleRetry parks the entry in setup_retry and arms the backoff timer.
func (m *Manager) scheduleRetry(id string, cause error) {
	m.mu.Lock()
	entry, ok := m.entries[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	entry.State = StateSetupRetry
	entry.Reason = cause.Error()
	entry.setupTries++
	delay := m.backoff(entry.setupTries)
	tries := entry.setupTries

	m.cancelRetryLocked(id)
	m.retryTimers[id] = time.AfterFunc(delay, func() {
		if err := m.Setup(context.Background(), id); err != nil {
			m.logger.Error("config entry retry failed", "entry_id", id, "error", err)
		}
	})
	m.mu.Unlock()

	m.logger.Warn("config entry not ready, retrying",
		"entry_id", id,
		"attempt", tries,
		"retry_in", delay.String(),
		"reason", cause.Error(),
	)
}

// cancelRetryLocked disarms a pending retry. Callers hold m.mu.
func (m *Manager) cancelRetryLocked(id string) {
	if timer, ok := m.retryTimers[id]; ok {
		timer.Stop()
		delete(m.retryTimers, id)
	}
}

// finalize commits the outcome of an in-progress transition.
func (m *Manager) finalize(id string, next State, reason string) {
	m.mu.Lock()
	if entry, ok := m.entries[id]; ok {
		entry.State = next
		entry.Reason = reason
	}
	m.mu.Unlock()
}

// Unload moves an entry back to not_loaded through unload_in_progress.
// The domain's unload handler runs only when the entry was loaded; an
// entry parked in setup_error or setup_retry has nothing to tear down.
func (m *Manager) Unload(ctx context.Context, id string) error {
	m.mu.Lock()
	entry, ok := m.entries[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	wasLoaded := entry.State == StateLoaded
	if err := entry.transition(StateUnloadInProgress); err != nil {
		m.mu.Unlock()
		return err
	}
	m.cancelRetryLocked(id)
	entry.setupTries = 0
	h, hasHandler := m.handlers[entry.Domain]
	work := entry.Copy()
	m.mu.Unlock()

	if wasLoaded && hasHandler && h.Unload != nil {
		if err := h.Unload(ctx, work); err != nil {
			m.finalize(id, StateFailedUnload, err.Error())
			m.logger.Error("config entry unload failed", "entry_id", id, "domain", work.Domain, "error", err)
			return fmt.Errorf("configentry: unload %s: %w", id, err)
		}
	}

	m.finalize(id, StateNotLoaded, "")
	m.logger.Debug("config entry unloaded", "entry_id", id, "domain", work.Domain)
	return nil
}

// Reload unloads then sets up again. A failure at either phase leaves the
// entry in that phase's error state.
func (m *Manager) Reload(ctx context.Context, id string) error {
	if err := m.Unload(ctx, id); err != nil {
		return err
	}
	return m.Setup(ctx, id)
}

// Remove unloads the entry if needed and deletes it. Returns the removed
// entry so the caller can cascade to the entity and device registries.
func (m *Manager) Remove(ctx context.Context, id string) (*Entry, error) {
	m.mu.Lock()
	entry, ok := m.entries[id]
	if !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	needsUnload := entry.State == StateLoaded || entry.State == StateSetupRetry || entry.State == StateSetupError
	m.mu.Unlock()

	if needsUnload {
		if err := m.Unload(ctx, id); err != nil {
			return nil, err
		}
	}

	m.mu.Lock()
	entry, ok = m.entries[id]
	if !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	m.cancelRetryLocked(id)
	delete(m.entries, id)
	if entry.UniqueID != "" {
		delete(m.byUnique, uniqueKey(entry.Domain, entry.UniqueID))
	}
	m.scheduleSaveLocked()
	m.mu.Unlock()

	m.logger.Debug("config entry removed", "entry_id", id, "domain", entry.Domain)
	return entry.Copy(), nil
}

// SetDisabled disables or re-enables an entry. Disabling a loaded entry
// unloads it first; enabling sets the entry up again.
func (m *Manager) SetDisabled(ctx context.Context, id, disabledBy string) error {
	m.mu.Lock()
	entry, ok := m.entries[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if entry.DisabledBy == disabledBy {
		m.mu.Unlock()
		return nil
	}
	active := entry.State == StateLoaded || entry.State == StateSetupRetry
	m.mu.Unlock()

	if disabledBy != "" && active {
		if err := m.Unload(ctx, id); err != nil {
			return err
		}
	}

	m.mu.Lock()
	entry, ok = m.entries[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	entry.DisabledBy = disabledBy
	entry.ModifiedAt = time.Now().UTC()
	m.scheduleSaveLocked()
	m.mu.Unlock()

	if disabledBy == "" {
		return m.Setup(ctx, id)
	}
	return nil
}

// UpdateOptions replaces the entry's options blob and persists it.
func (m *Manager) UpdateOptions(id string, options map[string]any) (*Entry, error) {
	m.mu.Lock()
	entry, ok := m.entries[id]
	if !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	entry.Options = copyMap(options)
	entry.ModifiedAt = time.Now().UTC()
	m.scheduleSaveLocked()
	out := entry.Copy()
	m.mu.Unlock()
	return out, nil
}

// scheduleSaveLocked debounces a flush. Callers hold m.mu.
func (m *Manager) scheduleSaveLocked() {
	m.store.DelayedSave(m.snapshot, storage.DefaultDelay)
}

func (m *Manager) snapshot() any {
	m.mu.Lock()
	defer m.mu.Unlock()

	doc := managerDocument{Entries: make([]*Entry, 0, len(m.entries))}
	for _, entry := range m.entries {
		doc.Entries = append(doc.Entries, entry.Copy())
	}
	sort.Slice(doc.Entries, func(i, j int) bool { return doc.Entries[i].ID < doc.Entries[j].ID })
	return doc
}

// Flush writes any pending changes to disk immediately.
func (m *Manager) Flush() error {
	return m.store.Flush()
}

// Shutdown cancels all pending retries and flushes.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	for id, timer := range m.retryTimers {
		timer.Stop()
		delete(m.retryTimers, id)
	}
	m.mu.Unlock()
	return m.store.Flush()
}
