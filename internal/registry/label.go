package registry

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hearthhub/hearth-core/internal/core"
	"github.com/hearthhub/hearth-core/internal/storage"
)

// LabelEntry is a registered label.
type LabelEntry struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Icon        string    `json:"icon,omitempty"`
	Color       string    `json:"color,omitempty"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	ModifiedAt  time.Time `json:"modified_at"`
}

// Copy returns a copy of the entry.
func (e *LabelEntry) Copy() *LabelEntry {
	if e == nil {
		return nil
	}
	clone := *e
	return &clone
}

type labelDocument struct {
	Labels []*LabelEntry `json:"labels"`
}

// LabelRegistry holds the registered labels.
type LabelRegistry struct {
	mu      sync.RWMutex
	entries map[string]*LabelEntry
	byName  map[string]string

	store  *storage.Store
	bus    EventBus
	logger Logger
}

// NewLabelRegistry creates a label registry persisted under dir.
func NewLabelRegistry(dir string, bus EventBus) *LabelRegistry {
	if bus == nil {
		bus = noopBus{}
	}
	return &LabelRegistry{
		entries: make(map[string]*LabelEntry),
		byName:  make(map[string]string),
		store:   storage.NewStore(dir, labelStorageKey, storageVersion, storageMinorVersion, nil),
		bus:     bus,
		logger:  noopLogger{},
	}
}

// SetLogger sets the logger for the registry and its storage document.
func (r *LabelRegistry) SetLogger(logger Logger) {
	r.logger = logger
	r.store.SetLogger(logger)
}

// Load reads the persisted labels and rebuilds the index.
func (r *LabelRegistry) Load() error {
	var doc labelDocument
	if _, err := r.store.Load(&doc); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries = make(map[string]*LabelEntry, len(doc.Labels))
	for _, entry := range doc.Labels {
		r.entries[entry.ID] = entry
	}
	r.reindexLocked()
	r.logger.Debug("label registry loaded", "labels", len(r.entries))
	return nil
}

func (r *LabelRegistry) reindexLocked() {
	r.byName = make(map[string]string, len(r.entries))
	for id, entry := range r.entries {
		r.byName[normalizeName(entry.Name)] = id
	}
}

// Get returns a copy of the entry, or nil.
func (r *LabelRegistry) Get(id string) *LabelEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries[id].Copy()
}

// GetByName looks a label up by name, case-insensitively.
func (r *LabelRegistry) GetByName(name string) *LabelEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries[r.byName[normalizeName(name)]].Copy()
}

// List returns all labels sorted by name.
func (r *LabelRegistry) List() []*LabelEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*LabelEntry, 0, len(r.entries))
	for _, entry := range r.entries {
		out = append(out, entry.Copy())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Len returns the number of registered labels.
func (r *LabelRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Create registers a new label.
func (r *LabelRegistry) Create(name string) (*LabelEntry, error) {
	r.mu.Lock()

	if _, exists := r.byName[normalizeName(name)]; exists {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: label %q", ErrNameTaken, name)
	}

	entry := &LabelEntry{
		ID:         r.uniqueIDLocked(slugify(name)),
		Name:       name,
		CreatedAt:  now(),
		ModifiedAt: now(),
	}
	r.entries[entry.ID] = entry
	r.reindexLocked()
	r.scheduleSaveLocked()
	r.mu.Unlock()

	r.logger.Debug("label created", "label_id", entry.ID, "name", name)
	r.bus.Fire(updatedEvent(core.EventLabelRegistryUpdated, "label_id", entry.ID, ActionCreate))
	return entry.Copy(), nil
}

func (r *LabelRegistry) uniqueIDLocked(slug string) string {
	if slug == "" {
		slug = "label"
	}
	id := slug
	for n := 2; ; n++ {
		if _, exists := r.entries[id]; !exists {
			return id
		}
		id = fmt.Sprintf("%s_%d", slug, n)
	}
}

// Update applies the mutator to a copy of the entry and commits it.
func (r *LabelRegistry) Update(id string, mutate func(*LabelEntry)) (*LabelEntry, error) {
	r.mu.Lock()

	current, ok := r.entries[id]
	if !ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: label %q", ErrNotFound, id)
	}

	next := current.Copy()
	mutate(next)
	next.ID = current.ID
	next.CreatedAt = current.CreatedAt
	next.ModifiedAt = now()

	if other, exists := r.byName[normalizeName(next.Name)]; exists && other != id {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: label %q", ErrNameTaken, next.Name)
	}

	r.entries[id] = next
	r.reindexLocked()
	r.scheduleSaveLocked()
	r.mu.Unlock()

	r.bus.Fire(updatedEvent(core.EventLabelRegistryUpdated, "label_id", id, ActionUpdate))
	return next.Copy(), nil
}

// Remove deletes a label. Returns false if it was not registered.
func (r *LabelRegistry) Remove(id string) bool {
	r.mu.Lock()
	_, ok := r.entries[id]
	if ok {
		delete(r.entries, id)
		r.reindexLocked()
		r.scheduleSaveLocked()
	}
	r.mu.Unlock()

	if ok {
		r.logger.Debug("label removed", "label_id", id)
		r.bus.Fire(updatedEvent(core.EventLabelRegistryUpdated, "label_id", id, ActionRemove))
	}
	return ok
}

func (r *LabelRegistry) scheduleSaveLocked() {
	r.store.DelayedSave(r.snapshot, saveDelay)
}

func (r *LabelRegistry) snapshot() any {
	r.mu.RLock()
	defer r.mu.RUnlock()

	doc := labelDocument{Labels: make([]*LabelEntry, 0, len(r.entries))}
	for _, entry := range r.entries {
		doc.Labels = append(doc.Labels, entry.Copy())
	}
	sort.Slice(doc.Labels, func(i, j int) bool { return doc.Labels[i].ID < doc.Labels[j].ID })
	return doc
}

// Flush writes any pending changes to disk immediately.
func (r *LabelRegistry) Flush() error {
	return r.store.Flush()
}
