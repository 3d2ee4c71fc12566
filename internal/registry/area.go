package registry

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hearthhub/hearth-core/internal/core"
	"github.com/hearthhub/hearth-core/internal/storage"
)

// AreaEntry is a registered area.
type AreaEntry struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Icon       string    `json:"icon,omitempty"`
	Picture    string    `json:"picture,omitempty"`
	Aliases    []string  `json:"aliases,omitempty"`
	FloorID    string    `json:"floor_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	ModifiedAt time.Time `json:"modified_at"`
}

// Copy returns a deep copy of the entry.
func (e *AreaEntry) Copy() *AreaEntry {
	if e == nil {
		return nil
	}
	clone := *e
	clone.Aliases = append([]string(nil), e.Aliases...)
	return &clone
}

type areaDocument struct {
	Areas []*AreaEntry `json:"areas"`
}

// AreaRegistry holds the registered areas.
type AreaRegistry struct {
	mu      sync.RWMutex
	entries map[string]*AreaEntry
	byName  map[string]string
	byFloor map[string][]string

	store  *storage.Store
	bus    EventBus
	logger Logger
}

// NewAreaRegistry creates an area registry persisted under dir.
func NewAreaRegistry(dir string, bus EventBus) *AreaRegistry {
	if bus == nil {
		bus = noopBus{}
	}
	return &AreaRegistry{
		entries: make(map[string]*AreaEntry),
		byName:  make(map[string]string),
		byFloor: make(map[string][]string),
		store:   storage.NewStore(dir, areaStorageKey, storageVersion, storageMinorVersion, nil),
		bus:     bus,
		logger:  noopLogger{},
	}
}

// SetLogger sets the logger for the registry and its storage document.
func (r *AreaRegistry) SetLogger(logger Logger) {
	r.logger = logger
	r.store.SetLogger(logger)
}

// Load reads the persisted areas and rebuilds the indexes.
func (r *AreaRegistry) Load() error {
	var doc areaDocument
	if _, err := r.store.Load(&doc); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries = make(map[string]*AreaEntry, len(doc.Areas))
	for _, entry := range doc.Areas {
		r.entries[entry.ID] = entry
	}
	r.reindexLocked()
	r.logger.Debug("area registry loaded", "areas", len(r.entries))
	return nil
}

// reindexLocked rebuilds the secondary indexes. Callers hold r.mu.
func (r *AreaRegistry) reindexLocked() {
	r.byName = make(map[string]string, len(r.entries))
	r.byFloor = make(map[string][]string)
	for id, entry := range r.entries {
		r.byName[normalizeName(entry.Name)] = id
		if entry.FloorID != "" {
			r.byFloor[entry.FloorID] = append(r.byFloor[entry.FloorID], id)
		}
	}
}

// Get returns a copy of the entry, or nil.
func (r *AreaRegistry) Get(id string) *AreaEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries[id].Copy()
}

// GetByName looks an area up by name, case-insensitively.
func (r *AreaRegistry) GetByName(name string) *AreaEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries[r.byName[normalizeName(name)]].Copy()
}

// List returns all areas sorted by name.
func (r *AreaRegistry) List() []*AreaEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*AreaEntry, 0, len(r.entries))
	for _, entry := range r.entries {
		out = append(out, entry.Copy())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// InFloor returns the areas assigned to a floor, sorted by name.
func (r *AreaRegistry) InFloor(floorID string) []*AreaEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*AreaEntry, 0, len(r.byFloor[floorID]))
	for _, id := range r.byFloor[floorID] {
		out = append(out, r.entries[id].Copy())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Len returns the number of registered areas.
func (r *AreaRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Create registers a new area. The id is derived from the name; names
// must be unique case-insensitively.
func (r *AreaRegistry) Create(name string) (*AreaEntry, error) {
	r.mu.Lock()

	if _, exists := r.byName[normalizeName(name)]; exists {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: area %q", ErrNameTaken, name)
	}

	entry := &AreaEntry{
		ID:         r.uniqueIDLocked(slugify(name)),
		Name:       name,
		CreatedAt:  now(),
		ModifiedAt: now(),
	}
	r.entries[entry.ID] = entry
	r.reindexLocked()
	r.scheduleSaveLocked()
	r.mu.Unlock()

	r.logger.Debug("area created", "area_id", entry.ID, "name", name)
	r.bus.Fire(updatedEvent(core.EventAreaRegistryUpdated, "area_id", entry.ID, ActionCreate))
	return entry.Copy(), nil
}

// uniqueIDLocked suffixes the slug until it is free. Callers hold r.mu.
func (r *AreaRegistry) uniqueIDLocked(slug string) string {
	if slug == "" {
		slug = "area"
	}
	id := slug
	for n := 2; ; n++ {
		if _, exists := r.entries[id]; !exists {
			return id
		}
		id = fmt.Sprintf("%s_%d", slug, n)
	}
}

// Update applies the mutator to a copy of the entry and commits it. The
// id and creation time are immutable; a renamed area must keep its name
// unique.
func (r *AreaRegistry) Update(id string, mutate func(*AreaEntry)) (*AreaEntry, error) {
	r.mu.Lock()

	current, ok := r.entries[id]
	if !ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: area %q", ErrNotFound, id)
	}

	next := current.Copy()
	mutate(next)
	next.ID = current.ID
	next.CreatedAt = current.CreatedAt
	next.ModifiedAt = now()

	if other, exists := r.byName[normalizeName(next.Name)]; exists && other != id {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: area %q", ErrNameTaken, next.Name)
	}

	r.entries[id] = next
	r.reindexLocked()
	r.scheduleSaveLocked()
	r.mu.Unlock()

	r.bus.Fire(updatedEvent(core.EventAreaRegistryUpdated, "area_id", id, ActionUpdate))
	return next.Copy(), nil
}

// Remove deletes an area. Returns false if it was not registered.
func (r *AreaRegistry) Remove(id string) bool {
	r.mu.Lock()
	_, ok := r.entries[id]
	if ok {
		delete(r.entries, id)
		r.reindexLocked()
		r.scheduleSaveLocked()
	}
	r.mu.Unlock()

	if ok {
		r.logger.Debug("area removed", "area_id", id)
		r.bus.Fire(updatedEvent(core.EventAreaRegistryUpdated, "area_id", id, ActionRemove))
	}
	return ok
}

// scheduleSaveLocked debounces a flush of the current contents.
// Callers hold r.mu.
func (r *AreaRegistry) scheduleSaveLocked() {
	r.store.DelayedSave(r.snapshot, saveDelay)
}

// snapshot serialises the registry for persistence.
func (r *AreaRegistry) snapshot() any {
	r.mu.RLock()
	defer r.mu.RUnlock()

	doc := areaDocument{Areas: make([]*AreaEntry, 0, len(r.entries))}
	for _, entry := range r.entries {
		doc.Areas = append(doc.Areas, entry.Copy())
	}
	sort.Slice(doc.Areas, func(i, j int) bool { return doc.Areas[i].ID < doc.Areas[j].ID })
	return doc
}

// Flush writes any pending changes to disk immediately.
func (r *AreaRegistry) Flush() error {
	return r.store.Flush()
}
