package registry

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hearthhub/hearth-core/internal/core"
	"github.com/hearthhub/hearth-core/internal/storage"
)

// FloorEntry is a registered floor.
type FloorEntry struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Icon       string    `json:"icon,omitempty"`
	Level      int       `json:"level"`
	Aliases    []string  `json:"aliases,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	ModifiedAt time.Time `json:"modified_at"`
}

// Copy returns a deep copy of the entry.
func (e *FloorEntry) Copy() *FloorEntry {
	if e == nil {
		return nil
	}
	clone := *e
	clone.Aliases = append([]string(nil), e.Aliases...)
	return &clone
}

type floorDocument struct {
	Floors []*FloorEntry `json:"floors"`
}

// FloorRegistry holds the registered floors.
type FloorRegistry struct {
	mu      sync.RWMutex
	entries map[string]*FloorEntry
	byName  map[string]string
	byLevel map[int][]string

	store  *storage.Store
	bus    EventBus
	logger Logger
}

// NewFloorRegistry creates a floor registry persisted under dir.
func NewFloorRegistry(dir string, bus EventBus) *FloorRegistry {
	if bus == nil {
		bus = noopBus{}
	}
	return &FloorRegistry{
		entries: make(map[string]*FloorEntry),
		byName:  make(map[string]string),
		byLevel: make(map[int][]string),
		store:   storage.NewStore(dir, floorStorageKey, storageVersion, storageMinorVersion, nil),
		bus:     bus,
		logger:  noopLogger{},
	}
}

// SetLogger sets the logger for the registry and its storage document.
func (r *FloorRegistry) SetLogger(logger Logger) {
	r.logger = logger
	r.store.SetLogger(logger)
}

// Load reads the persisted floors and rebuilds the indexes.
func (r *FloorRegistry) Load() error {
	var doc floorDocument
	if _, err := r.store.Load(&doc); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries = make(map[string]*FloorEntry, len(doc.Floors))
	for _, entry := range doc.Floors {
		r.entries[entry.ID] = entry
	}
	r.reindexLocked()
	r.logger.Debug("floor registry loaded", "floors", len(r.entries))
	return nil
}

func (r *FloorRegistry) reindexLocked() {
	r.byName = make(map[string]string, len(r.entries))
	r.byLevel = make(map[int][]string)
	for id, entry := range r.entries {
		r.byName[normalizeName(entry.Name)] = id
		r.byLevel[entry.Level] = append(r.byLevel[entry.Level], id)
	}
}

// Get returns a copy of the entry, or nil.
func (r *FloorRegistry) Get(id string) *FloorEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries[id].Copy()
}

// GetByName looks a floor up by name, case-insensitively.
func (r *FloorRegistry) GetByName(name string) *FloorEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries[r.byName[normalizeName(name)]].Copy()
}

// AtLevel returns the floors at a level, sorted by name.
func (r *FloorRegistry) AtLevel(level int) []*FloorEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*FloorEntry, 0, len(r.byLevel[level]))
	for _, id := range r.byLevel[level] {
		out = append(out, r.entries[id].Copy())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// List returns all floors sorted by level, then name.
func (r *FloorRegistry) List() []*FloorEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*FloorEntry, 0, len(r.entries))
	for _, entry := range r.entries {
		out = append(out, entry.Copy())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Level != out[j].Level {
			return out[i].Level < out[j].Level
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Len returns the number of registered floors.
func (r *FloorRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Create registers a new floor at the given level.
func (r *FloorRegistry) Create(name string, level int) (*FloorEntry, error) {
	r.mu.Lock()

	if _, exists := r.byName[normalizeName(name)]; exists {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: floor %q", ErrNameTaken, name)
	}

	entry := &FloorEntry{
		ID:         r.uniqueIDLocked(slugify(name)),
		Name:       name,
		Level:      level,
		CreatedAt:  now(),
		ModifiedAt: now(),
	}
	r.entries[entry.ID] = entry
	r.reindexLocked()
	r.scheduleSaveLocked()
	r.mu.Unlock()

	r.logger.Debug("floor created", "floor_id", entry.ID, "name", name, "level", level)
	r.bus.Fire(updatedEvent(core.EventFloorRegistryUpdated, "floor_id", entry.ID, ActionCreate))
	return entry.Copy(), nil
}

func (r *FloorRegistry) uniqueIDLocked(slug string) string {
	if slug == "" {
		slug = "floor"
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
func (r *FloorRegistry) Update(id string, mutate func(*FloorEntry)) (*FloorEntry, error) {
	r.mu.Lock()

	current, ok := r.entries[id]
	if !ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: floor %q", ErrNotFound, id)
	}

	next := current.Copy()
	mutate(next)
	next.ID = current.ID
	next.CreatedAt = current.CreatedAt
	next.ModifiedAt = now()

	if other, exists := r.byName[normalizeName(next.Name)]; exists && other != id {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: floor %q", ErrNameTaken, next.Name)
	}

	r.entries[id] = next
	r.reindexLocked()
	r.scheduleSaveLocked()
	r.mu.Unlock()

	r.bus.Fire(updatedEvent(core.EventFloorRegistryUpdated, "floor_id", id, ActionUpdate))
	return next.Copy(), nil
}

// Remove deletes a floor. Returns false if it was not registered.
func (r *FloorRegistry) Remove(id string) bool {
	r.mu.Lock()
	_, ok := r.entries[id]
	if ok {
		delete(r.entries, id)
		r.reindexLocked()
		r.scheduleSaveLocked()
	}
	r.mu.Unlock()

	if ok {
		r.logger.Debug("floor removed", "floor_id", id)
		r.bus.Fire(updatedEvent(core.EventFloorRegistryUpdated, "floor_id", id, ActionRemove))
	}
	return ok
}

func (r *FloorRegistry) scheduleSaveLocked() {
	r.store.DelayedSave(r.snapshot, saveDelay)
}

func (r *FloorRegistry) snapshot() any {
	r.mu.RLock()
	defer r.mu.RUnlock()

	doc := floorDocument{Floors: make([]*FloorEntry, 0, len(r.entries))}
	for _, entry := range r.entries {
		doc.Floors = append(doc.Floors, entry.Copy())
	}
	sort.Slice(doc.Floors, func(i, j int) bool { return doc.Floors[i].ID < doc.Floors[j].ID })
	return doc
}

// Flush writes any pending changes to disk immediately.
func (r *FloorRegistry) Flush() error {
	return r.store.Flush()
}
