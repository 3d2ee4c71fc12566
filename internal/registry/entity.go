package registry

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hearthhub/hearth-core/internal/core"
	"github.com/hearthhub/hearth-core/internal/storage"
)

// Disabled/hidden reasons.
const (
	ReasonUser        = "user"
	ReasonIntegration = "integration"
)

// Entity categories.
const (
	CategoryConfig     = "config"
	CategoryDiagnostic = "diagnostic"
)

// EntityEntry is a registered entity. Registered entities always carry a
// platform-scoped unique id; state-only entities never appear here.
type EntityEntry struct {
	EntityID      core.EntityID `json:"entity_id"`
	UniqueID      string        `json:"unique_id"`
	Platform      string        `json:"platform"`
	ConfigEntryID string        `json:"config_entry_id,omitempty"`
	DeviceID      string        `json:"device_id,omitempty"`
	Name          string        `json:"name,omitempty"`
	DisabledBy    string        `json:"disabled_by,omitempty"`
	HiddenBy      string        `json:"hidden_by,omitempty"`
	Category      string        `json:"entity_category,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	ModifiedAt    time.Time     `json:"modified_at"`
}

// Copy returns a copy of the entry.
func (e *EntityEntry) Copy() *EntityEntry {
	if e == nil {
		return nil
	}
	clone := *e
	return &clone
}

// Disabled reports whether the entity is disabled for any reason.
func (e *EntityEntry) Disabled() bool {
	return e.DisabledBy != ""
}

type entityDocument struct {
	Entities []*EntityEntry `json:"entities"`
}

// EntityOptions carries the optional fields for GetOrCreate.
type EntityOptions struct {
	// SuggestedObjectID seeds the object part of a newly allocated
	// entity id. The unique id is used when empty.
	SuggestedObjectID string
	Name              string
	ConfigEntryID     string
	DeviceID          string
	Category          string
}

// EntityRegistry holds the registered entities, keyed by entity id with a
// natural-key index on (domain, platform, unique id).
type EntityRegistry struct {
	mu            sync.RWMutex
	entries       map[core.EntityID]*EntityEntry
	byUniqueID    map[string]core.EntityID
	byDevice      map[string][]core.EntityID
	byConfigEntry map[string][]core.EntityID

	store  *storage.Store
	bus    EventBus
	logger Logger
}

// NewEntityRegistry creates an entity registry persisted under dir.
func NewEntityRegistry(dir string, bus EventBus) *EntityRegistry {
	if bus == nil {
		bus = noopBus{}
	}
	return &EntityRegistry{
		entries:       make(map[core.EntityID]*EntityEntry),
		byUniqueID:    make(map[string]core.EntityID),
		byDevice:      make(map[string][]core.EntityID),
		byConfigEntry: make(map[string][]core.EntityID),
		store:         storage.NewStore(dir, entityStorageKey, storageVersion, storageMinorVersion, nil),
		bus:           bus,
		logger:        noopLogger{},
	}
}

// SetLogger sets the logger for the registry and its storage document.
func (r *EntityRegistry) SetLogger(logger Logger) {
	r.logger = logger
	r.store.SetLogger(logger)
}

// Load reads the persisted entities and rebuilds the indexes.
func (r *EntityRegistry) Load() error {
	var doc entityDocument
	if _, err := r.store.Load(&doc); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries = make(map[core.EntityID]*EntityEntry, len(doc.Entities))
	for _, entry := range doc.Entities {
		r.entries[entry.EntityID] = entry
	}
	r.reindexLocked()
	r.logger.Debug("entity registry loaded", "entities", len(r.entries))
	return nil
}

func naturalKey(domain, platform, uniqueID string) string {
	return domain + "\x00" + platform + "\x00" + uniqueID
}

// reindexLocked rebuilds the secondary indexes. Callers hold r.mu.
func (r *EntityRegistry) reindexLocked() {
	r.byUniqueID = make(map[string]core.EntityID, len(r.entries))
	r.byDevice = make(map[string][]core.EntityID)
	r.byConfigEntry = make(map[string][]core.EntityID)
	for id, entry := range r.entries {
		r.byUniqueID[naturalKey(id.Domain(), entry.Platform, entry.UniqueID)] = id
		if entry.DeviceID != "" {
			r.byDevice[entry.DeviceID] = append(r.byDevice[entry.DeviceID], id)
		}
		if entry.ConfigEntryID != "" {
			r.byConfigEntry[entry.ConfigEntryID] = append(r.byConfigEntry[entry.ConfigEntryID], id)
		}
	}
}

// Get returns a copy of the entry, or nil.
func (r *EntityRegistry) Get(entityID core.EntityID) *EntityEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries[entityID].Copy()
}

// GetByUniqueID looks an entity up by its natural key.
func (r *EntityRegistry) GetByUniqueID(domain, platform, uniqueID string) *EntityEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries[r.byUniqueID[naturalKey(domain, platform, uniqueID)]].Copy()
}

// ForDevice returns the entities attached to a device, sorted by id.
func (r *EntityRegistry) ForDevice(deviceID string) []*EntityEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.collectLocked(r.byDevice[deviceID])
}

// ForConfigEntry returns the entities owned by a config entry, sorted
// by id.
func (r *EntityRegistry) ForConfigEntry(configEntryID string) []*EntityEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.collectLocked(r.byConfigEntry[configEntryID])
}

func (r *EntityRegistry) collectLocked(ids []core.EntityID) []*EntityEntry {
	out := make([]*EntityEntry, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.entries[id].Copy())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].EntityID.String() < out[j].EntityID.String()
	})
	return out
}

// List returns all entries sorted by entity id.
func (r *EntityRegistry) List() []*EntityEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*EntityEntry, 0, len(r.entries))
	for _, entry := range r.entries {
		out = append(out, entry.Copy())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].EntityID.String() < out[j].EntityID.String()
	})
	return out
}

// Len returns the number of registered entities.
func (r *EntityRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// GetOrCreate returns the entry for the natural key, registering a new
// entity with a collision-free entity id when none exists. Repeated calls
// with the same key return the same entry.
func (r *EntityRegistry) GetOrCreate(domain, platform, uniqueID string, opts EntityOptions) (*EntityEntry, error) {
	r.mu.Lock()

	if id, ok := r.byUniqueID[naturalKey(domain, platform, uniqueID)]; ok {
		entry := r.entries[id].Copy()
		r.mu.Unlock()
		return entry, nil
	}

	object := opts.SuggestedObjectID
	if object == "" {
		object = uniqueID
	}
	entityID, err := r.allocateEntityIDLocked(domain, object)
	if err != nil {
		r.mu.Unlock()
		return nil, err
	}

	entry := &EntityEntry{
		EntityID:      entityID,
		UniqueID:      uniqueID,
		Platform:      platform,
		ConfigEntryID: opts.ConfigEntryID,
		DeviceID:      opts.DeviceID,
		Name:          opts.Name,
		Category:      opts.Category,
		CreatedAt:     now(),
		ModifiedAt:    now(),
	}
	r.entries[entityID] = entry
	r.reindexLocked()
	r.scheduleSaveLocked()
	r.mu.Unlock()

	r.logger.Debug("entity registered",
		"entity_id", entityID.String(),
		"platform", platform,
		"unique_id", uniqueID,
	)
	r.bus.Fire(updatedEvent(core.EventEntityRegistryUpdated, "entity_id", entityID.String(), ActionCreate))
	return entry.Copy(), nil
}

// allocateEntityIDLocked slugifies the object and suffixes it until the
// id is free. Callers hold r.mu.
func (r *EntityRegistry) allocateEntityIDLocked(domain, object string) (core.EntityID, error) {
	slug := slugify(object)
	if slug == "" {
		slug = "unnamed"
	}

	candidate := slug
	for n := 2; ; n++ {
		id, err := core.NewEntityID(domain, candidate)
		if err != nil {
			return core.EntityID{}, err
		}
		if _, exists := r.entries[id]; !exists {
			return id, nil
		}
		candidate = fmt.Sprintf("%s_%d", slug, n)
	}
}

// Update applies the mutator to a copy of the entry and commits it. The
// entity id, unique id, platform and creation time are immutable here;
// use Rename to change the entity id.
func (r *EntityRegistry) Update(entityID core.EntityID, mutate func(*EntityEntry)) (*EntityEntry, error) {
	r.mu.Lock()

	current, ok := r.entries[entityID]
	if !ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: entity %s", ErrNotFound, entityID)
	}

	next := current.Copy()
	mutate(next)
	next.EntityID = current.EntityID
	next.UniqueID = current.UniqueID
	next.Platform = current.Platform
	next.CreatedAt = current.CreatedAt
	next.ModifiedAt = now()

	r.entries[entityID] = next
	r.reindexLocked()
	r.scheduleSaveLocked()
	r.mu.Unlock()

	r.bus.Fire(updatedEvent(core.EventEntityRegistryUpdated, "entity_id", entityID.String(), ActionUpdate))
	return next.Copy(), nil
}

// Rename moves an entry to a new entity id within the same domain.
func (r *EntityRegistry) Rename(oldID, newID core.EntityID) (*EntityEntry, error) {
	r.mu.Lock()

	current, ok := r.entries[oldID]
	if !ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: entity %s", ErrNotFound, oldID)
	}
	if _, taken := r.entries[newID]; taken {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrEntityIDTaken, newID)
	}
	if oldID.Domain() != newID.Domain() {
		r.mu.Unlock()
		return nil, fmt.Errorf("registry: cannot move entity %s across domains to %s", oldID, newID)
	}

	next := current.Copy()
	next.EntityID = newID
	next.ModifiedAt = now()
	delete(r.entries, oldID)
	r.entries[newID] = next
	r.reindexLocked()
	r.scheduleSaveLocked()
	r.mu.Unlock()

	r.logger.Debug("entity renamed", "old_entity_id", oldID.String(), "entity_id", newID.String())
	r.bus.Fire(updatedEvent(core.EventEntityRegistryUpdated, "entity_id", newID.String(), ActionUpdate))
	return next.Copy(), nil
}

// Remove deletes an entry. Returns false if it was not registered.
func (r *EntityRegistry) Remove(entityID core.EntityID) bool {
	r.mu.Lock()
	_, ok := r.entries[entityID]
	if ok {
		delete(r.entries, entityID)
		r.reindexLocked()
		r.scheduleSaveLocked()
	}
	r.mu.Unlock()

	if ok {
		r.logger.Debug("entity removed", "entity_id", entityID.String())
		r.bus.Fire(updatedEvent(core.EventEntityRegistryUpdated, "entity_id", entityID.String(), ActionRemove))
	}
	return ok
}

// RemoveConfigEntry deletes every entity owned by a config entry and
// returns how many were removed.
func (r *EntityRegistry) RemoveConfigEntry(configEntryID string) int {
	r.mu.Lock()
	ids := append([]core.EntityID(nil), r.byConfigEntry[configEntryID]...)
	for _, id := range ids {
		delete(r.entries, id)
	}
	if len(ids) > 0 {
		r.reindexLocked()
		r.scheduleSaveLocked()
	}
	r.mu.Unlock()

	for _, id := range ids {
		r.bus.Fire(updatedEvent(core.EventEntityRegistryUpdated, "entity_id", id.String(), ActionRemove))
	}
	return len(ids)
}

func (r *EntityRegistry) scheduleSaveLocked() {
	r.store.DelayedSave(r.snapshot, saveDelay)
}

func (r *EntityRegistry) snapshot() any {
	r.mu.RLock()
	defer r.mu.RUnlock()

	doc := entityDocument{Entities: make([]*EntityEntry, 0, len(r.entries))}
	for _, entry := range r.entries {
		doc.Entities = append(doc.Entities, entry.Copy())
	}
	sort.Slice(doc.Entities, func(i, j int) bool {
		return doc.Entities[i].EntityID.String() < doc.Entities[j].EntityID.String()
	})
	return doc
}

// Flush writes any pending changes to disk immediately.
func (r *EntityRegistry) Flush() error {
	return r.store.Flush()
}
