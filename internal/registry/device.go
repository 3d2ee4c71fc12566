package registry

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hearthhub/hearth-core/internal/core"
	"github.com/hearthhub/hearth-core/internal/storage"
)

// Identifier is a domain-scoped device identifier, e.g. a zigbee IEEE
// address under the "zigbee" domain.
type Identifier struct {
	Domain string `json:"domain"`
	ID     string `json:"id"`
}

// Connection is a transport-level address, e.g. ("mac", "aa:bb:...").
type Connection struct {
	Kind string `json:"kind"`
	ID   string `json:"id"`
}

// DeviceEntry is a registered physical or logical device.
type DeviceEntry struct {
	ID            string       `json:"id"`
	Identifiers   []Identifier `json:"identifiers"`
	Connections   []Connection `json:"connections,omitempty"`
	Name          string       `json:"name,omitempty"`
	Manufacturer  string       `json:"manufacturer,omitempty"`
	Model         string       `json:"model,omitempty"`
	SWVersion     string       `json:"sw_version,omitempty"`
	HWVersion     string       `json:"hw_version,omitempty"`
	AreaID        string       `json:"area_id,omitempty"`
	ConfigEntries []string     `json:"config_entries"`
	CreatedAt     time.Time    `json:"created_at"`
	ModifiedAt    time.Time    `json:"modified_at"`
}

// Copy returns a deep copy of the entry.
func (e *DeviceEntry) Copy() *DeviceEntry {
	if e == nil {
		return nil
	}
	clone := *e
	clone.Identifiers = append([]Identifier(nil), e.Identifiers...)
	clone.Connections = append([]Connection(nil), e.Connections...)
	clone.ConfigEntries = append([]string(nil), e.ConfigEntries...)
	return &clone
}

type deviceDocument struct {
	Devices []*DeviceEntry `json:"devices"`
}

// DeviceOptions carries the descriptive fields for GetOrCreate. Non-empty
// values overwrite what an existing device already has.
type DeviceOptions struct {
	Name         string
	Manufacturer string
	Model        string
	SWVersion    string
	HWVersion    string
}

// DeviceRegistry holds the registered devices, matched by identifier or
// connection.
type DeviceRegistry struct {
	mu            sync.RWMutex
	entries       map[string]*DeviceEntry
	byIdentifier  map[Identifier]string
	byConnection  map[Connection]string
	byConfigEntry map[string][]string
	byArea        map[string][]string

	store  *storage.Store
	bus    EventBus
	logger Logger
}

// NewDeviceRegistry creates a device registry persisted under dir.
func NewDeviceRegistry(dir string, bus EventBus) *DeviceRegistry {
	if bus == nil {
		bus = noopBus{}
	}
	return &DeviceRegistry{
		entries:       make(map[string]*DeviceEntry),
		byIdentifier:  make(map[Identifier]string),
		byConnection:  make(map[Connection]string),
		byConfigEntry: make(map[string][]string),
		byArea:        make(map[string][]string),
		store:         storage.NewStore(dir, deviceStorageKey, storageVersion, storageMinorVersion, nil),
		bus:           bus,
		logger:        noopLogger{},
	}
}

// SetLogger sets the logger for the registry and its storage document.
func (r *DeviceRegistry) SetLogger(logger Logger) {
	r.logger = logger
	r.store.SetLogger(logger)
}

// Load reads the persisted devices and rebuilds the indexes.
func (r *DeviceRegistry) Load() error {
	var doc deviceDocument
	if _, err := r.store.Load(&doc); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries = make(map[string]*DeviceEntry, len(doc.Devices))
	for _, entry := range doc.Devices {
		r.entries[entry.ID] = entry
	}
	r.reindexLocked()
	r.logger.Debug("device registry loaded", "devices", len(r.entries))
	return nil
}

func (r *DeviceRegistry) reindexLocked() {
	r.byIdentifier = make(map[Identifier]string)
	r.byConnection = make(map[Connection]string)
	r.byConfigEntry = make(map[string][]string)
	r.byArea = make(map[string][]string)
	for id, entry := range r.entries {
		for _, ident := range entry.Identifiers {
			r.byIdentifier[ident] = id
		}
		for _, conn := range entry.Connections {
			r.byConnection[conn] = id
		}
		for _, ce := range entry.ConfigEntries {
			r.byConfigEntry[ce] = append(r.byConfigEntry[ce], id)
		}
		if entry.AreaID != "" {
			r.byArea[entry.AreaID] = append(r.byArea[entry.AreaID], id)
		}
	}
}

// Get returns a copy of the entry, or nil.
func (r *DeviceRegistry) Get(id string) *DeviceEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries[id].Copy()
}

// GetByIdentifier looks a device up by one of its identifiers.
func (r *DeviceRegistry) GetByIdentifier(domain, id string) *DeviceEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries[r.byIdentifier[Identifier{Domain: domain, ID: id}]].Copy()
}

// GetByConnection looks a device up by one of its connections.
func (r *DeviceRegistry) GetByConnection(kind, id string) *DeviceEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries[r.byConnection[Connection{Kind: kind, ID: id}]].Copy()
}

// ForConfigEntry returns the devices owned by a config entry, sorted
// by id.
func (r *DeviceRegistry) ForConfigEntry(configEntryID string) []*DeviceEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.collectLocked(r.byConfigEntry[configEntryID])
}

// InArea returns the devices assigned to an area, sorted by id.
func (r *DeviceRegistry) InArea(areaID string) []*DeviceEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.collectLocked(r.byArea[areaID])
}

func (r *DeviceRegistry) collectLocked(ids []string) []*DeviceEntry {
	out := make([]*DeviceEntry, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.entries[id].Copy())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// List returns all devices sorted by id.
func (r *DeviceRegistry) List() []*DeviceEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*DeviceEntry, 0, len(r.entries))
	for _, entry := range r.entries {
		out = append(out, entry.Copy())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of registered devices.
func (r *DeviceRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// GetOrCreate returns the device matching any of the identifiers or
// connections, creating one when nothing matches. An existing device
// absorbs new identifiers, connections, the config entry id and any
// non-empty descriptive fields.
func (r *DeviceRegistry) GetOrCreate(configEntryID string, identifiers []Identifier, connections []Connection, opts DeviceOptions) *DeviceEntry {
	r.mu.Lock()

	var current *DeviceEntry
	for _, ident := range identifiers {
		if id, ok := r.byIdentifier[ident]; ok {
			current = r.entries[id]
			break
		}
	}
	if current == nil {
		for _, conn := range connections {
			if id, ok := r.byConnection[conn]; ok {
				current = r.entries[id]
				break
			}
		}
	}

	if current == nil {
		entry := &DeviceEntry{
			ID:           core.NewID(),
			Identifiers:  append([]Identifier(nil), identifiers...),
			Connections:  append([]Connection(nil), connections...),
			Name:         opts.Name,
			Manufacturer: opts.Manufacturer,
			Model:        opts.Model,
			SWVersion:    opts.SWVersion,
			HWVersion:    opts.HWVersion,
			CreatedAt:    now(),
			ModifiedAt:   now(),
		}
		if configEntryID != "" {
			entry.ConfigEntries = []string{configEntryID}
		}
		r.entries[entry.ID] = entry
		r.reindexLocked()
		r.scheduleSaveLocked()
		r.mu.Unlock()

		r.logger.Debug("device registered", "device_id", entry.ID, "name", opts.Name)
		r.bus.Fire(updatedEvent(core.EventDeviceRegistryUpdated, "device_id", entry.ID, ActionCreate))
		return entry.Copy()
	}

	next := current.Copy()
	next.mergeIdentifiers(identifiers)
	next.mergeConnections(connections)
	if configEntryID != "" {
		next.mergeConfigEntry(configEntryID)
	}
	if opts.Name != "" {
		next.Name = opts.Name
	}
	if opts.Manufacturer != "" {
		next.Manufacturer = opts.Manufacturer
	}
	if opts.Model != "" {
		next.Model = opts.Model
	}
	if opts.SWVersion != "" {
		next.SWVersion = opts.SWVersion
	}
	if opts.HWVersion != "" {
		next.HWVersion = opts.HWVersion
	}
	next.ModifiedAt = now()

	r.entries[next.ID] = next
	r.reindexLocked()
	r.scheduleSaveLocked()
	r.mu.Unlock()

	r.bus.Fire(updatedEvent(core.EventDeviceRegistryUpdated, "device_id", next.ID, ActionUpdate))
	return next.Copy()
}

func (e *DeviceEntry) mergeIdentifiers(identifiers []Identifier) {
	for _, ident := range identifiers {
		seen := false
		for _, have := range e.Identifiers {
			if have == ident {
				seen = true
				break
			}
		}
		if !seen {
			e.Identifiers = append(e.Identifiers, ident)
		}
	}
}

func (e *DeviceEntry) mergeConnections(connections []Connection) {
	for _, conn := range connections {
		seen := false
		for _, have := range e.Connections {
			if have == conn {
				seen = true
				break
			}
		}
		if !seen {
			e.Connections = append(e.Connections, conn)
		}
	}
}

func (e *DeviceEntry) mergeConfigEntry(configEntryID string) {
	for _, have := range e.ConfigEntries {
		if have == configEntryID {
			return
		}
	}
	e.ConfigEntries = append(e.ConfigEntries, configEntryID)
}

// Update applies the mutator to a copy of the entry and commits it.
func (r *DeviceRegistry) Update(id string, mutate func(*DeviceEntry)) (*DeviceEntry, error) {
	r.mu.Lock()

	current, ok := r.entries[id]
	if !ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: device %q", ErrNotFound, id)
	}

	next := current.Copy()
	mutate(next)
	next.ID = current.ID
	next.CreatedAt = current.CreatedAt
	next.ModifiedAt = now()

	r.entries[id] = next
	r.reindexLocked()
	r.scheduleSaveLocked()
	r.mu.Unlock()

	r.bus.Fire(updatedEvent(core.EventDeviceRegistryUpdated, "device_id", id, ActionUpdate))
	return next.Copy(), nil
}

// Remove deletes a device. Returns false if it was not registered.
func (r *DeviceRegistry) Remove(id string) bool {
	r.mu.Lock()
	_, ok := r.entries[id]
	if ok {
		delete(r.entries, id)
		r.reindexLocked()
		r.scheduleSaveLocked()
	}
	r.mu.Unlock()

	if ok {
		r.logger.Debug("device removed", "device_id", id)
		r.bus.Fire(updatedEvent(core.EventDeviceRegistryUpdated, "device_id", id, ActionRemove))
	}
	return ok
}

// RemoveConfigEntry detaches a config entry from all its devices. A device
// with no config entries left is removed. Returns how many devices were
// touched.
func (r *DeviceRegistry) RemoveConfigEntry(configEntryID string) int {
	r.mu.Lock()

	touched := append([]string(nil), r.byConfigEntry[configEntryID]...)
	var removed []string
	for _, id := range touched {
		entry := r.entries[id].Copy()
		kept := entry.ConfigEntries[:0]
		for _, ce := range entry.ConfigEntries {
			if ce != configEntryID {
				kept = append(kept, ce)
			}
		}
		entry.ConfigEntries = kept
		if len(kept) == 0 {
			delete(r.entries, id)
			removed = append(removed, id)
		} else {
			entry.ModifiedAt = now()
			r.entries[id] = entry
		}
	}
	if len(touched) > 0 {
		r.reindexLocked()
		r.scheduleSaveLocked()
	}
	r.mu.Unlock()

	removedSet := make(map[string]bool, len(removed))
	for _, id := range removed {
		removedSet[id] = true
	}
	for _, id := range touched {
		action := ActionUpdate
		if removedSet[id] {
			action = ActionRemove
		}
		r.bus.Fire(updatedEvent(core.EventDeviceRegistryUpdated, "device_id", id, action))
	}
	return len(touched)
}

func (r *DeviceRegistry) scheduleSaveLocked() {
	r.store.DelayedSave(r.snapshot, saveDelay)
}

func (r *DeviceRegistry) snapshot() any {
	r.mu.RLock()
	defer r.mu.RUnlock()

	doc := deviceDocument{Devices: make([]*DeviceEntry, 0, len(r.entries))}
	for _, entry := range r.entries {
		doc.Devices = append(doc.Devices, entry.Copy())
	}
	sort.Slice(doc.Devices, func(i, j int) bool { return doc.Devices[i].ID < doc.Devices[j].ID })
	return doc
}

// Flush writes any pending changes to disk immediately.
func (r *DeviceRegistry) Flush() error {
	return r.store.Flush()
}
