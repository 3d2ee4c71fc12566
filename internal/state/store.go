package state

import (
	"sort"
	"sync"

	"github.com/hearthhub/hearth-core/internal/core"
)

// Logger defines the logging interface used by the Store.
type Logger interface {
	Debug(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}

// EventBus is the interface the store needs from the bus package.
type EventBus interface {
	Fire(event *core.Event)
}

// Store tracks the current state of all entities.
//
// It maintains the primary snapshot map and a by-domain index, rebuilt
// inside the same critical section as the primary write so readers never
// observe an inconsistent pair.
type Store struct {
	mu      sync.RWMutex
	states  map[core.EntityID]*core.State
	domains map[string][]core.EntityID

	emitMu   sync.Mutex
	pending  []*core.Event
	emitting bool

	bus    EventBus
	logger Logger
}

// NewStore creates a state store that fires state_changed events on the
// given bus.
func NewStore(bus EventBus) *Store {
	return &Store{
		states:  make(map[core.EntityID]*core.State),
		domains: make(map[string][]core.EntityID),
		bus:     bus,
		logger:  noopLogger{},
	}
}

// SetLogger sets the logger for the store.
func (s *Store) SetLogger(logger Logger) {
	s.logger = logger
}

// Set writes a new snapshot for the entity and returns it.
//
// Unless the new snapshot equals the prior one in value and attributes,
// a state_changed event with the old and new snapshots is fired using the
// caller's context. An equal write is a no-op report: last_reported
// advances, no event fires.
func (s *Store) Set(entityID core.EntityID, value string, attributes map[string]any, ctx core.Context) *core.State {
	s.mu.Lock()

	old := s.states[entityID]

	var next *core.State
	if old != nil {
		next = old.WithUpdate(value, attributes, ctx)
	} else {
		next = core.NewState(entityID, value, attributes, ctx)
		domain := entityID.Domain()
		s.domains[domain] = append(s.domains[domain], entityID)
	}
	s.states[entityID] = next

	changed := old == nil || !old.Equal(next)

	// Queue the event before releasing the lock so concurrent writers
	// to the same entity emit events in serialisation order.
	if changed {
		s.queueEvent(core.StateChangedEvent(core.StateChangedData{
			EntityID: entityID,
			OldState: old,
			NewState: next,
		}, ctx))
	}
	s.mu.Unlock()

	if changed {
		s.logger.Debug("state changed",
			"entity_id", entityID.String(),
			"state", next.Value,
			"context_id", ctx.ID,
		)
		s.flushEvents()
	}
	return next
}

// queueEvent appends an event to the pending queue. Callers must hold s.mu
// so the queue order matches the write serialisation order.
func (s *Store) queueEvent(event *core.Event) {
	s.emitMu.Lock()
	s.pending = append(s.pending, event)
	s.emitMu.Unlock()
}

// flushEvents fires pending events in queue order. A single goroutine
// drains at a time; others return immediately after their event is queued.
func (s *Store) flushEvents() {
	s.emitMu.Lock()
	if s.emitting {
		s.emitMu.Unlock()
		return
	}
	s.emitting = true
	for len(s.pending) > 0 {
		next := s.pending[0]
		s.pending = s.pending[1:]
		s.emitMu.Unlock()
		s.bus.Fire(next)
		s.emitMu.Lock()
	}
	s.emitting = false
	s.emitMu.Unlock()
}

// Get returns the current snapshot, or nil if the entity has no state.
func (s *Store) Get(entityID core.EntityID) *core.State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.states[entityID]
}

// GetValue returns the state value string.
// Returns ErrStateUnavailable when the entity has no state.
func (s *Store) GetValue(entityID core.EntityID) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.states[entityID]
	if !ok {
		return "", ErrStateUnavailable
	}
	return st.Value, nil
}

// IsState reports whether the entity currently has the given state value.
// An absent entity matches nothing.
func (s *Store) IsState(entityID core.EntityID, value string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.states[entityID]
	return ok && st.Value == value
}

// Remove deletes the entity's state and fires a state_changed event with
// a nil new state. Returns the removed snapshot, or nil if absent.
func (s *Store) Remove(entityID core.EntityID, ctx core.Context) *core.State {
	s.mu.Lock()

	old, ok := s.states[entityID]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	delete(s.states, entityID)

	domain := entityID.Domain()
	ids := s.domains[domain]
	for i, id := range ids {
		if id == entityID {
			ids = append(ids[:i:i], ids[i+1:]...)
			break
		}
	}
	if len(ids) == 0 {
		delete(s.domains, domain)
	} else {
		s.domains[domain] = ids
	}

	s.queueEvent(core.StateChangedEvent(core.StateChangedData{
		EntityID: entityID,
		OldState: old,
		NewState: nil,
	}, ctx))
	s.mu.Unlock()

	s.logger.Debug("state removed", "entity_id", entityID.String(), "context_id", ctx.ID)
	s.flushEvents()
	return old
}

// EntityIDs returns all entity ids in a domain, sorted.
func (s *Store) EntityIDs(domain string) []core.EntityID {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]core.EntityID, len(s.domains[domain]))
	copy(ids, s.domains[domain])
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids
}

// DomainStates returns the snapshots of every entity in a domain.
func (s *Store) DomainStates(domain string) []*core.State {
	s.mu.RLock()
	defer s.mu.RUnlock()

	states := make([]*core.State, 0, len(s.domains[domain]))
	for _, id := range s.domains[domain] {
		if st, ok := s.states[id]; ok {
			states = append(states, st)
		}
	}
	return states
}

// All returns every snapshot in the store.
func (s *Store) All() []*core.State {
	s.mu.RLock()
	defer s.mu.RUnlock()

	states := make([]*core.State, 0, len(s.states))
	for _, st := range s.states {
		states = append(states, st)
	}
	return states
}

// Domains returns the sorted list of domains with at least one entity.
func (s *Store) Domains() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	domains := make([]string, 0, len(s.domains))
	for d := range s.domains {
		domains = append(domains, d)
	}
	sort.Strings(domains)
	return domains
}

// EntityCount returns the number of entities with a state.
func (s *Store) EntityCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.states)
}
