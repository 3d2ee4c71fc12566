package core

import (
	"reflect"
	"time"
)

// Well-known state values.
const (
	// StateUnknown indicates an entity whose state has not been determined.
	StateUnknown = "unknown"

	// StateUnavailable indicates an entity whose source is unreachable.
	StateUnavailable = "unavailable"
)

// State is a snapshot of an entity at a point in time.
//
// Snapshots are immutable: the state store replaces the whole snapshot on
// every write rather than mutating in place.
//
// Timestamp semantics:
//   - LastChanged moves only when the state value differs from the prior
//     snapshot.
//   - LastUpdated moves on every write that changes value or attributes.
//   - LastReported moves on every write, including no-op reports.
//
// The invariant LastChanged <= LastUpdated <= LastReported always holds.
type State struct {
	// EntityID identifies the entity this snapshot belongs to.
	EntityID EntityID `json:"entity_id"`

	// Value is the state value (e.g. "on", "off", "21.5", "unavailable").
	Value string `json:"state"`

	// Attributes carries arbitrary JSON metadata alongside the value.
	Attributes map[string]any `json:"attributes"`

	// LastChanged is when the state value last differed.
	LastChanged time.Time `json:"last_changed"`

	// LastUpdated is when the snapshot last changed in value or attributes.
	LastUpdated time.Time `json:"last_updated"`

	// LastReported is when the entity last reported, including no-ops.
	LastReported time.Time `json:"last_reported"`

	// Context is the context of the write that produced this snapshot.
	Context Context `json:"context"`
}

// NewState creates a snapshot with all timestamps set to now.
func NewState(entityID EntityID, value string, attributes map[string]any, ctx Context) *State {
	if attributes == nil {
		attributes = map[string]any{}
	}
	now := time.Now().UTC()
	return &State{
		EntityID:     entityID,
		Value:        value,
		Attributes:   attributes,
		LastChanged:  now,
		LastUpdated:  now,
		LastReported: now,
		Context:      ctx,
	}
}

// WithUpdate derives the successor snapshot for a new write.
//
// LastChanged is preserved from the receiver when the value is unchanged;
// LastUpdated is preserved too when both value and attributes are
// unchanged (a no-op report), in which case only LastReported moves.
func (s *State) WithUpdate(value string, attributes map[string]any, ctx Context) *State {
	if attributes == nil {
		attributes = map[string]any{}
	}
	now := time.Now().UTC()

	next := &State{
		EntityID:     s.EntityID,
		Value:        value,
		Attributes:   attributes,
		LastChanged:  now,
		LastUpdated:  now,
		LastReported: now,
		Context:      ctx,
	}
	if value == s.Value {
		next.LastChanged = s.LastChanged
		if reflect.DeepEqual(attributes, s.Attributes) {
			next.LastUpdated = s.LastUpdated
			next.Context = s.Context
		}
	}
	return next
}

// Equal reports snapshot equality: entity id, value and attributes match.
// Timestamps and context are excluded by design of the data model.
func (s *State) Equal(other *State) bool {
	if s == nil || other == nil {
		return s == other
	}
	return s.EntityID == other.EntityID &&
		s.Value == other.Value &&
		reflect.DeepEqual(s.Attributes, other.Attributes)
}

// IsUnavailable reports whether the entity's source is unreachable.
func (s *State) IsUnavailable() bool { return s.Value == StateUnavailable }

// IsUnknown reports whether the state value is undetermined.
func (s *State) IsUnknown() bool { return s.Value == StateUnknown }

// Attribute returns the named attribute, or nil if absent.
func (s *State) Attribute(key string) any {
	if s == nil || s.Attributes == nil {
		return nil
	}
	return s.Attributes[key]
}

// Copy returns a deep copy of the snapshot. Attribute values are shared;
// callers must treat them as read-only.
func (s *State) Copy() *State {
	if s == nil {
		return nil
	}
	attrs := make(map[string]any, len(s.Attributes))
	for k, v := range s.Attributes {
		attrs[k] = v
	}
	dup := *s
	dup.Attributes = attrs
	return &dup
}
