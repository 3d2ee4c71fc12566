package core

import "time"

// EventTypeMatchAll is the reserved event type whose subscribers receive
// every event regardless of type.
const EventTypeMatchAll = "*"

// Well-known event types fired by the kernel.
const (
	EventStateChanged          = "state_changed"
	EventCallService           = "call_service"
	EventServiceRegistered     = "service_registered"
	EventServiceRemoved        = "service_removed"
	EventHearthStart           = "homeassistant_start"
	EventHearthStop            = "homeassistant_stop"
	EventTimeChanged           = "time_changed"
	EventAutomationTriggered   = "automation_triggered"
	EventEntityRegistryUpdated = "entity_registry_updated"
	EventDeviceRegistryUpdated = "device_registry_updated"
	EventAreaRegistryUpdated   = "area_registry_updated"
	EventFloorRegistryUpdated  = "floor_registry_updated"
	EventLabelRegistryUpdated  = "label_registry_updated"
)

// EventOrigin records where an event entered the system.
type EventOrigin string

const (
	// OriginLocal marks events produced by this process.
	OriginLocal EventOrigin = "local"

	// OriginRemote marks events ingested from an external source.
	OriginRemote EventOrigin = "remote"
)

// Event is the envelope broadcast on the event bus.
//
// Events are immutable once fired; every subscriber observes the same
// envelope. Data is opaque JSON-compatible payload keyed by convention
// per event type.
type Event struct {
	// Type is the event type string. "*" is reserved for match-all
	// subscriptions and must never be fired directly.
	Type string `json:"event_type"`

	// Data is the event payload.
	Data map[string]any `json:"data"`

	// Origin records whether the event was produced locally or remotely.
	Origin EventOrigin `json:"origin"`

	// TimeFired is when the event was fired.
	TimeFired time.Time `json:"time_fired"`

	// Context is the causality record for the event.
	Context Context `json:"context"`
}

// NewEvent creates a local event fired now.
func NewEvent(eventType string, data map[string]any, ctx Context) *Event {
	if data == nil {
		data = map[string]any{}
	}
	return &Event{
		Type:      eventType,
		Data:      data,
		Origin:    OriginLocal,
		TimeFired: time.Now().UTC(),
		Context:   ctx,
	}
}

// WithOrigin returns a copy of the event with the given origin.
func (e *Event) WithOrigin(origin EventOrigin) *Event {
	dup := *e
	dup.Origin = origin
	return &dup
}

// StateChangedData is the payload of a state_changed event.
//
// At least one of OldState and NewState is non-nil: a nil OldState marks
// entity creation, a nil NewState marks removal. Both nil is forbidden.
type StateChangedData struct {
	EntityID EntityID `json:"entity_id"`
	OldState *State   `json:"old_state"`
	NewState *State   `json:"new_state"`
}

// StateChanged extracts the payload of a state_changed event.
// Returns false for any other event type or a malformed payload.
func StateChanged(e *Event) (StateChangedData, bool) {
	if e.Type != EventStateChanged {
		return StateChangedData{}, false
	}
	id, ok := e.Data["entity_id"].(EntityID)
	if !ok {
		return StateChangedData{}, false
	}
	old, _ := e.Data["old_state"].(*State)
	niu, _ := e.Data["new_state"].(*State)
	if old == nil && niu == nil {
		return StateChangedData{}, false
	}
	return StateChangedData{EntityID: id, OldState: old, NewState: niu}, true
}

// StateChangedEvent builds the state_changed envelope for a transition.
// The payload keeps the typed values so in-process subscribers avoid a
// marshal round-trip; the wire encoding flattens naturally via JSON tags.
func StateChangedEvent(data StateChangedData, ctx Context) *Event {
	return NewEvent(EventStateChanged, map[string]any{
		"entity_id": data.EntityID,
		"old_state": data.OldState,
		"new_state": data.NewState,
	}, ctx)
}
