package mqtt

import "strings"

// DefaultPrefix roots every Hearth topic unless overridden in
// configuration.
const DefaultPrefix = "hearth"

// Topics builds the topic strings Hearth publishes and subscribes on.
// All topics share a single configurable prefix:
//
//	hearth/event/<event_type>   remote event ingress
//	hearth/state/<entity_id>    retained state egress
//	hearth/system/status        online/offline status (LWT)
type Topics struct {
	prefix string
}

// NewTopics returns a Topics rooted at the given prefix. An empty
// prefix falls back to DefaultPrefix.
func NewTopics(prefix string) Topics {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return Topics{prefix: prefix}
}

// Event returns the ingress topic for a single event type.
//
// Example: hearth/event/doorbell_pressed
func (t Topics) Event(eventType string) string {
	return t.prefix + "/event/" + eventType
}

// AllEvents returns the wildcard pattern matching every event topic.
//
// Pattern: hearth/event/#
func (t Topics) AllEvents() string {
	return t.prefix + "/event/#"
}

// EventType extracts the event type from an ingress topic. Returns
// false when the topic is not under the event prefix or names no type.
func (t Topics) EventType(topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, t.prefix+"/event/")
	if !ok || rest == "" {
		return "", false
	}
	return rest, true
}

// State returns the egress topic for an entity's state.
//
// Example: hearth/state/light.kitchen
func (t Topics) State(entityID string) string {
	return t.prefix + "/state/" + entityID
}

// AllStates returns the wildcard pattern matching every state topic.
//
// Pattern: hearth/state/#
func (t Topics) AllStates() string {
	return t.prefix + "/state/#"
}

// SystemStatus returns the status topic carrying online/offline
// payloads, including the broker-published Last Will.
//
// Example: hearth/system/status
func (t Topics) SystemStatus() string {
	return t.prefix + "/system/status"
}
