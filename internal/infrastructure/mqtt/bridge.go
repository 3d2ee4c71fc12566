package mqtt

import (
	"encoding/json"
	"fmt"

	"github.com/hearthhub/hearth-core/internal/bus"
	"github.com/hearthhub/hearth-core/internal/core"
)

// Broker is the client surface the bridge needs. *Client satisfies it.
type Broker interface {
	Subscribe(topic string, qos byte, handler MessageHandler) error
	Unsubscribe(topic string) error
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// EventBus is the local bus surface the bridge consumes.
type EventBus interface {
	Fire(e *core.Event)
	Subscribe(eventType string, listener bus.Listener) bus.Unsubscribe
}

// Bridge connects the local event bus to the broker.
//
// Ingress: messages on <prefix>/event/<type> are fired locally as
// origin=remote events carrying the JSON payload as event data.
//
// Egress: local state transitions are republished as retained messages
// on <prefix>/state/<entity_id>. Only origin=local events are
// republished, so remote traffic never loops back to the broker.
type Bridge struct {
	broker Broker
	bus    EventBus
	topics Topics
	qos    byte
	logger Logger

	unsub bus.Unsubscribe
}

// NewBridge creates a bridge. Call Start to begin forwarding.
func NewBridge(broker Broker, eventBus EventBus, topics Topics, qos byte, logger Logger) *Bridge {
	return &Bridge{
		broker: broker,
		bus:    eventBus,
		topics: topics,
		qos:    qos,
		logger: logger,
	}
}

// Start subscribes to the broker's event topics and to local
// state_changed events.
func (b *Bridge) Start() error {
	if err := b.broker.Subscribe(b.topics.AllEvents(), b.qos, b.onRemoteEvent); err != nil {
		return fmt.Errorf("subscribing to remote events: %w", err)
	}
	b.unsub = b.bus.Subscribe(core.EventStateChanged, b.onStateChanged)
	return nil
}

// Stop detaches the bridge from both sides. The broker connection
// itself stays open; closing it is the owner's job.
func (b *Bridge) Stop() {
	if b.unsub != nil {
		b.unsub()
		b.unsub = nil
	}
	if err := b.broker.Unsubscribe(b.topics.AllEvents()); err != nil && b.logger != nil {
		b.logger.Warn("unsubscribing from remote events", "error", err)
	}
}

func (b *Bridge) onRemoteEvent(topic string, payload []byte) error {
	eventType, ok := b.topics.EventType(topic)
	if !ok {
		return fmt.Errorf("mqtt: unexpected event topic %q", topic)
	}

	// state_changed carries typed pointers locally and cannot be
	// reconstructed from JSON; the match-all type is reserved.
	if eventType == core.EventStateChanged || eventType == core.EventTypeMatchAll {
		return fmt.Errorf("mqtt: refusing to ingest reserved event type %q", eventType)
	}

	var data map[string]any
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &data); err != nil {
			return fmt.Errorf("mqtt: decoding event payload on %q: %w", topic, err)
		}
	}

	b.bus.Fire(core.NewEvent(eventType, data, core.NewContext()).WithOrigin(core.OriginRemote))
	return nil
}

func (b *Bridge) onStateChanged(e *core.Event) {
	if e.Origin != core.OriginLocal {
		return
	}
	data, ok := core.StateChanged(e)
	if !ok {
		return
	}

	topic := b.topics.State(data.EntityID.String())

	// Removal clears the retained value.
	if data.NewState == nil {
		if err := b.broker.Publish(topic, nil, b.qos, true); err != nil && b.logger != nil {
			b.logger.Warn("clearing retained state", "topic", topic, "error", err)
		}
		return
	}

	payload, err := json.Marshal(data.NewState)
	if err != nil {
		if b.logger != nil {
			b.logger.Error("encoding state for publish",
				"entity_id", data.EntityID.String(), "error", err)
		}
		return
	}
	if err := b.broker.Publish(topic, payload, b.qos, true); err != nil && b.logger != nil {
		b.logger.Warn("publishing state", "topic", topic, "error", err)
	}
}
