package mqtt

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/hearthhub/hearth-core/internal/bus"
	"github.com/hearthhub/hearth-core/internal/core"
)

// fakeBroker records publishes and lets tests inject incoming messages.
type fakeBroker struct {
	mu        sync.Mutex
	handlers  map[string]MessageHandler
	published []publishedMsg
}

type publishedMsg struct {
	topic    string
	payload  []byte
	retained bool
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{handlers: make(map[string]MessageHandler)}
}

func (f *fakeBroker) Subscribe(topic string, _ byte, handler MessageHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[topic] = handler
	return nil
}

func (f *fakeBroker) Unsubscribe(topic string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.handlers, topic)
	return nil
}

func (f *fakeBroker) Publish(topic string, payload []byte, _ byte, retained bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, publishedMsg{topic: topic, payload: payload, retained: retained})
	return nil
}

// deliver simulates a broker message arriving on the event wildcard.
func (f *fakeBroker) deliver(t *testing.T, topic string, payload []byte) error {
	t.Helper()
	f.mu.Lock()
	handler, ok := f.handlers["hearth/event/#"]
	f.mu.Unlock()
	if !ok {
		t.Fatal("bridge has no event subscription")
	}
	return handler(topic, payload)
}

func (f *fakeBroker) messages() []publishedMsg {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]publishedMsg(nil), f.published...)
}

func newTestBridge(t *testing.T) (*Bridge, *fakeBroker, *bus.Bus) {
	t.Helper()
	broker := newFakeBroker()
	b := bus.New()
	bridge := NewBridge(broker, b, NewTopics(""), 1, nil)
	if err := bridge.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(bridge.Stop)
	return bridge, broker, b
}

func TestBridgeIngestsRemoteEvents(t *testing.T) {
	_, broker, b := newTestBridge(t)

	var got *core.Event
	b.Subscribe("doorbell_pressed", func(e *core.Event) { got = e })

	err := broker.deliver(t, "hearth/event/doorbell_pressed", []byte(`{"entity_id":"binary_sensor.door"}`))
	if err != nil {
		t.Fatalf("deliver error = %v", err)
	}

	if got == nil {
		t.Fatal("remote event not fired on local bus")
	}
	if got.Origin != core.OriginRemote {
		t.Errorf("origin = %q, want remote", got.Origin)
	}
	if got.Data["entity_id"] != "binary_sensor.door" {
		t.Errorf("data = %v, want entity_id payload", got.Data)
	}
}

func TestBridgeRejectsReservedEventTypes(t *testing.T) {
	_, broker, b := newTestBridge(t)

	fired := 0
	b.Subscribe(core.EventTypeMatchAll, func(*core.Event) { fired++ })

	if err := broker.deliver(t, "hearth/event/state_changed", []byte(`{}`)); err == nil {
		t.Error("state_changed ingest should error")
	}
	if err := broker.deliver(t, "hearth/event/*", []byte(`{}`)); err == nil {
		t.Error("match-all ingest should error")
	}
	if fired != 0 {
		t.Errorf("reserved events fired %d times, want 0", fired)
	}
}

func TestBridgeRejectsMalformedPayload(t *testing.T) {
	_, broker, _ := newTestBridge(t)

	if err := broker.deliver(t, "hearth/event/doorbell_pressed", []byte("{not json")); err == nil {
		t.Error("malformed payload should error")
	}
}

func TestBridgeRepublishesLocalState(t *testing.T) {
	_, broker, b := newTestBridge(t)

	ctx := core.NewContext()
	st := core.NewState(core.MustEntityID("light.kitchen"), "on", map[string]any{"brightness": 200}, ctx)
	b.Fire(core.StateChangedEvent(core.StateChangedData{
		EntityID: core.MustEntityID("light.kitchen"),
		NewState: st,
	}, ctx))

	msgs := broker.messages()
	if len(msgs) != 1 {
		t.Fatalf("published %d messages, want 1", len(msgs))
	}
	if msgs[0].topic != "hearth/state/light.kitchen" {
		t.Errorf("topic = %q, want hearth/state/light.kitchen", msgs[0].topic)
	}
	if !msgs[0].retained {
		t.Error("state message should be retained")
	}

	var decoded core.State
	if err := json.Unmarshal(msgs[0].payload, &decoded); err != nil {
		t.Fatalf("decoding payload: %v", err)
	}
	if decoded.Value != "on" {
		t.Errorf("payload state = %q, want on", decoded.Value)
	}
}

func TestBridgeClearsRetainedStateOnRemoval(t *testing.T) {
	_, broker, b := newTestBridge(t)

	ctx := core.NewContext()
	st := core.NewState(core.MustEntityID("light.kitchen"), "on", nil, ctx)
	b.Fire(core.StateChangedEvent(core.StateChangedData{
		EntityID: core.MustEntityID("light.kitchen"),
		OldState: st,
	}, ctx))

	msgs := broker.messages()
	if len(msgs) != 1 {
		t.Fatalf("published %d messages, want 1", len(msgs))
	}
	if len(msgs[0].payload) != 0 {
		t.Errorf("removal payload = %q, want empty", msgs[0].payload)
	}
}

func TestBridgeIgnoresRemoteStateChanges(t *testing.T) {
	_, broker, b := newTestBridge(t)

	ctx := core.NewContext()
	st := core.NewState(core.MustEntityID("light.kitchen"), "on", nil, ctx)
	e := core.StateChangedEvent(core.StateChangedData{
		EntityID: core.MustEntityID("light.kitchen"),
		NewState: st,
	}, ctx).WithOrigin(core.OriginRemote)
	b.Fire(e)

	if msgs := broker.messages(); len(msgs) != 0 {
		t.Errorf("published %d messages for remote event, want 0", len(msgs))
	}
}

func TestBridgeStopDetaches(t *testing.T) {
	bridge, broker, b := newTestBridge(t)
	bridge.Stop()

	ctx := core.NewContext()
	st := core.NewState(core.MustEntityID("light.kitchen"), "on", nil, ctx)
	b.Fire(core.StateChangedEvent(core.StateChangedData{
		EntityID: core.MustEntityID("light.kitchen"),
		NewState: st,
	}, ctx))

	if msgs := broker.messages(); len(msgs) != 0 {
		t.Errorf("published %d messages after Stop, want 0", len(msgs))
	}
	broker.mu.Lock()
	defer broker.mu.Unlock()
	if len(broker.handlers) != 0 {
		t.Error("broker subscription not removed on Stop")
	}
}
