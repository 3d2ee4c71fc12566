package trigger

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearthhub/hearth-core/internal/core"
	"github.com/hearthhub/hearth-core/internal/state"
	"github.com/hearthhub/hearth-core/internal/template"
)

type nopBus struct{}

func (nopBus) Fire(*core.Event) {}

func newTestEvaluator() (*Evaluator, *state.Store) {
	store := state.NewStore(nopBus{})
	return NewEvaluator(template.NewEngine(store)), store
}

func fptr(f float64) *float64 { return &f }

func changeEvent(entityID string, old, niu *core.State) *core.Event {
	data := core.StateChangedData{EntityID: core.MustEntityID(entityID), OldState: old, NewState: niu}
	return core.StateChangedEvent(data, core.NewContext())
}

func st(entityID, value string, attrs map[string]any) *core.State {
	return core.NewState(core.MustEntityID(entityID), value, attrs, core.NewContext())
}

func tick(now time.Time) *core.Event {
	return core.NewEvent(core.EventTimeChanged, map[string]any{"now": now}, core.NewContext())
}

func TestTriggerJSONRoundTrip(t *testing.T) {
	raw := `{
		"platform": "state",
		"id": "door_opened",
		"entity_id": ["binary_sensor.front_door"],
		"from": "off",
		"to": "on",
		"for": "00:00:10"
	}`

	var tr Trigger
	require.NoError(t, json.Unmarshal([]byte(raw), &tr))
	assert.Equal(t, PlatformState, tr.Platform)
	assert.Equal(t, "door_opened", tr.ID)
	assert.Equal(t, core.StringList{"off"}, tr.From)
	assert.Equal(t, 10*time.Second, tr.For.Std())
}

func TestEventTrigger(t *testing.T) {
	ev, _ := newTestEvaluator()
	tr := &Trigger{Platform: PlatformEvent, EventType: core.StringList{"doorbell_pressed"}}

	event := core.NewEvent("doorbell_pressed", map[string]any{"button": "front"}, core.NewContext())
	d, ok, err := ev.Evaluate(tr, event)
	require.NoError(t, err)
	require.True(t, ok)
	payload := d.Vars["event"].(map[string]any)
	assert.Equal(t, "doorbell_pressed", payload["event_type"])

	_, ok, err = ev.Evaluate(tr, core.NewEvent("other", nil, core.NewContext()))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEventTriggerDataSubset(t *testing.T) {
	ev, _ := newTestEvaluator()
	tr := &Trigger{
		Platform:  PlatformEvent,
		EventType: core.StringList{"doorbell_pressed"},
		EventData: map[string]any{"button": "front"},
	}

	match := core.NewEvent("doorbell_pressed", map[string]any{"button": "front", "battery": 80}, core.NewContext())
	_, ok, err := ev.Evaluate(tr, match)
	require.NoError(t, err)
	assert.True(t, ok, "extra payload keys must not block the match")

	miss := core.NewEvent("doorbell_pressed", map[string]any{"button": "back"}, core.NewContext())
	_, ok, err = ev.Evaluate(tr, miss)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStateTrigger(t *testing.T) {
	ev, _ := newTestEvaluator()
	tr := &Trigger{
		Platform: PlatformState,
		ID:       "opened",
		EntityID: core.StringList{"binary_sensor.front_door"},
		From:     core.StringList{"off"},
		To:       core.StringList{"on"},
	}

	d, ok, err := ev.Evaluate(tr, changeEvent("binary_sensor.front_door",
		st("binary_sensor.front_door", "off", nil),
		st("binary_sensor.front_door", "on", nil)))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "opened", d.ID)
	assert.Equal(t, "binary_sensor.front_door", d.Vars["entity_id"])
	from := d.Vars["from_state"].(map[string]any)
	assert.Equal(t, "off", from["state"])

	// Wrong direction.
	_, ok, err = ev.Evaluate(tr, changeEvent("binary_sensor.front_door",
		st("binary_sensor.front_door", "on", nil),
		st("binary_sensor.front_door", "off", nil)))
	require.NoError(t, err)
	assert.False(t, ok)

	// Different entity.
	_, ok, err = ev.Evaluate(tr, changeEvent("binary_sensor.back_door",
		st("binary_sensor.back_door", "off", nil),
		st("binary_sensor.back_door", "on", nil)))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStateTriggerAttributeOnlyChange(t *testing.T) {
	ev, _ := newTestEvaluator()

	old := st("light.kitchen", "on", map[string]any{"brightness": 100})
	niu := st("light.kitchen", "on", map[string]any{"brightness": 200})

	// With To set, the value must actually change.
	tr := &Trigger{Platform: PlatformState, EntityID: core.StringList{"light.kitchen"}, To: core.StringList{"on"}}
	_, ok, err := ev.Evaluate(tr, changeEvent("light.kitchen", old, niu))
	require.NoError(t, err)
	assert.False(t, ok)

	// Without From or To, any change matches.
	any := &Trigger{Platform: PlatformState, EntityID: core.StringList{"light.kitchen"}}
	_, ok, err = ev.Evaluate(any, changeEvent("light.kitchen", old, niu))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestStateTriggerCreationAndRemoval(t *testing.T) {
	ev, _ := newTestEvaluator()

	// A new entity has no old state; From "off" cannot match.
	tr := &Trigger{Platform: PlatformState, EntityID: core.StringList{"light.new"}, From: core.StringList{"off"}}
	_, ok, err := ev.Evaluate(tr, changeEvent("light.new", nil, st("light.new", "on", nil)))
	require.NoError(t, err)
	assert.False(t, ok)

	// To-only matches entity creation landing on the value.
	toOnly := &Trigger{Platform: PlatformState, EntityID: core.StringList{"light.new"}, To: core.StringList{"on"}}
	d, ok, err := ev.Evaluate(toOnly, changeEvent("light.new", nil, st("light.new", "on", nil)))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Nil(t, d.Vars["from_state"])
}

func TestStateTriggerCarriesFor(t *testing.T) {
	ev, _ := newTestEvaluator()
	tr := &Trigger{
		Platform: PlatformState,
		EntityID: core.StringList{"binary_sensor.front_door"},
		To:       core.StringList{"on"},
		For:      core.Duration(10 * time.Second),
	}

	d, ok, err := ev.Evaluate(tr, changeEvent("binary_sensor.front_door",
		st("binary_sensor.front_door", "off", nil),
		st("binary_sensor.front_door", "on", nil)))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 10*time.Second, d.For.Std())
}

func TestNumericStateTriggerCrossing(t *testing.T) {
	ev, _ := newTestEvaluator()
	tr := &Trigger{
		Platform: PlatformNumericState,
		EntityID: core.StringList{"sensor.temp"},
		Above:    fptr(25),
	}

	// 24 -> 26 crosses the threshold.
	d, ok, err := ev.Evaluate(tr, changeEvent("sensor.temp",
		st("sensor.temp", "24", nil), st("sensor.temp", "26", nil)))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 25.0, d.Vars["above"])

	// 26 -> 27 stays inside, no new crossing.
	_, ok, err = ev.Evaluate(tr, changeEvent("sensor.temp",
		st("sensor.temp", "26", nil), st("sensor.temp", "27", nil)))
	require.NoError(t, err)
	assert.False(t, ok)

	// 27 -> 24 leaves the range, no match either.
	_, ok, err = ev.Evaluate(tr, changeEvent("sensor.temp",
		st("sensor.temp", "27", nil), st("sensor.temp", "24", nil)))
	require.NoError(t, err)
	assert.False(t, ok)

	// Exactly the bound is outside the open interval.
	_, ok, err = ev.Evaluate(tr, changeEvent("sensor.temp",
		st("sensor.temp", "24", nil), st("sensor.temp", "25", nil)))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNumericStateTriggerFirstNumericReport(t *testing.T) {
	ev, _ := newTestEvaluator()
	tr := &Trigger{
		Platform: PlatformNumericState,
		EntityID: core.StringList{"sensor.temp"},
		Above:    fptr(25),
	}

	// unavailable -> 26: the old value was not numeric, so this counts
	// as a crossing.
	_, ok, err := ev.Evaluate(tr, changeEvent("sensor.temp",
		st("sensor.temp", "unavailable", nil), st("sensor.temp", "26", nil)))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestNumericStateTriggerValueTemplate(t *testing.T) {
	ev, _ := newTestEvaluator()
	tr := &Trigger{
		Platform:      PlatformNumericState,
		EntityID:      core.StringList{"climate.living_room"},
		Below:         fptr(18),
		ValueTemplate: "{{ state.attributes.current_temperature }}",
	}

	old := st("climate.living_room", "heat", map[string]any{"current_temperature": 19.0})
	niu := st("climate.living_room", "heat", map[string]any{"current_temperature": 17.5})
	_, ok, err := ev.Evaluate(tr, changeEvent("climate.living_room", old, niu))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestTemplateTriggerRisingEdge(t *testing.T) {
	ev, store := newTestEvaluator()
	store.Set(core.MustEntityID("sensor.temp"), "20", nil, core.NewContext())
	tr := &Trigger{Platform: PlatformTemplate, ValueTemplate: "{{ states('sensor.temp') | float > 25 }}"}

	probe := changeEvent("sensor.temp", nil, st("sensor.temp", "20", nil))

	// First evaluation only records the baseline.
	_, ok, err := ev.Evaluate(tr, probe)
	require.NoError(t, err)
	assert.False(t, ok)

	// Still false, still no match.
	_, ok, err = ev.Evaluate(tr, probe)
	require.NoError(t, err)
	assert.False(t, ok)

	// Flip to true: rising edge fires.
	store.Set(core.MustEntityID("sensor.temp"), "30", nil, core.NewContext())
	_, ok, err = ev.Evaluate(tr, probe)
	require.NoError(t, err)
	assert.True(t, ok)

	// True again is not an edge.
	_, ok, err = ev.Evaluate(tr, probe)
	require.NoError(t, err)
	assert.False(t, ok)

	// Falling then rising fires once more.
	store.Set(core.MustEntityID("sensor.temp"), "20", nil, core.NewContext())
	_, ok, err = ev.Evaluate(tr, probe)
	require.NoError(t, err)
	assert.False(t, ok)
	store.Set(core.MustEntityID("sensor.temp"), "30", nil, core.NewContext())
	_, ok, err = ev.Evaluate(tr, probe)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestTemplateTriggerForgetResetsBaseline(t *testing.T) {
	ev, store := newTestEvaluator()
	store.Set(core.MustEntityID("sensor.temp"), "30", nil, core.NewContext())
	tr := &Trigger{Platform: PlatformTemplate, ValueTemplate: "{{ states('sensor.temp') | float > 25 }}"}
	probe := changeEvent("sensor.temp", nil, st("sensor.temp", "30", nil))

	_, ok, err := ev.Evaluate(tr, probe)
	require.NoError(t, err)
	assert.False(t, ok, "first evaluation is the baseline even when truthy")

	ev.Forget(tr)
	_, ok, err = ev.Evaluate(tr, probe)
	require.NoError(t, err)
	assert.False(t, ok, "after Forget the baseline is recorded anew")
}

func TestTemplateTriggerError(t *testing.T) {
	ev, _ := newTestEvaluator()
	tr := &Trigger{Platform: PlatformTemplate, ValueTemplate: "{{ broken"}
	_, _, err := ev.Evaluate(tr, changeEvent("sensor.temp", nil, st("sensor.temp", "1", nil)))
	assert.Error(t, err)
}

func TestTimeTrigger(t *testing.T) {
	ev, _ := newTestEvaluator()
	tr := &Trigger{Platform: PlatformTime, At: core.StringList{"07:30", "22:15:30"}}

	d, ok, err := ev.Evaluate(tr, tick(time.Date(2026, 3, 14, 7, 30, 0, 0, time.UTC)))
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotNil(t, d.Vars["now"])

	_, ok, err = ev.Evaluate(tr, tick(time.Date(2026, 3, 14, 7, 30, 1, 0, time.UTC)))
	require.NoError(t, err)
	assert.False(t, ok, "HH:MM entries match only at second zero")

	_, ok, err = ev.Evaluate(tr, tick(time.Date(2026, 3, 14, 22, 15, 30, 0, time.UTC)))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestTimePatternTrigger(t *testing.T) {
	ev, _ := newTestEvaluator()

	everyFive := &Trigger{Platform: PlatformTimePattern, Minutes: "/5"}
	_, ok, err := ev.Evaluate(everyFive, tick(time.Date(2026, 3, 14, 9, 15, 0, 0, time.UTC)))
	require.NoError(t, err)
	assert.True(t, ok)

	_, ok, err = ev.Evaluate(everyFive, tick(time.Date(2026, 3, 14, 9, 15, 30, 0, time.UTC)))
	require.NoError(t, err)
	assert.False(t, ok, "unset seconds pin the match to second zero")

	_, ok, err = ev.Evaluate(everyFive, tick(time.Date(2026, 3, 14, 9, 16, 0, 0, time.UTC)))
	require.NoError(t, err)
	assert.False(t, ok)

	literal := &Trigger{Platform: PlatformTimePattern, Hours: "6", Minutes: "30", Seconds: "*"}
	_, ok, err = ev.Evaluate(literal, tick(time.Date(2026, 3, 14, 6, 30, 42, 0, time.UTC)))
	require.NoError(t, err)
	assert.True(t, ok)

	empty := &Trigger{Platform: PlatformTimePattern}
	_, ok, err = ev.Evaluate(empty, tick(time.Date(2026, 3, 14, 6, 30, 0, 0, time.UTC)))
	require.NoError(t, err)
	assert.False(t, ok, "a pattern with no fields never matches")

	bad := &Trigger{Platform: PlatformTimePattern, Minutes: "/x"}
	_, _, err = ev.Evaluate(bad, tick(time.Date(2026, 3, 14, 6, 30, 0, 0, time.UTC)))
	assert.Error(t, err)
}

func TestHearthTrigger(t *testing.T) {
	ev, _ := newTestEvaluator()

	start := &Trigger{Platform: PlatformHearth, Event: "start"}
	_, ok, err := ev.Evaluate(start, core.NewEvent(core.EventHearthStart, nil, core.NewContext()))
	require.NoError(t, err)
	assert.True(t, ok)

	shutdown := &Trigger{Platform: PlatformHearth, Event: "shutdown"}
	_, ok, err = ev.Evaluate(shutdown, core.NewEvent(core.EventHearthStop, nil, core.NewContext()))
	require.NoError(t, err)
	assert.True(t, ok)

	_, ok, err = ev.Evaluate(shutdown, core.NewEvent(core.EventHearthStart, nil, core.NewContext()))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUnknownPlatform(t *testing.T) {
	ev, _ := newTestEvaluator()
	_, _, err := ev.Evaluate(&Trigger{Platform: "sunspot"}, core.NewEvent("x", nil, core.NewContext()))
	assert.ErrorIs(t, err, ErrUnknownPlatform)
}

func TestDataMap(t *testing.T) {
	d := &Data{
		Platform:    PlatformState,
		ID:          "opened",
		TriggeredAt: time.Date(2026, 3, 14, 7, 30, 0, 0, time.UTC),
		Vars:        map[string]any{"entity_id": "light.kitchen"},
	}
	m := d.Map()
	assert.Equal(t, PlatformState, m["platform"])
	assert.Equal(t, "opened", m["id"])
	assert.Equal(t, "light.kitchen", m["entity_id"])
}
