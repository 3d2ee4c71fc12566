package condition

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
	return NewEvaluator(store, template.NewEngine(store)), store
}

func fptr(f float64) *float64 { return &f }

func TestConditionJSONRoundTrip(t *testing.T) {
	raw := `{
		"condition": "and",
		"conditions": [
			{"condition": "state", "entity_id": "light.kitchen", "state": ["on", "off"], "for": "00:05:00"},
			{"condition": "numeric_state", "entity_id": ["sensor.temp"], "above": 20, "below": 25}
		]
	}`

	var c Condition
	require.NoError(t, json.Unmarshal([]byte(raw), &c))
	require.Len(t, c.Conditions, 2)
	assert.Equal(t, core.StringList{"light.kitchen"}, c.Conditions[0].EntityID)
	assert.Equal(t, 5*time.Minute, c.Conditions[0].For.Std())
	assert.Equal(t, 20.0, *c.Conditions[1].Above)
}

func TestStateCondition(t *testing.T) {
	ev, store := newTestEvaluator()
	store.Set(core.MustEntityID("light.kitchen"), "on", nil, core.NewContext())

	ok, err := ev.Eval(&Condition{Type: TypeState, EntityID: core.StringList{"light.kitchen"}, State: core.StringList{"on"}}, nil)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = ev.Eval(&Condition{Type: TypeState, EntityID: core.StringList{"light.kitchen"}, State: core.StringList{"off", "unavailable"}}, nil)
	require.NoError(t, err)
	assert.False(t, ok)

	// An absent entity never matches.
	ok, err = ev.Eval(&Condition{Type: TypeState, EntityID: core.StringList{"light.ghost"}, State: core.StringList{"on"}}, nil)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStateConditionFor(t *testing.T) {
	ev, store := newTestEvaluator()
	store.Set(core.MustEntityID("door.front"), "open", nil, core.NewContext())

	cond := &Condition{
		Type:     TypeState,
		EntityID: core.StringList{"door.front"},
		State:    core.StringList{"open"},
		For:      core.Duration(10 * time.Minute),
	}

	ok, err := ev.Eval(cond, nil)
	require.NoError(t, err)
	assert.False(t, ok, "change too recent")

	ev.now = func() time.Time { return time.Now().Add(11 * time.Minute) }
	ok, err = ev.Eval(cond, nil)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestNumericStateCondition(t *testing.T) {
	ev, store := newTestEvaluator()
	store.Set(core.MustEntityID("sensor.temp"), "21.5", nil, core.NewContext())

	cases := []struct {
		above, below *float64
		want         bool
	}{
		{fptr(20), fptr(25), true},
		{fptr(21.5), nil, false}, // open interval: equal fails
		{nil, fptr(21.5), false},
		{fptr(25), nil, false},
		{nil, fptr(25), true},
	}
	for i, tc := range cases {
		ok, err := ev.Eval(&Condition{
			Type:     TypeNumericState,
			EntityID: core.StringList{"sensor.temp"},
			Above:    tc.above,
			Below:    tc.below,
		}, nil)
		require.NoError(t, err, "case %d", i)
		assert.Equal(t, tc.want, ok, "case %d", i)
	}
}

func TestNumericStateNonNumericFails(t *testing.T) {
	ev, store := newTestEvaluator()
	store.Set(core.MustEntityID("sensor.temp"), "unavailable", nil, core.NewContext())

	ok, err := ev.Eval(&Condition{
		Type:     TypeNumericState,
		EntityID: core.StringList{"sensor.temp"},
		Above:    fptr(0),
	}, nil)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNumericStateValueTemplate(t *testing.T) {
	ev, store := newTestEvaluator()
	store.Set(core.MustEntityID("climate.lounge"), "heat", map[string]any{"current_temperature": 19.0}, core.NewContext())

	ok, err := ev.Eval(&Condition{
		Type:          TypeNumericState,
		EntityID:      core.StringList{"climate.lounge"},
		ValueTemplate: "{{ state.attributes.current_temperature }}",
		Below:         fptr(20),
	}, nil)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestTemplateCondition(t *testing.T) {
	ev, store := newTestEvaluator()
	store.Set(core.MustEntityID("sensor.temp"), "25", nil, core.NewContext())

	ok, err := ev.Eval(&Condition{Type: TypeTemplate, ValueTemplate: "{{ states('sensor.temp') | float > 20 }}"}, nil)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = ev.Eval(&Condition{Type: TypeTemplate, ValueTemplate: "{{ 1 > 2 }}"}, nil)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = ev.Eval(&Condition{Type: TypeTemplate, ValueTemplate: "{{ broken"}, nil)
	assert.Error(t, err)
}

func TestBooleanCombinators(t *testing.T) {
	ev, store := newTestEvaluator()
	store.Set(core.MustEntityID("light.a"), "on", nil, core.NewContext())
	store.Set(core.MustEntityID("light.b"), "off", nil, core.NewContext())

	onA := &Condition{Type: TypeState, EntityID: core.StringList{"light.a"}, State: core.StringList{"on"}}
	onB := &Condition{Type: TypeState, EntityID: core.StringList{"light.b"}, State: core.StringList{"on"}}

	ok, err := ev.Eval(&Condition{Type: TypeAnd, Conditions: []*Condition{onA, onB}}, nil)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = ev.Eval(&Condition{Type: TypeOr, Conditions: []*Condition{onA, onB}}, nil)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = ev.Eval(&Condition{Type: TypeNot, Conditions: []*Condition{onB}}, nil)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = ev.Eval(&Condition{Type: TypeNot, Conditions: []*Condition{onA, onB}}, nil)
	require.NoError(t, err)
	assert.False(t, ok, "not fails when any child passes")
}

func TestTimeCondition(t *testing.T) {
	ev, _ := newTestEvaluator()
	// Saturday 23:15.
	ev.now = func() time.Time { return time.Date(2026, 8, 29, 23, 15, 0, 0, time.UTC) }

	ok, err := ev.Eval(&Condition{Type: TypeTime, After: "22:00", Before: "23:30"}, nil)
	require.NoError(t, err)
	assert.True(t, ok)

	// Overnight window wraps midnight.
	ok, err = ev.Eval(&Condition{Type: TypeTime, After: "22:00", Before: "06:00"}, nil)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = ev.Eval(&Condition{Type: TypeTime, After: "06:00", Before: "22:00"}, nil)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = ev.Eval(&Condition{Type: TypeTime, Weekday: core.StringList{"sat", "sun"}}, nil)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = ev.Eval(&Condition{Type: TypeTime, Weekday: core.StringList{"mon"}}, nil)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTriggerCondition(t *testing.T) {
	ev, _ := newTestEvaluator()

	cond := &Condition{Type: TypeTrigger, ID: core.StringList{"motion", "door"}}

	ok, err := ev.Eval(cond, map[string]any{"trigger": map[string]any{"id": "motion"}})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = ev.Eval(cond, map[string]any{"trigger": map[string]any{"id": "other"}})
	require.NoError(t, err)
	assert.False(t, ok)

	// Outside automation execution there is no trigger variable.
	ok, err = ev.Eval(cond, nil)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUnknownConditionType(t *testing.T) {
	ev, _ := newTestEvaluator()

	_, err := ev.Eval(&Condition{Type: "sunrise"}, nil)
	assert.ErrorIs(t, err, ErrUnknownType)
}
