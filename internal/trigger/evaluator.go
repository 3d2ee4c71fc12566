package trigger

import (
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hearthhub/hearth-core/internal/core"
	"github.com/hearthhub/hearth-core/internal/template"
)

// Evaluator matches triggers against events. It is safe for concurrent
// use; only template triggers carry per-trigger history.
type Evaluator struct {
	engine *template.Engine

	mu    sync.Mutex
	truth map[*Trigger]bool
}

// NewEvaluator creates a trigger evaluator.
func NewEvaluator(engine *template.Engine) *Evaluator {
	return &Evaluator{
		engine: engine,
		truth:  map[*Trigger]bool{},
	}
}

// Evaluate reports whether the event fires the trigger. The returned
// Data carries the platform variables for the automation run. A state
// trigger with For set matches immediately; the caller holds the run
// back until the duration has elapsed and the state still satisfies To.
func (ev *Evaluator) Evaluate(tr *Trigger, event *core.Event) (*Data, bool, error) {
	switch tr.Platform {
	case PlatformEvent:
		return ev.evalEvent(tr, event)
	case PlatformState:
		return ev.evalState(tr, event)
	case PlatformNumericState:
		return ev.evalNumericState(tr, event)
	case PlatformTemplate:
		return ev.evalTemplate(tr, event)
	case PlatformTime:
		return ev.evalTime(tr, event)
	case PlatformTimePattern:
		return ev.evalTimePattern(tr, event)
	case PlatformHearth:
		return ev.evalHearth(tr, event)
	}
	return nil, false, fmt.Errorf("%w: %q", ErrUnknownPlatform, tr.Platform)
}

// Forget drops the template history for a trigger. Call when the owning
// automation is removed or reloaded.
func (ev *Evaluator) Forget(tr *Trigger) {
	ev.mu.Lock()
	delete(ev.truth, tr)
	ev.mu.Unlock()
}

func (ev *Evaluator) data(tr *Trigger, event *core.Event, vars map[string]any) *Data {
	return &Data{
		Platform:    tr.Platform,
		ID:          tr.ID,
		TriggeredAt: event.TimeFired,
		Vars:        vars,
	}
}

// evalEvent matches on event type plus an optional subset of the
// event payload.
func (ev *Evaluator) evalEvent(tr *Trigger, event *core.Event) (*Data, bool, error) {
	if !tr.EventType.Contains(event.Type) {
		return nil, false, nil
	}
	for key, want := range tr.EventData {
		got, ok := event.Data[key]
		if !ok || !reflect.DeepEqual(want, got) {
			return nil, false, nil
		}
	}
	return ev.data(tr, event, map[string]any{
		"event": map[string]any{
			"event_type": event.Type,
			"data":       event.Data,
		},
	}), true, nil
}

// evalState matches state transitions of the listed entities. With
// neither From nor To set, any state_changed for the entity matches,
// attribute-only updates included. With either set, the value itself
// must change and land on (or leave) a listed value.
func (ev *Evaluator) evalState(tr *Trigger, event *core.Event) (*Data, bool, error) {
	data, ok := core.StateChanged(event)
	if !ok || !tr.EntityID.Contains(data.EntityID.String()) {
		return nil, false, nil
	}

	if len(tr.From) > 0 || len(tr.To) > 0 {
		oldValue, newValue := "", ""
		if data.OldState != nil {
			oldValue = data.OldState.Value
		}
		if data.NewState != nil {
			newValue = data.NewState.Value
		}
		if oldValue == newValue {
			return nil, false, nil
		}
		if len(tr.From) > 0 && (data.OldState == nil || !tr.From.Contains(oldValue)) {
			return nil, false, nil
		}
		if len(tr.To) > 0 && (data.NewState == nil || !tr.To.Contains(newValue)) {
			return nil, false, nil
		}
	}

	d := ev.data(tr, event, map[string]any{
		"entity_id":  data.EntityID.String(),
		"from_state": stateMap(data.OldState),
		"to_state":   stateMap(data.NewState),
	})
	d.For = tr.For
	return d, true, nil
}

// evalNumericState matches when the new value crosses into the open
// interval (Above, Below) and the old value was outside it. A missing
// or non-numeric old value counts as outside, so the first numeric
// report inside the interval fires.
func (ev *Evaluator) evalNumericState(tr *Trigger, event *core.Event) (*Data, bool, error) {
	data, ok := core.StateChanged(event)
	if !ok || !tr.EntityID.Contains(data.EntityID.String()) {
		return nil, false, nil
	}
	if data.NewState == nil {
		return nil, false, nil
	}

	newValue, ok, err := ev.numericValue(tr, data.NewState)
	if err != nil {
		return nil, false, err
	}
	if !ok || !ev.inRange(tr, newValue) {
		return nil, false, nil
	}

	if data.OldState != nil {
		oldValue, ok, err := ev.numericValue(tr, data.OldState)
		if err != nil {
			return nil, false, err
		}
		if ok && ev.inRange(tr, oldValue) {
			// Already inside, no crossing.
			return nil, false, nil
		}
	}

	vars := map[string]any{
		"entity_id":  data.EntityID.String(),
		"from_state": stateMap(data.OldState),
		"to_state":   stateMap(data.NewState),
	}
	if tr.Above != nil {
		vars["above"] = *tr.Above
	}
	if tr.Below != nil {
		vars["below"] = *tr.Below
	}
	d := ev.data(tr, event, vars)
	d.For = tr.For
	return d, true, nil
}

func (ev *Evaluator) inRange(tr *Trigger, v float64) bool {
	if tr.Above != nil && v <= *tr.Above {
		return false
	}
	if tr.Below != nil && v >= *tr.Below {
		return false
	}
	return true
}

func (ev *Evaluator) numericValue(tr *Trigger, st *core.State) (float64, bool, error) {
	raw := st.Value
	if tr.ValueTemplate != "" {
		rendered, err := ev.engine.Render(tr.ValueTemplate, map[string]any{"state": stateMap(st)})
		if err != nil {
			return 0, false, err
		}
		raw = rendered
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false, nil
	}
	return f, true, nil
}

// evalTemplate re-evaluates the template on state and time events and
// matches only on the transition from non-truthy to truthy. The first
// evaluation records the baseline without matching.
func (ev *Evaluator) evalTemplate(tr *Trigger, event *core.Event) (*Data, bool, error) {
	if event.Type != core.EventStateChanged && event.Type != core.EventTimeChanged {
		return nil, false, nil
	}

	result, err := ev.engine.Evaluate(tr.ValueTemplate, nil)
	if err != nil {
		return nil, false, err
	}
	truthy := template.Truthy(result)

	ev.mu.Lock()
	prev, seen := ev.truth[tr]
	ev.truth[tr] = truthy
	ev.mu.Unlock()

	if !seen || prev || !truthy {
		return nil, false, nil
	}
	return ev.data(tr, event, map[string]any{}), true, nil
}

// evalTime matches a time_changed tick whose wall clock equals one of
// the At entries. "HH:MM" entries match at second zero.
func (ev *Evaluator) evalTime(tr *Trigger, event *core.Event) (*Data, bool, error) {
	now, ok := tickTime(event)
	if !ok {
		return nil, false, nil
	}
	nowSec := now.Hour()*3600 + now.Minute()*60 + now.Second()
	for _, at := range tr.At {
		target, err := clockSeconds(at)
		if err != nil {
			return nil, false, err
		}
		if nowSec == target {
			return ev.data(tr, event, map[string]any{"now": now}), true, nil
		}
	}
	return nil, false, nil
}

// evalTimePattern matches ticks against the hour/minute/second pattern.
// Unset fields fall back to "*" above the most specific set field and
// to 0 below it, so minutes "/5" fires once per matching minute rather
// than sixty times.
func (ev *Evaluator) evalTimePattern(tr *Trigger, event *core.Event) (*Data, bool, error) {
	now, ok := tickTime(event)
	if !ok {
		return nil, false, nil
	}

	hours, minutes, seconds := tr.Hours, tr.Minutes, tr.Seconds
	if hours == "" && minutes == "" && seconds == "" {
		return nil, false, nil
	}
	if seconds == "" {
		seconds = "0"
	}
	if minutes == "" {
		if tr.Hours != "" {
			minutes = "0"
		} else {
			minutes = "*"
		}
	}
	if hours == "" {
		hours = "*"
	}

	for _, field := range []struct {
		pattern string
		value   int
	}{
		{hours, now.Hour()},
		{minutes, now.Minute()},
		{seconds, now.Second()},
	} {
		ok, err := patternMatches(field.pattern, field.value)
		if err != nil {
			return nil, false, err
		}
		if !ok {
			return nil, false, nil
		}
	}
	return ev.data(tr, event, map[string]any{"now": now}), true, nil
}

// evalHearth matches the kernel start and shutdown events. An unset
// Event defaults to start.
func (ev *Evaluator) evalHearth(tr *Trigger, event *core.Event) (*Data, bool, error) {
	want := core.EventHearthStart
	if tr.Event == "shutdown" {
		want = core.EventHearthStop
	}
	if event.Type != want {
		return nil, false, nil
	}
	return ev.data(tr, event, map[string]any{"event": tr.Event}), true, nil
}

func tickTime(event *core.Event) (time.Time, bool) {
	if event.Type != core.EventTimeChanged {
		return time.Time{}, false
	}
	now, ok := event.Data["now"].(time.Time)
	return now, ok
}

func patternMatches(pattern string, value int) (bool, error) {
	if pattern == "*" {
		return true, nil
	}
	if step, found := strings.CutPrefix(pattern, "/"); found {
		n, err := strconv.Atoi(step)
		if err != nil || n <= 0 {
			return false, fmt.Errorf("trigger: invalid time pattern %q", pattern)
		}
		return value%n == 0, nil
	}
	n, err := strconv.Atoi(pattern)
	if err != nil {
		return false, fmt.Errorf("trigger: invalid time pattern %q", pattern)
	}
	return value == n, nil
}

// clockSeconds parses "HH:MM" or "HH:MM:SS" into seconds since midnight.
func clockSeconds(clock string) (int, error) {
	layout := "15:04"
	if strings.Count(clock, ":") == 2 {
		layout = "15:04:05"
	}
	t, err := time.Parse(layout, clock)
	if err != nil {
		return 0, fmt.Errorf("trigger: invalid time %q: %w", clock, err)
	}
	return t.Hour()*3600 + t.Minute()*60 + t.Second(), nil
}

func stateMap(st *core.State) map[string]any {
	if st == nil {
		return nil
	}
	return map[string]any{
		"entity_id":  st.EntityID.String(),
		"state":      st.Value,
		"attributes": st.Attributes,
	}
}
