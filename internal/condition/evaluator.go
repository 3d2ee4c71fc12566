package condition

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/hearthhub/hearth-core/internal/core"
	"github.com/hearthhub/hearth-core/internal/template"
)

// StateReader is the read-only state view the evaluator needs.
type StateReader interface {
	Get(entityID core.EntityID) *core.State
}

// Evaluator runs condition trees against live state.
type Evaluator struct {
	states StateReader
	engine *template.Engine

	// now is replaceable in tests.
	now func() time.Time
}

// NewEvaluator creates a condition evaluator.
func NewEvaluator(states StateReader, engine *template.Engine) *Evaluator {
	return &Evaluator{
		states: states,
		engine: engine,
		now:    time.Now,
	}
}

// Eval evaluates the condition tree. Children run eagerly left to right.
// vars carry the run variables, including the `trigger` payload during
// automation action execution.
func (ev *Evaluator) Eval(c *Condition, vars map[string]any) (bool, error) {
	switch c.Type {
	case TypeAnd:
		for _, child := range c.Conditions {
			ok, err := ev.Eval(child, vars)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
		return true, nil

	case TypeOr:
		for _, child := range c.Conditions {
			ok, err := ev.Eval(child, vars)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil

	case TypeNot:
		for _, child := range c.Conditions {
			ok, err := ev.Eval(child, vars)
			if err != nil {
				return false, err
			}
			if ok {
				return false, nil
			}
		}
		return true, nil

	case TypeState:
		return ev.evalState(c)

	case TypeNumericState:
		return ev.evalNumericState(c, vars)

	case TypeTemplate:
		return ev.evalTemplate(c, vars)

	case TypeTime:
		return ev.evalTime(c)

	case TypeTrigger:
		return evalTrigger(c, vars), nil
	}
	return false, fmt.Errorf("%w: %q", ErrUnknownType, c.Type)
}

// evalState passes when every listed entity holds one of the wanted
// values, and has held it for at least For when set.
func (ev *Evaluator) evalState(c *Condition) (bool, error) {
	for _, raw := range c.EntityID {
		id, err := core.ParseEntityID(raw)
		if err != nil {
			return false, err
		}
		st := ev.states.Get(id)
		if st == nil || !c.State.Contains(st.Value) {
			return false, nil
		}
		if c.For > 0 && ev.now().Sub(st.LastChanged) < c.For.Std() {
			return false, nil
		}
	}
	return len(c.EntityID) > 0, nil
}

// evalNumericState passes when every listed entity's numeric value sits
// inside the open interval (Above, Below). A value that is not a finite
// number fails.
func (ev *Evaluator) evalNumericState(c *Condition, vars map[string]any) (bool, error) {
	for _, raw := range c.EntityID {
		id, err := core.ParseEntityID(raw)
		if err != nil {
			return false, err
		}
		st := ev.states.Get(id)
		if st == nil {
			return false, nil
		}

		value, ok, err := ev.numericValue(c, st, vars)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
		if c.Above != nil && value <= *c.Above {
			return false, nil
		}
		if c.Below != nil && value >= *c.Below {
			return false, nil
		}
	}
	return len(c.EntityID) > 0, nil
}

// numericValue resolves the comparison input: the value template when
// set (with the state exposed as `state`), otherwise the state value.
func (ev *Evaluator) numericValue(c *Condition, st *core.State, vars map[string]any) (float64, bool, error) {
	raw := st.Value
	if c.ValueTemplate != "" {
		merged := map[string]any{"state": stateVars(st)}
		for k, v := range vars {
			merged[k] = v
		}
		rendered, err := ev.engine.Render(c.ValueTemplate, merged)
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

func stateVars(st *core.State) map[string]any {
	return map[string]any{
		"entity_id":  st.EntityID.String(),
		"state":      st.Value,
		"attributes": st.Attributes,
	}
}

func (ev *Evaluator) evalTemplate(c *Condition, vars map[string]any) (bool, error) {
	result, err := ev.engine.Evaluate(c.ValueTemplate, vars)
	if err != nil {
		return false, err
	}
	return template.Truthy(result), nil
}

var weekdays = map[string]time.Weekday{
	"sun": time.Sunday, "mon": time.Monday, "tue": time.Tuesday,
	"wed": time.Wednesday, "thu": time.Thursday, "fri": time.Friday,
	"sat": time.Saturday,
}

// evalTime checks the current wall clock against After/Before and the
// weekday list. An After later than Before spans midnight.
func (ev *Evaluator) evalTime(c *Condition) (bool, error) {
	n := ev.now()

	if len(c.Weekday) > 0 {
		match := false
		for _, w := range c.Weekday {
			if day, ok := weekdays[strings.ToLower(w)]; ok && n.Weekday() == day {
				match = true
				break
			}
		}
		if !match {
			return false, nil
		}
	}

	if c.After == "" && c.Before == "" {
		return true, nil
	}

	nowSec := n.Hour()*3600 + n.Minute()*60 + n.Second()
	after, err := clockSeconds(c.After, 0)
	if err != nil {
		return false, err
	}
	before, err := clockSeconds(c.Before, 24*3600)
	if err != nil {
		return false, err
	}

	if after <= before {
		return nowSec >= after && nowSec < before, nil
	}
	// Overnight window, e.g. after 22:00 before 06:00.
	return nowSec >= after || nowSec < before, nil
}

// clockSeconds parses "HH:MM" or "HH:MM:SS" into seconds since midnight.
func clockSeconds(clock string, fallback int) (int, error) {
	if clock == "" {
		return fallback, nil
	}
	layout := "15:04"
	if strings.Count(clock, ":") == 2 {
		layout = "15:04:05"
	}
	t, err := time.Parse(layout, clock)
	if err != nil {
		return 0, fmt.Errorf("condition: invalid time %q: %w", clock, err)
	}
	return t.Hour()*3600 + t.Minute()*60 + t.Second(), nil
}

// evalTrigger passes when the active trigger's id is among the listed
// ids. Outside automation action execution there is no trigger and the
// condition fails.
func evalTrigger(c *Condition, vars map[string]any) bool {
	trigger, ok := vars["trigger"].(map[string]any)
	if !ok {
		return false
	}
	id, _ := trigger["id"].(string)
	return c.ID.Contains(id)
}
