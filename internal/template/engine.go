package template

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/flosch/pongo2/v6"

	"github.com/hearthhub/hearth-core/internal/core"
)

// StateReader is the read-only view of the state store the engine needs.
type StateReader interface {
	Get(entityID core.EntityID) *core.State
	EntityIDs(domain string) []core.EntityID
	Domains() []string
}

// Engine compiles and evaluates templates. Compiled templates are cached
// by source.
type Engine struct {
	states StateReader

	mu    sync.Mutex
	cache map[string]*pongo2.Template

	// now is replaceable in tests.
	now func() time.Time
}

// NewEngine creates a template engine bound to a state reader.
func NewEngine(states StateReader) *Engine {
	registerFilters()
	return &Engine{
		states: states,
		cache:  make(map[string]*pongo2.Template),
		now:    time.Now,
	}
}

// IsTemplate reports whether the string contains template syntax.
func IsTemplate(s string) bool {
	return strings.Contains(s, "{{") || strings.Contains(s, "{%")
}

// statesCall rewrites the callable form states(...) to an internal
// function name, leaving the states.<domain>.<object> namespace (which
// the same identifier serves) to map attribute lookup.
var statesCall = regexp.MustCompile(`\bstates\s*\(`)

func (e *Engine) compile(source string) (*pongo2.Template, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if tpl, ok := e.cache[source]; ok {
		return tpl, nil
	}
	tpl, err := pongo2.FromString(statesCall.ReplaceAllString(source, "__states("))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSyntax, err)
	}
	e.cache[source] = tpl
	return tpl, nil
}

// Render executes the template and returns the output string. vars are
// merged over the built-in helpers; a var named like a helper wins.
func (e *Engine) Render(source string, vars map[string]any) (string, error) {
	tpl, err := e.compile(source)
	if err != nil {
		return "", err
	}

	out, err := tpl.Execute(e.context(vars))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrType, err)
	}
	return canonicalFloat(out), nil
}

// pongo2 prints floats with six fixed decimals. When the whole output is
// such a float, reformat it to the shortest round-trip form so arithmetic
// on state values renders as "22.5", not "22.500000".
var renderedFloat = regexp.MustCompile(`^-?\d+\.\d{6}$`)

func canonicalFloat(out string) string {
	if !renderedFloat.MatchString(out) {
		return out
	}
	f, err := strconv.ParseFloat(out, 64)
	if err != nil {
		return out
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// Evaluate renders the template and parses the result back into a typed
// value: numbers, booleans, null, JSON arrays and objects survive the
// round trip; anything else stays a string. An empty render is nil.
func (e *Engine) Evaluate(source string, vars map[string]any) (any, error) {
	out, err := e.Render(source, vars)
	if err != nil {
		return nil, err
	}
	return parseLiteral(out), nil
}

func parseLiteral(out string) any {
	trimmed := strings.TrimSpace(out)
	switch trimmed {
	case "":
		return nil
	case "None", "none", "null":
		return nil
	case "True":
		return true
	case "False":
		return false
	}
	if json.Valid([]byte(trimmed)) {
		var v any
		if err := json.Unmarshal([]byte(trimmed), &v); err == nil {
			return v
		}
	}
	return trimmed
}

// Truthy applies the template truthiness rules to an evaluated value:
// nil is false, booleans are themselves, numbers are non-zero, strings
// and collections are non-empty.
func Truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "", "false", "no", "off", "0":
			return false
		}
		return true
	case int:
		return t != 0
	case int64:
		return t != 0
	case float64:
		return t != 0
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	}
	return true
}

// context assembles the render context: helper functions, the states
// namespace and the caller's variables.
func (e *Engine) context(vars map[string]any) pongo2.Context {
	ctx := pongo2.Context{
		"states":        e.namespace(),
		"__states":      e.fnStates,
		"is_state":      e.fnIsState,
		"state_attr":    e.fnStateAttr,
		"has_value":     e.fnHasValue,
		"now":           e.fnNow,
		"utcnow":        e.fnUTCNow,
		"today_at":      e.fnTodayAt,
		"as_timestamp":  fnAsTimestamp,
		"relative_time": e.fnRelativeTime,
		"regex_replace": fnRegexReplace,
	}
	for k, v := range vars {
		ctx[k] = v
	}
	return ctx
}

// namespace builds the states.<domain>.<object> tree for this render.
func (e *Engine) namespace() map[string]any {
	tree := make(map[string]any)
	for _, domain := range e.states.Domains() {
		objects := make(map[string]any)
		for _, id := range e.states.EntityIDs(domain) {
			if st := e.states.Get(id); st != nil {
				objects[id.Object()] = stateMap(st)
			}
		}
		tree[domain] = objects
	}
	return tree
}

func stateMap(st *core.State) map[string]any {
	return map[string]any{
		"entity_id":     st.EntityID.String(),
		"state":         st.Value,
		"attributes":    st.Attributes,
		"last_changed":  st.LastChanged,
		"last_updated":  st.LastUpdated,
		"last_reported": st.LastReported,
	}
}

func (e *Engine) lookup(entityID string) *core.State {
	id, err := core.ParseEntityID(entityID)
	if err != nil {
		return nil
	}
	return e.states.Get(id)
}

func (e *Engine) fnStates(entityID string) *pongo2.Value {
	st := e.lookup(entityID)
	if st == nil {
		return pongo2.AsValue(nil)
	}
	return pongo2.AsValue(st.Value)
}

func (e *Engine) fnIsState(entityID, value string) bool {
	st := e.lookup(entityID)
	return st != nil && st.Value == value
}

func (e *Engine) fnStateAttr(entityID, attr string) *pongo2.Value {
	st := e.lookup(entityID)
	if st == nil {
		return pongo2.AsValue(nil)
	}
	return pongo2.AsValue(st.Attributes[attr])
}

// fnHasValue reports whether the entity has a usable state, so unknown
// and unavailable both count as absent.
func (e *Engine) fnHasValue(entityID string) bool {
	st := e.lookup(entityID)
	return st != nil && !st.IsUnknown() && !st.IsUnavailable()
}

func (e *Engine) fnNow() time.Time {
	return e.now()
}

func (e *Engine) fnUTCNow() time.Time {
	return e.now().UTC()
}

// fnTodayAt resolves "HH:MM" or "HH:MM:SS" against today's local date.
func (e *Engine) fnTodayAt(clock string) *pongo2.Value {
	layout := "15:04"
	if strings.Count(clock, ":") == 2 {
		layout = "15:04:05"
	}
	parsed, err := time.Parse(layout, clock)
	if err != nil {
		return pongo2.AsValue(nil)
	}
	n := e.now()
	return pongo2.AsValue(time.Date(n.Year(), n.Month(), n.Day(),
		parsed.Hour(), parsed.Minute(), parsed.Second(), 0, n.Location()))
}

func fnAsTimestamp(v *pongo2.Value) *pongo2.Value {
	switch t := v.Interface().(type) {
	case time.Time:
		return pongo2.AsValue(float64(t.UnixNano()) / float64(time.Second))
	case string:
		parsed, err := time.Parse(time.RFC3339, t)
		if err != nil {
			return pongo2.AsValue(nil)
		}
		return pongo2.AsValue(float64(parsed.UnixNano()) / float64(time.Second))
	}
	return pongo2.AsValue(nil)
}

// fnRelativeTime renders the age of a past timestamp in the largest
// sensible unit; future timestamps come back in RFC3339.
func (e *Engine) fnRelativeTime(t time.Time) string {
	diff := e.now().Sub(t)
	switch {
	case diff < 0:
		return t.Format(time.RFC3339)
	case diff < time.Minute:
		return fmt.Sprintf("%d seconds", int(diff.Seconds()))
	case diff < time.Hour:
		return fmt.Sprintf("%d minutes", int(diff.Minutes()))
	case diff < 24*time.Hour:
		return fmt.Sprintf("%d hours", int(diff.Hours()))
	default:
		return fmt.Sprintf("%d days", int(diff.Hours()/24))
	}
}

func fnRegexReplace(value, find, replace string) *pongo2.Value {
	re, err := regexp.Compile(find)
	if err != nil {
		return pongo2.AsValue(value)
	}
	return pongo2.AsValue(re.ReplaceAllString(value, replace))
}

// entityRefPatterns pick entity ids out of template source: the states
// namespace form and the quoted first argument of the state helpers.
var entityRefPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\bstates\.([a-z_][0-9a-z_]*)\.([0-9a-z_]+)`),
	regexp.MustCompile(`\b(?:states|is_state|state_attr|has_value)\(\s*['"]([0-9a-z_]+\.[0-9a-z_]+)['"]`),
}

// ReferencedEntities returns the entity ids the template source reads,
// extracted lexically. Dynamic references built from variables are not
// detected.
func ReferencedEntities(source string) []core.EntityID {
	seen := make(map[core.EntityID]bool)
	var out []core.EntityID

	add := func(raw string) {
		id, err := core.ParseEntityID(raw)
		if err != nil || seen[id] {
			return
		}
		seen[id] = true
		out = append(out, id)
	}

	for _, m := range entityRefPatterns[0].FindAllStringSubmatch(source, -1) {
		add(m[1] + "." + m[2])
	}
	for _, m := range entityRefPatterns[1].FindAllStringSubmatch(source, -1) {
		add(m[1])
	}
	return out
}
