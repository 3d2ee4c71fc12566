package trigger

import (
	"errors"
	"time"

	"github.com/hearthhub/hearth-core/internal/core"
)

// Trigger platforms.
const (
	PlatformEvent        = "event"
	PlatformState        = "state"
	PlatformNumericState = "numeric_state"
	PlatformTemplate     = "template"
	PlatformTime         = "time"
	PlatformTimePattern  = "time_pattern"
	PlatformHearth       = "homeassistant"
)

// ErrUnknownPlatform indicates a trigger with an unrecognised platform tag.
var ErrUnknownPlatform = errors.New("trigger: unknown trigger platform")

// Trigger is the tagged union for one automation trigger. Which fields
// apply depends on Platform.
type Trigger struct {
	Platform string `json:"platform"`

	// ID names the trigger inside the automation so conditions and
	// actions can tell which trigger fired. Optional.
	ID string `json:"id,omitempty"`

	// event
	EventType core.StringList `json:"event_type,omitempty"`
	EventData map[string]any  `json:"event_data,omitempty"`

	// state, numeric_state
	EntityID core.StringList `json:"entity_id,omitempty"`

	// state
	From core.StringList `json:"from,omitempty"`
	To   core.StringList `json:"to,omitempty"`
	For  core.Duration   `json:"for,omitempty"`

	// numeric_state
	Above *float64 `json:"above,omitempty"`
	Below *float64 `json:"below,omitempty"`

	// numeric_state, template
	ValueTemplate string `json:"value_template,omitempty"`

	// time, "HH:MM" or "HH:MM:SS" entries
	At core.StringList `json:"at,omitempty"`

	// time_pattern, each "*", "/n" or a literal
	Hours   string `json:"hours,omitempty"`
	Minutes string `json:"minutes,omitempty"`
	Seconds string `json:"seconds,omitempty"`

	// homeassistant, "start" or "shutdown"
	Event string `json:"event,omitempty"`
}

// Data describes a trigger that fired. Vars carries the platform
// specific payload exposed to conditions and actions under `trigger`.
type Data struct {
	Platform    string
	ID          string
	TriggeredAt time.Time

	// For is the hold duration a state trigger still has to satisfy.
	// The caller arms the timer and re-checks before acting.
	For core.Duration

	Vars map[string]any
}

// Map flattens the trigger data into the `trigger` variable shape.
func (d *Data) Map() map[string]any {
	m := map[string]any{
		"platform":     d.Platform,
		"id":           d.ID,
		"triggered_at": d.TriggeredAt,
	}
	for k, v := range d.Vars {
		m[k] = v
	}
	return m
}
