package automation

import (
	"errors"

	"github.com/hearthhub/hearth-core/internal/condition"
	"github.com/hearthhub/hearth-core/internal/script"
	"github.com/hearthhub/hearth-core/internal/trigger"
)

var (
	// ErrNotFound is returned when no automation has the given id.
	ErrNotFound = errors.New("automation: not found")

	// ErrDuplicateID is returned when adding an automation whose id is
	// already registered.
	ErrDuplicateID = errors.New("automation: duplicate id")

	// ErrNoTriggers rejects an automation that could never run.
	ErrNoTriggers = errors.New("automation: no triggers")
)

// Automation is one automation configuration.
type Automation struct {
	// ID is the stable identifier. Generated when empty.
	ID string `json:"id,omitempty"`

	// Alias is the human-readable name.
	Alias string `json:"alias"`

	Description string `json:"description,omitempty"`

	// Mode, Max and MaxExceeded configure the run controller. Mode
	// defaults to single.
	Mode        string `json:"mode,omitempty"`
	Max         int    `json:"max,omitempty"`
	MaxExceeded string `json:"max_exceeded,omitempty"`

	// Variables seed the run scope before the trigger payload.
	Variables map[string]any `json:"variables,omitempty"`

	Triggers   []*trigger.Trigger     `json:"triggers"`
	Conditions []*condition.Condition `json:"conditions,omitempty"`
	Actions    []*script.Action       `json:"actions"`

	// Enabled defaults to true.
	Enabled *bool `json:"enabled,omitempty"`
}

func (a *Automation) enabled() bool {
	return a.Enabled == nil || *a.Enabled
}
