package condition

import (
	"errors"

	"github.com/hearthhub/hearth-core/internal/core"
)

// Condition types.
const (
	TypeAnd          = "and"
	TypeOr           = "or"
	TypeNot          = "not"
	TypeState        = "state"
	TypeNumericState = "numeric_state"
	TypeTemplate     = "template"
	TypeTime         = "time"
	TypeTrigger      = "trigger"
)

// ErrUnknownType indicates a condition with an unrecognised type tag.
var ErrUnknownType = errors.New("condition: unknown condition type")

// Condition is the tagged union for one node of a condition tree. Which
// fields apply depends on Type.
type Condition struct {
	Type string `json:"condition"`

	// and / or / not
	Conditions []*Condition `json:"conditions,omitempty"`

	// state, numeric_state
	EntityID core.StringList `json:"entity_id,omitempty"`

	// state
	State core.StringList `json:"state,omitempty"`
	For   core.Duration   `json:"for,omitempty"`

	// numeric_state
	Above         *float64 `json:"above,omitempty"`
	Below         *float64 `json:"below,omitempty"`
	ValueTemplate string   `json:"value_template,omitempty"`

	// time
	After   string          `json:"after,omitempty"`
	Before  string          `json:"before,omitempty"`
	Weekday core.StringList `json:"weekday,omitempty"`

	// trigger
	ID core.StringList `json:"id,omitempty"`
}
