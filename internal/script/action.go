package script

import (
	"encoding/json"

	"github.com/hearthhub/hearth-core/internal/condition"
	"github.com/hearthhub/hearth-core/internal/core"
	"github.com/hearthhub/hearth-core/internal/trigger"
)

// Action kinds, as reported by Kind.
const (
	KindService        = "call_service"
	KindDelay          = "delay"
	KindWaitTemplate   = "wait_template"
	KindWaitForTrigger = "wait_for_trigger"
	KindCondition      = "condition"
	KindChoose         = "choose"
	KindIf             = "if"
	KindRepeat         = "repeat"
	KindParallel       = "parallel"
	KindSequence       = "sequence"
	KindVariables      = "variables"
	KindStop           = "stop"
	KindEvent          = "event"
)

// Action is one node of an action tree. The variant is determined by
// which shape keys are present, mirroring the configuration syntax.
type Action struct {
	// Alias names the step in logs. Optional on every variant.
	Alias string `json:"alias,omitempty"`

	// Enabled false skips the action without failing the sequence.
	Enabled *bool `json:"enabled,omitempty"`

	// call_service
	Service          string         `json:"service,omitempty"`
	Data             map[string]any `json:"data,omitempty"`
	Target           map[string]any `json:"target,omitempty"`
	ResponseVariable string         `json:"response_variable,omitempty"`

	// delay
	Delay *core.Duration `json:"delay,omitempty"`

	// wait_template
	WaitTemplate string `json:"wait_template,omitempty"`

	// wait_for_trigger
	WaitForTrigger []*trigger.Trigger `json:"wait_for_trigger,omitempty"`

	// wait_template, wait_for_trigger
	Timeout           *core.Duration `json:"timeout,omitempty"`
	ContinueOnTimeout *bool          `json:"continue_on_timeout,omitempty"`

	// condition: the whole action object doubles as the condition,
	// filled in by UnmarshalJSON.
	Condition *condition.Condition `json:"-"`

	// choose
	Choose  []ChooseBranch `json:"choose,omitempty"`
	Default []*Action      `json:"default,omitempty"`

	// if
	If   []*condition.Condition `json:"if,omitempty"`
	Then []*Action              `json:"then,omitempty"`
	Else []*Action              `json:"else,omitempty"`

	// repeat
	Repeat *Repeat `json:"repeat,omitempty"`

	// parallel
	Parallel []*Action `json:"parallel,omitempty"`

	// sequence
	Sequence []*Action `json:"sequence,omitempty"`

	// variables
	Variables map[string]any `json:"variables,omitempty"`

	// stop
	Stop      *string `json:"stop,omitempty"`
	StopError bool    `json:"error,omitempty"`

	// event
	Event     string         `json:"event,omitempty"`
	EventData map[string]any `json:"event_data,omitempty"`
}

// ChooseBranch is one guarded branch of a choose action.
type ChooseBranch struct {
	Alias      string                 `json:"alias,omitempty"`
	Conditions []*condition.Condition `json:"conditions"`
	Sequence   []*Action              `json:"sequence"`
}

// Repeat configures a repeat action. Exactly one of Count, While,
// Until and ForEach applies.
type Repeat struct {
	Count    any                    `json:"count,omitempty"`
	While    []*condition.Condition `json:"while,omitempty"`
	Until    []*condition.Condition `json:"until,omitempty"`
	ForEach  any                    `json:"for_each,omitempty"`
	Sequence []*Action              `json:"sequence"`
}

// UnmarshalJSON decodes the tagged fields and, when a "condition" key
// is present, re-reads the whole object as an inline condition.
func (a *Action) UnmarshalJSON(b []byte) error {
	type plain Action
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*a = Action(p)

	var probe struct {
		Condition string `json:"condition"`
	}
	if err := json.Unmarshal(b, &probe); err == nil && probe.Condition != "" {
		var c condition.Condition
		if err := json.Unmarshal(b, &c); err != nil {
			return err
		}
		a.Condition = &c
	}
	return nil
}

// Kind reports the action variant, or "" when no shape key is set.
func (a *Action) Kind() string {
	switch {
	case a.Service != "":
		return KindService
	case a.Delay != nil:
		return KindDelay
	case a.WaitTemplate != "":
		return KindWaitTemplate
	case len(a.WaitForTrigger) > 0:
		return KindWaitForTrigger
	case a.Condition != nil:
		return KindCondition
	case len(a.Choose) > 0 || len(a.Default) > 0:
		return KindChoose
	case len(a.If) > 0:
		return KindIf
	case a.Repeat != nil:
		return KindRepeat
	case len(a.Parallel) > 0:
		return KindParallel
	case len(a.Sequence) > 0:
		return KindSequence
	case a.Variables != nil:
		return KindVariables
	case a.Stop != nil:
		return KindStop
	case a.Event != "":
		return KindEvent
	}
	return ""
}
