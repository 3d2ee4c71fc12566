package configentry

import (
	"fmt"
	"time"
)

// State is a lifecycle state of a config entry.
type State string

const (
	StateNotLoaded        State = "not_loaded"
	StateSetupInProgress  State = "setup_in_progress"
	StateLoaded           State = "loaded"
	StateSetupError       State = "setup_error"
	StateSetupRetry       State = "setup_retry"
	StateUnloadInProgress State = "unload_in_progress"
	StateFailedUnload     State = "failed_unload"
	StateMigrationError   State = "migration_error"
)

// transitions lists the permitted moves. Absent states are terminal;
// failed_unload and migration_error only leave via removal.
var transitions = map[State][]State{
	StateNotLoaded:        {StateSetupInProgress},
	StateSetupInProgress:  {StateLoaded, StateSetupError, StateSetupRetry, StateMigrationError},
	StateLoaded:           {StateUnloadInProgress},
	StateSetupError:       {StateUnloadInProgress},
	StateSetupRetry:       {StateSetupInProgress, StateUnloadInProgress},
	StateUnloadInProgress: {StateNotLoaded, StateFailedUnload},
}

// CanTransition reports whether the move from s to next is permitted.
func (s State) CanTransition(next State) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Active reports whether the entry is currently providing its entities.
func (s State) Active() bool {
	return s == StateLoaded
}

// Entry is one configured integration instance.
type Entry struct {
	ID           string         `json:"id"`
	Domain       string         `json:"domain"`
	Title        string         `json:"title"`
	Data         map[string]any `json:"data"`
	Options      map[string]any `json:"options,omitempty"`
	UniqueID     string         `json:"unique_id,omitempty"`
	Version      int            `json:"version"`
	MinorVersion int            `json:"minor_version"`
	Source       string         `json:"source"`
	DisabledBy   string         `json:"disabled_by,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	ModifiedAt   time.Time      `json:"modified_at"`

	// Runtime-only lifecycle position; never persisted.
	State State `json:"-"`
	// Reason holds the message of the last setup or unload failure.
	Reason string `json:"-"`

	setupTries int
}

// Copy returns a deep copy of the entry.
func (e *Entry) Copy() *Entry {
	if e == nil {
		return nil
	}
	clone := *e
	clone.Data = copyMap(e.Data)
	clone.Options = copyMap(e.Options)
	return &clone
}

func copyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// transition moves the entry to next, or fails with
// ErrInvalidStateTransition.
func (e *Entry) transition(next State) error {
	if !e.State.CanTransition(next) {
		return fmt.Errorf("%w: %s: %s -> %s", ErrInvalidStateTransition, e.ID, e.State, next)
	}
	e.State = next
	return nil
}
