package automation

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/hearthhub/hearth-core/internal/bus"
	"github.com/hearthhub/hearth-core/internal/condition"
	"github.com/hearthhub/hearth-core/internal/core"
	"github.com/hearthhub/hearth-core/internal/script"
	"github.com/hearthhub/hearth-core/internal/trigger"
)

// Logger is the minimal logging surface the manager needs.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// EventBus is the bus surface the manager needs.
type EventBus interface {
	Fire(event *core.Event)
	Subscribe(eventType string, listener bus.Listener) bus.Unsubscribe
}

// StateReader resolves current states for trigger hold re-checks.
type StateReader interface {
	Get(entityID core.EntityID) *core.State
}

type entry struct {
	config        *Automation
	controller    *script.Controller
	lastTriggered time.Time
	holds         map[*time.Timer]struct{}
}

// Manager owns the automation set and the single match-all bus
// subscription that feeds trigger evaluation.
type Manager struct {
	bus        EventBus
	states     StateReader
	executor   *script.Executor
	triggers   *trigger.Evaluator
	conditions *condition.Evaluator
	logger     Logger

	mu      sync.RWMutex
	entries map[string]*entry
	runCtx  context.Context
	unsub   bus.Unsubscribe
}

// NewManager creates an automation manager. Call Start to begin
// listening.
func NewManager(eventBus EventBus, states StateReader, executor *script.Executor, triggers *trigger.Evaluator, conditions *condition.Evaluator) *Manager {
	return &Manager{
		bus:        eventBus,
		states:     states,
		executor:   executor,
		triggers:   triggers,
		conditions: conditions,
		logger:     noopLogger{},
		entries:    map[string]*entry{},
	}
}

// SetLogger replaces the manager's logger.
func (m *Manager) SetLogger(logger Logger) {
	if logger != nil {
		m.logger = logger
	}
}

// Start subscribes to the bus. ctx parents every script run; cancelling
// it winds down in-flight runs.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.unsub != nil {
		return
	}
	m.runCtx = ctx
	m.unsub = m.bus.Subscribe(core.EventTypeMatchAll, m.handleEvent)
}

// Stop unsubscribes and cancels pending holds and runs.
func (m *Manager) Stop() {
	m.mu.Lock()
	unsub := m.unsub
	m.unsub = nil
	entries := make([]*entry, 0, len(m.entries))
	for _, e := range m.entries {
		entries = append(entries, e)
	}
	m.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	for _, e := range entries {
		m.quiesce(e)
	}
}

// Add registers an automation. An empty id gets a generated one.
func (m *Manager) Add(a *Automation) error {
	if len(a.Triggers) == 0 {
		return ErrNoTriggers
	}
	if a.ID == "" {
		a.ID = core.NewID()
	}

	name := a.Alias
	if name == "" {
		name = a.ID
	}
	controller := script.NewController(m.executor, script.ControllerConfig{
		Name:        name,
		Sequence:    a.Actions,
		Mode:        a.Mode,
		Max:         a.Max,
		MaxExceeded: a.MaxExceeded,
	})

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.entries[a.ID]; exists {
		return ErrDuplicateID
	}
	m.entries[a.ID] = &entry{
		config:     a,
		controller: controller,
		holds:      map[*time.Timer]struct{}{},
	}
	return nil
}

// Remove unregisters an automation and cancels its runs.
func (m *Manager) Remove(id string) error {
	m.mu.Lock()
	e, ok := m.entries[id]
	delete(m.entries, id)
	m.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	m.quiesce(e)
	return nil
}

// Get returns the automation configuration.
func (m *Manager) Get(id string) (*Automation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[id]
	if !ok {
		return nil, ErrNotFound
	}
	return e.config, nil
}

// List returns all automations sorted by alias.
func (m *Manager) List() []*Automation {
	m.mu.RLock()
	out := make([]*Automation, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e.config)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Alias < out[j].Alias })
	return out
}

// SetEnabled toggles an automation. Disabling cancels pending holds and
// in-flight runs.
func (m *Manager) SetEnabled(id string, enabled bool) error {
	m.mu.Lock()
	e, ok := m.entries[id]
	if ok {
		e.config.Enabled = &enabled
	}
	m.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	if !enabled {
		m.quiesce(e)
	}
	return nil
}

// LastTriggered reports when the automation last started a run.
// Zero when it never has.
func (m *Manager) LastTriggered(id string) (time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[id]
	if !ok {
		return time.Time{}, ErrNotFound
	}
	return e.lastTriggered, nil
}

// CurrentRuns counts the automation's running plus queued invocations.
func (m *Manager) CurrentRuns(id string) int {
	m.mu.RLock()
	e, ok := m.entries[id]
	m.mu.RUnlock()
	if !ok {
		return 0
	}
	return e.controller.CurrentRuns()
}

// quiesce stops holds, forgets template trigger baselines and cancels
// the controller's runs.
func (m *Manager) quiesce(e *entry) {
	m.mu.Lock()
	for timer := range e.holds {
		timer.Stop()
		delete(e.holds, timer)
	}
	m.mu.Unlock()
	for _, tr := range e.config.Triggers {
		m.triggers.Forget(tr)
	}
	e.controller.Stop()
}

func (m *Manager) handleEvent(event *core.Event) {
	m.mu.RLock()
	entries := make([]*entry, 0, len(m.entries))
	for _, e := range m.entries {
		entries = append(entries, e)
	}
	m.mu.RUnlock()

	for _, e := range entries {
		if !e.config.enabled() {
			continue
		}
		for _, tr := range e.config.Triggers {
			d, ok, err := m.triggers.Evaluate(tr, event)
			if err != nil {
				m.logger.Error("trigger evaluation failed",
					"automation", e.config.ID, "platform", tr.Platform, "error", err)
				continue
			}
			if !ok {
				continue
			}
			if d.For > 0 {
				m.scheduleHold(e, d, event.Context)
			} else {
				m.fire(e, d, event.Context)
			}
		}
	}
}

// scheduleHold arms the trigger's `for` delay and fires only when the
// entity still holds the triggering value afterwards.
func (m *Manager) scheduleHold(e *entry, d *trigger.Data, cause core.Context) {
	var timer *time.Timer
	timer = time.AfterFunc(d.For.Std(), func() {
		m.mu.Lock()
		_, pending := e.holds[timer]
		delete(e.holds, timer)
		m.mu.Unlock()
		if !pending || !m.stillHolding(d) {
			return
		}
		m.fire(e, d, cause)
	})
	m.mu.Lock()
	e.holds[timer] = struct{}{}
	m.mu.Unlock()
}

func (m *Manager) stillHolding(d *trigger.Data) bool {
	rawID, _ := d.Vars["entity_id"].(string)
	to, _ := d.Vars["to_state"].(map[string]any)
	if rawID == "" || to == nil {
		return true
	}
	want, _ := to["state"].(string)
	id, err := core.ParseEntityID(rawID)
	if err != nil {
		return false
	}
	st := m.states.Get(id)
	return st != nil && st.Value == want
}

// fire gates a matched trigger through the conditions and starts a run.
// last_triggered moves only when the run controller accepts.
func (m *Manager) fire(e *entry, d *trigger.Data, cause core.Context) {
	vars := make(map[string]any, len(e.config.Variables)+1)
	for k, v := range e.config.Variables {
		vars[k] = v
	}
	vars["trigger"] = d.Map()

	for _, c := range e.config.Conditions {
		ok, err := m.conditions.Eval(c, vars)
		if err != nil {
			m.logger.Error("condition evaluation failed",
				"automation", e.config.ID, "error", err)
			return
		}
		if !ok {
			return
		}
	}

	m.mu.RLock()
	parent := m.runCtx
	m.mu.RUnlock()
	if parent == nil {
		parent = context.Background()
	}

	runCtx := cause.Child()
	if !e.controller.Start(parent, vars, runCtx) {
		return
	}

	m.mu.Lock()
	e.lastTriggered = time.Now().UTC()
	m.mu.Unlock()

	m.bus.Fire(core.NewEvent(core.EventAutomationTriggered, map[string]any{
		"name":   e.config.Alias,
		"id":     e.config.ID,
		"source": d.Platform,
	}, runCtx))
}
