package script

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hearthhub/hearth-core/internal/bus"
	"github.com/hearthhub/hearth-core/internal/condition"
	"github.com/hearthhub/hearth-core/internal/core"
	"github.com/hearthhub/hearth-core/internal/template"
	"github.com/hearthhub/hearth-core/internal/trigger"
)

// Logger is the minimal logging surface the executor needs.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// EventBus is the bus surface the executor needs: firing events and
// subscribing for the wait actions.
type EventBus interface {
	Fire(event *core.Event)
	Subscribe(eventType string, listener bus.Listener) bus.Unsubscribe
}

// ServiceCaller dispatches service calls.
type ServiceCaller interface {
	Call(ctx context.Context, call core.ServiceCall, blocking, returnResponse bool) (map[string]any, error)
}

// Executor walks action trees. Safe for concurrent runs.
type Executor struct {
	bus        EventBus
	services   ServiceCaller
	engine     *template.Engine
	conditions *condition.Evaluator
	triggers   *trigger.Evaluator
	logger     Logger
}

// NewExecutor creates an action executor.
func NewExecutor(eventBus EventBus, services ServiceCaller, engine *template.Engine, conditions *condition.Evaluator, triggers *trigger.Evaluator) *Executor {
	return &Executor{
		bus:        eventBus,
		services:   services,
		engine:     engine,
		conditions: conditions,
		triggers:   triggers,
		logger:     noopLogger{},
	}
}

// SetLogger replaces the executor's logger.
func (ex *Executor) SetLogger(logger Logger) {
	if logger != nil {
		ex.logger = logger
	}
}

// Run executes the sequence inside a copy of vars. The core context
// chains every service call and fired event back to the run's cause.
// A false condition action or a plain stop ends the run without error;
// stop with error, a wait timeout without continue_on_timeout, and
// cancellation surface as errors.
func (ex *Executor) Run(ctx context.Context, sequence []*Action, vars map[string]any, cause core.Context) error {
	err := ex.runSequence(ctx, sequence, copyVars(vars), cause)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, errStop):
		return nil
	case errors.Is(err, ErrConditionFailed):
		ex.logger.Debug("run stopped by condition", "error", err)
		return nil
	}
	return err
}

// runSequence executes actions in order against a scope owned by this
// sequence. Callers pass a fresh copy of their scope.
func (ex *Executor) runSequence(ctx context.Context, sequence []*Action, vars map[string]any, cause core.Context) error {
	for _, a := range sequence {
		if err := ctx.Err(); err != nil {
			return err
		}
		if a.Enabled != nil && !*a.Enabled {
			continue
		}
		if err := ex.runAction(ctx, a, vars, cause); err != nil {
			return err
		}
	}
	return nil
}

func (ex *Executor) runAction(ctx context.Context, a *Action, vars map[string]any, cause core.Context) error {
	switch a.Kind() {
	case KindService:
		return ex.runService(ctx, a, vars, cause)
	case KindDelay:
		return ex.runDelay(ctx, a)
	case KindWaitTemplate:
		return ex.runWaitTemplate(ctx, a, vars)
	case KindWaitForTrigger:
		return ex.runWaitForTrigger(ctx, a, vars)
	case KindCondition:
		ok, err := ex.conditions.Eval(a.Condition, vars)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %s", ErrConditionFailed, a.Condition.Type)
		}
		return nil
	case KindChoose:
		return ex.runChoose(ctx, a, vars, cause)
	case KindIf:
		return ex.runIf(ctx, a, vars, cause)
	case KindRepeat:
		return ex.runRepeat(ctx, a, vars, cause)
	case KindParallel:
		return ex.runParallel(ctx, a, vars, cause)
	case KindSequence:
		return ex.runSequence(ctx, a.Sequence, copyVars(vars), cause)
	case KindVariables:
		return ex.runVariables(a, vars)
	case KindStop:
		return ex.runStop(a, vars)
	case KindEvent:
		return ex.runEvent(a, vars, cause)
	}
	return fmt.Errorf("%w: %q", ErrUnknownAction, a.Alias)
}

func (ex *Executor) runService(ctx context.Context, a *Action, vars map[string]any, cause core.Context) error {
	target, err := ex.expandString(a.Service, vars)
	if err != nil {
		return err
	}
	domain, service, found := strings.Cut(target, ".")
	if !found {
		return fmt.Errorf("script: invalid service %q", target)
	}

	data := map[string]any{}
	for _, source := range []map[string]any{a.Data, a.Target} {
		for k, v := range source {
			expanded, err := ex.expand(v, vars)
			if err != nil {
				return err
			}
			data[k] = expanded
		}
	}

	call := core.NewServiceCall(domain, service, data, cause)
	wantResponse := a.ResponseVariable != ""
	response, err := ex.services.Call(ctx, call, true, wantResponse)
	if err != nil {
		return err
	}
	if wantResponse {
		vars[a.ResponseVariable] = response
	}
	return nil
}

func (ex *Executor) runDelay(ctx context.Context, a *Action) error {
	timer := time.NewTimer(a.Delay.Std())
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// runWaitTemplate re-evaluates the template whenever one of its
// referenced entities changes, or on every state change when the
// references cannot be extracted.
func (ex *Executor) runWaitTemplate(ctx context.Context, a *Action, vars map[string]any) error {
	refs := map[string]bool{}
	for _, id := range template.ReferencedEntities(a.WaitTemplate) {
		refs[id.String()] = true
	}

	wake := make(chan struct{}, 1)
	unsub := ex.bus.Subscribe(core.EventStateChanged, func(event *core.Event) {
		if len(refs) > 0 {
			data, ok := core.StateChanged(event)
			if !ok || !refs[data.EntityID.String()] {
				return
			}
		}
		select {
		case wake <- struct{}{}:
		default:
		}
	})
	defer unsub()

	timeoutC, remaining, stop := ex.armTimeout(a)
	defer stop()

	for {
		result, err := ex.engine.Evaluate(a.WaitTemplate, vars)
		if err != nil {
			return err
		}
		if template.Truthy(result) {
			setWait(vars, true, remaining())
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timeoutC:
			setWait(vars, false, 0)
			if continueOnTimeout(a) {
				return nil
			}
			return fmt.Errorf("%w: wait_template", ErrTimeout)
		case <-wake:
		}
	}
}

func (ex *Executor) runWaitForTrigger(ctx context.Context, a *Action, vars map[string]any) error {
	matched := make(chan *trigger.Data, 1)
	unsub := ex.bus.Subscribe(core.EventTypeMatchAll, func(event *core.Event) {
		for _, tr := range a.WaitForTrigger {
			d, ok, err := ex.triggers.Evaluate(tr, event)
			if err != nil {
				ex.logger.Error("wait_for_trigger evaluation failed", "platform", tr.Platform, "error", err)
				continue
			}
			if ok {
				select {
				case matched <- d:
				default:
				}
				return
			}
		}
	})
	defer unsub()
	defer func() {
		for _, tr := range a.WaitForTrigger {
			ex.triggers.Forget(tr)
		}
	}()

	timeoutC, remaining, stop := ex.armTimeout(a)
	defer stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timeoutC:
		setWait(vars, false, 0)
		if continueOnTimeout(a) {
			return nil
		}
		return fmt.Errorf("%w: wait_for_trigger", ErrTimeout)
	case d := <-matched:
		setWait(vars, true, remaining())
		vars["wait"].(map[string]any)["trigger"] = d.Map()
		return nil
	}
}

// armTimeout returns the timeout channel (nil when no timeout is set,
// which never fires), a remaining-seconds probe and a stop func.
func (ex *Executor) armTimeout(a *Action) (<-chan time.Time, func() any, func()) {
	if a.Timeout == nil {
		return nil, func() any { return nil }, func() {}
	}
	deadline := time.Now().Add(a.Timeout.Std())
	timer := time.NewTimer(a.Timeout.Std())
	remaining := func() any {
		left := time.Until(deadline).Seconds()
		if left < 0 {
			left = 0
		}
		return left
	}
	return timer.C, remaining, func() { timer.Stop() }
}

func continueOnTimeout(a *Action) bool {
	return a.ContinueOnTimeout == nil || *a.ContinueOnTimeout
}

func setWait(vars map[string]any, completed bool, remaining any) {
	vars["wait"] = map[string]any{
		"completed": completed,
		"remaining": remaining,
	}
}

func (ex *Executor) runChoose(ctx context.Context, a *Action, vars map[string]any, cause core.Context) error {
	for _, branch := range a.Choose {
		ok, err := ex.allPass(branch.Conditions, vars)
		if err != nil {
			return err
		}
		if ok {
			return ex.runSequence(ctx, branch.Sequence, copyVars(vars), cause)
		}
	}
	if len(a.Default) > 0 {
		return ex.runSequence(ctx, a.Default, copyVars(vars), cause)
	}
	return nil
}

func (ex *Executor) runIf(ctx context.Context, a *Action, vars map[string]any, cause core.Context) error {
	ok, err := ex.allPass(a.If, vars)
	if err != nil {
		return err
	}
	if ok {
		return ex.runSequence(ctx, a.Then, copyVars(vars), cause)
	}
	if len(a.Else) > 0 {
		return ex.runSequence(ctx, a.Else, copyVars(vars), cause)
	}
	return nil
}

func (ex *Executor) allPass(conditions []*condition.Condition, vars map[string]any) (bool, error) {
	for _, c := range conditions {
		ok, err := ex.conditions.Eval(c, vars)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func (ex *Executor) runRepeat(ctx context.Context, a *Action, vars map[string]any, cause core.Context) error {
	r := a.Repeat
	iterate := func(index int, total int, item any) error {
		child := copyVars(vars)
		rv := map[string]any{
			"index": index,
			"first": index == 1,
		}
		if total > 0 {
			rv["last"] = index == total
		}
		if item != nil {
			rv["item"] = item
		}
		child["repeat"] = rv
		return ex.runSequence(ctx, r.Sequence, child, cause)
	}

	switch {
	case r.Count != nil:
		count, err := ex.expandInt(r.Count, vars)
		if err != nil {
			return err
		}
		for i := 1; i <= count; i++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := iterate(i, count, nil); err != nil {
				return err
			}
		}
		return nil

	case r.ForEach != nil:
		expanded, err := ex.expand(r.ForEach, vars)
		if err != nil {
			return err
		}
		items, ok := expanded.([]any)
		if !ok {
			return fmt.Errorf("script: repeat for_each needs a list, got %T", expanded)
		}
		for i, item := range items {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := iterate(i+1, len(items), item); err != nil {
				return err
			}
		}
		return nil

	case len(r.While) > 0:
		for i := 1; ; i++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			ok, err := ex.allPass(r.While, vars)
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}
			if err := iterate(i, 0, nil); err != nil {
				return err
			}
		}

	case len(r.Until) > 0:
		for i := 1; ; i++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := iterate(i, 0, nil); err != nil {
				return err
			}
			ok, err := ex.allPass(r.Until, vars)
			if err != nil {
				return err
			}
			if ok {
				return nil
			}
		}
	}
	return fmt.Errorf("%w: repeat without count, while, until or for_each", ErrUnknownAction)
}

// runParallel joins on every branch and reports the first error.
// Branches see snapshots of the scope, not each other's writes.
func (ex *Executor) runParallel(ctx context.Context, a *Action, vars map[string]any, cause core.Context) error {
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		first error
	)
	for _, branch := range a.Parallel {
		wg.Add(1)
		go func(b *Action) {
			defer wg.Done()
			err := ex.runAction(ctx, b, copyVars(vars), cause)
			if err != nil {
				mu.Lock()
				if first == nil {
					first = err
				}
				mu.Unlock()
			}
		}(branch)
	}
	wg.Wait()
	return first
}

func (ex *Executor) runVariables(a *Action, vars map[string]any) error {
	for name, value := range a.Variables {
		expanded, err := ex.expand(value, vars)
		if err != nil {
			return err
		}
		vars[name] = expanded
	}
	return nil
}

func (ex *Executor) runStop(a *Action, vars map[string]any) error {
	message, err := ex.expandString(*a.Stop, vars)
	if err != nil {
		return err
	}
	if a.StopError {
		return fmt.Errorf("%w: %s", ErrStopped, message)
	}
	if message != "" {
		ex.logger.Debug("run stopped", "message", message)
	}
	return errStop
}

func (ex *Executor) runEvent(a *Action, vars map[string]any, cause core.Context) error {
	eventType, err := ex.expandString(a.Event, vars)
	if err != nil {
		return err
	}
	data := map[string]any{}
	for k, v := range a.EventData {
		expanded, err := ex.expand(v, vars)
		if err != nil {
			return err
		}
		data[k] = expanded
	}
	ex.bus.Fire(core.NewEvent(eventType, data, cause))
	return nil
}

// expand resolves templates recursively through maps and slices.
// Template strings evaluate to their typed result.
func (ex *Executor) expand(value any, vars map[string]any) (any, error) {
	switch v := value.(type) {
	case string:
		if template.IsTemplate(v) {
			return ex.engine.Evaluate(v, vars)
		}
		return v, nil
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			expanded, err := ex.expand(item, vars)
			if err != nil {
				return nil, err
			}
			out[k] = expanded
		}
		return out, nil
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			expanded, err := ex.expand(item, vars)
			if err != nil {
				return nil, err
			}
			out[i] = expanded
		}
		return out, nil
	}
	return value, nil
}

// expandString renders a template string, keeping plain strings as is.
func (ex *Executor) expandString(s string, vars map[string]any) (string, error) {
	if !template.IsTemplate(s) {
		return s, nil
	}
	return ex.engine.Render(s, vars)
}

func (ex *Executor) expandInt(value any, vars map[string]any) (int, error) {
	expanded, err := ex.expand(value, vars)
	if err != nil {
		return 0, err
	}
	switch v := expanded.(type) {
	case int:
		return v, nil
	case float64:
		return int(v), nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, fmt.Errorf("script: repeat count %q is not a number", v)
		}
		return n, nil
	}
	return 0, fmt.Errorf("script: repeat count has unsupported type %T", expanded)
}

func copyVars(vars map[string]any) map[string]any {
	out := make(map[string]any, len(vars))
	for k, v := range vars {
		out[k] = v
	}
	return out
}
