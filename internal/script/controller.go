package script

import (
	"context"
	"errors"
	"sync"

	"github.com/hearthhub/hearth-core/internal/core"
)

// Run modes.
const (
	ModeSingle   = "single"
	ModeRestart  = "restart"
	ModeQueued   = "queued"
	ModeParallel = "parallel"
)

// DefaultMax bounds queued and parallel runs when max is unset.
const DefaultMax = 10

// MaxExceededSilent suppresses the warning on a rejected invocation.
const MaxExceededSilent = "silent"

type queuedRun struct {
	parent context.Context
	vars   map[string]any
	cause  core.Context
}

// Controller runs one script's sequence under its execution mode.
type Controller struct {
	executor *Executor
	logger   Logger

	name        string
	sequence    []*Action
	mode        string
	max         int
	maxExceeded string

	mu      sync.Mutex
	running int
	queue   []queuedRun
	nextID  int
	cancels map[int]context.CancelFunc
}

// ControllerConfig configures a run controller.
type ControllerConfig struct {
	// Name identifies the script in logs.
	Name string

	Sequence []*Action

	// Mode defaults to single.
	Mode string

	// Max bounds queued plus running invocations for the queued and
	// parallel modes. Defaults to DefaultMax.
	Max int

	// MaxExceeded set to "silent" suppresses rejection warnings.
	MaxExceeded string
}

// NewController creates a run controller around the executor.
func NewController(executor *Executor, cfg ControllerConfig) *Controller {
	mode := cfg.Mode
	if mode == "" {
		mode = ModeSingle
	}
	max := cfg.Max
	if max <= 0 {
		max = DefaultMax
	}
	return &Controller{
		executor:    executor,
		logger:      executor.logger,
		name:        cfg.Name,
		sequence:    cfg.Sequence,
		mode:        mode,
		max:         max,
		maxExceeded: cfg.MaxExceeded,
		cancels:     map[int]context.CancelFunc{},
	}
}

// Start requests a run. The return value reports whether the
// invocation was accepted; queued-mode invocations count as accepted
// even while waiting for their predecessor.
func (c *Controller) Start(parent context.Context, vars map[string]any, cause core.Context) bool {
	c.mu.Lock()
	switch c.mode {
	case ModeRestart:
		for _, cancel := range c.cancels {
			cancel()
		}

	case ModeSingle:
		if c.running > 0 {
			c.mu.Unlock()
			c.reject()
			return false
		}

	case ModeQueued:
		if c.running+len(c.queue) >= c.max {
			c.mu.Unlock()
			c.reject()
			return false
		}
		if c.running > 0 {
			c.queue = append(c.queue, queuedRun{parent: parent, vars: vars, cause: cause})
			c.mu.Unlock()
			return true
		}

	case ModeParallel:
		if c.running >= c.max {
			c.mu.Unlock()
			c.reject()
			return false
		}
	}

	c.launchLocked(parent, vars, cause)
	c.mu.Unlock()
	return true
}

// launchLocked spawns a run task. Caller holds c.mu.
func (c *Controller) launchLocked(parent context.Context, vars map[string]any, cause core.Context) {
	ctx, cancel := context.WithCancel(parent)
	id := c.nextID
	c.nextID++
	c.cancels[id] = cancel
	c.running++
	go c.run(ctx, cancel, id, vars, cause)
}

func (c *Controller) run(ctx context.Context, cancel context.CancelFunc, id int, vars map[string]any, cause core.Context) {
	defer cancel()

	err := c.executor.Run(ctx, c.sequence, vars, cause)
	if err != nil && !errors.Is(err, context.Canceled) {
		c.logger.Error("script run failed", "script", c.name, "error", err)
	}

	c.mu.Lock()
	c.running--
	delete(c.cancels, id)
	if c.mode == ModeQueued && len(c.queue) > 0 {
		next := c.queue[0]
		c.queue = c.queue[1:]
		c.launchLocked(next.parent, next.vars, next.cause)
	}
	c.mu.Unlock()
}

func (c *Controller) reject() {
	if c.maxExceeded == MaxExceededSilent {
		return
	}
	c.logger.Warn("run rejected", "script", c.name, "mode", c.mode, "max", c.max)
}

// CurrentRuns counts running plus queued invocations.
func (c *Controller) CurrentRuns() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running + len(c.queue)
}

// Stop cancels every in-flight run and drops queued invocations.
// Running tasks wind down at their next suspension point.
func (c *Controller) Stop() {
	c.mu.Lock()
	for _, cancel := range c.cancels {
		cancel()
	}
	c.queue = nil
	c.mu.Unlock()
}
