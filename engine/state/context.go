// Package state holds the mutable context of a single workflow run. The
// workflow executor exclusively owns a Context; adapters only ever see the
// read-only View.
package state

import (
	"sync"
	"time"

	"github.com/mohae/deepcopy"

	"github.com/flowmatic/flowmatic/engine/core"
	"github.com/flowmatic/flowmatic/pkg/tplengine"
)

// Context is the per-run execution context. Created at run start, destroyed
// at run end. Writes are limited to RecordStepOutput, IncrementAttempt and
// Restore, serialized by the internal mutex.
type Context struct {
	mu sync.RWMutex

	ExecutionID     string
	WorkflowID      string
	WorkflowName    string
	WorkflowVersion string
	StartTime       time.Time
	TriggeredBy     string

	attempt int
	env     core.EnvMap
	inputs  core.Input
	secrets map[string]string
	steps   map[string]core.Output
	userCtx map[string]any
}

// Options seeds a new run context.
type Options struct {
	WorkflowID      string
	WorkflowName    string
	WorkflowVersion string
	TriggeredBy     string
	Env             core.EnvMap
	Inputs          core.Input
	Secrets         map[string]string
	UserContext     map[string]any
}

func New(opts Options) *Context {
	return &Context{
		ExecutionID:     core.NewExecutionID(),
		WorkflowID:      opts.WorkflowID,
		WorkflowName:    opts.WorkflowName,
		WorkflowVersion: opts.WorkflowVersion,
		StartTime:       time.Now(),
		TriggeredBy:     opts.TriggeredBy,
		env:             core.CloneMap(opts.Env),
		inputs:          core.CloneMap(opts.Inputs),
		secrets:         core.CloneMap(opts.Secrets),
		steps:           make(map[string]core.Output),
		userCtx:         core.CloneMap(opts.UserContext),
	}
}

// RecordStepOutput stores a completed step's output, making it visible to
// every later step.
func (c *Context) RecordStepOutput(stepID string, output core.Output) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.steps[stepID] = output
}

// IncrementAttempt bumps the run's attempt counter and returns it.
func (c *Context) IncrementAttempt() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attempt++
	return c.attempt
}

// Attempt returns the current attempt counter.
func (c *Context) Attempt() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.attempt
}

// StepOutput returns a step's recorded output.
func (c *Context) StepOutput(stepID string) (core.Output, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out, ok := c.steps[stepID]
	return out, ok
}

// StepOutputs returns a copy of all recorded step outputs.
func (c *Context) StepOutputs() map[string]core.Output {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return core.CloneMap(c.steps)
}

// Env returns the run environment map.
func (c *Context) Env() core.EnvMap {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return core.CloneMap(c.env)
}

// Inputs returns the run inputs.
func (c *Context) Inputs() core.Input {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return core.CloneMap(c.inputs)
}

// Secrets returns the run secrets. Callers must treat the map as read-only.
func (c *Context) Secrets() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return core.CloneMap(c.secrets)
}

// UserContext returns the user-visible context map.
func (c *Context) UserContext() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return core.CloneMap(c.userCtx)
}

// Snapshot captures a deep copy of the mutable state so a retry can roll
// back to it.
type Snapshot struct {
	attempt int
	steps   map[string]core.Output
	userCtx map[string]any
}

func (c *Context) Snapshot() *Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return &Snapshot{
		attempt: c.attempt,
		steps:   deepcopy.Copy(c.steps).(map[string]core.Output),
		userCtx: deepcopy.Copy(c.userCtx).(map[string]any),
	}
}

func (c *Context) Restore(s *Snapshot) {
	if s == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attempt = s.attempt
	c.steps = deepcopy.Copy(s.steps).(map[string]core.Output)
	c.userCtx = deepcopy.Copy(s.userCtx).(map[string]any)
}

// Scopes assembles the resolver scope tree. The snapshot is read-mostly;
// mutating it does not affect the context.
func (c *Context) Scopes() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	stepScope := make(map[string]any, len(c.steps))
	for id, out := range c.steps {
		stepScope[id] = map[string]any{"outputs": out.AsMap()}
	}
	secretScope := make(map[string]any, len(c.secrets))
	for k, v := range c.secrets {
		secretScope[k] = v
	}
	return map[string]any{
		"inputs":  c.inputs.AsMap(),
		"secrets": secretScope,
		"steps":   stepScope,
		"context": core.CloneMap(c.userCtx),
		"env":     c.env.AsAnyMap(),
		"workflow": map[string]any{
			"id":      c.WorkflowID,
			"name":    c.WorkflowName,
			"version": c.WorkflowVersion,
		},
		"run": map[string]any{
			"executionId": c.ExecutionID,
			"startedAt":   c.StartTime.Format(time.RFC3339),
			"attempt":     c.attempt,
			"triggeredBy": c.TriggeredBy,
		},
	}
}

// Lookup returns a resolver lookup over the current scope tree.
func (c *Context) Lookup() tplengine.Lookup {
	return tplengine.MapLookup(c.Scopes())
}

// View is the read-only slice of a run context exposed to adapters.
type View struct {
	ExecutionID  string
	WorkflowName string
	Env          core.EnvMap
	Inputs       core.Input
	Secrets      map[string]string
	StepOutputs  map[string]core.Output
	UserContext  map[string]any
}

// View materializes the read-only adapter view.
func (c *Context) View() *View {
	return &View{
		ExecutionID:  c.ExecutionID,
		WorkflowName: c.WorkflowName,
		Env:          c.Env(),
		Inputs:       c.Inputs(),
		Secrets:      c.Secrets(),
		StepOutputs:  c.StepOutputs(),
		UserContext:  c.UserContext(),
	}
}
