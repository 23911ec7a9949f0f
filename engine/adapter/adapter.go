// Package adapter defines the contract between the engine and the modules
// that implement actions, plus the registry that resolves action strings to
// adapters.
package adapter

import (
	"context"
	"time"

	"github.com/flowmatic/flowmatic/engine/core"
	"github.com/flowmatic/flowmatic/pkg/logger"
)

// CostClass is a coarse hint about how expensive an action is to run.
type CostClass string

const (
	CostFree     CostClass = "free"
	CostCheap    CostClass = "cheap"
	CostMetered  CostClass = "metered"
	CostExternal CostClass = "external"
)

// Capabilities describes what the engine may assume about an adapter.
type Capabilities struct {
	Cacheable  bool      `json:"cacheable"`
	Concurrent bool      `json:"concurrent"`
	Idempotent bool      `json:"idempotent"`
	Resources  []string  `json:"resources,omitempty"`
	Cost       CostClass `json:"cost,omitempty"`
}

// Adapter implements a set of dotted actions. Implementations must be safe
// for concurrent Execute calls when Capabilities().Concurrent is true.
type Adapter interface {
	Name() string
	Version() string
	SupportedActions() []string
	Capabilities() Capabilities
	Supports(action string) bool
	// Validate inspects the input before execution and returns a list of
	// human-readable problems. An empty list means the input is acceptable.
	Validate(action string, input core.Input) []string
	Execute(ctx context.Context, action string, input core.Input, ectx *Context) (*Result, error)
	Initialize(ctx context.Context) error
	Cleanup(ctx context.Context) error
}

// Context is the execution context handed to an adapter. Everything here is
// a read-only view; the adapter's only output channel is its Result.
type Context struct {
	WorkflowName    string
	StepID          string
	ExecutionID     string
	Log             logger.Logger
	Secrets         map[string]string
	TempDir         string
	Timeout         time.Duration
	WorkingDir      string
	Env             core.EnvMap
	StepOutputs     map[string]core.Output
	Inputs          core.Input
	WorkflowContext map[string]any
}

// ResultError is the structured failure an adapter reports.
type ResultError struct {
	Message string         `json:"message"`
	Code    string         `json:"code,omitempty"`
	Details map[string]any `json:"details,omitempty"`
	Stack   string         `json:"stack,omitempty"`
}

// Metrics captures per-invocation measurements.
type Metrics struct {
	DurationMs int64          `json:"durationMs"`
	Extra      map[string]any `json:"extra,omitempty"`
}

// Result is the outcome of one adapter invocation.
type Result struct {
	Success  bool           `json:"success"`
	Output   core.Output    `json:"output,omitempty"`
	Error    *ResultError   `json:"error,omitempty"`
	Logs     []string       `json:"logs,omitempty"`
	Metrics  Metrics        `json:"metrics"`
	Effects  []string       `json:"effects,omitempty"`
	Emits    []string       `json:"emits,omitempty"`
	Warnings []string       `json:"warnings,omitempty"`
}

// Ok builds a successful result with the given output.
func Ok(output core.Output) *Result {
	return &Result{Success: true, Output: output}
}

// Fail builds a failed result with a structured error.
func Fail(message, code string) *Result {
	return &Result{Success: false, Error: &ResultError{Message: message, Code: code}}
}
