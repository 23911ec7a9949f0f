package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/flowmatic/flowmatic/engine/adapter"
	"github.com/flowmatic/flowmatic/engine/core"
	"github.com/flowmatic/flowmatic/engine/event"
	"github.com/flowmatic/flowmatic/engine/policy"
	"github.com/flowmatic/flowmatic/engine/state"
	"github.com/flowmatic/flowmatic/engine/workflow"
	"github.com/flowmatic/flowmatic/pkg/logger"
	"github.com/flowmatic/flowmatic/pkg/tplengine"
)

// StepExecutor runs one step through its full pipeline: condition gate,
// template resolution, adapter invocation under timeout and retry, and
// output recording. The workflow executor guarantees a step is never
// started twice concurrently within a run.
type StepExecutor struct {
	registry *adapter.Registry
	resolver *tplengine.Engine
	bus      *event.Bus
	hooks    *event.HookManager
	log      logger.Logger
}

// StepDefaults carries the workflow-level fallbacks applied when a step
// does not declare its own policy.
type StepDefaults struct {
	Timeout time.Duration
	Retry   *workflow.RetryConfig
	TempDir string
	WorkDir string
}

func NewStepExecutor(
	registry *adapter.Registry,
	bus *event.Bus,
	hooks *event.HookManager,
	log logger.Logger,
) *StepExecutor {
	if log == nil {
		log = logger.NewLogger(nil)
	}
	return &StepExecutor{
		registry: registry,
		resolver: tplengine.NewEngine(),
		bus:      bus,
		hooks:    hooks,
		log:      log,
	}
}

// Execute runs one step and returns its result. The returned result always
// carries a terminal status; failures, including cancellation, are reported
// through the result's status and error.
func (e *StepExecutor) Execute(
	ctx context.Context,
	step workflow.ParsedStep,
	runCtx *state.Context,
	defaults StepDefaults,
) *workflow.StepResult {
	result := &workflow.StepResult{StepID: step.ID, StartedAt: time.Now()}
	started := time.Now()
	finish := func() *workflow.StepResult {
		result.Duration = time.Since(started)
		result.FinishedAt = time.Now()
		return result
	}

	if skipped, reason := e.conditionGate(step, runCtx); skipped {
		result.Status = core.StepStatusSkipped
		result.Reason = reason
		e.emit(ctx, event.StepSkipped, step.ID, runCtx, map[string]any{"reason": reason})
		return finish()
	}

	resolved, err := e.resolveStepInputs(step, runCtx)
	if err != nil {
		result.Status = core.StepStatusFailed
		result.Error = core.StepError(core.CodeStepInvalidConfig, step.ID,
			fmt.Sprintf("failed to resolve step templates: %s", err), err)
		e.emit(ctx, event.StepFailed, step.ID, runCtx, map[string]any{"error": result.Error.AsMap()})
		return finish()
	}

	adapterImpl, resolveErr := e.registry.Resolve(step.Uses)
	if resolveErr != nil {
		var coreErr *core.Error
		if ce, ok := resolveErr.(*core.Error); ok {
			coreErr = ce
		} else {
			coreErr = core.AdapterError(core.CodeAdapterUnknown, resolveErr.Error(), resolveErr)
		}
		result.Status = core.StepStatusFailed
		result.Error = coreErr
		e.emit(ctx, event.StepFailed, step.ID, runCtx, map[string]any{"error": coreErr.AsMap()})
		return finish()
	}

	if problems := adapterImpl.Validate(step.Uses, resolved.with); len(problems) > 0 {
		result.Status = core.StepStatusFailed
		result.Error = core.StepError(core.CodeStepInvalidConfig, step.ID,
			fmt.Sprintf("invalid step input: %s", strings.Join(problems, "; ")), nil)
		e.emit(ctx, event.StepFailed, step.ID, runCtx, map[string]any{"error": result.Error.AsMap()})
		return finish()
	}

	e.runWithPolicies(ctx, step, adapterImpl, resolved, runCtx, defaults, result)
	return finish()
}

type resolvedStep struct {
	with    core.Input
	env     core.EnvMap
	outputs map[string]any
}

func (e *StepExecutor) conditionGate(step workflow.ParsedStep, runCtx *state.Context) (bool, string) {
	if step.When == "" {
		return false, ""
	}
	resolved, err := e.resolver.ResolveString(step.When, runCtx.Lookup())
	if err != nil {
		return true, fmt.Sprintf("condition failed to resolve: %s", err)
	}
	expr := fmt.Sprintf("%v", resolved)
	if !evalCondition(expr) {
		return true, fmt.Sprintf("condition %q evaluated to false", step.When)
	}
	return false, ""
}

func (e *StepExecutor) resolveStepInputs(step workflow.ParsedStep, runCtx *state.Context) (*resolvedStep, error) {
	lookup := runCtx.Lookup()
	with, err := e.resolver.ResolveValue(map[string]any(step.With), lookup)
	if err != nil {
		return nil, err
	}
	env := make(core.EnvMap, len(step.Env))
	for k, v := range step.Env {
		resolved, err := e.resolver.ResolveString(v, lookup)
		if err != nil {
			return nil, err
		}
		env[k] = fmt.Sprintf("%v", resolved)
	}
	baseEnv := runCtx.Env()
	merged, err := baseEnv.Merge(env)
	if err != nil {
		return nil, err
	}
	result := &resolvedStep{env: merged, outputs: step.Outputs}
	if with != nil {
		result.with = core.Input(with.(map[string]any))
	} else {
		result.with = core.Input{}
	}
	return result, nil
}

func (e *StepExecutor) runWithPolicies(
	ctx context.Context,
	step workflow.ParsedStep,
	adapterImpl adapter.Adapter,
	resolved *resolvedStep,
	runCtx *state.Context,
	defaults StepDefaults,
	result *workflow.StepResult,
) {
	retryPolicy := e.retryPolicyFor(step, defaults)
	timeout := e.timeoutFor(step, defaults)

	e.emit(ctx, event.StepStarted, step.ID, runCtx, map[string]any{"uses": step.Uses, "adapter": step.Adapter})
	e.invokeHook(ctx, event.PointBeforeStep, step.ID, runCtx, nil)

	var lastErr error
	for attempt := 1; ; attempt++ {
		result.Attempts = attempt
		output, err := e.invokeOnce(ctx, step, adapterImpl, resolved, runCtx, defaults, timeout)
		if err == nil {
			e.recordSuccess(ctx, step, resolved, runCtx, output, result)
			return
		}
		lastErr = err

		if retryPolicy == nil || !retryPolicy.ShouldRetry(err, attempt) {
			break
		}
		delay := retryPolicy.Backoff.Delay(attempt)
		e.emit(ctx, event.StepRetrying, step.ID, runCtx, map[string]any{
			"attempt": attempt,
			"max":     retryPolicy.MaxAttempts,
			"delayMs": delay.Milliseconds(),
			"error":   err.Error(),
		})
		e.invokeHook(ctx, event.PointOnRetry, step.ID, runCtx, map[string]any{"attempt": attempt})
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			lastErr = core.ExecutionError(core.CodeExecutionCancelled, "step cancelled during backoff", ctx.Err())
		}
		if ctx.Err() != nil {
			break
		}
	}

	e.recordFailure(ctx, step, runCtx, lastErr, result)
}

func (e *StepExecutor) invokeOnce(
	ctx context.Context,
	step workflow.ParsedStep,
	adapterImpl adapter.Adapter,
	resolved *resolvedStep,
	runCtx *state.Context,
	defaults StepDefaults,
	timeout time.Duration,
) (core.Output, error) {
	var output core.Output
	operation := fmt.Sprintf("step %s (%s)", step.ID, step.Uses)
	err := policy.RunWithTimeout(ctx, operation, timeout, func(runCtxCtx context.Context) error {
		ectx := e.composeAdapterContext(step, resolved, runCtx, defaults, timeout)
		adapterResult, execErr := adapterImpl.Execute(runCtxCtx, step.Uses, resolved.with, ectx)
		if execErr != nil {
			return core.AdapterError(core.CodeAdapterFailure,
				fmt.Sprintf("adapter %s failed: %s", adapterImpl.Name(), execErr), execErr)
		}
		if adapterResult == nil {
			return core.AdapterError(core.CodeAdapterFailure,
				fmt.Sprintf("adapter %s returned no result", adapterImpl.Name()), nil)
		}
		if !adapterResult.Success {
			message := "adapter reported failure"
			code := core.CodeAdapterFailure
			if adapterResult.Error != nil {
				message = adapterResult.Error.Message
			}
			err := core.AdapterError(code, message, nil)
			if adapterResult.Error != nil {
				err.Details = adapterResult.Error.Details
			}
			return err
		}
		output = adapterResult.Output
		return nil
	}, nil)
	if err != nil {
		var timeoutErr *policy.TimeoutError
		if ok := asTimeout(err, &timeoutErr); ok {
			e.emit(ctx, event.StepTimeout, step.ID, runCtx, map[string]any{
				"timeoutMs": timeoutErr.Timeout.Milliseconds(),
				"elapsedMs": timeoutErr.Elapsed.Milliseconds(),
			})
			return nil, timeoutErr.AsCoreError()
		}
		return nil, err
	}
	return output, nil
}

func (e *StepExecutor) recordSuccess(
	ctx context.Context,
	step workflow.ParsedStep,
	resolved *resolvedStep,
	runCtx *state.Context,
	output core.Output,
	result *workflow.StepResult,
) {
	runCtx.RecordStepOutput(step.ID, output)
	// Step-declared outputs are computed against the context with the raw
	// adapter output already visible under steps.<id>.
	if len(resolved.outputs) > 0 {
		computed, err := e.resolver.ResolveValue(resolved.outputs, runCtx.Lookup())
		if err == nil {
			merged, mergeErr := output.Merge(core.Output(computed.(map[string]any)))
			if mergeErr == nil {
				output = merged
				runCtx.RecordStepOutput(step.ID, output)
			}
		}
	}
	result.Status = core.StepStatusSuccess
	result.Output = output
	e.emit(ctx, event.StepCompleted, step.ID, runCtx, map[string]any{
		"durationMs": time.Since(result.StartedAt).Milliseconds(),
		"output":     output.AsMap(),
	})
	e.invokeHook(ctx, event.PointAfterStep, step.ID, runCtx, nil)
}

func (e *StepExecutor) recordFailure(
	ctx context.Context,
	step workflow.ParsedStep,
	runCtx *state.Context,
	err error,
	result *workflow.StepResult,
) {
	coreErr, ok := err.(*core.Error)
	if !ok {
		coreErr = core.StepError(core.CodeStepFailed, step.ID, err.Error(), err)
	}
	result.Status = core.StepStatusFailed
	result.Error = coreErr
	e.emit(ctx, event.StepFailed, step.ID, runCtx, map[string]any{"error": coreErr.AsMap()})
	e.invokeHook(ctx, event.PointOnError, step.ID, runCtx, map[string]any{"error": coreErr.AsMap()})
	if step.ContinueOnError {
		e.log.Warn("step failed but continueOnError is set",
			"step", step.ID, "workflow", runCtx.WorkflowName, "error", coreErr.Message)
	}
}

func (e *StepExecutor) composeAdapterContext(
	step workflow.ParsedStep,
	resolved *resolvedStep,
	runCtx *state.Context,
	defaults StepDefaults,
	timeout time.Duration,
) *adapter.Context {
	view := runCtx.View()
	return &adapter.Context{
		WorkflowName:    runCtx.WorkflowName,
		StepID:          step.ID,
		ExecutionID:     runCtx.ExecutionID,
		Log:             e.log.With("step", step.ID, "execution", runCtx.ExecutionID),
		Secrets:         view.Secrets,
		TempDir:         defaults.TempDir,
		Timeout:         timeout,
		WorkingDir:      defaults.WorkDir,
		Env:             resolved.env,
		StepOutputs:     view.StepOutputs,
		Inputs:          view.Inputs,
		WorkflowContext: view.UserContext,
	}
}

func (e *StepExecutor) retryPolicyFor(step workflow.ParsedStep, defaults StepDefaults) *policy.Retry {
	cfg := step.Retry
	if cfg == nil {
		cfg = defaults.Retry
	}
	if cfg == nil || cfg.Max <= 1 {
		return nil
	}
	backoffType := policy.BackoffType(cfg.Backoff)
	switch backoffType {
	case policy.BackoffFixed, policy.BackoffLinear, policy.BackoffExponential:
	default:
		backoffType = policy.BackoffExponential
	}
	delay := time.Duration(cfg.Delay) * time.Millisecond
	if delay <= 0 {
		delay = time.Second
	}
	return policy.NewRetry(cfg.Max, policy.NewBackoff(backoffType, delay))
}

func (e *StepExecutor) timeoutFor(step workflow.ParsedStep, defaults StepDefaults) time.Duration {
	if step.Timeout != "" {
		if d, err := core.ParseDuration(step.Timeout); err == nil {
			return d
		}
	}
	return defaults.Timeout
}

func (e *StepExecutor) emit(ctx context.Context, typ event.Type, stepID string, runCtx *state.Context, payload map[string]any) {
	if e.bus == nil {
		return
	}
	evt := event.New(typ, payload).ForRun(runCtx.WorkflowID, runCtx.ExecutionID).ForStep(stepID)
	if err := e.bus.Emit(ctx, evt); err != nil {
		e.log.Error("failed to emit event", "type", typ, "error", err)
	}
}

func (e *StepExecutor) invokeHook(ctx context.Context, point event.HookPoint, stepID string, runCtx *state.Context, payload map[string]any) {
	if e.hooks == nil {
		return
	}
	evt := event.New(event.Type(string(point)), payload).ForRun(runCtx.WorkflowID, runCtx.ExecutionID).ForStep(stepID)
	if err := e.hooks.Invoke(ctx, point, evt); err != nil {
		e.log.Error("hook invocation failed", "point", point, "error", err)
	}
}

func asTimeout(err error, target **policy.TimeoutError) bool {
	return errors.As(err, target)
}
