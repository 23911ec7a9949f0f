package executor

import (
	"context"
	"fmt"
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

// WorkflowExecutor orchestrates one run: it builds the DAG, schedules ready
// steps up to the concurrency bound, consults the failure strategy on each
// failure, and assembles the final result.
type WorkflowExecutor struct {
	steps              *StepExecutor
	bus                *event.Bus
	hooks              *event.HookManager
	log                logger.Logger
	resolver           *tplengine.Engine
	maxConcurrentSteps int
	// defaultStepTimeout applies when neither the step nor the workflow's
	// defaults declare one. The workflow's own default always wins.
	defaultStepTimeout time.Duration
}

// RunOptions parameterizes a single run.
type RunOptions struct {
	Inputs      core.Input
	Env         core.EnvMap
	Secrets     map[string]string
	TriggeredBy string
	// Timeout bounds the whole run; zero means unbounded.
	Timeout time.Duration
	TempDir string
	WorkDir string
}

func NewWorkflowExecutor(
	registry *adapter.Registry,
	bus *event.Bus,
	hooks *event.HookManager,
	log logger.Logger,
	maxConcurrentSteps int,
) *WorkflowExecutor {
	if log == nil {
		log = logger.NewLogger(nil)
	}
	return &WorkflowExecutor{
		steps:              NewStepExecutor(registry, bus, hooks, log),
		bus:                bus,
		hooks:              hooks,
		log:                log,
		resolver:           tplengine.NewEngine(),
		maxConcurrentSteps: maxConcurrentSteps,
	}
}

// run tracks the in-flight state of one execution.
type run struct {
	graph     *workflow.Graph
	ctx       *state.Context
	results   map[string]*workflow.StepResult
	started   map[string]bool
	completed map[string]bool // success or continue-on-error failure
	skipped   map[string]bool
	failures  int
	strategy  *policy.FailureStrategy
	aborted   bool
	status    core.WorkflowStatus
}

// Execute runs the document to completion and returns the result. The
// returned error is reserved for inputs that fail to even start a run
// (graph build failure); execution failures are reported in the result.
func (e *WorkflowExecutor) Execute(
	ctx context.Context,
	doc *workflow.Document,
	opts RunOptions,
) (*workflow.Result, error) {
	graph, err := workflow.BuildGraph(doc)
	if err != nil {
		return nil, err
	}

	runCtx := e.newRunContext(doc, opts)
	log := e.log.With("workflow", doc.Name(), "execution", runCtx.ExecutionID)
	log.Info("workflow started", "steps", graph.Len(), "phases", len(graph.Phases()))

	execCtx := ctx
	var cancel context.CancelFunc
	if opts.Timeout > 0 {
		execCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
	} else {
		execCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	startedAt := time.Now()
	e.emitRun(execCtx, event.WorkflowStarted, runCtx, map[string]any{"totalSteps": graph.Len()})
	e.invokeHook(execCtx, event.PointBeforeWorkflow, runCtx, nil)

	r := &run{
		graph:     graph,
		ctx:       runCtx,
		results:   make(map[string]*workflow.StepResult, graph.Len()),
		started:   make(map[string]bool),
		completed: make(map[string]bool),
		skipped:   make(map[string]bool),
		strategy:  failureStrategyFor(doc),
	}
	e.runLoop(execCtx, doc, r, opts, cancel)

	result := e.assembleResult(doc, r, startedAt, execCtx, ctx)
	e.finish(ctx, runCtx, result)
	log.Info("workflow finished", "status", result.Status, "duration_ms", result.Duration.Milliseconds())
	return result, nil
}

func (e *WorkflowExecutor) newRunContext(doc *workflow.Document, opts RunOptions) *state.Context {
	return state.New(state.Options{
		WorkflowID:      doc.Name(),
		WorkflowName:    doc.Name(),
		WorkflowVersion: doc.Version,
		TriggeredBy:     opts.TriggeredBy,
		Env:             opts.Env,
		Inputs:          mergedInputs(doc, opts),
		Secrets:         opts.Secrets,
		UserContext:     doc.Context,
	})
}

func mergedInputs(doc *workflow.Document, opts RunOptions) core.Input {
	merged, err := core.Merge(map[string]any(doc.Inputs), map[string]any(opts.Inputs), "inputs")
	if err != nil {
		return opts.Inputs
	}
	return core.Input(merged)
}

type stepDone struct {
	id     string
	result *workflow.StepResult
}

func (e *WorkflowExecutor) runLoop(
	ctx context.Context,
	doc *workflow.Document,
	r *run,
	opts RunOptions,
	cancel context.CancelFunc,
) {
	defaults := e.stepDefaults(doc, opts)
	limit := e.concurrencyLimit(doc)
	done := make(chan stepDone, r.graph.Len())
	running := 0

	for {
		if !r.aborted {
			e.pruneBlockedSteps(ctx, r)
			for _, id := range e.readySteps(r) {
				if limit > 0 && running >= limit {
					break
				}
				step, _ := r.graph.Step(id)
				r.started[id] = true
				running++
				go func(s workflow.ParsedStep) {
					done <- stepDone{id: s.ID, result: e.steps.Execute(ctx, s, r.ctx, defaults)}
				}(*step)
			}
		}
		if running == 0 {
			return
		}
		finished := <-done
		running--
		r.results[finished.id] = finished.result
		e.accountStep(ctx, r, finished, cancel)
	}
}

// accountStep folds one finished step into the run bookkeeping and consults
// the failure strategy when it failed.
func (e *WorkflowExecutor) accountStep(ctx context.Context, r *run, finished stepDone, cancel context.CancelFunc) {
	step, _ := r.graph.Step(finished.id)
	switch finished.result.Status {
	case core.StepStatusSuccess:
		r.completed[finished.id] = true
	case core.StepStatusSkipped:
		r.skipped[finished.id] = true
	case core.StepStatusFailed:
		r.failures++
		if step.ContinueOnError {
			// Non-fatal: dependents may still run.
			r.completed[finished.id] = true
			return
		}
		decision := r.strategy.Decide(policy.Observation{
			StepID:          finished.id,
			TotalSteps:      r.graph.Len(),
			CompletedSteps:  len(r.completed),
			CurrentFailures: r.failures,
		})
		if decision.SkipDependents {
			e.skipDependents(ctx, r, finished.id)
		}
		if !decision.Continue {
			r.aborted = true
			r.status = decision.FinalStatus
			cancel()
		}
	}
}

// pruneBlockedSteps skips every unstarted step that can no longer run
// because a dependency failed terminally or was itself skipped.
func (e *WorkflowExecutor) pruneBlockedSteps(ctx context.Context, r *run) {
	for {
		pruned := false
		for _, step := range r.graph.Steps() {
			id := step.ID
			if r.started[id] || r.skipped[id] {
				continue
			}
			if reason := e.blockedReason(r, &step); reason != "" {
				r.started[id] = true
				r.skipped[id] = true
				r.results[id] = &workflow.StepResult{
					StepID: id,
					Status: core.StepStatusSkipped,
					Reason: reason,
				}
				e.emitStep(ctx, event.StepSkipped, r.ctx, id, map[string]any{"reason": reason})
				pruned = true
			}
		}
		if !pruned {
			return
		}
	}
}

func (e *WorkflowExecutor) blockedReason(r *run, step *workflow.ParsedStep) string {
	for _, need := range step.Needs {
		if result, ok := r.results[need]; ok {
			if result.Status == core.StepStatusFailed && !r.completed[need] {
				return fmt.Sprintf("dependency %s failed", need)
			}
			if result.Status == core.StepStatusSkipped {
				return fmt.Sprintf("dependency %s skipped", need)
			}
		}
	}
	return ""
}

func (e *WorkflowExecutor) skipDependents(ctx context.Context, r *run, failedID string) {
	for _, id := range r.graph.Dependents(failedID) {
		if r.started[id] || r.skipped[id] {
			continue
		}
		r.started[id] = true
		r.skipped[id] = true
		r.results[id] = &workflow.StepResult{
			StepID: id,
			Status: core.StepStatusSkipped,
			Reason: fmt.Sprintf("dependency %s failed", failedID),
		}
		e.emitStep(ctx, event.StepSkipped, r.ctx, id, map[string]any{
			"reason": fmt.Sprintf("dependency %s failed", failedID),
		})
	}
}

func (e *WorkflowExecutor) readySteps(r *run) []string {
	var ready []string
	for _, phase := range r.graph.Phases() {
		for _, id := range phase {
			if r.started[id] {
				continue
			}
			if e.eligible(r, id) {
				ready = append(ready, id)
			}
		}
	}
	return ready
}

func (e *WorkflowExecutor) eligible(r *run, id string) bool {
	for _, need := range r.graph.Needs(id) {
		if !r.completed[need] {
			return false
		}
	}
	return true
}

func (e *WorkflowExecutor) concurrencyLimit(doc *workflow.Document) int {
	limit := doc.Policies.Concurrency
	if e.maxConcurrentSteps > 0 && (limit <= 0 || limit > e.maxConcurrentSteps) {
		limit = e.maxConcurrentSteps
	}
	return limit
}

// WithDefaultStepTimeout sets the engine-level step timeout fallback.
func (e *WorkflowExecutor) WithDefaultStepTimeout(d time.Duration) *WorkflowExecutor {
	e.defaultStepTimeout = d
	return e
}

func (e *WorkflowExecutor) stepDefaults(doc *workflow.Document, opts RunOptions) StepDefaults {
	defaults := StepDefaults{
		Retry:   doc.Defaults.Retry,
		Timeout: e.defaultStepTimeout,
		TempDir: opts.TempDir,
		WorkDir: opts.WorkDir,
	}
	if doc.Defaults.Timeout != "" {
		if d, err := core.ParseDuration(doc.Defaults.Timeout); err == nil {
			defaults.Timeout = d
		}
	}
	return defaults
}

func failureStrategyFor(doc *workflow.Document) *policy.FailureStrategy {
	strategy := &policy.FailureStrategy{Type: policy.FailureAbort}
	if fp := doc.Policies.Failure; fp != nil {
		if fp.Strategy != "" {
			strategy.Type = policy.FailureStrategyType(fp.Strategy)
		}
		if fp.AllowPartialSuccess != nil {
			strategy.AllowPartialSuccess = *fp.AllowPartialSuccess
		} else {
			strategy.AllowPartialSuccess = strategy.Type != policy.FailureAbort
		}
		strategy.MaxFailures = fp.MaxFailures
		strategy.CriticalSteps = fp.CriticalSteps
	}
	return strategy
}

func (e *WorkflowExecutor) assembleResult(
	doc *workflow.Document,
	r *run,
	startedAt time.Time,
	execCtx context.Context,
	parentCtx context.Context,
) *workflow.Result {
	var successful, failed, skippedCount int
	for _, result := range r.results {
		switch result.Status {
		case core.StepStatusSuccess:
			successful++
		case core.StepStatusFailed:
			failed++
		case core.StepStatusSkipped:
			skippedCount++
		}
	}

	status := r.status
	if status == "" {
		allowPartial := r.strategy.AllowPartialSuccess
		status = policy.FinalStatus(allowPartial, r.graph.Len(), successful, failed)
	}
	var runErr *core.Error
	switch {
	case execCtx.Err() == context.DeadlineExceeded && parentCtx.Err() == nil:
		status = core.WorkflowStatusTimeout
		runErr = core.ExecutionError(core.CodeExecutionTimeout, "workflow timed out", execCtx.Err())
	case parentCtx.Err() != nil:
		status = core.WorkflowStatusCancelled
		runErr = core.ExecutionError(core.CodeExecutionCancelled, "workflow cancelled", parentCtx.Err())
	default:
		runErr = e.firstFatalError(r)
	}

	result := &workflow.Result{
		ExecutionID:  r.ctx.ExecutionID,
		WorkflowName: doc.Name(),
		Status:       status,
		StepResults:  r.results,
		Duration:     time.Since(startedAt),
		StartedAt:    startedAt,
		CompletedAt:  time.Now(),
		Metadata: workflow.ResultMetadata{
			TotalSteps:      r.graph.Len(),
			SuccessfulSteps: successful,
			FailedSteps:     failed,
			SkippedSteps:    skippedCount,
			Phases:          len(r.graph.Phases()),
		},
		Error: runErr,
	}
	result.Outputs = e.computeWorkflowOutputs(doc, r)
	return result
}

func (e *WorkflowExecutor) firstFatalError(r *run) *core.Error {
	// Walk topological order so the earliest fatal cause surfaces.
	for _, id := range r.graph.TopoOrder() {
		result, ok := r.results[id]
		if !ok || result.Status != core.StepStatusFailed {
			continue
		}
		step, _ := r.graph.Step(id)
		if step.ContinueOnError {
			continue
		}
		return result.Error
	}
	return nil
}

func (e *WorkflowExecutor) computeWorkflowOutputs(doc *workflow.Document, r *run) core.Output {
	if len(doc.Outputs) == 0 {
		return nil
	}
	computed, err := e.resolver.ResolveValue(doc.Outputs, r.ctx.Lookup())
	if err != nil {
		e.log.Error("failed to compute workflow outputs", "workflow", doc.Name(), "error", err)
		return nil
	}
	return core.Output(computed.(map[string]any))
}

func (e *WorkflowExecutor) finish(ctx context.Context, runCtx *state.Context, result *workflow.Result) {
	payload := map[string]any{
		"status":     string(result.Status),
		"durationMs": result.Duration.Milliseconds(),
	}
	switch result.Status {
	case core.WorkflowStatusSuccess, core.WorkflowStatusPartial:
		e.emitRun(ctx, event.WorkflowCompleted, runCtx, payload)
	case core.WorkflowStatusCancelled:
		e.emitRun(ctx, event.WorkflowCancelled, runCtx, payload)
		e.invokeHook(ctx, event.PointOnError, runCtx, payload)
	default:
		if result.Error != nil {
			payload["error"] = result.Error.AsMap()
		}
		e.emitRun(ctx, event.WorkflowFailed, runCtx, payload)
		e.invokeHook(ctx, event.PointOnError, runCtx, payload)
	}
	e.invokeHook(ctx, event.PointAfterWorkflow, runCtx, payload)
}

func (e *WorkflowExecutor) emitRun(ctx context.Context, typ event.Type, runCtx *state.Context, payload map[string]any) {
	if e.bus == nil {
		return
	}
	evt := event.New(typ, payload).ForRun(runCtx.WorkflowID, runCtx.ExecutionID)
	if err := e.bus.Emit(ctx, evt); err != nil {
		e.log.Error("failed to emit event", "type", typ, "error", err)
	}
}

func (e *WorkflowExecutor) emitStep(ctx context.Context, typ event.Type, runCtx *state.Context, stepID string, payload map[string]any) {
	if e.bus == nil {
		return
	}
	evt := event.New(typ, payload).ForRun(runCtx.WorkflowID, runCtx.ExecutionID).ForStep(stepID)
	if err := e.bus.Emit(ctx, evt); err != nil {
		e.log.Error("failed to emit event", "type", typ, "error", err)
	}
}

func (e *WorkflowExecutor) invokeHook(ctx context.Context, point event.HookPoint, runCtx *state.Context, payload map[string]any) {
	if e.hooks == nil {
		return
	}
	evt := event.New(event.Type(string(point)), payload).ForRun(runCtx.WorkflowID, runCtx.ExecutionID)
	if err := e.hooks.Invoke(ctx, point, evt); err != nil {
		e.log.Error("hook invocation failed", "point", point, "error", err)
	}
}
