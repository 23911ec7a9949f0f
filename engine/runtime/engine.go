// Package runtime composes the queue, worker pool, scheduler, and workflow
// executor into the engine's public surface. Nothing here is a process
// global: every dependency is injected, so multiple isolated engines can
// coexist in one process.
package runtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"

	"github.com/flowmatic/flowmatic/engine/adapter"
	"github.com/flowmatic/flowmatic/engine/core"
	"github.com/flowmatic/flowmatic/engine/event"
	"github.com/flowmatic/flowmatic/engine/executor"
	"github.com/flowmatic/flowmatic/engine/queue"
	"github.com/flowmatic/flowmatic/engine/scheduler"
	"github.com/flowmatic/flowmatic/engine/workflow"
	"github.com/flowmatic/flowmatic/pkg/config"
	"github.com/flowmatic/flowmatic/pkg/logger"
)

// ExecutionStatus tracks a submitted execution through the queue.
type ExecutionStatus string

const (
	ExecutionQueued    ExecutionStatus = "queued"
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
)

// Execution is the engine-side record of one submitted run.
type Execution struct {
	ID           string           `json:"id"`
	JobID        string           `json:"jobId"`
	WorkflowName string           `json:"workflowName"`
	Status       ExecutionStatus  `json:"status"`
	SubmittedAt  time.Time        `json:"submittedAt"`
	Result       *workflow.Result `json:"result,omitempty"`
}

// ExecuteOptions parameterizes a submission.
type ExecuteOptions struct {
	Inputs      core.Input
	Env         core.EnvMap
	Secrets     map[string]string
	TriggeredBy string
	Priority    queue.Priority
	Timeout     time.Duration
}

// Engine is the top-level execution engine.
type Engine struct {
	cfg      *config.Config
	log      logger.Logger
	registry *adapter.Registry
	bus      *event.Bus
	hooks    *event.HookManager
	jobs     queue.Queue
	sched    *scheduler.Scheduler
	wexec    *executor.WorkflowExecutor

	mu         sync.Mutex
	started    bool
	cancel     context.CancelFunc
	workers    *errgroup.Group
	workflows  map[string]*workflow.Document
	pendingDoc map[string]*workflow.Document // execution id -> document
	optsByExec map[string]ExecuteOptions
	executions *lru.Cache[string, *Execution]
	running    map[string]int // workflow name -> running executions
}

// New builds an engine from configuration. A nil config uses the defaults.
func New(cfg *config.Config, log logger.Logger) (*Engine, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if log == nil {
		log = logger.NewLogger(nil)
	}
	executions, err := lru.New[string, *Execution](cfg.ExecutionHistory)
	if err != nil {
		return nil, fmt.Errorf("failed to create execution history: %w", err)
	}
	registry := adapter.NewRegistry()
	bus := event.NewBus(log)
	hooks := event.NewHookManager(log)
	e := &Engine{
		cfg:        cfg,
		log:        log,
		registry:   registry,
		bus:        bus,
		hooks:      hooks,
		jobs:       queue.NewMemory(queue.MemoryConfig{MaxSize: cfg.QueueSize, RetentionTTL: cfg.RetentionTTL}),
		wexec: executor.NewWorkflowExecutor(registry, bus, hooks, log, cfg.MaxConcurrentSteps).
			WithDefaultStepTimeout(cfg.DefaultTimeout),
		workflows:  make(map[string]*workflow.Document),
		pendingDoc: make(map[string]*workflow.Document),
		optsByExec: make(map[string]ExecuteOptions),
		executions: executions,
		running:    make(map[string]int),
	}
	e.sched = scheduler.New(e.dispatchSchedule, bus, log).
		WithRunningChecker(e.isWorkflowRunning)
	return e, nil
}

// RegisterAdapter adds an adapter before the engine starts.
func (e *Engine) RegisterAdapter(a adapter.Adapter) error {
	return e.registry.Register(a)
}

// RegisterHook adds a lifecycle hook.
func (e *Engine) RegisterHook(h *event.Hook) {
	e.hooks.Register(h)
}

// EventBus exposes the lifecycle bus for subscriptions.
func (e *Engine) EventBus() *event.Bus {
	return e.bus
}

// Scheduler exposes the trigger scheduler.
func (e *Engine) Scheduler() *scheduler.Scheduler {
	return e.sched
}

// RegisterWorkflow loads a document so schedules can reference it by name.
func (e *Engine) RegisterWorkflow(doc *workflow.Document) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.workflows[doc.Name()] = doc
}

// Start initializes adapters and launches the worker pool and scheduler.
// Idempotent.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return nil
	}
	if err := e.registry.InitializeAll(ctx); err != nil {
		return err
	}
	workerCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	e.cancel = cancel
	group, groupCtx := errgroup.WithContext(workerCtx)
	for i := 0; i < e.cfg.WorkerCount; i++ {
		worker := i
		group.Go(func() error {
			e.workerLoop(groupCtx, worker)
			return nil
		})
	}
	e.workers = group
	e.sched.Start(workerCtx)
	e.started = true
	e.emitEngine(ctx, event.EngineStarted)
	e.log.Info("engine started", "workers", e.cfg.WorkerCount, "queue_size", e.cfg.QueueSize)
	return nil
}

// Stop cancels the worker context, which also cancels the jobs that are
// running; running jobs are not left to finish. It then waits up to the
// grace period for the workers to return, then shuts everything down.
// Idempotent.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return nil
	}
	e.started = false
	cancel := e.cancel
	workers := e.workers
	e.mu.Unlock()

	e.sched.Stop()
	cancel()
	drained := make(chan struct{})
	go func() {
		_ = workers.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(e.cfg.StopGrace):
		e.log.Warn("engine stop grace period elapsed with jobs still running")
	}
	if err := e.registry.CleanupAll(ctx); err != nil {
		e.log.Error("adapter cleanup failed", "error", err)
	}
	if err := e.jobs.Close(); err != nil {
		e.log.Error("queue close failed", "error", err)
	}
	e.emitEngine(ctx, event.EngineStopped)
	e.log.Info("engine stopped")
	return nil
}

// ExecuteWorkflow validates and enqueues a run, returning its execution id.
func (e *Engine) ExecuteWorkflow(doc *workflow.Document, opts ExecuteOptions) (string, error) {
	if _, err := workflow.BuildGraph(doc); err != nil {
		return "", err
	}
	executionID := core.NewExecutionID()
	job := queue.NewJob(doc.Name(), core.Input{"executionId": executionID}, opts.Priority)

	e.mu.Lock()
	e.pendingDoc[executionID] = doc
	e.executions.Add(executionID, &Execution{
		ID:           executionID,
		JobID:        job.ID,
		WorkflowName: doc.Name(),
		Status:       ExecutionQueued,
		SubmittedAt:  time.Now(),
	})
	e.optsByExec[executionID] = opts
	e.mu.Unlock()

	if err := e.jobs.Enqueue(job); err != nil {
		e.mu.Lock()
		delete(e.pendingDoc, executionID)
		delete(e.optsByExec, executionID)
		e.executions.Remove(executionID)
		e.mu.Unlock()
		return "", err
	}
	e.emitJob(event.JobEnqueued, job)
	return executionID, nil
}

// ExecuteWorkflowImmediate bypasses the queue and runs synchronously.
func (e *Engine) ExecuteWorkflowImmediate(
	ctx context.Context,
	doc *workflow.Document,
	opts ExecuteOptions,
) (*workflow.Result, error) {
	result, err := e.wexec.Execute(ctx, doc, e.runOptions(opts))
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.executions.Add(result.ExecutionID, &Execution{
		ID:           result.ExecutionID,
		WorkflowName: doc.Name(),
		Status:       statusFor(result),
		SubmittedAt:  result.StartedAt,
		Result:       result,
	})
	e.mu.Unlock()
	return result, nil
}

// DryRun validates and plans without executing: the result lists every step
// as skipped, along with the phase partition.
func (e *Engine) DryRun(doc *workflow.Document) (*workflow.Result, error) {
	graph, err := workflow.BuildGraph(doc)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	results := make(map[string]*workflow.StepResult, graph.Len())
	for _, step := range graph.Steps() {
		results[step.ID] = &workflow.StepResult{
			StepID: step.ID,
			Status: core.StepStatusSkipped,
			Reason: "dry run",
		}
	}
	return &workflow.Result{
		ExecutionID:  core.NewExecutionID(),
		WorkflowName: doc.Name(),
		Status:       core.WorkflowStatusSkipped,
		StepResults:  results,
		StartedAt:    now,
		CompletedAt:  now,
		Metadata: workflow.ResultMetadata{
			TotalSteps:   graph.Len(),
			SkippedSteps: graph.Len(),
			Phases:       len(graph.Phases()),
		},
	}, nil
}

// GetExecutionStatus returns the record for an execution id.
func (e *Engine) GetExecutionStatus(executionID string) (*Execution, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if exec, ok := e.executions.Get(executionID); ok {
		return exec, nil
	}
	return nil, core.QueueError(core.CodeQueueJobNotFound,
		fmt.Sprintf("execution %q not found", executionID))
}

// ListExecutions returns the retained execution records, oldest first.
func (e *Engine) ListExecutions() []*Execution {
	e.mu.Lock()
	defer e.mu.Unlock()
	keys := e.executions.Keys()
	result := make([]*Execution, 0, len(keys))
	for _, key := range keys {
		if exec, ok := e.executions.Peek(key); ok {
			result = append(result, exec)
		}
	}
	return result
}

// EngineStats summarizes the engine.
type EngineStats struct {
	Queue      queue.Stats `json:"queue"`
	Executions int         `json:"executions"`
	Schedules  int         `json:"schedules"`
	Workers    int         `json:"workers"`
}

// Stats reports queue, execution, and schedule counts.
func (e *Engine) Stats() EngineStats {
	return EngineStats{
		Queue:      e.jobs.Stats(),
		Executions: e.executions.Len(),
		Schedules:  len(e.sched.List()),
		Workers:    e.cfg.WorkerCount,
	}
}

// workerLoop consumes jobs until the context ends.
func (e *Engine) workerLoop(ctx context.Context, worker int) {
	log := e.log.With("worker", worker)
	for {
		job, err := e.jobs.Dequeue(ctx)
		if err != nil {
			return
		}
		e.emitJob(event.JobDequeued, job)
		e.runJob(ctx, job, log)
	}
}

func (e *Engine) runJob(ctx context.Context, job *queue.Job, log logger.Logger) {
	executionID, _ := job.Payload.Prop("executionId").(string)
	e.mu.Lock()
	doc := e.pendingDoc[executionID]
	if doc == nil {
		doc = e.workflows[job.WorkflowID]
	}
	opts := e.optsByExec[executionID]
	if exec, ok := e.executions.Get(executionID); ok {
		exec.Status = ExecutionRunning
	}
	if doc != nil {
		e.running[doc.Name()]++
	}
	e.mu.Unlock()

	if doc == nil {
		err := core.QueueError(core.CodeQueueJobNotFound,
			fmt.Sprintf("no workflow registered for job %q (workflow %q)", job.ID, job.WorkflowID))
		log.Error("job references unknown workflow", "job", job.ID, "workflow", job.WorkflowID)
		_ = e.jobs.MarkFailed(job.ID, err)
		e.finishExecution(executionID, nil, err)
		return
	}
	defer func() {
		e.mu.Lock()
		e.running[doc.Name()]--
		delete(e.pendingDoc, executionID)
		delete(e.optsByExec, executionID)
		e.mu.Unlock()
	}()

	runOpts := e.runOptions(opts)
	runOpts.TriggeredBy = nonEmpty(runOpts.TriggeredBy, "queue")
	result, err := e.wexec.Execute(ctx, doc, runOpts)
	if err != nil {
		_ = e.jobs.MarkFailed(job.ID, err)
		e.finishExecution(executionID, nil, core.ExecutionError(core.CodeExecutionPartial, err.Error(), err))
		return
	}
	if result.Status == core.WorkflowStatusSuccess || result.Status == core.WorkflowStatusPartial {
		_ = e.jobs.MarkCompleted(job.ID, result)
	} else {
		var jobErr error
		if result.Error != nil {
			jobErr = result.Error
		} else {
			jobErr = fmt.Errorf("workflow finished with status %s", result.Status)
		}
		_ = e.jobs.MarkFailed(job.ID, jobErr)
		if state, getErr := e.jobs.Get(job.ID); getErr == nil && state.Status == queue.JobStatusRetrying {
			e.emitJob(event.JobRetry, state)
		}
	}
	e.finishExecution(executionID, result, nil)
}

func (e *Engine) finishExecution(executionID string, result *workflow.Result, err error) {
	if executionID == "" {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	exec, ok := e.executions.Get(executionID)
	if !ok {
		return
	}
	exec.Result = result
	if err != nil || (result != nil && result.Status != core.WorkflowStatusSuccess &&
		result.Status != core.WorkflowStatusPartial) {
		exec.Status = ExecutionFailed
	} else {
		exec.Status = ExecutionCompleted
	}
}

// dispatchSchedule is the scheduler's dispatcher: it enqueues a job for the
// schedule's workflow.
func (e *Engine) dispatchSchedule(ctx context.Context, sched *scheduler.Schedule, input core.Input) error {
	e.mu.Lock()
	doc, ok := e.workflows[sched.WorkflowID]
	e.mu.Unlock()
	if !ok {
		return core.SchedulerError(core.CodeSchedulerNotFound,
			fmt.Sprintf("schedule %q references unknown workflow %q", sched.ID, sched.WorkflowID))
	}
	_, err := e.ExecuteWorkflow(doc, ExecuteOptions{
		Inputs:      input,
		TriggeredBy: "schedule:" + sched.ID,
	})
	return err
}

func (e *Engine) isWorkflowRunning(workflowID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running[workflowID] > 0
}

func (e *Engine) runOptions(opts ExecuteOptions) executor.RunOptions {
	return executor.RunOptions{
		Inputs:      opts.Inputs,
		Env:         opts.Env,
		Secrets:     opts.Secrets,
		TriggeredBy: opts.TriggeredBy,
		Timeout:     opts.Timeout,
	}
}

func (e *Engine) emitEngine(ctx context.Context, typ event.Type) {
	if err := e.bus.Emit(ctx, event.New(typ, nil)); err != nil {
		e.log.Error("failed to emit engine event", "type", typ, "error", err)
	}
}

func (e *Engine) emitJob(typ event.Type, job *queue.Job) {
	evt := event.New(typ, map[string]any{
		"jobId":    job.ID,
		"priority": job.Priority.String(),
		"attempts": job.Attempts,
	})
	evt.WorkflowID = job.WorkflowID
	if err := e.bus.EmitSync(evt); err != nil {
		e.log.Error("failed to emit job event", "type", typ, "error", err)
	}
}

func statusFor(result *workflow.Result) ExecutionStatus {
	switch result.Status {
	case core.WorkflowStatusSuccess, core.WorkflowStatusPartial, core.WorkflowStatusSkipped:
		return ExecutionCompleted
	default:
		return ExecutionFailed
	}
}

func nonEmpty(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
