package runtime

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowmatic/flowmatic/engine/adapter"
	"github.com/flowmatic/flowmatic/engine/core"
	"github.com/flowmatic/flowmatic/engine/event"
	"github.com/flowmatic/flowmatic/engine/scheduler"
	"github.com/flowmatic/flowmatic/engine/workflow"
	"github.com/flowmatic/flowmatic/pkg/config"
	"github.com/flowmatic/flowmatic/pkg/logger"
)

// okAdapter answers every mock.* action successfully.
type okAdapter struct {
	adapter.Matcher
}

func (a *okAdapter) Name() string                         { return "mock" }
func (a *okAdapter) Version() string                      { return "0.0.1" }
func (a *okAdapter) Capabilities() adapter.Capabilities   { return adapter.Capabilities{Concurrent: true} }
func (a *okAdapter) Validate(string, core.Input) []string { return nil }
func (a *okAdapter) Initialize(context.Context) error     { return nil }
func (a *okAdapter) Cleanup(context.Context) error        { return nil }
func (a *okAdapter) Execute(ctx context.Context, action string, input core.Input, _ *adapter.Context) (*adapter.Result, error) {
	return adapter.Ok(core.Output{"ok": true}), nil
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	cfg := config.Default()
	cfg.WorkerCount = 2
	cfg.StopGrace = 2 * time.Second
	e, err := New(cfg, logger.NewLogger(logger.TestConfig()))
	require.NoError(t, err)
	require.NoError(t, e.RegisterAdapter(&okAdapter{Matcher: adapter.NewMatcher("mock.*")}))
	return e
}

func simpleDoc(name string) *workflow.Document {
	return &workflow.Document{
		Version:  "1.0",
		Kind:     workflow.KindWorkflow,
		Metadata: workflow.Metadata{Name: name},
		Workflow: workflow.Section{Steps: []workflow.Step{
			{ID: "a", Uses: "mock.run"},
			{ID: "b", Uses: "mock.run", Needs: []string{"a"}},
		}},
	}
}

func waitForExecution(t *testing.T, e *Engine, id string) *Execution {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		exec, err := e.GetExecutionStatus(id)
		require.NoError(t, err)
		if exec.Status == ExecutionCompleted || exec.Status == ExecutionFailed {
			return exec
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("execution did not finish in time")
	return nil
}

func TestEngine(t *testing.T) {
	t.Run("Should execute queued workflows through the worker pool", func(t *testing.T) {
		e := newTestEngine(t)
		require.NoError(t, e.Start(t.Context()))
		defer func() { require.NoError(t, e.Stop(context.Background())) }()

		id, err := e.ExecuteWorkflow(simpleDoc("queued"), ExecuteOptions{})
		require.NoError(t, err)
		require.NotEmpty(t, id)

		exec := waitForExecution(t, e, id)
		assert.Equal(t, ExecutionCompleted, exec.Status)
		require.NotNil(t, exec.Result)
		assert.Equal(t, core.WorkflowStatusSuccess, exec.Result.Status)
		assert.Equal(t, 2, exec.Result.Metadata.SuccessfulSteps)
	})

	t.Run("Should execute immediately without the queue", func(t *testing.T) {
		e := newTestEngine(t)
		result, err := e.ExecuteWorkflowImmediate(t.Context(), simpleDoc("direct"), ExecuteOptions{})
		require.NoError(t, err)
		assert.Equal(t, core.WorkflowStatusSuccess, result.Status)

		exec, err := e.GetExecutionStatus(result.ExecutionID)
		require.NoError(t, err)
		assert.Equal(t, ExecutionCompleted, exec.Status)
	})

	t.Run("Should reject invalid documents at submission", func(t *testing.T) {
		e := newTestEngine(t)
		doc := simpleDoc("bad")
		doc.Workflow.Steps[0].Needs = []string{"b"} // cycle a<->b
		_, err := e.ExecuteWorkflow(doc, ExecuteOptions{})
		assert.Error(t, err)
	})

	t.Run("Should plan dry runs with every step skipped", func(t *testing.T) {
		e := newTestEngine(t)
		result, err := e.DryRun(simpleDoc("plan"))
		require.NoError(t, err)
		assert.Equal(t, core.WorkflowStatusSkipped, result.Status)
		assert.Equal(t, 2, result.Metadata.SkippedSteps)
		assert.Equal(t, 2, result.Metadata.Phases)
		for _, sr := range result.StepResults {
			assert.Equal(t, core.StepStatusSkipped, sr.Status)
		}
	})

	t.Run("Should list executions and report stats", func(t *testing.T) {
		e := newTestEngine(t)
		_, err := e.ExecuteWorkflowImmediate(t.Context(), simpleDoc("one"), ExecuteOptions{})
		require.NoError(t, err)
		_, err = e.ExecuteWorkflowImmediate(t.Context(), simpleDoc("two"), ExecuteOptions{})
		require.NoError(t, err)

		assert.Len(t, e.ListExecutions(), 2)
		stats := e.Stats()
		assert.Equal(t, 2, stats.Executions)
		assert.Equal(t, 2, stats.Workers)
	})

	t.Run("Should dispatch scheduled workflows", func(t *testing.T) {
		e := newTestEngine(t)
		require.NoError(t, e.Start(t.Context()))
		defer func() { require.NoError(t, e.Stop(context.Background())) }()

		e.RegisterWorkflow(simpleDoc("scheduled"))
		require.NoError(t, e.Scheduler().Add(&scheduler.Schedule{
			ID: "manual", WorkflowID: "scheduled", TriggerType: scheduler.TriggerManual,
		}))
		require.NoError(t, e.Scheduler().TriggerManual(t.Context(), "manual", nil))

		deadline := time.Now().Add(3 * time.Second)
		for time.Now().Before(deadline) {
			if len(e.ListExecutions()) > 0 {
				exec := waitForExecution(t, e, e.ListExecutions()[0].ID)
				assert.Equal(t, ExecutionCompleted, exec.Status)
				return
			}
			time.Sleep(10 * time.Millisecond)
		}
		t.Fatal("scheduled execution never appeared")
	})

	t.Run("Should start and stop idempotently", func(t *testing.T) {
		e := newTestEngine(t)
		require.NoError(t, e.Start(t.Context()))
		require.NoError(t, e.Start(t.Context()))
		require.NoError(t, e.Stop(context.Background()))
		require.NoError(t, e.Stop(context.Background()))
	})

	t.Run("Should emit engine lifecycle events", func(t *testing.T) {
		e := newTestEngine(t)
		var seen []event.Type
		e.EventBus().OnMany([]event.Type{event.EngineStarted, event.EngineStopped},
			func(_ context.Context, evt event.Event) error {
				seen = append(seen, evt.Type)
				return nil
			})
		require.NoError(t, e.Start(t.Context()))
		require.NoError(t, e.Stop(context.Background()))
		assert.Equal(t, []event.Type{event.EngineStarted, event.EngineStopped}, seen)
	})
}
