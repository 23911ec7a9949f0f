package state

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowmatic/flowmatic/engine/core"
)

func newTestContext() *Context {
	return New(Options{
		WorkflowID:   "wf-1",
		WorkflowName: "deploy",
		Inputs:       core.Input{"region": "eu"},
		Env:          core.EnvMap{"HOME": "/home/app"},
		Secrets:      map[string]string{"token": "s3cr3t"},
		UserContext:  map[string]any{"tier": "prod"},
	})
}

func TestContext(t *testing.T) {
	t.Run("Should mint an execution id and expose scopes", func(t *testing.T) {
		ctx := newTestContext()
		require.NotEmpty(t, ctx.ExecutionID)

		scopes := ctx.Scopes()
		assert.Equal(t, "eu", scopes["inputs"].(map[string]any)["region"])
		assert.Equal(t, "s3cr3t", scopes["secrets"].(map[string]any)["token"])
		assert.Equal(t, "deploy", scopes["workflow"].(map[string]any)["name"])
		assert.Equal(t, ctx.ExecutionID, scopes["run"].(map[string]any)["executionId"])
	})

	t.Run("Should make step outputs visible through the lookup", func(t *testing.T) {
		ctx := newTestContext()
		ctx.RecordStepOutput("fetch", core.Output{"status": 200})

		val, ok := ctx.Lookup()("steps.fetch.outputs.status")
		require.True(t, ok)
		assert.Equal(t, 200, val)
	})

	t.Run("Should restore snapshots for retries", func(t *testing.T) {
		ctx := newTestContext()
		ctx.RecordStepOutput("a", core.Output{"n": 1})
		snap := ctx.Snapshot()

		ctx.RecordStepOutput("b", core.Output{"n": 2})
		ctx.IncrementAttempt()
		ctx.Restore(snap)

		_, ok := ctx.StepOutput("b")
		assert.False(t, ok)
		_, ok = ctx.StepOutput("a")
		assert.True(t, ok)
		assert.Equal(t, 0, ctx.Attempt())
	})

	t.Run("Should isolate the adapter view from internal state", func(t *testing.T) {
		ctx := newTestContext()
		ctx.RecordStepOutput("a", core.Output{"n": 1})

		view := ctx.View()
		view.Inputs["region"] = "us"
		view.StepOutputs["a"] = core.Output{"n": 99}

		assert.Equal(t, "eu", ctx.Inputs()["region"])
		out, _ := ctx.StepOutput("a")
		assert.Equal(t, 1, out["n"])
	})

	t.Run("Should serialize concurrent writes", func(t *testing.T) {
		ctx := newTestContext()
		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ctx.IncrementAttempt()
			}()
		}
		wg.Wait()
		assert.Equal(t, 50, ctx.Attempt())
	})
}
