package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowmatic/flowmatic/cli/helpers"
)

func writeWorkflow(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "workflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const validWorkflow = `
version: "1.0"
kind: workflow
metadata: { name: hello }
workflow:
  steps:
    - id: greet
      uses: shell.exec
      with: { command: "echo hi" }
`

const cyclicWorkflow = `
version: "1.0"
kind: workflow
metadata: { name: broken }
workflow:
  steps:
    - { id: a, uses: shell.exec, needs: [b], with: { command: "true" } }
    - { id: b, uses: shell.exec, needs: [a], with: { command: "true" } }
`

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := RootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestValidateCommand(t *testing.T) {
	t.Run("Should accept a valid workflow", func(t *testing.T) {
		path := writeWorkflow(t, validWorkflow)
		out, err := runCommand(t, "validate", path)
		require.NoError(t, err)
		assert.Contains(t, out, "valid")
	})

	t.Run("Should exit 1 on cycles", func(t *testing.T) {
		path := writeWorkflow(t, cyclicWorkflow)
		out, err := runCommand(t, "validate", path)
		require.Error(t, err)
		exit, ok := err.(*exitError)
		require.True(t, ok)
		assert.Equal(t, helpers.ExitValidation, exit.code)
		assert.Contains(t, out, "circular_dependency")
	})

	t.Run("Should exit 1 when any of several workflows fails", func(t *testing.T) {
		good := writeWorkflow(t, validWorkflow)
		bad := writeWorkflow(t, cyclicWorkflow)
		_, err := runCommand(t, "validate", good+","+bad)
		require.Error(t, err)
		exit, ok := err.(*exitError)
		require.True(t, ok)
		assert.Equal(t, helpers.ExitValidation, exit.code)
	})

	t.Run("Should report reserved fields", func(t *testing.T) {
		path := writeWorkflow(t, `
_billing: { plan: free }
version: "1.0"
kind: workflow
metadata: { name: x }
workflow:
  steps:
    - { id: a, uses: shell.exec }
`)
		out, err := runCommand(t, "validate", path)
		require.Error(t, err)
		assert.Contains(t, out, "reserved_field")
		assert.Contains(t, out, "_billing")
	})

	t.Run("Should emit JSON diagnostics with --format json", func(t *testing.T) {
		path := writeWorkflow(t, cyclicWorkflow)
		out, _ := runCommand(t, "validate", path, "--format", "json")
		assert.Contains(t, out, `"valid": false`)
	})
}

func TestRunCommand(t *testing.T) {
	t.Run("Should run a workflow and print the result", func(t *testing.T) {
		path := writeWorkflow(t, validWorkflow)
		out, err := runCommand(t, "run", path, "--silent")
		require.NoError(t, err)
		assert.Contains(t, out, "hello")
		assert.Contains(t, out, "success")
	})

	t.Run("Should support dry runs", func(t *testing.T) {
		path := writeWorkflow(t, validWorkflow)
		out, err := runCommand(t, "run", path, "--dry-run", "--silent")
		require.NoError(t, err)
		assert.Contains(t, out, "skipped")
	})

	t.Run("Should filter JSON output with --query", func(t *testing.T) {
		path := writeWorkflow(t, validWorkflow)
		out, err := runCommand(t, "run", path, "--silent", "--format", "json", "--query", "status")
		require.NoError(t, err)
		assert.Contains(t, out, "success")
	})

	t.Run("Should exit 1 for invalid workflows", func(t *testing.T) {
		path := writeWorkflow(t, cyclicWorkflow)
		_, err := runCommand(t, "run", path, "--silent")
		require.Error(t, err)
		exit, ok := err.(*exitError)
		require.True(t, ok)
		assert.Equal(t, helpers.ExitValidation, exit.code)
	})
}

func TestVersionCommand(t *testing.T) {
	t.Run("Should print the version line", func(t *testing.T) {
		out, err := runCommand(t, "version")
		require.NoError(t, err)
		assert.Contains(t, out, "flowmatic")
	})
}
