package builtin

import (
	"context"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowmatic/flowmatic/engine/core"
)

func TestFSAdapter(t *testing.T) {
	newAdapter := func() *FSAdapter {
		return NewFSAdapterWithFs(afero.NewMemMapFs())
	}

	t.Run("Should write then read a file", func(t *testing.T) {
		a := newAdapter()
		res, err := a.Execute(t.Context(), "fs.write", core.Input{"path": "/data/out.txt", "content": "hello"}, nil)
		require.NoError(t, err)
		require.True(t, res.Success)
		assert.Equal(t, 5, res.Output["bytes"])

		res, err = a.Execute(t.Context(), "fs.read", core.Input{"path": "/data/out.txt"}, nil)
		require.NoError(t, err)
		require.True(t, res.Success)
		assert.Equal(t, "hello", res.Output["content"])
	})

	t.Run("Should copy and delete", func(t *testing.T) {
		a := newAdapter()
		_, err := a.Execute(t.Context(), "fs.write", core.Input{"path": "/src.txt", "content": "x"}, nil)
		require.NoError(t, err)

		res, err := a.Execute(t.Context(), "fs.copy", core.Input{"path": "/src.txt", "dest": "/dst.txt"}, nil)
		require.NoError(t, err)
		assert.True(t, res.Success)

		res, err = a.Execute(t.Context(), "fs.delete", core.Input{"path": "/src.txt"}, nil)
		require.NoError(t, err)
		assert.True(t, res.Success)

		res, err = a.Execute(t.Context(), "fs.exists", core.Input{"path": "/src.txt"}, nil)
		require.NoError(t, err)
		assert.Equal(t, false, res.Output["exists"])

		res, err = a.Execute(t.Context(), "fs.exists", core.Input{"path": "/dst.txt"}, nil)
		require.NoError(t, err)
		assert.Equal(t, true, res.Output["exists"])
	})

	t.Run("Should report failure for missing files", func(t *testing.T) {
		a := newAdapter()
		res, err := a.Execute(t.Context(), "fs.read", core.Input{"path": "/absent"}, nil)
		require.NoError(t, err)
		assert.False(t, res.Success)
		assert.Equal(t, "fs.read_failed", res.Error.Code)
	})

	t.Run("Should validate required inputs", func(t *testing.T) {
		a := newAdapter()
		problems := a.Validate("fs.write", core.Input{})
		assert.Len(t, problems, 2)
	})
}

func TestShellAdapter(t *testing.T) {
	t.Run("Should capture stdout and exit code", func(t *testing.T) {
		a := NewShellAdapter()
		res, err := a.Execute(t.Context(), "shell.exec", core.Input{"command": "echo hi"}, nil)
		require.NoError(t, err)
		require.True(t, res.Success)
		assert.Equal(t, "hi\n", res.Output["stdout"])
		assert.Equal(t, 0, res.Output["exitCode"])
	})

	t.Run("Should report nonzero exits as failures", func(t *testing.T) {
		a := NewShellAdapter()
		res, err := a.Execute(t.Context(), "shell.exec", core.Input{"command": "false"}, nil)
		require.NoError(t, err)
		assert.False(t, res.Success)
		assert.Equal(t, "shell.exit_nonzero", res.Error.Code)
	})

	t.Run("Should honor cancellation", func(t *testing.T) {
		a := NewShellAdapter()
		ctx, cancel := context.WithTimeout(t.Context(), 50*time.Millisecond)
		defer cancel()
		res, err := a.Execute(ctx, "shell.exec", core.Input{"command": "sleep 5"}, nil)
		require.NoError(t, err)
		assert.False(t, res.Success)
		assert.Equal(t, "shell.cancelled", res.Error.Code)
	})

	t.Run("Should reject unparseable commands", func(t *testing.T) {
		a := NewShellAdapter()
		res, err := a.Execute(t.Context(), "shell.exec", core.Input{"command": `echo "unclosed`}, nil)
		require.NoError(t, err)
		assert.False(t, res.Success)
	})
}

func TestHTTPAdapterValidate(t *testing.T) {
	t.Run("Should require a url", func(t *testing.T) {
		a := NewHTTPAdapter()
		assert.NotEmpty(t, a.Validate("http.request.get", core.Input{}))
		assert.Empty(t, a.Validate("http.request.get", core.Input{"url": "https://example.com"}))
	})

	t.Run("Should derive the method from the action", func(t *testing.T) {
		assert.Equal(t, "POST", methodFromAction("http.request.post", nil))
		assert.Equal(t, "GET", methodFromAction("http.request", nil))
		assert.Equal(t, "PUT", methodFromAction("http.request", core.Input{"method": "put"}))
	})
}
