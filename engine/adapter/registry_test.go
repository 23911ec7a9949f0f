package adapter

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowmatic/flowmatic/engine/core"
)

type stubAdapter struct {
	Matcher
	name        string
	initialized bool
	cleaned     bool
}

func newStub(name string, patterns ...string) *stubAdapter {
	return &stubAdapter{Matcher: NewMatcher(patterns...), name: name}
}

func (s *stubAdapter) Name() string               { return s.name }
func (s *stubAdapter) Version() string            { return "0.0.1" }
func (s *stubAdapter) Capabilities() Capabilities { return Capabilities{Concurrent: true} }
func (s *stubAdapter) Validate(string, core.Input) []string {
	return nil
}
func (s *stubAdapter) Execute(context.Context, string, core.Input, *Context) (*Result, error) {
	return Ok(core.Output{"ok": true}), nil
}
func (s *stubAdapter) Initialize(context.Context) error { s.initialized = true; return nil }
func (s *stubAdapter) Cleanup(context.Context) error    { s.cleaned = true; return nil }

func TestMatcher(t *testing.T) {
	t.Run("Should match globs over dotted actions", func(t *testing.T) {
		m := NewMatcher("http.request.*", "http.download")
		assert.True(t, m.Supports("http.request.get"))
		assert.True(t, m.Supports("http.download"))
		assert.False(t, m.Supports("http.request"))
		assert.False(t, m.Supports("queue.publish"))
	})

	t.Run("Should match exact patterns", func(t *testing.T) {
		m := NewMatcher("shell.exec")
		assert.True(t, m.Supports("shell.exec"))
		assert.False(t, m.Supports("shell.exec.sudo"))
	})
}

func TestRegistry(t *testing.T) {
	t.Run("Should resolve by namespace first", func(t *testing.T) {
		r := NewRegistry()
		require.NoError(t, r.Register(newStub("http", "http.request.*")))
		require.NoError(t, r.Register(newStub("catchall", "**")))

		a, err := r.Resolve("http.request.get")
		require.NoError(t, err)
		assert.Equal(t, "http", a.Name())
	})

	t.Run("Should fall back to scanning when namespace does not claim the action", func(t *testing.T) {
		r := NewRegistry()
		require.NoError(t, r.Register(newStub("http", "http.request.*")))
		require.NoError(t, r.Register(newStub("proxy", "http.tunnel.*")))

		a, err := r.Resolve("http.tunnel.open")
		require.NoError(t, err)
		assert.Equal(t, "proxy", a.Name())
	})

	t.Run("Should list registered names on unknown action", func(t *testing.T) {
		r := NewRegistry()
		require.NoError(t, r.Register(newStub("http", "http.request.*")))
		require.NoError(t, r.Register(newStub("shell", "shell.exec")))

		_, err := r.Resolve("queue.publish")
		var coreErr *core.Error
		require.ErrorAs(t, err, &coreErr)
		assert.Equal(t, core.CodeAdapterUnknown, coreErr.Code)
		assert.Contains(t, coreErr.Message, "http")
		assert.Contains(t, coreErr.Message, "shell")
	})

	t.Run("Should refuse duplicate names", func(t *testing.T) {
		r := NewRegistry()
		require.NoError(t, r.Register(newStub("http", "http.*")))
		assert.Error(t, r.Register(newStub("http", "http.*")))
	})

	t.Run("Should run initialize and cleanup hooks", func(t *testing.T) {
		r := NewRegistry()
		a := newStub("http", "http.*")
		b := newStub("shell", "shell.*")
		require.NoError(t, r.Register(a))
		require.NoError(t, r.Register(b))

		require.NoError(t, r.InitializeAll(t.Context()))
		assert.True(t, a.initialized)
		assert.True(t, b.initialized)

		require.NoError(t, r.CleanupAll(t.Context()))
		assert.True(t, a.cleaned)
		assert.True(t, b.cleaned)
	})
}
