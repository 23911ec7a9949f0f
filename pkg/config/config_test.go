package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Run("Should provide sane defaults", func(t *testing.T) {
		cfg, err := Load(nil)
		require.NoError(t, err)
		assert.Equal(t, 4, cfg.WorkerCount)
		assert.Equal(t, 16, cfg.MaxConcurrentSteps)
		assert.Equal(t, 30*time.Second, cfg.StopGrace)
	})

	t.Run("Should apply environment overrides", func(t *testing.T) {
		t.Setenv("FLOWMATIC_WORKER_COUNT", "8")
		cfg, err := Load(nil)
		require.NoError(t, err)
		assert.Equal(t, 8, cfg.WorkerCount)
	})

	t.Run("Should let flag overrides win over environment", func(t *testing.T) {
		t.Setenv("FLOWMATIC_WORKER_COUNT", "8")
		cfg, err := Load(map[string]any{"worker_count": 2})
		require.NoError(t, err)
		assert.Equal(t, 2, cfg.WorkerCount)
	})

	t.Run("Should reject out-of-range values", func(t *testing.T) {
		_, err := Load(map[string]any{"worker_count": 0})
		assert.Error(t, err)
	})
}

func TestFromContext(t *testing.T) {
	t.Run("Should round-trip through the context", func(t *testing.T) {
		cfg := Default()
		cfg.WorkerCount = 9
		ctx := ContextWithConfig(t.Context(), cfg)
		assert.Equal(t, 9, FromContext(ctx).WorkerCount)
	})

	t.Run("Should fall back to defaults", func(t *testing.T) {
		assert.Equal(t, 4, FromContext(t.Context()).WorkerCount)
	})
}
