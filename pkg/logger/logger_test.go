package logger

import (
	"bytes"
	"context"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromContext(t *testing.T) {
	t.Run("Should return logger from context when present", func(t *testing.T) {
		expected := NewLogger(TestConfig())
		ctx := ContextWithLogger(t.Context(), expected)

		actual := FromContext(ctx)

		require.NotNil(t, actual)
		assert.Equal(t, expected, actual)
	})

	t.Run("Should return default logger when no logger in context", func(t *testing.T) {
		log := FromContext(t.Context())
		require.NotNil(t, log)
		log.Info("test message from default logger")
	})

	t.Run("Should return default logger when wrong type in context", func(t *testing.T) {
		ctx := context.WithValue(t.Context(), LoggerCtxKey, "not a logger")
		log := FromContext(ctx)
		require.NotNil(t, log)
	})

	t.Run("Should return default logger when nil logger in context", func(t *testing.T) {
		ctx := context.WithValue(t.Context(), LoggerCtxKey, (Logger)(nil))
		log := FromContext(ctx)
		require.NotNil(t, log)
	})
}

func TestLogLevel_ToCharmlogLevel(t *testing.T) {
	t.Run("Should map engine levels onto charm levels", func(t *testing.T) {
		assert.Equal(t, -4, int(DebugLevel.ToCharmlogLevel()))
		assert.Equal(t, 0, int(InfoLevel.ToCharmlogLevel()))
		assert.Equal(t, 4, int(WarnLevel.ToCharmlogLevel()))
		assert.Equal(t, 8, int(ErrorLevel.ToCharmlogLevel()))
		assert.Equal(t, 1000, int(DisabledLevel.ToCharmlogLevel()))
		assert.Equal(t, 0, int(LogLevel("unknown").ToCharmlogLevel()))
	})
}

func TestNewLogger(t *testing.T) {
	t.Run("Should create logger with provided config", func(t *testing.T) {
		var buf bytes.Buffer
		log := NewLogger(&Config{
			Level:      InfoLevel,
			Output:     &buf,
			TimeFormat: "15:04:05",
		})
		log.Info("test message")

		require.NotNil(t, log)
		assert.Contains(t, buf.String(), "test message")
	})

	t.Run("Should tolerate a nil config", func(t *testing.T) {
		log := NewLogger(nil)
		require.NotNil(t, log)
		log.Info("test default config")
	})

	t.Run("Should emit structured output when JSON is enabled", func(t *testing.T) {
		var buf bytes.Buffer
		log := NewLogger(&Config{
			Level:      InfoLevel,
			Output:     &buf,
			JSON:       true,
			TimeFormat: "15:04:05",
		})
		log.Info("test message", "key", "value")

		output := buf.String()
		assert.Contains(t, output, "test message")
		assert.True(t, strings.Contains(output, "{") && strings.Contains(output, "}"))
	})
}

func TestLogger_With(t *testing.T) {
	t.Run("Should carry context fields through child loggers", func(t *testing.T) {
		var buf bytes.Buffer
		base := NewLogger(&Config{Level: InfoLevel, Output: &buf, TimeFormat: "15:04:05"})

		child := base.With("component", "executor").With("step", "greet")
		child.Info("operation completed")

		output := buf.String()
		assert.Contains(t, output, "component")
		assert.Contains(t, output, "executor")
		assert.Contains(t, output, "step")
		assert.Contains(t, output, "greet")
		assert.Contains(t, output, "operation completed")
	})
}

func TestConfigDefaults(t *testing.T) {
	t.Run("Should provide correct default configuration", func(t *testing.T) {
		config := DefaultConfig()

		assert.Equal(t, InfoLevel, config.Level)
		assert.Equal(t, os.Stdout, config.Output)
		assert.False(t, config.JSON)
		assert.False(t, config.AddSource)
		assert.Equal(t, "15:04:05", config.TimeFormat)
	})

	t.Run("Should provide correct test configuration", func(t *testing.T) {
		config := TestConfig()

		assert.Equal(t, DisabledLevel, config.Level)
		assert.Equal(t, io.Discard, config.Output)
	})
}

func TestIsTestEnvironment(t *testing.T) {
	t.Run("Should detect the go test binary", func(t *testing.T) {
		assert.True(t, IsTestEnvironment())
	})
}

func TestLoggerLevels(t *testing.T) {
	t.Run("Should respect log level filtering", func(t *testing.T) {
		var buf bytes.Buffer
		log := NewLogger(&Config{Level: WarnLevel, Output: &buf, TimeFormat: "15:04:05"})

		log.Debug("debug message")
		log.Info("info message")
		log.Warn("warn message")
		log.Error("error message")

		output := buf.String()
		assert.NotContains(t, output, "debug message")
		assert.NotContains(t, output, "info message")
		assert.Contains(t, output, "warn message")
		assert.Contains(t, output, "error message")
	})

	t.Run("Should silence everything at DisabledLevel", func(t *testing.T) {
		var buf bytes.Buffer
		log := NewLogger(&Config{Level: DisabledLevel, Output: &buf, TimeFormat: "15:04:05"})

		log.Debug("debug message")
		log.Info("info message")
		log.Warn("warn message")
		log.Error("error message")

		assert.Empty(t, buf.String())
	})
}
