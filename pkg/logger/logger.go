package logger

import (
	"io"
	"os"
	"strings"

	charmlog "github.com/charmbracelet/log"
)

// LogLevel is the engine-facing log level, decoupled from the backing
// library's numeric levels.
type LogLevel string

const (
	DebugLevel    LogLevel = "debug"
	InfoLevel     LogLevel = "info"
	WarnLevel     LogLevel = "warn"
	ErrorLevel    LogLevel = "error"
	DisabledLevel LogLevel = "disabled"
)

// ToCharmlogLevel maps a LogLevel to the backing charmbracelet/log level.
// Unknown levels default to info.
func (l LogLevel) ToCharmlogLevel() charmlog.Level {
	switch l {
	case DebugLevel:
		return charmlog.DebugLevel
	case InfoLevel:
		return charmlog.InfoLevel
	case WarnLevel:
		return charmlog.WarnLevel
	case ErrorLevel:
		return charmlog.ErrorLevel
	case DisabledLevel:
		return charmlog.Level(1000)
	default:
		return charmlog.InfoLevel
	}
}

// Logger is the logging interface injected throughout the engine. Callers
// pass alternating key/value pairs after the message.
type Logger interface {
	Debug(msg string, keyvals ...any)
	Info(msg string, keyvals ...any)
	Warn(msg string, keyvals ...any)
	Error(msg string, keyvals ...any)
	With(keyvals ...any) Logger
}

type Config struct {
	Level      LogLevel
	Output     io.Writer
	JSON       bool
	AddSource  bool
	TimeFormat string
}

// DefaultConfig returns the production logging configuration.
func DefaultConfig() *Config {
	return &Config{
		Level:      InfoLevel,
		Output:     os.Stdout,
		JSON:       false,
		AddSource:  false,
		TimeFormat: "15:04:05",
	}
}

// TestConfig returns a configuration that discards all output.
func TestConfig() *Config {
	return &Config{
		Level:      DisabledLevel,
		Output:     io.Discard,
		JSON:       false,
		AddSource:  false,
		TimeFormat: "15:04:05",
	}
}

type charmLogger struct {
	logger *charmlog.Logger
}

// NewLogger creates a logger from the given config. A nil config falls back
// to TestConfig when running under go test, DefaultConfig otherwise.
func NewLogger(config *Config) Logger {
	if config == nil {
		if IsTestEnvironment() {
			config = TestConfig()
		} else {
			config = DefaultConfig()
		}
	}
	output := config.Output
	if output == nil {
		output = os.Stdout
	}
	formatter := charmlog.TextFormatter
	if config.JSON {
		formatter = charmlog.JSONFormatter
	}
	l := charmlog.NewWithOptions(output, charmlog.Options{
		Level:           config.Level.ToCharmlogLevel(),
		ReportCaller:    config.AddSource,
		ReportTimestamp: true,
		TimeFormat:      config.TimeFormat,
		Formatter:       formatter,
	})
	return &charmLogger{logger: l}
}

func (c *charmLogger) Debug(msg string, keyvals ...any) { c.logger.Debug(msg, keyvals...) }
func (c *charmLogger) Info(msg string, keyvals ...any)  { c.logger.Info(msg, keyvals...) }
func (c *charmLogger) Warn(msg string, keyvals ...any)  { c.logger.Warn(msg, keyvals...) }
func (c *charmLogger) Error(msg string, keyvals ...any) { c.logger.Error(msg, keyvals...) }

func (c *charmLogger) With(keyvals ...any) Logger {
	return &charmLogger{logger: c.logger.With(keyvals...)}
}

// IsTestEnvironment reports whether the process is running under go test.
func IsTestEnvironment() bool {
	for _, arg := range os.Args {
		if strings.HasPrefix(arg, "-test.") || strings.HasSuffix(arg, ".test") {
			return true
		}
	}
	return false
}
