// Package config loads engine configuration from defaults, the process
// environment (FLOWMATIC_ prefix), and CLI flag overrides, in that order of
// precedence.
package config

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/v2"
)

// Config is the engine-level configuration. Workflow documents carry their
// own per-run policies; everything here is process-wide.
type Config struct {
	// WorkerCount is the queue worker pool size.
	WorkerCount int `koanf:"worker_count" validate:"gte=1,lte=256"`
	// MaxConcurrentSteps globally caps concurrently running steps per run.
	MaxConcurrentSteps int `koanf:"max_concurrent_steps" validate:"gte=1,lte=1024"`
	// QueueSize bounds pending jobs.
	QueueSize int `koanf:"queue_size" validate:"gte=1"`
	// RetentionTTL keeps finished jobs and executions queryable.
	RetentionTTL time.Duration `koanf:"retention_ttl"`
	// ExecutionHistory bounds retained execution results.
	ExecutionHistory int `koanf:"execution_history" validate:"gte=1"`
	// DefaultTimeout applies to steps without their own or a workflow
	// default timeout.
	DefaultTimeout time.Duration `koanf:"default_timeout"`
	// StopGrace bounds how long Stop waits for the cancelled workers to return.
	StopGrace time.Duration `koanf:"stop_grace"`
	// LogLevel is the engine logger level.
	LogLevel string `koanf:"log_level" validate:"omitempty,oneof=debug info warn error disabled"`
	// StateDir and LogDir are optional collaborator directories.
	StateDir string `koanf:"state_dir"`
	LogDir   string `koanf:"log_dir"`
}

const envPrefix = "FLOWMATIC_"

// Default returns the baseline configuration.
func Default() *Config {
	return &Config{
		WorkerCount:        4,
		MaxConcurrentSteps: 16,
		QueueSize:          1024,
		RetentionTTL:       time.Hour,
		ExecutionHistory:   512,
		DefaultTimeout:     5 * time.Minute,
		StopGrace:          30 * time.Second,
		LogLevel:           "info",
	}
}

// Load builds the configuration from defaults, then environment variables,
// then the given flag overrides (koanf dotted keys).
func Load(overrides map[string]any) (*Config, error) {
	k := koanf.New(".")
	cfg := Default()

	if err := k.Load(env.Provider(".", env.Opt{
		Prefix: envPrefix,
		TransformFunc: func(key, value string) (string, any) {
			key = strings.ToLower(strings.TrimPrefix(key, envPrefix))
			return key, value
		},
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment config: %w", err)
	}
	for key, value := range overrides {
		if value == nil {
			continue
		}
		if err := k.Set(key, value); err != nil {
			return nil, fmt.Errorf("failed to set config override %q: %w", key, err)
		}
	}
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration invariants.
func Validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

type ctxKey struct{}

// ContextWithConfig attaches the config to a context.
func ContextWithConfig(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, ctxKey{}, cfg)
}

// FromContext returns the config from the context, or the defaults.
func FromContext(ctx context.Context) *Config {
	if ctx != nil {
		if cfg, ok := ctx.Value(ctxKey{}).(*Config); ok && cfg != nil {
			return cfg
		}
	}
	return Default()
}
