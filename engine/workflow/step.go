package workflow

import (
	"regexp"
	"strings"

	"github.com/flowmatic/flowmatic/engine/core"
)

// stepIDPattern constrains step identifiers: a letter followed by letters,
// digits, underscores, or dashes.
var stepIDPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]*$`)

// Step is one node of the workflow DAG as written by the user.
type Step struct {
	ID              string         `json:"id"                        yaml:"id"`
	Uses            string         `json:"uses"                      yaml:"uses"`
	Name            string         `json:"name,omitempty"            yaml:"name,omitempty"`
	With            core.Input     `json:"with,omitempty"            yaml:"with,omitempty"`
	Needs           []string       `json:"needs,omitempty"           yaml:"needs,omitempty"`
	When            string         `json:"when,omitempty"            yaml:"when,omitempty"`
	Retry           *RetryConfig   `json:"retry,omitempty"           yaml:"retry,omitempty"`
	Timeout         string         `json:"timeout,omitempty"         yaml:"timeout,omitempty"`
	ContinueOnError bool           `json:"continueOnError,omitempty" yaml:"continueOnError,omitempty"`
	Env             core.EnvMap    `json:"env,omitempty"             yaml:"env,omitempty"`
	Outputs         map[string]any `json:"outputs,omitempty"         yaml:"outputs,omitempty"`
}

// RetryConfig is the user-facing retry block on a step or in defaults.
type RetryConfig struct {
	Max     int    `json:"max"               yaml:"max"`
	Backoff string `json:"backoff,omitempty" yaml:"backoff,omitempty"`
	Delay   int64  `json:"delay,omitempty"   yaml:"delay,omitempty"`
}

// Builtin adapter namespaces. The first dotted segment of `uses` selects the
// adapter; anything outside this set resolves to a plugin adapter.
var builtinAdapters = map[string]bool{
	"http":    true,
	"shell":   true,
	"cli":     true,
	"fs":      true,
	"webhook": true,
}

// AdapterPlugin is the adapter name assigned to non-builtin namespaces.
const AdapterPlugin = "plugin"

// ParsedStep is the immutable, execution-ready form of a step with its
// adapter resolved. Created at parse time; never mutated afterwards.
type ParsedStep struct {
	Step
	Adapter string
}

// ResolveAdapter returns the adapter name for an action string.
func ResolveAdapter(uses string) string {
	ns := uses
	if idx := strings.IndexByte(uses, '.'); idx >= 0 {
		ns = uses[:idx]
	}
	if builtinAdapters[ns] {
		return ns
	}
	return AdapterPlugin
}

// ParseStep converts a validated step into its execution-ready form.
func ParseStep(s Step) ParsedStep {
	return ParsedStep{Step: s, Adapter: ResolveAdapter(s.Uses)}
}

// ValidStepID reports whether the identifier matches the required pattern.
func ValidStepID(id string) bool {
	return stepIDPattern.MatchString(id)
}
