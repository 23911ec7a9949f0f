package workflow

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/flowmatic/flowmatic/engine/core"
)

// Kind is the document kind declared at the root of a workflow file.
type Kind string

const (
	KindWorkflow   Kind = "workflow"
	KindPipeline   Kind = "pipeline"
	KindJob        Kind = "job"
	KindPlaybook   Kind = "playbook"
	KindAutomation Kind = "automation"
)

// Kinds lists every accepted document kind.
var Kinds = []Kind{KindWorkflow, KindPipeline, KindJob, KindPlaybook, KindAutomation}

// Document is the typed representation of a parsed workflow file. Identity is
// the combination of metadata.name and version; the engine does not enforce
// global uniqueness.
type Document struct {
	Version     string            `json:"version"               yaml:"version"`
	Kind        Kind              `json:"kind"                  yaml:"kind"`
	Metadata    Metadata          `json:"metadata"              yaml:"metadata"`
	Annotations map[string]string `json:"annotations,omitempty" yaml:"annotations,omitempty"`
	Inputs      core.Input        `json:"inputs,omitempty"      yaml:"inputs,omitempty"`
	Context     map[string]any    `json:"context,omitempty"     yaml:"context,omitempty"`
	Secrets     *SecretsConfig    `json:"secrets,omitempty"     yaml:"secrets,omitempty"`
	Triggers    []TriggerConfig   `json:"triggers,omitempty"    yaml:"triggers,omitempty"`
	Defaults    Defaults          `json:"defaults,omitempty"    yaml:"defaults,omitempty"`
	Policies    Policies          `json:"policies,omitempty"    yaml:"policies,omitempty"`
	Outputs     map[string]any    `json:"outputs,omitempty"     yaml:"outputs,omitempty"`
	Workflow    Section           `json:"workflow"              yaml:"workflow"`
}

type Metadata struct {
	Name        string   `json:"name"                  yaml:"name"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"        yaml:"tags,omitempty"`
	Owner       string   `json:"owner,omitempty"       yaml:"owner,omitempty"`
}

// SecretsConfig names a secrets provider and the keys to pull from it.
// Resolution of the referenced values is a collaborator concern.
type SecretsConfig struct {
	Provider string            `json:"provider,omitempty" yaml:"provider,omitempty"`
	Keys     map[string]string `json:"keys,omitempty"     yaml:"keys,omitempty"`
}

type TriggerConfig struct {
	Type          string         `json:"type"                    yaml:"type"`
	Cron          string         `json:"cron,omitempty"          yaml:"cron,omitempty"`
	Interval      string         `json:"interval,omitempty"      yaml:"interval,omitempty"`
	Timezone      string         `json:"timezone,omitempty"      yaml:"timezone,omitempty"`
	At            string         `json:"at,omitempty"            yaml:"at,omitempty"`
	Source        string         `json:"source,omitempty"        yaml:"source,omitempty"`
	Endpoint      string         `json:"endpoint,omitempty"      yaml:"endpoint,omitempty"`
	Filters       map[string]any `json:"filters,omitempty"       yaml:"filters,omitempty"`
	Input         core.Input     `json:"input,omitempty"         yaml:"input,omitempty"`
	SkipIfRunning bool           `json:"skipIfRunning,omitempty" yaml:"skipIfRunning,omitempty"`
}

type Defaults struct {
	Retry   *RetryConfig `json:"retry,omitempty"   yaml:"retry,omitempty"`
	Timeout string       `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	Adapter string       `json:"adapter,omitempty" yaml:"adapter,omitempty"`
}

type Policies struct {
	Failure     *FailurePolicy `json:"failure,omitempty"     yaml:"failure,omitempty"`
	Concurrency int            `json:"concurrency,omitempty" yaml:"concurrency,omitempty"`
	Sandbox     string         `json:"sandbox,omitempty"     yaml:"sandbox,omitempty"`
}

type FailurePolicy struct {
	Strategy string `json:"strategy,omitempty" yaml:"strategy,omitempty"`
	// AllowPartialSuccess defaults to true for the continue and
	// skipDependent strategies when left unset.
	AllowPartialSuccess *bool    `json:"allowPartialSuccess,omitempty" yaml:"allowPartialSuccess,omitempty"`
	MaxFailures         int      `json:"maxFailures,omitempty"         yaml:"maxFailures,omitempty"`
	CriticalSteps       []string `json:"criticalSteps,omitempty"       yaml:"criticalSteps,omitempty"`
}

type Section struct {
	Steps []Step `json:"steps" yaml:"steps"`
}

// Name returns the workflow display name from metadata.
func (d *Document) Name() string {
	return d.Metadata.Name
}

// Load reads, validates, and parses a workflow file from disk.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow file: %w", err)
	}
	return Parse(data)
}

// Parse validates and decodes a workflow document from YAML or JSON bytes.
// YAML 1.2 is a superset of JSON, so a single decode path serves both.
func Parse(data []byte) (*Document, error) {
	raw, err := decodeRaw(data)
	if err != nil {
		return nil, err
	}
	if err := Validate(raw); err != nil {
		return nil, err
	}
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, core.SchemaError(core.CodeSchemaParse, fmt.Sprintf("failed to decode workflow: %s", err), "")
	}
	// Graph checks (uniqueness, needs, cycles, forward refs) complete the
	// validation pipeline over the typed form.
	if _, err := BuildGraph(&doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

func decodeRaw(data []byte) (map[string]any, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, core.SchemaError(core.CodeSchemaParse, fmt.Sprintf("invalid YAML: %s", err), "")
	}
	if raw == nil {
		return nil, core.SchemaError(core.CodeSchemaParse, "document is empty", "")
	}
	return raw, nil
}
