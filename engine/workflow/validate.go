package workflow

import (
	"fmt"
	"strings"

	"github.com/flowmatic/flowmatic/engine/core"
	"github.com/flowmatic/flowmatic/pkg/tplengine"
)

// Known keys per document location, used for unknown-field detection and
// typo suggestions.
var (
	rootFields = []string{
		"version", "kind", "metadata", "annotations", "inputs", "context",
		"secrets", "triggers", "defaults", "policies", "outputs", "workflow",
	}
	metadataFields = []string{"name", "description", "tags", "owner"}
	stepFields     = []string{
		"id", "uses", "name", "with", "needs", "when", "retry", "timeout",
		"continueOnError", "env", "outputs",
	}
	retryFields    = []string{"max", "backoff", "delay"}
	triggerFields  = []string{"type", "cron", "interval", "timezone", "at", "source", "endpoint", "filters", "input", "skipIfRunning"}
	defaultsFields = []string{"retry", "timeout", "adapter"}
	policiesFields = []string{"failure", "concurrency", "sandbox"}
	failureFields  = []string{"strategy", "allowPartialSuccess", "maxFailures", "criticalSteps"}

	backoffTypes     = map[string]bool{"linear": true, "exponential": true, "fixed": true}
	triggerTypes     = map[string]bool{"manual": true, "cron": true, "interval": true, "once": true, "event": true, "webhook": true}
	failureTypes     = map[string]bool{"abort": true, "continue": true, "skipDependent": true}
	conditionPrefixs = []string{"inputs.", "secrets.", "steps.", "context.", "env."}
)

// Validate enforces the document schema over the raw value tree. The
// security scan runs first and short-circuits; structural, enum, and range
// checks then accumulate as many diagnostics as possible.
func Validate(raw map[string]any) error {
	if err := scanSecurity(raw); err != nil {
		return err
	}
	list := &core.ErrorList{}
	validateRoot(raw, list)
	validateSteps(raw, list)
	validateTriggers(raw, list)
	validateDefaults(raw, list)
	validatePolicies(raw, list)
	if list.Empty() {
		return nil
	}
	return list
}

func validateRoot(raw map[string]any, list *core.ErrorList) {
	checkUnknownFields(raw, rootFields, "workflow", list)
	if _, ok := raw["version"].(string); !ok {
		list.Add(core.SchemaError(core.CodeSchemaMissingField, "missing required field 'version'", "version"))
	}
	kind, ok := raw["kind"].(string)
	if !ok {
		list.Add(core.SchemaError(core.CodeSchemaMissingField, "missing required field 'kind'", "kind"))
	} else if !validKind(kind) {
		list.Add(core.SchemaError(core.CodeSchemaInvalidEnum,
			fmt.Sprintf("invalid kind %q, must be one of %s", kind, kindNames()), "kind"))
	}
	metadata, ok := raw["metadata"].(map[string]any)
	if !ok {
		list.Add(core.SchemaError(core.CodeSchemaMissingField, "missing required field 'metadata'", "metadata"))
	} else {
		checkUnknownFields(metadata, metadataFields, "metadata", list)
		if name, _ := metadata["name"].(string); name == "" {
			list.Add(core.SchemaError(core.CodeSchemaMissingField, "missing required field 'metadata.name'", "metadata.name"))
		}
	}
}

func validateSteps(raw map[string]any, list *core.ErrorList) {
	section, ok := raw["workflow"].(map[string]any)
	if !ok {
		list.Add(core.SchemaError(core.CodeSchemaMissingField, "missing required field 'workflow'", "workflow"))
		return
	}
	steps, ok := section["steps"].([]any)
	if !ok || len(steps) == 0 {
		list.Add(core.ValidationError(core.CodeValidationEmptyWorkflow,
			"workflow must declare at least one step", "workflow.steps"))
		return
	}
	for i, item := range steps {
		loc := fmt.Sprintf("workflow.steps[%d]", i)
		step, ok := item.(map[string]any)
		if !ok {
			list.Add(core.SchemaError(core.CodeSchemaWrongType, "step must be a mapping", loc))
			continue
		}
		checkUnknownFields(step, stepFields, loc, list)
		if id, _ := step["id"].(string); id == "" {
			list.Add(core.SchemaError(core.CodeSchemaMissingField, "step is missing required field 'id'", loc+".id"))
		}
		if uses, _ := step["uses"].(string); uses == "" {
			list.Add(core.SchemaError(core.CodeSchemaMissingField, "step is missing required field 'uses'", loc+".uses"))
		}
		validateStepRetry(step, loc, list)
		validateStepTimeout(step, loc, list)
		validateStepWhen(step, loc, list)
	}
}

func validateStepRetry(step map[string]any, loc string, list *core.ErrorList) {
	retry, ok := step["retry"].(map[string]any)
	if !ok {
		return
	}
	checkUnknownFields(retry, retryFields, loc+".retry", list)
	if maxVal, ok := retry["max"]; ok {
		if n, ok := toInt(maxVal); !ok || n < 1 {
			list.Add(core.SchemaError(core.CodeSchemaWrongType, "retry.max must be an integer >= 1", loc+".retry.max"))
		}
	}
	if backoff, ok := retry["backoff"].(string); ok && !backoffTypes[backoff] {
		list.Add(core.SchemaError(core.CodeSchemaInvalidEnum,
			fmt.Sprintf("invalid backoff %q, must be one of linear, exponential, fixed", backoff), loc+".retry.backoff"))
	}
}

func validateStepTimeout(step map[string]any, loc string, list *core.ErrorList) {
	timeout, ok := step["timeout"].(string)
	if !ok {
		return
	}
	if _, err := core.ParseDuration(timeout); err != nil {
		list.Add(core.SchemaError(core.CodeSchemaWrongType,
			fmt.Sprintf("invalid timeout %q: expected a duration like 500ms, 10s, 5m, 1h", timeout), loc+".timeout"))
	}
}

func validateStepWhen(step map[string]any, loc string, list *core.ErrorList) {
	when, present := step["when"]
	if !present {
		return
	}
	expr, ok := when.(string)
	if !ok || strings.TrimSpace(expr) == "" {
		list.Add(core.ValidationError(core.CodeValidationInvalidCondition,
			"when expression cannot be empty", loc+".when"))
		return
	}
	for _, ref := range tplengine.ExtractRefs(expr) {
		if !hasConditionPrefix(ref.Path) {
			list.Add(core.ValidationError(core.CodeValidationInvalidVarRef,
				fmt.Sprintf("condition reference %s must start with one of inputs., secrets., steps., context., env.", ref.Raw),
				loc+".when"))
		}
	}
}

func validateTriggers(raw map[string]any, list *core.ErrorList) {
	triggers, ok := raw["triggers"].([]any)
	if !ok {
		return
	}
	for i, item := range triggers {
		loc := fmt.Sprintf("triggers[%d]", i)
		trigger, ok := item.(map[string]any)
		if !ok {
			list.Add(core.SchemaError(core.CodeSchemaWrongType, "trigger must be a mapping", loc))
			continue
		}
		checkUnknownFields(trigger, triggerFields, loc, list)
		typ, _ := trigger["type"].(string)
		if typ == "" {
			list.Add(core.SchemaError(core.CodeSchemaMissingField, "trigger is missing required field 'type'", loc+".type"))
		} else if !triggerTypes[typ] {
			list.Add(core.SchemaError(core.CodeSchemaInvalidEnum,
				fmt.Sprintf("invalid trigger type %q, must be one of manual, cron, interval, once, event, webhook", typ), loc+".type"))
		}
	}
}

func validateDefaults(raw map[string]any, list *core.ErrorList) {
	defaults, ok := raw["defaults"].(map[string]any)
	if !ok {
		return
	}
	checkUnknownFields(defaults, defaultsFields, "defaults", list)
	if retry, ok := defaults["retry"].(map[string]any); ok {
		checkUnknownFields(retry, retryFields, "defaults.retry", list)
	}
	if timeout, ok := defaults["timeout"].(string); ok {
		if _, err := core.ParseDuration(timeout); err != nil {
			list.Add(core.SchemaError(core.CodeSchemaWrongType,
				fmt.Sprintf("invalid timeout %q", timeout), "defaults.timeout"))
		}
	}
}

func validatePolicies(raw map[string]any, list *core.ErrorList) {
	policies, ok := raw["policies"].(map[string]any)
	if !ok {
		return
	}
	checkUnknownFields(policies, policiesFields, "policies", list)
	failure, ok := policies["failure"].(map[string]any)
	if !ok {
		return
	}
	checkUnknownFields(failure, failureFields, "policies.failure", list)
	if strategy, ok := failure["strategy"].(string); ok && !failureTypes[strategy] {
		list.Add(core.SchemaError(core.CodeSchemaInvalidEnum,
			fmt.Sprintf("invalid failure strategy %q, must be one of abort, continue, skipDependent", strategy),
			"policies.failure.strategy"))
	}
}

func checkUnknownFields(m map[string]any, known []string, location string, list *core.ErrorList) {
	knownSet := make(map[string]bool, len(known))
	for _, k := range known {
		knownSet[k] = true
	}
	for key := range m {
		if knownSet[key] {
			continue
		}
		err := core.SchemaError(core.CodeSchemaUnknownField,
			fmt.Sprintf("unknown field %q", key), location+"."+key)
		if s := suggestField(key, known); s != nil {
			if s.LikelyTypo {
				err = err.WithHint(fmt.Sprintf("likely a typo of %q", s.Closest))
			} else {
				err = err.WithHint(fmt.Sprintf("did you mean %q?", s.Closest))
			}
			err.Details = map[string]any{"suggestion": s.Closest, "ratio": s.Ratio}
		}
		list.Add(err)
	}
}

func hasConditionPrefix(path string) bool {
	for _, prefix := range conditionPrefixs {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func validKind(kind string) bool {
	for _, k := range Kinds {
		if Kind(kind) == k {
			return true
		}
	}
	return false
}

func kindNames() string {
	names := make([]string, len(Kinds))
	for i, k := range Kinds {
		names[i] = string(k)
	}
	return strings.Join(names, ", ")
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case uint64:
		return int(n), true
	case float64:
		return int(n), n == float64(int(n))
	default:
		return 0, false
	}
}
