package workflow

import (
	"fmt"
	"strings"

	"github.com/flowmatic/flowmatic/engine/core"
)

// Reserved names and prefixes the engine controls internally. Any occurrence
// in user input fails validation before any other check runs.
var (
	reservedFields = map[string]bool{
		"_internal":  true,
		"_billing":   true,
		"_identity":  true,
		"_ownership": true,
		"_usage":     true,
		"_audit":     true,
	}

	reservedIdentifiers = map[string]bool{
		"executionId":     true,
		"runId":           true,
		"traceId":         true,
		"userId":          true,
		"workspaceId":     true,
		"subscriptionId":  true,
		"billingId":       true,
		"pricingTier":     true,
		"pricingModel":    true,
		"billingSnapshot": true,
	}

	reservedAnnotationPrefixes = []string{
		"engine.",
		"system.",
		"internal.",
		"billing.",
		"audit.",
		"security.",
	}
)

// scanSecurity walks the raw document tree and returns a SecurityViolation
// for the first reserved name it finds. The scan covers root keys, context
// keys, each step's keys (including with/env/outputs), and annotation key
// prefixes.
func scanSecurity(raw map[string]any) *core.Error {
	if err := scanKeys(raw, "workflow (root level)"); err != nil {
		return err
	}
	if ctx, ok := raw["context"].(map[string]any); ok {
		if err := scanKeys(ctx, "context"); err != nil {
			return err
		}
	}
	if err := scanAnnotations(raw); err != nil {
		return err
	}
	return scanSteps(raw)
}

func scanSteps(raw map[string]any) *core.Error {
	section, ok := raw["workflow"].(map[string]any)
	if !ok {
		return nil
	}
	steps, ok := section["steps"].([]any)
	if !ok {
		return nil
	}
	for i, item := range steps {
		step, ok := item.(map[string]any)
		if !ok {
			continue
		}
		loc := fmt.Sprintf("workflow.steps[%d]", i)
		if err := scanKeys(step, loc); err != nil {
			return err
		}
		for _, nested := range []string{"with", "env", "outputs"} {
			if m, ok := step[nested].(map[string]any); ok {
				if err := scanKeys(m, loc+"."+nested); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func scanKeys(m map[string]any, location string) *core.Error {
	for key := range m {
		if reserved, reason := isReservedKey(key); reserved {
			return core.SecurityViolationError(key, location, reason,
				"remove the field; the engine manages it internally")
		}
	}
	return nil
}

func scanAnnotations(raw map[string]any) *core.Error {
	annotations, ok := raw["annotations"].(map[string]any)
	if !ok {
		return nil
	}
	for key := range annotations {
		for _, prefix := range reservedAnnotationPrefixes {
			if strings.HasPrefix(key, prefix) {
				return core.SecurityViolationError(key, "annotations",
					fmt.Sprintf("annotation prefix %q is reserved", prefix),
					"use an unprefixed annotation key")
			}
		}
	}
	return nil
}

func isReservedKey(key string) (bool, string) {
	if reservedFields[key] {
		return true, "engine-controlled field"
	}
	if reservedIdentifiers[key] {
		return true, "engine-minted identifier"
	}
	return false, ""
}
