// Package helpers holds the CLI-side formatting and exit-code conventions.
package helpers

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/flowmatic/flowmatic/engine/core"
	"github.com/flowmatic/flowmatic/engine/workflow"
)

// Exit codes: 0 success, 1 invalid workflow or validation failure, 2 and 3
// reserved, 4 unexpected error.
const (
	ExitOK         = 0
	ExitValidation = 1
	ExitUnexpected = 4
)

// Format selects the output renderer.
type Format string

const (
	FormatHuman Format = "human"
	FormatJSON  Format = "json"
)

// ParseFormat validates a --format value.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatHuman, FormatJSON, "":
		if s == "" {
			return FormatHuman, nil
		}
		return Format(s), nil
	default:
		return "", fmt.Errorf("unknown format %q, expected human or json", s)
	}
}

// WriteResult renders a workflow result. A non-empty query filters the JSON
// form through a gjson path before printing.
func WriteResult(w io.Writer, result *workflow.Result, format Format, query string) error {
	if format == FormatJSON || query != "" {
		data, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode result: %w", err)
		}
		if query != "" {
			value := gjson.GetBytes(data, query)
			if !value.Exists() {
				return fmt.Errorf("query %q matched nothing", query)
			}
			fmt.Fprintln(w, value.String())
			return nil
		}
		fmt.Fprintln(w, string(data))
		return nil
	}
	writeHumanResult(w, result)
	return nil
}

func writeHumanResult(w io.Writer, result *workflow.Result) {
	fmt.Fprintf(w, "workflow %s: %s (%s)\n", result.WorkflowName, result.Status, result.Duration.Round(time.Millisecond))
	ids := make([]string, 0, len(result.StepResults))
	for id := range result.StepResults {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		sr := result.StepResults[id]
		line := fmt.Sprintf("  %-20s %s", id, sr.Status)
		if sr.Reason != "" {
			line += "  (" + sr.Reason + ")"
		}
		if sr.Error != nil {
			line += "  " + sr.Error.Error()
		}
		fmt.Fprintln(w, line)
	}
	if len(result.Outputs) > 0 {
		fmt.Fprintf(w, "outputs: %v\n", result.Outputs)
	}
	if result.Error != nil {
		fmt.Fprintf(w, "error: %s\n", result.Error.Error())
	}
}

// WriteValidationError renders a parse or validation failure with code,
// location, and hint.
func WriteValidationError(w io.Writer, path string, err error, format Format) {
	if format == FormatJSON {
		payload := map[string]any{"workflow": path, "valid": false}
		switch typed := err.(type) {
		case *core.Error:
			payload["errors"] = []map[string]any{typed.AsMap()}
		case *core.ErrorList:
			var errs []map[string]any
			for _, e := range typed.Errors {
				errs = append(errs, e.AsMap())
			}
			payload["errors"] = errs
		default:
			payload["errors"] = []map[string]any{{"message": err.Error()}}
		}
		data, _ := json.MarshalIndent(payload, "", "  ")
		fmt.Fprintln(w, string(data))
		return
	}
	fmt.Fprintf(w, "%s: invalid\n", path)
	switch typed := err.(type) {
	case *core.Error:
		writeHumanError(w, typed)
	case *core.ErrorList:
		for _, e := range typed.Errors {
			writeHumanError(w, e)
		}
	default:
		fmt.Fprintf(w, "  %s\n", err.Error())
	}
}

func writeHumanError(w io.Writer, e *core.Error) {
	var b strings.Builder
	b.WriteString("  [" + e.Code + "] " + e.Message)
	if e.Path != "" {
		b.WriteString(" at " + e.Path)
	}
	if e.Hint != "" {
		b.WriteString("\n      hint: " + e.Hint)
	}
	fmt.Fprintln(w, b.String())
}
