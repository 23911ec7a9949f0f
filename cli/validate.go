package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/flowmatic/flowmatic/cli/helpers"
	"github.com/flowmatic/flowmatic/engine/workflow"
)

func validateCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <workflow>[,<workflow>...]",
		Short: "Validate one or more workflow files",
		Long:  "Validates each file against the document schema, the security guard, and the dependency graph. Returns exit code 1 if any file fails.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := helpers.ParseFormat(flags.format)
			if err != nil {
				return exitWith(helpers.ExitUnexpected, err)
			}
			paths := strings.Split(args[0], ",")
			failures := 0
			for _, path := range paths {
				path = strings.TrimSpace(path)
				if path == "" {
					continue
				}
				if _, err := workflow.Load(path); err != nil {
					failures++
					helpers.WriteValidationError(cmd.OutOrStdout(), path, err, format)
					continue
				}
				writeValid(cmd, path, format)
			}
			if failures > 0 {
				return exitWith(helpers.ExitValidation, nil)
			}
			return nil
		},
	}
}

func writeValid(cmd *cobra.Command, path string, format helpers.Format) {
	if format == helpers.FormatJSON {
		data, _ := json.Marshal(map[string]any{"workflow": path, "valid": true})
		cmd.Println(string(data))
		return
	}
	cmd.Println(fmt.Sprintf("%s: valid", path))
}
