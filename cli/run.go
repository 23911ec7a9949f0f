package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/flowmatic/flowmatic/cli/helpers"
	"github.com/flowmatic/flowmatic/engine/adapter/builtin"
	"github.com/flowmatic/flowmatic/engine/core"
	"github.com/flowmatic/flowmatic/engine/runtime"
	"github.com/flowmatic/flowmatic/engine/workflow"
	"github.com/flowmatic/flowmatic/pkg/config"
)

func runCmd(flags *globalFlags) *cobra.Command {
	var (
		inputPairs []string
		dryRun     bool
	)
	cmd := &cobra.Command{
		Use:   "run <workflow>",
		Short: "Execute a workflow file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := helpers.ParseFormat(flags.format)
			if err != nil {
				return exitWith(helpers.ExitUnexpected, err)
			}
			doc, err := workflow.Load(args[0])
			if err != nil {
				helpers.WriteValidationError(cmd.OutOrStdout(), args[0], err, format)
				return exitWith(helpers.ExitValidation, nil)
			}
			return runWorkflow(cmd, flags, format, doc, inputPairs, dryRun)
		},
	}
	cmd.Flags().StringArrayVar(&inputPairs, "input", nil, "workflow input as key=value (repeatable)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "validate and plan without executing")
	cmd.Flags().StringVar(&flags.query, "query", "", "filter JSON output through a gjson path")
	return cmd
}

func runWorkflow(
	cmd *cobra.Command,
	flags *globalFlags,
	format helpers.Format,
	doc *workflow.Document,
	inputPairs []string,
	dryRun bool,
) error {
	log := loggerFor(flags, cmd.ErrOrStderr())
	eng, err := runtime.New(config.FromContext(cmd.Context()), log)
	if err != nil {
		return exitWith(helpers.ExitUnexpected, err)
	}
	if err := registerBuiltins(eng); err != nil {
		return exitWith(helpers.ExitUnexpected, err)
	}

	var result *workflow.Result
	if dryRun {
		result, err = eng.DryRun(doc)
	} else {
		result, err = eng.ExecuteWorkflowImmediate(cmd.Context(), doc, runtime.ExecuteOptions{
			Inputs:      parseInputs(inputPairs),
			Env:         envFromProcess(),
			TriggeredBy: "cli",
		})
	}
	if err != nil {
		helpers.WriteValidationError(cmd.OutOrStdout(), doc.Name(), err, format)
		return exitWith(helpers.ExitValidation, nil)
	}
	if err := helpers.WriteResult(cmd.OutOrStdout(), result, format, flags.query); err != nil {
		return exitWith(helpers.ExitUnexpected, err)
	}
	if result.Status == core.WorkflowStatusFailed || result.Status == core.WorkflowStatusTimeout ||
		result.Status == core.WorkflowStatusCancelled {
		return exitWith(helpers.ExitValidation, nil)
	}
	return nil
}

func registerBuiltins(eng *runtime.Engine) error {
	adapters := []error{
		eng.RegisterAdapter(builtin.NewHTTPAdapter()),
		eng.RegisterAdapter(builtin.NewShellAdapter()),
		eng.RegisterAdapter(builtin.NewFSAdapter()),
	}
	for _, err := range adapters {
		if err != nil {
			return fmt.Errorf("failed to register builtin adapter: %w", err)
		}
	}
	return nil
}

func parseInputs(pairs []string) core.Input {
	inputs := make(core.Input, len(pairs))
	for _, pair := range pairs {
		key, value := splitPair(pair)
		if key != "" {
			inputs[key] = value
		}
	}
	return inputs
}

func splitPair(pair string) (string, string) {
	for i := 0; i < len(pair); i++ {
		if pair[i] == '=' {
			return pair[:i], pair[i+1:]
		}
	}
	return pair, ""
}

func envFromProcess() core.EnvMap {
	env := make(core.EnvMap)
	for _, entry := range os.Environ() {
		key, value := splitPair(entry)
		env[key] = value
	}
	return env
}
