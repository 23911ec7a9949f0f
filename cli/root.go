// Package cli wires the cobra command tree for the flowmatic binary.
package cli

import (
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/flowmatic/flowmatic/pkg/logger"
	"github.com/flowmatic/flowmatic/pkg/version"
)

// globalFlags are shared across subcommands.
type globalFlags struct {
	format  string
	verbose bool
	silent  bool
	noColor bool
	query   string
}

// RootCmd builds the command tree.
func RootCmd() *cobra.Command {
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:           "flowmatic",
		Short:         "Declarative workflow automation engine",
		Long:          "Flowmatic runs declarative YAML/JSON workflows: validate, plan, and execute DAGs of adapter-backed steps.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.format, "format", "human", "output format (human|json)")
	root.PersistentFlags().BoolVar(&flags.verbose, "verbose", false, "enable debug logging")
	root.PersistentFlags().BoolVar(&flags.silent, "silent", false, "suppress log output")
	root.PersistentFlags().BoolVar(&flags.noColor, "no-color", false, "disable colored output")

	root.AddCommand(
		runCmd(flags),
		validateCmd(flags),
		versionCmd(),
	)
	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Println(version.String())
		},
	}
}

// loggerFor builds the CLI logger honoring --verbose and --silent.
func loggerFor(flags *globalFlags, out io.Writer) logger.Logger {
	cfg := logger.DefaultConfig()
	cfg.Output = out
	if flags.verbose {
		cfg.Level = logger.DebugLevel
	}
	if flags.silent {
		cfg.Level = logger.DisabledLevel
		cfg.Output = io.Discard
	}
	return logger.NewLogger(cfg)
}

// Execute runs the CLI and exits with the command's code.
func Execute() {
	root := RootCmd()
	if err := root.Execute(); err != nil {
		if coded, ok := err.(*exitError); ok {
			os.Exit(coded.code)
		}
		root.PrintErrln("error:", err)
		os.Exit(4)
	}
}

// exitError carries an explicit exit code through cobra.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return ""
	}
	return e.err.Error()
}

func exitWith(code int, err error) error {
	return &exitError{code: code, err: err}
}
