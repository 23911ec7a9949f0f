package builtin

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/google/shlex"

	"github.com/flowmatic/flowmatic/engine/adapter"
	"github.com/flowmatic/flowmatic/engine/core"
)

// killGrace is how long a cancelled process gets to exit before SIGKILL.
const killGrace = 5 * time.Second

// ShellAdapter executes shell.exec actions as local processes.
type ShellAdapter struct {
	adapter.Matcher
}

func NewShellAdapter() *ShellAdapter {
	return &ShellAdapter{Matcher: adapter.NewMatcher("shell.exec", "shell.run")}
}

func (a *ShellAdapter) Name() string    { return "shell" }
func (a *ShellAdapter) Version() string { return "1.0.0" }

func (a *ShellAdapter) Capabilities() adapter.Capabilities {
	return adapter.Capabilities{Concurrent: true, Cost: adapter.CostCheap, Resources: []string{"process"}}
}

func (a *ShellAdapter) Initialize(_ context.Context) error { return nil }
func (a *ShellAdapter) Cleanup(_ context.Context) error    { return nil }

func (a *ShellAdapter) Validate(_ string, input core.Input) []string {
	var problems []string
	if cmd, _ := input.Prop("command").(string); cmd == "" {
		problems = append(problems, "missing required input 'command'")
	}
	return problems
}

func (a *ShellAdapter) Execute(
	ctx context.Context,
	_ string,
	input core.Input,
	ectx *adapter.Context,
) (*adapter.Result, error) {
	command, _ := input.Prop("command").(string)
	argv, err := shlex.Split(command)
	if err != nil {
		return adapter.Fail(fmt.Sprintf("invalid command: %s", err), "shell.invalid_command"), nil
	}
	if len(argv) == 0 {
		return adapter.Fail("empty command", "shell.invalid_command"), nil
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.WaitDelay = killGrace
	if ectx != nil {
		cmd.Dir = ectx.WorkingDir
		cmd.Env = environFor(ectx.Env)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	started := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(started).Milliseconds()

	exitCode := 0
	if cmd.ProcessState != nil {
		exitCode = cmd.ProcessState.ExitCode()
	}
	output := core.Output{
		"stdout":   stdout.String(),
		"stderr":   stderr.String(),
		"exitCode": exitCode,
	}
	result := &adapter.Result{
		Success: runErr == nil,
		Output:  output,
		Metrics: adapter.Metrics{DurationMs: elapsed},
	}
	if runErr != nil {
		code := "shell.exit_nonzero"
		if ctx.Err() != nil {
			code = "shell.cancelled"
		}
		result.Error = &adapter.ResultError{
			Message: fmt.Sprintf("command failed: %s", runErr),
			Code:    code,
			Details: map[string]any{"exitCode": exitCode, "stderr": stderr.String()},
		}
	}
	return result, nil
}

func environFor(env core.EnvMap) []string {
	if len(env) == 0 {
		return nil
	}
	environ := make([]string, 0, len(env))
	for k, v := range env {
		environ = append(environ, k+"="+v)
	}
	return environ
}
