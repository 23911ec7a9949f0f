package builtin

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/afero"

	"github.com/flowmatic/flowmatic/engine/adapter"
	"github.com/flowmatic/flowmatic/engine/core"
)

// FSAdapter implements fs.* actions over an afero filesystem, which keeps
// tests hermetic through an in-memory backend.
type FSAdapter struct {
	adapter.Matcher
	fs afero.Fs
}

func NewFSAdapter() *FSAdapter {
	return NewFSAdapterWithFs(afero.NewOsFs())
}

func NewFSAdapterWithFs(fs afero.Fs) *FSAdapter {
	return &FSAdapter{
		Matcher: adapter.NewMatcher("fs.read", "fs.write", "fs.copy", "fs.delete", "fs.mkdir", "fs.exists"),
		fs:      fs,
	}
}

func (a *FSAdapter) Name() string    { return "fs" }
func (a *FSAdapter) Version() string { return "1.0.0" }

func (a *FSAdapter) Capabilities() adapter.Capabilities {
	return adapter.Capabilities{Concurrent: false, Idempotent: false, Cost: adapter.CostFree, Resources: []string{"filesystem"}}
}

func (a *FSAdapter) Initialize(_ context.Context) error { return nil }
func (a *FSAdapter) Cleanup(_ context.Context) error    { return nil }

func (a *FSAdapter) Validate(action string, input core.Input) []string {
	var problems []string
	if path, _ := input.Prop("path").(string); path == "" {
		problems = append(problems, "missing required input 'path'")
	}
	if action == "fs.write" {
		if _, ok := input.Prop("content").(string); !ok {
			problems = append(problems, "missing required input 'content'")
		}
	}
	if action == "fs.copy" {
		if dest, _ := input.Prop("dest").(string); dest == "" {
			problems = append(problems, "missing required input 'dest'")
		}
	}
	return problems
}

func (a *FSAdapter) Execute(
	ctx context.Context,
	action string,
	input core.Input,
	_ *adapter.Context,
) (*adapter.Result, error) {
	if err := ctx.Err(); err != nil {
		return adapter.Fail("cancelled", "fs.cancelled"), nil
	}
	started := time.Now()
	path, _ := input.Prop("path").(string)

	var result *adapter.Result
	switch action {
	case "fs.read":
		result = a.read(path)
	case "fs.write":
		content, _ := input.Prop("content").(string)
		result = a.write(path, content)
	case "fs.copy":
		dest, _ := input.Prop("dest").(string)
		result = a.copy(path, dest)
	case "fs.delete":
		result = a.delete(path)
	case "fs.mkdir":
		result = a.mkdir(path)
	case "fs.exists":
		result = a.exists(path)
	default:
		result = adapter.Fail(fmt.Sprintf("unsupported action %q", action), "fs.unsupported_action")
	}
	result.Metrics.DurationMs = time.Since(started).Milliseconds()
	return result, nil
}

func (a *FSAdapter) read(path string) *adapter.Result {
	data, err := afero.ReadFile(a.fs, path)
	if err != nil {
		return adapter.Fail(fmt.Sprintf("read failed: %s", err), "fs.read_failed")
	}
	return adapter.Ok(core.Output{"content": string(data), "size": len(data)})
}

func (a *FSAdapter) write(path, content string) *adapter.Result {
	if err := afero.WriteFile(a.fs, path, []byte(content), 0o644); err != nil {
		return adapter.Fail(fmt.Sprintf("write failed: %s", err), "fs.write_failed")
	}
	result := adapter.Ok(core.Output{"path": path, "bytes": len(content)})
	result.Effects = []string{"fs:write:" + path}
	return result
}

func (a *FSAdapter) copy(src, dest string) *adapter.Result {
	data, err := afero.ReadFile(a.fs, src)
	if err != nil {
		return adapter.Fail(fmt.Sprintf("copy failed: %s", err), "fs.copy_failed")
	}
	if err := afero.WriteFile(a.fs, dest, data, 0o644); err != nil {
		return adapter.Fail(fmt.Sprintf("copy failed: %s", err), "fs.copy_failed")
	}
	result := adapter.Ok(core.Output{"src": src, "dest": dest, "bytes": len(data)})
	result.Effects = []string{"fs:write:" + dest}
	return result
}

func (a *FSAdapter) delete(path string) *adapter.Result {
	if err := a.fs.RemoveAll(path); err != nil {
		return adapter.Fail(fmt.Sprintf("delete failed: %s", err), "fs.delete_failed")
	}
	result := adapter.Ok(core.Output{"path": path})
	result.Effects = []string{"fs:delete:" + path}
	return result
}

func (a *FSAdapter) mkdir(path string) *adapter.Result {
	if err := a.fs.MkdirAll(path, os.FileMode(0o755)); err != nil {
		return adapter.Fail(fmt.Sprintf("mkdir failed: %s", err), "fs.mkdir_failed")
	}
	return adapter.Ok(core.Output{"path": path})
}

func (a *FSAdapter) exists(path string) *adapter.Result {
	ok, err := afero.Exists(a.fs, path)
	if err != nil {
		return adapter.Fail(fmt.Sprintf("stat failed: %s", err), "fs.stat_failed")
	}
	return adapter.Ok(core.Output{"path": path, "exists": ok})
}
