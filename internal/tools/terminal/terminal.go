// Package terminal exposes host shell commands to the planning role.
//
// Commands run through the process sandbox: own process group, ulimit
// caps, sanitized environment, hard timeout. This is the host-side
// counterpart of the containerized execute_shell_command tool and is
// meant for project-local work (installing deps, running linters)
// rather than for executing candidate code.
package terminal

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/crucible-ai/crucible/internal/sandbox"
	"github.com/crucible-ai/crucible/internal/tools"
)

const commandTimeout = 120 * time.Second

// RunCommandTool runs a shell command inside the project directory.
type RunCommandTool struct {
	root    string
	sandbox *sandbox.ProcessSandbox
	logger  *slog.Logger
}

// NewRunCommandTool creates the run_command tool rooted at the project
// directory.
func NewRunCommandTool(root string, sb *sandbox.ProcessSandbox, logger *slog.Logger) *RunCommandTool {
	return &RunCommandTool{root: root, sandbox: sb, logger: logger}
}

func (t *RunCommandTool) Name() string { return "run_command" }

func (t *RunCommandTool) Description() string {
	return "Run a shell command in the project directory. Times out after 120 seconds."
}

func (t *RunCommandTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"command": map[string]any{
				"type":        "string",
				"description": "Shell command line to execute.",
			},
			"cwd": map[string]any{
				"type":        "string",
				"description": "Subdirectory of the project to run in, relative. Defaults to the project root.",
			},
		},
		"required": []string{"command"},
	}
}

func (t *RunCommandTool) Validate(params map[string]any) error {
	if _, err := tools.RequireString(params, "command"); err != nil {
		return err
	}
	if _, err := t.resolveDir(tools.OptionalString(params, "cwd", "")); err != nil {
		return err
	}
	return nil
}

func (t *RunCommandTool) Execute(ctx context.Context, params map[string]any) (*tools.Result, error) {
	command, _ := tools.RequireString(params, "command")
	dir, err := t.resolveDir(tools.OptionalString(params, "cwd", ""))
	if err != nil {
		return nil, err
	}

	result, err := t.sandbox.Run(ctx, sandbox.CommandRequest{
		Command:    []string{"sh", "-c", command},
		WorkingDir: dir,
		Timeout:    commandTimeout,
	})
	if err != nil {
		if strings.Contains(err.Error(), "timed out") {
			return &tools.Result{
				Output:  fmt.Sprintf("Error: Command timed out after %d seconds.", int(commandTimeout.Seconds())),
				Success: false,
			}, nil
		}
		return &tools.Result{Output: fmt.Sprintf("Error: %v", err), Success: false}, nil
	}

	t.logger.DebugContext(ctx, "run_command finished",
		slog.Int("exit_code", result.ExitCode),
		slog.Duration("duration", result.Duration),
	)

	combined := result.Stdout
	if result.Stderr != "" {
		if combined != "" {
			combined += "\n"
		}
		combined += result.Stderr
	}
	combined = strings.TrimRight(combined, "\n")
	if combined == "" {
		combined = "(no output)"
	}

	return &tools.Result{
		Output:   tools.TruncateOutput(fmt.Sprintf("[exit %d]\n%s", result.ExitCode, combined), tools.MaxOutputBytes),
		Success:  result.ExitCode == 0,
		Metadata: map[string]any{"exit_code": result.ExitCode},
	}, nil
}

// resolveDir confines cwd to the project tree and rejects traversal.
func (t *RunCommandTool) resolveDir(raw string) (string, error) {
	if raw == "" || raw == "." {
		return t.root, nil
	}
	if filepath.IsAbs(raw) {
		return "", fmt.Errorf("cwd must be relative to the project root")
	}
	dir := filepath.Clean(filepath.Join(t.root, raw))
	rel, err := filepath.Rel(t.root, dir)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("cwd %q escapes the project root", raw)
	}
	info, err := os.Stat(dir)
	if err != nil {
		return "", fmt.Errorf("cwd %q: %w", raw, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("cwd %q is not a directory", raw)
	}
	return dir, nil
}
