package sandboxexec

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/crucible-ai/crucible/internal/sandbox"
	"github.com/crucible-ai/crucible/internal/tools"
)

// ShellTool executes shell commands in an isolated container.
type ShellTool struct {
	manager *sandbox.Manager
	logger  *slog.Logger
}

// NewShellTool creates the execute_shell_command tool.
func NewShellTool(manager *sandbox.Manager, logger *slog.Logger) *ShellTool {
	return &ShellTool{manager: manager, logger: logger}
}

func (t *ShellTool) Name() string { return "execute_shell_command" }
func (t *ShellTool) Description() string {
	return "Execute a shell command safely in an isolated Docker container. " +
		"No network access; the container is discarded after the command."
}
func (t *ShellTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"command": map[string]any{"type": "string", "description": "Shell command to execute"},
		},
		"required": []string{"command"},
	}
}

func (t *ShellTool) Validate(params map[string]any) error {
	_, err := tools.RequireString(params, "command")
	return err
}

func (t *ShellTool) Execute(ctx context.Context, params map[string]any) (*tools.Result, error) {
	command, _ := tools.RequireString(params, "command")

	t.logger.InfoContext(ctx, "executing shell command", slog.String("command", command))

	// Shell commands get the longer generic-command bound.
	result := t.manager.Execute(ctx, &sandbox.Request{
		Language: sandbox.LanguageShell,
		Code:     command,
	}, sandbox.Limits{Timeout: sandbox.DefaultShellTimeout})

	secs := result.WallClock.Seconds()
	var output string
	if result.Success {
		output = fmt.Sprintf("✅ Command successful (%.2fs)\n\n", secs) + result.Stdout
	} else {
		output = fmt.Sprintf("❌ Command failed (%.2fs)\n\n", secs)
		switch result.ErrorKind {
		case sandbox.ErrorTimeout:
			output += "Error: command timed out\n"
		case sandbox.ErrorRuntimeUnavailable:
			output += "Error: sandbox runtime unavailable\n"
		}
		output += result.Stderr
	}

	return &tools.Result{
		Output:  output,
		Success: result.Success,
		Metadata: map[string]any{
			"exit_code":    result.ExitCode,
			"wall_seconds": secs,
		},
	}, nil
}
