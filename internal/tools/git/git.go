// Package git exposes read-only git inspection to the planning role.
//
// Only a fixed allowlist of subcommands is reachable. Anything that
// mutates history or the working tree (commit, push, reset, checkout)
// is rejected before a process is spawned.
package git

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

const (
	commandTimeout = 30 * time.Second
	maxOutputChars = 5000
)

// allowedOperations maps each permitted subcommand to the arguments
// used when the caller supplies none.
var allowedOperations = map[string]string{
	"status": "",
	"diff":   "",
	"log":    "--oneline -n 10",
	"branch": "-a",
	"show":   "",
	"blame":  "",
}

// OperationsTool runs allowlisted git subcommands inside the project.
type OperationsTool struct {
	root    string
	sandbox *sandbox.ProcessSandbox
	logger  *slog.Logger
}

// NewOperationsTool creates the git_operations tool rooted at the
// project directory.
func NewOperationsTool(root string, sb *sandbox.ProcessSandbox, logger *slog.Logger) *OperationsTool {
	return &OperationsTool{root: root, sandbox: sb, logger: logger}
}

func (t *OperationsTool) Name() string { return "git_operations" }

func (t *OperationsTool) Description() string {
	return "Run a read-only git operation (status, diff, log, branch, show, blame) in the project repository."
}

func (t *OperationsTool) InputSchema() map[string]any {
	ops := make([]string, 0, len(allowedOperations))
	for op := range allowedOperations {
		ops = append(ops, op)
	}
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"operation": map[string]any{
				"type":        "string",
				"enum":        ops,
				"description": "Git subcommand to run.",
			},
			"args": map[string]any{
				"type":        "string",
				"description": "Extra arguments, e.g. a file path for blame or a ref for show.",
			},
		},
		"required": []string{"operation"},
	}
}

func (t *OperationsTool) Validate(params map[string]any) error {
	op, err := tools.RequireString(params, "operation")
	if err != nil {
		return err
	}
	if _, ok := allowedOperations[op]; !ok {
		return fmt.Errorf("operation %q is not allowed", op)
	}
	return nil
}

func (t *OperationsTool) Execute(ctx context.Context, params map[string]any) (*tools.Result, error) {
	op, _ := tools.RequireString(params, "operation")
	args := strings.TrimSpace(tools.OptionalString(params, "args", ""))
	if args == "" {
		args = allowedOperations[op]
	}

	if _, err := os.Stat(filepath.Join(t.root, ".git")); err != nil {
		return &tools.Result{Output: "Error: Not a Git repository.", Success: false}, nil
	}

	command := append([]string{"git", op}, strings.Fields(args)...)
	result, err := t.sandbox.Run(ctx, sandbox.CommandRequest{
		Command:    command,
		WorkingDir: t.root,
		Timeout:    commandTimeout,
	})
	if err != nil {
		return &tools.Result{Output: fmt.Sprintf("Error: %v", err), Success: false}, nil
	}

	t.logger.DebugContext(ctx, "git operation",
		slog.String("operation", op),
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
	if len(combined) > maxOutputChars {
		combined = combined[:maxOutputChars] + "\n... [output truncated]"
	}

	return &tools.Result{
		Output:   fmt.Sprintf("[git %s] (exit %d)\n%s", op, result.ExitCode, combined),
		Success:  result.ExitCode == 0,
		Metadata: map[string]any{"operation": op, "exit_code": result.ExitCode},
	}, nil
}
