package sandboxexec

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/crucible-ai/crucible/internal/sandbox"
	"github.com/crucible-ai/crucible/internal/tools"
)

// TestTool runs Python code together with its tests in the sandbox.
type TestTool struct {
	manager *sandbox.Manager
	logger  *slog.Logger
}

// NewTestTool creates the test_python_code tool.
func NewTestTool(manager *sandbox.Manager, logger *slog.Logger) *TestTool {
	return &TestTool{manager: manager, logger: logger}
}

func (t *TestTool) Name() string { return "test_python_code" }
func (t *TestTool) Description() string {
	return "Test Python code by running it with test cases in the sandbox. " +
		"pytest is installed automatically."
}
func (t *TestTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"code":      map[string]any{"type": "string", "description": "Python code under test"},
			"test_code": map[string]any{"type": "string", "description": "Test code (pytest, unittest, or bare asserts)"},
			"packages":  packagesSchema("pip"),
		},
		"required": []string{"code", "test_code"},
	}
}

func (t *TestTool) Validate(params map[string]any) error {
	if _, err := tools.RequireString(params, "code"); err != nil {
		return err
	}
	_, err := tools.RequireString(params, "test_code")
	return err
}

func (t *TestTool) Execute(ctx context.Context, params map[string]any) (*tools.Result, error) {
	code, _ := tools.RequireString(params, "code")
	testCode, _ := tools.RequireString(params, "test_code")
	packages := append([]string{"pytest"}, splitPackages(tools.OptionalString(params, "packages", ""))...)

	t.logger.InfoContext(ctx, "testing python code",
		slog.Int("code_bytes", len(code)),
		slog.Int("test_bytes", len(testCode)),
	)

	// Code and tests run as one script so either failing fails the run.
	result := t.manager.Execute(ctx, &sandbox.Request{
		Language:     sandbox.LanguagePython,
		Code:         code + "\n\n# Tests\n" + testCode,
		Dependencies: packages,
	}, sandbox.Limits{})

	secs := result.WallClock.Seconds()
	var output string
	if result.Success {
		output = fmt.Sprintf("✅ All tests passed (%.2fs)\n\n%s", secs, result.Stdout)
	} else {
		output = fmt.Sprintf("❌ Tests failed (%.2fs)\n\n%s", secs, result.Stderr)
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
