package sandboxexec

import (
	"context"
	"log/slog"

	"github.com/crucible-ai/crucible/internal/sandbox"
	"github.com/crucible-ai/crucible/internal/tools"
)

// PythonTool executes Python code in an isolated container.
type PythonTool struct {
	manager *sandbox.Manager
	logger  *slog.Logger
}

// NewPythonTool creates the execute_python_code tool.
func NewPythonTool(manager *sandbox.Manager, logger *slog.Logger) *PythonTool {
	return &PythonTool{manager: manager, logger: logger}
}

func (t *PythonTool) Name() string { return "execute_python_code" }
func (t *PythonTool) Description() string {
	return "Execute Python code safely in an isolated Docker container. " +
		"Returns execution output with stdout, stderr, and timing."
}
func (t *PythonTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"code":     map[string]any{"type": "string", "description": "Python code to execute"},
			"packages": packagesSchema("pip"),
		},
		"required": []string{"code"},
	}
}

func (t *PythonTool) Validate(params map[string]any) error {
	_, err := tools.RequireString(params, "code")
	return err
}

func (t *PythonTool) Execute(ctx context.Context, params map[string]any) (*tools.Result, error) {
	code, _ := tools.RequireString(params, "code")
	packages := splitPackages(tools.OptionalString(params, "packages", ""))

	t.logger.InfoContext(ctx, "executing python code",
		slog.Int("code_bytes", len(code)),
		slog.Int("packages", len(packages)),
	)

	result := t.manager.Execute(ctx, &sandbox.Request{
		Language:     sandbox.LanguagePython,
		Code:         code,
		Dependencies: packages,
	}, sandbox.Limits{})

	return &tools.Result{
		Output:  formatExecution(result),
		Success: result.Success,
		Metadata: map[string]any{
			"exit_code":    result.ExitCode,
			"wall_seconds": result.WallClock.Seconds(),
		},
	}, nil
}

// JavaScriptTool executes JavaScript code in an isolated Node.js container.
type JavaScriptTool struct {
	manager *sandbox.Manager
	logger  *slog.Logger
}

// NewJavaScriptTool creates the execute_javascript_code tool.
func NewJavaScriptTool(manager *sandbox.Manager, logger *slog.Logger) *JavaScriptTool {
	return &JavaScriptTool{manager: manager, logger: logger}
}

func (t *JavaScriptTool) Name() string { return "execute_javascript_code" }
func (t *JavaScriptTool) Description() string {
	return "Execute JavaScript code safely in an isolated Node.js container."
}
func (t *JavaScriptTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"code":     map[string]any{"type": "string", "description": "JavaScript code to execute"},
			"packages": packagesSchema("npm"),
		},
		"required": []string{"code"},
	}
}

func (t *JavaScriptTool) Validate(params map[string]any) error {
	_, err := tools.RequireString(params, "code")
	return err
}

func (t *JavaScriptTool) Execute(ctx context.Context, params map[string]any) (*tools.Result, error) {
	code, _ := tools.RequireString(params, "code")
	packages := splitPackages(tools.OptionalString(params, "packages", ""))

	t.logger.InfoContext(ctx, "executing javascript code",
		slog.Int("code_bytes", len(code)),
		slog.Int("packages", len(packages)),
	)

	result := t.manager.Execute(ctx, &sandbox.Request{
		Language:     sandbox.LanguageJavaScript,
		Code:         code,
		Dependencies: packages,
	}, sandbox.Limits{})

	return &tools.Result{
		Output:  formatExecution(result),
		Success: result.Success,
		Metadata: map[string]any{
			"exit_code":    result.ExitCode,
			"wall_seconds": result.WallClock.Seconds(),
		},
	}, nil
}

// JavaTool compiles and runs Java code in an isolated JDK container.
type JavaTool struct {
	manager *sandbox.Manager
	logger  *slog.Logger
}

// NewJavaTool creates the execute_java_code tool.
func NewJavaTool(manager *sandbox.Manager, logger *slog.Logger) *JavaTool {
	return &JavaTool{manager: manager, logger: logger}
}

func (t *JavaTool) Name() string { return "execute_java_code" }
func (t *JavaTool) Description() string {
	return "Execute Java code safely in an isolated container. " +
		"The source should declare a public class with a main method; " +
		"without one the file is compiled as Main.java."
}
func (t *JavaTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"code": map[string]any{"type": "string", "description": "Java source to compile and run"},
		},
		"required": []string{"code"},
	}
}

func (t *JavaTool) Validate(params map[string]any) error {
	_, err := tools.RequireString(params, "code")
	return err
}

func (t *JavaTool) Execute(ctx context.Context, params map[string]any) (*tools.Result, error) {
	code, _ := tools.RequireString(params, "code")

	t.logger.InfoContext(ctx, "executing java code", slog.Int("code_bytes", len(code)))

	result := t.manager.Execute(ctx, &sandbox.Request{
		Language: sandbox.LanguageJava,
		Code:     code,
	}, sandbox.Limits{})

	return &tools.Result{
		Output:  formatExecution(result),
		Success: result.Success,
		Metadata: map[string]any{
			"exit_code":    result.ExitCode,
			"wall_seconds": result.WallClock.Seconds(),
		},
	}, nil
}
