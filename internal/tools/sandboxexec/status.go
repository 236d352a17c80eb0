package sandboxexec

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/crucible-ai/crucible/internal/sandbox"
	"github.com/crucible-ai/crucible/internal/tools"
)

// StatusTool reports whether the sandbox runtime is usable.
type StatusTool struct {
	manager *sandbox.Manager
	logger  *slog.Logger
}

// NewStatusTool creates the check_sandbox_status tool.
func NewStatusTool(manager *sandbox.Manager, logger *slog.Logger) *StatusTool {
	return &StatusTool{manager: manager, logger: logger}
}

func (t *StatusTool) Name() string { return "check_sandbox_status" }
func (t *StatusTool) Description() string {
	return "Check whether the Docker sandbox is available and report engine details."
}
func (t *StatusTool) InputSchema() map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": map[string]any{},
	}
}

func (t *StatusTool) Validate(map[string]any) error { return nil }

func (t *StatusTool) Execute(ctx context.Context, _ map[string]any) (*tools.Result, error) {
	if !t.manager.Available(ctx) {
		return &tools.Result{
			Output:  "❌ Docker sandbox not available. Please install and start Docker.",
			Success: false,
		}, nil
	}

	info, err := t.manager.EngineInfo(ctx)
	if err != nil {
		t.logger.WarnContext(ctx, "engine info failed", slog.String("error", err.Error()))
		return &tools.Result{
			Output:  fmt.Sprintf("❌ Docker error: %v", err),
			Success: false,
		}, nil
	}

	return &tools.Result{
		Output: fmt.Sprintf(
			"✅ Docker sandbox is available\n\nEngine:\n- Version: %s\n- OS: %s\n- Architecture: %s\n",
			info.ServerVersion, info.OS, info.Architecture),
		Success: true,
	}, nil
}
