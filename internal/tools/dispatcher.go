package tools

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/crucible-ai/crucible/internal/llm"
)

// Recorder receives per-call observability events. It never influences
// control flow.
type Recorder interface {
	RecordToolCall(tool, status string, duration time.Duration)
}

// Dispatcher routes model tool calls to registered tools. It is pure
// routing: lookup, argument validation, invoke, and conversion of
// every tool-level fault into an "Error: ..." result string. Tool
// failures never propagate as orchestration-level errors.
type Dispatcher struct {
	registry *Registry
	logger   *slog.Logger
	recorder Recorder
}

// DispatcherOption configures the Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithRecorder attaches an observability collaborator.
func WithRecorder(r Recorder) DispatcherOption {
	return func(d *Dispatcher) { d.recorder = r }
}

// NewDispatcher creates a dispatcher over the given registry.
func NewDispatcher(registry *Registry, logger *slog.Logger, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{registry: registry, logger: logger}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch resolves one tool_use block into a tool_result block with
// the same call ID. It never returns an error; failures become result
// strings the model can read and react to.
func (d *Dispatcher) Dispatch(ctx context.Context, call llm.ContentBlock) llm.ContentBlock {
	start := time.Now()

	output, ok := d.invoke(ctx, call)
	duration := time.Since(start)

	status := "success"
	if !ok {
		status = "failure"
	}
	if d.recorder != nil {
		d.recorder.RecordToolCall(call.Name, status, duration)
	}

	d.logger.InfoContext(ctx, "tool call dispatched",
		slog.String("tool", call.Name),
		slog.String("status", status),
		slog.Duration("duration", duration),
	)

	return llm.ToolResultBlock(call.ID, TruncateOutput(output, MaxOutputBytes), !ok)
}

func (d *Dispatcher) invoke(ctx context.Context, call llm.ContentBlock) (string, bool) {
	tool := d.registry.Get(call.Name)
	if tool == nil {
		return fmt.Sprintf("Error: unknown tool %q", call.Name), false
	}

	params := call.Input
	if params == nil {
		params = map[string]any{}
	}

	if err := tool.Validate(params); err != nil {
		return fmt.Sprintf("Error: invalid arguments for %s: %v", call.Name, err), false
	}

	result, err := tool.Execute(ctx, params)
	if err != nil {
		return fmt.Sprintf("Error: %v", err), false
	}
	return result.Output, result.Success
}
