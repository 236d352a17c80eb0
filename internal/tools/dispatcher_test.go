package tools

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/crucible-ai/crucible/internal/llm"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// echoTool repeats its "text" parameter.
type echoTool struct {
	execErr error
}

func (t *echoTool) Name() string        { return "echo" }
func (t *echoTool) Description() string { return "Repeat the given text" }
func (t *echoTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"text": map[string]any{"type": "string"},
		},
		"required": []string{"text"},
	}
}
func (t *echoTool) Validate(params map[string]any) error {
	_, err := RequireString(params, "text")
	return err
}
func (t *echoTool) Execute(ctx context.Context, params map[string]any) (*Result, error) {
	if t.execErr != nil {
		return nil, t.execErr
	}
	text, _ := RequireString(params, "text")
	return &Result{Output: text, Success: true}, nil
}

func newTestDispatcher(t *testing.T, reg *Registry, opts ...DispatcherOption) *Dispatcher {
	t.Helper()
	return NewDispatcher(reg, discardLogger(), opts...)
}

func TestDispatch_Success(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&echoTool{})
	d := newTestDispatcher(t, reg)

	result := d.Dispatch(context.Background(), llm.ToolUseBlock("call_1", "echo", map[string]any{"text": "hello"}))

	if result.Type != llm.BlockToolResult {
		t.Fatalf("type = %q", result.Type)
	}
	if result.ToolUseID != "call_1" {
		t.Errorf("tool_use_id = %q, want call_1", result.ToolUseID)
	}
	if result.Text != "hello" {
		t.Errorf("output = %q, want hello", result.Text)
	}
	if result.IsError {
		t.Error("unexpected error flag")
	}
}

func TestDispatch_UnknownTool(t *testing.T) {
	d := newTestDispatcher(t, NewRegistry())

	result := d.Dispatch(context.Background(), llm.ToolUseBlock("call_1", "nonexistent", nil))

	if !result.IsError {
		t.Fatal("expected error flag")
	}
	if !strings.HasPrefix(result.Text, "Error: unknown tool") {
		t.Errorf("output = %q", result.Text)
	}
}

func TestDispatch_MalformedArguments(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&echoTool{})
	d := newTestDispatcher(t, reg)

	cases := []map[string]any{
		nil,
		{},
		{"text": 42},
		{"text": ""},
	}
	for _, params := range cases {
		result := d.Dispatch(context.Background(), llm.ToolUseBlock("call_1", "echo", params))
		if !result.IsError {
			t.Errorf("params %v: expected error flag", params)
		}
		if !strings.HasPrefix(result.Text, "Error: invalid arguments for echo") {
			t.Errorf("params %v: output = %q", params, result.Text)
		}
	}
}

func TestDispatch_ToolFaultBecomesErrorString(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&echoTool{execErr: errors.New("disk full")})
	d := newTestDispatcher(t, reg)

	result := d.Dispatch(context.Background(), llm.ToolUseBlock("call_1", "echo", map[string]any{"text": "x"}))

	if !result.IsError {
		t.Fatal("expected error flag")
	}
	if result.Text != "Error: disk full" {
		t.Errorf("output = %q", result.Text)
	}
}

func TestDispatch_TruncatesOutput(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&echoTool{})
	d := newTestDispatcher(t, reg)

	big := strings.Repeat("a", MaxOutputBytes+100)
	result := d.Dispatch(context.Background(), llm.ToolUseBlock("call_1", "echo", map[string]any{"text": big}))

	if len(result.Text) > MaxOutputBytes {
		t.Errorf("output length %d exceeds cap %d", len(result.Text), MaxOutputBytes)
	}
	if !strings.HasSuffix(result.Text, "[output truncated]") {
		t.Error("missing truncation notice")
	}
}

type recordingCollector struct {
	calls []string
}

func (r *recordingCollector) RecordToolCall(tool, status string, d time.Duration) {
	r.calls = append(r.calls, fmt.Sprintf("%s/%s", tool, status))
}

func TestDispatch_RecordsObservability(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&echoTool{})
	rec := &recordingCollector{}
	d := newTestDispatcher(t, reg, WithRecorder(rec))

	d.Dispatch(context.Background(), llm.ToolUseBlock("c1", "echo", map[string]any{"text": "x"}))
	d.Dispatch(context.Background(), llm.ToolUseBlock("c2", "missing", nil))

	want := []string{"echo/success", "missing/failure"}
	if len(rec.calls) != 2 || rec.calls[0] != want[0] || rec.calls[1] != want[1] {
		t.Errorf("recorded %v, want %v", rec.calls, want)
	}
}

func TestRegistry_DuplicatePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on duplicate registration")
		}
	}()
	reg := NewRegistry()
	reg.Register(&echoTool{})
	reg.Register(&echoTool{})
}

func TestToLLMDefinitions(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&echoTool{})

	defs := ToLLMDefinitions(reg)
	if len(defs) != 1 {
		t.Fatalf("got %d definitions", len(defs))
	}
	if defs[0].Name != "echo" || defs[0].InputSchema == nil {
		t.Errorf("unexpected definition: %+v", defs[0])
	}
}

func TestTruncateOutput(t *testing.T) {
	if got := TruncateOutput("short", 100); got != "short" {
		t.Errorf("got %q", got)
	}
	got := TruncateOutput(strings.Repeat("x", 200), 100)
	if len(got) > 100 {
		t.Errorf("length %d exceeds cap", len(got))
	}
}

func TestOptionalCoercions(t *testing.T) {
	params := map[string]any{
		"n":    float64(7), // JSON numbers decode as float64
		"flag": true,
		"s":    "v",
	}
	if got := OptionalInt(params, "n", 1); got != 7 {
		t.Errorf("OptionalInt = %d", got)
	}
	if got := OptionalInt(params, "missing", 1); got != 1 {
		t.Errorf("OptionalInt fallback = %d", got)
	}
	if !OptionalBool(params, "flag", false) {
		t.Error("OptionalBool = false")
	}
	if got := OptionalString(params, "s", "d"); got != "v" {
		t.Errorf("OptionalString = %q", got)
	}
}
