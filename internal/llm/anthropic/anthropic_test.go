package anthropic

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/crucible-ai/crucible/internal/llm"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSendMessage_ToolUse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-API-Key") != "test-key" {
			t.Errorf("expected api key header, got %q", r.Header.Get("X-API-Key"))
		}
		if r.Header.Get("Anthropic-Version") != apiVersion {
			t.Errorf("expected version header %q, got %q", apiVersion, r.Header.Get("Anthropic-Version"))
		}

		var req apiRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decoding request: %v", err)
		}
		if req.System != "You are a task planner." {
			t.Errorf("unexpected system prompt %q", req.System)
		}
		if len(req.Tools) != 1 || req.Tools[0].Name != "execute_shell_command" {
			t.Errorf("unexpected tools: %+v", req.Tools)
		}

		resp := apiResponse{
			Content: []apiContentBlock{
				{Type: "text", Text: "Running it now."},
				{Type: "tool_use", ID: "toolu_01", Name: "execute_shell_command",
					Input: map[string]any{"command": "ls"}},
			},
			StopReason: "tool_use",
			Usage:      apiUsage{InputTokens: 12, OutputTokens: 7},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	client := NewClient("test-key", "claude-sonnet-4-20250514", discardLogger(), WithBaseURL(srv.URL))
	resp, err := client.SendMessage(context.Background(), &llm.Request{
		SystemPrompt: "You are a task planner.",
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: "list files"}},
		Tools: []llm.ToolDefinition{{
			Name:        "execute_shell_command",
			Description: "Run a shell command in the sandbox",
			InputSchema: map[string]any{"type": "object"},
		}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !resp.HasToolUse() {
		t.Fatal("expected tool use response")
	}
	if resp.Content != "Running it now." {
		t.Errorf("unexpected content %q", resp.Content)
	}
	calls := resp.ToolUseBlocks()
	if len(calls) != 1 || calls[0].ID != "toolu_01" {
		t.Fatalf("unexpected tool calls: %+v", calls)
	}
	if resp.Usage.InputTokens != 12 || resp.Usage.OutputTokens != 7 {
		t.Errorf("unexpected usage: %+v", resp.Usage)
	}
}

func TestSendMessage_StructuredHistory(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var raw map[string]any
		if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
			t.Fatalf("decoding request: %v", err)
		}
		messages := raw["messages"].([]any)
		if len(messages) != 3 {
			t.Fatalf("expected 3 messages, got %d", len(messages))
		}
		// The tool result message must carry structured content blocks.
		last := messages[2].(map[string]any)
		blocks, ok := last["content"].([]any)
		if !ok || len(blocks) != 1 {
			t.Fatalf("expected structured content, got %+v", last["content"])
		}
		block := blocks[0].(map[string]any)
		if block["type"] != "tool_result" || block["tool_use_id"] != "toolu_01" {
			t.Errorf("unexpected tool result block: %+v", block)
		}

		resp := apiResponse{
			Content:    []apiContentBlock{{Type: "text", Text: "Done."}},
			StopReason: "end_turn",
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	client := NewClient("test-key", "claude-sonnet-4-20250514", discardLogger(), WithBaseURL(srv.URL))
	resp, err := client.SendMessage(context.Background(), &llm.Request{
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: "list files"},
			{Role: llm.RoleAssistant, ContentBlocks: []llm.ContentBlock{
				llm.ToolUseBlock("toolu_01", "execute_shell_command", map[string]any{"command": "ls"}),
			}},
			{Role: llm.RoleUser, ContentBlocks: []llm.ContentBlock{
				llm.ToolResultBlock("toolu_01", "main.go\n", false),
			}},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StopReason != "end_turn" {
		t.Errorf("expected end_turn, got %q", resp.StopReason)
	}
}
