package sqlite

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/crucible-ai/crucible/internal/llm"
	"github.com/crucible-ai/crucible/internal/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(Config{Path: filepath.Join(t.TempDir(), "crucible.db")},
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open(Config{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestSaveRun_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	history := []llm.Message{
		{Role: llm.RoleUser, Content: "write a fibonacci function"},
		{Role: llm.RoleAssistant, ContentBlocks: []llm.ContentBlock{
			llm.TextBlock("READY_FOR_EXECUTION"),
		}},
		{Role: llm.RoleAssistant, ContentBlocks: []llm.ContentBlock{
			llm.ToolUseBlock("call_1", "execute_code", map[string]any{"language": "python"}),
		}},
		{Role: llm.RoleUser, ContentBlocks: []llm.ContentBlock{
			llm.ToolResultBlock("call_1", "[exit 0]\n55", false),
		}},
	}

	if err := s.SaveRun(ctx, "sess-rt", history, true); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}

	run, err := s.GetRun(ctx, "sess-rt")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if !run.Success {
		t.Error("success flag lost")
	}
	if len(run.Messages) != 4 {
		t.Fatalf("len(messages) = %d, want 4", len(run.Messages))
	}
	if got := run.Messages[2].ContentBlocks[0]; got.Type != llm.BlockToolUse || got.Name != "execute_code" {
		t.Errorf("tool_use block = %+v", got)
	}
	if got := run.Messages[3].ContentBlocks[0]; got.ToolUseID != "call_1" || got.Text != "[exit 0]\n55" {
		t.Errorf("tool_result block = %+v", got)
	}
}

func TestGetRun_Missing(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.GetRun(context.Background(), "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("err = %v, want storage.ErrNotFound", err)
	}
}

func TestSaveRun_Upsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.SaveRun(ctx, "sess-up", []llm.Message{{Role: llm.RoleUser, Content: "v1"}}, false); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveRun(ctx, "sess-up", []llm.Message{{Role: llm.RoleUser, Content: "v2"}}, true); err != nil {
		t.Fatal(err)
	}

	run, err := s.GetRun(ctx, "sess-up")
	if err != nil {
		t.Fatal(err)
	}
	if !run.Success || run.Messages[0].Content != "v2" {
		t.Errorf("run = %+v", run)
	}

	runs, err := s.ListRuns(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 {
		t.Errorf("len(runs) = %d, want 1", len(runs))
	}
}

func TestListRuns_Limit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		if err := s.SaveRun(ctx, "sess-"+id, nil, false); err != nil {
			t.Fatal(err)
		}
	}

	runs, err := s.ListRuns(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 {
		t.Errorf("len(runs) = %d, want 2", len(runs))
	}
}

func TestPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "crucible.db")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()

	s, err := Open(Config{Path: path}, logger)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.SaveRun(ctx, "sess-p", []llm.Message{{Role: llm.RoleUser, Content: "hello"}}, true); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	s2, err := Open(Config{Path: path}, logger)
	if err != nil {
		t.Fatal(err)
	}
	defer s2.Close()

	run, err := s2.GetRun(ctx, "sess-p")
	if err != nil {
		t.Fatalf("GetRun after reopen: %v", err)
	}
	if run.Messages[0].Content != "hello" {
		t.Errorf("messages = %+v", run.Messages)
	}
}

func TestPing(t *testing.T) {
	s := newTestStore(t)
	if err := s.Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
}
