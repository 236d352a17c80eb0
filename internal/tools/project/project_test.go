package project

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestProject builds a small tree:
//
//	main.py, README.md, src/util.py, .git/config
func newTestProject(t *testing.T) Config {
	t.Helper()
	root := t.TempDir()
	must := func(err error) {
		if err != nil {
			t.Fatal(err)
		}
	}
	must(os.WriteFile(filepath.Join(root, "main.py"), []byte("import util\nprint('hi')\n"), 0o644))
	must(os.WriteFile(filepath.Join(root, "README.md"), []byte("# demo\n"), 0o644))
	must(os.MkdirAll(filepath.Join(root, "src"), 0o755))
	must(os.WriteFile(filepath.Join(root, "src", "util.py"), []byte("def util():\n    pass\n"), 0o644))
	must(os.MkdirAll(filepath.Join(root, ".git"), 0o755))
	must(os.WriteFile(filepath.Join(root, ".git", "config"), []byte("[core]\n"), 0o644))
	return Config{Root: root}
}

func TestResolve_RejectsEscapes(t *testing.T) {
	cfg := newTestProject(t)

	for _, raw := range []string{"../outside", "src/../../etc/passwd", "/etc/passwd"} {
		if _, err := cfg.resolve(raw); err == nil {
			t.Errorf("resolve(%q) succeeded, want error", raw)
		}
	}
	if _, err := cfg.resolve("src/util.py"); err != nil {
		t.Errorf("resolve inside root failed: %v", err)
	}
}

func TestResolve_NestedNewPath(t *testing.T) {
	cfg := newTestProject(t)

	// Several levels of not-yet-existing directories are fine for a
	// write target; only the nearest existing ancestor is resolved.
	resolved, err := cfg.resolve("a/b/c.txt")
	if err != nil {
		t.Fatalf("resolve nested new path: %v", err)
	}
	rootResolved, err := filepath.EvalSymlinks(cfg.Root)
	if err != nil {
		t.Fatal(err)
	}
	if want := filepath.Join(rootResolved, "a", "b", "c.txt"); resolved != want {
		t.Errorf("resolved = %q, want %q", resolved, want)
	}

	// Escaping through missing directories is still rejected.
	if _, err := cfg.resolve("a/b/../../../../outside.txt"); err == nil {
		t.Error("escape through missing directories succeeded, want error")
	}
}

func TestListDir(t *testing.T) {
	cfg := newTestProject(t)
	tool := NewListDirTool(cfg, discardLogger())

	result, err := tool.Execute(context.Background(), map[string]any{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Directories come first.
	lines := strings.Split(result.Output, "\n")
	if !strings.HasPrefix(lines[0], "[dir]") {
		t.Errorf("first line = %q, want a [dir] entry", lines[0])
	}
	if !strings.Contains(result.Output, "[file] main.py") {
		t.Errorf("output = %q", result.Output)
	}
}

func TestListDir_MissingPath(t *testing.T) {
	tool := NewListDirTool(newTestProject(t), discardLogger())
	if _, err := tool.Execute(context.Background(), map[string]any{"path": "nope"}); err == nil {
		t.Fatal("expected error for missing directory")
	}
}

func TestReadFile(t *testing.T) {
	tool := NewReadFileTool(newTestProject(t), discardLogger())

	result, err := tool.Execute(context.Background(), map[string]any{"path": "src/util.py"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(result.Output, "def util()") {
		t.Errorf("output = %q", result.Output)
	}
}

func TestWriteFile_CreatesParents(t *testing.T) {
	cfg := newTestProject(t)
	tool := NewWriteFileTool(cfg, discardLogger())

	result, err := tool.Execute(context.Background(), map[string]any{
		"path":    "pkg/new/mod.py",
		"content": "x = 1\n",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(result.Output, "OK: Written 6 characters") {
		t.Errorf("output = %q", result.Output)
	}
	data, err := os.ReadFile(filepath.Join(cfg.Root, "pkg", "new", "mod.py"))
	if err != nil || string(data) != "x = 1\n" {
		t.Errorf("written file = %q, err = %v", data, err)
	}
}

func TestProjectContext(t *testing.T) {
	tool := NewContextTool(newTestProject(t), discardLogger())

	result, err := tool.Execute(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(result.Output, "## Project structure") {
		t.Errorf("output missing structure header: %q", result.Output)
	}
	if !strings.Contains(result.Output, "src/") {
		t.Errorf("output missing src dir: %q", result.Output)
	}
	// Hidden directories stay out of the tree.
	if strings.Contains(result.Output, ".git") {
		t.Errorf("output leaks .git: %q", result.Output)
	}
	if !strings.Contains(result.Output, "README.md") {
		t.Errorf("output missing key config list: %q", result.Output)
	}
}

func TestSearchInFiles(t *testing.T) {
	tool := NewSearchTool(newTestProject(t), discardLogger())

	result, err := tool.Execute(context.Background(), map[string]any{"query": "def util"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(result.Output, "Found 1 match(es) for 'def util':") {
		t.Errorf("output = %q", result.Output)
	}
	if !strings.Contains(result.Output, filepath.Join("src", "util.py")+":1:") {
		t.Errorf("output = %q", result.Output)
	}
}

func TestSearchInFiles_CaseAndPattern(t *testing.T) {
	tool := NewSearchTool(newTestProject(t), discardLogger())

	// Case-insensitive by default.
	result, _ := tool.Execute(context.Background(), map[string]any{"query": "DEF UTIL"})
	if !strings.Contains(result.Output, "Found 1 match(es)") {
		t.Errorf("case-insensitive search failed: %q", result.Output)
	}

	// Case-sensitive rules it out.
	result, _ = tool.Execute(context.Background(), map[string]any{"query": "DEF UTIL", "case_sensitive": true})
	if !strings.HasPrefix(result.Output, "No matches found") {
		t.Errorf("case-sensitive search matched: %q", result.Output)
	}

	// Pattern filter excludes .py files.
	result, _ = tool.Execute(context.Background(), map[string]any{"query": "def util", "file_pattern": "*.md"})
	if !strings.HasPrefix(result.Output, "No matches found") {
		t.Errorf("pattern filter ignored: %q", result.Output)
	}
}

func TestSearchInFiles_MaxResults(t *testing.T) {
	cfg := newTestProject(t)
	var b strings.Builder
	for i := 0; i < 50; i++ {
		b.WriteString("needle\n")
	}
	if err := os.WriteFile(filepath.Join(cfg.Root, "many.txt"), []byte(b.String()), 0o644); err != nil {
		t.Fatal(err)
	}
	tool := NewSearchTool(cfg, discardLogger())

	result, _ := tool.Execute(context.Background(), map[string]any{"query": "needle", "max_results": float64(10)})
	if !strings.Contains(result.Output, "Found 10 match(es)") {
		t.Errorf("output = %q", result.Output)
	}
	if !strings.Contains(result.Output, "(results capped at 10)") {
		t.Errorf("output missing cap note: %q", result.Output)
	}
}

func TestFindAndReplace(t *testing.T) {
	cfg := newTestProject(t)
	tool := NewReplaceTool(cfg, discardLogger())

	result, err := tool.Execute(context.Background(), map[string]any{
		"file_path":    "main.py",
		"find_text":    "util",
		"replace_text": "helper",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Output != "OK: Replaced 1 occurrence(s) in 'main.py'." {
		t.Errorf("output = %q", result.Output)
	}
	data, _ := os.ReadFile(filepath.Join(cfg.Root, "main.py"))
	if !strings.Contains(string(data), "import helper") {
		t.Errorf("file = %q", data)
	}
}

func TestFindAndReplace_CountLimit(t *testing.T) {
	cfg := newTestProject(t)
	if err := os.WriteFile(filepath.Join(cfg.Root, "x.txt"), []byte("a a a a"), 0o644); err != nil {
		t.Fatal(err)
	}
	tool := NewReplaceTool(cfg, discardLogger())

	result, err := tool.Execute(context.Background(), map[string]any{
		"file_path":    "x.txt",
		"find_text":    "a",
		"replace_text": "b",
		"count":        float64(2),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Output != "OK: Replaced 2 occurrence(s) in 'x.txt'." {
		t.Errorf("output = %q", result.Output)
	}
	data, _ := os.ReadFile(filepath.Join(cfg.Root, "x.txt"))
	if string(data) != "b b a a" {
		t.Errorf("file = %q", data)
	}
}

func TestFindAndReplace_NoOccurrences(t *testing.T) {
	tool := NewReplaceTool(newTestProject(t), discardLogger())

	result, err := tool.Execute(context.Background(), map[string]any{
		"file_path":    "main.py",
		"find_text":    "zzz",
		"replace_text": "yyy",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(result.Output, "No occurrences") {
		t.Errorf("output = %q", result.Output)
	}
}
