package project

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/crucible-ai/crucible/internal/tools"
)

const (
	treeMaxDepth       = 4
	configPreviewBytes = 2000
)

// keyConfigFiles are surfaced by get_project_context when present.
var keyConfigFiles = []string{
	"pyproject.toml",
	"package.json",
	"requirements.txt",
	"README.md",
	"Cargo.toml",
	"go.mod",
	"Makefile",
}

// previewedFiles get their contents inlined (truncated) in the context.
var previewedFiles = []string{"pyproject.toml", "package.json", "requirements.txt", "go.mod"}

// ContextTool builds a structural overview of the project for the
// planning role: directory tree plus key config files.
type ContextTool struct {
	config Config
	logger *slog.Logger
}

// NewContextTool creates the get_project_context tool.
func NewContextTool(cfg Config, logger *slog.Logger) *ContextTool {
	return &ContextTool{config: cfg, logger: logger}
}

func (t *ContextTool) Name() string { return "get_project_context" }
func (t *ContextTool) Description() string {
	return "Build an overview of the current project: directory structure and key config files. " +
		"Use this before making changes to an unfamiliar project."
}
func (t *ContextTool) InputSchema() map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": map[string]any{},
	}
}

func (t *ContextTool) Validate(map[string]any) error { return nil }

func (t *ContextTool) Execute(ctx context.Context, _ map[string]any) (*tools.Result, error) {
	root := filepath.Clean(t.config.Root)

	var parts []string
	parts = append(parts, "## Project structure", "```", filepath.Base(root)+"/")
	parts = append(parts, walkTree(root, "", treeMaxDepth)...)
	parts = append(parts, "```")

	var found []string
	for _, name := range keyConfigFiles {
		if info, err := os.Stat(filepath.Join(root, name)); err == nil && !info.IsDir() {
			found = append(found, name)
		}
	}
	if len(found) > 0 {
		parts = append(parts, "", "## Key config files", strings.Join(found, ", "))
	}

	for _, name := range previewedFiles {
		data, err := os.ReadFile(filepath.Join(root, name))
		if err != nil {
			continue
		}
		content := string(data)
		if len(content) > configPreviewBytes {
			content = content[:configPreviewBytes] + "\n... (truncated)"
		}
		parts = append(parts, "", "## "+name, "```", content, "```")
	}

	return &tools.Result{
		Output:  tools.TruncateOutput(strings.Join(parts, "\n"), tools.MaxOutputBytes),
		Success: true,
	}, nil
}

// walkTree renders the directory tree with box-drawing connectors,
// skipping ignored and hidden entries.
func walkTree(dir, prefix string, depth int) []string {
	if depth <= 0 {
		return nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return []string{prefix + "(permission denied)"}
	}

	var items []os.DirEntry
	for _, e := range entries {
		if ignoredNames[e.Name()] || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		items = append(items, e)
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].IsDir() != items[j].IsDir() {
			return items[i].IsDir()
		}
		return strings.ToLower(items[i].Name()) < strings.ToLower(items[j].Name())
	})

	var lines []string
	for i, e := range items {
		connector, ext := "├── ", "│   "
		if i == len(items)-1 {
			connector, ext = "└── ", "    "
		}
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		lines = append(lines, fmt.Sprintf("%s%s%s", prefix, connector, name))
		if e.IsDir() {
			lines = append(lines, walkTree(filepath.Join(dir, e.Name()), prefix+ext, depth-1)...)
		}
	}
	return lines
}
