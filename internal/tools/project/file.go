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

// ListDirTool lists a directory inside the project.
type ListDirTool struct {
	config Config
	logger *slog.Logger
}

// NewListDirTool creates the list_dir tool.
func NewListDirTool(cfg Config, logger *slog.Logger) *ListDirTool {
	return &ListDirTool{config: cfg, logger: logger}
}

func (t *ListDirTool) Name() string { return "list_dir" }
func (t *ListDirTool) Description() string {
	return "List directory contents. Use '.' for the project root, or a relative path."
}
func (t *ListDirTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{"type": "string", "description": "Relative path of the directory. Defaults to the project root"},
		},
	}
}

func (t *ListDirTool) Validate(params map[string]any) error {
	_, err := t.config.resolve(tools.OptionalString(params, "path", "."))
	return err
}

func (t *ListDirTool) Execute(ctx context.Context, params map[string]any) (*tools.Result, error) {
	path := tools.OptionalString(params, "path", ".")
	resolved, err := t.config.resolve(path)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(resolved)
	if err != nil {
		return nil, fmt.Errorf("listing %q: %w", path, err)
	}

	// Directories first, then files, each alphabetically.
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].IsDir() != entries[j].IsDir() {
			return entries[i].IsDir()
		}
		return strings.ToLower(entries[i].Name()) < strings.ToLower(entries[j].Name())
	})

	var b strings.Builder
	for _, e := range entries {
		if e.IsDir() {
			fmt.Fprintf(&b, "[dir]  %s/\n", e.Name())
		} else {
			fmt.Fprintf(&b, "[file] %s\n", e.Name())
		}
	}
	output := strings.TrimRight(b.String(), "\n")
	if output == "" {
		output = "(empty)"
	}

	return &tools.Result{
		Output:   output,
		Success:  true,
		Metadata: map[string]any{"path": resolved, "count": len(entries)},
	}, nil
}

// ReadFileTool reads a file inside the project.
type ReadFileTool struct {
	config Config
	logger *slog.Logger
}

// NewReadFileTool creates the read_file tool.
func NewReadFileTool(cfg Config, logger *slog.Logger) *ReadFileTool {
	return &ReadFileTool{config: cfg, logger: logger}
}

func (t *ReadFileTool) Name() string { return "read_file" }
func (t *ReadFileTool) Description() string {
	return "Read a file and return its contents. Use a path relative to the project root."
}
func (t *ReadFileTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{"type": "string", "description": "Relative path of the file"},
		},
		"required": []string{"path"},
	}
}

func (t *ReadFileTool) Validate(params map[string]any) error {
	path, err := tools.RequireString(params, "path")
	if err != nil {
		return err
	}
	_, err = t.config.resolve(path)
	return err
}

func (t *ReadFileTool) Execute(ctx context.Context, params map[string]any) (*tools.Result, error) {
	path, _ := tools.RequireString(params, "path")
	resolved, err := t.config.resolve(path)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(resolved)
	if err != nil {
		return nil, fmt.Errorf("file %q does not exist", path)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%q is a directory, use list_dir", path)
	}
	if info.Size() > t.config.maxFileSize() {
		return nil, fmt.Errorf("file size %d exceeds limit %d bytes", info.Size(), t.config.maxFileSize())
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, fmt.Errorf("reading %q: %w", path, err)
	}

	t.logger.DebugContext(ctx, "read_file", slog.String("path", resolved), slog.Int("bytes", len(data)))

	return &tools.Result{
		Output:   tools.TruncateOutput(string(data), tools.MaxOutputBytes),
		Success:  true,
		Metadata: map[string]any{"path": resolved, "size_bytes": info.Size()},
	}, nil
}

// WriteFileTool overwrites a file inside the project, creating parent
// directories as needed.
type WriteFileTool struct {
	config Config
	logger *slog.Logger
}

// NewWriteFileTool creates the write_file tool.
func NewWriteFileTool(cfg Config, logger *slog.Logger) *WriteFileTool {
	return &WriteFileTool{config: cfg, logger: logger}
}

func (t *WriteFileTool) Name() string { return "write_file" }
func (t *WriteFileTool) Description() string {
	return "Overwrite a file with new content. Use a path relative to the project root. " +
		"Parent directories are created if they don't exist."
}
func (t *WriteFileTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path":    map[string]any{"type": "string", "description": "Relative path of the file"},
			"content": map[string]any{"type": "string", "description": "Content to write"},
		},
		"required": []string{"path", "content"},
	}
}

func (t *WriteFileTool) Validate(params map[string]any) error {
	path, err := tools.RequireString(params, "path")
	if err != nil {
		return err
	}
	content, ok := params["content"].(string)
	if !ok {
		return fmt.Errorf("parameter content must be a string")
	}
	if int64(len(content)) > t.config.maxFileSize() {
		return fmt.Errorf("content size %d exceeds limit %d bytes", len(content), t.config.maxFileSize())
	}
	_, err = t.config.resolve(path)
	return err
}

func (t *WriteFileTool) Execute(ctx context.Context, params map[string]any) (*tools.Result, error) {
	path, _ := tools.RequireString(params, "path")
	content, _ := params["content"].(string)

	resolved, err := t.config.resolve(path)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(resolved), 0o750); err != nil {
		return nil, fmt.Errorf("creating parent directory: %w", err)
	}
	if err := os.WriteFile(resolved, []byte(content), 0o640); err != nil {
		return nil, fmt.Errorf("writing %q: %w", path, err)
	}

	t.logger.InfoContext(ctx, "write_file", slog.String("path", resolved), slog.Int("bytes", len(content)))

	return &tools.Result{
		Output:   fmt.Sprintf("OK: Written %d characters to '%s'.", len(content), path),
		Success:  true,
		Metadata: map[string]any{"path": resolved, "size_bytes": len(content)},
	}, nil
}
