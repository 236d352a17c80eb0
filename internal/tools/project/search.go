package project

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/crucible-ai/crucible/internal/tools"
)

const defaultMaxResults = 30

// skippedExtensions are never searched (binaries, media, archives).
var skippedExtensions = map[string]bool{
	".pyc": true, ".so": true, ".o": true, ".a": true, ".dll": true, ".exe": true,
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".ico": true, ".svg": true,
	".woff": true, ".woff2": true, ".ttf": true,
	".zip": true, ".tar": true, ".gz": true, ".bz2": true,
	".lock": true, ".map": true,
}

// SearchTool is a grep-like substring search over project files.
type SearchTool struct {
	config Config
	logger *slog.Logger
}

// NewSearchTool creates the search_in_files tool.
func NewSearchTool(cfg Config, logger *slog.Logger) *SearchTool {
	return &SearchTool{config: cfg, logger: logger}
}

func (t *SearchTool) Name() string { return "search_in_files" }
func (t *SearchTool) Description() string {
	return "Search for a text pattern across files in the project. Plain substring match, not regex. " +
		"Use it to find function definitions, imports, TODO comments, or error messages."
}
func (t *SearchTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query":          map[string]any{"type": "string", "description": "Text to search for"},
			"path":           map[string]any{"type": "string", "description": "Directory to search, relative to the project root. Default: root"},
			"file_pattern":   map[string]any{"type": "string", "description": "Filter like '*.py' or '*.go'. Default: all files"},
			"case_sensitive": map[string]any{"type": "boolean", "description": "Match case. Default: false"},
			"max_results":    map[string]any{"type": "integer", "description": "Maximum matching lines. Default: 30"},
		},
		"required": []string{"query"},
	}
}

func (t *SearchTool) Validate(params map[string]any) error {
	if _, err := tools.RequireString(params, "query"); err != nil {
		return err
	}
	_, err := t.config.resolve(tools.OptionalString(params, "path", "."))
	return err
}

func (t *SearchTool) Execute(ctx context.Context, params map[string]any) (*tools.Result, error) {
	query, _ := tools.RequireString(params, "query")
	path := tools.OptionalString(params, "path", ".")
	caseSensitive := tools.OptionalBool(params, "case_sensitive", false)
	maxResults := tools.OptionalInt(params, "max_results", defaultMaxResults)
	if maxResults <= 0 {
		maxResults = defaultMaxResults
	}

	var ext string
	if pattern := tools.OptionalString(params, "file_pattern", ""); pattern != "" {
		ext = strings.TrimPrefix(pattern, "*")
	}

	target, err := t.config.resolve(path)
	if err != nil {
		return nil, err
	}
	root, _ := t.config.resolve(".")

	needle := query
	if !caseSensitive {
		needle = strings.ToLower(needle)
	}

	var results []string
	capped := false
	filepath.Walk(target, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		name := info.Name()
		if info.IsDir() {
			if p != target && (ignoredNames[name] || strings.HasPrefix(name, ".")) {
				return filepath.SkipDir
			}
			return nil
		}
		if skippedExtensions[strings.ToLower(filepath.Ext(name))] {
			return nil
		}
		if ext != "" && !strings.EqualFold(filepath.Ext(name), ext) {
			return nil
		}

		f, err := os.Open(p)
		if err != nil {
			return nil
		}
		defer f.Close()

		rel, _ := filepath.Rel(root, p)
		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for lineNum := 1; scanner.Scan(); lineNum++ {
			line := scanner.Text()
			haystack := line
			if !caseSensitive {
				haystack = strings.ToLower(haystack)
			}
			if strings.Contains(haystack, needle) {
				results = append(results, fmt.Sprintf("%s:%d: %s", rel, lineNum, strings.TrimRight(line, " \t")))
				if len(results) >= maxResults {
					capped = true
					return filepath.SkipAll
				}
			}
		}
		return nil
	})

	if len(results) == 0 {
		return &tools.Result{
			Output:  fmt.Sprintf("No matches found for '%s'.", query),
			Success: true,
		}, nil
	}

	output := fmt.Sprintf("Found %d match(es) for '%s':\n%s", len(results), query, strings.Join(results, "\n"))
	if capped {
		output += fmt.Sprintf("\n... (results capped at %d)", maxResults)
	}

	return &tools.Result{
		Output:   tools.TruncateOutput(output, tools.MaxOutputBytes),
		Success:  true,
		Metadata: map[string]any{"matches": len(results)},
	}, nil
}

// ReplaceTool performs exact-text find and replace in one file.
type ReplaceTool struct {
	config Config
	logger *slog.Logger
}

// NewReplaceTool creates the find_and_replace tool.
func NewReplaceTool(cfg Config, logger *slog.Logger) *ReplaceTool {
	return &ReplaceTool{config: cfg, logger: logger}
}

func (t *ReplaceTool) Name() string { return "find_and_replace" }
func (t *ReplaceTool) Description() string {
	return "Find and replace exact text in a file. Useful for targeted code edits."
}
func (t *ReplaceTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"file_path":    map[string]any{"type": "string", "description": "Relative path of the file"},
			"find_text":    map[string]any{"type": "string", "description": "Exact text to find"},
			"replace_text": map[string]any{"type": "string", "description": "Replacement text"},
			"count":        map[string]any{"type": "integer", "description": "Maximum replacements. 0 replaces all occurrences"},
		},
		"required": []string{"file_path", "find_text", "replace_text"},
	}
}

func (t *ReplaceTool) Validate(params map[string]any) error {
	path, err := tools.RequireString(params, "file_path")
	if err != nil {
		return err
	}
	if _, err := tools.RequireString(params, "find_text"); err != nil {
		return err
	}
	if _, ok := params["replace_text"].(string); !ok {
		return fmt.Errorf("parameter replace_text must be a string")
	}
	_, err = t.config.resolve(path)
	return err
}

func (t *ReplaceTool) Execute(ctx context.Context, params map[string]any) (*tools.Result, error) {
	path, _ := tools.RequireString(params, "file_path")
	findText, _ := tools.RequireString(params, "find_text")
	replaceText, _ := params["replace_text"].(string)
	count := tools.OptionalInt(params, "count", 0)

	resolved, err := t.config.resolve(path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, fmt.Errorf("file %q does not exist", path)
	}
	content := string(data)

	occurrences := strings.Count(content, findText)
	if occurrences == 0 {
		return &tools.Result{
			Output:  fmt.Sprintf("No occurrences of the search text found in '%s'.", path),
			Success: true,
		}, nil
	}

	replacements := occurrences
	if count > 0 && count < occurrences {
		replacements = count
	}
	limit := -1
	if count > 0 {
		limit = count
	}
	newContent := strings.Replace(content, findText, replaceText, limit)

	if err := os.WriteFile(resolved, []byte(newContent), 0o640); err != nil {
		return nil, fmt.Errorf("writing %q: %w", path, err)
	}

	t.logger.InfoContext(ctx, "find_and_replace",
		slog.String("path", resolved),
		slog.Int("replacements", replacements),
	)

	return &tools.Result{
		Output:   fmt.Sprintf("OK: Replaced %d occurrence(s) in '%s'.", replacements, path),
		Success:  true,
		Metadata: map[string]any{"replacements": replacements},
	}, nil
}
