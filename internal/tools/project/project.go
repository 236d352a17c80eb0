// Package project implements the tools the planning role uses to
// inspect and edit the project tree: directory listing, file
// read/write, project context, text search, and find-and-replace.
//
// Every path is resolved against the configured project root and
// checked after symlink resolution, so neither ../ traversal nor
// symlinks can reach outside the root.
package project

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Config scopes the project tools.
type Config struct {
	// Root is the project directory all paths are relative to.
	Root string

	// MaxFileSizeBytes caps read and write sizes. 0 = 10 MB.
	MaxFileSizeBytes int64
}

const defaultMaxFileSize = 10 << 20

func (c Config) maxFileSize() int64 {
	if c.MaxFileSizeBytes > 0 {
		return c.MaxFileSizeBytes
	}
	return defaultMaxFileSize
}

// resolve joins a user-supplied relative path with the root and
// verifies the result stays inside it.
func (c Config) resolve(raw string) (string, error) {
	if raw == "" || raw == "." {
		return filepath.Clean(c.Root), nil
	}
	if filepath.IsAbs(raw) {
		return "", fmt.Errorf("path %q must be relative to the project root", raw)
	}

	joined := filepath.Join(c.Root, raw)

	resolved, err := filepath.EvalSymlinks(joined)
	if err != nil {
		// Write targets may not exist yet, possibly several levels
		// deep. Resolve the nearest existing ancestor and re-join the
		// missing suffix before the containment check.
		ancestor := filepath.Dir(joined)
		suffix := filepath.Base(joined)
		for {
			r, ancErr := filepath.EvalSymlinks(ancestor)
			if ancErr == nil {
				resolved = filepath.Join(r, suffix)
				break
			}
			next := filepath.Dir(ancestor)
			if next == ancestor {
				return "", fmt.Errorf("path %q does not exist", raw)
			}
			suffix = filepath.Join(filepath.Base(ancestor), suffix)
			ancestor = next
		}
	}

	rootResolved, err := filepath.EvalSymlinks(filepath.Clean(c.Root))
	if err != nil {
		return "", fmt.Errorf("project root: %w", err)
	}
	if resolved != rootResolved && !strings.HasPrefix(resolved, rootResolved+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes the project root", raw)
	}
	return resolved, nil
}

// ignoredNames are skipped when building the project tree.
var ignoredNames = map[string]bool{
	".git":         true,
	"__pycache__":  true,
	"node_modules": true,
	".venv":        true,
	"venv":         true,
	".env":         true,
	"vendor":       true,
	"dist":         true,
	"build":        true,
}
