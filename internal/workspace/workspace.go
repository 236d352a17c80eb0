// Package workspace manages the Crucible runtime directory structure.
// All runtime state (database, run transcripts, sandbox staging dirs,
// project checkouts) lives under a single workspace root, which is also
// the boundary the file tools are allowed to touch.
//
// Default workspace: ~/.crucible/workspace (configurable via config or
// CRUCIBLE_WORKSPACE env var).
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Default workspace location relative to user home directory.
const defaultRelativePath = ".crucible/workspace"

// Workspace manages all Crucible runtime directories and derived paths.
type Workspace struct {
	Root string

	mu      sync.Mutex
	created map[string]bool // tracks which directories have been ensured
}

// New creates a Workspace rooted at the given path.
// It resolves ~ to the user's home directory and creates the root directory
// with appropriate permissions if it does not exist.
func New(root string) (*Workspace, error) {
	resolved, err := resolvePath(root)
	if err != nil {
		return nil, fmt.Errorf("resolving workspace root %q: %w", root, err)
	}

	w := &Workspace{
		Root:    resolved,
		created: make(map[string]bool),
	}

	if err := w.ensureDir(resolved, 0750); err != nil {
		return nil, fmt.Errorf("creating workspace root: %w", err)
	}

	return w, nil
}

// Default creates a Workspace at ~/.crucible/workspace.
func Default() (*Workspace, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("determining home directory: %w", err)
	}
	return New(filepath.Join(home, defaultRelativePath))
}

// --- Top-level directory accessors ---

// ProjectDir returns <root>/project/. Default working tree the generator
// tools operate on when no project path is given.
func (w *Workspace) ProjectDir() string {
	return w.dir("project")
}

// RunsDir returns <root>/runs/. Stores per-session run transcripts.
func (w *Workspace) RunsDir() string {
	return w.dir("runs")
}

// StagingDir returns <root>/staging/. Parent for per-execution sandbox
// staging directories; each execution gets its own subdirectory which is
// removed after the run.
func (w *Workspace) StagingDir() string {
	return w.dir("staging")
}

// DataDir returns <root>/data/. Database files and other persistent state.
func (w *Workspace) DataDir() string {
	return w.dir("data")
}

// LogsDir returns <root>/logs/. Application log files.
func (w *Workspace) LogsDir() string {
	return w.dir("logs")
}

// --- Derived paths ---

// DatabasePath returns <root>/data/crucible.db, the default SQLite location.
func (w *Workspace) DatabasePath() string {
	return filepath.Join(w.DataDir(), "crucible.db")
}

// RunFile returns <root>/runs/<sessionID>.jsonl.
func (w *Workspace) RunFile(sessionID string) string {
	return filepath.Join(w.RunsDir(), sanitizeName(sessionID)+".jsonl")
}

// --- Cleanup ---

// CleanStaging removes all contents of the staging directory. Leftover
// staging dirs only appear after a hard crash; this runs at startup.
func (w *Workspace) CleanStaging() error {
	dir := filepath.Join(w.Root, "staging")
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("reading staging dir: %w", err)
	}
	for _, entry := range entries {
		if err := os.RemoveAll(filepath.Join(dir, entry.Name())); err != nil {
			return fmt.Errorf("removing staging entry %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// EnsureAll creates all standard workspace directories.
// Called during first startup.
func (w *Workspace) EnsureAll() error {
	dirs := []string{
		w.ProjectDir(),
		w.RunsDir(),
		w.StagingDir(),
		w.DataDir(),
		w.LogsDir(),
	}
	for _, d := range dirs {
		if err := w.ensureDir(d, 0750); err != nil {
			return err
		}
	}
	return nil
}

// Contains reports whether path, after symlink resolution, falls inside
// the workspace root. Used by tools that must not escape the workspace.
func (w *Workspace) Contains(path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		// Path may not exist yet (write case): check the parent instead.
		parent, perr := filepath.EvalSymlinks(filepath.Dir(abs))
		if perr != nil {
			return false
		}
		resolved = filepath.Join(parent, filepath.Base(abs))
	}
	return resolved == w.Root || strings.HasPrefix(resolved, w.Root+string(filepath.Separator))
}

// --- Internal helpers ---

// dir returns an absolute path under the workspace root and ensures the directory exists.
func (w *Workspace) dir(name string) string {
	p := filepath.Join(w.Root, name)
	_ = w.ensureDir(p, 0750)
	return p
}

// ensureDir creates a directory if it doesn't already exist.
// Uses a cache to avoid redundant stat/mkdir calls.
func (w *Workspace) ensureDir(path string, perm os.FileMode) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.created[path] {
		return nil
	}

	if err := os.MkdirAll(path, perm); err != nil {
		return fmt.Errorf("creating directory %s: %w", path, err)
	}
	w.created[path] = true
	return nil
}

// resolvePath expands ~ to the user home directory and returns an absolute path.
func resolvePath(path string) (string, error) {
	if strings.HasPrefix(path, "~/") || path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, path[1:])
	}
	return filepath.Abs(path)
}

// sanitizeName replaces path separator characters to prevent directory traversal.
func sanitizeName(name string) string {
	name = strings.ReplaceAll(name, "/", "_")
	name = strings.ReplaceAll(name, "\\", "_")
	name = strings.ReplaceAll(name, "..", "_")
	if name == "" {
		name = "_"
	}
	return name
}
