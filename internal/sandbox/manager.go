package sandbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/crucible-ai/crucible/internal/runtime"
)

const (
	// DefaultTimeout bounds code executions.
	DefaultTimeout = 30 * time.Second

	// DefaultShellTimeout bounds generic shell commands, which may
	// legitimately run longer than a code snippet.
	DefaultShellTimeout = 120 * time.Second

	DefaultMemoryMB = 512
	DefaultCPUCores = 1.0

	defaultPIDsLimit = 64
)

// Recorder receives per-execution observability events. It never
// influences control flow.
type Recorder interface {
	RecordSandboxExecution(language, status string, duration time.Duration)
}

// Config carries the manager defaults, normally sourced from the
// sandbox section of the configuration file.
type Config struct {
	StagingRoot    string        // Parent directory for per-call staging dirs.
	DefaultTimeout time.Duration // Per-execution wall-clock bound.
	MemoryMB       int
	CPUCores       float64
	PIDsLimit      int
}

// Manager runs untrusted code in ephemeral containers.
//
// Guarantees:
//   - Execute never returns a Go error; all failure lands in Result.
//   - No container created during a call survives the call.
//   - Network is disabled on every container, regardless of caller input.
//   - WallClock is populated on every path.
type Manager struct {
	client   runtime.Client
	config   Config
	logger   *slog.Logger
	recorder Recorder
}

// Option configures the Manager.
type Option func(*Manager)

// WithRecorder attaches an observability collaborator.
func WithRecorder(r Recorder) Option {
	return func(m *Manager) { m.recorder = r }
}

// NewManager creates a sandbox execution manager.
func NewManager(client runtime.Client, cfg Config, logger *slog.Logger, opts ...Option) *Manager {
	if cfg.StagingRoot == "" {
		cfg.StagingRoot = os.TempDir()
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = DefaultTimeout
	}
	if cfg.MemoryMB <= 0 {
		cfg.MemoryMB = DefaultMemoryMB
	}
	if cfg.CPUCores <= 0 {
		cfg.CPUCores = DefaultCPUCores
	}
	if cfg.PIDsLimit <= 0 {
		cfg.PIDsLimit = defaultPIDsLimit
	}
	m := &Manager{
		client: client,
		config: cfg,
		logger: logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Available reports whether the container engine is reachable.
func (m *Manager) Available(ctx context.Context) bool {
	return m.client.Available(ctx)
}

// EngineInfo returns engine details for status reporting.
func (m *Manager) EngineInfo(ctx context.Context) (*runtime.EngineInfo, error) {
	return m.client.Info(ctx)
}

// Execute runs the request and returns a Result on every path. It
// blocks at most limits.Timeout plus a small constant for container
// setup and teardown.
func (m *Manager) Execute(ctx context.Context, req *Request, limits Limits) *Result {
	limits = m.resolveLimits(limits)
	start := time.Now()

	result := m.execute(ctx, req, limits, start)

	status := "success"
	switch {
	case result.ErrorKind == ErrorTimeout:
		status = "timeout"
	case result.ErrorKind == ErrorRuntimeUnavailable:
		status = "unavailable"
	case !result.Success:
		status = "failure"
	}
	if m.recorder != nil {
		m.recorder.RecordSandboxExecution(string(req.Language), status, result.WallClock)
	}

	m.logger.InfoContext(ctx, "sandbox execution completed",
		slog.String("language", string(req.Language)),
		slog.String("status", status),
		slog.Int("exit_code", result.ExitCode),
		slog.Duration("wall_clock", result.WallClock),
	)
	return result
}

func (m *Manager) execute(ctx context.Context, req *Request, limits Limits, start time.Time) *Result {
	// Availability gate. No container, no staging dir.
	if !m.client.Available(ctx) {
		return m.failure(start, ErrorRuntimeUnavailable,
			"container engine not reachable; is the docker daemon running?")
	}

	plan, err := resolvePlan(req)
	if err != nil {
		return m.failure(start, ErrorRuntimeUnavailable, err.Error())
	}

	stagingDir, err := m.stage(req, plan)
	if err != nil {
		return m.failure(start, ErrorRuntimeUnavailable, fmt.Sprintf("staging code: %v", err))
	}
	defer func() {
		if rmErr := os.RemoveAll(stagingDir); rmErr != nil {
			m.logger.Warn("failed to remove staging dir",
				slog.String("dir", stagingDir),
				slog.String("error", rmErr.Error()),
			)
		}
	}()

	// Lazy image fetch. A fetch failure means the runtime cannot
	// serve this language at all.
	if !m.client.ImageExists(ctx, plan.image) {
		if err := m.client.PullImage(ctx, plan.image); err != nil {
			return m.failure(start, ErrorRuntimeUnavailable, fmt.Sprintf("fetching image: %v", err))
		}
	}

	// Network stays disabled no matter what the caller asked for.
	handle, err := m.client.Create(ctx, &runtime.ContainerSpec{
		Image:           plan.image,
		Command:         plan.command,
		Mounts:          []runtime.Mount{{Source: stagingDir, Target: mountPoint, ReadOnly: plan.mountReadOnly}},
		WorkDir:         mountPoint,
		MemoryMB:        limits.MemoryMB,
		CPUCores:        limits.CPUCores,
		PIDsLimit:       m.config.PIDsLimit,
		NetworkDisabled: true,
	})
	if err != nil {
		return m.failure(start, ErrorRuntimeUnavailable, fmt.Sprintf("creating container: %v", err))
	}
	// The handle never outlives this call, whatever happens below.
	defer handle.Destroy()

	if err := handle.Start(ctx); err != nil {
		return m.failure(start, ErrorRuntimeUnavailable, fmt.Sprintf("starting container: %v", err))
	}

	exitCode, err := handle.Wait(ctx, limits.Timeout)
	if err != nil {
		if errors.Is(err, runtime.ErrWaitTimeout) {
			// Partial output is still worth surfacing.
			stdout, stderr, _ := handle.Logs(ctx)
			m.logger.Warn("sandbox execution timed out",
				slog.String("container", handle.ID()),
				slog.Duration("timeout", limits.Timeout),
			)
			return &Result{
				Success:   false,
				Stdout:    stdout,
				Stderr:    appendLine(stderr, fmt.Sprintf("execution timed out after %s", limits.Timeout)),
				ExitCode:  -1,
				WallClock: time.Since(start),
				ErrorKind: ErrorTimeout,
			}
		}
		return m.failure(start, ErrorRuntimeUnavailable, fmt.Sprintf("waiting for container: %v", err))
	}

	stdout, stderr, err := handle.Logs(ctx)
	if err != nil {
		return m.failure(start, ErrorRuntimeUnavailable, fmt.Sprintf("collecting logs: %v", err))
	}

	kind := ErrorNone
	if exitCode != 0 {
		kind = ErrorNonZeroExit
	}
	return &Result{
		Success:   exitCode == 0,
		Stdout:    stdout,
		Stderr:    stderr,
		ExitCode:  exitCode,
		WallClock: time.Since(start),
		ErrorKind: kind,
	}
}

// stage materializes the code and auxiliary files into a fresh
// directory under the staging root, scoped to this call.
func (m *Manager) stage(req *Request, plan *launchPlan) (string, error) {
	if err := os.MkdirAll(m.config.StagingRoot, 0o755); err != nil {
		return "", err
	}
	dir, err := os.MkdirTemp(m.config.StagingRoot, "exec-*")
	if err != nil {
		return "", err
	}

	if plan.entryFile != "" {
		if err := os.WriteFile(filepath.Join(dir, plan.entryFile), []byte(req.Code), 0o644); err != nil {
			os.RemoveAll(dir)
			return "", err
		}
	}
	for name, content := range req.AuxiliaryFiles {
		rel := filepath.Clean(name)
		if filepath.IsAbs(rel) || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			os.RemoveAll(dir)
			return "", fmt.Errorf("auxiliary file %q escapes the staging directory", name)
		}
		path := filepath.Join(dir, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			os.RemoveAll(dir)
			return "", err
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			os.RemoveAll(dir)
			return "", err
		}
	}
	return dir, nil
}

func (m *Manager) resolveLimits(limits Limits) Limits {
	if limits.Timeout <= 0 {
		limits.Timeout = m.config.DefaultTimeout
	}
	if limits.MemoryMB <= 0 {
		limits.MemoryMB = m.config.MemoryMB
	}
	if limits.CPUCores <= 0 {
		limits.CPUCores = m.config.CPUCores
	}
	return limits
}

func (m *Manager) failure(start time.Time, kind ErrorKind, message string) *Result {
	return &Result{
		Success:   false,
		Stderr:    message,
		ExitCode:  -1,
		WallClock: time.Since(start),
		ErrorKind: kind,
	}
}

func appendLine(s, line string) string {
	if s == "" {
		return line
	}
	if s[len(s)-1] != '\n' {
		s += "\n"
	}
	return s + line
}
