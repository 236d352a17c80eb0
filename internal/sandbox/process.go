package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"syscall"
	"time"
)

const (
	// maxOutputBytes caps stdout/stderr captured from host commands.
	maxOutputBytes = 1 << 20

	defaultCPUSeconds = 60
)

// CommandRequest describes one host command run by the process sandbox.
// Container isolation is for untrusted generated code; trusted project
// commands (git, directory listings) run here instead, still with a
// process group, resource limits, and a sanitized environment.
type CommandRequest struct {
	Command    []string
	WorkingDir string
	Env        map[string]string
	Timeout    time.Duration
	Limits     CommandLimits
}

// CommandLimits constrains a sandboxed host process.
type CommandLimits struct {
	MaxCPUSeconds int // ulimit -t
	MaxMemoryMB   int // ulimit -v, in MB
}

// CommandResult captures the outcome of a host command.
type CommandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// ProcessSandbox executes host commands as isolated OS processes.
//
// Guarantees:
//   - Each execution gets its own temp directory, removed afterwards
//   - The child runs in its own process group; the whole group is
//     killed on timeout or cancel
//   - No environment inheritance from the parent process
//   - Resource limits enforced via ulimit
//   - stdout/stderr capped at maxOutputBytes
type ProcessSandbox struct {
	defaultTimeout time.Duration
	defaultLimits  CommandLimits
	logger         *slog.Logger
}

// NewProcessSandbox creates a process-based sandbox for host commands.
func NewProcessSandbox(defaultTimeout time.Duration, logger *slog.Logger) *ProcessSandbox {
	if defaultTimeout <= 0 {
		defaultTimeout = DefaultShellTimeout
	}
	return &ProcessSandbox{
		defaultTimeout: defaultTimeout,
		defaultLimits: CommandLimits{
			MaxCPUSeconds: defaultCPUSeconds,
			MaxMemoryMB:   DefaultMemoryMB,
		},
		logger: logger,
	}
}

// Run executes a command in an isolated process environment.
func (s *ProcessSandbox) Run(ctx context.Context, req CommandRequest) (*CommandResult, error) {
	if len(req.Command) == 0 {
		return nil, fmt.Errorf("empty command")
	}

	timeout := req.Timeout
	if timeout == 0 {
		timeout = s.defaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	tmpDir, err := os.MkdirTemp("", "crucible-cmd-*")
	if err != nil {
		return nil, fmt.Errorf("creating sandbox temp dir: %w", err)
	}
	defer func() {
		if rmErr := os.RemoveAll(tmpDir); rmErr != nil {
			s.logger.Warn("failed to remove sandbox temp dir",
				slog.String("dir", tmpDir),
				slog.String("error", rmErr.Error()),
			)
		}
	}()

	limits := s.resolveLimits(req.Limits)

	// The command is wrapped as
	//   sh -c 'ulimit -v KB; ulimit -t SEC; exec "$@"' _ cmd args...
	// so the caller's arguments are passed positionally and never
	// interpolated into the shell string.
	shellScript := fmt.Sprintf(
		"ulimit -v %d 2>/dev/null; ulimit -t %d 2>/dev/null; exec \"$@\"",
		limits.MaxMemoryMB*1024, limits.MaxCPUSeconds,
	)
	args := make([]string, 0, 3+len(req.Command))
	args = append(args, "-c", shellScript, "_")
	args = append(args, req.Command...)

	cmd := exec.CommandContext(ctx, "/bin/sh", args...)
	if req.WorkingDir != "" {
		cmd.Dir = req.WorkingDir
	} else {
		cmd.Dir = tmpDir
	}

	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		// Negative PID kills the entire process group.
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}

	cmd.Env = s.buildEnv(tmpDir, req.Env)

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &cappedWriter{w: &stdoutBuf, remaining: maxOutputBytes}
	cmd.Stderr = &cappedWriter{w: &stderrBuf, remaining: maxOutputBytes}

	s.logger.DebugContext(ctx, "host command executing",
		slog.Any("command", req.Command),
		slog.String("dir", cmd.Dir),
		slog.Duration("timeout", timeout),
	)

	start := time.Now()
	runErr := cmd.Run()
	duration := time.Since(start)

	exitCode := 0
	if runErr != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("execution timed out after %s", timeout)
		}
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			return nil, fmt.Errorf("execution failed: %w", runErr)
		}
	}

	return &CommandResult{
		Stdout:   stdoutBuf.String(),
		Stderr:   stderrBuf.String(),
		ExitCode: exitCode,
		Duration: duration,
	}, nil
}

func (s *ProcessSandbox) resolveLimits(req CommandLimits) CommandLimits {
	limits := s.defaultLimits
	if req.MaxCPUSeconds > 0 {
		limits.MaxCPUSeconds = req.MaxCPUSeconds
	}
	if req.MaxMemoryMB > 0 {
		limits.MaxMemoryMB = req.MaxMemoryMB
	}
	return limits
}

// buildEnv constructs a minimal environment. The parent environment
// is never inherited, so API keys and credentials cannot leak into
// sandboxed commands.
func (s *ProcessSandbox) buildEnv(tmpDir string, extra map[string]string) []string {
	env := []string{
		"PATH=/usr/local/bin:/usr/bin:/bin",
		"HOME=" + tmpDir,
		"TMPDIR=" + tmpDir,
		"LANG=en_US.UTF-8",
		"TERM=dumb",
	}
	for k, v := range extra {
		env = append(env, k+"="+v)
	}
	return env
}

// cappedWriter stops writing after a byte limit; excess is dropped.
type cappedWriter struct {
	w         io.Writer
	remaining int
}

func (cw *cappedWriter) Write(p []byte) (int, error) {
	if cw.remaining <= 0 {
		return len(p), nil
	}
	if len(p) > cw.remaining {
		n, err := cw.w.Write(p[:cw.remaining])
		cw.remaining -= n
		if err != nil {
			return n, err
		}
		return len(p), nil
	}
	n, err := cw.w.Write(p)
	cw.remaining -= n
	return n, err
}
