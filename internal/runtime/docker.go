package runtime

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

const (
	defaultPIDsLimit = 64
	defaultCPUCores  = 1.0
	defaultMemoryMB  = 512

	// maxOutputBytes caps captured stdout/stderr per stream so a
	// chatty container cannot exhaust host memory.
	maxOutputBytes = 1 << 20

	// cleanupTimeout bounds best-effort docker rm -f calls.
	cleanupTimeout = 5 * time.Second
)

// DockerClient implements Client by shelling out to the docker CLI.
//
// Every container it creates is hardened:
//   - ALL Linux capabilities dropped (--cap-drop=ALL)
//   - Privilege escalation blocked (--security-opt=no-new-privileges)
//   - Memory hard limit with swap disabled (OOM kill on exceed)
//   - CPU rate limited, PIDs limited (fork bomb protection)
//   - Network removed entirely when the spec demands it (--network=none)
//   - stdout/stderr capped at maxOutputBytes per stream
type DockerClient struct {
	logger *slog.Logger
}

// NewDockerClient creates a docker CLI backed engine client.
func NewDockerClient(logger *slog.Logger) *DockerClient {
	return &DockerClient{logger: logger}
}

// Available reports whether the docker daemon answers.
func (c *DockerClient) Available(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return exec.CommandContext(ctx, "docker", "info", "--format", "{{.ServerVersion}}").Run() == nil
}

// ImageExists reports whether the image is present locally.
func (c *DockerClient) ImageExists(ctx context.Context, image string) bool {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return exec.CommandContext(ctx, "docker", "image", "inspect", image).Run() == nil
}

// PullImage fetches an image from its registry.
func (c *DockerClient) PullImage(ctx context.Context, image string) error {
	c.logger.InfoContext(ctx, "pulling runtime image", slog.String("image", image))

	start := time.Now()
	out, err := exec.CommandContext(ctx, "docker", "pull", image).CombinedOutput()
	if err != nil {
		return fmt.Errorf("docker pull %s: %w: %s", image, err, truncateLine(out))
	}

	c.logger.InfoContext(ctx, "runtime image pulled",
		slog.String("image", image),
		slog.Duration("duration", time.Since(start)),
	)
	return nil
}

// Info returns docker server version details.
func (c *DockerClient) Info(ctx context.Context) (*EngineInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	out, err := exec.CommandContext(ctx, "docker", "version",
		"--format", "{{json .Server}}").Output()
	if err != nil {
		return nil, fmt.Errorf("docker version: %w", err)
	}

	var server struct {
		Version string `json:"Version"`
		Os      string `json:"Os"`
		Arch    string `json:"Arch"`
	}
	if err := json.Unmarshal(bytes.TrimSpace(out), &server); err != nil {
		return nil, fmt.Errorf("parsing docker version output: %w", err)
	}
	return &EngineInfo{
		ServerVersion: server.Version,
		OS:            server.Os,
		Architecture:  server.Arch,
	}, nil
}

// Create builds a stopped, hardened container from the spec.
func (c *DockerClient) Create(ctx context.Context, spec *ContainerSpec) (Handle, error) {
	if spec.Image == "" {
		return nil, fmt.Errorf("container spec missing image")
	}
	if len(spec.Command) == 0 {
		return nil, fmt.Errorf("container spec missing command")
	}

	name, err := generateContainerName()
	if err != nil {
		return nil, fmt.Errorf("generating container name: %w", err)
	}

	args := buildCreateArgs(name, spec)
	out, err := exec.CommandContext(ctx, "docker", args...).CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("docker create: %w: %s", err, truncateLine(out))
	}

	c.logger.DebugContext(ctx, "container created",
		slog.String("container", name),
		slog.String("image", spec.Image),
		slog.Int("memory_mb", spec.MemoryMB),
		slog.Float64("cpu_cores", spec.CPUCores),
		slog.Bool("network_disabled", spec.NetworkDisabled),
	)

	return &dockerHandle{name: name, logger: c.logger}, nil
}

// buildCreateArgs constructs the docker create argument list with all
// hardening flags. The image and command come last.
func buildCreateArgs(name string, spec *ContainerSpec) []string {
	memoryMB := spec.MemoryMB
	if memoryMB <= 0 {
		memoryMB = defaultMemoryMB
	}
	cpuCores := spec.CPUCores
	if cpuCores <= 0 {
		cpuCores = defaultCPUCores
	}
	pidsLimit := spec.PIDsLimit
	if pidsLimit <= 0 {
		pidsLimit = defaultPIDsLimit
	}

	memoryFlag := strconv.Itoa(memoryMB) + "m"

	args := []string{
		"create",
		"--name", name,

		"--cap-drop=ALL",
		"--security-opt=no-new-privileges",

		"--memory=" + memoryFlag,
		"--memory-swap=" + memoryFlag,
		"--cpus=" + strconv.FormatFloat(cpuCores, 'f', 2, 64),
		"--pids-limit=" + strconv.Itoa(pidsLimit),

		"--env", "HOME=/tmp",
		"--env", "LANG=en_US.UTF-8",
		"--env", "TERM=dumb",
	}

	if spec.NetworkDisabled {
		args = append(args, "--network=none")
	}

	for _, m := range spec.Mounts {
		mode := "rw"
		if m.ReadOnly {
			mode = "ro"
		}
		args = append(args, "--volume", m.Source+":"+m.Target+":"+mode)
	}

	if spec.WorkDir != "" {
		args = append(args, "--workdir", spec.WorkDir)
	}

	for k, v := range spec.Env {
		args = append(args, "--env", k+"="+v)
	}

	args = append(args, spec.Image)
	args = append(args, spec.Command...)
	return args
}

// dockerHandle is one container managed through the CLI.
type dockerHandle struct {
	name   string
	logger *slog.Logger
}

func (h *dockerHandle) ID() string { return h.name }

func (h *dockerHandle) Start(ctx context.Context) error {
	out, err := exec.CommandContext(ctx, "docker", "start", h.name).CombinedOutput()
	if err != nil {
		return fmt.Errorf("docker start %s: %w: %s", h.name, err, truncateLine(out))
	}
	return nil
}

// Wait blocks on docker wait until the container exits or the timeout
// elapses. docker wait prints the exit code on stdout.
func (h *dockerHandle) Wait(ctx context.Context, timeout time.Duration) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, "docker", "wait", h.name).Output()
	if err != nil {
		if ctx.Err() != nil {
			return 0, ErrWaitTimeout
		}
		return 0, fmt.Errorf("docker wait %s: %w", h.name, err)
	}

	code, err := strconv.Atoi(strings.TrimSpace(string(out)))
	if err != nil {
		return 0, fmt.Errorf("parsing exit code %q: %w", strings.TrimSpace(string(out)), err)
	}
	return code, nil
}

// Logs fetches stdout and stderr as separate streams, each capped at
// maxOutputBytes.
func (h *dockerHandle) Logs(ctx context.Context) (string, string, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd := exec.CommandContext(ctx, "docker", "logs", h.name)
	cmd.Stdout = &limitedWriter{w: &stdoutBuf, remaining: maxOutputBytes}
	cmd.Stderr = &limitedWriter{w: &stderrBuf, remaining: maxOutputBytes}

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return "", "", fmt.Errorf("docker logs %s: %w", h.name, err)
		}
		// docker logs exits non-zero for a just-removed container;
		// return whatever was captured.
	}
	return stdoutBuf.String(), stderrBuf.String(), nil
}

// Destroy force-removes the container. Called on every exit path, so
// "No such container" is the common case after a clean exit race and
// is not logged.
func (h *dockerHandle) Destroy() {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, "docker", "rm", "-f", h.name).CombinedOutput()
	if err != nil && !bytes.Contains(out, []byte("No such container")) {
		h.logger.Warn("docker rm -f failed",
			slog.String("container", h.name),
			slog.String("error", err.Error()),
			slog.String("output", string(out)),
		)
	}
}

// limitedWriter writes at most remaining bytes, then silently drops.
type limitedWriter struct {
	w         io.Writer
	remaining int
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	if lw.remaining <= 0 {
		return len(p), nil
	}
	if len(p) > lw.remaining {
		n, err := lw.w.Write(p[:lw.remaining])
		lw.remaining -= n
		if err != nil {
			return n, err
		}
		return len(p), nil
	}
	n, err := lw.w.Write(p)
	lw.remaining -= n
	return n, err
}

// generateContainerName returns a unique name: crucible-sbx-<16 hex chars>.
func generateContainerName() (string, error) {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return "crucible-sbx-" + hex.EncodeToString(b), nil
}

func truncateLine(out []byte) string {
	s := strings.TrimSpace(string(out))
	if len(s) > 512 {
		s = s[:512] + "..."
	}
	return s
}
