// Package runtime abstracts the container engine that backs sandboxed
// code execution. The sandbox manager talks only to the Client and
// Handle interfaces; the docker CLI implementation lives in docker.go.
package runtime

import (
	"context"
	"errors"
	"time"
)

// ErrWaitTimeout is returned by Handle.Wait when the container did not
// exit within the given duration. The container keeps running until the
// caller destroys the handle.
var ErrWaitTimeout = errors.New("runtime: wait timed out")

// Client is the connection to a container engine. A single Client may
// be shared across concurrent runs; each Handle belongs to exactly one
// execution.
type Client interface {
	// Available reports whether the engine daemon is reachable.
	Available(ctx context.Context) bool

	// ImageExists reports whether the image is present locally.
	ImageExists(ctx context.Context, image string) bool

	// PullImage fetches an image from its registry.
	PullImage(ctx context.Context, image string) error

	// Info returns engine version details for status reporting.
	Info(ctx context.Context) (*EngineInfo, error)

	// Create builds a stopped container from the spec. The returned
	// Handle must be destroyed by the caller on every path.
	Create(ctx context.Context, spec *ContainerSpec) (Handle, error)
}

// Handle is one live container. Lifetime: Create, Start, Wait, Logs,
// then Destroy. Destroy is safe to call in any state and must always
// be called.
type Handle interface {
	// ID identifies the container for logging.
	ID() string

	// Start begins execution of the container's command.
	Start(ctx context.Context) error

	// Wait blocks until the container exits or the timeout elapses.
	// On timeout it returns ErrWaitTimeout; the container is still
	// running and must be destroyed.
	Wait(ctx context.Context, timeout time.Duration) (int, error)

	// Logs returns captured stdout and stderr, truncated to the
	// engine's output cap. Valid after exit and after a timed-out
	// wait (partial output).
	Logs(ctx context.Context) (stdout, stderr string, err error)

	// Destroy force-removes the container. Best effort, idempotent.
	Destroy()
}

// ContainerSpec describes a container to create.
type ContainerSpec struct {
	Image   string
	Command []string

	// Mounts are bind mounts from the host into the container.
	Mounts []Mount

	// WorkDir is the working directory inside the container.
	WorkDir string

	// Env is merged on top of a minimal sanitized environment.
	Env map[string]string

	MemoryMB  int
	CPUCores  float64
	PIDsLimit int

	// NetworkDisabled removes the network stack entirely. The sandbox
	// manager always sets this; it is never derived from caller input.
	NetworkDisabled bool
}

// Mount is a host path bound into the container.
type Mount struct {
	Source   string
	Target   string
	ReadOnly bool
}

// EngineInfo describes the container engine for status tools.
type EngineInfo struct {
	ServerVersion string
	OS            string
	Architecture  string
}
