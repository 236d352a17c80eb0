// Package sandbox executes untrusted code inside ephemeral containers.
// The Manager owns the full lifecycle of each execution: staging the
// code onto disk, creating a hardened container, waiting with a bound,
// and destroying the container on every exit path. It never returns a
// Go error — all failure is encoded in the Result.
package sandbox

import "time"

// Language selects the runtime image and launch command.
type Language string

const (
	LanguagePython     Language = "python"
	LanguageJavaScript Language = "javascript"
	LanguageJava       Language = "java"
	LanguageShell      Language = "shell"
)

// Request describes one code execution.
type Request struct {
	Language Language

	// Code is the program source, or the command text for LanguageShell.
	Code string

	// AuxiliaryFiles maps relative paths to contents, staged next to
	// the entry file.
	AuxiliaryFiles map[string]string

	// Dependencies are packages installed before the run (pip for
	// Python, npm for JavaScript). Install failures surface as an
	// ordinary non-zero exit, not a distinct error kind.
	Dependencies []string
}

// Limits constrains one execution. Zero values take manager defaults.
type Limits struct {
	Timeout  time.Duration
	MemoryMB int
	CPUCores float64
}

// ErrorKind classifies why an execution failed.
type ErrorKind string

const (
	// ErrorNone marks a clean zero-exit run.
	ErrorNone ErrorKind = ""

	// ErrorRuntimeUnavailable means the container engine was
	// unreachable or the runtime image could not be fetched. Fatal
	// for this call only; the caller may retry.
	ErrorRuntimeUnavailable ErrorKind = "runtime_unavailable"

	// ErrorTimeout means the run exceeded its wall-clock bound and
	// was force-killed.
	ErrorTimeout ErrorKind = "timeout"

	// ErrorNonZeroExit means the code ran and failed. This is the
	// expected failure mode driving the repair loop.
	ErrorNonZeroExit ErrorKind = "non_zero_exit"
)

// Result captures the outcome of one execution.
// Invariant: Success == (ExitCode == 0 && ErrorKind == ErrorNone).
// WallClock is populated on every path, including failure and timeout.
type Result struct {
	Success   bool
	Stdout    string
	Stderr    string
	ExitCode  int
	WallClock time.Duration
	ErrorKind ErrorKind
}
