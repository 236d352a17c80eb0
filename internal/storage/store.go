// Package storage defines the Store interface for persisting completed
// orchestration runs. Three backends are provided: SQLite (default,
// zero-config), PostgreSQL (production), and an in-memory store for
// tests and throwaway sessions.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/crucible-ai/crucible/internal/llm"
)

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = errors.New("run not found")

// Driver names accepted by the config.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Run is one persisted orchestration run.
type Run struct {
	SessionID string        `json:"session_id"`
	Success   bool          `json:"success"`
	Messages  []llm.Message `json:"messages"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// Store persists completed runs. SaveRun matches the collaborator
// shape the orchestration loop expects, so a Store can be attached
// to a Loop directly.
type Store interface {
	SaveRun(ctx context.Context, sessionID string, history []llm.Message, success bool) error
	GetRun(ctx context.Context, sessionID string) (*Run, error)
	ListRuns(ctx context.Context, limit int) ([]Run, error)

	// Ping checks backend health for readiness probes.
	Ping(ctx context.Context) error
	Close() error

	// Driver returns the backend name ("sqlite", "postgres", "memory").
	Driver() string
}
