package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/crucible-ai/crucible/internal/llm"
)

// MemoryStore keeps runs in process memory. Used by tests and by the
// "memory" driver for throwaway sessions.
type MemoryStore struct {
	mu   sync.RWMutex
	runs map[string]Run
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{runs: make(map[string]Run)}
}

func (s *MemoryStore) SaveRun(_ context.Context, sessionID string, history []llm.Message, success bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	run, ok := s.runs[sessionID]
	if !ok {
		run = Run{SessionID: sessionID, CreatedAt: now}
	}
	run.Success = success
	run.Messages = append([]llm.Message(nil), history...)
	run.UpdatedAt = now
	s.runs[sessionID] = run
	return nil
}

func (s *MemoryStore) GetRun(_ context.Context, sessionID string) (*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return &run, nil
}

func (s *MemoryStore) ListRuns(_ context.Context, limit int) ([]Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	runs := make([]Run, 0, len(s.runs))
	for _, r := range s.runs {
		runs = append(runs, r)
	}
	// Newest first, matching the database backends.
	sort.Slice(runs, func(i, j int) bool {
		return runs[i].CreatedAt.After(runs[j].CreatedAt)
	})
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }
func (s *MemoryStore) Close() error               { return nil }
func (s *MemoryStore) Driver() string             { return DriverMemory }

var _ Store = (*MemoryStore)(nil)
