package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/crucible-ai/crucible/internal/llm"
	"github.com/crucible-ai/crucible/internal/storage"
)

// RunRepository persists runs through GORM. It is shared by the
// PostgreSQL and SQLite backends; the dialect differences are handled
// by GORM.
type RunRepository struct {
	db *gorm.DB
}

// NewRunRepository creates a RunRepository.
func NewRunRepository(db *gorm.DB) *RunRepository {
	return &RunRepository{db: db}
}

// SaveRun upserts the run keyed by session ID. Re-saving an existing
// session replaces its history and outcome.
func (r *RunRepository) SaveRun(ctx context.Context, sessionID string, history []llm.Message, success bool) error {
	data, err := json.Marshal(history)
	if err != nil {
		return fmt.Errorf("marshaling run history: %w", err)
	}

	model := RunModel{
		SessionID: sessionID,
		Success:   success,
		History:   data,
	}

	err = r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "session_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"success", "history", "updated_at"}),
	}).Create(&model).Error
	if err != nil {
		return fmt.Errorf("saving run %s: %w", sessionID, err)
	}
	return nil
}

// GetRun loads one run by session ID.
func (r *RunRepository) GetRun(ctx context.Context, sessionID string) (*storage.Run, error) {
	var model RunModel
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading run %s: %w", sessionID, err)
	}
	return toRun(&model)
}

// ListRuns returns the most recent runs, newest first.
func (r *RunRepository) ListRuns(ctx context.Context, limit int) ([]storage.Run, error) {
	if limit <= 0 {
		limit = 50
	}

	var models []RunModel
	err := r.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}

	runs := make([]storage.Run, 0, len(models))
	for i := range models {
		run, err := toRun(&models[i])
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, nil
}

func toRun(m *RunModel) (*storage.Run, error) {
	var messages []llm.Message
	if len(m.History) > 0 {
		if err := json.Unmarshal(m.History, &messages); err != nil {
			return nil, fmt.Errorf("unmarshaling history for run %s: %w", m.SessionID, err)
		}
	}
	return &storage.Run{
		SessionID: m.SessionID,
		Success:   m.Success,
		Messages:  messages,
		CreatedAt: m.CreatedAt.UTC(),
		UpdatedAt: m.UpdatedAt.UTC(),
	}, nil
}
