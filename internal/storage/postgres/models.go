package postgres

import "time"

// RunModel is the GORM model for one persisted orchestration run.
// The message history is stored as a JSON document; runs are written
// once at terminal state, so there is no per-message table.
type RunModel struct {
	SessionID string `gorm:"primaryKey;size:64"`
	Success   bool   `gorm:"not null"`
	History   []byte `gorm:"type:text"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TableName keeps the table name stable across backends.
func (RunModel) TableName() string { return "runs" }
