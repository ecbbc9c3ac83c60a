package models

import "time"

type RunStatus string

const (
	RunStatusPending RunStatus = "pending" // pre-commit only, never observed durably
	RunStatusRunning RunStatus = "running" // committed before any network call
	RunStatusSuccess RunStatus = "success" // terminal
	RunStatusError   RunStatus = "error"   // terminal
)

type RunLog struct {
	ID            string     `gorm:"column:id;primaryKey"`
	DigestID      string     `gorm:"column:digest_id;index"`
	StartedAt     time.Time  `gorm:"column:started_at"`
	FinishedAt    *time.Time `gorm:"column:finished_at"`
	Status        RunStatus  `gorm:"column:status"`
	MessagesCount int        `gorm:"column:messages_count"`
	ErrorMessage  *string    `gorm:"column:error_message"`
}

// TableName specifies the table name for GORM
func (RunLog) TableName() string {
	return "run_logs"
}
