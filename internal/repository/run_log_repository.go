package repository

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/ivlasau/digestd/internal/models"
)

// maxErrorMessageLen bounds the human-readable error stored on a run log.
const maxErrorMessageLen = 500

type RunLogRepository struct {
	db *gorm.DB
}

func NewRunLogRepository(db *gorm.DB) *RunLogRepository {
	return &RunLogRepository{db: db}
}

// Create commits a run log in "running" state and returns its ID. The commit
// happens before the processor does any network work, so a crashed run still
// leaves an observable record.
func (r *RunLogRepository) Create(ctx context.Context, digestID string) (string, error) {
	run := models.RunLog{
		ID:        uuid.NewString(),
		DigestID:  digestID,
		StartedAt: time.Now().UTC(),
		Status:    models.RunStatusRunning,
	}
	if err := r.db.WithContext(ctx).Create(&run).Error; err != nil {
		return "", fmt.Errorf("failed to create run log: %w", err)
	}
	return run.ID, nil
}

// Finalize moves a run log to its terminal state.
func (r *RunLogRepository) Finalize(ctx context.Context, runID string, status models.RunStatus, messagesCount int, errorMessage *string) error {
	updates := map[string]interface{}{
		"status":         status,
		"messages_count": messagesCount,
		"finished_at":    time.Now().UTC(),
	}
	if errorMessage != nil {
		updates["error_message"] = truncateErrorMessage(*errorMessage)
	}
	err := r.db.WithContext(ctx).
		Model(&models.RunLog{}).
		Where("id = ?", runID).
		Updates(updates).Error
	if err != nil {
		return fmt.Errorf("failed to finalize run log: %w", err)
	}
	return nil
}

// truncateErrorMessage bounds the stored description to maxErrorMessageLen
// runes, cutting on a rune boundary so multi-byte text stays valid.
func truncateErrorMessage(msg string) string {
	if utf8.RuneCountInString(msg) <= maxErrorMessageLen {
		return msg
	}
	return string([]rune(msg)[:maxErrorMessageLen])
}

// ListByDigest returns the most recent runs of a digest.
func (r *RunLogRepository) ListByDigest(ctx context.Context, digestID string, limit int) ([]models.RunLog, error) {
	var runs []models.RunLog
	err := r.db.WithContext(ctx).
		Where("digest_id = ?", digestID).
		Order("started_at DESC").
		Limit(limit).
		Find(&runs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list run logs: %w", err)
	}
	return runs, nil
}
