package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/ivlasau/digestd/internal/models"
)

type DigestRepository struct {
	db *gorm.DB
}

func NewDigestRepository(db *gorm.DB) *DigestRepository {
	return &DigestRepository{db: db}
}

// ListActiveIdle returns active digests that are not currently running.
// This is the scheduler's candidate set; sources are not loaded here because
// the processor re-reads fresh state by ID before doing any work.
func (r *DigestRepository) ListActiveIdle(ctx context.Context) ([]models.Digest, error) {
	var digests []models.Digest
	err := r.db.WithContext(ctx).
		Where("is_active = ? AND in_progress = ?", true, false).
		Find(&digests).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list active idle digests: %w", err)
	}
	return digests, nil
}

// GetWithSources loads a digest and its sources by ID.
func (r *DigestRepository) GetWithSources(ctx context.Context, id string) (*models.Digest, error) {
	var digest models.Digest
	err := r.db.WithContext(ctx).
		Preload("Sources").
		First(&digest, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get digest: %w", err)
	}
	return &digest, nil
}

// GetForUser loads a digest owned by the given user.
func (r *DigestRepository) GetForUser(ctx context.Context, id, userID string) (*models.Digest, error) {
	var digest models.Digest
	err := r.db.WithContext(ctx).
		Preload("Sources").
		First(&digest, "id = ? AND user_id = ?", id, userID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get digest: %w", err)
	}
	return &digest, nil
}

// ListForUser returns all digests owned by the given user.
func (r *DigestRepository) ListForUser(ctx context.Context, userID string) ([]models.Digest, error) {
	var digests []models.Digest
	err := r.db.WithContext(ctx).
		Preload("Sources").
		Where("user_id = ?", userID).
		Order("created_at ASC").
		Find(&digests).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list digests: %w", err)
	}
	return digests, nil
}

// Create persists a new digest together with its sources.
func (r *DigestRepository) Create(ctx context.Context, digest *models.Digest) error {
	now := time.Now().UTC()
	if digest.ID == "" {
		digest.ID = uuid.NewString()
	}
	digest.CreatedAt = now
	digest.UpdatedAt = now
	for i := range digest.Sources {
		digest.Sources[i].ID = uuid.NewString()
		digest.Sources[i].DigestID = digest.ID
		digest.Sources[i].CreatedAt = now
		digest.Sources[i].UpdatedAt = now
	}

	if err := r.db.WithContext(ctx).Create(digest).Error; err != nil {
		return fmt.Errorf("failed to create digest: %w", err)
	}
	return nil
}

// Update rewrites the digest's editable fields and reconciles its source
// list. Source rows whose identifier is unchanged are preserved so their
// resolution cache survives the edit. The in_progress flag is deliberately
// never touched here: an owner edit must not drop an in-flight run's
// exclusivity.
func (r *DigestRepository) Update(ctx context.Context, digest *models.Digest, sourceIdentifiers []string) error {
	now := time.Now().UTC()

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Digest{}).
			Where("id = ? AND user_id = ?", digest.ID, digest.UserID).
			Updates(map[string]interface{}{
				"name":            digest.Name,
				"target_chat_id":  digest.TargetChatID,
				"frequency_hours": digest.FrequencyHours,
				"is_active":       digest.IsActive,
				"custom_prompt":   digest.CustomPrompt,
				"updated_at":      now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}

		var existing []models.DigestSource
		if err := tx.Where("digest_id = ?", digest.ID).Find(&existing).Error; err != nil {
			return err
		}

		wanted := make(map[string]bool, len(sourceIdentifiers))
		for _, ident := range sourceIdentifiers {
			wanted[ident] = true
		}

		current := make(map[string]bool, len(existing))
		for _, src := range existing {
			current[src.SourceIdentifier] = true
			if !wanted[src.SourceIdentifier] {
				if err := tx.Delete(&models.DigestSource{}, "id = ?", src.ID).Error; err != nil {
					return err
				}
			}
		}

		for _, ident := range sourceIdentifiers {
			if current[ident] {
				continue
			}
			src := models.DigestSource{
				ID:               uuid.NewString(),
				DigestID:         digest.ID,
				SourceIdentifier: ident,
				CreatedAt:        now,
				UpdatedAt:        now,
			}
			if err := tx.Create(&src).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to update digest: %w", err)
	}
	return nil
}

// Delete removes a digest owned by the user; sources and run logs cascade.
func (r *DigestRepository) Delete(ctx context.Context, id, userID string) error {
	res := r.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		Delete(&models.Digest{})
	if res.Error != nil {
		return fmt.Errorf("failed to delete digest: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Toggle flips the active flag of a digest owned by the user.
func (r *DigestRepository) Toggle(ctx context.Context, id, userID string) error {
	res := r.db.WithContext(ctx).
		Model(&models.Digest{}).
		Where("id = ? AND user_id = ?", id, userID).
		Updates(map[string]interface{}{
			"is_active":  gorm.Expr("NOT is_active"),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return fmt.Errorf("failed to toggle digest: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SetInProgress marks the whole batch of digests in one statement. The
// scheduler relies on this being a single commit: the due set and its
// exclusivity markers become visible together.
func (r *DigestRepository) SetInProgress(ctx context.Context, ids []string, inProgress bool) error {
	if len(ids) == 0 {
		return nil
	}
	err := r.db.WithContext(ctx).
		Model(&models.Digest{}).
		Where("id IN ?", ids).
		Updates(map[string]interface{}{
			"in_progress": inProgress,
			"updated_at":  time.Now().UTC(),
		}).Error
	if err != nil {
		return fmt.Errorf("failed to set in_progress: %w", err)
	}
	return nil
}

// TryMarkInProgress atomically claims a digest for execution. Returns false
// when the digest is already running or does not exist.
func (r *DigestRepository) TryMarkInProgress(ctx context.Context, id string) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Digest{}).
		Where("id = ? AND in_progress = ?", id, false).
		Updates(map[string]interface{}{
			"in_progress": true,
			"updated_at":  time.Now().UTC(),
		})
	if res.Error != nil {
		return false, fmt.Errorf("failed to mark in_progress: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// UpdateAfterRun clears the exclusivity marker and, on success, advances the
// last-run watermark.
func (r *DigestRepository) UpdateAfterRun(ctx context.Context, id string, lastRunAt *time.Time) error {
	updates := map[string]interface{}{
		"in_progress": false,
		"updated_at":  time.Now().UTC(),
	}
	if lastRunAt != nil {
		updates["last_run_at"] = *lastRunAt
	}
	err := r.db.WithContext(ctx).
		Model(&models.Digest{}).
		Where("id = ?", id).
		Updates(updates).Error
	if err != nil {
		return fmt.Errorf("failed to update digest after run: %w", err)
	}
	return nil
}

// SetSourceChatID caches the resolved numeric chat ID for a source.
func (r *DigestRepository) SetSourceChatID(ctx context.Context, sourceID string, chatID int64) error {
	err := r.db.WithContext(ctx).
		Model(&models.DigestSource{}).
		Where("id = ?", sourceID).
		Updates(map[string]interface{}{
			"source_chat_id": chatID,
			"updated_at":     time.Now().UTC(),
		}).Error
	if err != nil {
		return fmt.Errorf("failed to cache source chat id: %w", err)
	}
	return nil
}

// ClearSourceChatID invalidates a stale cached chat ID so the next run
// re-resolves the source via its identifier.
func (r *DigestRepository) ClearSourceChatID(ctx context.Context, sourceID string) error {
	err := r.db.WithContext(ctx).
		Model(&models.DigestSource{}).
		Where("id = ?", sourceID).
		Updates(map[string]interface{}{
			"source_chat_id": nil,
			"updated_at":     time.Now().UTC(),
		}).Error
	if err != nil {
		return fmt.Errorf("failed to clear source chat id: %w", err)
	}
	return nil
}
