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

type UserRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

// GetOrCreateByTelegramID upserts the user record for an authenticated
// Telegram identity, refreshing the username on every login.
func (r *UserRepository) GetOrCreateByTelegramID(ctx context.Context, telegramUserID int64, username *string) (*models.User, error) {
	var user models.User
	err := r.db.WithContext(ctx).
		First(&user, "telegram_user_id = ?", telegramUserID).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("failed to look up user: %w", err)
		}
		now := time.Now().UTC()
		user = models.User{
			ID:             uuid.NewString(),
			TelegramUserID: telegramUserID,
			Username:       username,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := r.db.WithContext(ctx).Create(&user).Error; err != nil {
			return nil, fmt.Errorf("failed to create user: %w", err)
		}
		return &user, nil
	}

	user.Username = username
	user.UpdatedAt = time.Now().UTC()
	if err := r.db.WithContext(ctx).Save(&user).Error; err != nil {
		return nil, fmt.Errorf("failed to update user: %w", err)
	}
	return &user, nil
}
