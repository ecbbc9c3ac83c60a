package models

import "time"

type User struct {
	ID             string    `gorm:"column:id;primaryKey"`
	TelegramUserID int64     `gorm:"column:telegram_user_id;uniqueIndex"`
	Username       *string   `gorm:"column:username"`
	CreatedAt      time.Time `gorm:"column:created_at"`
	UpdatedAt      time.Time `gorm:"column:updated_at"`
}

// TableName specifies the table name for GORM
func (User) TableName() string {
	return "users"
}
