package models

import "time"

// DigestSource is one monitored channel of a digest. SourceChatID caches the
// numeric ID resolved from SourceIdentifier; it is a cache, not a source of
// truth, and is cleared when a fetch through it fails.
type DigestSource struct {
	ID               string    `gorm:"column:id;primaryKey"`
	DigestID         string    `gorm:"column:digest_id;index"`
	SourceIdentifier string    `gorm:"column:source_identifier"`
	SourceChatID     *int64    `gorm:"column:source_chat_id"`
	CreatedAt        time.Time `gorm:"column:created_at"`
	UpdatedAt        time.Time `gorm:"column:updated_at"`
}

// TableName specifies the table name for GORM
func (DigestSource) TableName() string {
	return "digest_sources"
}
