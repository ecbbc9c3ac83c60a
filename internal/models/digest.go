package models

import "time"

// AllowedFrequencies is the enumerated set of digest cadences, in hours.
var AllowedFrequencies = []int{6, 12, 24}

// MaxCustomPromptLen bounds the optional per-digest summarization instructions.
const MaxCustomPromptLen = 1000

type Digest struct {
	ID             string     `gorm:"column:id;primaryKey"`
	UserID         string     `gorm:"column:user_id;index"`
	Name           string     `gorm:"column:name"`
	TargetChatID   string     `gorm:"column:target_chat_id"`
	FrequencyHours int        `gorm:"column:frequency_hours"`
	IsActive       bool       `gorm:"column:is_active"`
	InProgress     bool       `gorm:"column:in_progress"`
	LastRunAt      *time.Time `gorm:"column:last_run_at"`
	CustomPrompt   *string    `gorm:"column:custom_prompt"`
	CreatedAt      time.Time  `gorm:"column:created_at"`
	UpdatedAt      time.Time  `gorm:"column:updated_at"`

	Sources []DigestSource `gorm:"foreignKey:DigestID"`
}

// TableName specifies the table name for GORM
func (Digest) TableName() string {
	return "digests"
}

// IsDue reports whether the digest should run at the given moment.
// A digest that has never completed a run is always due; otherwise it is
// due once a full cadence interval has elapsed (boundary inclusive).
func (d *Digest) IsDue(now time.Time) bool {
	if d.LastRunAt == nil {
		return true
	}
	next := d.LastRunAt.Add(time.Duration(d.FrequencyHours) * time.Hour)
	return !now.Before(next)
}

// ValidFrequency reports whether hours is one of the allowed cadences.
func ValidFrequency(hours int) bool {
	for _, h := range AllowedFrequencies {
		if h == hours {
			return true
		}
	}
	return false
}
