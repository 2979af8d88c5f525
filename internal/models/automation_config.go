package models

import (
	"time"
)

// AutomationConfig controls the per-user automation cycle. One row per user.
type AutomationConfig struct {
	ID     uint64 `gorm:"primaryKey;autoIncrement"`
	UserID uint64 `gorm:"not null;uniqueIndex"`

	IsActive bool `gorm:"default:false"`
	IsPaused bool `gorm:"default:false"`

	// Minutes between cycles.
	FrequencyMinutes  int  `gorm:"default:60"`
	AutoRefreshTokens bool `gorm:"default:true"`

	LastRunAt *time.Time `gorm:"type:timestamptz"`
	NextRunAt *time.Time `gorm:"type:timestamptz;index"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (AutomationConfig) TableName() string {
	return "automation_configs"
}
