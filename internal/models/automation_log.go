package models

import (
	"time"

	"gorm.io/datatypes"
)

// Automation cycle statuses.
const (
	CycleSuccess = "success"
	CyclePartial = "partial"
	CycleFailed  = "failed"
)

// AutomationLog records one automation cycle for one user: what was
// synced, what failed, and how long the cycle took.
type AutomationLog struct {
	ID     uint64 `gorm:"primaryKey;autoIncrement"`
	UserID uint64 `gorm:"not null;index:ix_automation_log_user_time"`

	Status  string         `gorm:"type:varchar(10);not null"`
	Summary datatypes.JSON `gorm:"type:jsonb"`

	APIResponses datatypes.JSON `gorm:"type:jsonb"`
	Errors       datatypes.JSON `gorm:"type:jsonb"`

	DurationMS int64 `gorm:"default:0"`

	StartedAt time.Time `gorm:"type:timestamptz;not null;index:ix_automation_log_user_time"`
	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
}

func (AutomationLog) TableName() string {
	return "automation_logs"
}
