package models

import (
	"time"
)

// TokenRefreshHistory records every refresh attempt, successful or not.
// Rows older than 30 days are pruned by the token manager.
type TokenRefreshHistory struct {
	ID           uint64 `gorm:"primaryKey;autoIncrement"`
	CredentialID uint64 `gorm:"not null;index:ix_refresh_credential_time"`

	Success    bool `gorm:"not null"`
	RetryCount int  `gorm:"default:0"`
	MaxRetries int  `gorm:"default:0"`

	NewAccessToken  string     `gorm:"type:text"`
	NewRefreshToken string     `gorm:"type:text"`
	ExpiresAt       *time.Time `gorm:"type:timestamptz"`

	ErrorMessage string `gorm:"type:text"`

	AttemptedAt time.Time `gorm:"type:timestamptz;not null;index:ix_refresh_credential_time"`
	CreatedAt   time.Time `gorm:"type:timestamptz;autoCreateTime"`
}

func (TokenRefreshHistory) TableName() string {
	return "token_refresh_history"
}
