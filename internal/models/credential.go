package models

import (
	"time"
)

// Broker platform identifiers.
const (
	PlatformSaxo    = "saxo"
	PlatformBinance = "binance"
)

// Credential environments.
const (
	EnvLive = "live"
	EnvSim  = "sim"
)

// BrokerCredential holds per-user connection state for one broker account.
// OAuth brokers use the ClientID/Token fields, HMAC brokers the APIKey
// fields. A row is unique per (user, broker_type, name).
type BrokerCredential struct {
	ID         uint64 `gorm:"primaryKey;autoIncrement"`
	UserID     uint64 `gorm:"not null;uniqueIndex:ux_credential_user_broker_name;index"`
	BrokerType string `gorm:"type:varchar(20);not null;uniqueIndex:ux_credential_user_broker_name"`
	Name       string `gorm:"type:varchar(100);not null;uniqueIndex:ux_credential_user_broker_name"`

	Environment string `gorm:"type:varchar(10);not null;default:'sim'"`

	// OAuth flow.
	ClientID       string     `gorm:"type:varchar(200)"`
	ClientSecret   string     `gorm:"type:varchar(200)"`
	RedirectURI    string     `gorm:"type:varchar(500)"`
	AccessToken    string     `gorm:"type:text"`
	RefreshToken   string     `gorm:"type:text"`
	TokenExpiresAt *time.Time `gorm:"type:timestamptz"`

	// HMAC flow.
	APIKey    string `gorm:"type:varchar(200)"`
	APISecret string `gorm:"type:varchar(200)"`
	Testnet   bool   `gorm:"default:false"`

	AutoRefreshEnabled bool `gorm:"default:true"`
	// Minutes between scheduled refresh attempts; clamped to [15, 55].
	AutoRefreshFrequency int  `gorm:"default:30"`
	IsActive             bool `gorm:"default:true;index"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (BrokerCredential) TableName() string {
	return "broker_credentials"
}

// TwentyFourHourMode reports whether the credential runs on a manually
// pasted 24-hour token. In that mode access and refresh token are the
// same string and the token can never be refreshed programmatically.
func (c *BrokerCredential) TwentyFourHourMode() bool {
	return c.AccessToken != "" && c.AccessToken == c.RefreshToken
}
