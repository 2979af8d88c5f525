package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Strategy algorithm kinds.
const (
	AlgoThreshold   = "threshold"
	AlgoMACrossover = "ma_crossover"
	AlgoRSI         = "rsi"
	AlgoBollinger   = "bollinger"
	AlgoMACD        = "macd"
	AlgoGrid        = "grid"
)

// Execution modes, from least to most consequential.
const (
	ModeSimulate = "simulate"
	ModePaper    = "paper"
	ModeLive     = "live"
)

// Strategy statuses.
const (
	StrategyActive   = "active"
	StrategyInactive = "inactive"
	StrategyPaused   = "paused"
)

// PortfolioUnknown marks a portfolio quantity that could not be resolved.
// Order placement is suppressed while the cached quantity holds this value.
var PortfolioUnknown = decimal.NewFromInt(-1)

// Strategy binds an algorithm, its parameters, and a broker credential to
// one enriched asset for one user. Unique per (user, asset, name).
type Strategy struct {
	ID      uint64 `gorm:"primaryKey;autoIncrement"`
	UserID  uint64 `gorm:"not null;uniqueIndex:ux_strategy_user_asset_name;index"`
	AssetID uint64 `gorm:"not null;uniqueIndex:ux_strategy_user_asset_name;index"`
	Name    string `gorm:"type:varchar(100);not null;uniqueIndex:ux_strategy_user_asset_name"`

	Algorithm string         `gorm:"type:varchar(30);not null"`
	Params    datatypes.JSON `gorm:"type:jsonb"`

	CredentialID  *uint64 `gorm:"index"`
	ExecutionMode string  `gorm:"type:varchar(10);not null;default:'simulate'"`
	Status        string  `gorm:"type:varchar(10);not null;default:'inactive';index"`

	// Minutes between evaluations.
	CheckFrequency int `gorm:"default:60"`

	TargetMinQuantity decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0"`
	TargetMaxQuantity decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0"`

	// Cached holdings for the strategy's asset on the credential's
	// platform. -1 means unknown and suppresses order placement.
	PortfolioQuantity decimal.Decimal `gorm:"type:numeric(30,10);not null;default:-1"`

	LastExecutedAt *time.Time `gorm:"type:timestamptz"`
	NextExecuteAt  *time.Time `gorm:"type:timestamptz;index"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (Strategy) TableName() string {
	return "strategies"
}
