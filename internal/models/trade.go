package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trade is one historical execution. Identity for dedup is the composite
// (user, tradable, size, price, executed_at, side) tuple, so re-syncing a
// window never duplicates rows.
type Trade struct {
	ID         uint64 `gorm:"primaryKey;autoIncrement"`
	UserID     uint64 `gorm:"not null;uniqueIndex:ux_trade_identity;index"`
	TradableID uint64 `gorm:"not null;uniqueIndex:ux_trade_identity;index"`

	Size       decimal.Decimal `gorm:"type:numeric(30,10);not null;uniqueIndex:ux_trade_identity"`
	Price      decimal.Decimal `gorm:"type:numeric(30,10);not null;uniqueIndex:ux_trade_identity"`
	Side       string          `gorm:"type:varchar(10);not null;uniqueIndex:ux_trade_identity"`
	ExecutedAt time.Time       `gorm:"type:timestamptz;not null;uniqueIndex:ux_trade_identity;index"`

	Platform string `gorm:"type:varchar(20);not null;index"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
}

func (Trade) TableName() string {
	return "trades"
}
