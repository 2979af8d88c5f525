package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TradableInstrument is the per-platform handle used to place orders and
// reconcile holdings. Symbol and name are value copies of the catalog entry
// so the row stays self-sufficient for history.
type TradableInstrument struct {
	ID             uint64 `gorm:"primaryKey;autoIncrement"`
	CatalogEntryID uint64 `gorm:"not null;index"`
	Symbol         string `gorm:"type:varchar(50);not null;uniqueIndex:ux_tradable_symbol_platform"`
	Name           string `gorm:"type:varchar(200);not null"`
	Platform       string `gorm:"type:varchar(20);not null;uniqueIndex:ux_tradable_symbol_platform"`

	// Cached sum of open position sizes; refreshed by reconciliation.
	OpenQuantity decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (TradableInstrument) TableName() string {
	return "tradable_instruments"
}
