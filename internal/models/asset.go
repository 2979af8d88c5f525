package models

import (
	"time"

	"gorm.io/datatypes"
)

// EnrichedAsset is the logical underlier keyed by a clean base symbol
// (venue suffix after ':' and instance suffix after '_' stripped). One
// asset may map to many tradable instruments across platforms.
type EnrichedAsset struct {
	ID     uint64 `gorm:"primaryKey;autoIncrement"`
	Symbol string `gorm:"type:varchar(20);not null;uniqueIndex"`
	Name   string `gorm:"type:varchar(100);not null"`

	Sector    string  `gorm:"type:varchar(100)"`
	Industry  string  `gorm:"type:varchar(100)"`
	MarketCap float64 `gorm:"default:0"`

	// OHLCV records, weekly for equities and daily for cryptos.
	PriceHistory datatypes.JSON `gorm:"type:jsonb"`

	CatalogEntryID *uint64 `gorm:"index"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (EnrichedAsset) TableName() string {
	return "enriched_assets"
}

// Candle is one persisted OHLCV record.
type Candle struct {
	Date   string  `json:"date"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}
