package models

import (
	"time"
)

// CatalogEntry is the authoritative per-platform record of an investable
// instrument, refreshed by catalog sync. Unique per (symbol, platform).
type CatalogEntry struct {
	ID       uint64 `gorm:"primaryKey;autoIncrement"`
	Symbol   string `gorm:"type:varchar(50);not null;uniqueIndex:ux_catalog_symbol_platform;index"`
	Name     string `gorm:"type:varchar(200);not null"`
	Platform string `gorm:"type:varchar(20);not null;uniqueIndex:ux_catalog_symbol_platform;index:ix_catalog_platform_kind"`

	AssetKind string `gorm:"type:varchar(50);index:ix_catalog_platform_kind"`
	Venue     string `gorm:"type:varchar(50)"`
	Currency  string `gorm:"type:varchar(10);default:'USD'"`
	Exchange  string `gorm:"type:varchar(100)"`

	IsTradable bool `gorm:"default:true"`

	// Saxo-specific identifiers.
	SaxoUIC         *int64 `gorm:""`
	SaxoExchangeID  string `gorm:"type:varchar(20)"`
	SaxoCountryCode string `gorm:"type:varchar(10)"`

	// Binance-specific identifiers.
	BinanceBaseAsset  string `gorm:"type:varchar(20)"`
	BinanceQuoteAsset string `gorm:"type:varchar(20)"`
	BinanceStatus     string `gorm:"type:varchar(20)"`

	LastSeenAt time.Time `gorm:"type:timestamptz"`
	CreatedAt  time.Time `gorm:"type:timestamptz;autoCreateTime"`
	UpdatedAt  time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (CatalogEntry) TableName() string {
	return "catalog_entries"
}
