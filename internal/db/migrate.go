package db

import (
	"autotrader/internal/models"
)

func AutoMigrate(db *DB) error {
	if db == nil || db.Gorm == nil || db.SQL == nil {
		return nil
	}

	return db.Gorm.AutoMigrate(
		&models.User{},
		&models.CatalogEntry{},
		&models.TradableInstrument{},
		&models.EnrichedAsset{},
		&models.BrokerCredential{},
		&models.Position{},
		&models.Trade{},
		&models.PendingOrder{},
		&models.Strategy{},
		&models.StrategyExecution{},
		&models.TokenRefreshHistory{},
		&models.AutomationConfig{},
		&models.AutomationLog{},
	)
}
