package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// StrategyExecution is the audit row for one evaluation of one strategy.
// It is written before any order placement so a crashed placement still
// leaves evidence of the decision.
type StrategyExecution struct {
	ID         uint64 `gorm:"primaryKey;autoIncrement"`
	StrategyID uint64 `gorm:"not null;index:ix_execution_strategy_time"`

	ExecutedAt time.Time       `gorm:"type:timestamptz;not null;index:ix_execution_strategy_time"`
	Price      decimal.Decimal `gorm:"type:numeric(30,10)"`
	Signal     string          `gorm:"type:varchar(10);not null"`
	Strength   float64         `gorm:"default:0"`

	OrderPlaced bool             `gorm:"default:false"`
	OrderSize   *decimal.Decimal `gorm:"type:numeric(30,10)"`
	OrderPrice  *decimal.Decimal `gorm:"type:numeric(30,10)"`

	DurationMS int64  `gorm:"default:0"`
	Error      string `gorm:"type:text"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
}

func (StrategyExecution) TableName() string {
	return "strategy_executions"
}
