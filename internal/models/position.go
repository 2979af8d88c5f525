package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position sides and lifecycle states.
const (
	SideBuy  = "BUY"
	SideSell = "SELL"

	PositionOpen   = "open"
	PositionClosed = "closed"
)

// Position mirrors one holding reported by a broker. BrokerPositionID is
// the platform-scoped identity used for reconciliation; rows whose id
// disappears from a sync snapshot are closed, not deleted.
type Position struct {
	ID         uint64 `gorm:"primaryKey;autoIncrement"`
	UserID     uint64 `gorm:"not null;uniqueIndex:ux_position_user_broker_id;index:ix_position_user_status"`
	TradableID uint64 `gorm:"not null;index"`

	BrokerPositionID string `gorm:"type:varchar(200);not null;uniqueIndex:ux_position_user_broker_id"`

	Side         string          `gorm:"type:varchar(10);not null"`
	Size         decimal.Decimal `gorm:"type:numeric(30,10);not null"`
	EntryPrice   decimal.Decimal `gorm:"type:numeric(30,10);not null"`
	CurrentPrice decimal.Decimal `gorm:"type:numeric(30,10)"`
	PnL          decimal.Decimal `gorm:"type:numeric(30,10)"`

	Status string `gorm:"type:varchar(10);not null;default:'open';index:ix_position_user_status"`

	OpenedAt  *time.Time `gorm:"type:timestamptz"`
	ClosedAt  *time.Time `gorm:"type:timestamptz"`
	CreatedAt time.Time  `gorm:"type:timestamptz;autoCreateTime"`
	UpdatedAt time.Time  `gorm:"type:timestamptz;autoUpdateTime"`
}

func (Position) TableName() string {
	return "positions"
}
