package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Pending order statuses as normalized from broker payloads.
const (
	OrderWorking         = "working"
	OrderPartiallyFilled = "partially_filled"
	OrderCancelled       = "cancelled"
	OrderFilled          = "filled"
)

// PendingOrder tracks a resting order at a broker. OrderID is the broker's
// identifier and is globally unique, so repeated syncs upsert in place.
type PendingOrder struct {
	ID         uint64 `gorm:"primaryKey;autoIncrement"`
	UserID     uint64 `gorm:"not null;index"`
	TradableID uint64 `gorm:"not null;index"`

	OrderID   string `gorm:"type:varchar(100);not null;uniqueIndex"`
	OrderType string `gorm:"type:varchar(20);not null"`
	Side      string `gorm:"type:varchar(10);not null"`
	Status    string `gorm:"type:varchar(30);not null;index"`

	OriginalQuantity  decimal.Decimal `gorm:"type:numeric(30,10);not null"`
	ExecutedQuantity  decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0"`
	RemainingQuantity decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0"`

	Price     *decimal.Decimal `gorm:"type:numeric(30,10)"`
	StopPrice *decimal.Decimal `gorm:"type:numeric(30,10)"`

	ExpiresAt *time.Time `gorm:"type:timestamptz"`

	// Raw broker payload kept for troubleshooting mismatches.
	RawPayload datatypes.JSON `gorm:"type:jsonb"`

	PlacedAt  *time.Time `gorm:"type:timestamptz"`
	CreatedAt time.Time  `gorm:"type:timestamptz;autoCreateTime"`
	UpdatedAt time.Time  `gorm:"type:timestamptz;autoUpdateTime"`
}

func (PendingOrder) TableName() string {
	return "pending_orders"
}

// FillPercentage returns executed/original as a percentage clamped to
// [0, 100]. Zero original quantity yields 0.
func (o *PendingOrder) FillPercentage() float64 {
	if o == nil || o.OriginalQuantity.IsZero() {
		return 0
	}
	pct, _ := o.ExecutedQuantity.Div(o.OriginalQuantity).Mul(decimal.NewFromInt(100)).Float64()
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}
