package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	SnapshotTriggerManual    = "manual"
	SnapshotTriggerScheduled = "scheduled"
	SnapshotTriggerPostTrade = "post_trade"
	SnapshotTriggerError     = "error"
)

// AccountSnapshot is an append-only balance capture.
type AccountSnapshot struct {
	ID                 uint                `gorm:"primaryKey" json:"id"`
	Asset              string              `gorm:"size:10;not null;default:USDT" json:"asset"`
	AvailableBalance   decimal.NullDecimal `gorm:"type:numeric(20,8)" json:"available_balance"`
	TotalWalletBalance decimal.NullDecimal `gorm:"type:numeric(20,8)" json:"total_wallet_balance"`
	UnrealizedProfit   decimal.NullDecimal `gorm:"type:numeric(20,8)" json:"total_unrealized_profit"`
	MarginBalance      decimal.NullDecimal `gorm:"type:numeric(20,8)" json:"total_margin_balance"`
	CanTrade           bool                `gorm:"default:true" json:"can_trade"`
	Trigger            string              `gorm:"size:20;not null;index" json:"trigger"`
	TriggerDetails     *string             `gorm:"type:text" json:"trigger_details,omitempty"`
	CreatedAt          time.Time           `gorm:"index" json:"created_at"`
}

func (AccountSnapshot) TableName() string {
	return "account_snapshots"
}
