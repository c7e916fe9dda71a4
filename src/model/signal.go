package model

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

const (
	SignalActionBuy  = "buy"
	SignalActionSell = "sell"

	SignalSourceTradingView = "tradingview"
)

// Signal is the immutable record of one inbound trade instruction.
// Rows are written once per webhook call and never updated.
type Signal struct {
	ID         uint                `gorm:"primaryKey" json:"id"`
	Action     string              `gorm:"size:10;not null" json:"action"`
	Symbol     string              `gorm:"size:50;not null;index" json:"symbol"`
	Quantity   decimal.NullDecimal `gorm:"type:numeric(20,8)" json:"quantity"`
	Price      decimal.NullDecimal `gorm:"type:numeric(20,8)" json:"price"`
	Strategy   *string             `gorm:"size:100" json:"strategy,omitempty"`
	SignalTime *time.Time          `json:"signal_time,omitempty"`
	Source     string              `gorm:"size:50;not null;default:tradingview" json:"source"`
	RawPayload datatypes.JSON      `json:"raw_payload,omitempty"`
	CreatedAt  time.Time           `json:"created_at"`
}

func (Signal) TableName() string {
	return "signals"
}

// StrategyName returns the strategy tag or an empty string when absent.
func (s Signal) StrategyName() string {
	if s.Strategy == nil {
		return ""
	}
	return *s.Strategy
}
