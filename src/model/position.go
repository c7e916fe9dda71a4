package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	PositionSideLong  = "LONG"
	PositionSideShort = "SHORT"
)

// Position is the cached view of an exchange position.
// At most one active row exists per (symbol, side); closed rows keep history.
type Position struct {
	ID            uint                `gorm:"primaryKey" json:"id"`
	Symbol        string              `gorm:"size:50;not null" json:"symbol"`
	Side          string              `gorm:"size:10;not null" json:"side"`
	Size          decimal.Decimal     `gorm:"type:numeric(20,8);not null" json:"size"`
	EntryPrice    decimal.Decimal     `gorm:"type:numeric(20,8)" json:"entry_price"`
	MarkPrice     decimal.NullDecimal `gorm:"type:numeric(20,8)" json:"mark_price"`
	UnrealizedPnl decimal.NullDecimal `gorm:"type:numeric(20,8)" json:"unrealized_pnl"`
	Leverage      int                 `json:"leverage"`
	MarginType    string              `gorm:"size:20" json:"margin_type"`
	IsActive      bool                `gorm:"not null;default:true;index" json:"is_active"`
	OpenedAt      time.Time           `json:"opened_at"`
	ClosedAt      *time.Time          `json:"closed_at,omitempty"`
	CreatedAt     time.Time           `json:"created_at"`
	UpdatedAt     time.Time           `json:"updated_at"`
}

func (Position) TableName() string {
	return "positions"
}

// SideForAction maps a signal action to the position side it moves toward.
// A fill first reduces the opposite side before growing this one.
func SideForAction(action string) string {
	if action == SignalActionSell {
		return PositionSideShort
	}
	return PositionSideLong
}
