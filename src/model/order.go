package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	OrderSideBuy  = "BUY"
	OrderSideSell = "SELL"

	OrderTypeMarket = "MARKET"

	OrderStatusNew             = "NEW"
	OrderStatusPartiallyFilled = "PARTIALLY_FILLED"
	OrderStatusFilled          = "FILLED"
	OrderStatusCanceled        = "CANCELED"
	OrderStatusRejected        = "REJECTED"
	OrderStatusExpired         = "EXPIRED"
)

// Order is the exchange-side detail of a submitted order.
// ExchangeOrderID is the join key for reconciliation with the exchange.
type Order struct {
	ID               uint                `gorm:"primaryKey" json:"id"`
	ExecutionID      uint                `gorm:"uniqueIndex;not null" json:"execution_id"`
	ExchangeOrderID  string              `gorm:"size:100;uniqueIndex;not null" json:"exchange_order_id"`
	ClientOrderID    string              `gorm:"size:100;index" json:"client_order_id"`
	Symbol           string              `gorm:"size:50;not null" json:"symbol"`
	Side             string              `gorm:"size:10" json:"side"`
	OrderType        string              `gorm:"size:20" json:"order_type"`
	Quantity         decimal.Decimal     `gorm:"type:numeric(20,8)" json:"quantity"`
	ExecutedQuantity decimal.Decimal     `gorm:"type:numeric(20,8)" json:"executed_quantity"`
	ExecutedPrice    decimal.Decimal     `gorm:"type:numeric(20,8)" json:"executed_price"`
	CumQuote         decimal.Decimal     `gorm:"type:numeric(20,8)" json:"cum_quote"`
	Commission       decimal.NullDecimal `gorm:"type:numeric(20,8)" json:"commission"`
	CommissionAsset  *string             `gorm:"size:10" json:"commission_asset,omitempty"`
	Status           string              `gorm:"size:20" json:"status"`
	ExchangeUpdated  *time.Time          `json:"exchange_updated_at,omitempty"`
	CreatedAt        time.Time           `json:"created_at"`
	UpdatedAt        time.Time           `json:"updated_at"`
}

func (Order) TableName() string {
	return "orders"
}
