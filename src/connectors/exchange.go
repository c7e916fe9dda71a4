package connectors

import (
	"context"
	"time"

	"signalbridge/src/sizing"

	"github.com/shopspring/decimal"
)

// Balance is the USDT-margined futures wallet state.
type Balance struct {
	Available     decimal.Decimal
	Wallet        decimal.Decimal
	UnrealizedPnl decimal.Decimal
	MarginBalance decimal.Decimal
	CanTrade      bool
}

// OrderRequest is a market order. Side is BUY or SELL.
type OrderRequest struct {
	Symbol        string
	Side          string
	Quantity      decimal.Decimal
	ClientOrderID string
}

// OrderResult is the exchange acknowledgement of a market order.
type OrderResult struct {
	OrderID          string
	ClientOrderID    string
	Symbol           string
	Side             string
	Status           string
	OrigQuantity     decimal.Decimal
	ExecutedQuantity decimal.Decimal
	ExecutedPrice    decimal.Decimal
	CumQuote         decimal.Decimal
	Fees             decimal.NullDecimal
	FeeAsset         string
	UpdatedAt        time.Time
}

// PositionInfo is one open position as reported by the exchange. Size is absolute.
type PositionInfo struct {
	Symbol        string
	Side          string
	Size          decimal.Decimal
	EntryPrice    decimal.Decimal
	MarkPrice     decimal.Decimal
	UnrealizedPnl decimal.Decimal
	Leverage      int
	MarginType    string
}

// Fees is the commission charged on the fills of one order.
type Fees struct {
	Commission decimal.Decimal
	Asset      string
}

// ExchangeClient is the contract the pipeline and refresher rely on.
// Every failure is returned as *ExchangeError.
type ExchangeClient interface {
	GetAccountBalance(ctx context.Context) (Balance, error)
	GetInstrumentPrecision(ctx context.Context, symbol string) (sizing.Precision, error)
	GetMarkPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
	SetLeverage(ctx context.Context, symbol string, leverage int) error
	SubmitMarketOrder(ctx context.Context, req OrderRequest) (*OrderResult, error)
	GetPositions(ctx context.Context) ([]PositionInfo, error)
	GetOrderFees(ctx context.Context, symbol, orderID string) (Fees, error)
}

// Limiter gates outbound requests. Allow must not block.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}
