package mapper

import (
	"strings"
	"time"

	"signalbridge/src/connectors"
	"signalbridge/src/model"
	"signalbridge/src/repository"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
)

// OrderSide maps a signal action to the exchange order side.
func OrderSide(action string) string {
	if strings.EqualFold(action, model.SignalActionSell) {
		return model.OrderSideSell
	}
	return model.OrderSideBuy
}

// MapOrderResultToModel converts an exchange acknowledgement into the order row of an execution.
// Missing quantities fall back to the requested size so the row never records a zero fill.
func MapOrderResultToModel(res *connectors.OrderResult, executionID uint, requested decimal.Decimal) *model.Order {
	if res == nil {
		logger.WithField("mapper", "MapOrderResultToModel").Error("Nil OrderResult received")
		return nil
	}

	origQty := res.OrigQuantity
	if origQty.IsZero() {
		origQty = requested
	}
	executedQty := res.ExecutedQuantity
	if executedQty.IsZero() && res.Status == model.OrderStatusFilled {
		executedQty = origQty
	}

	var updated *time.Time
	if !res.UpdatedAt.IsZero() {
		t := res.UpdatedAt
		updated = &t
	}

	order := &model.Order{
		ExecutionID:      executionID,
		ExchangeOrderID:  res.OrderID,
		ClientOrderID:    res.ClientOrderID,
		Symbol:           res.Symbol,
		Side:             res.Side,
		OrderType:        model.OrderTypeMarket,
		Quantity:         origQty,
		ExecutedQuantity: executedQty,
		ExecutedPrice:    res.ExecutedPrice,
		CumQuote:         res.CumQuote,
		Commission:       res.Fees,
		Status:           res.Status,
		ExchangeUpdated:  updated,
	}
	if res.FeeAsset != "" {
		asset := res.FeeAsset
		order.CommissionAsset = &asset
	}

	logger.WithFields(map[string]interface{}{
		"mapper":            "MapOrderResultToModel",
		"execution_id":      executionID,
		"exchange_order_id": res.OrderID,
		"symbol":            res.Symbol,
		"side":              res.Side,
	}).Debug("Order result mapped to model")

	return order
}

// MapPositionInfo converts an exchange position into the repository sync state.
func MapPositionInfo(p connectors.PositionInfo) repository.PositionState {
	return repository.PositionState{
		Symbol:        p.Symbol,
		Side:          p.Side,
		Size:          p.Size,
		EntryPrice:    p.EntryPrice,
		MarkPrice:     p.MarkPrice,
		UnrealizedPnl: p.UnrealizedPnl,
		Leverage:      p.Leverage,
		MarginType:    p.MarginType,
	}
}

// MapBalanceToSnapshot builds an account snapshot row for the given trigger.
func MapBalanceToSnapshot(b connectors.Balance, trigger string, details string) *model.AccountSnapshot {
	snapshot := &model.AccountSnapshot{
		Asset:              "USDT",
		AvailableBalance:   decimal.NewNullDecimal(b.Available),
		TotalWalletBalance: decimal.NewNullDecimal(b.Wallet),
		UnrealizedProfit:   decimal.NewNullDecimal(b.UnrealizedPnl),
		MarginBalance:      decimal.NewNullDecimal(b.MarginBalance),
		CanTrade:           b.CanTrade,
		Trigger:            trigger,
	}
	if details != "" {
		snapshot.TriggerDetails = &details
	}
	return snapshot
}
