package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	ExecutionStatusPending = "pending"
	ExecutionStatusSuccess = "success"
	ExecutionStatusFailed  = "failed"
	ExecutionStatusIgnored = "ignored"
)

// Execution stages in pipeline order. The value is the column holding the stamp.
const (
	StageSignalSent       = "signal_sent_at"
	StageReceived         = "received_at"
	StageProcessed        = "processed_at"
	StageSentToExchange   = "sent_to_exchange_at"
	StageExchangeExecuted = "exchange_executed_at"
)

// Execution records the processing of one signal through to its outcome.
type Execution struct {
	ID       uint    `gorm:"primaryKey" json:"id"`
	SignalID uint    `gorm:"index" json:"signal_id"`
	Signal   *Signal `gorm:"constraint:OnDelete:RESTRICT" json:"signal,omitempty"`

	Status   string  `gorm:"size:20;not null;default:pending;index" json:"status"`
	Action   string  `gorm:"size:10" json:"action"`
	Symbol   string  `gorm:"size:50;index" json:"symbol"`
	Strategy *string `gorm:"size:100" json:"strategy,omitempty"`

	RequestedQuantity decimal.NullDecimal `gorm:"type:numeric(20,8)" json:"requested_quantity"`
	ExecutedQuantity  decimal.NullDecimal `gorm:"type:numeric(20,8)" json:"executed_quantity"`
	ExecutedPrice     decimal.NullDecimal `gorm:"type:numeric(20,8)" json:"executed_price"`
	Fees              decimal.NullDecimal `gorm:"type:numeric(20,8)" json:"fees"`
	CommissionAsset   *string             `gorm:"size:10" json:"commission_asset,omitempty"`
	Leverage          decimal.NullDecimal `gorm:"type:numeric(10,2)" json:"leverage"`
	CapitalPercent    decimal.NullDecimal `gorm:"type:numeric(5,2)" json:"capital_percent"`
	ExchangeOrderID   *string             `gorm:"size:100" json:"exchange_order_id,omitempty"`

	ErrorCode    *string `gorm:"size:50" json:"error_code,omitempty"`
	ErrorMessage *string `gorm:"type:text" json:"error_message,omitempty"`

	// Timestamp chain, populated as the pipeline advances.
	SignalSentAt       *time.Time `json:"signal_sent_at,omitempty"`
	ReceivedAt         time.Time  `json:"received_at"`
	ProcessedAt        *time.Time `json:"processed_at,omitempty"`
	SentToExchangeAt   *time.Time `json:"sent_to_exchange_at,omitempty"`
	ExchangeExecutedAt *time.Time `json:"exchange_executed_at,omitempty"`
	CompletedAt        *time.Time `json:"completed_at,omitempty"`

	Order *Order `gorm:"foreignKey:ExecutionID" json:"order,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Execution) TableName() string {
	return "executions"
}

// Timing returns the populated stage stamps keyed by stage name.
func (e Execution) Timing() map[string]time.Time {
	out := map[string]time.Time{StageReceived: e.ReceivedAt}
	for stage, ts := range map[string]*time.Time{
		StageSignalSent:       e.SignalSentAt,
		StageProcessed:        e.ProcessedAt,
		StageSentToExchange:   e.SentToExchangeAt,
		StageExchangeExecuted: e.ExchangeExecutedAt,
	} {
		if ts != nil {
			out[stage] = *ts
		}
	}
	return out
}
