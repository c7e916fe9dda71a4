// Package recorder persists the lifecycle of an execution: the signal, the
// timestamp chain, and exactly one final outcome.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"signalbridge/src/model"
	"signalbridge/src/repository"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

var (
	// ErrAlreadyCompleted is returned when an execution already left pending.
	ErrAlreadyCompleted = errors.New("execution already completed")
	// ErrInvalidOutcome is returned for outcomes that would break the execution invariants.
	ErrInvalidOutcome = errors.New("invalid execution outcome")
)

// Handle identifies an execution in flight. It is owned by one pipeline run.
type Handle struct {
	ExecutionID uint
	SignalID    uint
	ReceivedAt  time.Time
	last        time.Time
}

// Outcome is the final state written by Complete.
type Outcome struct {
	Status            string
	ErrorCode         string
	ErrorMessage      string
	RequestedQuantity decimal.NullDecimal
	ExecutedQuantity  decimal.NullDecimal
	ExecutedPrice     decimal.NullDecimal
	Fees              decimal.NullDecimal
	CommissionAsset   string
	Leverage          decimal.NullDecimal
	CapitalPercent    decimal.NullDecimal
	Order             *model.Order
}

type Recorder struct {
	db  *gorm.DB
	now func() time.Time
}

func New(db *gorm.DB) *Recorder {
	return &Recorder{db: db, now: time.Now}
}

// Begin stores the signal and a pending execution in one transaction.
// A producer timestamp later than receivedAt is clamped so the chain stays ordered.
func (r *Recorder) Begin(ctx context.Context, signal *model.Signal, receivedAt time.Time) (*Handle, error) {
	var h *Handle
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		h, err = begin(ctx, tx, signal, receivedAt)
		return err
	})
	if err != nil {
		return nil, err
	}
	return h, nil
}

func begin(ctx context.Context, tx *gorm.DB, signal *model.Signal, receivedAt time.Time) (*Handle, error) {
	receivedAt = receivedAt.UTC()

	if err := repository.NewSignalRepository().WithDB(tx).Create(ctx, signal); err != nil {
		return nil, fmt.Errorf("store signal: %w", err)
	}

	execution := model.Execution{
		SignalID:          signal.ID,
		Status:            model.ExecutionStatusPending,
		Action:            signal.Action,
		Symbol:            signal.Symbol,
		Strategy:          signal.Strategy,
		RequestedQuantity: signal.Quantity,
		ReceivedAt:        receivedAt,
	}
	if signal.SignalTime != nil {
		sent := signal.SignalTime.UTC()
		if sent.After(receivedAt) {
			sent = receivedAt
		}
		execution.SignalSentAt = &sent
	}

	if err := repository.NewExecutionRepository().WithDB(tx).Create(ctx, &execution); err != nil {
		return nil, fmt.Errorf("store execution: %w", err)
	}

	return &Handle{
		ExecutionID: execution.ID,
		SignalID:    signal.ID,
		ReceivedAt:  receivedAt,
		last:        receivedAt,
	}, nil
}

// Advance stamps one stage. Stamps earlier than the previous one are raised to it.
func (r *Recorder) Advance(ctx context.Context, h *Handle, stage string, ts time.Time) error {
	ts = ts.UTC()
	if ts.Before(h.last) {
		ts = h.last
	}
	if err := repository.NewExecutionRepository().WithDB(r.db).SetStage(ctx, h.ExecutionID, stage, ts); err != nil {
		return fmt.Errorf("advance execution %d to %s: %w", h.ExecutionID, stage, err)
	}
	h.last = ts
	return nil
}

func validateOutcome(out Outcome) error {
	switch out.Status {
	case model.ExecutionStatusSuccess:
		if out.Order == nil {
			return fmt.Errorf("%w: success without an order", ErrInvalidOutcome)
		}
	case model.ExecutionStatusFailed, model.ExecutionStatusIgnored:
		if out.Order != nil {
			return fmt.Errorf("%w: %s outcome with an order", ErrInvalidOutcome, out.Status)
		}
		if out.ErrorCode == "" {
			return fmt.Errorf("%w: %s outcome without error code", ErrInvalidOutcome, out.Status)
		}
	default:
		return fmt.Errorf("%w: status %q", ErrInvalidOutcome, out.Status)
	}
	return nil
}

// Complete writes the order (if any) and the final execution state in one transaction.
// Only a pending execution can be completed; a second call returns ErrAlreadyCompleted
// and leaves the first outcome untouched.
func (r *Recorder) Complete(ctx context.Context, h *Handle, out Outcome) error {
	if err := validateOutcome(out); err != nil {
		return err
	}

	var completedAt time.Time
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		completedAt, err = r.complete(ctx, tx, h, out)
		return err
	})
	if err != nil {
		return err
	}

	logCompleted(h, out)
	h.last = completedAt
	return nil
}

func (r *Recorder) complete(ctx context.Context, tx *gorm.DB, h *Handle, out Outcome) (time.Time, error) {
	if err := validateOutcome(out); err != nil {
		return time.Time{}, err
	}

	completedAt := r.now().UTC()
	if completedAt.Before(h.last) {
		completedAt = h.last
	}

	updates := map[string]interface{}{
		"status":            out.Status,
		"completed_at":      completedAt,
		"executed_quantity": out.ExecutedQuantity,
		"executed_price":    out.ExecutedPrice,
		"fees":              out.Fees,
		"leverage":          out.Leverage,
		"capital_percent":   out.CapitalPercent,
		"error_code":        nullableString(out.ErrorCode),
		"error_message":     nullableString(out.ErrorMessage),
		"commission_asset":  nullableString(out.CommissionAsset),
	}
	if out.RequestedQuantity.Valid {
		updates["requested_quantity"] = out.RequestedQuantity
	}

	if out.Order != nil {
		out.Order.ExecutionID = h.ExecutionID
		if err := repository.NewOrderRepository().WithDB(tx).Create(ctx, out.Order); err != nil {
			return time.Time{}, fmt.Errorf("store order: %w", err)
		}
		updates["exchange_order_id"] = out.Order.ExchangeOrderID
	}

	n, err := repository.NewExecutionRepository().WithDB(tx).CompletePending(ctx, h.ExecutionID, updates)
	if err != nil {
		return time.Time{}, fmt.Errorf("complete execution: %w", err)
	}
	if n == 0 {
		return time.Time{}, ErrAlreadyCompleted
	}
	return completedAt, nil
}

func logCompleted(h *Handle, out Outcome) {
	logger.WithFields(map[string]interface{}{
		"component":    "recorder",
		"execution_id": h.ExecutionID,
		"status":       out.Status,
		"error_code":   out.ErrorCode,
	}).Info("Execution completed")
}

// RecordInvalid stores a signal that could be identified but not processed.
// The signal and its failed execution are written in one transaction, so no
// pending execution is left behind when the write fails.
func (r *Recorder) RecordInvalid(
	ctx context.Context,
	signal *model.Signal,
	receivedAt time.Time,
	code string,
	message string,
) (*Handle, error) {
	out := Outcome{
		Status:       model.ExecutionStatusFailed,
		ErrorCode:    code,
		ErrorMessage: message,
	}

	var (
		h           *Handle
		completedAt time.Time
	)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if h, err = begin(ctx, tx, signal, receivedAt); err != nil {
			return err
		}
		completedAt, err = r.complete(ctx, tx, h, out)
		return err
	})
	if err != nil {
		return nil, err
	}

	logCompleted(h, out)
	h.last = completedAt
	return h, nil
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
