// Package sizing turns an account balance and trading preferences into an order quantity.
package sizing

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

const (
	MinExchangeLeverage = 1
	MaxExchangeLeverage = 125
)

var (
	// ErrInsufficientSize means the truncated quantity is below what the instrument accepts.
	ErrInsufficientSize = errors.New("insufficient size")
	// ErrInvalidInput covers non-positive prices, leverage or out of range allocation.
	ErrInvalidInput = errors.New("invalid sizing input")
	// ErrPrecisionUnavailable means the instrument step size is unknown.
	ErrPrecisionUnavailable = errors.New("instrument precision unavailable")
)

var hundred = decimal.NewFromInt(100)

// Precision holds the lot rules of one instrument. Zero MaxQty or MinNotional means no limit.
type Precision struct {
	StepSize    decimal.Decimal
	MinQty      decimal.Decimal
	MaxQty      decimal.Decimal
	MinNotional decimal.Decimal
}

// Input carries everything Size needs. All values are read fresh by the caller.
type Input struct {
	Available         decimal.Decimal
	AllocationPercent decimal.Decimal
	Leverage          decimal.Decimal
	MarkPrice         decimal.Decimal
	Precision         Precision
}

// Result is a sized order. Cap is the notional the quantity must not exceed.
type Result struct {
	Quantity decimal.Decimal
	Notional decimal.Decimal
	Cap      decimal.Decimal
}

// Size computes available * allocation% * leverage / mark price, truncated to the step size
// and clamped to the instrument limits. Quantities are only ever rounded down.
func Size(in Input) (Result, error) {
	if err := validatePrecision(in.Precision); err != nil {
		return Result{}, err
	}
	if !in.MarkPrice.IsPositive() {
		return Result{}, fmt.Errorf("%w: mark price %s", ErrInvalidInput, in.MarkPrice)
	}
	if in.Available.IsNegative() {
		return Result{}, fmt.Errorf("%w: available balance %s", ErrInvalidInput, in.Available)
	}
	if !in.AllocationPercent.IsPositive() || in.AllocationPercent.GreaterThan(hundred) {
		return Result{}, fmt.Errorf("%w: allocation percent %s", ErrInvalidInput, in.AllocationPercent)
	}
	if !in.Leverage.IsPositive() {
		return Result{}, fmt.Errorf("%w: leverage %s", ErrInvalidInput, in.Leverage)
	}

	budget := in.Available.Mul(in.AllocationPercent).Div(hundred).Mul(in.Leverage)
	qty := truncate(budget.Div(in.MarkPrice), in.Precision.StepSize)

	// Division rounds at the last digit; never let that push the order over the cap.
	for qty.IsPositive() && qty.Mul(in.MarkPrice).GreaterThan(budget) {
		qty = qty.Sub(in.Precision.StepSize)
	}

	qty = clampMax(qty, in.Precision)
	if err := checkMinimums(qty, in.MarkPrice, in.Precision); err != nil {
		return Result{}, err
	}

	return Result{Quantity: qty, Notional: qty.Mul(in.MarkPrice), Cap: budget}, nil
}

// FromRequested sizes a producer-supplied quantity, used when no capital allocation is configured.
func FromRequested(requested, markPrice decimal.Decimal, p Precision) (Result, error) {
	if err := validatePrecision(p); err != nil {
		return Result{}, err
	}
	if !requested.IsPositive() {
		return Result{}, fmt.Errorf("%w: requested quantity %s", ErrInvalidInput, requested)
	}
	if !markPrice.IsPositive() {
		return Result{}, fmt.Errorf("%w: mark price %s", ErrInvalidInput, markPrice)
	}

	qty := clampMax(truncate(requested, p.StepSize), p)
	if err := checkMinimums(qty, markPrice, p); err != nil {
		return Result{}, err
	}
	return Result{Quantity: qty, Notional: qty.Mul(markPrice), Cap: requested.Mul(markPrice)}, nil
}

// ExchangeLeverage converts a preference leverage into the integer the exchange accepts.
// Fractional values round up so the exchange never grants less than the sizing assumed.
func ExchangeLeverage(leverage decimal.Decimal) int {
	l := int(leverage.Ceil().IntPart())
	if l < MinExchangeLeverage {
		return MinExchangeLeverage
	}
	if l > MaxExchangeLeverage {
		return MaxExchangeLeverage
	}
	return l
}

func validatePrecision(p Precision) error {
	if !p.StepSize.IsPositive() {
		return fmt.Errorf("%w: step size %s", ErrPrecisionUnavailable, p.StepSize)
	}
	return nil
}

// truncate rounds q down to a multiple of step.
func truncate(q, step decimal.Decimal) decimal.Decimal {
	if !q.IsPositive() {
		return decimal.Zero
	}
	return q.Div(step).Floor().Mul(step)
}

func clampMax(qty decimal.Decimal, p Precision) decimal.Decimal {
	if p.MaxQty.IsPositive() && qty.GreaterThan(p.MaxQty) {
		return truncate(p.MaxQty, p.StepSize)
	}
	return qty
}

func checkMinimums(qty, markPrice decimal.Decimal, p Precision) error {
	if !qty.IsPositive() {
		return fmt.Errorf("%w: quantity truncates to zero", ErrInsufficientSize)
	}
	if qty.LessThan(p.MinQty) {
		return fmt.Errorf("%w: quantity %s below minimum %s", ErrInsufficientSize, qty, p.MinQty)
	}
	if p.MinNotional.IsPositive() && qty.Mul(markPrice).LessThan(p.MinNotional) {
		return fmt.Errorf("%w: notional %s below minimum %s", ErrInsufficientSize, qty.Mul(markPrice), p.MinNotional)
	}
	return nil
}
