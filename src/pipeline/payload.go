package pipeline

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"signalbridge/src/model"
	"signalbridge/src/symbols"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// ErrInvalidPayload is matched by every decode failure.
var ErrInvalidPayload = errors.New("invalid payload")

// PassphraseField is the body field that may carry the webhook secret.
// It is never stored with the signal.
const PassphraseField = "passphrase"

// InvalidPayloadError describes why a webhook body was refused. Identifiable is
// set when action and symbol were readable, so the attempt can still be recorded.
type InvalidPayloadError struct {
	Reason       string
	Identifiable bool
}

func (e *InvalidPayloadError) Error() string {
	return "invalid payload: " + e.Reason
}

func (e *InvalidPayloadError) Unwrap() error {
	return ErrInvalidPayload
}

// Payload is a decoded webhook body.
type Payload struct {
	Action   string
	Symbol   string
	Quantity decimal.NullDecimal
	Price    decimal.NullDecimal
	Strategy *string
	Time     *time.Time
	Raw      json.RawMessage
}

// Signal builds the row stored for this payload.
func (p Payload) Signal() *model.Signal {
	signal := &model.Signal{
		Action:     p.Action,
		Symbol:     p.Symbol,
		Quantity:   p.Quantity,
		Price:      p.Price,
		Strategy:   p.Strategy,
		SignalTime: p.Time,
		Source:     model.SignalSourceTradingView,
	}
	if json.Valid(p.Raw) {
		signal.RawPayload = datatypes.JSON(p.Raw)
	}
	return signal
}

// Decode validates a webhook body. Quantity and price may be JSON numbers or
// numeric strings. On failure the returned Payload holds whatever was readable.
func Decode(raw []byte) (Payload, error) {
	payload := Payload{Raw: json.RawMessage(raw)}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return payload, &InvalidPayloadError{Reason: "body is not a JSON object"}
	}
	if _, ok := fields[PassphraseField]; ok {
		delete(fields, PassphraseField)
		redacted, err := json.Marshal(fields)
		if err != nil {
			return payload, &InvalidPayloadError{Reason: "body is not a JSON object"}
		}
		payload.Raw = redacted
	}

	action, actionErr := stringField(fields, "action")
	symbol, symbolErr := stringField(fields, "symbol")
	payload.Action = strings.ToLower(action)
	payload.Symbol = symbols.Normalize(symbol)

	identifiable := actionErr == nil && symbolErr == nil && payload.Action != "" && payload.Symbol != ""
	fail := func(format string, args ...interface{}) (Payload, error) {
		return payload, &InvalidPayloadError{Reason: fmt.Sprintf(format, args...), Identifiable: identifiable}
	}

	switch {
	case actionErr != nil:
		return fail("%v", actionErr)
	case symbolErr != nil:
		return fail("%v", symbolErr)
	case payload.Action == "":
		return fail("missing action")
	case payload.Symbol == "":
		return fail("missing symbol")
	}

	qty, err := decimalField(fields, "quantity")
	if err != nil {
		return fail("%v", err)
	}
	if qty.Valid && !qty.Decimal.IsPositive() {
		return fail("quantity must be positive")
	}
	payload.Quantity = qty

	price, err := decimalField(fields, "price")
	if err != nil {
		return fail("%v", err)
	}
	if price.Valid && price.Decimal.IsNegative() {
		return fail("price must not be negative")
	}
	payload.Price = price

	strategy, err := stringField(fields, "strategy")
	if err != nil {
		return fail("%v", err)
	}
	if strategy != "" {
		payload.Strategy = &strategy
	}

	ts, err := stringField(fields, "time")
	if err != nil {
		return fail("%v", err)
	}
	if ts != "" {
		t, err := time.Parse(time.RFC3339, ts)
		if err != nil {
			return fail("time %q is not RFC3339", ts)
		}
		t = t.UTC()
		payload.Time = &t
	}

	if payload.Action != model.SignalActionBuy && payload.Action != model.SignalActionSell {
		return fail("unsupported action %q", action)
	}

	return payload, nil
}

func isNull(v json.RawMessage) bool {
	return len(v) == 0 || string(v) == "null"
}

func stringField(fields map[string]json.RawMessage, name string) (string, error) {
	v, ok := fields[name]
	if !ok || isNull(v) {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return "", fmt.Errorf("%s must be a string", name)
	}
	return strings.TrimSpace(s), nil
}

func decimalField(fields map[string]json.RawMessage, name string) (decimal.NullDecimal, error) {
	v, ok := fields[name]
	if !ok || isNull(v) {
		return decimal.NullDecimal{}, nil
	}

	text := string(v)
	if v[0] == '"' {
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return decimal.NullDecimal{}, fmt.Errorf("%s must be a number", name)
		}
		text = strings.TrimSpace(s)
		if text == "" {
			return decimal.NullDecimal{}, nil
		}
	}

	d, err := decimal.NewFromString(text)
	if err != nil {
		return decimal.NullDecimal{}, fmt.Errorf("%s must be a number", name)
	}
	return decimal.NewNullDecimal(d), nil
}
