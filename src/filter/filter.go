// Package filter decides whether an inbound signal may trade under the current preferences.
package filter

import (
	"fmt"
	"strings"

	"signalbridge/src/model"
	"signalbridge/src/symbols"
)

// Rejection reasons, in the order the rules are evaluated.
const (
	ReasonSymbolMismatch   = "symbol_mismatch"
	ReasonStrategyMismatch = "strategy_mismatch"
	ReasonDirectionBlocked = "direction_blocked"
	ReasonMalformedAction  = "malformed_action"
)

// Verdict is the outcome of Evaluate. Reason is empty when the signal is accepted.
type Verdict struct {
	Accepted bool
	Reason   string
	Message  string
}

func accept() Verdict {
	return Verdict{Accepted: true}
}

func reject(reason, format string, args ...interface{}) Verdict {
	return Verdict{Reason: reason, Message: fmt.Sprintf(format, args...)}
}

// Evaluate applies the preference rules to a signal. The first failing rule wins.
// It only reads its arguments, so the same inputs always give the same verdict.
func Evaluate(signal model.Signal, pref model.Preference) Verdict {
	if pref.Product != nil && strings.TrimSpace(*pref.Product) != "" {
		if !symbols.SameProduct(*pref.Product, signal.Symbol) {
			return reject(ReasonSymbolMismatch,
				"Product mismatch (selected %s, signal %s)", *pref.Product, signal.Symbol)
		}
	}

	if pref.Strategy != nil && strings.TrimSpace(*pref.Strategy) != "" {
		selected := strings.TrimSpace(*pref.Strategy)
		incoming := strings.TrimSpace(signal.StrategyName())
		if !strings.EqualFold(selected, incoming) {
			return reject(ReasonStrategyMismatch,
				"Strategy mismatch (selected %s, signal %s)", selected, displayOrNone(incoming))
		}
	}

	action := strings.ToLower(strings.TrimSpace(signal.Action))
	direction := pref.Direction()
	if action == model.SignalActionBuy && direction == model.DirectionShortOnly {
		return reject(ReasonDirectionBlocked, "Long entries are disabled (direction mode %s)", direction)
	}
	if action == model.SignalActionSell && direction == model.DirectionLongOnly {
		return reject(ReasonDirectionBlocked, "Short entries are disabled (direction mode %s)", direction)
	}

	if action != model.SignalActionBuy && action != model.SignalActionSell {
		return reject(ReasonMalformedAction, "Unsupported action %q", signal.Action)
	}

	return accept()
}

func displayOrNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}
