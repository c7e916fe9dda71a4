package filter

import (
	"testing"

	"signalbridge/src/model"

	"github.com/stretchr/testify/assert"
)

func strPtr(s string) *string { return &s }

func TestEvaluate(t *testing.T) {
	fullPref := model.Preference{
		Product:       strPtr("BTCUSDT"),
		Strategy:      strPtr("ALSAPRO 1"),
		DirectionMode: strPtr(model.DirectionLongShort),
	}

	tests := []struct {
		name   string
		signal model.Signal
		pref   model.Preference
		reason string
	}{
		{
			name:   "accepts matching signal",
			signal: model.Signal{Action: "buy", Symbol: "BTCUSDT", Strategy: strPtr("ALSAPRO 1")},
			pref:   fullPref,
		},
		{
			name:   "empty preference accepts anything tradable",
			signal: model.Signal{Action: "sell", Symbol: "ETHUSDT"},
			pref:   model.Preference{},
		},
		{
			name:   "product compared by base asset",
			signal: model.Signal{Action: "buy", Symbol: "BINANCE:BTCUSDT.P", Strategy: strPtr("alsapro 1 ")},
			pref:   model.Preference{Product: strPtr("BTC"), Strategy: strPtr("ALSAPRO 1")},
		},
		{
			name:   "symbol mismatch",
			signal: model.Signal{Action: "buy", Symbol: "ETHUSDT", Strategy: strPtr("ALSAPRO 1")},
			pref:   fullPref,
			reason: ReasonSymbolMismatch,
		},
		{
			name:   "strategy mismatch",
			signal: model.Signal{Action: "buy", Symbol: "BTCUSDT", Strategy: strPtr("ALSAPRO 1")},
			pref:   model.Preference{Product: strPtr("BTCUSDT"), Strategy: strPtr("OTHER")},
			reason: ReasonStrategyMismatch,
		},
		{
			name:   "missing strategy on signal mismatches a set filter",
			signal: model.Signal{Action: "buy", Symbol: "BTCUSDT"},
			pref:   fullPref,
			reason: ReasonStrategyMismatch,
		},
		{
			name:   "buy blocked in short only",
			signal: model.Signal{Action: "buy", Symbol: "BTCUSDT"},
			pref:   model.Preference{DirectionMode: strPtr(model.DirectionShortOnly)},
			reason: ReasonDirectionBlocked,
		},
		{
			name:   "sell allowed in short only",
			signal: model.Signal{Action: "sell", Symbol: "BTCUSDT"},
			pref:   model.Preference{DirectionMode: strPtr(model.DirectionShortOnly)},
		},
		{
			name:   "malformed action",
			signal: model.Signal{Action: "hold", Symbol: "BTCUSDT"},
			pref:   model.Preference{},
			reason: ReasonMalformedAction,
		},
		{
			name:   "symbol rule wins over later rules",
			signal: model.Signal{Action: "hold", Symbol: "ETHUSDT"},
			pref:   fullPref,
			reason: ReasonSymbolMismatch,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := Evaluate(tc.signal, tc.pref)
			if tc.reason == "" {
				assert.True(t, got.Accepted, got.Message)
				assert.Empty(t, got.Reason)
				return
			}
			assert.False(t, got.Accepted)
			assert.Equal(t, tc.reason, got.Reason)
			assert.NotEmpty(t, got.Message)
		})
	}
}

func TestEvaluateLongOnlyAlwaysBlocksSell(t *testing.T) {
	longOnly := strPtr(model.DirectionLongOnly)
	prefs := []model.Preference{
		{DirectionMode: longOnly},
		{DirectionMode: longOnly, Product: strPtr("ETH")},
		{DirectionMode: longOnly, Product: strPtr("BTC"), Strategy: strPtr("ALSAPRO 2")},
	}
	signals := []model.Signal{
		{Action: "sell", Symbol: "BTCUSDT", Strategy: strPtr("ALSAPRO 2")},
		{Action: "SELL", Symbol: "BINANCE:BTCUSDT.P", Strategy: strPtr("alsapro 2")},
	}

	for _, pref := range prefs {
		for _, sig := range signals {
			got := Evaluate(sig, pref)
			if pref.Product != nil && *pref.Product == "ETH" {
				// The product rule runs first and claims the rejection.
				assert.Equal(t, ReasonSymbolMismatch, got.Reason)
				continue
			}
			assert.Equal(t, ReasonDirectionBlocked, got.Reason)
		}
	}
}

func TestEvaluateIsDeterministic(t *testing.T) {
	sig := model.Signal{Action: "buy", Symbol: "BTCUSDT", Strategy: strPtr("ALSAPRO 3")}
	pref := model.Preference{Strategy: strPtr("ALSAPRO 1")}

	first := Evaluate(sig, pref)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Evaluate(sig, pref))
	}
}
