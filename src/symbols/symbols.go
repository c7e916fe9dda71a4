// Package symbols normalises tickers sent by charting services into exchange symbols.
package symbols

import (
	"strings"
	"unicode"

	"github.com/nntaoli-project/goex"
)

// quoteAssets are matched as suffixes, longest first so USDT wins over USD.
var quoteAssets = []string{"FDUSD", "USDT", "USDC", "BUSD", "USD"}

var separators = strings.NewReplacer("_", "", "/", "", "-", "", " ", "")

// Normalize strips the venue prefix, contract suffix and separators.
//
//	BINANCE:BTCUSDT.P -> BTCUSDT
//	btc_usdt          -> BTCUSDT
//	BTCUSDTPERP       -> BTCUSDT
func Normalize(raw string) string {
	s := strings.ToUpper(strings.TrimSpace(raw))
	if i := strings.LastIndex(s, ":"); i >= 0 {
		s = s[i+1:]
	}
	if i := strings.Index(s, "."); i >= 0 {
		s = s[:i]
	}
	s = separators.Replace(s)
	if len(s) > len("PERP") {
		s = strings.TrimSuffix(s, "PERP")
	}
	return s
}

// Pair splits a ticker into base and quote currency.
// A ticker without a known quote is treated as a bare base asset quoted in USDT.
func Pair(raw string) goex.CurrencyPair {
	s := Normalize(raw)
	for _, quote := range quoteAssets {
		if strings.HasSuffix(s, quote) && len(s) > len(quote) {
			return goex.NewCurrencyPair(
				goex.Currency{Symbol: strings.TrimSuffix(s, quote)},
				goex.Currency{Symbol: quote},
			)
		}
	}
	return goex.NewCurrencyPair(goex.Currency{Symbol: s}, goex.Currency{Symbol: "USDT"})
}

// Base returns the base asset with non-letters removed (BTCUSDT -> BTC, "DJ 30" -> DJ).
func Base(raw string) string {
	base := Pair(raw).CurrencyA.Symbol
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) {
			return r
		}
		return -1
	}, base)
}

// ExchangeSymbol returns the USDT-margined futures symbol for a ticker.
// USD quoted tickers are mapped onto their USDT contract.
func ExchangeSymbol(raw string) string {
	pair := Pair(raw)
	if pair.CurrencyB.Symbol == "USD" {
		pair = goex.NewCurrencyPair(pair.CurrencyA, goex.Currency{Symbol: "USDT"})
	}
	return pair.ToSymbol("")
}

// SameProduct reports whether two tickers refer to the same base asset.
func SameProduct(a, b string) bool {
	baseA, baseB := Base(a), Base(b)
	return baseA != "" && strings.EqualFold(baseA, baseB)
}
