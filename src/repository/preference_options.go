package repository

import (
	"errors"
	"fmt"
	"strings"

	"signalbridge/src/model"
	"signalbridge/src/symbols"

	"github.com/shopspring/decimal"
)

// ErrInvalidPreference is returned for unknown fields or values outside the allowed options.
var ErrInvalidPreference = errors.New("invalid preference")

var (
	ProductOptions = []string{
		"BTC", "ETH", "XRP", "SOL", "BNB", "DOGE",
		"NIFTY", "BANKNIFTY", "NASDAQ", "S&P", "DJ 30", "OPTIONS",
	}
	StrategyOptions  = []string{"ALSAPRO 1", "ALSAPRO 2", "ALSAPRO 3", "ALSAPRO 4", "ALSAPRO 5"}
	DirectionOptions = []string{model.DirectionLongShort, model.DirectionLongOnly, model.DirectionShortOnly}
	LeverageOptions  = []decimal.Decimal{
		decimal.RequireFromString("0.5"),
		decimal.NewFromInt(1),
		decimal.NewFromInt(2),
		decimal.NewFromInt(3),
		decimal.NewFromInt(4),
		decimal.NewFromInt(5),
	}
	CapitalMin = decimal.NewFromInt(1)
	CapitalMax = decimal.NewFromInt(100)
)

// Options is the catalogue exposed to preference editors.
type Options struct {
	Products     []string          `json:"products"`
	Strategies   []string          `json:"strategies"`
	Directions   []string          `json:"directions"`
	Leverages    []decimal.Decimal `json:"leverages"`
	CapitalRange struct {
		Min decimal.Decimal `json:"min"`
		Max decimal.Decimal `json:"max"`
	} `json:"capital_range"`
}

func PreferenceOptions() Options {
	opts := Options{
		Products:   ProductOptions,
		Strategies: StrategyOptions,
		Directions: DirectionOptions,
		Leverages:  LeverageOptions,
	}
	opts.CapitalRange.Min = CapitalMin
	opts.CapitalRange.Max = CapitalMax
	return opts
}

// normalizePreferenceValue validates value for field and returns the column value to store
// (nil clears the column) and its audit representation.
func normalizePreferenceValue(field string, value interface{}) (interface{}, *string, error) {
	switch field {
	case model.PreferenceFieldProduct:
		s, ok, err := optionalString(value)
		if err != nil || !ok {
			return nil, nil, err
		}
		if !containsFold(ProductOptions, s) && !containsFold(ProductOptions, symbols.Base(s)) {
			return nil, nil, fmt.Errorf("%w: unsupported product %q", ErrInvalidPreference, s)
		}
		return s, &s, nil

	case model.PreferenceFieldStrategy:
		s, ok, err := optionalString(value)
		if err != nil || !ok {
			return nil, nil, err
		}
		if !containsFold(StrategyOptions, s) {
			return nil, nil, fmt.Errorf("%w: unsupported strategy %q", ErrInvalidPreference, s)
		}
		return s, &s, nil

	case model.PreferenceFieldDirectionMode:
		s, ok, err := optionalString(value)
		if err != nil {
			return nil, nil, err
		}
		if !ok || !contains(DirectionOptions, s) {
			return nil, nil, fmt.Errorf("%w: unsupported direction mode %v", ErrInvalidPreference, value)
		}
		return s, &s, nil

	case model.PreferenceFieldLeverage:
		d, err := toDecimal(value)
		if err != nil {
			return nil, nil, err
		}
		for _, allowed := range LeverageOptions {
			if allowed.Equal(d) {
				s := d.String()
				return decimal.NewNullDecimal(d), &s, nil
			}
		}
		return nil, nil, fmt.Errorf("%w: unsupported leverage %s", ErrInvalidPreference, d)

	case model.PreferenceFieldCapital:
		d, err := toDecimal(value)
		if err != nil {
			return nil, nil, err
		}
		if d.LessThan(CapitalMin) || d.GreaterThan(CapitalMax) {
			return nil, nil, fmt.Errorf("%w: capital allocation must be between %s and %s", ErrInvalidPreference, CapitalMin, CapitalMax)
		}
		s := d.String()
		return decimal.NewNullDecimal(d), &s, nil
	}

	return nil, nil, fmt.Errorf("%w: unknown field %q", ErrInvalidPreference, field)
}

// optionalString accepts a string or nil. An empty string counts as unset.
func optionalString(value interface{}) (string, bool, error) {
	switch v := value.(type) {
	case nil:
		return "", false, nil
	case string:
		v = strings.TrimSpace(v)
		return v, v != "", nil
	case *string:
		if v == nil {
			return "", false, nil
		}
		return optionalString(*v)
	}
	return "", false, fmt.Errorf("%w: expected a string, got %T", ErrInvalidPreference, value)
}

func toDecimal(value interface{}) (decimal.Decimal, error) {
	switch v := value.(type) {
	case decimal.Decimal:
		return v, nil
	case float64:
		return decimal.NewFromFloat(v), nil
	case int:
		return decimal.NewFromInt(int64(v)), nil
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(v))
		if err != nil {
			return decimal.Zero, fmt.Errorf("%w: %q is not a number", ErrInvalidPreference, v)
		}
		return d, nil
	}
	return decimal.Zero, fmt.Errorf("%w: expected a number, got %T", ErrInvalidPreference, value)
}

func contains(options []string, s string) bool {
	for _, o := range options {
		if o == s {
			return true
		}
	}
	return false
}

func containsFold(options []string, s string) bool {
	for _, o := range options {
		if strings.EqualFold(o, s) {
			return true
		}
	}
	return false
}
