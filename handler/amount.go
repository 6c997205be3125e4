package handler

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"github.com/hexresearch/hexstody-sub000/model"
)

// FormatAmount renders a base unit amount in the currency's display unit.
func FormatAmount(cur model.Currency, amount int64) string {
	return decimal.New(amount, cur.Exponent()).String()
}

// ParseAmount reads a display unit amount into base units. More decimals
// than the base unit allows is an error.
func ParseAmount(cur model.Currency, s string) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("amount %q: %w", s, err)
	}
	base := d.Shift(-cur.Exponent())
	if !base.IsInteger() {
		return 0, fmt.Errorf("amount %q has too many decimals for %s", s, cur.Ticker())
	}
	if base.GreaterThan(decimal.NewFromInt(math.MaxInt64)) || base.LessThan(decimal.NewFromInt(math.MinInt64)) {
		return 0, fmt.Errorf("amount %q out of range", s)
	}
	return base.IntPart(), nil
}
