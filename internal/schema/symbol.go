package schema

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// NormalizeSymbol rewrites a trading pair into the venue's BASE_QUOTE form.
// Slash- and dash-delimited inputs are accepted.
func NormalizeSymbol(symbol string) string {
	trimmed := strings.TrimSpace(symbol)
	trimmed = strings.ReplaceAll(trimmed, "/", "_")
	return strings.ReplaceAll(trimmed, "-", "_")
}

// SplitSymbol parses a trading pair into its base and quote assets.
func SplitSymbol(symbol string) (base, quote string, err error) {
	normalized := NormalizeSymbol(symbol)
	parts := strings.SplitN(normalized, "_", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("schema: unsupported symbol format %q", symbol)
	}
	return parts[0], parts[1], nil
}

// RoundDownToTick rounds a price down to the venue tick size. A non-positive
// tick leaves the price untouched.
func RoundDownToTick(price, tick decimal.Decimal) decimal.Decimal {
	return roundDown(price, tick)
}

// RoundDownToStep rounds a quantity down to the venue lot step. A non-positive
// step leaves the quantity untouched.
func RoundDownToStep(quantity, step decimal.Decimal) decimal.Decimal {
	return roundDown(quantity, step)
}

// RoundUpToStep rounds a quantity up to the venue lot step, used when a
// minimum must be met rather than not exceeded.
func RoundUpToStep(quantity, step decimal.Decimal) decimal.Decimal {
	if step.Sign() <= 0 {
		return quantity
	}
	return quantity.Div(step).Ceil().Mul(step)
}

func roundDown(value, unit decimal.Decimal) decimal.Decimal {
	if unit.Sign() <= 0 {
		return value
	}
	return value.Div(unit).Floor().Mul(unit)
}
