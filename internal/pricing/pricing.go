// Package pricing holds the fee and profitability math used by the ladder engine.
package pricing

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/riptide-labs/riptide/internal/schema"
)

var one = decimal.NewFromInt(1)

const thresholdPlaces = 24

// divCeil divides n by d rounding the quotient up at a fixed precision, so a
// returned break-even threshold is never below the true one.
func divCeil(n, d decimal.Decimal) decimal.Decimal {
	q := n.DivRound(d, thresholdPlaces)
	if q.Mul(d).LessThan(n) {
		q = q.Add(decimal.New(1, -thresholdPlaces))
	}
	return q
}

// MinProfitableSellPrice returns the lowest sell price that still clears a
// round trip bought at buyPrice after paying the fee on both legs plus the
// safety buffer:
//
//	sell * (1 - fee - buffer) >= buy * (1 + fee)
func MinProfitableSellPrice(buyPrice, feeRate, buffer decimal.Decimal) decimal.Decimal {
	cost := buyPrice.Mul(one.Add(feeRate))
	return divCeil(cost, one.Sub(feeRate).Sub(buffer))
}

// MinProfitableStep returns the smallest ladder spacing (as a fraction of the
// buy price) at which a buy-then-sell round trip is not a loss after fees.
func MinProfitableStep(feeRate, buffer decimal.Decimal) decimal.Decimal {
	numerator := one.Add(feeRate)
	denominator := one.Sub(feeRate).Sub(buffer)
	return divCeil(numerator, denominator).Sub(one)
}

// GridProfit returns the net quote-currency proceeds of a completed round
// trip: sell revenue after fees minus buy cost including fees.
func GridProfit(buyPrice, sellPrice, quantity, feeRate decimal.Decimal) decimal.Decimal {
	buyCost := buyPrice.Mul(quantity).Mul(one.Add(feeRate))
	sellRevenue := sellPrice.Mul(quantity).Mul(one.Sub(feeRate))
	return sellRevenue.Sub(buyCost)
}

// ProfitableLevel reports whether selling at sellPrice what was bought at
// buyPrice clears fees and the buffer.
func ProfitableLevel(buyPrice, sellPrice, feeRate, buffer decimal.Decimal) bool {
	return sellPrice.GreaterThanOrEqual(MinProfitableSellPrice(buyPrice, feeRate, buffer))
}

// MeetsMinNotional reports whether price*quantity reaches the venue minimum.
func MeetsMinNotional(price, quantity, minNotional decimal.Decimal) bool {
	return price.Mul(quantity).GreaterThanOrEqual(minNotional)
}

// MinQuantityForNotional returns the smallest quantity whose after-fee
// notional at price still reaches minNotional, rounded up to step when a
// positive step is given.
func MinQuantityForNotional(price, minNotional, feeRate, step decimal.Decimal) decimal.Decimal {
	if price.Sign() <= 0 {
		return decimal.Zero
	}
	denominator := price.Mul(one.Sub(feeRate))
	if denominator.Sign() <= 0 {
		return decimal.Zero
	}
	quantity := minNotional.Div(denominator)
	return schema.RoundUpToStep(quantity, step)
}

// ValidatePlacement checks an order against its paired counter-order before
// submission. opposingPrice is where the round trip completes: the planned
// sell for a buy order, the recorded cost basis for a sell order. It returns
// ok=false with a reason string when the placement must be skipped.
func ValidatePlacement(side schema.Side, price, quantity, opposingPrice, feeRate, buffer, minNotional decimal.Decimal) (bool, string) {
	if !MeetsMinNotional(price, quantity, minNotional) {
		return false, fmt.Sprintf("notional %s below minimum %s", price.Mul(quantity), minNotional)
	}
	if opposingPrice.Sign() <= 0 {
		return true, ""
	}
	buyPrice, sellPrice := price, opposingPrice
	if side == schema.SideSell {
		buyPrice, sellPrice = opposingPrice, price
	}
	if !ProfitableLevel(buyPrice, sellPrice, feeRate, buffer) {
		return false, fmt.Sprintf(
			"buy %s / sell %s loses after fees; min profitable sell %s",
			buyPrice, sellPrice, MinProfitableSellPrice(buyPrice, feeRate, buffer),
		)
	}
	return true, ""
}
