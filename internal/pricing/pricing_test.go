package pricing

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/riptide-labs/riptide/internal/schema"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestMinProfitableStepMatchesKnownScenario(t *testing.T) {
	// fee 0.2%, buffer 0.01%: (1.002 / 0.9979) - 1, just above 0.41%.
	step := MinProfitableStep(dec("0.002"), dec("0.0001"))
	if step.LessThan(dec("0.0041")) || step.GreaterThan(dec("0.0042")) {
		t.Fatalf("MinProfitableStep = %s, want ~0.00411", step)
	}
}

func TestMinProfitableThresholdsNeverUnderstate(t *testing.T) {
	// The threshold division must round up: a round trip at exactly the
	// returned minimum may not lose money.
	fees := []struct{ fee, buffer string }{
		{"0.002", "0.0001"},
		{"0.001", "0"},
		{"0.0035", "0.0005"},
		{"0.00075", "0.00003"},
	}
	for _, f := range fees {
		fee, buffer := dec(f.fee), dec(f.buffer)
		buy := dec("90000")

		sell := MinProfitableSellPrice(buy, fee, buffer)
		if sell.Mul(decimal.NewFromInt(1).Sub(fee).Sub(buffer)).LessThan(buy.Mul(decimal.NewFromInt(1).Add(fee))) {
			t.Fatalf("fee=%s buffer=%s: MinProfitableSellPrice %s sits below break-even", fee, buffer, sell)
		}
		if !ProfitableLevel(buy, sell, fee, buffer) {
			t.Fatalf("fee=%s buffer=%s: selling at the returned minimum must pass the level check", fee, buffer)
		}

		step := MinProfitableStep(fee, buffer)
		profit := GridProfit(buy, buy.Mul(decimal.NewFromInt(1).Add(step)), dec("0.5"), fee)
		if profit.Sign() < 0 {
			t.Fatalf("fee=%s buffer=%s: round trip at min step lost %s", fee, buffer, profit)
		}
	}
}

func TestRoundTripAtMinStepIsNotALoss(t *testing.T) {
	fees := []struct{ fee, buffer string }{
		{"0.002", "0.0001"},
		{"0.001", "0"},
		{"0.0035", "0.0005"},
	}
	for _, f := range fees {
		fee, buffer := dec(f.fee), dec(f.buffer)
		step := MinProfitableStep(fee, buffer)
		buy := dec("90000")
		sell := buy.Mul(decimal.NewFromInt(1).Add(step))
		profit := GridProfit(buy, sell, dec("0.5"), fee)
		if profit.Sign() < 0 {
			t.Fatalf("fee=%s buffer=%s: round trip at min step lost %s", fee, buffer, profit)
		}
		// One tick of spacing below the threshold must fail the level check.
		if ProfitableLevel(buy, buy.Mul(dec("1.0001")), fee, buffer) {
			t.Fatalf("fee=%s: spacing below min step must not be profitable", fee)
		}
	}
}

func TestGridProfitWorkedExample(t *testing.T) {
	// buy 100, sell 101, qty 1, fee 0.2%:
	// cost 100.20, revenue 100.798, profit 0.598.
	profit := GridProfit(dec("100"), dec("101"), dec("1"), dec("0.002"))
	if !profit.Equal(dec("0.598")) {
		t.Fatalf("GridProfit = %s, want 0.598", profit)
	}
}

func TestMinQuantityForNotional(t *testing.T) {
	qty := MinQuantityForNotional(dec("10"), dec("5"), dec("0.002"), dec("0.01"))
	// 5 / (10 * 0.998) = 0.50100..., rounded up to 0.51.
	if !qty.Equal(dec("0.51")) {
		t.Fatalf("MinQuantityForNotional = %s, want 0.51", qty)
	}
	if !MinQuantityForNotional(dec("0"), dec("5"), dec("0.002"), dec("0.01")).IsZero() {
		t.Fatal("non-positive price must yield zero quantity")
	}
}

func TestValidatePlacement(t *testing.T) {
	fee, buffer, minNotional := dec("0.002"), dec("0.0001"), dec("1")

	// Profitable buy with its planned sell one 2% step up.
	ok, reason := ValidatePlacement(schema.SideBuy, dec("88200"), dec("0.001"), dec("89964"), fee, buffer, minNotional)
	if !ok {
		t.Fatalf("expected profitable placement, got %q", reason)
	}

	// Sell below its cost basis must be refused.
	ok, reason = ValidatePlacement(schema.SideSell, dec("88000"), dec("0.001"), dec("88200"), fee, buffer, minNotional)
	if ok {
		t.Fatal("sell below cost basis must be skipped")
	}
	if reason == "" {
		t.Fatal("skip must carry a reason")
	}

	// Below minimum notional.
	ok, reason = ValidatePlacement(schema.SideBuy, dec("10"), dec("0.01"), dec("11"), fee, buffer, minNotional)
	if ok {
		t.Fatal("sub-notional placement must be skipped")
	}
	if reason == "" {
		t.Fatal("skip must carry a reason")
	}

	// Unknown opposing price skips only the profitability check.
	ok, _ = ValidatePlacement(schema.SideSell, dec("100"), dec("1"), decimal.Zero, fee, buffer, minNotional)
	if !ok {
		t.Fatal("placement without opposing price must pass the notional check alone")
	}
}
