package schema

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestNormalizeSymbol(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"BTC_USDT", "BTC_USDT"},
		{"BTC/USDT", "BTC_USDT"},
		{"BTC-USDT", "BTC_USDT"},
		{" ETH/BTC ", "ETH_BTC"},
	}
	for _, tc := range cases {
		if got := NormalizeSymbol(tc.in); got != tc.want {
			t.Fatalf("NormalizeSymbol(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestSplitSymbol(t *testing.T) {
	base, quote, err := SplitSymbol("BTC/USDT")
	if err != nil {
		t.Fatalf("SplitSymbol: %v", err)
	}
	if base != "BTC" || quote != "USDT" {
		t.Fatalf("SplitSymbol = %q/%q, want BTC/USDT", base, quote)
	}
	if _, _, err := SplitSymbol("BTCUSDT"); err == nil {
		t.Fatal("expected error for undelimited symbol")
	}
	if _, _, err := SplitSymbol("_USDT"); err == nil {
		t.Fatal("expected error for empty base")
	}
}

func TestRoundDownToTick(t *testing.T) {
	price := decimal.RequireFromString("89964.137")
	tick := decimal.RequireFromString("0.01")
	if got := RoundDownToTick(price, tick); !got.Equal(decimal.RequireFromString("89964.13")) {
		t.Fatalf("RoundDownToTick = %s", got)
	}
	// Zero tick is a no-op.
	if got := RoundDownToTick(price, decimal.Zero); !got.Equal(price) {
		t.Fatalf("zero tick must not round, got %s", got)
	}
}

func TestRoundDownToStep(t *testing.T) {
	qty := decimal.RequireFromString("1.2345")
	step := decimal.RequireFromString("0.01")
	if got := RoundDownToStep(qty, step); !got.Equal(decimal.RequireFromString("1.23")) {
		t.Fatalf("RoundDownToStep = %s", got)
	}
	if got := RoundUpToStep(qty, step); !got.Equal(decimal.RequireFromString("1.24")) {
		t.Fatalf("RoundUpToStep = %s", got)
	}
}

func TestParseOrderStatus(t *testing.T) {
	cases := map[string]OrderStatus{
		"Active":           StatusOpen,
		"New":              StatusOpen,
		"Partly Filled":    StatusPartiallyFilled,
		"partially_filled": StatusPartiallyFilled,
		"Filled":           StatusFilled,
		"Cancelled":        StatusCancelled,
		"Canceled":         StatusCancelled,
		"Rejected":         StatusRejected,
		"Expired":          StatusExpired,
		"mystery":          StatusUnknown,
	}
	for in, want := range cases {
		if got := ParseOrderStatus(in); got != want {
			t.Fatalf("ParseOrderStatus(%q) = %q, want %q", in, got, want)
		}
	}
	for _, s := range []OrderStatus{StatusFilled, StatusCancelled, StatusRejected, StatusExpired} {
		if !s.Terminal() {
			t.Fatalf("%q must be terminal", s)
		}
	}
	for _, s := range []OrderStatus{StatusOpen, StatusPartiallyFilled, StatusUnknown} {
		if s.Terminal() {
			t.Fatalf("%q must not be terminal", s)
		}
	}
}

func TestTickerMid(t *testing.T) {
	ticker := Ticker{
		Bid: decimal.RequireFromString("99"),
		Ask: decimal.RequireFromString("101"),
	}
	if got := ticker.Mid(); !got.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("Mid = %s, want 100", got)
	}
	ticker = Ticker{LastPrice: decimal.NewFromInt(42)}
	if got := ticker.Mid(); !got.Equal(decimal.NewFromInt(42)) {
		t.Fatalf("Mid fallback = %s, want 42", got)
	}
}
