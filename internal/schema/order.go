// Package schema defines the domain types shared by the venue clients and the engine.
package schema

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Side identifies the direction of an order.
type Side string

const (
	// SideBuy bids for the base asset with the quote asset.
	SideBuy Side = "buy"
	// SideSell offers the base asset for the quote asset.
	SideSell Side = "sell"
)

// Opposite returns the counter side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// ParseSide normalizes a venue-reported side string.
func ParseSide(input string) (Side, bool) {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "buy", "bid":
		return SideBuy, true
	case "sell", "ask":
		return SideSell, true
	default:
		return "", false
	}
}

// OrderStatus is the closed set of order lifecycle states.
type OrderStatus string

const (
	// StatusUnknown marks an order whose venue state has not been observed yet.
	StatusUnknown OrderStatus = "unknown"
	// StatusOpen marks an accepted, resting order.
	StatusOpen OrderStatus = "open"
	// StatusPartiallyFilled marks an order with some executed quantity still resting.
	StatusPartiallyFilled OrderStatus = "partially_filled"
	// StatusFilled marks a fully executed order.
	StatusFilled OrderStatus = "filled"
	// StatusCancelled marks an order cancelled before full execution.
	StatusCancelled OrderStatus = "cancelled"
	// StatusRejected marks an order the venue refused.
	StatusRejected OrderStatus = "rejected"
	// StatusExpired marks an order the venue timed out.
	StatusExpired OrderStatus = "expired"
)

// ParseOrderStatus maps venue status strings onto the canonical set.
func ParseOrderStatus(input string) OrderStatus {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "open", "active", "new", "accepted":
		return StatusOpen
	case "partly filled", "partially filled", "partially_filled", "partial":
		return StatusPartiallyFilled
	case "filled", "closed", "done":
		return StatusFilled
	case "cancelled", "canceled":
		return StatusCancelled
	case "rejected":
		return StatusRejected
	case "expired":
		return StatusExpired
	default:
		return StatusUnknown
	}
}

// Terminal reports whether the status removes the order from the open set.
func (s OrderStatus) Terminal() bool {
	switch s {
	case StatusFilled, StatusCancelled, StatusRejected, StatusExpired:
		return true
	default:
		return false
	}
}

// OrderType identifies the execution style of an order.
type OrderType string

const (
	// OrderTypeLimit rests at a price until matched or cancelled.
	OrderTypeLimit OrderType = "limit"
	// OrderTypeMarket executes immediately against the book.
	OrderTypeMarket OrderType = "market"
)

// OrderRequest describes an order submission. ClientID is the caller-assigned
// idempotency token echoed back by the venue as userProvidedId.
type OrderRequest struct {
	Symbol   string
	Side     Side
	Type     OrderType
	Price    decimal.Decimal
	Quantity decimal.Decimal
	ClientID string
}

// Order is the venue-confirmed view of an order.
type Order struct {
	ID             string
	ClientID       string
	Symbol         string
	Side           Side
	Price          decimal.Decimal
	Quantity       decimal.Decimal
	FilledQuantity decimal.Decimal
	AvgPrice       decimal.Decimal
	Status         OrderStatus
}

// Balance is the venue-reported funds for one asset.
type Balance struct {
	Asset     string
	Available decimal.Decimal
	Held      decimal.Decimal
}

// Ticker is a point-in-time market quote.
type Ticker struct {
	Symbol    string
	LastPrice decimal.Decimal
	Bid       decimal.Decimal
	Ask       decimal.Decimal
}

// Mid returns the mid price, preferring the bid/ask midpoint and falling back
// to the last trade when either side of the book is empty.
func (t Ticker) Mid() decimal.Decimal {
	if t.Bid.IsPositive() && t.Ask.IsPositive() {
		return t.Bid.Add(t.Ask).Div(decimal.NewFromInt(2))
	}
	return t.LastPrice
}
