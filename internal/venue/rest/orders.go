package rest

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"github.com/riptide-labs/riptide/errs"
	"github.com/riptide-labs/riptide/internal/schema"
)

// API paths. The v1 bulk cancel survives because some deployments never
// enabled the v2 endpoint; both go through the same signed transport.
const (
	pathBalances        = "/api/v2/balances"
	pathCreateOrder     = "/api/v2/createorder"
	pathCancelOrder     = "/api/v2/cancelorder"
	pathCancelAllOrders = "/api/v2/cancelallorders"
	pathCancelAllV1     = "/api/v1/account/cancelallorders"
	pathGetOrder        = "/api/v2/getorder/"
	pathOpenOrders      = "/api/v2/getorders/"
	pathTicker          = "/api/v2/ticker/"
)

type orderRecord struct {
	ID               string `json:"id"`
	UserProvidedID   string `json:"userProvidedId"`
	Symbol           string `json:"symbol"`
	Side             string `json:"side"`
	Type             string `json:"type"`
	Price            string `json:"price"`
	Quantity         string `json:"quantity"`
	ExecutedQuantity string `json:"executedQuantity"`
	AveragePrice     string `json:"averagePrice"`
	Status           string `json:"status"`
}

type balanceRecord struct {
	Asset     string `json:"asset"`
	Available string `json:"available"`
	Held      string `json:"held"`
}

type tickerRecord struct {
	Symbol    string `json:"symbol"`
	LastPrice string `json:"last_price"`
	Bid       string `json:"bid"`
	Ask       string `json:"ask"`
}

// Balances fetches current funds for every asset on the account.
func (c *Client) Balances(ctx context.Context) ([]schema.Balance, error) {
	raw, err := c.do(ctx, http.MethodGet, pathBalances, nil, nil)
	if err != nil {
		return nil, err
	}
	var records []balanceRecord
	if err := json.Unmarshal(unwrapEnvelope(raw), &records); err != nil {
		return nil, decodeError(pathBalances, err)
	}
	balances := make([]schema.Balance, 0, len(records))
	for _, record := range records {
		asset := strings.ToUpper(strings.TrimSpace(record.Asset))
		if asset == "" {
			continue
		}
		balances = append(balances, schema.Balance{
			Asset:     asset,
			Available: parseDecimal(record.Available),
			Held:      parseDecimal(record.Held),
		})
	}
	return balances, nil
}

// PlaceOrder submits a new order and returns the venue's confirmed view.
func (c *Client) PlaceOrder(ctx context.Context, req schema.OrderRequest) (schema.Order, error) {
	if err := validateOrderRequest(req); err != nil {
		return schema.Order{}, err
	}
	body := map[string]any{
		"symbol":   req.Symbol,
		"side":     string(req.Side),
		"type":     string(req.Type),
		"quantity": req.Quantity.String(),
	}
	if req.Type == schema.OrderTypeLimit {
		body["price"] = req.Price.String()
	}
	if req.ClientID != "" {
		body["userProvidedId"] = req.ClientID
	}
	raw, err := c.do(ctx, http.MethodPost, pathCreateOrder, nil, body)
	if err != nil {
		return schema.Order{}, err
	}
	var record orderRecord
	if err := json.Unmarshal(unwrapEnvelope(raw), &record); err != nil {
		return schema.Order{}, decodeError(pathCreateOrder, err)
	}
	return record.toOrder(), nil
}

// CancelOrder cancels a single resting order by venue ID.
func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	if strings.TrimSpace(orderID) == "" {
		return errs.New(errs.KindValidation,
			errs.WithEndpoint(pathCancelOrder),
			errs.WithMessage("order id is required"))
	}
	_, err := c.do(ctx, http.MethodPost, pathCancelOrder, nil, map[string]any{"id": orderID})
	return err
}

// CancelAllOrders cancels every resting order for the symbol.
func (c *Client) CancelAllOrders(ctx context.Context, symbol string) error {
	body := map[string]any{}
	if s := strings.TrimSpace(symbol); s != "" {
		body["symbol"] = s
	}
	_, err := c.do(ctx, http.MethodPost, pathCancelAllOrders, nil, body)
	return err
}

// CancelAllOrdersV1 is the legacy bulk cancel, a GET on the v1 account
// surface. It shares the transport with every other endpoint, so signing,
// nonces and error classification behave identically to the v2 call.
func (c *Client) CancelAllOrdersV1(ctx context.Context, symbol string) error {
	query := url.Values{}
	if s := strings.TrimSpace(symbol); s != "" {
		query.Set("symbol", s)
	}
	_, err := c.do(ctx, http.MethodGet, pathCancelAllV1, query, nil)
	return err
}

// GetOrder fetches one order by venue ID.
func (c *Client) GetOrder(ctx context.Context, orderID string) (schema.Order, error) {
	if strings.TrimSpace(orderID) == "" {
		return schema.Order{}, errs.New(errs.KindValidation,
			errs.WithEndpoint(pathGetOrder),
			errs.WithMessage("order id is required"))
	}
	path := pathGetOrder + url.PathEscape(orderID)
	raw, err := c.do(ctx, http.MethodGet, path, nil, nil)
	if err != nil {
		return schema.Order{}, err
	}
	var record orderRecord
	if err := json.Unmarshal(unwrapEnvelope(raw), &record); err != nil {
		return schema.Order{}, decodeError(path, err)
	}
	return record.toOrder(), nil
}

// OpenOrders lists resting orders for the symbol.
func (c *Client) OpenOrders(ctx context.Context, symbol string) ([]schema.Order, error) {
	normalized := schema.NormalizeSymbol(symbol)
	if normalized == "" {
		return nil, errs.New(errs.KindValidation,
			errs.WithEndpoint(pathOpenOrders),
			errs.WithMessage("symbol is required"))
	}
	query := url.Values{}
	query.Set("status", "active")
	raw, err := c.do(ctx, http.MethodGet, pathOpenOrders+url.PathEscape(normalized), query, nil)
	if err != nil {
		return nil, err
	}
	var records []orderRecord
	if err := json.Unmarshal(unwrapEnvelope(raw), &records); err != nil {
		return nil, decodeError(pathOpenOrders, err)
	}
	orders := make([]schema.Order, 0, len(records))
	for _, record := range records {
		orders = append(orders, record.toOrder())
	}
	return orders, nil
}

// Ticker fetches the current quote for a symbol.
func (c *Client) Ticker(ctx context.Context, symbol string) (schema.Ticker, error) {
	normalized := schema.NormalizeSymbol(symbol)
	if normalized == "" {
		return schema.Ticker{}, errs.New(errs.KindValidation,
			errs.WithEndpoint(pathTicker),
			errs.WithMessage("symbol is required"))
	}
	path := pathTicker + url.PathEscape(normalized)
	raw, err := c.do(ctx, http.MethodGet, path, nil, nil)
	if err != nil {
		return schema.Ticker{}, err
	}
	var record tickerRecord
	if err := json.Unmarshal(unwrapEnvelope(raw), &record); err != nil {
		return schema.Ticker{}, decodeError(path, err)
	}
	ticker := schema.Ticker{
		Symbol:    normalized,
		LastPrice: parseDecimal(record.LastPrice),
		Bid:       parseDecimal(record.Bid),
		Ask:       parseDecimal(record.Ask),
	}
	return ticker, nil
}

// MidPrice returns the reference price for a symbol, preferring the book
// midpoint and falling back to the last trade.
func (c *Client) MidPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	ticker, err := c.Ticker(ctx, symbol)
	if err != nil {
		return decimal.Zero, err
	}
	mid := ticker.Mid()
	if !mid.IsPositive() {
		return decimal.Zero, errs.New(errs.KindTransient,
			errs.WithEndpoint(pathTicker),
			errs.WithMessage("venue returned an empty quote for "+symbol))
	}
	return mid, nil
}

func (r orderRecord) toOrder() schema.Order {
	side, _ := schema.ParseSide(r.Side)
	return schema.Order{
		ID:             strings.TrimSpace(r.ID),
		ClientID:       strings.TrimSpace(r.UserProvidedID),
		Symbol:         schema.NormalizeSymbol(r.Symbol),
		Side:           side,
		Price:          parseDecimal(r.Price),
		Quantity:       parseDecimal(r.Quantity),
		FilledQuantity: parseDecimal(r.ExecutedQuantity),
		AvgPrice:       parseDecimal(r.AveragePrice),
		Status:         schema.ParseOrderStatus(r.Status),
	}
}

func validateOrderRequest(req schema.OrderRequest) error {
	switch {
	case strings.TrimSpace(req.Symbol) == "":
		return orderRequestError("symbol is required")
	case req.Side != schema.SideBuy && req.Side != schema.SideSell:
		return orderRequestError("side must be buy or sell")
	case req.Type != schema.OrderTypeLimit && req.Type != schema.OrderTypeMarket:
		return orderRequestError("type must be limit or market")
	case !req.Quantity.IsPositive():
		return orderRequestError("quantity must be positive")
	case req.Type == schema.OrderTypeLimit && !req.Price.IsPositive():
		return orderRequestError("limit orders require a positive price")
	default:
		return nil
	}
}

func orderRequestError(message string) error {
	return errs.New(errs.KindValidation,
		errs.WithEndpoint(pathCreateOrder),
		errs.WithMessage(message))
}

func decodeError(path string, err error) error {
	return errs.New(errs.KindTransient,
		errs.WithEndpoint(path),
		errs.WithMessage("decode venue response"),
		errs.WithCause(err))
}

func parseDecimal(s string) decimal.Decimal {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(trimmed)
	if err != nil {
		return decimal.Zero
	}
	return d
}
