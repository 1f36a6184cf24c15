// Package engine implements the ladder order engine: seeding a price grid,
// reacting to fills with counter-orders, and persisting state across restarts.
package engine

import (
	"context"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/riptide-labs/riptide/errs"
	"github.com/riptide-labs/riptide/internal/pricing"
	"github.com/riptide-labs/riptide/internal/schema"
	"github.com/riptide-labs/riptide/internal/telemetry"
)

// Mode selects how much the engine is allowed to touch the venue.
type Mode string

const (
	// ModeLive places and cancels real orders.
	ModeLive Mode = "live"
	// ModeDryRun simulates placements locally; nothing reaches the venue.
	ModeDryRun Mode = "dry-run"
	// ModeMonitor observes reports and balances but never places orders.
	ModeMonitor Mode = "monitor"
)

// VenueClient is the trading surface the engine needs from the venue.
type VenueClient interface {
	MidPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
	PlaceOrder(ctx context.Context, req schema.OrderRequest) (schema.Order, error)
	CancelOrder(ctx context.Context, orderID string) error
	CancelAllOrders(ctx context.Context, symbol string) error
	GetOrder(ctx context.Context, orderID string) (schema.Order, error)
	OpenOrders(ctx context.Context, symbol string) ([]schema.Order, error)
	Balances(ctx context.Context) ([]schema.Balance, error)
}

// Config is the ladder geometry and trading parameters.
type Config struct {
	Symbol string
	// Spacing is the fractional distance between adjacent levels; each level
	// is the previous one multiplied by (1 +/- Spacing).
	Spacing      decimal.Decimal
	Quantity     decimal.Decimal
	FeeRate      decimal.Decimal
	ProfitBuffer decimal.Decimal
	MinNotional  decimal.Decimal
	TickSize     decimal.Decimal
	QuantityStep decimal.Decimal

	BuyLevels  int
	SellLevels int
	// Unbounded lets sell fills extend the ladder upward past the seeded top
	// instead of stopping at it.
	Unbounded bool

	// TargetBaseRatio, when positive, triggers one market order before
	// seeding to move holdings toward base = ratio * total value. Zero
	// disables the startup rebalance.
	TargetBaseRatio    decimal.Decimal
	RebalanceTolerance decimal.Decimal

	Mode Mode
}

func (c Config) validate() error {
	if strings.TrimSpace(c.Symbol) == "" {
		return errs.New(errs.KindConfig, errs.WithMessage("symbol is required"))
	}
	if !c.Spacing.IsPositive() {
		return errs.New(errs.KindConfig, errs.WithMessage("spacing must be positive"))
	}
	if !c.Quantity.IsPositive() {
		return errs.New(errs.KindConfig, errs.WithMessage("order quantity must be positive"))
	}
	if c.BuyLevels < 0 || c.SellLevels < 0 || c.BuyLevels+c.SellLevels == 0 {
		return errs.New(errs.KindConfig, errs.WithMessage("at least one ladder level is required"))
	}
	switch c.Mode {
	case ModeLive, ModeDryRun, ModeMonitor:
	default:
		return errs.New(errs.KindConfig,
			errs.WithMessage(fmt.Sprintf("unknown mode %q", c.Mode)),
			errs.WithRemediation("use live, dry-run or monitor"))
	}
	if c.TargetBaseRatio.IsNegative() || c.TargetBaseRatio.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return errs.New(errs.KindConfig, errs.WithMessage("target base ratio must be within [0, 1)"))
	}
	minStep := pricing.MinProfitableStep(c.FeeRate, c.ProfitBuffer)
	if c.Spacing.LessThan(minStep) {
		return errs.New(errs.KindConfig,
			errs.WithMessage(fmt.Sprintf("spacing %s is below the minimum profitable step %s", c.Spacing, minStep)),
			errs.WithRemediation("widen the spacing or reduce the fee buffer; every round trip would lose money"))
	}
	return nil
}

// ladderOrder is one resting order the engine is responsible for.
type ladderOrder struct {
	id        string
	clientID  string
	side      schema.Side
	price     decimal.Decimal
	quantity  decimal.Decimal
	filled    decimal.Decimal
	costBasis decimal.Decimal // sells only: the buy price the inventory came from
}

// PlacementOutcome classifies the result of one placement attempt.
type PlacementOutcome string

const (
	// PlacementPlaced means the order is resting (or simulated in dry-run).
	PlacementPlaced PlacementOutcome = "placed"
	// PlacementSkipped means local validation refused the order; no venue call.
	PlacementSkipped PlacementOutcome = "skipped"
	// PlacementFailed means the venue rejected the submission.
	PlacementFailed PlacementOutcome = "failed"
)

// PlacementResult reports what happened to one planned order.
type PlacementResult struct {
	Outcome PlacementOutcome
	Reason  string
	Order   schema.Order
}

// Engine drives one symbol's ladder. All state is guarded by a single mutex;
// venue calls happen under it, which serializes order flow by construction.
type Engine struct {
	cfg      Config
	venue    VenueClient
	balances *BalanceTracker
	store    *SnapshotStore
	logger   *log.Logger
	metrics  *telemetry.EngineMetrics

	base, quote string

	mu          sync.Mutex
	reference   decimal.Decimal
	lowestBuy   decimal.Decimal
	highestSell decimal.Decimal
	open        map[string]*ladderOrder // keyed by client ID
	byVenueID   map[string]string       // venue ID -> client ID
	gross       decimal.Decimal
	net         decimal.Decimal

	needsRebalance bool
	running        bool
	lastError      string
	configMirror   map[string]any
}

// NewEngine validates cfg and builds an engine. store and metrics may be nil.
func NewEngine(cfg Config, venue VenueClient, balances *BalanceTracker, store *SnapshotStore, logger *log.Logger, metrics *telemetry.EngineMetrics) (*Engine, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if venue == nil {
		return nil, errs.New(errs.KindConfig, errs.WithMessage("venue client is required"))
	}
	if balances == nil {
		balances = NewBalanceTracker()
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	base, quote, err := schema.SplitSymbol(cfg.Symbol)
	if err != nil {
		return nil, errs.New(errs.KindConfig, errs.WithMessage(err.Error()))
	}
	cfg.Symbol = schema.NormalizeSymbol(cfg.Symbol)
	return &Engine{
		cfg:       cfg,
		venue:     venue,
		balances:  balances,
		store:     store,
		logger:    logger,
		metrics:   metrics,
		base:      base,
		quote:     quote,
		open:      make(map[string]*ladderOrder),
		byVenueID: make(map[string]string),
	}, nil
}

// SeedLadder wipes any resting orders, reads the reference price and places
// the initial grid: BuyLevels orders stepping down from the reference and
// SellLevels orders stepping up.
func (e *Engine) SeedLadder(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cfg.Mode == ModeLive {
		if err := e.venue.CancelAllOrders(ctx, e.cfg.Symbol); err != nil {
			return fmt.Errorf("clear existing orders: %w", err)
		}
	}
	if balances, err := e.venue.Balances(ctx); err == nil {
		e.balances.Reconcile(balances)
	} else if e.cfg.Mode == ModeLive {
		return fmt.Errorf("fetch balances: %w", err)
	}

	reference, err := e.venue.MidPrice(ctx, e.cfg.Symbol)
	if err != nil {
		return fmt.Errorf("fetch reference price: %w", err)
	}
	e.reference = reference
	e.running = true
	e.needsRebalance = false

	e.rebalanceLocked(ctx, reference)

	one := decimal.NewFromInt(1)
	down := one.Sub(e.cfg.Spacing)
	up := one.Add(e.cfg.Spacing)

	price := reference
	for i := 0; i < e.cfg.BuyLevels; i++ {
		price = e.roundPrice(price.Mul(down))
		result := e.placeLevelLocked(ctx, schema.SideBuy, price, decimal.Zero, decimal.Zero)
		if result.Outcome == PlacementFailed {
			return fmt.Errorf("seed buy level %s: %s", price, result.Reason)
		}
		e.lowestBuy = price
	}

	price = reference
	for i := 0; i < e.cfg.SellLevels; i++ {
		price = e.roundPrice(price.Mul(up))
		result := e.placeLevelLocked(ctx, schema.SideSell, price, reference, reference)
		if result.Outcome == PlacementFailed {
			return fmt.Errorf("seed sell level %s: %s", price, result.Reason)
		}
		e.highestSell = price
	}

	e.saveLocked(ctx)
	return nil
}

// rebalanceLocked nudges holdings toward the configured base/quote split
// with a single market order before the grid is seeded. Drift inside the
// tolerance band is left alone.
func (e *Engine) rebalanceLocked(ctx context.Context, reference decimal.Decimal) {
	if !e.cfg.TargetBaseRatio.IsPositive() || e.cfg.Mode != ModeLive || !e.balances.HasData() {
		return
	}
	baseValue := e.balances.Available(e.base).Mul(reference)
	total := baseValue.Add(e.balances.Available(e.quote))
	if !total.IsPositive() {
		return
	}
	tolerance := e.cfg.RebalanceTolerance
	if !tolerance.IsPositive() {
		tolerance = decimal.NewFromFloat(0.05)
	}
	drift := baseValue.Div(total).Sub(e.cfg.TargetBaseRatio)
	if drift.Abs().LessThanOrEqual(tolerance) {
		return
	}

	quantity := schema.RoundDownToStep(drift.Abs().Mul(total).Div(reference), e.cfg.QuantityStep)
	if !pricing.MeetsMinNotional(reference, quantity, e.cfg.MinNotional) {
		return
	}
	side := schema.SideSell
	if drift.IsNegative() {
		side = schema.SideBuy
	}
	if _, err := e.venue.PlaceOrder(ctx, schema.OrderRequest{
		Symbol:   e.cfg.Symbol,
		Side:     side,
		Type:     schema.OrderTypeMarket,
		Quantity: quantity,
		ClientID: "rl-" + uuid.NewString(),
	}); err != nil {
		e.logger.Printf("startup rebalance %s %s %s failed: %v", side, quantity, e.base, err)
		return
	}
	e.logger.Printf("startup rebalance: %s %s %s at market", side, quantity, e.base)

	// Market orders settle immediately; refresh venue truth before seeding.
	if balances, err := e.venue.Balances(ctx); err == nil {
		e.balances.Reconcile(balances)
	}
}

// placeLevelLocked validates and submits one order. opposing is where the
// round trip is expected to complete and feeds the profitability check; zero
// skips that check but still enforces the notional minimum. costBasis is
// recorded only on sells whose buy leg already executed.
func (e *Engine) placeLevelLocked(ctx context.Context, side schema.Side, price, opposing, costBasis decimal.Decimal) PlacementResult {
	if e.cfg.Mode == ModeMonitor {
		return e.skipLocked(ctx, side, price, "monitor mode: placements disabled")
	}

	quantity := schema.RoundDownToStep(e.cfg.Quantity, e.cfg.QuantityStep)
	if side == schema.SideBuy {
		opposing = e.roundPrice(price.Mul(decimal.NewFromInt(1).Add(e.cfg.Spacing)))
	}
	if ok, reason := pricing.ValidatePlacement(side, price, quantity, opposing, e.cfg.FeeRate, e.cfg.ProfitBuffer, e.cfg.MinNotional); !ok {
		return e.skipLocked(ctx, side, price, reason)
	}

	if e.balances.HasData() {
		if side == schema.SideBuy {
			needed := price.Mul(quantity)
			if e.balances.Available(e.quote).LessThan(needed) {
				return e.skipLocked(ctx, side, price, fmt.Sprintf("insufficient %s: need %s", e.quote, needed))
			}
		} else if e.balances.Available(e.base).LessThan(quantity) {
			return e.skipLocked(ctx, side, price, fmt.Sprintf("insufficient %s: need %s", e.base, quantity))
		}
	}

	clientID := "rl-" + uuid.NewString()
	order := schema.Order{
		ID:       clientID,
		ClientID: clientID,
		Symbol:   e.cfg.Symbol,
		Side:     side,
		Price:    price,
		Quantity: quantity,
		Status:   schema.StatusOpen,
	}
	if e.cfg.Mode == ModeLive {
		placed, err := e.venue.PlaceOrder(ctx, schema.OrderRequest{
			Symbol:   e.cfg.Symbol,
			Side:     side,
			Type:     schema.OrderTypeLimit,
			Price:    price,
			Quantity: quantity,
			ClientID: clientID,
		})
		if err != nil {
			e.logger.Printf("place %s %s@%s failed: %v", side, quantity, price, err)
			return PlacementResult{Outcome: PlacementFailed, Reason: err.Error()}
		}
		order = placed
		if order.ClientID == "" {
			order.ClientID = clientID
		}
	} else {
		e.logger.Printf("dry-run: would place %s %s@%s", side, quantity, price)
	}

	tracked := &ladderOrder{
		id:        order.ID,
		clientID:  order.ClientID,
		side:      side,
		price:     price,
		quantity:  quantity,
		costBasis: costBasis,
	}
	e.open[tracked.clientID] = tracked
	if tracked.id != "" {
		e.byVenueID[tracked.id] = tracked.clientID
	}

	if side == schema.SideBuy {
		e.balances.ApplyPending(e.quote, price.Mul(quantity).Neg())
	} else {
		e.balances.ApplyPending(e.base, quantity.Neg())
	}
	e.metrics.OrderPlaced(ctx, string(side))
	e.logger.Printf("placed %s %s@%s (client %s)", side, quantity, price, tracked.clientID)
	return PlacementResult{Outcome: PlacementPlaced, Order: order}
}

func (e *Engine) skipLocked(ctx context.Context, side schema.Side, price decimal.Decimal, reason string) PlacementResult {
	e.metrics.OrderSkipped(ctx, string(side))
	e.logger.Printf("skip %s@%s: %s", side, price, reason)
	return PlacementResult{Outcome: PlacementSkipped, Reason: reason}
}

// ProcessOrderUpdate routes one venue-confirmed order state through the
// engine. Updates for orders the engine does not track are ignored.
func (e *Engine) ProcessOrderUpdate(ctx context.Context, update schema.Order) {
	e.mu.Lock()
	defer e.mu.Unlock()

	tracked := e.lookupLocked(update)
	if tracked == nil {
		return
	}
	if update.ID != "" && tracked.id != update.ID {
		tracked.id = update.ID
		e.byVenueID[update.ID] = tracked.clientID
	}
	if update.FilledQuantity.GreaterThan(tracked.filled) {
		tracked.filled = update.FilledQuantity
	}

	switch {
	case update.Status == schema.StatusFilled:
		// Prefer the venue-reported execution figures; they differ from the
		// resting order when the fill improved on the limit price.
		fillPrice := tracked.price
		if update.AvgPrice.IsPositive() {
			fillPrice = update.AvgPrice
		}
		fillQty := tracked.quantity
		if tracked.filled.IsPositive() {
			fillQty = tracked.filled
		}
		e.removeLocked(tracked)
		e.handleFillLocked(ctx, tracked, fillPrice, fillQty)
		e.saveLocked(ctx)
	case update.Status.Terminal():
		e.removeLocked(tracked)
		e.handleTerminalLocked(ctx, tracked)
		e.saveLocked(ctx)
	default:
		// Partial fills rest at their level until filled or cancelled.
	}
}

func (e *Engine) lookupLocked(update schema.Order) *ladderOrder {
	if update.ClientID != "" {
		if tracked, ok := e.open[update.ClientID]; ok {
			return tracked
		}
	}
	if update.ID != "" {
		if clientID, ok := e.byVenueID[update.ID]; ok {
			return e.open[clientID]
		}
	}
	return nil
}

func (e *Engine) removeLocked(tracked *ladderOrder) {
	delete(e.open, tracked.clientID)
	if tracked.id != "" {
		delete(e.byVenueID, tracked.id)
	}
}

// handleFillLocked places the counter-orders for one full fill. fillPrice and
// fillQty are the venue-reported execution figures, falling back to the
// tracked order when the venue omitted them.
//
// A filled buy becomes one sell a step above, carrying the buy price as cost
// basis. A filled sell books revenue and is replaced by a buy-back a step
// below (inside the ladder floor); in unbounded mode the ladder also grows
// one step past its current top, in bounded mode a replacement sell must not
// pass the seeded top. Sells whose buy leg has not executed carry no cost
// basis.
func (e *Engine) handleFillLocked(ctx context.Context, filled *ladderOrder, fillPrice, fillQty decimal.Decimal) {
	e.metrics.OrderFilled(ctx, string(filled.side))
	one := decimal.NewFromInt(1)
	up := one.Add(e.cfg.Spacing)
	down := one.Sub(e.cfg.Spacing)

	if filled.side == schema.SideBuy {
		// Inventory acquired; the quote spend was already pending.
		e.balances.ApplyPending(e.base, fillQty)

		sellPrice := e.roundPrice(fillPrice.Mul(up))
		e.placeLevelLocked(ctx, schema.SideSell, sellPrice, fillPrice, fillPrice)
		return
	}

	// Sell fill: book revenue first, it does not depend on the counter-orders.
	proceeds := fillPrice.Mul(fillQty)
	e.gross = e.gross.Add(proceeds)
	if filled.costBasis.IsPositive() {
		e.net = e.net.Add(pricing.GridProfit(filled.costBasis, fillPrice, fillQty, e.cfg.FeeRate))
	}
	e.balances.ApplyPending(e.quote, proceeds.Mul(one.Sub(e.cfg.FeeRate)))

	buyPrice := e.roundPrice(fillPrice.Mul(down))
	if e.lowestBuy.IsPositive() && buyPrice.LessThan(e.lowestBuy) {
		e.needsRebalance = true
		e.logger.Printf("buy-back %s is below the ladder floor %s; rebalance needed", buyPrice, e.lowestBuy)
	} else {
		e.placeLevelLocked(ctx, schema.SideBuy, buyPrice, decimal.Zero, decimal.Zero)
	}

	if e.cfg.Unbounded {
		// Every sell fill pushes the ladder top one step higher, no matter
		// which level filled.
		top := e.highestSell
		if !top.IsPositive() {
			top = fillPrice
		}
		extension := e.roundPrice(top.Mul(up))
		e.placeLevelLocked(ctx, schema.SideSell, extension, buyPrice, decimal.Zero)
		if extension.GreaterThan(e.highestSell) {
			e.highestSell = extension
		}
		return
	}

	sellPrice := e.roundPrice(fillPrice.Mul(up))
	if e.highestSell.IsPositive() && sellPrice.GreaterThan(e.highestSell) {
		e.needsRebalance = true
		e.logger.Printf("replacement sell %s is above the ladder top %s; rebalance needed", sellPrice, e.highestSell)
		return
	}
	e.placeLevelLocked(ctx, schema.SideSell, sellPrice, buyPrice, decimal.Zero)
}

// handleTerminalLocked handles cancellations, rejections and expiries: the
// committed funds come back and no counter-order or revenue is produced.
func (e *Engine) handleTerminalLocked(ctx context.Context, gone *ladderOrder) {
	e.metrics.OrderCancelled(ctx, string(gone.side))
	remaining := gone.quantity.Sub(gone.filled)
	if remaining.IsNegative() {
		remaining = decimal.Zero
	}
	if gone.side == schema.SideBuy {
		e.balances.ApplyPending(e.quote, gone.price.Mul(remaining))
	} else {
		e.balances.ApplyPending(e.base, remaining)
	}
	e.logger.Printf("order %s %s@%s left the book (%s filled); no counter-order", gone.side, gone.quantity, gone.price, gone.filled)
}

// HandleReport adapts a streamed order report to ProcessOrderUpdate. It is
// shaped to plug directly into the stream client's handler registry.
func (e *Engine) HandleReport(ctx context.Context) func(params json.RawMessage) {
	return func(params json.RawMessage) {
		var record struct {
			ID               string `json:"id"`
			UserProvidedID   string `json:"userProvidedId"`
			Symbol           string `json:"symbol"`
			Side             string `json:"side"`
			Price            string `json:"price"`
			Quantity         string `json:"quantity"`
			ExecutedQuantity string `json:"executedQuantity"`
			AveragePrice     string `json:"averagePrice"`
			Status           string `json:"status"`
		}
		if err := json.Unmarshal(params, &record); err != nil {
			e.logger.Printf("drop undecodable report: %v", err)
			return
		}
		if schema.NormalizeSymbol(record.Symbol) != schema.NormalizeSymbol(e.cfg.Symbol) {
			return
		}
		side, _ := schema.ParseSide(record.Side)
		e.ProcessOrderUpdate(ctx, schema.Order{
			ID:             record.ID,
			ClientID:       record.UserProvidedID,
			Symbol:         record.Symbol,
			Side:           side,
			Price:          parseReportDecimal(record.Price),
			Quantity:       parseReportDecimal(record.Quantity),
			FilledQuantity: parseReportDecimal(record.ExecutedQuantity),
			AvgPrice:       parseReportDecimal(record.AveragePrice),
			Status:         schema.ParseOrderStatus(record.Status),
		})
	}
}

// HandleBalances adapts a streamed balance push to the tracker.
func (e *Engine) HandleBalances(ctx context.Context) func(params json.RawMessage) {
	return func(params json.RawMessage) {
		var records []struct {
			Asset     string `json:"asset"`
			Available string `json:"available"`
			Held      string `json:"held"`
		}
		if err := json.Unmarshal(params, &records); err != nil {
			e.logger.Printf("drop undecodable balance push: %v", err)
			return
		}
		balances := make([]schema.Balance, 0, len(records))
		for _, record := range records {
			balances = append(balances, schema.Balance{
				Asset:     record.Asset,
				Available: parseReportDecimal(record.Available),
				Held:      parseReportDecimal(record.Held),
			})
		}
		e.balances.Reconcile(balances)
		e.metrics.ReconcileRun(ctx)
	}
}

// SyncOrders polls the venue's open orders and resolves any tracked order
// that is no longer resting, so missed stream reports cannot strand a level.
func (e *Engine) SyncOrders(ctx context.Context) error {
	openOrders, err := e.venue.OpenOrders(ctx, e.cfg.Symbol)
	if err != nil {
		return err
	}

	resting := make(map[string]struct{}, len(openOrders))
	e.mu.Lock()
	for _, order := range openOrders {
		if order.ClientID != "" {
			resting[order.ClientID] = struct{}{}
		}
		if order.ID != "" {
			if clientID, ok := e.byVenueID[order.ID]; ok {
				resting[clientID] = struct{}{}
			}
		}
	}
	var missing []*ladderOrder
	for clientID, tracked := range e.open {
		if _, stillOpen := resting[clientID]; !stillOpen {
			missing = append(missing, tracked)
		}
	}
	e.mu.Unlock()

	for _, tracked := range missing {
		if tracked.id == "" {
			// Dry-run orders have no venue identity to resolve.
			continue
		}
		final, err := e.venue.GetOrder(ctx, tracked.id)
		if err != nil {
			e.logger.Printf("resolve vanished order %s: %v", tracked.id, err)
			continue
		}
		e.ProcessOrderUpdate(ctx, final)
	}
	return nil
}

// ReconcileBalances polls venue balances into the tracker.
func (e *Engine) ReconcileBalances(ctx context.Context) error {
	balances, err := e.venue.Balances(ctx)
	if err != nil {
		return err
	}
	e.balances.Reconcile(balances)
	e.metrics.ReconcileRun(ctx)
	return nil
}

// ReplenishLevels restores the grid toward its configured level counts after
// a fill walked an order past the ladder's edge. Missing levels are re-seeded
// from the current mid price, skipping levels that are already occupied; the
// rebalance flag clears once both sides are back at strength.
func (e *Engine) ReplenishLevels(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.needsRebalance {
		return nil
	}
	buys, sells := e.levelCountsLocked()
	if buys >= e.cfg.BuyLevels && sells >= e.cfg.SellLevels {
		e.needsRebalance = false
		e.saveLocked(ctx)
		return nil
	}

	mid, err := e.venue.MidPrice(ctx, e.cfg.Symbol)
	if err != nil {
		return err
	}
	one := decimal.NewFromInt(1)
	down := one.Sub(e.cfg.Spacing)
	up := one.Add(e.cfg.Spacing)

	price := mid
	for i := 0; buys < e.cfg.BuyLevels && i < 2*e.cfg.BuyLevels; i++ {
		price = e.roundPrice(price.Mul(down))
		if e.occupiedLocked(schema.SideBuy, price) {
			continue
		}
		if e.placeLevelLocked(ctx, schema.SideBuy, price, decimal.Zero, decimal.Zero).Outcome != PlacementPlaced {
			break
		}
		buys++
		if !e.lowestBuy.IsPositive() || price.LessThan(e.lowestBuy) {
			e.lowestBuy = price
		}
	}

	price = mid
	for i := 0; sells < e.cfg.SellLevels && i < 2*e.cfg.SellLevels; i++ {
		price = e.roundPrice(price.Mul(up))
		if e.occupiedLocked(schema.SideSell, price) {
			continue
		}
		if e.placeLevelLocked(ctx, schema.SideSell, price, mid, mid).Outcome != PlacementPlaced {
			break
		}
		sells++
		if price.GreaterThan(e.highestSell) {
			e.highestSell = price
		}
	}

	if buys >= e.cfg.BuyLevels && sells >= e.cfg.SellLevels {
		e.needsRebalance = false
		e.logger.Printf("ladder replenished to %d buys / %d sells", buys, sells)
	}
	e.saveLocked(ctx)
	return nil
}

func (e *Engine) levelCountsLocked() (buys, sells int) {
	for _, tracked := range e.open {
		if tracked.side == schema.SideBuy {
			buys++
		} else {
			sells++
		}
	}
	return buys, sells
}

func (e *Engine) occupiedLocked(side schema.Side, price decimal.Decimal) bool {
	for _, tracked := range e.open {
		if tracked.side == side && tracked.price.Equal(price) {
			return true
		}
	}
	return false
}

// CancelAll cancels every resting order for the symbol.
func (e *Engine) CancelAll(ctx context.Context) error {
	if e.cfg.Mode != ModeLive {
		return nil
	}
	return e.venue.CancelAllOrders(ctx, e.cfg.Symbol)
}

// Stop marks the engine stopped and writes the final snapshot. runErr, when
// not nil, is recorded as the last error for the next operator to read.
func (e *Engine) Stop(ctx context.Context, runErr error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.running = false
	if runErr != nil {
		e.lastError = runErr.Error()
	}
	e.saveLocked(ctx)
}

// Snapshot returns the current persistable state.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

func (e *Engine) snapshotLocked() Snapshot {
	orders := make([]SnapshotOrder, 0, len(e.open))
	for _, tracked := range e.open {
		orders = append(orders, SnapshotOrder{
			ID:        tracked.id,
			ClientID:  tracked.clientID,
			Side:      tracked.side,
			Price:     tracked.price,
			Quantity:  tracked.quantity,
			CostBasis: tracked.costBasis,
		})
	}
	return Snapshot{
		Symbol:           e.cfg.Symbol,
		ReferencePrice:   e.reference,
		LowestBuyPrice:   e.lowestBuy,
		HighestSellPrice: e.highestSell,
		OpenOrders:       orders,
		GrossSellRevenue: e.gross,
		NetProfit:        e.net,
		NeedsRebalance:   e.needsRebalance,
		IsRunning:        e.running,
		LastError:        e.lastError,
		Config:           e.configMirror,
	}
}

// SetConfigMirror attaches a non-sensitive configuration view to every
// snapshot, for operator inspection. The store scrubs credentials anyway.
func (e *Engine) SetConfigMirror(mirror map[string]any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.configMirror = mirror
}

func (e *Engine) saveLocked(ctx context.Context) {
	if e.store == nil {
		return
	}
	if err := e.store.Save(e.snapshotLocked()); err != nil {
		e.logger.Printf("save snapshot: %v", err)
		return
	}
	e.metrics.SnapshotSaved(ctx)
}

// OpenOrderCount reports how many orders the engine currently tracks.
func (e *Engine) OpenOrderCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.open)
}

func (e *Engine) roundPrice(price decimal.Decimal) decimal.Decimal {
	return schema.RoundDownToTick(price, e.cfg.TickSize)
}

func parseReportDecimal(s string) decimal.Decimal {
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
