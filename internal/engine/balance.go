package engine

import (
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/riptide-labs/riptide/internal/schema"
)

// pendingAdjustment is a locally-known balance delta the venue has not
// reflected yet. carried marks that the adjustment has survived one
// reconciliation; it is cleared on the next one, when the venue snapshot is
// guaranteed to postdate the action that created it.
type pendingAdjustment struct {
	delta   decimal.Decimal
	carried bool
}

// BalanceTracker reconciles venue-reported balances with local pending
// adjustments. Orders placed between venue snapshots would otherwise make the
// tracker double-spend: the venue still reports the funds as available while
// a resting order already claims them.
type BalanceTracker struct {
	mu      sync.Mutex
	venue   map[string]schema.Balance
	pending map[string]*pendingAdjustment
}

// NewBalanceTracker returns an empty tracker.
func NewBalanceTracker() *BalanceTracker {
	return &BalanceTracker{
		venue:   make(map[string]schema.Balance),
		pending: make(map[string]*pendingAdjustment),
	}
}

// Available returns the spendable amount for the asset: the last venue-reported
// available balance plus any pending local adjustment.
func (b *BalanceTracker) Available(asset string) decimal.Decimal {
	key := assetKey(asset)
	b.mu.Lock()
	defer b.mu.Unlock()
	available := b.venue[key].Available
	if adj, ok := b.pending[key]; ok {
		available = available.Add(adj.delta)
	}
	return available
}

// Held returns the last venue-reported held amount for the asset.
func (b *BalanceTracker) Held(asset string) decimal.Decimal {
	key := assetKey(asset)
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.venue[key].Held
}

// ApplyPending records a local balance delta (negative when funds were just
// committed to an order, positive when a cancellation released them). Deltas
// accumulate until a reconciliation clears them; adding to an existing
// adjustment restarts its grace cycle.
func (b *BalanceTracker) ApplyPending(asset string, delta decimal.Decimal) {
	if delta.IsZero() {
		return
	}
	key := assetKey(asset)
	b.mu.Lock()
	defer b.mu.Unlock()
	if adj, ok := b.pending[key]; ok {
		adj.delta = adj.delta.Add(delta)
		adj.carried = false
		if adj.delta.IsZero() {
			delete(b.pending, key)
		}
		return
	}
	b.pending[key] = &pendingAdjustment{delta: delta}
}

// ReleasePending drops any pending adjustment for the asset without waiting
// for reconciliation, for when the action that created it was rolled back.
func (b *BalanceTracker) ReleasePending(asset string) {
	key := assetKey(asset)
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.pending, key)
}

// Reconcile installs a fresh venue snapshot. A pending adjustment is cleared
// exactly once: immediately, when the snapshot moved the asset's available
// balance by the adjustment amount (within tolerance, venues round fees), or
// otherwise after surviving one reconciliation cycle, when the venue numbers
// are guaranteed to postdate the action it tracks.
func (b *BalanceTracker) Reconcile(balances []schema.Balance) {
	b.mu.Lock()
	defer b.mu.Unlock()

	previous := make(map[string]decimal.Decimal, len(balances))
	for _, balance := range balances {
		key := assetKey(balance.Asset)
		previous[key] = b.venue[key].Available
		b.venue[key] = balance
	}

	for key, adj := range b.pending {
		if prev, seen := previous[key]; seen {
			diff := b.venue[key].Available.Sub(prev)
			if reflectsDelta(diff, adj.delta) {
				delete(b.pending, key)
				continue
			}
		}
		if adj.carried {
			delete(b.pending, key)
			continue
		}
		adj.carried = true
	}
}

// reflectsDelta reports whether an observed balance movement matches the
// pending delta within 1%, absorbing venue-side fee rounding.
func reflectsDelta(diff, delta decimal.Decimal) bool {
	if delta.IsZero() {
		return false
	}
	tolerance := delta.Abs().Mul(decimal.NewFromFloat(0.01))
	return diff.Sub(delta).Abs().LessThanOrEqual(tolerance)
}

// HasData reports whether at least one venue snapshot has been installed.
// Funds checks are meaningless before the first reconciliation.
func (b *BalanceTracker) HasData() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.venue) > 0
}

// PendingCount reports how many assets carry an uncleared adjustment.
func (b *BalanceTracker) PendingCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

func assetKey(asset string) string {
	return strings.ToUpper(strings.TrimSpace(asset))
}
