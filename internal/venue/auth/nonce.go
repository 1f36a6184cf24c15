package auth

import (
	"sync/atomic"
	"time"
)

// NonceSource generates strictly increasing nonces derived from the wall
// clock in milliseconds times a configured multiplier. Different venues
// expect different digit counts, so the multiplier is injected rather than
// hardcoded; every call path of a client must share one source.
type NonceSource struct {
	multiplier float64
	now        func() time.Time
	last       atomic.Int64
}

// NewNonceSource constructs a source with the given multiplier. A
// non-positive multiplier defaults to 1 (plain milliseconds).
func NewNonceSource(multiplier float64) *NonceSource {
	return newNonceSource(multiplier, time.Now)
}

func newNonceSource(multiplier float64, now func() time.Time) *NonceSource {
	if multiplier <= 0 {
		multiplier = 1
	}
	return &NonceSource{multiplier: multiplier, now: now}
}

// Next returns the next nonce. Values are strictly increasing within the
// process lifetime even under concurrent callers: when the clock-derived
// value does not advance past the previous nonce, the previous value plus
// one is used instead.
func (n *NonceSource) Next() int64 {
	computed := int64(float64(n.now().UnixMilli()) * n.multiplier)
	for {
		prev := n.last.Load()
		next := computed
		if next <= prev {
			next = prev + 1
		}
		if n.last.CompareAndSwap(prev, next) {
			return next
		}
	}
}
