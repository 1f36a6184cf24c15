package engine

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"github.com/riptide-labs/riptide/internal/schema"
)

// SnapshotOrder is the persisted view of one resting ladder order.
type SnapshotOrder struct {
	ID        string          `json:"id"`
	ClientID  string          `json:"client_id"`
	Side      schema.Side     `json:"side"`
	Price     decimal.Decimal `json:"price"`
	Quantity  decimal.Decimal `json:"quantity"`
	CostBasis decimal.Decimal `json:"cost_basis,omitempty"`
}

// Snapshot is the engine state written to disk after every mutation, so a
// restart can resume the ladder without replaying venue history.
type Snapshot struct {
	Symbol           string          `json:"symbol"`
	ReferencePrice   decimal.Decimal `json:"reference_price"`
	LowestBuyPrice   decimal.Decimal `json:"lowest_buy_price"`
	HighestSellPrice decimal.Decimal `json:"highest_sell_price"`
	OpenOrders       []SnapshotOrder `json:"open_orders"`
	GrossSellRevenue decimal.Decimal `json:"gross_sell_revenue"`
	NetProfit        decimal.Decimal `json:"net_profit"`
	NeedsRebalance   bool            `json:"needs_rebalance"`
	IsRunning        bool            `json:"is_running"`
	LastError        string          `json:"last_error,omitempty"`
	UpdatedAt        time.Time       `json:"updated_at"`

	// Config mirrors the non-sensitive runtime configuration for operator
	// inspection. Credential material is scrubbed before writing.
	Config map[string]any `json:"config,omitempty"`
}

// SnapshotStore persists snapshots as JSON with atomic replacement: the file
// on disk is always a complete snapshot, never a partial write.
type SnapshotStore struct {
	path string
}

// NewSnapshotStore builds a store writing to path.
func NewSnapshotStore(path string) *SnapshotStore {
	return &SnapshotStore{path: path}
}

// Path returns the snapshot file location.
func (s *SnapshotStore) Path() string { return s.path }

// Save writes the snapshot. The write goes to a temp file in the target
// directory and is renamed into place so a crash mid-write leaves the
// previous snapshot intact.
func (s *SnapshotStore) Save(snapshot Snapshot) error {
	snapshot.UpdatedAt = time.Now().UTC()
	snapshot.Config = scrubSensitive(snapshot.Config)

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create snapshot directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write temp snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("sync temp snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp snapshot: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}

// Load reads the last saved snapshot. A missing file is not an error; it
// returns (nil, nil) so callers start fresh.
func (s *SnapshotStore) Load() (*Snapshot, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	var snapshot Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", s.path, err)
	}
	return &snapshot, nil
}

// sensitiveKeys are configuration keys that must never be persisted.
var sensitiveKeys = map[string]struct{}{
	"api_key":    {},
	"api_secret": {},
	"apikey":     {},
	"apisecret":  {},
	"secret":     {},
	"token":      {},
	"password":   {},
}

// scrubSensitive removes credential material from a config mirror, including
// nested maps. The input is not modified.
func scrubSensitive(config map[string]any) map[string]any {
	if len(config) == 0 {
		return nil
	}
	out := make(map[string]any, len(config))
	for key, value := range config {
		if _, bad := sensitiveKeys[strings.ToLower(strings.TrimSpace(key))]; bad {
			continue
		}
		if nested, ok := value.(map[string]any); ok {
			if cleaned := scrubSensitive(nested); cleaned != nil {
				out[key] = cleaned
			}
			continue
		}
		out[key] = value
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
