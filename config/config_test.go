package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/riptide-labs/riptide/errs"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "riptide.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const validConfig = `
symbol: BTC_USDT
mode: live
spacing: "0.02"
quantity: "0.001"
fee_rate: "0.002"
profit_buffer: "0.0001"
rest:
  base_url: https://api.example.test
  timeout: 20s
stream:
  enabled: true
  url: wss://stream.example.test
`

func TestLoadAppliesFileOverDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Symbol != "BTC_USDT" || cfg.Mode != "live" {
		t.Fatalf("cfg = %+v", cfg)
	}
	if !cfg.Spacing.Equal(Dec("0.02").Decimal) {
		t.Fatalf("spacing = %s", cfg.Spacing)
	}
	if cfg.REST.Timeout.Duration != 20*time.Second {
		t.Fatalf("timeout = %s", cfg.REST.Timeout)
	}
	// Defaults survive where the file is silent.
	if cfg.BuyLevels != 3 || cfg.SellLevels != 6 {
		t.Fatalf("levels = %d/%d", cfg.BuyLevels, cfg.SellLevels)
	}
	if cfg.RateLimit.Capacity != 5 {
		t.Fatalf("rate limit capacity = %d", cfg.RateLimit.Capacity)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	_, err := Load(writeConfig(t, validConfig+"\nspacingg: \"0.03\"\n"))
	if !errs.IsConfig(err) {
		t.Fatalf("want config error for unknown key, got %v", err)
	}
}

func TestValidateRejectsUnprofitableSpacing(t *testing.T) {
	cfg := Default()
	cfg.Symbol = "BTC_USDT"
	cfg.Quantity = Dec("0.001")
	cfg.Spacing = Dec("0.003") // below ~0.41% for the default fees
	err := cfg.Validate()
	if !errs.IsConfig(err) {
		t.Fatalf("want config error, got %v", err)
	}
}

func TestValidateGatesPathOnlySigning(t *testing.T) {
	cfg := Default()
	cfg.Symbol = "BTC_USDT"
	cfg.Quantity = Dec("0.001")
	cfg.Stream.Enabled = false
	cfg.REST.SignPathOnly = true
	if err := cfg.Validate(); !errs.IsConfig(err) {
		t.Fatalf("path-only signing must require the explicit override, got %v", err)
	}

	cfg.REST.AllowIncompatibleSigning = true
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate with override: %v", err)
	}
}

func TestValidateRequiresStreamURLWhenEnabled(t *testing.T) {
	cfg := Default()
	cfg.Symbol = "BTC_USDT"
	cfg.Quantity = Dec("0.001")
	cfg.Stream.Enabled = true
	cfg.Stream.URL = ""
	if err := cfg.Validate(); !errs.IsConfig(err) {
		t.Fatalf("want config error, got %v", err)
	}
}

func TestValidateRejectsTargetRatioOutOfRange(t *testing.T) {
	cfg := Default()
	cfg.Symbol = "BTC_USDT"
	cfg.Quantity = Dec("0.001")
	cfg.Stream.Enabled = false
	cfg.TargetBaseRatio = Dec("1")
	if err := cfg.Validate(); !errs.IsConfig(err) {
		t.Fatalf("want config error for ratio 1, got %v", err)
	}

	cfg.TargetBaseRatio = Dec("0.5")
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate with ratio 0.5: %v", err)
	}
}

func TestDecimalUnmarshalsStringsAndNumbers(t *testing.T) {
	path := writeConfig(t, `
symbol: BTC_USDT
mode: dry-run
quantity: 0.5
spacing: "0.02"
stream:
  enabled: false
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.Quantity.Equal(Dec("0.5").Decimal) {
		t.Fatalf("quantity = %s", cfg.Quantity)
	}
}

func TestLoadMissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if !errs.IsConfig(err) {
		t.Fatalf("want config error, got %v", err)
	}
}
