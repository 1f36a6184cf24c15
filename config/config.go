// Package config loads and validates the riptide runtime configuration.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/riptide-labs/riptide/errs"
	"github.com/riptide-labs/riptide/internal/pricing"
)

// Decimal wraps shopspring decimal for YAML decoding. Values may be written
// as strings or bare numbers; strings are preferred since they survive any
// precision.
type Decimal struct {
	decimal.Decimal
}

// Dec builds a Decimal from a literal, for defaults and tests.
func Dec(s string) Decimal {
	return Decimal{decimal.RequireFromString(s)}
}

// UnmarshalYAML implements yaml.Unmarshaler. The scalar's literal text is
// parsed directly, so quoted strings and bare numbers both work without any
// float round trip.
func (d *Decimal) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("decimal value must be a scalar, got %v", value.Kind)
	}
	trimmed := strings.TrimSpace(value.Value)
	if trimmed == "" {
		d.Decimal = decimal.Zero
		return nil
	}
	parsed, err := decimal.NewFromString(trimmed)
	if err != nil {
		return fmt.Errorf("parse decimal %q: %w", value.Value, err)
	}
	d.Decimal = parsed
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Decimal) MarshalYAML() (any, error) {
	return d.String(), nil
}

// Duration wraps time.Duration for YAML decoding in Go duration syntax
// ("30s", "1m30s").
type Duration struct {
	time.Duration
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration value must be a scalar, got %v", value.Kind)
	}
	trimmed := strings.TrimSpace(value.Value)
	if trimmed == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(trimmed)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", value.Value, err)
	}
	d.Duration = parsed
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return d.Duration.String(), nil
}

// RESTConfig configures the signed HTTP client.
type RESTConfig struct {
	BaseURL    string   `yaml:"base_url"`
	Timeout    Duration `yaml:"timeout"`
	MaxRetries int      `yaml:"max_retries"`
	// NonceMultiplier scales millisecond timestamps into the digit count the
	// venue expects. All call paths share one multiplier.
	NonceMultiplier float64 `yaml:"nonce_multiplier"`
	// SignPathOnly enables the legacy path-only signing scheme, which most
	// deployments reject. It must be paired with allow_incompatible_signing.
	SignPathOnly             bool `yaml:"sign_path_only"`
	AllowIncompatibleSigning bool `yaml:"allow_incompatible_signing"`
}

// StreamConfig configures the websocket feed.
type StreamConfig struct {
	Enabled          bool     `yaml:"enabled"`
	URL              string   `yaml:"url"`
	ReconnectInitial Duration `yaml:"reconnect_initial"`
	ReconnectMax     Duration `yaml:"reconnect_max"`
	MaxFailures      int      `yaml:"max_failures"`
}

// RateLimitConfig configures the shared request token bucket.
type RateLimitConfig struct {
	Capacity        int     `yaml:"capacity"`
	RefillPerSecond float64 `yaml:"refill_per_second"`
}

// TelemetryConfig selects the metrics destination.
type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	ServiceName  string `yaml:"service_name"`
}

// Config is the full runtime configuration.
type Config struct {
	Symbol       string   `yaml:"symbol"`
	Mode         string   `yaml:"mode"`
	Spacing      Decimal  `yaml:"spacing"`
	Quantity     Decimal  `yaml:"quantity"`
	FeeRate      Decimal  `yaml:"fee_rate"`
	ProfitBuffer Decimal  `yaml:"profit_buffer"`
	MinNotional  Decimal  `yaml:"min_notional"`
	TickSize     Decimal  `yaml:"tick_size"`
	QuantityStep Decimal  `yaml:"quantity_step"`
	BuyLevels    int      `yaml:"buy_levels"`
	SellLevels   int      `yaml:"sell_levels"`
	Unbounded    bool     `yaml:"unbounded"`
	StatePath    string   `yaml:"state_path"`
	PollInterval Duration `yaml:"poll_interval"`

	// TargetBaseRatio, when positive, rebalances holdings toward this
	// base/quote value split with one market order before seeding. Zero
	// disables the rebalance.
	TargetBaseRatio    Decimal `yaml:"target_base_ratio"`
	RebalanceTolerance Decimal `yaml:"rebalance_tolerance"`

	REST      RESTConfig      `yaml:"rest"`
	Stream    StreamConfig    `yaml:"stream"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// Default returns the baseline configuration; Load layers files on top of it.
func Default() Config {
	return Config{
		Mode:         "dry-run",
		Spacing:      Dec("0.02"),
		FeeRate:      Dec("0.002"),
		ProfitBuffer: Dec("0.0001"),
		MinNotional:  Dec("1"),
		BuyLevels:    3,
		SellLevels:   6,
		StatePath:    "riptide-state.json",
		PollInterval: Duration{10 * time.Second},
		REST: RESTConfig{
			Timeout:         Duration{15 * time.Second},
			MaxRetries:      4,
			NonceMultiplier: 1,
		},
		Stream: StreamConfig{
			Enabled:          true,
			ReconnectInitial: Duration{time.Second},
			ReconnectMax:     Duration{30 * time.Second},
			MaxFailures:      10,
		},
		RateLimit: RateLimitConfig{
			Capacity:        5,
			RefillPerSecond: 2,
		},
		Telemetry: TelemetryConfig{
			ServiceName: "riptide",
		},
	}
}

// Load reads a YAML file over the defaults and validates the result. Unknown
// keys are rejected so typos fail loudly at startup.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errs.New(errs.KindConfig,
			errs.WithMessage("read configuration file"),
			errs.WithCause(err))
	}
	decoder := yaml.NewDecoder(strings.NewReader(string(data)))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return Config{}, errs.New(errs.KindConfig,
			errs.WithMessage(fmt.Sprintf("parse %s", path)),
			errs.WithCause(err))
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks invariants that would make a run unsafe.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Symbol) == "" {
		return configError("symbol is required", "set symbol, e.g. BTC_USDT")
	}
	switch c.Mode {
	case "live", "dry-run", "monitor":
	default:
		return configError(fmt.Sprintf("unknown mode %q", c.Mode), "use live, dry-run or monitor")
	}
	if !c.Spacing.IsPositive() {
		return configError("spacing must be positive", "")
	}
	if !c.Quantity.IsPositive() {
		return configError("quantity must be positive", "")
	}
	if c.BuyLevels < 0 || c.SellLevels < 0 || c.BuyLevels+c.SellLevels == 0 {
		return configError("at least one ladder level is required", "")
	}
	minStep := pricing.MinProfitableStep(c.FeeRate.Decimal, c.ProfitBuffer.Decimal)
	if c.Spacing.LessThan(minStep) {
		return configError(
			fmt.Sprintf("spacing %s is below the minimum profitable step %s for fee %s", c.Spacing, minStep, c.FeeRate),
			"widen spacing or lower the fee buffer; every round trip would lose money")
	}
	if c.TargetBaseRatio.IsNegative() || c.TargetBaseRatio.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return configError("target_base_ratio must be within [0, 1)", "")
	}
	if c.REST.SignPathOnly && !c.REST.AllowIncompatibleSigning {
		return configError(
			"sign_path_only is a legacy scheme most deployments reject",
			"set allow_incompatible_signing: true to confirm the venue accepts path-only signatures")
	}
	if c.REST.NonceMultiplier < 0 {
		return configError("nonce_multiplier must not be negative", "")
	}
	if c.Mode == "live" && strings.TrimSpace(c.REST.BaseURL) == "" {
		return configError("rest.base_url is required in live mode", "")
	}
	if c.Stream.Enabled && strings.TrimSpace(c.Stream.URL) == "" {
		return configError("stream.url is required when the stream is enabled", "")
	}
	if c.RateLimit.Capacity < 0 || c.RateLimit.RefillPerSecond < 0 {
		return configError("rate_limit values must not be negative", "")
	}
	return nil
}

func configError(message, remediation string) error {
	opts := []errs.Option{errs.WithMessage(message)}
	if remediation != "" {
		opts = append(opts, errs.WithRemediation(remediation))
	}
	return errs.New(errs.KindConfig, opts...)
}

// Redacted returns a map view of the configuration for the state snapshot.
// Credentials never live in Config, so nothing here is sensitive; the
// snapshot store scrubs defensively anyway.
func (c Config) Redacted() map[string]any {
	return map[string]any{
		"symbol":      c.Symbol,
		"mode":        c.Mode,
		"spacing":     c.Spacing.String(),
		"quantity":    c.Quantity.String(),
		"fee_rate":    c.FeeRate.String(),
		"buy_levels":  c.BuyLevels,
		"sell_levels": c.SellLevels,
		"unbounded":   c.Unbounded,
		"rest": map[string]any{
			"base_url": c.REST.BaseURL,
		},
		"stream": map[string]any{
			"enabled": c.Stream.Enabled,
			"url":     c.Stream.URL,
		},
	}
}
