// Command riptide runs the ladder trading engine against one venue symbol.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/riptide-labs/riptide/config"
	"github.com/riptide-labs/riptide/internal/engine"
	"github.com/riptide-labs/riptide/internal/telemetry"
	"github.com/riptide-labs/riptide/internal/venue/auth"
	"github.com/riptide-labs/riptide/internal/venue/ratelimit"
	"github.com/riptide-labs/riptide/internal/venue/rest"
	"github.com/riptide-labs/riptide/internal/venue/stream"
)

const (
	defaultConfigPath = "riptide.yaml"
	shutdownTimeout   = 15 * time.Second

	envAPIKey    = "RIPTIDE_API_KEY"
	envAPISecret = "RIPTIDE_API_SECRET"
)

func main() {
	cfgPath := flag.String("config", defaultConfigPath, "path to the configuration file")
	flag.Parse()

	logger := log.New(os.Stdout, "riptide: ", log.LstdFlags|log.Lmicroseconds)

	// Optional .env for local runs; the environment wins over the file.
	_ = godotenv.Load()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		logger.Fatalf("load configuration: %v", err)
	}

	creds := auth.Credentials{
		Key:    strings.TrimSpace(os.Getenv(envAPIKey)),
		Secret: strings.TrimSpace(os.Getenv(envAPISecret)),
	}
	if creds.Empty() && cfg.Mode == "live" {
		logger.Fatalf("live mode requires %s and %s in the environment", envAPIKey, envAPISecret)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	meterProvider, shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Settings{
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		ServiceName:  cfg.Telemetry.ServiceName,
	})
	if err != nil {
		logger.Fatalf("initialize telemetry: %v", err)
	}
	metrics, err := telemetry.NewEngineMetrics(meterProvider)
	if err != nil {
		logger.Fatalf("register metrics: %v", err)
	}

	nonces := auth.NewNonceSource(cfg.REST.NonceMultiplier)
	signer := auth.NewSigner(creds, nonces, cfg.REST.SignPathOnly && cfg.REST.AllowIncompatibleSigning)
	limiter := ratelimit.New(cfg.RateLimit.Capacity, cfg.RateLimit.RefillPerSecond)

	restClient := rest.NewClient(signer, rest.Options{
		BaseURL:    cfg.REST.BaseURL,
		HTTPClient: &http.Client{Timeout: cfg.REST.Timeout.Duration},
		Limiter:    limiter,
		Logger:     log.New(os.Stdout, "riptide/rest: ", log.LstdFlags),
		MaxRetries: cfg.REST.MaxRetries,
	})

	tracker := engine.NewBalanceTracker()
	store := engine.NewSnapshotStore(cfg.StatePath)

	eng, err := engine.NewEngine(engine.Config{
		Symbol:       cfg.Symbol,
		Spacing:      cfg.Spacing.Decimal,
		Quantity:     cfg.Quantity.Decimal,
		FeeRate:      cfg.FeeRate.Decimal,
		ProfitBuffer: cfg.ProfitBuffer.Decimal,
		MinNotional:  cfg.MinNotional.Decimal,
		TickSize:     cfg.TickSize.Decimal,
		QuantityStep: cfg.QuantityStep.Decimal,
		BuyLevels:    cfg.BuyLevels,
		SellLevels:   cfg.SellLevels,
		Unbounded:    cfg.Unbounded,
		Mode:         engine.Mode(cfg.Mode),

		TargetBaseRatio:    cfg.TargetBaseRatio.Decimal,
		RebalanceTolerance: cfg.RebalanceTolerance.Decimal,
	}, restClient, tracker, store, log.New(os.Stdout, "riptide/engine: ", log.LstdFlags), metrics)
	if err != nil {
		logger.Fatalf("initialize engine: %v", err)
	}
	eng.SetConfigMirror(cfg.Redacted())

	var feed engine.StreamSource
	if cfg.Stream.Enabled {
		streamClient := stream.NewClient(stream.Options{
			URL:              cfg.Stream.URL,
			Signer:           signer,
			Logger:           log.New(os.Stdout, "riptide/stream: ", log.LstdFlags),
			ReconnectInitial: cfg.Stream.ReconnectInitial.Duration,
			ReconnectMax:     cfg.Stream.ReconnectMax.Duration,
			MaxFailures:      cfg.Stream.MaxFailures,
		})
		streamClient.On(stream.MethodReport, eng.HandleReport(ctx))
		streamClient.On(stream.MethodBalance, eng.HandleBalances(ctx))
		if err := streamClient.SubscribeReports(ctx); err != nil {
			logger.Fatalf("subscribe reports: %v", err)
		}
		if err := streamClient.SubscribeBalances(ctx); err != nil {
			logger.Fatalf("subscribe balances: %v", err)
		}
		feed = streamClient
	}

	runner := engine.NewRunner(eng, engine.RunnerOptions{
		PollInterval: cfg.PollInterval.Duration,
		Stream:       feed,
		Logger:       logger,
	})

	logger.Printf("starting %s ladder on %s (mode %s)", cfg.Symbol, cfg.REST.BaseURL, cfg.Mode)
	runErr := runner.Run(ctx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		logger.Printf("flush telemetry: %v", err)
	}

	if runErr != nil {
		logger.Fatalf("run ended: %v", runErr)
	}
	logger.Print("shutdown complete")
}
