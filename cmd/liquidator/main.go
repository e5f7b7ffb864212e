package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	_ "github.com/joho/godotenv/autoload"

	"github.com/coldbell/liquidator/internal/cache"
	"github.com/coldbell/liquidator/internal/chain"
	"github.com/coldbell/liquidator/internal/config"
	"github.com/coldbell/liquidator/internal/logging"
	"github.com/coldbell/liquidator/internal/market"
	"github.com/coldbell/liquidator/internal/oracle"
	"github.com/coldbell/liquidator/internal/rebalance"
	"github.com/coldbell/liquidator/internal/scheduler"
	"github.com/coldbell/liquidator/internal/wallet"
)

func main() {
	dryRun := flag.Bool("dry-run", false, "suppress transaction submission; perform every step up to it")
	oracleStream := flag.Bool("oracle-stream", false, "subscribe to a Pyth price-update stream to pre-warm the price cache between epochs")
	flag.Parse()

	bootstrapLogger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg, err := config.LoadLiquidatorConfig(*dryRun)
	if err != nil {
		bootstrapLogger.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	logger, closeLogger, err := logging.New("liquidator", cfg.Log)
	if err != nil {
		bootstrapLogger.Error("failed to initialize logger", "err", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := closeLogger(); closeErr != nil {
			bootstrapLogger.Error("failed to close logger", "err", closeErr)
		}
	}()

	if source, sourceErr := config.CurrentConfigSource(); sourceErr == nil {
		logger.Info("configuration loaded", "phase", source.Phase, "path", source.Path, "loaded", source.Loaded)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	markets, err := market.FetchMarkets(ctx, cfg.App, cfg.MarketsFilter, logger)
	if err != nil {
		logger.Error("failed to fetch markets catalog", "err", err)
		os.Exit(1)
	}

	payer, err := solana.PrivateKeyFromSolanaKeygenFile(cfg.SecretPath)
	if err != nil {
		logger.Error("failed to load keypair", "path", cfg.SecretPath, "err", err)
		os.Exit(1)
	}

	programID, err := chain.ProgramID(cfg.App)
	if err != nil {
		logger.Error("failed to resolve program id", "app", cfg.App, "err", err)
		os.Exit(1)
	}

	chainClient := chain.NewClient(cfg.RPCEndpoint, programID, logger)
	oracleReader := oracle.NewReader(chainClient, logger)
	balanceReader := wallet.NewBalanceReader(cfg.RPCEndpoint, payer.PublicKey())

	// Built once from the markets catalog and treated as read-only for the
	// rest of the process: every epoch's market tasks read from this instead
	// of recomputing the mint→oracle index.
	mintIndex := oracle.BuildMintIndexCache(markets)

	if len(cfg.Targets) > 0 {
		logger.Warn("wallet rebalancing targets configured but not executed",
			"targets", len(cfg.Targets), "padding", cfg.RebalancePadding,
			"err", rebalance.NoopSwapper{}.Swap(rebalance.Action{}))
	}

	if *oracleStream && cfg.PriceStreamURL != "" {
		priceCache := cache.New[string, decimal.Decimal](0)
		stream := oracle.NewStream(cfg.PriceStreamURL, streamBindings(markets), priceCache, logger)
		go stream.Run(ctx)
	}

	logger.Info("starting liquidator",
		"app", cfg.App,
		"rpc", cfg.RPCEndpoint,
		"wallet", payer.PublicKey().String(),
		"markets", len(markets),
		"dry_run", cfg.DryRun,
		"auto_rebalancing", len(cfg.Targets) > 0,
	)

	engine := &scheduler.Engine{
		Markets:   markets,
		Chain:     chainClient,
		Oracle:    oracleReader,
		Balances:  balanceReader,
		MintIndex: mintIndex,
		DeriveATA: chain.DeriveATA,
		ProgramID: programID,
		Payer:     payer,
		DryRun:    cfg.DryRun,
		Throttle:  buildThrottle(cfg),
		Logger:    logger,
	}

	if err := engine.Run(ctx); err != nil {
		logger.Error("liquidator exited with error", "err", err)
		os.Exit(1)
	}
}

// buildThrottle returns a rate limiter gating the inter-epoch pause, or nil
// when THROTTLE is unset (default 0 ms, meaning no pause between epochs).
func buildThrottle(cfg config.LiquidatorConfig) *rate.Limiter {
	if cfg.Throttle <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Every(cfg.Throttle), 1)
}

// streamBindings maps every reserve's on-chain Pyth oracle address to its
// liquidity mint. The catalog only carries the on-chain account, not a Hermes
// feed id, so the stream's feed filter keys on that address instead; it is
// the same identifier the stream payload's "id" field carries for a
// self-hosted or account-keyed relay.
func streamBindings(markets []market.Market) []oracle.StreamBinding {
	var bindings []oracle.StreamBinding
	for _, m := range markets {
		for _, r := range m.Reserves {
			if r.PythOracle == oracle.NullOracle {
				continue
			}
			bindings = append(bindings, oracle.StreamBinding{
				FeedID:      r.PythOracle,
				MintAddress: r.MintAddress(),
			})
		}
	}
	return bindings
}
