// Package scheduler drives the epoch loop: fan out across markets with a
// bounded number of concurrent market tasks, recompute obligation health
// inside each, and retry liquidation on every unhealthy obligation until it
// is healthy or a break condition fires.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/coldbell/liquidator/internal/assemble"
	"github.com/coldbell/liquidator/internal/cache"
	"github.com/coldbell/liquidator/internal/decode"
	"github.com/coldbell/liquidator/internal/health"
	"github.com/coldbell/liquidator/internal/market"
	"github.com/coldbell/liquidator/internal/oracle"
	"github.com/coldbell/liquidator/internal/selection"
	"github.com/coldbell/liquidator/internal/wallet"
)

// marketConcurrency is the process-wide cap on concurrently running market
// tasks.
const marketConcurrency = 10

// ChainClient is the slice of internal/chain.Client the scheduler depends
// on; narrowed to an interface so market tasks can be exercised against a
// fake in tests.
type ChainClient interface {
	GetObligations(ctx context.Context, lendingMarket solana.PublicKey) (map[solana.PublicKey]*decode.Obligation, error)
	GetReserves(ctx context.Context, lendingMarket solana.PublicKey) (map[solana.PublicKey]*decode.Reserve, error)
	FetchAccounts(ctx context.Context, keys []solana.PublicKey) (map[solana.PublicKey][]byte, error)
	GetSlot(ctx context.Context) (uint64, error)
	SendAndConfirm(ctx context.Context, instructions []solana.Instruction, signer solana.PrivateKey) (solana.Signature, error)
}

// BalanceReader is the slice of internal/wallet.BalanceReader the scheduler
// depends on.
type BalanceReader interface {
	GetTokenBalance(ctx context.Context, mint solana.PublicKey, decimals uint8) (wallet.TokenBalance, error)
}

// ATADeriver resolves a wallet's associated token account for a mint.
type ATADeriver func(owner, mint solana.PublicKey) (solana.PublicKey, error)

// PriceFetcher is the slice of internal/oracle.Reader the scheduler depends
// on.
type PriceFetcher interface {
	FetchPrices(ctx context.Context, index map[string]oracle.Binding) (map[string]decimal.Decimal, error)
}

// Engine holds everything one epoch loop needs: the markets to check, the
// chain/oracle/wallet collaborators, and the signing identity.
type Engine struct {
	Markets   []market.Market
	Chain     ChainClient
	Oracle    PriceFetcher
	Balances  BalanceReader
	DeriveATA ATADeriver

	// MintIndex is the mint→oracle-binding index, built once at startup from
	// the Markets catalog (see oracle.BuildMintIndexCache) and read-only for
	// the lifetime of the process. Market tasks read their reserves' entries
	// out of it instead of recomputing oracle.BuildIndex every epoch.
	MintIndex *cache.Cache[string, oracle.Binding]

	ProgramID solana.PublicKey
	Payer     solana.PrivateKey
	DryRun    bool
	Throttle  *rate.Limiter

	Logger *slog.Logger
}

// Run loops over epochs until ctx is cancelled. Each epoch fans out across
// markets (bounded by marketConcurrency), waits for all of them to finish,
// logs a summary, then waits out the inter-epoch throttle before the next
// epoch.
func (e *Engine) Run(ctx context.Context) error {
	epoch := uint64(0)
	for {
		epoch++
		if err := ctx.Err(); err != nil {
			return err
		}

		metrics := StartEpoch()
		e.Logger.Info("epoch starting", "epoch", epoch, "markets", len(e.Markets))

		if err := e.runEpoch(ctx, metrics); err != nil {
			return err
		}

		metrics.LogSummary(e.Logger)

		if e.Throttle != nil {
			if err := e.Throttle.Wait(ctx); err != nil {
				return err
			}
		}
	}
}

func (e *Engine) runEpoch(ctx context.Context, metrics *EpochMetrics) error {
	sem := semaphore.NewWeighted(marketConcurrency)
	group, groupCtx := errgroup.WithContext(ctx)

	for _, m := range e.Markets {
		m := m
		if err := sem.Acquire(groupCtx, 1); err != nil {
			return group.Wait()
		}
		group.Go(func() error {
			defer sem.Release(1)
			e.processMarket(groupCtx, m, metrics)
			return nil
		})
	}

	return group.Wait()
}

// processMarket fetches one market's oracle prices, obligations, and
// reserves concurrently, validates the fetched prices against the current
// slot, then walks every obligation sequentially looking for liquidation
// opportunities. Fetch failures drop the market for this epoch rather than
// failing the whole run.
func (e *Engine) processMarket(ctx context.Context, m market.Market, metrics *EpochMetrics) {
	logger := e.Logger.With("market", m.Name, "address", m.Address)
	logger.Info("checking market")

	lendingMarket, err := solana.PublicKeyFromBase58(m.Address)
	if err != nil {
		logger.Error("invalid market address", "err", err)
		return
	}

	index := make(map[string]oracle.Binding, len(m.Reserves))
	for _, r := range m.Reserves {
		if b, ok := e.MintIndex.Get(r.MintAddress()); ok {
			index[r.MintAddress()] = b
		}
	}

	var prices map[string]decimal.Decimal
	var obligations map[solana.PublicKey]*decode.Obligation
	var reserves map[solana.PublicKey]*decode.Reserve

	fetch, fetchCtx := errgroup.WithContext(ctx)
	fetch.Go(func() error {
		start := time.Now()
		var err error
		prices, err = e.Oracle.FetchPrices(fetchCtx, index)
		metrics.addOracleFetch(time.Since(start))
		if err != nil {
			return fmt.Errorf("fetch oracle data: %w", err)
		}
		return nil
	})
	fetch.Go(func() error {
		start := time.Now()
		var err error
		obligations, err = e.Chain.GetObligations(fetchCtx, lendingMarket)
		metrics.addObligationsFetch(time.Since(start))
		if err != nil {
			return fmt.Errorf("fetch obligations: %w", err)
		}
		return nil
	})
	fetch.Go(func() error {
		start := time.Now()
		var err error
		reserves, err = e.Chain.GetReserves(fetchCtx, lendingMarket)
		metrics.addReservesFetch(time.Since(start))
		if err != nil {
			return fmt.Errorf("fetch reserves: %w", err)
		}
		return nil
	})

	if err := fetch.Wait(); err != nil {
		logger.Error("failed to fetch market state", "err", err)
		return
	}

	e.validatePrices(ctx, reserves, prices, index, logger)

	logger.Info("found obligations to check", "count", len(obligations))
	metrics.addTotalObligations(len(obligations))

	processingStart := time.Now()
	for pubkey, obligation := range obligations {
		e.processObligation(ctx, m, lendingMarket, pubkey, obligation, reserves, prices, index, metrics, logger)
	}
	metrics.addProcessing(time.Since(processingStart))
}

// validatePrices checks every reserve's just-fetched price against the
// range/staleness thresholds (spec §4.2), logging warnings but never
// dropping a price: the caller still uses it for health computation.
func (e *Engine) validatePrices(
	ctx context.Context,
	reserves map[solana.PublicKey]*decode.Reserve,
	prices map[string]decimal.Decimal,
	index map[string]oracle.Binding,
	logger *slog.Logger,
) {
	currentSlot, err := e.Chain.GetSlot(ctx)
	if err != nil {
		logger.Warn("failed to fetch current slot for oracle validation", "err", err)
		return
	}

	validations := make([]oracle.Validation, 0, len(reserves))
	for _, reserve := range reserves {
		mint := reserve.Liquidity.MintPubkey.String()
		binding, ok := index[mint]
		if !ok {
			continue
		}
		price, ok := prices[mint]
		if !ok {
			continue
		}
		validations = append(validations, oracle.ValidatePrice(binding.Symbol, price, reserve.LastUpdate.Slot, currentSlot))
	}

	oracle.LogValidations(logger, validations)
}

// processObligation runs the per-obligation retry loop: recompute health,
// break if healthy, otherwise select a repay/withdraw pair, check wallet
// balance, and submit a liquidation transaction. A successful liquidation
// re-fetches the single obligation account and loops again.
func (e *Engine) processObligation(
	ctx context.Context,
	m market.Market,
	lendingMarket solana.PublicKey,
	pubkey solana.PublicKey,
	obligation *decode.Obligation,
	reserves map[solana.PublicKey]*decode.Reserve,
	prices map[string]decimal.Decimal,
	index map[string]oracle.Binding,
	metrics *EpochMetrics,
	logger *slog.Logger,
) {
	for {
		result := health.Calculate(obligation, reserves, prices, index)
		if !result.IsUnhealthy() {
			return
		}

		metrics.incUnhealthyObligations()
		logger.Warn("obligation is underwater",
			"obligation", pubkey.String(),
			"borrowed_value", result.BorrowedValue.String(),
			"unhealthy_threshold", result.UnhealthyBorrowValue.String(),
		)

		selectedBorrow, ok := selection.SelectRepayBorrow(result.Borrows)
		if !ok {
			logger.Warn("no valid borrow found", "obligation", pubkey.String())
			return
		}
		selectedDeposit, ok := selection.SelectWithdrawDeposit(result.Deposits)
		if !ok {
			logger.Warn("no valid deposit found", "obligation", pubkey.String())
			return
		}

		repayReserveCfg, ok := m.FindReserveBySymbol(selectedBorrow.Symbol)
		if !ok {
			repayReserveCfg, ok = m.FindReserveByAddress(selectedBorrow.ReserveAddress)
		}
		if !ok {
			logger.Warn("repay reserve not found in market config", "obligation", pubkey.String())
			return
		}
		withdrawReserveCfg, ok := m.FindReserveBySymbol(selectedDeposit.Symbol)
		if !ok {
			withdrawReserveCfg, ok = m.FindReserveByAddress(selectedDeposit.ReserveAddress)
		}
		if !ok {
			logger.Warn("withdraw reserve not found in market config", "obligation", pubkey.String())
			return
		}

		repayMint, err := solana.PublicKeyFromBase58(repayReserveCfg.MintAddress())
		if err != nil {
			logger.Error("invalid repay mint address", "err", err)
			return
		}

		balance, err := e.Balances.GetTokenBalance(ctx, repayMint, repayReserveCfg.Decimals())
		if err != nil {
			logger.Error("failed to read wallet balance", "obligation", pubkey.String(), "err", err)
			return
		}
		if balance.Base == 0 {
			logger.Warn("insufficient balance to liquidate",
				"symbol", selectedBorrow.Symbol, "obligation", pubkey.String(), "market", m.Address)
			return
		}

		logger.Info("wallet balance", "symbol", selectedBorrow.Symbol, "human", balance.Human.String(), "base", balance.Base)

		instructions, err := assemble.BuildLiquidationTransaction(
			e.ProgramID, pubkey, obligation, m, repayReserveCfg, withdrawReserveCfg,
			balance.Base, e.Payer.PublicKey(), assemble.ATADeriver(e.DeriveATA),
		)
		if err != nil {
			logger.Error("failed to assemble liquidation transaction", "obligation", pubkey.String(), "err", err)
			return
		}

		metrics.incLiquidationsAttempted()

		if e.DryRun {
			logger.Info("dry run: skipping submission", "obligation", pubkey.String(), "instructions", len(instructions))
			return
		}

		sig, err := e.Chain.SendAndConfirm(ctx, instructions, e.Payer)
		if err != nil {
			logger.Error("failed to liquidate obligation", "obligation", pubkey.String(), "err", err)
			return
		}
		logger.Info("liquidated obligation", "obligation", pubkey.String(), "signature", sig.String())

		updated, err := e.refetchObligation(ctx, lendingMarket, pubkey)
		if err != nil {
			logger.Warn("failed to refetch obligation after liquidation", "obligation", pubkey.String(), "err", err)
			return
		}
		obligation = updated
	}
}

func (e *Engine) refetchObligation(ctx context.Context, lendingMarket, pubkey solana.PublicKey) (*decode.Obligation, error) {
	accounts, err := e.Chain.FetchAccounts(ctx, []solana.PublicKey{pubkey})
	if err != nil {
		return nil, err
	}
	raw, ok := accounts[pubkey]
	if !ok {
		return nil, fmt.Errorf("obligation account %s not found", pubkey.String())
	}
	return decode.DecodeObligation(raw)
}
