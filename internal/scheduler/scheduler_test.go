package scheduler

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/coldbell/liquidator/internal/decode"
	"github.com/coldbell/liquidator/internal/market"
	"github.com/coldbell/liquidator/internal/oracle"
	"github.com/coldbell/liquidator/internal/wallet"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func wad(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1_000_000_000_000_000_000))
}

func buildPriceAccount(price int64, exponent int32) []byte {
	buf := make([]byte, 220)
	binary.LittleEndian.PutUint64(buf[208:216], uint64(price))
	binary.LittleEndian.PutUint32(buf[216:220], uint32(exponent))
	return buf
}

func encodeEmptyObligation() []byte {
	return make([]byte, decode.ObligationSize)
}

type fakePriceFetcher struct {
	accounts map[solana.PublicKey][]byte
}

func (f *fakePriceFetcher) FetchPrices(ctx context.Context, index map[string]oracle.Binding) (map[string]decimal.Decimal, error) {
	reader := oracle.NewReader(&fakeAccountFetcher{accounts: f.accounts}, testLogger())
	return reader.FetchPrices(ctx, index)
}

type fakeAccountFetcher struct {
	accounts map[solana.PublicKey][]byte
}

func (f *fakeAccountFetcher) FetchAccounts(ctx context.Context, keys []solana.PublicKey) (map[solana.PublicKey][]byte, error) {
	out := make(map[solana.PublicKey][]byte)
	for _, k := range keys {
		if v, ok := f.accounts[k]; ok {
			out[k] = v
		}
	}
	return out, nil
}

type fakeChainClient struct {
	obligations map[solana.PublicKey]*decode.Obligation
	reserves    map[solana.PublicKey]*decode.Reserve
	refetch     map[solana.PublicKey][]byte

	sendCalls int
	slotCalls int
}

func (f *fakeChainClient) GetObligations(ctx context.Context, lendingMarket solana.PublicKey) (map[solana.PublicKey]*decode.Obligation, error) {
	return f.obligations, nil
}

func (f *fakeChainClient) GetReserves(ctx context.Context, lendingMarket solana.PublicKey) (map[solana.PublicKey]*decode.Reserve, error) {
	return f.reserves, nil
}

func (f *fakeChainClient) FetchAccounts(ctx context.Context, keys []solana.PublicKey) (map[solana.PublicKey][]byte, error) {
	out := make(map[solana.PublicKey][]byte)
	for _, k := range keys {
		if v, ok := f.refetch[k]; ok {
			out[k] = v
		}
	}
	return out, nil
}

func (f *fakeChainClient) GetSlot(ctx context.Context) (uint64, error) {
	f.slotCalls++
	return 1000, nil
}

func (f *fakeChainClient) SendAndConfirm(ctx context.Context, instructions []solana.Instruction, signer solana.PrivateKey) (solana.Signature, error) {
	f.sendCalls++
	return solana.Signature{}, nil
}

type fakeBalanceReader struct {
	base uint64
}

func (f *fakeBalanceReader) GetTokenBalance(ctx context.Context, mint solana.PublicKey, decimals uint8) (wallet.TokenBalance, error) {
	return wallet.TokenBalance{MintAddress: mint.String(), Base: f.base, Human: decimal.NewFromInt(int64(f.base)).Shift(-int32(decimals))}, nil
}

func buildTestMarket(t *testing.T, reserveAddr, pythOracle, mint solana.PublicKey) market.Market {
	t.Helper()
	return market.Market{
		Name:             "test",
		Address:          solana.NewWallet().PublicKey().String(),
		AuthorityAddress: solana.NewWallet().PublicKey().String(),
		Reserves: []market.Reserve{
			{
				Address:                     reserveAddr.String(),
				PythOracle:                  pythOracle.String(),
				SwitchboardOracle:           oracle.NullOracle,
				CollateralMintAddress:       solana.NewWallet().PublicKey().String(),
				CollateralSupplyAddress:     solana.NewWallet().PublicKey().String(),
				LiquidityAddress:            solana.NewWallet().PublicKey().String(),
				LiquidityFeeReceiverAddress: solana.NewWallet().PublicKey().String(),
				LiquidityToken:              market.LiquidityToken{Mint: mint.String(), Symbol: "SOL", Decimals: 0},
			},
		},
	}
}

func buildTestReserve(reserveMarket, mint, pythOracle solana.PublicKey) *decode.Reserve {
	return &decode.Reserve{
		Version:       1,
		LendingMarket: reserveMarket,
		Liquidity: decode.ReserveLiquidity{
			MintPubkey:                 mint,
			MintDecimals:               0,
			PythOraclePubkey:           pythOracle,
			AvailableAmount:            100,
			BorrowedAmountScaled:       wad(50),
			CumulativeBorrowRateScaled: wad(1),
			MarketPrice:                wad(1),
		},
		Collateral: decode.ReserveCollateral{MintTotalSupply: 100},
		Config: decode.ReserveConfig{
			LoanToValueRatio:     50,
			LiquidationBonus:     5,
			LiquidationThreshold: 60,
		},
	}
}

func TestProcessObligationLiquidatesUntilHealthy(t *testing.T) {
	reserveAddr := solana.NewWallet().PublicKey()
	pythOracle := solana.NewWallet().PublicKey()
	mint := solana.NewWallet().PublicKey()
	obligationPubkey := solana.NewWallet().PublicKey()

	m := buildTestMarket(t, reserveAddr, pythOracle, mint)
	lendingMarket, err := solana.PublicKeyFromBase58(m.Address)
	require.NoError(t, err)

	reserve := buildTestReserve(lendingMarket, mint, pythOracle)

	unhealthyObligation := &decode.Obligation{
		LendingMarket: lendingMarket,
		Deposits: []decode.ObligationCollateral{
			{DepositReserve: reserveAddr, DepositedAmount: 100},
		},
		Borrows: []decode.ObligationLiquidity{
			{BorrowReserve: reserveAddr, BorrowedAmountScaled: wad(900)},
		},
	}

	priceAccounts := map[solana.PublicKey][]byte{
		pythOracle: buildPriceAccount(1, 0),
	}

	chain := &fakeChainClient{
		obligations: map[solana.PublicKey]*decode.Obligation{obligationPubkey: unhealthyObligation},
		reserves:    map[solana.PublicKey]*decode.Reserve{reserveAddr: reserve},
		refetch:     map[solana.PublicKey][]byte{obligationPubkey: encodeEmptyObligation()},
	}

	payer := solana.NewWallet().PrivateKey

	engine := &Engine{
		Markets:   []market.Market{m},
		Chain:     chain,
		Oracle:    &fakePriceFetcher{accounts: priceAccounts},
		Balances:  &fakeBalanceReader{base: 5_000_000_000},
		MintIndex: oracle.BuildMintIndexCache([]market.Market{m}),
		DeriveATA: func(owner, mint solana.PublicKey) (solana.PublicKey, error) {
			ata, _, err := solana.FindAssociatedTokenAddress(owner, mint)
			return ata, err
		},
		ProgramID: solana.NewWallet().PublicKey(),
		Payer:     payer,
		Logger:    testLogger(),
	}

	metrics := StartEpoch()
	engine.processMarket(context.Background(), m, metrics)

	require.Equal(t, 1, chain.sendCalls)
	require.Equal(t, 1, metrics.TotalObligations)
	require.Equal(t, 1, metrics.UnhealthyObligations)
	require.Equal(t, 1, metrics.LiquidationsAttempted)
}

func TestProcessObligationSkipsWhenBalanceZero(t *testing.T) {
	reserveAddr := solana.NewWallet().PublicKey()
	pythOracle := solana.NewWallet().PublicKey()
	mint := solana.NewWallet().PublicKey()
	obligationPubkey := solana.NewWallet().PublicKey()

	m := buildTestMarket(t, reserveAddr, pythOracle, mint)
	lendingMarket, err := solana.PublicKeyFromBase58(m.Address)
	require.NoError(t, err)

	reserve := buildTestReserve(lendingMarket, mint, pythOracle)

	unhealthyObligation := &decode.Obligation{
		LendingMarket: lendingMarket,
		Deposits: []decode.ObligationCollateral{
			{DepositReserve: reserveAddr, DepositedAmount: 100},
		},
		Borrows: []decode.ObligationLiquidity{
			{BorrowReserve: reserveAddr, BorrowedAmountScaled: wad(900)},
		},
	}

	priceAccounts := map[solana.PublicKey][]byte{
		pythOracle: buildPriceAccount(1, 0),
	}

	chain := &fakeChainClient{
		obligations: map[solana.PublicKey]*decode.Obligation{obligationPubkey: unhealthyObligation},
		reserves:    map[solana.PublicKey]*decode.Reserve{reserveAddr: reserve},
	}

	engine := &Engine{
		Markets:   []market.Market{m},
		Chain:     chain,
		Oracle:    &fakePriceFetcher{accounts: priceAccounts},
		Balances:  &fakeBalanceReader{base: 0},
		MintIndex: oracle.BuildMintIndexCache([]market.Market{m}),
		DeriveATA: func(owner, mint solana.PublicKey) (solana.PublicKey, error) {
			ata, _, err := solana.FindAssociatedTokenAddress(owner, mint)
			return ata, err
		},
		ProgramID: solana.NewWallet().PublicKey(),
		Payer:     solana.NewWallet().PrivateKey,
		Logger:    testLogger(),
	}

	metrics := StartEpoch()
	engine.processMarket(context.Background(), m, metrics)

	require.Equal(t, 0, chain.sendCalls)
	require.Equal(t, 0, metrics.LiquidationsAttempted)
}

func TestProcessMarketValidatesOraclePricesAndTimesFetches(t *testing.T) {
	reserveAddr := solana.NewWallet().PublicKey()
	pythOracle := solana.NewWallet().PublicKey()
	mint := solana.NewWallet().PublicKey()

	m := buildTestMarket(t, reserveAddr, pythOracle, mint)
	lendingMarket, err := solana.PublicKeyFromBase58(m.Address)
	require.NoError(t, err)

	// LastUpdate.Slot stays at its zero value, so against the fake chain's
	// current slot of 1000 this reserve's price is far past MaxSlotAge.
	reserve := buildTestReserve(lendingMarket, mint, pythOracle)

	priceAccounts := map[solana.PublicKey][]byte{
		pythOracle: buildPriceAccount(1, 0),
	}

	chain := &fakeChainClient{
		obligations: map[solana.PublicKey]*decode.Obligation{},
		reserves:    map[solana.PublicKey]*decode.Reserve{reserveAddr: reserve},
	}

	var logBuf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logBuf, nil))

	engine := &Engine{
		Markets:   []market.Market{m},
		Chain:     chain,
		Oracle:    &fakePriceFetcher{accounts: priceAccounts},
		Balances:  &fakeBalanceReader{},
		MintIndex: oracle.BuildMintIndexCache([]market.Market{m}),
		Logger:    logger,
	}

	metrics := StartEpoch()
	engine.processMarket(context.Background(), m, metrics)

	require.Equal(t, 1, chain.slotCalls)
	require.Contains(t, logBuf.String(), "may be stale")

	require.GreaterOrEqual(t, metrics.OracleFetch, time.Duration(0))
	require.GreaterOrEqual(t, metrics.ObligationsFetch, time.Duration(0))
	require.GreaterOrEqual(t, metrics.ReservesFetch, time.Duration(0))
	require.GreaterOrEqual(t, metrics.Processing, time.Duration(0))
}

func TestRunRespectsContextCancellation(t *testing.T) {
	engine := &Engine{
		Markets:  nil,
		Chain:    &fakeChainClient{},
		Oracle:   &fakePriceFetcher{},
		Balances: &fakeBalanceReader{},
		Logger:   testLogger(),
		Throttle: rate.NewLimiter(rate.Inf, 1),
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := engine.Run(ctx)
	require.Error(t, err)
}
