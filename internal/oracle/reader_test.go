package oracle

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"

	"github.com/coldbell/liquidator/internal/market"
)

type fakeFetcher struct {
	accounts map[solana.PublicKey][]byte
}

func (f *fakeFetcher) FetchAccounts(_ context.Context, keys []solana.PublicKey) (map[solana.PublicKey][]byte, error) {
	out := make(map[solana.PublicKey][]byte)
	for _, k := range keys {
		if data, ok := f.accounts[k]; ok {
			out[k] = data
		}
	}
	return out, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestBuildIndexSkipsSentinelPrimary(t *testing.T) {
	fallback := solana.NewWallet().PublicKey()
	markets := []market.Market{
		{
			Reserves: []market.Reserve{
				{
					PythOracle:        NullOracle,
					SwitchboardOracle: fallback.String(),
					LiquidityToken:    market.LiquidityToken{Mint: solana.NewWallet().PublicKey().String(), Symbol: "SOL", Decimals: 9},
				},
			},
		},
	}

	idx := BuildIndex(markets)
	require.Len(t, idx, 1)
	for _, b := range idx {
		require.Equal(t, fallback, b.Oracle)
	}
}

func TestFetchPricesSkipsUnreadableAccounts(t *testing.T) {
	goodOracle := solana.NewWallet().PublicKey()
	badOracle := solana.NewWallet().PublicKey()

	fetcher := &fakeFetcher{accounts: map[solana.PublicKey][]byte{
		goodOracle: buildPriceAccount(100, 0),
	}}

	index := map[string]Binding{
		"mintA": {Symbol: "A", MintAddress: "mintA", Oracle: goodOracle},
		"mintB": {Symbol: "B", MintAddress: "mintB", Oracle: badOracle},
	}

	r := NewReader(fetcher, testLogger())
	prices, err := r.FetchPrices(context.Background(), index)
	require.NoError(t, err)
	require.Len(t, prices, 1)
	require.Contains(t, prices, "mintA")
}
