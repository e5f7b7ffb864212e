package oracle

import (
	"context"
	"log/slog"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"

	"github.com/coldbell/liquidator/internal/cache"
	"github.com/coldbell/liquidator/internal/market"
)

// AccountFetcher is the batched read surface the chain access layer exposes.
// Defined here (not imported from internal/chain) so this package stays
// decoupled from the RPC transport and is easy to fake in tests.
type AccountFetcher interface {
	FetchAccounts(ctx context.Context, keys []solana.PublicKey) (map[solana.PublicKey][]byte, error)
}

// Binding ties a reserve's liquidity mint to the oracle address this reader
// selected for it (primary unless sentinel, else fallback).
type Binding struct {
	Symbol      string
	MintAddress string
	Decimals    uint8
	Oracle      solana.PublicKey
}

// Reader resolves reserve oracle configuration into live prices.
type Reader struct {
	fetcher AccountFetcher
	logger  *slog.Logger
}

func NewReader(fetcher AccountFetcher, logger *slog.Logger) *Reader {
	return &Reader{fetcher: fetcher, logger: logger}
}

// BuildIndex selects one oracle address per reserve across every given
// market and returns it keyed by liquidity mint address. It is built once
// at startup (see BuildMintIndexCache): an O(n·m) scan per obligation was
// rejected in favor of this single linear pass over reserves.
func BuildIndex(markets []market.Market) map[string]Binding {
	index := make(map[string]Binding)
	for _, m := range markets {
		for _, r := range m.Reserves {
			oracleAddr := r.PythOracle
			if oracleAddr == NullOracle {
				oracleAddr = r.SwitchboardOracle
			}

			pk, err := solana.PublicKeyFromBase58(oracleAddr)
			if err != nil {
				continue
			}

			index[r.MintAddress()] = Binding{
				Symbol:      r.LiquidityToken.Symbol,
				MintAddress: r.MintAddress(),
				Decimals:    r.Decimals(),
				Oracle:      pk,
			}
		}
	}
	return index
}

// BuildMintIndexCache builds the mint→oracle-binding index once for every
// market in the catalog and files it into a Cache. This is the "token-mints
// cache" the epoch loop treats as read-only after startup: it is built once
// in cmd/liquidator/main.go and every epoch's market tasks read from it
// instead of recomputing BuildIndex on every call.
func BuildMintIndexCache(markets []market.Market) *cache.Cache[string, Binding] {
	index := BuildIndex(markets)
	c := cache.New[string, Binding](0)
	for mint, b := range index {
		c.Insert(mint, b)
	}
	return c
}

// FetchPrices resolves every binding's oracle account in one batched read
// and decodes the ones that succeed. Unreadable accounts (too short,
// negative price, or an unresolvable sentinel) are logged and dropped
// rather than failing the whole fetch. Range/staleness validation happens
// downstream, where the reserve's own last-update slot is available.
func (r *Reader) FetchPrices(ctx context.Context, index map[string]Binding) (map[string]decimal.Decimal, error) {
	keys := make([]solana.PublicKey, 0, len(index))
	for _, b := range index {
		keys = append(keys, b.Oracle)
	}

	accounts, err := r.fetcher.FetchAccounts(ctx, keys)
	if err != nil {
		return nil, err
	}

	prices := make(map[string]decimal.Decimal, len(index))
	for mint, b := range index {
		data, ok := accounts[b.Oracle]
		if !ok {
			r.logger.Warn("oracle account missing from batched read", "symbol", b.Symbol, "oracle", b.Oracle.String())
			continue
		}

		price, err := DecodePrice(data)
		if err != nil {
			r.logger.Warn("oracle price unreadable, skipping reserve", "symbol", b.Symbol, "oracle", b.Oracle.String(), "err", err)
			continue
		}

		prices[mint] = price
	}

	return prices, nil
}
