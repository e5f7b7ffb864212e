// Package market models the Solend-style markets catalog: the read-only
// reference data (reserve addresses, oracle addresses, token metadata) that
// the epoch engine decodes on-chain state against.
package market

import (
	"strings"

	"github.com/gagliardetto/solana-go"
)

// LiquidityToken describes the mint backing one reserve's liquidity side.
type LiquidityToken struct {
	Mint     string `json:"mint"`
	Symbol   string `json:"symbol"`
	Decimals uint8  `json:"decimals"`
}

// Reserve is one reserve's configuration entry within a Market, as published
// by the markets catalog (not the on-chain decoded form — see package decode
// for that).
type Reserve struct {
	Address                     string         `json:"address"`
	PythOracle                  string         `json:"pythOracle"`
	SwitchboardOracle            string         `json:"switchboardOracle"`
	CollateralMintAddress        string         `json:"collateralMintAddress"`
	CollateralSupplyAddress      string         `json:"collateralSupplyAddress"`
	LiquidityAddress             string         `json:"liquidityAddress"`
	LiquidityFeeReceiverAddress  string         `json:"liquidityFeeReceiverAddress"`
	LiquidityToken               LiquidityToken `json:"liquidityToken"`
}

// Decimals returns the liquidity mint's decimal count.
func (r Reserve) Decimals() uint8 { return r.LiquidityToken.Decimals }

// MintAddress returns the liquidity mint address string.
func (r Reserve) MintAddress() string { return r.LiquidityToken.Mint }

// Market is a named set of reserves sharing one lending authority.
type Market struct {
	Name              string    `json:"name"`
	Address           string    `json:"address"`
	AuthorityAddress  string    `json:"authorityAddress"`
	Owner             string    `json:"owner"`
	Reserves          []Reserve `json:"reserves"`
}

// FindReserveBySymbol returns the reserve whose liquidity token symbol
// matches, case-sensitively, matching the source catalog's lookup semantics.
func (m Market) FindReserveBySymbol(symbol string) (Reserve, bool) {
	for _, r := range m.Reserves {
		if r.LiquidityToken.Symbol == symbol {
			return r, true
		}
	}
	return Reserve{}, false
}

// FindReserveByAddress returns the reserve whose catalog address matches.
func (m Market) FindReserveByAddress(address solana.PublicKey) (Reserve, bool) {
	target := address.String()
	for _, r := range m.Reserves {
		if r.Address == target {
			return r, true
		}
	}
	return Reserve{}, false
}

// AddressKey returns the market address normalized for comparison.
func (m Market) AddressKey() string {
	return strings.TrimSpace(m.Address)
}
