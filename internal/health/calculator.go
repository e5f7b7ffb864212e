// Package health recomputes obligation health from freshly fetched reserve
// and oracle state, independent of the stale values an obligation account
// may carry from its last on-chain refresh.
package health

import (
	"fmt"
	"math/big"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"

	"github.com/coldbell/liquidator/internal/decode"
	"github.com/coldbell/liquidator/internal/oracle"
)

// wad is 10^18, the fixed-point scale used throughout the on-chain program
// for *_scaled and *_wads fields.
var wad = decimal.New(1, 18)

// Deposit is one recomputed deposit position's market value.
type Deposit struct {
	ReserveAddress  solana.PublicKey
	DepositedAmount uint64
	MarketValue     decimal.Decimal
	Symbol          string
	MintAddress     string
}

// Borrow is one recomputed borrow position's market value.
type Borrow struct {
	ReserveAddress       solana.PublicKey
	BorrowedAmountScaled *big.Int
	MarketValue          decimal.Decimal
	Symbol               string
	MintAddress          string
}

// Result is an obligation's recomputed health.
type Result struct {
	BorrowedValue        decimal.Decimal
	AllowedBorrowValue   decimal.Decimal
	UnhealthyBorrowValue decimal.Decimal
	Deposits             []Deposit
	Borrows              []Borrow
}

// IsUnhealthy reports whether the obligation is eligible for liquidation.
// Equality is healthy: only borrowed_value strictly exceeding
// unhealthy_borrow_value triggers liquidation.
func (r Result) IsUnhealthy() bool {
	return r.BorrowedValue.GreaterThan(r.UnhealthyBorrowValue)
}

// ErrMissingReserve names the case of an obligation referencing a reserve
// address not present in the supplied reserve set. Calculate does not return
// it: such positions are skipped.
var ErrMissingReserve = fmt.Errorf("referenced reserve not found")

// Calculate recomputes borrowed/allowed/unhealthy values for one obligation
// against the given reserves and oracle prices (keyed by liquidity mint
// address). Positions whose reserve or oracle price cannot be resolved are
// skipped rather than failing the whole calculation, matching the source's
// best-effort lookup semantics.
func Calculate(
	obligation *decode.Obligation,
	reserves map[solana.PublicKey]*decode.Reserve,
	prices map[string]decimal.Decimal,
	index map[string]oracle.Binding,
) Result {
	var result Result

	for _, dep := range obligation.Deposits {
		reserve, ok := reserves[dep.DepositReserve]
		if !ok {
			continue
		}
		mint := reserve.Liquidity.MintPubkey.String()
		price, ok := prices[mint]
		if !ok {
			continue
		}

		exchangeRate := collateralExchangeRate(reserve)
		liquidityAmount := decimal.NewFromInt(int64(dep.DepositedAmount)).Div(exchangeRate)
		marketValue := liquidityAmount.Mul(price).Div(tokenScale(reserve.Liquidity.MintDecimals))

		ltv := decimal.NewFromInt(int64(reserve.Config.LoanToValueRatio)).Div(decimal.NewFromInt(100))
		liquidationThreshold := decimal.NewFromInt(int64(reserve.Config.LiquidationThreshold)).Div(decimal.NewFromInt(100))

		result.AllowedBorrowValue = result.AllowedBorrowValue.Add(marketValue.Mul(ltv))
		result.UnhealthyBorrowValue = result.UnhealthyBorrowValue.Add(marketValue.Mul(liquidationThreshold))

		symbol := ""
		if b, ok := index[mint]; ok {
			symbol = b.Symbol
		}
		result.Deposits = append(result.Deposits, Deposit{
			ReserveAddress:  dep.DepositReserve,
			DepositedAmount: dep.DepositedAmount,
			MarketValue:     marketValue,
			Symbol:          symbol,
			MintAddress:     mint,
		})
	}

	for _, bor := range obligation.Borrows {
		reserve, ok := reserves[bor.BorrowReserve]
		if !ok {
			continue
		}
		mint := reserve.Liquidity.MintPubkey.String()
		price, ok := prices[mint]
		if !ok {
			continue
		}

		borrowedAmount := decimal.NewFromBigInt(bor.BorrowedAmountScaled, 0).Div(wad)
		marketValue := borrowedAmount.Mul(price).Div(tokenScale(reserve.Liquidity.MintDecimals))

		result.BorrowedValue = result.BorrowedValue.Add(marketValue)

		symbol := ""
		if b, ok := index[mint]; ok {
			symbol = b.Symbol
		}
		result.Borrows = append(result.Borrows, Borrow{
			ReserveAddress:       bor.BorrowReserve,
			BorrowedAmountScaled: bor.BorrowedAmountScaled,
			MarketValue:          marketValue,
			Symbol:               symbol,
			MintAddress:          mint,
		})
	}

	return result
}

// collateralExchangeRate mirrors the on-chain reserve's collateral/liquidity
// ratio: mint_total_supply / (available_amount + borrowed_amount_scaled/WAD),
// returning WAD (10^18) when the collateral mint supply or the total
// liquidity is zero.
func collateralExchangeRate(r *decode.Reserve) decimal.Decimal {
	totalLiquidity := decimal.NewFromInt(int64(r.Liquidity.AvailableAmount)).Mul(wad).
		Add(decimal.NewFromBigInt(r.Liquidity.BorrowedAmountScaled, 0))

	if r.Collateral.MintTotalSupply == 0 || totalLiquidity.IsZero() {
		return wad
	}

	mintSupply := decimal.NewFromInt(int64(r.Collateral.MintTotalSupply))
	return mintSupply.Mul(wad).Div(totalLiquidity)
}

func tokenScale(decimals uint8) decimal.Decimal {
	return decimal.New(1, int32(decimals))
}
