// Package wallet reads the liquidator's own token balances so the epoch
// scheduler can tell whether a repay is actually affordable before it is
// assembled into a transaction.
package wallet

import (
	"context"
	"fmt"
	"strconv"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/shopspring/decimal"

	"github.com/coldbell/liquidator/internal/chain"
)

// TokenBalance is one mint's balance in both base units and human-readable
// decimal form.
type TokenBalance struct {
	Symbol      string
	MintAddress string
	Base        uint64
	Human       decimal.Decimal
}

// BalanceReader reads SPL token account balances for one wallet.
type BalanceReader struct {
	rpc   *rpc.Client
	owner solana.PublicKey
}

func NewBalanceReader(endpoint string, owner solana.PublicKey) *BalanceReader {
	return &BalanceReader{rpc: rpc.New(endpoint), owner: owner}
}

// GetTokenBalance returns the wallet's balance of mint, both in base units
// and shifted by decimals into a human-readable decimal. A missing
// associated token account (never created, or never funded) is reported as
// a zero balance rather than an error, matching the source's treatment of
// get_token_account_balance failures as "nothing to report" instead of
// fatal.
func (r *BalanceReader) GetTokenBalance(ctx context.Context, mint solana.PublicKey, decimals uint8) (TokenBalance, error) {
	ata, err := chain.DeriveATA(r.owner, mint)
	if err != nil {
		return TokenBalance{}, err
	}

	result, err := r.rpc.GetTokenAccountBalance(ctx, ata, rpc.CommitmentConfirmed)
	if err != nil {
		return TokenBalance{MintAddress: mint.String(), Base: 0, Human: decimal.Zero}, nil
	}
	if result == nil || result.Value == nil {
		return TokenBalance{MintAddress: mint.String(), Base: 0, Human: decimal.Zero}, nil
	}

	base, err := strconv.ParseUint(result.Value.Amount, 10, 64)
	if err != nil {
		return TokenBalance{}, fmt.Errorf("parse token account balance %q: %w", result.Value.Amount, err)
	}

	return TokenBalance{
		MintAddress: mint.String(),
		Base:        base,
		Human:       toHuman(base, decimals),
	}, nil
}

// toHuman shifts a base-unit token amount into its human-readable decimal
// form given the mint's decimal count.
func toHuman(base uint64, decimals uint8) decimal.Decimal {
	return decimal.NewFromInt(int64(base)).Shift(-int32(decimals))
}
