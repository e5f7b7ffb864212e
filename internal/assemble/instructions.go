// Package assemble builds the three-instruction liquidation transaction:
// refresh every reserve touched by the obligation, refresh the obligation
// itself, then liquidate and redeem collateral.
package assemble

import (
	"encoding/binary"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/coldbell/liquidator/internal/decode"
	"github.com/coldbell/liquidator/internal/market"
)

const (
	discRefreshReserve     byte = 0x03
	discRefreshObligation  byte = 0x07
	discLiquidateAndRedeem byte = 0x0C
)

// ErrReserveNotInMarket is returned when an obligation references a reserve
// address absent from the supplied market's reserve list.
var ErrReserveNotInMarket = fmt.Errorf("reserve not found in market config")

// UniqueReserves returns every reserve address referenced by the
// obligation's deposits and borrows, deduplicated in first-seen order. A
// plain map iteration would make instruction ordering nondeterministic
// across otherwise-identical runs, so a seen-set alongside an ordered slice
// is used instead.
func UniqueReserves(obligation *decode.Obligation) []solana.PublicKey {
	seen := make(map[solana.PublicKey]struct{})
	var out []solana.PublicKey

	for _, d := range obligation.Deposits {
		if _, ok := seen[d.DepositReserve]; !ok {
			seen[d.DepositReserve] = struct{}{}
			out = append(out, d.DepositReserve)
		}
	}
	for _, b := range obligation.Borrows {
		if _, ok := seen[b.BorrowReserve]; !ok {
			seen[b.BorrowReserve] = struct{}{}
			out = append(out, b.BorrowReserve)
		}
	}
	return out
}

// RefreshReserveInstruction builds one RefreshReserve instruction.
func RefreshReserveInstruction(programID, reserve, pythOracle, switchboardOracle solana.PublicKey) solana.Instruction {
	accounts := solana.AccountMetaSlice{
		solana.NewAccountMeta(reserve, true, false),
		solana.NewAccountMeta(pythOracle, false, false),
		solana.NewAccountMeta(switchboardOracle, false, false),
	}
	return solana.NewInstruction(programID, accounts, []byte{discRefreshReserve})
}

// RefreshObligationInstruction builds the RefreshObligation instruction,
// appending one read-only account per deposit reserve then per borrow
// reserve, in that order.
func RefreshObligationInstruction(programID, obligation solana.PublicKey, depositReserves, borrowReserves []solana.PublicKey) solana.Instruction {
	accounts := solana.AccountMetaSlice{
		solana.NewAccountMeta(obligation, true, false),
		solana.NewAccountMeta(solana.SysVarClockPubkey, false, false),
	}
	for _, r := range depositReserves {
		accounts = append(accounts, solana.NewAccountMeta(r, false, false))
	}
	for _, r := range borrowReserves {
		accounts = append(accounts, solana.NewAccountMeta(r, false, false))
	}
	return solana.NewInstruction(programID, accounts, []byte{discRefreshObligation})
}

// LiquidateParams carries every account the
// LiquidateObligationAndRedeemReserveCollateral instruction needs.
type LiquidateParams struct {
	ProgramID       solana.PublicKey
	LiquidityAmount uint64

	RepayAccount              solana.PublicKey
	WithdrawCollateralAccount solana.PublicKey
	WithdrawLiquidityAccount  solana.PublicKey

	RepayReserve          solana.PublicKey
	RepayReserveLiquidity solana.PublicKey

	WithdrawReserve                     solana.PublicKey
	WithdrawReserveCollateralMint       solana.PublicKey
	WithdrawReserveCollateralSupply     solana.PublicKey
	WithdrawReserveLiquidity            solana.PublicKey
	WithdrawReserveLiquidityFeeReceiver solana.PublicKey

	Obligation             solana.PublicKey
	LendingMarket          solana.PublicKey
	LendingMarketAuthority solana.PublicKey
	UserTransferAuthority  solana.PublicKey
}

// LiquidateInstruction builds the LiquidateObligationAndRedeemReserveCollateral
// instruction with its exact account ordering.
func LiquidateInstruction(p LiquidateParams) solana.Instruction {
	data := make([]byte, 9)
	data[0] = discLiquidateAndRedeem
	binary.LittleEndian.PutUint64(data[1:], p.LiquidityAmount)

	accounts := solana.AccountMetaSlice{
		solana.NewAccountMeta(p.RepayReserveLiquidity, true, false),
		solana.NewAccountMeta(p.WithdrawReserveCollateralSupply, true, false),
		solana.NewAccountMeta(p.WithdrawReserveLiquidity, true, false),
		solana.NewAccountMeta(p.RepayAccount, true, false),
		solana.NewAccountMeta(p.WithdrawCollateralAccount, true, false),
		solana.NewAccountMeta(p.WithdrawLiquidityAccount, true, false),
		solana.NewAccountMeta(p.RepayReserve, true, false),
		solana.NewAccountMeta(p.WithdrawReserve, true, false),
		solana.NewAccountMeta(p.Obligation, true, false),
		solana.NewAccountMeta(p.LendingMarket, false, false),
		solana.NewAccountMeta(p.LendingMarketAuthority, false, false),
		solana.NewAccountMeta(p.UserTransferAuthority, false, true),
		solana.NewAccountMeta(solana.SysVarClockPubkey, false, false),
		solana.NewAccountMeta(solana.TokenProgramID, false, false),
		solana.NewAccountMeta(p.WithdrawReserveCollateralMint, true, false),
		solana.NewAccountMeta(p.WithdrawReserveLiquidityFeeReceiver, true, false),
	}

	return solana.NewInstruction(p.ProgramID, accounts, data)
}

// ATADeriver resolves a wallet's associated token account for a mint,
// satisfied by internal/chain.DeriveATA.
type ATADeriver func(owner, mint solana.PublicKey) (solana.PublicKey, error)

// BuildLiquidationTransaction assembles the full instruction sequence for
// liquidating one obligation: a RefreshReserve per unique reserve the
// obligation references, one RefreshObligation, and the liquidate
// instruction itself.
//
// obligationPubkey is the obligation account's own address — distinct from
// obligation.LendingMarket. The source this was ported from conflated the
// two at this exact call site; this assembler keeps them separate.
func BuildLiquidationTransaction(
	programID solana.PublicKey,
	obligationPubkey solana.PublicKey,
	obligation *decode.Obligation,
	m market.Market,
	repayReserve, withdrawReserve market.Reserve,
	liquidityAmount uint64,
	payer solana.PublicKey,
	deriveATA ATADeriver,
) ([]solana.Instruction, error) {
	reservesByAddress := make(map[string]market.Reserve, len(m.Reserves))
	for _, r := range m.Reserves {
		reservesByAddress[r.Address] = r
	}

	var instructions []solana.Instruction
	for _, addr := range UniqueReserves(obligation) {
		cfg, ok := reservesByAddress[addr.String()]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrReserveNotInMarket, addr.String())
		}
		pyth, err := solana.PublicKeyFromBase58(cfg.PythOracle)
		if err != nil {
			return nil, fmt.Errorf("parse pyth oracle for reserve %s: %w", addr.String(), err)
		}
		switchboard, err := solana.PublicKeyFromBase58(cfg.SwitchboardOracle)
		if err != nil {
			return nil, fmt.Errorf("parse switchboard oracle for reserve %s: %w", addr.String(), err)
		}
		instructions = append(instructions, RefreshReserveInstruction(programID, addr, pyth, switchboard))
	}

	depositReserves := make([]solana.PublicKey, 0, len(obligation.Deposits))
	for _, d := range obligation.Deposits {
		depositReserves = append(depositReserves, d.DepositReserve)
	}
	borrowReserves := make([]solana.PublicKey, 0, len(obligation.Borrows))
	for _, b := range obligation.Borrows {
		borrowReserves = append(borrowReserves, b.BorrowReserve)
	}
	instructions = append(instructions, RefreshObligationInstruction(programID, obligationPubkey, depositReserves, borrowReserves))

	repayMint, err := solana.PublicKeyFromBase58(repayReserve.LiquidityToken.Mint)
	if err != nil {
		return nil, fmt.Errorf("parse repay mint: %w", err)
	}
	withdrawMint, err := solana.PublicKeyFromBase58(withdrawReserve.LiquidityToken.Mint)
	if err != nil {
		return nil, fmt.Errorf("parse withdraw mint: %w", err)
	}
	withdrawCollateralMint, err := solana.PublicKeyFromBase58(withdrawReserve.CollateralMintAddress)
	if err != nil {
		return nil, fmt.Errorf("parse withdraw collateral mint: %w", err)
	}

	repayAccount, err := deriveATA(payer, repayMint)
	if err != nil {
		return nil, fmt.Errorf("derive repay ATA: %w", err)
	}
	withdrawLiquidityAccount, err := deriveATA(payer, withdrawMint)
	if err != nil {
		return nil, fmt.Errorf("derive withdraw liquidity ATA: %w", err)
	}
	withdrawCollateralAccount, err := deriveATA(payer, withdrawCollateralMint)
	if err != nil {
		return nil, fmt.Errorf("derive withdraw collateral ATA: %w", err)
	}

	repayReserveAddr, err := solana.PublicKeyFromBase58(repayReserve.Address)
	if err != nil {
		return nil, fmt.Errorf("parse repay reserve address: %w", err)
	}
	repayReserveLiquidity, err := solana.PublicKeyFromBase58(repayReserve.LiquidityAddress)
	if err != nil {
		return nil, fmt.Errorf("parse repay reserve liquidity address: %w", err)
	}
	withdrawReserveAddr, err := solana.PublicKeyFromBase58(withdrawReserve.Address)
	if err != nil {
		return nil, fmt.Errorf("parse withdraw reserve address: %w", err)
	}
	withdrawReserveCollateralSupply, err := solana.PublicKeyFromBase58(withdrawReserve.CollateralSupplyAddress)
	if err != nil {
		return nil, fmt.Errorf("parse withdraw reserve collateral supply: %w", err)
	}
	withdrawReserveLiquidity, err := solana.PublicKeyFromBase58(withdrawReserve.LiquidityAddress)
	if err != nil {
		return nil, fmt.Errorf("parse withdraw reserve liquidity address: %w", err)
	}
	withdrawReserveFeeReceiver, err := solana.PublicKeyFromBase58(withdrawReserve.LiquidityFeeReceiverAddress)
	if err != nil {
		return nil, fmt.Errorf("parse withdraw reserve fee receiver: %w", err)
	}
	lendingMarket, err := solana.PublicKeyFromBase58(m.Address)
	if err != nil {
		return nil, fmt.Errorf("parse lending market address: %w", err)
	}
	lendingMarketAuthority, err := solana.PublicKeyFromBase58(m.AuthorityAddress)
	if err != nil {
		return nil, fmt.Errorf("parse lending market authority: %w", err)
	}

	instructions = append(instructions, LiquidateInstruction(LiquidateParams{
		ProgramID:                           programID,
		LiquidityAmount:                     liquidityAmount,
		RepayAccount:                        repayAccount,
		WithdrawCollateralAccount:           withdrawCollateralAccount,
		WithdrawLiquidityAccount:            withdrawLiquidityAccount,
		RepayReserve:                        repayReserveAddr,
		RepayReserveLiquidity:               repayReserveLiquidity,
		WithdrawReserve:                     withdrawReserveAddr,
		WithdrawReserveCollateralMint:       withdrawCollateralMint,
		WithdrawReserveCollateralSupply:     withdrawReserveCollateralSupply,
		WithdrawReserveLiquidity:            withdrawReserveLiquidity,
		WithdrawReserveLiquidityFeeReceiver: withdrawReserveFeeReceiver,
		Obligation:                          obligationPubkey,
		LendingMarket:                       lendingMarket,
		LendingMarketAuthority:              lendingMarketAuthority,
		UserTransferAuthority:               payer,
	}))

	return instructions, nil
}
