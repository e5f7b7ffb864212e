package decode

import (
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/gagliardetto/solana-go"
)

// ObligationSize is the fixed on-chain allocation size of one Obligation
// account, including its deposit/borrow capacity and trailing padding.
const ObligationSize = 1300

const (
	obligationHeaderSize    = 1 + 9 + 32 + 32 + 16 + 16 + 16 + 16 // version + LastUpdate + market + owner + 4 u128 values
	obligationPaddingSize   = 64
	obligationCountsSize    = 2 // deposit_count, borrow_count
	obligationFixedPrefix   = obligationHeaderSize + obligationPaddingSize + obligationCountsSize
	obligationCollateralRec = 32 + 8 + 16      // deposit_reserve + deposited_amount + market_value
	obligationLiquidityRec  = 32 + 16 + 16 + 16 // borrow_reserve + cumulative_borrow_rate + borrowed_amount + market_value
)

// ObligationCollateral is one deposited-collateral position within an
// obligation.
type ObligationCollateral struct {
	DepositReserve  solana.PublicKey
	DepositedAmount uint64
	MarketValue     *big.Int // u128, WAD-scaled
}

// ObligationLiquidity is one borrowed-liquidity position within an
// obligation.
type ObligationLiquidity struct {
	BorrowReserve              solana.PublicKey
	CumulativeBorrowRateScaled *big.Int // u128, WAD-scaled
	BorrowedAmountScaled       *big.Int // u128, WAD-scaled
	MarketValue                *big.Int // u128, WAD-scaled
}

// Obligation is the decoded form of a 1300-byte on-chain obligation account.
type Obligation struct {
	Version              uint8
	LastUpdate            LastUpdate
	LendingMarket         solana.PublicKey
	Owner                 solana.PublicKey
	DepositedValue        *big.Int // u128, WAD-scaled
	BorrowedValue         *big.Int // u128, WAD-scaled
	AllowedBorrowValue    *big.Int // u128, WAD-scaled
	UnhealthyBorrowValue  *big.Int // u128, WAD-scaled
	Deposits              []ObligationCollateral
	Borrows               []ObligationLiquidity
}

// IsHealthy reports the on-chain health flag recorded at last refresh: the
// liquidator always recomputes its own health (spec's Health Calculator)
// rather than trusting this field, which can be stale between refreshes.
func (o *Obligation) IsHealthy() bool {
	return o.BorrowedValue.Cmp(o.UnhealthyBorrowValue) <= 0
}

// DecodeObligation parses a 1300-byte account payload into an Obligation.
// Deposit/borrow counts that would read past the account's fixed allocation
// are reported as ErrCorruptAccount.
func DecodeObligation(data []byte) (*Obligation, error) {
	if len(data) != ObligationSize {
		return nil, fmt.Errorf("%w: obligation length %d, want %d", ErrCorruptAccount, len(data), ObligationSize)
	}

	o := &Obligation{}
	off := 0

	o.Version = data[off]
	off++

	o.LastUpdate.Slot = binary.LittleEndian.Uint64(data[off : off+8])
	off += 8
	o.LastUpdate.Stale = data[off] != 0
	off++

	o.LendingMarket = solana.PublicKeyFromBytes(data[off : off+32])
	off += 32
	o.Owner = solana.PublicKeyFromBytes(data[off : off+32])
	off += 32

	o.DepositedValue = readU128(data[off : off+16])
	off += 16
	o.BorrowedValue = readU128(data[off : off+16])
	off += 16
	o.AllowedBorrowValue = readU128(data[off : off+16])
	off += 16
	o.UnhealthyBorrowValue = readU128(data[off : off+16])
	off += 16

	off += obligationPaddingSize // reserved

	depositCount := int(data[off])
	off++
	borrowCount := int(data[off])
	off++

	if off != obligationFixedPrefix {
		return nil, fmt.Errorf("%w: obligation decoder offset drift (got %d, want %d)", ErrCorruptAccount, off, obligationFixedPrefix)
	}

	needed := depositCount*obligationCollateralRec + borrowCount*obligationLiquidityRec
	if off+needed > ObligationSize {
		return nil, fmt.Errorf("%w: obligation record counts (deposits=%d, borrows=%d) exceed remaining capacity", ErrCorruptAccount, depositCount, borrowCount)
	}

	deposits := make([]ObligationCollateral, 0, depositCount)
	for i := 0; i < depositCount; i++ {
		var c ObligationCollateral
		c.DepositReserve = solana.PublicKeyFromBytes(data[off : off+32])
		off += 32
		c.DepositedAmount = binary.LittleEndian.Uint64(data[off : off+8])
		off += 8
		c.MarketValue = readU128(data[off : off+16])
		off += 16
		deposits = append(deposits, c)
	}

	borrows := make([]ObligationLiquidity, 0, borrowCount)
	for i := 0; i < borrowCount; i++ {
		var l ObligationLiquidity
		l.BorrowReserve = solana.PublicKeyFromBytes(data[off : off+32])
		off += 32
		l.CumulativeBorrowRateScaled = readU128(data[off : off+16])
		off += 16
		l.BorrowedAmountScaled = readU128(data[off : off+16])
		off += 16
		l.MarketValue = readU128(data[off : off+16])
		off += 16
		borrows = append(borrows, l)
	}

	o.Deposits = deposits
	o.Borrows = borrows
	return o, nil
}
