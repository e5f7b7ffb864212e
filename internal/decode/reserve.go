package decode

import (
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/gagliardetto/solana-go"
)

// ReserveSize is the fixed on-chain allocation size of one Reserve account.
const ReserveSize = 619

const (
	reserveHeaderSize     = 1 + 9 + 32 // version + LastUpdate + lending market
	reserveLiquiditySize  = 32 + 1 + 32 + 32 + 32 + 8 + 16 + 16 + 16
	reserveCollateralSize = 32 + 8 + 32
	reserveConfigHeadSize = 7 + (8 + 8 + 1) + 8 + 8 + 32
	reserveParsedPrefix   = reserveHeaderSize + reserveLiquiditySize + reserveCollateralSize + reserveConfigHeadSize
)

// LastUpdate carries the slot a record was last refreshed at plus a staleness
// flag. IsZero reports an obligation/reserve that has never been written.
type LastUpdate struct {
	Slot  uint64
	Stale bool
}

func (u LastUpdate) IsZero() bool { return u.Slot == 0 }

type ReserveLiquidity struct {
	MintPubkey               solana.PublicKey
	MintDecimals              uint8
	SupplyPubkey              solana.PublicKey
	PythOraclePubkey          solana.PublicKey
	SwitchboardOraclePubkey   solana.PublicKey
	AvailableAmount           uint64
	BorrowedAmountScaled      *big.Int // u128, WAD-scaled
	CumulativeBorrowRateScaled *big.Int // u128, WAD-scaled
	MarketPrice               *big.Int // u128, WAD-scaled
}

type ReserveCollateral struct {
	MintPubkey       solana.PublicKey
	MintTotalSupply  uint64
	SupplyPubkey     solana.PublicKey
}

type ReserveFees struct {
	BorrowFeeWad       uint64
	FlashLoanFeeWad    uint64
	HostFeePercentage  uint8
}

type ReserveConfig struct {
	OptimalUtilizationRate uint8
	LoanToValueRatio       uint8
	LiquidationBonus       uint8
	LiquidationThreshold   uint8
	MinBorrowRate          uint8
	OptimalBorrowRate      uint8
	MaxBorrowRate          uint8
	Fees                   ReserveFees
	DepositLimit           uint64
	BorrowLimit            uint64
	FeeReceiver            solana.PublicKey
}

// Reserve is the decoded form of a 619-byte on-chain reserve account.
//
// rawTail holds every byte beyond the fields this decoder names, so Encode
// can reproduce the account byte-for-byte (property test 1): the protocol's
// reserve layout carries additional rate-limiter and reserved state past the
// fields this liquidator needs, which are treated as opaque.
type Reserve struct {
	Version      uint8
	LastUpdate   LastUpdate
	LendingMarket solana.PublicKey
	Liquidity    ReserveLiquidity
	Collateral   ReserveCollateral
	Config       ReserveConfig

	rawTail []byte
}

// LoanToValueRate returns loan_to_value_ratio / 100.
func (r Reserve) LoanToValueRate() *big.Rat {
	return big.NewRat(int64(r.Config.LoanToValueRatio), 100)
}

// LiquidationThresholdRate returns liquidation_threshold / 100.
func (r Reserve) LiquidationThresholdRate() *big.Rat {
	return big.NewRat(int64(r.Config.LiquidationThreshold), 100)
}

// DecodeReserve parses a 619-byte account payload into a Reserve. Any length
// mismatch is reported as ErrCorruptAccount.
func DecodeReserve(data []byte) (*Reserve, error) {
	if len(data) != ReserveSize {
		return nil, fmt.Errorf("%w: reserve length %d, want %d", ErrCorruptAccount, len(data), ReserveSize)
	}

	r := &Reserve{}
	off := 0

	r.Version = data[off]
	off++

	r.LastUpdate.Slot = binary.LittleEndian.Uint64(data[off : off+8])
	off += 8
	r.LastUpdate.Stale = data[off] != 0
	off++

	r.LendingMarket = solana.PublicKeyFromBytes(data[off : off+32])
	off += 32

	r.Liquidity.MintPubkey = solana.PublicKeyFromBytes(data[off : off+32])
	off += 32
	r.Liquidity.MintDecimals = data[off]
	off++
	r.Liquidity.SupplyPubkey = solana.PublicKeyFromBytes(data[off : off+32])
	off += 32
	r.Liquidity.PythOraclePubkey = solana.PublicKeyFromBytes(data[off : off+32])
	off += 32
	r.Liquidity.SwitchboardOraclePubkey = solana.PublicKeyFromBytes(data[off : off+32])
	off += 32
	r.Liquidity.AvailableAmount = binary.LittleEndian.Uint64(data[off : off+8])
	off += 8
	r.Liquidity.BorrowedAmountScaled = readU128(data[off : off+16])
	off += 16
	r.Liquidity.CumulativeBorrowRateScaled = readU128(data[off : off+16])
	off += 16
	r.Liquidity.MarketPrice = readU128(data[off : off+16])
	off += 16

	r.Collateral.MintPubkey = solana.PublicKeyFromBytes(data[off : off+32])
	off += 32
	r.Collateral.MintTotalSupply = binary.LittleEndian.Uint64(data[off : off+8])
	off += 8
	r.Collateral.SupplyPubkey = solana.PublicKeyFromBytes(data[off : off+32])
	off += 32

	r.Config.OptimalUtilizationRate = data[off]
	off++
	r.Config.LoanToValueRatio = data[off]
	off++
	r.Config.LiquidationBonus = data[off]
	off++
	r.Config.LiquidationThreshold = data[off]
	off++
	r.Config.MinBorrowRate = data[off]
	off++
	r.Config.OptimalBorrowRate = data[off]
	off++
	r.Config.MaxBorrowRate = data[off]
	off++
	r.Config.Fees.BorrowFeeWad = binary.LittleEndian.Uint64(data[off : off+8])
	off += 8
	r.Config.Fees.FlashLoanFeeWad = binary.LittleEndian.Uint64(data[off : off+8])
	off += 8
	r.Config.Fees.HostFeePercentage = data[off]
	off++
	r.Config.DepositLimit = binary.LittleEndian.Uint64(data[off : off+8])
	off += 8
	r.Config.BorrowLimit = binary.LittleEndian.Uint64(data[off : off+8])
	off += 8
	r.Config.FeeReceiver = solana.PublicKeyFromBytes(data[off : off+32])
	off += 32

	if off != reserveParsedPrefix {
		return nil, fmt.Errorf("%w: reserve decoder offset drift (got %d, want %d)", ErrCorruptAccount, off, reserveParsedPrefix)
	}

	r.rawTail = append([]byte(nil), data[off:]...)
	return r, nil
}

// Encode reproduces the original 619-byte account payload.
func (r *Reserve) Encode() []byte {
	out := make([]byte, 0, ReserveSize)
	out = append(out, r.Version)
	out = appendU64(out, r.LastUpdate.Slot)
	out = append(out, boolByte(r.LastUpdate.Stale))
	out = append(out, r.LendingMarket.Bytes()...)

	out = append(out, r.Liquidity.MintPubkey.Bytes()...)
	out = append(out, r.Liquidity.MintDecimals)
	out = append(out, r.Liquidity.SupplyPubkey.Bytes()...)
	out = append(out, r.Liquidity.PythOraclePubkey.Bytes()...)
	out = append(out, r.Liquidity.SwitchboardOraclePubkey.Bytes()...)
	out = appendU64(out, r.Liquidity.AvailableAmount)
	out = appendU128(out, r.Liquidity.BorrowedAmountScaled)
	out = appendU128(out, r.Liquidity.CumulativeBorrowRateScaled)
	out = appendU128(out, r.Liquidity.MarketPrice)

	out = append(out, r.Collateral.MintPubkey.Bytes()...)
	out = appendU64(out, r.Collateral.MintTotalSupply)
	out = append(out, r.Collateral.SupplyPubkey.Bytes()...)

	out = append(out, r.Config.OptimalUtilizationRate)
	out = append(out, r.Config.LoanToValueRatio)
	out = append(out, r.Config.LiquidationBonus)
	out = append(out, r.Config.LiquidationThreshold)
	out = append(out, r.Config.MinBorrowRate)
	out = append(out, r.Config.OptimalBorrowRate)
	out = append(out, r.Config.MaxBorrowRate)
	out = appendU64(out, r.Config.Fees.BorrowFeeWad)
	out = appendU64(out, r.Config.Fees.FlashLoanFeeWad)
	out = append(out, r.Config.Fees.HostFeePercentage)
	out = appendU64(out, r.Config.DepositLimit)
	out = appendU64(out, r.Config.BorrowLimit)
	out = append(out, r.Config.FeeReceiver.Bytes()...)

	out = append(out, r.rawTail...)
	return out
}

func readU128(b []byte) *big.Int {
	// on-chain u128 is little-endian; big.Int expects big-endian, so reverse.
	be := make([]byte, len(b))
	for i, v := range b {
		be[len(b)-1-i] = v
	}
	return new(big.Int).SetBytes(be)
}

func appendU128(out []byte, v *big.Int) []byte {
	be := v.FillBytes(make([]byte, 16))
	le := make([]byte, 16)
	for i, b := range be {
		le[15-i] = b
	}
	return append(out, le...)
}

func appendU64(out []byte, v uint64) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, v)
	return append(out, buf...)
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
