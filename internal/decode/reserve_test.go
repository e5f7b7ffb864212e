package decode

import (
	"math/big"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"
)

func sampleReserveBytes() []byte {
	r := &Reserve{
		Version:       1,
		LastUpdate:    LastUpdate{Slot: 123456, Stale: false},
		LendingMarket: solana.NewWallet().PublicKey(),
		Liquidity: ReserveLiquidity{
			MintPubkey:                 solana.NewWallet().PublicKey(),
			MintDecimals:               6,
			SupplyPubkey:               solana.NewWallet().PublicKey(),
			PythOraclePubkey:           solana.NewWallet().PublicKey(),
			SwitchboardOraclePubkey:    solana.NewWallet().PublicKey(),
			AvailableAmount:            1_000_000,
			BorrowedAmountScaled:       big.NewInt(0).Mul(big.NewInt(500_000), big.NewInt(1_000_000_000_000_000_000)),
			CumulativeBorrowRateScaled: big.NewInt(0).Mul(big.NewInt(1), big.NewInt(1_000_000_000_000_000_000)),
			MarketPrice:                big.NewInt(0).Mul(big.NewInt(25), big.NewInt(1_000_000_000_000_000_000)),
		},
		Collateral: ReserveCollateral{
			MintPubkey:      solana.NewWallet().PublicKey(),
			MintTotalSupply: 2_000_000,
			SupplyPubkey:    solana.NewWallet().PublicKey(),
		},
		Config: ReserveConfig{
			OptimalUtilizationRate: 80,
			LoanToValueRatio:       75,
			LiquidationBonus:       5,
			LiquidationThreshold:   80,
			MinBorrowRate:          1,
			OptimalBorrowRate:      20,
			MaxBorrowRate:          100,
			Fees: ReserveFees{
				BorrowFeeWad:      10_000,
				FlashLoanFeeWad:   3_000,
				HostFeePercentage: 20,
			},
			DepositLimit: 1_000_000_000,
			BorrowLimit:  500_000_000,
			FeeReceiver:  solana.NewWallet().PublicKey(),
		},
		rawTail: make([]byte, ReserveSize-reserveParsedPrefix),
	}
	for i := range r.rawTail {
		r.rawTail[i] = byte(i % 251)
	}
	return r.Encode()
}

func TestDecodeReserveSizeMismatch(t *testing.T) {
	_, err := DecodeReserve(make([]byte, ReserveSize-1))
	require.ErrorIs(t, err, ErrCorruptAccount)
}

func TestDecodeReserveRoundTrip(t *testing.T) {
	raw := sampleReserveBytes()
	require.Len(t, raw, ReserveSize)

	r, err := DecodeReserve(raw)
	require.NoError(t, err)
	require.Equal(t, uint8(1), r.Version)
	require.EqualValues(t, 123456, r.LastUpdate.Slot)
	require.EqualValues(t, 6, r.Liquidity.MintDecimals)
	require.EqualValues(t, 75, r.Config.LoanToValueRatio)

	require.Equal(t, raw, r.Encode())
}

func TestReserveRateHelpers(t *testing.T) {
	raw := sampleReserveBytes()
	r, err := DecodeReserve(raw)
	require.NoError(t, err)

	ltv := r.LoanToValueRate()
	f, _ := ltv.Float64()
	require.InDelta(t, 0.75, f, 1e-9)

	lt := r.LiquidationThresholdRate()
	f2, _ := lt.Float64()
	require.InDelta(t, 0.80, f2, 1e-9)
}
