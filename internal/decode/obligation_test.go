package decode

import (
	"encoding/binary"
	"math/big"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"
)

func wad(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1_000_000_000_000_000_000))
}

func encodeObligation(t *testing.T, depositCount, borrowCount int) []byte {
	t.Helper()

	buf := make([]byte, ObligationSize)
	off := 0

	buf[off] = 1 // version
	off++
	binary.LittleEndian.PutUint64(buf[off:off+8], 42)
	off += 8
	buf[off] = 0 // not stale
	off++

	market := solana.NewWallet().PublicKey()
	owner := solana.NewWallet().PublicKey()
	copy(buf[off:off+32], market.Bytes())
	off += 32
	copy(buf[off:off+32], owner.Bytes())
	off += 32

	copy(buf[off:off+16], le128(wad(100)))
	off += 16
	copy(buf[off:off+16], le128(wad(10)))
	off += 16
	copy(buf[off:off+16], le128(wad(80)))
	off += 16
	copy(buf[off:off+16], le128(wad(90)))
	off += 16

	off += obligationPaddingSize

	buf[off] = byte(depositCount)
	off++
	buf[off] = byte(borrowCount)
	off++

	for i := 0; i < depositCount; i++ {
		copy(buf[off:off+32], solana.NewWallet().PublicKey().Bytes())
		off += 32
		binary.LittleEndian.PutUint64(buf[off:off+8], uint64(1000*(i+1)))
		off += 8
		copy(buf[off:off+16], le128(wad(int64(5*(i+1)))))
		off += 16
	}

	for i := 0; i < borrowCount; i++ {
		copy(buf[off:off+32], solana.NewWallet().PublicKey().Bytes())
		off += 32
		copy(buf[off:off+16], le128(wad(1)))
		off += 16
		copy(buf[off:off+16], le128(wad(int64(2*(i+1)))))
		off += 16
		copy(buf[off:off+16], le128(wad(int64(3*(i+1)))))
		off += 16
	}

	return buf
}

func le128(v *big.Int) []byte {
	be := v.FillBytes(make([]byte, 16))
	le := make([]byte, 16)
	for i, b := range be {
		le[15-i] = b
	}
	return le
}

func TestDecodeObligationSizeMismatch(t *testing.T) {
	_, err := DecodeObligation(make([]byte, ObligationSize-1))
	require.ErrorIs(t, err, ErrCorruptAccount)
}

func TestDecodeObligationEmpty(t *testing.T) {
	raw := encodeObligation(t, 0, 0)
	o, err := DecodeObligation(raw)
	require.NoError(t, err)
	require.Empty(t, o.Deposits)
	require.Empty(t, o.Borrows)
	require.True(t, o.IsHealthy())
}

func TestDecodeObligationWithPositions(t *testing.T) {
	raw := encodeObligation(t, 2, 3)
	o, err := DecodeObligation(raw)
	require.NoError(t, err)
	require.Len(t, o.Deposits, 2)
	require.Len(t, o.Borrows, 3)
	require.EqualValues(t, 1000, o.Deposits[0].DepositedAmount)
	require.EqualValues(t, 2000, o.Deposits[1].DepositedAmount)
	require.Equal(t, wad(80), o.AllowedBorrowValue)
}

func TestDecodeObligationCountsExceedCapacity(t *testing.T) {
	raw := encodeObligation(t, 0, 0)
	// Claim far more deposits than the remaining 1300-byte capacity allows.
	raw[obligationFixedPrefix-2] = 255
	_, err := DecodeObligation(raw)
	require.ErrorIs(t, err, ErrCorruptAccount)
}
