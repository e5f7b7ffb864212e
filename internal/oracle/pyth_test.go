package oracle

import (
	"encoding/binary"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func buildPriceAccount(price int64, exponent int32) []byte {
	data := make([]byte, minAccountSize)
	binary.LittleEndian.PutUint64(data[priceOffset:priceOffset+8], uint64(price))
	binary.LittleEndian.PutUint32(data[exponentOffset:exponentOffset+4], uint32(exponent))
	return data
}

func TestDecodePriceTooShort(t *testing.T) {
	_, err := DecodePrice(make([]byte, minAccountSize-1))
	require.ErrorIs(t, err, ErrBadOracle)
}

func TestDecodePricePositiveExponent(t *testing.T) {
	p, err := DecodePrice(buildPriceAccount(25, 2))
	require.NoError(t, err)
	require.True(t, p.Equal(decimal.RequireFromString("2500")))
}

func TestDecodePriceNegativeExponent(t *testing.T) {
	p, err := DecodePrice(buildPriceAccount(2550000000, -8))
	require.NoError(t, err)
	require.True(t, p.Equal(decimal.RequireFromString("25.5")))
}

func TestDecodePriceRejectsNegative(t *testing.T) {
	_, err := DecodePrice(buildPriceAccount(-5, 0))
	require.ErrorIs(t, err, ErrBadOracle)
}
