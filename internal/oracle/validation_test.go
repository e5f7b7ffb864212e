package oracle

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestValidatePriceValid(t *testing.T) {
	v := ValidatePrice("SOL", decimal.RequireFromString("100.50"), 1000, 1100)
	require.True(t, v.Valid)
	require.Empty(t, v.Warnings)
}

func TestValidatePriceZero(t *testing.T) {
	v := ValidatePrice("SOL", decimal.Zero, 1000, 1100)
	require.False(t, v.Valid)
	require.NotEmpty(t, v.Warnings)
}

func TestValidatePriceNegative(t *testing.T) {
	v := ValidatePrice("SOL", decimal.RequireFromString("-10"), 1000, 1100)
	require.False(t, v.Valid)
}

func TestValidatePriceStale(t *testing.T) {
	v := ValidatePrice("SOL", decimal.RequireFromString("100"), 1000, 1400)
	require.True(t, v.Valid)
	require.NotEmpty(t, v.Warnings)
}

func TestValidatePriceTooLow(t *testing.T) {
	v := ValidatePrice("SOL", decimal.RequireFromString("0.0000001"), 1000, 1100)
	require.NotEmpty(t, v.Warnings)
}

func TestValidatePriceTooHigh(t *testing.T) {
	v := ValidatePrice("SOL", decimal.RequireFromString("2000000000"), 1000, 1100)
	require.NotEmpty(t, v.Warnings)
}
