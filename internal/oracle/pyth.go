// Package oracle decodes Pyth-style price accounts and validates the prices
// they carry before the health calculator is allowed to use them.
package oracle

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// NullOracle is the sentinel pubkey string a reserve carries when it has no
// oracle of a given kind configured.
const NullOracle = "nu11111111111111111111111111111111111111111"

const (
	priceOffset    = 208
	exponentOffset = 216
	minAccountSize = exponentOffset + 4
)

// ErrBadOracle is returned when a price account is too short to contain a
// price/exponent pair, or decodes to a negative price.
var ErrBadOracle = errors.New("bad oracle account")

// Price is a decoded Pyth price, already scaled by its exponent.
type Price struct {
	Symbol string
	Value  decimal.Decimal
	Slot   uint64
}

// DecodePrice reads the price (i64 @ 208) and exponent (i32 @ 216) from a
// Pyth-format price account and returns price * 10^exponent. Negative and
// undersized accounts are rejected; zero prices are passed through for the
// caller to flag as a validation warning rather than a hard decode failure.
func DecodePrice(data []byte) (decimal.Decimal, error) {
	if len(data) < minAccountSize {
		return decimal.Decimal{}, fmt.Errorf("%w: account too small (%d bytes, want at least %d)", ErrBadOracle, len(data), minAccountSize)
	}

	rawPrice := int64(binary.LittleEndian.Uint64(data[priceOffset : priceOffset+8]))
	exponent := int32(binary.LittleEndian.Uint32(data[exponentOffset : exponentOffset+4]))

	price := decimal.NewFromInt(rawPrice).Shift(exponent)

	if price.IsNegative() {
		return decimal.Decimal{}, fmt.Errorf("%w: negative price %s", ErrBadOracle, price.String())
	}

	return price, nil
}
