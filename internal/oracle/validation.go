package oracle

import (
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"
)

// Validation thresholds. These are advisory: a price outside them is logged
// but never dropped, matching the reference implementation's "warn, don't
// reject" posture for oracle staleness and range checks.
var (
	minPrice = decimal.NewFromFloat(0.000001)
	maxPrice = decimal.NewFromInt(1_000_000_000)
)

// MaxSlotAge is the slot-age ceiling past which a price is flagged stale.
// 300 slots is roughly two minutes at 400ms/slot.
const MaxSlotAge = 300

// Validation carries the result of checking one oracle price.
type Validation struct {
	Symbol   string
	Valid    bool
	Warnings []string
}

// ValidatePrice checks price/slot against the range and staleness
// thresholds. It never returns an error: out-of-range or stale prices are
// reported as warnings for the caller to log, not as decode failures.
func ValidatePrice(symbol string, price decimal.Decimal, slot, currentSlot uint64) Validation {
	v := Validation{Symbol: symbol, Valid: true}

	if !price.IsPositive() {
		v.Warnings = append(v.Warnings, fmt.Sprintf("%s: price is zero or negative (%s)", symbol, price))
		v.Valid = false
	}

	if price.LessThanOrEqual(minPrice) {
		v.Warnings = append(v.Warnings, fmt.Sprintf("%s: price suspiciously low (%s, min %s)", symbol, price, minPrice))
	}

	if price.GreaterThanOrEqual(maxPrice) {
		v.Warnings = append(v.Warnings, fmt.Sprintf("%s: price suspiciously high (%s, max %s)", symbol, price, maxPrice))
	}

	var slotAge uint64
	if currentSlot > slot {
		slotAge = currentSlot - slot
	}
	if slotAge > MaxSlotAge {
		v.Warnings = append(v.Warnings, fmt.Sprintf("%s: price may be stale (slot age %d, max %d)", symbol, slotAge, MaxSlotAge))
	}

	return v
}

// LogValidations emits one WARN line per individual warning, then one summary
// line for the whole batch: WARN if any price is invalid, INFO otherwise.
func LogValidations(logger *slog.Logger, validations []Validation) {
	invalid := 0
	totalWarnings := 0
	for _, v := range validations {
		if !v.Valid {
			invalid++
		}
		totalWarnings += len(v.Warnings)
		for _, w := range v.Warnings {
			logger.Warn("oracle price validation warning", "symbol", v.Symbol, "detail", w)
		}
	}

	switch {
	case invalid > 0:
		logger.Warn("oracle prices failed validation", "invalid_count", invalid, "total_warnings", totalWarnings)
	case totalWarnings > 0:
		logger.Info("oracle prices valid with warnings", "total_warnings", totalWarnings)
	default:
		logger.Info("oracle prices validated successfully")
	}
}
