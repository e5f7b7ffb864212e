// Package selection picks which borrow to repay and which deposit to
// withdraw when liquidating an unhealthy obligation.
package selection

import (
	"github.com/coldbell/liquidator/internal/health"
)

// SelectRepayBorrow returns the borrow position with the highest market
// value. Ties keep the first occurrence in input order: the source's
// max_by keeps the *last* maximal element on a tie, which makes selection
// depend on slice ordering that this liquidator does not want to mirror —
// first-seen order is deterministic regardless of how deposits/borrows were
// appended during decode.
func SelectRepayBorrow(borrows []health.Borrow) (health.Borrow, bool) {
	if len(borrows) == 0 {
		return health.Borrow{}, false
	}
	best := borrows[0]
	for _, b := range borrows[1:] {
		if b.MarketValue.GreaterThan(best.MarketValue) {
			best = b
		}
	}
	return best, true
}

// SelectWithdrawDeposit returns the deposit position with the highest
// market value, using the same first-occurrence tie-break as
// SelectRepayBorrow.
func SelectWithdrawDeposit(deposits []health.Deposit) (health.Deposit, bool) {
	if len(deposits) == 0 {
		return health.Deposit{}, false
	}
	best := deposits[0]
	for _, d := range deposits[1:] {
		if d.MarketValue.GreaterThan(best.MarketValue) {
			best = d
		}
	}
	return best, true
}
