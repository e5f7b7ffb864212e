// Package rebalance names the wallet-rebalancing and wrapped-token-unwinding
// collaborators the epoch engine does not implement. They exist so the
// binary links and so TARGETS/REBALANCE_PADDING have somewhere to go, not
// because the liquidator core calls them.
package rebalance

import (
	"errors"

	"github.com/coldbell/liquidator/internal/config"
)

// ErrNotImplemented is returned by every Swapper and Unwrapper method; both
// require an off-the-shelf swap aggregator or per-protocol unwrap program
// this module does not integrate.
var ErrNotImplemented = errors.New("rebalance: not implemented, wallet rebalancing and token unwinding are out of scope")

// Action is one rebalance decision: buy more of Symbol (Buy=true) or sell
// down to Target (Buy=false).
type Action struct {
	Symbol string
	Amount float64
	Buy    bool
}

// CalculateNeeded compares current balances against the configured targets
// and returns the set of buy/sell actions a Swapper would need to perform to
// bring the wallet back within target ± padding. USDC is always skipped, it
// is the base token every other target is priced against.
func CalculateNeeded(balances map[string]float64, targets []config.TargetAllocation, padding float64) []Action {
	var actions []Action
	for _, target := range targets {
		if target.Symbol == "USDC" {
			continue
		}

		current := balances[target.Symbol]
		lower := target.Target * (1 - padding)
		upper := target.Target * (1 + padding)

		switch {
		case current < lower:
			actions = append(actions, Action{Symbol: target.Symbol, Amount: target.Target - current, Buy: true})
		case current > upper:
			actions = append(actions, Action{Symbol: target.Symbol, Amount: current - target.Target, Buy: false})
		}
	}
	return actions
}

// Swapper executes a rebalance action through an off-the-shelf swap
// aggregator. No implementation is wired in this module.
type Swapper interface {
	Swap(action Action) error
}

// WrappedTokenKind identifies a wrapped-token family an Unwrapper knows how
// to unwind.
type WrappedTokenKind int

const (
	WrappedBasis WrappedTokenKind = iota
	WrappedKamino
	WrappedNazare
)

// Unwrapper unwinds a wrapped token back into its underlying asset through
// the token's own unwrap program. No implementation is wired in this module.
type Unwrapper interface {
	Unwrap(mint string, kind WrappedTokenKind) error
}

// NoopSwapper and NoopUnwrapper satisfy Swapper and Unwrapper without
// performing any action, so a caller can wire the interfaces end to end
// without a real aggregator or unwrap-program integration.
type NoopSwapper struct{}

func (NoopSwapper) Swap(Action) error { return ErrNotImplemented }

type NoopUnwrapper struct{}

func (NoopUnwrapper) Unwrap(string, WrappedTokenKind) error { return ErrNotImplemented }
