package rebalance

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coldbell/liquidator/internal/config"
)

func TestCalculateNeededSkipsUSDC(t *testing.T) {
	targets := []config.TargetAllocation{{Symbol: "USDC", Target: 1000}}
	actions := CalculateNeeded(map[string]float64{"USDC": 0}, targets, 0.2)
	require.Empty(t, actions)
}

func TestCalculateNeededBuyBelowLowerBound(t *testing.T) {
	targets := []config.TargetAllocation{{Symbol: "SOL", Target: 100}}
	actions := CalculateNeeded(map[string]float64{"SOL": 50}, targets, 0.2)

	require.Len(t, actions, 1)
	require.Equal(t, Action{Symbol: "SOL", Amount: 50, Buy: true}, actions[0])
}

func TestCalculateNeededSellAboveUpperBound(t *testing.T) {
	targets := []config.TargetAllocation{{Symbol: "SOL", Target: 100}}
	actions := CalculateNeeded(map[string]float64{"SOL": 150}, targets, 0.2)

	require.Len(t, actions, 1)
	require.Equal(t, Action{Symbol: "SOL", Amount: 30, Buy: false}, actions[0])
}

func TestCalculateNeededWithinPaddingIsNoop(t *testing.T) {
	targets := []config.TargetAllocation{{Symbol: "SOL", Target: 100}}
	actions := CalculateNeeded(map[string]float64{"SOL": 110}, targets, 0.2)
	require.Empty(t, actions)
}

func TestNoopCollaboratorsReturnNotImplemented(t *testing.T) {
	require.ErrorIs(t, NoopSwapper{}.Swap(Action{}), ErrNotImplemented)
	require.ErrorIs(t, NoopUnwrapper{}.Unwrap("mint", WrappedKamino), ErrNotImplemented)
}
