package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rajchodisetti/options-engine/internal/chain"
	"github.com/Rajchodisetti/options-engine/internal/config"
	"github.com/Rajchodisetti/options-engine/internal/score"
)

func scored(symbol string, strategy chain.Strategy, total float64) score.ScoredCandidate {
	return score.ScoredCandidate{
		Trade: chain.CandidateTrade{Symbol: symbol, Strategy: strategy},
		Score: score.SignalScore{Total: total},
	}
}

func TestSelect_EmptyBatch(t *testing.T) {
	selected, rejections := NewSelector(config.Policy{MaxTotal: 5, MaxPerSymbol: 2, MaxPerStrategy: 3}).Select(nil)
	assert.Empty(t, selected)
	assert.Empty(t, rejections)
}

func TestSelect_MinScoreFloor(t *testing.T) {
	cfg := config.Policy{MinScore: 0.40, MaxTotal: 5, MaxPerSymbol: 2, MaxPerStrategy: 3}
	ranked := []score.ScoredCandidate{
		scored("AAPL", chain.StrategyCSP, 0.80),
		scored("MSFT", chain.StrategyCSP, 0.39),
	}

	selected, rejections := NewSelector(cfg).Select(ranked)

	require.Len(t, selected, 1)
	assert.Equal(t, "AAPL", selected[0].Trade.Symbol)
	require.Len(t, rejections, 1)
	assert.Equal(t, RejectBelowMinScore, rejections[0].Code)
	assert.Equal(t, 0.39, rejections[0].Metric)
}

func TestSelect_TotalCap(t *testing.T) {
	cfg := config.Policy{MaxTotal: 2, MaxPerSymbol: 5, MaxPerStrategy: 5}
	ranked := []score.ScoredCandidate{
		scored("A", chain.StrategyCSP, 0.9),
		scored("B", chain.StrategyCSP, 0.8),
		scored("C", chain.StrategyCSP, 0.7),
	}

	selected, rejections := NewSelector(cfg).Select(ranked)

	assert.Len(t, selected, 2)
	require.Len(t, rejections, 1)
	assert.Equal(t, "C", rejections[0].Symbol)
	assert.Equal(t, RejectTotalCap, rejections[0].Code)
}

func TestSelect_PerSymbolCap(t *testing.T) {
	cfg := config.Policy{MaxTotal: 5, MaxPerSymbol: 1, MaxPerStrategy: 5}
	ranked := []score.ScoredCandidate{
		scored("AAPL", chain.StrategyCSP, 0.9),
		scored("AAPL", chain.StrategyCC, 0.8),
		scored("MSFT", chain.StrategyCSP, 0.7),
	}

	selected, rejections := NewSelector(cfg).Select(ranked)

	require.Len(t, selected, 2)
	assert.Equal(t, chain.StrategyCSP, selected[0].Trade.Strategy)
	assert.Equal(t, "MSFT", selected[1].Trade.Symbol)
	require.Len(t, rejections, 1)
	assert.Equal(t, RejectPerSymbolCap, rejections[0].Code)
}

func TestSelect_PerStrategyCap(t *testing.T) {
	cfg := config.Policy{MaxTotal: 5, MaxPerSymbol: 5, MaxPerStrategy: 2}
	ranked := []score.ScoredCandidate{
		scored("A", chain.StrategyCSP, 0.9),
		scored("B", chain.StrategyCSP, 0.8),
		scored("C", chain.StrategyCSP, 0.7),
		scored("D", chain.StrategyCC, 0.6),
	}

	selected, rejections := NewSelector(cfg).Select(ranked)

	require.Len(t, selected, 3)
	assert.Equal(t, "D", selected[2].Trade.Symbol)
	require.Len(t, rejections, 1)
	assert.Equal(t, "C", rejections[0].Symbol)
	assert.Equal(t, RejectPerStrategyCap, rejections[0].Code)
}

func TestSelect_CheckOrderIsFixed(t *testing.T) {
	// A candidate failing several caps at once reports only the first in
	// the documented order: min score before total, total before per-symbol.
	cfg := config.Policy{MinScore: 0.50, MaxTotal: 1, MaxPerSymbol: 1, MaxPerStrategy: 1}
	ranked := []score.ScoredCandidate{
		scored("AAPL", chain.StrategyCSP, 0.9),
		scored("AAPL", chain.StrategyCSP, 0.4), // below floor AND over every cap
		scored("AAPL", chain.StrategyCSP, 0.8), // over total cap first
	}

	_, rejections := NewSelector(cfg).Select(ranked)

	require.Len(t, rejections, 2)
	assert.Equal(t, RejectBelowMinScore, rejections[0].Code)
	assert.Equal(t, RejectTotalCap, rejections[1].Code)
}

func TestSelect_InputNotModified(t *testing.T) {
	cfg := config.Policy{MaxTotal: 1, MaxPerSymbol: 1, MaxPerStrategy: 1}
	ranked := []score.ScoredCandidate{
		scored("A", chain.StrategyCSP, 0.9),
		scored("B", chain.StrategyCSP, 0.8),
	}
	want := make([]score.ScoredCandidate, len(ranked))
	copy(want, ranked)

	NewSelector(cfg).Select(ranked)
	assert.Equal(t, want, ranked)
}
