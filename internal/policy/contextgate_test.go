package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rajchodisetti/options-engine/internal/chain"
	"github.com/Rajchodisetti/options-engine/internal/config"
	"github.com/Rajchodisetti/options-engine/internal/marketdata"
	"github.com/Rajchodisetti/options-engine/internal/score"
)

func testGateConfig() config.ContextGate {
	return config.ContextGate{
		MinSellIVRankPct: 10,
		MaxSellIVRankPct: 95,
		MaxBuyIVRankPct:  60,
		EventWindowDays:  7,
	}
}

func gateCandidate(symbol string, strategy chain.Strategy, strike, spot float64) score.ScoredCandidate {
	return score.ScoredCandidate{
		Trade: chain.CandidateTrade{Symbol: symbol, Strategy: strategy, Strike: strike, SpotPrice: spot},
	}
}

func TestContextGate_NilContextPasses(t *testing.T) {
	ranked := []score.ScoredCandidate{gateCandidate("AAPL", chain.StrategyCSP, 95, 100)}

	passed, rejections := NewContextGate(testGateConfig()).Apply(ranked, map[string]*marketdata.OptionContext{}, time.Now())

	assert.Len(t, passed, 1)
	assert.Empty(t, rejections)
}

func TestContextGate_IVRankWindows(t *testing.T) {
	now := time.Now().UTC()
	cases := []struct {
		name     string
		strategy chain.Strategy
		ivRank   float64
		wantCode string
	}{
		{"sell inside window", chain.StrategyCSP, 40, ""},
		{"sell at floor", chain.StrategyCSP, 10, ""},
		{"sell below floor", chain.StrategyCSP, 9.9, RejectIVRankTooLowToSell},
		{"sell above ceiling", chain.StrategyCC, 95.1, RejectIVRankTooHighToSell},
		{"sell at ceiling", chain.StrategyCC, 95, ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ranked := []score.ScoredCandidate{gateCandidate("AAPL", tc.strategy, 95, 100)}
			contexts := map[string]*marketdata.OptionContext{
				"AAPL": {Symbol: "AAPL", IVRank: tc.ivRank},
			}

			passed, rejections := NewContextGate(testGateConfig()).Apply(ranked, contexts, now)

			if tc.wantCode == "" {
				assert.Len(t, passed, 1)
				assert.Empty(t, rejections)
			} else {
				assert.Empty(t, passed)
				require.Len(t, rejections, 1)
				assert.Equal(t, tc.wantCode, rejections[0].Code)
				assert.Equal(t, tc.ivRank, rejections[0].Metric)
			}
		})
	}
}

func TestContextGate_ExpectedMoveVsStrikeDistance(t *testing.T) {
	now := time.Now().UTC()
	ranked := []score.ScoredCandidate{gateCandidate("AAPL", chain.StrategyCSP, 95, 100)} // distance 5

	contexts := map[string]*marketdata.OptionContext{
		"AAPL": {Symbol: "AAPL", IVRank: 40, ExpectedMove1SD: 6.5},
	}
	passed, rejections := NewContextGate(testGateConfig()).Apply(ranked, contexts, now)
	assert.Empty(t, passed)
	require.Len(t, rejections, 1)
	assert.Equal(t, RejectExpectedMove, rejections[0].Code)

	contexts["AAPL"].ExpectedMove1SD = 4.0
	passed, rejections = NewContextGate(testGateConfig()).Apply(ranked, contexts, now)
	assert.Len(t, passed, 1)
	assert.Empty(t, rejections)
}

func TestContextGate_EventWindows(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	ranked := []score.ScoredCandidate{gateCandidate("AAPL", chain.StrategyCSP, 95, 100)}

	inWindow := now.AddDate(0, 0, 5)
	outside := now.AddDate(0, 0, 20)

	t.Run("earnings inside window", func(t *testing.T) {
		contexts := map[string]*marketdata.OptionContext{
			"AAPL": {Symbol: "AAPL", IVRank: 40, EarningsDate: &inWindow},
		}
		passed, rejections := NewContextGate(testGateConfig()).Apply(ranked, contexts, now)
		assert.Empty(t, passed)
		require.Len(t, rejections, 1)
		assert.Equal(t, RejectEarningsWindow, rejections[0].Code)
	})

	t.Run("earnings outside window", func(t *testing.T) {
		contexts := map[string]*marketdata.OptionContext{
			"AAPL": {Symbol: "AAPL", IVRank: 40, EarningsDate: &outside},
		}
		passed, rejections := NewContextGate(testGateConfig()).Apply(ranked, contexts, now)
		assert.Len(t, passed, 1)
		assert.Empty(t, rejections)
	})

	t.Run("macro event inside window", func(t *testing.T) {
		contexts := map[string]*marketdata.OptionContext{
			"AAPL": {Symbol: "AAPL", IVRank: 40, MacroEvents: []time.Time{outside, inWindow}},
		}
		passed, rejections := NewContextGate(testGateConfig()).Apply(ranked, contexts, now)
		assert.Empty(t, passed)
		require.Len(t, rejections, 1)
		assert.Equal(t, RejectMacroEventWindow, rejections[0].Code)
	})

	t.Run("recent past earnings still inside window", func(t *testing.T) {
		past := now.AddDate(0, 0, -3)
		contexts := map[string]*marketdata.OptionContext{
			"AAPL": {Symbol: "AAPL", IVRank: 40, EarningsDate: &past},
		}
		passed, _ := NewContextGate(testGateConfig()).Apply(ranked, contexts, now)
		assert.Empty(t, passed)
	})
}

func TestContextGate_OnlyOffendingSymbolPruned(t *testing.T) {
	now := time.Now().UTC()
	ranked := []score.ScoredCandidate{
		gateCandidate("AAPL", chain.StrategyCSP, 95, 100),
		gateCandidate("MSFT", chain.StrategyCSP, 280, 300),
	}
	contexts := map[string]*marketdata.OptionContext{
		"AAPL": {Symbol: "AAPL", IVRank: 5},
		"MSFT": {Symbol: "MSFT", IVRank: 40},
	}

	passed, rejections := NewContextGate(testGateConfig()).Apply(ranked, contexts, now)

	require.Len(t, passed, 1)
	assert.Equal(t, "MSFT", passed[0].Trade.Symbol)
	require.Len(t, rejections, 1)
	assert.Equal(t, "AAPL", rejections[0].Symbol)
}
