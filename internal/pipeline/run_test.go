package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rajchodisetti/options-engine/internal/chain"
	"github.com/Rajchodisetti/options-engine/internal/config"
	"github.com/Rajchodisetti/options-engine/internal/marketdata"
)

func fp(v float64) *float64 { return &v }

func testConfig(universe ...string) config.Root {
	c := config.Root{Universe: universe}
	config.ApplyDefaults(&c)
	return c
}

// seedSymbol populates a liquid put and call around the given spot so both
// strategies produce a candidate.
func seedSymbol(p *marketdata.MockProvider, symbol string, spot float64) {
	p.Spots[symbol] = spot
	p.Contexts[symbol] = &marketdata.OptionContext{Symbol: symbol, IVRank: 42}

	exp := "2026-01-16"
	for _, side := range []struct {
		right  string
		strike float64
		delta  float64
	}{
		{"P", spot * 0.95, -0.28},
		{"C", spot * 1.05, 0.28},
	} {
		os := chain.BuildOptionSymbol(symbol, exp, side.right, side.strike)
		base := marketdata.ChainRow{
			Ticker:       symbol,
			OptionSymbol: os,
			Strike:       side.strike,
			ExpirDate:    exp,
			DTE:          30,
			PutCall:      side.right,
		}
		p.Rows = append(p.Rows, base)

		enriched := base
		enriched.Delta = fp(side.delta)
		enriched.Bid = fp(1.20)
		enriched.Ask = fp(1.30)
		enriched.OpenInterest = 500
		p.Enriched[os] = enriched
	}
}

func TestRun_EndToEnd(t *testing.T) {
	p := marketdata.NewMockProvider()
	seedSymbol(p, "AAPL", 100)
	seedSymbol(p, "MSFT", 300)

	engine := New(testConfig("AAPL", "MSFT"), p, nil)
	result := engine.Run(context.Background())

	assert.NotEmpty(t, result.RunID)
	assert.False(t, result.StartedAt.IsZero())
	assert.False(t, result.FinishedAt.Before(result.StartedAt))
	assert.Equal(t, marketdata.StatusHealthy, result.Health.Status)

	// Two strategies per symbol, a trace for each.
	require.Len(t, result.Traces, 4)
	for _, tr := range result.Traces {
		assert.Equal(t, chain.StatusPass, tr.Status, "symbol=%s strategy=%s", tr.Symbol, tr.Strategy)
		assert.Equal(t, tr.Status == chain.StatusPass, tr.SelectedTrade != nil)
	}

	require.Len(t, result.Ranked, 4)
	for i, sc := range result.Ranked {
		assert.Equal(t, i+1, sc.Rank)
	}

	// Default caps admit one put and one call per symbol.
	assert.Len(t, result.Selected, 4)
	assert.Empty(t, result.Rejections)
}

func TestRun_Deterministic(t *testing.T) {
	build := func() *marketdata.MockProvider {
		p := marketdata.NewMockProvider()
		seedSymbol(p, "AAPL", 100)
		seedSymbol(p, "MSFT", 300)
		seedSymbol(p, "NVDA", 125)
		return p
	}

	cfg := testConfig("NVDA", "AAPL", "MSFT")
	first := New(cfg, build(), nil).Run(context.Background())
	second := New(cfg, build(), nil).Run(context.Background())

	require.Equal(t, len(first.Traces), len(second.Traces))
	for i := range first.Traces {
		assert.Equal(t, first.Traces[i].Symbol, second.Traces[i].Symbol)
		assert.Equal(t, first.Traces[i].Strategy, second.Traces[i].Strategy)
		assert.Equal(t, first.Traces[i].Status, second.Traces[i].Status)
	}

	require.Equal(t, len(first.Ranked), len(second.Ranked))
	for i := range first.Ranked {
		assert.Equal(t, first.Ranked[i].Trade.OptionSymbol, second.Ranked[i].Trade.OptionSymbol)
		assert.Equal(t, first.Ranked[i].Score.Total, second.Ranked[i].Score.Total)
	}

	require.Equal(t, len(first.Selected), len(second.Selected))
	for i := range first.Selected {
		assert.Equal(t, first.Selected[i].Trade.OptionSymbol, second.Selected[i].Trade.OptionSymbol)
	}
}

func TestRun_SpotFailureProducesErrorTraces(t *testing.T) {
	p := marketdata.NewMockProvider()
	seedSymbol(p, "AAPL", 100)
	// MSFT has no spot configured.

	result := New(testConfig("AAPL", "MSFT"), p, nil).Run(context.Background())

	require.Len(t, result.Traces, 4)
	var errTraces int
	for _, tr := range result.Traces {
		if tr.Symbol == "MSFT" {
			assert.Equal(t, chain.StatusError, tr.Status)
			assert.Equal(t, chain.CodeSpotUnavailable, tr.Code)
			errTraces++
		}
	}
	assert.Equal(t, 2, errTraces)

	// The healthy symbol still produces candidates.
	assert.NotEmpty(t, result.Ranked)
	for _, sc := range result.Ranked {
		assert.Equal(t, "AAPL", sc.Trade.Symbol)
	}
}

func TestRun_ContextGateAppliesPerSymbol(t *testing.T) {
	p := marketdata.NewMockProvider()
	seedSymbol(p, "AAPL", 100)
	seedSymbol(p, "MSFT", 300)
	// Crush AAPL's IV rank below the sell floor.
	p.Contexts["AAPL"] = &marketdata.OptionContext{Symbol: "AAPL", IVRank: 2}

	result := New(testConfig("AAPL", "MSFT"), p, nil).Run(context.Background())

	for _, sc := range result.Selected {
		assert.Equal(t, "MSFT", sc.Trade.Symbol)
	}
	var gated int
	for _, rej := range result.Rejections {
		if rej.Symbol == "AAPL" {
			gated++
		}
	}
	assert.Equal(t, 2, gated, "both AAPL strategies gated on iv rank")
}

func TestRun_EmptyUniverse(t *testing.T) {
	result := New(testConfig(), marketdata.NewMockProvider(), nil).Run(context.Background())

	assert.Empty(t, result.Traces)
	assert.Empty(t, result.Ranked)
	assert.Empty(t, result.Selected)
	assert.NotEmpty(t, result.RunID)
}
