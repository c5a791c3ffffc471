package score

import (
	"math"
	"sort"

	"github.com/Rajchodisetti/options-engine/internal/chain"
	"github.com/Rajchodisetti/options-engine/internal/config"
	"github.com/Rajchodisetti/options-engine/internal/marketdata"
)

// Factor names, stable across releases (they appear in persisted output).
const (
	FactorPremium       = "premium"
	FactorDTE           = "dte"
	FactorSpread        = "spread"
	FactorOTMDistance   = "otm_distance"
	FactorLiquidity     = "liquidity"
	FactorOptionContext = "option_context"
	FactorStrategyPref  = "strategy_pref"
)

// ScoreComponent is one named factor value in [0,1] with its weight.
type ScoreComponent struct {
	Name   string  `json:"name"`
	Value  float64 `json:"value"`
	Weight float64 `json:"weight"`
}

// SignalScore aggregates components into one rounded total.
type SignalScore struct {
	Components []ScoreComponent `json:"components"`
	Total      float64          `json:"total"`
}

// ScoredCandidate is a candidate with its score and 1-based rank. Rank is
// only meaningful within one scored batch.
type ScoredCandidate struct {
	Trade chain.CandidateTrade `json:"trade"`
	Score SignalScore          `json:"score"`
	Rank  int                  `json:"rank"`
}

// Scorer computes normalized factor scores and a weighted composite over
// one candidate batch. Scoring is deterministic: the same batch always
// yields the same totals and ranks, and the input slice is never mutated.
type Scorer struct {
	cfg config.Scoring
}

func NewScorer(cfg config.Scoring) *Scorer {
	return &Scorer{cfg: cfg}
}

// Score ranks the batch. contexts maps symbol to its volatility context;
// missing entries score the context factors neutral at 0.5.
func (s *Scorer) Score(batch []chain.CandidateTrade, contexts map[string]*marketdata.OptionContext) []ScoredCandidate {
	if len(batch) == 0 {
		return []ScoredCandidate{}
	}

	premiums := make([]float64, len(batch))
	dtes := make([]float64, len(batch))
	spreads := make([]float64, len(batch))
	otmRaw := make([]float64, len(batch))
	liquidity := make([]float64, len(batch))
	for i, c := range batch {
		premiums[i] = c.Mid
		dtes[i] = float64(c.DTE)
		spreads[i] = c.SpreadPct
		if c.ProbOTM != nil {
			otmRaw[i] = *c.ProbOTM
		} else {
			otmRaw[i] = c.OTMDistancePct()
		}
		liquidity[i] = float64(c.OpenInterest)
	}

	premiumScores := minMaxNormalize(premiums)
	dteScores := parabolicDTE(dtes)
	spreadScores := spreadTightness(spreads)
	otmScores := minMaxNormalize(otmRaw)
	liquidityScores := minMaxNormalize(liquidity)

	w := s.cfg.Weights
	out := make([]ScoredCandidate, len(batch))
	for i, c := range batch {
		octx := contexts[c.Symbol]
		components := []ScoreComponent{
			{Name: FactorPremium, Value: premiumScores[i], Weight: w.Premium},
			{Name: FactorDTE, Value: dteScores[i], Weight: w.DTE},
			{Name: FactorSpread, Value: spreadScores[i], Weight: w.Spread},
			{Name: FactorOTMDistance, Value: otmScores[i], Weight: w.OTMDistance},
			{Name: FactorLiquidity, Value: liquidityScores[i], Weight: w.Liquidity},
			{Name: FactorOptionContext, Value: contextFavorability(octx), Weight: w.OptionContext},
			{Name: FactorStrategyPref, Value: s.strategyPreference(c.Strategy, octx), Weight: w.StrategyPref},
		}

		total := 0.0
		for _, comp := range components {
			total += comp.Value * comp.Weight
		}
		// 6 decimal places so composite comparison is deterministic.
		total = math.Round(total*1e6) / 1e6

		out[i] = ScoredCandidate{Trade: c, Score: SignalScore{Components: components, Total: total}}
	}

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Score.Total != b.Score.Total {
			return a.Score.Total > b.Score.Total
		}
		if a.Trade.Symbol != b.Trade.Symbol {
			return a.Trade.Symbol < b.Trade.Symbol
		}
		if a.Trade.Strategy != b.Trade.Strategy {
			return a.Trade.Strategy < b.Trade.Strategy
		}
		if !a.Trade.Expiry.Equal(b.Trade.Expiry) {
			return a.Trade.Expiry.Before(b.Trade.Expiry)
		}
		return a.Trade.Strike < b.Trade.Strike
	})
	for i := range out {
		out[i].Rank = i + 1
	}
	return out
}

// minMaxNormalize maps values to [0,1]; a degenerate batch (all equal)
// scores zero everywhere.
func minMaxNormalize(vals []float64) []float64 {
	lo, hi := vals[0], vals[0]
	for _, v := range vals {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	out := make([]float64, len(vals))
	if hi == lo {
		return out
	}
	for i, v := range vals {
		out[i] = (v - lo) / (hi - lo)
	}
	return out
}

// parabolicDTE prefers the middle of the batch's tenor range: 1.0 at the
// midpoint, 0 at both extremes.
func parabolicDTE(dtes []float64) []float64 {
	lo, hi := dtes[0], dtes[0]
	for _, v := range dtes {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	out := make([]float64, len(dtes))
	if hi == lo {
		for i := range out {
			out[i] = 1.0
		}
		return out
	}
	mid := (lo + hi) / 2
	half := (hi - lo) / 2
	for i, v := range dtes {
		x := (v - mid) / half
		s := 1 - x*x
		if s < 0 {
			s = 0
		}
		out[i] = s
	}
	return out
}

// spreadTightness scores 1 − spread/maxSpread; a batch with zero spread
// everywhere scores 1.0 everywhere.
func spreadTightness(spreads []float64) []float64 {
	max := 0.0
	for _, v := range spreads {
		if v > max {
			max = v
		}
	}
	out := make([]float64, len(spreads))
	if max == 0 {
		for i := range out {
			out[i] = 1.0
		}
		return out
	}
	for i, v := range spreads {
		out[i] = 1 - v/max
	}
	return out
}

// contextFavorability blends IV-rank moderation, term-structure slope and
// skew magnitude. Missing context is neutral.
func contextFavorability(octx *marketdata.OptionContext) float64 {
	if octx == nil {
		return 0.5
	}

	// IV rank: 1.0 inside the moderate band [20,80], linear decay outside.
	ivr := octx.IVRank
	var ivScore float64
	switch {
	case ivr >= 20 && ivr <= 80:
		ivScore = 1.0
	case ivr < 20:
		ivScore = clamp01(ivr / 20)
	default:
		ivScore = clamp01((100 - ivr) / 20)
	}

	// Term slope through a clamped linear transform centered at 0.5.
	slopeScore := clamp01(0.5 + 2.0*octx.TermSlope)

	// Skew magnitude penalized linearly.
	skewScore := clamp01(1 - 5.0*math.Abs(octx.SkewPct))

	return (ivScore + slopeScore + skewScore) / 3
}

// strategyPreference scores how well current volatility suits a credit
// strategy. Non-credit strategies and missing context are neutral.
func (s *Scorer) strategyPreference(strategy chain.Strategy, octx *marketdata.OptionContext) float64 {
	if !strategy.IsCredit() || octx == nil {
		return 0.5
	}

	hi, lo := s.cfg.IVRankHighPct, s.cfg.IVRankLowPct
	ivr := octx.IVRank

	var pref float64
	switch {
	case ivr >= hi:
		pref = 1.0
	case ivr <= lo:
		pref = 0.0
	default:
		pref = (ivr - lo) / (hi - lo)
	}

	// Backwardation favors selling near-dated premium; contango argues
	// against it.
	if octx.TermSlope < 0 {
		pref += 0.05
	} else if octx.TermSlope > 0 {
		pref -= 0.05
	}

	// Balanced skew is a mild plus, lopsided skew a mild minus.
	if math.Abs(octx.SkewPct) <= 0.05 {
		pref += 0.03
	} else {
		pref -= 0.03
	}

	return clamp01(pref)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
