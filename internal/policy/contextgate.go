package policy

import (
	"fmt"
	"time"

	"github.com/Rajchodisetti/options-engine/internal/config"
	"github.com/Rajchodisetti/options-engine/internal/marketdata"
	"github.com/Rajchodisetti/options-engine/internal/observ"
	"github.com/Rajchodisetti/options-engine/internal/score"
)

// Context-gate rejection codes.
const (
	RejectIVRankTooLowToSell  = "iv_rank_too_low_to_sell"
	RejectIVRankTooHighToSell = "iv_rank_too_high_to_sell"
	RejectIVRankTooHighToBuy  = "iv_rank_too_high_to_buy"
	RejectExpectedMove        = "expected_move_exceeds_strike_distance"
	RejectEarningsWindow      = "earnings_within_window"
	RejectMacroEventWindow    = "macro_event_within_window"
)

// ContextGate prunes candidates whose volatility context argues against
// the trade. Candidates without context pass by default: the gate is
// best-effort, not punitive.
type ContextGate struct {
	cfg config.ContextGate
}

func NewContextGate(cfg config.ContextGate) *ContextGate {
	return &ContextGate{cfg: cfg}
}

// Apply filters the ranked batch. The input is not modified.
func (g *ContextGate) Apply(ranked []score.ScoredCandidate, contexts map[string]*marketdata.OptionContext, now time.Time) ([]score.ScoredCandidate, []Rejection) {
	passed := []score.ScoredCandidate{}
	rejections := []Rejection{}

	for _, sc := range ranked {
		octx := contexts[sc.Trade.Symbol]
		if octx == nil {
			passed = append(passed, sc)
			continue
		}

		if rej := g.check(sc, octx, now); rej != nil {
			rejections = append(rejections, *rej)
			observ.IncCounter("context_gate_rejections_total", map[string]string{"code": rej.Code})
			continue
		}
		passed = append(passed, sc)
	}

	return passed, rejections
}

func (g *ContextGate) check(sc score.ScoredCandidate, octx *marketdata.OptionContext, now time.Time) *Rejection {
	t := sc.Trade

	if t.Strategy.IsCredit() {
		if octx.IVRank < g.cfg.MinSellIVRankPct {
			return &Rejection{
				Symbol: t.Symbol, Strategy: t.Strategy, Code: RejectIVRankTooLowToSell,
				Metric: octx.IVRank,
				Detail: fmt.Sprintf("iv rank %.1f below sell floor %.1f", octx.IVRank, g.cfg.MinSellIVRankPct),
			}
		}
		if octx.IVRank > g.cfg.MaxSellIVRankPct {
			return &Rejection{
				Symbol: t.Symbol, Strategy: t.Strategy, Code: RejectIVRankTooHighToSell,
				Metric: octx.IVRank,
				Detail: fmt.Sprintf("iv rank %.1f above sell ceiling %.1f", octx.IVRank, g.cfg.MaxSellIVRankPct),
			}
		}
	} else if octx.IVRank > g.cfg.MaxBuyIVRankPct {
		return &Rejection{
			Symbol: t.Symbol, Strategy: t.Strategy, Code: RejectIVRankTooHighToBuy,
			Metric: octx.IVRank,
			Detail: fmt.Sprintf("iv rank %.1f above buy ceiling %.1f", octx.IVRank, g.cfg.MaxBuyIVRankPct),
		}
	}

	if octx.ExpectedMove1SD > 0 && octx.ExpectedMove1SD > t.StrikeDistance() {
		return &Rejection{
			Symbol: t.Symbol, Strategy: t.Strategy, Code: RejectExpectedMove,
			Metric: octx.ExpectedMove1SD,
			Detail: fmt.Sprintf("1sd move %.2f exceeds strike distance %.2f", octx.ExpectedMove1SD, t.StrikeDistance()),
		}
	}

	window := time.Duration(g.cfg.EventWindowDays) * 24 * time.Hour
	if octx.EarningsDate != nil && withinWindow(*octx.EarningsDate, now, window) {
		return &Rejection{
			Symbol: t.Symbol, Strategy: t.Strategy, Code: RejectEarningsWindow,
			Metric: octx.EarningsDate.Sub(now).Hours() / 24,
			Detail: "earnings " + octx.EarningsDate.Format("2006-01-02"),
		}
	}
	for _, ev := range octx.MacroEvents {
		if withinWindow(ev, now, window) {
			return &Rejection{
				Symbol: t.Symbol, Strategy: t.Strategy, Code: RejectMacroEventWindow,
				Metric: ev.Sub(now).Hours() / 24,
				Detail: "macro event " + ev.Format("2006-01-02"),
			}
		}
	}

	return nil
}

func withinWindow(event, now time.Time, window time.Duration) bool {
	diff := event.Sub(now)
	if diff < 0 {
		diff = -diff
	}
	return diff <= window
}
