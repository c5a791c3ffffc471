package policy

import (
	"fmt"

	"github.com/Rajchodisetti/options-engine/internal/chain"
	"github.com/Rajchodisetti/options-engine/internal/config"
	"github.com/Rajchodisetti/options-engine/internal/observ"
	"github.com/Rajchodisetti/options-engine/internal/score"
)

// Rejection codes emitted by the cap selector.
const (
	RejectBelowMinScore  = "below_min_score"
	RejectTotalCap       = "total_cap"
	RejectPerSymbolCap   = "per_symbol_cap"
	RejectPerStrategyCap = "per_strategy_cap"
)

// Rejection records why a candidate was pruned, with the offending metric
// for audit.
type Rejection struct {
	Symbol   string         `json:"symbol"`
	Strategy chain.Strategy `json:"strategy"`
	Code     string         `json:"code"`
	Metric   float64        `json:"metric"`
	Detail   string         `json:"detail,omitempty"`
}

// Selector enforces policy caps over a ranked batch, in a fixed order:
// minimum score, total cap, per-symbol cap, per-strategy cap.
type Selector struct {
	cfg config.Policy
}

func NewSelector(cfg config.Policy) *Selector {
	return &Selector{cfg: cfg}
}

// Select walks the batch in rank order and returns the surviving
// candidates plus every rejection. The input is not modified.
func (s *Selector) Select(ranked []score.ScoredCandidate) ([]score.ScoredCandidate, []Rejection) {
	selected := []score.ScoredCandidate{}
	rejections := []Rejection{}

	perSymbol := map[string]int{}
	perStrategy := map[chain.Strategy]int{}

	for _, sc := range ranked {
		switch {
		case sc.Score.Total < s.cfg.MinScore:
			rejections = append(rejections, Rejection{
				Symbol: sc.Trade.Symbol, Strategy: sc.Trade.Strategy,
				Code: RejectBelowMinScore, Metric: sc.Score.Total,
				Detail: fmt.Sprintf("score %.6f below floor %.6f", sc.Score.Total, s.cfg.MinScore),
			})
		case len(selected) >= s.cfg.MaxTotal:
			rejections = append(rejections, Rejection{
				Symbol: sc.Trade.Symbol, Strategy: sc.Trade.Strategy,
				Code: RejectTotalCap, Metric: float64(len(selected)),
			})
		case perSymbol[sc.Trade.Symbol] >= s.cfg.MaxPerSymbol:
			rejections = append(rejections, Rejection{
				Symbol: sc.Trade.Symbol, Strategy: sc.Trade.Strategy,
				Code: RejectPerSymbolCap, Metric: float64(perSymbol[sc.Trade.Symbol]),
			})
		case perStrategy[sc.Trade.Strategy] >= s.cfg.MaxPerStrategy:
			rejections = append(rejections, Rejection{
				Symbol: sc.Trade.Symbol, Strategy: sc.Trade.Strategy,
				Code: RejectPerStrategyCap, Metric: float64(perStrategy[sc.Trade.Strategy]),
			})
		default:
			perSymbol[sc.Trade.Symbol]++
			perStrategy[sc.Trade.Strategy]++
			selected = append(selected, sc)
			continue
		}
		observ.IncCounter("policy_rejections_total", map[string]string{"code": rejections[len(rejections)-1].Code})
	}

	return selected, rejections
}
