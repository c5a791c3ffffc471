package portfolio

import (
	"math"

	"github.com/Rajchodisetti/options-engine/internal/config"
	"github.com/Rajchodisetti/options-engine/internal/observ"
)

// Cap violation codes, stable for audit.
const (
	CapMaxPositions  = "max_positions"
	CapRiskBudget    = "risk_budget"
	CapSectorCap     = "sector_cap"
	CapDeltaExposure = "delta_exposure"
)

// CandidateEntry is the new-entry view the cap checker needs: enough to
// price worst-case loss and delta exposure, nothing more.
type CandidateEntry struct {
	Symbol           string   `json:"symbol"`
	Sector           string   `json:"sector,omitempty"`
	Strike           float64  `json:"strike"`
	Contracts        int      `json:"contracts"`
	Notional         float64  `json:"notional"`          // cash-secured notional
	EstimatedPremium float64  `json:"estimated_premium"` // credit expected at entry
	AbsDelta         *float64 `json:"abs_delta,omitempty"`
}

// CheckCaps enforces account-level exposure caps over the open book plus
// one new candidate. Checks run in a fixed order and stop at the first
// violation; the returned slice is empty when the entry is acceptable.
// Pure function: no I/O, never errors.
func CheckCaps(open []Position, candidate CandidateEntry, accountBalance float64, cfg config.PortfolioCaps) []string {
	violations := []string{}

	record := func(code string) []string {
		observ.IncCounter("portfolio_cap_violations_total", map[string]string{"code": code})
		return append(violations, code)
	}

	// 1. Position count.
	if len(open) >= cfg.MaxPositions {
		return record(CapMaxPositions)
	}

	// 2. Risk budget: worst-case loss vs per-trade risk allowance.
	maxLoss := candidate.Notional - candidate.EstimatedPremium
	budget := (cfg.MaxRiskPerTradePct / 100) * accountBalance
	if maxLoss > budget {
		return record(CapRiskBudget)
	}

	// 3. Sector concentration, by open-position count.
	if candidate.Sector != "" {
		inSector := 0
		for _, p := range open {
			if p.Sector == candidate.Sector {
				inSector++
			}
		}
		if inSector >= cfg.MaxPositionsPerSector {
			return record(CapSectorCap)
		}
	}

	// 4. Aggregate absolute-delta notional, existing plus candidate.
	if accountBalance > 0 {
		total := 0.0
		for _, p := range open {
			total += deltaNotional(p.AbsDelta, p.Contracts, p.Strike, cfg.DefaultContractDelta)
		}
		total += deltaNotional(candidate.AbsDelta, candidate.Contracts, candidate.Strike, cfg.DefaultContractDelta)

		if total/accountBalance > cfg.MaxDeltaExposurePct {
			return record(CapDeltaExposure)
		}
	}

	return violations
}

// deltaNotional estimates directional exposure for one position: delta x
// contracts x 100 shares x strike, with the configured default delta when
// the position's own delta is unknown.
func deltaNotional(absDelta *float64, contracts int, strike, defaultDelta float64) float64 {
	d := defaultDelta
	if absDelta != nil {
		d = math.Abs(*absDelta)
	}
	return d * float64(contracts) * 100 * strike
}
