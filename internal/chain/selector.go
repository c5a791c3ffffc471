package chain

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/montanaflynn/stats"
	log "github.com/sirupsen/logrus"

	"github.com/Rajchodisetti/options-engine/internal/config"
	"github.com/Rajchodisetti/options-engine/internal/marketdata"
	"github.com/Rajchodisetti/options-engine/internal/observ"
)

// Selector picks one liquid, out-of-the-money contract per (symbol,
// strategy) and produces a complete Stage2Trace on every path. Nothing
// escapes as an error: network and data failures become ERROR traces,
// liquidity failures become FAIL traces with counted reasons.
type Selector struct {
	cfg          config.Selection
	provider     marketdata.ChainProvider
	batchWorkers int
}

func NewSelector(cfg config.Selection, provider marketdata.ChainProvider, batchWorkers int) *Selector {
	if batchWorkers <= 0 {
		batchWorkers = 4
	}
	return &Selector{cfg: cfg, provider: provider, batchWorkers: batchWorkers}
}

// Select evaluates one symbol for one strategy against the live chain.
func (s *Selector) Select(ctx context.Context, symbol string, strategy Strategy, spot float64) (Stage2Trace, *CandidateTrade) {
	trace := NewTrace(symbol, strategy, spot)

	if symbol == "" || spot <= 0 {
		trace.Status = StatusError
		trace.Code = CodeSpotUnavailable
		return trace, nil
	}

	rows, err := s.provider.GetChain(ctx, symbol, s.cfg.TenorMinDays, s.cfg.TenorMaxDays)
	if err != nil {
		trace.Status = StatusError
		trace.Code = fetchErrorCode(err, CodeChainFetchError)
		observ.IncCounter("chain_selection_total", map[string]string{"strategy": string(strategy), "status": StatusError})
		return trace, nil
	}

	// Step 1: group by expiry, keep the earliest N inside the tenor window.
	groups := s.groupByExpiry(rows)
	trace.ExpirationsExamined = len(groups)

	var kept []expiryGroup
	for _, g := range groups {
		if g.dte >= s.cfg.TenorMinDays && g.dte <= s.cfg.TenorMaxDays {
			kept = append(kept, g)
		}
	}
	sort.Slice(kept, func(i, j int) bool { return kept[i].dte < kept[j].dte })
	if len(kept) > s.cfg.MaxExpirations {
		kept = kept[:s.cfg.MaxExpirations]
	}
	trace.ExpirationsInWindow = len(kept)

	if len(kept) == 0 {
		trace.Status = StatusFail
		trace.Code = CodeNoExpirationsInDTE
		observ.IncCounter("chain_selection_total", map[string]string{"strategy": string(strategy), "status": StatusFail})
		return trace, nil
	}

	// Step 2: per expiry, restrict to OTM strikes near spot and keep the
	// closest K to the boundary.
	optionSymbols := s.surviveStrikes(kept, strategy, spot)
	if len(optionSymbols) == 0 {
		trace.Status = StatusFail
		if strategy == StrategyCC {
			trace.Code = CodeNoOTMCallStrikes
		} else {
			trace.Code = CodeNoOTMPutStrikes
		}
		observ.IncCounter("chain_selection_total", map[string]string{"strategy": string(strategy), "status": StatusFail})
		return trace, nil
	}
	trace.RequestedContracts = len(optionSymbols)

	// Step 3: batch enrichment, groups of ten, bounded concurrency.
	enriched, batchFailures := s.fetchEnrichment(ctx, optionSymbols)
	if len(enriched) == 0 && batchFailures > 0 {
		trace.RejectionCounts[RejectBatchFailed] = batchFailures
		trace.Status = StatusError
		trace.Code = CodeEnrichmentFetchError
		trace.finalizeTopRejection()
		observ.IncCounter("chain_selection_total", map[string]string{"strategy": string(strategy), "status": StatusError})
		return trace, nil
	}
	if batchFailures > 0 {
		trace.RejectionCounts[RejectBatchFailed] = batchFailures
	}

	// Defensive: the vendor returning the opposite contract side means the
	// request itself is wrong. Fail loudly rather than filter quietly.
	right := strategy.Right()
	for _, r := range enriched {
		if r.PutCall != "" && r.PutCall != right {
			trace.Status = StatusError
			trace.Code = CodeWrongContractSide
			trace.finalizeTopRejection()
			log.WithFields(log.Fields{"symbol": symbol, "strategy": strategy, "got": r.PutCall, "want": right}).
				Error("vendor returned wrong contract side")
			return trace, nil
		}
	}

	// Deterministic downstream behavior regardless of batch completion order.
	sort.Slice(enriched, func(i, j int) bool { return enriched[i].OptionSymbol < enriched[j].OptionSymbol })

	// Step 4: required fields. Delta is waived batch-wide when the vendor
	// returned no greeks at all; selection then falls back to the
	// OTM-distance path.
	deltaAvailable := false
	for _, r := range enriched {
		if r.Delta != nil {
			deltaAvailable = true
			break
		}
	}

	candidates := s.mapCandidates(&trace, enriched, strategy, spot, deltaAvailable)
	trace.ContractsWithRequiredFields = len(candidates)

	// Step 5: OTM filter (strict inequality) plus delta diagnostics.
	var otm []CandidateTrade
	for _, c := range candidates {
		if isOTM(strategy, c.Strike, spot) {
			otm = append(otm, c)
		}
	}
	trace.DeltaStats = deltaDistribution(otm)

	// Step 6: liquidity gates and final pick.
	winner := s.applyGates(&trace, otm, deltaAvailable)

	trace.finalizeTopRejection()
	if winner == nil {
		trace.Status = StatusFail
		trace.Code = CodeNoCandidates
		observ.IncCounter("chain_selection_total", map[string]string{"strategy": string(strategy), "status": StatusFail})
		return trace, nil
	}

	trace.Status = StatusPass
	trace.Code = ""
	trace.SelectedTrade = winner
	observ.IncCounter("chain_selection_total", map[string]string{"strategy": string(strategy), "status": StatusPass})
	observ.Log("chain_selected", map[string]any{
		"symbol":   symbol,
		"strategy": string(strategy),
		"strike":   winner.Strike,
		"expiry":   winner.Expiry.Format("2006-01-02"),
		"bid":      winner.Bid,
		"path":     winner.SelectionPath,
	})
	return trace, winner
}

type expiryGroup struct {
	date string
	dte  int
	rows []marketdata.ChainRow
}

func (s *Selector) groupByExpiry(rows []marketdata.ChainRow) []expiryGroup {
	byDate := map[string]*expiryGroup{}
	for _, r := range rows {
		if r.ExpirDate == "" {
			continue
		}
		g, ok := byDate[r.ExpirDate]
		if !ok {
			g = &expiryGroup{date: r.ExpirDate, dte: rowDTE(r)}
			byDate[r.ExpirDate] = g
		}
		g.rows = append(g.rows, r)
	}

	out := make([]expiryGroup, 0, len(byDate))
	for _, g := range byDate {
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].date < out[j].date })
	return out
}

func rowDTE(r marketdata.ChainRow) int {
	if r.DTE > 0 {
		return r.DTE
	}
	exp, err := r.Expiry()
	if err != nil {
		return 0
	}
	return int(math.Ceil(time.Until(exp).Hours() / 24))
}

// surviveStrikes returns the sorted option symbols for the (expiry, strike)
// pairs that sit on the correct side of spot, within the OTM-distance
// fraction, keeping the closest K strikes to the boundary per expiry.
func (s *Selector) surviveStrikes(kept []expiryGroup, strategy Strategy, spot float64) []string {
	right := strategy.Right()
	symbols := map[string]bool{}

	for _, g := range kept {
		type strikeRow struct {
			strike float64
			sym    string
		}
		seen := map[float64]bool{}
		var eligible []strikeRow

		for _, r := range g.rows {
			if r.PutCall != "" && r.PutCall != right {
				continue
			}
			if r.Strike <= 0 || seen[r.Strike] {
				continue
			}
			if !isOTM(strategy, r.Strike, spot) {
				continue
			}
			if !withinOTMDistance(strategy, r.Strike, spot, s.cfg.OTMDistanceFrac) {
				continue
			}
			seen[r.Strike] = true
			sym := r.OptionSymbol
			if sym == "" {
				sym = BuildOptionSymbol(r.Ticker, g.date, right, r.Strike)
			}
			eligible = append(eligible, strikeRow{strike: r.Strike, sym: sym})
		}

		// Closest strikes to spot first.
		sort.Slice(eligible, func(i, j int) bool {
			di := math.Abs(eligible[i].strike - spot)
			dj := math.Abs(eligible[j].strike - spot)
			if di != dj {
				return di < dj
			}
			return eligible[i].strike < eligible[j].strike
		})
		if len(eligible) > s.cfg.MaxStrikes {
			eligible = eligible[:s.cfg.MaxStrikes]
		}
		for _, e := range eligible {
			symbols[e.sym] = true
		}
	}

	out := make([]string, 0, len(symbols))
	for sym := range symbols {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// fetchEnrichment issues the batched strikes/options requests with a
// bounded worker pool. A failed batch is counted, not retried; completion
// order does not matter because results are re-sorted by the caller.
func (s *Selector) fetchEnrichment(ctx context.Context, optionSymbols []string) ([]marketdata.ChainRow, int) {
	var batches [][]string
	for i := 0; i < len(optionSymbols); i += marketdata.EnrichmentBatchSize {
		end := i + marketdata.EnrichmentBatchSize
		if end > len(optionSymbols) {
			end = len(optionSymbols)
		}
		batches = append(batches, optionSymbols[i:end])
	}

	var (
		mu       sync.Mutex
		rows     []marketdata.ChainRow
		failures int
		wg       sync.WaitGroup
		sem      = make(chan struct{}, s.batchWorkers)
	)

	for _, batch := range batches {
		wg.Add(1)
		sem <- struct{}{}
		go func(batch []string) {
			defer wg.Done()
			defer func() { <-sem }()

			got, err := s.provider.GetEnrichment(ctx, batch)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures++
				log.WithFields(log.Fields{"batch_size": len(batch), "first": batch[0]}).
					WithError(err).Warn("enrichment batch failed")
				return
			}
			rows = append(rows, got...)
		}(batch)
	}
	wg.Wait()

	return rows, failures
}

// mapCandidates converts enriched rows into candidates, counting rows
// missing required fields. requireDelta is false only in the OTM-distance
// fallback where the vendor returned no greeks.
func (s *Selector) mapCandidates(trace *Stage2Trace, enriched []marketdata.ChainRow, strategy Strategy, spot float64, requireDelta bool) []CandidateTrade {
	var out []CandidateTrade
	for _, r := range enriched {
		var missing []string
		if r.Strike <= 0 {
			missing = append(missing, "strike")
		}
		if r.ExpirDate == "" {
			missing = append(missing, "expiry")
		}
		if r.Delta == nil {
			trace.MissingFieldCounts["delta"]++
			if requireDelta {
				missing = append(missing, "delta")
			}
		}
		if r.Bid == nil {
			missing = append(missing, "bid")
		}
		if r.Ask == nil {
			missing = append(missing, "ask")
		}

		if len(missing) > 0 {
			for _, f := range missing {
				if f == "delta" {
					continue // counted above
				}
				trace.MissingFieldCounts[f]++
			}
			trace.reject(RejectedRow{
				OptionSymbol: r.OptionSymbol,
				Strike:       r.Strike,
				ExpirDate:    r.ExpirDate,
				Reason:       RejectMissingFields,
			})
			continue
		}

		expiry, err := r.Expiry()
		if err != nil {
			trace.MissingFieldCounts["expiry"]++
			trace.reject(RejectedRow{OptionSymbol: r.OptionSymbol, Strike: r.Strike, ExpirDate: r.ExpirDate, Reason: RejectMissingFields})
			continue
		}

		bid, ask := *r.Bid, *r.Ask
		mid := (bid + ask) / 2
		spreadPct := 0.0
		if mid > 0 {
			spreadPct = (ask - bid) / mid
		}

		absDelta := 0.0
		if r.Delta != nil {
			absDelta = math.Abs(*r.Delta)
		}

		out = append(out, CandidateTrade{
			Symbol:       trace.Symbol,
			Strategy:     strategy,
			Expiry:       expiry,
			DTE:          rowDTE(r),
			Strike:       r.Strike,
			SpotPrice:    spot,
			AbsDelta:     absDelta,
			Bid:          bid,
			Ask:          ask,
			Mid:          mid,
			SpreadPct:    spreadPct,
			OpenInterest: r.OpenInterest,
			OptionSymbol: r.OptionSymbol,
		})
	}
	return out
}

// applyGates runs the liquidity gates and returns the winning candidate,
// or nil when nothing passes. Rejections are counted on the trace.
func (s *Selector) applyGates(trace *Stage2Trace, otm []CandidateTrade, deltaAvailable bool) *CandidateTrade {
	path := PathDeltaBand
	if !deltaAvailable {
		path = PathOTMDistance
	}

	var passers []CandidateTrade
	inWindow := 0
	for _, c := range otm {
		if deltaAvailable {
			if c.AbsDelta < s.cfg.DeltaBandLo || c.AbsDelta > s.cfg.DeltaBandHi {
				trace.reject(RejectedRow{OptionSymbol: c.OptionSymbol, Strike: c.Strike, ExpirDate: c.Expiry.Format("2006-01-02"), Reason: RejectDelta})
				continue
			}
		}
		inWindow++
		if c.OpenInterest < s.cfg.MinOpenInterest {
			trace.reject(RejectedRow{OptionSymbol: c.OptionSymbol, Strike: c.Strike, ExpirDate: c.Expiry.Format("2006-01-02"), Reason: RejectOpenInterest})
			continue
		}
		if c.Mid <= 0 || c.SpreadPct > s.cfg.MaxSpreadPct {
			trace.reject(RejectedRow{OptionSymbol: c.OptionSymbol, Strike: c.Strike, ExpirDate: c.Expiry.Format("2006-01-02"), Reason: RejectSpread})
			continue
		}
		c.SelectionPath = path
		passers = append(passers, c)
	}
	trace.ContractsInWindow = inWindow

	if len(passers) == 0 {
		return nil
	}

	sort.Slice(passers, func(i, j int) bool {
		a, b := passers[i], passers[j]
		if deltaAvailable {
			// Highest bid, then closest to the target delta, then tightest
			// spread.
			if a.Bid != b.Bid {
				return a.Bid > b.Bid
			}
			da := math.Abs(a.AbsDelta - s.cfg.DeltaTarget)
			db := math.Abs(b.AbsDelta - s.cfg.DeltaTarget)
			if da != db {
				return da < db
			}
		} else {
			// Fallback: closest strike to the boundary, then highest bid.
			da, db := a.StrikeDistance(), b.StrikeDistance()
			if da != db {
				return da < db
			}
			if a.Bid != b.Bid {
				return a.Bid > b.Bid
			}
		}
		if a.SpreadPct != b.SpreadPct {
			return a.SpreadPct < b.SpreadPct
		}
		return a.OptionSymbol < b.OptionSymbol
	})

	best := passers[0]
	return &best
}

func isOTM(strategy Strategy, strike, spot float64) bool {
	if strategy == StrategyCC {
		return strike > spot
	}
	return strike < spot
}

func withinOTMDistance(strategy Strategy, strike, spot, frac float64) bool {
	if strategy == StrategyCC {
		return strike <= spot*(1+frac)
	}
	return strike >= spot*(1-frac)
}

func deltaDistribution(otm []CandidateTrade) DeltaStats {
	var deltas []float64
	for _, c := range otm {
		if c.AbsDelta > 0 {
			deltas = append(deltas, c.AbsDelta)
		}
	}
	if len(deltas) == 0 {
		return DeltaStats{}
	}
	min, _ := stats.Min(deltas)
	med, _ := stats.Median(deltas)
	max, _ := stats.Max(deltas)
	return DeltaStats{Min: min, Median: med, Max: max}
}

// fetchErrorCode maps a provider failure onto a stable trace code.
func fetchErrorCode(err error, fallback string) string {
	var pe *marketdata.ProviderError
	if errors.As(err, &pe) {
		switch pe.Kind {
		case "auth":
			return CodeAuthError
		case "parse":
			return CodeParseError
		case "empty":
			return CodeEmptyChain
		}
	}
	return fallback
}

// BuildOptionSymbol produces the OCC-style option symbol the vendor's
// batch endpoint accepts: TICKER + yymmdd + side + strike*1000, 8 digits.
func BuildOptionSymbol(ticker, expirDate, right string, strike float64) string {
	t, err := time.Parse("2006-01-02", expirDate)
	if err != nil {
		return ""
	}
	return fmt.Sprintf("%s%s%s%08d", strings.ToUpper(ticker), t.Format("060102"), right, int(math.Round(strike*1000)))
}
