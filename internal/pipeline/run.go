package pipeline

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/Rajchodisetti/options-engine/internal/chain"
	"github.com/Rajchodisetti/options-engine/internal/config"
	"github.com/Rajchodisetti/options-engine/internal/marketdata"
	"github.com/Rajchodisetti/options-engine/internal/observ"
	"github.com/Rajchodisetti/options-engine/internal/policy"
	"github.com/Rajchodisetti/options-engine/internal/score"
)

// maxSymbolWorkers bounds concurrent symbol evaluations. Each symbol is
// independent; only the final deterministic ordering matters.
const maxSymbolWorkers = 4

// RunResult is the full output of one evaluation run: every trace, the
// ranked batch, the final selections and every pruning decision.
type RunResult struct {
	RunID      string                     `json:"run_id"`
	StartedAt  time.Time                  `json:"started_at"`
	FinishedAt time.Time                  `json:"finished_at"`
	Health     marketdata.HealthSnapshot  `json:"health"`
	Traces     []chain.Stage2Trace        `json:"traces"`
	Ranked     []score.ScoredCandidate    `json:"ranked"`
	Selected   []score.ScoredCandidate    `json:"selected"`
	Rejections []policy.Rejection         `json:"rejections"`
}

// Engine wires the pipeline stages: chain selection per symbol and
// strategy, scoring over the run's batch, then the context gate and
// policy caps.
type Engine struct {
	cfg      config.Root
	provider marketdata.ChainProvider
	health   *marketdata.HealthMonitor
}

func New(cfg config.Root, provider marketdata.ChainProvider, health *marketdata.HealthMonitor) *Engine {
	if health == nil {
		health = marketdata.NewHealthMonitor("vendor")
	}
	return &Engine{cfg: cfg, provider: provider, health: health}
}

type symbolOutcome struct {
	traces     []chain.Stage2Trace
	candidates []chain.CandidateTrade
	context    *marketdata.OptionContext
}

// Run evaluates the configured universe once. All state is scoped to the
// run: the cache is constructed here and discarded with the result.
func (e *Engine) Run(ctx context.Context) RunResult {
	started := time.Now().UTC()
	runID := uuid.NewString()

	cache := marketdata.NewRunCache(e.provider)
	selector := chain.NewSelector(e.cfg.Selection, cache, e.cfg.Vendor.MaxBatchWorkers)

	outcomes := make(map[string]symbolOutcome, len(e.cfg.Universe))
	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = make(chan struct{}, maxSymbolWorkers)
	)

	for _, symbol := range e.cfg.Universe {
		wg.Add(1)
		sem <- struct{}{}
		go func(symbol string) {
			defer wg.Done()
			defer func() { <-sem }()

			out := e.evaluateSymbol(ctx, selector, cache, symbol)
			mu.Lock()
			outcomes[symbol] = out
			mu.Unlock()
		}(symbol)
	}
	wg.Wait()

	// Deterministic aggregation regardless of completion order.
	symbols := make([]string, 0, len(outcomes))
	for s := range outcomes {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)

	var (
		traces     []chain.Stage2Trace
		candidates []chain.CandidateTrade
	)
	contexts := map[string]*marketdata.OptionContext{}
	for _, s := range symbols {
		out := outcomes[s]
		traces = append(traces, out.traces...)
		candidates = append(candidates, out.candidates...)
		contexts[s] = out.context
	}

	ranked := score.NewScorer(e.cfg.Scoring).Score(candidates, contexts)

	gated, gateRejections := policy.NewContextGate(e.cfg.ContextGate).Apply(ranked, contexts, started)
	selected, capRejections := policy.NewSelector(e.cfg.Policy).Select(gated)

	rejections := append([]policy.Rejection{}, gateRejections...)
	rejections = append(rejections, capRejections...)

	result := RunResult{
		RunID:      runID,
		StartedAt:  started,
		FinishedAt: time.Now().UTC(),
		Health:     e.health.Snapshot(),
		Traces:     traces,
		Ranked:     ranked,
		Selected:   selected,
		Rejections: rejections,
	}

	observ.Log("pipeline_run_complete", map[string]any{
		"run_id":     runID,
		"symbols":    len(e.cfg.Universe),
		"candidates": len(candidates),
		"selected":   len(selected),
		"rejections": len(rejections),
	})
	observ.SetGauge("pipeline_selected_signals", float64(len(selected)), map[string]string{})
	return result
}

func (e *Engine) evaluateSymbol(ctx context.Context, selector *chain.Selector, cache *marketdata.RunCache, symbol string) symbolOutcome {
	var out symbolOutcome

	spot, err := cache.GetSpot(ctx, symbol)
	if err != nil {
		e.health.RecordError()
		log.WithField("symbol", symbol).WithError(err).Warn("spot unavailable, skipping symbol")
		for _, strategy := range []chain.Strategy{chain.StrategyCSP, chain.StrategyCC} {
			t := chain.NewTrace(symbol, strategy, 0)
			t.Status = chain.StatusError
			t.Code = chain.CodeSpotUnavailable
			out.traces = append(out.traces, t)
		}
		return out
	}

	octx, err := cache.GetContext(ctx, symbol)
	if err != nil {
		// Context is best-effort; scoring treats a missing context as
		// neutral and the gate passes the candidate.
		log.WithField("symbol", symbol).WithError(err).Warn("option context unavailable")
		octx = nil
	}
	out.context = octx

	for _, strategy := range []chain.Strategy{chain.StrategyCSP, chain.StrategyCC} {
		trace, candidate := selector.Select(ctx, symbol, strategy, spot)
		if trace.Status == chain.StatusError {
			e.health.RecordError()
		} else {
			e.health.RecordSuccess()
		}
		out.traces = append(out.traces, trace)
		if candidate != nil {
			out.candidates = append(out.candidates, *candidate)
		}
	}
	return out
}
