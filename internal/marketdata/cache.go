package marketdata

import (
	"context"
	"fmt"
	"sync"
)

// RunCache is a read-through cache scoped to one evaluation run. It is
// constructed per run and discarded afterwards; nothing here survives
// between runs. Safe for the bounded worker pool — fetches for a missing
// key may race, the last writer wins and both callers get valid rows.
type RunCache struct {
	inner ChainProvider

	mu       sync.RWMutex
	chains   map[string][]ChainRow
	contexts map[string]*OptionContext
	spots    map[string]float64
	expiries map[string][]string
}

// NewRunCache wraps a provider with per-run caching.
func NewRunCache(inner ChainProvider) *RunCache {
	return &RunCache{
		inner:    inner,
		chains:   map[string][]ChainRow{},
		contexts: map[string]*OptionContext{},
		spots:    map[string]float64{},
		expiries: map[string][]string{},
	}
}

func chainKey(symbol string, dteMin, dteMax int) string {
	return fmt.Sprintf("%s|%d|%d", symbol, dteMin, dteMax)
}

func (rc *RunCache) GetChain(ctx context.Context, symbol string, dteMin, dteMax int) ([]ChainRow, error) {
	key := chainKey(symbol, dteMin, dteMax)

	rc.mu.RLock()
	rows, ok := rc.chains[key]
	rc.mu.RUnlock()
	if ok {
		return rows, nil
	}

	rows, err := rc.inner.GetChain(ctx, symbol, dteMin, dteMax)
	if err != nil {
		return nil, err
	}

	rc.mu.Lock()
	rc.chains[key] = rows
	rc.mu.Unlock()
	return rows, nil
}

func (rc *RunCache) ListExpirations(ctx context.Context, symbol string, dteMin, dteMax int) ([]string, error) {
	key := chainKey(symbol, dteMin, dteMax)

	rc.mu.RLock()
	exps, ok := rc.expiries[key]
	rc.mu.RUnlock()
	if ok {
		return exps, nil
	}

	exps, err := rc.inner.ListExpirations(ctx, symbol, dteMin, dteMax)
	if err != nil {
		return nil, err
	}

	rc.mu.Lock()
	rc.expiries[key] = exps
	rc.mu.Unlock()
	return exps, nil
}

// GetEnrichment is not cached: each (expiry, strike) set is requested once
// per run already.
func (rc *RunCache) GetEnrichment(ctx context.Context, optionSymbols []string) ([]ChainRow, error) {
	return rc.inner.GetEnrichment(ctx, optionSymbols)
}

func (rc *RunCache) GetContext(ctx context.Context, symbol string) (*OptionContext, error) {
	rc.mu.RLock()
	octx, ok := rc.contexts[symbol]
	rc.mu.RUnlock()
	if ok {
		return octx, nil
	}

	octx, err := rc.inner.GetContext(ctx, symbol)
	if err != nil {
		return nil, err
	}

	rc.mu.Lock()
	rc.contexts[symbol] = octx
	rc.mu.Unlock()
	return octx, nil
}

func (rc *RunCache) GetSpot(ctx context.Context, symbol string) (float64, error) {
	rc.mu.RLock()
	spot, ok := rc.spots[symbol]
	rc.mu.RUnlock()
	if ok {
		return spot, nil
	}

	spot, err := rc.inner.GetSpot(ctx, symbol)
	if err != nil {
		return 0, err
	}

	rc.mu.Lock()
	rc.spots[symbol] = spot
	rc.mu.Unlock()
	return spot, nil
}
