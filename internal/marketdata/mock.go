package marketdata

import (
	"context"
	"fmt"
	"sync"
)

// MockProvider is an in-memory ChainProvider for tests and dry runs.
// Errors can be injected per method to exercise failure paths.
type MockProvider struct {
	mu sync.Mutex

	Rows        []ChainRow
	Enriched    map[string]ChainRow // option symbol -> enriched row
	Contexts    map[string]*OptionContext
	Spots       map[string]float64

	ChainErr      error
	EnrichmentErr error
	ContextErr    error
	SpotErr       error

	// EnrichmentBatches records the batch sizes seen, for asserting the
	// ten-per-request grouping.
	EnrichmentBatches []int
}

func NewMockProvider() *MockProvider {
	return &MockProvider{
		Enriched: map[string]ChainRow{},
		Contexts: map[string]*OptionContext{},
		Spots:    map[string]float64{},
	}
}

func (m *MockProvider) GetChain(ctx context.Context, symbol string, dteMin, dteMax int) ([]ChainRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ChainErr != nil {
		return nil, m.ChainErr
	}
	var out []ChainRow
	for _, r := range m.Rows {
		if r.Ticker == symbol && r.DTE >= dteMin && r.DTE <= dteMax {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *MockProvider) ListExpirations(ctx context.Context, symbol string, dteMin, dteMax int) ([]string, error) {
	rows, err := m.GetChain(ctx, symbol, dteMin, dteMax)
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	var out []string
	for _, r := range rows {
		if !seen[r.ExpirDate] {
			seen[r.ExpirDate] = true
			out = append(out, r.ExpirDate)
		}
	}
	return out, nil
}

func (m *MockProvider) GetEnrichment(ctx context.Context, optionSymbols []string) ([]ChainRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(optionSymbols) > EnrichmentBatchSize {
		return nil, NewBadRequestError("", fmt.Sprintf("batch of %d exceeds limit %d", len(optionSymbols), EnrichmentBatchSize))
	}
	m.EnrichmentBatches = append(m.EnrichmentBatches, len(optionSymbols))
	if m.EnrichmentErr != nil {
		return nil, m.EnrichmentErr
	}
	var out []ChainRow
	for _, os := range optionSymbols {
		if row, ok := m.Enriched[os]; ok {
			out = append(out, row)
		}
	}
	return out, nil
}

func (m *MockProvider) GetContext(ctx context.Context, symbol string) (*OptionContext, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ContextErr != nil {
		return nil, m.ContextErr
	}
	return m.Contexts[symbol], nil
}

func (m *MockProvider) GetSpot(ctx context.Context, symbol string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SpotErr != nil {
		return 0, m.SpotErr
	}
	spot, ok := m.Spots[symbol]
	if !ok {
		return 0, NewEmptyError(symbol, "no spot configured")
	}
	return spot, nil
}
