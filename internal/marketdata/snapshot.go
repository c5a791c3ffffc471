package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
)

// Snapshot is the on-disk shape consumed by SnapshotProvider: one frozen
// view of chains, contexts and spots, typically captured from a live run
// and replayed in backtests.
type Snapshot struct {
	CapturedAt string                    `json:"captured_at"`
	Rows       []ChainRow                `json:"rows"`
	Enriched   map[string]ChainRow       `json:"enriched"` // option symbol -> row
	Contexts   map[string]*OptionContext `json:"contexts"`
	Spots      map[string]float64        `json:"spots"`
}

// SnapshotProvider serves a recorded snapshot file through the same
// contract as the live vendor. Reads are lock-free: the snapshot is
// immutable after load.
type SnapshotProvider struct {
	snap Snapshot
}

// NewSnapshotProvider loads a snapshot file.
func NewSnapshotProvider(path string) (*SnapshotProvider, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot %s: %w", path, err)
	}
	var snap Snapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return nil, fmt.Errorf("failed to parse snapshot %s: %w", path, err)
	}
	if snap.Enriched == nil {
		snap.Enriched = map[string]ChainRow{}
	}
	if snap.Contexts == nil {
		snap.Contexts = map[string]*OptionContext{}
	}
	if snap.Spots == nil {
		snap.Spots = map[string]float64{}
	}
	return &SnapshotProvider{snap: snap}, nil
}

func (s *SnapshotProvider) GetChain(ctx context.Context, symbol string, dteMin, dteMax int) ([]ChainRow, error) {
	var out []ChainRow
	for _, r := range s.snap.Rows {
		if r.Ticker == symbol && r.DTE >= dteMin && r.DTE <= dteMax {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *SnapshotProvider) ListExpirations(ctx context.Context, symbol string, dteMin, dteMax int) ([]string, error) {
	rows, err := s.GetChain(ctx, symbol, dteMin, dteMax)
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

func (s *SnapshotProvider) GetEnrichment(ctx context.Context, optionSymbols []string) ([]ChainRow, error) {
	if len(optionSymbols) > EnrichmentBatchSize {
		return nil, NewBadRequestError("", fmt.Sprintf("batch of %d exceeds limit %d", len(optionSymbols), EnrichmentBatchSize))
	}
	var out []ChainRow
	for _, os := range optionSymbols {
		if row, ok := s.snap.Enriched[os]; ok {
			out = append(out, row)
		}
	}
	return out, nil
}

func (s *SnapshotProvider) GetContext(ctx context.Context, symbol string) (*OptionContext, error) {
	return s.snap.Contexts[symbol], nil
}

func (s *SnapshotProvider) GetSpot(ctx context.Context, symbol string) (float64, error) {
	spot, ok := s.snap.Spots[symbol]
	if !ok {
		return 0, NewEmptyError(symbol, "symbol not in snapshot")
	}
	return spot, nil
}
