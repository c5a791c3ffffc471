package portfolio

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rajchodisetti/options-engine/internal/chain"
)

func tempStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(filepath.Join(t.TempDir(), "positions.json"))
}

func samplePosition(id, symbol string, state PositionState) Position {
	return Position{
		ID:               id,
		Symbol:           symbol,
		Strategy:         chain.StrategyCSP,
		Strike:           95,
		Expiry:           time.Date(2026, 4, 17, 0, 0, 0, 0, time.UTC),
		Contracts:        1,
		PremiumCollected: 125,
		Sector:           "tech",
		Lifecycle:        Lifecycle{Current: state},
		OpenedAt:         time.Now().UTC(),
	}
}

func TestStore_LoadMissingFileStartsEmpty(t *testing.T) {
	s := tempStore(t)
	require.NoError(t, s.Load())
	assert.Empty(t, s.OpenPositions())
}

func TestStore_PutGetRoundTrip(t *testing.T) {
	s := tempStore(t)
	require.NoError(t, s.Put(samplePosition("pos-1", "AAPL", StateOpen)))

	got, ok := s.Get("pos-1")
	require.True(t, ok)
	assert.Equal(t, "AAPL", got.Symbol)
	assert.Equal(t, StateOpen, got.State())
	assert.False(t, got.UpdatedAt.IsZero())

	_, ok = s.Get("missing")
	assert.False(t, ok)
}

func TestStore_PersistsAcrossReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "positions.json")

	s := NewStore(path)
	require.NoError(t, s.Put(samplePosition("pos-1", "AAPL", StateOpen)))
	require.NoError(t, s.Put(samplePosition("pos-2", "MSFT", StateClosed)))

	reloaded := NewStore(path)
	require.NoError(t, reloaded.Load())

	got, ok := reloaded.Get("pos-1")
	require.True(t, ok)
	assert.Equal(t, "AAPL", got.Symbol)
	assert.Equal(t, 125.0, got.PremiumCollected)

	open := reloaded.OpenPositions()
	require.Len(t, open, 1)
	assert.Equal(t, "pos-1", open[0].ID)
}

func TestStore_LoadCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "positions.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))

	s := NewStore(path)
	assert.Error(t, s.Load())
}

func TestStore_ApplyTransition(t *testing.T) {
	s := tempStore(t)
	require.NoError(t, s.Put(samplePosition("pos-1", "AAPL", StateOpen)))

	require.NoError(t, s.ApplyTransition("pos-1", ActionRoll, "strike tested"))

	got, _ := s.Get("pos-1")
	assert.Equal(t, StateRolling, got.State())
	require.Len(t, got.Lifecycle.Log, 1)
	assert.Equal(t, "strike tested", got.Lifecycle.Log[0].Reason)

	// Invalid transition leaves state and log untouched.
	require.Error(t, s.ApplyTransition("pos-1", ActionAssign, ""))
	got, _ = s.Get("pos-1")
	assert.Equal(t, StateRolling, got.State())
	assert.Len(t, got.Lifecycle.Log, 1)

	assert.Error(t, s.ApplyTransition("missing", ActionHold, ""))
}

func TestStore_GetBySymbolOnlyOpen(t *testing.T) {
	s := tempStore(t)
	require.NoError(t, s.Put(samplePosition("pos-1", "AAPL", StateClosed)))

	_, ok := s.GetBySymbol("AAPL")
	assert.False(t, ok)

	require.NoError(t, s.Put(samplePosition("pos-2", "AAPL", StateAssigned)))
	got, ok := s.GetBySymbol("AAPL")
	require.True(t, ok)
	assert.Equal(t, "pos-2", got.ID)
}

func TestStore_GetReturnsCopy(t *testing.T) {
	s := tempStore(t)
	require.NoError(t, s.Put(samplePosition("pos-1", "AAPL", StateOpen)))

	got, _ := s.Get("pos-1")
	got.Symbol = "MUTATED"

	again, _ := s.Get("pos-1")
	assert.Equal(t, "AAPL", again.Symbol)
}

func TestStore_NoTempFileLeftBehind(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(filepath.Join(dir, "positions.json"))
	require.NoError(t, s.Put(samplePosition("pos-1", "AAPL", StateOpen)))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "positions.json", entries[0].Name())
}
