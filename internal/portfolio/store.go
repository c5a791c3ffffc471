package portfolio

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/Rajchodisetti/options-engine/internal/chain"
)

// Position is one tracked option position. The decision core only reads
// and transitions its lifecycle state; everything else is bookkeeping for
// the caps checker and reporting.
type Position struct {
	ID               string         `json:"id"`
	Symbol           string         `json:"symbol"`
	Strategy         chain.Strategy `json:"strategy"`
	Strike           float64        `json:"strike"`
	Expiry           time.Time      `json:"expiry"`
	Contracts        int            `json:"contracts"`
	PremiumCollected float64        `json:"premium_collected"`
	Sector           string         `json:"sector,omitempty"`
	AbsDelta         *float64       `json:"abs_delta,omitempty"` // unknown until first mark
	Lifecycle        Lifecycle      `json:"lifecycle"`
	OpenedAt         time.Time      `json:"opened_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// State returns the current lifecycle state.
func (p *Position) State() PositionState {
	return p.Lifecycle.Current
}

// IsOpen reports whether the position still carries exposure.
func (p *Position) IsOpen() bool {
	switch p.Lifecycle.Current {
	case StateOpen, StateAssigned, StateRolling, StateClosing:
		return true
	}
	return false
}

// storeState is the on-disk shape: versioned so writes are auditable.
type storeState struct {
	Version   int64                `json:"version"`
	UpdatedAt string               `json:"updated_at"`
	Positions map[string]*Position `json:"positions"` // keyed by position ID
}

// Store persists positions as a single JSON file with atomic writes
// (temp file + rename). It owns storage and lifetime; the guard and caps
// checker only read through it.
type Store struct {
	filePath string
	mu       sync.RWMutex
	state    storeState
}

func NewStore(filePath string) *Store {
	return &Store{
		filePath: filePath,
		state:    storeState{Positions: map[string]*Position{}},
	}
}

// Load reads the state file, starting empty if it does not exist yet.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read positions file: %w", err)
	}
	if err := json.Unmarshal(data, &s.state); err != nil {
		return fmt.Errorf("failed to unmarshal positions file: %w", err)
	}
	if s.state.Positions == nil {
		s.state.Positions = map[string]*Position{}
	}
	return nil
}

// Save atomically writes the state file.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveUnsafe()
}

func (s *Store) saveUnsafe() error {
	s.state.Version++
	s.state.UpdatedAt = time.Now().UTC().Format(time.RFC3339)

	data, err := json.MarshalIndent(s.state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal positions: %w", err)
	}

	tempPath := s.filePath + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp positions file: %w", err)
	}
	if err := os.Rename(tempPath, s.filePath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename positions file: %w", err)
	}
	return nil
}

// Get returns a copy of the position with the given ID.
func (s *Store) Get(id string) (Position, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.state.Positions[id]
	if !ok {
		return Position{}, false
	}
	return *p, true
}

// GetBySymbol returns the first open position for a symbol, if any.
func (s *Store) GetBySymbol(symbol string) (Position, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.state.Positions {
		if p.Symbol == symbol && p.IsOpen() {
			return *p, true
		}
	}
	return Position{}, false
}

// OpenPositions returns copies of all positions still carrying exposure.
func (s *Store) OpenPositions() []Position {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Position
	for _, p := range s.state.Positions {
		if p.IsOpen() {
			out = append(out, *p)
		}
	}
	return out
}

// Put inserts or replaces a position and persists.
func (s *Store) Put(p Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.UpdatedAt = time.Now().UTC()
	s.state.Positions[p.ID] = &p
	return s.saveUnsafe()
}

// ApplyTransition transitions a position's lifecycle and persists. The
// transition table decides validity; callers get the error untouched.
func (s *Store) ApplyTransition(id string, action Action, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.state.Positions[id]
	if !ok {
		return fmt.Errorf("position %s not found", id)
	}
	if err := p.Lifecycle.Apply(action, reason, time.Now().UTC()); err != nil {
		return err
	}
	p.UpdatedAt = time.Now().UTC()
	return s.saveUnsafe()
}
