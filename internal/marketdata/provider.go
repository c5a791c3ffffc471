package marketdata

import (
	"context"
	"fmt"
	"time"
)

// EnrichmentBatchSize is the vendor's hard cap on option symbols per
// strikes/options request.
const EnrichmentBatchSize = 10

// ChainRow is one vendor-supplied option quote. Delta, Bid and Ask are
// pointers because the vendor omits them for illiquid contracts; the
// selector counts missing fields per row rather than dropping silently.
type ChainRow struct {
	Ticker       string   `json:"ticker"`
	OptionSymbol string   `json:"optionSymbol"`
	Strike       float64  `json:"strike"`
	ExpirDate    string   `json:"expirDate"` // YYYY-MM-DD
	DTE          int      `json:"dte"`
	PutCall      string   `json:"putCall"` // "P" | "C"
	Delta        *float64 `json:"delta"`
	Bid          *float64 `json:"bidPrice"`
	Ask          *float64 `json:"askPrice"`
	OpenInterest int      `json:"openInterest"`
	Volume       int      `json:"volume"`
	SpotPrice    float64  `json:"spotPrice"`
}

// Expiry parses the row's expiration date.
func (r ChainRow) Expiry() (time.Time, error) {
	return time.Parse("2006-01-02", r.ExpirDate)
}

// OptionContext is per-symbol volatility context used by scoring and the
// context gate. All fields are best-effort; a nil context is valid.
type OptionContext struct {
	Symbol          string     `json:"symbol"`
	IVRank          float64    `json:"iv_rank"`           // 0..100
	TermSlope       float64    `json:"term_slope"`        // negative = backwardation
	SkewPct         float64    `json:"skew_pct"`          // put-call IV skew
	ExpectedMove1SD float64    `json:"expected_move_1sd"` // dollars over the tenor
	EarningsDate    *time.Time `json:"earnings_date,omitempty"`
	MacroEvents     []time.Time `json:"macro_events,omitempty"`
}

// ChainProvider is the narrow contract every data source implements:
// live vendor, snapshot file, or synthetic test double.
type ChainProvider interface {
	// ListExpirations returns the available expiration dates (YYYY-MM-DD)
	// inside the dte window, earliest first.
	ListExpirations(ctx context.Context, symbol string, dteMin, dteMax int) ([]string, error)

	// GetChain returns raw chain rows for the symbol inside the dte window.
	GetChain(ctx context.Context, symbol string, dteMin, dteMax int) ([]ChainRow, error)

	// GetEnrichment batch-fetches quote/greek rows for up to
	// EnrichmentBatchSize option symbols.
	GetEnrichment(ctx context.Context, optionSymbols []string) ([]ChainRow, error)

	// GetContext returns volatility context, or (nil, nil) when the vendor
	// has none for the symbol.
	GetContext(ctx context.Context, symbol string) (*OptionContext, error)

	// GetSpot returns the underlying spot price.
	GetSpot(ctx context.Context, symbol string) (float64, error)
}

// ProviderError classifies vendor failures so callers can branch on kind
// instead of string-matching.
type ProviderError struct {
	Kind    string // "auth" | "network" | "parse" | "empty" | "rate_limit" | "bad_request"
	Symbol  string
	Message string
	Cause   error
}

func (e *ProviderError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s error for %s: %s (%v)", e.Kind, e.Symbol, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s error for %s: %s", e.Kind, e.Symbol, e.Message)
}

func (e *ProviderError) Unwrap() error { return e.Cause }

func NewAuthError(symbol, message string) *ProviderError {
	return &ProviderError{Kind: "auth", Symbol: symbol, Message: message}
}

func NewNetworkError(symbol, message string, cause error) *ProviderError {
	return &ProviderError{Kind: "network", Symbol: symbol, Message: message, Cause: cause}
}

func NewParseError(symbol, message string, cause error) *ProviderError {
	return &ProviderError{Kind: "parse", Symbol: symbol, Message: message, Cause: cause}
}

func NewEmptyError(symbol, message string) *ProviderError {
	return &ProviderError{Kind: "empty", Symbol: symbol, Message: message}
}

func NewBadRequestError(symbol, message string) *ProviderError {
	return &ProviderError{Kind: "bad_request", Symbol: symbol, Message: message}
}
