package chain

import (
	"time"
)

// Strategy identifies the option-selling strategy a candidate belongs to.
type Strategy string

const (
	StrategyCSP Strategy = "CSP" // cash-secured put
	StrategyCC  Strategy = "CC"  // covered call
)

// Right returns the contract side the strategy trades.
func (s Strategy) Right() string {
	if s == StrategyCC {
		return "C"
	}
	return "P"
}

// IsCredit reports whether the strategy collects premium. Both wheel legs
// are credit strategies; the flag exists so scoring generalizes.
func (s Strategy) IsCredit() bool {
	return s == StrategyCSP || s == StrategyCC
}

// Trace status values.
const (
	StatusPass  = "PASS"
	StatusFail  = "FAIL"
	StatusError = "ERROR"
)

// Stage failure codes (status ERROR / FAIL).
const (
	CodeNoExpirationsInDTE   = "NO_EXPIRATIONS_IN_DTE"
	CodeNoOTMPutStrikes      = "NO_OTM_PUT_STRIKES_NEAR_SPOT"
	CodeNoOTMCallStrikes     = "NO_OTM_CALL_STRIKES_NEAR_SPOT"
	CodeWrongContractSide    = "WRONG_CONTRACT_SIDE"
	CodeChainFetchError      = "CHAIN_FETCH_ERROR"
	CodeEnrichmentFetchError = "ENRICHMENT_FETCH_ERROR"
	CodeAuthError            = "AUTH_ERROR"
	CodeParseError           = "PARSE_ERROR"
	CodeEmptyChain           = "EMPTY_CHAIN"
	CodeSpotUnavailable      = "SPOT_UNAVAILABLE"
	CodeNoCandidates         = "NO_CANDIDATES_PASSED_GATES"
)

// Per-contract rejection reasons, counted in the trace.
const (
	RejectMissingFields = "rejected_due_to_missing_fields"
	RejectDelta         = "rejected_due_to_delta"
	RejectOpenInterest  = "rejected_due_to_open_interest"
	RejectSpread        = "rejected_due_to_spread"
	RejectBatchFailed   = "enrichment_batch_failed"
)

// Selection paths recorded on a candidate.
const (
	PathDeltaBand   = "delta_band"
	PathOTMDistance = "otm_distance"
)

// CandidateTrade is one evaluated trade opportunity. Immutable once
// produced; downstream stages copy, never mutate.
type CandidateTrade struct {
	Symbol        string    `json:"symbol"`
	Strategy      Strategy  `json:"strategy"`
	Expiry        time.Time `json:"expiry"`
	DTE           int       `json:"dte"`
	Strike        float64   `json:"strike"`
	SpotPrice     float64   `json:"spot_price"`
	AbsDelta      float64   `json:"abs_delta"`
	Bid           float64   `json:"bid"`
	Ask           float64   `json:"ask"`
	Mid           float64   `json:"mid"`
	SpreadPct     float64   `json:"spread_pct"`
	OpenInterest  int       `json:"open_interest"`
	OptionSymbol  string    `json:"option_symbol"`
	SelectionPath string    `json:"selection_path"`
	ProbOTM       *float64  `json:"prob_otm,omitempty"`
}

// OTMDistancePct is the candidate's distance from spot as a fraction of
// spot, floored at zero.
func (c CandidateTrade) OTMDistancePct() float64 {
	if c.SpotPrice <= 0 {
		return 0
	}
	d := (c.SpotPrice - c.Strike) / c.SpotPrice
	if c.Strategy == StrategyCC {
		d = -d
	}
	if d < 0 {
		return 0
	}
	return d
}

// StrikeDistance is the dollar distance from spot to strike.
func (c CandidateTrade) StrikeDistance() float64 {
	d := c.SpotPrice - c.Strike
	if d < 0 {
		return -d
	}
	return d
}

// RejectedRow is a trace sample of one contract that failed a gate.
type RejectedRow struct {
	OptionSymbol string  `json:"option_symbol"`
	Strike       float64 `json:"strike"`
	ExpirDate    string  `json:"expir_date"`
	Reason       string  `json:"reason"`
}

// DeltaStats summarizes the absolute-delta distribution of the OTM
// candidate set, for diagnostics only.
type DeltaStats struct {
	Min    float64 `json:"min"`
	Median float64 `json:"median"`
	Max    float64 `json:"max"`
}

// Stage2Trace is the diagnostic record for one (symbol, strategy)
// evaluation. Every exit path returns a fully populated trace; maps and
// slices are always non-nil so the JSON shape is stable.
type Stage2Trace struct {
	Symbol   string   `json:"symbol"`
	Strategy Strategy `json:"strategy"`
	Status   string   `json:"status"` // PASS | FAIL | ERROR
	Code     string   `json:"code,omitempty"`

	SpotPrice float64 `json:"spot_price"`

	ExpirationsExamined int `json:"expirations_examined"`
	ExpirationsInWindow int `json:"expirations_in_window"`

	RequestedContracts          int `json:"requested_contracts"`
	ContractsWithRequiredFields int `json:"contracts_with_required_fields"`
	ContractsInWindow           int `json:"contracts_in_window"`

	MissingFieldCounts map[string]int `json:"missing_field_counts"`
	RejectionCounts    map[string]int `json:"rejection_counts"`
	SampleRejects      []RejectedRow  `json:"sample_rejects"`

	DeltaStats DeltaStats `json:"delta_stats"`

	TopRejectionReason string `json:"top_rejection_reason,omitempty"`
	TopRejectionCount  int    `json:"top_rejection_count"`

	SelectedTrade *CandidateTrade `json:"selected_trade"`

	EvaluatedAt time.Time `json:"evaluated_at"`
}

// NewTrace returns a trace with every collection initialized, so early
// failures still serialize with the full field set.
func NewTrace(symbol string, strategy Strategy, spot float64) Stage2Trace {
	return Stage2Trace{
		Symbol:             symbol,
		Strategy:           strategy,
		Status:             StatusFail,
		SpotPrice:          spot,
		MissingFieldCounts: map[string]int{},
		RejectionCounts:    map[string]int{},
		SampleRejects:      []RejectedRow{},
		EvaluatedAt:        time.Now().UTC(),
	}
}

const maxSampleRejects = 5

func (t *Stage2Trace) reject(row RejectedRow) {
	t.RejectionCounts[row.Reason]++
	if len(t.SampleRejects) < maxSampleRejects {
		t.SampleRejects = append(t.SampleRejects, row)
	}
}

// finalizeTopRejection fills the single most frequent rejection reason.
// Ties break lexicographically so the trace is deterministic.
func (t *Stage2Trace) finalizeTopRejection() {
	top, count := "", 0
	for reason, n := range t.RejectionCounts {
		if n > count || (n == count && count > 0 && reason < top) {
			top, count = reason, n
		}
	}
	t.TopRejectionReason = top
	t.TopRejectionCount = count
}
