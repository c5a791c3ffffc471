package guard

import (
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/Rajchodisetti/options-engine/internal/config"
	"github.com/Rajchodisetti/options-engine/internal/marketdata"
	"github.com/Rajchodisetti/options-engine/internal/observ"
	"github.com/Rajchodisetti/options-engine/internal/portfolio"
)

// Urgency of a proposed action, set by the upstream rules engine.
type Urgency string

const (
	UrgencyLow    Urgency = "LOW"
	UrgencyMedium Urgency = "MEDIUM"
	UrgencyHigh   Urgency = "HIGH"
)

// Confidence the guard attaches to its verdict.
type Confidence string

const (
	ConfidenceLow    Confidence = "LOW"
	ConfidenceMedium Confidence = "MEDIUM"
	ConfidenceHigh   Confidence = "HIGH"
)

// MarketRegime is the coarse risk classification gating entries and rolls.
type MarketRegime string

const (
	RegimeRiskOn  MarketRegime = "RISK_ON"
	RegimeRiskOff MarketRegime = "RISK_OFF"
	RegimeNeutral MarketRegime = "NEUTRAL"
)

// Risk flags appended while evaluating, in rule order.
const (
	FlagSystemHalted          = "SYSTEM_HALTED"
	FlagSystemDegraded        = "SYSTEM_DEGRADED"
	FlagStateMachineBlocked   = "STATE_MACHINE_BLOCKED"
	FlagStateMachineValidated = "STATE_MACHINE_VALIDATED"
	FlagStateMachineError     = "STATE_MACHINE_ERROR"
	FlagRegimeBlocked         = "REGIME_BLOCKED"
	FlagConfidenceBlocked     = "CONFIDENCE_BLOCKED"
	FlagNoExecutionRequired   = "NO_EXECUTION_REQUIRED"
	FlagInvalidInput          = "INVALID_INPUT"
)

// ActionDecision is a proposed action on one position, produced by the
// external rules collaborator. The guard consumes it, never mutates it.
type ActionDecision struct {
	Symbol      string           `json:"symbol"`
	Action      portfolio.Action `json:"action"`
	Urgency     Urgency          `json:"urgency"`
	ReasonCodes []string         `json:"reason_codes,omitempty"`
}

// ExecutionIntent is the guard's verdict. Approved is true iff
// BlockedReason is empty; ExpiresAt is always ComputedAt plus the
// configured TTL. Callers must act before expiry or recompute.
type ExecutionIntent struct {
	ID            string           `json:"id"`
	Symbol        string           `json:"symbol"`
	Action        portfolio.Action `json:"action"`
	Approved      bool             `json:"approved"`
	BlockedReason string           `json:"blocked_reason,omitempty"`
	RiskFlags     []string         `json:"risk_flags"`
	Confidence    Confidence       `json:"confidence"`
	ComputedAt    time.Time        `json:"computed_at"`
	ExpiresAt     time.Time        `json:"expires_at"`
}

// Expired reports whether the intent may no longer be acted on.
func (i ExecutionIntent) Expired(now time.Time) bool {
	return now.After(i.ExpiresAt)
}

// Guard validates proposed actions against position state, market regime,
// decision confidence and system health. Layered veto: the first
// applicable blocking rule wins, every rule appends its flag.
type Guard struct {
	ttl time.Duration
}

func New(cfg config.Guard) *Guard {
	ttl := time.Duration(cfg.IntentTTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &Guard{ttl: ttl}
}

// Evaluate produces a fresh intent for one decision on one position.
// Never panics and never errors: invalid input yields an unapproved
// intent with the INVALID_INPUT flag.
func (g *Guard) Evaluate(decision *ActionDecision, pos *portfolio.Position, regime MarketRegime, health marketdata.HealthSnapshot) ExecutionIntent {
	now := time.Now().UTC()
	intent := ExecutionIntent{
		ID:         uuid.NewString(),
		RiskFlags:  []string{},
		Confidence: ConfidenceHigh,
		ComputedAt: now,
		ExpiresAt:  now.Add(g.ttl),
	}

	if decision == nil || pos == nil {
		intent.Approved = false
		intent.BlockedReason = FlagInvalidInput
		intent.RiskFlags = append(intent.RiskFlags, FlagInvalidInput)
		intent.Confidence = ConfidenceLow
		observ.IncCounter("guard_blocks_total", map[string]string{"flag": FlagInvalidInput})
		return intent
	}
	intent.Symbol = decision.Symbol
	intent.Action = decision.Action

	// Rule 1: system halt overrides everything.
	if health.Status == marketdata.StatusHalt {
		return g.block(intent, FlagSystemHalted, ConfidenceHigh)
	}

	// Rule 2: degraded flags but does not block on its own.
	if health.Status == marketdata.StatusDegraded {
		intent.RiskFlags = append(intent.RiskFlags, FlagSystemDegraded)
	}

	// Rule 3: state-machine validation for state-changing actions. An
	// internal validation failure degrades to a logged flag, not a block.
	stateValidated := false
	if decision.Action.ChangesState() {
		allowed, err := validateTransition(pos, decision.Action)
		switch {
		case err != nil:
			intent.RiskFlags = append(intent.RiskFlags, FlagStateMachineError)
			log.WithFields(log.Fields{"symbol": decision.Symbol, "action": decision.Action, "state": pos.State()}).
				WithError(err).Warn("state machine validation error")
		case !allowed:
			return g.block(intent, FlagStateMachineBlocked, ConfidenceHigh)
		default:
			stateValidated = true
		}
	}

	// Rule 4: no new exposure in a risk-off regime.
	if regime == RegimeRiskOff && (decision.Action == portfolio.ActionOpen || decision.Action == portfolio.ActionRoll) {
		return g.block(intent, FlagRegimeBlocked, ConfidenceHigh)
	}

	// Rule 5: low-urgency closes wait for conviction.
	if decision.Action == portfolio.ActionClose && decision.Urgency == UrgencyLow {
		return g.block(intent, FlagConfidenceBlocked, ConfidenceMedium)
	}

	// Rule 6: no-ops are always approved.
	if decision.Action == portfolio.ActionHold || decision.Action == portfolio.ActionAlert {
		intent.Approved = true
		intent.RiskFlags = append(intent.RiskFlags, FlagNoExecutionRequired)
		intent.Confidence = ConfidenceHigh
		return intent
	}

	// Rule 7: default approval.
	intent.Approved = true
	intent.Confidence = ConfidenceHigh
	if stateValidated {
		intent.RiskFlags = append(intent.RiskFlags, FlagStateMachineValidated)
	}
	observ.IncCounter("guard_approvals_total", map[string]string{"action": string(decision.Action)})
	return intent
}

func (g *Guard) block(intent ExecutionIntent, flag string, conf Confidence) ExecutionIntent {
	intent.Approved = false
	intent.BlockedReason = flag
	intent.RiskFlags = append(intent.RiskFlags, flag)
	intent.Confidence = conf
	observ.IncCounter("guard_blocks_total", map[string]string{"flag": flag})
	return intent
}

// validateTransition checks the transition table without mutating the
// position. Unknown states surface as errors so the caller can degrade
// gracefully instead of blocking on corrupt data.
func validateTransition(pos *portfolio.Position, action portfolio.Action) (allowed bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			allowed = false
			err = &validationPanic{value: r}
		}
	}()

	state := pos.State()
	if len(portfolio.AllowedActions(state)) == 0 && state != portfolio.StateClosed {
		return false, &unknownStateError{state: state}
	}

	lc := portfolio.Lifecycle{Current: state}
	return lc.CanApply(action), nil
}

type unknownStateError struct{ state portfolio.PositionState }

func (e *unknownStateError) Error() string {
	return "unknown position state " + string(e.state)
}

type validationPanic struct{ value any }

func (e *validationPanic) Error() string { return "state machine validation panic" }
