package portfolio

import (
	"fmt"
	"time"
)

// PositionState is the lifecycle state of a tracked position.
type PositionState string

const (
	StateNew      PositionState = "NEW"
	StateOpen     PositionState = "OPEN"
	StateAssigned PositionState = "ASSIGNED"
	StateRolling  PositionState = "ROLLING"
	StateClosing  PositionState = "CLOSING"
	StateClosed   PositionState = "CLOSED"
)

// Action is a proposed operation on a position. HOLD and ALERT never
// change state; the rest do.
type Action string

const (
	ActionOpen   Action = "OPEN"
	ActionAssign Action = "ASSIGN"
	ActionHold   Action = "HOLD"
	ActionRoll   Action = "ROLL"
	ActionClose  Action = "CLOSE"
	ActionAlert  Action = "ALERT"
)

// ChangesState reports whether the action moves the lifecycle.
func (a Action) ChangesState() bool {
	switch a {
	case ActionOpen, ActionAssign, ActionRoll, ActionClose:
		return true
	}
	return false
}

// transitions is the allowed-action table per state, with the resulting
// state for each. CLOSING and ROLLING either return to OPEN or terminate
// at CLOSED; CLOSED is terminal.
var transitions = map[PositionState]map[Action]PositionState{
	StateNew: {
		ActionOpen:   StateOpen,
		ActionAssign: StateAssigned,
	},
	StateOpen: {
		ActionHold:   StateOpen,
		ActionRoll:   StateRolling,
		ActionClose:  StateClosing,
		ActionAssign: StateAssigned,
	},
	StateAssigned: {
		ActionHold:  StateAssigned,
		ActionClose: StateClosing,
	},
	StateRolling: {
		ActionOpen:  StateOpen,
		ActionClose: StateClosed,
		ActionHold:  StateRolling,
	},
	StateClosing: {
		ActionOpen:  StateOpen,
		ActionClose: StateClosed,
		ActionHold:  StateClosing,
	},
	StateClosed: {},
}

// Transition is one entry in a position's append-only history.
type Transition struct {
	From   PositionState `json:"from"`
	To     PositionState `json:"to"`
	Action Action        `json:"action"`
	At     time.Time     `json:"at"`
	Reason string        `json:"reason,omitempty"`
}

// Lifecycle owns a position's current state and its transition log. The
// guard only ever reads Current; writes go through Apply.
type Lifecycle struct {
	Current PositionState `json:"current"`
	Log     []Transition  `json:"log,omitempty"`
}

// NewLifecycle starts a lifecycle at NEW.
func NewLifecycle() Lifecycle {
	return Lifecycle{Current: StateNew}
}

// AllowedActions returns the actions valid from the given state.
func AllowedActions(state PositionState) []Action {
	row, ok := transitions[state]
	if !ok {
		return nil
	}
	out := make([]Action, 0, len(row))
	for a := range row {
		out = append(out, a)
	}
	return out
}

// CanApply reports whether the action is allowed from the current state.
func (l *Lifecycle) CanApply(action Action) bool {
	row, ok := transitions[l.Current]
	if !ok {
		return false
	}
	_, allowed := row[action]
	return allowed
}

// Apply performs the transition, appending to the log. Invalid transitions
// return an error and leave the lifecycle untouched.
func (l *Lifecycle) Apply(action Action, reason string, at time.Time) error {
	row, ok := transitions[l.Current]
	if !ok {
		return fmt.Errorf("unknown state %q", l.Current)
	}
	next, allowed := row[action]
	if !allowed {
		return fmt.Errorf("action %s not allowed from state %s", action, l.Current)
	}

	l.Log = append(l.Log, Transition{
		From:   l.Current,
		To:     next,
		Action: action,
		At:     at,
		Reason: reason,
	})
	l.Current = next
	return nil
}
