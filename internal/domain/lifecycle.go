package domain

import (
	"fmt"
	"time"
)

type LifecycleState string

const (
	StateDraft                LifecycleState = "DRAFT"
	StateProposed             LifecycleState = "PROPOSED"
	StateAccepted             LifecycleState = "ACCEPTED"
	StateInProgress           LifecycleState = "IN_PROGRESS"
	StateFulfilled            LifecycleState = "FULFILLED"
	StateVerified             LifecycleState = "VERIFIED"
	StateVerifiedWithWarnings LifecycleState = "VERIFIED_WITH_WARNINGS"
	StateClosed               LifecycleState = "CLOSED"
	StateRejected             LifecycleState = "REJECTED"
	StateBreached             LifecycleState = "BREACHED"
)

// States lists every lifecycle state in happy-path order.
var States = []LifecycleState{
	StateDraft,
	StateProposed,
	StateAccepted,
	StateInProgress,
	StateFulfilled,
	StateVerified,
	StateVerifiedWithWarnings,
	StateClosed,
	StateRejected,
	StateBreached,
}

func (s LifecycleState) Valid() bool {
	for _, known := range States {
		if s == known {
			return true
		}
	}
	return false
}

// ParseState accepts the wire value of a state.
func ParseState(s string) (LifecycleState, error) {
	st := LifecycleState(s)
	if !st.Valid() {
		return "", fmt.Errorf("invalid lifecycle state %q", s)
	}
	return st, nil
}

// BREACHED is absent on purpose: it is only reachable through ForceBreach.
var transitions = map[LifecycleState][]LifecycleState{
	StateDraft:                {StateProposed, StateRejected},
	StateProposed:             {StateAccepted, StateRejected},
	StateAccepted:             {StateInProgress, StateRejected},
	StateInProgress:           {StateFulfilled, StateRejected},
	StateFulfilled:            {StateVerified, StateVerifiedWithWarnings},
	StateVerified:             {StateClosed},
	StateVerifiedWithWarnings: {StateClosed},
}

// CanTransition reports whether from -> to is in the legal transition table.
func CanTransition(from, to LifecycleState) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// TransitionTo moves the contract to target when the move is legal. It
// returns false and leaves the contract untouched otherwise.
func (c *Contract) TransitionTo(target LifecycleState, now time.Time) bool {
	if !CanTransition(c.State, target) {
		return false
	}
	c.State = target
	c.UpdatedAt = now
	return true
}

// ForceBreach moves the contract to BREACHED from any state.
func (c *Contract) ForceBreach(now time.Time) {
	c.State = StateBreached
	c.UpdatedAt = now
}

// VerificationOutcome is either OutcomeVerified or OutcomeBreached.
type VerificationOutcome interface {
	isVerificationOutcome()
}

type OutcomeVerified struct {
	State LifecycleState
}

type OutcomeBreached struct {
	Breach ContractBreach
}

func (OutcomeVerified) isVerificationOutcome() {}
func (OutcomeBreached) isVerificationOutcome() {}

// ClassifyVerification decides where a verification result leads. A passing
// result with any failed non-blocking criterion yields warnings; a failing
// result becomes a breach listing every failed criterion.
func ClassifyVerification(result VerificationResult) VerificationOutcome {
	if result.Passed {
		for _, c := range result.Criteria {
			if !c.Passed && !c.IsBlocking() {
				return OutcomeVerified{State: StateVerifiedWithWarnings}
			}
		}
		return OutcomeVerified{State: StateVerified}
	}
	severity := SeverityMedium
	for _, c := range result.Criteria {
		if !c.Passed && c.IsBlocking() {
			severity = SeverityHigh
			break
		}
	}
	failed := result.FailedCriteria()
	desc := "verification failed"
	if len(failed) > 0 {
		desc = fmt.Sprintf("verification failed: %d criteria not met", len(failed))
	}
	return OutcomeBreached{Breach: ContractBreach{
		Severity:       severity,
		Description:    desc,
		FailedCriteria: failed,
	}}
}
