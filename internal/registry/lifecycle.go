package registry

import (
	"time"

	"contractline/internal/domain"
)

// transitionFunc moves c to its next state and returns the payload of the one
// event that records the move. c is a private copy: returning an error
// discards it.
type transitionFunc func(c *domain.Contract, now time.Time) (domain.EventPayload, error)

// apply runs fn against a copy of the contract under the write lock and
// commits the new state together with exactly one event.
func (r *Registry) apply(op, id, actorID string, fn transitionFunc) (out domain.Contract, err error) {
	defer func() { r.finish(op, id, err) }()

	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.contracts[id]
	if !ok {
		return domain.Contract{}, &NotFoundError{ID: id}
	}
	now := r.timestamp()
	next := cur.Clone()
	payload, err := fn(&next, now)
	if err != nil {
		return domain.Contract{}, err
	}
	next.UpdatedAt = now
	next.Events = append(next.Events, domain.NewEvent(r.newID(), id, actorID, now, payload))

	r.contracts[id] = &next
	r.metrics.transition(cur.State, next.State)
	return next.Clone(), nil
}

func step(c *domain.Contract, to domain.LifecycleState, now time.Time) error {
	from := c.State
	if !c.TransitionTo(to, now) {
		return &TransitionError{ID: c.ID, From: from, To: to}
	}
	return nil
}

// Propose moves a DRAFT contract to PROPOSED.
func (r *Registry) Propose(id, actorID string) (domain.Contract, error) {
	return r.apply("propose", id, actorID, func(c *domain.Contract, now time.Time) (domain.EventPayload, error) {
		if err := step(c, domain.StateProposed, now); err != nil {
			return nil, err
		}
		return domain.ProposedPayload{}, nil
	})
}

// Accept moves a PROPOSED contract to ACCEPTED and straight on to
// IN_PROGRESS. Only the acceptance is recorded as an event.
func (r *Registry) Accept(id, actorID string) (domain.Contract, error) {
	return r.apply("accept", id, actorID, func(c *domain.Contract, now time.Time) (domain.EventPayload, error) {
		if err := step(c, domain.StateAccepted, now); err != nil {
			return nil, err
		}
		if err := step(c, domain.StateInProgress, now); err != nil {
			return nil, err
		}
		return domain.AcceptedPayload{}, nil
	})
}

// Fulfill records the delivered artifacts of an IN_PROGRESS contract.
func (r *Registry) Fulfill(id, actorID string, deliverables []string) (domain.Contract, error) {
	deliverables = domain.UniqueStrings(deliverables)
	return r.apply("fulfill", id, actorID, func(c *domain.Contract, now time.Time) (domain.EventPayload, error) {
		if len(deliverables) == 0 {
			return nil, invalid("contract %s: at least one deliverable is required", c.ID)
		}
		if err := step(c, domain.StateFulfilled, now); err != nil {
			return nil, err
		}
		return domain.FulfilledPayload{Deliverables: deliverables}, nil
	})
}

// Verify applies an external verification result to a FULFILLED contract.
// A passing result verifies it, with warnings when non-blocking criteria
// failed; a failing result breaches it instead.
func (r *Registry) Verify(id, actorID string, result domain.VerificationResult) (domain.Contract, error) {
	result = result.Clone()
	return r.apply("verify", id, actorID, func(c *domain.Contract, now time.Time) (domain.EventPayload, error) {
		if c.State != domain.StateFulfilled {
			return nil, &TransitionError{ID: c.ID, From: c.State, To: domain.StateVerified}
		}
		switch o := domain.ClassifyVerification(result).(type) {
		case domain.OutcomeVerified:
			if err := step(c, o.State, now); err != nil {
				return nil, err
			}
			vr := result.Clone()
			c.VerificationResult = &vr
			return domain.VerifiedPayload{
				Result:       result,
				WithWarnings: o.State == domain.StateVerifiedWithWarnings,
			}, nil
		case domain.OutcomeBreached:
			c.ForceBreach(now)
			return domain.BreachedPayload{Breach: o.Breach}, nil
		default:
			return nil, invalid("contract %s: unknown verification outcome %T", c.ID, o)
		}
	})
}

// Breach forces the contract into BREACHED from whatever state it is in.
func (r *Registry) Breach(id, actorID string, breach domain.ContractBreach) (domain.Contract, error) {
	breach = breach.Clone()
	if breach.Severity == "" {
		breach.Severity = domain.SeverityMedium
	}
	return r.apply("breach", id, actorID, func(c *domain.Contract, now time.Time) (domain.EventPayload, error) {
		switch breach.Severity {
		case domain.SeverityLow, domain.SeverityMedium, domain.SeverityHigh, domain.SeverityCritical:
		default:
			return nil, invalid("contract %s: unknown breach severity %q", c.ID, breach.Severity)
		}
		c.ForceBreach(now)
		return domain.BreachedPayload{Breach: breach}, nil
	})
}

// Delete soft-deletes a contract by rejecting it. Contracts that others
// still depend on cannot be deleted.
func (r *Registry) Delete(id, actorID, reason string) (domain.Contract, error) {
	return r.apply("delete", id, actorID, func(c *domain.Contract, now time.Time) (domain.EventPayload, error) {
		if deps := r.index.Dependents(c.ID); len(deps) > 0 {
			return nil, &DependentsError{ID: c.ID, Dependents: deps}
		}
		if err := step(c, domain.StateRejected, now); err != nil {
			return nil, err
		}
		return domain.RejectedPayload{Reason: reason}, nil
	})
}

// Close retires a verified contract.
func (r *Registry) Close(id, actorID string) (domain.Contract, error) {
	return r.apply("close", id, actorID, func(c *domain.Contract, now time.Time) (domain.EventPayload, error) {
		if err := step(c, domain.StateClosed, now); err != nil {
			return nil, err
		}
		return domain.ClosedPayload{}, nil
	})
}
