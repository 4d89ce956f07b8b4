package domain

import (
	"time"
)

type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Valid reports whether p is one of the known priorities.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Contract is a unit of obligation between a provider agent and its consumers.
type Contract struct {
	ID                 string              `json:"contract_id"`
	Type               string              `json:"contract_type"`
	Name               string              `json:"name"`
	Description        string              `json:"description,omitempty"`
	Tags               []string            `json:"tags,omitempty"`
	State              LifecycleState      `json:"lifecycle_state" enum:"DRAFT,PROPOSED,ACCEPTED,IN_PROGRESS,FULFILLED,VERIFIED,VERIFIED_WITH_WARNINGS,CLOSED,REJECTED,BREACHED"`
	DependsOn          []string            `json:"depends_on,omitempty"`
	ProviderAgent      string              `json:"provider_agent,omitempty"`
	ConsumerAgents     []string            `json:"consumer_agents,omitempty"`
	Priority           Priority            `json:"priority" enum:"low,medium,high,critical"`
	IsBlocking         bool                `json:"is_blocking"`
	VerificationResult *VerificationResult `json:"verification_result,omitempty"`
	Events             []ContractEvent     `json:"events,omitempty"`
	CreatedAt          time.Time           `json:"created_at" format:"date-time"`
	UpdatedAt          time.Time           `json:"updated_at" format:"date-time"`
}

// Clone returns a deep copy so callers never share slices with the registry.
func (c Contract) Clone() Contract {
	out := c
	out.Tags = cloneStrings(c.Tags)
	out.DependsOn = cloneStrings(c.DependsOn)
	out.ConsumerAgents = cloneStrings(c.ConsumerAgents)
	if c.VerificationResult != nil {
		vr := c.VerificationResult.Clone()
		out.VerificationResult = &vr
	}
	if c.Events != nil {
		out.Events = make([]ContractEvent, len(c.Events))
		for i, e := range c.Events {
			out.Events[i] = e.Clone()
		}
	}
	return out
}

// HasTag reports whether tag is present.
func (c Contract) HasTag(tag string) bool {
	for _, t := range c.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// HasConsumer reports whether agentID is one of the consumers.
func (c Contract) HasConsumer(agentID string) bool {
	for _, a := range c.ConsumerAgents {
		if a == agentID {
			return true
		}
	}
	return false
}

// ContractBreach describes how a contract failed its obligations.
type ContractBreach struct {
	Severity       Severity `json:"severity" enum:"low,medium,high,critical"`
	Description    string   `json:"description"`
	FailedCriteria []string `json:"failed_criteria,omitempty"`
}

func (b ContractBreach) Clone() ContractBreach {
	b.FailedCriteria = cloneStrings(b.FailedCriteria)
	return b
}

type CriterionResult struct {
	ID      string `json:"criterion_id"`
	Passed  bool   `json:"passed"`
	Message string `json:"message,omitempty"`
	// Blocking defaults to true when unset.
	Blocking *bool `json:"blocking,omitempty"`
}

// IsBlocking reports whether a failure of this criterion is a hard failure.
func (r CriterionResult) IsBlocking() bool {
	return r.Blocking == nil || *r.Blocking
}

// VerificationResult is produced by an external validator.
type VerificationResult struct {
	Passed   bool              `json:"passed"`
	Criteria []CriterionResult `json:"criteria_results,omitempty"`
}

func (v VerificationResult) Clone() VerificationResult {
	if v.Criteria == nil {
		return v
	}
	crit := make([]CriterionResult, len(v.Criteria))
	for i, c := range v.Criteria {
		if c.Blocking != nil {
			b := *c.Blocking
			c.Blocking = &b
		}
		crit[i] = c
	}
	v.Criteria = crit
	return v
}

// FailedCriteria returns the IDs of every criterion that did not pass.
func (v VerificationResult) FailedCriteria() []string {
	var failed []string
	for _, c := range v.Criteria {
		if !c.Passed {
			failed = append(failed, c.ID)
		}
	}
	return failed
}

// ExecutionPlan is a point-in-time ordering of contracts. It is not kept in
// sync with later registry mutations.
type ExecutionPlan struct {
	Contracts      []Contract          `json:"contracts"`
	ExecutionOrder []string            `json:"execution_order"`
	Dependencies   map[string][]string `json:"dependencies"`
	ParallelGroups [][]string          `json:"parallel_groups"`
	GeneratedAt    time.Time           `json:"generated_at" format:"date-time"`
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

// UniqueStrings drops empty and repeated values, keeping first-seen order.
func UniqueStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
