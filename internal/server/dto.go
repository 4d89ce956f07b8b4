package server

import (
	"encoding/json"
	"fmt"
	"time"

	"contractline/internal/domain"
	"contractline/internal/registry"
)

// Request payloads

type ContractRequest struct {
	ContractID     string   `json:"contract_id,omitempty" doc:"Generated when empty"`
	ContractType   string   `json:"contract_type,omitempty"`
	Name           string   `json:"name" minLength:"1"`
	Description    string   `json:"description,omitempty"`
	Tags           []string `json:"tags,omitempty"`
	DependsOn      []string `json:"depends_on,omitempty"`
	ProviderAgent  string   `json:"provider_agent,omitempty"`
	ConsumerAgents []string `json:"consumer_agents,omitempty"`
	Priority       string   `json:"priority,omitempty" enum:"low,medium,high,critical"`
	IsBlocking     bool     `json:"is_blocking,omitempty"`
}

type FulfillRequest struct {
	Deliverables []string `json:"deliverables" minItems:"1"`
}

type CriterionRequest struct {
	CriterionID string `json:"criterion_id"`
	Passed      bool   `json:"passed"`
	Message     string `json:"message,omitempty"`
	Blocking    *bool  `json:"blocking,omitempty" doc:"Defaults to true"`
}

type VerifyRequest struct {
	Passed          bool               `json:"passed"`
	CriteriaResults []CriterionRequest `json:"criteria_results,omitempty"`
}

type BreachRequest struct {
	Severity       string   `json:"severity,omitempty" enum:"low,medium,high,critical"`
	Description    string   `json:"description,omitempty"`
	FailedCriteria []string `json:"failed_criteria,omitempty"`
}

type PlanRequest struct {
	ContractIDs []string `json:"contract_ids,omitempty" doc:"Plan every contract when empty"`
}

// Responses

type EventResponse struct {
	EventID    string         `json:"event_id"`
	EventType  string         `json:"event_type" enum:"proposed,accepted,fulfilled,verified,breached,rejected,closed"`
	ContractID string         `json:"contract_id"`
	ActorID    string         `json:"actor_id"`
	Timestamp  time.Time      `json:"timestamp" format:"date-time"`
	Payload    map[string]any `json:"payload"`
}

type CriterionResponse struct {
	CriterionID string `json:"criterion_id"`
	Passed      bool   `json:"passed"`
	Message     string `json:"message,omitempty"`
	Blocking    bool   `json:"blocking"`
}

type VerificationResponse struct {
	Passed          bool                `json:"passed"`
	CriteriaResults []CriterionResponse `json:"criteria_results"`
}

type ContractResponse struct {
	ContractID         string                `json:"contract_id"`
	ContractType       string                `json:"contract_type"`
	Name               string                `json:"name"`
	Description        string                `json:"description"`
	Tags               []string              `json:"tags"`
	LifecycleState     string                `json:"lifecycle_state" enum:"DRAFT,PROPOSED,ACCEPTED,IN_PROGRESS,FULFILLED,VERIFIED,VERIFIED_WITH_WARNINGS,CLOSED,REJECTED,BREACHED"`
	DependsOn          []string              `json:"depends_on"`
	ProviderAgent      string                `json:"provider_agent"`
	ConsumerAgents     []string              `json:"consumer_agents"`
	Priority           string                `json:"priority" enum:"low,medium,high,critical"`
	IsBlocking         bool                  `json:"is_blocking"`
	VerificationResult *VerificationResponse `json:"verification_result,omitempty"`
	Events             []EventResponse       `json:"events"`
	CreatedAt          time.Time             `json:"created_at" format:"date-time"`
	UpdatedAt          time.Time             `json:"updated_at" format:"date-time"`
}

type paginatedContracts struct {
	Items []ContractResponse `json:"items"`
}

type paginatedEvents struct {
	Items []EventResponse `json:"items"`
}

type PlanResponse struct {
	Contracts      []ContractResponse  `json:"contracts"`
	ExecutionOrder []string            `json:"execution_order"`
	Dependencies   map[string][]string `json:"dependencies"`
	ParallelGroups [][]string          `json:"parallel_groups"`
	GeneratedAt    time.Time           `json:"generated_at" format:"date-time"`
}

type StatusResponse struct {
	Total   int            `json:"total"`
	ByState map[string]int `json:"by_state"`
}

func contractRequestToDomain(id string, in ContractRequest) domain.Contract {
	return domain.Contract{
		ID:             id,
		Type:           in.ContractType,
		Name:           in.Name,
		Description:    in.Description,
		Tags:           in.Tags,
		DependsOn:      in.DependsOn,
		ProviderAgent:  in.ProviderAgent,
		ConsumerAgents: in.ConsumerAgents,
		Priority:       domain.Priority(in.Priority),
		IsBlocking:     in.IsBlocking,
	}
}

func verifyRequestToDomain(in VerifyRequest) domain.VerificationResult {
	out := domain.VerificationResult{Passed: in.Passed}
	for _, c := range in.CriteriaResults {
		out.Criteria = append(out.Criteria, domain.CriterionResult{
			ID:       c.CriterionID,
			Passed:   c.Passed,
			Message:  c.Message,
			Blocking: c.Blocking,
		})
	}
	return out
}

func contractResponse(c domain.Contract) (ContractResponse, error) {
	res := ContractResponse{
		ContractID:     c.ID,
		ContractType:   c.Type,
		Name:           c.Name,
		Description:    c.Description,
		Tags:           nonNilSlice(c.Tags),
		LifecycleState: string(c.State),
		DependsOn:      nonNilSlice(c.DependsOn),
		ProviderAgent:  c.ProviderAgent,
		ConsumerAgents: nonNilSlice(c.ConsumerAgents),
		Priority:       string(c.Priority),
		IsBlocking:     c.IsBlocking,
		Events:         make([]EventResponse, 0, len(c.Events)),
		CreatedAt:      c.CreatedAt,
		UpdatedAt:      c.UpdatedAt,
	}
	if vr := c.VerificationResult; vr != nil {
		res.VerificationResult = &VerificationResponse{Passed: vr.Passed, CriteriaResults: []CriterionResponse{}}
		for _, cr := range vr.Criteria {
			res.VerificationResult.CriteriaResults = append(res.VerificationResult.CriteriaResults, CriterionResponse{
				CriterionID: cr.ID,
				Passed:      cr.Passed,
				Message:     cr.Message,
				Blocking:    cr.IsBlocking(),
			})
		}
	}
	for _, e := range c.Events {
		ev, err := eventResponse(e)
		if err != nil {
			return ContractResponse{}, fmt.Errorf("contract %s: %w", c.ID, err)
		}
		res.Events = append(res.Events, ev)
	}
	return res, nil
}

func contractResponses(cs []domain.Contract) ([]ContractResponse, error) {
	out := make([]ContractResponse, 0, len(cs))
	for _, c := range cs {
		res, err := contractResponse(c)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, nil
}

func eventResponse(e domain.ContractEvent) (EventResponse, error) {
	payload, err := payloadMap(e.Payload)
	if err != nil {
		return EventResponse{}, fmt.Errorf("event %s: %w", e.ID, err)
	}
	return EventResponse{
		EventID:    e.ID,
		EventType:  string(e.Type),
		ContractID: e.ContractID,
		ActorID:    e.ActorID,
		Timestamp:  e.Timestamp,
		Payload:    payload,
	}, nil
}

func planResponse(p domain.ExecutionPlan) (PlanResponse, error) {
	contracts, err := contractResponses(p.Contracts)
	if err != nil {
		return PlanResponse{}, err
	}
	deps := p.Dependencies
	if deps == nil {
		deps = map[string][]string{}
	}
	return PlanResponse{
		Contracts:      contracts,
		ExecutionOrder: nonNilSlice(p.ExecutionOrder),
		Dependencies:   deps,
		ParallelGroups: nonNilSlice(p.ParallelGroups),
		GeneratedAt:    p.GeneratedAt,
	}, nil
}

func statusResponse(s registry.Summary) StatusResponse {
	res := StatusResponse{Total: s.Total, ByState: make(map[string]int, len(s.ByState))}
	for st, n := range s.ByState {
		res.ByState[string(st)] = n
	}
	return res
}

var marshalPayload = json.Marshal

func payloadMap(p domain.EventPayload) (map[string]any, error) {
	out := map[string]any{}
	if p == nil {
		return out, nil
	}
	data, err := marshalPayload(p)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", p.EventType(), err)
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", p.EventType(), err)
	}
	return out, nil
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
