package server

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"contractline/internal/domain"
	"contractline/internal/registry"
)

func registerContracts(api huma.API, s *service) {
	huma.Register(api, huma.Operation{
		OperationID:   "register-contract",
		Method:        http.MethodPost,
		Path:          "/contracts",
		Summary:       "Register contract",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		Body ContractRequest `json:"body"`
	}) (*contractOutput, error) {
		c, err := s.reg.Register(contractRequestToDomain(input.Body.ContractID, input.Body))
		return s.committed(ctx, c, err)
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-contracts",
		Method:      http.MethodGet,
		Path:        "/contracts",
		Summary:     "List contracts",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Type          string `query:"contract_type"`
		State         string `query:"state"`
		ProviderAgent string `query:"provider_agent"`
		ConsumerAgent string `query:"consumer_agent"`
		Priority      string `query:"priority"`
		IsBlocking    string `query:"is_blocking"`
		Tags          string `query:"tags" doc:"Comma separated; every tag must match"`
	}) (*struct {
		Body paginatedContracts `json:"body"`
	}, error) {
		f := registry.Filter{
			Type:          input.Type,
			ProviderAgent: input.ProviderAgent,
			ConsumerAgent: input.ConsumerAgent,
			Priority:      domain.Priority(input.Priority),
			Tags:          splitList(input.Tags),
		}
		if input.State != "" {
			st, err := domain.ParseState(input.State)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), map[string]any{"field": "state"})
			}
			f.State = st
		}
		if input.IsBlocking != "" {
			b, err := strconv.ParseBool(input.IsBlocking)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "is_blocking must be true or false", map[string]any{"field": "is_blocking"})
			}
			f.IsBlocking = &b
		}
		return s.contractList(s.reg.List(f))
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-contract",
		Method:      http.MethodGet,
		Path:        "/contracts/{contract_id}",
		Summary:     "Get contract",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *contractPath) (*contractOutput, error) {
		c, err := s.reg.Get(input.ContractID)
		if err != nil {
			return nil, handleError(err)
		}
		res, err := contractResponse(c)
		if err != nil {
			return nil, s.encodeFailed(err)
		}
		return &contractOutput{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-contract",
		Method:      http.MethodPut,
		Path:        "/contracts/{contract_id}",
		Summary:     "Update contract fields",
		Description: "Replaces the descriptive fields and dependencies. Lifecycle state and events are kept.",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		ContractID string          `path:"contract_id"`
		Body       ContractRequest `json:"body"`
	}) (*contractOutput, error) {
		if input.Body.ContractID != "" && input.Body.ContractID != input.ContractID {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "contract_id in body does not match path", map[string]any{"field": "contract_id"})
		}
		c, err := s.reg.Update(contractRequestToDomain(input.ContractID, input.Body))
		return s.committed(ctx, c, err)
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-contract",
		Method:      http.MethodDelete,
		Path:        "/contracts/{contract_id}",
		Summary:     "Soft delete contract",
		Description: "Moves the contract to REJECTED. Fails while other contracts depend on it.",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		ContractID string `path:"contract_id"`
		Reason     string `query:"reason"`
	}) (*contractOutput, error) {
		c, err := s.reg.Delete(input.ContractID, actorFromContext(ctx), input.Reason)
		return s.committed(ctx, c, err)
	})
}

func registerLifecycle(api huma.API, s *service) {
	simple := []struct {
		name    string
		summary string
		fn      func(id, actorID string) (domain.Contract, error)
	}{
		{"propose", "Propose a draft contract", s.reg.Propose},
		{"accept", "Accept a proposed contract and start work", s.reg.Accept},
		{"close", "Close a verified contract", s.reg.Close},
	}
	for _, op := range simple {
		huma.Register(api, huma.Operation{
			OperationID: op.name + "-contract",
			Method:      http.MethodPost,
			Path:        "/contracts/{contract_id}/" + op.name,
			Summary:     op.summary,
			Errors:      mutationErrors,
		}, func(ctx context.Context, input *contractPath) (*contractOutput, error) {
			c, err := op.fn(input.ContractID, actorFromContext(ctx))
			return s.committed(ctx, c, err)
		})
	}

	huma.Register(api, huma.Operation{
		OperationID: "fulfill-contract",
		Method:      http.MethodPost,
		Path:        "/contracts/{contract_id}/fulfill",
		Summary:     "Record deliverables of an in-progress contract",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		ContractID string         `path:"contract_id"`
		Body       FulfillRequest `json:"body"`
	}) (*contractOutput, error) {
		c, err := s.reg.Fulfill(input.ContractID, actorFromContext(ctx), input.Body.Deliverables)
		return s.committed(ctx, c, err)
	})

	huma.Register(api, huma.Operation{
		OperationID: "verify-contract",
		Method:      http.MethodPost,
		Path:        "/contracts/{contract_id}/verify",
		Summary:     "Apply a verification result",
		Description: "A passing result verifies the contract; a failing one breaches it.",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		ContractID string        `path:"contract_id"`
		Body       VerifyRequest `json:"body"`
	}) (*contractOutput, error) {
		c, err := s.reg.Verify(input.ContractID, actorFromContext(ctx), verifyRequestToDomain(input.Body))
		return s.committed(ctx, c, err)
	})

	huma.Register(api, huma.Operation{
		OperationID: "breach-contract",
		Method:      http.MethodPost,
		Path:        "/contracts/{contract_id}/breach",
		Summary:     "Report a breach",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		ContractID string        `path:"contract_id"`
		Body       BreachRequest `json:"body"`
	}) (*contractOutput, error) {
		c, err := s.reg.Breach(input.ContractID, actorFromContext(ctx), domain.ContractBreach{
			Severity:       domain.Severity(input.Body.Severity),
			Description:    input.Body.Description,
			FailedCriteria: input.Body.FailedCriteria,
		})
		return s.committed(ctx, c, err)
	})
}

func registerGraph(api huma.API, s *service) {
	for _, q := range []struct {
		name string
		fn   func(id string) ([]domain.Contract, error)
	}{
		{"dependencies", s.reg.Dependencies},
		{"dependents", s.reg.Dependents},
	} {
		huma.Register(api, huma.Operation{
			OperationID: "contract-" + q.name,
			Method:      http.MethodGet,
			Path:        "/contracts/{contract_id}/" + q.name,
			Summary:     "List " + q.name,
			Errors:      []int{http.StatusNotFound},
		}, func(ctx context.Context, input *contractPath) (*struct {
			Body paginatedContracts `json:"body"`
		}, error) {
			cs, err := q.fn(input.ContractID)
			if err != nil {
				return nil, handleError(err)
			}
			return s.contractList(cs)
		})
	}

	huma.Register(api, huma.Operation{
		OperationID: "contract-history",
		Method:      http.MethodGet,
		Path:        "/contracts/{contract_id}/history",
		Summary:     "Contract events in time order",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *contractPath) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		events, err := s.reg.History(input.ContractID)
		if err != nil {
			return nil, handleError(err)
		}
		items := make([]EventResponse, 0, len(events))
		for _, e := range events {
			ev, err := eventResponse(e)
			if err != nil {
				return nil, s.encodeFailed(err)
			}
			items = append(items, ev)
		}
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: paginatedEvents{Items: items}}, nil
	})
}

func registerSearch(api huma.API, s *service) {
	huma.Register(api, huma.Operation{
		OperationID: "search-contracts",
		Method:      http.MethodGet,
		Path:        "/search",
		Summary:     "Case-insensitive substring search",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Query  string `query:"q"`
		Fields string `query:"fields" doc:"Comma separated: name, description, tags, contract_id, contract_type"`
	}) (*struct {
		Body paginatedContracts `json:"body"`
	}, error) {
		var fields []registry.SearchField
		for _, raw := range splitList(input.Fields) {
			f, err := registry.ParseSearchField(raw)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), map[string]any{"field": "fields"})
			}
			fields = append(fields, f)
		}
		return s.contractList(s.reg.Search(input.Query, fields...))
	})
}

func registerPlans(api huma.API, s *service) {
	huma.Register(api, huma.Operation{
		OperationID: "create-plan",
		Method:      http.MethodPost,
		Path:        "/plans",
		Summary:     "Compute an execution plan",
		Description: "The plan is a snapshot; later registry changes do not update it.",
		Errors:      []int{http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		Body PlanRequest `json:"body"`
	}) (*struct {
		Body PlanResponse `json:"body"`
	}, error) {
		plan, err := s.reg.Plan(input.Body.ContractIDs...)
		if err != nil {
			return nil, handleError(err)
		}
		res, err := planResponse(plan)
		if err != nil {
			return nil, s.encodeFailed(err)
		}
		return &struct {
			Body PlanResponse `json:"body"`
		}{Body: res}, nil
	})
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
