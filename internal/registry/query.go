package registry

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/cases"

	"contractline/internal/domain"
	"contractline/internal/graph"
)

// Filter narrows List. Zero-valued fields do not filter; set fields are
// combined with AND.
type Filter struct {
	Type          string
	State         domain.LifecycleState
	ProviderAgent string
	ConsumerAgent string
	Priority      domain.Priority
	IsBlocking    *bool
	// Tags must all be present on a contract.
	Tags []string
}

func (f Filter) match(c domain.Contract) bool {
	if f.Type != "" && c.Type != f.Type {
		return false
	}
	if f.State != "" && c.State != f.State {
		return false
	}
	if f.ProviderAgent != "" && c.ProviderAgent != f.ProviderAgent {
		return false
	}
	if f.ConsumerAgent != "" && !c.HasConsumer(f.ConsumerAgent) {
		return false
	}
	if f.Priority != "" && c.Priority != f.Priority {
		return false
	}
	if f.IsBlocking != nil && c.IsBlocking != *f.IsBlocking {
		return false
	}
	for _, tag := range f.Tags {
		if !c.HasTag(tag) {
			return false
		}
	}
	return true
}

// List returns the contracts matching every set field of f, oldest first.
func (r *Registry) List(f Filter) []domain.Contract {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sortedLocked(f.match)
}

type SearchField string

const (
	FieldName        SearchField = "name"
	FieldDescription SearchField = "description"
	FieldTags        SearchField = "tags"
	FieldID          SearchField = "contract_id"
	FieldType        SearchField = "contract_type"
)

var (
	DefaultSearchFields = []SearchField{FieldName, FieldDescription, FieldTags}
	AllSearchFields     = []SearchField{FieldName, FieldDescription, FieldTags, FieldID, FieldType}
)

func ParseSearchField(s string) (SearchField, error) {
	f := SearchField(strings.TrimSpace(s))
	for _, known := range AllSearchFields {
		if f == known {
			return f, nil
		}
	}
	return "", fmt.Errorf("unknown search field %q", s)
}

func (f SearchField) values(c domain.Contract) []string {
	switch f {
	case FieldName:
		return []string{c.Name}
	case FieldDescription:
		return []string{c.Description}
	case FieldTags:
		return c.Tags
	case FieldID:
		return []string{c.ID}
	case FieldType:
		return []string{c.Type}
	}
	return nil
}

// Search returns contracts where query occurs, ignoring case, in at least one
// of fields. Without fields the registry defaults apply.
func (r *Registry) Search(query string, fields ...SearchField) []domain.Contract {
	if len(fields) == 0 {
		fields = r.searchFields
	}
	folder := cases.Fold()
	needle := folder.String(query)

	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sortedLocked(func(c domain.Contract) bool {
		for _, f := range fields {
			for _, v := range f.values(c) {
				if strings.Contains(folder.String(v), needle) {
					return true
				}
			}
		}
		return false
	})
}

// Dependencies returns the registered contracts id depends on.
func (r *Registry) Dependencies(id string) ([]domain.Contract, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.contracts[id]; !ok {
		return nil, &NotFoundError{ID: id}
	}
	return r.resolveLocked(r.index.Dependencies(id)), nil
}

// Dependents returns the registered contracts that depend on id.
func (r *Registry) Dependents(id string) ([]domain.Contract, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.contracts[id]; !ok {
		return nil, &NotFoundError{ID: id}
	}
	return r.resolveLocked(r.index.Dependents(id)), nil
}

func (r *Registry) resolveLocked(ids []string) []domain.Contract {
	out := make([]domain.Contract, 0, len(ids))
	for _, id := range ids {
		if c, ok := r.contracts[id]; ok {
			out = append(out, c.Clone())
		}
	}
	return out
}

// History returns the events of a contract ordered by timestamp.
func (r *Registry) History(id string) ([]domain.ContractEvent, error) {
	c, err := r.Get(id)
	if err != nil {
		return nil, err
	}
	events := c.Events
	if events == nil {
		events = []domain.ContractEvent{}
	}
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp.Before(events[j].Timestamp)
	})
	return events, nil
}

// Summary counts contracts per lifecycle state.
type Summary struct {
	Total   int                           `json:"total"`
	ByState map[domain.LifecycleState]int `json:"by_state"`
}

func (r *Registry) Summary() Summary {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s := Summary{Total: len(r.contracts), ByState: make(map[domain.LifecycleState]int, len(domain.States))}
	for _, st := range domain.States {
		s.ByState[st] = 0
	}
	for _, c := range r.contracts {
		s.ByState[c.State]++
	}
	return s
}

// Plan computes an execution plan over ids, or over every contract when ids
// is empty. Dependencies outside the requested set are ignored. The plan
// reflects the registry at the time of the call only.
func (r *Registry) Plan(ids ...string) (plan domain.ExecutionPlan, err error) {
	defer func() { r.finish("plan", strings.Join(ids, ","), err) }()

	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(ids) == 0 {
		ids = make([]string, 0, len(r.contracts))
		for id := range r.contracts {
			ids = append(ids, id)
		}
		sort.Strings(ids)
	}
	for _, id := range ids {
		if _, ok := r.contracts[id]; !ok {
			return domain.ExecutionPlan{}, &NotFoundError{ID: id}
		}
	}

	leveled, err := graph.Plan(ids, func(id string) []string { return r.contracts[id].DependsOn })
	if err != nil {
		var pce *graph.PlanCycleError
		if errors.As(err, &pce) && len(pce.Unresolved) > 0 {
			first := r.contracts[pce.Unresolved[0]]
			return domain.ExecutionPlan{}, &CycleError{ContractID: first.ID, DependsOn: first.DependsOn, Path: pce.Unresolved}
		}
		return domain.ExecutionPlan{}, err
	}

	plan = domain.ExecutionPlan{
		Contracts:      make([]domain.Contract, 0, len(leveled.Order)),
		ExecutionOrder: leveled.Order,
		Dependencies:   leveled.Edges,
		ParallelGroups: leveled.Levels,
		GeneratedAt:    r.timestamp(),
	}
	for _, id := range leveled.Order {
		plan.Contracts = append(plan.Contracts, r.contracts[id].Clone())
	}
	return plan, nil
}
