// Package registry is the authoritative in-memory store of contracts. It owns
// every contract and its event list, keeps the dependency index in step with
// them and enforces the lifecycle state machine.
//
// A Registry is safe for concurrent use. Mutations take an exclusive lock
// over the contracts and both adjacency maps; queries take a shared lock and
// return deep copies.
package registry

import (
	"log/slog"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"contractline/internal/domain"
	"contractline/internal/graph"
)

type Registry struct {
	mu        sync.RWMutex
	contracts map[string]*domain.Contract
	index     *graph.Index

	now          func() time.Time
	newID        func() string
	logger       *slog.Logger
	metrics      metrics
	searchFields []SearchField
	priority     domain.Priority
}

type Option func(*Registry)

// WithClock overrides time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithIDGenerator overrides the generator used for event IDs and for
// contracts registered without an ID.
func WithIDGenerator(fn func() string) Option {
	return func(r *Registry) { r.newID = fn }
}

func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(r *Registry) { r.metrics = newMetrics(mp) }
}

// WithDefaultPriority sets the priority given to contracts registered
// without one.
func WithDefaultPriority(p domain.Priority) Option {
	return func(r *Registry) {
		if p != "" {
			r.priority = p
		}
	}
}

// WithDefaultSearchFields sets the fields Search uses when none are given.
func WithDefaultSearchFields(fields ...SearchField) Option {
	return func(r *Registry) {
		if len(fields) > 0 {
			r.searchFields = slices.Clone(fields)
		}
	}
}

func New(opts ...Option) *Registry {
	r := &Registry{
		contracts:    make(map[string]*domain.Contract),
		index:        graph.NewIndex(),
		now:          time.Now,
		newID:        func() string { return uuid.NewString() },
		searchFields: slices.Clone(DefaultSearchFields),
		priority:     domain.PriorityMedium,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.Default().With("component", "registry")
	}
	if r.metrics.operations == nil {
		r.metrics = newMetrics(otel.GetMeterProvider())
	}
	return r
}

func (r *Registry) timestamp() time.Time {
	return r.now().UTC()
}

// Register adds a new contract as a DRAFT with no history. It fails when the
// ID is padded with whitespace or already taken, or when the declared
// dependencies would close a cycle; nothing is stored in that case.
func (r *Registry) Register(c domain.Contract) (out domain.Contract, err error) {
	defer func() { r.finish("register", c.ID, err) }()

	c = c.Clone()
	if strings.TrimSpace(c.ID) != c.ID {
		return domain.Contract{}, invalid("contract id %q has surrounding whitespace", c.ID)
	}
	if c.ID == "" {
		c.ID = r.newID()
	}
	// New contracts always start as fresh drafts.
	c.State = domain.StateDraft
	c.Events = nil
	c.VerificationResult = nil
	if err := r.normalize(&c); err != nil {
		return domain.Contract{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.contracts[c.ID]; ok {
		return domain.Contract{}, &AlreadyExistsError{ID: c.ID}
	}
	if cycle := r.index.WouldCycle(c.ID, c.DependsOn); cycle != nil {
		return domain.Contract{}, &CycleError{ContractID: c.ID, DependsOn: c.DependsOn, Path: cycle}
	}
	now := r.timestamp()
	c.CreatedAt = now
	c.UpdatedAt = now

	r.contracts[c.ID] = &c
	r.index.Set(c.ID, c.DependsOn)
	return c.Clone(), nil
}

// Update replaces the mutable fields of an existing contract. Lifecycle
// state, events, verification result and creation time are kept. The cycle
// check only runs when the dependency list changes.
func (r *Registry) Update(c domain.Contract) (out domain.Contract, err error) {
	defer func() { r.finish("update", c.ID, err) }()

	c = c.Clone()
	if err := r.normalize(&c); err != nil {
		return domain.Contract{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.contracts[c.ID]
	if !ok {
		return domain.Contract{}, &NotFoundError{ID: c.ID}
	}
	depsChanged := !slices.Equal(cur.DependsOn, c.DependsOn)
	if depsChanged {
		if cycle := r.index.WouldCycle(c.ID, c.DependsOn); cycle != nil {
			return domain.Contract{}, &CycleError{ContractID: c.ID, DependsOn: c.DependsOn, Path: cycle}
		}
	}

	next := cur.Clone()
	next.Type = c.Type
	next.Name = c.Name
	next.Description = c.Description
	next.Tags = c.Tags
	next.DependsOn = c.DependsOn
	next.ProviderAgent = c.ProviderAgent
	next.ConsumerAgents = c.ConsumerAgents
	next.Priority = c.Priority
	next.IsBlocking = c.IsBlocking
	next.UpdatedAt = r.timestamp()

	r.contracts[c.ID] = &next
	if depsChanged {
		r.index.Set(c.ID, next.DependsOn)
	}
	return next.Clone(), nil
}

// Get returns a copy of the contract with the given ID.
func (r *Registry) Get(id string) (domain.Contract, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.contracts[id]
	if !ok {
		return domain.Contract{}, &NotFoundError{ID: id}
	}
	return c.Clone(), nil
}

// Len returns the number of registered contracts.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.contracts)
}

// Snapshot returns copies of every contract ordered by creation time.
func (r *Registry) Snapshot() []domain.Contract {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sortedLocked(func(domain.Contract) bool { return true })
}

// Restore replaces the registry content with contracts, typically loaded from
// a snapshot. Contracts are taken as-is, including state and events. The
// registry is left unchanged when IDs repeat or the graph has a cycle.
func (r *Registry) Restore(contracts []domain.Contract) (err error) {
	defer func() { r.finish("restore", "", err) }()

	store := make(map[string]*domain.Contract, len(contracts))
	index := graph.NewIndex()
	for _, in := range contracts {
		c := in.Clone()
		if c.ID == "" {
			return invalid("contract without id")
		}
		if _, dup := store[c.ID]; dup {
			return &AlreadyExistsError{ID: c.ID}
		}
		if err := r.normalize(&c); err != nil {
			return err
		}
		store[c.ID] = &c
		index.Set(c.ID, c.DependsOn)
	}
	if cycle := graph.FindCycle(index.Adjacency()); cycle != nil {
		c := store[cycle[0]]
		return &CycleError{ContractID: c.ID, DependsOn: c.DependsOn, Path: cycle}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.contracts = store
	r.index = index
	return nil
}

func (r *Registry) sortedLocked(keep func(domain.Contract) bool) []domain.Contract {
	out := make([]domain.Contract, 0, len(r.contracts))
	for _, c := range r.contracts {
		if keep(*c) {
			out = append(out, c.Clone())
		}
	}
	sortContracts(out)
	return out
}

func sortContracts(cs []domain.Contract) {
	sort.Slice(cs, func(i, j int) bool {
		if !cs[i].CreatedAt.Equal(cs[j].CreatedAt) {
			return cs[i].CreatedAt.Before(cs[j].CreatedAt)
		}
		return cs[i].ID < cs[j].ID
	})
}

// normalize applies defaults and rejects values outside the enumerations.
func (r *Registry) normalize(c *domain.Contract) error {
	if c.State == "" {
		c.State = domain.StateDraft
	}
	if !c.State.Valid() {
		return invalid("contract %s: unknown lifecycle state %q", c.ID, c.State)
	}
	if c.Priority == "" {
		c.Priority = r.priority
	}
	if !c.Priority.Valid() {
		return invalid("contract %s: unknown priority %q", c.ID, c.Priority)
	}
	c.DependsOn = domain.UniqueStrings(c.DependsOn)
	c.ConsumerAgents = domain.UniqueStrings(c.ConsumerAgents)
	c.Tags = domain.UniqueStrings(c.Tags)
	return nil
}

func (r *Registry) finish(op, id string, err error) {
	r.metrics.operation(op, err)
	if err != nil {
		r.logger.Info("registry operation rejected", "operation", op, "contract_id", id, "error", err)
		return
	}
	r.logger.Debug("registry operation", "operation", op, "contract_id", id)
}
