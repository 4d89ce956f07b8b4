package registry_test

import (
	"fmt"
	"reflect"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"

	"contractline/internal/domain"
	"contractline/internal/graph"
	"contractline/internal/registry"
)

// edit rewires contract From to depend on To.
type edit struct {
	From, To int
}

func genEdits(nodes int) gopter.Gen {
	return gen.SliceOfN(40, gen.Struct(reflect.TypeOf(edit{}), map[string]gopter.Gen{
		"From": gen.IntRange(0, nodes-1),
		"To":   gen.IntRange(0, nodes-1),
	}))
}

func TestDependencyGraphStaysAcyclic(t *testing.T) {
	const nodes = 8
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 200
	properties := gopter.NewProperties(params)

	properties.Property("rejected updates leave the registry unchanged", prop.ForAll(
		func(edits []edit) bool {
			reg := registry.New(registry.WithIDGenerator(func() string { return "evt" }))
			for i := 0; i < nodes; i++ {
				if _, err := reg.Register(domain.Contract{ID: nodeID(i)}); err != nil {
					return false
				}
			}
			for _, e := range edits {
				before := reg.Snapshot()
				c, err := reg.Get(nodeID(e.From))
				if err != nil {
					return false
				}
				c.DependsOn = append(c.DependsOn, nodeID(e.To))
				if _, err := reg.Update(c); err != nil {
					if !assert.ObjectsAreEqual(before, reg.Snapshot()) {
						return false
					}
					continue
				}
				adj := map[string][]string{}
				for _, c := range reg.Snapshot() {
					adj[c.ID] = c.DependsOn
				}
				if graph.FindCycle(adj) != nil {
					return false
				}
			}
			_, err := reg.Plan()
			return err == nil
		},
		genEdits(nodes),
	))

	properties.TestingRun(t)
}

func TestIllegalTransitionsLeaveStateUnchanged(t *testing.T) {
	ops := map[string]func(r *registry.Registry, id string) error{
		"propose": func(r *registry.Registry, id string) error { _, err := r.Propose(id, "x"); return err },
		"accept":  func(r *registry.Registry, id string) error { _, err := r.Accept(id, "x"); return err },
		"fulfill": func(r *registry.Registry, id string) error { _, err := r.Fulfill(id, "x", []string{"d"}); return err },
		"verify": func(r *registry.Registry, id string) error {
			_, err := r.Verify(id, "x", domain.VerificationResult{Passed: true})
			return err
		},
		"close":  func(r *registry.Registry, id string) error { _, err := r.Close(id, "x"); return err },
		"delete": func(r *registry.Registry, id string) error { _, err := r.Delete(id, "x", ""); return err },
	}
	names := []string{"propose", "accept", "fulfill", "verify", "close", "delete"}

	properties := gopter.NewProperties(nil)
	properties.Property("events only grow and failed calls change nothing", prop.ForAll(
		func(seq []int) bool {
			reg := registry.New()
			if _, err := reg.Register(domain.Contract{ID: "A"}); err != nil {
				return false
			}
			prev, _ := reg.Get("A")
			for _, n := range seq {
				err := ops[names[n]](reg, "A")
				cur, _ := reg.Get("A")
				if err != nil {
					if !assert.ObjectsAreEqual(prev, cur) {
						return false
					}
					continue
				}
				if len(cur.Events) != len(prev.Events)+1 {
					return false
				}
				if len(prev.Events) > 0 && !assert.ObjectsAreEqual(prev.Events, cur.Events[:len(prev.Events)]) {
					return false
				}
				if !domain.CanTransition(prev.State, cur.State) && !(names[n] == "accept" && cur.State == domain.StateInProgress) {
					return false
				}
				prev = cur
			}
			return true
		},
		gen.SliceOfN(12, gen.IntRange(0, len(names)-1)),
	))
	properties.TestingRun(t)
}

func nodeID(i int) string { return fmt.Sprintf("n%d", i) }
