package graph

import (
	"errors"
	"fmt"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIndexSetAndRemove(t *testing.T) {
	x := NewIndex()
	x.Set("b", []string{"a"})
	x.Set("c", []string{"a"})
	x.Set("d", []string{"b", "c"})

	assert.Equal(t, []string{"b", "c"}, x.Dependents("a"))
	assert.Equal(t, []string{"b", "c"}, x.Dependencies("d"))
	assert.Equal(t, 2, x.DependentCount("a"))

	t.Run("replacing edges rewrites both maps", func(t *testing.T) {
		x.Set("d", []string{"c"})
		assert.Equal(t, []string{"c"}, x.Dependencies("d"))
		assert.Empty(t, x.Dependents("b"))
		assert.Equal(t, []string{"d"}, x.Dependents("c"))
	})

	t.Run("remove keeps incoming edges", func(t *testing.T) {
		x.Remove("c")
		assert.Empty(t, x.Dependencies("c"))
		assert.Equal(t, []string{"d"}, x.Dependents("c"))
		assert.Equal(t, []string{"b"}, x.Dependents("a"))
	})
}

func TestFindCycle(t *testing.T) {
	t.Run("empty graph", func(t *testing.T) {
		assert.Nil(t, FindCycle(nil))
	})
	t.Run("diamond is acyclic", func(t *testing.T) {
		adj := map[string][]string{"b": {"a"}, "c": {"a"}, "d": {"b", "c"}}
		assert.Nil(t, FindCycle(adj))
	})
	t.Run("self loop", func(t *testing.T) {
		assert.Equal(t, []string{"a", "a"}, FindCycle(map[string][]string{"a": {"a"}}))
	})
	t.Run("two node cycle", func(t *testing.T) {
		path := FindCycle(map[string][]string{"a": {"b"}, "b": {"a"}})
		assert.Equal(t, []string{"a", "b", "a"}, path)
	})
	t.Run("cycle behind acyclic prefix", func(t *testing.T) {
		adj := map[string][]string{"a": {"b"}, "b": {"c"}, "c": {"d"}, "d": {"b"}}
		assert.Equal(t, []string{"b", "c", "d", "b"}, FindCycle(adj))
	})
	t.Run("deep chain does not recurse", func(t *testing.T) {
		adj := make(map[string][]string)
		for i := 1; i < 100000; i++ {
			adj[fmt.Sprintf("n%d", i)] = []string{fmt.Sprintf("n%d", i-1)}
		}
		assert.Nil(t, FindCycle(adj))
	})
}

func TestWouldCycleDoesNotMutate(t *testing.T) {
	x := NewIndex()
	x.Set("a", nil)
	x.Set("b", []string{"a"})

	cycle := x.WouldCycle("a", []string{"b"})
	require.NotNil(t, cycle)
	assert.Empty(t, x.Dependencies("a"))
	assert.Equal(t, []string{"b"}, x.Dependents("a"))
	assert.Nil(t, x.WouldCycle("a", []string{"z"}))
}

func TestPlanDiamond(t *testing.T) {
	adj := map[string][]string{"a": nil, "b": {"a"}, "c": {"a"}, "d": {"b", "c"}}
	got, err := Plan([]string{"d", "c", "b", "a"}, func(id string) []string { return adj[id] })
	require.NoError(t, err)

	want := Leveled{
		Order:  []string{"a", "b", "c", "d"},
		Levels: [][]string{{"a"}, {"b", "c"}, {"d"}},
		Edges:  map[string][]string{"a": {}, "b": {"a"}, "c": {"a"}, "d": {"b", "c"}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("plan mismatch (-want +got):\n%s", diff)
	}
}

func TestPlanSubsetIgnoresOutsideEdges(t *testing.T) {
	adj := map[string][]string{"b": {"a"}, "c": {"b", "external"}}
	got, err := Plan([]string{"b", "c", "c"}, func(id string) []string { return adj[id] })
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, got.Order)
	assert.Equal(t, [][]string{{"b"}, {"c"}}, got.Levels)
	assert.Equal(t, []string{"b"}, got.Edges["c"])
}

func TestPlanEmpty(t *testing.T) {
	got, err := Plan(nil, func(string) []string { return nil })
	require.NoError(t, err)
	assert.Empty(t, got.Order)
	assert.Empty(t, got.Levels)
}

func TestPlanDetectsCycle(t *testing.T) {
	adj := map[string][]string{"a": {"c"}, "b": {"a"}, "c": {"b"}, "d": nil}
	_, err := Plan([]string{"a", "b", "c", "d"}, func(id string) []string { return adj[id] })
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCycle))
	var pce *PlanCycleError
	require.True(t, errors.As(err, &pce))
	assert.Equal(t, []string{"a", "b", "c"}, pce.Unresolved)
}

// randomDAG builds n nodes where each node may only depend on nodes created
// before it, then hands them out under shuffled names.
func randomDAG(n int, seed int64) (map[string][]string, []string) {
	rng := rand.New(rand.NewSource(seed))
	names := make([]string, n)
	for i := range names {
		names[i] = fmt.Sprintf("c%03d", i)
	}
	rng.Shuffle(len(names), func(i, j int) { names[i], names[j] = names[j], names[i] })
	adj := make(map[string][]string, n)
	for i := 0; i < n; i++ {
		var deps []string
		for j := 0; j < i; j++ {
			if rng.Intn(4) == 0 {
				deps = append(deps, names[j])
			}
		}
		adj[names[i]] = deps
	}
	return adj, names
}

func TestPlanProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("dependencies precede dependents in execution order", prop.ForAll(
		func(n int, seed int64) bool {
			adj, names := randomDAG(n, seed)
			plan, err := Plan(names, func(id string) []string { return adj[id] })
			if err != nil || len(plan.Order) != n {
				return false
			}
			pos := make(map[string]int, n)
			for i, id := range plan.Order {
				pos[id] = i
			}
			for id, deps := range adj {
				for _, d := range deps {
					if pos[d] >= pos[id] {
						return false
					}
				}
			}
			return true
		},
		gen.IntRange(0, 40),
		gen.Int64(),
	))

	properties.Property("every dependency sits in a strictly lower level", prop.ForAll(
		func(n int, seed int64) bool {
			adj, names := randomDAG(n, seed)
			plan, err := Plan(names, func(id string) []string { return adj[id] })
			if err != nil {
				return false
			}
			level := make(map[string]int, n)
			for k, group := range plan.Levels {
				for _, id := range group {
					level[id] = k
				}
			}
			for id, deps := range adj {
				if level[id] == 0 && len(deps) > 0 {
					return false
				}
				for _, d := range deps {
					if level[d] >= level[id] {
						return false
					}
				}
			}
			return true
		},
		gen.IntRange(0, 40),
		gen.Int64(),
	))

	properties.Property("random DAGs have no cycle", prop.ForAll(
		func(n int, seed int64) bool {
			adj, _ := randomDAG(n, seed)
			return FindCycle(adj) == nil
		},
		gen.IntRange(0, 40),
		gen.Int64(),
	))

	properties.TestingRun(t)
}
