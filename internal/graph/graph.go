// Package graph keeps the contract dependency index and the algorithms that
// run over it: cycle detection and leveled topological planning.
//
// Nothing in this package locks. The registry serialises access.
package graph

import (
	"sort"
)

type set map[string]struct{}

// Index holds forward (id -> dependencies) and reverse (dependency -> ids)
// adjacency. Both maps are always updated together.
type Index struct {
	deps       map[string]set
	dependents map[string]set
}

func NewIndex() *Index {
	return &Index{
		deps:       make(map[string]set),
		dependents: make(map[string]set),
	}
}

// Set replaces the dependency list of id, rewriting both maps.
func (x *Index) Set(id string, deps []string) {
	x.Remove(id)
	fwd := make(set, len(deps))
	for _, d := range deps {
		fwd[d] = struct{}{}
		rev, ok := x.dependents[d]
		if !ok {
			rev = make(set)
			x.dependents[d] = rev
		}
		rev[id] = struct{}{}
	}
	x.deps[id] = fwd
}

// Remove drops the outgoing edges of id. Edges pointing at id are kept so
// dependents stay visible.
func (x *Index) Remove(id string) {
	for d := range x.deps[id] {
		if rev, ok := x.dependents[d]; ok {
			delete(rev, id)
			if len(rev) == 0 {
				delete(x.dependents, d)
			}
		}
	}
	delete(x.deps, id)
}

// Dependencies returns the sorted IDs id depends on.
func (x *Index) Dependencies(id string) []string {
	return sortedKeys(x.deps[id])
}

// Dependents returns the sorted IDs depending on id.
func (x *Index) Dependents(id string) []string {
	return sortedKeys(x.dependents[id])
}

func (x *Index) DependentCount(id string) int {
	return len(x.dependents[id])
}

// Adjacency returns a copy of the forward map with sorted edge lists.
func (x *Index) Adjacency() map[string][]string {
	adj := make(map[string][]string, len(x.deps))
	for id, deps := range x.deps {
		adj[id] = sortedKeys(deps)
	}
	return adj
}

// WouldCycle reports the cycle that replacing id's dependencies with deps
// would introduce, or nil. The index is not modified.
func (x *Index) WouldCycle(id string, deps []string) []string {
	adj := x.Adjacency()
	adj[id] = deps
	return FindCycle(adj)
}

// frame is one DFS stack entry: a node and the index of its next edge.
type frame struct {
	id   string
	next int
}

// FindCycle runs an iterative depth-first search over adj and returns the
// first cycle found as a path that starts and ends on the same node, or nil
// when adj is acyclic. Nodes that only appear as edge targets are treated as
// leaves.
func FindCycle(adj map[string][]string) []string {
	const (
		white = iota
		gray
		black
	)
	color := make(map[string]int, len(adj))
	roots := make([]string, 0, len(adj))
	for id := range adj {
		roots = append(roots, id)
	}
	sort.Strings(roots)

	for _, root := range roots {
		if color[root] != white {
			continue
		}
		color[root] = gray
		stack := []frame{{id: root}}
		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			edges := adj[top.id]
			if top.next == len(edges) {
				color[top.id] = black
				stack = stack[:len(stack)-1]
				continue
			}
			next := edges[top.next]
			top.next++
			switch color[next] {
			case gray:
				return cyclePath(stack, next)
			case white:
				color[next] = gray
				stack = append(stack, frame{id: next})
			}
		}
	}
	return nil
}

func cyclePath(stack []frame, back string) []string {
	start := 0
	for i, f := range stack {
		if f.id == back {
			start = i
			break
		}
	}
	path := make([]string, 0, len(stack)-start+1)
	for _, f := range stack[start:] {
		path = append(path, f.id)
	}
	return append(path, back)
}

func sortedKeys(s set) []string {
	if len(s) == 0 {
		return nil
	}
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
