package graph

import (
	"container/heap"
	"errors"
	"fmt"
	"sort"
)

var ErrCycle = errors.New("dependency cycle")

// PlanCycleError is returned by Plan when the requested subset cannot be
// ordered. Unresolved lists the nodes left with unmet dependencies.
type PlanCycleError struct {
	Unresolved []string
}

func (e *PlanCycleError) Error() string {
	return fmt.Sprintf("dependency cycle among %v", e.Unresolved)
}

func (e *PlanCycleError) Unwrap() error { return ErrCycle }

// Leveled is the result of Plan.
type Leveled struct {
	Order  []string
	Levels [][]string
	// Edges holds the in-subset dependencies each node was ordered by.
	Edges map[string][]string
}

// Plan orders ids with Kahn's algorithm, considering only edges whose both
// ends are in ids, and groups them into levels that can run concurrently.
// Ties are broken by ID so the same input always yields the same plan.
func Plan(ids []string, depsOf func(id string) []string) (Leveled, error) {
	members := make(map[string]bool, len(ids))
	nodes := make([]string, 0, len(ids))
	for _, id := range ids {
		if members[id] {
			continue
		}
		members[id] = true
		nodes = append(nodes, id)
	}

	edges := make(map[string][]string, len(nodes))
	waiters := make(map[string][]string, len(nodes))
	inDegree := make(map[string]int, len(nodes))
	for _, id := range nodes {
		var in []string
		for _, d := range depsOf(id) {
			if !members[d] || contains(in, d) {
				continue
			}
			in = append(in, d)
			waiters[d] = append(waiters[d], id)
		}
		sort.Strings(in)
		if in == nil {
			in = []string{}
		}
		edges[id] = in
		inDegree[id] = len(in)
	}

	ready := &idHeap{}
	for _, id := range nodes {
		if inDegree[id] == 0 {
			heap.Push(ready, id)
		}
	}
	order := make([]string, 0, len(nodes))
	for ready.Len() > 0 {
		id := heap.Pop(ready).(string)
		order = append(order, id)
		for _, w := range waiters[id] {
			inDegree[w]--
			if inDegree[w] == 0 {
				heap.Push(ready, w)
			}
		}
	}
	if len(order) < len(nodes) {
		var unresolved []string
		for _, id := range nodes {
			if inDegree[id] > 0 {
				unresolved = append(unresolved, id)
			}
		}
		sort.Strings(unresolved)
		return Leveled{}, &PlanCycleError{Unresolved: unresolved}
	}

	level := make(map[string]int, len(order))
	levels := [][]string{}
	for _, id := range order {
		lvl := 0
		for _, d := range edges[id] {
			if level[d]+1 > lvl {
				lvl = level[d] + 1
			}
		}
		level[id] = lvl
		for len(levels) <= lvl {
			levels = append(levels, nil)
		}
		levels[lvl] = append(levels[lvl], id)
	}
	for _, group := range levels {
		sort.Strings(group)
	}
	return Leveled{Order: order, Levels: levels, Edges: edges}, nil
}

func contains(items []string, s string) bool {
	for _, it := range items {
		if it == s {
			return true
		}
	}
	return false
}

type idHeap []string

func (h idHeap) Len() int           { return len(h) }
func (h idHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h idHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *idHeap) Push(x any)        { *h = append(*h, x.(string)) }
func (h *idHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
