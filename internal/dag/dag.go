// Package dag builds and analyzes the TaskDag (spec §3): nodes are task
// ids, edges go dependency -> dependent. Rebuilt fresh on every scheduler
// tick; never persisted.
package dag

import (
	"fmt"
	"sort"
	"strings"
)

// Node is the minimal shape the dag needs from a task.
type Node struct {
	ID        int
	Status    string
	DependsOn []int
}

// NotStarted reports whether a task's status counts as ready to dispatch.
func NotStarted(status string) bool {
	return status == "backlog" || status == "todo"
}

// TaskDag is the dependency graph derived from a task list.
type TaskDag struct {
	nodes map[int]Node
	// edges[dep] = dependents of dep
	edges map[int][]int
	order []int // insertion order, for deterministic iteration
}

// Build validates and constructs a TaskDag: no duplicate id, every
// dependency resolved, acyclic.
func Build(nodes []Node) (*TaskDag, error) {
	d := &TaskDag{
		nodes: make(map[int]Node, len(nodes)),
		edges: make(map[int][]int),
	}

	for _, n := range nodes {
		if _, dup := d.nodes[n.ID]; dup {
			return nil, fmt.Errorf("duplicate task id in board: #%d", n.ID)
		}
		d.nodes[n.ID] = n
		d.order = append(d.order, n.ID)
	}

	for _, n := range nodes {
		for _, dep := range n.DependsOn {
			if _, ok := d.nodes[dep]; !ok {
				return nil, fmt.Errorf("task #%d depends on missing task #%d", n.ID, dep)
			}
			d.edges[dep] = append(d.edges[dep], n.ID)
		}
	}

	if cyclePath, ok := d.findCycle(); ok {
		return nil, fmt.Errorf("dependency cycle detected: %s", cyclePath)
	}

	return d, nil
}

// findCycle runs a 3-color DFS (white/gray/black) and renders the first
// cycle found as "#a -> #b -> ... -> #a".
func (d *TaskDag) findCycle() (string, bool) {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[int]int, len(d.order))
	var stack []int

	var visit func(id int) (string, bool)
	visit = func(id int) (string, bool) {
		color[id] = gray
		stack = append(stack, id)

		for _, dep := range d.sortedDependents(id) {
			switch color[dep] {
			case white:
				if path, found := visit(dep); found {
					return path, true
				}
			case gray:
				// found the repeated node; render from its first occurrence
				start := 0
				for i, v := range stack {
					if v == dep {
						start = i
						break
					}
				}
				cyclePath := append(append([]int{}, stack[start:]...), dep)
				return renderCycle(cyclePath), true
			}
		}

		stack = stack[:len(stack)-1]
		color[id] = black
		return "", false
	}

	for _, id := range d.order {
		if color[id] == white {
			if path, found := visit(id); found {
				return path, true
			}
		}
	}
	return "", false
}

func (d *TaskDag) sortedDependents(id int) []int {
	out := append([]int{}, d.edges[id]...)
	sort.Ints(out)
	return out
}

func renderCycle(ids []int) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprintf("#%d", id)
	}
	return strings.Join(parts, " -> ")
}

// ReadySet returns tasks whose status is not-started and all dependencies
// are in completed, ordered deterministically by ascending id.
func (d *TaskDag) ReadySet(completed map[int]bool) []int {
	var ready []int
	for _, id := range d.order {
		n := d.nodes[id]
		if !NotStarted(n.Status) {
			continue
		}
		allDone := true
		for _, dep := range n.DependsOn {
			if !completed[dep] {
				allDone = false
				break
			}
		}
		if allDone {
			ready = append(ready, id)
		}
	}
	sort.Ints(ready)
	return ready
}

// TopologicalSort is Kahn's algorithm with ties broken by ascending id.
func (d *TaskDag) TopologicalSort() ([]int, error) {
	indegree := make(map[int]int, len(d.nodes))
	for id := range d.nodes {
		indegree[id] = 0
	}
	for _, n := range d.nodes {
		indegree[n.ID] += len(n.DependsOn)
	}

	var ready []int
	for _, id := range d.order {
		if indegree[id] == 0 {
			ready = append(ready, id)
		}
	}
	sort.Ints(ready)

	var order []int
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)

		for _, dependent := range d.sortedDependents(id) {
			indegree[dependent]--
			if indegree[dependent] == 0 {
				ready = insertSorted(ready, dependent)
			}
		}
	}

	if len(order) != len(d.nodes) {
		return nil, fmt.Errorf("dependency graph contains a cycle")
	}
	return order, nil
}

func insertSorted(xs []int, v int) []int {
	i := sort.SearchInts(xs, v)
	xs = append(xs, 0)
	copy(xs[i+1:], xs[i:])
	xs[i] = v
	return xs
}

// Nodes returns the task ids in the dag, in build order.
func (d *TaskDag) Nodes() []int {
	return append([]int{}, d.order...)
}
