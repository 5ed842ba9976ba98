// Package dependency orders metric definitions so every metric is evaluated
// after the metrics it references, and isolates dependency cycles.
package dependency

import (
	"container/heap"
	"sort"

	"gokpi/domain/metric"
	"gokpi/internal"
	"gokpi/internal/expression"
)

// nodeState tracks a node through the cycle search
type nodeState int

const (
	unvisited nodeState = iota
	visiting
	done
)

// Plan is the evaluation plan for a catalog
type Plan struct {
	// Order lists every non-cyclic metric after all of its dependencies.
	Order []string `json:"order"`
	// Cyclic lists cycle members in declaration order.
	Cyclic []string `json:"cyclic,omitempty"`
	// Missing maps a metric to the referenced names absent from the catalog.
	Missing map[string][]string `json:"missing,omitempty"`
	// Edges maps a metric to the catalog metrics it depends on.
	Edges map[string][]string `json:"edges"`
}

// IsCyclic reports whether name was removed as a cycle member
func (p *Plan) IsCyclic(name string) bool {
	for _, c := range p.Cyclic {
		if c == name {
			return true
		}
	}
	return false
}

// DependenciesOf returns the declared dependencies of a definition plus every
// metric its formula references, without duplicates.
func DependenciesOf(def metric.Definition) []string {
	seen := make(map[string]bool)
	var out []string
	for _, name := range append(append([]string(nil), def.Dependencies...), expression.References(def.Formula)...) {
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	return out
}

// Resolve builds the dependency graph of a catalog and returns an evaluation
// plan. It never fails: cycles and dangling references are reported in the
// plan, and only the metrics they concern are affected.
func Resolve(cat *metric.Catalog) *Plan {
	logger := internal.DefaultLogger.With("DependencyResolver")
	defs := cat.Definitions()
	n := len(defs)

	plan := &Plan{
		Missing: make(map[string][]string),
		Edges:   make(map[string][]string, n),
	}

	// adjacency: adj[a] holds the declaration indices a depends on
	adj := make([][]int, n)
	for i, d := range defs {
		for _, dep := range DependenciesOf(d) {
			j := cat.Position(dep)
			if j < 0 {
				plan.Missing[d.Name] = append(plan.Missing[d.Name], dep)
				continue
			}
			adj[i] = append(adj[i], j)
			plan.Edges[d.Name] = append(plan.Edges[d.Name], dep)
		}
	}

	cyclic := findCycleMembers(adj)
	for i, d := range defs {
		if cyclic[i] {
			plan.Cyclic = append(plan.Cyclic, d.Name)
		}
	}

	plan.Order = topoOrder(defs, adj, cyclic)

	if len(plan.Cyclic) > 0 {
		logger.Warn("%d metrics form dependency cycles: %v", len(plan.Cyclic), plan.Cyclic)
	}
	for name, missing := range plan.Missing {
		logger.Warn("metric %q references unknown metrics %v", name, missing)
	}
	logger.Debug("evaluation order: %v", plan.Order)
	return plan
}

// findCycleMembers runs Tarjan's strongly-connected-components search with an
// explicit stack. A node is a cycle member when its component has more than
// one node or it depends on itself.
func findCycleMembers(adj [][]int) []bool {
	n := len(adj)
	state := make([]nodeState, n)
	index := make([]int, n)
	lowlink := make([]int, n)
	onStack := make([]bool, n)
	cyclic := make([]bool, n)

	var sccStack []int
	counter := 0

	type frame struct {
		node int
		edge int
	}

	for root := 0; root < n; root++ {
		if state[root] != unvisited {
			continue
		}

		call := []frame{{node: root}}
		state[root] = visiting
		index[root], lowlink[root] = counter, counter
		counter++
		sccStack = append(sccStack, root)
		onStack[root] = true

		for len(call) > 0 {
			top := &call[len(call)-1]
			v := top.node

			if top.edge < len(adj[v]) {
				w := adj[v][top.edge]
				top.edge++
				switch {
				case state[w] == unvisited:
					state[w] = visiting
					index[w], lowlink[w] = counter, counter
					counter++
					sccStack = append(sccStack, w)
					onStack[w] = true
					call = append(call, frame{node: w})
				case onStack[w]:
					if index[w] < lowlink[v] {
						lowlink[v] = index[w]
					}
				}
				continue
			}

			// all edges of v explored
			if lowlink[v] == index[v] {
				var component []int
				for {
					w := sccStack[len(sccStack)-1]
					sccStack = sccStack[:len(sccStack)-1]
					onStack[w] = false
					state[w] = done
					component = append(component, w)
					if w == v {
						break
					}
				}
				if len(component) > 1 {
					for _, w := range component {
						cyclic[w] = true
					}
				} else if selfLoop(adj, v) {
					cyclic[v] = true
				}
			}

			call = call[:len(call)-1]
			if len(call) > 0 {
				parent := call[len(call)-1].node
				if lowlink[v] < lowlink[parent] {
					lowlink[parent] = lowlink[v]
				}
			}
		}
	}
	return cyclic
}

func selfLoop(adj [][]int, v int) bool {
	for _, w := range adj[v] {
		if w == v {
			return true
		}
	}
	return false
}

// readyQueue is a min-heap of declaration indices
type readyQueue []int

func (q readyQueue) Len() int            { return len(q) }
func (q readyQueue) Less(i, j int) bool  { return q[i] < q[j] }
func (q readyQueue) Swap(i, j int)       { q[i], q[j] = q[j], q[i] }
func (q *readyQueue) Push(x interface{}) { *q = append(*q, x.(int)) }
func (q *readyQueue) Pop() interface{} {
	old := *q
	x := old[len(old)-1]
	*q = old[:len(old)-1]
	return x
}

// topoOrder is Kahn's algorithm over the non-cyclic nodes. Among ready nodes
// the earliest declared goes first. Edges into cycle members are ignored so
// their dependents still get a slot (and fail at evaluation).
func topoOrder(defs []metric.Definition, adj [][]int, cyclic []bool) []string {
	n := len(defs)
	pending := make([]int, n)
	dependents := make([][]int, n)

	for a := 0; a < n; a++ {
		if cyclic[a] {
			continue
		}
		seen := make(map[int]bool, len(adj[a]))
		for _, b := range adj[a] {
			if cyclic[b] || seen[b] {
				continue
			}
			seen[b] = true
			pending[a]++
			dependents[b] = append(dependents[b], a)
		}
	}

	q := &readyQueue{}
	for i := 0; i < n; i++ {
		if !cyclic[i] && pending[i] == 0 {
			heap.Push(q, i)
		}
	}

	order := make([]string, 0, n)
	for q.Len() > 0 {
		i := heap.Pop(q).(int)
		order = append(order, defs[i].Name)
		deps := dependents[i]
		sort.Ints(deps)
		for _, d := range deps {
			pending[d]--
			if pending[d] == 0 {
				heap.Push(q, d)
			}
		}
	}
	return order
}
