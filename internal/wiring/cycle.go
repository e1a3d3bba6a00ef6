package wiring

import (
	"slices"
	"strings"
)

// schedulerGraph maps a scheduler name to the schedulers it feeds.
type schedulerGraph map[string][]string

func buildGraph(nodes []string, edges []edge, include func(edge) bool) schedulerGraph {
	g := make(schedulerGraph, len(nodes))
	for _, n := range nodes {
		g[n] = nil
	}
	for _, e := range edges {
		if include(e) {
			g[e.from] = append(g[e.from], e.to)
		}
	}
	return g
}

// backpressureCycles returns every cycle of Put edges that passes through
// at least one scheduler whose counter can block. Such a cycle can deadlock:
// each member waits on the next to drain while the next waits on it.
//
// Direct schedulers never block on their own but forward on the caller's
// goroutine, so they stay in the graph as pass-through nodes.
func backpressureCycles(nodes []string, edges []edge, blocking func(string) bool) [][]string {
	g := buildGraph(nodes, edges, func(e edge) bool { return e.mode == SolderPut })

	var cycles [][]string
	for _, scc := range tarjanSCC(nodes, g) {
		if len(scc) == 1 && !slices.Contains(g[scc[0]], scc[0]) {
			continue
		}
		if !slices.ContainsFunc(scc, blocking) {
			continue
		}
		cycles = append(cycles, cyclePath(scc, g))
	}
	return cycles
}

// tarjanSCC finds strongly connected components. Nodes are visited in the
// order given so the result is deterministic.
func tarjanSCC(nodes []string, g schedulerGraph) [][]string {
	var (
		index   = 0
		stack   []string
		indices = make(map[string]int)
		lowlink = make(map[string]int)
		onStack = make(map[string]bool)
		sccs    [][]string
	)

	var strongConnect func(string)
	strongConnect = func(v string) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range g[v] {
			if _, visited := indices[w]; !visited {
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		if lowlink[v] == indices[v] {
			var scc []string
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			sccs = append(sccs, scc)
		}
	}

	for _, n := range nodes {
		if _, visited := indices[n]; !visited {
			strongConnect(n)
		}
	}
	return sccs
}

// cyclePath walks edges inside an SCC from its first member back to itself.
func cyclePath(scc []string, g schedulerGraph) []string {
	members := make(map[string]bool, len(scc))
	for _, n := range scc {
		members[n] = true
	}

	start := scc[len(scc)-1]
	path := []string{start}
	visited := map[string]bool{}
	current := start
	for {
		visited[current] = true
		next := ""
		for _, w := range g[current] {
			if members[w] && (!visited[w] || w == start) {
				next = w
				break
			}
		}
		if next == "" {
			return path
		}
		path = append(path, next)
		if next == start {
			return path
		}
		current = next
	}
}

func formatCycle(path []string) string {
	return strings.Join(path, " -> ")
}

// stopOrder returns scheduler names so that every scheduler appears after
// all schedulers feeding it through Put or Offer edges. Inject edges are
// ignored. Members of residual cycles are appended in declaration order.
func stopOrder(nodes []string, edges []edge) []string {
	g := buildGraph(nodes, edges, func(e edge) bool { return e.mode != SolderInject })

	indegree := make(map[string]int, len(nodes))
	for _, n := range nodes {
		for _, w := range g[n] {
			indegree[w]++
		}
	}

	var queue, order []string
	for _, n := range nodes {
		if indegree[n] == 0 {
			queue = append(queue, n)
		}
	}
	placed := make(map[string]bool, len(nodes))
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		order = append(order, n)
		placed[n] = true
		for _, w := range g[n] {
			indegree[w]--
			if indegree[w] == 0 {
				queue = append(queue, w)
			}
		}
	}
	for _, n := range nodes {
		if !placed[n] {
			order = append(order, n)
		}
	}
	return order
}
