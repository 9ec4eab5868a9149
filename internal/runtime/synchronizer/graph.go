package synchronizer

import (
	"math"
	"slices"
)

// NodeRef identifies a routine in the pacing graph.
type NodeRef struct {
	Name string
	Flow string
}

// Link mirrors one wire: a source and its destinations.
type Link struct {
	Source       NodeRef
	Destinations []NodeRef
}

// unconstrained marks a rate nobody limits this cycle.
var unconstrained = math.Inf(1)

type node struct {
	ref      NodeRef
	children []int
	parents  []int

	measured float64
	resolved float64
	target   float64
	visit    uint8
}

// Graph is an arena of nodes indexed by position. Topology is fixed at
// construction; per-cycle rates are reset after every cycle.
type Graph struct {
	nodes []node
	index map[string]int
	roots []int
	order []int
}

// NewGraph builds the pacing graph from links. A node exists for every
// routine named in a link; roots are the nodes without incoming links.
func NewGraph(links []Link) *Graph {
	g := &Graph{index: make(map[string]int)}
	for _, l := range links {
		src := g.add(l.Source)
		for _, dst := range l.Destinations {
			d := g.add(dst)
			if !slices.Contains(g.nodes[src].children, d) {
				g.nodes[src].children = append(g.nodes[src].children, d)
				g.nodes[d].parents = append(g.nodes[d].parents, src)
			}
		}
	}
	for i := range g.nodes {
		if len(g.nodes[i].parents) == 0 {
			g.roots = append(g.roots, i)
		}
	}
	g.order = g.topological()
	g.reset()
	return g
}

func (g *Graph) add(ref NodeRef) int {
	if i, ok := g.index[ref.Name]; ok {
		if g.nodes[i].ref.Flow == "" {
			g.nodes[i].ref.Flow = ref.Flow
		}
		return i
	}
	g.nodes = append(g.nodes, node{ref: ref})
	g.index[ref.Name] = len(g.nodes) - 1
	return len(g.nodes) - 1
}

// topological orders nodes parents-first. Nodes on a cycle are appended at
// the end in arena order.
func (g *Graph) topological() []int {
	indegree := make([]int, len(g.nodes))
	for i := range g.nodes {
		indegree[i] = len(g.nodes[i].parents)
	}
	queue := slices.Clone(g.roots)
	order := make([]int, 0, len(g.nodes))
	seen := make([]bool, len(g.nodes))
	for len(queue) > 0 {
		i := queue[0]
		queue = queue[1:]
		order = append(order, i)
		seen[i] = true
		for _, c := range g.nodes[i].children {
			indegree[c]--
			if indegree[c] == 0 {
				queue = append(queue, c)
			}
		}
	}
	for i := range g.nodes {
		if !seen[i] {
			order = append(order, i)
		}
	}
	return order
}

// Len returns the number of nodes.
func (g *Graph) Len() int { return len(g.nodes) }

// Roots returns the names of the root nodes.
func (g *Graph) Roots() []string {
	out := make([]string, len(g.roots))
	for i, r := range g.roots {
		out[i] = g.nodes[r].ref.Name
	}
	return out
}

// Children returns the direct downstream routines of name.
func (g *Graph) Children(name string) []string {
	i, ok := g.index[name]
	if !ok {
		return nil
	}
	out := make([]string, len(g.nodes[i].children))
	for k, c := range g.nodes[i].children {
		out[k] = g.nodes[c].ref.Name
	}
	return out
}

// measure sets every node's measured rate from rateOf. Nodes without a rate
// stay unconstrained.
func (g *Graph) measure(rateOf func(name string) (float64, bool)) {
	for i := range g.nodes {
		if fps, ok := rateOf(g.nodes[i].ref.Name); ok && fps > 0 {
			g.nodes[i].measured = fps
		}
	}
}

// resolveUp caps every node by the slowest stage it feeds.
func (g *Graph) resolveUp() {
	for _, r := range g.roots {
		g.resolve(r)
	}
	for i := range g.nodes {
		g.resolve(i)
	}
}

const (
	unvisited uint8 = iota
	visiting
	visited
)

func (g *Graph) resolve(i int) float64 {
	n := &g.nodes[i]
	switch n.visit {
	case visited:
		return n.resolved
	case visiting:
		return unconstrained
	}
	n.visit = visiting
	rate := n.measured
	for _, c := range n.children {
		rate = math.Min(rate, g.resolve(c))
	}
	n = &g.nodes[i]
	n.resolved = rate
	n.visit = visited
	return rate
}

// pushDown gives every node the bottleneck rate of the paths reaching it.
// Roots keep their resolved rate; other nodes take the minimum over their
// parents' targets.
func (g *Graph) pushDown() {
	for _, i := range g.order {
		n := &g.nodes[i]
		if len(n.parents) == 0 {
			n.target = n.resolved
			continue
		}
		target := unconstrained
		for _, p := range n.parents {
			target = math.Min(target, g.nodes[p].target)
		}
		n.target = target
	}
}

// Target is the rate assigned to one routine by a cycle.
type Target struct {
	NodeRef
	FPS float64
}

// targets returns a read-only projection of the constrained nodes.
func (g *Graph) targets() []Target {
	out := make([]Target, 0, len(g.nodes))
	for _, i := range g.order {
		n := g.nodes[i]
		if math.IsInf(n.target, 1) {
			continue
		}
		out = append(out, Target{NodeRef: n.ref, FPS: n.target})
	}
	return out
}

func (g *Graph) reset() {
	for i := range g.nodes {
		g.nodes[i].measured = unconstrained
		g.nodes[i].resolved = unconstrained
		g.nodes[i].target = unconstrained
		g.nodes[i].visit = unvisited
	}
}
