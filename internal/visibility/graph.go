package visibility

// Node is the part of a rendered node the filter reads. Label is the full
// rendered label, Name the display name without the type prefix.
type Node struct {
	ID    string
	Label string
	Name  string
}

// Edge is a directed edge between two node ids.
type Edge struct {
	Source string
	Target string
}

// Graph is a read-only adjacency view over a node/edge topology. Neighbour
// lists keep edge order, so traversals are deterministic.
type Graph struct {
	nodes []Node
	index map[string]int
	out   [][]int
	in    [][]int
}

// NewGraph indexes nodes and edges. Edges with an unknown endpoint are
// ignored; duplicate node ids keep the first occurrence.
func NewGraph(nodes []Node, edges []Edge) *Graph {
	g := &Graph{index: make(map[string]int, len(nodes))}
	for _, n := range nodes {
		if _, ok := g.index[n.ID]; ok {
			continue
		}
		g.index[n.ID] = len(g.nodes)
		g.nodes = append(g.nodes, n)
	}

	g.out = make([][]int, len(g.nodes))
	g.in = make([][]int, len(g.nodes))
	for _, e := range edges {
		src, ok := g.index[e.Source]
		if !ok {
			continue
		}
		dst, ok := g.index[e.Target]
		if !ok {
			continue
		}
		g.out[src] = append(g.out[src], dst)
		g.in[dst] = append(g.in[dst], src)
	}
	return g
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	return len(g.nodes)
}

// has reports whether id is a node of g.
func (g *Graph) has(id string) bool {
	_, ok := g.index[id]
	return ok
}

// closure walks adj transitively from id. With g.in it yields every
// predecessor of id, with g.out every successor. The start node is only
// included when some path leads back to it.
func (g *Graph) closure(id string, adj [][]int) []int {
	start, ok := g.index[id]
	if !ok {
		return nil
	}

	seen := make([]bool, len(g.nodes))
	var out []int
	stack := append([]int(nil), adj[start]...)
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
		for i := len(adj[n]) - 1; i >= 0; i-- {
			if !seen[adj[n][i]] {
				stack = append(stack, adj[n][i])
			}
		}
	}
	return out
}

// distance returns the unweighted, undirected hop count from src to dst
// using only nodes for which allowed is true, or NoPath.
func (g *Graph) distance(src, dst int, allowed []bool) int {
	if src == dst {
		return 0
	}

	dist := make([]int, len(g.nodes))
	for i := range dist {
		dist[i] = -1
	}
	dist[src] = 0
	queue := []int{src}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		for _, adj := range [][]int{g.out[n], g.in[n]} {
			for _, m := range adj {
				if dist[m] >= 0 || !allowed[m] {
					continue
				}
				dist[m] = dist[n] + 1
				if m == dst {
					return dist[m]
				}
				queue = append(queue, m)
			}
		}
	}
	return NoPath
}
