// Package graph holds the directed transaction network used by the
// feature extractor and the classifier.
package graph

// Graph is a directed multigraph over nodes indexed 0..N-1. The full edge
// list (one edge per transaction) drives message passing; a de-duplicated
// adjacency drives centrality, so parallel transfers between the same pair
// count once toward degree.
type Graph struct {
	n int

	// Multi-edge list, parallel slices.
	Src []int
	Dst []int

	outSet []map[int]bool
	inSet  []map[int]bool
}

// New creates a graph with n nodes and no edges.
func New(n int) *Graph {
	return &Graph{
		n:      n,
		outSet: make([]map[int]bool, n),
		inSet:  make([]map[int]bool, n),
	}
}

// NumNodes returns the node count.
func (g *Graph) NumNodes() int { return g.n }

// NumEdges returns the multi-edge count.
func (g *Graph) NumEdges() int { return len(g.Src) }

// AddEdge records a directed edge src -> dst. Parallel edges are kept in
// the edge list and collapsed in the adjacency sets.
func (g *Graph) AddEdge(src, dst int) {
	if src < 0 || src >= g.n || dst < 0 || dst >= g.n {
		return
	}
	g.Src = append(g.Src, src)
	g.Dst = append(g.Dst, dst)

	if g.outSet[src] == nil {
		g.outSet[src] = make(map[int]bool)
	}
	g.outSet[src][dst] = true
	if g.inSet[dst] == nil {
		g.inSet[dst] = make(map[int]bool)
	}
	g.inSet[dst][src] = true
}

// degrees returns per-node (in+out) and in-only degree over the
// de-duplicated adjacency.
func (g *Graph) degrees() (deg, inDeg []int) {
	deg = make([]int, g.n)
	inDeg = make([]int, g.n)
	for i := 0; i < g.n; i++ {
		deg[i] = len(g.outSet[i]) + len(g.inSet[i])
		inDeg[i] = len(g.inSet[i])
	}
	return deg, inDeg
}

// centralityExactLimit is the node count above which exact centrality is
// replaced with the degree/max-degree approximation.
const centralityExactLimit = 8000

// DegreeCentrality returns degree and in-degree centrality per node.
// Exact centrality (degree / (n-1)) is computed for graphs up to 8,000
// nodes; larger graphs use a linear-time degree/max-degree approximation.
func (g *Graph) DegreeCentrality() (degCent, inDegCent []float64) {
	deg, inDeg := g.degrees()
	degCent = make([]float64, g.n)
	inDegCent = make([]float64, g.n)

	if g.n <= centralityExactLimit {
		denom := float64(g.n - 1)
		if denom <= 0 {
			denom = 1
		}
		for i := 0; i < g.n; i++ {
			degCent[i] = float64(deg[i]) / denom
			inDegCent[i] = float64(inDeg[i]) / denom
		}
		return degCent, inDegCent
	}

	maxDeg, maxInDeg := 1, 1
	for i := 0; i < g.n; i++ {
		if deg[i] > maxDeg {
			maxDeg = deg[i]
		}
		if inDeg[i] > maxInDeg {
			maxInDeg = inDeg[i]
		}
	}
	for i := 0; i < g.n; i++ {
		degCent[i] = float64(deg[i]) / float64(maxDeg)
		inDegCent[i] = float64(inDeg[i]) / float64(maxInDeg)
	}
	return degCent, inDegCent
}

// InNeighborCounts returns the number of multi-edge in-neighbors per node.
func (g *Graph) InNeighborCounts() []int {
	counts := make([]int, g.n)
	for _, d := range g.Dst {
		counts[d]++
	}
	return counts
}
