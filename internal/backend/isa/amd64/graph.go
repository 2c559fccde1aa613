package amd64

// graph is a dense undirected graph over register ids, backed by one bitset
// row per node. It serves both the interference graph and the coalescing
// (move-related) graph of the allocator.
type graph struct {
	numRegs int
	present []bool
	rows    []*regSet
}

func newGraph(numRegs int) *graph {
	g := &graph{
		numRegs: numRegs,
		present: make([]bool, numRegs),
		rows:    make([]*regSet, numRegs),
	}
	for i := range g.rows {
		g.rows[i] = newRegSet(numRegs)
	}
	return g
}

func (g *graph) addNode(r Reg) { g.present[r] = true }

func (g *graph) hasNode(r Reg) bool { return g.present[r] }

func (g *graph) addEdge(a, b Reg) {
	if a == b {
		return
	}
	g.present[a] = true
	g.present[b] = true
	g.rows[a].set(b)
	g.rows[b].set(a)
}

func (g *graph) hasEdge(a, b Reg) bool { return g.rows[a].has(b) }

// numEdges is the degree of r.
func (g *graph) numEdges(r Reg) int { return g.rows[r].count() }

// removeNode drops r and all edges touching it.
func (g *graph) removeNode(r Reg) {
	g.present[r] = false
	g.rows[r].forEach(func(u Reg) { g.rows[u].unset(r) })
	g.rows[r].reset()
}

// copyEdges unions src's neighbours into dst's, never creating a self edge.
func (g *graph) copyEdges(src, dst Reg) {
	g.rows[src].forEach(func(u Reg) {
		if u != dst {
			g.addEdge(dst, u)
		}
	})
}

// neighbors visits r's adjacent nodes in increasing id order.
func (g *graph) neighbors(r Reg, f func(Reg)) { g.rows[r].forEach(f) }

func (g *graph) clone() *graph {
	c := &graph{
		numRegs: g.numRegs,
		present: make([]bool, g.numRegs),
		rows:    make([]*regSet, g.numRegs),
	}
	copy(c.present, g.present)
	for i, row := range g.rows {
		c.rows[i] = row.clone()
	}
	return c
}
