package amd64

import "fmt"

// allocator colors the registers of one class for one function. Physical ids
// are the K colors; virtual ids are removed from a working copy of the
// interference graph (simplify / coalesce / freeze / optimistic spill) and
// then assigned colors in reverse removal order (select).
type allocator struct {
	fn      *Fn
	class   regClass
	numRegs int
	ranges  [][]interval

	ig  *graph // interference graph, kept intact for select
	ig2 *graph // working copy consumed by simplification
	cg  *graph // coalescing graph: move-related pairs

	// stack holds removed virtual registers; the last pushed is colored
	// first.
	stack []Reg

	regMap      []Reg // vreg -> assigned preg
	coalesceMap []Reg // vreg -> the reg it was merged into

	// Every register-to-register move of this class involving a virtual
	// register, by program point. Used to decide which live-range overlaps
	// between move-related registers are benign.
	copyMoves []copyMove
}

type copyMove struct {
	l, r Reg
	n    int
}

func newAllocator(fn *Fn, class regClass, numRegs int, ranges [][]interval) *allocator {
	a := &allocator{
		fn:          fn,
		class:       class,
		numRegs:     numRegs,
		ranges:      ranges,
		regMap:      make([]Reg, numRegs),
		coalesceMap: make([]Reg, numRegs),
	}
	for i := range a.regMap {
		a.regMap[i] = regNone
		a.coalesceMap[i] = regNone
	}
	return a
}

func (a *allocator) run() {
	a.buildInterference()
	a.buildCoalescing()
	a.color()
	a.selectRegs()
	a.rewrite()
}

// buildInterference adds an edge for every same-class pair of registers whose
// live ranges intersect. Physical-physical pairs are uninteresting and
// skipped.
func (a *allocator) buildInterference() {
	a.ig = newGraph(a.numRegs)
	for r := Reg(0); int(r) < a.numRegs; r++ {
		if len(a.ranges[r]) > 0 {
			a.ig.addNode(r)
		}
	}
	for r1 := Reg(0); int(r1) < a.numRegs; r1++ {
		if len(a.ranges[r1]) == 0 {
			continue
		}
		for r2 := r1 + 1; int(r2) < a.numRegs; r2++ {
			if !r1.isVirtual() && !r2.isVirtual() {
				continue
			}
			if len(a.ranges[r2]) == 0 {
				continue
			}
			if rangesIntersect(a.ranges[r1], a.ranges[r2]) {
				a.ig.addEdge(r1, r2)
			}
		}
	}
	a.ig2 = a.ig.clone()
}

// isCopy reports a register-to-register move of this allocator's class.
func (a *allocator) isCopy(i *instruction) bool {
	if a.class == regClassGPR {
		return i.op == opMov && i.l.kind == oprGPR && i.r.kind == oprGPR
	}
	return (i.op == opMovss || i.op == opMovsd) && i.l.kind == oprXMM && i.r.kind == oprXMM
}

// buildCoalescing records every move whose operands involve at least one
// virtual register and whose live ranges do not intersect anywhere but at
// their connecting moves.
func (a *allocator) buildCoalescing() {
	a.cg = newGraph(a.numRegs)
	for b := a.fn.first; b != nil; b = b.next {
		for i := b.head; i != nil; i = i.next {
			if !a.isCopy(i) {
				continue
			}
			l, r := i.l.reg, i.r.reg
			if l == r || (!l.isVirtual() && !r.isVirtual()) {
				continue
			}
			a.copyMoves = append(a.copyMoves, copyMove{l, r, i.n})
		}
	}
	for _, m := range a.copyMoves {
		if a.movesCompatible(m.l, m.r) {
			a.cg.addEdge(m.l, m.r)
		}
	}
}

// movesCompatible reports whether the registers currently represented by x
// and y (each standing for itself plus everything coalesced into it) may
// share one physical register: every point at which their live ranges
// overlap must itself be a move between the two, which collapses into a
// deleted self-move once they agree.
func (a *allocator) movesCompatible(x, y Reg) bool {
	allowed := map[int]bool{}
	for _, m := range a.copyMoves {
		tl, tr := a.coalesceTarget(m.l), a.coalesceTarget(m.r)
		if (tl == x && tr == y) || (tl == y && tr == x) {
			allowed[m.n] = true
		}
	}
	for _, mx := range a.groupMembers(x) {
		for _, my := range a.groupMembers(y) {
			for _, ix := range a.ranges[mx] {
				for _, iy := range a.ranges[my] {
					lo, hi := max(ix.from, iy.from), min(ix.to, iy.to)
					for p := lo; p <= hi; p++ {
						if !allowed[p] {
							return false
						}
					}
				}
			}
		}
	}
	return true
}

// groupMembers lists every register whose coalesce chain ends at r,
// including r itself.
func (a *allocator) groupMembers(r Reg) []Reg {
	members := []Reg{r}
	for v := Reg(numPregs); int(v) < a.numRegs; v++ {
		if v != r && a.coalesceMap[v] != regNone && a.coalesceTarget(v) == r {
			members = append(members, v)
		}
	}
	return members
}

// color runs simplify / coalesce / freeze / spill to a fixed point, emptying
// the working graph of virtual registers.
func (a *allocator) color() {
	for {
		if a.simplify() {
			continue
		}
		if a.coalesce() {
			continue
		}
		if a.freeze() {
			continue
		}
		if a.spill() {
			continue
		}
		return
	}
}

// simplify repeatedly removes a non-move-related virtual register of
// insignificant degree, pushing it for later coloring.
func (a *allocator) simplify() bool {
	changed := false
	for {
		found := regNone
		for r := Reg(numPregs); int(r) < a.numRegs; r++ {
			if !a.ig2.hasNode(r) {
				continue
			}
			if a.cg.numEdges(r) > 0 {
				continue
			}
			if a.ig2.numEdges(r) < numPregs {
				found = r
				break
			}
		}
		if found == regNone {
			return changed
		}
		a.stack = append(a.stack, found)
		a.ig2.removeNode(found)
		a.cg.removeNode(found)
		changed = true
	}
}

// coalesce merges one move-related pair that passes Briggs's criterion: the
// combined node must have fewer than K neighbours of significant degree.
// A pair of a physical and a virtual register always merges into the
// physical one.
func (a *allocator) coalesce() bool {
	for x := Reg(0); int(x) < a.numRegs; x++ {
		if !a.cg.hasNode(x) || !a.ig2.hasNode(x) {
			continue
		}
		merged := false
		a.cg.neighbors(x, func(y Reg) {
			if merged || y < x || !a.ig2.hasNode(y) {
				return
			}
			if !x.isVirtual() && !y.isVirtual() {
				// Transitive copying can relate two physical registers;
				// nothing to merge there.
				return
			}
			if !a.briggsOK(x, y) {
				return
			}
			if !a.movesCompatible(x, y) {
				return
			}
			winner, loser := x, y
			if y < numPregs {
				winner, loser = y, x
			}
			a.coalesceMap[loser] = winner
			a.ig2.copyEdges(loser, winner)
			a.cg.copyEdges(loser, winner)
			a.ig2.removeNode(loser)
			a.cg.removeNode(loser)
			merged = true
		})
		if merged {
			return true
		}
	}
	return false
}

func (a *allocator) briggsOK(x, y Reg) bool {
	significant := 0
	seen := newRegSet(a.numRegs)
	count := func(r Reg) {
		a.ig2.neighbors(r, func(u Reg) {
			if u == x || u == y || seen.has(u) {
				return
			}
			seen.set(u)
			if a.ig2.numEdges(u) >= numPregs {
				significant++
			}
		})
	}
	count(x)
	count(y)
	return significant < numPregs
}

// freeze gives up on coalescing one move-related virtual register of
// insignificant degree, making it simplifiable.
func (a *allocator) freeze() bool {
	for r := Reg(numPregs); int(r) < a.numRegs; r++ {
		if a.ig2.hasNode(r) && a.cg.numEdges(r) > 0 && a.ig2.numEdges(r) < numPregs {
			a.cg.removeNode(r)
			return true
		}
	}
	return false
}

// spill pushes one significant-degree node as a potential spill; whether it
// actually colors is decided at select.
func (a *allocator) spill() bool {
	for r := Reg(numPregs); int(r) < a.numRegs; r++ {
		if a.ig2.hasNode(r) {
			a.stack = append(a.stack, r)
			a.ig2.removeNode(r)
			a.cg.removeNode(r)
			return true
		}
	}
	return false
}

// selectRegs pops the simplification stack and picks, for each virtual
// register, the first physical register it does not interfere with. The
// interference edges of coalesced registers are first propagated into their
// ultimate targets, and each assignment folds the virtual register's edges
// onto its color so later picks see them.
func (a *allocator) selectRegs() {
	for r := Reg(numPregs); int(r) < a.numRegs; r++ {
		if a.coalesceMap[r] != regNone {
			a.ig.copyEdges(r, a.coalesceTarget(r))
		}
	}
	for n := len(a.stack) - 1; n >= 0; n-- {
		v := a.stack[n]
		picked := regNone
		for p := Reg(0); p < numPregs; p++ {
			if a.class == regClassGPR && (p == rsp || p == rbp) {
				// The stack registers are not allocatable.
				continue
			}
			if !a.ig.hasEdge(v, p) {
				picked = p
				break
			}
		}
		if picked == regNone {
			panic(fmt.Sprintf("TODO: spill %s register v%d; spill code generation is not implemented", a.class, v))
		}
		a.regMap[v] = picked
		a.ig.copyEdges(v, picked)
	}
}

// coalesceTarget chases the coalesce map to the register v was ultimately
// merged into.
func (a *allocator) coalesceTarget(v Reg) Reg {
	for a.coalesceMap[v] != regNone {
		v = a.coalesceMap[v]
	}
	return v
}
