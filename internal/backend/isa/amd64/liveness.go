package amd64

// interval is a closed range [from, to] of program points at which a register
// is live.
type interval struct {
	from, to int
}

// liveness computes, for one register class, the live range of every register
// id and the live-in set of every block, by backward worklist iteration over
// the CFG.
type liveness struct {
	fn      *Fn
	class   regClass
	numRegs int

	// ranges[r] is the set of intervals at which register id r is live.
	// Intervals from repeated scans of a block may duplicate or overlap;
	// only intersection queries are ever made.
	ranges [][]interval
}

func newLiveness(fn *Fn, class regClass, numRegs int) *liveness {
	return &liveness{
		fn:      fn,
		class:   class,
		numRegs: numRegs,
		ranges:  make([][]interval, numRegs),
	}
}

func (l *liveness) run() {
	for b := l.fn.first; b != nil; b = b.next {
		b.liveIn = newRegSet(l.numRegs)
	}

	// Seed with every block, last first, so the initial propagation converges
	// from the leaves upward.
	var queue []*block
	inQueue := map[*block]bool{}
	for b := l.fn.last; b != nil; b = b.prev {
		queue = append(queue, b)
		inQueue[b] = true
	}
	for len(queue) > 0 {
		b := queue[0]
		queue = queue[1:]
		inQueue[b] = false
		if l.scanBlock(b) {
			b.preds.Each(func(p *block) bool {
				if !inQueue[p] {
					queue = append(queue, p)
					inQueue[p] = true
				}
				return false
			})
		}
	}
}

// scanBlock recomputes b's live-in from its successors' live-ins, extending
// live ranges along the way. Reports whether the live-in set changed.
func (l *liveness) scanBlock(b *block) bool {
	live := newRegSet(l.numRegs)
	b.succs.Each(func(s *block) bool {
		live.union(s.liveIn)
		return false
	})

	// Live-out registers are live at the end-of-block point.
	if b.tail != nil {
		end := b.tail.n + 1
		live.forEach(func(r Reg) { l.mark(r, end) })
	}

	for i := b.tail; i != nil; i = i.prev {
		// Uses: operand registers, the always-reserved stack registers, and
		// whatever the opcode clobbers.
		i.forEachUse(l.class, func(r Reg) { live.set(r) })
		if l.class == regClassGPR {
			live.set(rsp)
			live.set(rbp)
			for _, r := range gprClobbers[i.op] {
				live.set(r)
			}
		} else {
			for _, r := range sseClobbers[i.op] {
				live.set(r)
			}
		}

		// Extend every live register's range over this instruction.
		live.forEach(func(r Reg) { l.mark(r, i.n) })

		// The defined register dies above its definition.
		if defsLeft[i.op] && i.l.isReg(l.class) {
			live.unset(i.l.reg)
		}

		// Physical registers are live for at most one instruction; the
		// clobber table re-asserts them at each boundary.
		live.clearPhys()
	}

	if live.equal(b.liveIn) {
		return false
	}
	b.liveIn = live
	return true
}

// forEachUse visits the registers of the given class appearing in the
// instruction's operands, including the base and index of memory operands.
func (i *instruction) forEachUse(class regClass, f func(Reg)) {
	for _, o := range [2]*operand{&i.l, &i.r} {
		switch o.kind {
		case oprGPR:
			if class == regClassGPR {
				f(o.reg)
			}
		case oprXMM:
			if class == regClassSSE {
				f(o.reg)
			}
		case oprMem:
			if class == regClassGPR {
				f(o.base)
				if o.idx != regNone {
					f(o.idx)
				}
			}
		}
	}
}

// mark merges program point i into r's live range. Within one block scan the
// points arrive in descending order, so merging against the most recently
// added interval suffices.
func (l *liveness) mark(r Reg, i int) {
	ivs := l.ranges[r]
	if n := len(ivs); n > 0 {
		last := &ivs[n-1]
		if last.from == i+1 {
			last.from = i
			return
		}
		if i >= last.from && i <= last.to {
			return
		}
	}
	l.ranges[r] = append(ivs, interval{i, i})
}

// rangesIntersect reports whether any interval of a overlaps any interval
// of b.
func rangesIntersect(a, b []interval) bool {
	for _, x := range a {
		for _, y := range b {
			if x.from <= y.to && y.from <= x.to {
				return true
			}
		}
	}
	return false
}

