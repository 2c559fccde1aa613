package amd64

// AllocateRegisters assigns a physical register to every virtual register in
// the function, running Chaitin/Briggs-style graph coloring with move
// coalescing independently over the GPR and SSE classes. Afterwards no
// operand (including the base and index of memory operands) references a
// virtual id, and moves made redundant by coalescing are gone.
func (f *Fn) AllocateRegisters() {
	f.computeCFG()
	for _, run := range [2]struct {
		class   regClass
		numRegs int
	}{
		{regClassGPR, f.numGPRs},
		{regClassSSE, f.numSSE},
	} {
		// Renumber before each class: the previous class's rewrite may have
		// deleted instructions.
		f.number()
		lv := newLiveness(f, run.class, run.numRegs)
		lv.run()
		newAllocator(f, run.class, run.numRegs, lv.ranges).run()
	}
}

// rewrite walks every instruction, replacing virtual registers of the
// allocator's class with their assigned physical registers, then deletes the
// moves that collapsed into self-moves. Sign- and zero-extending moves stay
// when they widen: they still extend the sub-register.
func (a *allocator) rewrite() {
	for b := a.fn.first; b != nil; b = b.next {
		for i := b.head; i != nil; {
			next := i.next
			a.rewriteOperand(&i.l)
			a.rewriteOperand(&i.r)
			if a.isCopy(i) && i.l.reg == i.r.reg {
				b.remove(i)
			} else if a.class == regClassGPR && i.op.isExtMov() &&
				i.l.kind == oprGPR && i.r.kind == oprGPR &&
				i.l.reg == i.r.reg && i.l.size <= i.r.size {
				b.remove(i)
			}
			i = next
		}
	}
}

func (a *allocator) rewriteOperand(o *operand) {
	switch o.kind {
	case oprGPR:
		if a.class == regClassGPR {
			o.reg = a.resolve(o.reg)
		}
	case oprXMM:
		if a.class == regClassSSE {
			o.reg = a.resolve(o.reg)
		}
	case oprMem:
		if a.class == regClassGPR {
			o.base = a.resolve(o.base)
			if o.idx != regNone {
				o.idx = a.resolve(o.idx)
			}
		}
	}
}

// resolve chases the coalesce map to the surviving register, then looks up
// its color if it is still virtual.
func (a *allocator) resolve(r Reg) Reg {
	r = a.coalesceTarget(r)
	if r.isVirtual() {
		m := a.regMap[r]
		if m == regNone {
			panic("BUG: virtual register survived allocation unassigned")
		}
		r = m
	}
	return r
}
