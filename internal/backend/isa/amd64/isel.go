package amd64

import (
	"fmt"

	"github.com/cminor/cminor/internal/ir"
)

// Assemble lowers one IR function into x86-64 instructions over virtual
// registers. The basic-block structure of the output mirrors the input; all
// operands reference virtual registers, physical registers pinned by the ABI
// (argument registers, rax/rdx around division, cl for shifts), immediates,
// memory, or labels. Register allocation happens separately.
func Assemble(irFn *ir.Fn) *Fn {
	a := &assembler{
		fn:      newFn(irFn.Name),
		blocks:  map[*ir.BB]*block{},
		nextGPR: numPregs,
		nextSSE: numPregs,
	}
	irFn.Blocks(func(b *ir.BB) {
		a.blocks[b] = a.fn.newBlock()
	})

	// Prologue. The stack adjustment is patched (or deleted) once the final
	// frame size is known.
	entry := a.fn.first
	entry.push1(opPush, gprOpr(rbp, 8))
	entry.push2(opMov, gprOpr(rbp, 8), gprOpr(rsp, 8))
	a.patches = append(a.patches, entry.push2(opSub, gprOpr(rsp, 8), immOpr(0)))

	for b := irFn.Entry; b != nil; b = b.Next {
		a.cur = a.blocks[b]
		a.nextIr = b.Next
		for i := b.Head; i != nil; i = i.Next {
			a.lower(i)
		}
	}

	a.patchStack()
	a.fn.numGPRs = int(a.nextGPR)
	a.fn.numSSE = int(a.nextSSE)
	return a.fn
}

type assembler struct {
	fn     *Fn
	cur    *block
	nextIr *ir.BB // textual successor of the block being lowered
	blocks map[*ir.BB]*block

	// Next virtual register id to hand out, per class. Starts just past the
	// physical file so physical and virtual ids share one numeric space.
	nextGPR, nextSSE Reg

	// Running byte count of stack locals, growing down from %rbp.
	nextStack int
	// The sub/add rsp instructions whose immediate is patched at the end.
	patches []*instruction

	// Argument register indices consumed so far, per class.
	numGPRArgs, numSSEArgs int
}

func (a *assembler) newGPR() Reg {
	r := a.nextGPR
	a.nextGPR++
	return r
}

func (a *assembler) newXMM() Reg {
	r := a.nextSSE
	a.nextSSE++
	return r
}

// movFor picks the move opcode for a value of type t.
func movFor(t *ir.Type) opcode {
	if t.IsFloat() {
		if t.Size == 4 {
			return opMovss
		}
		return opMovsd
	}
	return opMov
}

func pad(n, align int) int {
	return (n + align - 1) &^ (align - 1)
}

func (a *assembler) patchStack() {
	stack := pad(a.nextStack, 16)
	a.fn.frameSize = stack
	for _, p := range a.patches {
		if stack == 0 {
			p.blk.remove(p)
		} else {
			p.r = immOpr(int64(stack))
		}
	}
}

// regOpr returns the operand for a value already materialized in a virtual
// register.
func (a *assembler) regOpr(v *ir.Ins) operand {
	if v.T.IsFloat() {
		return xmmOpr(Reg(v.VReg))
	}
	return gprOpr(Reg(v.VReg), byte(v.T.Size))
}

// discharge guarantees the value of v sits in a virtual register, emitting
// the materialization code if it does not yet. ALLOC addresses are cheap to
// recompute and are re-materialized on every discharge rather than pinning a
// register across the function body.
func (a *assembler) discharge(v *ir.Ins) operand {
	if v.VReg != 0 && v.Op != ir.OpAlloc {
		return a.regOpr(v)
	}
	switch v.Op {
	case ir.OpImm:
		d := gprOpr(a.newGPR(), byte(v.T.Size))
		a.cur.push2(opMov, d, immOpr(v.Imm))
		v.VReg = int(d.reg)
		return d
	case ir.OpFP:
		d := xmmOpr(a.newXMM())
		a.cur.push2(movFor(v.T), d, a.fpConst(v))
		v.VReg = int(d.reg)
		return d
	case ir.OpGlobal:
		d := gprOpr(a.newGPR(), 8)
		a.cur.push2(opLea, d, derefOpr(v.G.Label, 8))
		v.VReg = int(d.reg)
		return d
	case ir.OpLoad:
		mem := a.loadPtr(v.L, v.T)
		var d operand
		if v.T.IsFloat() {
			d = xmmOpr(a.newXMM())
		} else {
			d = gprOpr(a.newGPR(), byte(v.T.Size))
		}
		a.cur.push2(movFor(v.T), d, mem)
		v.VReg = int(d.reg)
		return d
	case ir.OpAlloc:
		d := gprOpr(a.newGPR(), 8)
		a.cur.push2(opLea, d, memOpr(rbp, -int32(v.StackSlot), 8))
		v.VReg = int(d.reg)
		return d
	}
	if v.Op.IsCmp() {
		// A comparison demanded as a value: materialize a 0/1 integer.
		a.cmp(v)
		d := a.newGPR()
		a.cur.push1(setOp[v.Op], gprOpr(d, 1))
		a.cur.push2(opAnd, gprOpr(d, 4), immOpr(1))
		v.VReg = int(d)
		return gprOpr(d, byte(v.T.Size))
	}
	panic(fmt.Sprintf("BUG: cannot discharge %s", v.Op))
}

// fpConst references a floating-point constant pool entry, labelled so the
// emitter can place it in the read-only data section.
func (a *assembler) fpConst(v *ir.Ins) operand {
	o := fpOpr(v.T.Size, v.FPIdx)
	o.label = fpLabel(a.fn.Name, v.T.Size, v.FPIdx)
	return o
}

// inlineImm uses an integer constant directly as an immediate operand.
func (a *assembler) inlineImm(v *ir.Ins) operand {
	if v.Op == ir.OpImm {
		return immOpr(v.Imm)
	}
	return a.discharge(v)
}

// inlineMem uses a not-yet-materialized load or float constant directly as a
// memory operand.
func (a *assembler) inlineMem(v *ir.Ins) operand {
	if v.Op == ir.OpLoad && v.VReg == 0 {
		return a.loadPtr(v.L, v.T)
	}
	if v.Op == ir.OpFP {
		return a.fpConst(v)
	}
	return a.discharge(v)
}

func (a *assembler) inlineImmMem(v *ir.Ins) operand {
	if v.Op == ir.OpImm {
		return immOpr(v.Imm)
	}
	return a.inlineMem(v)
}

// inlineLabelMem is used for call targets: a global becomes a direct call.
func (a *assembler) inlineLabelMem(v *ir.Ins) operand {
	if v.Op == ir.OpGlobal {
		return labelOpr(v.G.Label)
	}
	return a.inlineMem(v)
}

// loadPtr maps an IR pointer to a memory operand sized for the type being
// accessed through it.
func (a *assembler) loadPtr(ptr *ir.Ins, t *ir.Type) operand {
	switch ptr.Op {
	case ir.OpAlloc:
		return memOpr(rbp, -int32(ptr.StackSlot), byte(t.Size))
	case ir.OpGlobal:
		return derefOpr(ptr.G.Label, byte(t.Size))
	default:
		base := a.discharge(ptr)
		if base.kind != oprGPR {
			panic("BUG: pointer not in a general-purpose register")
		}
		return memOpr(base.reg, 0, byte(t.Size))
	}
}

func (a *assembler) lower(v *ir.Ins) {
	if v.Op.IsCmp() {
		// Comparisons emit code only when demanded: as a CONDBR condition or
		// through discharge.
		return
	}
	switch v.Op {
	case ir.OpImm, ir.OpGlobal, ir.OpLoad, ir.OpCArg:
		// Inlined at use sites (OpCArg is consumed by its call).
	case ir.OpFP:
		if v.T.Size == 4 {
			v.FPIdx = len(a.fn.f32s)
			a.fn.f32s = append(a.fn.f32s, float32(v.FP))
		} else {
			v.FPIdx = len(a.fn.f64s)
			a.fn.f64s = append(a.fn.f64s, v.FP)
		}
	case ir.OpAlloc:
		if !v.T.IsPtr() {
			panic("BUG: alloc of a non-pointer type")
		}
		elem := v.T.Elem
		a.nextStack = pad(a.nextStack, elem.Align) + elem.Size
		v.StackSlot = a.nextStack
	case ir.OpFArg:
		a.farg(v)
	case ir.OpStore:
		dst := a.loadPtr(v.L, v.T)
		if v.T.IsFloat() {
			a.cur.push2(movFor(v.T), dst, a.discharge(v.R))
		} else {
			a.cur.push2(opMov, dst, a.inlineImm(v.R))
		}
	case ir.OpPtrAdd:
		a.ptrAdd(v)
	case ir.OpAdd, ir.OpSub, ir.OpMul, ir.OpFDiv, ir.OpBitAnd, ir.OpBitOr, ir.OpBitXor:
		a.arith(v)
	case ir.OpSDiv, ir.OpUDiv, ir.OpSMod, ir.OpUMod:
		a.divmod(v)
	case ir.OpShl, ir.OpSar, ir.OpShr:
		a.shift(v)
	case ir.OpTrunc, ir.OpPtr2I:
		// Size the destination by the source so later uses of the narrow
		// sub-register truncate naturally.
		size := byte(v.L.T.Size)
		d := gprOpr(a.newGPR(), size)
		a.cur.push2(opMov, d, a.discharge(v.L))
		v.VReg = int(d.reg)
	case ir.OpSExt, ir.OpZExt, ir.OpI2Ptr, ir.OpBitcast:
		a.extend(v)
	case ir.OpFTrunc:
		d := xmmOpr(a.newXMM())
		a.cur.push2(opCvtsd2ss, d, a.discharge(v.L))
		v.VReg = int(d.reg)
	case ir.OpFExt:
		d := xmmOpr(a.newXMM())
		a.cur.push2(opCvtss2sd, d, a.discharge(v.L))
		v.VReg = int(d.reg)
	case ir.OpFP2I:
		op := opCvttsd2si
		if v.L.T.Size == 4 {
			op = opCvttss2si
		}
		size := byte(v.T.Size)
		if size < 4 {
			// The conversion only writes 32 or 64 bits; narrow uses read the
			// sub-register.
			size = 4
		}
		d := gprOpr(a.newGPR(), size)
		a.cur.push2(op, d, a.discharge(v.L))
		v.VReg = int(d.reg)
	case ir.OpI2FP:
		op := opCvtsi2sd
		if v.T.Size == 4 {
			op = opCvtsi2ss
		}
		src := a.discharge(v.L)
		if v.L.T.Size < 4 {
			// cvtsi2* takes 32- or 64-bit sources only.
			w := gprOpr(a.newGPR(), 4)
			a.cur.push2(opMovsx, w, src)
			src = w
		}
		d := xmmOpr(a.newXMM())
		a.cur.push2(op, d, src)
		v.VReg = int(d.reg)
	case ir.OpBr:
		if v.To != a.nextIr {
			a.cur.push1(opJmp, bbOpr(a.blocks[v.To]))
		}
	case ir.OpCondBr:
		a.condBr(v)
	case ir.OpCall:
		a.call(v)
	case ir.OpRet:
		a.ret(v)
	default:
		panic(fmt.Sprintf("BUG: cannot lower %s", v.Op))
	}
}

func (a *assembler) farg(v *ir.Ins) {
	if v.T.IsFloat() {
		if a.numSSEArgs >= len(argXMMs) {
			panic("TODO: stack-passed arguments")
		}
		src := argXMMs[a.numSSEArgs]
		a.numSSEArgs++
		d := xmmOpr(a.newXMM())
		a.cur.push2(movFor(v.T), d, xmmOpr(src))
		v.VReg = int(d.reg)
		return
	}
	if a.numGPRArgs >= len(argGPRs) {
		panic("TODO: stack-passed arguments")
	}
	src := argGPRs[a.numGPRArgs]
	a.numGPRArgs++
	size := byte(v.T.Size)
	d := gprOpr(a.newGPR(), size)
	a.cur.push2(opMov, d, gprOpr(src, size))
	v.VReg = int(d.reg)
}

func (a *assembler) arith(v *ir.Ins) {
	if v.T.IsFloat() {
		ops := f64Op
		if v.T.Size == 4 {
			ops = f32Op
		}
		d := xmmOpr(a.newXMM())
		a.cur.push2(movFor(v.T), d, a.discharge(v.L))
		a.cur.push2(ops[v.Op], d, a.inlineMem(v.R))
		v.VReg = int(d.reg)
		return
	}
	d := gprOpr(a.newGPR(), byte(v.T.Size))
	a.cur.push2(opMov, d, a.discharge(v.L))
	a.cur.push2(intOp[v.Op], d, a.inlineImmMem(v.R))
	v.VReg = int(d.reg)
}

func (a *assembler) divmod(v *ir.Ins) {
	size := byte(v.T.Size)
	// The divisor has no immediate form.
	divisor := a.inlineMem(v.R)
	a.cur.push2(opMov, gprOpr(rax, size), a.discharge(v.L))
	switch size {
	case 2:
		a.cur.push0(opCwd)
	case 4:
		a.cur.push0(opCdq)
	case 8:
		a.cur.push0(opCqo)
	default:
		panic("TODO: 8-bit division")
	}
	op := opIdiv
	if v.Op == ir.OpUDiv || v.Op == ir.OpUMod {
		op = opDiv
	}
	a.cur.push1(op, divisor)
	res := rax
	if v.Op == ir.OpSMod || v.Op == ir.OpUMod {
		res = rdx
	}
	d := gprOpr(a.newGPR(), size)
	a.cur.push2(opMov, d, gprOpr(res, size))
	v.VReg = int(d.reg)
}

func (a *assembler) shift(v *ir.Ins) {
	size := byte(v.T.Size)
	d := gprOpr(a.newGPR(), size)
	a.cur.push2(opMov, d, a.discharge(v.L))
	if v.R.Op == ir.OpImm {
		a.cur.push2(intOp[v.Op], d, immOpr(v.R.Imm))
	} else {
		amt := a.discharge(v.R)
		a.cur.push2(opMov, gprOpr(rcx, 1), gprOpr(amt.reg, 1))
		a.cur.push2(intOp[v.Op], d, gprOpr(rcx, 1))
	}
	v.VReg = int(d.reg)
}

func (a *assembler) extend(v *ir.Ins) {
	if v.T.IsFloat() != v.L.T.IsFloat() {
		panic("TODO: bit casts between the integer and SSE classes")
	}
	if v.T.IsFloat() {
		// Same-size bit casts within the SSE class.
		d := xmmOpr(a.newXMM())
		a.cur.push2(movFor(v.T), d, a.discharge(v.L))
		v.VReg = int(d.reg)
		return
	}
	var op opcode
	switch v.Op {
	case ir.OpSExt:
		op = opMovsx
	case ir.OpZExt:
		op = opMovzx
	default:
		op = opMov
	}
	src := a.inlineImm(v.L)
	size := byte(v.T.Size)
	if src.kind == oprImm {
		op = opMov
	} else if op == opMovzx && v.L.T.Size == 4 {
		// A 32-bit mov already zero-extends; movzx has no 32-to-64 form.
		op = opMov
		size = 4
	}
	d := gprOpr(a.newGPR(), size)
	a.cur.push2(op, d, src)
	v.VReg = int(d.reg)
}

func (a *assembler) ptrAdd(v *ir.Ins) {
	if v.R.Op == ir.OpImm && v.R.Imm == 0 {
		// No displacement: the result aliases the pointer.
		base := a.discharge(v.L)
		v.VReg = int(base.reg)
		return
	}
	base := a.discharge(v.L)
	d := gprOpr(a.newGPR(), 8)
	if v.R.Op == ir.OpImm {
		a.cur.push2(opLea, d, memOpr(base.reg, int32(v.R.Imm), 8))
	} else {
		idx := a.discharge(v.R)
		a.cur.push2(opLea, d, memIdxOpr(base.reg, idx.reg, 1, 0, 8))
	}
	v.VReg = int(d.reg)
}

// cmp emits the flag-setting compare for an IR comparison, choosing between
// cmp and ucomiss/ucomisd from the operand types (never from the boolean
// result type).
func (a *assembler) cmp(v *ir.Ins) {
	if v.L.T.IsFloat() {
		op := opUcomisd
		if v.L.T.Size == 4 {
			op = opUcomiss
		}
		l := a.discharge(v.L)
		a.cur.push2(op, l, a.inlineMem(v.R))
		return
	}
	l := a.discharge(v.L)
	a.cur.push2(opCmp, l, a.inlineImmMem(v.R))
}

func (a *assembler) condBr(v *ir.Ins) {
	cond := v.L
	if !cond.Op.IsCmp() {
		panic("BUG: condbr condition is not a comparison")
	}
	a.cmp(cond)
	jcc := jmpOp[cond.Op]
	switch {
	case v.FalseTo == a.nextIr:
		a.cur.push1(jcc, bbOpr(a.blocks[v.To]))
	case v.To == a.nextIr:
		a.cur.push1(invertJmp[jcc], bbOpr(a.blocks[v.FalseTo]))
	default:
		panic("BUG: neither condbr target is the next block")
	}
}

func (a *assembler) call(v *ir.Ins) {
	var cargs []*ir.Ins
	for n := v.Next; n != nil && n.Op == ir.OpCArg; n = n.Next {
		cargs = append(cargs, n)
	}

	// Materialize every argument before the first move into an argument
	// register, so no value is born between two of the moves.
	type argMove struct {
		mov      opcode
		dst, src operand
	}
	var moves []argMove
	gpr, sse := 0, 0
	for _, c := range cargs {
		if c.T.IsFloat() {
			if sse >= len(argXMMs) {
				panic("TODO: more than 8 SSE call arguments")
			}
			moves = append(moves, argMove{movFor(c.T), xmmOpr(argXMMs[sse]), a.inlineMem(c.L)})
			sse++
		} else {
			if gpr >= len(argGPRs) {
				panic("TODO: more than 6 GPR call arguments")
			}
			moves = append(moves, argMove{opMov, gprOpr(argGPRs[gpr], byte(c.T.Size)), a.inlineImmMem(c.L)})
			gpr++
		}
	}
	target := a.inlineLabelMem(v.L)

	for _, m := range moves {
		a.cur.push2(m.mov, m.dst, m.src)
	}
	a.cur.push1(opCall, target)

	if v.T.K != ir.KindVoid {
		if v.T.IsFloat() {
			d := xmmOpr(a.newXMM())
			a.cur.push2(movFor(v.T), d, xmmOpr(xmm0))
			v.VReg = int(d.reg)
		} else {
			size := byte(v.T.Size)
			d := gprOpr(a.newGPR(), size)
			a.cur.push2(opMov, d, gprOpr(rax, size))
			v.VReg = int(d.reg)
		}
	}
}

func (a *assembler) ret(v *ir.Ins) {
	if v.L != nil {
		t := v.L.T
		switch {
		case t.IsFloat():
			a.cur.push2(movFor(t), xmmOpr(xmm0), a.discharge(v.L))
		case t.Size < 4:
			a.cur.push2(opMovsx, gprOpr(rax, 4), a.discharge(v.L))
		default:
			a.cur.push2(opMov, gprOpr(rax, byte(t.Size)), a.inlineImmMem(v.L))
		}
	}
	a.patches = append(a.patches, a.cur.push2(opAdd, gprOpr(rsp, 8), immOpr(0)))
	a.cur.push1(opPop, gprOpr(rbp, 8))
	a.cur.push0(opRet)
}
