package amd64

import "fmt"

// operandKind is the tag of an operand.
type operandKind byte

const (
	oprInvalid operandKind = iota
	oprImm                 // 64-bit immediate
	oprF32                 // index into the function's f32 constant pool
	oprF64                 // index into the function's f64 constant pool
	oprGPR                 // general-purpose register with an access size
	oprXMM                 // SSE register
	oprMem                 // base + index*scale + disp
	oprDeref               // RIP-relative reference to a symbol
	oprLabel               // bare symbol, for direct calls
	oprBB                  // branch target
)

// operand is one x86-64 instruction operand.
type operand struct {
	kind operandKind

	imm   int64 // oprImm
	fp    int   // oprF32, oprF64: constant pool index
	reg   Reg   // oprGPR, oprXMM
	size  byte  // oprGPR: register access size; oprMem: access size in bytes
	base  Reg   // oprMem
	idx   Reg   // oprMem; regNone if absent
	scale byte  // oprMem: 1, 2, 4, or 8
	disp  int32 // oprMem
	label string
	bb    *block
}

func immOpr(v int64) operand { return operand{kind: oprImm, imm: v} }

func fpOpr(bytes int, idx int) operand {
	if bytes == 4 {
		return operand{kind: oprF32, fp: idx}
	}
	return operand{kind: oprF64, fp: idx}
}

func gprOpr(r Reg, bytes byte) operand {
	return operand{kind: oprGPR, reg: r, size: bytes}
}

func xmmOpr(r Reg) operand { return operand{kind: oprXMM, reg: r} }

func memOpr(base Reg, disp int32, bytes byte) operand {
	return operand{kind: oprMem, base: base, idx: regNone, scale: 1, disp: disp, size: bytes}
}

func memIdxOpr(base, idx Reg, scale byte, disp int32, bytes byte) operand {
	return operand{kind: oprMem, base: base, idx: idx, scale: scale, disp: disp, size: bytes}
}

func derefOpr(label string, bytes byte) operand {
	return operand{kind: oprDeref, label: label, size: bytes}
}

func labelOpr(label string) operand { return operand{kind: oprLabel, label: label} }

func bbOpr(b *block) operand { return operand{kind: oprBB, bb: b} }

// isReg reports whether the operand is a register of the given class.
func (o *operand) isReg(class regClass) bool {
	if class == regClassGPR {
		return o.kind == oprGPR
	}
	return o.kind == oprXMM
}

// format renders the operand in AT&T syntax. Virtual registers render as
// %v<id> (GPR) or %vx<id> (XMM); they only survive in pre-allocation dumps.
func (o *operand) format() string {
	switch o.kind {
	case oprImm:
		return fmt.Sprintf("$%d", o.imm)
	case oprF32, oprF64:
		if o.label != "" {
			return fmt.Sprintf("%s(%%rip)", o.label)
		}
		if o.kind == oprF32 {
			return fmt.Sprintf("<f32 #%d>", o.fp)
		}
		return fmt.Sprintf("<f64 #%d>", o.fp)
	case oprGPR:
		return "%" + formatGPR(o.reg, o.size)
	case oprXMM:
		if o.reg.isVirtual() {
			return fmt.Sprintf("%%vx%d", o.reg)
		}
		return "%" + xmmName(o.reg)
	case oprMem:
		base := "%" + formatGPR(o.base, 8)
		if o.idx == regNone {
			if o.disp == 0 {
				return fmt.Sprintf("(%s)", base)
			}
			return fmt.Sprintf("%d(%s)", o.disp, base)
		}
		idx := "%" + formatGPR(o.idx, 8)
		if o.disp == 0 {
			return fmt.Sprintf("(%s,%s,%d)", base, idx, o.scale)
		}
		return fmt.Sprintf("%d(%s,%s,%d)", o.disp, base, idx, o.scale)
	case oprDeref:
		return fmt.Sprintf("%s(%%rip)", o.label)
	case oprLabel:
		return o.label
	case oprBB:
		return o.bb.name
	default:
		panic("BUG: invalid operand kind")
	}
}

func formatGPR(r Reg, bytes byte) string {
	if r.isVirtual() {
		return fmt.Sprintf("v%d", r)
	}
	return gprName(r, bytes)
}
