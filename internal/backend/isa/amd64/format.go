package amd64

import (
	"fmt"
	"math"
	"strings"
)

// fpLabel names one entry of a function's floating-point constant pool.
func fpLabel(fn string, bytes, idx int) string {
	return fmt.Sprintf(".L%s_f%d_%d", fn, bytes*8, idx)
}

// suffix returns the AT&T size suffix derived from a sized operand, or ""
// for operands whose instruction does not take one.
func suffix(o *operand) string {
	switch o.kind {
	case oprGPR, oprMem, oprDeref:
		return sizeSuffix[sizeIdx(o.size)]
	}
	return ""
}

// String renders the instruction in AT&T syntax: sources before
// destinations, size suffixes on the integer operations.
func (i *instruction) String() string {
	switch i.op {
	case opCwd, opCdq, opCqo, opRet:
		return i.op.String()
	case opPush, opPop:
		return fmt.Sprintf("%sq %s", i.op, i.l.format())
	case opIdiv, opDiv:
		return fmt.Sprintf("%s%s %s", i.op, suffix(&i.l), i.l.format())
	case opSete, opSetne, opSetl, opSetle, opSetg, opSetge,
		opSetb, opSetbe, opSeta, opSetae:
		return fmt.Sprintf("%s %s", i.op, i.l.format())
	case opJmp, opJe, opJne, opJl, opJle, opJg, opJge, opJb, opJbe, opJa, opJae:
		return fmt.Sprintf("%s %s", i.op, i.l.format())
	case opCall:
		if i.l.kind == oprLabel {
			return fmt.Sprintf("call %s", i.l.format())
		}
		return fmt.Sprintf("call *%s", i.l.format())
	case opMovsx, opMovzx:
		// Two-letter suffix: source size then destination size.
		base := "movs"
		if i.op == opMovzx {
			base = "movz"
		}
		return fmt.Sprintf("%s%s%s %s, %s",
			base, suffix(&i.r), suffix(&i.l), i.r.format(), i.l.format())
	case opLea:
		return fmt.Sprintf("leaq %s, %s", i.r.format(), i.l.format())
	case opMovss, opMovsd,
		opAddss, opAddsd, opSubss, opSubsd, opMulss, opMulsd, opDivss, opDivsd,
		opUcomiss, opUcomisd,
		opCvtss2sd, opCvtsd2ss, opCvttss2si, opCvttsd2si, opCvtsi2ss, opCvtsi2sd:
		return fmt.Sprintf("%s %s, %s", i.op, i.r.format(), i.l.format())
	default:
		// The two-operand integer forms.
		return fmt.Sprintf("%s%s %s, %s", i.op, suffix(&i.l), i.r.format(), i.l.format())
	}
}

// Format renders the whole function as GNU-assembler text, including its
// floating-point constant pools.
func (f *Fn) Format() string {
	var sb strings.Builder
	sb.WriteString(".text\n")
	fmt.Fprintf(&sb, ".globl %s\n", f.Name)
	fmt.Fprintf(&sb, "%s:\n", f.Name)
	for b := f.first; b != nil; b = b.next {
		if b.id > 0 {
			fmt.Fprintf(&sb, "%s:\n", b.name)
		}
		for i := b.head; i != nil; i = i.next {
			fmt.Fprintf(&sb, "\t%s\n", i)
		}
	}
	if len(f.f32s) > 0 || len(f.f64s) > 0 {
		sb.WriteString(".section .rodata\n")
		for idx, v := range f.f32s {
			fmt.Fprintf(&sb, "%s:\n\t.long 0x%08x\n", fpLabel(f.Name, 4, idx), math.Float32bits(v))
		}
		for idx, v := range f.f64s {
			fmt.Fprintf(&sb, "%s:\n\t.quad 0x%016x\n", fpLabel(f.Name, 8, idx), math.Float64bits(v))
		}
	}
	return sb.String()
}

// String implements fmt.Stringer for debug dumps.
func (f *Fn) String() string { return f.Format() }

// instructions returns the mnemonic forms of every instruction in layout
// order. Tests use it.
func (f *Fn) instructions() []string {
	var out []string
	for b := f.first; b != nil; b = b.next {
		for i := b.head; i != nil; i = i.next {
			out = append(out, i.String())
		}
	}
	return out
}
