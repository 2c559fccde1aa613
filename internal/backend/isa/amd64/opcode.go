package amd64

import "github.com/cminor/cminor/internal/ir"

// opcode is an x86-64 instruction opcode.
type opcode byte

const (
	opInvalid opcode = iota

	// Data movement.
	opMov
	opMovsx
	opMovzx
	opMovss
	opMovsd
	opLea
	opPush
	opPop

	// Integer arithmetic.
	opAdd
	opSub
	opImul
	opAnd
	opOr
	opXor
	opShl
	opSar
	opShr
	opCwd
	opCdq
	opCqo
	opIdiv
	opDiv

	// SSE arithmetic.
	opAddss
	opAddsd
	opSubss
	opSubsd
	opMulss
	opMulsd
	opDivss
	opDivsd

	// Comparisons.
	opCmp
	opUcomiss
	opUcomisd

	// Set-on-condition.
	opSete
	opSetne
	opSetl
	opSetle
	opSetg
	opSetge
	opSetb
	opSetbe
	opSeta
	opSetae

	// Conversions.
	opCvtss2sd
	opCvtsd2ss
	opCvttss2si
	opCvttsd2si
	opCvtsi2ss
	opCvtsi2sd

	// Control flow.
	opJmp
	opJe
	opJne
	opJl
	opJle
	opJg
	opJge
	opJb
	opJbe
	opJa
	opJae
	opCall
	opRet

	numOpcodes
)

var opcodeNames = [numOpcodes]string{
	opMov: "mov", opMovsx: "movsx", opMovzx: "movzx", opMovss: "movss", opMovsd: "movsd",
	opLea: "lea", opPush: "push", opPop: "pop",
	opAdd: "add", opSub: "sub", opImul: "imul", opAnd: "and", opOr: "or", opXor: "xor",
	opShl: "shl", opSar: "sar", opShr: "shr",
	opCwd: "cwd", opCdq: "cdq", opCqo: "cqo", opIdiv: "idiv", opDiv: "div",
	opAddss: "addss", opAddsd: "addsd", opSubss: "subss", opSubsd: "subsd",
	opMulss: "mulss", opMulsd: "mulsd", opDivss: "divss", opDivsd: "divsd",
	opCmp: "cmp", opUcomiss: "ucomiss", opUcomisd: "ucomisd",
	opSete: "sete", opSetne: "setne", opSetl: "setl", opSetle: "setle",
	opSetg: "setg", opSetge: "setge", opSetb: "setb", opSetbe: "setbe",
	opSeta: "seta", opSetae: "setae",
	opCvtss2sd: "cvtss2sd", opCvtsd2ss: "cvtsd2ss",
	opCvttss2si: "cvttss2si", opCvttsd2si: "cvttsd2si",
	opCvtsi2ss: "cvtsi2ss", opCvtsi2sd: "cvtsi2sd",
	opJmp: "jmp", opJe: "je", opJne: "jne", opJl: "jl", opJle: "jle",
	opJg: "jg", opJge: "jge", opJb: "jb", opJbe: "jbe", opJa: "ja", opJae: "jae",
	opCall: "call", opRet: "ret",
}

// String implements fmt.Stringer.
func (o opcode) String() string { return opcodeNames[o] }

// defsLeft marks the opcodes that write their left operand. The liveness scan
// uses it to kill a register at its definition.
var defsLeft = [numOpcodes]bool{
	opMov: true, opMovsx: true, opMovzx: true, opMovss: true, opMovsd: true,
	opLea: true, opPop: true,
	opAdd: true, opSub: true, opImul: true, opAnd: true, opOr: true, opXor: true,
	opShl: true, opSar: true, opShr: true,
	opAddss: true, opAddsd: true, opSubss: true, opSubsd: true,
	opMulss: true, opMulsd: true, opDivss: true, opDivsd: true,
	opSete: true, opSetne: true, opSetl: true, opSetle: true,
	opSetg: true, opSetge: true, opSetb: true, opSetbe: true,
	opSeta: true, opSetae: true,
	opCvtss2sd: true, opCvtsd2ss: true,
	opCvttss2si: true, opCvttsd2si: true,
	opCvtsi2ss: true, opCvtsi2sd: true,
}

// isMov reports the plain register-to-register copies that the coalescer and
// the redundant-move pass care about.
func (o opcode) isMov() bool {
	switch o {
	case opMov, opMovss, opMovsd:
		return true
	}
	return false
}

func (o opcode) isExtMov() bool { return o == opMovsx || o == opMovzx }

// gprClobbers lists the physical GPRs an opcode writes besides its operands.
var gprClobbers = [numOpcodes][]Reg{
	opCwd:  {rdx},
	opCdq:  {rdx},
	opCqo:  {rdx},
	opIdiv: {rax, rdx},
	opDiv:  {rax, rdx},
	opCall: callerSavedGPRs[:],
}

// sseClobbers lists the physical XMM registers an opcode writes besides its
// operands. Every XMM register is caller-saved under System V.
var sseClobbers = [numOpcodes][]Reg{
	opCall: {xmm0, xmm1, xmm2, xmm3, xmm4, xmm5, xmm6, xmm7, xmm8, xmm9, xmm10, xmm11, xmm12, xmm13, xmm14, xmm15},
}

// invertJmp maps a conditional jump to its negation, used when the true
// branch of a CONDBR is the fall-through block.
var invertJmp = [numOpcodes]opcode{
	opJe:  opJne,
	opJne: opJe,
	opJl:  opJge,
	opJle: opJg,
	opJg:  opJle,
	opJge: opJl,
	opJb:  opJae,
	opJbe: opJa,
	opJa:  opJbe,
	opJae: opJb,
}

// intOp maps binary integer IR opcodes to their x86-64 two-operand form.
var intOp = map[ir.Op]opcode{
	ir.OpAdd:    opAdd,
	ir.OpSub:    opSub,
	ir.OpMul:    opImul,
	ir.OpBitAnd: opAnd,
	ir.OpBitOr:  opOr,
	ir.OpBitXor: opXor,
	ir.OpShl:    opShl,
	ir.OpSar:    opSar,
	ir.OpShr:    opShr,
}

var f32Op = map[ir.Op]opcode{
	ir.OpAdd:  opAddss,
	ir.OpSub:  opSubss,
	ir.OpMul:  opMulss,
	ir.OpFDiv: opDivss,
}

var f64Op = map[ir.Op]opcode{
	ir.OpAdd:  opAddsd,
	ir.OpSub:  opSubsd,
	ir.OpMul:  opMulsd,
	ir.OpFDiv: opDivsd,
}

// setOp maps an IR comparison to the setcc that materializes its result.
// Float comparisons use the unsigned conditions, matching the flags ucomiss
// and ucomisd produce.
var setOp = map[ir.Op]opcode{
	ir.OpEq:  opSete,
	ir.OpNeq: opSetne,
	ir.OpSLt: opSetl,
	ir.OpSLe: opSetle,
	ir.OpSGt: opSetg,
	ir.OpSGe: opSetge,
	ir.OpULt: opSetb,
	ir.OpULe: opSetbe,
	ir.OpUGt: opSeta,
	ir.OpUGe: opSetae,
	ir.OpFLt: opSetb,
	ir.OpFLe: opSetbe,
	ir.OpFGt: opSeta,
	ir.OpFGe: opSetae,
}

// jmpOp maps an IR comparison to the conditional jump taken when it holds.
var jmpOp = map[ir.Op]opcode{
	ir.OpEq:  opJe,
	ir.OpNeq: opJne,
	ir.OpSLt: opJl,
	ir.OpSLe: opJle,
	ir.OpSGt: opJg,
	ir.OpSGe: opJge,
	ir.OpULt: opJb,
	ir.OpULe: opJbe,
	ir.OpUGt: opJa,
	ir.OpUGe: opJae,
	ir.OpFLt: opJb,
	ir.OpFLe: opJbe,
	ir.OpFGt: opJa,
	ir.OpFGe: opJae,
}
