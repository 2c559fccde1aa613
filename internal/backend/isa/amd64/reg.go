package amd64

import "fmt"

// Reg is a register id. Physical and virtual registers of one class share the
// same numeric space: ids [0, numPregs) name the physical file, ids from
// numPregs up are virtual registers handed out by the assembler. GPR and XMM
// ids overlap numerically; the operand kind tells them apart.
type Reg int

const regNone Reg = -1

// Physical general-purpose registers, in encoding order.
const (
	rax Reg = iota
	rcx
	rdx
	rbx
	rsp
	rbp
	rsi
	rdi
	r8
	r9
	r10
	r11
	r12
	r13
	r14
	r15
)

// Physical SSE registers.
const (
	xmm0 Reg = iota
	xmm1
	xmm2
	xmm3
	xmm4
	xmm5
	xmm6
	xmm7
	xmm8
	xmm9
	xmm10
	xmm11
	xmm12
	xmm13
	xmm14
	xmm15
)

// numPregs is the size of each physical register file. Virtual register ids
// start at numPregs in both classes.
const numPregs = 16

func (r Reg) isVirtual() bool { return r >= numPregs }

// regClass selects which register file an allocation run works on.
type regClass byte

const (
	regClassGPR regClass = iota
	regClassSSE
)

// String implements fmt.Stringer.
func (c regClass) String() string {
	if c == regClassGPR {
		return "gpr"
	}
	return "sse"
}

// System V AMD64 argument registers, in order.
var (
	argGPRs = [6]Reg{rdi, rsi, rdx, rcx, r8, r9}
	argXMMs = [8]Reg{xmm0, xmm1, xmm2, xmm3, xmm4, xmm5, xmm6, xmm7}
)

// callerSavedGPRs are clobbered by a call under the System V ABI. All sixteen
// XMM registers are caller-saved; sseClobbers lists every one of them.
var callerSavedGPRs = [9]Reg{rax, rdi, rsi, rdx, rcx, r8, r9, r10, r11}

var gprNames = [4][numPregs]string{
	{"al", "cl", "dl", "bl", "spl", "bpl", "sil", "dil", "r8b", "r9b", "r10b", "r11b", "r12b", "r13b", "r14b", "r15b"},
	{"ax", "cx", "dx", "bx", "sp", "bp", "si", "di", "r8w", "r9w", "r10w", "r11w", "r12w", "r13w", "r14w", "r15w"},
	{"eax", "ecx", "edx", "ebx", "esp", "ebp", "esi", "edi", "r8d", "r9d", "r10d", "r11d", "r12d", "r13d", "r14d", "r15d"},
	{"rax", "rcx", "rdx", "rbx", "rsp", "rbp", "rsi", "rdi", "r8", "r9", "r10", "r11", "r12", "r13", "r14", "r15"},
}

func sizeIdx(bytes byte) int {
	switch bytes {
	case 1:
		return 0
	case 2:
		return 1
	case 4:
		return 2
	case 8:
		return 3
	default:
		panic(fmt.Sprintf("BUG: invalid register size %d", bytes))
	}
}

// gprName returns the AT&T name of a physical GPR at the given access size.
func gprName(r Reg, bytes byte) string {
	return gprNames[sizeIdx(bytes)][r]
}

func xmmName(r Reg) string {
	return fmt.Sprintf("xmm%d", r)
}

var sizeSuffix = [4]string{"b", "w", "l", "q"}
