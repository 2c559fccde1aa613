package amd64

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// compileText lowers the first function of the fixture and allocates its
// registers.
func compileText(t *testing.T, src string) *Fn {
	t.Helper()
	fn := lowerText(t, src)
	fn.AllocateRegisters()
	checkAllocated(t, fn)
	return fn
}

// checkAllocated asserts the allocator's universal invariants: no operand
// references a virtual id, and no plain register move has equal operands.
func checkAllocated(t *testing.T, fn *Fn) {
	t.Helper()
	for b := fn.first; b != nil; b = b.next {
		for i := b.head; i != nil; i = i.next {
			for _, o := range [2]*operand{&i.l, &i.r} {
				switch o.kind {
				case oprGPR, oprXMM:
					require.False(t, o.reg.isVirtual(), "unallocated operand in %q", i.String())
				case oprMem:
					require.False(t, o.base.isVirtual(), "unallocated base in %q", i.String())
					if o.idx != regNone {
						require.False(t, o.idx.isVirtual(), "unallocated index in %q", i.String())
					}
				}
			}
			if i.op.isMov() && i.l.kind == i.r.kind &&
				(i.l.kind == oprGPR || i.l.kind == oprXMM) {
				require.NotEqual(t, i.l.reg, i.r.reg, "redundant move %q survived", i.String())
			}
		}
	}
}

func TestAllocate_identity(t *testing.T) {
	fn := compileText(t, `
fn f(i32) i32 {
entry:
  %0 = farg i32 0
  ret %0
}
`)
	require.Equal(t, []string{
		"pushq %rbp",
		"movq %rsp, %rbp",
		"movl %edi, %eax",
		"popq %rbp",
		"ret",
	}, fn.instructions())
}

func TestAllocate_addCoalescesIntoArgAndResult(t *testing.T) {
	fn := compileText(t, `
fn f(i32, i32) i32 {
entry:
  %0 = farg i32 0
  %1 = farg i32 1
  %2 = add i32 %0, %1
  ret %2
}
`)
	require.Equal(t, []string{
		"pushq %rbp",
		"movq %rsp, %rbp",
		"movl %edi, %eax",
		"addl %esi, %eax",
		"popq %rbp",
		"ret",
	}, fn.instructions())
}

func TestAllocate_localVariableKeepsFrame(t *testing.T) {
	fn := compileText(t, `
fn f() i32 {
entry:
  %0 = alloc i32
  %1 = imm i32 42
  store i32 %1, %0
  %2 = load i32 %0
  ret %2
}
`)
	require.Equal(t, []string{
		"pushq %rbp",
		"movq %rsp, %rbp",
		"subq $16, %rsp",
		"movl $42, -4(%rbp)",
		"movl -4(%rbp), %eax",
		"addq $16, %rsp",
		"popq %rbp",
		"ret",
	}, fn.instructions())
}

func TestAllocate_branchOnSignedLess(t *testing.T) {
	fn := compileText(t, `
fn f(i32, i32) i32 {
entry:
  %0 = farg i32 0
  %1 = farg i32 1
  %2 = slt i32 %0, %1
  condbr %2, then, else
then:
  %3 = imm i32 1
  ret %3
else:
  %4 = imm i32 2
  ret %4
}
`)
	require.Equal(t, []string{
		"pushq %rbp",
		"movq %rsp, %rbp",
		"cmpl %esi, %edi",
		"jge .Lf_2",
		"movl $1, %eax",
		"popq %rbp",
		"ret",
		"movl $2, %eax",
		"popq %rbp",
		"ret",
	}, fn.instructions())
}

func TestAllocate_floatAdd(t *testing.T) {
	fn := compileText(t, `
fn f(f64, f64) f64 {
entry:
  %0 = farg f64 0
  %1 = farg f64 1
  %2 = add f64 %0, %1
  ret %2
}
`)
	require.Equal(t, []string{
		"pushq %rbp",
		"movq %rsp, %rbp",
		"addsd %xmm1, %xmm0",
		"popq %rbp",
		"ret",
	}, fn.instructions())
}

func TestAllocate_signedDivision(t *testing.T) {
	fn := compileText(t, `
fn f(i32, i32) i32 {
entry:
  %0 = farg i32 0
  %1 = farg i32 1
  %2 = sdiv i32 %0, %1
  ret %2
}
`)
	require.Equal(t, []string{
		"pushq %rbp",
		"movq %rsp, %rbp",
		"movl %edi, %eax",
		"cdq",
		"idivl %esi",
		"popq %rbp",
		"ret",
	}, fn.instructions())
}

func TestAllocate_callerSavedAvoidedAcrossCall(t *testing.T) {
	fn := compileText(t, `
fn f(i32) i32 {
entry:
  %0 = farg i32 0
  %1 = global @ext
  %2 = call i32 %1
  %3 = add i32 %0, %2
  ret %3
}
`)
	// The argument is live across the call, so it lands in a callee-saved
	// register while the call result stays in rax.
	require.Equal(t, []string{
		"pushq %rbp",
		"movq %rsp, %rbp",
		"movl %edi, %ebx",
		"call ext",
		"addl %eax, %ebx",
		"movl %ebx, %eax",
		"popq %rbp",
		"ret",
	}, fn.instructions())
}

func TestAllocate_mixedClassesUseOwnCounts(t *testing.T) {
	// The SSE run must size itself from the SSE register count, not the GPR
	// one; the classes hand out different numbers of virtual registers here.
	fn := compileText(t, `
fn f(f64, f64, i32) f64 {
entry:
  %0 = farg f64 0
  %1 = farg f64 1
  %2 = farg i32 2
  %3 = add f64 %0, %1
  ret %3
}
`)
	require.Equal(t, []string{
		"pushq %rbp",
		"movq %rsp, %rbp",
		"addsd %xmm1, %xmm0",
		"popq %rbp",
		"ret",
	}, fn.instructions())
}

func TestAllocate_countdownLoop(t *testing.T) {
	fn := compileText(t, `
fn f(i32) i32 {
entry:
  %0 = farg i32 0
  %1 = alloc i32
  store i32 %0, %1
  br head
head:
  %2 = load i32 %1
  %3 = imm i32 0
  %4 = sgt i32 %2, %3
  condbr %4, body, done
body:
  %5 = load i32 %1
  %6 = imm i32 1
  %7 = sub i32 %5, %6
  store i32 %7, %1
  br head
done:
  %8 = load i32 %1
  ret %8
}
`)
	require.Equal(t, []string{
		"pushq %rbp",
		"movq %rsp, %rbp",
		"subq $16, %rsp",
		"movl %edi, -4(%rbp)",
		"movl -4(%rbp), %eax",
		"cmpl $0, %eax",
		"jle .Lf_3",
		"movl -4(%rbp), %eax",
		"subl $1, %eax",
		"movl %eax, -4(%rbp)",
		"jmp .Lf_1",
		"movl -4(%rbp), %eax",
		"addq $16, %rsp",
		"popq %rbp",
		"ret",
	}, fn.instructions())
}

func TestAllocate_idempotent(t *testing.T) {
	fn := compileText(t, `
fn f(i32) i32 {
entry:
  %0 = farg i32 0
  ret %0
}
`)
	before := fn.instructions()
	fn.AllocateRegisters()
	require.Equal(t, before, fn.instructions())
}

func TestAllocate_spillIsFatal(t *testing.T) {
	// Fifteen simultaneously-live pointers exceed the fourteen allocatable
	// GPRs; until spill code generation exists this must abort.
	var sb strings.Builder
	sb.WriteString("fn f() void {\nentry:\n  %0 = alloc i64\n")
	for k := 1; k <= 15; k++ {
		fmt.Fprintf(&sb, "  %%%d = imm i64 %d\n", 2*k-1, k*8)
		fmt.Fprintf(&sb, "  %%%d = ptradd %%0, %%%d\n", 2*k, 2*k-1)
	}
	for k := 1; k <= 15; k++ {
		fmt.Fprintf(&sb, "  store i64 %%1, %%%d\n", 2*k)
	}
	sb.WriteString("  ret\n}\n")

	fn := lowerText(t, sb.String())
	msg := func() (r any) {
		defer func() { r = recover() }()
		fn.AllocateRegisters()
		return nil
	}()
	require.NotNil(t, msg)
	require.Contains(t, fmt.Sprint(msg), "TODO: spill")
}

func TestAllocate_highPressureStaysWithinFile(t *testing.T) {
	// Thirteen live pointers, plus the transient re-materialized slot
	// address, peak at exactly the fourteen allocatable GPRs.
	var sb strings.Builder
	sb.WriteString("fn f() void {\nentry:\n  %0 = alloc i64\n")
	for k := 1; k <= 13; k++ {
		fmt.Fprintf(&sb, "  %%%d = imm i64 %d\n", 2*k-1, k*8)
		fmt.Fprintf(&sb, "  %%%d = ptradd %%0, %%%d\n", 2*k, 2*k-1)
	}
	for k := 1; k <= 13; k++ {
		fmt.Fprintf(&sb, "  store i64 %%1, %%%d\n", 2*k)
	}
	sb.WriteString("  ret\n}\n")

	compileText(t, sb.String())
}
