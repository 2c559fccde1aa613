package amd64

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cminor/cminor/internal/ir"
)

// lowerText parses one textual IR unit and lowers its first function,
// without register allocation.
func lowerText(t *testing.T, src string) *Fn {
	t.Helper()
	globals, err := ir.Parse(strings.NewReader(src))
	require.NoError(t, err)
	for _, g := range globals {
		if g.Fn != nil {
			return Assemble(g.Fn)
		}
	}
	t.Fatal("no function in fixture")
	return nil
}

func TestAssemble_identity(t *testing.T) {
	fn := lowerText(t, `
fn f(i32) i32 {
entry:
  %0 = farg i32 0
  ret %0
}
`)
	require.Equal(t, []string{
		"pushq %rbp",
		"movq %rsp, %rbp",
		"movl %edi, %v16",
		"movl %v16, %eax",
		"popq %rbp",
		"ret",
	}, fn.instructions())
	require.Equal(t, 0, fn.frameSize)
	require.Equal(t, 17, fn.numGPRs)
	require.Equal(t, 16, fn.numSSE)
}

func TestAssemble_add(t *testing.T) {
	fn := lowerText(t, `
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
		"movl %edi, %v16",
		"movl %esi, %v17",
		"movl %v16, %v18",
		"addl %v17, %v18",
		"movl %v18, %eax",
		"popq %rbp",
		"ret",
	}, fn.instructions())
}

func TestAssemble_localVariable(t *testing.T) {
	fn := lowerText(t, `
fn f() i32 {
entry:
  %0 = alloc i32
  %1 = imm i32 42
  store i32 %1, %0
  %2 = load i32 %0
  ret %2
}
`)
	// The 4-byte slot aligns up to a 16-byte frame; the immediate store and
	// the load inline the slot address.
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
	require.Equal(t, 16, fn.frameSize)
}

func TestAssemble_noAllocNoFrame(t *testing.T) {
	fn := lowerText(t, `
fn f() i32 {
entry:
  %0 = imm i32 7
  ret %0
}
`)
	for _, s := range fn.instructions() {
		require.NotContains(t, s, "subq")
		require.NotContains(t, s, "addq")
	}
	require.Equal(t, 0, fn.frameSize)
}

func TestAssemble_condBr(t *testing.T) {
	fn := lowerText(t, `
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
	// The true branch falls through, so the condition is inverted and no
	// setcc is produced.
	require.Equal(t, []string{
		"pushq %rbp",
		"movq %rsp, %rbp",
		"movl %edi, %v16",
		"movl %esi, %v17",
		"cmpl %v17, %v16",
		"jge .Lf_2",
		"movl $1, %eax",
		"popq %rbp",
		"ret",
		"movl $2, %eax",
		"popq %rbp",
		"ret",
	}, fn.instructions())
}

func TestAssemble_cmpAsValue(t *testing.T) {
	fn := lowerText(t, `
fn f(i32, i32) i32 {
entry:
  %0 = farg i32 0
  %1 = farg i32 1
  %2 = slt i32 %0, %1
  ret %2
}
`)
	// A comparison demanded as a value goes through setcc plus a mask.
	require.Equal(t, []string{
		"pushq %rbp",
		"movq %rsp, %rbp",
		"movl %edi, %v16",
		"movl %esi, %v17",
		"cmpl %v17, %v16",
		"setl %v18",
		"andl $1, %v18",
		"movl %v18, %eax",
		"popq %rbp",
		"ret",
	}, fn.instructions())
}

func TestAssemble_division(t *testing.T) {
	fn := lowerText(t, `
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
		"movl %edi, %v16",
		"movl %esi, %v17",
		"movl %v16, %eax",
		"cdq",
		"idivl %v17",
		"movl %eax, %v18",
		"movl %v18, %eax",
		"popq %rbp",
		"ret",
	}, fn.instructions())
}

func TestAssemble_fpConstantPool(t *testing.T) {
	fn := lowerText(t, `
fn f() f64 {
entry:
  %0 = fp f64 1.5
  ret %0
}
`)
	require.Equal(t, []string{
		"pushq %rbp",
		"movq %rsp, %rbp",
		"movsd .Lf_f64_0(%rip), %vx16",
		"movsd %vx16, %xmm0",
		"popq %rbp",
		"ret",
	}, fn.instructions())
	require.Equal(t, []float64{1.5}, fn.f64s)
	require.Contains(t, fn.Format(), ".Lf_f64_0:")
}

func TestAssemble_ptrAdd(t *testing.T) {
	fn := lowerText(t, `
fn f() i32 {
entry:
  %0 = alloc i64
  %1 = imm i64 4
  %2 = ptradd %0, %1
  %3 = load i32 %2
  ret %3
}
`)
	require.Equal(t, []string{
		"pushq %rbp",
		"movq %rsp, %rbp",
		"subq $16, %rsp",
		"leaq -8(%rbp), %v16", // re-materialized alloc address
		"leaq 4(%v16), %v17",  // immediate offset folds into the lea
		"movl (%v17), %eax",
		"addq $16, %rsp",
		"popq %rbp",
		"ret",
	}, fn.instructions())
}

func TestAssemble_ptrAddZeroAliases(t *testing.T) {
	fn := lowerText(t, `
fn f(ptr) i32 {
entry:
  %0 = farg ptr 0
  %1 = imm i64 0
  %2 = ptradd %0, %1
  %3 = load i32 %2
  ret %3
}
`)
	// Adding literal zero produces no lea; the result aliases the pointer.
	require.Equal(t, []string{
		"pushq %rbp",
		"movq %rsp, %rbp",
		"movq %rdi, %v16",
		"movl (%v16), %eax",
		"popq %rbp",
		"ret",
	}, fn.instructions())
}

func TestAssemble_callWithArgs(t *testing.T) {
	fn := lowerText(t, `
fn f(i32) i32 {
entry:
  %0 = farg i32 0
  %1 = global @ext
  %2 = imm i32 9
  %3 = call i32 %1
  carg i32 %0
  carg i32 %2
  %4 = add i32 %0, %3
  ret %4
}
`)
	require.Equal(t, []string{
		"pushq %rbp",
		"movq %rsp, %rbp",
		"movl %edi, %v16",
		"movl %v16, %edi",
		"movl $9, %esi",
		"call ext",
		"movl %eax, %v17",
		"movl %v16, %v18",
		"addl %v17, %v18",
		"movl %v18, %eax",
		"popq %rbp",
		"ret",
	}, fn.instructions())
}

func TestAssemble_shiftByRegisterUsesCL(t *testing.T) {
	fn := lowerText(t, `
fn f(i32, i32) i32 {
entry:
  %0 = farg i32 0
  %1 = farg i32 1
  %2 = shl i32 %0, %1
  ret %2
}
`)
	require.Equal(t, []string{
		"pushq %rbp",
		"movq %rsp, %rbp",
		"movl %edi, %v16",
		"movl %esi, %v17",
		"movl %v16, %v18",
		"movb %v17, %cl",
		"shll %cl, %v18",
		"movl %v18, %eax",
		"popq %rbp",
		"ret",
	}, fn.instructions())
}

func TestAssemble_conversions(t *testing.T) {
	fn := lowerText(t, `
fn f(i8) i64 {
entry:
  %0 = farg i8 0
  %1 = sext i64 %0
  ret %1
}
`)
	require.Equal(t, []string{
		"pushq %rbp",
		"movq %rsp, %rbp",
		"movb %dil, %v16",
		"movsbq %v16, %v17",
		"movq %v17, %rax",
		"popq %rbp",
		"ret",
	}, fn.instructions())
}

func TestAssemble_floatCompareBranch(t *testing.T) {
	fn := lowerText(t, `
fn f(f64, f64) i32 {
entry:
  %0 = farg f64 0
  %1 = farg f64 1
  %2 = flt i32 %0, %1
  condbr %2, then, else
then:
  %3 = imm i32 1
  ret %3
else:
  %4 = imm i32 0
  ret %4
}
`)
	// The compare comes from the operand types (f64), not the i32 result.
	require.Equal(t, []string{
		"pushq %rbp",
		"movq %rsp, %rbp",
		"movsd %xmm0, %vx16",
		"movsd %xmm1, %vx17",
		"ucomisd %vx17, %vx16",
		"jae .Lf_2",
		"movl $1, %eax",
		"popq %rbp",
		"ret",
		"movl $0, %eax",
		"popq %rbp",
		"ret",
	}, fn.instructions())
}

func TestAssemble_floatConversions(t *testing.T) {
	fn := lowerText(t, `
fn f(f32) f64 {
entry:
  %0 = farg f32 0
  %1 = fext f64 %0
  ret %1
}
`)
	require.Equal(t, []string{
		"pushq %rbp",
		"movq %rsp, %rbp",
		"movss %xmm0, %vx16",
		"cvtss2sd %vx16, %vx17",
		"movsd %vx17, %xmm0",
		"popq %rbp",
		"ret",
	}, fn.instructions())
}

func TestAssemble_intFloatConversions(t *testing.T) {
	fn := lowerText(t, `
fn f(i32) i32 {
entry:
  %0 = farg i32 0
  %1 = i2fp f64 %0
  %2 = fp2i i32 %1
  ret %2
}
`)
	require.Equal(t, []string{
		"pushq %rbp",
		"movq %rsp, %rbp",
		"movl %edi, %v16",
		"cvtsi2sd %v16, %vx16",
		"cvttsd2si %vx16, %v17",
		"movl %v17, %eax",
		"popq %rbp",
		"ret",
	}, fn.instructions())
}

func TestAssemble_globalStore(t *testing.T) {
	fn := lowerText(t, `
global counter
fn f(i32) void {
entry:
  %0 = farg i32 0
  %1 = global @counter
  store i32 %0, %1
  ret
}
`)
	require.Equal(t, []string{
		"pushq %rbp",
		"movq %rsp, %rbp",
		"movl %edi, %v16",
		"movl %v16, counter(%rip)",
		"popq %rbp",
		"ret",
	}, fn.instructions())
}
