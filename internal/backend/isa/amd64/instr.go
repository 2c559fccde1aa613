package amd64

import (
	"fmt"

	mapset "github.com/deckarep/golang-set/v2"
)

// instruction is one x86-64 instruction with up to two operands. l is the
// written operand for every opcode in defsLeft.
type instruction struct {
	op   opcode
	l, r operand

	// n is the instruction's program point, assigned by Fn.number before
	// liveness analysis. Strictly increasing in layout order.
	n int

	prev, next *instruction
	blk        *block
}

// block is one assembly basic block: a doubly-linked instruction list plus
// the analysis state the register allocator attaches to it.
type block struct {
	id   int
	name string

	head, tail *instruction
	prev, next *block

	// Filled in by computeCFG.
	preds, succs mapset.Set[*block]
	// Live registers at block entry for the class currently being allocated.
	liveIn *regSet
}

func (b *block) push(i *instruction) *instruction {
	i.blk = b
	i.prev = b.tail
	i.next = nil
	if b.tail != nil {
		b.tail.next = i
	} else {
		b.head = i
	}
	b.tail = i
	return i
}

func (b *block) push0(op opcode) *instruction {
	return b.push(&instruction{op: op})
}

func (b *block) push1(op opcode, l operand) *instruction {
	return b.push(&instruction{op: op, l: l})
}

func (b *block) push2(op opcode, l, r operand) *instruction {
	return b.push(&instruction{op: op, l: l, r: r})
}

// remove unlinks i from the block.
func (b *block) remove(i *instruction) {
	if i.blk != b {
		panic("BUG: removing instruction from the wrong block")
	}
	if i.prev != nil {
		i.prev.next = i.next
	} else {
		b.head = i.next
	}
	if i.next != nil {
		i.next.prev = i.prev
	} else {
		b.tail = i.prev
	}
	i.prev, i.next, i.blk = nil, nil, nil
}

// Fn is one assembled function: a doubly-linked list of basic blocks plus the
// function's floating-point constant pools and virtual register high-water
// marks.
type Fn struct {
	Name string

	first, last *block

	// Constant pools, referenced by oprF32/oprF64 operands and emitted into
	// the read-only data section.
	f32s []float32
	f64s []float64

	// Upper bound (exclusive) of handed-out register ids per class. Equal to
	// numPregs when the function uses no virtual registers of a class.
	numGPRs, numSSE int

	// Bytes of local stack, after the 16-byte alignment patch.
	frameSize int
}

func newFn(name string) *Fn {
	return &Fn{Name: name, numGPRs: numPregs, numSSE: numPregs}
}

func (f *Fn) newBlock() *block {
	b := &block{}
	if f.last != nil {
		b.id = f.last.id + 1
		f.last.next = b
		b.prev = f.last
	} else {
		f.first = b
	}
	f.last = b
	b.name = fmt.Sprintf(".L%s_%d", f.Name, b.id)
	return b
}

// number assigns strictly increasing program points to every instruction,
// leaving one spare value after each block to stand for the end-of-block
// point that live-out registers are seeded at.
func (f *Fn) number() {
	n := 0
	for b := f.first; b != nil; b = b.next {
		for i := b.head; i != nil; i = i.next {
			i.n = n
			n++
		}
		n++
	}
}

// computeCFG fills every block's predecessor and successor sets from its
// terminator: an unconditional jump's target, or a conditional jump's target
// plus the fall-through.
func (f *Fn) computeCFG() {
	for b := f.first; b != nil; b = b.next {
		b.preds = mapset.NewThreadUnsafeSet[*block]()
		b.succs = mapset.NewThreadUnsafeSet[*block]()
	}
	for b := f.first; b != nil; b = b.next {
		last := b.tail
		if last == nil {
			if b.next != nil {
				link(b, b.next)
			}
			continue
		}
		switch last.op {
		case opJmp:
			link(b, last.l.bb)
		case opJe, opJne, opJl, opJle, opJg, opJge, opJb, opJbe, opJa, opJae:
			link(b, last.l.bb)
			if b.next != nil {
				link(b, b.next)
			}
		case opRet:
			// No successors.
		default:
			if b.next != nil {
				link(b, b.next)
			}
		}
	}
}

func link(from, to *block) {
	from.succs.Add(to)
	to.preds.Add(from)
}
