package ir

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Parse reads a compilation unit in the textual IR format:
//
//	fn add(i32, i32) i32 {
//	entry:
//	  %0 = farg i32 0
//	  %1 = farg i32 1
//	  %2 = add i32 %0, %1
//	  ret %2
//	}
//	global counter
//
// Values are referenced as %N and must be defined before use; block labels
// may be referenced before their definition. Comments start with ';'.
func Parse(r io.Reader) ([]*Global, error) {
	p := &parser{
		scanner: bufio.NewScanner(r),
		byName:  map[string]*Global{},
	}
	return p.unit()
}

type parser struct {
	scanner *bufio.Scanner
	line    int

	byName map[string]*Global
}

// global returns the named global, creating a placeholder for forward
// references (a call may name a function defined later in the unit).
func (p *parser) global(name string) *Global {
	if g, ok := p.byName[name]; ok {
		return g
	}
	g := &Global{Label: name}
	p.byName[name] = g
	return g
}

func (p *parser) errf(format string, args ...interface{}) error {
	return errors.Errorf("line %d: "+format, append([]interface{}{p.line}, args...)...)
}

func (p *parser) next() (string, bool) {
	for p.scanner.Scan() {
		p.line++
		line := p.scanner.Text()
		if i := strings.IndexByte(line, ';'); i >= 0 {
			line = line[:i]
		}
		line = strings.TrimSpace(line)
		if line != "" {
			return line, true
		}
	}
	return "", false
}

func (p *parser) unit() ([]*Global, error) {
	var globals []*Global
	for {
		line, ok := p.next()
		if !ok {
			break
		}
		switch {
		case strings.HasPrefix(line, "global "):
			name := strings.TrimSpace(strings.TrimPrefix(line, "global "))
			if name == "" {
				return nil, p.errf("global needs a name")
			}
			globals = append(globals, p.global(name))
		case strings.HasPrefix(line, "fn "):
			g, err := p.fn(line)
			if err != nil {
				return nil, err
			}
			globals = append(globals, g)
		default:
			return nil, p.errf("expected 'fn' or 'global', got %q", line)
		}
	}
	if err := p.scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "reading IR")
	}
	return globals, nil
}

func (p *parser) fn(header string) (*Global, error) {
	rest := strings.TrimPrefix(header, "fn ")
	open := strings.IndexByte(rest, '(')
	closing := strings.IndexByte(rest, ')')
	if open < 0 || closing < open || !strings.HasSuffix(rest, "{") {
		return nil, p.errf("malformed function header %q", header)
	}
	fn := &Fn{Name: strings.TrimSpace(rest[:open])}
	if fn.Name == "" {
		return nil, p.errf("function needs a name")
	}
	for _, s := range strings.Split(rest[open+1:closing], ",") {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		t, err := p.typ(s)
		if err != nil {
			return nil, err
		}
		fn.Params = append(fn.Params, t)
	}
	retStr := strings.TrimSpace(strings.TrimSuffix(rest[closing+1:], "{"))
	ret, err := p.typ(retStr)
	if err != nil {
		return nil, err
	}
	fn.Ret = ret

	st := &fnState{
		fn:     fn,
		vals:   map[int]*Ins{},
		blocks: map[string]*BB{},
	}
	for {
		line, ok := p.next()
		if !ok {
			return nil, p.errf("unexpected end of input in function %s", fn.Name)
		}
		if line == "}" {
			break
		}
		if strings.HasSuffix(line, ":") {
			if err := p.label(st, strings.TrimSuffix(line, ":")); err != nil {
				return nil, err
			}
			continue
		}
		if err := p.ins(st, line); err != nil {
			return nil, err
		}
	}
	if fn.Entry == nil {
		return nil, p.errf("function %s has no blocks", fn.Name)
	}
	for label, b := range st.blocks {
		if !st.placed[b] {
			return nil, p.errf("function %s references undefined block %q", fn.Name, label)
		}
	}
	g := p.global(fn.Name)
	if g.Fn != nil {
		return nil, p.errf("function %s defined twice", fn.Name)
	}
	g.Fn = fn
	return g, nil
}

type fnState struct {
	fn     *Fn
	cur    *BB
	vals   map[int]*Ins
	blocks map[string]*BB
	placed map[*BB]bool
}

// block returns the named block, creating an unplaced one for forward
// references.
func (st *fnState) block(label string) *BB {
	if b, ok := st.blocks[label]; ok {
		return b
	}
	b := &BB{Label: label}
	st.blocks[label] = b
	return b
}

func (p *parser) label(st *fnState, label string) error {
	b := st.block(label)
	if st.placed == nil {
		st.placed = map[*BB]bool{}
	}
	if st.placed[b] {
		return p.errf("duplicate block label %q", label)
	}
	st.placed[b] = true
	if st.fn.last != nil {
		st.fn.last.Next = b
	} else {
		st.fn.Entry = b
	}
	st.fn.last = b
	st.cur = b
	return nil
}

func (p *parser) typ(s string) (*Type, error) {
	switch s {
	case "void":
		return Void, nil
	case "i8":
		return I8, nil
	case "i16":
		return I16, nil
	case "i32":
		return I32, nil
	case "i64":
		return I64, nil
	case "f32":
		return F32, nil
	case "f64":
		return F64, nil
	case "ptr":
		return Ptr(I8), nil
	}
	return nil, p.errf("unknown type %q", s)
}

func (p *parser) val(st *fnState, s string) (*Ins, error) {
	if !strings.HasPrefix(s, "%") {
		return nil, p.errf("expected value reference, got %q", s)
	}
	n, err := strconv.Atoi(s[1:])
	if err != nil {
		return nil, p.errf("bad value reference %q", s)
	}
	v, ok := st.vals[n]
	if !ok {
		return nil, p.errf("use of undefined value %%%d", n)
	}
	return v, nil
}

var opByName = func() map[string]Op {
	m := make(map[string]Op, len(opNames))
	for op, name := range opNames {
		if name != "" {
			m[name] = Op(op)
		}
	}
	return m
}()

func (p *parser) ins(st *fnState, line string) error {
	if st.cur == nil {
		return p.errf("instruction before first block label")
	}

	var dst = -1
	if strings.HasPrefix(line, "%") {
		eq := strings.IndexByte(line, '=')
		if eq < 0 {
			return p.errf("malformed instruction %q", line)
		}
		n, err := strconv.Atoi(strings.TrimSpace(line[1:eq]))
		if err != nil {
			return p.errf("bad result name in %q", line)
		}
		dst = n
		line = strings.TrimSpace(line[eq+1:])
	}

	fields := strings.FieldsFunc(line, func(r rune) bool { return r == ' ' || r == '\t' || r == ',' })
	if len(fields) == 0 {
		return p.errf("empty instruction")
	}
	op, ok := opByName[fields[0]]
	if !ok {
		return p.errf("unknown opcode %q", fields[0])
	}
	args := fields[1:]

	i := &Ins{Op: op}
	var err error
	switch op {
	case OpImm:
		if err = p.want(args, 2); err != nil {
			return err
		}
		if i.T, err = p.typ(args[0]); err != nil {
			return err
		}
		if i.Imm, err = strconv.ParseInt(args[1], 0, 64); err != nil {
			return p.errf("bad integer literal %q", args[1])
		}
	case OpFP:
		if err = p.want(args, 2); err != nil {
			return err
		}
		if i.T, err = p.typ(args[0]); err != nil {
			return err
		}
		if i.FP, err = strconv.ParseFloat(args[1], 64); err != nil {
			return p.errf("bad float literal %q", args[1])
		}
	case OpGlobal:
		if err = p.want(args, 1); err != nil {
			return err
		}
		i.G = p.global(strings.TrimPrefix(args[0], "@"))
		i.T = Ptr(I8)
	case OpFArg:
		if err = p.want(args, 2); err != nil {
			return err
		}
		if i.T, err = p.typ(args[0]); err != nil {
			return err
		}
		if i.N, err = strconv.Atoi(args[1]); err != nil {
			return p.errf("bad argument index %q", args[1])
		}
	case OpAlloc:
		if err = p.want(args, 1); err != nil {
			return err
		}
		var elem *Type
		if elem, err = p.typ(args[0]); err != nil {
			return err
		}
		i.T = Ptr(elem)
	case OpLoad:
		if err = p.want(args, 2); err != nil {
			return err
		}
		if i.T, err = p.typ(args[0]); err != nil {
			return err
		}
		if i.L, err = p.val(st, args[1]); err != nil {
			return err
		}
	case OpStore:
		if err = p.want(args, 3); err != nil {
			return err
		}
		if i.T, err = p.typ(args[0]); err != nil {
			return err
		}
		if i.R, err = p.val(st, args[1]); err != nil {
			return err
		}
		if i.L, err = p.val(st, args[2]); err != nil {
			return err
		}
	case OpPtrAdd:
		if err = p.want(args, 2); err != nil {
			return err
		}
		if i.L, err = p.val(st, args[0]); err != nil {
			return err
		}
		if i.R, err = p.val(st, args[1]); err != nil {
			return err
		}
		i.T = i.L.T
	case OpBr:
		if err = p.want(args, 1); err != nil {
			return err
		}
		i.To = st.block(args[0])
	case OpCondBr:
		if err = p.want(args, 3); err != nil {
			return err
		}
		if i.L, err = p.val(st, args[0]); err != nil {
			return err
		}
		i.To = st.block(args[1])
		i.FalseTo = st.block(args[2])
	case OpCall:
		if err = p.want(args, 2); err != nil {
			return err
		}
		if i.T, err = p.typ(args[0]); err != nil {
			return err
		}
		if i.L, err = p.val(st, args[1]); err != nil {
			return err
		}
	case OpCArg:
		if err = p.want(args, 2); err != nil {
			return err
		}
		if i.T, err = p.typ(args[0]); err != nil {
			return err
		}
		if i.L, err = p.val(st, args[1]); err != nil {
			return err
		}
	case OpRet:
		if len(args) > 1 {
			return p.errf("ret takes at most one value")
		}
		if len(args) == 1 {
			if i.L, err = p.val(st, args[0]); err != nil {
				return err
			}
			i.T = i.L.T
		} else {
			i.T = Void
		}
	default:
		// Binary arithmetic, comparisons, and single-operand conversions all
		// share the "<type> <operands...>" shape.
		if op.IsCmp() || op >= OpAdd && op <= OpShr {
			if err = p.want(args, 3); err != nil {
				return err
			}
			if i.T, err = p.typ(args[0]); err != nil {
				return err
			}
			if i.L, err = p.val(st, args[1]); err != nil {
				return err
			}
			if i.R, err = p.val(st, args[2]); err != nil {
				return err
			}
		} else if op >= OpTrunc && op <= OpI2FP {
			if err = p.want(args, 2); err != nil {
				return err
			}
			if i.T, err = p.typ(args[0]); err != nil {
				return err
			}
			if i.L, err = p.val(st, args[1]); err != nil {
				return err
			}
		} else {
			return p.errf("opcode %s is not valid in the textual form", op)
		}
	}

	st.cur.Push(i)
	if dst >= 0 {
		if _, exists := st.vals[dst]; exists {
			return p.errf("value %%%d assigned twice", dst)
		}
		st.vals[dst] = i
	}
	return nil
}

func (p *parser) want(args []string, n int) error {
	if len(args) != n {
		return p.errf("expected %d operands, got %d", n, len(args))
	}
	return nil
}
