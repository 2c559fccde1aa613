// Package backend drives code generation for a compilation unit: every
// global carrying an IR function is lowered to x86-64 by instruction
// selection, then run through graph-coloring register allocation.
package backend

import (
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/cminor/cminor/internal/backend/isa/amd64"
	"github.com/cminor/cminor/internal/ir"
)

// Compiled pairs one global with its generated assembly function. Data
// globals carry no assembly.
type Compiled struct {
	*ir.Global
	Asm *amd64.Fn
}

// Compile lowers the unit. The returned slice parallels the input globals.
func Compile(globals []*ir.Global) []Compiled {
	out := make([]Compiled, 0, len(globals))
	for _, g := range globals {
		c := Compiled{Global: g}
		if g.Fn != nil {
			log := logrus.WithField("fn", g.Label)
			log.Debug("selecting instructions")
			c.Asm = amd64.Assemble(g.Fn)
			log.Debug("allocating registers")
			c.Asm.AllocateRegisters()
		}
		out = append(out, c)
	}
	return out
}

// EmitText renders the compiled unit as GNU-assembler text. Data globals
// become common symbols; their sizes are not part of the IR, so they reserve
// one 8-byte slot.
func EmitText(unit []Compiled) string {
	var sb strings.Builder
	for _, c := range unit {
		if c.Asm != nil {
			sb.WriteString(c.Asm.Format())
			sb.WriteByte('\n')
		} else {
			sb.WriteString(".comm " + c.Label + ",8,8\n")
		}
	}
	return sb.String()
}
