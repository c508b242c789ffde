package callgraph

import (
	"fmt"

	"github.com/zboralski/lattice"

	"bintail/internal/multiverse"
)

// Dispatch builds one CFG per function. Block 0 is the generic body; its
// calls list the patch sites that reach it. Each variant is a terminal block
// whose calls list its guards. The edge to the variant a function is
// committed to is marked "T".
func Dispatch(m *multiverse.Model) *lattice.CFGGraph {
	cg := &lattice.CFGGraph{}
	for _, fn := range m.Fns {
		cg.Funcs = append(cg.Funcs, dispatchCFG(fn))
	}
	return cg
}

func dispatchCFG(fn *multiverse.Function) *lattice.FuncCFG {
	entry := &lattice.BasicBlock{ID: 0, Start: 0, End: 1}
	for i, pp := range fn.Patchpoints {
		entry.Calls = append(entry.Calls, lattice.CallSite{
			Offset: i,
			Callee: fmt.Sprintf("%s 0x%x [%s]", pp.Kind, pp.Location, pp.State()),
		})
	}

	lcfg := &lattice.FuncCFG{Name: fn.Name, Blocks: []*lattice.BasicBlock{entry}}
	if len(fn.Variants) == 0 {
		entry.Term = true
		return lcfg
	}
	for i, va := range fn.Variants {
		id := i + 1
		cond := ""
		if fn.Active == va {
			cond = "T"
		}
		entry.Succs = append(entry.Succs, lattice.Successor{BlockID: id, Cond: cond})

		b := &lattice.BasicBlock{ID: id, Start: id, End: id + 1, Term: true}
		for j, a := range va.Assignments {
			b.Calls = append(b.Calls, lattice.CallSite{Offset: j, Callee: guard(a)})
		}
		if va.Kind.Trivial() {
			b.Calls = append(b.Calls, lattice.CallSite{Offset: len(va.Assignments), Callee: va.Kind.String()})
		}
		lcfg.Blocks = append(lcfg.Blocks, b)
	}
	return lcfg
}

func guard(a *multiverse.Assignment) string {
	if a.Var == nil {
		return fmt.Sprintf("%d <= ?0x%x <= %d", a.Lower, a.Location, a.Upper)
	}
	return fmt.Sprintf("%d <= %s(%d) <= %d", a.Lower, a.Var.Name, a.Var.Value, a.Upper)
}
