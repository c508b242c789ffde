package callgraph

import (
	"github.com/zboralski/lattice"

	"bintail/internal/disasm"
)

// Body is one disassembled body: a generic function body or a variant.
type Body struct {
	Name      string
	Insts     []disasm.Inst
	CallEdges []disasm.CallEdge
}

// BuildCFG converts bodies to lattice CFGs.
func BuildCFG(bodies []Body) *lattice.CFGGraph {
	cg := &lattice.CFGGraph{}
	for _, b := range bodies {
		lcfg, _ := BuildFuncCFG(b.Name, b.Insts, b.CallEdges)
		cg.Funcs = append(cg.Funcs, lcfg)
	}
	return cg
}

// BuildFuncCFG builds the lattice CFG of one body and returns it with its
// block count.
func BuildFuncCFG(name string, insts []disasm.Inst, edges []disasm.CallEdge) (*lattice.FuncCFG, int) {
	dcfg := disasm.BuildCFG(name, insts)
	return convertFuncCFG(&dcfg, edges), len(dcfg.Blocks)
}

// convertFuncCFG maps blocks and successors one to one and attaches each
// call edge to the block holding its instruction.
func convertFuncCFG(dcfg *disasm.FuncCFG, edges []disasm.CallEdge) *lattice.FuncCFG {
	edgeByPC := make(map[uint64]disasm.CallEdge, len(edges))
	for _, e := range edges {
		edgeByPC[e.FromPC] = e
	}

	lcfg := &lattice.FuncCFG{Name: dcfg.Name}
	for _, db := range dcfg.Blocks {
		lb := &lattice.BasicBlock{
			ID:    db.ID,
			Start: db.Start,
			End:   db.End,
			Term:  db.IsTerm,
		}
		for _, s := range db.Succs {
			lb.Succs = append(lb.Succs, lattice.Successor{BlockID: s.BlockID, Cond: s.Cond})
		}
		for idx := db.Start; idx < db.End && idx < len(dcfg.Insts); idx++ {
			if e, ok := edgeByPC[dcfg.Insts[idx].Addr]; ok {
				lb.Calls = append(lb.Calls, lattice.CallSite{Offset: idx, Callee: e.Callee()})
			}
		}
		lcfg.Blocks = append(lcfg.Blocks, lb)
	}
	return lcfg
}
