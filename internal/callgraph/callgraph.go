// Package callgraph turns the multiverse entity graph into lattice graphs:
// a dependency graph (variable -> function -> variant) and a per-function
// dispatch CFG whose blocks are the generic body and its variants.
package callgraph

import (
	"fmt"

	"github.com/zboralski/lattice"

	"bintail/internal/multiverse"
)

// VariantName is the node name of a variant: owning function and body
// address.
func VariantName(fn *multiverse.Function, va *multiverse.Variant) string {
	return fmt.Sprintf("%s@0x%x", fn.Name, va.Body)
}

// Dependencies builds the variable -> function -> variant graph.
// A variable points at every function it guards, a function at each of its
// variants and a variant at the variables its guards test. Dangling guards
// are skipped.
func Dependencies(m *multiverse.Model) *lattice.Graph {
	g := &lattice.Graph{}
	for _, v := range m.Vars {
		g.Nodes = append(g.Nodes, v.Name)
		for _, fn := range v.Functions {
			g.Edges = append(g.Edges, lattice.Edge{Caller: v.Name, Callee: fn.Name})
		}
	}
	for _, fn := range m.Fns {
		g.Nodes = append(g.Nodes, fn.Name)
		for _, va := range fn.Variants {
			name := VariantName(fn, va)
			g.Nodes = append(g.Nodes, name)
			g.Edges = append(g.Edges, lattice.Edge{Caller: fn.Name, Callee: name})
			for _, a := range va.Assignments {
				if a.Var == nil {
					continue
				}
				g.Edges = append(g.Edges, lattice.Edge{Caller: name, Callee: a.Var.Name})
			}
		}
	}
	g.Dedup()
	return g
}
