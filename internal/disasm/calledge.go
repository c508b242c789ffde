package disasm

import (
	"fmt"

	"golang.org/x/arch/x86/x86asm"
)

// CallEdge is a call found in a body.
type CallEdge struct {
	FromPC     uint64 `json:"from_pc"`
	Kind       string `json:"kind"`                // "call" or "call*"
	TargetPC   uint64 `json:"target_pc,omitempty"` // direct target
	TargetName string `json:"target_name,omitempty"`
	Slot       uint64 `json:"slot,omitempty"` // pointer slot of a rip-relative indirect call
	Reg        string `json:"reg,omitempty"`  // register of a register-indirect call
	Via        string `json:"via,omitempty"`  // name of the slot
}

// Callee returns the best available name for the call target.
func (e CallEdge) Callee() string {
	switch {
	case e.TargetName != "":
		return e.TargetName
	case e.Via != "":
		return e.Via
	case e.TargetPC != 0:
		return fmt.Sprintf("0x%x", e.TargetPC)
	case e.Slot != 0:
		return fmt.Sprintf("*0x%x", e.Slot)
	case e.Reg != "":
		return "*" + e.Reg
	}
	return ""
}

// ExtractCallEdges lists the calls in insts. symbols resolves direct targets
// and indirect-call slots to names.
func ExtractCallEdges(insts []Inst, symbols SymbolLookup) []CallEdge {
	resolve := func(addr uint64) string {
		if symbols == nil {
			return ""
		}
		name, _ := symbols(addr)
		return name
	}

	var edges []CallEdge
	for _, inst := range insts {
		if inst.Op != x86asm.CALL {
			continue
		}
		e := CallEdge{FromPC: inst.Addr, Kind: "call"}
		switch arg := inst.dec.Args[0].(type) {
		case x86asm.Rel:
			e.TargetPC = uint64(int64(inst.Addr) + int64(inst.Size) + int64(arg))
			e.TargetName = resolve(e.TargetPC)
		case x86asm.Mem:
			e.Kind = "call*"
			if arg.Base == x86asm.RIP {
				e.Slot = uint64(int64(inst.Addr) + int64(inst.Size) + arg.Disp)
				e.Via = resolve(e.Slot)
			}
		case x86asm.Reg:
			e.Kind = "call*"
			e.Reg = arg.String()
		}
		edges = append(edges, e)
	}
	return edges
}

// CallAnnotator names the target of each call in a listing.
func CallAnnotator(edges []CallEdge) Annotator {
	byPC := make(map[uint64]CallEdge, len(edges))
	for _, e := range edges {
		byPC[e.FromPC] = e
	}
	return func(inst Inst) string {
		if e, ok := byPC[inst.Addr]; ok {
			return "-> " + e.Callee()
		}
		return ""
	}
}
