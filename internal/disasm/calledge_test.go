package disasm

import "testing"

func TestExtractCallEdges(t *testing.T) {
	//   0x1000: call 0x1100
	//   0x1005: call *0x20(%rip)    slot 0x102b
	//   0x100b: call *%rax
	//   0x100d: ret
	code := []byte{
		0xe8, 0xfb, 0x00, 0x00, 0x00,
		0xff, 0x15, 0x20, 0x00, 0x00, 0x00,
		0xff, 0xd0,
		0xc3,
	}
	insts := Disassemble(code, Options{BaseAddr: 0x1000})
	names := MapLookup(map[uint64]string{0x1100: "target", 0x102b: "slot"})

	edges := ExtractCallEdges(insts, names)
	if len(edges) != 3 {
		t.Fatalf("edges = %d, want 3", len(edges))
	}

	direct := edges[0]
	if direct.Kind != "call" || direct.TargetPC != 0x1100 || direct.Callee() != "target" {
		t.Errorf("direct = %+v", direct)
	}
	slot := edges[1]
	if slot.Kind != "call*" || slot.Slot != 0x102b || slot.Callee() != "slot" {
		t.Errorf("slot = %+v", slot)
	}
	reg := edges[2]
	if reg.Kind != "call*" || reg.Callee() != "*RAX" {
		t.Errorf("reg = %+v", reg)
	}
}

func TestExtractCallEdges_NoSymbols(t *testing.T) {
	insts := Disassemble([]byte{0xe8, 0xfb, 0x00, 0x00, 0x00}, Options{BaseAddr: 0x1000})
	edges := ExtractCallEdges(insts, nil)
	if len(edges) != 1 || edges[0].Callee() != "0x1100" {
		t.Errorf("edges = %+v", edges)
	}
}

func TestCallAnnotator(t *testing.T) {
	insts := Disassemble([]byte{0xe8, 0xfb, 0x00, 0x00, 0x00, 0xc3}, Options{BaseAddr: 0x1000})
	ann := CallAnnotator(ExtractCallEdges(insts, nil))
	if got := ann(insts[0]); got != "-> 0x1100" {
		t.Errorf("call annotation = %q", got)
	}
	if got := ann(insts[1]); got != "" {
		t.Errorf("ret annotation = %q", got)
	}
}
