package disasm

import "testing"

func TestBuildCFG_Linear(t *testing.T) {
	// push %rbp; mov %rsp,%rbp; pop %rbp; ret
	insts := Disassemble([]byte{0x55, 0x48, 0x89, 0xe5, 0x5d, 0xc3}, Options{BaseAddr: 0x1000})
	cfg := BuildCFG("linear", insts)
	if len(cfg.Blocks) != 1 {
		t.Fatalf("blocks = %d, want 1", len(cfg.Blocks))
	}
	blk := cfg.Blocks[0]
	if blk.Start != 0 || blk.End != 4 {
		t.Errorf("block range = [%d,%d), want [0,4)", blk.Start, blk.End)
	}
	if !blk.IsTerm || !blk.IsEntry {
		t.Errorf("block = %+v, want entry and terminal", blk)
	}
}

func TestBuildCFG_ConditionalBranch(t *testing.T) {
	//   0x1000: test %edi,%edi
	//   0x1002: je   0x1009
	//   0x1004: mov  $0x1,%eax
	//   0x1009: ret
	code := []byte{
		0x85, 0xff,
		0x74, 0x05,
		0xb8, 0x01, 0x00, 0x00, 0x00,
		0xc3,
	}
	cfg := BuildCFG("cond", Disassemble(code, Options{BaseAddr: 0x1000}))

	// Block 0: test, je; block 1: mov; block 2: ret
	if len(cfg.Blocks) != 3 {
		t.Fatalf("blocks = %d, want 3", len(cfg.Blocks))
	}
	b0 := cfg.Blocks[0]
	if len(b0.Succs) != 2 {
		t.Fatalf("B0 succs = %+v", b0.Succs)
	}
	if b0.Succs[0] != (Succ{BlockID: 2, Cond: "T"}) || b0.Succs[1] != (Succ{BlockID: 1, Cond: "F"}) {
		t.Errorf("B0 succs = %+v", b0.Succs)
	}
	b1 := cfg.Blocks[1]
	if len(b1.Succs) != 1 || b1.Succs[0].BlockID != 2 || b1.Succs[0].Cond != "" {
		t.Errorf("B1 succs = %+v", b1.Succs)
	}
	if !cfg.Blocks[2].IsTerm {
		t.Error("B2 should be terminal")
	}
}

func TestBuildCFG_TailJump(t *testing.T) {
	// jmp out of the body is terminal; the dead ret after it is its own block.
	code := []byte{0xe9, 0x00, 0x10, 0x00, 0x00, 0xc3}
	cfg := BuildCFG("tail", Disassemble(code, Options{BaseAddr: 0x1000}))
	if len(cfg.Blocks) != 2 {
		t.Fatalf("blocks = %d, want 2", len(cfg.Blocks))
	}
	if !cfg.Blocks[0].IsTerm || len(cfg.Blocks[0].Succs) != 0 {
		t.Errorf("B0 = %+v", cfg.Blocks[0])
	}
}

func TestBuildCFG_Empty(t *testing.T) {
	cfg := BuildCFG("empty", nil)
	if len(cfg.Blocks) != 0 {
		t.Errorf("blocks = %d, want 0", len(cfg.Blocks))
	}
}
