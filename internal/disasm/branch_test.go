package disasm

import "testing"

func decodeOne(t *testing.T, addr uint64, code ...byte) Inst {
	t.Helper()
	insts := Disassemble(code, Options{BaseAddr: addr})
	if len(insts) != 1 {
		t.Fatalf("% x decoded to %d instructions", code, len(insts))
	}
	return insts[0]
}

func TestDecodeBranch_Ret(t *testing.T) {
	for _, code := range [][]byte{{0xc3}, {0xf3, 0xc3}, {0x0f, 0x0b}, {0xf4}} {
		bi := DecodeBranch(decodeOne(t, 0x1000, code...))
		if bi == nil || !bi.Exit {
			t.Errorf("% x: expected exit, got %+v", code, bi)
		}
	}
}

func TestDecodeBranch_Jmp(t *testing.T) {
	// jmp rel8 +0x10 at 0x1000 -> 0x1012
	bi := DecodeBranch(decodeOne(t, 0x1000, 0xeb, 0x10))
	if bi == nil || bi.Target != 0x1012 || bi.Cond {
		t.Errorf("jmp rel8 = %+v", bi)
	}

	// jmp rel32 -0x10 at 0x2000 -> 0x1ff5
	bi = DecodeBranch(decodeOne(t, 0x2000, 0xe9, 0xf0, 0xff, 0xff, 0xff))
	if bi == nil || bi.Target != 0x1ff5 {
		t.Errorf("jmp rel32 = %+v", bi)
	}

	// jmp *%rax
	bi = DecodeBranch(decodeOne(t, 0x2000, 0xff, 0xe0))
	if bi == nil || !bi.Indirect {
		t.Errorf("jmp *%%rax = %+v", bi)
	}
}

func TestDecodeBranch_Jcc(t *testing.T) {
	// je +4 at 0x1000 -> 0x1006
	bi := DecodeBranch(decodeOne(t, 0x1000, 0x74, 0x04))
	if bi == nil || !bi.Cond || bi.Target != 0x1006 {
		t.Errorf("je = %+v", bi)
	}
	// jne rel32 +0x100 at 0x1000 -> 0x1106
	bi = DecodeBranch(decodeOne(t, 0x1000, 0x0f, 0x85, 0x00, 0x01, 0x00, 0x00))
	if bi == nil || !bi.Cond || bi.Target != 0x1106 {
		t.Errorf("jne = %+v", bi)
	}
}

func TestDecodeBranch_NonBranch(t *testing.T) {
	for _, code := range [][]byte{
		{0x90},                         // nop
		{0xe8, 0x00, 0x00, 0x00, 0x00}, // call
		{0x31, 0xc0},                   // xor %eax,%eax
	} {
		if DecodeBranch(decodeOne(t, 0x1000, code...)) != nil {
			t.Errorf("% x should not terminate a block", code)
		}
	}
	if DecodeBranch(Inst{Addr: 0x1000, Raw: []byte{0x06}, Size: 1}) != nil {
		t.Error(".byte should not be a branch")
	}
}
