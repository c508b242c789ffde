package disasm

import (
	"strings"
	"testing"
)

func TestDisassembleNOP(t *testing.T) {
	// 0f 1f 44 00 00 = nopl 0x0(%rax,%rax,1); 90 = nop
	data := []byte{0x0f, 0x1f, 0x44, 0x00, 0x00, 0x90}

	insts := Disassemble(data, Options{BaseAddr: 0x1000})
	if len(insts) != 2 {
		t.Fatalf("got %d instructions, want 2", len(insts))
	}
	if insts[0].Addr != 0x1000 {
		t.Errorf("addr[0] = 0x%x, want 0x1000", insts[0].Addr)
	}
	if insts[0].Size != 5 {
		t.Errorf("size[0] = %d, want 5", insts[0].Size)
	}
	if insts[1].Addr != 0x1005 {
		t.Errorf("addr[1] = 0x%x, want 0x1005", insts[1].Addr)
	}
	if !strings.Contains(strings.ToLower(insts[1].Text), "nop") {
		t.Errorf("expected NOP, got: %s", insts[1].Text)
	}
}

func TestDisassembleCall(t *testing.T) {
	// call +0x10 at 0x2000 -> 0x2015
	data := []byte{0xe8, 0x10, 0x00, 0x00, 0x00}
	insts := Disassemble(data, Options{BaseAddr: 0x2000})
	if len(insts) != 1 {
		t.Fatalf("got %d instructions, want 1", len(insts))
	}
	if !strings.Contains(insts[0].Text, "2015") {
		t.Errorf("call target missing: %s", insts[0].Text)
	}
}

func TestDisassembleMaxSteps(t *testing.T) {
	data := make([]byte, 100)
	for i := range data {
		data[i] = 0x90
	}
	insts := Disassemble(data, Options{MaxSteps: 10})
	if len(insts) != 10 {
		t.Fatalf("got %d instructions, want 10", len(insts))
	}
}

func TestDisassembleEmpty(t *testing.T) {
	insts := Disassemble(nil, Options{})
	if len(insts) != 0 {
		t.Fatalf("got %d instructions for nil data", len(insts))
	}
}

func TestDisassembleTruncated(t *testing.T) {
	// A call opcode without its displacement decodes as raw bytes.
	insts := Disassemble([]byte{0xe8, 0x01}, Options{})
	if len(insts) == 0 {
		t.Fatal("expected placeholder instructions")
	}
	if insts[0].Mnemonic != ".byte" {
		t.Errorf("mnemonic = %q, want .byte", insts[0].Mnemonic)
	}

	// An indirect call cut inside its modrm/displacement.
	insts = Disassemble([]byte{0xff, 0x15, 0x00}, Options{BaseAddr: 0x1000})
	if len(insts) != 3 {
		t.Fatalf("got %d instructions, want 3", len(insts))
	}
	for i, inst := range insts {
		if inst.Mnemonic != ".byte" || inst.Op != 0 || inst.Addr != 0x1000+uint64(i) {
			t.Errorf("inst %d = %+v, want .byte at 0x%x", i, inst, 0x1000+i)
		}
	}
}

func TestDisasmOneTruncated(t *testing.T) {
	if got := DisasmOne([]byte{0xe8, 0x01}, 0x1000); got != "" {
		t.Errorf("DisasmOne = %q, want empty", got)
	}
	if got := DisasmOne([]byte{0xc3}, 0x1000); !strings.HasPrefix(got, "ret") {
		t.Errorf("DisasmOne = %q, want ret", got)
	}
}

func TestFormat(t *testing.T) {
	insts := Disassemble([]byte{0xc3}, Options{BaseAddr: 0x1000})

	syms := map[uint64]string{0x1000: "func_first"}
	text := Format(insts, MapLookup(syms))
	if !strings.Contains(text, "0x00001000") {
		t.Errorf("missing address in output: %s", text)
	}
	if !strings.Contains(text, "<func_first>") {
		t.Errorf("missing symbol in output: %s", text)
	}
}

func TestFormatAnnotator(t *testing.T) {
	insts := Disassemble([]byte{0xfa, 0xc3}, Options{BaseAddr: 0x1000})
	ann := func(i Inst) string {
		if i.Addr == 0x1000 {
			return "patched"
		}
		return ""
	}
	text := Format(insts, nil, ann)
	if strings.Count(text, "; patched") != 1 {
		t.Errorf("annotation missing or repeated:\n%s", text)
	}
}

func TestFormatDeterministic(t *testing.T) {
	data := []byte{0x55, 0x48, 0x89, 0xe5, 0x31, 0xc0, 0x5d, 0xc3}
	insts := Disassemble(data, Options{BaseAddr: 0x2000})
	out1 := Format(insts, nil)
	out2 := Format(insts, nil)
	if out1 != out2 {
		t.Error("non-deterministic output")
	}
}
