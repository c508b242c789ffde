package disasm

import (
	"golang.org/x/arch/x86/x86asm"

	"bintail/internal/mvinfo"
)

// BodyWindow is the number of leading bytes inspected to classify a body.
// The longest recognized pattern is mov $imm32,%eax; repz ret (7 bytes).
const BodyWindow = 16

// ClassifyBody decodes the first instructions of a variant body and reports
// whether it reduces to a no-op, a constant return or a single flag
// instruction. Recognized shapes:
//
//	ret | repz ret           -> nop
//	xor %eax,%eax; ret       -> constant 0
//	mov $imm32,%eax; ret     -> constant imm32
//	cli; ret                 -> cli
//	sti; ret                 -> sti
func ClassifyBody(code []byte) (mvinfo.BodyKind, uint32) {
	first, n, ok := decode(code)
	if !ok {
		return mvinfo.BodyNone, 0
	}
	if isRet(first) {
		return mvinfo.BodyNop, 0
	}

	second, _, ok := decode(code[n:])
	if !ok || !isRet(second) {
		return mvinfo.BodyNone, 0
	}

	switch first.Op {
	case x86asm.XOR:
		if first.Args[0] == x86asm.EAX && first.Args[1] == x86asm.EAX {
			return mvinfo.BodyConstant, 0
		}
	case x86asm.MOV:
		if imm, ok := first.Args[1].(x86asm.Imm); ok && first.Args[0] == x86asm.EAX {
			return mvinfo.BodyConstant, uint32(imm)
		}
	case x86asm.CLI:
		return mvinfo.BodyCLI, 0
	case x86asm.STI:
		return mvinfo.BodySTI, 0
	}
	return mvinfo.BodyNone, 0
}

func decode(code []byte) (x86asm.Inst, int, bool) {
	if len(code) == 0 {
		return x86asm.Inst{}, 0, false
	}
	inst, err := x86asm.Decode(code, 64)
	if err != nil || inst.Len == 0 || inst.Op == 0 {
		return x86asm.Inst{}, 0, false
	}
	return inst, inst.Len, true
}

// isRet matches a near return without a stack adjustment.
func isRet(inst x86asm.Inst) bool {
	return inst.Op == x86asm.RET && inst.Args[0] == nil
}
