package disasm

import "golang.org/x/arch/x86/x86asm"

// BranchInfo describes a decoded control transfer that ends a basic block.
type BranchInfo struct {
	Target   uint64 // absolute target; 0 for exits and indirect jumps
	Cond     bool   // conditional, has a fallthrough edge
	Exit     bool   // ret, ud2 or hlt
	Indirect bool   // jmp through a register or memory operand
}

var condJumps = map[x86asm.Op]bool{
	x86asm.JA: true, x86asm.JAE: true, x86asm.JB: true, x86asm.JBE: true,
	x86asm.JE: true, x86asm.JNE: true, x86asm.JG: true, x86asm.JGE: true,
	x86asm.JL: true, x86asm.JLE: true, x86asm.JO: true, x86asm.JNO: true,
	x86asm.JP: true, x86asm.JNP: true, x86asm.JS: true, x86asm.JNS: true,
	x86asm.JCXZ: true, x86asm.JECXZ: true, x86asm.JRCXZ: true,
	x86asm.LOOP: true, x86asm.LOOPE: true, x86asm.LOOPNE: true,
}

// DecodeBranch returns the branch info of a block terminator, or nil for
// instructions that fall through. Calls fall through.
func DecodeBranch(inst Inst) *BranchInfo {
	switch {
	case inst.Op == 0:
		return nil
	case inst.Op == x86asm.RET || inst.Op == x86asm.LRET || inst.Op == x86asm.UD2 || inst.Op == x86asm.HLT:
		return &BranchInfo{Exit: true}
	case inst.Op == x86asm.JMP:
		if target, ok := relTarget(inst); ok {
			return &BranchInfo{Target: target}
		}
		return &BranchInfo{Indirect: true}
	case condJumps[inst.Op]:
		target, _ := relTarget(inst)
		return &BranchInfo{Target: target, Cond: true}
	}
	return nil
}

// relTarget resolves a pc-relative first operand.
func relTarget(inst Inst) (uint64, bool) {
	rel, ok := inst.dec.Args[0].(x86asm.Rel)
	if !ok {
		return 0, false
	}
	return uint64(int64(inst.Addr) + int64(inst.Size) + int64(rel)), true
}
