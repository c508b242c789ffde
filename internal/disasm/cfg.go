package disasm

import "sort"

// BasicBlock is a run of instructions with a single entry.
type BasicBlock struct {
	ID      int
	Start   int // index into FuncCFG.Insts (inclusive)
	End     int // index into FuncCFG.Insts (exclusive)
	Succs   []Succ
	IsEntry bool
	IsTerm  bool // exits, or jumps out of the body
}

// Succ is a control-flow edge.
type Succ struct {
	BlockID int
	Cond    string // "" = unconditional, "T" = taken, "F" = fallthrough
}

// FuncCFG is the control flow graph of one body.
type FuncCFG struct {
	Name   string
	Blocks []BasicBlock
	Insts  []Inst
}

// BuildCFG partitions a body's instructions into basic blocks. Leaders are
// the first instruction, in-body branch targets and every instruction after
// a terminator. Successors come from each block's last instruction.
func BuildCFG(name string, insts []Inst) FuncCFG {
	cfg := FuncCFG{Name: name, Insts: insts}
	if len(insts) == 0 {
		return cfg
	}

	last := insts[len(insts)-1]
	lo, hi := insts[0].Addr, last.Addr+uint64(last.Size)
	index := make(map[uint64]int, len(insts))
	for i, inst := range insts {
		index[inst.Addr] = i
	}
	// inBody maps a branch target to its instruction index.
	inBody := func(target uint64) (int, bool) {
		if target < lo || target >= hi {
			return 0, false
		}
		i, ok := index[target]
		return i, ok
	}

	leaders := map[int]bool{0: true}
	for i, inst := range insts {
		br := DecodeBranch(inst)
		if br == nil {
			continue
		}
		if i+1 < len(insts) {
			leaders[i+1] = true
		}
		if idx, ok := inBody(br.Target); ok && !br.Exit && !br.Indirect {
			leaders[idx] = true
		}
	}

	starts := make([]int, 0, len(leaders))
	for i := range leaders {
		starts = append(starts, i)
	}
	sort.Ints(starts)

	blockAt := make(map[int]int, len(starts))
	cfg.Blocks = make([]BasicBlock, len(starts))
	for b, start := range starts {
		end := len(insts)
		if b+1 < len(starts) {
			end = starts[b+1]
		}
		cfg.Blocks[b] = BasicBlock{ID: b, Start: start, End: end, IsEntry: start == 0}
		blockAt[start] = b
	}

	for b := range cfg.Blocks {
		blk := &cfg.Blocks[b]
		next, hasNext := blockAt[blk.End]
		br := DecodeBranch(insts[blk.End-1])

		switch {
		case br == nil:
			if hasNext {
				blk.Succs = append(blk.Succs, Succ{BlockID: next})
			} else {
				blk.IsTerm = true
			}
		case br.Exit || br.Indirect:
			blk.IsTerm = true
		default:
			target := -1
			if idx, ok := inBody(br.Target); ok {
				target = blockAt[idx]
			}
			if br.Cond {
				if target >= 0 {
					blk.Succs = append(blk.Succs, Succ{BlockID: target, Cond: "T"})
				}
				if hasNext {
					blk.Succs = append(blk.Succs, Succ{BlockID: next, Cond: "F"})
				}
			} else if target >= 0 {
				blk.Succs = append(blk.Succs, Succ{BlockID: target})
			} else {
				blk.IsTerm = true
			}
		}
	}
	return cfg
}
