// Package disasm provides x86-64 disassembly for multiverse code regions.
package disasm

import (
	"fmt"
	"strings"

	"golang.org/x/arch/x86/x86asm"
)

// Inst is a decoded x86-64 instruction with address and raw bytes.
type Inst struct {
	Addr     uint64
	Raw      []byte
	Size     int
	Op       x86asm.Op // 0 if the bytes did not decode
	Mnemonic string
	Operands string
	Text     string // full disassembly line

	dec x86asm.Inst
}

// SymbolLookup resolves an address to a symbolic name. Returns ("", false) if unknown.
type SymbolLookup func(addr uint64) (name string, ok bool)

// Options controls disassembly behavior.
type Options struct {
	BaseAddr uint64       // VA of the first byte in Data
	MaxSteps int          // maximum instructions to decode; 0 = 1M
	Symbols  SymbolLookup // optional symbol resolver
}

const defaultMaxSteps = 1_000_000

func (o Options) effectiveMax() int {
	if o.MaxSteps > 0 {
		return o.MaxSteps
	}
	return defaultMaxSteps
}

// Disassemble decodes data linearly. A byte that does not decode becomes a
// .byte entry and decoding resumes at the next byte.
func Disassemble(data []byte, opts Options) []Inst {
	maxSteps := opts.effectiveMax()
	var symname x86asm.SymLookup
	if opts.Symbols != nil {
		symname = func(addr uint64) (string, uint64) {
			if name, ok := opts.Symbols(addr); ok {
				return name, addr
			}
			return "", 0
		}
	}

	var result []Inst
	for off := 0; off < len(data) && len(result) < maxSteps; {
		addr := opts.BaseAddr + uint64(off)
		inst, err := x86asm.Decode(data[off:], 64)
		if err != nil || inst.Len == 0 || inst.Op == 0 {
			result = append(result, Inst{
				Addr:     addr,
				Raw:      data[off : off+1],
				Size:     1,
				Mnemonic: ".byte",
				Operands: fmt.Sprintf("0x%02x", data[off]),
				Text:     fmt.Sprintf(".byte 0x%02x", data[off]),
			})
			off++
			continue
		}

		text := x86asm.GNUSyntax(inst, addr, symname)
		mnemonic, operands, _ := strings.Cut(text, " ")
		result = append(result, Inst{
			Addr:     addr,
			Raw:      data[off : off+inst.Len],
			Size:     inst.Len,
			Op:       inst.Op,
			Mnemonic: mnemonic,
			Operands: strings.TrimSpace(operands),
			Text:     text,
			dec:      inst,
		})
		off += inst.Len
	}
	return result
}

// Format renders one line per instruction:
//
//	<addr>  <hex bytes>  <gnu syntax>  ; <comment>
//
// A symbol name at the address wins; otherwise the first annotator with a
// non-empty result supplies the comment.
func Format(insts []Inst, lookup SymbolLookup, annotators ...Annotator) string {
	var b strings.Builder
	for _, inst := range insts {
		fmt.Fprintf(&b, "0x%08x  ", inst.Addr)
		hex := make([]string, len(inst.Raw))
		for i, c := range inst.Raw {
			hex[i] = fmt.Sprintf("%02x", c)
		}
		fmt.Fprintf(&b, "%-24s", strings.Join(hex, " "))
		b.WriteString(inst.Text)
		commented := false
		if lookup != nil {
			if name, ok := lookup(inst.Addr); ok {
				fmt.Fprintf(&b, "  ; <%s>", name)
				commented = true
			}
		}
		if !commented {
			for _, ann := range annotators {
				if s := ann(inst); s != "" {
					fmt.Fprintf(&b, "  ; %s", s)
					break
				}
			}
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// Annotator returns an optional inline comment for an instruction.
// Empty string means no annotation.
type Annotator func(inst Inst) string

// DisasmOne returns the GNU syntax of the instruction at addr, or "".
func DisasmOne(code []byte, addr uint64) string {
	inst, err := x86asm.Decode(code, 64)
	if err != nil || inst.Op == 0 {
		return ""
	}
	return x86asm.GNUSyntax(inst, addr, nil)
}

// MapLookup resolves addresses from names, typically generic and variant
// bodies keyed by entry address.
func MapLookup(names map[uint64]string) SymbolLookup {
	return func(addr uint64) (string, bool) {
		name, ok := names[addr]
		return name, ok
	}
}
