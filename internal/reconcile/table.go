package reconcile

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"bintail/internal/region"
)

const (
	RelaSize = 24 // sizeof(Elf64_Rela)
	SymSize  = 24 // sizeof(Elf64_Sym)
	DynSize  = 16 // sizeof(Elf64_Dyn)
)

// ParseRelocations decodes an Elf64_Rela array.
func ParseRelocations(data []byte) ([]region.Relocation, error) {
	if len(data)%RelaSize != 0 {
		return nil, fmt.Errorf("reconcile: relocation table size %d not a multiple of %d", len(data), RelaSize)
	}
	out := make([]region.Relocation, 0, len(data)/RelaSize)
	for off := 0; off < len(data); off += RelaSize {
		b := data[off:]
		out = append(out, region.Relocation{
			Offset: binary.LittleEndian.Uint64(b[0:]),
			Info:   binary.LittleEndian.Uint64(b[8:]),
			Addend: int64(binary.LittleEndian.Uint64(b[16:])),
		})
	}
	return out, nil
}

// ParseSymbols decodes an Elf64_Sym array, resolving names from strtab.
func ParseSymbols(data, strtab []byte) ([]region.Symbol, error) {
	if len(data)%SymSize != 0 {
		return nil, fmt.Errorf("reconcile: symbol table size %d not a multiple of %d", len(data), SymSize)
	}
	out := make([]region.Symbol, 0, len(data)/SymSize)
	for off := 0; off < len(data); off += SymSize {
		b := data[off:]
		s := region.Symbol{
			NameIdx: binary.LittleEndian.Uint32(b[0:]),
			Info:    b[4],
			Other:   b[5],
			Shndx:   binary.LittleEndian.Uint16(b[6:]),
			Value:   binary.LittleEndian.Uint64(b[8:]),
			Size:    binary.LittleEndian.Uint64(b[16:]),
		}
		s.Name = cstring(strtab, s.NameIdx)
		out = append(out, s)
	}
	return out, nil
}

func cstring(tab []byte, idx uint32) string {
	if int(idx) >= len(tab) {
		return ""
	}
	rest := tab[idx:]
	if i := bytes.IndexByte(rest, 0); i >= 0 {
		return string(rest[:i])
	}
	return string(rest)
}

func putRela(b []byte, rel region.Relocation) {
	binary.LittleEndian.PutUint64(b[0:], rel.Offset)
	binary.LittleEndian.PutUint64(b[8:], rel.Info)
	binary.LittleEndian.PutUint64(b[16:], uint64(rel.Addend))
}

func putSym(b []byte, s region.Symbol) {
	binary.LittleEndian.PutUint32(b[0:], s.NameIdx)
	b[4] = s.Info
	b[5] = s.Other
	binary.LittleEndian.PutUint16(b[6:], s.Shndx)
	binary.LittleEndian.PutUint64(b[8:], s.Value)
	binary.LittleEndian.PutUint64(b[16:], s.Size)
}

// SetDynamic overwrites the value of the first entry tagged tag in an
// Elf64_Dyn array. It reports whether the tag was found.
func SetDynamic(dyn []byte, tag int64, val uint64) bool {
	for off := 0; off+DynSize <= len(dyn); off += DynSize {
		t := int64(binary.LittleEndian.Uint64(dyn[off:]))
		if t == 0 { // DT_NULL
			return false
		}
		if t == tag {
			binary.LittleEndian.PutUint64(dyn[off+8:], val)
			return true
		}
	}
	return false
}

// Dynamic returns the value of the first entry tagged tag.
func Dynamic(dyn []byte, tag int64) (uint64, bool) {
	for off := 0; off+DynSize <= len(dyn); off += DynSize {
		t := int64(binary.LittleEndian.Uint64(dyn[off:]))
		if t == 0 {
			return 0, false
		}
		if t == tag {
			return binary.LittleEndian.Uint64(dyn[off+8:]), true
		}
	}
	return 0, false
}
