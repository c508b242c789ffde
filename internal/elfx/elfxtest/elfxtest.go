// Package elfxtest synthesizes small x86-64 PIE ELF files for tests.
//
// Every loadable section is placed at a file offset equal to its virtual
// address, so fixtures can be written with absolute addresses. The
// relocation, dynamic and symbol tables are generated after the last
// loadable section.
package elfxtest

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"testing"
)

// MinAddr is the lowest address a section may use; the ELF and program
// headers live below it.
const MinAddr = 0x1000

const (
	ehdrSize = 64
	phdrSize = 56
	shdrSize = 64
	relaSize = 24
	symSize  = 24
	dynSize  = 16
)

type section struct {
	name    string
	typ     elf.SectionType
	flags   elf.SectionFlag
	addr    uint64
	offset  uint64
	data    []byte
	size    uint64
	link    uint32
	info    uint32
	align   uint64
	entsize uint64
}

func (s *section) end() uint64 { return s.addr + s.size }

// Symbol is a symbol table entry to emit.
type Symbol struct {
	Name   string
	Value  uint64
	Size   uint64
	Global bool
}

// Reloc is a relocation table entry to emit.
type Reloc struct {
	Offset uint64
	Type   elf.R_X86_64
	Sym    uint32
	Addend int64
}

// Builder accumulates sections, symbols and relocations.
type Builder struct {
	sections  []*section
	syms      []Symbol
	relocs    []Reloc
	spareRela int
}

func New() *Builder { return &Builder{} }

func (b *Builder) add(name string, typ elf.SectionType, flags elf.SectionFlag, addr uint64, data []byte, size uint64) *Builder {
	if addr < MinAddr {
		panic(fmt.Sprintf("elfxtest: section %s at 0x%x below 0x%x", name, addr, MinAddr))
	}
	b.sections = append(b.sections, &section{
		name: name, typ: typ, flags: flags, addr: addr, offset: addr,
		data: data, size: size, align: 16,
	})
	return b
}

// Rodata adds a read-only allocated section.
func (b *Builder) Rodata(name string, addr uint64, data []byte) *Builder {
	return b.add(name, elf.SHT_PROGBITS, elf.SHF_ALLOC, addr, data, uint64(len(data)))
}

// Text adds an executable section.
func (b *Builder) Text(name string, addr uint64, data []byte) *Builder {
	return b.add(name, elf.SHT_PROGBITS, elf.SHF_ALLOC|elf.SHF_EXECINSTR, addr, data, uint64(len(data)))
}

// Data adds a writable allocated section.
func (b *Builder) Data(name string, addr uint64, data []byte) *Builder {
	return b.add(name, elf.SHT_PROGBITS, elf.SHF_ALLOC|elf.SHF_WRITE, addr, data, uint64(len(data)))
}

// NoBits adds an SHT_NOBITS section such as .bss.
func (b *Builder) NoBits(name string, addr, size uint64) *Builder {
	return b.add(name, elf.SHT_NOBITS, elf.SHF_ALLOC|elf.SHF_WRITE, addr, nil, size)
}

// Local adds a STB_LOCAL object symbol.
func (b *Builder) Local(name string, value, size uint64) *Builder {
	b.syms = append(b.syms, Symbol{Name: name, Value: value, Size: size})
	return b
}

// Global adds a STB_GLOBAL object symbol.
func (b *Builder) Global(name string, value, size uint64) *Builder {
	b.syms = append(b.syms, Symbol{Name: name, Value: value, Size: size, Global: true})
	return b
}

// Relative adds an R_X86_64_RELATIVE relocation. The slot bytes at off are
// left as the section data has them.
func (b *Builder) Relative(off, value uint64) *Builder {
	b.relocs = append(b.relocs, Reloc{Offset: off, Type: elf.R_X86_64_RELATIVE, Addend: int64(value)})
	return b
}

// Reloc adds an arbitrary relocation.
func (b *Builder) Reloc(r Reloc) *Builder {
	b.relocs = append(b.relocs, r)
	return b
}

// SpareRelocations reserves n unused entries at the end of .rela.dyn.
func (b *Builder) SpareRelocations(n int) *Builder {
	b.spareRela = n
	return b
}

func align(v, a uint64) uint64 { return (v + a - 1) &^ (a - 1) }

// shndx returns the index of the section containing addr, treating the end
// address as inside so __stop_ symbols bind to their section.
func shndx(secs []*section, addr uint64) uint16 {
	for i, s := range secs {
		if s.flags&elf.SHF_ALLOC != 0 && addr >= s.addr && addr < s.end() {
			return uint16(i + 1)
		}
	}
	for i, s := range secs {
		if s.flags&elf.SHF_ALLOC != 0 && addr == s.end() {
			return uint16(i + 1)
		}
	}
	return uint16(elf.SHN_ABS)
}

// Bytes renders the ELF image.
func (b *Builder) Bytes() []byte {
	user := append([]*section(nil), b.sections...)
	sort.SliceStable(user, func(i, j int) bool { return user[i].addr < user[j].addr })

	var end uint64 = MinAddr
	for _, s := range user {
		end = max(end, s.end())
	}

	le := binary.LittleEndian

	// Symbols: null, locals, globals.
	var strtab bytes.Buffer
	strtab.WriteByte(0)
	ordered := make([]Symbol, 0, len(b.syms))
	for _, s := range b.syms {
		if !s.Global {
			ordered = append(ordered, s)
		}
	}
	firstGlobal := len(ordered) + 1
	for _, s := range b.syms {
		if s.Global {
			ordered = append(ordered, s)
		}
	}
	symtab := make([]byte, symSize*(len(ordered)+1))
	for i, s := range ordered {
		e := symtab[(i+1)*symSize:]
		le.PutUint32(e[0:], uint32(strtab.Len()))
		strtab.WriteString(s.Name)
		strtab.WriteByte(0)
		bind := elf.STB_LOCAL
		if s.Global {
			bind = elf.STB_GLOBAL
		}
		e[4] = elf.ST_INFO(bind, elf.STT_OBJECT)
		le.PutUint16(e[6:], shndx(user, s.Value))
		le.PutUint64(e[8:], s.Value)
		le.PutUint64(e[16:], s.Size)
	}

	rela := make([]byte, relaSize*(len(b.relocs)+b.spareRela))
	relative := 0
	for i, r := range b.relocs {
		e := rela[i*relaSize:]
		le.PutUint64(e[0:], r.Offset)
		le.PutUint64(e[8:], elf.R_INFO(r.Sym, uint32(r.Type)))
		le.PutUint64(e[16:], uint64(r.Addend))
		if r.Type == elf.R_X86_64_RELATIVE {
			relative++
		}
	}

	relaAddr := align(end, 8)
	dynAddr := align(relaAddr+uint64(len(rela)), 8)
	dyn := make([]byte, 5*dynSize)
	for i, kv := range [][2]uint64{
		{uint64(elf.DT_RELA), relaAddr},
		{uint64(elf.DT_RELASZ), uint64(len(b.relocs) * relaSize)},
		{uint64(elf.DT_RELAENT), relaSize},
		{uint64(elf.DT_RELACOUNT), uint64(relative)},
	} {
		le.PutUint64(dyn[i*dynSize:], kv[0])
		le.PutUint64(dyn[i*dynSize+8:], kv[1])
	}
	loadEnd := dynAddr + uint64(len(dyn))

	// Generated sections follow the user ones in header order.
	all := append([]*section(nil), user...)
	relaIdx := len(all) + 1
	all = append(all, &section{
		name: ".rela.dyn", typ: elf.SHT_RELA, flags: elf.SHF_ALLOC,
		addr: relaAddr, offset: relaAddr, data: rela, size: uint64(len(rela)),
		align: 8, entsize: relaSize,
	})
	all = append(all, &section{
		name: ".dynamic", typ: elf.SHT_DYNAMIC, flags: elf.SHF_ALLOC | elf.SHF_WRITE,
		addr: dynAddr, offset: dynAddr, data: dyn, size: uint64(len(dyn)),
		align: 8, entsize: dynSize,
	})
	symIdx := len(all) + 1
	off := align(loadEnd, 8)
	all = append(all, &section{
		name: ".symtab", typ: elf.SHT_SYMTAB, offset: off, data: symtab,
		size: uint64(len(symtab)), link: uint32(symIdx + 1), info: uint32(firstGlobal),
		align: 8, entsize: symSize,
	})
	off += uint64(len(symtab))
	all = append(all, &section{
		name: ".strtab", typ: elf.SHT_STRTAB, offset: off, data: strtab.Bytes(),
		size: uint64(strtab.Len()), align: 1,
	})
	off += uint64(strtab.Len())
	all[relaIdx-1].link = uint32(symIdx)

	var shstr bytes.Buffer
	shstr.WriteByte(0)
	names := make([]uint32, len(all)+1)
	for i, s := range all {
		names[i] = uint32(shstr.Len())
		shstr.WriteString(s.name)
		shstr.WriteByte(0)
	}
	names[len(all)] = uint32(shstr.Len())
	shstr.WriteString(".shstrtab")
	shstr.WriteByte(0)
	all = append(all, &section{
		name: ".shstrtab", typ: elf.SHT_STRTAB, offset: off, data: shstr.Bytes(),
		size: uint64(shstr.Len()), align: 1,
	})
	off += uint64(shstr.Len())

	shoff := align(off, 8)
	shnum := len(all) + 1
	img := make([]byte, shoff+uint64(shnum*shdrSize))

	// ELF header
	copy(img, elf.ELFMAG)
	img[elf.EI_CLASS] = byte(elf.ELFCLASS64)
	img[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	img[elf.EI_VERSION] = byte(elf.EV_CURRENT)
	le.PutUint16(img[0x10:], uint16(elf.ET_DYN))
	le.PutUint16(img[0x12:], uint16(elf.EM_X86_64))
	le.PutUint32(img[0x14:], uint32(elf.EV_CURRENT))
	le.PutUint64(img[0x20:], ehdrSize)
	le.PutUint64(img[0x28:], shoff)
	le.PutUint16(img[0x34:], ehdrSize)
	le.PutUint16(img[0x36:], phdrSize)
	le.PutUint16(img[0x38:], 2)
	le.PutUint16(img[0x3a:], shdrSize)
	le.PutUint16(img[0x3c:], uint16(shnum))
	le.PutUint16(img[0x3e:], uint16(shnum-1))

	// PT_LOAD covering everything loadable, PT_DYNAMIC for .dynamic.
	ph := img[ehdrSize:]
	le.PutUint32(ph[0:], uint32(elf.PT_LOAD))
	le.PutUint32(ph[4:], uint32(elf.PF_R|elf.PF_W|elf.PF_X))
	le.PutUint64(ph[32:], loadEnd)
	le.PutUint64(ph[40:], loadEnd)
	le.PutUint64(ph[48:], 0x1000)
	ph = img[ehdrSize+phdrSize:]
	le.PutUint32(ph[0:], uint32(elf.PT_DYNAMIC))
	le.PutUint32(ph[4:], uint32(elf.PF_R|elf.PF_W))
	le.PutUint64(ph[8:], dynAddr)
	le.PutUint64(ph[16:], dynAddr)
	le.PutUint64(ph[24:], dynAddr)
	le.PutUint64(ph[32:], uint64(len(dyn)))
	le.PutUint64(ph[40:], uint64(len(dyn)))
	le.PutUint64(ph[48:], 8)

	for i, s := range all {
		if s.typ != elf.SHT_NOBITS {
			copy(img[s.offset:], s.data)
		}
		h := img[shoff+uint64(i+1)*shdrSize:]
		le.PutUint32(h[0:], names[i])
		le.PutUint32(h[4:], uint32(s.typ))
		le.PutUint64(h[8:], uint64(s.flags))
		le.PutUint64(h[16:], s.addr)
		le.PutUint64(h[24:], s.offset)
		le.PutUint64(h[32:], s.size)
		le.PutUint32(h[40:], s.link)
		le.PutUint32(h[44:], s.info)
		le.PutUint64(h[48:], s.align)
		le.PutUint64(h[56:], s.entsize)
	}
	return img
}

// WriteFile renders the image into a temporary directory and returns its path.
func (b *Builder) WriteFile(t testing.TB, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, b.Bytes(), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}
