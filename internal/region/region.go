// Package region provides address-ranged views over ELF section bytes.
//
// A Region owns the relocations and symbols whose target address falls inside
// it. All descriptor fields that hold addresses are resolved through regions
// rather than dereferenced, so bounds checks stay in one place.
package region

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	ErrMissingSection = errors.New("region: required section missing")
	ErrOutOfRange     = errors.New("region: access out of range")
	ErrNoBits         = errors.New("region: section has no file bytes")
	ErrUnmapped       = errors.New("region: address not in any region")
)

// Relocation is an ELF64 RELA entry.
type Relocation struct {
	Offset uint64
	Info   uint64
	Addend int64
}

// Symbol is an ELF64 symbol table entry with its resolved name.
type Symbol struct {
	Name    string
	NameIdx uint32
	Info    uint8
	Other   uint8
	Shndx   uint16
	Value   uint64
	Size    uint64
}

// Local reports whether the symbol has STB_LOCAL binding.
func (s Symbol) Local() bool { return s.Info>>4 == 0 }

// Region is a contiguous virtual-address range backed by a byte buffer.
type Region struct {
	Name   string
	Index  int    // section header index
	Vaddr  uint64 // sh_addr
	Offset uint64 // sh_offset
	Size   uint64 // current size; may shrink after compaction
	NoBits bool

	Relocs []Relocation
	Syms   []Symbol

	buf   []byte // len(buf) is the original section size
	dirty bool
}

// New creates a region over buf. The buffer is owned by the region.
func New(name string, index int, vaddr, offset uint64, buf []byte) *Region {
	return &Region{
		Name:   name,
		Index:  index,
		Vaddr:  vaddr,
		Offset: offset,
		Size:   uint64(len(buf)),
		buf:    buf,
	}
}

// NewNoBits creates a region for an SHT_NOBITS section of the given size.
func NewNoBits(name string, index int, vaddr, size uint64) *Region {
	return &Region{
		Name:   name,
		Index:  index,
		Vaddr:  vaddr,
		Size:   size,
		NoBits: true,
	}
}

// Inside reports whether addr lies in [Vaddr, Vaddr+Size).
func (r *Region) Inside(addr uint64) bool {
	return addr >= r.Vaddr && addr < r.Vaddr+r.Size
}

// End returns the first address past the region.
func (r *Region) End() uint64 { return r.Vaddr + r.Size }

// Cap returns the original section size, the upper bound for Resize.
func (r *Region) Cap() uint64 {
	if r.NoBits {
		return r.Size
	}
	return uint64(len(r.buf))
}

func (r *Region) check(addr uint64, n int) (uint64, error) {
	if n < 0 || addr < r.Vaddr || addr-r.Vaddr > r.Size || uint64(n) > r.Size-(addr-r.Vaddr) {
		return 0, fmt.Errorf("%w: %s [0x%x, +%d) outside [0x%x, 0x%x)",
			ErrOutOfRange, r.Name, addr, n, r.Vaddr, r.End())
	}
	return addr - r.Vaddr, nil
}

// Read returns a copy of n bytes at addr.
func (r *Region) Read(addr uint64, n int) ([]byte, error) {
	off, err := r.check(addr, n)
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	if !r.NoBits {
		copy(out, r.buf[off:])
	}
	return out, nil
}

// Write copies b to addr. It does not mark the region dirty.
func (r *Region) Write(addr uint64, b []byte) error {
	if r.NoBits {
		return fmt.Errorf("%w: %s", ErrNoBits, r.Name)
	}
	off, err := r.check(addr, len(b))
	if err != nil {
		return err
	}
	copy(r.buf[off:], b)
	return nil
}

func (r *Region) U32(addr uint64) (uint32, error) {
	b, err := r.Read(addr, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *Region) U64(addr uint64) (uint64, error) {
	b, err := r.Read(addr, 8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (r *Region) PutU64(addr, v uint64) error {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return r.Write(addr, b[:])
}

// CString reads a NUL-terminated string starting at addr.
func (r *Region) CString(addr uint64) (string, error) {
	off, err := r.check(addr, 0)
	if err != nil {
		return "", err
	}
	if r.NoBits {
		return "", nil
	}
	rest := r.buf[off:r.Size]
	i := bytes.IndexByte(rest, 0)
	if i < 0 {
		return "", fmt.Errorf("%w: %s unterminated string at 0x%x", ErrOutOfRange, r.Name, addr)
	}
	return string(rest[:i]), nil
}

// Resize sets the live size. Bytes past the new size are zeroed.
func (r *Region) Resize(size uint64) error {
	if size > r.Cap() {
		return fmt.Errorf("%w: %s resize to %d exceeds capacity %d", ErrOutOfRange, r.Name, size, r.Cap())
	}
	if !r.NoBits {
		clear(r.buf[size:])
	}
	r.Size = size
	return nil
}

// MarkDirty flags the region for commit.
func (r *Region) MarkDirty() { r.dirty = true }

func (r *Region) Dirty() bool { return r.dirty }

// Bytes returns the full backing buffer including any zeroed tail.
func (r *Region) Bytes() []byte { return r.buf }

// Live returns the bytes within the current size.
func (r *Region) Live() []byte {
	if r.NoBits {
		return nil
	}
	return r.buf[:r.Size]
}

// AddReloc appends a relocation owned by this region.
func (r *Region) AddReloc(rel Relocation) { r.Relocs = append(r.Relocs, rel) }

// AddSym appends a symbol owned by this region.
func (r *Region) AddSym(s Symbol) { r.Syms = append(r.Syms, s) }

// RelocAt returns the owned relocation at offset addr.
func (r *Region) RelocAt(addr uint64) (*Relocation, bool) {
	for i := range r.Relocs {
		if r.Relocs[i].Offset == addr {
			return &r.Relocs[i], true
		}
	}
	return nil, false
}
