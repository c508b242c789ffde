// Package reconcile scatters relocation and symbol table entries into the
// regions that contain their targets and regenerates both tables after the
// regions were rewritten.
package reconcile

import (
	"debug/elf"
	"errors"
	"fmt"

	"bintail/internal/region"
)

var ErrTableOverflow = errors.New("reconcile: table exceeds section capacity")

// IsRelative reports whether rel is an R_X86_64_RELATIVE entry.
func IsRelative(rel region.Relocation) bool {
	return elf.R_X86_64(elf.R_TYPE64(rel.Info)) == elf.R_X86_64_RELATIVE
}

// NewRelative builds a relative relocation for a pointer field at off.
func NewRelative(off, value uint64) region.Relocation {
	return region.Relocation{
		Offset: off,
		Info:   elf.R_INFO(0, uint32(elf.R_X86_64_RELATIVE)),
		Addend: int64(value),
	}
}

// Reconciler holds the classification buckets. Regions are kept in priority
// order; that order decides ties and the layout of the rebuilt tables.
type Reconciler struct {
	Regions []*region.Region

	Unmatched []region.Relocation // relative, no containing region
	Other     []region.Relocation // non-relative, passed through

	Null      *region.Symbol // symbol index 0, pinned
	OtherSyms []region.Symbol
}

// New returns a reconciler over regions in priority order. Nil entries are
// skipped.
func New(regions ...*region.Region) *Reconciler {
	rc := &Reconciler{}
	for _, r := range regions {
		if r != nil {
			rc.Regions = append(rc.Regions, r)
		}
	}
	return rc
}

// Classify assigns every relocation and symbol to the first region that
// contains its target. Existing region buckets are replaced.
func (rc *Reconciler) Classify(relocs []region.Relocation, syms []region.Symbol) {
	for _, r := range rc.Regions {
		r.Relocs = nil
		r.Syms = nil
	}
	rc.Unmatched, rc.Other, rc.OtherSyms, rc.Null = nil, nil, nil, nil

	for _, rel := range relocs {
		if !IsRelative(rel) {
			rc.Other = append(rc.Other, rel)
			continue
		}
		if r := rc.owner(rel.Offset); r != nil {
			r.AddReloc(rel)
		} else {
			rc.Unmatched = append(rc.Unmatched, rel)
		}
	}

	for i, s := range syms {
		if i == 0 {
			null := s
			rc.Null = &null
			continue
		}
		if r := rc.owner(s.Value); r != nil {
			r.AddSym(s)
		} else {
			rc.OtherSyms = append(rc.OtherSyms, s)
		}
	}
}

func (rc *Reconciler) owner(addr uint64) *region.Region {
	for _, r := range rc.Regions {
		if r.Inside(addr) {
			return r
		}
	}
	return nil
}

// Relocations returns all relocations in rebuild order: regions, then
// unmatched relative entries, then pass-through entries. The second result
// is the number of relative entries, all of which precede the rest.
func (rc *Reconciler) Relocations() ([]region.Relocation, int) {
	var out []region.Relocation
	for _, r := range rc.Regions {
		out = append(out, r.Relocs...)
	}
	out = append(out, rc.Unmatched...)
	relative := 0
	for _, rel := range out {
		if IsRelative(rel) {
			relative++
		}
	}
	out = append(out, rc.Other...)
	return out, relative
}

// Symbols returns all symbols in rebuild order, null symbol first, locals
// before globals. The second result is the index of the first global, the
// value for the symbol table's sh_info.
func (rc *Reconciler) Symbols() ([]region.Symbol, int) {
	var ordered []region.Symbol
	for _, r := range rc.Regions {
		ordered = append(ordered, r.Syms...)
	}
	ordered = append(ordered, rc.OtherSyms...)

	out := make([]region.Symbol, 0, len(ordered)+1)
	if rc.Null != nil {
		out = append(out, *rc.Null)
	}
	for _, s := range ordered {
		if s.Local() {
			out = append(out, s)
		}
	}
	firstGlobal := len(out)
	for _, s := range ordered {
		if !s.Local() {
			out = append(out, s)
		}
	}
	return out, firstGlobal
}

// Table is an encoded relocation or symbol table.
type Table struct {
	Data     []byte // full capacity, zero tail
	Size     uint64 // live byte length
	Entries  int
	Relative int // relative relocation count; 0 for symbol tables
	Info     int // first global symbol index; 0 for relocation tables
}

// RebuildRelocations encodes the relocation table into a buffer of capacity
// bytes. Overflowing the capacity is fatal.
func (rc *Reconciler) RebuildRelocations(capacity int) (*Table, error) {
	rels, relative := rc.Relocations()
	size := len(rels) * RelaSize
	if size > capacity {
		return nil, fmt.Errorf("%w: %d relocations need %d bytes, have %d",
			ErrTableOverflow, len(rels), size, capacity)
	}
	buf := make([]byte, capacity)
	for i, rel := range rels {
		putRela(buf[i*RelaSize:], rel)
	}
	return &Table{Data: buf, Size: uint64(size), Entries: len(rels), Relative: relative}, nil
}

// RebuildSymbols encodes the symbol table into a buffer of capacity bytes.
func (rc *Reconciler) RebuildSymbols(capacity int) (*Table, error) {
	syms, firstGlobal := rc.Symbols()
	size := len(syms) * SymSize
	if size > capacity {
		return nil, fmt.Errorf("%w: %d symbols need %d bytes, have %d",
			ErrTableOverflow, len(syms), size, capacity)
	}
	buf := make([]byte, capacity)
	for i, s := range syms {
		putSym(buf[i*SymSize:], s)
	}
	return &Table{Data: buf, Size: uint64(size), Entries: len(syms), Info: firstGlobal}, nil
}

// Symbol returns a pointer to the named symbol in whichever bucket holds it.
func (rc *Reconciler) Symbol(name string) (*region.Symbol, bool) {
	for _, r := range rc.Regions {
		for i := range r.Syms {
			if r.Syms[i].Name == name {
				return &r.Syms[i], true
			}
		}
	}
	for i := range rc.OtherSyms {
		if rc.OtherSyms[i].Name == name {
			return &rc.OtherSyms[i], true
		}
	}
	return nil, false
}

// RelocAt returns the relative relocation whose offset is addr.
func (rc *Reconciler) RelocAt(addr uint64) (*region.Relocation, bool) {
	if r := rc.owner(addr); r != nil {
		return r.RelocAt(addr)
	}
	for i := range rc.Unmatched {
		if rc.Unmatched[i].Offset == addr {
			return &rc.Unmatched[i], true
		}
	}
	return nil, false
}

// EachRelative calls fn for every relative relocation outside the skipped
// regions, allowing in-place updates.
func (rc *Reconciler) EachRelative(skip map[*region.Region]bool, fn func(*region.Relocation)) {
	for _, r := range rc.Regions {
		if skip[r] {
			continue
		}
		for i := range r.Relocs {
			fn(&r.Relocs[i])
		}
	}
	for i := range rc.Unmatched {
		fn(&rc.Unmatched[i])
	}
}
