// Package sessiontest builds small multiverse-instrumented PIE binaries for
// tests of the session layer and its callers.
package sessiontest

import (
	"debug/elf"
	"encoding/binary"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"bintail/internal/elfx/elfxtest"
	"bintail/internal/mvinfo"
	"bintail/internal/patch"
)

// Section addresses. File offsets equal addresses.
const (
	RodataAddr   = 0x1000
	TextAddr     = 0x2000
	CallAddr     = 0x2200
	MVTextAddr   = 0x3000
	VarAddr      = 0x4000
	FnAddr       = 0x5000
	MVDataAddr   = 0x6000
	CallsiteAddr = 0x7000
	DataAddr     = 0xa000
	SlotAddr     = 0xa800 // __stop_<sec>ptr slots: var, fn, callsite, data
	PointerAddr  = 0xa840 // Fixture.Pointers slots
	BSSAddr      = 0xb000

	TextSize = 0x400
	DataSize = 0x900
)

var (
	XorRet = []byte{0x31, 0xc0, 0xc3}                   // xor %eax,%eax; ret
	RealFn = []byte{0x55, 0x48, 0x89, 0xe5, 0x5d, 0xc3} // push; mov; pop; ret
)

// Assign guards Var (an index into Fixture.Vars) with [Lower, Upper].
type Assign struct {
	Var          int
	Lower, Upper uint32
}

// Variant is a variant body; nil Code means RealFn.
type Variant struct {
	Code   []byte
	Guards []Assign
}

type Fn struct {
	Name     string
	Variants []Variant
	Calls    int
}

type Var struct {
	Name  string
	Width uint8
	Value uint64
	BSS   bool
}

// Fixture describes an instrumented binary. Generic bodies sit at
// TextAddr+16*i, call sites at CallAddr+8*k, variant bodies at
// MVTextAddr+16*k and variables at DataAddr+8*i (BSSAddr+8*i for .bss).
type Fixture struct {
	Vars []Var
	Fns  []Fn
	// Omit drops sections or symbols by name.
	Omit map[string]bool
	// Packed lays the var, fn, callsite and data sections out back to back
	// from VarAddr, as a linker does.
	Packed bool
	// Pointers become relative relocations in .data at PointerAddr+8*i.
	Pointers []uint64

	Sites    [][]uint64 // per function, filled by Build
	Variants [][]uint64
	Relocs   int
}

// Layout holds the descriptor section addresses.
type Layout struct {
	Var, Fn, Callsite, Data uint64
}

// Layout returns where Build places the descriptor sections.
func (f *Fixture) Layout() Layout {
	if !f.Packed {
		return Layout{Var: VarAddr, Fn: FnAddr, Callsite: CallsiteAddr, Data: MVDataAddr}
	}
	calls := 0
	for _, fn := range f.Fns {
		calls += fn.Calls
	}
	l := Layout{Var: VarAddr}
	l.Fn = l.Var + uint64(len(f.Vars))*mvinfo.VarSize
	l.Callsite = l.Fn + uint64(len(f.Fns))*mvinfo.FnSize
	l.Data = l.Callsite + uint64(calls)*mvinfo.CallsiteSize
	return l
}

func BodyAddr(i int) uint64 { return TextAddr + uint64(i)*0x10 }

// Loc returns the data location of variable i.
func (f *Fixture) Loc(i int) uint64 {
	if f.Vars[i].BSS {
		return BSSAddr + uint64(i)*8
	}
	return DataAddr + uint64(i)*8
}

// Build writes the binary into a temp dir and returns its path.
func (f *Fixture) Build(t *testing.T) string {
	t.Helper()
	b := elfxtest.New()
	f.Relocs = 0
	l := f.Layout()
	reloc := func(off, val uint64) {
		if val != 0 {
			b.Relative(off, val)
			f.Relocs++
		}
	}
	// Non-relative entry first so rebuilding has to reorder.
	b.Reloc(elfxtest.Reloc{Offset: SlotAddr + 0x20, Type: elf.R_X86_64_GLOB_DAT, Sym: 1})
	f.Relocs++

	var rodata []byte
	str := func(s string) uint64 {
		a := RodataAddr + uint64(len(rodata))
		rodata = append(append(rodata, s...), 0)
		return a
	}

	text := make([]byte, TextSize)
	for i := range text {
		text[i] = 0x90
	}
	mvtext := make([]byte, 0x400)
	data := make([]byte, DataSize)
	le := binary.LittleEndian

	var vars []byte
	for i, v := range f.Vars {
		name := str(v.Name)
		off := l.Var + uint64(len(vars))
		vars = append(vars, mvinfo.Var{Name: name, Location: f.Loc(i), Flags: mvinfo.VarFlags{Width: v.Width, Tracked: true}}.Encode()...)
		reloc(off+mvinfo.VarNameOff, name)
		reloc(off+mvinfo.VarLocationOff, f.Loc(i))
		if !v.BSS {
			var buf [8]byte
			le.PutUint64(buf[:], v.Value)
			copy(data[f.Loc(i)-DataAddr:], buf[:v.Width])
		}
		b.Global(v.Name, f.Loc(i), uint64(v.Width))
	}

	var fns, mvdata, sites []byte
	f.Sites = make([][]uint64, len(f.Fns))
	f.Variants = make([][]uint64, len(f.Fns))
	k, g := 0, 0
	for i, fn := range f.Fns {
		name := str(fn.Name)
		body := BodyAddr(i)
		copy(text[body-TextAddr:], []byte{0x55, 0xc3})

		for c := 0; c < fn.Calls; c++ {
			site := CallAddr + uint64(k)*8
			k++
			code, err := patch.Encode(patch.KindCall, site, patch.Target{Body: body})
			require.NoError(t, err)
			copy(text[site-TextAddr:], code)
			f.Sites[i] = append(f.Sites[i], site)

			off := l.Callsite + uint64(len(sites))
			sites = append(sites, mvinfo.Callsite{Function: body, Label: site}.Encode()...)
			reloc(off+mvinfo.CallsiteFnOff, body)
			reloc(off+mvinfo.CallsiteLabelOff, site)
		}

		arr := l.Data + uint64(len(mvdata))
		next := arr + uint64(len(fn.Variants))*mvinfo.VariantSize
		var guards []byte
		for j, va := range fn.Variants {
			vbody := MVTextAddr + uint64(g)*0x10
			g++
			code := va.Code
			if code == nil {
				code = RealFn
			}
			copy(mvtext[vbody-MVTextAddr:], code)
			f.Variants[i] = append(f.Variants[i], vbody)

			var assign uint64
			if len(va.Guards) > 0 {
				assign = next + uint64(len(guards))
			}
			off := arr + uint64(j)*mvinfo.VariantSize
			mvdata = append(mvdata, mvinfo.Variant{Body: vbody, NAssignments: uint32(len(va.Guards)), Assignments: assign}.Encode()...)
			reloc(off+mvinfo.VariantBodyOff, vbody)
			reloc(off+mvinfo.VariantAssignOff, assign)
			for _, a := range va.Guards {
				aoff := next + uint64(len(guards))
				guards = append(guards, mvinfo.Assignment{Location: f.Loc(a.Var), Lower: a.Lower, Upper: a.Upper}.Encode()...)
				reloc(aoff+mvinfo.AssignVarOff, f.Loc(a.Var))
			}
		}
		mvdata = append(mvdata, guards...)

		off := l.Fn + uint64(len(fns))
		fns = append(fns, mvinfo.Fn{Name: name, Body: body, NVariants: uint32(len(fn.Variants)), Variants: arr}.Encode()...)
		reloc(off+mvinfo.FnNameOff, name)
		reloc(off+mvinfo.FnBodyOff, body)
		reloc(off+mvinfo.FnVariantsOff, arr)
	}

	// Boundary symbols and the .data slots holding each stop address.
	regions := []struct {
		sec  string
		addr uint64
		size int
	}{
		{mvinfo.SectionVar, l.Var, len(vars)},
		{mvinfo.SectionFn, l.Fn, len(fns)},
		{mvinfo.SectionCallsite, l.Callsite, len(sites)},
		{mvinfo.SectionData, l.Data, len(mvdata)},
	}
	for i, r := range regions {
		stop := r.addr + uint64(r.size)
		slot := SlotAddr + uint64(i)*8
		syms := []struct {
			name         string
			value, size  uint64
			global       bool
			slotRelocate bool
		}{
			{"__start_" + r.sec, r.addr, 0, true, false},
			{"__stop_" + r.sec, stop, 0, true, false},
			{r.sec + "ary_", r.addr, uint64(r.size), false, false},
			{"__stop_" + r.sec + "ptr", slot, 8, false, true},
		}
		for _, s := range syms {
			if f.Omit[s.name] {
				continue
			}
			if s.global {
				b.Global(s.name, s.value, s.size)
			} else {
				b.Local(s.name, s.value, s.size)
			}
			if s.slotRelocate {
				le.PutUint64(data[slot-DataAddr:], stop)
				reloc(slot, stop)
			}
		}
	}
	b.Global("main", BodyAddr(0), 2)

	for i, p := range f.Pointers {
		off := PointerAddr + uint64(i)*8
		le.PutUint64(data[off-DataAddr:], p)
		reloc(off, p)
	}

	// A relative relocation in .text belongs to no descriptor region.
	reloc(TextAddr+TextSize-8, BodyAddr(0))

	add := func(name string, fn func()) {
		if !f.Omit[name] {
			fn()
		}
	}
	add(".rodata", func() { b.Rodata(".rodata", RodataAddr, rodata) })
	add(".text", func() { b.Text(".text", TextAddr, text) })
	add(mvinfo.SectionText, func() { b.Text(mvinfo.SectionText, MVTextAddr, mvtext) })
	add(mvinfo.SectionVar, func() { b.Data(mvinfo.SectionVar, l.Var, vars) })
	add(mvinfo.SectionFn, func() { b.Data(mvinfo.SectionFn, l.Fn, fns) })
	add(mvinfo.SectionData, func() { b.Data(mvinfo.SectionData, l.Data, mvdata) })
	add(mvinfo.SectionCallsite, func() { b.Data(mvinfo.SectionCallsite, l.Callsite, sites) })
	add(".data", func() { b.Data(".data", DataAddr, data) })
	add(".bss", func() { b.NoBits(".bss", BSSAddr, 0x100) })

	return b.WriteFile(t, "app")
}

// Config is one variable "config" at DataAddr and one function "func" with
// variant A (constant 0) for [0,0] and variant B (real body) for [1,1].
func Config() *Fixture {
	return &Fixture{
		Vars: []Var{{Name: "config", Width: 4}},
		Fns: []Fn{{Name: "func", Calls: 1, Variants: []Variant{
			{Code: XorRet, Guards: []Assign{{0, 0, 0}}},
			{Guards: []Assign{{0, 1, 1}}},
		}}},
	}
}

// TenVars has variables v0..v9, each guarding its own function f<i> with a
// constant variant for 0 and a real variant for 1.
func TenVars() *Fixture {
	f := &Fixture{}
	for i := 0; i < 10; i++ {
		f.Vars = append(f.Vars, Var{Name: fmt.Sprintf("v%d", i), Width: 4})
		f.Fns = append(f.Fns, Fn{Name: fmt.Sprintf("f%d", i), Calls: 1, Variants: []Variant{
			{Code: XorRet, Guards: []Assign{{i, 0, 0}}},
			{Guards: []Assign{{i, 1, 1}}},
		}})
	}
	return f
}
