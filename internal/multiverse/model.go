package multiverse

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"

	"bintail/internal/diag"
	"bintail/internal/disasm"
	"bintail/internal/mvinfo"
	"bintail/internal/patch"
	"bintail/internal/region"
)

var (
	ErrUnknownVariable = errors.New("multiverse: unknown variable")
	ErrVariableFrozen  = errors.New("multiverse: variable is frozen")
)

// RelocLookup returns the addend of the relative relocation at addr.
type RelocLookup func(addr uint64) (int64, bool)

// Options controls model construction.
type Options struct {
	Diags  *diag.Diags // nil discards diagnostics
	Relocs RelocLookup // resolves indirect call slots; nil reads slot bytes

	// OnPatch is called after each patchpoint write.
	OnPatch func(fn *Function, pp *patch.Patchpoint, code []byte)
}

// Model is the linked entity graph of one binary.
type Model struct {
	Vars []*Variable
	Fns  []*Function
	// CallSites are the linked call-site patchpoints in descriptor order.
	CallSites []*patch.Patchpoint

	mem    *region.Set
	opts   Options
	byName map[string]*Variable
	byLoc  map[uint64]*Variable
	byBody map[uint64]*Function
}

// Build reads the descriptor regions from mem and cross-links them.
func Build(mem *region.Set, opts Options) (*Model, error) {
	if opts.Diags == nil {
		opts.Diags = &diag.Diags{}
	}
	m := &Model{
		mem:    mem,
		opts:   opts,
		byName: make(map[string]*Variable),
		byLoc:  make(map[uint64]*Variable),
		byBody: make(map[uint64]*Function),
	}
	if err := m.loadVars(); err != nil {
		return nil, err
	}
	if err := m.loadFns(); err != nil {
		return nil, err
	}
	if err := m.linkAssignments(); err != nil {
		return nil, err
	}
	if err := m.linkCallSites(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Model) Diags() *diag.Diags { return m.opts.Diags }

// Memory returns the region set backing the model.
func (m *Model) Memory() *region.Set { return m.mem }

func (m *Model) name(addr uint64) (string, error) {
	if addr == 0 {
		return "", nil
	}
	return m.mem.CString(addr)
}

func (m *Model) loadVars() error {
	r, err := m.mem.Require(mvinfo.SectionVar)
	if err != nil {
		return err
	}
	for off := uint64(0); off+mvinfo.VarSize <= r.Size; off += mvinfo.VarSize {
		addr := r.Vaddr + off
		b, err := r.Read(addr, mvinfo.VarSize)
		if err != nil {
			return err
		}
		rec, err := mvinfo.DecodeVar(b)
		if err != nil {
			return err
		}
		name, err := m.name(rec.Name)
		if err != nil {
			return fmt.Errorf("multiverse: variable at 0x%x: %w", addr, err)
		}
		v := &Variable{
			Name:     name,
			NameAddr: rec.Name,
			Desc:     addr,
			Location: rec.Location,
			Flags:    rec.Flags,
		}
		if v.Value, err = m.readValue(v); err != nil {
			return fmt.Errorf("multiverse: variable %s: %w", name, err)
		}
		m.Vars = append(m.Vars, v)
		m.byName[name] = v
		m.byLoc[v.Location] = v
	}
	return nil
}

func width(v *Variable) int {
	return min(int(v.Flags.Width), 8)
}

func (m *Model) readValue(v *Variable) (uint64, error) {
	n := width(v)
	if n == 0 {
		return 0, nil
	}
	b, err := m.mem.Read(v.Location, n)
	if err != nil {
		return 0, err
	}
	var buf [8]byte
	copy(buf[:], b)
	return binary.LittleEndian.Uint64(buf[:]) & v.Flags.Mask(), nil
}

func (m *Model) loadFns() error {
	r, err := m.mem.Require(mvinfo.SectionFn)
	if err != nil {
		return err
	}
	for off := uint64(0); off+mvinfo.FnSize <= r.Size; off += mvinfo.FnSize {
		addr := r.Vaddr + off
		b, err := r.Read(addr, mvinfo.FnSize)
		if err != nil {
			return err
		}
		rec, err := mvinfo.DecodeFn(b)
		if err != nil {
			return err
		}
		name, err := m.name(rec.Name)
		if err != nil {
			return fmt.Errorf("multiverse: function at 0x%x: %w", addr, err)
		}
		fn := &Function{
			Name:        name,
			NameAddr:    rec.Name,
			Desc:        addr,
			Body:        rec.Body,
			Patchpoints: []*patch.Patchpoint{patch.NewJump(rec.Body)},
		}
		for i := uint32(0); i < rec.NVariants; i++ {
			va, err := m.loadVariant(fn, rec.Variants+uint64(i)*mvinfo.VariantSize)
			if err != nil {
				return fmt.Errorf("multiverse: function %s variant %d: %w", name, i, err)
			}
			fn.Variants = append(fn.Variants, va)
		}
		m.Fns = append(m.Fns, fn)
		m.byBody[fn.Body] = fn
	}
	return nil
}

func (m *Model) loadVariant(fn *Function, addr uint64) (*Variant, error) {
	b, err := m.mem.Read(addr, mvinfo.VariantSize)
	if err != nil {
		return nil, err
	}
	rec, err := mvinfo.DecodeVariant(b)
	if err != nil {
		return nil, err
	}
	va := &Variant{
		Function: fn,
		Desc:     addr,
		Body:     rec.Body,
		Kind:     rec.Kind,
		Constant: rec.Constant,
	}
	if va.Kind == mvinfo.BodyNone {
		if code := m.window(rec.Body, disasm.BodyWindow); code != nil {
			va.Kind, va.Constant = disasm.ClassifyBody(code)
		}
	}
	for j := uint32(0); j < rec.NAssignments; j++ {
		ab, err := m.mem.Read(rec.Assignments+uint64(j)*mvinfo.AssignmentSize, mvinfo.AssignmentSize)
		if err != nil {
			return nil, err
		}
		ar, err := mvinfo.DecodeAssignment(ab)
		if err != nil {
			return nil, err
		}
		va.Assignments = append(va.Assignments, &Assignment{
			Location: ar.Location,
			Lower:    ar.Lower,
			Upper:    ar.Upper,
		})
	}
	return va, nil
}

// window reads up to n bytes at addr without crossing the region end.
func (m *Model) window(addr uint64, n int) []byte {
	r, err := m.mem.Lookup(addr)
	if err != nil || r.NoBits {
		return nil
	}
	n = int(min(uint64(n), r.End()-addr))
	b, err := r.Read(addr, n)
	if err != nil {
		return nil
	}
	return b
}

// linkAssignments connects each guard to its variable and each variable to
// the functions it guards.
func (m *Model) linkAssignments() error {
	for _, fn := range m.Fns {
		for _, va := range fn.Variants {
			for _, a := range va.Assignments {
				v := m.byLoc[a.Location]
				if v == nil {
					if err := m.opts.Diags.Addf(a.Location, diag.KindDanglingAssignment,
						"%s: variant 0x%x guards unknown variable", fn.Name, va.Body); err != nil {
						return err
					}
					continue
				}
				a.Var = v
				v.addFunction(fn)
			}
		}
	}
	return nil
}

// linkCallSites decodes each call-site record and attaches it to the
// function whose generic body it calls.
func (m *Model) linkCallSites() error {
	r, err := m.mem.Require(mvinfo.SectionCallsite)
	if err != nil {
		return err
	}
	d := m.opts.Diags
	for off := uint64(0); off+mvinfo.CallsiteSize <= r.Size; off += mvinfo.CallsiteSize {
		b, err := r.Read(r.Vaddr+off, mvinfo.CallsiteSize)
		if err != nil {
			return err
		}
		rec, err := mvinfo.DecodeCallsite(b)
		if err != nil {
			return err
		}

		pp := patch.NewCallSite(rec.Label)
		if err := pp.Decode(m.mem); err != nil {
			if err := d.Addf(rec.Label, diag.KindInvalidPatchpoint, "unreadable site: %v", err); err != nil {
				return err
			}
			continue
		}
		if pp.Invalid() {
			if err := d.Addf(rec.Label, diag.KindInvalidPatchpoint, "not a call instruction"); err != nil {
				return err
			}
			continue
		}

		target, ok := m.resolve(pp)
		fn := m.byBody[target]
		if !ok || fn == nil {
			if err := d.Addf(rec.Label, diag.KindStalePatchpoint,
				"%s to 0x%x matches no function", pp.Kind, target); err != nil {
				return err
			}
			continue
		}
		pp.Function = fn.Body
		fn.Patchpoints = append(fn.Patchpoints, pp)
		m.CallSites = append(m.CallSites, pp)
	}
	return nil
}

// resolve returns the call target of a decoded site. Indirect calls read the
// pointer slot through its relocation, falling back to the slot bytes.
func (m *Model) resolve(pp *patch.Patchpoint) (uint64, bool) {
	if pp.Kind != patch.KindIndirectCall {
		return pp.Callee, true
	}
	if m.opts.Relocs != nil {
		if addend, ok := m.opts.Relocs(pp.Callee); ok {
			return uint64(addend), true
		}
	}
	b, err := m.mem.Read(pp.Callee, 8)
	if err != nil {
		return 0, false
	}
	return binary.LittleEndian.Uint64(b), true
}

// Variable returns the variable with the given name.
func (m *Model) Variable(name string) (*Variable, error) {
	if v := m.byName[name]; v != nil {
		return v, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownVariable, name)
}

// Function returns the function whose generic body is at addr.
func (m *Model) Function(body uint64) (*Function, bool) {
	fn, ok := m.byBody[body]
	return fn, ok
}

// Names returns the variable names in sorted order.
func (m *Model) Names() []string {
	names := make([]string, 0, len(m.byName))
	for n := range m.byName {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
