package multiverse

import (
	"encoding/binary"
	"fmt"

	"bintail/internal/diag"
)

// SetValue stores v, masked to the variable width, and writes it into the
// variable's data location. Variables in NOBITS sections keep the value in
// memory only.
func (m *Model) SetValue(name string, v uint64) error {
	vr, err := m.Variable(name)
	if err != nil {
		return err
	}
	if vr.Frozen {
		return fmt.Errorf("%w: %s", ErrVariableFrozen, name)
	}
	vr.Value = v & vr.Flags.Mask()

	n := width(vr)
	if n == 0 {
		return nil
	}
	r, err := m.mem.Lookup(vr.Location)
	if err != nil {
		return err
	}
	if r.NoBits {
		return m.opts.Diags.Addf(vr.Location, diag.KindNoBitsWrite,
			"%s lives in %s; value %d is not persisted", name, r.Name, vr.Value)
	}
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], vr.Value)
	return m.mem.Write(vr.Location, buf[:n])
}

// Apply freezes the variable and specializes every dependent function whose
// selected variant no longer depends on an unfrozen variable. Applying a
// frozen variable is a no-op.
func (m *Model) Apply(name string) error {
	vr, err := m.Variable(name)
	if err != nil {
		return err
	}
	if vr.Frozen {
		return nil
	}
	vr.Frozen = true
	for _, fn := range vr.Functions {
		if fn.Fixed {
			continue
		}
		if err := m.Specialize(fn); err != nil {
			return fmt.Errorf("multiverse: specialize %s: %w", fn.Name, err)
		}
	}
	return nil
}

// Specialize selects the first active variant of fn and, when it is fully
// frozen, patches every valid patchpoint to it and marks fn fixed.
func (m *Model) Specialize(fn *Function) error {
	if fn.Fixed {
		return nil
	}
	active := fn.ActiveVariants()
	if len(active) == 0 {
		return nil
	}
	chosen := active[0]
	if !chosen.Frozen() {
		return nil
	}
	if len(active) > 1 {
		if err := m.opts.Diags.Addf(fn.Body, diag.KindOverlappingVariants,
			"%s: %d variants active, using 0x%x", fn.Name, len(active), chosen.Body); err != nil {
			return err
		}
	}

	t := chosen.Target()
	for _, pp := range fn.Patchpoints {
		if pp.Invalid() {
			continue
		}
		code, err := pp.Apply(m.mem, t)
		if err != nil {
			return err
		}
		if m.opts.OnPatch != nil {
			m.opts.OnPatch(fn, pp, code)
		}
	}
	fn.Active = chosen
	fn.Fixed = true
	return nil
}

// Frozen returns the frozen variables in descriptor order.
func (m *Model) Frozen() []*Variable {
	var out []*Variable
	for _, v := range m.Vars {
		if v.Frozen {
			out = append(out, v)
		}
	}
	return out
}
