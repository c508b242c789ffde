package session

import (
	"bintail/internal/output"
	"bintail/internal/patch"
)

// Summary captures the current session state as a report.
func (s *Session) Summary() (*output.Report, error) {
	digest, err := output.DigestFile(s.File.Path())
	if err != nil {
		return nil, err
	}
	r := &output.Report{
		Input:       s.File.Path(),
		Digest:      digest,
		Size:        s.File.FileSize(),
		Diagnostics: s.Diags.Items(),
	}

	for _, seg := range s.File.LoadSegments() {
		r.Segments = append(r.Segments, output.Segment{
			Vaddr:  seg.Vaddr,
			Memsz:  seg.Memsz,
			Filesz: seg.Filesz,
			Offset: seg.Offset,
			Flags:  seg.Flags.String(),
		})
	}

	for _, reg := range s.Regions.All() {
		e := output.Region{
			Name:   reg.Name,
			Vaddr:  reg.Vaddr,
			Size:   reg.Size,
			Cap:    reg.Cap(),
			NoBits: reg.NoBits,
			Dirty:  reg.Dirty(),
			Relocs: len(reg.Relocs),
			Syms:   len(reg.Syms),
		}
		if !reg.NoBits {
			e.Digest = output.Digest(reg.Live())
		}
		r.Regions = append(r.Regions, e)
	}

	for _, v := range s.Model.Vars {
		e := output.Variable{
			Name:     v.Name,
			Location: v.Location,
			Width:    v.Flags.Width,
			Signed:   v.Flags.Signed,
			Tracked:  v.Flags.Tracked,
			Bound:    v.Flags.Bound,
			Value:    v.Value,
			Frozen:   v.Frozen,
		}
		for _, fn := range v.Functions {
			e.Functions = append(e.Functions, fn.Name)
		}
		r.Variables = append(r.Variables, e)
	}

	for _, fn := range s.Model.Fns {
		e := output.Function{Name: fn.Name, Body: fn.Body, Fixed: fn.Fixed}
		if fn.Active != nil {
			e.Active = fn.Active.Body
		}
		for _, va := range fn.Variants {
			ve := output.Variant{
				Body:     va.Body,
				Kind:     va.Kind.String(),
				Constant: va.Constant,
				Active:   va.Active(),
				Frozen:   va.Frozen(),
				Retired:  va.Retired(),
			}
			for _, a := range va.Assignments {
				ae := output.Assignment{Location: a.Location, Lower: a.Lower, Upper: a.Upper}
				if a.Var != nil {
					ae.Variable = a.Var.Name
					ae.Value = a.Var.Value
				}
				ve.Assignments = append(ve.Assignments, ae)
			}
			e.Variants = append(e.Variants, ve)
		}
		for _, pp := range fn.Patchpoints {
			e.Patchpoints = append(e.Patchpoints, s.patchpoint(pp))
		}
		r.Functions = append(r.Functions, e)
	}

	rels, relative := s.Reconciler.Relocations()
	syms, _ := s.Reconciler.Symbols()
	r.Relocations = output.RelocSummary{
		Total:     len(rels),
		Relative:  relative,
		Unmatched: len(s.Reconciler.Unmatched),
		Other:     len(s.Reconciler.Other),
		Symbols:   len(syms),
	}
	return r, nil
}

func (s *Session) patchpoint(pp *patch.Patchpoint) output.Patchpoint {
	e := output.Patchpoint{
		Location:  pp.Location,
		Kind:      pp.Kind.String(),
		State:     pp.State().String(),
		Synthetic: pp.Synthetic,
	}
	if reg, err := s.Regions.Lookup(pp.Location); err == nil {
		e.Section = reg.Name
	}
	return e
}

// RelocTables returns the relocation buckets in rebuild order.
func (s *Session) RelocTables() []output.RelocTable {
	rc := s.Reconciler
	var out []output.RelocTable
	for _, r := range rc.Regions {
		out = append(out, output.RelocTable{Bucket: r.Name, Entries: r.Relocs})
	}
	out = append(out,
		output.RelocTable{Bucket: "unmatched", Entries: rc.Unmatched},
		output.RelocTable{Bucket: "other", Entries: rc.Other})
	return out
}

// SymTables returns the symbol buckets in rebuild order.
func (s *Session) SymTables() []output.SymTable {
	rc := s.Reconciler
	var out []output.SymTable
	for _, r := range rc.Regions {
		out = append(out, output.SymTable{Bucket: r.Name, Entries: r.Syms})
	}
	return append(out, output.SymTable{Bucket: "other", Entries: rc.OtherSyms})
}
