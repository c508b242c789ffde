package session

import (
	"encoding/binary"
	"fmt"

	"bintail/internal/multiverse"
	"bintail/internal/mvinfo"
	"bintail/internal/reconcile"
	"bintail/internal/region"
)

// DataUnit is the record size used for the variant-data boundary symbols.
// A variant occupies two units and an assignment one.
const DataUnit = mvinfo.AssignmentSize

// image is the rebuilt content of one descriptor region.
type image struct {
	region  *region.Region
	section string
	record  uint64
	need    bool // start and stop symbols are required
	buf     []byte
	relocs  []region.Relocation
}

func (im *image) size() uint64 { return uint64(len(im.buf)) }

func (im *image) next() uint64 { return im.region.Vaddr + im.size() }

// ptr is a pointer field of a record: its offset and value.
type ptr struct{ off, val uint64 }

// put appends a record and a relative relocation for each non-zero pointer
// field.
func (im *image) put(rec []byte, ptrs ...ptr) {
	base := im.next()
	im.buf = append(im.buf, rec...)
	for _, p := range ptrs {
		if p.val != 0 {
			im.relocs = append(im.relocs, reconcile.NewRelative(base+p.off, p.val))
		}
	}
}

// Trim compacts the descriptor regions to the entries that can still change
// at run time, regenerates their relocations and moves the boundary symbols.
func (s *Session) Trim() error {
	reg := func(name string) *region.Region { return s.Regions.Get(name) }
	vars := &image{region: reg(mvinfo.SectionVar), section: mvinfo.SectionVar, record: mvinfo.VarSize, need: true}
	fns := &image{region: reg(mvinfo.SectionFn), section: mvinfo.SectionFn, record: mvinfo.FnSize, need: true}
	data := &image{region: reg(mvinfo.SectionData), section: mvinfo.SectionData, record: DataUnit}
	sites := &image{region: reg(mvinfo.SectionCallsite), section: mvinfo.SectionCallsite, record: mvinfo.CallsiteSize, need: true}
	images := []*image{vars, data, fns, sites}

	for _, im := range images {
		if im.need {
			for _, sym := range []string{"__start_" + im.section, "__stop_" + im.section} {
				if _, ok := s.Reconciler.Symbol(sym); !ok {
					return fmt.Errorf("%w: %s", ErrMissingSymbol, sym)
				}
			}
		}
	}

	m := s.Model
	for _, v := range m.Vars {
		if v.Frozen {
			continue
		}
		v.Desc = vars.next()
		vars.put(mvinfo.Var{Name: v.NameAddr, Location: v.Location, Flags: v.Flags}.Encode(),
			ptr{mvinfo.VarNameOff, v.NameAddr}, ptr{mvinfo.VarLocationOff, v.Location})
	}

	for _, fn := range m.Fns {
		if fn.Fixed {
			continue
		}
		variants := trimVariants(fn, data)
		fn.Variants = variants
		var arr uint64
		if len(variants) > 0 {
			arr = variants[0].Desc
		}
		fn.Desc = fns.next()
		fns.put(mvinfo.Fn{Name: fn.NameAddr, Body: fn.Body, NVariants: uint32(len(variants)), Variants: arr}.Encode(),
			ptr{mvinfo.FnNameOff, fn.NameAddr}, ptr{mvinfo.FnBodyOff, fn.Body}, ptr{mvinfo.FnVariantsOff, arr})
	}

	for _, pp := range m.CallSites {
		fn, ok := m.Function(pp.Function)
		if !ok || fn.Fixed {
			continue
		}
		sites.put(mvinfo.Callsite{Function: fn.Body, Label: pp.Location}.Encode(),
			ptr{mvinfo.CallsiteFnOff, fn.Body}, ptr{mvinfo.CallsiteLabelOff, pp.Location})
	}

	rebuilt := make(map[*region.Region]bool, len(images))
	for _, im := range images {
		r := im.region
		if err := r.Resize(im.size()); err != nil {
			return err
		}
		if err := r.Write(r.Vaddr, im.buf); err != nil {
			return err
		}
		r.Relocs = im.relocs
		r.MarkDirty()
		rebuilt[r] = true
	}

	stops := make(map[uint64]uint64)
	for _, im := range images {
		if err := s.moveBoundary(im, stops); err != nil {
			return err
		}
	}
	s.Reconciler.EachRelative(rebuilt, func(rel *region.Relocation) {
		if v, ok := stops[uint64(rel.Addend)]; ok {
			rel.Addend = int64(v)
		}
	})

	s.tables = true
	s.trimmed = true
	s.log.Info("trimmed",
		"variables", vars.size()/mvinfo.VarSize,
		"functions", fns.size()/mvinfo.FnSize,
		"callsites", sites.size()/mvinfo.CallsiteSize,
		"data", data.size())
	return nil
}

// trimVariants writes the surviving variants of fn into the data image:
// the variant array first, then each variant's assignment array. Retired
// variants and guards on frozen variables are dropped.
func trimVariants(fn *multiverse.Function, data *image) []*multiverse.Variant {
	var keep []*multiverse.Variant
	for _, va := range fn.Variants {
		if !va.Retired() {
			keep = append(keep, va)
		}
	}
	if len(keep) == 0 {
		return nil
	}

	guards := make([][]*multiverse.Assignment, len(keep))
	arr := data.next()
	next := arr + uint64(len(keep))*mvinfo.VariantSize
	recs := make([]mvinfo.Variant, len(keep))
	for i, va := range keep {
		for _, a := range va.Assignments {
			if !a.Var.Frozen {
				guards[i] = append(guards[i], a)
			}
		}
		recs[i] = mvinfo.Variant{Body: va.Body, Kind: va.Kind, Constant: va.Constant, NAssignments: uint32(len(guards[i]))}
		if len(guards[i]) > 0 {
			recs[i].Assignments = next
			next += uint64(len(guards[i])) * mvinfo.AssignmentSize
		}
	}

	for i, va := range keep {
		va.Desc = data.next()
		data.put(recs[i].Encode(),
			ptr{mvinfo.VariantBodyOff, recs[i].Body}, ptr{mvinfo.VariantAssignOff, recs[i].Assignments})
	}
	for i, va := range keep {
		for _, a := range guards[i] {
			data.put(mvinfo.Assignment{Location: a.Location, Lower: a.Lower, Upper: a.Upper}.Encode(),
				ptr{mvinfo.AssignVarOff, a.Location})
		}
		va.Assignments = guards[i]
	}
	return keep
}

// moveBoundary recomputes the stop and array symbols of a rebuilt region
// and rewrites the __stop_<sec>ptr slot and its relocation. Without a slot
// symbol the stop change is recorded in stops so relocations can be matched
// by addend instead.
func (s *Session) moveBoundary(im *image, stops map[uint64]uint64) error {
	rc := s.Reconciler
	start, ok := rc.Symbol("__start_" + im.section)
	if !ok {
		return nil
	}
	stop, ok := rc.Symbol("__stop_" + im.section)
	if !ok {
		return nil
	}

	old := stop.Value
	// Stop addresses the last record, so an emptied region yields
	// start - record, below start. The wraparound is intended.
	stop.Value = start.Value + im.size() - im.record

	if ary, ok := rc.Symbol(im.section + "ary_"); ok {
		ary.Size = im.size()
	}
	if slot, ok := rc.Symbol("__stop_" + im.section + "ptr"); ok {
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], stop.Value)
		if err := s.Regions.Write(slot.Value, b[:]); err != nil {
			return fmt.Errorf("session: %s: %w", slot.Name, err)
		}
		if rel, ok := rc.RelocAt(slot.Value); ok {
			rel.Addend = int64(stop.Value)
		}
	} else if old != stop.Value {
		stops[old] = stop.Value
	}
	s.log.Debug("boundary", "section", im.section, "stop", hex(stop.Value), "size", im.size())
	return nil
}
