// Package session owns one rewrite of an instrumented binary: the regions,
// relocation and symbol buckets, the entity graph and the open container.
package session

import (
	"debug/elf"
	"errors"
	"fmt"
	"log/slog"

	"bintail/internal/diag"
	"bintail/internal/elfx"
	"bintail/internal/multiverse"
	"bintail/internal/mvinfo"
	"bintail/internal/patch"
	"bintail/internal/reconcile"
	"bintail/internal/region"
)

var ErrMissingSymbol = errors.New("session: required symbol missing")

// Standard sections the session reads besides the multiverse ones.
const (
	sectionData    = ".data"
	sectionRela    = ".rela.dyn"
	sectionSymtab  = ".symtab"
	sectionDynamic = ".dynamic"
)

// Options controls loading.
type Options struct {
	Mode   diag.Mode
	Logger *slog.Logger // nil uses slog.Default()
}

// table is a linker table section the session regenerates.
type table struct {
	sec   *elf.Section
	index int
}

// Session is a loaded binary under modification.
type Session struct {
	File       *elfx.File
	Regions    *region.Set
	Reconciler *reconcile.Reconciler
	Model      *multiverse.Model
	Diags      *diag.Diags

	log     *slog.Logger
	rela    table
	symtab  table
	dynamic table

	// tables is set once relocations or symbols were edited.
	tables  bool
	trimmed bool
}

// Open opens and loads the binary at path.
func Open(path string, opts Options) (*Session, error) {
	f, err := elfx.Open(path)
	if err != nil {
		return nil, err
	}
	s, err := Load(f, opts)
	if err != nil {
		f.Close()
		return nil, err
	}
	return s, nil
}

// Load builds a session over an open container.
func Load(f *elfx.File, opts Options) (*Session, error) {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	s := &Session{
		File:    f,
		Regions: region.NewSet(),
		Diags:   &diag.Diags{Mode: opts.Mode},
		log:     log.With("file", f.Path()),
	}

	if err := s.loadRegions(); err != nil {
		return nil, err
	}
	for _, name := range []string{
		mvinfo.SectionVar, mvinfo.SectionFn, mvinfo.SectionCallsite,
		mvinfo.SectionData, mvinfo.SectionText,
	} {
		if _, err := s.Regions.Require(name); err != nil {
			return nil, err
		}
	}
	if err := s.loadTables(); err != nil {
		return nil, err
	}

	m, err := multiverse.Build(s.Regions, multiverse.Options{
		Diags: s.Diags,
		Relocs: func(addr uint64) (int64, bool) {
			if rel, ok := s.Reconciler.RelocAt(addr); ok {
				return rel.Addend, true
			}
			return 0, false
		},
		OnPatch: func(fn *multiverse.Function, pp *patch.Patchpoint, code []byte) {
			s.log.Debug("patched", "function", fn.Name, "site", hex(pp.Location),
				"kind", pp.Kind.String(), "bytes", fmt.Sprintf("% x", code))
		},
	})
	if err != nil {
		return nil, err
	}
	s.Model = m

	for _, d := range s.Diags.Items() {
		s.log.Warn("diagnostic", "kind", string(d.Kind), "addr", hex(d.Addr), "msg", d.Msg)
	}
	s.log.Info("loaded",
		"variables", len(m.Vars),
		"functions", len(m.Fns),
		"callsites", len(m.CallSites),
		"diagnostics", s.Diags.Len())
	return s, nil
}

func hex(v uint64) string { return fmt.Sprintf("0x%x", v) }

// loadRegions creates a region for every allocated section with contents
// or NOBITS storage.
func (s *Session) loadRegions() error {
	for i, sec := range s.File.ELF.Sections {
		if sec.Flags&elf.SHF_ALLOC == 0 || sec.Addr == 0 {
			continue
		}
		switch sec.Type {
		case elf.SHT_NOBITS:
			s.Regions.Add(region.NewNoBits(sec.Name, i, sec.Addr, sec.Size))
		case elf.SHT_PROGBITS, elf.SHT_INIT_ARRAY, elf.SHT_FINI_ARRAY:
			data, err := s.File.SectionData(sec)
			if err != nil {
				return err
			}
			s.Regions.Add(region.New(sec.Name, i, sec.Addr, sec.Offset, data))
		}
	}
	return nil
}

func (s *Session) section(name string) (table, error) {
	sec, idx, err := s.File.Section(name)
	if err != nil {
		return table{}, fmt.Errorf("%w: %s", region.ErrMissingSection, name)
	}
	return table{sec: sec, index: idx}, nil
}

func (s *Session) loadTables() error {
	var err error
	if s.rela, err = s.section(sectionRela); err != nil {
		return err
	}
	if s.symtab, err = s.section(sectionSymtab); err != nil {
		return err
	}
	if s.dynamic, err = s.section(sectionDynamic); err != nil {
		return err
	}

	relaData, err := s.File.SectionData(s.rela.sec)
	if err != nil {
		return err
	}
	relocs, err := reconcile.ParseRelocations(relaData)
	if err != nil {
		return err
	}

	symData, err := s.File.SectionData(s.symtab.sec)
	if err != nil {
		return err
	}
	link := int(s.symtab.sec.Link)
	if link <= 0 || link >= len(s.File.ELF.Sections) {
		return fmt.Errorf("session: %s has invalid string table link %d", sectionSymtab, link)
	}
	strtab, err := s.File.SectionData(s.File.ELF.Sections[link])
	if err != nil {
		return err
	}
	syms, err := reconcile.ParseSymbols(symData, strtab)
	if err != nil {
		return err
	}

	get := s.Regions.Get
	s.Reconciler = reconcile.New(
		get(mvinfo.SectionVar),
		get(mvinfo.SectionData),
		get(mvinfo.SectionFn),
		get(mvinfo.SectionCallsite),
		get(mvinfo.SectionText),
		get(sectionData),
	)
	s.Reconciler.Classify(relocs, syms)
	s.log.Debug("classified",
		"relocations", len(relocs),
		"unmatched", len(s.Reconciler.Unmatched),
		"other", len(s.Reconciler.Other),
		"symbols", len(syms))
	return nil
}

// Close releases the container.
func (s *Session) Close() error { return s.File.Close() }

// SetValue changes a variable's value.
func (s *Session) SetValue(name string, v uint64) error {
	if err := s.Model.SetValue(name, v); err != nil {
		return err
	}
	vr, _ := s.Model.Variable(name)
	s.log.Info("set value", "variable", name, "value", vr.Value)
	return nil
}

// Apply freezes a variable and patches the functions it settles.
func (s *Session) Apply(name string) error {
	vr, err := s.Model.Variable(name)
	if err != nil {
		return err
	}
	if vr.Frozen {
		s.log.Debug("already frozen", "variable", name)
		return nil
	}
	if err := s.Model.Apply(name); err != nil {
		return err
	}
	fixed := 0
	for _, fn := range vr.Functions {
		if fn.Fixed {
			fixed++
		}
	}
	s.log.Info("applied", "variable", name, "value", vr.Value,
		"functions", len(vr.Functions), "fixed", fixed)
	return nil
}

// Trimmed reports whether Trim has run.
func (s *Session) Trimmed() bool { return s.trimmed }
