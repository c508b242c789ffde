package session

import (
	"debug/elf"
	"fmt"

	"bintail/internal/reconcile"
)

// Write stages every dirty region and, after table edits, the regenerated
// relocation, symbol and dynamic sections, then commits to out. An empty
// out rewrites the input.
func (s *Session) Write(out string) error {
	if out == "" {
		out = s.File.Path()
	}
	f := s.File

	for _, r := range s.Regions.Dirty() {
		if r.NoBits {
			continue
		}
		if err := f.WriteAt(r.Bytes(), int64(r.Offset)); err != nil {
			return fmt.Errorf("session: stage %s: %w", r.Name, err)
		}
		if r.Size != r.Cap() {
			f.SetSectionSize(r.Index, r.Size)
		}
		s.log.Debug("staged", "section", r.Name, "size", r.Size)
	}

	if s.tables {
		if err := s.stageTables(); err != nil {
			return err
		}
	}

	if err := f.Commit(out); err != nil {
		return err
	}
	s.log.Info("written", "output", out, "writes", f.Pending())
	return nil
}

func (s *Session) stageTables() error {
	f := s.File
	rc := s.Reconciler

	rela, err := rc.RebuildRelocations(int(s.rela.sec.Size))
	if err != nil {
		return err
	}
	if err := f.WriteAt(rela.Data, int64(s.rela.sec.Offset)); err != nil {
		return err
	}
	f.SetSectionSize(s.rela.index, rela.Size)

	syms, err := rc.RebuildSymbols(int(s.symtab.sec.Size))
	if err != nil {
		return err
	}
	if err := f.WriteAt(syms.Data, int64(s.symtab.sec.Offset)); err != nil {
		return err
	}
	f.SetSectionSize(s.symtab.index, syms.Size)
	f.SetSectionInfo(s.symtab.index, uint32(syms.Info))

	dyn, err := f.SectionData(s.dynamic.sec)
	if err != nil {
		return err
	}
	if !reconcile.SetDynamic(dyn, int64(elf.DT_RELACOUNT), uint64(rela.Relative)) {
		s.log.Warn("dynamic tag missing", "tag", "DT_RELACOUNT")
	}
	if !reconcile.SetDynamic(dyn, int64(elf.DT_RELASZ), rela.Size) {
		s.log.Warn("dynamic tag missing", "tag", "DT_RELASZ")
	}
	if err := f.WriteAt(dyn, int64(s.dynamic.sec.Offset)); err != nil {
		return err
	}
	s.log.Debug("tables",
		"relocations", rela.Entries,
		"relative", rela.Relative,
		"symbols", syms.Entries,
		"first_global", syms.Info)
	return nil
}
