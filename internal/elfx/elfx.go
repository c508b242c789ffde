// Package elfx provides ELF loading and in-place rewriting for
// position-independent x86-64 executables.
package elfx

import (
	"debug/elf"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/sys/unix"
)

var (
	ErrNotELF      = errors.New("elfx: not an ELF file")
	ErrNotX86      = errors.New("elfx: not x86-64 (EM_X86_64)")
	ErrNotPIE      = errors.New("elfx: not a position-independent executable")
	ErrNot64Bit    = errors.New("elfx: not 64-bit ELF")
	ErrNoSection   = errors.New("elfx: section not found")
	ErrNoSegment   = errors.New("elfx: no PT_LOAD segment covers address")
	ErrLocked      = errors.New("elfx: file is locked by another process")
	ErrCommit      = errors.New("elfx: commit failed")
	ErrSectionType = errors.New("elfx: section has no file bytes")
)

// File wraps a debug/elf.File opened for rewriting. The underlying file is
// held with an exclusive advisory lock until Close.
type File struct {
	ELF  *elf.File
	path string
	f    *os.File
	size int64
	mode os.FileMode

	shoff     uint64
	shentsize uint64

	writes []pendingWrite
	shdrs  map[int]*shdrPatch
}

// Open opens an ELF file, validates it is an x86-64 ET_DYN object and takes
// an exclusive non-blocking flock on it.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("elfx: open: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("elfx: stat: %w", err)
	}

	ef, err := elf.NewFile(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %v", ErrNotELF, err)
	}

	if ef.Class != elf.ELFCLASS64 {
		f.Close()
		return nil, ErrNot64Bit
	}
	if ef.Machine != elf.EM_X86_64 {
		f.Close()
		return nil, ErrNotX86
	}
	if ef.Type != elf.ET_DYN {
		f.Close()
		return nil, ErrNotPIE
	}

	var hdr [64]byte
	if _, err := f.ReadAt(hdr[:], 0); err != nil {
		f.Close()
		return nil, fmt.Errorf("elfx: read header: %w", err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, fmt.Errorf("%w: %s", ErrLocked, path)
		}
		return nil, fmt.Errorf("elfx: flock: %w", err)
	}

	return &File{
		ELF:       ef,
		path:      path,
		f:         f,
		size:      info.Size(),
		mode:      info.Mode().Perm(),
		shoff:     binary.LittleEndian.Uint64(hdr[0x28:]),
		shentsize: uint64(binary.LittleEndian.Uint16(hdr[0x3a:])),
		shdrs:     make(map[int]*shdrPatch),
	}, nil
}

// Close releases the lock and the file.
func (f *File) Close() error {
	unix.Flock(int(f.f.Fd()), unix.LOCK_UN)
	return f.f.Close()
}

// Path returns the path the file was opened from.
func (f *File) Path() string { return f.path }

// FileSize returns the size of the underlying file.
func (f *File) FileSize() int64 { return f.size }

// Section returns the named section and its header index.
func (f *File) Section(name string) (*elf.Section, int, error) {
	for i, s := range f.ELF.Sections {
		if s.Name == name {
			return s, i, nil
		}
	}
	return nil, 0, fmt.Errorf("%w: %s", ErrNoSection, name)
}

// SectionData returns a private copy of a section's file bytes.
func (f *File) SectionData(s *elf.Section) ([]byte, error) {
	if s.Type == elf.SHT_NOBITS {
		return nil, fmt.Errorf("%w: %s", ErrSectionType, s.Name)
	}
	buf := make([]byte, s.Size)
	if _, err := f.f.ReadAt(buf, int64(s.Offset)); err != nil {
		return nil, fmt.Errorf("elfx: read %s: %w", s.Name, err)
	}
	return buf, nil
}

// VAToFileOffset converts a virtual address to a file offset using PT_LOAD segments.
func (f *File) VAToFileOffset(va uint64) (uint64, error) {
	for _, p := range f.ELF.Progs {
		if p.Type != elf.PT_LOAD {
			continue
		}
		if va >= p.Vaddr && va < p.Vaddr+p.Filesz {
			return va - p.Vaddr + p.Off, nil
		}
	}
	return 0, fmt.Errorf("%w: VA 0x%x", ErrNoSegment, va)
}

// ReadBytesAtVA reads up to n bytes starting at the given virtual address.
func (f *File) ReadBytesAtVA(va uint64, n int) ([]byte, error) {
	off, err := f.VAToFileOffset(va)
	if err != nil {
		return nil, err
	}
	avail := f.size - int64(off)
	if avail <= 0 {
		return nil, fmt.Errorf("elfx: offset 0x%x at or past end of file", off)
	}
	if int64(n) > avail {
		n = int(avail)
	}
	buf := make([]byte, n)
	_, err = f.f.ReadAt(buf, int64(off))
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("elfx: read at 0x%x: %w", off, err)
	}
	return buf, nil
}

// SegmentInfo describes a PT_LOAD segment.
type SegmentInfo struct {
	Vaddr  uint64
	Memsz  uint64
	Filesz uint64
	Offset uint64
	Flags  elf.ProgFlag
}

// LoadSegments returns all PT_LOAD segments.
func (f *File) LoadSegments() []SegmentInfo {
	var segs []SegmentInfo
	for _, p := range f.ELF.Progs {
		if p.Type != elf.PT_LOAD {
			continue
		}
		segs = append(segs, SegmentInfo{
			Vaddr:  p.Vaddr,
			Memsz:  p.Memsz,
			Filesz: p.Filesz,
			Offset: p.Off,
			Flags:  p.Flags,
		})
	}
	return segs
}
