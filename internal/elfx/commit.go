package elfx

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Elf64_Shdr field offsets.
const (
	shdrSizeOff = 32
	shdrInfoOff = 44
)

type pendingWrite struct {
	off  int64
	data []byte
}

type shdrPatch struct {
	size *uint64
	info *uint32
}

// WriteAt stages b at file offset off. Later writes win where they overlap.
func (f *File) WriteAt(b []byte, off int64) error {
	if off < 0 || off+int64(len(b)) > f.size {
		return fmt.Errorf("%w: write [0x%x, +%d) past end of file", ErrCommit, off, len(b))
	}
	f.writes = append(f.writes, pendingWrite{off: off, data: append([]byte(nil), b...)})
	return nil
}

func (f *File) patch(idx int) *shdrPatch {
	p := f.shdrs[idx]
	if p == nil {
		p = &shdrPatch{}
		f.shdrs[idx] = p
	}
	return p
}

// SetSectionSize stages a new sh_size for section idx.
func (f *File) SetSectionSize(idx int, size uint64) { f.patch(idx).size = &size }

// SetSectionInfo stages a new sh_info for section idx.
func (f *File) SetSectionInfo(idx int, info uint32) { f.patch(idx).info = &info }

// Pending returns the number of staged byte writes.
func (f *File) Pending() int { return len(f.writes) }

// Commit writes a copy of the input with all staged changes applied to out.
// The copy is staged next to out, synced and renamed into place, so out is
// either untouched or complete.
func (f *File) Commit(out string) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(out), "."+filepath.Base(out)+".*")
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCommit, err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if _, err = io.Copy(tmp, io.NewSectionReader(f.f, 0, f.size)); err != nil {
		return fmt.Errorf("%w: copy: %w", ErrCommit, err)
	}
	for _, w := range f.writes {
		if _, err = tmp.WriteAt(w.data, w.off); err != nil {
			return fmt.Errorf("%w: write at 0x%x: %w", ErrCommit, w.off, err)
		}
	}
	for idx, p := range f.shdrs {
		base := int64(f.shoff + uint64(idx)*f.shentsize)
		if p.size != nil {
			var b [8]byte
			binary.LittleEndian.PutUint64(b[:], *p.size)
			if _, err = tmp.WriteAt(b[:], base+shdrSizeOff); err != nil {
				return fmt.Errorf("%w: section %d size: %w", ErrCommit, idx, err)
			}
		}
		if p.info != nil {
			var b [4]byte
			binary.LittleEndian.PutUint32(b[:], *p.info)
			if _, err = tmp.WriteAt(b[:], base+shdrInfoOff); err != nil {
				return fmt.Errorf("%w: section %d info: %w", ErrCommit, idx, err)
			}
		}
	}

	if err = tmp.Chmod(f.mode); err != nil {
		return fmt.Errorf("%w: chmod: %w", ErrCommit, err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("%w: sync: %w", ErrCommit, err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("%w: close: %w", ErrCommit, err)
	}
	if err = os.Rename(tmp.Name(), out); err != nil {
		return fmt.Errorf("%w: rename: %w", ErrCommit, err)
	}
	return nil
}
