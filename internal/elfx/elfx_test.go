package elfx

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"bintail/internal/elfx/elfxtest"
)

func sample(t *testing.T) string {
	t.Helper()
	return elfxtest.New().
		Rodata(".rodata", 0x1000, []byte("hello\x00")).
		Text(".text", 0x2000, bytes.Repeat([]byte{0x90}, 0x40)).
		Data(".data", 0x3000, make([]byte, 0x20)).
		NoBits(".bss", 0x3100, 0x40).
		Global("greeting", 0x1000, 6).
		Relative(0x3000, 0x1000).
		WriteFile(t, "sample.elf")
}

func TestOpenValid(t *testing.T) {
	ef, err := Open(sample(t))
	if err != nil {
		t.Fatal(err)
	}
	defer ef.Close()

	if ef.FileSize() == 0 {
		t.Error("file size is 0")
	}
	for _, name := range []string{".rodata", ".text", ".data", ".bss", ".rela.dyn", ".dynamic", ".symtab", ".strtab"} {
		if _, _, err := ef.Section(name); err != nil {
			t.Errorf("section %s: %v", name, err)
		}
	}
}

func TestOpenRejectsNonELF(t *testing.T) {
	tmp := filepath.Join(t.TempDir(), "notelf")
	if err := os.WriteFile(tmp, []byte("not an ELF file at all"), 0644); err != nil {
		t.Fatal(err)
	}
	_, err := Open(tmp)
	if !errors.Is(err, ErrNotELF) {
		t.Fatalf("err = %v, want ErrNotELF", err)
	}
}

func TestOpenRejectsExec(t *testing.T) {
	img := elfxtest.New().Text(".text", 0x1000, []byte{0xc3}).Bytes()
	binary.LittleEndian.PutUint16(img[0x10:], uint16(elf.ET_EXEC))
	path := filepath.Join(t.TempDir(), "exec")
	if err := os.WriteFile(path, img, 0755); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(path); !errors.Is(err, ErrNotPIE) {
		t.Fatalf("err = %v, want ErrNotPIE", err)
	}
}

func TestOpenLocked(t *testing.T) {
	path := sample(t)
	ef, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Open(path); !errors.Is(err, ErrLocked) {
		t.Fatalf("second open: err = %v, want ErrLocked", err)
	}
	ef.Close()

	again, err := Open(path)
	if err != nil {
		t.Fatalf("open after close: %v", err)
	}
	again.Close()
}

func TestSectionData(t *testing.T) {
	ef, err := Open(sample(t))
	if err != nil {
		t.Fatal(err)
	}
	defer ef.Close()

	s, _, err := ef.Section(".rodata")
	if err != nil {
		t.Fatal(err)
	}
	data, err := ef.SectionData(s)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "hello\x00" {
		t.Errorf("rodata = %q", data)
	}

	bss, _, _ := ef.Section(".bss")
	if _, err := ef.SectionData(bss); !errors.Is(err, ErrSectionType) {
		t.Errorf("bss err = %v, want ErrSectionType", err)
	}
	if _, _, err := ef.Section(".nope"); !errors.Is(err, ErrNoSection) {
		t.Errorf("missing section err = %v", err)
	}
}

func TestVAToFileOffset(t *testing.T) {
	ef, err := Open(sample(t))
	if err != nil {
		t.Fatal(err)
	}
	defer ef.Close()

	off, err := ef.VAToFileOffset(0x2010)
	if err != nil {
		t.Fatal(err)
	}
	if off != 0x2010 {
		t.Errorf("offset = 0x%x, want 0x2010", off)
	}
	b, err := ef.ReadBytesAtVA(0x2000, 4)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(b, []byte{0x90, 0x90, 0x90, 0x90}) {
		t.Errorf("bytes = % x", b)
	}
	if _, err := ef.VAToFileOffset(0x900000); !errors.Is(err, ErrNoSegment) {
		t.Errorf("err = %v, want ErrNoSegment", err)
	}
	if len(ef.LoadSegments()) != 1 {
		t.Errorf("segments = %d", len(ef.LoadSegments()))
	}
}

func TestCommit(t *testing.T) {
	path := sample(t)
	ef, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer ef.Close()

	_, idx, _ := ef.Section(".text")
	if err := ef.WriteAt([]byte{0xc3}, 0x2000); err != nil {
		t.Fatal(err)
	}
	ef.SetSectionSize(idx, 0x20)
	_, symIdx, _ := ef.Section(".symtab")
	ef.SetSectionInfo(symIdx, 7)

	out := filepath.Join(filepath.Dir(path), "out.elf")
	if err := ef.Commit(out); err != nil {
		t.Fatal(err)
	}

	got, err := elf.Open(out)
	if err != nil {
		t.Fatal(err)
	}
	defer got.Close()
	text := got.Section(".text")
	if text.Size != 0x20 {
		t.Errorf(".text size = 0x%x, want 0x20", text.Size)
	}
	data, _ := text.Data()
	if data[0] != 0xc3 || data[1] != 0x90 {
		t.Errorf(".text = % x", data[:2])
	}
	if info := got.Section(".symtab").Info; info != 7 {
		t.Errorf(".symtab info = %d, want 7", info)
	}

	// The input is untouched.
	orig, _ := os.ReadFile(path)
	if orig[0x2000] != 0x90 {
		t.Error("input modified by commit")
	}
	in, _ := os.Stat(path)
	st, _ := os.Stat(out)
	if st.Mode().Perm() != in.Mode().Perm() {
		t.Errorf("mode = %v, want %v", st.Mode().Perm(), in.Mode().Perm())
	}
}

func TestWriteAtBounds(t *testing.T) {
	ef, err := Open(sample(t))
	if err != nil {
		t.Fatal(err)
	}
	defer ef.Close()
	if err := ef.WriteAt([]byte{1, 2}, ef.FileSize()-1); !errors.Is(err, ErrCommit) {
		t.Errorf("err = %v, want ErrCommit", err)
	}
	if ef.Pending() != 0 {
		t.Errorf("pending = %d", ef.Pending())
	}
}

func TestCommitFailureLeavesNoOutput(t *testing.T) {
	ef, err := Open(sample(t))
	if err != nil {
		t.Fatal(err)
	}
	defer ef.Close()
	out := filepath.Join(t.TempDir(), "missing-dir", "out.elf")
	if err := ef.Commit(out); !errors.Is(err, ErrCommit) {
		t.Fatalf("err = %v, want ErrCommit", err)
	}
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Errorf("output exists after failed commit")
	}
}
