// Package output writes bintail reports, listings and disassembly to files
// and terminals.
package output

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/zeebo/blake3"

	"bintail/internal/diag"
	"bintail/internal/disasm"
)

// Report is the machine-readable state of a session.
type Report struct {
	Input       string       `json:"input"`
	Digest      string       `json:"digest"`
	Size        int64        `json:"size"`
	Segments    []Segment    `json:"segments"`
	Regions     []Region     `json:"regions"`
	Variables   []Variable   `json:"variables"`
	Functions   []Function   `json:"functions"`
	Relocations RelocSummary `json:"relocations"`
	Diagnostics []diag.Diag  `json:"diagnostics"`
}

// Segment is a PT_LOAD program header.
type Segment struct {
	Vaddr  uint64 `json:"vaddr"`
	Memsz  uint64 `json:"memsz"`
	Filesz uint64 `json:"filesz"`
	Offset uint64 `json:"offset"`
	Flags  string `json:"flags"`
}

type Region struct {
	Name   string `json:"name"`
	Vaddr  uint64 `json:"vaddr"`
	Size   uint64 `json:"size"`
	Cap    uint64 `json:"cap"`
	NoBits bool   `json:"nobits,omitempty"`
	Dirty  bool   `json:"dirty"`
	Relocs int    `json:"relocs"`
	Syms   int    `json:"syms"`
	Digest string `json:"digest,omitempty"`
}

type Variable struct {
	Name      string   `json:"name"`
	Location  uint64   `json:"location"`
	Width     uint8    `json:"width"`
	Signed    bool     `json:"signed,omitempty"`
	Tracked   bool     `json:"tracked,omitempty"`
	Bound     bool     `json:"bound,omitempty"`
	Value     uint64   `json:"value"`
	Frozen    bool     `json:"frozen"`
	Functions []string `json:"functions,omitempty"`
}

type Function struct {
	Name        string       `json:"name"`
	Body        uint64       `json:"body"`
	Fixed       bool         `json:"fixed"`
	Active      uint64       `json:"active,omitempty"`
	Variants    []Variant    `json:"variants"`
	Patchpoints []Patchpoint `json:"patchpoints"`
}

type Variant struct {
	Body        uint64       `json:"body"`
	Kind        string       `json:"kind"`
	Constant    uint32       `json:"constant,omitempty"`
	Active      bool         `json:"active"`
	Frozen      bool         `json:"frozen"`
	Retired     bool         `json:"retired,omitempty"`
	Assignments []Assignment `json:"assignments"`
}

type Assignment struct {
	Variable string `json:"variable"` // empty when dangling
	Location uint64 `json:"location"`
	Value    uint64 `json:"value"`
	Lower    uint32 `json:"lower"`
	Upper    uint32 `json:"upper"`
}

type Patchpoint struct {
	Location  uint64 `json:"location"`
	Section   string `json:"section"`
	Kind      string `json:"kind"`
	State     string `json:"state"`
	Synthetic bool   `json:"synthetic,omitempty"`
}

type RelocSummary struct {
	Total     int `json:"total"`
	Relative  int `json:"relative"`
	Unmatched int `json:"unmatched"`
	Other     int `json:"other"`
	Symbols   int `json:"symbols"`
}

// Digest returns the hex BLAKE3-256 digest of b.
func Digest(b []byte) string {
	sum := blake3.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// DigestFile hashes a file's contents.
func DigestFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("output: open %s: %w", path, err)
	}
	defer f.Close()

	h := blake3.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("output: hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// WriteReportJSON writes r to path as indented JSON.
func WriteReportJSON(path string, r *Report) error {
	return writeJSON(path, r)
}

// EncodeJSON writes v to w as indented JSON.
func EncodeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteASM writes disassembled instructions to asm/<name>.txt.
func WriteASM(dir string, name string, insts []disasm.Inst, lookup disasm.SymbolLookup, annotators ...disasm.Annotator) error {
	path := filepath.Join(dir, "asm", name+".txt")
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("output: mkdir asm: %w", err)
	}

	text := disasm.Format(insts, lookup, annotators...)
	return os.WriteFile(path, []byte(text), 0644)
}

func writeJSON(path string, v any) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("output: create %s: %w", path, err)
	}
	defer f.Close()

	if err := EncodeJSON(f, v); err != nil {
		return fmt.Errorf("output: encode %s: %w", path, err)
	}
	return nil
}
