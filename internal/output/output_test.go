package output

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bintail/internal/diag"
	"bintail/internal/disasm"
	"bintail/internal/region"
)

func init() { color.NoColor = true }

func sampleReport() *Report {
	return &Report{
		Input: "app",
		Variables: []Variable{
			{Name: "config", Location: 0xa000, Width: 4, Value: 1, Frozen: true, Functions: []string{"func"}},
		},
		Functions: []Function{{
			Name: "func", Body: 0x2000, Fixed: true, Active: 0x3010,
			Variants: []Variant{
				{Body: 0x3000, Kind: "constant", Retired: true, Assignments: []Assignment{{Variable: "config", Value: 1, Lower: 0, Upper: 0}}},
				{Body: 0x3010, Kind: "none", Active: true, Frozen: true, Assignments: []Assignment{{Variable: "config", Value: 1, Lower: 1, Upper: 1}}},
			},
			Patchpoints: []Patchpoint{
				{Location: 0x2000, Section: ".text", Kind: "jump", State: "patched", Synthetic: true},
				{Location: 0x2040, Section: ".text", Kind: "call", State: "patched"},
			},
		}},
		Diagnostics: []diag.Diag{{Addr: 0x2050, Kind: diag.KindStalePatchpoint, Msg: "call to 0x2070"}},
	}
}

func TestDigest(t *testing.T) {
	// BLAKE3 of the empty input.
	assert.Equal(t, "af1349b9f5f9a1a6a0404dea36dcc9499bcb25c9adc112b7cc9a93cae41f3262", Digest(nil))
	assert.NotEqual(t, Digest([]byte{1}), Digest([]byte{2}))

	path := filepath.Join(t.TempDir(), "f")
	require.NoError(t, os.WriteFile(path, []byte("abc"), 0644))
	got, err := DigestFile(path)
	require.NoError(t, err)
	assert.Equal(t, Digest([]byte("abc")), got)
}

func TestWriteReportJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.json")
	require.NoError(t, WriteReportJSON(path, sampleReport()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var back Report
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, "config", back.Variables[0].Name)
	assert.Equal(t, uint64(0x3010), back.Functions[0].Active)
	assert.Equal(t, diag.KindStalePatchpoint, back.Diagnostics[0].Kind)
	assert.True(t, strings.HasPrefix(string(data), "{\n  \"input\""))
}

func TestWriteListing(t *testing.T) {
	var buf bytes.Buffer
	WriteListing(&buf, sampleReport())
	out := buf.String()

	assert.Contains(t, out, "config")
	assert.Contains(t, out, "[frozen]")
	assert.Contains(t, out, "[fixed]")
	assert.Contains(t, out, "-> 0x00003010")
	assert.Contains(t, out, "(retired)")
	assert.Contains(t, out, "1 <= config(1) <= 1")
	assert.Contains(t, out, "pp 0x00002040")
	assert.NotContains(t, out, "pp 0x00002000", "synthetic jumps are not listed")
	assert.Contains(t, out, "[stale_patchpoint]")
}

func TestWriteTables(t *testing.T) {
	var buf bytes.Buffer
	WriteRelocations(&buf, []RelocTable{{Bucket: "__multiverse_var_", Entries: []region.Relocation{{Offset: 0x5000, Info: 8, Addend: 0x1000}}}})
	assert.Contains(t, buf.String(), "__multiverse_var_: 1")
	assert.Contains(t, buf.String(), "addend=0x1000")

	buf.Reset()
	WriteSymbols(&buf, []SymTable{{Bucket: "other", Entries: []region.Symbol{{Name: "__start___multiverse_var_", Info: 0x11, Value: 0x5000}}}})
	assert.Contains(t, buf.String(), "__start___multiverse_var_")
	assert.Contains(t, buf.String(), "bind=1")
}

func TestWriteASM(t *testing.T) {
	dir := t.TempDir()
	insts := disasm.Disassemble([]byte{0x31, 0xc0, 0xc3}, disasm.Options{BaseAddr: 0x3000})
	require.NoError(t, WriteASM(dir, "func/0x3000", insts, nil))

	data, err := os.ReadFile(filepath.Join(dir, "asm", "func", "0x3000.txt"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "ret")
}
