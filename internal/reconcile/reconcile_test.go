package reconcile

import (
	"debug/elf"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bintail/internal/region"
)

func testRegions() []*region.Region {
	return []*region.Region{
		region.New("__multiverse_var_", 1, 0x1000, 0x1000, make([]byte, 0x40)),
		region.New("__multiverse_data_", 2, 0x1040, 0x1040, make([]byte, 0x40)),
		region.New("__multiverse_fn_", 3, 0x1080, 0x1080, make([]byte, 0x30)),
		region.New("__multiverse_callsite_", 4, 0x10b0, 0x10b0, make([]byte, 0x10)),
		region.New("__multiverse_text_", 5, 0x2000, 0x2000, make([]byte, 0x10)),
		region.New(".data", 6, 0x3000, 0x3000, make([]byte, 0x20)),
	}
}

func glob(s region.Symbol) region.Symbol {
	s.Info = byte(elf.STB_GLOBAL)<<4 | byte(elf.STT_OBJECT)
	return s
}

func TestClassifyPartition(t *testing.T) {
	regs := testRegions()
	rc := New(regs...)

	relocs := []region.Relocation{
		NewRelative(0x1000, 0x4000),
		NewRelative(0x1088, 0x2000),
		NewRelative(0x3008, 0x10a0),
		NewRelative(0x5000, 0x1000), // outside every region
		{Offset: 0x3010, Info: elf.R_INFO(3, uint32(elf.R_X86_64_GLOB_DAT))},
		NewRelative(0x10b8, 0x2004),
	}
	syms := []region.Symbol{
		{},
		glob(region.Symbol{Name: "__start___multiverse_var_", Value: 0x1000}),
		glob(region.Symbol{Name: "__stop___multiverse_var_", Value: 0x1040}),
		{Name: "local", Value: 0x3000},
		glob(region.Symbol{Name: "puts"}),
	}
	rc.Classify(relocs, syms)

	assert.Len(t, regs[0].Relocs, 1)
	assert.Len(t, regs[2].Relocs, 1)
	assert.Len(t, regs[3].Relocs, 1)
	assert.Len(t, regs[5].Relocs, 1)
	assert.Len(t, rc.Unmatched, 1)
	assert.Len(t, rc.Other, 1)

	// __stop_ of the variable section is owned by the next region.
	assert.Equal(t, "__stop___multiverse_var_", regs[1].Syms[0].Name)
	assert.Len(t, rc.OtherSyms, 1)

	rels, relative := rc.Relocations()
	assert.Len(t, rels, len(relocs))
	assert.Equal(t, 5, relative)
	for i := 0; i < relative; i++ {
		assert.True(t, IsRelative(rels[i]), "entry %d should be relative", i)
	}
	assert.False(t, IsRelative(rels[len(rels)-1]))

	seen := map[uint64]int{}
	for _, r := range rels {
		seen[r.Offset]++
	}
	for _, r := range relocs {
		assert.Equal(t, 1, seen[r.Offset], "offset 0x%x", r.Offset)
	}
}

func TestClassifyPriority(t *testing.T) {
	// Two regions sharing an address range: first in order wins.
	a := region.New("a", 1, 0x1000, 0x1000, make([]byte, 0x10))
	b := region.New("b", 2, 0x1000, 0x1000, make([]byte, 0x10))
	rc := New(a, b)
	rc.Classify([]region.Relocation{NewRelative(0x1004, 0)}, nil)
	assert.Len(t, a.Relocs, 1)
	assert.Empty(t, b.Relocs)
}

func TestSymbolsLocalsFirst(t *testing.T) {
	regs := testRegions()
	rc := New(regs...)
	rc.Classify(nil, []region.Symbol{
		{},
		glob(region.Symbol{Name: "g1", Value: 0x1000}),
		{Name: "l1", Value: 0x1008},
		glob(region.Symbol{Name: "g2", Value: 0x9000}),
		{Name: "l2", Value: 0x9008},
	})
	syms, info := rc.Symbols()
	require.Len(t, syms, 5)
	assert.Equal(t, "", syms[0].Name)
	assert.Equal(t, []string{"l1", "l2"}, []string{syms[1].Name, syms[2].Name})
	assert.Equal(t, 3, info)
	assert.Equal(t, []string{"g1", "g2"}, []string{syms[3].Name, syms[4].Name})
}

func TestRebuildRelocationsOverflow(t *testing.T) {
	rc := New(testRegions()...)
	rc.Classify([]region.Relocation{NewRelative(0x1000, 1), NewRelative(0x1008, 2)}, nil)

	_, err := rc.RebuildRelocations(RelaSize)
	assert.ErrorIs(t, err, ErrTableOverflow)

	tab, err := rc.RebuildRelocations(4 * RelaSize)
	require.NoError(t, err)
	assert.Equal(t, uint64(2*RelaSize), tab.Size)
	assert.Equal(t, 2, tab.Relative)
	assert.Len(t, tab.Data, 4*RelaSize)

	back, err := ParseRelocations(tab.Data[:tab.Size])
	require.NoError(t, err)
	assert.Equal(t, int64(2), back[1].Addend)
}

func TestRebuildSymbolsRoundTrip(t *testing.T) {
	strtab := []byte("\x00config\x00")
	raw := make([]byte, 2*SymSize)
	binary.LittleEndian.PutUint32(raw[SymSize:], 1)
	raw[SymSize+4] = byte(elf.STB_GLOBAL)<<4 | byte(elf.STT_OBJECT)
	binary.LittleEndian.PutUint64(raw[SymSize+8:], 0x3000)
	binary.LittleEndian.PutUint64(raw[SymSize+16:], 4)

	syms, err := ParseSymbols(raw, strtab)
	require.NoError(t, err)
	assert.Equal(t, "config", syms[1].Name)

	rc := New(testRegions()...)
	rc.Classify(nil, syms)
	tab, err := rc.RebuildSymbols(len(raw))
	require.NoError(t, err)
	assert.Equal(t, raw, tab.Data)
	assert.Equal(t, 1, tab.Info)
}

func TestLookups(t *testing.T) {
	regs := testRegions()
	rc := New(regs...)
	rc.Classify(
		[]region.Relocation{NewRelative(0x3008, 0x1070), NewRelative(0x6000, 0x1070)},
		[]region.Symbol{{}, {Name: "__stop___multiverse_callsite_", Value: 0x10c0}},
	)

	s, ok := rc.Symbol("__stop___multiverse_callsite_")
	require.True(t, ok)
	s.Value = 0x10b0
	s2, _ := rc.Symbol("__stop___multiverse_callsite_")
	assert.Equal(t, uint64(0x10b0), s2.Value)

	_, ok = rc.RelocAt(0x3008)
	assert.True(t, ok)
	_, ok = rc.RelocAt(0x6000)
	assert.True(t, ok)

	n := 0
	rc.EachRelative(map[*region.Region]bool{regs[5]: true}, func(r *region.Relocation) { n++ })
	assert.Equal(t, 1, n)
}

func TestDynamic(t *testing.T) {
	dyn := make([]byte, 3*DynSize)
	binary.LittleEndian.PutUint64(dyn[0:], uint64(elf.DT_RELASZ))
	binary.LittleEndian.PutUint64(dyn[8:], 96)
	binary.LittleEndian.PutUint64(dyn[16:], uint64(elf.DT_RELACOUNT))
	binary.LittleEndian.PutUint64(dyn[24:], 4)

	assert.True(t, SetDynamic(dyn, int64(elf.DT_RELACOUNT), 2))
	v, ok := Dynamic(dyn, int64(elf.DT_RELACOUNT))
	require.True(t, ok)
	assert.Equal(t, uint64(2), v)
	assert.False(t, SetDynamic(dyn, int64(elf.DT_FLAGS), 1))
}
