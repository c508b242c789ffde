package patch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bintail/internal/mvinfo"
	"bintail/internal/region"
)

const textBase = 0x1000

func textMemory(t *testing.T, code []byte) *region.Set {
	t.Helper()
	set := region.NewSet()
	buf := make([]byte, 0x100)
	copy(buf, code)
	set.Add(region.New(".text", 1, textBase, 0x1000, buf))
	return set
}

func TestDecodeSite(t *testing.T) {
	// call 0x1100 from 0x1000
	kind, callee := DecodeSite([]byte{0xe8, 0xfb, 0x00, 0x00, 0x00, 0x90}, 0x1000)
	assert.Equal(t, KindCall, kind)
	assert.Equal(t, uint64(0x1100), callee)

	// call *0x20(%rip) from 0x1000 reads the slot at 0x1026
	kind, callee = DecodeSite([]byte{0xff, 0x15, 0x20, 0x00, 0x00, 0x00}, 0x1000)
	assert.Equal(t, KindIndirectCall, kind)
	assert.Equal(t, uint64(0x1026), callee)

	// backwards call
	kind, callee = DecodeSite([]byte{0xe8, 0xf6, 0xff, 0xff, 0xff}, 0x1010)
	assert.Equal(t, KindCall, kind)
	assert.Equal(t, uint64(0x100b), callee)

	kind, _ = DecodeSite([]byte{0x55, 0x48, 0x89, 0xe5, 0x90}, 0x1000)
	assert.Equal(t, KindInvalid, kind)
}

func TestEncodeCall(t *testing.T) {
	tests := []struct {
		name string
		kind Kind
		t    Target
		want []byte
	}{
		{"nop5", KindCall, Target{Kind: mvinfo.BodyNop}, []byte{0x0f, 0x1f, 0x44, 0x00, 0x00}},
		{"nop6", KindIndirectCall, Target{Kind: mvinfo.BodyNop}, []byte{0x66, 0x0f, 0x1f, 0x44, 0x00, 0x00}},
		{"const5", KindCall, Target{Kind: mvinfo.BodyConstant, Constant: 0x2a}, []byte{0xb8, 0x2a, 0, 0, 0}},
		{"const6", KindIndirectCall, Target{Kind: mvinfo.BodyConstant, Constant: 1}, []byte{0xb8, 1, 0, 0, 0, 0x90}},
		{"cli5", KindCall, Target{Kind: mvinfo.BodyCLI}, []byte{0xfa, 0x0f, 0x1f, 0x40, 0x00}},
		{"sti6", KindIndirectCall, Target{Kind: mvinfo.BodySTI}, []byte{0xfb, 0x0f, 0x1f, 0x44, 0x00, 0x00}},
		{"call5", KindCall, Target{Body: 0x1100}, []byte{0xe8, 0xfb, 0x00, 0x00, 0x00}},
		{"call6", KindIndirectCall, Target{Body: 0x1100}, []byte{0xe8, 0xfb, 0x00, 0x00, 0x00, 0x90}},
		{"jump", KindJump, Target{Body: 0x1100, Kind: mvinfo.BodyNop}, []byte{0xe9, 0xfb, 0x00, 0x00, 0x00}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Encode(tc.kind, 0x1000, tc.t)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
			assert.Len(t, got, tc.kind.Len())
		})
	}
}

func TestEncodeOutOfRange(t *testing.T) {
	_, err := Encode(KindCall, 0x1000, Target{Body: 0x1000 + 1<<32})
	assert.ErrorIs(t, err, region.ErrOutOfRange)

	_, err = Encode(KindInvalid, 0x1000, Target{Body: 0x1100})
	assert.ErrorIs(t, err, ErrInvalidPatchpoint)
}

func TestApplyRevert(t *testing.T) {
	orig := []byte{0xe8, 0x7b, 0x00, 0x00, 0x00} // call 0x1090 from 0x1010
	code := make([]byte, 0x20)
	copy(code[0x10:], orig)
	mem := textMemory(t, code)

	pp := NewCallSite(0x1010)
	require.NoError(t, pp.Decode(mem))
	assert.Equal(t, KindCall, pp.Kind)
	assert.Equal(t, uint64(0x1090), pp.Callee)
	assert.Equal(t, StateClassified, pp.State())

	written, err := pp.Apply(mem, Target{Body: 0x10a0, Kind: mvinfo.BodyConstant, Constant: 7})
	require.NoError(t, err)
	assert.Equal(t, []byte{0xb8, 7, 0, 0, 0}, written)
	assert.Equal(t, StatePatched, pp.State())
	assert.True(t, mem.Get(".text").Dirty())

	got, _ := mem.Read(0x1010, 5)
	assert.Equal(t, written, got)

	// Retargeting keeps the first saved bytes.
	_, err = pp.Apply(mem, Target{Body: 0x10b0})
	require.NoError(t, err)
	assert.Equal(t, orig, pp.Saved())
	cur, ok := pp.Current()
	require.True(t, ok)
	assert.Equal(t, uint64(0x10b0), cur.Body)

	require.NoError(t, pp.Revert(mem))
	got, _ = mem.Read(0x1010, 5)
	assert.Equal(t, orig, got)
	assert.Equal(t, StateReverted, pp.State())
	_, ok = pp.Current()
	assert.False(t, ok)
}

func TestDiscard(t *testing.T) {
	mem := textMemory(t, []byte{0xe8, 0x00, 0x00, 0x00, 0x00})
	pp := NewCallSite(textBase)
	require.NoError(t, pp.Decode(mem))
	_, err := pp.Apply(mem, Target{Kind: mvinfo.BodyNop})
	require.NoError(t, err)

	pp.Discard()
	assert.Nil(t, pp.Saved())
	assert.ErrorIs(t, pp.Revert(mem), ErrNotSaved)
}

func TestApplyInvalid(t *testing.T) {
	mem := textMemory(t, []byte{0x55, 0x48, 0x89, 0xe5, 0x90, 0x90})
	pp := NewCallSite(textBase)
	require.NoError(t, pp.Decode(mem))
	assert.True(t, pp.Invalid())

	_, err := pp.Apply(mem, Target{Kind: mvinfo.BodyNop})
	assert.ErrorIs(t, err, ErrInvalidPatchpoint)
	got, _ := mem.Read(textBase, 6)
	assert.Equal(t, []byte{0x55, 0x48, 0x89, 0xe5, 0x90, 0x90}, got)
	assert.False(t, mem.Get(".text").Dirty())
}

func TestUnclassifiedIsInvalid(t *testing.T) {
	assert.True(t, NewCallSite(0x1000).Invalid())
}

func TestJumpPatchpoint(t *testing.T) {
	mem := textMemory(t, []byte{0x55, 0x48, 0x89, 0xe5, 0xc3})
	pp := NewJump(textBase)
	assert.True(t, pp.Synthetic)
	assert.False(t, pp.Invalid())

	written, err := pp.Apply(mem, Target{Body: textBase + 0x40})
	require.NoError(t, err)
	assert.Equal(t, []byte{0xe9, 0x3b, 0, 0, 0}, written)

	require.NoError(t, pp.Revert(mem))
	got, _ := mem.Read(textBase, 5)
	assert.Equal(t, []byte{0x55, 0x48, 0x89, 0xe5, 0xc3}, got)
}

func TestDecodeAtSectionEnd(t *testing.T) {
	set := region.NewSet()
	set.Add(region.New(".text", 1, textBase, 0x1000, []byte{0x90, 0xe8, 0x00, 0x00, 0x00, 0x00}))
	pp := NewCallSite(textBase + 1)
	require.NoError(t, pp.Decode(set))
	assert.Equal(t, KindCall, pp.Kind)
	assert.Equal(t, uint64(textBase+6), pp.Callee)
}
