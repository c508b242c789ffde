// Package mvinfo defines the on-disk layout of multiverse descriptor records.
//
// Records are little-endian x86-64 structs laid out back to back in their
// sections. Runtime-only fields (linked-list heads, active pointers) are
// decoded for completeness but always encoded as zero.
package mvinfo

import (
	"encoding/binary"
	"fmt"
)

// Section names emitted by the multiverse compiler plugin.
const (
	SectionVar      = "__multiverse_var_"
	SectionFn       = "__multiverse_fn_"
	SectionCallsite = "__multiverse_callsite_"
	SectionData     = "__multiverse_data_"
	SectionText     = "__multiverse_text_"
)

// Record sizes in bytes.
const (
	VarSize        = 32
	FnSize         = 48
	VariantSize    = 32
	AssignmentSize = 16
	CallsiteSize   = 16
)

// Offsets of pointer fields that carry a relative relocation.
const (
	VarNameOff       = 0
	VarLocationOff   = 8
	FnNameOff        = 0
	FnBodyOff        = 8
	FnVariantsOff    = 24
	VariantBodyOff   = 0
	VariantAssignOff = 16
	AssignVarOff     = 0
	CallsiteFnOff    = 0
	CallsiteLabelOff = 8
)

// VarFlags is the decoded form of the packed variable info word.
//
//	bits 0-3  width in bytes
//	bits 4-28 reserved
//	bit  29   tracked
//	bit  30   signed
//	bit  31   bound
type VarFlags struct {
	Width    uint8
	Reserved uint32
	Tracked  bool
	Signed   bool
	Bound    bool
}

func DecodeVarFlags(info uint32) VarFlags {
	return VarFlags{
		Width:    uint8(info & 0xf),
		Reserved: (info >> 4) & 0x1ffffff,
		Tracked:  info&(1<<29) != 0,
		Signed:   info&(1<<30) != 0,
		Bound:    info&(1<<31) != 0,
	}
}

func (f VarFlags) Encode() uint32 {
	v := uint32(f.Width&0xf) | (f.Reserved&0x1ffffff)<<4
	if f.Tracked {
		v |= 1 << 29
	}
	if f.Signed {
		v |= 1 << 30
	}
	if f.Bound {
		v |= 1 << 31
	}
	return v
}

// Mask returns the value mask for the variable width.
func (f VarFlags) Mask() uint64 {
	if f.Width == 0 || f.Width >= 8 {
		return ^uint64(0)
	}
	return 1<<(8*uint64(f.Width)) - 1
}

// Var is a variable descriptor (struct mv_info_var).
type Var struct {
	Name          uint64
	Location      uint64
	Flags         VarFlags
	FunctionsHead uint64
}

// Fn is a function descriptor (struct mv_info_fn).
type Fn struct {
	Name            uint64
	Body            uint64
	NVariants       uint32
	Variants        uint64
	PatchpointsHead uint64
	ActiveVariant   uint64
}

// Variant is a specialized body descriptor (struct mv_info_mvfn).
type Variant struct {
	Body         uint64
	NAssignments uint32
	Assignments  uint64
	Kind         BodyKind
	Constant     uint32
}

// Assignment is a variable range guard (struct mv_info_assignment).
type Assignment struct {
	Location uint64
	Lower    uint32
	Upper    uint32
}

// Active reports whether v lies in the guard's closed range.
func (a Assignment) Active(v uint64) bool {
	return v >= uint64(a.Lower) && v <= uint64(a.Upper)
}

// Callsite is a call-site descriptor (struct mv_info_callsite).
type Callsite struct {
	Function uint64
	Label    uint64
}

func short(what string, b []byte, want int) error {
	if len(b) < want {
		return fmt.Errorf("mvinfo: %s record truncated (%d < %d bytes)", what, len(b), want)
	}
	return nil
}

var le = binary.LittleEndian

func DecodeVar(b []byte) (Var, error) {
	if err := short("var", b, VarSize); err != nil {
		return Var{}, err
	}
	return Var{
		Name:          le.Uint64(b[0:]),
		Location:      le.Uint64(b[8:]),
		Flags:         DecodeVarFlags(le.Uint32(b[16:])),
		FunctionsHead: le.Uint64(b[24:]),
	}, nil
}

func (v Var) Encode() []byte {
	b := make([]byte, VarSize)
	le.PutUint64(b[0:], v.Name)
	le.PutUint64(b[8:], v.Location)
	le.PutUint32(b[16:], v.Flags.Encode())
	return b
}

func DecodeFn(b []byte) (Fn, error) {
	if err := short("fn", b, FnSize); err != nil {
		return Fn{}, err
	}
	return Fn{
		Name:            le.Uint64(b[0:]),
		Body:            le.Uint64(b[8:]),
		NVariants:       le.Uint32(b[16:]),
		Variants:        le.Uint64(b[24:]),
		PatchpointsHead: le.Uint64(b[32:]),
		ActiveVariant:   le.Uint64(b[40:]),
	}, nil
}

func (f Fn) Encode() []byte {
	b := make([]byte, FnSize)
	le.PutUint64(b[0:], f.Name)
	le.PutUint64(b[8:], f.Body)
	le.PutUint32(b[16:], f.NVariants)
	le.PutUint64(b[24:], f.Variants)
	return b
}

func DecodeVariant(b []byte) (Variant, error) {
	if err := short("variant", b, VariantSize); err != nil {
		return Variant{}, err
	}
	return Variant{
		Body:         le.Uint64(b[0:]),
		NAssignments: le.Uint32(b[8:]),
		Assignments:  le.Uint64(b[16:]),
		Kind:         BodyKind(int32(le.Uint32(b[24:]))),
		Constant:     le.Uint32(b[28:]),
	}, nil
}

// Encode writes every field, including the body classification.
func (v Variant) Encode() []byte {
	b := make([]byte, VariantSize)
	le.PutUint64(b[0:], v.Body)
	le.PutUint32(b[8:], v.NAssignments)
	le.PutUint64(b[16:], v.Assignments)
	le.PutUint32(b[24:], uint32(int32(v.Kind)))
	le.PutUint32(b[28:], v.Constant)
	return b
}

func DecodeAssignment(b []byte) (Assignment, error) {
	if err := short("assignment", b, AssignmentSize); err != nil {
		return Assignment{}, err
	}
	return Assignment{
		Location: le.Uint64(b[0:]),
		Lower:    le.Uint32(b[8:]),
		Upper:    le.Uint32(b[12:]),
	}, nil
}

func (a Assignment) Encode() []byte {
	b := make([]byte, AssignmentSize)
	le.PutUint64(b[0:], a.Location)
	le.PutUint32(b[8:], a.Lower)
	le.PutUint32(b[12:], a.Upper)
	return b
}

func DecodeCallsite(b []byte) (Callsite, error) {
	if err := short("callsite", b, CallsiteSize); err != nil {
		return Callsite{}, err
	}
	return Callsite{
		Function: le.Uint64(b[0:]),
		Label:    le.Uint64(b[8:]),
	}, nil
}

func (c Callsite) Encode() []byte {
	b := make([]byte, CallsiteSize)
	le.PutUint64(b[0:], c.Function)
	le.PutUint64(b[8:], c.Label)
	return b
}
