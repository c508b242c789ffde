package patch

import (
	"encoding/binary"
	"fmt"
	"math"

	"bintail/internal/mvinfo"
	"bintail/internal/region"
)

// x86-64 opcodes used at patch sites.
const (
	opCall     = 0xe8 // call rel32
	opJmp      = 0xe9 // jmp rel32
	opIndirect = 0xff // with modrm 0x15: call *disp32(%rip)
	modrmRIP   = 0x15
	opMovEAX   = 0xb8 // mov $imm32,%eax
	opNop      = 0x90
	opCLI      = 0xfa
	opSTI      = 0xfb
)

var (
	nop4 = []byte{0x0f, 0x1f, 0x40, 0x00}             // nopl 0x0(%rax)
	nop5 = []byte{0x0f, 0x1f, 0x44, 0x00, 0x00}       // nopl 0x0(%rax,%rax,1)
	nop6 = []byte{0x66, 0x0f, 0x1f, 0x44, 0x00, 0x00} // nopw 0x0(%rax,%rax,1)
)

// Target is the variant a patch site is rewritten to reach.
type Target struct {
	Body     uint64
	Kind     mvinfo.BodyKind
	Constant uint32
}

// rel32 computes the displacement from the end of a 5-byte instruction at
// site to target.
func rel32(site, target uint64) (uint32, error) {
	d := int64(target) - int64(site+5)
	if d < math.MinInt32 || d > math.MaxInt32 {
		return 0, fmt.Errorf("%w: rel32 from 0x%x to 0x%x", region.ErrOutOfRange, site, target)
	}
	return uint32(int32(d)), nil
}

func branch(op byte, site, target uint64, size int) ([]byte, error) {
	d, err := rel32(site, target)
	if err != nil {
		return nil, err
	}
	b := make([]byte, size)
	b[0] = op
	binary.LittleEndian.PutUint32(b[1:], d)
	for i := 5; i < size; i++ {
		b[i] = opNop
	}
	return b, nil
}

// Encode returns the replacement bytes for a site of the given kind. The
// result always has exactly kind.Len() bytes.
func Encode(kind Kind, site uint64, t Target) ([]byte, error) {
	size := kind.Len()
	switch kind {
	case KindJump:
		return branch(opJmp, site, t.Body, size)

	case KindCall, KindIndirectCall:
		switch t.Kind {
		case mvinfo.BodyNop:
			if size == 6 {
				return clone(nop6), nil
			}
			return clone(nop5), nil

		case mvinfo.BodyConstant:
			b := make([]byte, size)
			b[0] = opMovEAX
			binary.LittleEndian.PutUint32(b[1:], t.Constant)
			if size == 6 {
				b[5] = opNop
			}
			return b, nil

		case mvinfo.BodyCLI, mvinfo.BodySTI:
			b := make([]byte, 1, size)
			b[0] = opCLI
			if t.Kind == mvinfo.BodySTI {
				b[0] = opSTI
			}
			if size == 6 {
				return append(b, nop5...), nil
			}
			return append(b, nop4...), nil

		default:
			return branch(opCall, site, t.Body, size)
		}
	}
	return nil, fmt.Errorf("%w: cannot encode %s site at 0x%x", ErrInvalidPatchpoint, kind, site)
}

func clone(b []byte) []byte { return append([]byte(nil), b...) }
