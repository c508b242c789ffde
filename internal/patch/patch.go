// Package patch implements the patchpoint state machine: decoding a call or
// jump site, rewriting it to reach a specialized body (or to inline that
// body's trivial effect) and restoring the original bytes.
//
//	Unclassified -> {Invalid | Call | IndirectCall | Jump} -> Patched <-> Reverted
package patch

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	ErrInvalidPatchpoint = errors.New("patch: invalid patchpoint")
	ErrNotSaved          = errors.New("patch: no saved bytes to restore")
)

// Kind is the instruction shape found at a patch site.
type Kind int

const (
	KindInvalid      Kind = iota
	KindCall              // e8 rel32
	KindIndirectCall      // ff 15 disp32
	KindJump              // generic body entry, overwritten with e9 rel32
)

func (k Kind) String() string {
	switch k {
	case KindCall:
		return "call"
	case KindIndirectCall:
		return "indirect-call"
	case KindJump:
		return "jump"
	}
	return "invalid"
}

// Len returns the number of bytes a site of this kind occupies.
func (k Kind) Len() int {
	switch k {
	case KindIndirectCall:
		return 6
	case KindCall, KindJump:
		return 5
	}
	return 0
}

// State is the lifecycle position of a patchpoint.
type State int

const (
	StateUnclassified State = iota
	StateClassified
	StatePatched
	StateReverted
)

func (s State) String() string {
	switch s {
	case StateClassified:
		return "classified"
	case StatePatched:
		return "patched"
	case StateReverted:
		return "reverted"
	}
	return "unclassified"
}

// Memory is the code store a patchpoint reads and rewrites. Writes are
// expected to mark the backing region dirty.
type Memory interface {
	Read(addr uint64, n int) ([]byte, error)
	Write(addr uint64, b []byte) error
}

// Patchpoint is one rewritable call or jump site.
type Patchpoint struct {
	Location uint64
	Kind     Kind
	// Callee is the statically linked target: the call destination for a
	// direct call, the pointer slot address for an indirect call, or the
	// generic body itself for a jump.
	Callee uint64
	// Function is the generic body of the owning function, 0 until linked.
	Function uint64
	// Synthetic marks the per-function jump at the generic body entry.
	Synthetic bool

	state  State
	saved  []byte
	target *Target
}

// NewJump returns the synthetic jump patchpoint at a function's generic
// body. It is classified without decoding.
func NewJump(body uint64) *Patchpoint {
	return &Patchpoint{
		Location:  body,
		Kind:      KindJump,
		Callee:    body,
		Function:  body,
		Synthetic: true,
		state:     StateClassified,
	}
}

// NewCallSite returns an unclassified patchpoint at label.
func NewCallSite(label uint64) *Patchpoint {
	return &Patchpoint{Location: label}
}

// DecodeSite inspects the bytes at a call site.
func DecodeSite(b []byte, site uint64) (Kind, uint64) {
	switch {
	case len(b) >= 5 && b[0] == opCall:
		d := int32(binary.LittleEndian.Uint32(b[1:]))
		return KindCall, uint64(int64(site) + int64(d) + 5)
	case len(b) >= 6 && b[0] == opIndirect && b[1] == modrmRIP:
		d := int32(binary.LittleEndian.Uint32(b[2:]))
		return KindIndirectCall, uint64(int64(site) + int64(d) + 6)
	}
	return KindInvalid, 0
}

// Decode classifies the site from memory. It is a no-op for patchpoints
// that are already classified.
func (p *Patchpoint) Decode(mem Memory) error {
	if p.state != StateUnclassified {
		return nil
	}
	b, err := mem.Read(p.Location, 6)
	if err != nil {
		// A 5-byte call may sit at the very end of its section.
		if b, err = mem.Read(p.Location, 5); err != nil {
			return err
		}
	}
	p.Kind, p.Callee = DecodeSite(b, p.Location)
	p.state = StateClassified
	return nil
}

func (p *Patchpoint) State() State { return p.state }

// Invalid reports whether the site is unusable for patching.
func (p *Patchpoint) Invalid() bool {
	return p.state == StateUnclassified || p.Kind == KindInvalid
}

// Saved returns a copy of the original site bytes, or nil.
func (p *Patchpoint) Saved() []byte {
	if p.saved == nil {
		return nil
	}
	return append([]byte(nil), p.saved...)
}

// Current returns the variant the site was last patched to.
func (p *Patchpoint) Current() (Target, bool) {
	if p.target == nil || p.state != StatePatched {
		return Target{}, false
	}
	return *p.target, true
}

// Apply rewrites the site to reach t. The original bytes are saved on the
// first application so Revert restores the pre-patch code even after
// repeated retargeting. It returns the bytes written.
func (p *Patchpoint) Apply(mem Memory, t Target) ([]byte, error) {
	if p.Invalid() {
		return nil, fmt.Errorf("%w: %s site at 0x%x", ErrInvalidPatchpoint, p.Kind, p.Location)
	}
	code, err := Encode(p.Kind, p.Location, t)
	if err != nil {
		return nil, err
	}
	if p.saved == nil {
		orig, err := mem.Read(p.Location, p.Kind.Len())
		if err != nil {
			return nil, err
		}
		p.saved = orig
	}
	if err := mem.Write(p.Location, code); err != nil {
		return nil, err
	}
	p.target = &t
	p.state = StatePatched
	return code, nil
}

// Revert restores the saved bytes.
func (p *Patchpoint) Revert(mem Memory) error {
	if p.saved == nil {
		return fmt.Errorf("%w: site 0x%x", ErrNotSaved, p.Location)
	}
	if err := mem.Write(p.Location, p.saved); err != nil {
		return err
	}
	p.target = nil
	p.state = StateReverted
	return nil
}

// Discard drops the saved bytes, making the current patch permanent.
func (p *Patchpoint) Discard() { p.saved = nil }
