package mvinfo

// BodyKind classifies a variant body that is simple enough to be inlined at
// the call site instead of being called.
type BodyKind int32

const (
	BodyNone     BodyKind = iota // non-trivial body, must be called
	BodyNop                      // returns immediately
	BodyConstant                 // returns a 32-bit constant in eax
	BodyCLI                      // clears the interrupt flag and returns
	BodySTI                      // sets the interrupt flag and returns
)

func (k BodyKind) String() string {
	switch k {
	case BodyNone:
		return "none"
	case BodyNop:
		return "nop"
	case BodyConstant:
		return "constant"
	case BodyCLI:
		return "cli"
	case BodySTI:
		return "sti"
	}
	return "unknown"
}

// Trivial reports whether call sites can inline the body.
func (k BodyKind) Trivial() bool {
	return k == BodyNop || k == BodyConstant || k == BodyCLI || k == BodySTI
}
