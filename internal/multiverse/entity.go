// Package multiverse builds the linked entity graph of an instrumented
// binary (variables, functions, variants, assignments and patchpoints) and
// implements value changes and specialization on top of it.
package multiverse

import (
	"bintail/internal/mvinfo"
	"bintail/internal/patch"
)

// Variable is a tracked configuration variable.
type Variable struct {
	Name     string
	NameAddr uint64
	Desc     uint64 // descriptor address
	Location uint64
	Flags    mvinfo.VarFlags
	Value    uint64 // masked to the variable width
	Frozen   bool

	// Functions that have at least one variant guarded by this variable,
	// in first-reference order.
	Functions []*Function
}

func (v *Variable) addFunction(fn *Function) {
	for _, f := range v.Functions {
		if f == fn {
			return
		}
	}
	v.Functions = append(v.Functions, fn)
}

// Function is a multiverse function with a generic body and its variants.
type Function struct {
	Name     string
	NameAddr uint64
	Desc     uint64
	Body     uint64
	Variants []*Variant

	// Patchpoints holds the synthetic jump at Body first, followed by the
	// linked call sites in descriptor order.
	Patchpoints []*patch.Patchpoint

	Fixed  bool
	Active *Variant
}

// CallSites returns the non-synthetic patchpoints.
func (f *Function) CallSites() []*patch.Patchpoint {
	var out []*patch.Patchpoint
	for _, pp := range f.Patchpoints {
		if !pp.Synthetic {
			out = append(out, pp)
		}
	}
	return out
}

// ActiveVariants returns every variant whose guards all hold, in array order.
func (f *Function) ActiveVariants() []*Variant {
	var out []*Variant
	for _, v := range f.Variants {
		if v.Active() {
			out = append(out, v)
		}
	}
	return out
}

// Variant is a specialized body of a function.
type Variant struct {
	Function    *Function
	Desc        uint64
	Body        uint64
	Kind        mvinfo.BodyKind
	Constant    uint32
	Assignments []*Assignment
}

// Active reports whether every guard holds for the current values.
func (v *Variant) Active() bool {
	for _, a := range v.Assignments {
		if !a.Active() {
			return false
		}
	}
	return true
}

// Frozen reports whether every guarded variable is frozen.
func (v *Variant) Frozen() bool {
	for _, a := range v.Assignments {
		if a.Var == nil || !a.Var.Frozen {
			return false
		}
	}
	return true
}

// Retired reports whether the variant can never become active again: a guard
// is dangling or tests a frozen variable outside its range.
func (v *Variant) Retired() bool {
	for _, a := range v.Assignments {
		if a.Var == nil || (a.Var.Frozen && !a.Active()) {
			return true
		}
	}
	return false
}

func (v *Variant) Target() patch.Target {
	return patch.Target{Body: v.Body, Kind: v.Kind, Constant: v.Constant}
}

// Assignment is a closed-range guard on one variable.
type Assignment struct {
	Location uint64
	Lower    uint32
	Upper    uint32
	Var      *Variable // nil when dangling
}

func (a *Assignment) Active() bool {
	if a.Var == nil {
		return false
	}
	return mvinfo.Assignment{Lower: a.Lower, Upper: a.Upper}.Active(a.Var.Value)
}
