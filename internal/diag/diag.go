// Package diag accumulates recoverable problems found while loading and
// specializing a binary.
package diag

import (
	"errors"
	"fmt"
)

// ErrStrict is returned when a diagnostic is recorded in strict mode.
var ErrStrict = errors.New("diag: diagnostic in strict mode")

// Kind classifies a diagnostic message.
type Kind string

const (
	KindDanglingAssignment  Kind = "dangling_assignment"
	KindStalePatchpoint     Kind = "stale_patchpoint"
	KindInvalidPatchpoint   Kind = "invalid_patchpoint"
	KindOverlappingVariants Kind = "overlapping_variants"
	KindNoBitsWrite         Kind = "nobits_write"
)

// Diag records a non-fatal issue at an address.
type Diag struct {
	Addr uint64 `json:"addr"`
	Kind Kind   `json:"kind"`
	Msg  string `json:"msg"`
}

func (d Diag) String() string {
	return fmt.Sprintf("[%s] 0x%x: %s", d.Kind, d.Addr, d.Msg)
}

// Mode controls error handling behavior.
type Mode int

const (
	ModeBestEffort Mode = iota // accumulate and continue
	ModeStrict                 // first diagnostic becomes an error
)

func (m Mode) String() string {
	if m == ModeStrict {
		return "strict"
	}
	return "best-effort"
}

// Diags accumulates diagnostics. The zero value is a best-effort list.
type Diags struct {
	Mode  Mode
	items []Diag
}

// Add records a diagnostic. In strict mode it also returns an error
// wrapping ErrStrict.
func (d *Diags) Add(addr uint64, kind Kind, msg string) error {
	item := Diag{Addr: addr, Kind: kind, Msg: msg}
	d.items = append(d.items, item)
	if d.Mode == ModeStrict {
		return fmt.Errorf("%w: %s", ErrStrict, item)
	}
	return nil
}

func (d *Diags) Addf(addr uint64, kind Kind, format string, args ...any) error {
	return d.Add(addr, kind, fmt.Sprintf(format, args...))
}

func (d *Diags) Items() []Diag { return d.items }
func (d *Diags) Len() int      { return len(d.items) }

// Count returns the number of diagnostics of the given kind.
func (d *Diags) Count(kind Kind) int {
	n := 0
	for _, it := range d.items {
		if it.Kind == kind {
			n++
		}
	}
	return n
}
