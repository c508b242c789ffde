package output

import (
	"fmt"
	"io"

	"github.com/fatih/color"

	"bintail/internal/region"
)

var (
	header  = color.New(color.FgYellow, color.Bold)
	active  = color.New(color.FgGreen)
	frozen  = color.New(color.FgCyan)
	warning = color.New(color.FgRed)
)

// WriteListing prints the variables and functions of r. Active variants are
// highlighted and the variant a fixed function is bound to is marked "->".
func WriteListing(w io.Writer, r *Report) {
	header.Fprintln(w, "Variables:")
	for _, v := range r.Variables {
		state := ""
		if v.Frozen {
			state = frozen.Sprint(" [frozen]")
		}
		fmt.Fprintf(w, "  %-24s 0x%08x  width=%d  value=%d%s\n", v.Name, v.Location, v.Width, v.Value, state)
		for _, fn := range v.Functions {
			fmt.Fprintf(w, "      %s\n", fn)
		}
	}

	header.Fprintln(w, "\nFunctions:")
	for _, fn := range r.Functions {
		state := ""
		if fn.Fixed {
			state = frozen.Sprint(" [fixed]")
		}
		fmt.Fprintf(w, "  %-24s 0x%08x%s\n", fn.Name, fn.Body, state)

		for _, va := range fn.Variants {
			mark := "  "
			if fn.Fixed && fn.Active == va.Body {
				mark = "->"
			}
			line := fmt.Sprintf("    %s 0x%08x %-8s", mark, va.Body, va.Kind)
			if va.Kind == "constant" {
				line += fmt.Sprintf(" %d", va.Constant)
			}
			switch {
			case va.Active:
				active.Fprintln(w, line)
			case va.Retired:
				fmt.Fprintln(w, line+" (retired)")
			default:
				fmt.Fprintln(w, line)
			}
			for _, a := range va.Assignments {
				if a.Variable == "" {
					warning.Fprintf(w, "         %d <= ?(0x%x) <= %d\n", a.Lower, a.Location, a.Upper)
					continue
				}
				fmt.Fprintf(w, "         %d <= %s(%d) <= %d\n", a.Lower, a.Variable, a.Value, a.Upper)
			}
		}

		for _, pp := range fn.Patchpoints {
			if pp.Synthetic {
				continue
			}
			fmt.Fprintf(w, "    pp 0x%08x %-22s %-14s %s\n", pp.Location, pp.Section, pp.Kind, pp.State)
		}
	}

	if len(r.Diagnostics) > 0 {
		header.Fprintln(w, "\nDiagnostics:")
		for _, d := range r.Diagnostics {
			warning.Fprintf(w, "  %s\n", d)
		}
	}
}

// RelocTable is one reconciler bucket of relocations.
type RelocTable struct {
	Bucket  string
	Entries []region.Relocation
}

// WriteRelocations prints relocation buckets.
func WriteRelocations(w io.Writer, tables []RelocTable) {
	for _, t := range tables {
		header.Fprintf(w, "%s: %d\n", t.Bucket, len(t.Entries))
		for _, rel := range t.Entries {
			fmt.Fprintf(w, "\t0x%08x  type=%-3d sym=%-4d addend=0x%x\n",
				rel.Offset, uint32(rel.Info), rel.Info>>32, rel.Addend)
		}
	}
}

// SymTable is one reconciler bucket of symbols.
type SymTable struct {
	Bucket  string
	Entries []region.Symbol
}

// WriteSymbols prints symbol buckets.
func WriteSymbols(w io.Writer, tables []SymTable) {
	for _, t := range tables {
		header.Fprintf(w, "%s: %d\n", t.Bucket, len(t.Entries))
		for _, s := range t.Entries {
			fmt.Fprintf(w, "\t%-36s type=%d bind=%d  0x%08x  size=%d\n",
				s.Name, s.Info&0xf, s.Info>>4, s.Value, s.Size)
		}
	}
}
