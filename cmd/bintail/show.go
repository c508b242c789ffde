package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"golang.org/x/arch/x86/x86asm"

	"bintail/internal/callgraph"
	"bintail/internal/disasm"
	"bintail/internal/multiverse"
	"bintail/internal/output"
	"bintail/internal/render"
	"bintail/internal/session"
)

// maxBodyBytes bounds the window disassembled for one body.
const maxBodyBytes = 64

var (
	showDisasmFlag bool
	showJSONFlag   bool
	showReportFlag string
	showAsmDirFlag string
	showHTMLFlag   string
)

var showCmd = &cobra.Command{
	Use:   "show <elf>",
	Short: "List variables, functions, variants and patch sites",
	Long: `Prints every tracked variable with the functions it guards, and every
multiverse function with its variants, guard ranges and patch sites.

Active variants are highlighted; the variant a fixed function is bound to is
marked "->".`,
	Args: cobra.ExactArgs(1),
	RunE: runShow,
}

func init() {
	showCmd.Flags().BoolVar(&showDisasmFlag, "disasm", false, "disassemble generic bodies, variants and patch sites")
	showCmd.Flags().BoolVar(&showJSONFlag, "json", false, "print the session report as JSON")
	showCmd.Flags().StringVar(&showReportFlag, "report", "", "also write the JSON report to this file")
	showCmd.Flags().StringVar(&showHTMLFlag, "html", "", "write an HTML summary page to this file")
	showCmd.Flags().StringVar(&showAsmDirFlag, "asm-dir", "", "write per-function listings to <dir>/asm/<name>.txt")
}

func runShow(cmd *cobra.Command, args []string) error {
	s, err := openSession(args[0])
	if err != nil {
		return err
	}
	defer s.Close()

	r, err := s.Summary()
	if err != nil {
		return err
	}
	if showReportFlag != "" {
		if err := output.WriteReportJSON(showReportFlag, r); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "wrote %s\n", showReportFlag)
	}
	if showHTMLFlag != "" {
		if err := writeHTML(showHTMLFlag, r); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "wrote %s\n", showHTMLFlag)
	}
	if showJSONFlag {
		return output.EncodeJSON(cmd.OutOrStdout(), r)
	}
	output.WriteListing(cmd.OutOrStdout(), r)

	if showDisasmFlag || showAsmDirFlag != "" {
		return showBodies(cmd, s)
	}
	return nil
}

func writeHTML(path string, r *output.Report) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	render.WriteReportHTML(f, r, filepath.Base(r.Input), nil)
	return f.Close()
}

// bodyNames maps generic and variant bodies to names for listings.
func bodyNames(m *multiverse.Model) map[uint64]string {
	names := make(map[uint64]string)
	for _, fn := range m.Fns {
		names[fn.Body] = fn.Name
		for _, va := range fn.Variants {
			names[va.Body] = callgraph.VariantName(fn, va)
		}
	}
	return names
}

// body disassembles from addr through the first ret.
func body(s *session.Session, addr uint64, lookup disasm.SymbolLookup) ([]disasm.Inst, error) {
	var data []byte
	if reg, err := s.Regions.Lookup(addr); err == nil {
		if reg.NoBits {
			return nil, fmt.Errorf("body 0x%x lies in %s", addr, reg.Name)
		}
		data = reg.Live()[addr-reg.Vaddr:]
		if len(data) > maxBodyBytes {
			data = data[:maxBodyBytes]
		}
	} else if data, err = s.File.ReadBytesAtVA(addr, maxBodyBytes); err != nil {
		return nil, err
	}
	insts := disasm.Disassemble(data, disasm.Options{BaseAddr: addr, Symbols: lookup})
	for i, inst := range insts {
		if inst.Op == x86asm.RET {
			return insts[:i+1], nil
		}
	}
	return insts, nil
}

// bodies disassembles each function's generic body followed by its
// variants.
func bodies(s *session.Session, fn *multiverse.Function, lookup disasm.SymbolLookup) ([]callgraph.Body, error) {
	var out []callgraph.Body
	add := func(name string, addr uint64) error {
		insts, err := body(s, addr, lookup)
		if err != nil {
			return err
		}
		out = append(out, callgraph.Body{Name: name, Insts: insts, CallEdges: disasm.ExtractCallEdges(insts, lookup)})
		return nil
	}
	if err := add(fn.Name, fn.Body); err != nil {
		return nil, err
	}
	for _, va := range fn.Variants {
		if err := add(callgraph.VariantName(fn, va), va.Body); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func showBodies(cmd *cobra.Command, s *session.Session) error {
	w := cmd.OutOrStdout()
	lookup := disasm.MapLookup(bodyNames(s.Model))

	for _, fn := range s.Model.Fns {
		sites := make(map[uint64]string)
		for _, pp := range fn.Patchpoints {
			sites[pp.Location] = fmt.Sprintf("%s site [%s]", pp.Kind, pp.State())
		}
		annotate := func(inst disasm.Inst) string { return sites[inst.Addr] }

		bs, err := bodies(s, fn, lookup)
		if err != nil {
			return err
		}
		var all []disasm.Inst
		var edges []disasm.CallEdge
		for _, b := range bs {
			all = append(all, b.Insts...)
			edges = append(edges, b.CallEdges...)
		}
		calls := disasm.CallAnnotator(edges)

		if showAsmDirFlag != "" {
			if err := output.WriteASM(showAsmDirFlag, fn.Name, all, lookup, annotate, calls); err != nil {
				return err
			}
		}
		if !showDisasmFlag {
			continue
		}

		fmt.Fprintf(w, "\n%s:\n", fn.Name)
		fmt.Fprint(w, disasm.Format(all, lookup, annotate, calls))
		for _, pp := range fn.Patchpoints {
			if pp.Synthetic {
				continue
			}
			code, err := s.Regions.Read(pp.Location, pp.Kind.Len())
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "  site 0x%08x: %s\n", pp.Location, disasm.DisasmOne(code, pp.Location))
		}
	}
	if showAsmDirFlag != "" {
		fmt.Fprintf(os.Stderr, "wrote %d listings to %s\n", len(s.Model.Fns), showAsmDirFlag)
	}
	return nil
}
