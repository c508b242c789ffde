package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/zboralski/lattice/render"

	"bintail/internal/callgraph"
	"bintail/internal/disasm"
)

var (
	graphOutFlag      string
	graphDispatchFlag string
	graphBodiesFlag   string
)

var graphCmd = &cobra.Command{
	Use:   "graph <elf>",
	Short: "Render the variable/function/variant dependency graph as DOT",
	Args:  cobra.ExactArgs(1),
	RunE:  runGraph,
}

func init() {
	graphCmd.Flags().StringVarP(&graphOutFlag, "output", "o", "", "DOT file for the dependency graph (default: stdout)")
	graphCmd.Flags().StringVar(&graphDispatchFlag, "dispatch", "", "also write the per-function dispatch CFG to this DOT file")
	graphCmd.Flags().StringVar(&graphBodiesFlag, "bodies", "", "also write the CFG of every generic body and variant to this DOT file")
}

func runGraph(cmd *cobra.Command, args []string) error {
	s, err := openSession(args[0])
	if err != nil {
		return err
	}
	defer s.Close()

	title := filepath.Base(args[0])
	dot := render.DOT(callgraph.Dependencies(s.Model), title)
	if graphOutFlag == "" {
		fmt.Fprint(cmd.OutOrStdout(), dot)
	} else {
		if err := os.WriteFile(graphOutFlag, []byte(dot), 0644); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "wrote %s\n", graphOutFlag)
	}

	if graphDispatchFlag != "" {
		dispatch := render.DOTCFG(callgraph.Dispatch(s.Model), title+" dispatch")
		if err := os.WriteFile(graphDispatchFlag, []byte(dispatch), 0644); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "wrote %s\n", graphDispatchFlag)
	}

	if graphBodiesFlag != "" {
		lookup := disasm.MapLookup(bodyNames(s.Model))
		var all []callgraph.Body
		for _, fn := range s.Model.Fns {
			bs, err := bodies(s, fn, lookup)
			if err != nil {
				return err
			}
			all = append(all, bs...)
		}
		dot := render.DOTCFG(callgraph.BuildCFG(all), title+" bodies")
		if err := os.WriteFile(graphBodiesFlag, []byte(dot), 0644); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "wrote %s (%d bodies)\n", graphBodiesFlag, len(all))
	}
	return nil
}
