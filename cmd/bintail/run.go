package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"bintail/internal/multiverse"
	"bintail/internal/plan"
)

var (
	runPlanFlag string
	runOutFlag  string
)

var runCmd = &cobra.Command{
	Use:   "run <elf> --plan plan.toml",
	Short: "Apply a TOML specialization plan",
	Long: `Reads a plan file and applies it:

  output = "app.special"   # optional; -o overrides
  trim   = true
  freeze = ["config"]      # default: every variable in [values]

  [values]
  config = 1`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVar(&runPlanFlag, "plan", "", "plan file (required)")
	runCmd.Flags().StringVarP(&runOutFlag, "output", "o", "", "output path (overrides the plan)")
	_ = runCmd.MarkFlagRequired("plan")
}

func runRun(cmd *cobra.Command, args []string) error {
	p, err := plan.Load(runPlanFlag)
	if err != nil {
		return err
	}
	s, err := openSession(args[0])
	if err != nil {
		return err
	}
	defer s.Close()

	if err := p.Run(s, outputPath(runOutFlag)); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "plan %s: %d values, %d/%d functions fixed, trimmed=%v\n",
		p.Path, len(p.Values), countFixed(s.Model.Fns), len(s.Model.Fns), s.Trimmed())
	return nil
}

func countFixed(fns []*multiverse.Function) int {
	n := 0
	for _, fn := range fns {
		if fn.Fixed {
			n++
		}
	}
	return n
}
