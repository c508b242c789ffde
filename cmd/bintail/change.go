package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

var (
	changeApplyFlag    []string
	changeApplyAllFlag bool
	changeTrimFlag     bool
	changeOutFlag      string
)

var changeCmd = &cobra.Command{
	Use:   "change <elf> [var=value...]",
	Short: "Set variable values, bind variables and trim descriptors",
	Long: `Sets each var=value, then applies (freezes) the variables named by --apply
in order, patching every function whose variant is settled. --trim compacts
the descriptor tables afterwards.

Values are decimal, 0x hex or negative; they are masked to the variable
width. Without -o the input is rewritten in place.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runChange,
}

func init() {
	changeCmd.Flags().StringSliceVar(&changeApplyFlag, "apply", nil, "variables to apply, in order")
	changeCmd.Flags().BoolVar(&changeApplyAllFlag, "apply-all", false, "apply every variable")
	changeCmd.Flags().BoolVar(&changeTrimFlag, "trim", false, "trim descriptors after applying")
	changeCmd.Flags().StringVarP(&changeOutFlag, "output", "o", "", "output path (default: rewrite input)")
}

// parseAssignment splits name=value. Negative values keep their two's
// complement bits.
func parseAssignment(s string) (string, uint64, error) {
	name, val, ok := strings.Cut(s, "=")
	if !ok || name == "" || val == "" {
		return "", 0, fmt.Errorf("invalid assignment %q, want name=value", s)
	}
	if strings.HasPrefix(val, "-") {
		v, err := strconv.ParseInt(val, 0, 64)
		if err != nil {
			return "", 0, fmt.Errorf("invalid value in %q: %w", s, err)
		}
		return name, uint64(v), nil
	}
	v, err := strconv.ParseUint(val, 0, 64)
	if err != nil {
		return "", 0, fmt.Errorf("invalid value in %q: %w", s, err)
	}
	return name, v, nil
}

func runChange(cmd *cobra.Command, args []string) error {
	type change struct {
		name  string
		value uint64
	}
	var changes []change
	for _, a := range args[1:] {
		name, v, err := parseAssignment(a)
		if err != nil {
			return err
		}
		changes = append(changes, change{name, v})
	}

	s, err := openSession(args[0])
	if err != nil {
		return err
	}
	defer s.Close()

	for _, c := range changes {
		if err := s.SetValue(c.name, c.value); err != nil {
			return err
		}
	}
	apply := changeApplyFlag
	if changeApplyAllFlag {
		apply = s.Model.Names()
	}
	for _, name := range apply {
		if err := s.Apply(name); err != nil {
			return err
		}
	}
	if changeTrimFlag {
		if err := s.Trim(); err != nil {
			return err
		}
	}

	out := outputPath(changeOutFlag)
	if err := s.Write(out); err != nil {
		return err
	}
	if out == "" {
		out = args[0]
	}
	fmt.Fprintf(os.Stderr, "%d values set, %d applied, %d/%d functions fixed, %d diagnostics -> %s\n",
		len(changes), len(apply), countFixed(s.Model.Fns), len(s.Model.Fns), s.Diags.Len(), out)
	return nil
}
