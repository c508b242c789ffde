package main

import (
	"github.com/spf13/cobra"

	"bintail/internal/output"
)

var relocsCmd = &cobra.Command{
	Use:   "relocs <elf>",
	Short: "Print relocations grouped by owning region",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(args[0])
		if err != nil {
			return err
		}
		defer s.Close()
		output.WriteRelocations(cmd.OutOrStdout(), s.RelocTables())
		return nil
	},
}

var symsCmd = &cobra.Command{
	Use:   "syms <elf>",
	Short: "Print symbols grouped by owning region",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(args[0])
		if err != nil {
			return err
		}
		defer s.Close()
		output.WriteSymbols(cmd.OutOrStdout(), s.SymTables())
		return nil
	},
}
