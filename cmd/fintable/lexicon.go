package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"fintable/pkg/core/assemble"
	"fintable/pkg/core/lexicon"
)

func newLexiconCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lexicon",
		Short: "Check or export lexicons and line-item libraries",
	}

	check := &cobra.Command{
		Use:   "check <file>",
		Short: "Validate a lexicon file and list its patterns per role",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			lex, err := lexicon.LoadFile(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("%s: version %s, tie-break %s\n", args[0], lex.Version(), lex.TieBreak())
			for _, role := range lex.Roles() {
				fmt.Printf("  %-14s %s\n", role, strings.Join(lex.Patterns(role), ", "))
			}
			return nil
		},
	}

	var format string
	dump := &cobra.Command{
		Use:   "dump",
		Short: "Print the built-in lexicon as yaml, toml or hjson",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := lexicon.Marshal(lexicon.Default(), lexicon.Format(format))
			if err != nil {
				return err
			}
			_, err = os.Stdout.Write(data)
			return err
		},
	}
	dump.Flags().StringVar(&format, "format", "yaml", "Output format: yaml, toml or hjson")

	library := &cobra.Command{
		Use:   "library <file>",
		Short: "Validate a line-item library",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			lib, err := assemble.LoadLibrary(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("%s: %s version %s, %d sections, %d entries, %d required, %d sums\n",
				args[0], lib.Kind(), lib.Version(), len(lib.Sections()), len(lib.Entries()),
				len(lib.Required()), len(lib.Sums()))
			return nil
		},
	}

	cmd.AddCommand(check, dump, library)
	return cmd
}
