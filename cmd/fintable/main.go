// Command fintable parses extracted financial-statement tables into
// validated statements.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"fintable/pkg/config"
)

var (
	configPath string

	cfg    config.Config
	logger *slog.Logger
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "fintable",
		Short: "Infer column schemas for statement tables and assemble validated statements",
		Long: `fintable reads table rows extracted from Chinese financial reports,
infers which column holds the label, the current and prior period amounts
and the footnote, and assembles balance sheets, income statements and cash
flow statements with arithmetic checks.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load(configPath)
			if err != nil {
				return err
			}
			logger = cfg.Logging.NewLogger(os.Stderr)
			slog.SetDefault(logger)
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (YAML)")

	rootCmd.AddCommand(newParseCmd(), newDecisionsCmd(), newLexiconCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
