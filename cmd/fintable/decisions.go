package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"fintable/pkg/core/export"
	"fintable/pkg/core/reconcile"
	"fintable/pkg/core/store"
	"fintable/pkg/models"
)

var (
	decisionsLog      string
	decisionsSQLite   string
	decisionsPostgres bool
	decisionsRun      string
	decisionsJSON     bool
)

func newDecisionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "decisions",
		Short: "Inspect recorded schema decisions",
	}
	stats := &cobra.Command{
		Use:   "stats",
		Short: "Count decisions per choice and provenance",
		Args:  cobra.NoArgs,
		RunE:  runDecisionStats,
	}
	f := stats.Flags()
	f.StringVar(&decisionsLog, "log", "", "JSONL decision log (default: llm_settings.decision_log)")
	f.StringVar(&decisionsSQLite, "sqlite", "", "SQLite decision store")
	f.BoolVar(&decisionsPostgres, "postgres", false, "Read from llm_settings.database_url")
	f.StringVar(&decisionsRun, "run", "", "Only this run ID (sqlite and postgres)")
	f.BoolVar(&decisionsJSON, "json", false, "Print JSON")
	cmd.AddCommand(stats)
	return cmd
}

func runDecisionStats(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	var (
		records []models.DecisionRecord
		err     error
	)
	switch {
	case decisionsSQLite != "":
		sink, oerr := store.OpenSQLiteDecisionSink(decisionsSQLite)
		if oerr != nil {
			return oerr
		}
		defer sink.Close()
		records, err = sink.Records(ctx, decisionsRun)
	case decisionsPostgres:
		pool, perr := store.NewPool(ctx, cfg.LLMSettings.DatabaseURL)
		if perr != nil {
			return perr
		}
		defer pool.Close()
		sink, serr := store.NewPostgresDecisionSink(ctx, pool)
		if serr != nil {
			return serr
		}
		records, err = sink.Records(ctx, decisionsRun)
	default:
		path := decisionsLog
		if path == "" {
			path = cfg.LLMSettings.DecisionLog
		}
		records, err = reconcile.ReadJSONL(path)
	}
	if err != nil {
		return err
	}

	st := reconcile.ComputeStats(records)
	if decisionsJSON {
		return export.WriteJSON(os.Stdout, st)
	}

	fmt.Printf("%d decisions across %d runs\n", st.Total, st.Runs)
	for _, c := range sortedKeys(st.ByChoice) {
		fmt.Printf("  %-24s %5d  %5.1f%%\n", c, st.ByChoice[c], st.Percent[c])
	}
	fmt.Println("by provenance:")
	for _, p := range sortedKeys(st.ByProvenance) {
		fmt.Printf("  %-24s %5d\n", p, st.ByProvenance[p])
	}
	return nil
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
