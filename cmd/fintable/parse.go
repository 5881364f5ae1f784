package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"fintable/pkg/core/arbiter"
	"fintable/pkg/core/export"
	"fintable/pkg/core/lexicon"
	"fintable/pkg/core/llm"
	"fintable/pkg/core/pipeline"
	"fintable/pkg/core/prompt"
	"fintable/pkg/core/reconcile"
	"fintable/pkg/core/source"
	"fintable/pkg/core/store"
	"fintable/pkg/models"
)

var (
	parseKind        string
	parseOut         string
	parseLexicon     string
	parseLibraries   map[string]string
	parseInteractive bool
	parsePerPage     bool
	parseWatch       bool
	parseReplay      string
	parsePrompts     string
)

func newParseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "parse [input...]",
		Short: "Parse statement tables from JSON, XLSX or HTML files",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runParse,
	}
	f := cmd.Flags()
	f.StringVarP(&parseKind, "kind", "k", "", "Statement kind: balance_sheet, income_statement, cash_flow (default: detect)")
	f.StringVarP(&parseOut, "out", "o", "", "Output file (.json or .xlsx; default: JSON on stdout)")
	f.StringVar(&parseLexicon, "lexicon", "", "Lexicon file (overrides config)")
	f.StringToStringVar(&parseLibraries, "library", nil, "Line-item library per kind, e.g. balance_sheet=bs.yaml")
	f.BoolVarP(&parseInteractive, "interactive", "i", false, "Ask on the terminal when heuristic and model disagree")
	f.BoolVar(&parsePerPage, "per-page", false, "Treat every page or sheet as its own statement")
	f.BoolVar(&parseWatch, "watch-lexicon", false, "Reload the lexicon file when it changes")
	f.StringVar(&parseReplay, "replay", "", "Answer model consultations from a previous JSONL decision log")
	f.StringVar(&parsePrompts, "prompts", "", "Directory overriding the built-in prompts")
	return cmd
}

func runParse(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	jobs, err := loadJobs(args)
	if err != nil {
		return err
	}

	lexPath := cfg.Lexicon
	if parseLexicon != "" {
		lexPath = parseLexicon
	}
	lexicons, err := lexicon.NewStore(lexPath, logger)
	if err != nil {
		return fmt.Errorf("load lexicon: %w", err)
	}
	if parseWatch && lexPath != "" {
		go func() {
			if err := lexicons.Watch(ctx); err != nil {
				logger.Warn("lexicon.watch_failed", "component", "cli", "error", err)
			}
		}()
	}

	for k, v := range parseLibraries {
		if cfg.Libraries == nil {
			cfg.Libraries = map[string]string{}
		}
		cfg.Libraries[k] = v
	}
	libs, err := cfg.LoadLibraries()
	if err != nil {
		return err
	}

	arb, err := buildArbiter()
	if err != nil {
		return err
	}

	sinks, closeSinks, err := openSinks(ctx)
	if err != nil {
		return err
	}
	defer closeSinks()

	opts := pipeline.Options{
		Lexicons:       lexicons,
		Libraries:      libs,
		Arbiter:        arb,
		Threshold:      cfg.LLMSettings.ConfidenceThreshold,
		HighConfidence: cfg.LLMSettings.HighConfidence,
		Policy:         cfg.Policy(),
		Sinks:          sinks,
		Logger:         logger,
	}
	opts.Validator.Tolerance = cfg.Tolerance
	if parseInteractive || cfg.AskUser() {
		opts.Provider = reconcile.NewConsoleProvider(os.Stdin, os.Stderr)
		// one terminal, one question at a time
		opts.Concurrency = 1
	}

	results, err := pipeline.New(opts).ParseAll(ctx, jobs)
	if err != nil {
		return err
	}

	reports := make([]export.Report, 0, len(results))
	for _, r := range results {
		reports = append(reports, export.Report{
			RunID:      r.RunID,
			Statement:  r.Statement,
			Validation: r.Validation,
			Decisions:  r.Decisions,
		})
	}
	if parseOut != "" {
		if err := export.WriteFile(parseOut, reports...); err != nil {
			return err
		}
	} else {
		var v interface{} = reports
		if len(reports) == 1 {
			v = reports[0]
		}
		if err := export.WriteJSON(os.Stdout, v); err != nil {
			return err
		}
	}

	printSummary(os.Stderr, results)
	return nil
}

// loadJobs reads every input and turns it into one job, or one job per
// page with --per-page.
func loadJobs(paths []string) ([]pipeline.Job, error) {
	kind := models.KindUnknown
	if parseKind != "" {
		if kind = models.ParseKind(parseKind); kind == models.KindUnknown {
			return nil, fmt.Errorf("unknown statement kind %q", parseKind)
		}
	}

	var jobs []pipeline.Job
	for _, path := range paths {
		pages, err := source.ReadFile(path)
		if err != nil {
			return nil, err
		}
		name := filepath.Base(path)
		if !parsePerPage {
			jobs = append(jobs, pipeline.Job{Name: name, Kind: kind, Pages: pages})
			continue
		}
		for _, pg := range pages {
			label := fmt.Sprintf("%s#%d", name, pg.Number)
			if pg.Title != "" {
				label = name + "#" + pg.Title
			}
			jobs = append(jobs, pipeline.Job{Name: label, Kind: kind, Pages: []models.Page{pg}})
		}
	}
	return jobs, nil
}

func buildArbiter() (arbiter.Arbiter, error) {
	if parseReplay != "" {
		records, err := reconcile.ReadJSONL(parseReplay)
		if err != nil {
			return nil, fmt.Errorf("read replay log: %w", err)
		}
		replay := arbiter.NewReplayArbiter(records)
		logger.Info("arbiter.replay", "component", "cli", "path", parseReplay, "rows", replay.Len())
		return replay, nil
	}
	if !cfg.LLMSettings.EnableLLM {
		return nil, nil
	}

	provider, err := llm.New(cfg.LLMAPI.Config)
	if err != nil {
		return nil, err
	}
	reg, err := prompt.Default()
	if err != nil {
		return nil, fmt.Errorf("load prompts: %w", err)
	}
	if parsePrompts != "" {
		if err := prompt.LoadFromDirectory(reg, parsePrompts); err != nil {
			return nil, fmt.Errorf("load prompts from %s: %w", parsePrompts, err)
		}
	}
	return arbiter.NewLLMArbiter(provider, reg, cfg.ArbiterOptions(logger))
}

// openSinks opens the configured decision store. The returned func closes it.
func openSinks(ctx context.Context) ([]reconcile.Sink, func(), error) {
	s := cfg.LLMSettings
	switch s.DecisionStore {
	case "jsonl":
		sink, err := reconcile.OpenJSONLSink(s.DecisionLog)
		if err != nil {
			return nil, nil, err
		}
		return []reconcile.Sink{sink}, func() { sink.Close() }, nil
	case "sqlite":
		sink, err := store.OpenSQLiteDecisionSink(s.DecisionLog)
		if err != nil {
			return nil, nil, err
		}
		return []reconcile.Sink{sink}, func() { sink.Close() }, nil
	case "postgres":
		pool, err := store.NewPool(ctx, s.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		sink, err := store.NewPostgresDecisionSink(ctx, pool)
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		return []reconcile.Sink{sink}, pool.Close, nil
	}
	return nil, func() {}, nil
}

var (
	okStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#A6E3A1"))
	warnStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#F9E2AF"))
	failStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#F38BA8")).Bold(true)
)

func printSummary(w io.Writer, results []*pipeline.Result) {
	for _, r := range results {
		style := okStyle
		switch {
		case failed(r.Validation):
			style = failStyle
		case len(r.Validation.Warnings) > 0:
			style = warnStyle
		}
		fmt.Fprintf(w, "%s %s: %s, completeness %.0f%%, %d unmatched, %d unresolved, %d decisions, cache %d hits\n",
			style.Render("●"), r.Name, r.Statement.Kind,
			r.Validation.Completeness*100,
			len(r.Statement.Unmatched), len(r.Statement.Unresolved),
			len(r.Decisions), r.CacheStats.Hits)
		for _, warn := range r.Validation.Warnings {
			fmt.Fprintf(w, "    %s\n", warnStyle.Render(warn))
		}
	}
	if len(results) < 2 {
		return
	}
	report := pipeline.Link(results, cfg.Tolerance)
	if report.AllPassed {
		fmt.Fprintln(w, okStyle.Render("cross-statement checks passed"))
		return
	}
	fmt.Fprintln(w, warnStyle.Render("cross-statement checks: "+strings.Join(report.FailedChecks, "; ")))
}

func failed(v models.ValidationResult) bool {
	for _, t := range v.Tiers {
		if !t.Passed() {
			return true
		}
	}
	return false
}
