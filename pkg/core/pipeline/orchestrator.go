// Package pipeline runs rows through inference, arbitration, reconciliation,
// assembly and validation, one isolated scope per statement.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"fintable/pkg/core/arbiter"
	"fintable/pkg/core/assemble"
	"fintable/pkg/core/classify"
	"fintable/pkg/core/infer"
	"fintable/pkg/core/lexicon"
	"fintable/pkg/core/reconcile"
	"fintable/pkg/core/validate"
	"fintable/pkg/models"
)

// ErrUnknownKind is returned when no statement kind was given and none
// could be detected from the rows.
var ErrUnknownKind = errors.New("cannot determine statement kind")

// Options wires a Parser. Only what a caller sets is used; zero values fall
// back to the built-in lexicon, libraries and policies.
type Options struct {
	// Lexicon is used when Lexicons is nil.
	Lexicon  *lexicon.Lexicon
	Lexicons *lexicon.Store
	// Libraries override the built-in line-item library per kind.
	Libraries map[models.StatementKind]*assemble.Library

	Arbiter        arbiter.Arbiter
	Threshold      float64
	HighConfidence float64

	Policy   reconcile.Policy
	Provider reconcile.DecisionProvider
	Sinks    []reconcile.Sink

	Validator    validate.Validator
	InferOptions []infer.Option
	// Concurrency bounds ParseAll; zero means 4.
	Concurrency int
	Logger      *slog.Logger
}

// Parser turns pages of rows into validated statements. It holds no
// per-statement state and is safe for concurrent use.
type Parser struct {
	opts   Options
	logger *slog.Logger
}

// New returns a parser. A zero Policy becomes reconcile.DefaultPolicy().
func New(opts Options) *Parser {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Policy == (reconcile.Policy{}) {
		opts.Policy = reconcile.DefaultPolicy()
	}
	if opts.Validator.Tolerance <= 0 {
		opts.Validator.Tolerance = validate.DefaultTolerance
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	return &Parser{opts: opts, logger: opts.Logger.With("component", "pipeline")}
}

// Result is everything one statement parse produced.
type Result struct {
	RunID      string                  `json:"run_id"`
	Name       string                  `json:"name,omitempty"`
	Statement  *models.Statement       `json:"statement"`
	Validation models.ValidationResult `json:"validation"`
	Decisions  []models.DecisionRecord `json:"decisions"`
	CacheStats infer.CacheStats        `json:"cache_stats"`
}

// Job is one statement to parse. A zero or unknown Kind is detected.
type Job struct {
	Name  string
	Kind  models.StatementKind
	Pages []models.Page
}

func (p *Parser) lexicon() *lexicon.Lexicon {
	if p.opts.Lexicons != nil {
		if lex := p.opts.Lexicons.Snapshot(); lex != nil {
			return lex
		}
	}
	if p.opts.Lexicon != nil {
		return p.opts.Lexicon
	}
	return lexicon.Default()
}

func (p *Parser) library(kind models.StatementKind) *assemble.Library {
	if lib, ok := p.opts.Libraries[kind]; ok && lib != nil {
		return lib
	}
	return assemble.DefaultLibrary(kind)
}

// DetectKind guesses the statement kind of pages from their titles and rows.
func (p *Parser) DetectKind(pages []models.Page) models.StatementKind {
	var rows []models.Row
	for _, pg := range pages {
		if pg.Title != "" {
			rows = append(rows, models.NewRow(pg.Number, 0, pg.Title))
		}
		rows = append(rows, pg.Rows...)
	}
	var libs []*assemble.Library
	for _, k := range []models.StatementKind{models.KindBalanceSheet, models.KindIncomeStatement, models.KindCashFlow} {
		libs = append(libs, p.library(k))
	}
	return assemble.DetectKind(rows, libs...)
}

// ParseStatement parses pages as one statement of kind. Pass
// models.KindUnknown to detect the kind.
func (p *Parser) ParseStatement(ctx context.Context, kind models.StatementKind, pages []models.Page) (*Result, error) {
	if kind == "" || kind == models.KindUnknown {
		kind = p.DetectKind(pages)
		if kind == models.KindUnknown {
			return nil, ErrUnknownKind
		}
	}
	start := time.Now()

	s, err := p.NewScope(kind)
	if err != nil {
		return nil, err
	}
	for _, page := range pages {
		for _, row := range page.Rows {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if err := s.Process(ctx, row); err != nil {
				return nil, err
			}
		}
	}

	res := s.Finish()
	p.logger.Info("pipeline.parsed",
		"run_id", res.RunID,
		"kind", kind,
		"items", countItems(res.Statement),
		"unmatched", len(res.Statement.Unmatched),
		"unresolved", len(res.Statement.Unresolved),
		"decisions", len(res.Decisions),
		"completeness", res.Validation.Completeness,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return res, nil
}

// ParseAll parses independent statements concurrently, one scope each.
// Results come back in job order. The first error cancels the rest.
func (p *Parser) ParseAll(ctx context.Context, jobs []Job) ([]*Result, error) {
	results := make([]*Result, len(jobs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Concurrency)
	for i, job := range jobs {
		g.Go(func() error {
			res, err := p.ParseStatement(gctx, job.Kind, job.Pages)
			if err != nil {
				if job.Name != "" {
					return fmt.Errorf("%s: %w", job.Name, err)
				}
				return err
			}
			res.Name = job.Name
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Link runs the cross-statement checks over finished results.
func Link(results []*Result, tolerance float64) *validate.LinkageReport {
	stmts := make([]*models.Statement, 0, len(results))
	for _, r := range results {
		if r != nil {
			stmts = append(stmts, r.Statement)
		}
	}
	return validate.ValidateLinkages(validate.Group(stmts...), tolerance)
}

func countItems(stmt *models.Statement) int {
	n := 0
	for _, sec := range stmt.Sections {
		n += len(sec.Items)
		if sec.Subtotal != nil {
			n++
		}
	}
	return n
}

// =============================================================================
// SCOPE
// =============================================================================

// Scope is the mutable state of one statement parse: its schema cache,
// decision log and assembler. Rows must be fed in document order from a
// single goroutine.
type Scope struct {
	runID     string
	kind      models.StatementKind
	lib       *assemble.Library
	inferer   *infer.Inferencer
	cache     *infer.Cache
	gate      *arbiter.Gate
	rec       *reconcile.Reconciler
	asm       *assemble.Assembler
	validator validate.Validator

	page   int
	header []string
	logger *slog.Logger
}

// NewScope starts a parse of one statement of kind.
func (p *Parser) NewScope(kind models.StatementKind) (*Scope, error) {
	lib := p.library(kind)
	if lib == nil {
		return nil, fmt.Errorf("%w: no library for %s", ErrUnknownKind, kind)
	}
	runID := uuid.NewString()
	logger := p.opts.Logger.With("run_id", runID, "kind", kind)

	gate := arbiter.NewGate(p.opts.Arbiter, logger)
	if p.opts.Threshold > 0 {
		gate.Threshold = p.opts.Threshold
	}
	if p.opts.HighConfidence > 0 {
		gate.HighConfidence = p.opts.HighConfidence
	}

	log := reconcile.NewDecisionLog(runID, logger, p.opts.Sinks...)
	inferOpts := append([]infer.Option{infer.WithLogger(logger)}, p.opts.InferOptions...)

	return &Scope{
		runID:     runID,
		kind:      kind,
		lib:       lib,
		inferer:   infer.New(p.lexicon(), inferOpts...),
		cache:     infer.NewCache(logger),
		gate:      gate,
		rec:       reconcile.New(p.opts.Policy, p.opts.Provider, log, logger),
		asm:       assemble.New(lib, logger),
		validator: p.opts.Validator,
		page:      -1,
		logger:    logger.With("component", "scope"),
	}, nil
}

// RunID identifies this parse in logs and decision records.
func (s *Scope) RunID() string { return s.runID }

// Process runs one row through the pipeline. Only a schema invariant
// breach is returned as an error; every data problem is recorded on the
// statement instead.
func (s *Scope) Process(ctx context.Context, row models.Row) error {
	if row.IsEmpty() {
		return nil
	}

	invalidated := false
	if row.Page != s.page {
		// fresh inference on the first row of every page
		if _, had := s.cache.Pattern(); had {
			s.cache.Invalidate(row, infer.ReasonPageBreak)
			invalidated = true
		}
		s.page = row.Page
		s.header = nil
	} else {
		_, had := s.cache.Pattern()
		if schema, ok := s.cache.Lookup(row); ok {
			_, err := s.asm.Add(row, schema)
			return err
		}
		invalidated = had
	}

	h, trace := s.inferer.Explain(row, s.kind)
	h.Columns = row.Len()

	if trace.Header() {
		if err := h.Validate(row.Len()); err == nil && h.Has(models.RoleCurrent) {
			s.cache.Commit(h)
		}
		s.header = row.Texts()
		s.asm.AddHeader(row)
		return nil
	}

	ctx = arbiter.WithRowContext(ctx, arbiter.RowContext{Kind: s.kind, Header: s.header})
	var cand *arbiter.Candidate
	if s.gate.ShouldConsult(h, invalidated) {
		cand = s.gate.Consult(ctx, row)
	}

	committed, err := s.rec.Reconcile(ctx, row, h, cand)
	if err != nil {
		return err
	}

	if !infer.Resolved(committed) {
		if committed.Has(models.RoleItemName) && labelOnly(row, committed) {
			// section titles and nil-balance lines; never cached
			_, err := s.asm.Add(row, committed)
			return err
		}
		s.logger.Debug("pipeline.unresolved", "page", row.Page, "line", row.Line, "schema", committed.String())
		s.asm.AddUnresolved(row)
		return nil
	}

	s.cache.Commit(committed)
	_, err = s.asm.Add(row, committed)
	return err
}

// labelOnly reports whether every cell besides the item name is blank.
func labelOnly(row models.Row, schema models.RowSchema) bool {
	item, _ := schema.Index(models.RoleItemName)
	for i := 0; i < row.Len(); i++ {
		if i != item && !classify.IsBlank(row.Cell(i)) {
			return false
		}
	}
	return true
}

// Finish validates the assembled statement and returns the result. The
// scope must not be used afterwards.
func (s *Scope) Finish() *Result {
	stmt := s.asm.Statement()
	return &Result{
		RunID:      s.runID,
		Statement:  stmt,
		Validation: s.validator.Validate(stmt, s.lib),
		Decisions:  s.rec.Log().Entries(),
		CacheStats: s.cache.Stats(),
	}
}
