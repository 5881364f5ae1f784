// Package infer derives a RowSchema for a single table row and caches the last
// committed schema so that following rows can reuse it after a cheap shape check.
package infer

import (
	"log/slog"
	"sort"
	"strings"

	"fintable/pkg/core/classify"
	"fintable/pkg/core/lexicon"
	"fintable/pkg/models"
)

// DefaultPositionalPenalty is subtracted from confidence when the item name
// column was assigned only because it is column 0.
const DefaultPositionalPenalty = 0.1

// expectedRoles is the number of roles a fully described row carries, per statement kind.
var expectedRoles = map[models.StatementKind]int{
	models.KindBalanceSheet:    4,
	models.KindIncomeStatement: 4,
	models.KindCashFlow:        4,
	models.KindUnknown:         4,
}

// ExpectedRoles returns the confidence denominator for kind.
func ExpectedRoles(kind models.StatementKind) int {
	if n, ok := expectedRoles[kind]; ok {
		return n
	}
	return len(models.AssignableRoles)
}

// Tie records a cell that matched both amount roles in the keyword pass.
type Tie struct {
	Column int
	Text   string
	Chosen models.ColumnRole
	Rule   lexicon.TieBreak
}

// Trace explains how Infer reached its schema.
type Trace struct {
	Keyword    map[models.ColumnRole]int
	Feature    map[models.ColumnRole]int
	Positional bool
	Ties       []Tie
	Rejected   bool
}

// Header reports whether the keyword pass found both period columns, which is
// what a table header row looks like.
func (t Trace) Header() bool {
	_, cur := t.Keyword[models.RoleCurrent]
	_, prev := t.Keyword[models.RolePrevious]
	return cur && prev
}

// Inferencer runs the keyword pass then the feature pass over one row.
type Inferencer struct {
	lex     *lexicon.Lexicon
	penalty float64
	logger  *slog.Logger
}

// Option configures an Inferencer.
type Option func(*Inferencer)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(in *Inferencer) {
		if l != nil {
			in.logger = l
		}
	}
}

// WithPositionalPenalty overrides DefaultPositionalPenalty.
func WithPositionalPenalty(p float64) Option {
	return func(in *Inferencer) { in.penalty = p }
}

// New binds an inferencer to one lexicon snapshot.
func New(lex *lexicon.Lexicon, opts ...Option) *Inferencer {
	if lex == nil {
		lex = lexicon.Default()
	}
	in := &Inferencer{lex: lex, penalty: DefaultPositionalPenalty, logger: slog.Default()}
	for _, opt := range opts {
		opt(in)
	}
	in.logger = in.logger.With("component", "infer")
	return in
}

// Lexicon returns the snapshot this inferencer was built with.
func (in *Inferencer) Lexicon() *lexicon.Lexicon { return in.lex }

// Infer returns the heuristic schema for row.
func (in *Inferencer) Infer(row models.Row, kind models.StatementKind) models.RowSchema {
	schema, _ := in.Explain(row, kind)
	return schema
}

// Explain is Infer plus the trace of which pass assigned each role.
func (in *Inferencer) Explain(row models.Row, kind models.StatementKind) (models.RowSchema, Trace) {
	trace := Trace{
		Keyword: make(map[models.ColumnRole]int),
		Feature: make(map[models.ColumnRole]int),
	}
	used := make(map[int]bool)

	in.keywordPass(row, &trace, used)
	in.datedHeaderPass(row, &trace, used)
	in.featurePass(row, &trace, used)

	roles := make(map[models.ColumnRole]int, len(trace.Keyword)+len(trace.Feature))
	for r, i := range trace.Keyword {
		roles[r] = i
	}
	for r, i := range trace.Feature {
		roles[r] = i
	}

	schema := models.RowSchema{
		Roles:      roles,
		Provenance: models.ProvenanceHeuristic,
		Columns:    row.Len(),
	}

	cur, hasCur := roles[models.RoleCurrent]
	prev, hasPrev := roles[models.RolePrevious]
	if (hasCur && hasPrev && cur == prev) || schema.Validate(row.Len()) != nil {
		in.logger.Warn("infer.rejected", "page", row.Page, "line", row.Line, "schema", schema.String())
		trace.Rejected = true
		schema.Roles = map[models.ColumnRole]int{}
		schema.Confidence = 0
		return schema, trace
	}

	schema.Confidence = in.confidence(len(roles), trace.Positional, kind)
	return schema, trace
}

// keywordPass lets the first cell matching a role's phrase claim that role.
// Claimed roles are locked for the rest of inference.
func (in *Inferencer) keywordPass(row models.Row, trace *Trace, used map[int]bool) {
	for idx := range row.Cells {
		text := strings.TrimSpace(row.Cell(idx))
		if text == "" {
			continue
		}
		var open []lexicon.Match
		for _, m := range in.lex.Match(text) {
			if _, taken := trace.Keyword[m.Role]; !taken {
				open = append(open, m)
			}
		}
		if len(open) == 0 {
			continue
		}

		chosen := open[0]
		if cur, prev, ok := amountTie(open); ok {
			chosen = in.breakTie(cur, prev)
			trace.Ties = append(trace.Ties, Tie{Column: idx, Text: text, Chosen: chosen.Role, Rule: in.lex.TieBreak()})
			in.logger.Info("infer.tie",
				"page", row.Page, "line", row.Line, "column", idx, "text", text,
				"chosen", chosen.Role, "rule", in.lex.TieBreak())
		}

		trace.Keyword[chosen.Role] = idx
		used[idx] = true
	}
}

func amountTie(ms []lexicon.Match) (cur, prev lexicon.Match, ok bool) {
	var hasCur, hasPrev bool
	for _, m := range ms {
		switch m.Role {
		case models.RoleCurrent:
			cur, hasCur = m, true
		case models.RolePrevious:
			prev, hasPrev = m, true
		}
	}
	return cur, prev, hasCur && hasPrev
}

func (in *Inferencer) breakTie(cur, prev lexicon.Match) lexicon.Match {
	switch in.lex.TieBreak() {
	case lexicon.PreviousFirst:
		return prev
	case lexicon.LongestMatch:
		if prev.Length > cur.Length {
			return prev
		}
	}
	return cur
}

// datedHeaderPass handles headers such as "2024年12月31日 | 2023年12月31日":
// the latest year is the current period, the next one down the previous period.
func (in *Inferencer) datedHeaderPass(row models.Row, trace *Trace, used map[int]bool) {
	_, curTaken := trace.Keyword[models.RoleCurrent]
	_, prevTaken := trace.Keyword[models.RolePrevious]
	if curTaken && prevTaken {
		return
	}

	type dated struct {
		idx  int
		year int
	}
	var cells []dated
	for idx := range row.Cells {
		if used[idx] {
			continue
		}
		if y, ok := in.lex.Year(row.Cell(idx)); ok {
			cells = append(cells, dated{idx: idx, year: y})
		}
	}
	if len(cells) < 2 {
		return
	}
	sort.SliceStable(cells, func(i, j int) bool { return cells[i].year > cells[j].year })

	next := 0
	if !curTaken {
		trace.Keyword[models.RoleCurrent] = cells[0].idx
		used[cells[0].idx] = true
		next = 1
	}
	if !prevTaken {
		for _, c := range cells[next:] {
			if c.year < cells[0].year || curTaken {
				trace.Keyword[models.RolePrevious] = c.idx
				used[c.idx] = true
				break
			}
		}
	}
}

// featurePass fills roles the keyword pass left open, scanning left to right.
func (in *Inferencer) featurePass(row models.Row, trace *Trace, used map[int]bool) {
	open := func(r models.ColumnRole) bool {
		if _, ok := trace.Keyword[r]; ok {
			return false
		}
		_, ok := trace.Feature[r]
		return !ok
	}

	for idx := range row.Cells {
		if used[idx] {
			continue
		}
		f := classify.Classify(row.Cell(idx))
		switch {
		case f.Amount:
			if open(models.RoleCurrent) {
				trace.Feature[models.RoleCurrent] = idx
				used[idx] = true
			} else if open(models.RolePrevious) {
				trace.Feature[models.RolePrevious] = idx
				used[idx] = true
			}
		case f.FootnoteMarker:
			if open(models.RoleFootnote) {
				trace.Feature[models.RoleFootnote] = idx
				used[idx] = true
			}
		}
	}

	if open(models.RoleItemName) && row.Len() > 0 && !used[0] {
		trace.Feature[models.RoleItemName] = 0
		trace.Positional = true
		used[0] = true
	}
}

func (in *Inferencer) confidence(filled int, positional bool, kind models.StatementKind) float64 {
	c := float64(filled) / float64(ExpectedRoles(kind))
	if positional {
		c -= in.penalty
	}
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

// Resolved reports whether schema can produce an item: an item name and at least one amount.
func Resolved(schema models.RowSchema) bool {
	if !schema.Has(models.RoleItemName) {
		return false
	}
	return schema.Has(models.RoleCurrent) || schema.Has(models.RolePrevious)
}
