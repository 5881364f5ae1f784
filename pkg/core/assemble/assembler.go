package assemble

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"fintable/pkg/core/classify"
	"fintable/pkg/models"
)

// Extract applies a committed schema to a row. Amount cells that do not
// parse become nil. A schema that is ambiguous for the row is an invariant
// breach and returns models.ErrSchemaInvariant.
func Extract(row models.Row, schema models.RowSchema) (models.ExtractedItem, error) {
	if err := schema.Validate(row.Len()); err != nil {
		return models.ExtractedItem{}, fmt.Errorf("row %d:%d: %w", row.Page, row.Line, err)
	}
	item := models.ExtractedItem{Page: row.Page, Line: row.Line, Provenance: schema.Provenance}
	if i, ok := schema.Index(models.RoleItemName); ok {
		item.Label = strings.TrimSpace(row.Cell(i))
	}
	if i, ok := schema.Index(models.RoleFootnote); ok {
		item.Footnote = strings.TrimSpace(row.Cell(i))
	}
	if i, ok := schema.Index(models.RoleCurrent); ok {
		item.Current = classify.ParseAmount(row.Cell(i))
	}
	if i, ok := schema.Index(models.RolePrevious); ok {
		item.Previous = classify.ParseAmount(row.Cell(i))
	}
	return item, nil
}

// Assembler builds one statement from rows in document order. It is not safe
// for concurrent use; each parse owns its own.
type Assembler struct {
	lib    *Library
	stmt   *models.Statement
	order  map[string]int // section name -> library index
	seen   map[string]bool
	cursor int
	logger *slog.Logger
}

// New returns an assembler for lib.
func New(lib *Library, logger *slog.Logger) *Assembler {
	if logger == nil {
		logger = slog.Default()
	}
	order := make(map[string]int, len(lib.sections))
	for i, s := range lib.sections {
		order[s.Name] = i
	}
	return &Assembler{
		lib:    lib,
		stmt:   &models.Statement{Kind: lib.Kind()},
		order:  order,
		seen:   map[string]bool{},
		logger: logger.With("component", "assembler", "kind", lib.Kind()),
	}
}

// Add extracts row with schema and files the item. It returns the item, or
// nil when the row is a section title or carries nothing.
func (a *Assembler) Add(row models.Row, schema models.RowSchema) (*models.ExtractedItem, error) {
	item, err := Extract(row, schema)
	if err != nil {
		return nil, err
	}
	hasAmount := item.Current != nil || item.Previous != nil

	if item.Label == "" {
		if hasAmount {
			a.stmt.Unmatched = append(a.stmt.Unmatched, item)
			return &item, nil
		}
		return nil, nil
	}

	entry, ok := a.lib.Match(NormalizeLabel(item.Label), a.cursor)
	if !ok {
		if !hasAmount && !a.amountCellsPrinted(row, schema) {
			a.stmt.Headers = append(a.stmt.Headers, item.Label)
			return nil, nil
		}
		a.logger.Debug("assemble.unmatched", "label", item.Label, "page", row.Page, "line", row.Line)
		a.stmt.Unmatched = append(a.stmt.Unmatched, item)
		return &item, nil
	}

	item.FieldID = entry.FieldID
	item.Section = entry.Section
	item.Deduction = entry.Deduction
	a.cursor = entry.section

	if a.seen[entry.FieldID] {
		// the first occurrence wins; later ones are kept for review
		a.logger.Debug("assemble.duplicate", "field", entry.FieldID, "page", row.Page, "line", row.Line)
		a.stmt.Unmatched = append(a.stmt.Unmatched, item)
		return &item, nil
	}
	a.seen[entry.FieldID] = true

	sec := a.section(entry.Section)
	if entry.Role == EntrySubtotal {
		sec.Subtotal = &item
	} else {
		sec.Items = append(sec.Items, item)
	}
	return &item, nil
}

// amountCellsPrinted reports whether the amount columns hold any text at
// all, placeholders included. Rows that print "-" are items with nil
// balances, not titles.
func (a *Assembler) amountCellsPrinted(row models.Row, schema models.RowSchema) bool {
	for _, role := range []models.ColumnRole{models.RoleCurrent, models.RolePrevious} {
		if i, ok := schema.Index(role); ok && strings.TrimSpace(row.Cell(i)) != "" {
			return true
		}
	}
	return false
}

// AddHeader records a column header row.
func (a *Assembler) AddHeader(row models.Row) {
	a.stmt.Headers = append(a.stmt.Headers, strings.Join(row.Texts(), " | "))
}

// AddUnresolved records a row no schema could be committed for.
func (a *Assembler) AddUnresolved(row models.Row) {
	a.stmt.Unresolved = append(a.stmt.Unresolved, row)
}

// section returns the named section, creating it in library order.
func (a *Assembler) section(name string) *models.StatementSection {
	if sec := a.stmt.Section(name); sec != nil {
		return sec
	}
	sec := &models.StatementSection{Name: name}
	a.stmt.Sections = append(a.stmt.Sections, sec)
	sort.SliceStable(a.stmt.Sections, func(i, j int) bool {
		return a.order[a.stmt.Sections[i].Name] < a.order[a.stmt.Sections[j].Name]
	})
	return sec
}

// Library returns the library the assembler matches against.
func (a *Assembler) Library() *Library { return a.lib }

// Statement returns the statement built so far.
func (a *Assembler) Statement() *models.Statement { return a.stmt }
