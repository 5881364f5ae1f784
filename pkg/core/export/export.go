// Package export writes parse results as JSON documents or XLSX workbooks.
package export

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"fintable/pkg/models"
)

// Report is everything one statement parse produced.
type Report struct {
	RunID      string                  `json:"run_id"`
	Statement  *models.Statement       `json:"statement"`
	Validation models.ValidationResult `json:"validation"`
	Decisions  []models.DecisionRecord `json:"decisions"`
}

// WriteJSON writes v as indented JSON.
func WriteJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteFile writes reports to path as .json or .xlsx.
func WriteFile(path string, reports ...Report) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json":
		if len(reports) == 1 {
			err = WriteJSON(f, reports[0])
		} else {
			err = WriteJSON(f, reports)
		}
	case ".xlsx":
		err = WriteXLSX(f, reports...)
	default:
		err = fmt.Errorf("unsupported output format %q", ext)
	}
	if err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

// =============================================================================
// XLSX
// =============================================================================

// WriteXLSX writes one sheet of line items per statement plus shared
// Validation and Decisions sheets.
func WriteXLSX(w io.Writer, reports ...Report) error {
	f := excelize.NewFile()
	defer f.Close()

	first := true
	for _, rep := range reports {
		if rep.Statement == nil {
			continue
		}
		name := sheetName(f, string(rep.Statement.Kind))
		if first {
			if err := f.SetSheetName("Sheet1", name); err != nil {
				return err
			}
			first = false
		} else if _, err := f.NewSheet(name); err != nil {
			return err
		}
		writeStatement(f, name, rep.Statement)
	}
	if first {
		return fmt.Errorf("no statements to export")
	}

	if _, err := f.NewSheet("Validation"); err != nil {
		return err
	}
	writeValidation(f, "Validation", reports)

	if _, err := f.NewSheet("Decisions"); err != nil {
		return err
	}
	writeDecisions(f, "Decisions", reports)

	f.SetActiveSheet(0)
	_, err := f.WriteTo(w)
	return err
}

// sheetName keeps names unique and within Excel's 31 character limit.
func sheetName(f *excelize.File, base string) string {
	if len(base) > 28 {
		base = base[:28]
	}
	name := base
	for i := 2; ; i++ {
		if idx, _ := f.GetSheetIndex(name); idx == -1 {
			return name
		}
		name = fmt.Sprintf("%s_%d", base, i)
	}
}

type sheetWriter struct {
	f     *excelize.File
	sheet string
	row   int
}

func (s *sheetWriter) write(values ...interface{}) {
	s.row++
	for i, v := range values {
		if v == nil {
			continue
		}
		cell, _ := excelize.CoordinatesToCellName(i+1, s.row)
		if p, ok := v.(*float64); ok {
			if p == nil {
				continue
			}
			v = *p
		}
		_ = s.f.SetCellValue(s.sheet, cell, v)
	}
}

func writeStatement(f *excelize.File, sheet string, stmt *models.Statement) {
	w := &sheetWriter{f: f, sheet: sheet}
	w.write("Section", "Field", "Label", "Footnote", "Current", "Previous", "Provenance", "Page", "Line")
	item := func(section string, it models.ExtractedItem) {
		w.write(section, it.FieldID, it.Label, it.Footnote, it.Current, it.Previous, string(it.Provenance), it.Page, it.Line)
	}
	for _, sec := range stmt.Sections {
		for _, it := range sec.Items {
			item(sec.Name, it)
		}
		if sec.Subtotal != nil {
			item(sec.Name, *sec.Subtotal)
		}
	}
	for _, it := range stmt.Unmatched {
		item("(unmatched)", it)
	}
	for _, r := range stmt.Unresolved {
		w.write("(unresolved)", "", strings.Join(r.Texts(), " | "), "", nil, nil, "", r.Page, r.Line)
	}

	_ = f.SetColWidth(sheet, "A", "B", 26)
	_ = f.SetColWidth(sheet, "C", "C", 40)
	_ = f.SetColWidth(sheet, "E", "F", 18)
}

func writeValidation(f *excelize.File, sheet string, reports []Report) {
	w := &sheetWriter{f: f, sheet: sheet}
	w.write("Statement", "Tier", "Check", "Status", "Expected", "Actual", "Difference", "Detail")
	for _, rep := range reports {
		if rep.Statement == nil {
			continue
		}
		kind := string(rep.Statement.Kind)
		for _, tier := range rep.Validation.Tiers {
			for _, c := range tier.Checks {
				w.write(kind, tier.Tier, c.Name, string(c.Status), c.Expected, c.Actual, c.Difference, c.Detail)
			}
		}
		w.write(kind, "", "completeness", "", "", rep.Validation.Completeness, "", strings.Join(rep.Validation.Missing, ", "))
		for _, warn := range rep.Validation.Warnings {
			w.write(kind, "", "warning", "", "", "", "", warn)
		}
	}
	_ = f.SetColWidth(sheet, "C", "C", 60)
	_ = f.SetColWidth(sheet, "H", "H", 80)
}

func writeDecisions(f *excelize.File, sheet string, reports []Report) {
	w := &sheetWriter{f: f, sheet: sheet}
	w.write("ID", "Statement", "Page", "Line", "Cells", "Heuristic", "Model", "Chosen", "Choice", "Provenance")
	for _, rep := range reports {
		for _, d := range rep.Decisions {
			w.write(d.ID, string(d.Kind), d.Page, d.Line, strings.Join(d.Cells, " | "),
				roleMap(d.Heuristic), roleMap(d.Model), roleMap(d.Chosen), d.Choice, string(d.Provenance))
		}
	}
	_ = f.SetColWidth(sheet, "E", "E", 60)
}

func roleMap(m map[string]int) string {
	b, _ := json.Marshal(m)
	return string(b)
}
