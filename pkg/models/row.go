package models

import "strings"

// Cell is one optional text value at a column position within a row.
type Cell struct {
	Index int     `json:"index"`
	Text  *string `json:"text"`
}

// Value returns the cell text, or "" when the cell is null.
func (c Cell) Value() string {
	if c.Text == nil {
		return ""
	}
	return *c.Text
}

// Row is one physical table line as delivered by the table extractor.
// Rows are read-only once built; their width may change from one row to the next.
type Row struct {
	Page  int    `json:"page"`
	Line  int    `json:"line"`
	Cells []Cell `json:"cells"`
}

// NewRow builds a row from plain strings. Empty strings are kept as empty (non-null) cells.
func NewRow(page, line int, texts ...string) Row {
	cells := make([]Cell, len(texts))
	for i := range texts {
		t := texts[i]
		cells[i] = Cell{Index: i, Text: &t}
	}
	return Row{Page: page, Line: line, Cells: cells}
}

// RowFromPtrs builds a row where nil entries are null cells.
func RowFromPtrs(page, line int, texts []*string) Row {
	cells := make([]Cell, len(texts))
	for i, t := range texts {
		var cp *string
		if t != nil {
			v := *t
			cp = &v
		}
		cells[i] = Cell{Index: i, Text: cp}
	}
	return Row{Page: page, Line: line, Cells: cells}
}

// Len is the column count of the row.
func (r Row) Len() int { return len(r.Cells) }

// Cell returns the text at index i, "" when null or out of range.
func (r Row) Cell(i int) string {
	if i < 0 || i >= len(r.Cells) {
		return ""
	}
	return r.Cells[i].Value()
}

// Texts returns all cell values; null cells become "".
func (r Row) Texts() []string {
	out := make([]string, len(r.Cells))
	for i, c := range r.Cells {
		out[i] = c.Value()
	}
	return out
}

// IsEmpty reports whether every cell is null or whitespace.
func (r Row) IsEmpty() bool {
	for _, c := range r.Cells {
		if strings.TrimSpace(c.Value()) != "" {
			return false
		}
	}
	return true
}

// Page groups the rows extracted from one physical page.
type Page struct {
	Number int    `json:"number"`
	Title  string `json:"title,omitempty"` // caption, sheet name or nearby heading
	Rows   []Row  `json:"rows"`
}
