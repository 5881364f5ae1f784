// Package source reads statement rows from the files table extractors
// produce: JSON row dumps, XLSX workbooks and HTML tables.
package source

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"fintable/pkg/core/utils"
	"fintable/pkg/models"
)

// ReadFile reads pages from path, picking the format by extension.
func ReadFile(path string) ([]models.Page, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var pages []models.Page
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json", ".hjson":
		pages, err = ReadJSON(f)
	case ".xlsx", ".xlsm":
		pages, err = ReadXLSX(f)
	case ".html", ".htm":
		pages, err = ReadHTML(f)
	default:
		return nil, fmt.Errorf("unsupported input format %q", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return pages, nil
}

// =============================================================================
// JSON
// =============================================================================

type jsonDocument struct {
	Pages []jsonPage `json:"pages"`
}

type jsonPage struct {
	Number int             `json:"number"`
	Page   int             `json:"page"`
	Title  string          `json:"title"`
	Rows   [][]interface{} `json:"rows"`
}

// ReadJSON accepts either {"pages": [{"number": 1, "rows": [[...], ...]}]}
// or a bare array of rows, which becomes page 1. Cells may be strings,
// numbers or null. Extractor output with trailing commas or comments is
// repaired before decoding.
func ReadJSON(r io.Reader) ([]models.Page, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty row document")
	}

	var doc jsonDocument
	if trimmed[0] == '[' {
		var rows [][]interface{}
		if _, _, err := utils.Decode(string(trimmed), &rows); err != nil {
			return nil, fmt.Errorf("decode rows: %w", err)
		}
		doc.Pages = []jsonPage{{Number: 1, Rows: rows}}
	} else if _, _, err := utils.Decode(string(trimmed), &doc); err != nil {
		return nil, fmt.Errorf("decode pages: %w", err)
	}

	pages := make([]models.Page, 0, len(doc.Pages))
	for i, jp := range doc.Pages {
		num := jp.Number
		if num == 0 {
			num = jp.Page
		}
		if num == 0 {
			num = i + 1
		}
		page := models.Page{Number: num, Title: jp.Title}
		for li, cells := range jp.Rows {
			texts := make([]*string, len(cells))
			for ci, c := range cells {
				texts[ci] = cellText(c)
			}
			page.Rows = append(page.Rows, models.RowFromPtrs(num, li+1, texts))
		}
		pages = append(pages, page)
	}
	return pages, nil
}

func cellText(v interface{}) *string {
	var s string
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		s = t
	case float64:
		s = strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		s = strconv.FormatBool(t)
	default:
		s = fmt.Sprint(t)
	}
	return &s
}
