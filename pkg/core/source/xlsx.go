package source

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"fintable/pkg/models"
)

// ReadXLSX turns every non-empty sheet into a page, in workbook order.
// Sheet names become page titles. Short rows are padded with empty cells
// up to the sheet's widest row so column positions line up.
func ReadXLSX(r io.Reader) ([]models.Page, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	var pages []models.Page
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("read sheet %s: %w", sheet, err)
		}
		if len(rows) == 0 {
			continue
		}
		width := 0
		for _, cells := range rows {
			width = max(width, len(cells))
		}

		num := len(pages) + 1
		page := models.Page{Number: num, Title: sheet}
		for i, cells := range rows {
			texts := make([]string, width)
			copy(texts, cells)
			page.Rows = append(page.Rows, models.NewRow(num, i+1, texts...))
		}
		pages = append(pages, page)
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("workbook has no rows")
	}
	return pages, nil
}
