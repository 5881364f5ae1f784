package source

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"fintable/pkg/models"
)

// maxColspan bounds how many placeholder cells one spanning cell expands to.
const maxColspan = 16

// ReadHTML turns every <table> into a page. A cell spanning several columns
// is followed by null cells so later columns keep their positions. The
// table caption, or a short heading just before the table, becomes the
// page title.
func ReadHTML(r io.Reader) ([]models.Page, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	var pages []models.Page
	doc.Find("table").Each(func(_ int, table *goquery.Selection) {
		// nested tables are read on their own
		num := len(pages) + 1
		page := models.Page{Number: num, Title: tableTitle(table)}

		line := 0
		table.Find("tr").Each(func(_ int, tr *goquery.Selection) {
			if tr.Closest("table").Get(0) != table.Get(0) {
				return
			}
			var texts []*string
			tr.ChildrenFiltered("td, th").Each(func(_ int, cell *goquery.Selection) {
				text := cleanText(cell.Text())
				texts = append(texts, &text)
				for i := 1; i < colspan(cell); i++ {
					texts = append(texts, nil)
				}
			})
			if len(texts) == 0 {
				return
			}
			line++
			page.Rows = append(page.Rows, models.RowFromPtrs(num, line, texts))
		})
		if len(page.Rows) > 0 {
			pages = append(pages, page)
		}
	})
	if len(pages) == 0 {
		return nil, fmt.Errorf("no tables found")
	}
	return pages, nil
}

func colspan(cell *goquery.Selection) int {
	v, ok := cell.Attr("colspan")
	if !ok {
		return 1
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n < 1 {
		return 1
	}
	return min(n, maxColspan)
}

// tableTitle looks at the caption first, then the element right before the
// table.
func tableTitle(table *goquery.Selection) string {
	if caption := cleanText(table.Find("caption").First().Text()); caption != "" {
		return caption
	}
	if prev := table.Prev(); prev.Length() > 0 {
		text := cleanText(prev.Text())
		if text != "" && len([]rune(text)) <= 40 {
			return text
		}
	}
	return ""
}

// cleanText collapses whitespace runs to single spaces. Fields already
// treats &nbsp; (U+00A0) as a space.
func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
