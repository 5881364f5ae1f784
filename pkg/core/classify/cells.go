// Package classify scores single table cells by shape: amount, footnote marker or blank.
// Every function here is pure and never fails; text that fits no shape simply has no tags.
package classify

import (
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

// =============================================================================
// FEATURE TAGS
// =============================================================================

// Features is the tag set assigned to one cell.
type Features struct {
	Amount         bool
	FootnoteMarker bool
	Blank          bool
}

// None reports whether no tag is set, i.e. the cell reads as free text.
func (f Features) None() bool {
	return !f.Amount && !f.FootnoteMarker && !f.Blank
}

var (
	// Signed or parenthesised number with an optional currency mark, matched on
	// text with inner whitespace removed: 1,234.56 / -3,000 / (1,234.00) / ¥100 / ￥-5
	amountPattern = regexp.MustCompile(
		`^(?:(?:-?[¥￥$]?|[¥￥$]-?)` + number + `|[¥￥$]?[(（][¥￥$]?` + number + `[)）])$`)

	footnotePatterns = []*regexp.Regexp{
		// 七、1 / 五、12(3)
		regexp.MustCompile(`^[一二三四五六七八九十]+、\d+([(（]\d+[)）])?$`),
		// 附注五 / 注七、3
		regexp.MustCompile(`^(附注|注释|注)[一二三四五六七八九十\d]+(、\d+)?$`),
		// 5(1) / 12（3）
		regexp.MustCompile(`^\d{1,2}[(（]\d{1,2}[)）]$`),
		// bare ideographic section numeral
		regexp.MustCompile(`^[一二三四五六七八九十]{1,3}$`),
		// short pure digit references
		regexp.MustCompile(`^\d{1,3}$`),
	}

	placeholders = map[string]bool{
		"-": true, "--": true, "—": true, "——": true, "–": true, "/": true,
	}
)

const number = `(?:\d{1,3}(?:,\d{3})*|\d+)(?:\.\d+)?`

// maxMarkerRunes bounds footnote markers; anything longer reads as a label or an amount.
const maxMarkerRunes = 10

// Classify tags a cell. Footnote shape is tested first so that short digit
// references such as "12" are never reported as amounts.
func Classify(text string) Features {
	t := normalize(text)
	if t == "" || placeholders[t] {
		return Features{Blank: true}
	}
	if isFootnote(t) {
		return Features{FootnoteMarker: true}
	}
	if isAmount(t) {
		return Features{Amount: true}
	}
	return Features{}
}

// IsAmount reports whether text has amount shape on its own, without the
// footnote-first precedence used by Classify.
func IsAmount(text string) bool {
	return isAmount(normalize(text))
}

func isAmount(t string) bool {
	return amountPattern.MatchString(strings.Join(strings.Fields(t), ""))
}

// IsFootnoteMarker reports whether text looks like a note reference.
func IsFootnoteMarker(text string) bool {
	t := normalize(text)
	if t == "" || placeholders[t] {
		return false
	}
	return isFootnote(t)
}

// IsBlank treats null, whitespace and placeholder dashes as blank.
func IsBlank(text string) bool {
	t := normalize(text)
	return t == "" || placeholders[t]
}

func isFootnote(t string) bool {
	if utf8.RuneCountInString(t) > maxMarkerRunes {
		return false
	}
	for _, re := range footnotePatterns {
		if re.MatchString(t) {
			return true
		}
	}
	return false
}

// normalize trims whitespace (including ideographic space) and folds full-width
// separators that survive OCR.
func normalize(text string) string {
	t := strings.TrimSpace(strings.ReplaceAll(text, "　", " "))
	t = strings.ReplaceAll(t, "，", ",")
	t = strings.ReplaceAll(t, "．", ".")
	return t
}

// =============================================================================
// VALUE PARSING
// =============================================================================

var nonNumeric = regexp.MustCompile(`[^0-9.\-]`)

// ParseAmount parses a signed decimal amount. It accepts exactly the cells
// Classify and IsAmount report as amounts.
//
//	"1,234.56"   → 1234.56
//	"-3,000"     → -3000
//	"(1,234.00)" → -1234 (accounting negative)
//	"¥ 100"      → 100
//	"—" or ""    → nil
//
// Text that does not parse yields nil.
func ParseAmount(text string) *float64 {
	raw := normalize(text)
	if raw == "" || placeholders[raw] || !isAmount(raw) {
		return nil
	}

	value, err := strconv.ParseFloat(nonNumeric.ReplaceAllString(raw, ""), 64)
	if err != nil {
		return nil
	}
	if strings.ContainsAny(raw, "(（") && value > 0 {
		value = -value
	}
	return &value
}
