package assemble

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	labelOrdinal = regexp.MustCompile(`^(?:[一二三四五六七八九十]+、|（[一二三四五六七八九十]+）|\d{1,2}[.．、])`)
	labelHint    = regexp.MustCompile(`（[^（）]*(?:填列|列示)[^（）]*）`)
	labelFolds   = strings.NewReplacer(
		":", "：",
		"(", "（",
		")", "）",
	)
)

// NormalizeLabel prepares a printed line-item label for pattern matching:
// whitespace is removed, ASCII colon and parentheses folded to full width,
// sign hints such as （损失以“－”号填列） dropped and leading ordinals
// ("一、", "（二）", "1.") stripped. Prefixes like 加：, 减： and 其中： are kept.
func NormalizeLabel(label string) string {
	label = strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, label)
	label = labelFolds.Replace(label)
	label = labelHint.ReplaceAllString(label, "")
	for i := 0; i < 2; i++ {
		loc := labelOrdinal.FindStringIndex(label)
		if loc == nil {
			break
		}
		label = label[loc[1]:]
	}
	return label
}
