package assemble

import (
	"fintable/pkg/models"
)

// minMarkers is how many structural markers identify a statement without a title.
const minMarkers = 2

// DetectKind guesses which statement a run of rows belongs to. A title row
// (资产负债表, 利润表, 现金流量表) decides immediately; otherwise the library
// whose structural markers appear most often in the label columns wins.
// With no libraries given the built-in ones are used.
func DetectKind(rows []models.Row, libs ...*Library) models.StatementKind {
	if len(libs) == 0 {
		libs = DefaultLibraries()
	}

	for _, row := range rows {
		for _, cell := range row.Texts() {
			label := NormalizeLabel(cell)
			if label == "" {
				continue
			}
			for _, lib := range libs {
				for _, re := range lib.titles {
					if re.MatchString(label) {
						return lib.kind
					}
				}
			}
		}
	}

	best, bestScore := models.KindUnknown, 0
	for _, lib := range libs {
		score := 0
		hit := make([]bool, len(lib.markers))
		for _, row := range rows {
			// labels sit in the first or second column
			for col := 0; col < 2 && col < row.Len(); col++ {
				label := NormalizeLabel(row.Cell(col))
				for i, re := range lib.markers {
					if !hit[i] && re.MatchString(label) {
						hit[i] = true
						score++
					}
				}
			}
		}
		if score > bestScore {
			best, bestScore = lib.kind, score
		}
	}
	if bestScore < minMarkers {
		return models.KindUnknown
	}
	return best
}
