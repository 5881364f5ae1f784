package models

import "time"

// StatementKind identifies the financial statement a table belongs to.
type StatementKind string

const (
	KindBalanceSheet    StatementKind = "balance_sheet"
	KindIncomeStatement StatementKind = "income_statement"
	KindCashFlow        StatementKind = "cash_flow"
	KindUnknown         StatementKind = "unknown"
)

// ParseKind accepts the canonical names plus a few short aliases.
func ParseKind(s string) StatementKind {
	switch s {
	case "balance_sheet", "bs", "balance":
		return KindBalanceSheet
	case "income_statement", "is", "income", "profit":
		return KindIncomeStatement
	case "cash_flow", "cf", "cashflow":
		return KindCashFlow
	}
	return KindUnknown
}

// ExtractedItem is a row after its committed schema has been applied.
type ExtractedItem struct {
	Label      string     `json:"label"`
	FieldID    string     `json:"field_id,omitempty"`
	Section    string     `json:"section,omitempty"`
	Current    *float64   `json:"current"`
	Previous   *float64   `json:"previous"`
	Footnote   string     `json:"footnote,omitempty"`
	Deduction  bool       `json:"deduction,omitempty"`
	Page       int        `json:"page"`
	Line       int        `json:"line"`
	Provenance Provenance `json:"provenance"`
}

// StatementSection is an ordered run of items with an optional reported subtotal.
type StatementSection struct {
	Name     string          `json:"name"`
	Items    []ExtractedItem `json:"items"`
	Subtotal *ExtractedItem  `json:"subtotal,omitempty"`
}

// Statement is the assembled output of one parse.
type Statement struct {
	Kind       StatementKind       `json:"kind"`
	Sections   []*StatementSection `json:"sections"`
	Headers    []string            `json:"headers,omitempty"` // section titles and column header rows
	Unmatched  []ExtractedItem     `json:"unmatched"`
	Unresolved []Row               `json:"unresolved"`
}

// Section returns the named section, or nil.
func (s *Statement) Section(name string) *StatementSection {
	for _, sec := range s.Sections {
		if sec.Name == name {
			return sec
		}
	}
	return nil
}

// Item finds a matched item (or section subtotal) by canonical field ID.
func (s *Statement) Item(fieldID string) (ExtractedItem, bool) {
	for _, sec := range s.Sections {
		if sec.Subtotal != nil && sec.Subtotal.FieldID == fieldID {
			return *sec.Subtotal, true
		}
		for _, it := range sec.Items {
			if it.FieldID == fieldID {
				return it, true
			}
		}
	}
	return ExtractedItem{}, false
}

// ToMap renders the statement as nested key/value data keyed by canonical field ID.
func (s *Statement) ToMap() map[string]interface{} {
	sections := make(map[string]interface{}, len(s.Sections))
	for _, sec := range s.Sections {
		items := make(map[string]interface{}, len(sec.Items)+1)
		for _, it := range sec.Items {
			items[it.FieldID] = itemMap(it)
		}
		if sec.Subtotal != nil {
			items[sec.Subtotal.FieldID] = itemMap(*sec.Subtotal)
		}
		sections[sec.Name] = items
	}
	unmatched := make([]interface{}, 0, len(s.Unmatched))
	for _, it := range s.Unmatched {
		unmatched = append(unmatched, itemMap(it))
	}
	return map[string]interface{}{
		"kind":      string(s.Kind),
		"sections":  sections,
		"unmatched": unmatched,
	}
}

func itemMap(it ExtractedItem) map[string]interface{} {
	m := map[string]interface{}{
		"label":      it.Label,
		"current":    nil,
		"previous":   nil,
		"provenance": string(it.Provenance),
	}
	if it.Current != nil {
		m["current"] = *it.Current
	}
	if it.Previous != nil {
		m["previous"] = *it.Previous
	}
	if it.Footnote != "" {
		m["footnote"] = it.Footnote
	}
	return m
}

// =============================================================================
// VALIDATION RESULT
// =============================================================================

// CheckStatus is the outcome of a single arithmetic check.
type CheckStatus string

const (
	CheckPass    CheckStatus = "pass"
	CheckFail    CheckStatus = "fail"
	CheckWarning CheckStatus = "warning"
	CheckSkipped CheckStatus = "skipped"
)

// CheckResult describes one arithmetic identity evaluated against a statement.
type CheckResult struct {
	Name       string      `json:"name"`
	Status     CheckStatus `json:"status"`
	Expected   float64     `json:"expected"`
	Actual     float64     `json:"actual"`
	Difference float64     `json:"difference"`
	Detail     string      `json:"detail,omitempty"`
}

// TierResult groups the checks of one validation tier.
type TierResult struct {
	Tier   int           `json:"tier"`
	Name   string        `json:"name"`
	Checks []CheckResult `json:"checks"`
}

// Passed is true when no check in the tier failed. Skipped and warning checks do not fail a tier.
func (t TierResult) Passed() bool {
	for _, c := range t.Checks {
		if c.Status == CheckFail {
			return false
		}
	}
	return true
}

// ValidationResult is a read-only snapshot, recomputed on every validation call.
type ValidationResult struct {
	Tiers        []TierResult `json:"tiers"`
	Completeness float64      `json:"completeness"`
	Missing      []string     `json:"missing,omitempty"`
	Warnings     []string     `json:"warnings"`
}

// Tier returns the result for tier n (1-based).
func (v ValidationResult) Tier(n int) (TierResult, bool) {
	for _, t := range v.Tiers {
		if t.Tier == n {
			return t, true
		}
	}
	return TierResult{}, false
}

// =============================================================================
// DECISION LOG
// =============================================================================

// DecisionRecord is one append-only entry describing a heuristic/model disagreement.
type DecisionRecord struct {
	ID                  string         `json:"id"`
	RunID               string         `json:"run_id"`
	Timestamp           time.Time      `json:"timestamp"`
	Kind                StatementKind  `json:"kind"`
	Page                int            `json:"page"`
	Line                int            `json:"line"`
	Cells               []string       `json:"cells"`
	Heuristic           map[string]int `json:"heuristic"`
	Model               map[string]int `json:"model"`
	Chosen              map[string]int `json:"chosen"`
	HeuristicConfidence float64        `json:"heuristic_confidence"`
	ModelConfidence     float64        `json:"model_confidence"`
	Rationale           string         `json:"rationale,omitempty"`
	Choice              string         `json:"choice"`
	Provenance          Provenance     `json:"provenance"`
}
