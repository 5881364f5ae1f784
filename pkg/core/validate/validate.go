// Package validate checks assembled statements for arithmetic consistency.
// Results are reported per tier and never stop extraction.
package validate

import (
	"fmt"
	"math"
	"strings"

	"fintable/pkg/core/assemble"
	"fintable/pkg/models"
)

// DefaultTolerance is the absolute difference, in currency units, two
// amounts may differ by and still agree.
const DefaultTolerance = 0.01

// Validator runs the three check tiers over a statement.
type Validator struct {
	Tolerance float64
	// OutlierPct flags required items whose year-over-year change exceeds
	// this percentage. Zero only flags values that dropped to zero.
	OutlierPct float64
}

// New returns a validator with the default tolerance.
func New() Validator {
	return Validator{Tolerance: DefaultTolerance}
}

// Validate recomputes every check for stmt. lib may be nil, in which case the
// built-in library for the statement kind is used.
func (v Validator) Validate(stmt *models.Statement, lib *assemble.Library) models.ValidationResult {
	if v.Tolerance <= 0 {
		v.Tolerance = DefaultTolerance
	}
	res := models.ValidationResult{Warnings: []string{}}
	if stmt == nil {
		res.Warnings = append(res.Warnings, "no statement to validate")
		return res
	}
	if lib == nil {
		lib = assemble.DefaultLibrary(stmt.Kind)
	}
	if lib == nil {
		res.Warnings = append(res.Warnings, fmt.Sprintf("no line-item library for %s", stmt.Kind))
		return res
	}

	f := newFacts(stmt)
	res.Tiers = []models.TierResult{
		{Tier: 1, Name: "subtotal consistency", Checks: v.subtotals(f, lib)},
		{Tier: 2, Name: "statement identities", Checks: v.identities(f, stmt.Kind)},
		{Tier: 3, Name: "attribution", Checks: v.attribution(f, stmt.Kind)},
	}
	for _, tier := range res.Tiers {
		for _, c := range tier.Checks {
			if c.Status == models.CheckWarning || c.Status == models.CheckFail {
				res.Warnings = append(res.Warnings, fmt.Sprintf("tier %d %s: %s", tier.Tier, c.Name, c.Detail))
			}
		}
	}

	res.Completeness, res.Missing = v.completeness(f, lib, &res.Warnings)
	v.outliers(f, lib, &res.Warnings)

	if n := len(stmt.Unmatched); n > 0 {
		res.Warnings = append(res.Warnings, fmt.Sprintf("%d rows matched no canonical item", n))
	}
	if n := len(stmt.Unresolved); n > 0 {
		res.Warnings = append(res.Warnings, fmt.Sprintf("%d rows could not be resolved to a schema", n))
	}
	return res
}

// =============================================================================
// FACTS
// =============================================================================

// facts indexes the matched items of a statement by field.
type facts map[string]models.ExtractedItem

func newFacts(stmt *models.Statement) facts {
	f := facts{}
	for _, sec := range stmt.Sections {
		for _, it := range sec.Items {
			f[it.FieldID] = it
		}
		if sec.Subtotal != nil {
			f[sec.Subtotal.FieldID] = *sec.Subtotal
		}
	}
	return f
}

// current returns the current-period value of field and whether the item
// was printed at all.
func (f facts) current(field string) (*float64, bool) {
	it, ok := f[field]
	if !ok {
		return nil, false
	}
	return it.Current, true
}

// operand is one signed term of an identity.
type operand struct {
	field string
	value *float64
	neg   bool
}

func (f facts) operands(terms ...string) []operand {
	out := make([]operand, 0, len(terms))
	for _, t := range terms {
		op := operand{field: strings.TrimPrefix(t, "-"), neg: strings.HasPrefix(t, "-")}
		op.value, _ = f.current(op.field)
		out = append(out, op)
	}
	return out
}

// checkIdentity compares a reported value with the signed sum of operands.
// Any null operand skips the check; a mismatch gets the given status.
func checkIdentity(name string, reported *float64, ops []operand, tolerance float64, mismatch models.CheckStatus) models.CheckResult {
	c := models.CheckResult{Name: name}
	if reported == nil {
		c.Status = models.CheckSkipped
		c.Detail = "reported value is missing"
		return c
	}
	var sum float64
	for _, op := range ops {
		if op.value == nil {
			c.Status = models.CheckSkipped
			c.Detail = fmt.Sprintf("%s is missing", op.field)
			return c
		}
		if op.neg {
			sum -= *op.value
		} else {
			sum += *op.value
		}
	}
	c.Expected = round2(sum)
	c.Actual = *reported
	c.Difference = round2(*reported - sum)
	if math.Abs(*reported-sum) <= tolerance+1e-9 {
		c.Status = models.CheckPass
		return c
	}
	c.Status = mismatch
	c.Detail = fmt.Sprintf("reported %.2f, computed %.2f, off by %.2f", *reported, sum, c.Difference)
	return c
}

func identityName(target string, terms ...string) string {
	var b strings.Builder
	b.WriteString(target)
	b.WriteString(" =")
	for i, t := range terms {
		switch {
		case strings.HasPrefix(t, "-"):
			b.WriteString(" - ")
			b.WriteString(t[1:])
		case i == 0:
			b.WriteString(" ")
			b.WriteString(t)
		default:
			b.WriteString(" + ")
			b.WriteString(t)
		}
	}
	return b.String()
}

func round2(x float64) float64 {
	return math.Round(x*100) / 100
}

// =============================================================================
// TIER 1: SUBTOTALS
// =============================================================================

// subtotals checks each section subtotal against its printed items and
// each declared library sum. Absent items count as zero; printed items with
// no value skip the check.
func (v Validator) subtotals(f facts, lib *assemble.Library) []models.CheckResult {
	var checks []models.CheckResult
	for _, sec := range lib.Sections() {
		if sec.Subtotal == "" {
			continue
		}
		name := "section " + sec.Name
		reported, _ := f.current(sec.Subtotal)
		if reported == nil {
			checks = append(checks, models.CheckResult{Name: name, Status: models.CheckSkipped, Detail: sec.Subtotal + " is missing"})
			continue
		}
		var ops []operand
		for _, e := range lib.Entries() {
			if e.Section != sec.Name || e.Role != assemble.EntryItem {
				continue
			}
			if _, printed := f[e.FieldID]; !printed {
				continue
			}
			val, _ := f.current(e.FieldID)
			ops = append(ops, operand{field: e.FieldID, value: val, neg: e.Deduction})
		}
		if len(ops) == 0 {
			checks = append(checks, models.CheckResult{Name: name, Status: models.CheckSkipped, Detail: "no items reported"})
			continue
		}
		c := checkIdentity(name, reported, ops, v.Tolerance, models.CheckFail)
		if c.Status == models.CheckFail {
			c.Detail = fmt.Sprintf("%s: %s", sec.Subtotal, c.Detail)
		}
		checks = append(checks, c)
	}

	for _, sum := range lib.Sums() {
		terms := make([]string, len(sum.Terms))
		for i, t := range sum.Terms {
			terms[i] = t.FieldID
			if t.Negate {
				terms[i] = "-" + t.FieldID
			}
		}
		reported, _ := f.current(sum.FieldID)
		checks = append(checks, checkIdentity(identityName(sum.FieldID, terms...), reported, f.operands(terms...), v.Tolerance, models.CheckFail))
	}
	return checks
}

// =============================================================================
// TIER 2: STATEMENT IDENTITIES
// =============================================================================

func (v Validator) identities(f facts, kind models.StatementKind) []models.CheckResult {
	var checks []models.CheckResult
	ident := func(target string, terms ...string) {
		reported, _ := f.current(target)
		checks = append(checks, checkIdentity(identityName(target, terms...), reported, f.operands(terms...), v.Tolerance, models.CheckWarning))
	}

	switch kind {
	case models.KindBalanceSheet:
		a, _ := f.current("total_assets")
		l, _ := f.current("total_liabilities")
		e, _ := f.current("total_equity")
		checks = append(checks, CheckBalanceEquation(a, l, e, v.Tolerance))
		ident("total_liabilities_and_equity", "total_assets")
	case models.KindIncomeStatement:
		ident("total_profit", "operating_profit", "non_operating_income", "-non_operating_expenses")
		ident("net_profit", "total_profit", "-income_tax")
	case models.KindCashFlow:
		op, _ := f.current("operating_net_cash_flow")
		inv, _ := f.current("investing_net_cash_flow")
		fin, _ := f.current("financing_net_cash_flow")
		fx, _ := f.current("exchange_rate_effect")
		inc, _ := f.current("net_increase_cash")
		checks = append(checks, CheckCashFlowEquation(op, inv, fin, fx, inc, v.Tolerance))
		ident("ending_cash_balance", "beginning_cash_balance", "net_increase_cash")
	}
	return checks
}

// CheckBalanceEquation checks assets = liabilities + equity. A null
// operand skips the check; a mismatch is a warning.
func CheckBalanceEquation(assets, liabilities, equity *float64, tolerance float64) models.CheckResult {
	return checkIdentity("total_assets = total_liabilities + total_equity", assets, []operand{
		{field: "total_liabilities", value: liabilities},
		{field: "total_equity", value: equity},
	}, tolerance, models.CheckWarning)
}

// CheckCashFlowEquation checks operating + investing + financing + fx =
// net increase in cash. A statement that prints no exchange-rate line is
// treated as zero effect.
func CheckCashFlowEquation(operating, investing, financing, fx, netIncrease *float64, tolerance float64) models.CheckResult {
	if fx == nil {
		zero := 0.0
		fx = &zero
	}
	return checkIdentity("net_increase_cash = operating + investing + financing + fx", netIncrease, []operand{
		{field: "operating_net_cash_flow", value: operating},
		{field: "investing_net_cash_flow", value: investing},
		{field: "financing_net_cash_flow", value: financing},
		{field: "exchange_rate_effect", value: fx},
	}, tolerance, models.CheckWarning)
}

// =============================================================================
// TIER 3: ATTRIBUTION
// =============================================================================

func (v Validator) attribution(f facts, kind models.StatementKind) []models.CheckResult {
	var checks []models.CheckResult
	ident := func(target string, terms ...string) {
		reported, _ := f.current(target)
		checks = append(checks, checkIdentity(identityName(target, terms...), reported, f.operands(terms...), v.Tolerance, models.CheckWarning))
	}

	switch kind {
	case models.KindIncomeStatement:
		ident("net_profit", "parent_net_profit", "minority_profit")
		ident("total_comprehensive_income", "parent_comprehensive_income", "minority_comprehensive_income")
	case models.KindBalanceSheet:
		ident("total_equity", "parent_equity_total", "minority_equity")
	}
	return checks
}

// =============================================================================
// COMPLETENESS AND OUTLIERS
// =============================================================================

func (v Validator) completeness(f facts, lib *assemble.Library, warnings *[]string) (float64, []string) {
	required := lib.Required()
	if len(required) == 0 {
		return 1, nil
	}
	found := 0
	var missing []string
	for _, e := range required {
		it, ok := f[e.FieldID]
		switch {
		case !ok:
			missing = append(missing, e.FieldID)
		case it.Current == nil:
			*warnings = append(*warnings, fmt.Sprintf("required item %s (%s) has no current-period value", it.Label, e.FieldID))
		default:
			found++
		}
	}
	return float64(found) / float64(len(required)), missing
}

func (v Validator) outliers(f facts, lib *assemble.Library, warnings *[]string) {
	for _, e := range lib.Required() {
		it, ok := f[e.FieldID]
		if !ok || it.Current == nil || it.Previous == nil {
			continue
		}
		if o := CheckForOutlier(it.Label, *it.Current, *it.Previous, v.OutlierPct); o.IsOutlier {
			*warnings = append(*warnings, fmt.Sprintf("%s (%s): %s", it.Label, e.FieldID, o.Reason))
		}
	}
}

// OutlierCheck describes a suspicious period-over-period change.
type OutlierCheck struct {
	Item       string
	Value      float64
	PriorValue float64
	ChangePct  float64
	IsOutlier  bool
	Reason     string
	Threshold  float64
}

// CheckForOutlier flags a value that dropped to zero from a non-zero prior,
// which usually means the wrong column was read, or one whose change
// exceeds thresholdPct when that is positive.
func CheckForOutlier(item string, current, prior, thresholdPct float64) *OutlierCheck {
	check := &OutlierCheck{
		Item:       item,
		Value:      current,
		PriorValue: prior,
		ChangePct:  CalculateYoY(current, prior),
		Threshold:  thresholdPct,
	}
	if current == 0 && prior != 0 {
		check.IsOutlier = true
		check.Reason = "value dropped to zero (likely extraction error)"
		return check
	}
	if thresholdPct > 0 && math.Abs(check.ChangePct) > thresholdPct {
		check.IsOutlier = true
		check.Reason = fmt.Sprintf("change of %.1f%% exceeds threshold of %.1f%%", check.ChangePct, thresholdPct)
	}
	return check
}

// CalculateYoY returns (current - prior) / |prior| * 100.
func CalculateYoY(current, prior float64) float64 {
	if prior == 0 {
		if current == 0 {
			return 0
		}
		return math.Inf(1)
	}
	return (current - prior) / math.Abs(prior) * 100
}
