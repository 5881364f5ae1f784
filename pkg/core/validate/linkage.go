package validate

import (
	"fmt"
	"math"

	"fintable/pkg/models"
)

// =============================================================================
// CROSS-STATEMENT LINKAGE (跨报表勾稽)
// =============================================================================

// LinkageReport holds the checks that tie the three statements of one
// report together. Every mismatch is a warning: cash equivalents need not
// equal 货币资金, and retained earnings also move with reserve transfers.
type LinkageReport struct {
	Checks       []models.CheckResult `json:"checks"`
	AllPassed    bool                 `json:"all_passed"`
	FailedChecks []string             `json:"failed_checks,omitempty"`
}

// Statements groups the statements of one report. Any of them may be nil.
type Statements struct {
	BalanceSheet    *models.Statement
	IncomeStatement *models.Statement
	CashFlow        *models.Statement
}

// Group sorts statements by kind; a later statement of the same kind wins.
func Group(stmts ...*models.Statement) Statements {
	var g Statements
	for _, s := range stmts {
		if s == nil {
			continue
		}
		switch s.Kind {
		case models.KindBalanceSheet:
			g.BalanceSheet = s
		case models.KindIncomeStatement:
			g.IncomeStatement = s
		case models.KindCashFlow:
			g.CashFlow = s
		}
	}
	return g
}

// ValidateLinkages runs the cross-statement checks for which both sides are
// present.
func ValidateLinkages(g Statements, tolerance float64) *LinkageReport {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	report := &LinkageReport{AllPassed: true}
	add := func(c models.CheckResult) {
		report.Checks = append(report.Checks, c)
		if c.Status == models.CheckWarning || c.Status == models.CheckFail {
			report.AllPassed = false
			report.FailedChecks = append(report.FailedChecks, c.Name)
		}
	}

	if g.CashFlow != nil && g.BalanceSheet != nil {
		add(cashLinkage(g.CashFlow, g.BalanceSheet, tolerance))
		add(cashChangeLinkage(g.CashFlow, g.BalanceSheet, tolerance))
	}
	if g.IncomeStatement != nil && g.BalanceSheet != nil {
		add(retainedEarningsLinkage(g.IncomeStatement, g.CashFlow, g.BalanceSheet, tolerance))
	}
	return report
}

func value(s *models.Statement, field string, previous bool) *float64 {
	if s == nil {
		return nil
	}
	it, ok := s.Item(field)
	if !ok {
		return nil
	}
	if previous {
		return it.Previous
	}
	return it.Current
}

// cashLinkage checks CF ending cash == BS 货币资金.
func cashLinkage(cf, bs *models.Statement, tolerance float64) models.CheckResult {
	return checkIdentity("cf.ending_cash_balance = bs.cash",
		value(cf, "ending_cash_balance", false),
		[]operand{{field: "bs.cash", value: value(bs, "cash", false)}},
		tolerance, models.CheckWarning)
}

// cashChangeLinkage checks CF net increase == BS cash year-over-year change.
func cashChangeLinkage(cf, bs *models.Statement, tolerance float64) models.CheckResult {
	return checkIdentity("cf.net_increase_cash = bs.cash - bs.cash(previous)",
		value(cf, "net_increase_cash", false),
		[]operand{
			{field: "bs.cash", value: value(bs, "cash", false)},
			{field: "bs.cash(previous)", value: value(bs, "cash", true), neg: true},
		},
		tolerance, models.CheckWarning)
}

// retainedEarningsLinkage checks ΔRE ≈ parent net profit - dividends paid.
// Reserve appropriations and OCI reclassifications also move retained
// earnings, so the band is 10% of net profit.
func retainedEarningsLinkage(is, cf, bs *models.Statement, tolerance float64) models.CheckResult {
	name := "bs.retained_earnings change = is.parent_net_profit - dividends"
	ni := value(is, "parent_net_profit", false)
	if ni == nil {
		ni = value(is, "net_profit", false)
	}
	reCur := value(bs, "retained_earnings", false)
	rePrev := value(bs, "retained_earnings", true)
	if ni == nil || reCur == nil || rePrev == nil {
		return models.CheckResult{Name: name, Status: models.CheckSkipped, Detail: "net profit or retained earnings is missing"}
	}

	var dividends float64
	if d := value(cf, "dividend_interest_payment", false); d != nil {
		dividends = math.Abs(*d)
	}
	expected := *ni - dividends
	actual := *reCur - *rePrev
	diff := actual - expected
	band := math.Max(tolerance, math.Abs(*ni*0.10))

	c := models.CheckResult{
		Name:       name,
		Expected:   round2(expected),
		Actual:     round2(actual),
		Difference: round2(diff),
		Status:     models.CheckPass,
	}
	if math.Abs(diff) > band {
		c.Status = models.CheckWarning
		c.Detail = fmt.Sprintf("retained earnings moved %.2f, expected about %.2f; surplus reserve transfers or OCI reclassifications may explain it", actual, expected)
	}
	return c
}
