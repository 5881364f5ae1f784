package validate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fintable/pkg/models"
)

func TestValidateLinkages(t *testing.T) {
	bs := build(t, models.KindBalanceSheet, [][]string{
		{"货币资金", "1135", "1000"},
		{"未分配利润", "560", "500"},
	})
	cf := build(t, models.KindCashFlow, [][]string{
		{"五、现金及现金等价物净增加额", "135", "240"},
		{"六、期末现金及现金等价物余额", "1135", "1000"},
		{"分配股利、利润或偿付利息支付的现金", "-20", "-10"},
	})
	is := build(t, models.KindIncomeStatement, [][]string{
		{"五、净利润", "80", "70"},
		{"归属于母公司所有者的净利润", "80", "70"},
	})

	report := ValidateLinkages(Group(bs, is, cf), 0)
	require.True(t, report.AllPassed, "linkages: %+v", report)
	assert.Len(t, report.Checks, 3)
}

func TestValidateLinkages_CashMismatch(t *testing.T) {
	bs := build(t, models.KindBalanceSheet, [][]string{{"货币资金", "1200", "1000"}})
	cf := build(t, models.KindCashFlow, [][]string{
		{"五、现金及现金等价物净增加额", "135", "240"},
		{"六、期末现金及现金等价物余额", "1135", "1000"},
	})

	report := ValidateLinkages(Group(bs, cf), DefaultTolerance)
	require.False(t, report.AllPassed, "restricted cash difference should raise a warning")
	assert.Len(t, report.FailedChecks, 2, "both cash checks")
	for _, c := range report.Checks {
		assert.NotEqual(t, models.CheckFail, c.Status, "%s: linkage mismatches are warnings", c.Name)
	}
}

func TestValidateLinkages_MissingSides(t *testing.T) {
	is := build(t, models.KindIncomeStatement, [][]string{{"五、净利润", "80", "70"}})
	report := ValidateLinkages(Group(is), DefaultTolerance)
	assert.Empty(t, report.Checks)
	assert.True(t, report.AllPassed)

	bs := build(t, models.KindBalanceSheet, [][]string{{"货币资金", "1", "1"}})
	report = ValidateLinkages(Group(is, bs), DefaultTolerance)
	require.Len(t, report.Checks, 1)
	assert.Equal(t, models.CheckSkipped, report.Checks[0].Status, "retained earnings check")
}
