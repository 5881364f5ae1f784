package pipeline

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fintable/pkg/core/arbiter"
	"fintable/pkg/core/infer"
	"fintable/pkg/core/reconcile"
	"fintable/pkg/models"
)

func page(n int, rows ...[]string) models.Page {
	p := models.Page{Number: n}
	for i, cells := range rows {
		p.Rows = append(p.Rows, models.NewRow(n, i+1, cells...))
	}
	return p
}

func balanceSheetPage() models.Page {
	return page(1,
		[]string{"项目", "附注", "期末余额", "期初余额"},
		[]string{"流动资产：", "", "", ""},
		[]string{"货币资金", "七、1", "1000000.00", "900000.00"},
		[]string{"应收账款", "七、4", "500000.00", "400000.00"},
		[]string{"", "", "", ""},
		[]string{"流动资产合计", "", "1500000.00", "1300000.00"},
		[]string{"资产总计", "3900000.00", "3625000.00"},
	)
}

func TestParseStatement_CacheReuseAndInvalidation(t *testing.T) {
	p := New(Options{})
	res, err := p.ParseStatement(context.Background(), models.KindBalanceSheet, []models.Page{balanceSheetPage()})
	require.NoError(t, err)
	stmt := res.Statement

	cash, ok := stmt.Item("cash")
	require.True(t, ok, "cash not extracted")
	assert.Equal(t, "货币资金", cash.Label)
	assert.Equal(t, "七、1", cash.Footnote)
	require.NotNil(t, cash.Current)
	require.NotNil(t, cash.Previous)
	assert.Equal(t, 1000000.0, *cash.Current)
	assert.Equal(t, 900000.0, *cash.Previous)

	total, ok := stmt.Item("total_assets")
	require.True(t, ok)
	require.NotNil(t, total.Current)
	assert.Equal(t, 3900000.0, *total.Current)
	assert.Empty(t, total.Footnote, "3-column total row has no footnote")

	assert.Equal(t, 1, res.CacheStats.Invalidations[infer.ReasonColumnCount])
	assert.GreaterOrEqual(t, res.CacheStats.Hits, 4)
	assert.Len(t, stmt.Headers, 2, "column header and 流动资产：")
	assert.Empty(t, stmt.Unresolved)
	assert.Empty(t, stmt.Unmatched)

	tier1, _ := res.Validation.Tier(1)
	for _, c := range tier1.Checks {
		if c.Name == "section current_assets" {
			assert.Equal(t, models.CheckPass, c.Status, c.Detail)
		}
	}
	assert.NotEmpty(t, res.RunID)
}

func TestParseStatement_AccountingNegativeKeepsCachedSchema(t *testing.T) {
	pg := page(1,
		[]string{"项目", "附注", "本期发生额", "上期发生额"},
		[]string{"财务费用", "七、45", "(12,000.00)", "8,000.00"},
		[]string{"营业外收入", "七、50", "3,000.00", "2,500.00"},
	)

	res, err := New(Options{}).ParseStatement(context.Background(), models.KindIncomeStatement, []models.Page{pg})
	require.NoError(t, err)

	fin, ok := res.Statement.Item("financial_expenses")
	require.True(t, ok)
	require.NotNil(t, fin.Current)
	require.NotNil(t, fin.Previous)
	assert.Equal(t, -12000.0, *fin.Current)
	assert.Equal(t, 8000.0, *fin.Previous)

	other, ok := res.Statement.Item("non_operating_income")
	require.True(t, ok)
	require.NotNil(t, other.Current)
	require.NotNil(t, other.Previous)
	assert.Equal(t, 3000.0, *other.Current)
	assert.Equal(t, 2500.0, *other.Previous)

	assert.Zero(t, res.CacheStats.Invalidations[infer.ReasonCurrentNotAmount])
	assert.Equal(t, 2, res.CacheStats.Hits)
}

func TestParseStatement_ArbiterDisagreementDefaultsToHeuristic(t *testing.T) {
	totalRow := []string{"资产总计", "3900000.00", "3625000.00"}
	arb := arbiter.NewStaticArbiter().Set(totalRow, map[models.ColumnRole]int{
		models.RoleItemName: 0, models.RoleCurrent: 2, models.RolePrevious: 1,
	}, 0.8)

	p := New(Options{Arbiter: arb})
	res, err := p.ParseStatement(context.Background(), models.KindBalanceSheet, []models.Page{balanceSheetPage()})
	require.NoError(t, err)
	assert.Equal(t, 1, arb.Calls(), "only the low-confidence total row reaches the arbiter")
	require.Len(t, res.Decisions, 1)

	d := res.Decisions[0]
	assert.Equal(t, string(reconcile.ChoiceHeuristic), d.Choice)
	assert.Equal(t, models.ProvenanceReconciledDefault, d.Provenance)
	assert.Equal(t, res.RunID, d.RunID)

	total, _ := res.Statement.Item("total_assets")
	require.NotNil(t, total.Current, "heuristic mapping should be committed")
	assert.Equal(t, 3900000.0, *total.Current)
	assert.Equal(t, models.ProvenanceReconciledDefault, total.Provenance)
}

func TestParseStatement_ArbiterAgreementIsReconciled(t *testing.T) {
	totalRow := []string{"资产总计", "3900000.00", "3625000.00"}
	arb := arbiter.NewStaticArbiter().Set(totalRow, map[models.ColumnRole]int{
		models.RoleItemName: 0, models.RoleCurrent: 1, models.RolePrevious: 2,
	}, 0.95)

	res, err := New(Options{Arbiter: arb}).ParseStatement(context.Background(), models.KindBalanceSheet, []models.Page{balanceSheetPage()})
	require.NoError(t, err)
	assert.Empty(t, res.Decisions, "agreement is not logged")

	total, _ := res.Statement.Item("total_assets")
	assert.Equal(t, models.ProvenanceReconciled, total.Provenance)
}

func TestParseStatement_PageBreakForcesInference(t *testing.T) {
	pages := []models.Page{
		page(1,
			[]string{"项目", "附注", "期末余额", "期初余额"},
			[]string{"货币资金", "七、1", "1000.00", "900.00"},
		),
		page(2,
			[]string{"短期借款", "七、32", "300.00", "200.00"},
		),
	}
	res, err := New(Options{}).ParseStatement(context.Background(), models.KindBalanceSheet, pages)
	require.NoError(t, err)
	assert.Equal(t, 1, res.CacheStats.Invalidations[infer.ReasonPageBreak])

	_, ok := res.Statement.Item("short_term_borrowings")
	assert.True(t, ok, "row after page break not extracted")
}

func TestParseStatement_DetectsKind(t *testing.T) {
	pg := page(1,
		[]string{"项目", "附注", "本期发生额", "上期发生额"},
		[]string{"一、营业总收入", "", "1200.00", "1100.00"},
		[]string{"其中：营业收入", "七、61", "1200.00", "1100.00"},
	)
	pg.Title = "合并利润表"

	res, err := New(Options{}).ParseStatement(context.Background(), models.KindUnknown, []models.Page{pg})
	require.NoError(t, err)
	assert.Equal(t, models.KindIncomeStatement, res.Statement.Kind)

	_, ok := res.Statement.Item("operating_revenue")
	assert.True(t, ok, "operating_revenue missing")

	_, err = New(Options{}).ParseStatement(context.Background(), models.KindUnknown,
		[]models.Page{page(1, []string{"hello", "world"})})
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestParseStatement_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(Options{}).ParseStatement(ctx, models.KindBalanceSheet, []models.Page{balanceSheetPage()})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestParseStatement_DecisionSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "decisions.jsonl")
	sink, err := reconcile.OpenJSONLSink(path)
	require.NoError(t, err)
	defer sink.Close()

	totalRow := []string{"资产总计", "3900000.00", "3625000.00"}
	arb := arbiter.NewStaticArbiter().Set(totalRow, map[models.ColumnRole]int{
		models.RoleItemName: 0, models.RoleCurrent: 2, models.RolePrevious: 1,
	}, 0.8)

	p := New(Options{Arbiter: arb, Sinks: []reconcile.Sink{sink}})
	res, err := p.ParseStatement(context.Background(), models.KindBalanceSheet, []models.Page{balanceSheetPage()})
	require.NoError(t, err)

	recs, err := reconcile.ReadJSONL(path)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, res.Decisions[0].ID, recs[0].ID)
}

func TestParseAll_IsolatedScopes(t *testing.T) {
	is := page(1,
		[]string{"项目", "附注", "本期发生额", "上期发生额"},
		[]string{"其中：营业收入", "七、61", "1200.00", "1100.00"},
	)
	jobs := []Job{
		{Name: "bs", Kind: models.KindBalanceSheet, Pages: []models.Page{balanceSheetPage()}},
		{Name: "is", Kind: models.KindIncomeStatement, Pages: []models.Page{is}},
		{Name: "bs-again", Kind: models.KindBalanceSheet, Pages: []models.Page{balanceSheetPage()}},
	}

	results, err := New(Options{Concurrency: 2}).ParseAll(context.Background(), jobs)
	require.NoError(t, err)
	require.Len(t, results, 3)

	seen := map[string]bool{}
	for i, r := range results {
		assert.Equal(t, jobs[i].Name, r.Name)
		assert.False(t, seen[r.RunID], "run ID %s reused", r.RunID)
		seen[r.RunID] = true
	}
	// same input, separate caches: identical counters
	assert.Equal(t, results[0].CacheStats, results[2].CacheStats)

	assert.NotNil(t, Link(results, 0))
}

func TestParseAll_PropagatesError(t *testing.T) {
	jobs := []Job{{Name: "noise", Pages: []models.Page{page(1, []string{"hello"})}}}
	_, err := New(Options{}).ParseAll(context.Background(), jobs)
	assert.ErrorIs(t, err, ErrUnknownKind)
}
