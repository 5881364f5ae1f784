package infer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fintable/pkg/core/lexicon"
	"fintable/pkg/models"
)

func headerPattern() models.CachedPattern {
	return models.CachedPattern{
		Schema: models.RowSchema{
			Roles: roles(
				models.RoleItemName, 0, models.RoleFootnote, 1, models.RoleCurrent, 2, models.RolePrevious, 3,
			),
			Provenance: models.ProvenanceHeuristic,
			Confidence: 1.0,
			Columns:    4,
		},
		Columns: 4,
	}
}

func TestCheck(t *testing.T) {
	cached := headerPattern()
	tests := []struct {
		name   string
		row    models.Row
		ok     bool
		reason string
	}{
		{"matching data row", models.NewRow(1, 1, "货币资金", "七、1", "1000000.00", "900000.00"), true, ""},
		{"blank footnote", models.NewRow(1, 2, "存货", "", "500.00", "400.00"), true, ""},
		{"placeholder current", models.NewRow(1, 3, "交易性金融资产", "", "—", "100.00"), true, ""},
		{"accounting negative current", models.NewRow(1, 7, "财务费用", "七、45", "(12,000.00)", "8,000.00"), true, ""},
		{"currency mark current", models.NewRow(1, 8, "应收票据", "", "¥ 300.00", "200.00"), true, ""},
		{"section header", models.NewRow(1, 4, "流动资产：", "", "", ""), true, ""},
		{"column count", models.NewRow(2, 0, "资产总计", "3900000.00", "3625000.00"), false, ReasonColumnCount},
		{"current is text", models.NewRow(1, 5, "项目", "附注", "期末余额", "期初余额"), false, ReasonCurrentNotAmount},
		{"footnote is text", models.NewRow(1, 6, "货币资金", "见附注说明", "1.00", "2.00"), false, ReasonFootnoteShape},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, reason := Check(tt.row, cached)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.reason, reason)
			assert.Equal(t, tt.ok, Validate(tt.row, cached), "Validate disagrees with Check")
		})
	}
}

func TestCache_ReusesSchemaExactly(t *testing.T) {
	cache := NewCache(nil)
	cached := headerPattern()
	cache.Commit(cached.Schema)

	row := models.NewRow(1, 1, "货币资金", "七、1", "1000000.00", "900000.00")
	got, ok := cache.Lookup(row)
	require.True(t, ok, "Lookup(%v) missed", row.Texts())
	assert.True(t, got.Equal(cached.Schema), "Lookup returned %s, want %s", got, cached.Schema)
	assert.Equal(t, cached.Schema.Provenance, got.Provenance)
	assert.Equal(t, cached.Schema.Confidence, got.Confidence)

	// Mutating the returned schema must not leak into the cache.
	got.Roles[models.RoleCurrent] = 3
	again, _ := cache.Lookup(row)
	idx, _ := again.Index(models.RoleCurrent)
	assert.Equal(t, 2, idx)
}

func TestCache_InvalidatesOnWidthChange(t *testing.T) {
	cache := NewCache(nil)
	cache.Commit(headerPattern().Schema)

	row := models.NewRow(2, 0, "资产总计", "3900000.00", "3625000.00")
	_, ok := cache.Lookup(row)
	require.False(t, ok, "Lookup(%v) hit after column count change", row.Texts())
	_, ok = cache.Pattern()
	assert.False(t, ok, "pattern survived invalidation")
	assert.Equal(t, 1, cache.Stats().Invalidations[ReasonColumnCount])

	fresh := New(lexicon.Default()).Infer(row, models.KindBalanceSheet)
	want := models.RowSchema{Roles: roles(models.RoleItemName, 0, models.RoleCurrent, 1, models.RolePrevious, 2)}
	assert.True(t, fresh.Equal(want), "fresh inference = %s, want %s", fresh, want)
}

func TestCache_EmptyMisses(t *testing.T) {
	cache := NewCache(nil)
	_, ok := cache.Lookup(models.NewRow(1, 0, "a", "b"))
	assert.False(t, ok)
	s := cache.Stats()
	assert.Equal(t, 1, s.Misses)
	assert.Zero(t, s.Hits)
}
